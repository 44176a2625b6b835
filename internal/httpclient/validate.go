package httpclient

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// URLPolicy controls which outbound targets a fetch may reach.
type URLPolicy struct {
	AllowLocalhost       bool
	AllowPrivateNetworks bool
}

// ValidateURL parses raw and enforces the policy: http(s) schemes only, a
// host present, and no loopback or private targets unless allowed. Hostnames
// that resolve privately at dial time are out of scope here.
func ValidateURL(raw string, policy URLPolicy) (*url.URL, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("url is required")
	}
	parsed, err := url.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}
	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return nil, fmt.Errorf("unsupported url scheme %q", parsed.Scheme)
	}
	host := strings.ToLower(strings.TrimSpace(parsed.Hostname()))
	if host == "" {
		return nil, fmt.Errorf("url host is required")
	}
	if !policy.AllowLocalhost && localHostname(host) {
		return nil, fmt.Errorf("local urls are not allowed")
	}
	if ip := net.ParseIP(host); ip != nil {
		if !policy.AllowLocalhost && (ip.IsLoopback() || ip.IsUnspecified()) {
			return nil, fmt.Errorf("local urls are not allowed")
		}
		if !policy.AllowPrivateNetworks && privateIP(ip) {
			return nil, fmt.Errorf("private network urls are not allowed")
		}
	}
	return parsed, nil
}

func localHostname(host string) bool {
	return host == "localhost" || strings.HasSuffix(host, ".localhost")
}

func privateIP(ip net.IP) bool {
	return ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast()
}
