// Package httpclient builds the outbound HTTP clients used for docs fetching
// and tool federation: timeout-bounded, circuit-breaker guarded, with body
// size limits and URL validation that refuses local and private targets by
// default.
package httpclient

import (
	"net/http"
	"time"
)

// DefaultTimeout bounds outbound calls when the caller passes none.
const DefaultTimeout = 15 * time.Second

// New returns an http.Client for outbound requests. Proxy settings come from
// the environment (HTTP(S)_PROXY, NO_PROXY).
func New(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: transport(),
	}
}

func transport() *http.Transport {
	base, ok := http.DefaultTransport.(*http.Transport)
	if !ok {
		return &http.Transport{Proxy: http.ProxyFromEnvironment}
	}
	t := base.Clone()
	t.Proxy = http.ProxyFromEnvironment
	return t
}
