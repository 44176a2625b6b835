package httpclient

import "testing"

func TestValidateURLAllowsPublicHTTPS(t *testing.T) {
	parsed, err := ValidateURL("https://pkg.go.dev/net/http", URLPolicy{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if parsed.Hostname() != "pkg.go.dev" {
		t.Fatalf("unexpected host %q", parsed.Hostname())
	}
}

func TestValidateURLRejectsScheme(t *testing.T) {
	for _, raw := range []string{"ftp://example.com/file", "file:///etc/passwd", "example.com/docs"} {
		if _, err := ValidateURL(raw, URLPolicy{}); err == nil {
			t.Fatalf("expected error for %q", raw)
		}
	}
}

func TestValidateURLRejectsEmpty(t *testing.T) {
	if _, err := ValidateURL("   ", URLPolicy{}); err == nil {
		t.Fatal("expected error")
	}
}

func TestValidateURLLocalhostPolicy(t *testing.T) {
	locals := []string{
		"http://localhost:8080/docs",
		"http://api.localhost/docs",
		"http://127.0.0.1/docs",
		"http://[::1]/docs",
		"http://0.0.0.0/docs",
	}
	for _, raw := range locals {
		if _, err := ValidateURL(raw, URLPolicy{}); err == nil {
			t.Fatalf("expected refusal for %q", raw)
		}
		if _, err := ValidateURL(raw, URLPolicy{AllowLocalhost: true}); err != nil {
			t.Fatalf("expected %q allowed with AllowLocalhost: %v", raw, err)
		}
	}
}

func TestValidateURLPrivateNetworkPolicy(t *testing.T) {
	private := []string{
		"http://10.0.0.5/docs",
		"http://192.168.1.10/docs",
		"http://172.16.0.1/docs",
		"http://169.254.169.254/latest/meta-data",
	}
	for _, raw := range private {
		if _, err := ValidateURL(raw, URLPolicy{}); err == nil {
			t.Fatalf("expected refusal for %q", raw)
		}
		if _, err := ValidateURL(raw, URLPolicy{AllowPrivateNetworks: true}); err != nil {
			t.Fatalf("expected %q allowed with AllowPrivateNetworks: %v", raw, err)
		}
	}
}
