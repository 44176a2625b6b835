package webhook

import "testing"

func TestSignatureRoundTrip(t *testing.T) {
	body := []byte(`{"commits":[{"id":"abc","message":"Decision: dec_1"}]}`)
	header := SignBody("s3cret", body)
	if header[:7] != "sha256=" {
		t.Fatalf("header = %q, want sha256= prefix", header)
	}
	if !VerifySignature("s3cret", body, header) {
		t.Fatal("valid signature rejected")
	}
}

func TestSignatureRejectsTamperedBody(t *testing.T) {
	body := []byte(`{"a":1}`)
	header := SignBody("s3cret", body)
	if VerifySignature("s3cret", []byte(`{"a":2}`), header) {
		t.Fatal("tampered body accepted")
	}
}

func TestSignatureRejectsWrongSecret(t *testing.T) {
	body := []byte(`{"a":1}`)
	header := SignBody("s3cret", body)
	if VerifySignature("other", body, header) {
		t.Fatal("wrong secret accepted")
	}
}

func TestSignatureRejectsGarbageHeader(t *testing.T) {
	if VerifySignature("s3cret", []byte(`{}`), "sha256=not-hex") {
		t.Fatal("malformed header accepted")
	}
	if VerifySignature("s3cret", []byte(`{}`), "") {
		t.Fatal("empty header accepted")
	}
}
