package crypto

import "testing"

func TestBoxRoundTrip(t *testing.T) {
	box := NewBox("correct-horse-battery-staple")
	ciphertext, err := box.Encrypt("sk-live-abcdef1234567890")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if ciphertext == "sk-live-abcdef1234567890" {
		t.Fatal("ciphertext must not equal plaintext")
	}
	plaintext, err := box.Decrypt(ciphertext)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if plaintext != "sk-live-abcdef1234567890" {
		t.Fatalf("round trip mismatch: got %q", plaintext)
	}
}

func TestValidateNewSecretRejectsPlaceholders(t *testing.T) {
	cases := []string{"short", "this-is-a-test-key", "example-secret-value", "your-key-here", "please-replace-me"}
	for _, c := range cases {
		if err := ValidateNewSecret(c); err == nil {
			t.Errorf("expected rejection for %q", c)
		}
	}
}

func TestValidateNewSecretAcceptsRealLooking(t *testing.T) {
	if err := ValidateNewSecret("sk-live-9f8a7b6c5d4e3f2a1b0c"); err != nil {
		t.Fatalf("expected acceptance, got %v", err)
	}
}

func TestMaskedPrefix(t *testing.T) {
	if got := MaskedPrefix("sk-live-abc"); got != "sk-l****" {
		t.Fatalf("got %q", got)
	}
	if got := MaskedPrefix("ab"); got != "****" {
		t.Fatalf("got %q", got)
	}
}
