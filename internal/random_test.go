package internal

import (
	"strings"
	"testing"
)

func TestNewResetToken(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 64; i++ {
		tok, err := NewResetToken()
		if err != nil {
			t.Fatalf("NewResetToken: %v", err)
		}
		if len(tok) != ResetTokenLength {
			t.Fatalf("token length = %d", len(tok))
		}
		if strings.Trim(tok, tokenAlphabet) != "" {
			t.Fatalf("token %q has characters outside the alphabet", tok)
		}
		if _, dup := seen[tok]; dup {
			t.Fatalf("duplicate token %q", tok)
		}
		seen[tok] = struct{}{}
	}
}

// FuzzHashResetToken checks that hashing is total and stable.
func FuzzHashResetToken(f *testing.F) {
	f.Add("")
	f.Add("abc")
	f.Add(strings.Repeat("A", ResetTokenLength))
	f.Fuzz(func(t *testing.T, tok string) {
		h := HashResetToken(tok)
		if len(h) != 64 {
			t.Fatalf("hash length = %d", len(h))
		}
		if h != HashResetToken(tok) {
			t.Fatal("hash is not deterministic")
		}
	})
}
