package pin

import (
	"bytes"
	"testing"
)

func TestHashNeverContainsPlaintext(t *testing.T) {
	h := NewHasher("server-salt")

	digest := h.Hash("1234")
	if bytes.Contains(digest, []byte("1234")) {
		t.Error("digest contains the plaintext PIN")
	}
	if len(digest) != keySize {
		t.Errorf("digest length = %d, want %d", len(digest), keySize)
	}
}

func TestVerify(t *testing.T) {
	h := NewHasher("server-salt")
	digest := h.Hash("1234")

	if !h.Verify("1234", digest) {
		t.Error("correct PIN should verify")
	}
	if h.Verify("4321", digest) {
		t.Error("wrong PIN should not verify")
	}
	if h.Verify("1234", nil) {
		t.Error("nil digest should not verify")
	}
	if h.Verify("1234", digest[:16]) {
		t.Error("truncated digest should not verify")
	}
}

func TestHashDependsOnSalt(t *testing.T) {
	a := NewHasher("salt-a").Hash("1234")
	b := NewHasher("salt-b").Hash("1234")
	if bytes.Equal(a, b) {
		t.Error("different salts should produce different digests")
	}
}

func TestValidFormat(t *testing.T) {
	tests := []struct {
		attempt string
		want    bool
	}{
		{"1234", true},
		{"0000", true},
		{"123", false},
		{"12345", false},
		{"12a4", false},
		{"12 4", false},
		{"", false},
		{"١٢٣٤", false}, // non-ASCII digits
	}
	for _, tt := range tests {
		if got := ValidFormat(tt.attempt); got != tt.want {
			t.Errorf("ValidFormat(%q) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}
