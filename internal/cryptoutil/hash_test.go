package cryptoutil

import (
	"strings"
	"testing"
)

func TestSHA256Hex(t *testing.T) {
	// sha256("") and sha256("abc")
	tests := []struct {
		in   string
		want string
	}{
		{"", "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"},
		{"abc", "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"},
	}
	for _, tt := range tests {
		if got := SHA256Hex([]byte(tt.in)); got != tt.want {
			t.Errorf("SHA256Hex(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestHashEqual(t *testing.T) {
	h := SHA256Hex([]byte("bundle"))
	tests := []struct {
		name string
		a, b string
		want bool
	}{
		{"same", h, h, true},
		{"case-insensitive", h, strings.ToUpper(h), true},
		{"different", h, SHA256Hex([]byte("other")), false},
		{"prefix", h, h[:12], false},
		{"empty vs value", "", h, false},
		{"both empty", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HashEqual(tt.a, tt.b); got != tt.want {
				t.Fatalf("HashEqual = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestValidSHA256Hex(t *testing.T) {
	h := SHA256Hex([]byte("x"))
	if !ValidSHA256Hex(h) {
		t.Fatal("valid digest rejected")
	}
	for _, bad := range []string{"", "abc", h[:63] + "z", h + "00"} {
		if ValidSHA256Hex(bad) {
			t.Errorf("ValidSHA256Hex(%q) = true", bad)
		}
	}
}
