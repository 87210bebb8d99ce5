package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"strings"
	"testing"
)

func newKey(t *testing.T) string {
	t.Helper()
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		t.Fatal(err)
	}
	return base64.StdEncoding.EncodeToString(key)
}

func TestNewBox(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		wantErr bool
	}{
		{"valid", newKey(t), false},
		{"empty", "", true},
		{"not base64", "!!not-base64!!", true},
		{"short", base64.StdEncoding.EncodeToString([]byte("sixteen byte key")), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewBox(tt.key)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewBox() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidKey) {
				t.Errorf("error %v does not wrap ErrInvalidKey", err)
			}
		})
	}
}

func TestSealOpen(t *testing.T) {
	box, err := NewBox(newKey(t))
	if err != nil {
		t.Fatal(err)
	}
	for _, plain := range []string{"oauth:abcdef0123456789", "ünïcödé", strings.Repeat("x", 4096)} {
		sealed, err := box.Seal(plain)
		if err != nil {
			t.Fatalf("Seal() error: %v", err)
		}
		if !IsSealed(sealed) || strings.Contains(sealed, plain) {
			t.Fatalf("Seal() = %q does not look sealed", sealed)
		}
		got, err := box.Open(sealed)
		if err != nil {
			t.Fatalf("Open() error: %v", err)
		}
		if got != plain {
			t.Errorf("Open() = %q, want %q", got, plain)
		}
	}
}

func TestSealIsRandomized(t *testing.T) {
	box, _ := NewBox(newKey(t))
	a, _ := box.Seal("same")
	b, _ := box.Seal("same")
	if a == b {
		t.Error("two seals of the same value are identical")
	}
}

func TestEmptyStaysEmpty(t *testing.T) {
	box, _ := NewBox(newKey(t))
	if s, err := box.Seal(""); s != "" || err != nil {
		t.Errorf("Seal(\"\") = %q, %v", s, err)
	}
	if s, err := box.Open(""); s != "" || err != nil {
		t.Errorf("Open(\"\") = %q, %v", s, err)
	}
}

func TestOpenFailures(t *testing.T) {
	box, _ := NewBox(newKey(t))
	other, _ := NewBox(newKey(t))
	sealed, _ := box.Seal("secret")

	raw, _ := base64.StdEncoding.DecodeString(strings.TrimPrefix(sealed, "v1:"))
	raw[len(raw)-1] ^= 0xff
	tampered := "v1:" + base64.StdEncoding.EncodeToString(raw)

	tests := []struct {
		name  string
		box   *Box
		value string
		want  error
	}{
		{"plaintext", box, "secret", ErrNotSealed},
		{"wrong key", other, sealed, ErrTampered},
		{"tampered", box, tampered, ErrTampered},
		{"truncated", box, "v1:AAAA", ErrTampered},
		{"bad base64", box, "v1:%%%", ErrTampered},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.box.Open(tt.value); !errors.Is(err, tt.want) {
				t.Errorf("Open() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestKeyID(t *testing.T) {
	key := newKey(t)
	a, _ := NewBox(key)
	b, _ := NewBox(key)
	c, _ := NewBox(newKey(t))
	if a.KeyID() != b.KeyID() || len(a.KeyID()) != 8 {
		t.Errorf("KeyID() not stable: %q vs %q", a.KeyID(), b.KeyID())
	}
	if a.KeyID() == c.KeyID() {
		t.Error("different keys share a KeyID")
	}
}
