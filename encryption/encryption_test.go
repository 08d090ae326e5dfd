package encryption_test

import (
	"bytes"
	"testing"

	"github.com/jrife/kvault/encryption"
)

func newCipher(t *testing.T) (*encryption.Cipher, []byte) {
	key, err := encryption.GenerateKey()

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	c, err := encryption.New(key)

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	return c, key
}

func TestSealOpen(t *testing.T) {
	c, _ := newCipher(t)

	sealed, err := c.Seal([]byte("secret"), []byte("key"))

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	if bytes.Contains(sealed, []byte("secret")) {
		t.Fatalf("expected plaintext to be hidden")
	}

	again, _ := c.Seal([]byte("secret"), []byte("key"))

	if bytes.Equal(sealed, again) {
		t.Fatalf("expected nonces to differ between seals")
	}

	plaintext, err := c.Open(sealed, []byte("key"))

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	if string(plaintext) != "secret" {
		t.Fatalf("expected secret, got %q", plaintext)
	}

	if _, err := c.Open(sealed, []byte("other key")); err != encryption.ErrDecrypt {
		t.Fatalf("expected ErrDecrypt for different additional data, got %#v", err)
	}

	if _, err := c.Open(sealed[:10], []byte("key")); err != encryption.ErrDecrypt {
		t.Fatalf("expected ErrDecrypt for short input, got %#v", err)
	}
}

func TestKeyCheck(t *testing.T) {
	a, keyA := newCipher(t)
	b, _ := newCipher(t)

	check, err := a.KeyCheck()

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	if err := a.VerifyKeyCheck(check); err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	if err := b.VerifyKeyCheck(check); err != encryption.ErrDecrypt {
		t.Fatalf("expected ErrDecrypt, got %#v", err)
	}

	if !bytes.Equal(a.Fingerprint(), encryption.Fingerprint(keyA)) {
		t.Fatalf("expected cipher fingerprint to match key fingerprint")
	}

	if bytes.Equal(a.Fingerprint(), b.Fingerprint()) {
		t.Fatalf("expected different keys to have different fingerprints")
	}
}

func TestInvalidKey(t *testing.T) {
	if _, err := encryption.New([]byte("short")); err != encryption.ErrInvalidKey {
		t.Fatalf("expected ErrInvalidKey, got %#v", err)
	}
}

func TestZero(t *testing.T) {
	key := []byte{1, 2, 3}
	encryption.Zero(key)

	if !bytes.Equal(key, []byte{0, 0, 0}) {
		t.Fatalf("expected key to be zeroed, got %v", key)
	}
}
