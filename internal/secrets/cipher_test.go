package secrets

import (
	"bytes"
	"testing"
)

func testKey() []byte {
	return bytes.Repeat([]byte{0x42}, 32)
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	c, err := New(testKey())
	if err != nil {
		t.Fatalf("Failed to create cipher: %v", err)
	}

	plaintext := "access-token-abc123"
	sealed, err := c.Encrypt(plaintext)
	if err != nil {
		t.Fatalf("Failed to encrypt: %v", err)
	}
	if sealed == plaintext {
		t.Error("Expected ciphertext to differ from plaintext")
	}

	got, err := c.Decrypt(sealed)
	if err != nil {
		t.Fatalf("Failed to decrypt: %v", err)
	}
	if got != plaintext {
		t.Errorf("Expected %q, got %q", plaintext, got)
	}

	// A fresh nonce per call: ciphertexts differ
	again, err := c.Encrypt(plaintext)
	if err != nil {
		t.Fatalf("Failed to re-encrypt: %v", err)
	}
	if again == sealed {
		t.Error("Expected distinct ciphertexts for repeated encryption")
	}
}

func TestDecryptRejectsCorruption(t *testing.T) {
	c, err := New(testKey())
	if err != nil {
		t.Fatalf("Failed to create cipher: %v", err)
	}

	sealed, err := c.Encrypt("token")
	if err != nil {
		t.Fatalf("Failed to encrypt: %v", err)
	}

	if _, err := c.Decrypt("not-base64!!!"); err == nil {
		t.Error("Expected invalid base64 to fail")
	}
	if _, err := c.Decrypt("QQ=="); err == nil {
		t.Error("Expected short ciphertext to fail")
	}

	// Flipping a byte breaks authentication
	tampered := []byte(sealed)
	tampered[len(tampered)-5] ^= 'x'
	if _, err := c.Decrypt(string(tampered)); err == nil {
		t.Error("Expected tampered ciphertext to fail")
	}

	// A different key cannot decrypt
	other, err := New(bytes.Repeat([]byte{0x13}, 32))
	if err != nil {
		t.Fatalf("Failed to create second cipher: %v", err)
	}
	if _, err := other.Decrypt(sealed); err == nil {
		t.Error("Expected wrong-key decryption to fail")
	}
}

func TestNewRejectsBadKeys(t *testing.T) {
	for _, size := range []int{0, 16, 31, 33} {
		if _, err := New(make([]byte, size)); err == nil {
			t.Errorf("Expected %d byte key to be rejected", size)
		}
	}
}
