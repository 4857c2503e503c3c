package ciphers

import (
	"crypto/rc4"
	"fmt"

	"github.com/endorses/tlsdissect/internal/pkg/tls/suites"
)

// RC4 is the RC4 stream cipher. The keystream position carries over from one
// record to the next, so one instance serves exactly one direction.
type RC4 struct {
	c       *rc4.Cipher
	keySize int
}

// NewRC4 creates an RC4 cipher. Export keys arrive already expanded to 16
// bytes.
func NewRC4(bulk suites.BulkCipher, key []byte) (*RC4, error) {
	switch bulk {
	case suites.BulkRC4_40, suites.BulkRC4_56, suites.BulkRC4_128:
	default:
		return nil, fmt.Errorf("%w: %s as stream cipher", ErrUnsupportedCipher, bulk)
	}
	if err := checkKeyLen(bulk, key); err != nil {
		return nil, err
	}

	c, err := rc4.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create RC4 cipher: %w", err)
	}
	return &RC4{c: c, keySize: len(key)}, nil
}

// Decrypt XORs the next len(ciphertext) keystream bytes.
func (r *RC4) Decrypt(ciphertext, _, _ []byte) ([]byte, error) {
	out := make([]byte, len(ciphertext))
	r.c.XORKeyStream(out, ciphertext)
	return out, nil
}

// Encrypt is the same operation as Decrypt.
func (r *RC4) Encrypt(plaintext, _, _ []byte) ([]byte, error) {
	return r.Decrypt(plaintext, nil, nil)
}

func (r *RC4) TagSize() int   { return 0 }
func (r *RC4) KeySize() int   { return r.keySize }
func (r *RC4) NonceSize() int { return 0 }
func (r *RC4) IsAEAD() bool   { return false }

// Null is the identity cipher of NULL suites.
type Null struct{}

// Decrypt returns a copy of the input.
func (Null) Decrypt(ciphertext, _, _ []byte) ([]byte, error) {
	return append([]byte(nil), ciphertext...), nil
}

// Encrypt returns a copy of the input.
func (Null) Encrypt(plaintext, _, _ []byte) ([]byte, error) {
	return append([]byte(nil), plaintext...), nil
}

func (Null) TagSize() int   { return 0 }
func (Null) KeySize() int   { return 0 }
func (Null) NonceSize() int { return 0 }
func (Null) IsAEAD() bool   { return false }
