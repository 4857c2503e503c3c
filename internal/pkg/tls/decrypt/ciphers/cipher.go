// Package ciphers provides the symmetric primitives behind TLS record
// protection.
//
// Three families are implemented behind the Cipher interface:
//
// AEAD ciphers, given a full per-record nonce:
//   - AES-128-GCM, AES-256-GCM
//   - AES-CCM and AES-CCM_8
//   - ChaCha20-Poly1305
//
// CBC block ciphers, given the IV for the record (explicit or chained):
//   - AES-128, AES-256, DES, 3DES-EDE, export DES40
//
// Stream ciphers, whose keystream runs across records:
//   - RC4 (40, 56 and 128 bit keys), NULL
//
// Record framing (nonce construction, padding, MAC placement) is left to the
// caller; the MAC and padding helpers in this package implement the TLS and
// SSL 3.0 variants of each.
//
// Usage:
//
//	c, err := ciphers.New(suites.BulkAES128, suites.ModeGCM, key)
//	if err != nil {
//	    return err
//	}
//	plaintext, err := c.Decrypt(ciphertext, nonce, additionalData)
package ciphers

import (
	"errors"
	"fmt"

	"github.com/endorses/tlsdissect/internal/pkg/tls/suites"
)

// Errors returned by cipher operations.
var (
	// ErrAuthenticationFailed indicates AEAD authentication tag verification failed.
	ErrAuthenticationFailed = errors.New("cipher: authentication failed")

	// ErrInvalidKeySize indicates the key size is wrong for the cipher.
	ErrInvalidKeySize = errors.New("cipher: invalid key size")

	// ErrInvalidIVSize indicates the IV/nonce size is wrong.
	ErrInvalidIVSize = errors.New("cipher: invalid IV size")

	// ErrInvalidCiphertext indicates the ciphertext is malformed.
	ErrInvalidCiphertext = errors.New("cipher: invalid ciphertext")

	// ErrInvalidPadding indicates CBC padding verification failed.
	ErrInvalidPadding = errors.New("cipher: invalid padding")

	// ErrUnsupportedCipher indicates there is no implementation for the cipher.
	ErrUnsupportedCipher = errors.New("cipher: unsupported cipher")
)

// Cipher decrypts and encrypts the protected part of one TLS record.
type Cipher interface {
	// Decrypt decrypts a record fragment.
	//
	// For AEAD ciphers nonce is the full nonce (12 bytes) and additionalData
	// the AAD; ciphertext includes the tag.
	//
	// For CBC ciphers nonce is the IV for this record and additionalData is
	// ignored; the result still carries MAC and padding.
	//
	// Stream ciphers ignore both and advance their keystream.
	Decrypt(ciphertext, nonce, additionalData []byte) ([]byte, error)

	// Encrypt is the inverse of Decrypt, used to build test records.
	Encrypt(plaintext, nonce, additionalData []byte) ([]byte, error)

	// TagSize returns the AEAD tag size, 0 for other ciphers.
	TagSize() int

	// KeySize returns the cipher key size in bytes.
	KeySize() int

	// NonceSize returns the nonce size for AEAD ciphers and the block size
	// (IV length) for CBC ciphers.
	NonceSize() int

	// IsAEAD returns true if this is an AEAD cipher.
	IsAEAD() bool
}

// New creates the cipher for a bulk algorithm in the given mode.
func New(bulk suites.BulkCipher, mode suites.Mode, key []byte) (Cipher, error) {
	switch mode {
	case suites.ModeGCM, suites.ModeCCM, suites.ModeCCM8, suites.ModeChaCha20Poly1305:
		return NewAEAD(bulk, mode, key)
	case suites.ModeCBC:
		return NewCBC(bulk, key)
	case suites.ModeStream:
		if bulk == suites.BulkNull {
			return Null{}, nil
		}
		return NewRC4(bulk, key)
	default:
		return nil, fmt.Errorf("%w: mode %s", ErrUnsupportedCipher, mode)
	}
}

func checkKeyLen(bulk suites.BulkCipher, key []byte) error {
	if want := bulk.ExpandedKeyLen(); len(key) != want {
		return fmt.Errorf("%w: %s expects %d bytes, got %d", ErrInvalidKeySize, bulk, want, len(key))
	}
	return nil
}
