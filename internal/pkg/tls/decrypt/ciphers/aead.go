package ciphers

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"fmt"

	"github.com/pion/dtls/v2/pkg/crypto/ccm"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/endorses/tlsdissect/internal/pkg/tls/suites"
)

// NonceSize is the AEAD nonce length used by every TLS AEAD suite.
const NonceSize = 12

// AEAD wraps a cipher.AEAD with the TLS nonce length fixed at 12 bytes.
type AEAD struct {
	aead    cipher.AEAD
	keySize int
}

// NewAEAD creates an AEAD cipher. AES-GCM comes from crypto/cipher, AES-CCM
// and CCM_8 from pion's CCM implementation and ChaCha20-Poly1305 from
// x/crypto.
func NewAEAD(bulk suites.BulkCipher, mode suites.Mode, key []byte) (*AEAD, error) {
	if err := checkKeyLen(bulk, key); err != nil {
		return nil, err
	}

	var (
		aead cipher.AEAD
		err  error
	)
	switch mode {
	case suites.ModeChaCha20Poly1305:
		if bulk != suites.BulkChaCha20 {
			return nil, fmt.Errorf("%w: %s with %s", ErrUnsupportedCipher, bulk, mode)
		}
		aead, err = chacha20poly1305.New(key)
	case suites.ModeGCM, suites.ModeCCM, suites.ModeCCM8:
		if bulk != suites.BulkAES128 && bulk != suites.BulkAES256 {
			return nil, fmt.Errorf("%w: %s with %s", ErrUnsupportedCipher, bulk, mode)
		}
		var block cipher.Block
		block, err = aes.NewCipher(key)
		if err != nil {
			return nil, fmt.Errorf("failed to create AES cipher: %w", err)
		}
		switch mode {
		case suites.ModeGCM:
			aead, err = cipher.NewGCM(block)
		case suites.ModeCCM:
			aead, err = ccm.NewCCM(block, 16, NonceSize)
		default:
			aead, err = ccm.NewCCM(block, 8, NonceSize)
		}
	default:
		return nil, fmt.Errorf("%w: %s is not an AEAD mode", ErrUnsupportedCipher, mode)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", mode, err)
	}

	return &AEAD{aead: aead, keySize: len(key)}, nil
}

// Decrypt opens ciphertext||tag with the full 12-byte nonce.
func (a *AEAD) Decrypt(ciphertext, nonce, additionalData []byte) ([]byte, error) {
	if len(nonce) != NonceSize {
		return nil, fmt.Errorf("%w: expected %d-byte nonce, got %d", ErrInvalidIVSize, NonceSize, len(nonce))
	}
	if len(ciphertext) < a.aead.Overhead() {
		return nil, fmt.Errorf("%w: ciphertext too short (min %d bytes)", ErrInvalidCiphertext, a.aead.Overhead())
	}

	plaintext, err := a.aead.Open(nil, nonce, ciphertext, additionalData)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthenticationFailed, err)
	}
	return plaintext, nil
}

// Encrypt seals plaintext with the full 12-byte nonce.
func (a *AEAD) Encrypt(plaintext, nonce, additionalData []byte) ([]byte, error) {
	if len(nonce) != NonceSize {
		return nil, fmt.Errorf("%w: expected %d-byte nonce, got %d", ErrInvalidIVSize, NonceSize, len(nonce))
	}
	return a.aead.Seal(nil, nonce, plaintext, additionalData), nil
}

// TagSize returns the authentication tag size.
func (a *AEAD) TagSize() int {
	return a.aead.Overhead()
}

// KeySize returns the cipher key size in bytes.
func (a *AEAD) KeySize() int {
	return a.keySize
}

// NonceSize returns 12.
func (a *AEAD) NonceSize() int {
	return NonceSize
}

// IsAEAD returns true.
func (a *AEAD) IsAEAD() bool {
	return true
}

// ImplicitNonce builds the pre-1.3 GCM/CCM nonce: 4-byte salt from the key
// block followed by the 8-byte explicit nonce carried in the record.
func ImplicitNonce(salt, explicit []byte) []byte {
	nonce := make([]byte, NonceSize)
	copy(nonce[:4], salt)
	copy(nonce[4:], explicit)
	return nonce
}

// XORNonce builds the TLS 1.3 and ChaCha20-Poly1305 nonce: the 12-byte write
// IV XORed with the left-padded big-endian sequence number.
func XORNonce(iv []byte, seq uint64) []byte {
	nonce := make([]byte, NonceSize)
	copy(nonce, iv)

	var seqBytes [8]byte
	binary.BigEndian.PutUint64(seqBytes[:], seq)
	for i := 0; i < 8; i++ {
		nonce[4+i] ^= seqBytes[i]
	}
	return nonce
}
