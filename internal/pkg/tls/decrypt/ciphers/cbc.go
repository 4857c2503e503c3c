package ciphers

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/des"
	"fmt"

	"github.com/endorses/tlsdissect/internal/pkg/tls/suites"
)

// CBC is a block cipher in CBC mode. It only handles whole blocks; padding
// and MAC are checked by the caller because their layout depends on the
// protocol version and on Encrypt-then-MAC.
//
// TLS 1.0 and SSL 3.0 chain the IV across records: the IV for the next
// record is the last ciphertext block of the previous one (see LastBlock).
type CBC struct {
	block   cipher.Block
	keySize int
}

// NewCBC creates a CBC cipher for AES, DES, 3DES or export DES40. DES40 keys
// arrive already expanded to 8 bytes.
func NewCBC(bulk suites.BulkCipher, key []byte) (*CBC, error) {
	if err := checkKeyLen(bulk, key); err != nil {
		return nil, err
	}

	var (
		block cipher.Block
		err   error
	)
	switch bulk {
	case suites.BulkAES128, suites.BulkAES256:
		block, err = aes.NewCipher(key)
	case suites.BulkDES, suites.BulkDES40:
		block, err = des.NewCipher(key)
	case suites.Bulk3DES:
		block, err = des.NewTripleDESCipher(key)
	default:
		return nil, fmt.Errorf("%w: %s in CBC mode", ErrUnsupportedCipher, bulk)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create %s cipher: %w", bulk, err)
	}

	return &CBC{block: block, keySize: len(key)}, nil
}

// Decrypt decrypts whole blocks with the given IV.
func (c *CBC) Decrypt(ciphertext, nonce, _ []byte) ([]byte, error) {
	bs := c.block.BlockSize()
	if len(nonce) != bs {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidIVSize, bs, len(nonce))
	}
	if len(ciphertext) == 0 || len(ciphertext)%bs != 0 {
		return nil, fmt.Errorf("%w: ciphertext length %d is not a multiple of block size", ErrInvalidCiphertext, len(ciphertext))
	}

	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(c.block, nonce).CryptBlocks(plaintext, ciphertext)
	return plaintext, nil
}

// Encrypt encrypts already padded plaintext with the given IV.
func (c *CBC) Encrypt(plaintext, nonce, _ []byte) ([]byte, error) {
	bs := c.block.BlockSize()
	if len(nonce) != bs {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidIVSize, bs, len(nonce))
	}
	if len(plaintext)%bs != 0 {
		return nil, fmt.Errorf("%w: plaintext is not padded to the block size", ErrInvalidCiphertext)
	}

	ciphertext := make([]byte, len(plaintext))
	cipher.NewCBCEncrypter(c.block, nonce).CryptBlocks(ciphertext, plaintext)
	return ciphertext, nil
}

// TagSize returns 0; CBC suites authenticate with a separate MAC.
func (c *CBC) TagSize() int {
	return 0
}

// KeySize returns the cipher key size.
func (c *CBC) KeySize() int {
	return c.keySize
}

// NonceSize returns the block size, which is also the IV length.
func (c *CBC) NonceSize() int {
	return c.block.BlockSize()
}

// IsAEAD returns false (CBC is not AEAD).
func (c *CBC) IsAEAD() bool {
	return false
}

// LastBlock returns a copy of the last ciphertext block, the implicit IV of
// the following record for TLS 1.0 and SSL 3.0.
func LastBlock(ciphertext []byte, blockSize int) []byte {
	if len(ciphertext) < blockSize {
		return nil
	}
	last := make([]byte, blockSize)
	copy(last, ciphertext[len(ciphertext)-blockSize:])
	return last
}

// RemovePadding strips CBC padding: the last byte N gives the number of
// padding bytes before it. TLS requires every padding byte to equal N; SSL 3.0
// leaves their content unspecified, so only the length is checked.
func RemovePadding(plaintext []byte, ssl3 bool) ([]byte, error) {
	if len(plaintext) == 0 {
		return nil, ErrInvalidPadding
	}

	n := int(plaintext[len(plaintext)-1])
	if n+1 > len(plaintext) {
		return nil, fmt.Errorf("%w: padding length %d exceeds record", ErrInvalidPadding, n)
	}

	start := len(plaintext) - n - 1
	if !ssl3 {
		bad := byte(0)
		for _, b := range plaintext[start : len(plaintext)-1] {
			bad |= b ^ byte(n)
		}
		if bad != 0 {
			return nil, ErrInvalidPadding
		}
	}
	return plaintext[:start], nil
}

// AddPadding appends TLS CBC padding so data fills whole blocks.
func AddPadding(data []byte, blockSize int) []byte {
	n := (blockSize - (len(data)+1)%blockSize) % blockSize
	padded := make([]byte, len(data)+n+1)
	copy(padded, data)
	for i := len(data); i < len(padded); i++ {
		padded[i] = byte(n)
	}
	return padded
}
