package decrypt

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"golang.org/x/crypto/pkcs12"
)

// RSA keyring errors
var (
	ErrNoRSAKey       = errors.New("no matching RSA private key")
	ErrNotRSAKey      = errors.New("private key is not RSA")
	ErrNoKeysInPEM    = errors.New("no RSA private key found in PEM data")
	ErrBadPreMaster   = errors.New("decrypted pre-master secret has wrong length")
	ErrEncryptedPEM   = errors.New("encrypted PEM keys are not supported, convert to PKCS#12")
	errEmptyPreMaster = errors.New("empty encrypted pre-master secret")
)

// RSAKeyring holds server RSA private keys indexed by the SHA-1 of their
// SubjectPublicKeyInfo, which is also computable from the server
// certificate.
type RSAKeyring struct {
	mu   sync.RWMutex
	keys map[string]*rsa.PrivateKey
}

// NewRSAKeyring creates an empty keyring.
func NewRSAKeyring() *RSAKeyring {
	return &RSAKeyring{keys: make(map[string]*rsa.PrivateKey)}
}

// KeyID returns the SHA-1 of the DER SubjectPublicKeyInfo of pub.
func KeyID(pub *rsa.PublicKey) ([]byte, error) {
	spki, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("failed to encode public key: %w", err)
	}
	sum := sha1.Sum(spki)
	return sum[:], nil
}

// CertificateKeyID returns the key id of a DER certificate.
func CertificateKeyID(der []byte) ([]byte, error) {
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate: %w", err)
	}
	sum := sha1.Sum(cert.RawSubjectPublicKeyInfo)
	return sum[:], nil
}

// Add inserts a key and returns its key id.
func (k *RSAKeyring) Add(key *rsa.PrivateKey) ([]byte, error) {
	id, err := KeyID(&key.PublicKey)
	if err != nil {
		return nil, err
	}
	k.mu.Lock()
	k.keys[hex.EncodeToString(id)] = key
	k.mu.Unlock()
	return id, nil
}

// Len returns the number of keys.
func (k *RSAKeyring) Len() int {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return len(k.keys)
}

// KeyIDs returns the hex key ids, sorted.
func (k *RSAKeyring) KeyIDs() []string {
	k.mu.RLock()
	defer k.mu.RUnlock()
	ids := make([]string, 0, len(k.keys))
	for id := range k.keys {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// LoadPEM adds every RSA private key found in PEM data (PKCS#1 or PKCS#8).
func (k *RSAKeyring) LoadPEM(data []byte) (int, error) {
	added := 0
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			break
		}

		var key *rsa.PrivateKey
		switch block.Type {
		case "RSA PRIVATE KEY":
			if _, encrypted := block.Headers["DEK-Info"]; encrypted {
				return added, ErrEncryptedPEM
			}
			parsed, err := x509.ParsePKCS1PrivateKey(block.Bytes)
			if err != nil {
				return added, fmt.Errorf("failed to parse PKCS#1 key: %w", err)
			}
			key = parsed
		case "PRIVATE KEY":
			parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
			if err != nil {
				return added, fmt.Errorf("failed to parse PKCS#8 key: %w", err)
			}
			rsaKey, ok := parsed.(*rsa.PrivateKey)
			if !ok {
				return added, fmt.Errorf("%w: %T", ErrNotRSAKey, parsed)
			}
			key = rsaKey
		case "ENCRYPTED PRIVATE KEY":
			return added, ErrEncryptedPEM
		default:
			continue
		}

		if _, err := k.Add(key); err != nil {
			return added, err
		}
		added++
	}

	if added == 0 {
		return 0, ErrNoKeysInPEM
	}
	return added, nil
}

// LoadPKCS12 adds the RSA key of a PKCS#12 archive.
func (k *RSAKeyring) LoadPKCS12(data []byte, password string) error {
	priv, _, err := pkcs12.Decode(data, password)
	if err != nil {
		return fmt.Errorf("failed to decode PKCS#12: %w", err)
	}
	key, ok := priv.(*rsa.PrivateKey)
	if !ok {
		return fmt.Errorf("%w: %T", ErrNotRSAKey, priv)
	}
	_, err = k.Add(key)
	return err
}

// LoadFile loads a key file. ".p12" and ".pfx" files are PKCS#12 archives
// opened with password; anything else is PEM.
func (k *RSAKeyring) LoadFile(path, password string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read key file: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".p12", ".pfx":
		if err := k.LoadPKCS12(data, password); err != nil {
			return 0, fmt.Errorf("%s: %w", path, err)
		}
		return 1, nil
	default:
		n, err := k.LoadPEM(data)
		if err != nil {
			return n, fmt.Errorf("%s: %w", path, err)
		}
		return n, nil
	}
}

// ParseKeySpec splits a "path[:password]" key argument. A drive letter
// prefix such as "C:" is not taken for a separator.
func ParseKeySpec(spec string) (path, password string) {
	i := strings.LastIndex(spec, ":")
	if i <= 1 {
		return spec, ""
	}
	return spec[:i], spec[i+1:]
}

// selectKey returns the key for keyID, or the only key when keyID is
// unknown or empty.
func (k *RSAKeyring) selectKey(keyID []byte) (*rsa.PrivateKey, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	if len(keyID) > 0 {
		if key, ok := k.keys[hex.EncodeToString(keyID)]; ok {
			return key, nil
		}
	}
	if len(k.keys) == 1 {
		for _, key := range k.keys {
			return key, nil
		}
	}
	return nil, ErrNoRSAKey
}

// DecryptPreMaster decrypts an RSA-encrypted pre-master secret with the key
// selected by keyID.
func (k *RSAKeyring) DecryptPreMaster(keyID, encrypted []byte) ([]byte, error) {
	if len(encrypted) == 0 {
		return nil, errEmptyPreMaster
	}
	key, err := k.selectKey(keyID)
	if err != nil {
		return nil, err
	}
	pms, err := rsa.DecryptPKCS1v15(rand.Reader, key, encrypted)
	if err != nil {
		return nil, fmt.Errorf("RSA decryption failed: %w", err)
	}
	if len(pms) != MasterSecretLen {
		return nil, fmt.Errorf("%w: %d bytes", ErrBadPreMaster, len(pms))
	}
	return pms, nil
}
