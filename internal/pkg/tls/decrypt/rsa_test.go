package decrypt

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/endorses/tlsdissect/internal/pkg/tls/secrets"
	"github.com/endorses/tlsdissect/internal/pkg/tls/suites"
)

var (
	testKeysOnce sync.Once
	testKeys     [2]*rsa.PrivateKey
)

// rsaTestKeys generates two RSA keys once per test binary.
func rsaTestKeys(t *testing.T) [2]*rsa.PrivateKey {
	t.Helper()
	testKeysOnce.Do(func() {
		for i := range testKeys {
			key, err := rsa.GenerateKey(rand.Reader, 2048)
			if err != nil {
				panic(err)
			}
			testKeys[i] = key
		}
	})
	return testKeys
}

func pkcs1PEM(key *rsa.PrivateKey) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
}

func pkcs8PEM(t *testing.T, key any) []byte {
	t.Helper()
	der, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})
}

func TestRSAKeyring_LoadPEM(t *testing.T) {
	keys := rsaTestKeys(t)

	t.Run("PKCS#1 and PKCS#8 in one file", func(t *testing.T) {
		kr := NewRSAKeyring()
		data := append(pkcs1PEM(keys[0]), pkcs8PEM(t, keys[1])...)
		n, err := kr.LoadPEM(data)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
		assert.Equal(t, 2, kr.Len())
		assert.Len(t, kr.KeyIDs(), 2)
	})

	t.Run("certificates are skipped", func(t *testing.T) {
		kr := NewRSAKeyring()
		data := append(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: []byte{1}}), pkcs1PEM(keys[0])...)
		n, err := kr.LoadPEM(data)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})

	t.Run("no key", func(t *testing.T) {
		_, err := NewRSAKeyring().LoadPEM([]byte("not pem"))
		assert.ErrorIs(t, err, ErrNoKeysInPEM)
	})

	t.Run("encrypted", func(t *testing.T) {
		_, err := NewRSAKeyring().LoadPEM(pem.EncodeToMemory(&pem.Block{Type: "ENCRYPTED PRIVATE KEY", Bytes: []byte{1}}))
		assert.ErrorIs(t, err, ErrEncryptedPEM)
	})

	t.Run("not RSA", func(t *testing.T) {
		ec, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		require.NoError(t, err)
		_, err = NewRSAKeyring().LoadPEM(pkcs8PEM(t, ec))
		assert.ErrorIs(t, err, ErrNotRSAKey)
	})
}

func TestRSAKeyring_LoadFile(t *testing.T) {
	keys := rsaTestKeys(t)
	path := filepath.Join(t.TempDir(), "server.key")
	require.NoError(t, os.WriteFile(path, pkcs1PEM(keys[0]), 0o600))

	kr := NewRSAKeyring()
	n, err := kr.LoadFile(path, "")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = kr.LoadFile(filepath.Join(t.TempDir(), "missing.pem"), "")
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.p12")
	require.NoError(t, os.WriteFile(bad, []byte("junk"), 0o600))
	_, err = kr.LoadFile(bad, "secret")
	assert.Error(t, err)
}

func TestCertificateKeyID(t *testing.T) {
	key := rsaTestKeys(t)[0]
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "test.example"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)

	fromCert, err := CertificateKeyID(der)
	require.NoError(t, err)
	fromKey, err := KeyID(&key.PublicKey)
	require.NoError(t, err)
	assert.Equal(t, fromKey, fromCert)
	assert.Len(t, fromKey, 20)

	_, err = CertificateKeyID([]byte{0x30, 0x00})
	assert.Error(t, err)
}

func TestRSAKeyring_DecryptPreMaster(t *testing.T) {
	keys := rsaTestKeys(t)
	pms := append([]byte{0x03, 0x03}, fill(46, 0x42)...)
	encrypted, err := rsa.EncryptPKCS1v15(rand.Reader, &keys[0].PublicKey, pms)
	require.NoError(t, err)

	single := NewRSAKeyring()
	id0, err := single.Add(keys[0])
	require.NoError(t, err)

	both := NewRSAKeyring()
	_, err = both.Add(keys[0])
	require.NoError(t, err)
	_, err = both.Add(keys[1])
	require.NoError(t, err)

	tests := []struct {
		name    string
		keyring *RSAKeyring
		keyID   []byte
		wantErr error
	}{
		{"by key id", both, id0, nil},
		{"single key without id", single, nil, nil},
		{"single key with unknown id", single, fill(20, 1), nil},
		{"ambiguous", both, nil, ErrNoRSAKey},
		{"empty keyring", NewRSAKeyring(), id0, ErrNoRSAKey},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.keyring.DecryptPreMaster(tt.keyID, encrypted)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, pms, got)
		})
	}

	t.Run("wrong length", func(t *testing.T) {
		short, err := rsa.EncryptPKCS1v15(rand.Reader, &keys[0].PublicKey, fill(32, 1))
		require.NoError(t, err)
		_, err = single.DecryptPreMaster(id0, short)
		assert.ErrorIs(t, err, ErrBadPreMaster)
	})

	t.Run("empty", func(t *testing.T) {
		_, err := single.DecryptPreMaster(id0, nil)
		assert.Error(t, err)
	})
}

func TestKeyScheduler_RSAKeyExchange(t *testing.T) {
	keys := rsaTestKeys(t)
	kr := NewRSAKeyring()
	id, err := kr.Add(keys[0])
	require.NoError(t, err)

	pms := append([]byte{0x03, 0x03}, fill(46, 0x24)...)
	encrypted, err := rsa.EncryptPKCS1v15(rand.Reader, &keys[0].PublicKey, pms)
	require.NoError(t, err)

	cache := secrets.NewCache(secrets.Config{})
	s := classicSession(t, 0x002F, VersionTLS12)
	s.EncryptedPreMaster = encrypted
	s.ServerKeyID = id

	ms, err := NewKeyScheduler(cache, WithRSAKeys(kr)).DeriveMasterSecret(s)
	require.NoError(t, err)
	want, err := MasterSecret(VersionTLS12, suites.DigestSHA256, pms, s.ClientRandom[:], s.ServerRandom[:], false, nil)
	require.NoError(t, err)
	assert.Equal(t, want, ms)

	cached, ok := cache.Lookup(secrets.MapPreMaster, encrypted[:8])
	require.True(t, ok)
	assert.Equal(t, pms, cached)

	t.Run("not an RSA key exchange", func(t *testing.T) {
		s := classicSession(t, 0xC02F, VersionTLS12)
		s.EncryptedPreMaster = encrypted
		_, err := NewKeyScheduler(secrets.NewCache(secrets.Config{}), WithRSAKeys(kr)).DeriveMasterSecret(s)
		assert.ErrorIs(t, err, ErrMissingSecret)
	})
}

func TestParseKeySpec(t *testing.T) {
	tests := []struct {
		spec     string
		path     string
		password string
	}{
		{"server.pem", "server.pem", ""},
		{"server.p12:secret", "server.p12", "secret"},
		{"/etc/keys/a:b.p12:pw", "/etc/keys/a:b.p12", "pw"},
		{`C:\keys\server.pem`, `C:\keys\server.pem`, ""},
		{`C:\keys\server.p12:pw`, `C:\keys\server.p12`, "pw"},
	}
	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			path, password := ParseKeySpec(tt.spec)
			assert.Equal(t, tt.path, path)
			assert.Equal(t, tt.password, password)
		})
	}
}
