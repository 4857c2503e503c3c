package decrypt

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/endorses/tlsdissect/internal/pkg/tls/suites"
)

func TestPRF12_Vector(t *testing.T) {
	// TLS 1.2 PRF test vector (SHA-256), as published with the RFC 5246
	// errata test data.
	secret := mustDecodeHex(t, "9bbe436ba940f017b17652849a71db35")
	seed := mustDecodeHex(t, "a0ba9f936cda311827a6f796ffd5198c")
	want := mustDecodeHex(t, "e3f229ba727be17b8d122620557cd453c2aab21d07c3d495329b52d4e61edb5a"+
		"6b301791e90d35c9c9a46b4e14baf9af0fa022f7077def17abfd3797c0564bab"+
		"4fbc91666e9def9b97fce34f796789baa48082d122ee42c5a72e5a5110fff701"+
		"87347b66")

	got := PRF12(suites.DigestSHA256, secret, []byte("test label"), seed, len(want))
	assert.Equal(t, want, got)

	viaVersion, err := PRF(VersionTLS12, suites.DigestSHA256, secret, "test label", seed, len(want))
	require.NoError(t, err)
	assert.Equal(t, want, viaVersion)

	viaDTLS, err := PRF(VersionDTLS12, suites.DigestSHA1, secret, "test label", seed, len(want))
	require.NoError(t, err)
	assert.Equal(t, want, viaDTLS, "SHA-1 suites use the SHA-256 PRF in TLS 1.2")
}

func TestPRF12_PrefixAndDigest(t *testing.T) {
	secret := []byte("secret")
	label := []byte("label")
	seed := []byte("seed")

	out32 := PRF12(suites.DigestSHA256, secret, label, seed, 32)
	out48 := PRF12(suites.DigestSHA256, secret, label, seed, 48)
	assert.Equal(t, out32, out48[:32])

	out384 := PRF12(suites.DigestSHA384, secret, label, seed, 32)
	assert.NotEqual(t, out32, out384)
	assert.Equal(t, pHash(sha512.New384, secret, concat(label, seed), 32), out384)
}

func TestPRF_VersionDispatch(t *testing.T) {
	secret := []byte("0123456789")
	seed := []byte("seed")

	tests := []struct {
		name    string
		version uint16
		wantErr error
	}{
		{"SSL 3.0", VersionSSL30, nil},
		{"TLS 1.0", VersionTLS10, nil},
		{"TLS 1.1", VersionTLS11, nil},
		{"DTLS 1.0", VersionDTLS10, nil},
		{"TLS 1.2", VersionTLS12, nil},
		{"TLS 1.3", VersionTLS13, ErrVersionMismatch},
		{"unknown", 0x0200, ErrVersionMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := PRF(tt.version, suites.DigestSHA256, secret, "label", seed, 40)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				var ke *KeyError
				require.ErrorAs(t, err, &ke)
				assert.Equal(t, KindVersionMismatch, ke.Kind)
				return
			}
			require.NoError(t, err)
			assert.Len(t, out, 40)
		})
	}

	tls10, _ := PRF(VersionTLS10, suites.DigestSHA256, secret, "label", seed, 40)
	tls11, _ := PRF(VersionTLS11, suites.DigestSHA256, secret, "label", seed, 40)
	tls12, _ := PRF(VersionTLS12, suites.DigestSHA256, secret, "label", seed, 40)
	assert.Equal(t, tls10, tls11)
	assert.NotEqual(t, tls10, tls12)
}

func TestTLS10PRF_SplitsSecret(t *testing.T) {
	label := []byte("key expansion")
	seed := []byte("randoms")

	tests := []struct {
		name   string
		secret []byte
		s1, s2 []byte
	}{
		{"even length", []byte("abcdef"), []byte("abc"), []byte("def")},
		{"odd length shares the middle byte", []byte("abcde"), []byte("abc"), []byte("cde")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			want := pHash(md5.New, tt.s1, concat(label, seed), 30)
			sha := pHash(sha1.New, tt.s2, concat(label, seed), 30)
			for i := range want {
				want[i] ^= sha[i]
			}
			assert.Equal(t, want, tls10PRF(tt.secret, label, seed, 30))
		})
	}
}

func TestSSL3PRF(t *testing.T) {
	secret := []byte("pre-master secret")
	seed := []byte("client and server randoms")

	round := func(salt string) []byte {
		inner := sha1.Sum(concat([]byte(salt), secret, seed))
		outer := md5.Sum(concat(secret, inner[:]))
		return outer[:]
	}
	want := concat(round("A"), round("BB"), round("CCC"))

	got, err := PRF(VersionSSL30, suites.DigestSHA1, secret, "ignored", seed, 40)
	require.NoError(t, err)
	assert.Equal(t, want[:40], got)

	_, err = ssl3PRF(secret, seed, 27*md5.Size)
	assert.Error(t, err)
}

func TestMasterSecret(t *testing.T) {
	pms := make([]byte, 48)
	cr := make([]byte, 32)
	sr := make([]byte, 32)
	for i := range pms {
		pms[i] = byte(i)
	}
	for i := range cr {
		cr[i] = byte(i)
		sr[i] = byte(0xff - i)
	}
	transcript := []byte("ClientHello ServerHello Certificate ServerHelloDone ClientKeyExchange")

	t.Run("TLS 1.2 classic", func(t *testing.T) {
		ms, err := MasterSecret(VersionTLS12, suites.DigestSHA256, pms, cr, sr, false, nil)
		require.NoError(t, err)
		assert.Len(t, ms, MasterSecretLen)
		assert.Equal(t, PRF12(suites.DigestSHA256, pms, []byte("master secret"), concat(cr, sr), 48), ms)
	})

	t.Run("TLS 1.2 extended master secret", func(t *testing.T) {
		sh := SessionHash(VersionTLS12, suites.DigestSHA256, transcript)
		want := sha256.Sum256(transcript)
		assert.Equal(t, want[:], sh)

		ms, err := MasterSecret(VersionTLS12, suites.DigestSHA256, pms, cr, sr, true, sh)
		require.NoError(t, err)
		assert.Equal(t, PRF12(suites.DigestSHA256, pms, []byte("extended master secret"), sh, 48), ms)

		classic, _ := MasterSecret(VersionTLS12, suites.DigestSHA256, pms, cr, sr, false, nil)
		assert.NotEqual(t, classic, ms)
	})

	t.Run("TLS 1.0 session hash is MD5 and SHA-1", func(t *testing.T) {
		sh := SessionHash(VersionTLS10, suites.DigestSHA1, transcript)
		m := md5.Sum(transcript)
		s := sha1.Sum(transcript)
		assert.Equal(t, concat(m[:], s[:]), sh)
	})

	t.Run("SHA-384 session hash", func(t *testing.T) {
		sh := SessionHash(VersionTLS12, suites.DigestSHA384, transcript)
		assert.Len(t, sh, 48)
	})

	t.Run("SSL 3.0 ignores extended master secret", func(t *testing.T) {
		plain, err := MasterSecret(VersionSSL30, suites.DigestSHA1, pms, cr, sr, false, nil)
		require.NoError(t, err)
		ems, err := MasterSecret(VersionSSL30, suites.DigestSHA1, pms, cr, sr, true, []byte("hash"))
		require.NoError(t, err)
		assert.Equal(t, plain, ems)
	})

	t.Run("TLS 1.3 has no master secret", func(t *testing.T) {
		_, err := MasterSecret(VersionTLS13, suites.DigestSHA256, pms, cr, sr, false, nil)
		assert.ErrorIs(t, err, ErrVersionMismatch)
	})
}

func TestExpandKeyMaterial(t *testing.T) {
	master := make([]byte, 48)
	for i := range master {
		master[i] = byte(i * 3)
	}
	cr := mustDecodeHex(t, "0101010101010101010101010101010101010101010101010101010101010101")
	sr := mustDecodeHex(t, "0202020202020202020202020202020202020202020202020202020202020202")

	tests := []struct {
		name                string
		id                  uint16
		version             uint16
		macLen, keyLen, ivL int
	}{
		{"AES-128-GCM", 0xC02F, VersionTLS12, 0, 16, 4},
		{"AES-128-CBC-SHA", 0x002F, VersionTLS12, 20, 16, 16},
		{"AES-128-CBC-SHA256", 0x003C, VersionTLS12, 32, 16, 16},
		{"3DES-CBC-SHA TLS 1.0", 0x000A, VersionTLS10, 20, 24, 8},
		{"RC4-128-SHA SSL 3.0", 0x0005, VersionSSL30, 20, 16, 0},
		{"ChaCha20-Poly1305", 0xCCA8, VersionTLS12, 0, 32, 12},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			suite, ok := suites.Lookup(tt.id)
			require.True(t, ok)
			km, err := ExpandKeyMaterial(tt.version, suite, master, cr, sr)
			require.NoError(t, err)

			block, err := PRF(tt.version, suite.PRFDigest(), master, "key expansion", concat(sr, cr), KeyBlockLen(suite))
			require.NoError(t, err)
			require.Len(t, block, 2*tt.macLen+2*tt.keyLen+2*tt.ivL)

			take := func(n int) []byte {
				b := block[:n]
				block = block[n:]
				if n == 0 {
					return nil
				}
				return b
			}
			assert.Equal(t, take(tt.macLen), km.ClientMACKey)
			assert.Equal(t, take(tt.macLen), km.ServerMACKey)
			assert.Equal(t, take(tt.keyLen), km.ClientWriteKey)
			assert.Equal(t, take(tt.keyLen), km.ServerWriteKey)
			assert.Equal(t, take(tt.ivL), km.ClientWriteIV)
			assert.Equal(t, take(tt.ivL), km.ServerWriteIV)
		})
	}

	t.Run("TLS 1.3 suite", func(t *testing.T) {
		suite, _ := suites.Lookup(0x1301)
		_, err := ExpandKeyMaterial(VersionTLS12, suite, master, cr, sr)
		assert.ErrorIs(t, err, ErrVersionMismatch)
	})
}

func TestExpandKeyMaterial_Export(t *testing.T) {
	master := make([]byte, 48)
	for i := range master {
		master[i] = byte(0x40 + i)
	}
	cr := make([]byte, 32)
	sr := make([]byte, 32)
	for i := range cr {
		cr[i] = byte(i)
		sr[i] = byte(0x80 + i)
	}

	t.Run("SSL 3.0 DES40", func(t *testing.T) {
		suite, ok := suites.LookupForVersion(0x0008, VersionSSL30)
		require.True(t, ok)
		km, err := ExpandKeyMaterial(VersionSSL30, suite, master, cr, sr)
		require.NoError(t, err)

		block, _ := PRF(VersionSSL30, suite.PRFDigest(), master, "", concat(sr, cr), KeyBlockLen(suite))
		rawClient := block[40:45]
		rawServer := block[45:50]

		ck := md5.Sum(concat(rawClient, cr, sr))
		sk := md5.Sum(concat(rawServer, sr, cr))
		assert.Equal(t, ck[:8], km.ClientWriteKey)
		assert.Equal(t, sk[:8], km.ServerWriteKey)

		civ := md5.Sum(concat(cr, sr))
		siv := md5.Sum(concat(sr, cr))
		assert.Equal(t, civ[:8], km.ClientWriteIV)
		assert.Equal(t, siv[:8], km.ServerWriteIV)
		assert.NotEqual(t, km.ClientWriteIV, km.ServerWriteIV)
	})

	t.Run("TLS 1.0 DES40", func(t *testing.T) {
		suite, _ := suites.Lookup(0x0008)
		km, err := ExpandKeyMaterial(VersionTLS10, suite, master, cr, sr)
		require.NoError(t, err)

		block, _ := PRF(VersionTLS10, suite.PRFDigest(), master, "key expansion", concat(sr, cr), KeyBlockLen(suite))
		rawClient := block[40:45]
		rawServer := block[45:50]

		ck, _ := PRF(VersionTLS10, suite.PRFDigest(), rawClient, "client write key", concat(cr, sr), 8)
		sk, _ := PRF(VersionTLS10, suite.PRFDigest(), rawServer, "server write key", concat(cr, sr), 8)
		assert.Equal(t, ck, km.ClientWriteKey)
		assert.Equal(t, sk, km.ServerWriteKey)

		ivBlock, _ := PRF(VersionTLS10, suite.PRFDigest(), nil, "IV block", concat(cr, sr), 16)
		assert.Equal(t, ivBlock[:8], km.ClientWriteIV)
		assert.Equal(t, ivBlock[8:], km.ServerWriteIV)
	})

	t.Run("TLS 1.0 RC4-40 has no IV", func(t *testing.T) {
		suite, _ := suites.Lookup(0x0003)
		km, err := ExpandKeyMaterial(VersionTLS10, suite, master, cr, sr)
		require.NoError(t, err)
		assert.Len(t, km.ClientWriteKey, 16)
		assert.Len(t, km.ServerWriteKey, 16)
		assert.Empty(t, km.ClientWriteIV)
		assert.Empty(t, km.ServerWriteIV)
		assert.NotEqual(t, km.ClientWriteKey, km.ServerWriteKey)
	})
}

func TestPSKPreMaster(t *testing.T) {
	pms := PSKPreMaster([]byte("abc"))
	assert.Equal(t, mustDecodeHex(t, "0003"+"000000"+"0003"+"616263"), pms)
	assert.Equal(t, mustDecodeHex(t, "0000"+"0000"), PSKPreMaster(nil))
}

// Fixed outputs of an independent SSL 3.0 / TLS 1.0 implementation written
// from RFC 6101 and RFC 2246.
func TestKeyDerivation_KnownAnswers(t *testing.T) {
	seq := func(n int, start, step byte) []byte {
		b := make([]byte, n)
		for i := range b {
			b[i] = start + byte(i)*step
		}
		return b
	}

	t.Run("SSL 3.0 master secret", func(t *testing.T) {
		pms := seq(48, 0, 1)
		cr := seq(32, 0, 1)
		sr := seq(32, 0xff, 0xff)
		ms, err := MasterSecret(VersionSSL30, suites.DigestSHA1, pms, cr, sr, false, nil)
		require.NoError(t, err)
		assert.Equal(t, mustDecodeHex(t, "2fcbde2bab1e090d0bec01ae4cdbe98b39b98de878d22a73083f4e9ff43f3f0e"+
			"ef3095900597dbc9c22d08648ede4060"), ms)

		suite, ok := suites.Lookup(0x0004)
		require.True(t, ok)
		km, err := ExpandKeyMaterial(VersionSSL30, suite, ms, cr, sr)
		require.NoError(t, err)
		assert.Equal(t, mustDecodeHex(t, "5e0ab0e226084da604138f2f87ffb52d"), km.ClientMACKey)
		assert.Equal(t, mustDecodeHex(t, "38d802c2b4819d615793ca6fea135173"), km.ServerMACKey)
		assert.Equal(t, mustDecodeHex(t, "a9aecd6985ced2943fd1adb42a1761a4"), km.ClientWriteKey)
		assert.Equal(t, mustDecodeHex(t, "8d1fa894617f9ad6d8d215a2cd67bdb1"), km.ServerWriteKey)
		assert.Nil(t, km.ClientWriteIV)
	})

	master := seq(48, 0x40, 1)
	cr := seq(32, 0, 1)
	sr := seq(32, 0x80, 1)

	tests := []struct {
		name      string
		id        uint16
		version   uint16
		clientMAC string
		clientKey string
		serverKey string
		clientIV  string
		serverIV  string
	}{
		{
			name:      "SSL 3.0 EXP-DES-CBC-SHA",
			id:        0x0008,
			version:   VersionSSL30,
			clientMAC: "d4d05d17a44e09d416e4ee3e552b7a3e6534d0c0",
			clientKey: "6ca927d462385131",
			serverKey: "4468017a9e8e18a0",
			clientIV:  "42e140d4b3a6b42d",
			serverIV:  "0f48b23fe865cb2c",
		},
		{
			name:      "TLS 1.0 EXP-DES-CBC-SHA",
			id:        0x0008,
			version:   VersionTLS10,
			clientMAC: "f271def10101aafb3228dfb87133b3448ed78c76",
			clientKey: "504043269b185c3d",
			serverKey: "2dee6a2e9960537b",
			clientIV:  "b1e47b3a6f4364d5",
			serverIV:  "a06c69a7bc1935d3",
		},
		{
			name:      "TLS 1.0 EXP-RC4-MD5",
			id:        0x0003,
			version:   VersionTLS10,
			clientMAC: "f271def10101aafb3228dfb87133b344",
			clientKey: "55e0da044c8d9da1f25395436ade13b1",
			serverKey: "e35a57ba070b7722c29cffbb14d2ca1b",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			suite, ok := suites.LookupForVersion(tt.id, tt.version)
			require.True(t, ok)
			km, err := ExpandKeyMaterial(tt.version, suite, master, cr, sr)
			require.NoError(t, err)

			assert.Equal(t, mustDecodeHex(t, tt.clientMAC), km.ClientMACKey)
			assert.Equal(t, mustDecodeHex(t, tt.clientKey), km.ClientWriteKey)
			assert.Equal(t, mustDecodeHex(t, tt.serverKey), km.ServerWriteKey)
			if tt.clientIV == "" {
				assert.Empty(t, km.ClientWriteIV)
				assert.Empty(t, km.ServerWriteIV)
				return
			}
			assert.Equal(t, mustDecodeHex(t, tt.clientIV), km.ClientWriteIV)
			assert.Equal(t, mustDecodeHex(t, tt.serverIV), km.ServerWriteIV)
		})
	}
}
