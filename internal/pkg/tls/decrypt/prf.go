package decrypt

import (
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha1"
	"fmt"
	"hash"

	"github.com/endorses/tlsdissect/internal/pkg/tls/decrypt/ciphers"
	"github.com/endorses/tlsdissect/internal/pkg/tls/suites"
)

// Classic (pre-1.3) key derivation
//
// SSL 3.0 uses its own MD5/SHA-1 construction. TLS 1.0 and 1.1 (and DTLS
// 1.0) split the secret in two halves and XOR P_MD5 with P_SHA1. TLS 1.2
// uses a single P_hash with the suite's PRF hash:
//
//	P_hash(secret, seed) = HMAC_hash(secret, A(1) + seed) +
//	                       HMAC_hash(secret, A(2) + seed) + ...
//	A(0) = seed
//	A(i) = HMAC_hash(secret, A(i-1))

// MasterSecretLen is the length of the master secret.
const MasterSecretLen = 48

// PRF labels
const (
	labelMasterSecret         = "master secret"
	labelExtendedMasterSecret = "extended master secret"
	labelKeyExpansion         = "key expansion"
	labelClientWriteKey       = "client write key"
	labelServerWriteKey       = "server write key"
	labelIVBlock              = "IV block"
)

// prfKind selects the classic PRF for a protocol version.
type prfKind int

const (
	prfSSL3 prfKind = iota + 1
	prfTLS10
	prfTLS12
)

func prfForVersion(version uint16) (prfKind, error) {
	switch version {
	case VersionSSL30:
		return prfSSL3, nil
	case VersionTLS10, VersionTLS11, VersionDTLS10, VersionDTLS10OpenSSL:
		return prfTLS10, nil
	case VersionTLS12, VersionDTLS12:
		return prfTLS12, nil
	}
	return 0, keyErr(KindVersionMismatch, "no classic PRF for %s", VersionName(version))
}

// PRF computes n bytes of the classic PRF for version. digest is the suite's
// PRF digest and only matters for TLS 1.2. SSL 3.0 has no labels; label is
// ignored there.
func PRF(version uint16, digest suites.Digest, secret []byte, label string, seed []byte, n int) ([]byte, error) {
	kind, err := prfForVersion(version)
	if err != nil {
		return nil, err
	}
	switch kind {
	case prfSSL3:
		return ssl3PRF(secret, seed, n)
	case prfTLS10:
		return tls10PRF(secret, []byte(label), seed, n), nil
	default:
		return PRF12(digest, secret, []byte(label), seed, n), nil
	}
}

// PRF12 implements the TLS 1.2 PRF with the SHA-256 or SHA-384 P_hash.
func PRF12(digest suites.Digest, secret, label, seed []byte, length int) []byte {
	h := ciphers.HashFunc(digest)
	if digest != suites.DigestSHA384 {
		h = ciphers.HashFunc(suites.DigestSHA256)
	}
	return pHash(h, secret, concat(label, seed), length)
}

// tls10PRF is P_MD5(S1, label+seed) XOR P_SHA1(S2, label+seed), where S1
// and S2 are the two (possibly overlapping) halves of the secret.
func tls10PRF(secret, label, seed []byte, length int) []byte {
	half := (len(secret) + 1) / 2
	s1 := secret[:half]
	s2 := secret[len(secret)-half:]

	labelAndSeed := concat(label, seed)
	out := pHash(md5.New, s1, labelAndSeed, length)
	sha := pHash(sha1.New, s2, labelAndSeed, length)
	for i := range out {
		out[i] ^= sha[i]
	}
	return out
}

// pHash implements P_hash from RFC 5246.
func pHash(h func() hash.Hash, secret, seed []byte, length int) []byte {
	result := make([]byte, 0, length+64)

	// A(0) = seed
	a := seed
	for len(result) < length {
		mac := hmac.New(h, secret)
		mac.Write(a)
		a = mac.Sum(nil)

		mac = hmac.New(h, secret)
		mac.Write(a)
		mac.Write(seed)
		result = mac.Sum(result)
	}
	return result[:length]
}

// ssl3PRF is the SSL 3.0 key derivation:
//
//	MD5(secret + SHA1("A" + secret + seed)) +
//	MD5(secret + SHA1("BB" + secret + seed)) + ...
func ssl3PRF(secret, seed []byte, length int) ([]byte, error) {
	const maxRounds = 26
	if length > maxRounds*md5.Size {
		return nil, fmt.Errorf("SSL 3.0 PRF cannot produce %d bytes", length)
	}

	result := make([]byte, 0, length+md5.Size)
	for i := 0; len(result) < length; i++ {
		salt := make([]byte, i+1)
		for j := range salt {
			salt[j] = byte('A' + i)
		}

		s := sha1.New()
		s.Write(salt)
		s.Write(secret)
		s.Write(seed)

		m := md5.New()
		m.Write(secret)
		m.Write(s.Sum(nil))
		result = m.Sum(result)
	}
	return result[:length], nil
}

// SessionHash returns the Extended Master Secret session hash of the
// handshake transcript: MD5 || SHA-1 before TLS 1.2, the PRF hash for TLS 1.2.
func SessionHash(version uint16, digest suites.Digest, transcript []byte) []byte {
	if kind, _ := prfForVersion(version); kind == prfTLS12 {
		h := ciphers.HashFunc(digest)
		if digest != suites.DigestSHA384 {
			h = ciphers.HashFunc(suites.DigestSHA256)
		}
		hh := h()
		hh.Write(transcript)
		return hh.Sum(nil)
	}
	m := md5.Sum(transcript)
	s := sha1.Sum(transcript)
	return concat(m[:], s[:])
}

// MasterSecret derives the 48-byte master secret from a pre-master secret.
// With ems set the seed is the session hash instead of the randoms.
func MasterSecret(version uint16, digest suites.Digest, preMaster, clientRandom, serverRandom []byte, ems bool, sessionHash []byte) ([]byte, error) {
	if ems && version != VersionSSL30 {
		return PRF(version, digest, preMaster, labelExtendedMasterSecret, sessionHash, MasterSecretLen)
	}
	return PRF(version, digest, preMaster, labelMasterSecret, concat(clientRandom, serverRandom), MasterSecretLen)
}

// KeyMaterial holds the per-direction keys expanded from a master secret.
type KeyMaterial struct {
	ClientMACKey   []byte
	ServerMACKey   []byte
	ClientWriteKey []byte
	ServerWriteKey []byte
	ClientWriteIV  []byte
	ServerWriteIV  []byte
}

// KeyBlockLen returns the key block length for a suite:
// 2*mac + 2*key + 2*iv.
func KeyBlockLen(suite *suites.Descriptor) int {
	return 2*suite.MACLen() + 2*suite.KeyLen() + 2*suite.IVLen()
}

// ExpandKeyMaterial derives the key block from the master secret and slices
// it in the order client MAC, server MAC, client key, server key, client IV,
// server IV. Export suites get their final write keys and IVs from an extra
// step.
//
// key_block = PRF(master_secret, "key expansion", server_random + client_random)
func ExpandKeyMaterial(version uint16, suite *suites.Descriptor, master, clientRandom, serverRandom []byte) (*KeyMaterial, error) {
	if suite.IsTLS13() {
		return nil, keyErr(KindVersionMismatch, "%s has no key block", suite.Name)
	}

	block, err := PRF(version, suite.PRFDigest(), master, labelKeyExpansion, concat(serverRandom, clientRandom), KeyBlockLen(suite))
	if err != nil {
		return nil, err
	}

	km := &KeyMaterial{}
	take := func(n int) []byte {
		if n == 0 {
			return nil
		}
		b := block[:n:n]
		block = block[n:]
		return b
	}
	km.ClientMACKey = take(suite.MACLen())
	km.ServerMACKey = take(suite.MACLen())
	km.ClientWriteKey = take(suite.KeyLen())
	km.ServerWriteKey = take(suite.KeyLen())
	km.ClientWriteIV = take(suite.IVLen())
	km.ServerWriteIV = take(suite.IVLen())

	if suite.Export {
		if err := expandExport(version, suite, km, clientRandom, serverRandom); err != nil {
			return nil, err
		}
	}
	return km, nil
}

// expandExport turns the short export write keys into full cipher keys and
// derives the IVs, which export suites do not take from the key block.
//
// SSL 3.0:
//
//	client key = MD5(client_key + client_random + server_random)
//	server key = MD5(server_key + server_random + client_random)
//	client IV  = MD5(client_random + server_random)
//	server IV  = MD5(server_random + client_random)
//
// TLS 1.0:
//
//	client key = PRF(client_key, "client write key", client_random + server_random)
//	server key = PRF(server_key, "server write key", client_random + server_random)
//	IV block   = PRF("", "IV block", client_random + server_random), client IV first
func expandExport(version uint16, suite *suites.Descriptor, km *KeyMaterial, clientRandom, serverRandom []byte) error {
	keyLen := suite.ExpandedKeyLen()
	ivLen := suite.Bulk.BlockSize()
	crsr := concat(clientRandom, serverRandom)
	srcr := concat(serverRandom, clientRandom)

	if version == VersionSSL30 {
		ck := md5.Sum(concat(km.ClientWriteKey, crsr))
		sk := md5.Sum(concat(km.ServerWriteKey, srcr))
		km.ClientWriteKey = append([]byte(nil), ck[:keyLen]...)
		km.ServerWriteKey = append([]byte(nil), sk[:keyLen]...)
		if ivLen > 0 {
			civ := md5.Sum(crsr)
			siv := md5.Sum(srcr)
			km.ClientWriteIV = append([]byte(nil), civ[:ivLen]...)
			km.ServerWriteIV = append([]byte(nil), siv[:ivLen]...)
		}
		return nil
	}

	var err error
	if km.ClientWriteKey, err = PRF(version, suite.PRFDigest(), km.ClientWriteKey, labelClientWriteKey, crsr, keyLen); err != nil {
		return err
	}
	if km.ServerWriteKey, err = PRF(version, suite.PRFDigest(), km.ServerWriteKey, labelServerWriteKey, crsr, keyLen); err != nil {
		return err
	}
	if ivLen > 0 {
		ivBlock, err := PRF(version, suite.PRFDigest(), nil, labelIVBlock, crsr, 2*ivLen)
		if err != nil {
			return err
		}
		km.ClientWriteIV = ivBlock[:ivLen:ivLen]
		km.ServerWriteIV = ivBlock[ivLen:]
	}
	return nil
}

// PSKPreMaster builds the plain PSK pre-master secret of RFC 4279:
// uint16 len, len zero bytes, uint16 len, psk.
func PSKPreMaster(psk []byte) []byte {
	n := len(psk)
	pms := make([]byte, 2+n+2+n)
	pms[0], pms[1] = byte(n>>8), byte(n)
	pms[2+n], pms[3+n] = byte(n>>8), byte(n)
	copy(pms[4+n:], psk)
	return pms
}

func concat(parts ...[]byte) []byte {
	n := 0
	for _, p := range parts {
		n += len(p)
	}
	out := make([]byte, 0, n)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}
