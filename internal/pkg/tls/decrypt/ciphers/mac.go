package ciphers

import (
	"bytes"
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"hash"

	"github.com/endorses/tlsdissect/internal/pkg/tls/suites"
)

// MAC computes record MACs for stream and CBC suites: HMAC for TLS and DTLS,
// the keyed-hash construction of RFC 6101 section 5.2.3.1 for SSL 3.0.
type MAC struct {
	newHash func() hash.Hash
	key     []byte
	size    int
	ssl3    bool
}

// NewMAC creates a MAC. It returns nil for DigestNone: NULL suites carry no
// MAC and callers skip verification entirely.
func NewMAC(digest suites.Digest, key []byte, ssl3 bool) *MAC {
	h := HashFunc(digest)
	if h == nil {
		return nil
	}
	return &MAC{
		newHash: h,
		key:     append([]byte(nil), key...),
		size:    digest.Size(),
		ssl3:    ssl3,
	}
}

// HashFunc maps a digest to its hash constructor, nil for DigestNone.
func HashFunc(digest suites.Digest) func() hash.Hash {
	switch digest {
	case suites.DigestMD5:
		return md5.New
	case suites.DigestSHA1:
		return sha1.New
	case suites.DigestSHA256:
		return sha256.New
	case suites.DigestSHA384:
		return sha512.New384
	default:
		return nil
	}
}

// Size returns the MAC length.
func (m *MAC) Size() int {
	return m.size
}

// Compute returns the MAC over header followed by data. The caller supplies
// the pseudo-header (sequence number, type, version, length, and for DTLS
// connection IDs the extended layout).
func (m *MAC) Compute(header, data []byte) []byte {
	if m.ssl3 {
		return m.ssl3MAC(header, data)
	}
	mac := hmac.New(m.newHash, m.key)
	mac.Write(header)
	mac.Write(data)
	return mac.Sum(nil)
}

// Verify compares the expected MAC with tag in constant time.
func (m *MAC) Verify(header, data, tag []byte) bool {
	return subtle.ConstantTimeCompare(m.Compute(header, data), tag) == 1
}

// ssl3MAC is hash(key || pad2 || hash(key || pad1 || header || data)) with
// 48 pad bytes for MD5 and 40 for SHA-1.
func (m *MAC) ssl3MAC(header, data []byte) []byte {
	padLen := 40
	if m.size == md5.Size {
		padLen = 48
	}

	inner := m.newHash()
	inner.Write(m.key)
	inner.Write(bytes.Repeat([]byte{0x36}, padLen))
	inner.Write(header)
	inner.Write(data)

	outer := m.newHash()
	outer.Write(m.key)
	outer.Write(bytes.Repeat([]byte{0x5c}, padLen))
	outer.Write(inner.Sum(nil))
	return outer.Sum(nil)
}
