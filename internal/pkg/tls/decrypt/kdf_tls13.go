package decrypt

import (
	"encoding/binary"
	"hash"

	"golang.org/x/crypto/hkdf"

	"github.com/endorses/tlsdissect/internal/pkg/tls/decrypt/ciphers"
	"github.com/endorses/tlsdissect/internal/pkg/tls/suites"
)

// TLS 1.3 Key Derivation
//
// Traffic secrets come from the key log; this file only turns a traffic
// secret into the write key and IV, and steps it forward on KeyUpdate:
//
//	[sender]_write_key = HKDF-Expand-Label(Secret, "key", "", key_length)
//	[sender]_write_iv  = HKDF-Expand-Label(Secret, "iv", "", 12)
//	next_secret        = HKDF-Expand-Label(Secret, "traffic upd", "", Hash.length)

const (
	labelKey           = "key"
	labelIV            = "iv"
	labelTrafficUpdate = "traffic upd"

	// Label prefixes: RFC 8446 and drafts 20 and later, then earlier drafts.
	labelPrefixFinal = "tls13 "
	labelPrefixDraft = "TLS 1.3, "
)

// TLS13IVLen is the TLS 1.3 write IV length.
const TLS13IVLen = 12

// LabelPrefix returns the HKDF label prefix for a TLS 1.3 draft number.
// Zero means the final protocol.
func LabelPrefix(draft int) string {
	if draft > 0 && draft < 20 {
		return labelPrefixDraft
	}
	return labelPrefixFinal
}

// hkdfExpandLabel implements HKDF-Expand-Label as defined in RFC 8446:
//
//	struct {
//	    uint16 length = Length;
//	    opaque label<7..255> = prefix + Label;
//	    opaque context<0..255> = Context;
//	} HkdfLabel;
func hkdfExpandLabel(h func() hash.Hash, secret []byte, prefix, label string, context []byte, length int) []byte {
	fullLabel := prefix + label

	hkdfLabel := make([]byte, 0, 2+1+len(fullLabel)+1+len(context))
	hkdfLabel = binary.BigEndian.AppendUint16(hkdfLabel, uint16(length))
	hkdfLabel = append(hkdfLabel, byte(len(fullLabel)))
	hkdfLabel = append(hkdfLabel, fullLabel...)
	hkdfLabel = append(hkdfLabel, byte(len(context)))
	hkdfLabel = append(hkdfLabel, context...)

	out := make([]byte, length)
	_, _ = hkdf.Expand(h, secret, hkdfLabel).Read(out)
	return out
}

// HKDFExpandLabel exposes HKDF-Expand-Label with the suite hash.
func HKDFExpandLabel(suite *suites.Descriptor, draft int, secret []byte, label string, context []byte, length int) []byte {
	return hkdfExpandLabel(suiteHash(suite), secret, LabelPrefix(draft), label, context, length)
}

// TrafficKeys holds the write key and IV derived from a traffic secret.
type TrafficKeys struct {
	Key []byte
	IV  []byte
}

// DeriveTrafficKeys derives the write key and IV for suite from a traffic
// secret.
func DeriveTrafficKeys(suite *suites.Descriptor, draft int, secret []byte) (*TrafficKeys, error) {
	if !suite.IsTLS13() {
		return nil, keyErr(KindVersionMismatch, "%s is not a TLS 1.3 suite", suite.Name)
	}
	h := suiteHash(suite)
	prefix := LabelPrefix(draft)
	return &TrafficKeys{
		Key: hkdfExpandLabel(h, secret, prefix, labelKey, nil, suite.KeyLen()),
		IV:  hkdfExpandLabel(h, secret, prefix, labelIV, nil, TLS13IVLen),
	}, nil
}

// NextTrafficSecret performs a key update on a traffic secret.
func NextTrafficSecret(suite *suites.Descriptor, draft int, secret []byte) []byte {
	return hkdfExpandLabel(suiteHash(suite), secret, LabelPrefix(draft), labelTrafficUpdate, nil, suite.PRFDigest().Size())
}

func suiteHash(suite *suites.Descriptor) func() hash.Hash {
	return ciphers.HashFunc(suite.PRFDigest())
}

// DraftFromVersion extracts the draft number from a TLS 1.3 draft version
// code (0x7fXX, or Facebook's 0xfb17/0xfb1a). It returns 0 otherwise.
func DraftFromVersion(v uint16) int {
	switch {
	case v>>8 == 0x7f:
		return int(v & 0xff)
	case v == 0xfb17:
		return 23
	case v == 0xfb1a:
		return 26
	}
	return 0
}

// IsTLS13Version reports whether v is TLS 1.3 or one of its drafts.
func IsTLS13Version(v uint16) bool {
	return v == VersionTLS13 || DraftFromVersion(v) > 0
}
