// Package suites describes TLS, DTLS and SSL 3.0 cipher suites.
//
// Every registered suite maps a 16-bit identifier to a Descriptor naming its
// key exchange, bulk cipher, MAC digest and record protection mode. The table
// is immutable and built once at package init; lookups never allocate.
//
// Suites whose bulk cipher has no Go implementation in this module (RC2,
// IDEA, SEED, Camellia, ARIA) are absent; a session negotiating
// one of them cannot be decrypted and is reported as unsupported.
package suites

import "fmt"

// KeyExchange identifies how the pre-master secret is established.
type KeyExchange int

const (
	KexNull KeyExchange = iota
	KexRSA
	KexDH
	KexDHE
	KexDHAnon
	KexECDH
	KexECDHE
	KexECDHAnon
	KexPSK
	KexDHEPSK
	KexRSAPSK
	KexECDHEPSK
	// KexTLS13 marks TLS 1.3 suites, which do not encode the key exchange.
	KexTLS13
)

var kexNames = map[KeyExchange]string{
	KexNull:     "NULL",
	KexRSA:      "RSA",
	KexDH:       "DH",
	KexDHE:      "DHE",
	KexDHAnon:   "DH_anon",
	KexECDH:     "ECDH",
	KexECDHE:    "ECDHE",
	KexECDHAnon: "ECDH_anon",
	KexPSK:      "PSK",
	KexDHEPSK:   "DHE_PSK",
	KexRSAPSK:   "RSA_PSK",
	KexECDHEPSK: "ECDHE_PSK",
	KexTLS13:    "TLS13",
}

// String returns the key exchange name.
func (k KeyExchange) String() string {
	if name, ok := kexNames[k]; ok {
		return name
	}
	return "UNKNOWN"
}

// UsesPSK reports whether the key exchange mixes a pre-shared key into the
// pre-master secret.
func (k KeyExchange) UsesPSK() bool {
	switch k {
	case KexPSK, KexDHEPSK, KexRSAPSK, KexECDHEPSK:
		return true
	default:
		return false
	}
}

// BulkCipher identifies the symmetric cipher.
type BulkCipher int

const (
	BulkNull BulkCipher = iota
	BulkRC4_40
	BulkRC4_56
	BulkRC4_128
	BulkDES40
	BulkDES
	Bulk3DES
	BulkAES128
	BulkAES256
	BulkChaCha20
)

var bulkNames = map[BulkCipher]string{
	BulkNull:     "NULL",
	BulkRC4_40:   "RC4_40",
	BulkRC4_56:   "RC4_56",
	BulkRC4_128:  "RC4_128",
	BulkDES40:    "DES40",
	BulkDES:      "DES",
	Bulk3DES:     "3DES_EDE",
	BulkAES128:   "AES_128",
	BulkAES256:   "AES_256",
	BulkChaCha20: "CHACHA20",
}

// String returns the cipher name.
func (b BulkCipher) String() string {
	if name, ok := bulkNames[b]; ok {
		return name
	}
	return "UNKNOWN"
}

// KeyLen is the number of key bytes taken from the key block. For export
// ciphers this is the short secret before expansion.
func (b BulkCipher) KeyLen() int {
	switch b {
	case BulkRC4_40, BulkDES40:
		return 5
	case BulkRC4_56:
		return 7
	case BulkDES:
		return 8
	case BulkRC4_128, BulkAES128:
		return 16
	case Bulk3DES:
		return 24
	case BulkAES256, BulkChaCha20:
		return 32
	default:
		return 0
	}
}

// ExpandedKeyLen is the key length handed to the cipher implementation.
func (b BulkCipher) ExpandedKeyLen() int {
	switch b {
	case BulkRC4_40, BulkRC4_56:
		return 16
	case BulkDES40:
		return 8
	default:
		return b.KeyLen()
	}
}

// BlockSize returns the cipher block size, or 0 for stream and AEAD ciphers.
func (b BulkCipher) BlockSize() int {
	switch b {
	case BulkDES40, BulkDES, Bulk3DES:
		return 8
	case BulkAES128, BulkAES256:
		return 16
	default:
		return 0
	}
}

// Digest identifies the MAC hash (and, for TLS 1.2, the PRF hash).
type Digest int

const (
	DigestNone Digest = iota
	DigestMD5
	DigestSHA1
	DigestSHA256
	DigestSHA384
)

var digestNames = map[Digest]string{
	DigestNone:   "NULL",
	DigestMD5:    "MD5",
	DigestSHA1:   "SHA",
	DigestSHA256: "SHA256",
	DigestSHA384: "SHA384",
}

// String returns the digest name.
func (d Digest) String() string {
	if name, ok := digestNames[d]; ok {
		return name
	}
	return "UNKNOWN"
}

// Size returns the digest output length in bytes.
func (d Digest) Size() int {
	switch d {
	case DigestMD5:
		return 16
	case DigestSHA1:
		return 20
	case DigestSHA256:
		return 32
	case DigestSHA384:
		return 48
	default:
		return 0
	}
}

// Mode identifies the record protection scheme.
type Mode int

const (
	ModeStream Mode = iota
	ModeCBC
	ModeGCM
	ModeCCM
	ModeCCM8
	ModeChaCha20Poly1305
)

var modeNames = map[Mode]string{
	ModeStream:           "Stream",
	ModeCBC:              "CBC",
	ModeGCM:              "GCM",
	ModeCCM:              "CCM",
	ModeCCM8:             "CCM_8",
	ModeChaCha20Poly1305: "ChaCha20-Poly1305",
}

// String returns the mode name.
func (m Mode) String() string {
	if name, ok := modeNames[m]; ok {
		return name
	}
	return "Unknown"
}

// IsAEAD reports whether the mode authenticates with an AEAD tag.
func (m Mode) IsAEAD() bool {
	switch m {
	case ModeGCM, ModeCCM, ModeCCM8, ModeChaCha20Poly1305:
		return true
	default:
		return false
	}
}

// Descriptor describes one cipher suite.
type Descriptor struct {
	ID     uint16
	Name   string
	Kex    KeyExchange
	Bulk   BulkCipher
	Digest Digest
	Mode   Mode

	// Export marks the historical 40/56-bit suites whose write keys and IVs
	// need an extra derivation step.
	Export bool
}

// String returns the IANA-style suite name and identifier.
func (d *Descriptor) String() string {
	return fmt.Sprintf("%s (0x%04x)", d.Name, d.ID)
}

// IsTLS13 reports whether the suite is a TLS 1.3 suite.
func (d *Descriptor) IsTLS13() bool {
	return d.Kex == KexTLS13
}

// IsNull reports whether the suite leaves records unencrypted.
func (d *Descriptor) IsNull() bool {
	return d.Bulk == BulkNull
}

// KeyLen returns the key block share for one write key.
func (d *Descriptor) KeyLen() int {
	return d.Bulk.KeyLen()
}

// ExpandedKeyLen returns the final write key length.
func (d *Descriptor) ExpandedKeyLen() int {
	return d.Bulk.ExpandedKeyLen()
}

// MACLen returns the MAC key and tag length, 0 for AEAD modes.
func (d *Descriptor) MACLen() int {
	if d.Mode.IsAEAD() {
		return 0
	}
	return d.Digest.Size()
}

// IVLen returns the per-direction IV length taken from the key block. AEAD
// suites carry a 4-byte salt (12 bytes for ChaCha20-Poly1305), CBC suites a
// full block, and export suites derive their IVs from the randoms instead.
func (d *Descriptor) IVLen() int {
	if d.IsTLS13() {
		return 12
	}
	switch d.Mode {
	case ModeGCM, ModeCCM, ModeCCM8:
		return 4
	case ModeChaCha20Poly1305:
		return 12
	case ModeCBC:
		if d.Export {
			return 0
		}
		return d.Bulk.BlockSize()
	default:
		return 0
	}
}

// TagLen returns the AEAD authentication tag length.
func (d *Descriptor) TagLen() int {
	switch d.Mode {
	case ModeGCM, ModeCCM, ModeChaCha20Poly1305:
		return 16
	case ModeCCM8:
		return 8
	default:
		return 0
	}
}

// ExplicitNonceLen returns the per-record explicit nonce carried by pre-1.3
// GCM and CCM records.
func (d *Descriptor) ExplicitNonceLen() int {
	switch d.Mode {
	case ModeGCM, ModeCCM, ModeCCM8:
		if d.IsTLS13() {
			return 0
		}
		return 8
	default:
		return 0
	}
}

// PRFDigest returns the hash used by the TLS 1.2 PRF and by the TLS 1.3
// key schedule: SHA-384 for SHA-384 suites, SHA-256 otherwise.
func (d *Descriptor) PRFDigest() Digest {
	if d.Digest == DigestSHA384 {
		return DigestSHA384
	}
	return DigestSHA256
}

// BlockSize returns the bulk cipher block size, 0 for stream and AEAD modes.
func (d *Descriptor) BlockSize() int {
	if d.Mode != ModeCBC {
		return 0
	}
	return d.Bulk.BlockSize()
}
