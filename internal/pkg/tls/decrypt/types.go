// Package decrypt reconstructs the record protection keys of observed TLS,
// DTLS and SSL 3.0 sessions and decrypts their records.
//
// This package implements:
//   - master secret derivation for SSL 3.0, TLS 1.0/1.1 and TLS 1.2 (prf.go)
//   - TLS 1.3 traffic key derivation with HKDF-Expand-Label (kdf_tls13.go)
//   - a KeyScheduler that resolves secrets from a secrets.Cache, an RSA
//     keyring or a pre-shared key
//   - per-direction Decoders and the RecordDecryptor that applies the
//     stream, CBC or AEAD record framing for the negotiated version
//   - SessionState, which collects handshake scalars, and the Engine glue
//     that installs decoders at cipher change points and re-runs records
//     queued while secrets were missing (RetryPending)
package decrypt

import (
	"errors"
	"fmt"
)

// Record content types
const (
	ContentTypeChangeCipherSpec = 20
	ContentTypeAlert            = 21
	ContentTypeHandshake        = 22
	ContentTypeApplicationData  = 23
	ContentTypeHeartbeat        = 24
	ContentTypeTLS12CID         = 25
)

// Protocol versions
const (
	VersionSSL30 uint16 = 0x0300
	VersionTLS10 uint16 = 0x0301
	VersionTLS11 uint16 = 0x0302
	VersionTLS12 uint16 = 0x0303
	VersionTLS13 uint16 = 0x0304

	VersionDTLS10        uint16 = 0xfeff
	VersionDTLS12        uint16 = 0xfefd
	VersionDTLS10OpenSSL uint16 = 0x0100
)

// Record header sizes
const (
	RecordHeaderSize     = 5
	DTLSRecordHeaderSize = 13
)

// Maximum record fragment size (2^14 plus expansion allowance).
const MaxRecordSize = 16384 + 2048

// IsDTLS reports whether version is a DTLS version.
func IsDTLS(version uint16) bool {
	switch version {
	case VersionDTLS10, VersionDTLS12, VersionDTLS10OpenSSL:
		return true
	}
	return false
}

// VersionName returns a human-readable protocol version name.
func VersionName(version uint16) string {
	switch version {
	case VersionSSL30:
		return "SSL 3.0"
	case VersionTLS10:
		return "TLS 1.0"
	case VersionTLS11:
		return "TLS 1.1"
	case VersionTLS12:
		return "TLS 1.2"
	case VersionTLS13:
		return "TLS 1.3"
	case VersionDTLS10, VersionDTLS10OpenSSL:
		return "DTLS 1.0"
	case VersionDTLS12:
		return "DTLS 1.2"
	}
	if version>>8 == 0x7f {
		return fmt.Sprintf("TLS 1.3 draft %d", version&0xff)
	}
	return fmt.Sprintf("0x%04x", version)
}

// ContentTypeName returns a human-readable content type name.
func ContentTypeName(ct uint8) string {
	switch ct {
	case ContentTypeChangeCipherSpec:
		return "ChangeCipherSpec"
	case ContentTypeAlert:
		return "Alert"
	case ContentTypeHandshake:
		return "Handshake"
	case ContentTypeApplicationData:
		return "ApplicationData"
	case ContentTypeHeartbeat:
		return "Heartbeat"
	case ContentTypeTLS12CID:
		return "TLS12CID"
	default:
		return "Unknown"
	}
}

// Direction indicates the direction of traffic.
type Direction int

const (
	// DirectionClient indicates client-to-server traffic.
	DirectionClient Direction = iota
	// DirectionServer indicates server-to-client traffic.
	DirectionServer
)

// String returns the direction as a string.
func (d Direction) String() string {
	if d == DirectionClient {
		return "client"
	}
	return "server"
}

// Peer returns the opposite direction.
func (d Direction) Peer() Direction {
	if d == DirectionClient {
		return DirectionServer
	}
	return DirectionClient
}

// Errors
var (
	// ErrInvalidRecord indicates a malformed record header.
	ErrInvalidRecord = errors.New("invalid TLS record")

	// ErrRecordTooLarge indicates a record exceeding the maximum size.
	ErrRecordTooLarge = errors.New("TLS record too large")

	// ErrInsufficientData indicates not enough data to parse.
	ErrInsufficientData = errors.New("insufficient data")

	// ErrUnknownCipherSuite indicates the suite is not in the registry.
	ErrUnknownCipherSuite = errors.New("unknown cipher suite")

	// ErrMissingSecret indicates no secret material resolves the session.
	ErrMissingSecret = errors.New("missing secret")

	// ErrVersionMismatch indicates a TLS 1.3 derivation on a classic
	// session or the reverse.
	ErrVersionMismatch = errors.New("key schedule does not match protocol version")

	// ErrNotActive indicates a decoder that has not been activated.
	ErrNotActive = errors.New("decoder not active")

	// ErrSuperseded indicates a decoder replaced by a newer one.
	ErrSuperseded = errors.New("decoder superseded")

	// ErrBadMAC indicates MAC or padding verification failure.
	ErrBadMAC = errors.New("bad record MAC")

	// ErrAuthFailed indicates AEAD tag verification failure.
	ErrAuthFailed = errors.New("authentication failed")

	// ErrMissingKeys indicates no decoder is available for the record.
	ErrMissingKeys = errors.New("no decryption keys available")

	// ErrUnsupportedCipher indicates the suite cannot be decrypted.
	ErrUnsupportedCipher = errors.New("unsupported cipher")

	// ErrMalformed indicates a record too short for its protection mode.
	ErrMalformed = errors.New("malformed record")

	// ErrDecompress indicates decompression failure.
	ErrDecompress = errors.New("decompression failed")
)

// KeyErrorKind classifies key derivation failures.
type KeyErrorKind int

const (
	KindUnknownCipherSuite KeyErrorKind = iota + 1
	KindMissingSecret
	KindVersionMismatch
)

func (k KeyErrorKind) String() string {
	switch k {
	case KindUnknownCipherSuite:
		return "UnknownCipherSuite"
	case KindMissingSecret:
		return "MissingSecret"
	case KindVersionMismatch:
		return "Tls13VersionMismatch"
	default:
		return "Unknown"
	}
}

// KeyError reports why key material for a session or direction could not be
// derived. It never invalidates other directions or sessions.
type KeyError struct {
	Kind   KeyErrorKind
	Detail string
}

func (e *KeyError) Error() string {
	if e.Detail == "" {
		return e.Unwrap().Error()
	}
	return e.Unwrap().Error() + ": " + e.Detail
}

// Unwrap returns the sentinel matching Kind.
func (e *KeyError) Unwrap() error {
	switch e.Kind {
	case KindUnknownCipherSuite:
		return ErrUnknownCipherSuite
	case KindMissingSecret:
		return ErrMissingSecret
	case KindVersionMismatch:
		return ErrVersionMismatch
	default:
		return errors.New("key error")
	}
}

func keyErr(kind KeyErrorKind, format string, args ...any) *KeyError {
	return &KeyError{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// Status is the outcome of decrypting one record.
type Status int

const (
	StatusOK Status = iota
	StatusBadMAC
	StatusAuthFailed
	StatusMissingKeys
	StatusUnsupportedCipher
	StatusMalformed
	StatusDecompressFailed
)

var statusNames = map[Status]string{
	StatusOK:                "ok",
	StatusBadMAC:            "bad_mac",
	StatusAuthFailed:        "auth_failed",
	StatusMissingKeys:       "missing_keys",
	StatusUnsupportedCipher: "unsupported_cipher",
	StatusMalformed:         "malformed",
	StatusDecompressFailed:  "decompress_failed",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "unknown"
}

// Statuses returns every status in declaration order.
func Statuses() []Status {
	return []Status{StatusOK, StatusBadMAC, StatusAuthFailed, StatusMissingKeys,
		StatusUnsupportedCipher, StatusMalformed, StatusDecompressFailed}
}

// DecryptError is returned for a record that could not be decrypted. It
// concerns that record only.
type DecryptError struct {
	Status Status
	Err    error
}

func (e *DecryptError) Error() string {
	return fmt.Sprintf("%s: %v", e.Status, e.Err)
}

func (e *DecryptError) Unwrap() error {
	return e.Err
}

func decryptErr(status Status, sentinel error, format string, args ...any) *DecryptError {
	err := sentinel
	if format != "" {
		err = fmt.Errorf("%w: %s", sentinel, fmt.Sprintf(format, args...))
	}
	return &DecryptError{Status: status, Err: err}
}

// StatusOf extracts the record status from an error returned by Decrypt.
func StatusOf(err error) Status {
	if err == nil {
		return StatusOK
	}
	var de *DecryptError
	if errors.As(err, &de) {
		return de.Status
	}
	var ke *KeyError
	if errors.As(err, &ke) {
		if ke.Kind == KindUnknownCipherSuite {
			return StatusUnsupportedCipher
		}
		return StatusMissingKeys
	}
	return StatusMalformed
}

// Record is one protocol record as seen on the wire.
type Record struct {
	ContentType uint8
	Version     uint16

	// Epoch and Seq are the explicit DTLS fields; Seq is 48 bits.
	Epoch uint16
	Seq   uint64

	// CID is the DTLS connection id carried by tls12_cid records.
	CID []byte

	// Header is the raw record header.
	Header []byte

	// Fragment is the protected payload.
	Fragment []byte
}

// ContentTypeName returns a human-readable content type name.
func (r *Record) ContentTypeName() string {
	return ContentTypeName(r.ContentType)
}

// Result is the outcome of Decrypt for one record.
type Result struct {
	Status Status

	// Plaintext is the decrypted (and decompressed) content. It is nil
	// for failures except BadMAC under Options.IgnoreMAC and MissingKeys
	// from a NULL cipher decoder without secrets, whose MAC was not checked.
	Plaintext []byte

	// ContentType is the real content type: the record type, or the inner
	// type for TLS 1.3 and tls12_cid records.
	ContentType uint8

	// Seq is the sequence number used for the record.
	Seq uint64
}
