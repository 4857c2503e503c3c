package decrypt

import (
	"fmt"

	"github.com/endorses/tlsdissect/internal/pkg/tls/decrypt/ciphers"
	"github.com/endorses/tlsdissect/internal/pkg/tls/suites"
)

// DecoderState is the lifecycle state of a Decoder.
type DecoderState int

const (
	// StateUninitialized decoders hold keys but are not in use yet (for
	// example pending until ChangeCipherSpec).
	StateUninitialized DecoderState = iota
	// StateActive decoders decrypt records.
	StateActive
	// StateSuperseded decoders were replaced by renegotiation or KeyUpdate
	// and never advance again.
	StateSuperseded
)

func (s DecoderState) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateActive:
		return "active"
	case StateSuperseded:
		return "superseded"
	default:
		return "unknown"
	}
}

// Stage identifies which keys protect a direction.
type Stage int

const (
	// StageCleartext means no cipher change has happened yet.
	StageCleartext Stage = iota
	// StageClassic is the pre-1.3 state after ChangeCipherSpec.
	StageClassic
	// StageEarlyData is TLS 1.3 0-RTT data (client only).
	StageEarlyData
	// StageHandshake is the TLS 1.3 encrypted handshake.
	StageHandshake
	// StageApplication is TLS 1.3 application traffic.
	StageApplication
)

func (s Stage) String() string {
	switch s {
	case StageCleartext:
		return "cleartext"
	case StageClassic:
		return "classic"
	case StageEarlyData:
		return "early_data"
	case StageHandshake:
		return "handshake"
	case StageApplication:
		return "application"
	default:
		return "unknown"
	}
}

// CIDMode selects the DTLS 1.2 connection id encoding.
type CIDMode int

const (
	CIDNone CIDMode = iota
	// CIDDraft is draft-ietf-tls-dtls-connection-id (extension 53).
	CIDDraft
	// CIDRFC9146 is the standard encoding (extension 54).
	CIDRFC9146
)

// Compression methods
const (
	CompressionNull    uint8 = 0
	CompressionDeflate uint8 = 1
)

// DecoderConfig carries everything needed to build a Decoder.
type DecoderConfig struct {
	Suite   *suites.Descriptor
	Version uint16

	Key    []byte
	IV     []byte
	MACKey []byte

	// Secret is the TLS 1.3 traffic secret, kept for KeyUpdate.
	Secret       []byte
	DraftVersion int
	Stage        Stage

	Compression    uint8
	EncryptThenMAC bool

	Epoch   uint16
	CIDMode CIDMode

	// Unverified builds a NULL cipher decoder without keys: the MAC
	// trailer is stripped but not checked.
	Unverified bool
}

// Decoder is the receive state of one direction: cipher context, MAC key or
// write IV, sequence number and decompression state.
//
// For AEAD suites seq always equals the number of records that passed
// authentication; it is the nonce input and must not move on failures.
type Decoder struct {
	suite   *suites.Descriptor
	version uint16
	dtls    bool
	ssl3    bool
	tls13   bool
	draft   int
	stage   Stage

	cipher ciphers.Cipher
	mac    *ciphers.MAC
	iv     []byte
	secret []byte

	seq   uint64
	epoch uint16
	gen   int

	etm        bool
	cidMode    CIDMode
	unverified bool

	compression uint8
	inflater    *inflater

	state DecoderState
}

// NewDecoder builds an uninitialized decoder.
func NewDecoder(cfg DecoderConfig) (*Decoder, error) {
	if cfg.Suite == nil {
		return nil, keyErr(KindUnknownCipherSuite, "no cipher suite")
	}
	if cfg.Unverified && !cfg.Suite.IsNull() {
		return nil, keyErr(KindMissingSecret, "%s needs keys", cfg.Suite.Name)
	}

	c, err := ciphers.New(cfg.Suite.Bulk, cfg.Suite.Mode, cfg.Key)
	if err != nil {
		return nil, &DecryptError{Status: StatusUnsupportedCipher, Err: fmt.Errorf("%w: %v", ErrUnsupportedCipher, err)}
	}

	d := &Decoder{
		suite:       cfg.Suite,
		version:     cfg.Version,
		dtls:        IsDTLS(cfg.Version),
		ssl3:        cfg.Version == VersionSSL30,
		tls13:       cfg.Suite.IsTLS13(),
		draft:       cfg.DraftVersion,
		stage:       cfg.Stage,
		cipher:      c,
		iv:          append([]byte(nil), cfg.IV...),
		secret:      append([]byte(nil), cfg.Secret...),
		epoch:       cfg.Epoch,
		etm:         cfg.EncryptThenMAC && cfg.Suite.Mode == suites.ModeCBC,
		cidMode:     cfg.CIDMode,
		compression: cfg.Compression,
	}
	if cfg.Unverified {
		d.unverified = true
	} else if !cfg.Suite.Mode.IsAEAD() {
		d.mac = ciphers.NewMAC(cfg.Suite.Digest, cfg.MACKey, d.ssl3)
	}
	if cfg.Compression == CompressionDeflate {
		d.inflater = newInflater()
	}
	if d.stage == StageCleartext {
		d.stage = StageClassic
		if d.tls13 {
			d.stage = StageApplication
		}
	}
	return d, nil
}

// Suite returns the negotiated suite descriptor.
func (d *Decoder) Suite() *suites.Descriptor { return d.suite }

// Seq returns the next expected sequence number.
func (d *Decoder) Seq() uint64 { return d.seq }

// Epoch returns the DTLS epoch of the decoder.
func (d *Decoder) Epoch() uint16 { return d.epoch }

// State returns the lifecycle state.
func (d *Decoder) State() DecoderState { return d.state }

// Stage returns the stage the decoder was built for.
func (d *Decoder) Stage() Stage { return d.stage }

// Version returns the protocol version the decoder frames records for.
func (d *Decoder) Version() uint16 { return d.version }

// Unverified reports whether the decoder passes NULL cipher records through
// without checking their MAC.
func (d *Decoder) Unverified() bool { return d.unverified }

// Activate moves an uninitialized decoder to active.
func (d *Decoder) Activate() {
	if d.state == StateUninitialized {
		d.state = StateActive
	}
}

// Supersede retires the decoder.
func (d *Decoder) Supersede() {
	d.state = StateSuperseded
}

// Skip advances the sequence number past n records that were never seen.
func (d *Decoder) Skip(n int) {
	if n > 0 && d.state != StateSuperseded {
		d.seq += uint64(n)
	}
}

// KeyUpdate returns the decoder for the next TLS 1.3 traffic secret and
// supersedes d. The new decoder starts at sequence number 0.
func (d *Decoder) KeyUpdate() (*Decoder, error) {
	if !d.tls13 || len(d.secret) == 0 {
		return nil, keyErr(KindVersionMismatch, "key update on a decoder without traffic secret")
	}
	next := NextTrafficSecret(d.suite, d.draft, d.secret)
	keys, err := DeriveTrafficKeys(d.suite, d.draft, next)
	if err != nil {
		return nil, err
	}
	nd, err := NewDecoder(DecoderConfig{
		Suite:        d.suite,
		Version:      d.version,
		Key:          keys.Key,
		IV:           keys.IV,
		Secret:       next,
		DraftVersion: d.draft,
		Stage:        d.stage,
		Compression:  d.compression,
	})
	if err != nil {
		return nil, err
	}
	nd.gen = d.gen
	nd.epoch = d.epoch
	d.Supersede()
	nd.Activate()
	return nd, nil
}

// explicitIV reports whether CBC records carry their IV.
func (d *Decoder) explicitIV() bool {
	return d.dtls || d.version >= VersionTLS11
}
