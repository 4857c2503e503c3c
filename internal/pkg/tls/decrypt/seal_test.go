package decrypt

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/klauspost/compress/zlib"
	"github.com/stretchr/testify/require"

	"github.com/endorses/tlsdissect/internal/pkg/tls/decrypt/ciphers"
	"github.com/endorses/tlsdissect/internal/pkg/tls/suites"
)

// sealer is the sending side of a Decoder: it protects records the way a
// peer would, so tests can feed them back through RecordDecryptor.
type sealer struct {
	t       *testing.T
	suite   *suites.Descriptor
	version uint16
	draft   int

	key, iv, macKey []byte
	cipher          ciphers.Cipher
	mac             *ciphers.MAC

	seq     uint64
	epoch   uint16
	etm     bool
	cid     []byte
	cidMode CIDMode

	// chained CBC IV for SSL 3.0 and TLS 1.0
	lastIV []byte

	zbuf *bytes.Buffer
	zw   *zlib.Writer
}

func newSealer(t *testing.T, id, version uint16, key, iv, macKey []byte) *sealer {
	t.Helper()
	suite, ok := suites.LookupForVersion(id, version)
	require.True(t, ok, "suite 0x%04x", id)

	c, err := ciphers.New(suite.Bulk, suite.Mode, key)
	require.NoError(t, err)

	s := &sealer{
		t:       t,
		suite:   suite,
		version: version,
		key:     key,
		iv:      iv,
		macKey:  macKey,
		cipher:  c,
		lastIV:  iv,
	}
	if !suite.Mode.IsAEAD() {
		s.mac = ciphers.NewMAC(suite.Digest, macKey, version == VersionSSL30)
	}
	return s
}

// withDeflate compresses every record with one zlib stream, flushed per
// record.
func (s *sealer) withDeflate() *sealer {
	s.zbuf = &bytes.Buffer{}
	s.zw = zlib.NewWriter(s.zbuf)
	return s
}

// config returns the DecoderConfig of the matching receive side.
func (s *sealer) config() DecoderConfig {
	cfg := DecoderConfig{
		Suite:          s.suite,
		Version:        s.version,
		Key:            s.key,
		IV:             s.iv,
		MACKey:         s.macKey,
		DraftVersion:   s.draft,
		EncryptThenMAC: s.etm,
		Epoch:          s.epoch,
		CIDMode:        s.cidMode,
	}
	if s.zw != nil {
		cfg.Compression = CompressionDeflate
	}
	return cfg
}

func (s *sealer) decoder() *Decoder {
	s.t.Helper()
	d, err := NewDecoder(s.config())
	require.NoError(s.t, err)
	d.Activate()
	return d
}

func (s *sealer) dtls() bool { return IsDTLS(s.version) }

func (s *sealer) macSeq(seq uint64) uint64 {
	if s.dtls() {
		return uint64(s.epoch)<<48 | seq
	}
	return seq
}

// header is the MAC / AAD pseudo-header for a record of the given outer
// type and length.
func (s *sealer) header(ctype uint8, seq uint64, length int) []byte {
	var h []byte
	switch {
	case len(s.cid) > 0 && s.cidMode == CIDRFC9146:
		h = append(h, bytes.Repeat([]byte{0xff}, 8)...)
		h = append(h, ContentTypeTLS12CID, byte(len(s.cid)), ContentTypeTLS12CID)
		h = binary.BigEndian.AppendUint16(h, s.version)
		h = binary.BigEndian.AppendUint16(h, s.epoch)
		var seq48 [8]byte
		binary.BigEndian.PutUint64(seq48[:], seq)
		h = append(h, seq48[2:]...)
		h = append(h, s.cid...)
	case len(s.cid) > 0:
		h = binary.BigEndian.AppendUint64(h, s.macSeq(seq))
		h = append(h, ContentTypeTLS12CID)
		h = binary.BigEndian.AppendUint16(h, s.version)
		h = append(h, s.cid...)
		h = append(h, byte(len(s.cid)))
	case s.version == VersionSSL30:
		h = binary.BigEndian.AppendUint64(h, seq)
		h = append(h, ctype)
	default:
		h = binary.BigEndian.AppendUint64(h, s.macSeq(seq))
		h = append(h, ctype)
		h = binary.BigEndian.AppendUint16(h, s.version)
	}
	return binary.BigEndian.AppendUint16(h, uint16(length))
}

// seal protects one record with the next sequence number.
func (s *sealer) seal(ctype uint8, plaintext []byte) *Record {
	s.t.Helper()
	seq := s.seq
	s.seq++

	if s.zw != nil {
		_, err := s.zw.Write(plaintext)
		require.NoError(s.t, err)
		require.NoError(s.t, s.zw.Flush())
		plaintext = append([]byte(nil), s.zbuf.Bytes()...)
		s.zbuf.Reset()
	}

	rec := &Record{ContentType: ctype, Version: s.version, Epoch: s.epoch, Seq: seq}
	outer := ctype
	if s.suite.IsTLS13() || len(s.cid) > 0 {
		outer = ContentTypeApplicationData
		if len(s.cid) > 0 {
			outer = ContentTypeTLS12CID
			rec.CID = s.cid
		}
		inner := append(append([]byte(nil), plaintext...), ctype, 0, 0)
		plaintext = inner
		rec.ContentType = outer
	}

	var frag []byte
	var err error
	switch s.suite.Mode {
	case suites.ModeStream:
		data := plaintext
		if s.mac != nil {
			data = append(append([]byte(nil), plaintext...), s.mac.Compute(s.header(outer, seq, len(plaintext)), plaintext)...)
		}
		frag, err = s.cipher.Encrypt(data, nil, nil)
		require.NoError(s.t, err)

	case suites.ModeCBC:
		bs := s.suite.BlockSize()
		explicit := s.dtls() || s.version >= VersionTLS11
		iv := s.lastIV
		if explicit {
			iv = bytes.Repeat([]byte{byte(seq + 1)}, bs)
		}
		if s.etm {
			enc, err := s.cipher.Encrypt(ciphers.AddPadding(plaintext, bs), iv, nil)
			require.NoError(s.t, err)
			if explicit {
				frag = append(append([]byte(nil), iv...), enc...)
			} else {
				frag = enc
				s.lastIV = enc[len(enc)-bs:]
			}
			frag = append(frag, s.mac.Compute(s.header(outer, seq, len(frag)), frag)...)
			break
		}
		data := append(append([]byte(nil), plaintext...), s.mac.Compute(s.header(outer, seq, len(plaintext)), plaintext)...)
		enc, err := s.cipher.Encrypt(ciphers.AddPadding(data, bs), iv, nil)
		require.NoError(s.t, err)
		if explicit {
			frag = append(append([]byte(nil), iv...), enc...)
		} else {
			frag = enc
			s.lastIV = enc[len(enc)-bs:]
		}

	default:
		tag := s.suite.TagLen()
		switch {
		case s.suite.IsTLS13():
			aad := []byte{ContentTypeApplicationData, 0x03, 0x03}
			aad = binary.BigEndian.AppendUint16(aad, uint16(len(plaintext)+tag))
			rec.Header = aad
			if s.draft > 0 && s.draft < 25 {
				aad = nil
			}
			rec.Version = VersionTLS12
			frag, err = s.cipher.Encrypt(plaintext, ciphers.XORNonce(s.iv, seq), aad)
		case s.suite.ExplicitNonceLen() > 0:
			explicit := binary.BigEndian.AppendUint64(nil, s.macSeq(seq))
			enc, eerr := s.cipher.Encrypt(plaintext, ciphers.ImplicitNonce(s.iv, explicit), s.header(outer, seq, len(plaintext)))
			err = eerr
			frag = append(explicit, enc...)
		default:
			frag, err = s.cipher.Encrypt(plaintext, ciphers.XORNonce(s.iv, s.macSeq(seq)), s.header(outer, seq, len(plaintext)))
		}
		require.NoError(s.t, err)
	}

	rec.Fragment = frag
	return rec
}

// fill returns n bytes of b.
func fill(n int, b byte) []byte {
	if n == 0 {
		return nil
	}
	return bytes.Repeat([]byte{b}, n)
}
