package dissect

import (
	"bytes"
	"errors"
	"fmt"

	"golang.org/x/crypto/cryptobyte"

	"github.com/endorses/tlsdissect/internal/pkg/tls/decrypt"
	"github.com/endorses/tlsdissect/internal/pkg/tls/suites"
)

// Handshake message types
const (
	HandshakeTypeHelloRequest        = 0
	HandshakeTypeClientHello         = 1
	HandshakeTypeServerHello         = 2
	HandshakeTypeHelloVerifyRequest  = 3
	HandshakeTypeNewSessionTicket    = 4
	HandshakeTypeEndOfEarlyData      = 5
	HandshakeTypeEncryptedExtensions = 8
	HandshakeTypeCertificate         = 11
	HandshakeTypeServerKeyExchange   = 12
	HandshakeTypeCertificateRequest  = 13
	HandshakeTypeServerHelloDone     = 14
	HandshakeTypeCertificateVerify   = 15
	HandshakeTypeClientKeyExchange   = 16
	HandshakeTypeFinished            = 20
	HandshakeTypeKeyUpdate           = 24
)

// Extension types
const (
	ExtensionSNI                  = 0
	ExtensionSupportedGroups      = 10
	ExtensionECPointFormats       = 11
	ExtensionSignatureAlgos       = 13
	ExtensionALPN                 = 16
	ExtensionEncryptThenMAC       = 22
	ExtensionExtendedMasterSecret = 23
	ExtensionSessionTicket        = 35
	ExtensionEarlyData            = 42
	ExtensionSupportedVersions    = 43
	ExtensionConnectionIDDraft    = 53
	ExtensionConnectionID         = 54

	sniTypeHostname = 0
)

const (
	tlsHandshakeHeaderLen  = 4
	dtlsHandshakeHeaderLen = 12

	// maxHandshakeMessage bounds a reassembled handshake message.
	maxHandshakeMessage = 1 << 20
)

var (
	// ErrTruncated indicates a handshake message shorter than its fields.
	ErrTruncated = errors.New("truncated handshake message")

	// ErrHandshakeTooLarge indicates a handshake message over the size limit.
	ErrHandshakeTooLarge = errors.New("handshake message too large")
)

// helloRetryRandom is the ServerHello random that marks a HelloRetryRequest.
var helloRetryRandom = []byte{
	0xcf, 0x21, 0xad, 0x74, 0xe5, 0x9a, 0x61, 0x11, 0xbe, 0x1d, 0x8c, 0x02, 0x1e, 0x65, 0xb8, 0x91,
	0xc2, 0xa2, 0x11, 0x16, 0x7a, 0xbb, 0x8c, 0x5e, 0x07, 0x9e, 0x09, 0xe2, 0xc8, 0xa8, 0x33, 0x9c,
}

// HandshakeMessage is one reassembled handshake message.
type HandshakeMessage struct {
	Type uint8

	// Seq is the DTLS message_seq.
	Seq uint16

	// Body is the message without its header.
	Body []byte

	// Raw is the message as it enters the handshake transcript. A DTLS
	// message is described as a single fragment.
	Raw []byte
}

// ClientHello holds the ClientHello fields the decryption and the
// fingerprints need.
type ClientHello struct {
	Version            uint16
	Random             []byte
	SessionID          []byte
	Cookie             []byte
	CipherSuites       []uint16
	CompressionMethods []uint8

	Extensions        []uint16
	SNI               string
	SupportedGroups   []uint16
	ECPointFormats    []uint8
	SignatureAlgos    []uint16
	ALPNProtocols     []string
	SupportedVersions []uint16

	// SessionTicket is the ticket offered for resumption; HasSessionTicket
	// is set for an empty session_ticket extension too.
	SessionTicket    []byte
	HasSessionTicket bool

	EarlyData            bool
	ExtendedMasterSecret bool
	EncryptThenMAC       bool

	// ConnectionID is the DTLS connection id the client asks to receive,
	// CIDExtension the extension (53 or 54) that carried it.
	ConnectionID []byte
	CIDExtension uint16
}

// OffersTLS13 reports whether the client offered TLS 1.3 or one of its
// drafts.
func (ch *ClientHello) OffersTLS13() bool {
	for _, v := range ch.SupportedVersions {
		if decrypt.IsTLS13Version(v) {
			return true
		}
	}
	return false
}

// ServerHello holds the negotiated parameters.
type ServerHello struct {
	Version     uint16
	Random      []byte
	SessionID   []byte
	CipherSuite uint16
	Compression uint8
	Extensions  []uint16

	// SelectedVersion is the supported_versions choice, 0 when absent.
	SelectedVersion uint16

	ExtendedMasterSecret bool
	EncryptThenMAC       bool

	ConnectionID []byte
	CIDExtension uint16

	HelloRetryRequest bool
}

// NegotiatedVersion returns the protocol version of the connection.
func (sh *ServerHello) NegotiatedVersion() uint16 {
	if sh.SelectedVersion != 0 {
		return sh.SelectedVersion
	}
	return sh.Version
}

// ParseClientHello parses a ClientHello body. DTLS hellos carry a cookie
// after the session id.
func ParseClientHello(body []byte, dtls bool) (*ClientHello, error) {
	s := cryptobyte.String(body)
	ch := &ClientHello{}

	var sessionID cryptobyte.String
	if !s.ReadUint16(&ch.Version) || !s.ReadBytes(&ch.Random, 32) || !s.ReadUint8LengthPrefixed(&sessionID) {
		return nil, fmt.Errorf("%w: client hello header", ErrTruncated)
	}
	ch.SessionID = sessionID
	if dtls {
		var cookie cryptobyte.String
		if !s.ReadUint8LengthPrefixed(&cookie) {
			return nil, fmt.Errorf("%w: cookie", ErrTruncated)
		}
		ch.Cookie = cookie
	}

	var cipherSuites cryptobyte.String
	if !s.ReadUint16LengthPrefixed(&cipherSuites) {
		return nil, fmt.Errorf("%w: cipher suites", ErrTruncated)
	}
	for !cipherSuites.Empty() {
		var id uint16
		if !cipherSuites.ReadUint16(&id) {
			return nil, fmt.Errorf("%w: cipher suites", ErrTruncated)
		}
		ch.CipherSuites = append(ch.CipherSuites, id)
	}

	var compression cryptobyte.String
	if !s.ReadUint8LengthPrefixed(&compression) {
		return nil, fmt.Errorf("%w: compression methods", ErrTruncated)
	}
	ch.CompressionMethods = compression

	// SSL 3.0 hellos may end here
	if s.Empty() {
		return ch, nil
	}
	var exts cryptobyte.String
	if !s.ReadUint16LengthPrefixed(&exts) {
		return nil, fmt.Errorf("%w: extensions", ErrTruncated)
	}
	err := forEachExtension(exts, func(typ uint16, data cryptobyte.String) {
		ch.Extensions = append(ch.Extensions, typ)
		switch typ {
		case ExtensionSNI:
			ch.SNI = parseSNI(data)
		case ExtensionSupportedGroups:
			ch.SupportedGroups = parseUint16List(data)
		case ExtensionECPointFormats:
			var formats cryptobyte.String
			if data.ReadUint8LengthPrefixed(&formats) {
				ch.ECPointFormats = formats
			}
		case ExtensionSignatureAlgos:
			ch.SignatureAlgos = parseUint16List(data)
		case ExtensionALPN:
			ch.ALPNProtocols = parseALPN(data)
		case ExtensionEncryptThenMAC:
			ch.EncryptThenMAC = true
		case ExtensionExtendedMasterSecret:
			ch.ExtendedMasterSecret = true
		case ExtensionSessionTicket:
			ch.HasSessionTicket = true
			ch.SessionTicket = data
		case ExtensionEarlyData:
			ch.EarlyData = true
		case ExtensionSupportedVersions:
			var list cryptobyte.String
			if data.ReadUint8LengthPrefixed(&list) {
				for !list.Empty() {
					var v uint16
					if !list.ReadUint16(&v) {
						break
					}
					ch.SupportedVersions = append(ch.SupportedVersions, v)
				}
			}
		case ExtensionConnectionIDDraft, ExtensionConnectionID:
			var cid cryptobyte.String
			if data.ReadUint8LengthPrefixed(&cid) {
				ch.ConnectionID = cid
				ch.CIDExtension = typ
			}
		}
	})
	if err != nil {
		return nil, err
	}
	return ch, nil
}

// ParseServerHello parses a ServerHello body, HelloRetryRequest included.
func ParseServerHello(body []byte) (*ServerHello, error) {
	s := cryptobyte.String(body)
	sh := &ServerHello{}

	if !s.ReadUint16(&sh.Version) || !s.ReadBytes(&sh.Random, 32) {
		return nil, fmt.Errorf("%w: server hello header", ErrTruncated)
	}
	sh.HelloRetryRequest = bytes.Equal(sh.Random, helloRetryRandom)

	// TLS 1.3 drafts before 22 dropped the session id and compression
	if draft := decrypt.DraftFromVersion(sh.Version); draft > 0 && draft < 22 {
		if !s.ReadUint16(&sh.CipherSuite) {
			return nil, fmt.Errorf("%w: cipher suite", ErrTruncated)
		}
	} else {
		var sessionID cryptobyte.String
		if !s.ReadUint8LengthPrefixed(&sessionID) || !s.ReadUint16(&sh.CipherSuite) || !s.ReadUint8(&sh.Compression) {
			return nil, fmt.Errorf("%w: server hello parameters", ErrTruncated)
		}
		sh.SessionID = sessionID
	}

	if s.Empty() {
		return sh, nil
	}
	var exts cryptobyte.String
	if !s.ReadUint16LengthPrefixed(&exts) {
		return nil, fmt.Errorf("%w: extensions", ErrTruncated)
	}
	err := forEachExtension(exts, func(typ uint16, data cryptobyte.String) {
		sh.Extensions = append(sh.Extensions, typ)
		switch typ {
		case ExtensionSupportedVersions:
			data.ReadUint16(&sh.SelectedVersion)
		case ExtensionEncryptThenMAC:
			sh.EncryptThenMAC = true
		case ExtensionExtendedMasterSecret:
			sh.ExtendedMasterSecret = true
		case ExtensionConnectionIDDraft, ExtensionConnectionID:
			var cid cryptobyte.String
			if data.ReadUint8LengthPrefixed(&cid) {
				sh.ConnectionID = cid
				sh.CIDExtension = typ
			}
		}
	})
	if err != nil {
		return nil, err
	}
	return sh, nil
}

// ParseEncryptedExtensions returns the extension types of a TLS 1.3
// EncryptedExtensions message.
func ParseEncryptedExtensions(body []byte) ([]uint16, error) {
	s := cryptobyte.String(body)
	var exts cryptobyte.String
	if !s.ReadUint16LengthPrefixed(&exts) {
		return nil, fmt.Errorf("%w: encrypted extensions", ErrTruncated)
	}
	var types []uint16
	err := forEachExtension(exts, func(typ uint16, _ cryptobyte.String) {
		types = append(types, typ)
	})
	return types, err
}

// ParseCertificates returns the DER certificates of a TLS 1.2 (or older)
// Certificate message, leaf first.
func ParseCertificates(body []byte) ([][]byte, error) {
	s := cryptobyte.String(body)
	var list cryptobyte.String
	if !s.ReadUint24LengthPrefixed(&list) {
		return nil, fmt.Errorf("%w: certificate list", ErrTruncated)
	}
	var certs [][]byte
	for !list.Empty() {
		var cert cryptobyte.String
		if !list.ReadUint24LengthPrefixed(&cert) {
			return certs, fmt.Errorf("%w: certificate", ErrTruncated)
		}
		certs = append(certs, cert)
	}
	return certs, nil
}

// ParseNewSessionTicket returns the ticket of a TLS 1.2 (or older)
// NewSessionTicket message.
func ParseNewSessionTicket(body []byte) ([]byte, error) {
	s := cryptobyte.String(body)
	var lifetime uint32
	var ticket cryptobyte.String
	if !s.ReadUint32(&lifetime) || !s.ReadUint16LengthPrefixed(&ticket) {
		return nil, fmt.Errorf("%w: session ticket", ErrTruncated)
	}
	return ticket, nil
}

// ParseClientKeyExchange extracts the RSA-encrypted pre-master secret and
// the PSK identity of a ClientKeyExchange body. Key exchanges without either
// return nils.
func ParseClientKeyExchange(body []byte, kex suites.KeyExchange, version uint16) (epms, identity []byte, err error) {
	s := cryptobyte.String(body)
	switch kex {
	case suites.KexRSA:
		// SSL 3.0 omits the length prefix
		if version == decrypt.VersionSSL30 {
			return body, nil, nil
		}
		var enc cryptobyte.String
		if s.ReadUint16LengthPrefixed(&enc) && s.Empty() {
			return enc, nil, nil
		}
		return body, nil, nil
	case suites.KexRSAPSK:
		var id, enc cryptobyte.String
		if !s.ReadUint16LengthPrefixed(&id) || !s.ReadUint16LengthPrefixed(&enc) {
			return nil, nil, fmt.Errorf("%w: RSA_PSK client key exchange", ErrTruncated)
		}
		return enc, id, nil
	case suites.KexPSK, suites.KexDHEPSK, suites.KexECDHEPSK:
		var id cryptobyte.String
		if !s.ReadUint16LengthPrefixed(&id) {
			return nil, nil, fmt.Errorf("%w: PSK identity", ErrTruncated)
		}
		return nil, id, nil
	}
	return nil, nil, nil
}

func forEachExtension(exts cryptobyte.String, fn func(typ uint16, data cryptobyte.String)) error {
	for !exts.Empty() {
		var typ uint16
		var data cryptobyte.String
		if !exts.ReadUint16(&typ) || !exts.ReadUint16LengthPrefixed(&data) {
			return fmt.Errorf("%w: extension", ErrTruncated)
		}
		fn(typ, data)
	}
	return nil
}

// parseSNI returns the first host_name of a server_name extension.
func parseSNI(data cryptobyte.String) string {
	var list cryptobyte.String
	if !data.ReadUint16LengthPrefixed(&list) {
		return ""
	}
	for !list.Empty() {
		var nameType uint8
		var name cryptobyte.String
		if !list.ReadUint8(&nameType) || !list.ReadUint16LengthPrefixed(&name) {
			return ""
		}
		if nameType == sniTypeHostname {
			return string(name)
		}
	}
	return ""
}

func parseUint16List(data cryptobyte.String) []uint16 {
	var list cryptobyte.String
	if !data.ReadUint16LengthPrefixed(&list) {
		return nil
	}
	var out []uint16
	for !list.Empty() {
		var v uint16
		if !list.ReadUint16(&v) {
			break
		}
		out = append(out, v)
	}
	return out
}

func parseALPN(data cryptobyte.String) []string {
	var list cryptobyte.String
	if !data.ReadUint16LengthPrefixed(&list) {
		return nil
	}
	var protocols []string
	for !list.Empty() {
		var proto cryptobyte.String
		if !list.ReadUint8LengthPrefixed(&proto) {
			break
		}
		protocols = append(protocols, string(proto))
	}
	return protocols
}

// HandshakeTypeName returns a human-readable name for the handshake type.
func HandshakeTypeName(t uint8) string {
	switch t {
	case HandshakeTypeHelloRequest:
		return "HelloRequest"
	case HandshakeTypeClientHello:
		return "ClientHello"
	case HandshakeTypeServerHello:
		return "ServerHello"
	case HandshakeTypeHelloVerifyRequest:
		return "HelloVerifyRequest"
	case HandshakeTypeNewSessionTicket:
		return "NewSessionTicket"
	case HandshakeTypeEndOfEarlyData:
		return "EndOfEarlyData"
	case HandshakeTypeEncryptedExtensions:
		return "EncryptedExtensions"
	case HandshakeTypeCertificate:
		return "Certificate"
	case HandshakeTypeServerKeyExchange:
		return "ServerKeyExchange"
	case HandshakeTypeCertificateRequest:
		return "CertificateRequest"
	case HandshakeTypeServerHelloDone:
		return "ServerHelloDone"
	case HandshakeTypeCertificateVerify:
		return "CertificateVerify"
	case HandshakeTypeClientKeyExchange:
		return "ClientKeyExchange"
	case HandshakeTypeFinished:
		return "Finished"
	case HandshakeTypeKeyUpdate:
		return "KeyUpdate"
	default:
		return fmt.Sprintf("Unknown(%d)", t)
	}
}

// handshakeReader reassembles the handshake messages of one direction from
// decrypted handshake records.
type handshakeReader struct {
	dtls bool
	buf  []byte

	// DTLS: fragments are accepted in order only, retransmissions dropped
	nextSeq uint16
	started bool
	partial *HandshakeMessage
	length  int
}

func newHandshakeReader(dtls bool) *handshakeReader {
	return &handshakeReader{dtls: dtls}
}

// Add consumes the plaintext of one handshake record and returns the
// messages it completes. On error the reader is reset.
func (r *handshakeReader) Add(data []byte) ([]*HandshakeMessage, error) {
	var (
		msgs []*HandshakeMessage
		err  error
	)
	if r.dtls {
		msgs, err = r.addDTLS(data)
	} else {
		msgs, err = r.addTLS(data)
	}
	if err != nil {
		r.Reset()
	}
	return msgs, err
}

// Reset drops any partial message.
func (r *handshakeReader) Reset() {
	r.buf = nil
	r.partial = nil
	r.length = 0
}

// Buffered returns the bytes of the incomplete message.
func (r *handshakeReader) Buffered() int {
	if r.partial != nil {
		return len(r.partial.Body)
	}
	return len(r.buf)
}

func (r *handshakeReader) addTLS(data []byte) ([]*HandshakeMessage, error) {
	r.buf = append(r.buf, data...)
	var msgs []*HandshakeMessage
	for len(r.buf) >= tlsHandshakeHeaderLen {
		n := int(r.buf[1])<<16 | int(r.buf[2])<<8 | int(r.buf[3])
		if n > maxHandshakeMessage {
			return msgs, fmt.Errorf("%w: %s of %d bytes", ErrHandshakeTooLarge, HandshakeTypeName(r.buf[0]), n)
		}
		if len(r.buf) < tlsHandshakeHeaderLen+n {
			break
		}
		raw := append([]byte(nil), r.buf[:tlsHandshakeHeaderLen+n]...)
		msgs = append(msgs, &HandshakeMessage{Type: raw[0], Body: raw[tlsHandshakeHeaderLen:], Raw: raw})
		r.buf = r.buf[tlsHandshakeHeaderLen+n:]
	}
	if len(r.buf) == 0 {
		r.buf = nil
	}
	return msgs, nil
}

//	type(1) length(3) message_seq(2) fragment_offset(3) fragment_length(3)
func (r *handshakeReader) addDTLS(data []byte) ([]*HandshakeMessage, error) {
	var msgs []*HandshakeMessage
	for len(data) > 0 {
		if len(data) < dtlsHandshakeHeaderLen {
			return msgs, fmt.Errorf("%w: DTLS handshake header", ErrTruncated)
		}
		typ := data[0]
		length := uint24(data[1:4])
		seq := uint16(data[4])<<8 | uint16(data[5])
		offset := uint24(data[6:9])
		fragLen := uint24(data[9:12])
		if len(data) < dtlsHandshakeHeaderLen+fragLen {
			return msgs, fmt.Errorf("%w: DTLS handshake fragment", ErrTruncated)
		}
		if length > maxHandshakeMessage {
			return msgs, fmt.Errorf("%w: %s of %d bytes", ErrHandshakeTooLarge, HandshakeTypeName(typ), length)
		}
		if offset+fragLen > length {
			return msgs, fmt.Errorf("%w: fragment %d+%d beyond %d", ErrTruncated, offset, fragLen, length)
		}
		frag := data[dtlsHandshakeHeaderLen : dtlsHandshakeHeaderLen+fragLen]
		data = data[dtlsHandshakeHeaderLen+fragLen:]

		if r.started && seq < r.nextSeq {
			continue
		}
		if offset == 0 && (r.partial == nil || r.partial.Seq != seq) {
			r.partial = &HandshakeMessage{Type: typ, Seq: seq, Body: make([]byte, 0, length)}
			r.length = length
		}
		p := r.partial
		if p == nil || p.Seq != seq || offset != len(p.Body) {
			continue
		}
		p.Body = append(p.Body, frag...)
		if len(p.Body) < r.length {
			continue
		}

		raw := make([]byte, dtlsHandshakeHeaderLen, dtlsHandshakeHeaderLen+len(p.Body))
		raw[0] = p.Type
		putUint24(raw[1:4], len(p.Body))
		raw[4], raw[5] = byte(seq>>8), byte(seq)
		putUint24(raw[9:12], len(p.Body))
		raw = append(raw, p.Body...)
		p.Raw = raw
		p.Body = raw[dtlsHandshakeHeaderLen:]
		msgs = append(msgs, p)

		r.partial = nil
		r.nextSeq = seq + 1
		r.started = true
	}
	return msgs, nil
}

func uint24(b []byte) int {
	return int(b[0])<<16 | int(b[1])<<8 | int(b[2])
}

func putUint24(b []byte, v int) {
	b[0], b[1], b[2] = byte(v>>16), byte(v>>8), byte(v)
}
