package dissect

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/cryptobyte"

	"github.com/endorses/tlsdissect/internal/pkg/tls/decrypt"
	"github.com/endorses/tlsdissect/internal/pkg/tls/secrets"
	"github.com/endorses/tlsdissect/internal/pkg/tls/suites"
)

// dtlsPeer seals DTLS 1.2 AES-GCM records the way a peer would send them.
type dtlsPeer struct {
	aead cipher.AEAD
	salt []byte
	cid  []byte // connection id carried by this peer's records
}

func newDTLSPeer(t *testing.T, key, salt, cid []byte) *dtlsPeer {
	t.Helper()
	block, err := aes.NewCipher(key)
	require.NoError(t, err)
	aead, err := cipher.NewGCM(block)
	require.NoError(t, err)
	return &dtlsPeer{aead: aead, salt: salt, cid: cid}
}

func dtlsRecord(typ uint8, epoch uint16, seq uint64, cid, fragment []byte) []byte {
	b := []byte{typ, 0xfe, 0xfd}
	b = binary.BigEndian.AppendUint16(b, epoch)
	b = append(b, byte(seq>>40), byte(seq>>32), byte(seq>>24), byte(seq>>16), byte(seq>>8), byte(seq))
	b = append(b, cid...)
	b = binary.BigEndian.AppendUint16(b, uint16(len(fragment)))
	return append(b, fragment...)
}

// seal protects plaintext as a tls12_cid record when the peer has a
// connection id.
func (p *dtlsPeer) seal(typ uint8, epoch uint16, seq uint64, plaintext []byte) []byte {
	explicit := binary.BigEndian.AppendUint64(nil, uint64(epoch)<<48|seq)
	nonce := append(append([]byte(nil), p.salt...), explicit...)

	outer := typ
	var aad []byte
	if p.cid != nil {
		outer = decrypt.ContentTypeTLS12CID
		plaintext = append(append(append([]byte(nil), plaintext...), typ), 0, 0)
		aad = []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, outer, byte(len(p.cid)), outer, 0xfe, 0xfd}
		aad = binary.BigEndian.AppendUint16(aad, epoch)
		aad = append(aad, byte(seq>>40), byte(seq>>32), byte(seq>>24), byte(seq>>16), byte(seq>>8), byte(seq))
		aad = append(aad, p.cid...)
	} else {
		aad = binary.BigEndian.AppendUint64(nil, uint64(epoch)<<48|seq)
		aad = append(aad, typ, 0xfe, 0xfd)
	}
	aad = binary.BigEndian.AppendUint16(aad, uint16(len(plaintext)))

	sealed := p.aead.Seal(explicit, nonce, plaintext, aad)
	return dtlsRecord(outer, epoch, seq, p.cid, sealed)
}

func concatBytes(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func connectionIDExtension(cid []byte) func(b *cryptobyte.Builder) {
	if cid == nil {
		return nil
	}
	return func(b *cryptobyte.Builder) {
		extension(b, ExtensionConnectionID, func(b *cryptobyte.Builder) {
			b.AddUint8LengthPrefixed(func(b *cryptobyte.Builder) { b.AddBytes(cid) })
		})
	}
}

type datagram struct {
	dir  decrypt.Direction
	data []byte
}

// dtlsHandshake builds a complete DTLS 1.2 ECDHE AES-128-GCM exchange. The
// returned master secret protects it.
func dtlsHandshake(t *testing.T, clientCID, serverCID []byte) ([]datagram, []byte, []byte) {
	t.Helper()
	const suiteID = 0xC02F
	clientRandom, serverRandom, master := fill(32, 0xc1), fill(32, 0x5e), fill(48, 0x4d)

	suite, ok := suites.LookupForVersion(suiteID, decrypt.VersionDTLS12)
	require.True(t, ok)
	km, err := decrypt.ExpandKeyMaterial(decrypt.VersionDTLS12, suite, master, clientRandom, serverRandom)
	require.NoError(t, err)
	client := newDTLSPeer(t, km.ClientWriteKey, km.ClientWriteIV, serverCID)
	server := newDTLSPeer(t, km.ServerWriteKey, km.ServerWriteIV, clientCID)

	ch := clientHelloBody(helloParams{
		version: decrypt.VersionDTLS12,
		random:  clientRandom,
		dtls:    true,
		suites:  []uint16{suiteID},
		exts:    connectionIDExtension(clientCID),
	})
	sh := serverHelloBody(helloParams{
		version: decrypt.VersionDTLS12,
		random:  serverRandom,
		suites:  []uint16{suiteID},
		exts:    connectionIDExtension(serverCID),
	})
	cke := []byte{4, 1, 2, 3, 4}
	finished := fill(12, 0xf1)

	datagrams := []datagram{
		{decrypt.DirectionClient, dtlsRecord(decrypt.ContentTypeHandshake, 0, 0, nil,
			dtlsFragment(HandshakeTypeClientHello, 0, ch, 0, len(ch)))},
		{decrypt.DirectionServer, concatBytes(
			dtlsRecord(decrypt.ContentTypeHandshake, 0, 0, nil, dtlsFragment(HandshakeTypeServerHello, 0, sh, 0, len(sh))),
			dtlsRecord(decrypt.ContentTypeHandshake, 0, 1, nil, dtlsFragment(HandshakeTypeServerHelloDone, 1, nil, 0, 0)))},
		{decrypt.DirectionClient, concatBytes(
			dtlsRecord(decrypt.ContentTypeHandshake, 0, 1, nil, dtlsFragment(HandshakeTypeClientKeyExchange, 1, cke, 0, len(cke))),
			dtlsRecord(decrypt.ContentTypeChangeCipherSpec, 0, 2, nil, []byte{1}),
			client.seal(decrypt.ContentTypeHandshake, 1, 0, dtlsFragment(HandshakeTypeFinished, 2, finished, 0, len(finished))))},
		{decrypt.DirectionServer, concatBytes(
			dtlsRecord(decrypt.ContentTypeChangeCipherSpec, 0, 2, nil, []byte{1}),
			server.seal(decrypt.ContentTypeHandshake, 1, 0, dtlsFragment(HandshakeTypeFinished, 2, finished, 0, len(finished))))},
		{decrypt.DirectionClient, client.seal(decrypt.ContentTypeApplicationData, 1, 1, []byte("ping"))},
		// the server's flight is retransmitted
		{decrypt.DirectionServer, concatBytes(
			dtlsRecord(decrypt.ContentTypeChangeCipherSpec, 0, 3, nil, []byte{1}),
			server.seal(decrypt.ContentTypeHandshake, 1, 1, dtlsFragment(HandshakeTypeFinished, 2, finished, 0, len(finished))))},
		{decrypt.DirectionServer, server.seal(decrypt.ContentTypeApplicationData, 1, 2, []byte("pong"))},
	}
	return datagrams, clientRandom, master
}

func TestConn_DTLS12(t *testing.T) {
	tests := []struct {
		name      string
		clientCID []byte
		serverCID []byte
		wantMode  decrypt.CIDMode
	}{
		{"without connection id", nil, nil, decrypt.CIDNone},
		{"RFC 9146 connection id", []byte{0xc1, 0xd0}, []byte{0x5e, 0xd0, 0x01}, decrypt.CIDRFC9146},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			datagrams, clientRandom, master := dtlsHandshake(t, tt.clientCID, tt.serverCID)

			cache := secrets.NewCache(secrets.Config{})
			cache.Insert(secrets.MapClientRandom, clientRandom, master)

			events := &collector{}
			c := NewConn(newTestEngine(cache), testFlow, TransportUDP, events.add)
			ts := time.Unix(1700000000, 0)
			for i, d := range datagrams {
				c.HandleDatagram(d.dir, d.data, ts.Add(time.Duration(i)*time.Millisecond))
			}
			c.Flush()

			assert.Empty(t, events.failures())
			client, server := events.appData()
			assert.Equal(t, "ping", client)
			assert.Equal(t, "pong", server)

			assert.Equal(t, tt.wantMode, c.Session.CIDMode)
			assert.Equal(t, uint16(1), c.Session.Epoch(decrypt.DirectionClient))
			assert.Equal(t, uint16(1), c.Session.Epoch(decrypt.DirectionServer), "retransmitted ChangeCipherSpec is ignored")

			sum := c.Summary()
			assert.Equal(t, "udp", sum.Transport)
			assert.Equal(t, "DTLS 1.2", sum.Version)
			assert.Equal(t, "TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256", sum.CipherSuite)
		})
	}
}

func TestConn_DTLSWithoutKeys(t *testing.T) {
	datagrams, _, _ := dtlsHandshake(t, nil, nil)

	events := &collector{}
	c := NewConn(newTestEngine(secrets.NewCache(secrets.Config{})), testFlow, TransportUDP, events.add)
	for _, d := range datagrams {
		c.HandleDatagram(d.dir, d.data, time.Now())
	}
	dropped := c.Flush()
	assert.Equal(t, 5, dropped, "both Finished, the retransmission and the application data")
	for _, ev := range events.failures() {
		assert.Equal(t, decrypt.StatusMissingKeys, ev.Status())
	}
}

func TestLooksLikeDTLS(t *testing.T) {
	hello := dtlsRecord(decrypt.ContentTypeHandshake, 0, 0, nil, []byte{1, 2, 3})
	assert.True(t, LooksLikeDTLS(hello))
	assert.False(t, LooksLikeDTLS(hello[:10]))
	assert.False(t, LooksLikeDTLS(append([]byte{0x16, 0x03, 0x03}, hello[3:]...)), "TLS version")
	assert.False(t, LooksLikeDTLS(append([]byte{0x30}, hello[1:]...)), "content type")
}
