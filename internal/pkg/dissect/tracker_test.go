package dissect

import (
	"crypto/tls"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/endorses/tlsdissect/internal/pkg/tls/decrypt"
	"github.com/endorses/tlsdissect/internal/pkg/tls/secrets"
)

// tlsRecord frames a TLS 1.2 record.
func tlsRecord(typ uint8, fragment []byte) []byte {
	b := []byte{typ, 0x03, 0x03, byte(len(fragment) >> 8), byte(len(fragment))}
	return append(b, fragment...)
}

func flowFor(dir decrypt.Direction, client Flow) Flow {
	if dir == decrypt.DirectionServer {
		return client.Reverse()
	}
	return client
}

func TestTracker_RetriesWhenSecretsArrive(t *testing.T) {
	ex := runExchange(t,
		clientConfig(tls.VersionTLS12, tls.VersionTLS12),
		serverConfig(t, tls.VersionTLS12, tls.VersionTLS12))
	require.Greater(t, len(ex.chunks), 2)

	var tracker *Tracker
	cache := secrets.NewCache(secrets.Config{
		OnInsert: func(secrets.MapID, []byte, secrets.InsertResult) { tracker.Notify() },
	})
	events := &collector{}
	var sessions []SessionSummary
	tracker = NewTracker(newTestEngine(cache), TrackerConfig{
		OnRecord:  events.add,
		OnSession: func(s SessionSummary) { sessions = append(sessions, s) },
	})

	ts := time.Unix(1700000000, 0)
	last := len(ex.chunks) - 1
	for i, ch := range ex.chunks[:last] {
		tracker.HandleTCP(flowFor(ch.dir, testFlow), ch.data, ts.Add(time.Duration(i)*time.Millisecond))
	}
	conn, dir, ok := tracker.Lookup(testFlow.Reverse())
	require.True(t, ok)
	assert.Equal(t, decrypt.DirectionServer, dir)
	assert.Equal(t, testFlow, conn.Flow)
	pending := conn.Session.PendingLen()
	assert.Positive(t, pending)

	// the next packet replays what waited for the key log
	loadKeyLog(t, cache, ex.keyLog)
	ch := ex.chunks[last]
	tracker.HandleTCP(flowFor(ch.dir, testFlow), ch.data, ts.Add(time.Second))
	assert.Zero(t, conn.Session.PendingLen())

	stats := tracker.Stats()
	assert.Equal(t, 1, stats.ActiveConnections)
	assert.Equal(t, uint64(1), stats.TotalConnections)
	assert.Equal(t, uint64(1), stats.Retries)
	assert.Equal(t, uint64(pending), stats.Replayed)

	summaries := tracker.Finish()
	require.Len(t, summaries, 1)
	assert.Equal(t, summaries, sessions)
	assert.Equal(t, 0, tracker.Stats().ActiveConnections)

	assert.Empty(t, events.failures())
	client, server := events.appData()
	assert.Equal(t, testRequest, client)
	assert.Equal(t, testResponse, server)
}

func TestTracker_ServerSpeaksFirst(t *testing.T) {
	tracker := NewTracker(newTestEngine(secrets.NewCache(secrets.Config{})), DefaultTrackerConfig())

	sh := serverHelloBody(helloParams{version: decrypt.VersionTLS12, random: fill(32, 2), suites: []uint16{0xc02f}})
	tracker.HandleTCP(testFlow.Reverse(), tlsRecord(decrypt.ContentTypeHandshake, tlsMessage(HandshakeTypeServerHello, sh)), time.Now())

	conn, dir, ok := tracker.Lookup(testFlow)
	require.True(t, ok)
	assert.Equal(t, decrypt.DirectionClient, dir)
	assert.Equal(t, testFlow, conn.Flow, "the receiver of the ServerHello is the client")
	require.NotNil(t, conn.ServerHello)
	assert.Equal(t, uint16(0xc02f), conn.Session.CipherSuite)
}

func TestTracker_EvictsOldest(t *testing.T) {
	var sessions []SessionSummary
	tracker := NewTracker(newTestEngine(secrets.NewCache(secrets.Config{})), TrackerConfig{
		MaxConnections: 1,
		OnSession:      func(s SessionSummary) { sessions = append(sessions, s) },
	})

	ch := clientHelloBody(helloParams{version: decrypt.VersionTLS12, random: fill(32, 1), suites: []uint16{0xc02f}})
	hello := tlsRecord(decrypt.ContentTypeHandshake, tlsMessage(HandshakeTypeClientHello, ch))

	other := testFlow
	other.SrcPort = 50001
	tracker.HandleTCP(testFlow, hello, time.Unix(100, 0))
	tracker.HandleTCP(other, hello, time.Unix(200, 0))

	stats := tracker.Stats()
	assert.Equal(t, 1, stats.ActiveConnections)
	assert.Equal(t, uint64(2), stats.TotalConnections)
	assert.Equal(t, uint64(1), stats.Evicted)
	require.Len(t, sessions, 1)
	assert.Equal(t, "10.0.0.1:50000", sessions[0].Client)

	_, _, ok := tracker.Lookup(testFlow)
	assert.False(t, ok)
	_, _, ok = tracker.Lookup(other)
	assert.True(t, ok)
}

func TestTracker_UDP(t *testing.T) {
	datagrams, clientRandom, master := dtlsHandshake(t, []byte{1}, []byte{2, 2})
	cache := secrets.NewCache(secrets.Config{})
	cache.Insert(secrets.MapClientRandom, clientRandom, master)

	events := &collector{}
	tracker := NewTracker(newTestEngine(cache), TrackerConfig{OnRecord: events.add})
	flow := Flow{SrcIP: net.IPv4(10, 0, 0, 3).To4(), DstIP: net.IPv4(10, 0, 0, 2).To4(), SrcPort: 40000, DstPort: 4433}
	for i, d := range datagrams {
		tracker.HandleUDP(flowFor(d.dir, flow), d.data, time.Unix(int64(i), 0))
	}

	summaries := tracker.Finish()
	require.Len(t, summaries, 1)
	assert.Equal(t, "udp", summaries[0].Transport)
	assert.Equal(t, "10.0.0.3:40000", summaries[0].Client)
	assert.Empty(t, events.failures())
	client, server := events.appData()
	assert.Equal(t, "ping", client)
	assert.Equal(t, "pong", server)
}

func TestSentByServer(t *testing.T) {
	sh := tlsRecord(decrypt.ContentTypeHandshake, []byte{HandshakeTypeServerHello, 0, 0, 0})
	ch := tlsRecord(decrypt.ContentTypeHandshake, []byte{HandshakeTypeClientHello, 0, 0, 0})
	hvr := dtlsRecord(decrypt.ContentTypeHandshake, 0, 0, nil, []byte{HandshakeTypeHelloVerifyRequest})

	tests := []struct {
		name      string
		payload   []byte
		transport Transport
		want      bool
	}{
		{"ServerHello", sh, TransportTCP, true},
		{"ClientHello", ch, TransportTCP, false},
		{"HelloVerifyRequest", hvr, TransportUDP, true},
		{"application data", tlsRecord(decrypt.ContentTypeApplicationData, []byte{2}), TransportTCP, false},
		{"header only", sh[:5], TransportTCP, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, sentByServer(tt.payload, tt.transport))
		})
	}
}
