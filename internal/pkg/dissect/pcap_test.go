package dissect

import (
	"context"
	"crypto/tls"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/endorses/tlsdissect/internal/pkg/tls/decrypt"
	"github.com/endorses/tlsdissect/internal/pkg/tls/secrets"
)

const maxSegment = 1400

type endpoint struct {
	mac  net.HardwareAddr
	ip   net.IP
	port uint16
	seq  uint32
}

type capturedPacket struct {
	ci   gopacket.CaptureInfo
	data []byte
}

// captureBuilder synthesizes Ethernet/IPv4 packets for a capture file.
type captureBuilder struct {
	t        *testing.T
	ts       time.Time
	packets  []capturedPacket
	segments uint64
}

func newCaptureBuilder(t *testing.T) *captureBuilder {
	return &captureBuilder{t: t, ts: time.Unix(1700000000, 0)}
}

func (b *captureBuilder) serialize(ls ...gopacket.SerializableLayer) {
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	require.NoError(b.t, gopacket.SerializeLayers(buf, opts, ls...))
	data := append([]byte(nil), buf.Bytes()...)
	b.ts = b.ts.Add(time.Millisecond)
	b.packets = append(b.packets, capturedPacket{
		ci:   gopacket.CaptureInfo{Timestamp: b.ts, CaptureLength: len(data), Length: len(data)},
		data: data,
	})
}

func (b *captureBuilder) ipv4(src, dst *endpoint, proto layers.IPProtocol) (*layers.Ethernet, *layers.IPv4) {
	eth := &layers.Ethernet{SrcMAC: src.mac, DstMAC: dst.mac, EthernetType: layers.EthernetTypeIPv4}
	ip := &layers.IPv4{Version: 4, IHL: 5, TTL: 64, Protocol: proto, SrcIP: src.ip, DstIP: dst.ip}
	return eth, ip
}

func (b *captureBuilder) tcp(src, dst *endpoint, syn, ack bool, payload []byte) {
	eth, ip := b.ipv4(src, dst, layers.IPProtocolTCP)
	seg := &layers.TCP{
		SrcPort: layers.TCPPort(src.port),
		DstPort: layers.TCPPort(dst.port),
		Seq:     src.seq,
		Ack:     dst.seq,
		SYN:     syn,
		ACK:     ack,
		PSH:     len(payload) > 0,
		Window:  65535,
	}
	require.NoError(b.t, seg.SetNetworkLayerForChecksum(ip))
	b.serialize(eth, ip, seg, gopacket.Payload(payload))
	b.segments++

	src.seq += uint32(len(payload))
	if syn {
		src.seq++
	}
}

func (b *captureBuilder) udp(src, dst *endpoint, payload []byte) {
	eth, ip := b.ipv4(src, dst, layers.IPProtocolUDP)
	dgram := &layers.UDP{SrcPort: layers.UDPPort(src.port), DstPort: layers.UDPPort(dst.port)}
	require.NoError(b.t, dgram.SetNetworkLayerForChecksum(ip))
	b.serialize(eth, ip, dgram, gopacket.Payload(payload))
}

// tcpConversation writes a three-way handshake followed by chunks.
func (b *captureBuilder) tcpConversation(client, server *endpoint, chunks []chunk) {
	b.tcp(client, server, true, false, nil)
	b.tcp(server, client, true, true, nil)
	b.tcp(client, server, false, true, nil)
	for _, ch := range chunks {
		src, dst := client, server
		if ch.dir == decrypt.DirectionServer {
			src, dst = server, client
		}
		for data := ch.data; len(data) > 0; {
			n := min(len(data), maxSegment)
			b.tcp(src, dst, false, true, data[:n])
			data = data[n:]
		}
	}
}

func (b *captureBuilder) udpConversation(client, server *endpoint, datagrams []datagram) {
	for _, d := range datagrams {
		if d.dir == decrypt.DirectionServer {
			b.udp(server, client, d.data)
		} else {
			b.udp(client, server, d.data)
		}
	}
}

func (b *captureBuilder) writePcap(path string) {
	f, err := os.Create(path)
	require.NoError(b.t, err)
	defer f.Close()

	w := pcapgo.NewWriter(f)
	require.NoError(b.t, w.WriteFileHeader(65535, layers.LinkTypeEthernet))
	for _, p := range b.packets {
		require.NoError(b.t, w.WritePacket(p.ci, p.data))
	}
}

func (b *captureBuilder) writePcapNG(path string) {
	f, err := os.Create(path)
	require.NoError(b.t, err)
	defer f.Close()

	w, err := pcapgo.NewNgWriter(f, layers.LinkTypeEthernet)
	require.NoError(b.t, err)
	for _, p := range b.packets {
		require.NoError(b.t, w.WritePacket(p.ci, p.data))
	}
	require.NoError(b.t, w.Flush())
}

type testCapture struct {
	builder   *captureBuilder
	keyLog    string
	dtlsKey   []byte
	dtlsValue []byte
	datagrams int
}

// buildCapture records a TLS 1.3 exchange over TCP port 443, a DTLS 1.2
// exchange over UDP port 4433 and one unrelated UDP packet.
func buildCapture(t *testing.T) testCapture {
	t.Helper()
	ex := runExchange(t,
		clientConfig(tls.VersionTLS13, tls.VersionTLS13),
		serverConfig(t, tls.VersionTLS13, tls.VersionTLS13))
	datagrams, clientRandom, master := dtlsHandshake(t, nil, nil)

	mac := func(last byte) net.HardwareAddr { return net.HardwareAddr{0x02, 0, 0, 0, 0, last} }
	b := newCaptureBuilder(t)
	b.tcpConversation(
		&endpoint{mac: mac(1), ip: net.IPv4(10, 0, 0, 1).To4(), port: 50000, seq: 1000},
		&endpoint{mac: mac(2), ip: net.IPv4(10, 0, 0, 2).To4(), port: 443, seq: 9000},
		ex.chunks)
	dtlsClient := &endpoint{mac: mac(3), ip: net.IPv4(10, 0, 0, 3).To4(), port: 40000}
	dtlsServer := &endpoint{mac: mac(2), ip: net.IPv4(10, 0, 0, 2).To4(), port: 4433}
	b.udpConversation(dtlsClient, dtlsServer, datagrams)
	b.udp(dtlsClient, &endpoint{mac: mac(4), ip: net.IPv4(10, 0, 0, 53).To4(), port: 53}, []byte("not a dtls record"))

	return testCapture{builder: b, keyLog: ex.keyLog, dtlsKey: clientRandom, dtlsValue: master, datagrams: len(datagrams)}
}

func (c testCapture) tracker(t *testing.T, events *collector) *Tracker {
	cache := secrets.NewCache(secrets.Config{})
	loadKeyLog(t, cache, c.keyLog)
	cache.Insert(secrets.MapClientRandom, c.dtlsKey, c.dtlsValue)
	return NewTracker(newTestEngine(cache), TrackerConfig{OnRecord: events.add})
}

func TestReadPcap(t *testing.T) {
	capture := buildCapture(t)

	formats := []struct {
		name  string
		write func(string)
	}{
		{"pcap", capture.builder.writePcap},
		{"pcapng", capture.builder.writePcapNG},
	}
	for _, format := range formats {
		t.Run(format.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "capture."+format.name)
			format.write(path)

			events := &collector{}
			tracker := capture.tracker(t, events)
			stats, err := ReadPcap(context.Background(), path, tracker, PcapOptions{})
			require.NoError(t, err)

			assert.Equal(t, uint64(len(capture.builder.packets)), stats.Packets)
			assert.Equal(t, capture.builder.segments, stats.TCPSegments)
			assert.Equal(t, uint64(capture.datagrams), stats.DTLSDatagrams)
			assert.Equal(t, uint64(1), stats.Skipped)

			summaries := tracker.Finish()
			require.Len(t, summaries, 2)
			assert.Equal(t, "tcp", summaries[0].Transport)
			assert.Equal(t, "10.0.0.1:50000", summaries[0].Client)
			assert.Equal(t, "10.0.0.2:443", summaries[0].Server)
			assert.Equal(t, "TLS 1.3", summaries[0].Version)
			assert.Equal(t, testServerName, summaries[0].SNI)
			assert.Equal(t, "udp", summaries[1].Transport)
			assert.Equal(t, "DTLS 1.2", summaries[1].Version)

			assert.Empty(t, events.failures())
			client, server := events.appData()
			assert.Equal(t, testRequest+"ping", client)
			assert.Equal(t, testResponse+"pong", server)
		})
	}
}

func TestReadPcap_PortFilter(t *testing.T) {
	capture := buildCapture(t)
	path := filepath.Join(t.TempDir(), "capture.pcap")
	capture.builder.writePcap(path)

	events := &collector{}
	tracker := capture.tracker(t, events)
	stats, err := ReadPcap(context.Background(), path, tracker, PcapOptions{Ports: []uint16{4433}})
	require.NoError(t, err)
	assert.Zero(t, stats.TCPSegments)
	assert.Equal(t, capture.builder.segments+1, stats.Skipped)

	summaries := tracker.Finish()
	require.Len(t, summaries, 1)
	assert.Equal(t, "udp", summaries[0].Transport)
}

func TestReadPcap_Errors(t *testing.T) {
	tracker := NewTracker(newTestEngine(secrets.NewCache(secrets.Config{})), DefaultTrackerConfig())

	t.Run("missing file", func(t *testing.T) {
		_, err := ReadPcap(context.Background(), filepath.Join(t.TempDir(), "nope.pcap"), tracker, PcapOptions{})
		assert.ErrorIs(t, err, os.ErrNotExist)
	})

	t.Run("not a capture", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "keys.txt")
		require.NoError(t, os.WriteFile(path, []byte("CLIENT_RANDOM 00 00\nmore text to fill a header\n"), 0o600))
		_, err := ReadPcap(context.Background(), path, tracker, PcapOptions{})
		assert.ErrorIs(t, err, ErrNotCapture)
	})

	t.Run("cancelled", func(t *testing.T) {
		capture := buildCapture(t)
		path := filepath.Join(t.TempDir(), "capture.pcap")
		capture.builder.writePcap(path)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		stats, err := ReadPcap(ctx, path, tracker, PcapOptions{})
		assert.ErrorIs(t, err, context.Canceled)
		assert.Zero(t, stats.Packets)
	})
}
