package dissect

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"os"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/google/gopacket/tcpassembly"

	"github.com/endorses/tlsdissect/internal/pkg/logger"
	"github.com/endorses/tlsdissect/internal/pkg/tls/decrypt"
)

// ErrNotCapture indicates a file that is neither pcap nor pcapng.
var ErrNotCapture = errors.New("not a pcap or pcapng file")

// PcapOptions configures ReadPcap.
type PcapOptions struct {
	// Ports restricts TLS reassembly and DTLS detection to packets with one
	// of these ports on either side. Empty means every port.
	Ports []uint16
}

func (o PcapOptions) match(src, dst uint16) bool {
	if len(o.Ports) == 0 {
		return true
	}
	for _, p := range o.Ports {
		if p == src || p == dst {
			return true
		}
	}
	return false
}

// PcapStats counts what ReadPcap saw.
type PcapStats struct {
	Packets       uint64 `json:"packets" yaml:"packets"`
	TCPSegments   uint64 `json:"tcp_segments" yaml:"tcp_segments"`
	DTLSDatagrams uint64 `json:"dtls_datagrams" yaml:"dtls_datagrams"`
	Skipped       uint64 `json:"skipped" yaml:"skipped"`
}

type captureReader interface {
	gopacket.PacketDataSource
	LinkType() layers.LinkType
}

// ReadPcap feeds every TLS and DTLS packet of a pcap or pcapng file to
// tracker. TCP streams are reassembled first. It stops early when ctx is
// cancelled. The tracker is not finished.
func ReadPcap(ctx context.Context, path string, tracker *Tracker, opts PcapOptions) (PcapStats, error) {
	var stats PcapStats

	file, err := os.Open(path)
	if err != nil {
		return stats, err
	}
	defer func() {
		if cerr := file.Close(); cerr != nil {
			logger.Error("failed to close capture file", "error", cerr)
		}
	}()

	reader, err := openCapture(file)
	if err != nil {
		return stats, fmt.Errorf("%s: %w", path, err)
	}

	source := gopacket.NewPacketSource(reader, reader.LinkType())
	source.DecodeOptions = gopacket.DecodeOptions{Lazy: true, NoCopy: true}

	assembler := tcpassembly.NewAssembler(tcpassembly.NewStreamPool(&streamFactory{tracker: tracker}))
	defer assembler.FlushAll()

	logger.Info("reading capture",
		"file", path,
		"link_type", reader.LinkType().String())

	for {
		select {
		case <-ctx.Done():
			return stats, ctx.Err()
		default:
		}

		packet, err := source.NextPacket()
		if errors.Is(err, io.EOF) {
			return stats, nil
		}
		if err != nil {
			return stats, fmt.Errorf("%s: %w", path, err)
		}
		stats.Packets++
		handlePacket(packet, assembler, tracker, opts, &stats)
	}
}

// openCapture detects the file format from its header.
func openCapture(file *os.File) (captureReader, error) {
	r, err := pcapgo.NewReader(file)
	if err == nil {
		return r, nil
	}
	if _, serr := file.Seek(0, io.SeekStart); serr != nil {
		return nil, serr
	}
	ng, ngErr := pcapgo.NewNgReader(file, pcapgo.DefaultNgReaderOptions)
	if ngErr != nil {
		return nil, fmt.Errorf("%w: %v; %v", ErrNotCapture, err, ngErr)
	}
	return ng, nil
}

func handlePacket(packet gopacket.Packet, assembler *tcpassembly.Assembler, tracker *Tracker, opts PcapOptions, stats *PcapStats) {
	network := packet.NetworkLayer()
	if network == nil {
		stats.Skipped++
		return
	}
	var srcIP, dstIP net.IP
	switch ip := network.(type) {
	case *layers.IPv4:
		srcIP, dstIP = ip.SrcIP, ip.DstIP
	case *layers.IPv6:
		srcIP, dstIP = ip.SrcIP, ip.DstIP
	default:
		stats.Skipped++
		return
	}
	ts := packet.Metadata().Timestamp

	switch transport := packet.TransportLayer().(type) {
	case *layers.TCP:
		if !opts.match(uint16(transport.SrcPort), uint16(transport.DstPort)) {
			stats.Skipped++
			return
		}
		stats.TCPSegments++
		assembler.AssembleWithTimestamp(network.NetworkFlow(), transport, ts)
	case *layers.UDP:
		if !opts.match(uint16(transport.SrcPort), uint16(transport.DstPort)) || !LooksLikeDTLS(transport.Payload) {
			stats.Skipped++
			return
		}
		stats.DTLSDatagrams++
		flow := Flow{
			SrcIP:   append(net.IP(nil), srcIP...),
			DstIP:   append(net.IP(nil), dstIP...),
			SrcPort: uint16(transport.SrcPort),
			DstPort: uint16(transport.DstPort),
		}
		tracker.HandleUDP(flow, transport.Payload, ts)
	default:
		stats.Skipped++
	}
}

// LooksLikeDTLS reports whether a UDP payload starts with a DTLS record
// header.
func LooksLikeDTLS(payload []byte) bool {
	if len(payload) < decrypt.DTLSRecordHeaderSize {
		return false
	}
	if payload[0] < decrypt.ContentTypeChangeCipherSpec || payload[0] > decrypt.ContentTypeTLS12CID {
		return false
	}
	return decrypt.IsDTLS(binary.BigEndian.Uint16(payload[1:3]))
}

// streamFactory creates a tlsStream for each TCP direction.
type streamFactory struct {
	tracker *Tracker
}

// New implements tcpassembly.StreamFactory.
func (f *streamFactory) New(netFlow, tcpFlow gopacket.Flow) tcpassembly.Stream {
	src, dst := netFlow.Endpoints()
	srcPort, dstPort := tcpFlow.Endpoints()
	return &tlsStream{
		tracker: f.tracker,
		flow: Flow{
			SrcIP:   append(net.IP(nil), src.Raw()...),
			DstIP:   append(net.IP(nil), dst.Raw()...),
			SrcPort: binary.BigEndian.Uint16(srcPort.Raw()),
			DstPort: binary.BigEndian.Uint16(dstPort.Raw()),
		},
	}
}

// tlsStream hands the reassembled bytes of one TCP direction to the tracker.
type tlsStream struct {
	tracker *Tracker
	flow    Flow
}

// Reassembled implements tcpassembly.Stream.
func (s *tlsStream) Reassembled(reassemblies []tcpassembly.Reassembly) {
	for _, r := range reassemblies {
		if r.Skip > 0 {
			s.tracker.ResetStream(s.flow)
		}
		if len(r.Bytes) == 0 {
			continue
		}
		s.tracker.HandleTCP(s.flow, r.Bytes, r.Seen)
	}
}

// ReassemblyComplete implements tcpassembly.Stream.
func (s *tlsStream) ReassemblyComplete() {}
