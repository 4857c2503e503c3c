// Package dissect follows TLS and DTLS connections in captured traffic. It
// reassembles records and handshake messages, feeds the handshake scalars to
// a decrypt.SessionState and drives the decrypt.Engine through the cipher
// changes of each connection.
package dissect

import (
	"fmt"
	"net"
)

// Transport is the protocol carrying a connection.
type Transport int

const (
	// TransportTCP carries TLS (and SSL 3.0) records.
	TransportTCP Transport = iota
	// TransportUDP carries DTLS records.
	TransportUDP
)

func (t Transport) String() string {
	if t == TransportUDP {
		return "udp"
	}
	return "tcp"
}

// Flow identifies one direction of a transport connection.
type Flow struct {
	SrcIP   net.IP
	DstIP   net.IP
	SrcPort uint16
	DstPort uint16
}

// Key returns the flow key of f.
func (f Flow) Key() string {
	return FlowKey(f.SrcIP, f.DstIP, f.SrcPort, f.DstPort)
}

// Reverse returns the opposite direction of f.
func (f Flow) Reverse() Flow {
	return Flow{SrcIP: f.DstIP, DstIP: f.SrcIP, SrcPort: f.DstPort, DstPort: f.SrcPort}
}

// Src returns the source endpoint as host:port.
func (f Flow) Src() string {
	return net.JoinHostPort(f.SrcIP.String(), fmt.Sprint(f.SrcPort))
}

// Dst returns the destination endpoint as host:port.
func (f Flow) Dst() string {
	return net.JoinHostPort(f.DstIP.String(), fmt.Sprint(f.DstPort))
}

func (f Flow) String() string {
	return f.Key()
}

// FlowKey generates the key of the flow from src to dst.
func FlowKey(srcIP, dstIP net.IP, srcPort, dstPort uint16) string {
	return fmt.Sprintf("%s:%d-%s:%d", srcIP, srcPort, dstIP, dstPort)
}

// ReverseFlowKey generates the key of the flow from dst to src.
func ReverseFlowKey(srcIP, dstIP net.IP, srcPort, dstPort uint16) string {
	return FlowKey(dstIP, srcIP, dstPort, srcPort)
}
