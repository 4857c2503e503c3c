// Package keylog parses session secret logs (SSLKEYLOGFILE and the
// Wireshark "RSA" extensions to it).
//
// Every line has the shape <label> <key> <secret>. The key identifies the
// session the secret belongs to: a client random for most labels, the first
// eight bytes of the encrypted pre-master secret for "RSA", or the session id
// for "RSA Session-ID:". Recognized lines:
//
//	RSA <16 hex: EPMS prefix> <96 hex: pre-master secret>
//	RSA Session-ID:<hex> Master-Key:<96 hex>
//	PMS_CLIENT_RANDOM <64 hex: client random> <hex: pre-master secret>
//	CLIENT_RANDOM <64 hex: client random> <96 hex: master secret>
//	CLIENT_EARLY_TRAFFIC_SECRET <64 hex> <hex>
//	CLIENT_HANDSHAKE_TRAFFIC_SECRET <64 hex> <hex>
//	SERVER_HANDSHAKE_TRAFFIC_SECRET <64 hex> <hex>
//	CLIENT_TRAFFIC_SECRET_0 <64 hex> <hex>
//	SERVER_TRAFFIC_SECRET_0 <64 hex> <hex>
//	EARLY_EXPORTER_SECRET <64 hex> <hex>
//	EXPORTER_SECRET <64 hex> <hex>
package keylog

import "encoding/hex"

// LabelType represents the type of key log entry.
type LabelType int

const (
	// LabelUnknown indicates an unrecognized label.
	LabelUnknown LabelType = iota

	// LabelRSA maps the first 8 bytes of an RSA-encrypted pre-master secret
	// to the 48-byte pre-master secret.
	LabelRSA

	// LabelRSASessionID maps a session id to its 48-byte master secret.
	LabelRSASessionID

	// LabelPMSClientRandom maps a client random to a pre-master secret.
	LabelPMSClientRandom

	// LabelClientRandom maps a client random to a 48-byte master secret.
	LabelClientRandom

	// TLS 1.3

	LabelClientEarlyTrafficSecret
	LabelClientHandshakeTrafficSecret
	LabelServerHandshakeTrafficSecret
	LabelClientTrafficSecret0
	LabelServerTrafficSecret0
	LabelEarlyExporterSecret
	LabelExporterSecret
)

var labelNames = map[LabelType]string{
	LabelRSA:                          "RSA",
	LabelRSASessionID:                 "RSA_SESSION_ID",
	LabelPMSClientRandom:              "PMS_CLIENT_RANDOM",
	LabelClientRandom:                 "CLIENT_RANDOM",
	LabelClientEarlyTrafficSecret:     "CLIENT_EARLY_TRAFFIC_SECRET",
	LabelClientHandshakeTrafficSecret: "CLIENT_HANDSHAKE_TRAFFIC_SECRET",
	LabelServerHandshakeTrafficSecret: "SERVER_HANDSHAKE_TRAFFIC_SECRET",
	LabelClientTrafficSecret0:         "CLIENT_TRAFFIC_SECRET_0",
	LabelServerTrafficSecret0:         "SERVER_TRAFFIC_SECRET_0",
	LabelEarlyExporterSecret:          "EARLY_EXPORTER_SECRET",
	LabelExporterSecret:               "EXPORTER_SECRET",
}

// String returns the key log label. LabelRSASessionID has no label of its
// own in the file format; it is reported as RSA_SESSION_ID.
func (l LabelType) String() string {
	if name, ok := labelNames[l]; ok {
		return name
	}
	return "UNKNOWN"
}

// IsTLS13 returns true if this label is for TLS 1.3 secrets.
func (l LabelType) IsTLS13() bool {
	return l >= LabelClientEarlyTrafficSecret && l <= LabelExporterSecret
}

// Labels returns every recognized label in declaration order.
func Labels() []LabelType {
	out := make([]LabelType, 0, len(labelNames))
	for l := LabelRSA; l <= LabelExporterSecret; l++ {
		out = append(out, l)
	}
	return out
}

// ParseLabel parses a label token into a LabelType. "RSA" always maps to
// LabelRSA; the session-id form is recognized by the parser from its second
// token.
func ParseLabel(s string) LabelType {
	for l, name := range labelNames {
		if name == s && l != LabelRSASessionID {
			return l
		}
	}
	return LabelUnknown
}

// KeyEntry represents a single entry from a key log file.
type KeyEntry struct {
	// Label identifies the type of secret.
	Label LabelType

	// Key is the lookup key: client random (32 bytes), EPMS prefix (8 bytes)
	// or session id (1-32 bytes) depending on Label.
	Key []byte

	// Secret is the secret value. Master and RSA pre-master secrets are 48
	// bytes; TLS 1.3 secrets are 32 or 48 bytes depending on the suite hash.
	Secret []byte
}

// KeyHex returns the key as a hex string.
func (e *KeyEntry) KeyHex() string {
	return hex.EncodeToString(e.Key)
}

// SecretHex returns the secret as a hex string.
func (e *KeyEntry) SecretHex() string {
	return hex.EncodeToString(e.Secret)
}

// ShortKey returns at most the first 8 key bytes in hex, for log output.
func (e *KeyEntry) ShortKey() string {
	h := e.KeyHex()
	if len(h) > 16 {
		return h[:16] + "..."
	}
	return h
}

// Sink receives parsed entries from a Watcher.
type Sink interface {
	AddEntry(entry *KeyEntry)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(entry *KeyEntry)

// AddEntry calls f(entry).
func (f SinkFunc) AddEntry(entry *KeyEntry) {
	f(entry)
}
