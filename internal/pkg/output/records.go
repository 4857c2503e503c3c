package output

import (
	"encoding/hex"
	"time"

	"github.com/endorses/tlsdissect/internal/pkg/dissect"
	"github.com/endorses/tlsdissect/internal/pkg/tls/decrypt"
	"github.com/endorses/tlsdissect/internal/pkg/tls/suites"
)

// RecordView is the printable form of a dissect.RecordEvent.
type RecordView struct {
	ConnID      string    `json:"conn_id" yaml:"conn_id"`
	Time        time.Time `json:"time" yaml:"time"`
	Transport   string    `json:"transport" yaml:"transport"`
	Source      string    `json:"src" yaml:"src"`
	Destination string    `json:"dst" yaml:"dst"`
	Direction   string    `json:"direction" yaml:"direction"`
	Version     string    `json:"version,omitempty" yaml:"version,omitempty"`
	CipherSuite string    `json:"cipher_suite,omitempty" yaml:"cipher_suite,omitempty"`
	ContentType string    `json:"content_type" yaml:"content_type"`
	Epoch       uint16    `json:"epoch,omitempty" yaml:"epoch,omitempty"`
	Seq         uint64    `json:"seq" yaml:"seq"`
	Status      string    `json:"status" yaml:"status"`
	Replayed    bool      `json:"replayed,omitempty" yaml:"replayed,omitempty"`
	Length      int       `json:"length" yaml:"length"`
	Plaintext   string    `json:"plaintext,omitempty" yaml:"plaintext,omitempty"` // hex
	Error       string    `json:"error,omitempty" yaml:"error,omitempty"`
}

// NewRecordView converts ev. The plaintext is kept only when withPlaintext
// is set.
func NewRecordView(ev dissect.RecordEvent, withPlaintext bool) RecordView {
	flow := ev.Flow
	if ev.Direction == decrypt.DirectionServer {
		flow = flow.Reverse()
	}
	v := RecordView{
		ConnID:      ev.ConnID,
		Time:        ev.Timestamp,
		Transport:   ev.Transport.String(),
		Source:      flow.Src(),
		Destination: flow.Dst(),
		Direction:   ev.Direction.String(),
		Status:      ev.Status().String(),
		Replayed:    ev.Replayed,
	}
	if ev.Version != 0 {
		v.Version = decrypt.VersionName(ev.Version)
	}
	if ev.CipherSuite != 0 {
		v.CipherSuite = suites.Name(ev.CipherSuite)
	}
	if ev.Record != nil {
		v.ContentType = ev.Record.ContentTypeName()
		v.Epoch = ev.Record.Epoch
		v.Seq = ev.Record.Seq
		v.Length = len(ev.Record.Fragment)
	}
	if ev.Result != nil {
		v.ContentType = decrypt.ContentTypeName(ev.Result.ContentType)
		v.Seq = ev.Result.Seq
		if ev.Result.Plaintext != nil {
			v.Length = len(ev.Result.Plaintext)
			if withPlaintext {
				v.Plaintext = hex.EncodeToString(ev.Result.Plaintext)
			}
		}
	}
	if ev.Err != nil {
		v.Error = ev.Err.Error()
	}
	return v
}

// Report is printed once a capture has been read.
type Report struct {
	Capture  dissect.PcapStats    `json:"capture" yaml:"capture"`
	Tracker  dissect.TrackerStats `json:"tracker" yaml:"tracker"`
	Secrets  SecretStats          `json:"secrets" yaml:"secrets"`
	Sessions int                  `json:"sessions" yaml:"sessions"`
}

// SecretStats summarizes the secret cache.
type SecretStats struct {
	Entries    map[string]int `json:"entries" yaml:"entries"`
	Collisions uint64         `json:"collisions" yaml:"collisions"`
	Lookups    uint64         `json:"lookups" yaml:"lookups"`
	Hits       uint64         `json:"hits" yaml:"hits"`
}
