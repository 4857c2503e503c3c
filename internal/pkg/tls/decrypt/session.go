package decrypt

import (
	"fmt"
)

// DefaultPendingLimit bounds the records a session buffers while waiting for
// secrets.
const DefaultPendingLimit = 256

// PendingRecord is a record that arrived before its keys.
type PendingRecord struct {
	Dir    Direction
	Stage  Stage
	Gen    int
	Record *Record

	// Skipped counts records dropped because the queue was full. Such
	// placeholder entries have no Record.
	Skipped int

	// Context is handed back unchanged to the RetryPending handler.
	Context any
}

// SessionState collects what the handshake observer learns about one
// connection and owns the decoders of both directions.
//
// It is not safe for concurrent use; records of a connection are fed in
// capture order by a single goroutine.
type SessionState struct {
	Version      uint16
	CipherSuite  uint16
	Compression  uint8
	DraftVersion int

	ClientRandom    [32]byte
	ServerRandom    [32]byte
	HasClientRandom bool
	HasServerRandom bool

	SessionID     []byte
	SessionTicket []byte

	// MasterSecret is the classic master secret once known.
	MasterSecret []byte

	ExtendedMasterSecret bool
	EncryptThenMAC       bool

	// EncryptedPreMaster is the RSA ClientKeyExchange payload without its
	// length prefix, ServerKeyID the key id of the server certificate.
	EncryptedPreMaster []byte
	ServerKeyID        []byte

	// DTLS connection ids. ClientCID is the id the client asked to receive
	// (carried by server records), ServerCID the one the server asked for.
	CIDMode   CIDMode
	ClientCID []byte
	ServerCID []byte

	// PendingLimit bounds the pending queue; 0 means DefaultPendingLimit.
	PendingLimit int

	transcript    []byte
	sessionHashAt int

	decoders     [2]*Decoder
	pending      [2]*Decoder
	pendingReady bool
	stage        [2]Stage
	gen          [2]int
	epoch        [2]uint16

	queue  []PendingRecord
	queued int
}

// NewSessionState creates an empty session.
func NewSessionState() *SessionState {
	return &SessionState{sessionHashAt: -1}
}

// SetClientRandom records the ClientHello random and starts a new handshake:
// the transcript and any master secret of a previous handshake are dropped.
func (s *SessionState) SetClientRandom(random []byte) error {
	if len(random) != 32 {
		return fmt.Errorf("%w: client random of %d bytes", ErrInvalidRecord, len(random))
	}
	copy(s.ClientRandom[:], random)
	s.HasClientRandom = true
	s.transcript = s.transcript[:0]
	s.sessionHashAt = -1
	s.MasterSecret = nil
	s.EncryptedPreMaster = nil
	s.pendingReady = false
	return nil
}

// SetServerRandom records the ServerHello random.
func (s *SessionState) SetServerRandom(random []byte) error {
	if len(random) != 32 {
		return fmt.Errorf("%w: server random of %d bytes", ErrInvalidRecord, len(random))
	}
	copy(s.ServerRandom[:], random)
	s.HasServerRandom = true
	s.MasterSecret = nil
	s.pendingReady = false
	return nil
}

// SetSessionID records the session id chosen by the server.
func (s *SessionState) SetSessionID(id []byte) {
	s.SessionID = append([]byte(nil), id...)
}

// SetSessionTicket records the session ticket of the handshake.
func (s *SessionState) SetSessionTicket(ticket []byte) {
	s.SessionTicket = append([]byte(nil), ticket...)
}

// AppendHandshake adds a handshake message (header included) to the
// transcript.
func (s *SessionState) AppendHandshake(msg []byte) {
	s.transcript = append(s.transcript, msg...)
}

// MarkKeyExchange freezes the Extended Master Secret session hash at the
// current transcript (right after ClientKeyExchange).
func (s *SessionState) MarkKeyExchange() {
	s.sessionHashAt = len(s.transcript)
}

// Transcript returns the handshake transcript covered by the session hash.
func (s *SessionState) Transcript() []byte {
	if s.sessionHashAt >= 0 && s.sessionHashAt <= len(s.transcript) {
		return s.transcript[:s.sessionHashAt]
	}
	return s.transcript
}

// IsTLS13 reports whether the session negotiated TLS 1.3 or a draft of it.
func (s *SessionState) IsTLS13() bool {
	return IsTLS13Version(s.Version) || s.DraftVersion > 0
}

// RecordCIDLen returns the connection id length of records sent by dir.
func (s *SessionState) RecordCIDLen(dir Direction) int {
	if s.CIDMode == CIDNone {
		return 0
	}
	if dir == DirectionClient {
		return len(s.ServerCID)
	}
	return len(s.ClientCID)
}

// Decoder returns the active decoder of dir, nil if none.
func (s *SessionState) Decoder(dir Direction) *Decoder {
	return s.decoders[dir]
}

// PendingDecoder returns the decoder waiting for dir's ChangeCipherSpec.
func (s *SessionState) PendingDecoder(dir Direction) *Decoder {
	return s.pending[dir]
}

// Stage returns the protection stage of dir.
func (s *SessionState) Stage(dir Direction) Stage {
	return s.stage[dir]
}

// Epoch returns the number of cipher changes seen in dir.
func (s *SessionState) Epoch(dir Direction) uint16 {
	return s.epoch[dir]
}

// setPending installs the decoders built for the next ChangeCipherSpec.
func (s *SessionState) setPending(client, server *Decoder) {
	s.pending[DirectionClient] = client
	s.pending[DirectionServer] = server
}

// enterStage moves dir to a new protection stage and installs d (which may
// be nil when keys are missing). The previous decoder is superseded.
func (s *SessionState) enterStage(dir Direction, stage Stage, d *Decoder) {
	if old := s.decoders[dir]; old != nil {
		old.Supersede()
	}
	s.stage[dir] = stage
	s.gen[dir]++
	if d != nil {
		d.gen = s.gen[dir]
		d.Activate()
	}
	s.decoders[dir] = d
}

// replaceDecoder swaps the decoder of dir within the same stage (KeyUpdate).
func (s *SessionState) replaceDecoder(dir Direction, d *Decoder) {
	if d != nil {
		d.gen = s.gen[dir]
	}
	s.decoders[dir] = d
}

// QueuePending buffers a record until its keys are available. When the
// queue is full the record is dropped and counted; it returns false then.
func (s *SessionState) QueuePending(p PendingRecord) bool {
	limit := s.PendingLimit
	if limit <= 0 {
		limit = DefaultPendingLimit
	}
	if p.Record != nil && s.queued >= limit {
		if n := len(s.queue); n > 0 {
			last := &s.queue[n-1]
			if last.Record == nil && last.Dir == p.Dir && last.Gen == p.Gen && last.Stage == p.Stage {
				last.Skipped++
				return false
			}
		}
		s.queue = append(s.queue, PendingRecord{Dir: p.Dir, Stage: p.Stage, Gen: p.Gen, Skipped: 1})
		return false
	}
	if p.Record != nil {
		s.queued++
	}
	s.queue = append(s.queue, p)
	return true
}

// PendingLen returns the number of buffered records.
func (s *SessionState) PendingLen() int {
	return s.queued
}

// PendingSkipped returns the number of records dropped from the queue.
func (s *SessionState) PendingSkipped() int {
	n := 0
	for _, p := range s.queue {
		n += p.Skipped
	}
	return n
}

func (s *SessionState) takePending() []PendingRecord {
	q := s.queue
	s.queue = nil
	s.queued = 0
	return q
}

func (s *SessionState) requeue(p PendingRecord) {
	if p.Record != nil {
		s.queued++
	}
	s.queue = append(s.queue, p)
}

func (s *SessionState) hasPending(dir Direction) bool {
	for _, p := range s.queue {
		if p.Dir == dir {
			return true
		}
	}
	return false
}
