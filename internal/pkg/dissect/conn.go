package dissect

import (
	"encoding/hex"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/endorses/tlsdissect/internal/pkg/logger"
	"github.com/endorses/tlsdissect/internal/pkg/tls/decrypt"
	"github.com/endorses/tlsdissect/internal/pkg/tls/suites"
)

// RecordEvent reports the outcome of one record.
type RecordEvent struct {
	ConnID      string
	Flow        Flow
	Transport   Transport
	Direction   decrypt.Direction
	Timestamp   time.Time
	Version     uint16
	CipherSuite uint16
	Record      *decrypt.Record
	Result      *decrypt.Result
	Err         error

	// Replayed marks a record that waited in the pending queue for its keys.
	Replayed bool
}

// Status returns the decryption status of the record.
func (e RecordEvent) Status() decrypt.Status {
	if e.Result != nil {
		return e.Result.Status
	}
	return decrypt.StatusOf(e.Err)
}

// recordContext travels with a queued record.
type recordContext struct {
	ts time.Time
}

// Conn follows one TLS or DTLS connection. It is not safe for concurrent
// use.
type Conn struct {
	ID        string
	Flow      Flow // client to server
	Transport Transport
	Session   *decrypt.SessionState

	ClientHello *ClientHello
	ServerHello *ServerHello

	FirstSeen time.Time
	LastSeen  time.Time

	engine  *decrypt.Engine
	emit    func(RecordEvent)
	streams *decrypt.StreamReassembler
	hs      [2]*handshakeReader

	serverHelloDone bool
	resumed         bool
	offeredTicket   []byte
	newTicket       []byte

	records       int
	statuses      map[decrypt.Status]int
	dropped       int
	framingErrors int

	retrying   bool
	retryAgain bool
}

// NewConn creates a connection whose client sends on flow. emit receives
// every record once its outcome is final; it may be nil.
func NewConn(engine *decrypt.Engine, flow Flow, transport Transport, emit func(RecordEvent)) *Conn {
	dtls := transport == TransportUDP
	c := &Conn{
		ID:        uuid.New().String(),
		Flow:      flow,
		Transport: transport,
		Session:   decrypt.NewSessionState(),
		engine:    engine,
		emit:      emit,
		hs:        [2]*handshakeReader{newHandshakeReader(dtls), newHandshakeReader(dtls)},
		statuses:  make(map[decrypt.Status]int),
	}
	if !dtls {
		c.streams = decrypt.NewStreamReassembler()
	}
	return c
}

// HandleStream feeds TCP payload sent by dir, in stream order.
func (c *Conn) HandleStream(dir decrypt.Direction, data []byte, ts time.Time) {
	c.touch(ts)
	records, err := c.streams.Add(dir, data)
	for _, rec := range records {
		c.handleRecord(dir, rec, ts)
	}
	if err != nil {
		c.framingErrors++
		c.hs[dir].Reset()
		logger.Debug("TLS stream framing error",
			"conn_id", c.ID,
			"direction", dir.String(),
			"error", err)
	}
}

// HandleDatagram feeds one UDP payload sent by dir.
func (c *Conn) HandleDatagram(dir decrypt.Direction, data []byte, ts time.Time) {
	c.touch(ts)
	for len(data) > 0 {
		// a ServerHello may negotiate the connection id of the records
		// that follow it in the same datagram
		records, err := decrypt.ParseDatagram(data, c.Session.RecordCIDLen(dir))
		consumed := 0
		for _, rec := range records {
			c.handleRecord(dir, rec, ts)
			consumed += len(rec.Header) + len(rec.Fragment)
		}
		if err == nil {
			return
		}
		if len(records) == 0 {
			c.framingErrors++
			logger.Debug("DTLS datagram framing error",
				"conn_id", c.ID,
				"direction", dir.String(),
				"error", err)
			return
		}
		data = data[consumed:]
	}
}

// ResetStream drops the partial records and handshake messages of dir after
// a gap in its TCP stream.
func (c *Conn) ResetStream(dir decrypt.Direction) {
	if c.streams != nil {
		c.streams.ResetDirection(dir)
	}
	c.hs[dir].Reset()
}

// Retry replays the records waiting for keys. It returns how many were
// decrypted.
func (c *Conn) Retry() int {
	if c.retrying {
		c.retryAgain = true
		return 0
	}
	c.retrying = true
	defer func() { c.retrying = false }()

	total := 0
	for {
		c.retryAgain = false
		total += c.engine.RetryPending(c.Session, c.replay)
		if !c.retryAgain {
			return total
		}
	}
}

// Flush retries the pending records one last time and reports those still
// without keys as MissingKeys.
func (c *Conn) Flush() int {
	c.Retry()
	return c.engine.DropPending(c.Session, c.replay)
}

func (c *Conn) touch(ts time.Time) {
	if c.FirstSeen.IsZero() {
		c.FirstSeen = ts
	}
	c.LastSeen = ts
}

func (c *Conn) handleRecord(dir decrypt.Direction, rec *decrypt.Record, ts time.Time) {
	if rec.ContentType == decrypt.ContentTypeChangeCipherSpec && c.compatCCS() {
		res := &decrypt.Result{Status: decrypt.StatusOK, Plaintext: rec.Fragment, ContentType: rec.ContentType, Seq: rec.Seq}
		c.process(dir, rec, res, nil, ts, false)
		return
	}

	queued, skipped := c.Session.PendingLen(), c.Session.PendingSkipped()
	res, err := c.engine.Decrypt(c.Session, dir, rec, recordContext{ts: ts})
	if c.Session.PendingLen() > queued {
		// reported once replayed or flushed
		return
	}
	if c.Session.PendingSkipped() > skipped {
		c.dropped++
	}
	c.process(dir, rec, res, err, ts, false)
}

// compatCCS reports whether a ChangeCipherSpec is the TLS 1.3 middlebox
// compatibility message, which carries no cipher change.
func (c *Conn) compatCCS() bool {
	if c.Session.IsTLS13() {
		return true
	}
	return c.ClientHello != nil && c.ClientHello.OffersTLS13() && c.ServerHello == nil
}

func (c *Conn) replay(p decrypt.PendingRecord, res *decrypt.Result, err error) {
	ts := c.LastSeen
	if rc, ok := p.Context.(recordContext); ok {
		ts = rc.ts
	}
	c.process(p.Dir, p.Record, res, err, ts, true)
}

func (c *Conn) process(dir decrypt.Direction, rec *decrypt.Record, res *decrypt.Result, err error, ts time.Time, replayed bool) {
	ev := RecordEvent{
		ConnID:      c.ID,
		Flow:        c.Flow,
		Transport:   c.Transport,
		Direction:   dir,
		Timestamp:   ts,
		Version:     c.Session.Version,
		CipherSuite: c.Session.CipherSuite,
		Record:      rec,
		Result:      res,
		Err:         err,
		Replayed:    replayed,
	}
	c.records++
	c.statuses[ev.Status()]++
	if c.emit != nil {
		c.emit(ev)
	}

	readable := res != nil && (res.Status == decrypt.StatusOK ||
		(res.Status == decrypt.StatusMissingKeys && res.Plaintext != nil))
	if !readable {
		if err != nil {
			logger.Debug("record not decrypted",
				"conn_id", c.ID,
				"direction", dir.String(),
				"content_type", rec.ContentTypeName(),
				"error", err)
		}
		if rec.ContentType != decrypt.ContentTypeChangeCipherSpec && rec.ContentType != decrypt.ContentTypeAlert {
			c.hs[dir].Reset()
		}
		return
	}

	switch res.ContentType {
	case decrypt.ContentTypeHandshake:
		msgs, herr := c.hs[dir].Add(res.Plaintext)
		for _, m := range msgs {
			c.handleHandshake(dir, m)
		}
		if herr != nil {
			logger.Debug("handshake reassembly failed",
				"conn_id", c.ID,
				"direction", dir.String(),
				"error", herr)
		}
	case decrypt.ContentTypeChangeCipherSpec:
		// a retransmitted DTLS ChangeCipherSpec keeps its old epoch
		if c.Transport == TransportUDP && rec.Epoch < c.Session.Epoch(dir) {
			return
		}
		c.handleChangeCipherSpec(dir)
	}
}

func (c *Conn) handleHandshake(dir decrypt.Direction, m *HandshakeMessage) {
	s := c.Session
	switch m.Type {
	case HandshakeTypeHelloRequest, HandshakeTypeHelloVerifyRequest:
		return
	case HandshakeTypeClientHello:
		if dir == decrypt.DirectionClient {
			c.onClientHello(m)
		}
		return
	case HandshakeTypeServerHello:
		if dir == decrypt.DirectionServer {
			c.onServerHello(m)
		}
		return
	}

	tls13 := s.IsTLS13()
	if !tls13 {
		s.AppendHandshake(m.Raw)
	}

	switch m.Type {
	case HandshakeTypeEncryptedExtensions:
		if tls13 && s.Stage(decrypt.DirectionClient) == decrypt.StageEarlyData {
			exts, err := ParseEncryptedExtensions(m.Body)
			if err == nil && !slices.Contains(exts, ExtensionEarlyData) {
				// early data rejected
				c.enterStage(decrypt.DirectionClient, decrypt.StageHandshake)
			}
		}
	case HandshakeTypeEndOfEarlyData:
		if tls13 && dir == decrypt.DirectionClient {
			c.enterStage(decrypt.DirectionClient, decrypt.StageHandshake)
		}
	case HandshakeTypeCertificate:
		if !tls13 && dir == decrypt.DirectionServer {
			c.onCertificate(m)
		}
	case HandshakeTypeServerHelloDone:
		c.serverHelloDone = true
	case HandshakeTypeClientKeyExchange:
		if !tls13 {
			s.MarkKeyExchange()
			c.onClientKeyExchange(m)
		}
	case HandshakeTypeNewSessionTicket:
		if !tls13 {
			c.onNewSessionTicket(m)
		}
	case HandshakeTypeFinished:
		if tls13 {
			c.enterStage(dir, decrypt.StageApplication)
		}
	case HandshakeTypeKeyUpdate:
		if tls13 {
			if err := c.engine.KeyUpdate(s, dir); err != nil {
				logger.Debug("key update failed",
					"conn_id", c.ID,
					"direction", dir.String(),
					"error", err)
			}
		}
	}
}

func (c *Conn) onClientHello(m *HandshakeMessage) {
	ch, err := ParseClientHello(m.Body, c.Transport == TransportUDP)
	if err != nil {
		logger.Debug("malformed ClientHello", "conn_id", c.ID, "error", err)
		return
	}
	s := c.Session
	if err := s.SetClientRandom(ch.Random); err != nil {
		logger.Debug("malformed ClientHello", "conn_id", c.ID, "error", err)
		return
	}
	s.AppendHandshake(m.Raw)

	c.ClientHello = ch
	c.ServerHello = nil
	c.serverHelloDone = false
	c.resumed = false
	c.offeredTicket = ch.SessionTicket
	c.newTicket = nil

	if ch.EarlyData && ch.OffersTLS13() {
		c.enterStage(decrypt.DirectionClient, decrypt.StageEarlyData)
	}
}

func (c *Conn) onServerHello(m *HandshakeMessage) {
	sh, err := ParseServerHello(m.Body)
	if err != nil {
		logger.Debug("malformed ServerHello", "conn_id", c.ID, "error", err)
		return
	}
	s := c.Session
	version := sh.NegotiatedVersion()
	s.Version = version
	s.DraftVersion = decrypt.DraftFromVersion(version)
	s.CipherSuite = sh.CipherSuite
	if sh.HelloRetryRequest {
		return
	}

	c.ServerHello = sh
	s.Compression = sh.Compression
	s.ExtendedMasterSecret = sh.ExtendedMasterSecret
	s.EncryptThenMAC = sh.EncryptThenMAC
	if ch := c.ClientHello; ch != nil && sh.CIDExtension != 0 && sh.CIDExtension == ch.CIDExtension {
		s.CIDMode = decrypt.CIDRFC9146
		if sh.CIDExtension == ExtensionConnectionIDDraft {
			s.CIDMode = decrypt.CIDDraft
		}
		s.ClientCID = ch.ConnectionID
		s.ServerCID = sh.ConnectionID
	}
	if err := s.SetServerRandom(sh.Random); err != nil {
		logger.Debug("malformed ServerHello", "conn_id", c.ID, "error", err)
		return
	}
	s.SetSessionID(sh.SessionID)

	logger.Debug("server hello",
		"conn_id", c.ID,
		"version", decrypt.VersionName(version),
		"cipher_suite", suites.Name(sh.CipherSuite))

	if !s.IsTLS13() {
		s.AppendHandshake(m.Raw)
		return
	}
	c.enterStage(decrypt.DirectionServer, decrypt.StageHandshake)
	if c.ClientHello == nil || !c.ClientHello.EarlyData {
		c.enterStage(decrypt.DirectionClient, decrypt.StageHandshake)
	}
	// early data queued before the suite was known
	c.Retry()
}

func (c *Conn) onCertificate(m *HandshakeMessage) {
	certs, err := ParseCertificates(m.Body)
	if err != nil || len(certs) == 0 {
		return
	}
	id, err := decrypt.CertificateKeyID(certs[0])
	if err != nil {
		logger.Debug("server certificate not parsed", "conn_id", c.ID, "error", err)
		return
	}
	c.Session.ServerKeyID = id
}

func (c *Conn) onClientKeyExchange(m *HandshakeMessage) {
	s := c.Session
	suite, ok := suites.LookupForVersion(s.CipherSuite, s.Version)
	if !ok {
		return
	}
	epms, identity, err := ParseClientKeyExchange(m.Body, suite.Kex, s.Version)
	if err != nil {
		logger.Debug("malformed ClientKeyExchange", "conn_id", c.ID, "error", err)
		return
	}
	if len(epms) > 0 {
		s.EncryptedPreMaster = append([]byte(nil), epms...)
	}
	if len(identity) > 0 {
		logger.Debug("PSK identity", "conn_id", c.ID, "identity", string(identity))
	}
}

func (c *Conn) onNewSessionTicket(m *HandshakeMessage) {
	ticket, err := ParseNewSessionTicket(m.Body)
	if err != nil || len(ticket) == 0 {
		return
	}
	// a resuming server sends the new ticket before its ChangeCipherSpec;
	// the offered one is still needed to find the master secret
	if !c.serverHelloDone && len(c.Session.MasterSecret) == 0 {
		c.newTicket = append([]byte(nil), ticket...)
		return
	}
	c.engine.Scheduler().RememberTicket(c.Session, ticket)
}

func (c *Conn) handleChangeCipherSpec(dir decrypt.Direction) {
	s := c.Session
	if dir == decrypt.DirectionServer && !c.serverHelloDone && c.ServerHello != nil {
		c.resumed = true
		if len(c.offeredTicket) > 0 {
			s.SetSessionTicket(c.offeredTicket)
		}
	}
	if err := c.engine.ChangeCipherSpec(s, dir); err != nil {
		logger.Debug("cipher change without keys",
			"conn_id", c.ID,
			"direction", dir.String(),
			"client_random", hex.EncodeToString(s.ClientRandom[:]),
			"error", err)
	}
	if c.newTicket != nil && len(s.MasterSecret) > 0 {
		c.engine.Scheduler().RememberTicket(s, c.newTicket)
		c.newTicket = nil
	}
}

func (c *Conn) enterStage(dir decrypt.Direction, stage decrypt.Stage) {
	if err := c.engine.EnterStage(c.Session, dir, stage); err != nil {
		logger.Debug("traffic keys not available yet",
			"conn_id", c.ID,
			"direction", dir.String(),
			"stage", stage.String(),
			"error", err)
	}
}

// SessionSummary describes a connection once the capture is done.
type SessionSummary struct {
	ConnID      string         `json:"conn_id" yaml:"conn_id"`
	Transport   string         `json:"transport" yaml:"transport"`
	Client      string         `json:"client" yaml:"client"`
	Server      string         `json:"server" yaml:"server"`
	Version     string         `json:"version" yaml:"version"`
	CipherSuite string         `json:"cipher_suite" yaml:"cipher_suite"`
	SNI         string         `json:"sni,omitempty" yaml:"sni,omitempty"`
	ALPN        []string       `json:"alpn,omitempty" yaml:"alpn,omitempty"`
	JA3         string         `json:"ja3,omitempty" yaml:"ja3,omitempty"`
	JA3S        string         `json:"ja3s,omitempty" yaml:"ja3s,omitempty"`
	Resumed     bool           `json:"resumed" yaml:"resumed"`
	Records     int            `json:"records" yaml:"records"`
	Statuses    map[string]int `json:"statuses" yaml:"statuses"`
	Dropped     int            `json:"dropped,omitempty" yaml:"dropped,omitempty"`
	FirstSeen   time.Time      `json:"first_seen" yaml:"first_seen"`
	LastSeen    time.Time      `json:"last_seen" yaml:"last_seen"`
}

// Summary returns the summary of the connection so far.
func (c *Conn) Summary() SessionSummary {
	sum := SessionSummary{
		ConnID:    c.ID,
		Transport: c.Transport.String(),
		Client:    c.Flow.Src(),
		Server:    c.Flow.Dst(),
		Resumed:   c.resumed,
		Records:   c.records,
		Statuses:  make(map[string]int, len(c.statuses)),
		Dropped:   c.dropped,
		FirstSeen: c.FirstSeen,
		LastSeen:  c.LastSeen,
	}
	for status, n := range c.statuses {
		sum.Statuses[status.String()] = n
	}
	if c.ClientHello != nil {
		sum.SNI = c.ClientHello.SNI
		sum.ALPN = c.ClientHello.ALPNProtocols
		_, sum.JA3 = JA3(c.ClientHello)
	}
	if c.ServerHello != nil {
		sum.Version = decrypt.VersionName(c.Session.Version)
		sum.CipherSuite = suites.Name(c.Session.CipherSuite)
		_, sum.JA3S = JA3S(c.ServerHello)
	}
	return sum
}
