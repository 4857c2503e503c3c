package dissect

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/endorses/tlsdissect/internal/pkg/logger"
	"github.com/endorses/tlsdissect/internal/pkg/tls/decrypt"
)

// TrackerConfig configures the connection tracker.
type TrackerConfig struct {
	// MaxConnections limits the number of tracked connections. The oldest
	// is flushed and forgotten to make room.
	MaxConnections int
	// PendingLimit bounds the records each connection buffers while its
	// keys are missing.
	PendingLimit int

	// OnRecord receives every record outcome. OnSession receives the
	// summary of a connection when it is evicted or the capture ends.
	// Neither may call back into the tracker.
	OnRecord  func(RecordEvent)
	OnSession func(SessionSummary)
}

// DefaultTrackerConfig returns default tracker configuration.
func DefaultTrackerConfig() TrackerConfig {
	return TrackerConfig{
		MaxConnections: 10000,
		PendingLimit:   decrypt.DefaultPendingLimit,
	}
}

// TrackerStats holds tracker statistics.
type TrackerStats struct {
	ActiveConnections int    `json:"active_connections" yaml:"active_connections"`
	TotalConnections  uint64 `json:"total_connections" yaml:"total_connections"`
	Evicted           uint64 `json:"evicted" yaml:"evicted"`
	Retries           uint64 `json:"retries" yaml:"retries"`
	Replayed          uint64 `json:"replayed" yaml:"replayed"`
}

// Tracker maps transport flows to connections and feeds them packets in
// capture order.
type Tracker struct {
	config TrackerConfig
	engine *decrypt.Engine

	connections map[string]*Conn // client FlowKey -> connection
	mu          sync.Mutex

	// dirty is set when new secrets arrived; the next packet retries the
	// pending records first.
	dirty atomic.Bool

	stats TrackerStats
}

// NewTracker creates a tracker decrypting with engine.
func NewTracker(engine *decrypt.Engine, config TrackerConfig) *Tracker {
	if config.MaxConnections <= 0 {
		config.MaxConnections = DefaultTrackerConfig().MaxConnections
	}
	return &Tracker{
		config:      config,
		engine:      engine,
		connections: make(map[string]*Conn),
	}
}

// Notify tells the tracker that secrets were added. It is safe to call from
// any goroutine, typically a secrets.Cache OnInsert hook.
func (t *Tracker) Notify() {
	t.dirty.Store(true)
}

// HandleTCP feeds reassembled TCP payload of flow.
func (t *Tracker) HandleTCP(flow Flow, payload []byte, ts time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.retryIfDirty()
	c, dir := t.connFor(flow, TransportTCP, payload)
	c.HandleStream(dir, payload, ts)
}

// HandleUDP feeds one DTLS datagram of flow.
func (t *Tracker) HandleUDP(flow Flow, payload []byte, ts time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.retryIfDirty()
	c, dir := t.connFor(flow, TransportUDP, payload)
	c.HandleDatagram(dir, payload, ts)
}

// ResetStream reports a gap in the TCP stream of flow.
func (t *Tracker) ResetStream(flow Flow) {
	t.mu.Lock()
	defer t.mu.Unlock()

	c, dir, ok := t.lookup(flow)
	if !ok {
		return
	}
	logger.Warn("gap in TLS stream, records of this direction may not decrypt",
		"conn_id", c.ID,
		"flow", flow.Key())
	c.ResetStream(dir)
}

// Lookup returns the connection flow belongs to and the direction of flow.
func (t *Tracker) Lookup(flow Flow) (*Conn, decrypt.Direction, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lookup(flow)
}

// Retry replays the pending records of every connection and returns how
// many were decrypted.
func (t *Tracker) Retry() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.dirty.Store(false)
	return t.retryAll()
}

// Finish retries and flushes every connection, reports their summaries and
// forgets them. Summaries are ordered by first packet.
func (t *Tracker) Finish() []SessionSummary {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.dirty.Store(false)
	conns := make([]*Conn, 0, len(t.connections))
	for _, c := range t.connections {
		conns = append(conns, c)
	}
	sort.SliceStable(conns, func(i, j int) bool {
		return conns[i].FirstSeen.Before(conns[j].FirstSeen)
	})

	summaries := make([]SessionSummary, 0, len(conns))
	for _, c := range conns {
		summaries = append(summaries, t.close(c))
	}
	t.connections = make(map[string]*Conn)
	return summaries
}

// Stats returns tracker statistics.
func (t *Tracker) Stats() TrackerStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	stats := t.stats
	stats.ActiveConnections = len(t.connections)
	return stats
}

func (t *Tracker) retryIfDirty() {
	if t.dirty.Swap(false) {
		t.retryAll()
	}
}

func (t *Tracker) retryAll() int {
	t.stats.Retries++
	total := 0
	for _, c := range t.connections {
		if c.Session.PendingLen() == 0 && c.Session.PendingSkipped() == 0 {
			continue
		}
		total += c.Retry()
	}
	t.stats.Replayed += uint64(total)
	return total
}

func (t *Tracker) lookup(flow Flow) (*Conn, decrypt.Direction, bool) {
	if c, ok := t.connections[flow.Key()]; ok {
		return c, decrypt.DirectionClient, true
	}
	if c, ok := t.connections[flow.Reverse().Key()]; ok {
		return c, decrypt.DirectionServer, true
	}
	return nil, decrypt.DirectionClient, false
}

// connFor returns the connection of flow, creating it on its first packet.
// The first sender is taken as the client unless it opens with a server
// handshake message.
func (t *Tracker) connFor(flow Flow, transport Transport, payload []byte) (*Conn, decrypt.Direction) {
	if c, dir, ok := t.lookup(flow); ok {
		return c, dir
	}

	client, dir := flow, decrypt.DirectionClient
	if sentByServer(payload, transport) {
		client, dir = flow.Reverse(), decrypt.DirectionServer
	}
	if len(t.connections) >= t.config.MaxConnections {
		t.evictOldest()
	}

	c := NewConn(t.engine, client, transport, t.config.OnRecord)
	c.Session.PendingLimit = t.config.PendingLimit
	t.connections[client.Key()] = c
	t.stats.TotalConnections++

	logger.Debug("new connection",
		"conn_id", c.ID,
		"transport", transport.String(),
		"client", client.Src(),
		"server", client.Dst())
	return c, dir
}

// evictOldest flushes and removes the connection seen least recently.
func (t *Tracker) evictOldest() {
	var oldestKey string
	var oldest *Conn
	for key, c := range t.connections {
		if oldest == nil || c.LastSeen.Before(oldest.LastSeen) {
			oldestKey, oldest = key, c
		}
	}
	if oldest == nil {
		return
	}
	t.close(oldest)
	delete(t.connections, oldestKey)
	t.stats.Evicted++
}

func (t *Tracker) close(c *Conn) SessionSummary {
	c.Flush()
	sum := c.Summary()
	if t.config.OnSession != nil {
		t.config.OnSession(sum)
	}
	return sum
}

// sentByServer reports whether payload opens with a message only a server
// sends first (ServerHello or HelloVerifyRequest).
func sentByServer(payload []byte, transport Transport) bool {
	header := decrypt.RecordHeaderSize
	if transport == TransportUDP {
		header = decrypt.DTLSRecordHeaderSize
	}
	if len(payload) <= header || payload[0] != decrypt.ContentTypeHandshake {
		return false
	}
	switch payload[header] {
	case HandshakeTypeServerHello, HandshakeTypeHelloVerifyRequest:
		return true
	}
	return false
}
