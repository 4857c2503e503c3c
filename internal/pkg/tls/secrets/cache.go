// Package secrets holds the secret material a capture session has learned
// from key logs and from its own derivations, keyed per lookup map.
package secrets

import (
	"bytes"
	"encoding/hex"
	"sync"

	"github.com/endorses/tlsdissect/internal/pkg/logger"
	"github.com/endorses/tlsdissect/internal/pkg/tls/keylog"
)

// MapID names one of the lookup maps.
type MapID int

const (
	// MapSessionID: session id -> master secret.
	MapSessionID MapID = iota
	// MapTicket: session ticket -> master secret.
	MapTicket
	// MapClientRandom: client random -> master secret.
	MapClientRandom
	// MapPreMaster: first 8 bytes of the encrypted pre-master secret -> pre-master secret.
	MapPreMaster
	// MapPMSClientRandom: client random -> pre-master secret.
	MapPMSClientRandom

	// TLS 1.3, all keyed by client random.

	MapClientEarlyTraffic
	MapClientHandshakeTraffic
	MapServerHandshakeTraffic
	MapClientTraffic0
	MapServerTraffic0
	MapEarlyExporter
	MapExporter

	numMaps
)

var mapNames = [numMaps]string{
	MapSessionID:              "session_id",
	MapTicket:                 "ticket",
	MapClientRandom:           "client_random",
	MapPreMaster:              "pre_master",
	MapPMSClientRandom:        "pms_client_random",
	MapClientEarlyTraffic:     "client_early_traffic",
	MapClientHandshakeTraffic: "client_handshake_traffic",
	MapServerHandshakeTraffic: "server_handshake_traffic",
	MapClientTraffic0:         "client_traffic_0",
	MapServerTraffic0:         "server_traffic_0",
	MapEarlyExporter:          "early_exporter",
	MapExporter:               "exporter",
}

func (m MapID) String() string {
	if m >= 0 && m < numMaps {
		return mapNames[m]
	}
	return "unknown"
}

// MapIDs returns every map id in declaration order.
func MapIDs() []MapID {
	ids := make([]MapID, 0, numMaps)
	for id := MapID(0); id < numMaps; id++ {
		ids = append(ids, id)
	}
	return ids
}

// MapForLabel returns the map a key log label is stored in.
func MapForLabel(label keylog.LabelType) (MapID, bool) {
	switch label {
	case keylog.LabelRSA:
		return MapPreMaster, true
	case keylog.LabelRSASessionID:
		return MapSessionID, true
	case keylog.LabelPMSClientRandom:
		return MapPMSClientRandom, true
	case keylog.LabelClientRandom:
		return MapClientRandom, true
	case keylog.LabelClientEarlyTrafficSecret:
		return MapClientEarlyTraffic, true
	case keylog.LabelClientHandshakeTrafficSecret:
		return MapClientHandshakeTraffic, true
	case keylog.LabelServerHandshakeTrafficSecret:
		return MapServerHandshakeTraffic, true
	case keylog.LabelClientTrafficSecret0:
		return MapClientTraffic0, true
	case keylog.LabelServerTrafficSecret0:
		return MapServerTraffic0, true
	case keylog.LabelEarlyExporterSecret:
		return MapEarlyExporter, true
	case keylog.LabelExporterSecret:
		return MapExporter, true
	}
	return 0, false
}

// InsertResult reports what Insert did.
type InsertResult int

const (
	// Invalid means the insert was rejected (unknown map, empty key or secret).
	Invalid InsertResult = iota
	// Added means the key was new.
	Added
	// Duplicate means the identical pair was already present.
	Duplicate
	// Collision means the key was present with a different secret, which
	// has been replaced.
	Collision
)

func (r InsertResult) String() string {
	switch r {
	case Added:
		return "added"
	case Duplicate:
		return "duplicate"
	case Collision:
		return "collision"
	default:
		return "invalid"
	}
}

// Config configures a Cache.
type Config struct {
	// OnInsert is called after a secret is added or replaced, outside the
	// cache lock and on the inserting goroutine. Duplicates do not fire it.
	OnInsert func(id MapID, key []byte, result InsertResult)
}

// Cache is the shared secret store of a capture session. Entries are only
// removed by Clear.
type Cache struct {
	config Config
	maps   [numMaps]map[string][]byte
	mu     sync.RWMutex

	// Stats
	inserts    uint64
	duplicates uint64
	collisions uint64
	lookups    uint64
	hits       uint64
}

// NewCache creates an empty cache.
func NewCache(config Config) *Cache {
	c := &Cache{config: config}
	for i := range c.maps {
		c.maps[i] = make(map[string][]byte)
	}
	return c
}

// Insert stores secret under key in map id. Key and secret are copied.
func (c *Cache) Insert(id MapID, key, secret []byte) InsertResult {
	if id < 0 || id >= numMaps || len(key) == 0 || len(secret) == 0 {
		return Invalid
	}

	k := string(key)
	c.mu.Lock()
	existing, ok := c.maps[id][k]
	result := Added
	switch {
	case ok && bytes.Equal(existing, secret):
		c.duplicates++
		c.mu.Unlock()
		return Duplicate
	case ok:
		c.collisions++
		result = Collision
	default:
		c.inserts++
	}
	c.maps[id][k] = bytes.Clone(secret)
	c.mu.Unlock()

	if result == Collision {
		logger.Warn("conflicting secret replaced",
			"map", id.String(),
			"key", hex.EncodeToString(key))
	}
	if c.config.OnInsert != nil {
		c.config.OnInsert(id, bytes.Clone(key), result)
	}
	return result
}

// Lookup returns a copy of the secret stored under key.
func (c *Cache) Lookup(id MapID, key []byte) ([]byte, bool) {
	if id < 0 || id >= numMaps || len(key) == 0 {
		return nil, false
	}

	c.mu.Lock()
	c.lookups++
	secret, ok := c.maps[id][string(key)]
	if ok {
		c.hits++
	}
	c.mu.Unlock()

	if !ok {
		return nil, false
	}
	return bytes.Clone(secret), true
}

// Contains reports whether key is present without touching the statistics.
func (c *Cache) Contains(id MapID, key []byte) bool {
	if id < 0 || id >= numMaps {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.maps[id][string(key)]
	return ok
}

// AddEntry stores a parsed key log entry in the map for its label.
func (c *Cache) AddEntry(entry *keylog.KeyEntry) InsertResult {
	if entry == nil {
		return Invalid
	}
	id, ok := MapForLabel(entry.Label)
	if !ok {
		return Invalid
	}
	return c.Insert(id, entry.Key, entry.Secret)
}

// Sink adapts the cache to a keylog.Sink.
func (c *Cache) Sink() keylog.Sink {
	return keylog.SinkFunc(func(entry *keylog.KeyEntry) {
		c.AddEntry(entry)
	})
}

// Len returns the number of entries in map id.
func (c *Cache) Len(id MapID) int {
	if id < 0 || id >= numMaps {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.maps[id])
}

// Total returns the number of entries across all maps.
func (c *Cache) Total() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := 0
	for _, m := range c.maps {
		n += len(m)
	}
	return n
}

// Clear drops every entry. Statistics are kept.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.maps {
		c.maps[i] = make(map[string][]byte)
	}
}

// Stats returns cache statistics.
func (c *Cache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entries := make(map[string]int, numMaps)
	for id, m := range c.maps {
		if len(m) > 0 {
			entries[MapID(id).String()] = len(m)
		}
	}
	return Stats{
		Entries:    entries,
		Inserts:    c.inserts,
		Duplicates: c.duplicates,
		Collisions: c.collisions,
		Lookups:    c.lookups,
		Hits:       c.hits,
	}
}

// Stats contains cache statistics.
type Stats struct {
	Entries    map[string]int `json:"entries" yaml:"entries"`
	Inserts    uint64         `json:"inserts" yaml:"inserts"`
	Duplicates uint64         `json:"duplicates" yaml:"duplicates"`
	Collisions uint64         `json:"collisions" yaml:"collisions"`
	Lookups    uint64         `json:"lookups" yaml:"lookups"`
	Hits       uint64         `json:"hits" yaml:"hits"`
}

// HitRate returns the fraction of lookups that found a secret.
func (s Stats) HitRate() float64 {
	if s.Lookups == 0 {
		return 0
	}
	return float64(s.Hits) / float64(s.Lookups)
}
