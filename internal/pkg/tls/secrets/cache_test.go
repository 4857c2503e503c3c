package secrets

import (
	"bytes"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/endorses/tlsdissect/internal/pkg/tls/keylog"
)

func filled(b byte, n int) []byte {
	return bytes.Repeat([]byte{b}, n)
}

func TestCache_InsertResults(t *testing.T) {
	c := NewCache(Config{})
	cr := filled(0x01, 32)

	assert.Equal(t, Added, c.Insert(MapClientRandom, cr, filled(0xaa, 48)))
	assert.Equal(t, Duplicate, c.Insert(MapClientRandom, cr, filled(0xaa, 48)))
	assert.Equal(t, Collision, c.Insert(MapClientRandom, cr, filled(0xbb, 48)))

	got, ok := c.Lookup(MapClientRandom, cr)
	require.True(t, ok)
	assert.Equal(t, filled(0xbb, 48), got, "last write wins")

	stats := c.Stats()
	assert.Equal(t, uint64(1), stats.Inserts)
	assert.Equal(t, uint64(1), stats.Duplicates)
	assert.Equal(t, uint64(1), stats.Collisions)
	assert.Equal(t, 1, c.Len(MapClientRandom))
}

func TestCache_InsertInvalid(t *testing.T) {
	c := NewCache(Config{})
	tests := []struct {
		name   string
		id     MapID
		key    []byte
		secret []byte
	}{
		{"empty key", MapClientRandom, nil, filled(1, 48)},
		{"empty secret", MapClientRandom, filled(1, 32), nil},
		{"negative map", MapID(-1), filled(1, 32), filled(1, 48)},
		{"map out of range", numMaps, filled(1, 32), filled(1, 48)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, Invalid, c.Insert(tt.id, tt.key, tt.secret))
		})
	}
	assert.Zero(t, c.Total())
}

func TestCache_MapsAreIndependent(t *testing.T) {
	c := NewCache(Config{})
	key := filled(0x02, 32)

	c.Insert(MapClientRandom, key, filled(0x10, 48))
	c.Insert(MapPMSClientRandom, key, filled(0x20, 48))

	ms, ok := c.Lookup(MapClientRandom, key)
	require.True(t, ok)
	pms, ok := c.Lookup(MapPMSClientRandom, key)
	require.True(t, ok)
	assert.NotEqual(t, ms, pms)

	_, ok = c.Lookup(MapTicket, key)
	assert.False(t, ok)
}

func TestCache_CopiesKeyAndSecret(t *testing.T) {
	c := NewCache(Config{})
	key := filled(0x03, 8)
	secret := filled(0x30, 48)
	c.Insert(MapPreMaster, key, secret)

	key[0] = 0xff
	secret[0] = 0xff

	got, ok := c.Lookup(MapPreMaster, filled(0x03, 8))
	require.True(t, ok)
	assert.Equal(t, filled(0x30, 48), got)

	got[1] = 0xee
	again, _ := c.Lookup(MapPreMaster, filled(0x03, 8))
	assert.Equal(t, byte(0x30), again[1], "lookups return copies")
}

func TestCache_LookupNeverRemoves(t *testing.T) {
	c := NewCache(Config{})
	key := filled(0x04, 32)
	c.Insert(MapServerHandshakeTraffic, key, filled(0x40, 32))

	for i := 0; i < 3; i++ {
		_, ok := c.Lookup(MapServerHandshakeTraffic, key)
		require.True(t, ok)
	}
	stats := c.Stats()
	assert.Equal(t, uint64(3), stats.Lookups)
	assert.Equal(t, uint64(3), stats.Hits)
	assert.Equal(t, 1.0, stats.HitRate())
}

func TestCache_AddEntry(t *testing.T) {
	c := NewCache(Config{})
	cr := filled(0x05, 32)

	tests := []struct {
		label keylog.LabelType
		key   []byte
		want  MapID
	}{
		{keylog.LabelRSA, filled(0x06, 8), MapPreMaster},
		{keylog.LabelRSASessionID, filled(0x07, 32), MapSessionID},
		{keylog.LabelPMSClientRandom, cr, MapPMSClientRandom},
		{keylog.LabelClientRandom, cr, MapClientRandom},
		{keylog.LabelClientEarlyTrafficSecret, cr, MapClientEarlyTraffic},
		{keylog.LabelClientHandshakeTrafficSecret, cr, MapClientHandshakeTraffic},
		{keylog.LabelServerHandshakeTrafficSecret, cr, MapServerHandshakeTraffic},
		{keylog.LabelClientTrafficSecret0, cr, MapClientTraffic0},
		{keylog.LabelServerTrafficSecret0, cr, MapServerTraffic0},
		{keylog.LabelEarlyExporterSecret, cr, MapEarlyExporter},
		{keylog.LabelExporterSecret, cr, MapExporter},
	}
	for _, tt := range tests {
		t.Run(tt.label.String(), func(t *testing.T) {
			secret := filled(byte(tt.want)+0x80, 48)
			res := c.AddEntry(&keylog.KeyEntry{Label: tt.label, Key: tt.key, Secret: secret})
			assert.Equal(t, Added, res)
			got, ok := c.Lookup(tt.want, tt.key)
			require.True(t, ok)
			assert.Equal(t, secret, got)
		})
	}

	assert.Equal(t, Invalid, c.AddEntry(nil))
	assert.Equal(t, Invalid, c.AddEntry(&keylog.KeyEntry{Label: keylog.LabelUnknown, Key: cr, Secret: cr}))
	assert.Len(t, keylog.Labels(), len(tests), "every label has a map")
}

func TestCache_SinkFromParsedLog(t *testing.T) {
	c := NewCache(Config{})
	log := fmt.Sprintf("CLIENT_RANDOM %x %x\nCLIENT_RANDOM %x %x\n",
		filled(1, 32), filled(2, 48), filled(1, 32), filled(2, 48))

	entries, errs := keylog.NewParser().ParseString(log)
	require.Empty(t, errs)
	sink := c.Sink()
	for _, e := range entries {
		sink.AddEntry(e)
	}
	assert.Equal(t, 1, c.Len(MapClientRandom))
	assert.Equal(t, uint64(1), c.Stats().Duplicates)
}

func TestCache_OnInsert(t *testing.T) {
	type call struct {
		id     MapID
		key    string
		result InsertResult
	}
	var calls []call
	var c *Cache
	c = NewCache(Config{OnInsert: func(id MapID, key []byte, result InsertResult) {
		// the lock is released before the hook runs
		_, _ = c.Lookup(id, key)
		calls = append(calls, call{id, string(key), result})
	}})

	key := filled(0x08, 32)
	c.Insert(MapClientRandom, key, filled(1, 48))
	c.Insert(MapClientRandom, key, filled(1, 48))
	c.Insert(MapClientRandom, key, filled(2, 48))

	require.Len(t, calls, 2)
	assert.Equal(t, call{MapClientRandom, string(key), Added}, calls[0])
	assert.Equal(t, call{MapClientRandom, string(key), Collision}, calls[1])
}

func TestCache_Clear(t *testing.T) {
	c := NewCache(Config{})
	c.Insert(MapClientRandom, filled(1, 32), filled(1, 48))
	c.Insert(MapTicket, filled(2, 100), filled(2, 48))
	require.Equal(t, 2, c.Total())

	c.Clear()
	assert.Zero(t, c.Total())
	assert.False(t, c.Contains(MapTicket, filled(2, 100)))
	assert.Equal(t, uint64(2), c.Stats().Inserts)
}

func TestCache_Concurrent(t *testing.T) {
	c := NewCache(Config{})
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				key := []byte(fmt.Sprintf("key-%02d-%03d", w, i))
				c.Insert(MapSessionID, key, filled(byte(i), 48))
				_, ok := c.Lookup(MapSessionID, key)
				assert.True(t, ok)
			}
		}(w)
	}
	wg.Wait()
	assert.Equal(t, 800, c.Len(MapSessionID))
}

func TestStatsEntries(t *testing.T) {
	c := NewCache(Config{})
	c.Insert(MapExporter, filled(1, 32), filled(1, 32))
	stats := c.Stats()
	assert.Equal(t, map[string]int{"exporter": 1}, stats.Entries)
	assert.Zero(t, stats.HitRate())
}

func TestMapIDString(t *testing.T) {
	assert.Len(t, MapIDs(), int(numMaps))
	for _, id := range MapIDs() {
		assert.NotEqual(t, "unknown", id.String())
	}
	assert.Equal(t, "unknown", MapID(99).String())
	assert.Equal(t, "collision", Collision.String())
}
