package keylog

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/endorses/tlsdissect/internal/pkg/output"
)

var (
	random1 = strings.Repeat("01", 32)
	random2 = strings.Repeat("02", 32)
	master  = strings.Repeat("aa", 48)
	other   = strings.Repeat("bb", 48)
	traffic = strings.Repeat("cc", 32)
)

func testKeyLog() string {
	return strings.Join([]string{
		"# SSL/TLS secrets log file",
		"CLIENT_RANDOM " + random1 + " " + master,
		"CLIENT_RANDOM " + random1 + " " + master,
		"CLIENT_RANDOM " + random1 + " " + other,
		"CLIENT_RANDOM " + random2 + " " + master,
		"SERVER_TRAFFIC_SECRET_0 " + random2 + " " + traffic,
		"CLIENT_RANDOM " + random2 + " abc",
		"QUIC_SERVER_TRAFFIC_SECRET_0 " + random2 + " " + traffic,
	}, "\n") + "\n"
}

func TestCheck(t *testing.T) {
	t.Run("lenient", func(t *testing.T) {
		res := Check("keys.log", strings.NewReader(testKeyLog()), false)
		assert.Equal(t, 5, res.Entries)
		assert.Equal(t, map[string]int{"CLIENT_RANDOM": 4, "SERVER_TRAFFIC_SECRET_0": 1}, res.Labels)
		assert.Equal(t, uint64(1), res.Duplicates)
		assert.Equal(t, uint64(1), res.Collisions)
		require.Len(t, res.Errors, 1)
		assert.Contains(t, res.Errors[0], "line 7")
	})

	t.Run("strict", func(t *testing.T) {
		res := Check("keys.log", strings.NewReader(testKeyLog()), true)
		assert.Len(t, res.Errors, 2)
	})
}

func TestWriteCheckText(t *testing.T) {
	res := Check("keys.log", strings.NewReader(testKeyLog()), false)
	var buf bytes.Buffer
	require.NoError(t, writeCheckText(&buf, res))

	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "keys.log: 5 entries, 1 duplicates, 1 collisions\n"))
	assert.Contains(t, out, "CLIENT_RANDOM")
	assert.Contains(t, out, "error: line 7")
}

func TestWatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys.log")
	require.NoError(t, os.WriteFile(path, []byte(testKeyLog()), 0o600))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var buf bytes.Buffer
	printer := output.NewPrinter(&buf, output.FormatJSON, false)
	require.NoError(t, Watch(ctx, path, WatchOptions{}, printer))

	var doc struct {
		Type string      `json:"type"`
		Data WatchReport `json:"data"`
	}
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &doc))
	assert.Equal(t, "keylog_watch", doc.Type)
	assert.Equal(t, uint64(5), doc.Data.Added)
	assert.Equal(t, uint64(1), doc.Data.Errors)
	assert.Equal(t, 4, doc.Data.Labels["CLIENT_RANDOM"])
	assert.Equal(t, uint64(1), doc.Data.Secrets.Collisions)
}
