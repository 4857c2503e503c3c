package keylog

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/endorses/tlsdissect/internal/pkg/logger"
)

// WatcherConfig configures the key log file watcher.
type WatcherConfig struct {
	// PollInterval is the fallback polling interval when fsnotify is unavailable,
	// and the retry interval while a named pipe has no writer.
	// Default: 1 second
	PollInterval time.Duration

	// ReadBufferSize is the buffer size for reading key log data.
	// Default: 64KB
	ReadBufferSize int

	// MaxLineLength is the maximum length of a single key log line.
	// Longer lines are counted as errors and skipped.
	// Default: 4KB
	MaxLineLength int

	// StrictMode rejects entries with unknown labels.
	// Default: false (unknown labels are silently ignored)
	StrictMode bool
}

// DefaultWatcherConfig returns the default watcher configuration.
func DefaultWatcherConfig() WatcherConfig {
	return WatcherConfig{
		PollInterval:   1 * time.Second,
		ReadBufferSize: 64 * 1024,
		MaxLineLength:  4 * 1024,
		StrictMode:     false,
	}
}

// Watcher follows a key log file and hands every new entry to a Sink.
//
// Regular files are re-read from the offset just past the last complete
// line; a file that shrinks or is replaced (rotation) is read again from the
// start. Named pipes are read continuously across writers.
type Watcher struct {
	config    WatcherConfig
	sink      Sink
	parser    *Parser
	path      string
	offset    int64
	lastInfo  os.FileInfo
	fsWatcher *fsnotify.Watcher
	pipe      *os.File
	mu        sync.Mutex
	stopChan  chan struct{}
	wg        sync.WaitGroup
	running   bool

	// Stats
	linesRead    uint64
	entriesAdded uint64
	errors       uint64
}

// NewWatcher creates a new key log file watcher.
func NewWatcher(path string, sink Sink, config WatcherConfig) *Watcher {
	defaults := DefaultWatcherConfig()
	if config.PollInterval <= 0 {
		config.PollInterval = defaults.PollInterval
	}
	if config.ReadBufferSize <= 0 {
		config.ReadBufferSize = defaults.ReadBufferSize
	}
	if config.MaxLineLength <= 0 {
		config.MaxLineLength = defaults.MaxLineLength
	}

	return &Watcher{
		config:   config,
		sink:     sink,
		parser:   &Parser{StrictMode: config.StrictMode},
		path:     path,
		stopChan: make(chan struct{}),
	}
}

// Start begins watching the key log file.
// It first reads any existing content, then watches for new entries.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("watcher already running")
	}
	w.running = true
	w.mu.Unlock()

	info, err := os.Stat(w.path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to stat path: %w", err)
	}

	if info != nil && info.Mode()&os.ModeNamedPipe != 0 {
		w.wg.Add(1)
		go w.pipeReadLoop(ctx)
		logger.Info("started key log pipe reader",
			"path", w.path,
			"mode", "pipe")
		return nil
	}

	return w.startFileWatcher(ctx)
}

// startFileWatcher watches a regular file for changes.
func (w *Watcher) startFileWatcher(ctx context.Context) error {
	if err := w.readNew(); err != nil && !os.IsNotExist(err) {
		logger.Warn("failed to read existing key log",
			"path", w.path,
			"error", err)
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Warn("fsnotify unavailable, falling back to polling",
			"error", err)
		return w.startPolling(ctx)
	}

	// Watch the directory rather than the file so that creation and
	// rename-based rotation are both seen.
	dir := filepath.Dir(w.path)
	if err := fsWatcher.Add(dir); err != nil {
		logger.Warn("failed to watch directory, falling back to polling",
			"path", w.path,
			"dir", dir,
			"error", err)
		if cerr := fsWatcher.Close(); cerr != nil {
			logger.Error("failed to close fsnotify watcher", "error", cerr)
		}
		return w.startPolling(ctx)
	}
	w.fsWatcher = fsWatcher

	w.wg.Add(1)
	go w.fsWatchLoop(ctx)

	logger.Info("started key log file watcher",
		"path", w.path,
		"mode", "fsnotify")

	return nil
}

// startPolling watches using periodic polling.
func (w *Watcher) startPolling(ctx context.Context) error {
	w.wg.Add(1)
	go w.pollLoop(ctx)

	logger.Info("started key log file watcher",
		"path", w.path,
		"mode", "polling",
		"interval", w.config.PollInterval)

	return nil
}

// fsWatchLoop reacts to fsnotify events for the watched path.
func (w *Watcher) fsWatchLoop(ctx context.Context) {
	defer w.wg.Done()

	targetPath, _ := filepath.Abs(w.path)

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopChan:
			return
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}

			eventPath, _ := filepath.Abs(event.Name)
			if eventPath != targetPath {
				continue
			}

			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				if err := w.readNew(); err != nil && !os.IsNotExist(err) {
					logger.Warn("failed to read new key log entries",
						"error", err)
				}
			}
			if event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
				w.mu.Lock()
				w.offset = 0
				w.lastInfo = nil
				w.mu.Unlock()
				logger.Debug("key log file removed, resetting offset",
					"path", w.path)
			}
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			logger.Warn("fsnotify error", "error", err)
			w.mu.Lock()
			w.errors++
			w.mu.Unlock()
		}
	}
}

// pollLoop checks the file on every tick; readNew itself detects growth,
// truncation and rotation.
func (w *Watcher) pollLoop(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopChan:
			return
		case <-ticker.C:
			if err := w.readNew(); err != nil && !os.IsNotExist(err) {
				logger.Warn("failed to read new key log entries",
					"path", w.path,
					"error", err)
			}
		}
	}
}

// readNew reads complete lines past the current offset. A trailing line
// without a newline is left for the next read, since the writer may still be
// in the middle of it.
func (w *Watcher) readNew() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	file, err := os.Open(w.path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := file.Close(); cerr != nil {
			logger.Error("failed to close key log file", "error", cerr)
		}
	}()

	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat file: %w", err)
	}
	if w.lastInfo != nil && !os.SameFile(w.lastInfo, info) {
		w.offset = 0
		logger.Debug("key log file replaced, reading from beginning",
			"path", w.path)
	}
	if info.Size() < w.offset {
		w.offset = 0
		logger.Debug("key log file truncated, reading from beginning",
			"path", w.path)
	}
	w.lastInfo = info

	if info.Size() == w.offset {
		return nil
	}
	if _, err := file.Seek(w.offset, io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek: %w", err)
	}

	reader := bufio.NewReaderSize(file, w.config.ReadBufferSize)
	newEntries := 0
	for {
		line, err := reader.ReadString('\n')
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("read error: %w", err)
		}
		w.offset += int64(len(line))
		if w.handleLineLocked(line) {
			newEntries++
		}
	}

	if newEntries > 0 {
		logger.Debug("read new key log entries",
			"count", newEntries,
			"offset", w.offset)
	}
	return nil
}

// handleLineLocked parses one line and forwards the entry. It reports
// whether an entry was produced.
func (w *Watcher) handleLineLocked(line string) bool {
	w.linesRead++
	if len(line) > w.config.MaxLineLength {
		w.errors++
		logger.Debug("key log line too long", "length", len(line))
		return false
	}

	entry, err := w.parser.ParseLine(strings.TrimRight(line, "\r\n"))
	if err != nil {
		w.errors++
		logger.Debug("key log parse error", "error", err)
		return false
	}
	if entry == nil {
		return false
	}

	w.sink.AddEntry(entry)
	w.entriesAdded++
	logger.Debug("added key log entry",
		"label", entry.Label.String(),
		"key", entry.ShortKey())
	return true
}

// pipeReadLoop continuously reads from a named pipe.
func (w *Watcher) pipeReadLoop(ctx context.Context) {
	defer w.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopChan:
			return
		default:
		}

		file, err := openPipe(w.path)
		if err != nil {
			logger.Warn("failed to open key log pipe",
				"path", w.path,
				"error", err)
			if !w.wait(ctx) {
				return
			}
			continue
		}

		w.mu.Lock()
		w.pipe = file
		w.mu.Unlock()

		lines := w.readPipe(ctx, file)

		w.mu.Lock()
		w.pipe = nil
		w.mu.Unlock()
		if err := file.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
			logger.Error("failed to close key log pipe", "error", err)
		}

		// Back off before reopening after an empty read.
		if lines == 0 && !w.wait(ctx) {
			return
		}
	}
}

// wait sleeps for one poll interval. It returns false when the watcher is
// stopping.
func (w *Watcher) wait(ctx context.Context) bool {
	select {
	case <-time.After(w.config.PollInterval):
		return true
	case <-ctx.Done():
		return false
	case <-w.stopChan:
		return false
	}
}

// readPipe reads entries from an open pipe until the writer closes it and
// returns the number of lines read.
func (w *Watcher) readPipe(ctx context.Context, file *os.File) int {
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, w.config.ReadBufferSize), w.config.MaxLineLength)

	lines := 0
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return lines
		case <-w.stopChan:
			return lines
		default:
		}

		lines++
		w.mu.Lock()
		w.handleLineLocked(scanner.Text())
		w.mu.Unlock()
	}

	if err := scanner.Err(); err != nil && !errors.Is(err, os.ErrClosed) {
		logger.Warn("key log pipe read error", "error", err)
		w.mu.Lock()
		w.errors++
		w.mu.Unlock()
	}
	return lines
}

// Stop stops the watcher.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	// Closing the pipe unblocks a reader waiting on an idle writer.
	if w.pipe != nil {
		_ = w.pipe.Close()
	}
	w.mu.Unlock()

	close(w.stopChan)

	if w.fsWatcher != nil {
		if err := w.fsWatcher.Close(); err != nil {
			logger.Error("failed to close fsnotify watcher", "error", err)
		}
	}

	w.wg.Wait()

	logger.Info("stopped key log watcher",
		"path", w.path,
		"entries_added", w.entriesAdded)

	return nil
}

// Stats returns watcher statistics.
func (w *Watcher) Stats() WatcherStats {
	w.mu.Lock()
	defer w.mu.Unlock()

	return WatcherStats{
		Path:         w.path,
		Offset:       w.offset,
		LinesRead:    w.linesRead,
		EntriesAdded: w.entriesAdded,
		Errors:       w.errors,
		Running:      w.running,
	}
}

// WatcherStats contains watcher statistics.
type WatcherStats struct {
	Path         string
	Offset       int64
	LinesRead    uint64
	EntriesAdded uint64
	Errors       uint64
	Running      bool
}

// LoadFile parses a whole key log file once and forwards every entry to sink.
// It returns the number of entries and the per-line errors.
func LoadFile(path string, sink Sink, strict bool) (int, []error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, []error{err}
	}
	defer func() {
		if cerr := file.Close(); cerr != nil {
			logger.Error("failed to close key log file", "error", cerr)
		}
	}()

	p := &Parser{StrictMode: strict}
	entries, errs := p.Parse(file)
	for _, e := range entries {
		sink.AddEntry(e)
	}
	return len(entries), errs
}
