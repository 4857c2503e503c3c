package output

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/endorses/tlsdissect/internal/pkg/dissect"
)

// Format selects how a Printer renders its documents.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatText Format = "text"
)

// ErrUnknownFormat is returned by ParseFormat.
var ErrUnknownFormat = errors.New("unknown output format")

// ParseFormat parses a --format value.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatJSON, FormatYAML, FormatText:
		return f, nil
	case "":
		return FormatText, nil
	}
	return "", fmt.Errorf("%w: %q (want json, yaml or text)", ErrUnknownFormat, s)
}

// document is one JSON line or YAML document.
type document struct {
	Type string `json:"type" yaml:"type"`
	Data any    `json:"data" yaml:"data"`
}

// Printer writes records, sessions and reports to w. JSON is one document
// per line, YAML a stream of documents. It is safe for concurrent use.
type Printer struct {
	w      io.Writer
	format Format
	pretty bool
	yaml   *yaml.Encoder
	mu     sync.Mutex
}

// NewPrinter creates a printer. pretty indents JSON documents.
func NewPrinter(w io.Writer, format Format, pretty bool) *Printer {
	p := &Printer{w: w, format: format, pretty: pretty}
	if format == FormatYAML {
		p.yaml = yaml.NewEncoder(w)
		p.yaml.SetIndent(2)
	}
	return p
}

// Record prints one record.
func (p *Printer) Record(v RecordView) error {
	return p.print("record", v, func(w io.Writer) error { return writeRecordText(w, v) })
}

// Session prints a session summary.
func (p *Printer) Session(s dissect.SessionSummary) error {
	return p.print("session", s, func(w io.Writer) error { return writeSessionText(w, s) })
}

// Report prints the statistics of a run.
func (p *Printer) Report(r Report) error {
	return p.print("report", r, func(w io.Writer) error { return writeReportText(w, r) })
}

// Document prints any other value under typ. text renders it for
// FormatText.
func (p *Printer) Document(typ string, data any, text func(io.Writer) error) error {
	return p.print(typ, data, text)
}

// Close ends the YAML stream.
func (p *Printer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.yaml != nil {
		return p.yaml.Close()
	}
	return nil
}

func (p *Printer) print(typ string, data any, text func(io.Writer) error) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.format {
	case FormatJSON:
		b, err := marshalLine(document{Type: typ, Data: data}, p.pretty)
		if err != nil {
			return fmt.Errorf("failed to marshal %s: %w", typ, err)
		}
		_, err = p.w.Write(b)
		return err
	case FormatYAML:
		return p.yaml.Encode(document{Type: typ, Data: data})
	default:
		return text(p.w)
	}
}

func writeRecordText(w io.Writer, v RecordView) error {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s %s > %s %s seq=%d",
		v.Time.UTC().Format(time.RFC3339Nano), v.Transport, v.Source, v.Destination, v.ContentType, v.Seq)
	if v.Epoch != 0 {
		fmt.Fprintf(&b, " epoch=%d", v.Epoch)
	}
	fmt.Fprintf(&b, " len=%d %s", v.Length, v.Status)
	if v.Replayed {
		b.WriteString(" (replayed)")
	}
	if v.Error != "" {
		fmt.Fprintf(&b, ": %s", v.Error)
	}
	b.WriteByte('\n')
	if v.Plaintext != "" {
		if raw, err := hex.DecodeString(v.Plaintext); err == nil {
			b.WriteString(hex.Dump(raw))
		}
	}
	_, err := io.WriteString(w, b.String())
	return err
}

func writeSessionText(w io.Writer, s dissect.SessionSummary) error {
	var b strings.Builder
	fmt.Fprintf(&b, "session %s %s %s > %s", s.ConnID, s.Transport, s.Client, s.Server)
	if s.Version != "" {
		fmt.Fprintf(&b, " %s %s", s.Version, s.CipherSuite)
	}
	if s.SNI != "" {
		fmt.Fprintf(&b, " sni=%s", s.SNI)
	}
	if len(s.ALPN) > 0 {
		fmt.Fprintf(&b, " alpn=%s", strings.Join(s.ALPN, ","))
	}
	if s.Resumed {
		b.WriteString(" resumed")
	}
	fmt.Fprintf(&b, " records=%d", s.Records)
	for _, status := range sortedKeys(s.Statuses) {
		fmt.Fprintf(&b, " %s=%d", status, s.Statuses[status])
	}
	if s.Dropped > 0 {
		fmt.Fprintf(&b, " dropped=%d", s.Dropped)
	}
	if s.JA3 != "" {
		fmt.Fprintf(&b, "\n  ja3=%s ja3s=%s", s.JA3, s.JA3S)
	}
	b.WriteByte('\n')
	_, err := io.WriteString(w, b.String())
	return err
}

func writeReportText(w io.Writer, r Report) error {
	var b strings.Builder
	fmt.Fprintf(&b, "packets=%d tcp_segments=%d dtls_datagrams=%d skipped=%d\n",
		r.Capture.Packets, r.Capture.TCPSegments, r.Capture.DTLSDatagrams, r.Capture.Skipped)
	fmt.Fprintf(&b, "sessions=%d connections=%d evicted=%d retries=%d replayed=%d\n",
		r.Sessions, r.Tracker.TotalConnections, r.Tracker.Evicted, r.Tracker.Retries, r.Tracker.Replayed)
	fmt.Fprintf(&b, "secrets:")
	for _, m := range sortedKeys(r.Secrets.Entries) {
		fmt.Fprintf(&b, " %s=%d", m, r.Secrets.Entries[m])
	}
	fmt.Fprintf(&b, " collisions=%d lookups=%d hits=%d\n", r.Secrets.Collisions, r.Secrets.Lookups, r.Secrets.Hits)
	_, err := io.WriteString(w, b.String())
	return err
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
