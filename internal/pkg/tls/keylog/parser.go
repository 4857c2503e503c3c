package keylog

import (
	"bufio"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
)

var (
	// ErrInvalidFormat indicates a malformed key log line.
	ErrInvalidFormat = errors.New("invalid key log format")

	// ErrInvalidLabel indicates an unrecognized label.
	ErrInvalidLabel = errors.New("invalid key log label")

	// ErrInvalidKey indicates an invalid lookup key (client random, EPMS
	// prefix or session id).
	ErrInvalidKey = errors.New("invalid key log key")

	// ErrInvalidSecret indicates an invalid secret value.
	ErrInvalidSecret = errors.New("invalid secret value")
)

const (
	sessionIDPrefix = "Session-ID:"
	masterKeyPrefix = "Master-Key:"

	clientRandomLen = 32
	epmsPrefixLen   = 8
	maxSessionIDLen = 32
	masterSecretLen = 48
)

// Parser parses key log files.
type Parser struct {
	// StrictMode rejects entries with unknown labels.
	// When false (default), unknown labels are silently ignored.
	StrictMode bool
}

// NewParser creates a new key log parser.
func NewParser() *Parser {
	return &Parser{}
}

// ParseLine parses a single line from a key log file.
// Returns nil, nil for empty lines, comments and (outside StrictMode)
// unknown labels. Malformed hex or wrong lengths are reported for this line
// only; callers skip the line and carry on.
func (p *Parser) ParseLine(line string) (*KeyEntry, error) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return nil, nil
	}

	fields := strings.Fields(line)
	label := ParseLabel(fields[0])
	if label == LabelUnknown {
		if p.StrictMode {
			return nil, fmt.Errorf("%w: %s", ErrInvalidLabel, fields[0])
		}
		return nil, nil
	}

	if len(fields) != 3 {
		return nil, fmt.Errorf("%w: expected 3 fields, got %d", ErrInvalidFormat, len(fields))
	}

	if label == LabelRSA && strings.HasPrefix(fields[1], sessionIDPrefix) {
		return p.parseSessionID(fields[1], fields[2])
	}

	key, err := decodeHex(fields[1])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	secret, err := decodeHex(fields[2])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSecret, err)
	}

	wantKey := clientRandomLen
	if label == LabelRSA {
		wantKey = epmsPrefixLen
	}
	if len(key) != wantKey {
		return nil, fmt.Errorf("%w: %s key must be %d bytes, got %d", ErrInvalidKey, label, wantKey, len(key))
	}

	if err := validateSecretLength(label, len(secret)); err != nil {
		return nil, err
	}

	return &KeyEntry{Label: label, Key: key, Secret: secret}, nil
}

// parseSessionID handles "RSA Session-ID:<hex> Master-Key:<hex>".
func (p *Parser) parseSessionID(idField, masterField string) (*KeyEntry, error) {
	if !strings.HasPrefix(masterField, masterKeyPrefix) {
		return nil, fmt.Errorf("%w: missing %s", ErrInvalidFormat, masterKeyPrefix)
	}

	id, err := decodeHex(strings.TrimPrefix(idField, sessionIDPrefix))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	if len(id) == 0 || len(id) > maxSessionIDLen {
		return nil, fmt.Errorf("%w: session id must be 1-%d bytes, got %d", ErrInvalidKey, maxSessionIDLen, len(id))
	}

	master, err := decodeHex(strings.TrimPrefix(masterField, masterKeyPrefix))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSecret, err)
	}
	if err := validateSecretLength(LabelRSASessionID, len(master)); err != nil {
		return nil, err
	}

	return &KeyEntry{Label: LabelRSASessionID, Key: id, Secret: master}, nil
}

// decodeHex accepts either case and rejects odd-length input.
func decodeHex(s string) ([]byte, error) {
	if len(s)%2 != 0 {
		return nil, fmt.Errorf("odd length hex (%d digits)", len(s))
	}
	return hex.DecodeString(s)
}

// validateSecretLength validates the secret length for the given label.
func validateSecretLength(label LabelType, length int) error {
	switch label {
	case LabelRSA, LabelRSASessionID, LabelClientRandom:
		if length != masterSecretLen {
			return fmt.Errorf("%w: %s secret must be %d bytes, got %d", ErrInvalidSecret, label, masterSecretLen, length)
		}
	case LabelPMSClientRandom:
		if length == 0 {
			return fmt.Errorf("%w: empty pre-master secret", ErrInvalidSecret)
		}
	default:
		// SHA-256 based = 32 bytes, SHA-384 based = 48 bytes
		if length != 32 && length != 48 {
			return fmt.Errorf("%w: TLS 1.3 secret must be 32 or 48 bytes, got %d", ErrInvalidSecret, length)
		}
	}
	return nil
}

// Parse reads and parses all entries from a reader.
// Returns all valid entries and any parse errors encountered.
// Parsing continues after errors to collect as many entries as possible.
func (p *Parser) Parse(r io.Reader) ([]*KeyEntry, []error) {
	var entries []*KeyEntry
	var errs []error

	scanner := bufio.NewScanner(r)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		entry, err := p.ParseLine(scanner.Text())
		if err != nil {
			errs = append(errs, fmt.Errorf("line %d: %w", lineNum, err))
			continue
		}
		if entry != nil {
			entries = append(entries, entry)
		}
	}

	if err := scanner.Err(); err != nil {
		errs = append(errs, fmt.Errorf("read error: %w", err))
	}

	return entries, errs
}

// ParseString parses entries from a string.
func (p *Parser) ParseString(s string) ([]*KeyEntry, []error) {
	return p.Parse(strings.NewReader(s))
}

// FormatEntry formats a KeyEntry back to key log format.
func FormatEntry(entry *KeyEntry) string {
	if entry.Label == LabelRSASessionID {
		return fmt.Sprintf("RSA %s%s %s%s",
			sessionIDPrefix, entry.KeyHex(),
			masterKeyPrefix, entry.SecretHex())
	}
	return fmt.Sprintf("%s %s %s",
		entry.Label.String(),
		entry.KeyHex(),
		entry.SecretHex(),
	)
}

// WriteEntries writes entries to a writer in key log format.
func WriteEntries(w io.Writer, entries []*KeyEntry) error {
	for _, entry := range entries {
		if _, err := fmt.Fprintln(w, FormatEntry(entry)); err != nil {
			return err
		}
	}
	return nil
}
