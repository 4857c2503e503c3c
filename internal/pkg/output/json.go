// Package output renders decrypted records, session summaries and run
// reports as JSON lines, YAML documents or text.
package output

import (
	"bytes"
	"encoding/json"
	"io"
	"os"

	"golang.org/x/term"
)

// IsTTY reports whether w is a terminal.
func IsTTY(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// PrettyJSON reports whether JSON written to w should be indented:
// only when format is JSON and a person is reading the terminal.
func PrettyJSON(w io.Writer, format Format) bool {
	return format == FormatJSON && IsTTY(w)
}

// marshalLine encodes v as one JSON document terminated by a newline.
// HTML characters in error strings are left unescaped.
func marshalLine(v any, pretty bool) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if pretty {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
