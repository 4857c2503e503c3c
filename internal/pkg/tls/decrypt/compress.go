package decrypt

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/flate"
)

const (
	// MaxDecompressedLen bounds what one compressed record may inflate to:
	// the 2^14 plaintext limit plus the expansion allowance of RFC 5246.
	MaxDecompressedLen = 1<<14 + 1024

	// deflateWindow is the DEFLATE back-reference distance.
	deflateWindow = 32 << 10
)

// inflater undoes TLS DEFLATE compression (RFC 3749). One zlib stream spans
// every record of a direction and each record ends on a sync flush, so a
// record is a run of whole raw DEFLATE blocks. It is decoded on its own with
// the last 32 KiB of earlier output as dictionary.
type inflater struct {
	started bool
	window  []byte
}

func newInflater() *inflater {
	return &inflater{}
}

func (f *inflater) inflate(data []byte) ([]byte, error) {
	body := data
	if !f.started {
		var err error
		if body, err = stripZlibHeader(data); err != nil {
			return nil, err
		}
	}

	fr := flate.NewReaderDict(bytes.NewReader(body), f.window)
	defer fr.Close()

	var out bytes.Buffer
	_, err := io.Copy(&out, io.LimitReader(fr, MaxDecompressedLen+1))
	// a sync flush leaves the stream open, which reads as unexpected EOF
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, fmt.Errorf("%w: %v", ErrDecompress, err)
	}
	if out.Len() > MaxDecompressedLen {
		return nil, fmt.Errorf("%w: record inflates past %d bytes", ErrDecompress, MaxDecompressedLen)
	}

	f.started = true
	f.window = append(f.window, out.Bytes()...)
	if n := len(f.window); n > deflateWindow {
		f.window = f.window[n-deflateWindow:]
	}
	return out.Bytes(), nil
}

// stripZlibHeader checks the two byte zlib header (RFC 1950) opening the
// first record and returns the raw DEFLATE data behind it.
func stripZlibHeader(data []byte) ([]byte, error) {
	if len(data) < 2 {
		return nil, fmt.Errorf("%w: %d bytes, want a zlib header", ErrDecompress, len(data))
	}
	cmf, flg := data[0], data[1]
	if cmf&0x0f != 8 || cmf>>4 > 7 || (uint16(cmf)<<8|uint16(flg))%31 != 0 {
		return nil, fmt.Errorf("%w: invalid zlib header %02x%02x", ErrDecompress, cmf, flg)
	}
	if flg&0x20 != 0 {
		return nil, fmt.Errorf("%w: zlib preset dictionary", ErrDecompress)
	}
	return data[2:], nil
}
