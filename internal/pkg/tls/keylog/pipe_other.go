//go:build !unix

package keylog

import (
	"errors"
	"os"
)

func openPipe(path string) (*os.File, error) {
	return nil, &os.PathError{Op: "open", Path: path, Err: errors.ErrUnsupported}
}
