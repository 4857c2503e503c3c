//go:build unix

package keylog

import (
	"os"

	"golang.org/x/sys/unix"
)

// openPipe opens a FIFO without waiting for a writer. Opening it read-write
// keeps one writer (ourselves) attached, so reads do not hit EOF between
// writers and a writer never sees a pipe with no reader. The descriptor stays
// non-blocking so os.NewFile registers it with the runtime poller, and Close
// from Stop interrupts a pending read.
func openPipe(path string) (*os.File, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, &os.PathError{Op: "open", Path: path, Err: err}
	}
	return os.NewFile(uintptr(fd), path), nil
}
