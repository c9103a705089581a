//go:build unix

package transport

import (
	"errors"

	"golang.org/x/sys/unix"
)

// FromErrno maps a kernel errno from a USB control or interrupt
// operation onto the sentinel errors the engine recognizes. Errnos
// outside the two known families pass through unchanged.
func FromErrno(err error) error {
	var errno unix.Errno
	if !errors.As(err, &errno) {
		return err
	}
	switch errno {
	case unix.EPROTO:
		return ErrProto
	case unix.ENOENT, unix.ENODEV:
		return ErrRemoved
	case unix.ECONNRESET:
		return ErrConnReset
	case unix.ESHUTDOWN:
		return ErrShutdown
	}
	return err
}
