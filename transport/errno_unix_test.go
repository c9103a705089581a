//go:build unix

package transport

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/sys/unix"
)

func TestFromErrno(t *testing.T) {
	tests := []struct {
		errno unix.Errno
		want  error
	}{
		{unix.EPROTO, ErrProto},
		{unix.ENOENT, ErrRemoved},
		{unix.ENODEV, ErrRemoved},
		{unix.ECONNRESET, ErrConnReset},
		{unix.ESHUTDOWN, ErrShutdown},
	}
	for _, tt := range tests {
		t.Run(tt.errno.Error(), func(t *testing.T) {
			got := FromErrno(fmt.Errorf("control transfer: %w", tt.errno))
			assert.ErrorIs(t, got, tt.want)
		})
	}
}

func TestFromErrnoPassthrough(t *testing.T) {
	plain := errors.New("not an errno")
	assert.Equal(t, plain, FromErrno(plain))

	// Errnos outside the known families stay untouched.
	assert.NotErrorIs(t, FromErrno(unix.EINVAL), ErrProto)
	assert.False(t, IsDeviceGone(FromErrno(unix.EINVAL)))
}

func TestIsDeviceGone(t *testing.T) {
	assert.True(t, IsDeviceGone(ErrRemoved))
	assert.True(t, IsDeviceGone(ErrConnReset))
	assert.True(t, IsDeviceGone(fmt.Errorf("wrapped: %w", ErrShutdown)))
	assert.False(t, IsDeviceGone(ErrProto))
	assert.False(t, IsDeviceGone(nil))
}
