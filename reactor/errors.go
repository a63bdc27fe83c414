package reactor

import (
	"errors"

	"golang.org/x/sys/unix"
)

var (
	// ErrLoopExists is returned by NewEventLoop when the calling OS thread
	// already owns a loop.
	ErrLoopExists = errors.New("reactor: another event loop exists in this thread")

	ErrNilLoop = errors.New("reactor: event loop is nil")
)

// IsTemporaryError reports whether err is a would-block or interrupted
// outcome. Such results are retried on the next readiness notification.
func IsTemporaryError(err error) bool {
	return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) || errors.Is(err, unix.EINTR)
}
