//go:build linux
// +build linux

package reactor

import (
	"os"
	"unsafe"

	"github.com/fzft/go-reactor/log"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

func createEventfd() (int, error) {
	efd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		return -1, os.NewSyscallError("eventfd", err)
	}
	return efd, nil
}

// writeWakeup bumps the eventfd counter so a blocked epoll_wait returns.
func writeWakeup(efd int) {
	one := uint64(1)
	n, err := unix.Write(efd, (*(*[8]byte)(unsafe.Pointer(&one)))[:])
	if n != 8 {
		log.Logger.Error("wakeup writes wrong number of bytes", zap.Int("n", n), zap.Error(err))
	}
}

// readWakeup resets the eventfd counter.
func readWakeup(efd int) {
	var buf uint64
	n, err := unix.Read(efd, (*(*[8]byte)(unsafe.Pointer(&buf)))[:])
	if n != 8 && !IsTemporaryError(err) {
		log.Logger.Error("wakeup reads wrong number of bytes", zap.Int("n", n), zap.Error(err))
	}
}
