//go:build linux
// +build linux

package reactor

import (
	"unsafe"

	"github.com/fzft/go-reactor/log"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// the kernel keeps 15 bytes plus the terminating NUL
const maxThreadNameLen = 15

// setThreadName names the calling OS thread. The goroutine must be locked to
// its thread.
func setThreadName(name string) {
	if name == "" {
		return
	}
	if len(name) > maxThreadNameLen {
		name = name[:maxThreadNameLen]
	}
	p, err := unix.BytePtrFromString(name)
	if err != nil {
		log.Logger.Debug("invalid thread name", zap.String("name", name), zap.Error(err))
		return
	}
	if err := unix.Prctl(unix.PR_SET_NAME, uintptr(unsafe.Pointer(p)), 0, 0, 0); err != nil {
		log.Logger.Debug("set thread name failed", zap.String("name", name), zap.Error(err))
	}
}
