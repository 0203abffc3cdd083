//go:build !windows

package lock

import (
	"errors"
	"syscall"
)

// processAlive sends signal 0. Only ESRCH means the process is gone; EPERM
// still proves it exists.
func processAlive(pid int) bool {
	err := syscall.Kill(pid, 0)
	if err == nil {
		return true
	}
	return !errors.Is(err, syscall.ESRCH)
}
