//go:build windows

package lock

import (
	"os"
)

// processAlive opens a handle to the process; failure means it is gone.
func processAlive(pid int) bool {
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	_ = p.Release()
	return true
}
