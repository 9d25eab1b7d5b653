//go:build windows

package config

import "os"

// processAlive reports whether pid names a running process. FindProcess
// opens a handle and fails once the process has exited.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	_ = p.Release()
	return true
}
