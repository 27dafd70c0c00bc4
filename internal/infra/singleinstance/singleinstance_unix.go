//go:build !windows

package singleinstance

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"
)

// acquirePlatform holds an exclusive advisory lock on a well-known file
// under the OS temp directory, named after the application.
func acquirePlatform(name string) (*Handle, error) {
	path := filepath.Join(os.TempDir(), name+".lock")

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, wrapAcquireError(name, err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()
		return nil, wrapAcquireError(name, fmt.Errorf("another instance holds the lock: %w", err))
	}

	return &Handle{release: func() { f.Close() }}, nil
}
