//go:build windows

package singleinstance

import (
	"fmt"

	"golang.org/x/sys/windows"
)

// acquirePlatform holds a globally-named kernel mutex for the life of the
// process. CreateMutex succeeds even when the mutex already exists; the
// ERROR_ALREADY_EXISTS status (not the call's error return) is what tells
// us another holder is alive.
func acquirePlatform(name string) (*Handle, error) {
	namePtr, err := windows.UTF16PtrFromString("Global\\" + name)
	if err != nil {
		return nil, wrapAcquireError(name, err)
	}

	handle, err := windows.CreateMutex(nil, false, namePtr)
	if handle == 0 {
		return nil, wrapAcquireError(name, err)
	}
	if err == windows.ERROR_ALREADY_EXISTS {
		windows.CloseHandle(handle)
		return nil, wrapAcquireError(name, fmt.Errorf("mutex already held"))
	}

	return &Handle{release: func() { windows.CloseHandle(handle) }}, nil
}
