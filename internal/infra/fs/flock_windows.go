//go:build windows
// +build windows

package fs

import (
	"os"
)

// flockExclusive is a no-op on Windows; devices there rely on the in-process mutex only
// TODO: use LockFileEx so two processes cannot commit to one device root concurrently
func flockExclusive(f *os.File) error {
	return nil
}

// flockUnlock is a no-op on Windows
func flockUnlock(f *os.File) error {
	return nil
}
