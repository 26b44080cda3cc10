package fs

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
)

// syncStats counts fsync calls made through this package
var syncStats struct {
	files int64
	dirs  int64
}

// SyncStats returns the number of file and directory fsyncs issued so far.
func SyncStats() (files, dirs int64) {
	return atomic.LoadInt64(&syncStats.files), atomic.LoadInt64(&syncStats.dirs)
}

// FsyncFile syncs file contents to disk.
func FsyncFile(f *os.File) error {
	if f == nil {
		return fmt.Errorf("FsyncFile: file is nil")
	}
	atomic.AddInt64(&syncStats.files, 1)
	if err := f.Sync(); err != nil {
		return fmt.Errorf("FsyncFile: failed to sync file %s: %w", f.Name(), err)
	}
	return nil
}

// FsyncDir syncs directory metadata to disk.
// Needed after create, rename and unlink so the directory entry itself survives a crash.
func FsyncDir(dirPath string) error {
	if dirPath == "" {
		return fmt.Errorf("FsyncDir: directory path is empty")
	}
	dir, err := os.Open(dirPath)
	if err != nil {
		return fmt.Errorf("FsyncDir: failed to open directory %s: %w", dirPath, err)
	}
	defer dir.Close()

	atomic.AddInt64(&syncStats.dirs, 1)
	if err := dir.Sync(); err != nil {
		return fmt.Errorf("FsyncDir: failed to sync directory %s: %w", dirPath, err)
	}
	return nil
}

// AtomicRename renames src to dst within one filesystem. With durable set, the parent
// directory of dst is synced afterwards.
func AtomicRename(src, dst string, durable bool) error {
	if src == "" {
		return fmt.Errorf("atomic rename: source path is empty")
	}
	if dst == "" {
		return fmt.Errorf("atomic rename: destination path is empty")
	}

	parentDir := filepath.Dir(dst)
	if err := os.MkdirAll(parentDir, 0755); err != nil {
		return fmt.Errorf("atomic rename %s -> %s: failed to create parent dir: %w", src, dst, err)
	}

	if err := os.Rename(src, dst); err != nil {
		if strings.Contains(err.Error(), "cross-device") {
			return fmt.Errorf("atomic rename %s -> %s: cross-filesystem rename not supported (EXDEV): %w", src, dst, err)
		}
		return fmt.Errorf("atomic rename %s -> %s: %w", src, dst, err)
	}

	if durable {
		if err := FsyncDir(parentDir); err != nil {
			return fmt.Errorf("atomic rename %s -> %s: rename succeeded but parent sync failed: %w", src, dst, err)
		}
	}
	return nil
}

// RemoveFile unlinks path; a missing file is not an error and leaves nothing to sync.
// With durable set, the parent directory is synced after an actual removal.
func RemoveFile(path string, durable bool) error {
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("remove %s: %w", path, err)
	}
	if durable {
		return FsyncDir(filepath.Dir(path))
	}
	return nil
}

// WriteFileSync writes data through a temp file in the same directory, syncs it and
// renames it into place, then syncs the parent directory.
func WriteFileSync(path string, data []byte, perm os.FileMode) error {
	if path == "" {
		return fmt.Errorf("write file sync: path is empty")
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("write file sync %s: failed to create parent dir: %w", path, err)
	}

	tempFile := filepath.Join(dir, fmt.Sprintf(".tmp.%s.%d", filepath.Base(path), os.Getpid()))
	if perm == 0 {
		perm = 0644
	}
	f, err := os.OpenFile(tempFile, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return fmt.Errorf("write file sync %s: failed to create temp file: %w", path, err)
	}
	defer func() {
		f.Close()
		os.Remove(tempFile)
	}()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("write file sync %s: failed to write data: %w", path, err)
	}
	if err := FsyncFile(f); err != nil {
		return fmt.Errorf("write file sync %s: failed to sync file: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("write file sync %s: failed to close file: %w", path, err)
	}
	if err := AtomicRename(tempFile, path, true); err != nil {
		return fmt.Errorf("write file sync %s: %w", path, err)
	}
	return nil
}

// LockFile takes an exclusive advisory lock on path, creating it if needed.
func LockFile(path string) (unlock func() error, err error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("open lock file %s: %w", path, err)
	}
	if err := flockExclusive(f); err != nil {
		f.Close()
		return nil, fmt.Errorf("lock %s: %w", path, err)
	}
	return func() error {
		defer f.Close()
		return flockUnlock(f)
	}, nil
}
