package fs

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFsyncFile(t *testing.T) {
	tmpFile, err := os.CreateTemp(t.TempDir(), "test-fsync-*.txt")
	if err != nil {
		t.Fatalf("Failed to create temp file: %v", err)
	}
	defer tmpFile.Close()

	if _, err := tmpFile.Write([]byte("test data for fsync")); err != nil {
		t.Fatalf("Failed to write data: %v", err)
	}

	before, _ := SyncStats()
	if err := FsyncFile(tmpFile); err != nil {
		t.Errorf("FsyncFile failed: %v", err)
	}
	if after, _ := SyncStats(); after != before+1 {
		t.Errorf("file sync count: got %d, want %d", after, before+1)
	}

	if err := FsyncFile(nil); err == nil {
		t.Error("FsyncFile should fail with nil file")
	}
}

func TestFsyncDir(t *testing.T) {
	tmpDir := t.TempDir()

	if err := FsyncDir(tmpDir); err != nil {
		t.Errorf("FsyncDir failed: %v", err)
	}
	if err := FsyncDir(""); err == nil {
		t.Error("FsyncDir should fail with empty path")
	}
	if err := FsyncDir(filepath.Join(tmpDir, "non-existent")); err == nil {
		t.Error("FsyncDir should fail with non-existent directory")
	}
}

func TestAtomicRename(t *testing.T) {
	tmpDir := t.TempDir()
	srcPath := filepath.Join(tmpDir, "source.txt")
	dstPath := filepath.Join(tmpDir, "nested", "destination.txt")
	testData := []byte("test content for rename")

	if err := os.WriteFile(srcPath, testData, 0644); err != nil {
		t.Fatalf("Failed to create source file: %v", err)
	}

	_, dirsBefore := SyncStats()
	if err := AtomicRename(srcPath, dstPath, true); err != nil {
		t.Fatalf("AtomicRename failed: %v", err)
	}
	if _, dirsAfter := SyncStats(); dirsAfter <= dirsBefore {
		t.Error("durable rename should sync the parent directory")
	}

	if _, err := os.Stat(srcPath); !os.IsNotExist(err) {
		t.Error("Source file should not exist after rename")
	}
	if content, err := os.ReadFile(dstPath); err != nil {
		t.Errorf("Failed to read destination file: %v", err)
	} else if string(content) != string(testData) {
		t.Errorf("Destination content mismatch: got %s, want %s", content, testData)
	}

	if err := AtomicRename("", dstPath, false); err == nil {
		t.Error("AtomicRename should fail with empty source")
	}
	if err := AtomicRename(dstPath, "", false); err == nil {
		t.Error("AtomicRename should fail with empty destination")
	}
	if err := AtomicRename(filepath.Join(tmpDir, "missing"), dstPath, false); err == nil {
		t.Error("AtomicRename should fail with non-existent source")
	}
}

func TestRemoveFile(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "entry")
	if err := os.WriteFile(path, []byte("x"), 0644); err != nil {
		t.Fatalf("Failed to create file: %v", err)
	}

	if err := RemoveFile(path, true); err != nil {
		t.Fatalf("RemoveFile failed: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("file should be gone")
	}
	if err := RemoveFile(path, false); err != nil {
		t.Errorf("removing a missing file should succeed: %v", err)
	}
	if err := RemoveFile(path, true); err != nil {
		t.Errorf("durable removal of a missing file should succeed: %v", err)
	}
	if err := RemoveFile(filepath.Join(tmpDir, "nodir", "entry"), true); err != nil {
		t.Errorf("durable removal under a missing directory should succeed: %v", err)
	}
}

func TestWriteFileSync(t *testing.T) {
	tmpDir := t.TempDir()
	testPath := filepath.Join(tmpDir, "test-file.txt")
	testData := []byte("synchronized write test data")

	if err := WriteFileSync(testPath, testData, 0644); err != nil {
		t.Errorf("WriteFileSync failed: %v", err)
	}
	if content, err := os.ReadFile(testPath); err != nil {
		t.Errorf("Failed to read written file: %v", err)
	} else if string(content) != string(testData) {
		t.Errorf("Content mismatch: got %s, want %s", content, testData)
	}

	newData := []byte("overwritten data")
	if err := WriteFileSync(testPath, newData, 0644); err != nil {
		t.Errorf("WriteFileSync overwrite failed: %v", err)
	}
	if content, err := os.ReadFile(testPath); err != nil {
		t.Errorf("Failed to read overwritten file: %v", err)
	} else if string(content) != string(newData) {
		t.Errorf("Overwrite content mismatch: got %s, want %s", content, newData)
	}

	if err := WriteFileSync("", testData, 0644); err == nil {
		t.Error("WriteFileSync should fail with empty path")
	}

	entries, err := os.ReadDir(tmpDir)
	if err != nil {
		t.Errorf("Failed to read directory: %v", err)
	}
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), ".tmp.") {
			t.Errorf("Temp file left behind: %s", entry.Name())
		}
	}
}

func TestLockFile(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), ".lock")

	unlock, err := LockFile(lockPath)
	if err != nil {
		t.Fatalf("LockFile failed: %v", err)
	}
	if err := unlock(); err != nil {
		t.Errorf("unlock failed: %v", err)
	}

	// the lock can be taken again once released
	unlock, err = LockFile(lockPath)
	if err != nil {
		t.Fatalf("LockFile after unlock failed: %v", err)
	}
	_ = unlock()
}
