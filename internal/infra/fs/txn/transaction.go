package txn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/YoshitsuguKoike/mdtxn/internal/infra/fs"
)

// Manager handles the lifecycle of the local transactions of one device
type Manager struct {
	baseDir  string // <root>/txn
	destRoot string // <root>/data
}

// NewManager creates a new transaction manager
func NewManager(baseDir, destRoot string) *Manager {
	return &Manager{
		baseDir:  baseDir,
		destRoot: destRoot,
	}
}

// BaseDir returns the directory holding transaction work directories
func (m *Manager) BaseDir() string { return m.baseDir }

// DestRoot returns the directory committed entries are moved into
func (m *Manager) DestRoot() string { return m.destRoot }

// Begin starts a new transaction
func (m *Manager) Begin(ctx context.Context) (*Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	txnID := TxnID("txn_" + ulid.Make().String())
	txnDir := filepath.Join(m.baseDir, string(txnID))
	stageDir := filepath.Join(txnDir, "stage")

	if err := os.MkdirAll(stageDir, 0755); err != nil {
		return nil, fmt.Errorf("create stage directory: %w", err)
	}

	tx := &Transaction{
		Manifest: &Manifest{
			ID:        txnID,
			Files:     []FileOperation{},
			CreatedAt: time.Now().UTC(),
		},
		Status:   StatusPending,
		BaseDir:  txnDir,
		StageDir: stageDir,
	}

	if err := m.saveManifest(tx); err != nil {
		os.RemoveAll(txnDir)
		return nil, fmt.Errorf("save manifest: %w", err)
	}
	return tx, nil
}

// SetDurable switches the transaction to synchronous commit. Everything written from
// now on is fsynced, and the manifest is rewritten durably.
func (m *Manager) SetDurable(tx *Transaction, durable bool) error {
	if tx.Manifest.Durable == durable {
		return nil
	}
	tx.Manifest.Durable = durable
	return m.saveManifest(tx)
}

// StageFile stages the new content of dst. A later stage of the same entry replaces the
// earlier one.
func (m *Manager) StageFile(tx *Transaction, dst string, content []byte) error {
	if tx.Status != StatusPending {
		return fmt.Errorf("cannot stage file: transaction status is %s", tx.Status)
	}
	m.dropOp(tx, dst)

	stagePath := filepath.Join(tx.StageDir, filepath.FromSlash(dst))
	if err := os.MkdirAll(filepath.Dir(stagePath), 0755); err != nil {
		return fmt.Errorf("create stage parent directory: %w", err)
	}

	checksum, err := CalculateDataChecksum(content, ChecksumSHA256)
	if err != nil {
		return err
	}

	if tx.Manifest.Durable {
		err = fs.WriteFileSync(stagePath, content, 0644)
	} else {
		err = os.WriteFile(stagePath, content, 0644)
	}
	if err != nil {
		return fmt.Errorf("write staged file: %w", err)
	}

	tx.Manifest.Files = append(tx.Manifest.Files, FileOperation{
		Type:         OpPut,
		Destination:  dst,
		Size:         int64(len(content)),
		ChecksumInfo: checksum,
	})
	if err := m.saveManifest(tx); err != nil {
		return fmt.Errorf("update manifest: %w", err)
	}

	fs.GetLogger().Debug("Staged entry %s=%s dst=%s size=%d", MetricStageSuccess, tx.Manifest.ID, dst, len(content))
	return nil
}

// StageDelete records the removal of dst, replacing any earlier staged content.
func (m *Manager) StageDelete(tx *Transaction, dst string) error {
	if tx.Status != StatusPending {
		return fmt.Errorf("cannot stage delete: transaction status is %s", tx.Status)
	}
	m.dropOp(tx, dst)

	tx.Manifest.Files = append(tx.Manifest.Files, FileOperation{
		Type:        OpDelete,
		Destination: dst,
	})
	if err := m.saveManifest(tx); err != nil {
		return fmt.Errorf("update manifest: %w", err)
	}
	return nil
}

// dropOp forgets an earlier operation on dst and its staged file
func (m *Manager) dropOp(tx *Transaction, dst string) {
	files := tx.Manifest.Files[:0]
	for _, op := range tx.Manifest.Files {
		if op.Destination == dst {
			if op.Type == OpPut {
				os.Remove(filepath.Join(tx.StageDir, filepath.FromSlash(dst)))
			}
			continue
		}
		files = append(files, op)
	}
	tx.Manifest.Files = files
}

// MarkIntent marks the transaction as ready to commit
func (m *Manager) MarkIntent(tx *Transaction) error {
	if tx.Status != StatusPending {
		return fmt.Errorf("cannot mark intent: transaction status is %s", tx.Status)
	}
	if err := tx.Manifest.Validate(); err != nil {
		return fmt.Errorf("invalid manifest: %w", err)
	}

	intent := &Intent{
		TxnID:     tx.Manifest.ID,
		MarkedAt:  time.Now().UTC(),
		Checksums: make(map[string]string, len(tx.Manifest.Files)),
		Ready:     true,
	}
	for _, op := range tx.Manifest.Files {
		if op.ChecksumInfo != nil {
			intent.Checksums[op.Destination] = op.ChecksumInfo.Value
		}
	}

	if err := m.writeMarker(tx, "status.intent", intent); err != nil {
		return fmt.Errorf("write intent marker: %w", err)
	}

	tx.Status = StatusIntent
	tx.Intent = intent
	return nil
}

// Commit moves every staged entry into the data directory and writes the commit marker.
//
// Commit is idempotent: when status.commit already exists it returns immediately, and
// entries already moved by an interrupted earlier attempt are verified and skipped.
// This makes forward recovery safe to repeat.
func (m *Manager) Commit(tx *Transaction) error {
	startTime := time.Now()

	if ok, err := sameDevice(tx.StageDir, m.destRoot); err == nil && !ok {
		fs.GetLogger().Error("Commit aborted %s=%s stage=%s dest=%s", MetricStageEXDEV, tx.Manifest.ID, tx.StageDir, m.destRoot)
		return fmt.Errorf("commit aborted: stage(%s) and destRoot(%s) are on different filesystems (EXDEV)", tx.StageDir, m.destRoot)
	}

	commitPath := filepath.Join(tx.BaseDir, "status.commit")
	if _, err := os.Stat(commitPath); err == nil {
		tx.Status = StatusCommit
		fs.GetLogger().Info("Transaction already committed (no-op) %s=true txn.id=%s", MetricCommitIdempotent, tx.Manifest.ID)
		return nil
	}

	if tx.Status != StatusIntent {
		return fmt.Errorf("cannot commit: transaction status is %s", tx.Status)
	}

	durable := tx.Manifest.Durable
	committed := make([]string, 0, len(tx.Manifest.Files))
	for _, op := range tx.Manifest.Files {
		finalPath := filepath.Join(m.destRoot, filepath.FromSlash(op.Destination))

		switch op.Type {
		case OpPut:
			stagePath := filepath.Join(tx.StageDir, filepath.FromSlash(op.Destination))
			if _, err := os.Stat(stagePath); errors.Is(err, os.ErrNotExist) {
				// moved by an interrupted earlier commit
				if err := ValidateFileChecksum(finalPath, op.ChecksumInfo); err != nil {
					return fmt.Errorf("staged file %s is gone and destination does not match: %w", op.Destination, err)
				}
				committed = append(committed, op.Destination)
				continue
			}
			if err := ValidateFileChecksum(stagePath, op.ChecksumInfo); err != nil {
				return fmt.Errorf("staged file checksum validation failed for %s: %w", op.Destination, err)
			}
			if err := fs.AtomicRename(stagePath, finalPath, durable); err != nil {
				return fmt.Errorf("rename %s: %w", op.Destination, err)
			}

		case OpDelete:
			if err := fs.RemoveFile(finalPath, durable); err != nil {
				return fmt.Errorf("delete %s: %w", op.Destination, err)
			}
		}
		committed = append(committed, op.Destination)
	}

	commit := &Commit{
		TxnID:          tx.Manifest.ID,
		CommittedAt:    time.Now().UTC(),
		CommittedFiles: committed,
		Success:        true,
	}
	if err := m.writeMarker(tx, "status.commit", commit); err != nil {
		return fmt.Errorf("write commit marker: %w", err)
	}

	tx.Status = StatusCommit
	tx.Commit = commit

	fs.GetLogger().Info("Transaction committed %s=%s files=%d durable=%t %s=%d",
		MetricCommitSuccess, tx.Manifest.ID, len(committed), durable,
		MetricCommitDurationMs, time.Since(startTime).Milliseconds())
	return nil
}

// Rollback discards a transaction that has not committed
func (m *Manager) Rollback(tx *Transaction, reason string) error {
	if tx.Status == StatusCommit {
		fs.GetLogger().Error("Cannot rollback committed transaction %s=%s", MetricRollbackFailed, tx.Manifest.ID)
		return fmt.Errorf("cannot rollback committed transaction %s", tx.Manifest.ID)
	}

	if err := os.RemoveAll(tx.BaseDir); err != nil {
		fs.GetLogger().Error("Failed to cleanup transaction during rollback %s=%s error=%v",
			MetricRollbackFailed, tx.Manifest.ID, err)
		return fmt.Errorf("cleanup transaction directory: %w", err)
	}
	if tx.Manifest.Durable {
		if err := fs.FsyncDir(m.baseDir); err != nil {
			fs.GetLogger().Warn("fsync after rollback cleanup failed: %v", err)
		}
	}

	tx.Status = StatusAborted
	fs.GetLogger().Debug("Transaction rolled back %s=%s reason=%s", MetricRollbackSuccess, tx.Manifest.ID, reason)
	return nil
}

// Cleanup removes the work directory of a committed or aborted transaction
func (m *Manager) Cleanup(tx *Transaction) error {
	if tx.Status != StatusCommit && tx.Status != StatusAborted {
		return fmt.Errorf("cannot cleanup: transaction status is %s", tx.Status)
	}

	if err := os.RemoveAll(tx.BaseDir); err != nil {
		return fmt.Errorf("remove transaction directory: %w", err)
	}
	return nil
}

// Load reads the state of a transaction from its work directory
func (m *Manager) Load(txnID TxnID) (*Transaction, error) {
	txnDir := filepath.Join(m.baseDir, string(txnID))

	var manifest Manifest
	if err := readJSON(filepath.Join(txnDir, "manifest.json"), &manifest); err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	tx := &Transaction{
		Manifest: &manifest,
		Status:   StatusPending,
		BaseDir:  txnDir,
		StageDir: filepath.Join(txnDir, "stage"),
	}

	var intent Intent
	if err := readJSON(filepath.Join(txnDir, "status.intent"), &intent); err == nil {
		tx.Status = StatusIntent
		tx.Intent = &intent
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read intent marker: %w", err)
	}

	var commit Commit
	if err := readJSON(filepath.Join(txnDir, "status.commit"), &commit); err == nil {
		tx.Status = StatusCommit
		tx.Commit = &commit
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read commit marker: %w", err)
	}

	return tx, nil
}

// saveManifest saves the transaction manifest to disk
func (m *Manager) saveManifest(tx *Transaction) error {
	data, err := json.MarshalIndent(tx.Manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	return writeFile(filepath.Join(tx.BaseDir, "manifest.json"), data, tx.Manifest.Durable)
}

func (m *Manager) writeMarker(tx *Transaction, name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", name, err)
	}
	return writeFile(filepath.Join(tx.BaseDir, name), data, tx.Manifest.Durable)
}

func writeFile(path string, data []byte, durable bool) error {
	if durable {
		return fs.WriteFileSync(path, data, 0644)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return fs.AtomicRename(tmp, path, false)
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// sameDevice reports whether two paths are on the same filesystem
func sameDevice(p1, p2 string) (bool, error) {
	s1, err := os.Stat(p1)
	if err != nil {
		return true, err
	}
	s2, err := os.Stat(p2)
	if err != nil {
		return true, err
	}
	return checkSameDevice(s1, s2)
}
