package txn

import (
	"context"
	"errors"
	"fmt"
	iofs "io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/YoshitsuguKoike/mdtxn/internal/application/port/output"
	"github.com/YoshitsuguKoike/mdtxn/internal/domain/distxn"
	"github.com/YoshitsuguKoike/mdtxn/internal/domain/model/update"
	"github.com/YoshitsuguKoike/mdtxn/internal/infra/fs"
)

var (
	errNotStarted = errors.New("local transaction not started")
	errForeign    = errors.New("handle belongs to another device")
)

// Device is a metadata device stored in a directory tree.
//
//	<root>/data   committed entries, one file per key
//	<root>/txn    work directories of local transactions
//	<root>/.lock  taken while a transaction commits
type Device struct {
	id      distxn.DeviceID
	root    string
	manager *Manager

	// serializes commits from this process; the lock file covers other processes
	mu sync.Mutex

	opened *RecoveryResult
}

// local is the per-handle state
type local struct {
	tx      *Transaction
	started bool
}

// OpenDevice opens (creating if needed) the device rooted at root and runs recovery.
func OpenDevice(ctx context.Context, id distxn.DeviceID, root string) (*Device, error) {
	d := &Device{
		id:      id,
		root:    root,
		manager: NewManager(filepath.Join(root, "txn"), filepath.Join(root, "data")),
	}
	for _, dir := range []string{d.manager.baseDir, d.manager.destRoot} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("open device %s: %w", id, err)
		}
	}

	result, err := d.Recover(ctx)
	if err != nil {
		return nil, fmt.Errorf("open device %s: %w", id, err)
	}
	d.opened = result
	return d, nil
}

// ID returns the device ID
func (d *Device) ID() distxn.DeviceID { return d.id }

// Root returns the device root directory
func (d *Device) Root() string { return d.root }

// OpenRecovery returns the result of the recovery run by OpenDevice
func (d *Device) OpenRecovery() *RecoveryResult { return d.opened }

// Recover replays or discards the transactions left behind by a crash.
func (d *Device) Recover(ctx context.Context) (*RecoveryResult, error) {
	return d.RecoverWithConfig(ctx, DefaultRecoveryConfig())
}

// RecoverWithConfig is Recover with custom retry and staleness settings
func (d *Device) RecoverWithConfig(ctx context.Context, config RecoveryConfig) (*RecoveryResult, error) {
	unlock, err := fs.LockFile(filepath.Join(d.root, ".lock"))
	if err != nil {
		return nil, err
	}
	defer unlock()

	d.mu.Lock()
	defer d.mu.Unlock()
	return NewRecoveryWithConfig(d.manager, config).RecoverAll(ctx)
}

// Pending lists the work directories of local transactions that have not been cleaned up
func (d *Device) Pending() (*ScanResult, error) {
	return NewScanner(d.manager.baseDir).Scan()
}

// CreateLocal begins a local transaction
func (d *Device) CreateLocal(ctx context.Context) (*distxn.Handle, error) {
	tx, err := d.manager.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return distxn.NewHandle(d.id, &local{tx: tx}), nil
}

// StartLocal fixes the durability of the transaction
func (d *Device) StartLocal(ctx context.Context, h *distxn.Handle) error {
	l, err := d.local(h)
	if err != nil {
		return err
	}
	if err := d.manager.SetDurable(l.tx, h.Sync); err != nil {
		return &TxnError{TxnID: l.tx.Manifest.ID, Operation: "start", Err: err}
	}
	l.started = true
	return nil
}

// Write stages op in the local transaction
func (d *Device) Write(ctx context.Context, h *distxn.Handle, op update.Op) error {
	l, err := d.local(h)
	if err != nil {
		return err
	}
	if !l.started {
		return errNotStarted
	}
	op, err = op.Normalize()
	if err != nil {
		return err
	}

	if op.Kind == update.KindDelete {
		err = d.manager.StageDelete(l.tx, op.Key)
	} else {
		err = d.manager.StageFile(l.tx, op.Key, []byte(op.Value))
	}
	if err != nil {
		return &TxnError{TxnID: l.tx.Manifest.ID, Operation: "stage " + op.Key, Err: err}
	}
	return nil
}

// StopLocal commits the staged entries, or discards them when h.Result is set.
//
// A failure after the intent marker was written leaves the transaction for forward
// recovery; the returned TxnError is then marked Recoverable.
func (d *Device) StopLocal(ctx context.Context, h *distxn.Handle) error {
	l, err := d.local(h)
	if err != nil {
		return err
	}
	tx := l.tx

	reason := h.Result
	if reason == nil && !l.started {
		reason = errNotStarted
	}
	if reason != nil {
		if err := d.manager.Rollback(tx, reason.Error()); err != nil {
			fs.GetLogger().Warn("Rollback failed %s=%s device=%s error=%v", MetricRollbackFailed, tx.Manifest.ID, d.id, err)
		}
		return reason
	}

	unlock, err := fs.LockFile(filepath.Join(d.root, ".lock"))
	if err != nil {
		if rbErr := d.manager.Rollback(tx, "lock failed"); rbErr != nil {
			fs.GetLogger().Warn("Rollback failed %s=%s device=%s error=%v", MetricRollbackFailed, tx.Manifest.ID, d.id, rbErr)
		}
		return &TxnError{TxnID: tx.Manifest.ID, Operation: "lock", Err: err}
	}
	defer unlock()
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.manager.MarkIntent(tx); err != nil {
		if rbErr := d.manager.Rollback(tx, "intent failed"); rbErr != nil {
			fs.GetLogger().Warn("Rollback failed %s=%s device=%s error=%v", MetricRollbackFailed, tx.Manifest.ID, d.id, rbErr)
		}
		return &TxnError{TxnID: tx.Manifest.ID, Operation: "intent", Err: err}
	}
	if err := d.manager.Commit(tx); err != nil {
		fs.GetLogger().Error("Commit failed %s=%s device=%s error=%v", MetricCommitFailed, tx.Manifest.ID, d.id, err)
		return &TxnError{TxnID: tx.Manifest.ID, Operation: "commit", Err: err, Recoverable: true}
	}
	if err := d.manager.Cleanup(tx); err != nil {
		fs.GetLogger().Warn("Cleanup failed %s=%s error=%v", MetricCleanupFailed, tx.Manifest.ID, err)
	}
	return nil
}

func (d *Device) local(h *distxn.Handle) (*local, error) {
	if h == nil || h.Device() != d.id {
		return nil, errForeign
	}
	l, ok := h.Payload().(*local)
	if !ok {
		return nil, errForeign
	}
	return l, nil
}

// Get returns the committed value of key
func (d *Device) Get(ctx context.Context, key string) (string, error) {
	key, err := update.NormalizeKey(key)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(filepath.Join(d.manager.destRoot, filepath.FromSlash(key)))
	if errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("%s on %s: %w", key, d.id, output.ErrEntryNotFound)
	}
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Keys lists the committed keys in lexical order
func (d *Device) Keys(ctx context.Context) ([]string, error) {
	var keys []string
	err := filepath.WalkDir(d.manager.destRoot, func(path string, e iofs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if e.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(d.manager.destRoot, path)
		if err != nil {
			return err
		}
		keys = append(keys, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", d.id, err)
	}
	sort.Strings(keys)
	return keys, nil
}
