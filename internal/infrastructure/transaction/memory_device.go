// Package transaction provides in-process participant devices: an afero-backed memory
// device and a recording mock for tests.
package transaction

import (
	"context"
	"errors"
	"fmt"
	iofs "io/fs"
	"os"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/spf13/afero"

	"github.com/YoshitsuguKoike/mdtxn/internal/application/port/output"
	"github.com/YoshitsuguKoike/mdtxn/internal/domain/distxn"
	"github.com/YoshitsuguKoike/mdtxn/internal/domain/model/update"
)

var (
	errNotStarted = errors.New("local transaction not started")
	errForeign    = errors.New("handle belongs to another device")
)

const dataDir = "/data"

// MemoryDevice keeps committed entries as files of an afero filesystem. Writes are
// buffered per handle and applied together under the device lock on commit.
type MemoryDevice struct {
	id distxn.DeviceID
	fs afero.Fs

	mu sync.RWMutex
}

type memLocal struct {
	ops     []update.Op
	started bool
}

// NewMemoryDevice creates a device on fsys; nil uses a fresh in-memory filesystem.
func NewMemoryDevice(id distxn.DeviceID, fsys afero.Fs) *MemoryDevice {
	if fsys == nil {
		fsys = afero.NewMemMapFs()
	}
	return &MemoryDevice{id: id, fs: fsys}
}

// ID returns the device ID
func (d *MemoryDevice) ID() distxn.DeviceID { return d.id }

// CreateLocal returns a handle with an empty buffer
func (d *MemoryDevice) CreateLocal(ctx context.Context) (*distxn.Handle, error) {
	return distxn.NewHandle(d.id, &memLocal{}), nil
}

// StartLocal marks the handle writable
func (d *MemoryDevice) StartLocal(ctx context.Context, h *distxn.Handle) error {
	l, err := d.local(h)
	if err != nil {
		return err
	}
	l.started = true
	return nil
}

// Write buffers op
func (d *MemoryDevice) Write(ctx context.Context, h *distxn.Handle, op update.Op) error {
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
	l.ops = append(l.ops, op)
	return nil
}

// StopLocal applies the buffered ops, or drops them when h.Result is set
func (d *MemoryDevice) StopLocal(ctx context.Context, h *distxn.Handle) error {
	l, err := d.local(h)
	if err != nil {
		return err
	}
	ops := l.ops
	l.ops = nil
	if h.Result != nil {
		return h.Result
	}
	if !l.started {
		return errNotStarted
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	for _, op := range ops {
		name := path.Join(dataDir, op.Key)
		switch op.Kind {
		case update.KindPut:
			if err := d.fs.MkdirAll(path.Dir(name), 0755); err != nil {
				return err
			}
			if err := afero.WriteFile(d.fs, name, []byte(op.Value), 0644); err != nil {
				return fmt.Errorf("put %s: %w", op.Key, err)
			}
		case update.KindDelete:
			if err := d.fs.Remove(name); err != nil && !errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("delete %s: %w", op.Key, err)
			}
		}
	}
	return nil
}

func (d *MemoryDevice) local(h *distxn.Handle) (*memLocal, error) {
	if h == nil || h.Device() != d.id {
		return nil, errForeign
	}
	l, ok := h.Payload().(*memLocal)
	if !ok {
		return nil, errForeign
	}
	return l, nil
}

// Get returns the committed value of key
func (d *MemoryDevice) Get(ctx context.Context, key string) (string, error) {
	key, err := update.NormalizeKey(key)
	if err != nil {
		return "", err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()

	data, err := afero.ReadFile(d.fs, path.Join(dataDir, key))
	if errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("%s on %s: %w", key, d.id, output.ErrEntryNotFound)
	}
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Keys lists the committed keys in lexical order
func (d *MemoryDevice) Keys(ctx context.Context) ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var keys []string
	err := afero.Walk(d.fs, dataDir, func(name string, info iofs.FileInfo, err error) error {
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil
			}
			return err
		}
		if !info.IsDir() {
			keys = append(keys, strings.TrimPrefix(name, dataDir+"/"))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)
	return keys, nil
}
