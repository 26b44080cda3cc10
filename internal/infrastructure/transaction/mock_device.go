package transaction

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/YoshitsuguKoike/mdtxn/internal/application/port/output"
	"github.com/YoshitsuguKoike/mdtxn/internal/domain/distxn"
	"github.com/YoshitsuguKoike/mdtxn/internal/domain/model/update"
)

// CallLog records device calls as "<call>:<device>" across several mock devices.
type CallLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *CallLog) add(call string, id distxn.DeviceID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, call+":"+string(id))
}

// Calls returns every recorded call in order
func (l *CallLog) Calls() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

// Devices returns the devices that received call, in order
func (l *CallLog) Devices(call string) []string {
	var out []string
	for _, c := range l.Calls() {
		if strings.HasPrefix(c, call+":") {
			out = append(out, strings.TrimPrefix(c, call+":"))
		}
	}
	return out
}

// MockDevice is a participant for tests. It records every call, can be told to fail
// any step, and applies writes to an in-memory map on commit.
type MockDevice struct {
	id  distxn.DeviceID
	log *CallLog

	CreateErr error
	StartErr  error
	WriteErr  error
	StopErr   error

	mu        sync.Mutex
	committed map[string]string
	aborts    []error
	syncs     []bool
}

type mockLocal struct {
	ops []update.Op
}

// NewMockDevice creates a mock device; log may be shared between devices or nil.
func NewMockDevice(id distxn.DeviceID, log *CallLog) *MockDevice {
	if log == nil {
		log = &CallLog{}
	}
	return &MockDevice{id: id, log: log, committed: make(map[string]string)}
}

// ID returns the device ID
func (d *MockDevice) ID() distxn.DeviceID { return d.id }

// CreateLocal records the call
func (d *MockDevice) CreateLocal(ctx context.Context) (*distxn.Handle, error) {
	d.log.add("create", d.id)
	if d.CreateErr != nil {
		return nil, d.CreateErr
	}
	return distxn.NewHandle(d.id, &mockLocal{}), nil
}

// StartLocal records the call and the handle's Sync flag
func (d *MockDevice) StartLocal(ctx context.Context, h *distxn.Handle) error {
	d.log.add("start", d.id)
	d.mu.Lock()
	d.syncs = append(d.syncs, h.Sync)
	d.mu.Unlock()
	return d.StartErr
}

// Write records op
func (d *MockDevice) Write(ctx context.Context, h *distxn.Handle, op update.Op) error {
	d.log.add("write", d.id)
	if d.WriteErr != nil {
		return d.WriteErr
	}
	l, ok := h.Payload().(*mockLocal)
	if !ok {
		return fmt.Errorf("foreign handle on %s", d.id)
	}
	l.ops = append(l.ops, op)
	return nil
}

// StopLocal applies the recorded ops unless h.Result is set or StopErr is configured
func (d *MockDevice) StopLocal(ctx context.Context, h *distxn.Handle) error {
	d.log.add("stop", d.id)
	d.mu.Lock()
	defer d.mu.Unlock()

	if h.Result != nil {
		d.aborts = append(d.aborts, h.Result)
		return h.Result
	}
	if d.StopErr != nil {
		return d.StopErr
	}
	if l, ok := h.Payload().(*mockLocal); ok {
		for _, op := range l.ops {
			if op.Kind == update.KindDelete {
				delete(d.committed, op.Key)
			} else {
				d.committed[op.Key] = op.Value
			}
		}
	}
	return nil
}

// Get returns a committed value
func (d *MockDevice) Get(ctx context.Context, key string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	v, ok := d.committed[key]
	if !ok {
		return "", fmt.Errorf("%s on %s: %w", key, d.id, output.ErrEntryNotFound)
	}
	return v, nil
}

// Keys lists committed keys
func (d *MockDevice) Keys(ctx context.Context) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	keys := make([]string, 0, len(d.committed))
	for k := range d.committed {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// Aborts returns the results of the handles that were stopped as aborted
func (d *MockDevice) Aborts() []error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]error(nil), d.aborts...)
}

// Syncs returns the Sync flag seen by every StartLocal
func (d *MockDevice) Syncs() []bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]bool(nil), d.syncs...)
}
