package distxn

import (
	"context"
	"strings"
	"sync"
)

// callLog records device calls across every fake device of a test
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(call string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, call)
}

// only returns the devices of calls with the given prefix, in call order
func (l *callLog) only(prefix string) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []string
	for _, c := range l.calls {
		if strings.HasPrefix(c, prefix+":") {
			out = append(out, strings.TrimPrefix(c, prefix+":"))
		}
	}
	return out
}

type fakeDevice struct {
	id  DeviceID
	log *callLog

	createErr error
	startErr  error
	stopErr   error

	creates int
	starts  int
	stops   int

	// state observed by the device while it was called
	syncAtStart       bool
	masterSyncAtStart bool
	resultAtStop      error
}

func newFakeDevice(id string, log *callLog) *fakeDevice {
	return &fakeDevice{id: DeviceID(id), log: log}
}

func (d *fakeDevice) ID() DeviceID { return d.id }

func (d *fakeDevice) CreateLocal(ctx context.Context) (*Handle, error) {
	d.log.add("create:" + string(d.id))
	d.creates++
	if d.createErr != nil {
		return nil, d.createErr
	}
	return NewHandle(d.id, d), nil
}

func (d *fakeDevice) StartLocal(ctx context.Context, h *Handle) error {
	d.log.add("start:" + string(d.id))
	d.starts++
	d.syncAtStart = h.Sync
	if tx, ok := FromHandle(h); ok {
		d.masterSyncAtStart = tx.Master().Sync
	}
	return d.startErr
}

func (d *fakeDevice) StopLocal(ctx context.Context, h *Handle) error {
	d.log.add("stop:" + string(d.id))
	d.stops++
	d.resultAtStop = h.Result
	if d.stopErr != nil {
		return d.stopErr
	}
	return h.Result
}

// recordingObserver collects outcomes
type recordingObserver struct {
	mu       sync.Mutex
	outcomes []Outcome
}

func (o *recordingObserver) TransactionStopped(ctx context.Context, outcome Outcome) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes = append(o.outcomes, outcome)
}
