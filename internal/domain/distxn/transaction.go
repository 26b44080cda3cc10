package distxn

import (
	"context"
	"time"
)

// SubTransaction wraps the local transaction of one participant device.
type SubTransaction struct {
	device Device
	handle *Handle
	parent *Transaction
}

// Device returns the participant device
func (st *SubTransaction) Device() Device { return st.device }

// Handle returns the participant's local transaction
func (st *SubTransaction) Handle() *Handle { return st.handle }

// Parent returns the owning transaction; nil once it has been destroyed.
func (st *SubTransaction) Parent() *Transaction { return st.parent }

// Transaction is one distributed operation spanning a master device and any number of
// further participants. It is driven by a single goroutine from Create to Stop.
type Transaction struct {
	id    string
	coord *Coordinator

	master *SubTransaction
	// subs keeps attach order; index gives lookup by device.
	subs  []*SubTransaction
	index map[DeviceID]*SubTransaction

	// Sync forces every participant to commit durably. Attaching a second device sets it,
	// and Start and Stop set it again whenever a participant besides the master exists.
	Sync bool
	// LocalOnly is copied onto every participant at start.
	LocalOnly bool

	result    error
	startedAt time.Time
	destroyed bool
}

// ID returns the transaction ID
func (tx *Transaction) ID() string { return tx.id }

// Master returns the master's local transaction
func (tx *Transaction) Master() *Handle { return tx.master.handle }

// MasterDevice returns the master device
func (tx *Transaction) MasterDevice() Device { return tx.master.device }

// SubTransactions returns the non-master participants in attach order.
func (tx *Transaction) SubTransactions() []*SubTransaction {
	out := make([]*SubTransaction, len(tx.subs))
	copy(out, tx.subs)
	return out
}

// Participants returns the master followed by every attached device.
func (tx *Transaction) Participants() []DeviceID {
	ids := make([]DeviceID, 0, len(tx.subs)+1)
	ids = append(ids, tx.master.device.ID())
	for _, st := range tx.subs {
		ids = append(ids, st.device.ID())
	}
	return ids
}

// Result returns the final result once Stop has run
func (tx *Transaction) Result() error { return tx.result }

// Stopped reports whether Stop has run
func (tx *Transaction) Stopped() bool { return tx.destroyed }

func (tx *Transaction) link(dev Device, h *Handle) *SubTransaction {
	h.top = tx
	return &SubTransaction{device: dev, handle: h, parent: tx}
}

// Attach returns the local transaction of dev inside tx, creating it on first use.
// The master device maps to the master handle. Creating a new participant makes the
// transaction synchronous.
func (tx *Transaction) Attach(ctx context.Context, dev Device) (*Handle, error) {
	if tx.destroyed {
		return nil, ErrDestroyed
	}

	id := dev.ID()
	if id == tx.master.device.ID() {
		return tx.master.handle, nil
	}
	// single writer, so the index needs no lock
	if st, ok := tx.index[id]; ok {
		return st.handle, nil
	}

	if tx.coord.maxParticipants > 0 && len(tx.subs) >= tx.coord.maxParticipants {
		tx.coord.metrics.add(&tx.coord.metrics.allocFailed, 1)
		GetLogger().Warn("Participant limit reached %s=%s device=%s limit=%d",
			MetricAllocFailed, tx.id, id, tx.coord.maxParticipants)
		return nil, &Error{TxnID: tx.id, Device: id, Op: OpAllocate, Err: errParticipantsExhausted}
	}

	h, err := dev.CreateLocal(ctx)
	if err == nil && h == nil {
		err = errNilHandle
	}
	if err != nil {
		return nil, &Error{TxnID: tx.id, Device: id, Op: OpCreate, Err: err}
	}

	// Mixed transactions stay synchronous: there is no cross-device replay that could
	// finish a half-committed update after a crash.
	tx.Sync = true

	st := tx.link(dev, h)
	tx.subs = append(tx.subs, st)
	tx.index[id] = st

	tx.coord.metrics.add(&tx.coord.metrics.attached, 1)
	GetLogger().Debug("Participant attached %s=%s device=%s participants=%d", MetricAttach, tx.id, id, len(tx.subs)+1)
	return h, nil
}

// Lookup returns the sub-transaction of an already attached device. The master is
// found under its own device ID.
func (tx *Transaction) Lookup(id DeviceID) (*SubTransaction, error) {
	if tx.destroyed {
		return nil, ErrDestroyed
	}
	if id == tx.master.device.ID() {
		return tx.master, nil
	}
	if st, ok := tx.index[id]; ok {
		return st, nil
	}
	return nil, ErrNotFound
}

// destroy releases the registry and the transaction slot. Local handles were disposed
// by their devices during Stop.
func (tx *Transaction) destroy() {
	entries := len(tx.subs)
	for i := range tx.subs {
		tx.subs[i].parent = nil
		tx.subs[i] = nil
	}
	tx.subs = nil
	tx.index = nil
	tx.destroyed = true
	tx.coord.release(entries)
}
