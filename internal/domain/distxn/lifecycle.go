package distxn

import (
	"context"
	"time"
)

func (tx *Transaction) propagateFlags() {
	// a caller may have cleared Sync after Attach; participants still commit durably
	if len(tx.subs) > 0 {
		tx.Sync = true
	}
	for _, st := range tx.subs {
		st.handle.Sync = tx.Sync
		st.handle.LocalOnly = tx.LocalOnly
	}
	tx.master.handle.Sync = tx.Sync
	tx.master.handle.LocalOnly = tx.LocalOnly
}

// Start starts every attached participant in attach order and the master last.
//
// The first participant that fails to start ends Start: the master and the remaining
// participants are not started and nothing is rolled back. Stop must still be called
// to release whatever did start.
func (tx *Transaction) Start(ctx context.Context) error {
	if tx.destroyed {
		return ErrDestroyed
	}
	tx.startedAt = time.Now()
	tx.propagateFlags()

	for _, st := range tx.subs {
		if err := st.device.StartLocal(ctx, st.handle); err != nil {
			tx.coord.metrics.add(&tx.coord.metrics.startFailed, 1)
			GetLogger().Warn("Participant start failed %s=%s device=%s error=%v",
				MetricStartFailed, tx.id, st.device.ID(), err)
			return &Error{TxnID: tx.id, Device: st.device.ID(), Op: OpStart, Err: err}
		}
	}

	if err := tx.master.device.StartLocal(ctx, tx.master.handle); err != nil {
		tx.coord.metrics.add(&tx.coord.metrics.startFailed, 1)
		GetLogger().Warn("Master start failed %s=%s device=%s error=%v",
			MetricStartFailed, tx.id, tx.master.device.ID(), err)
		return &Error{TxnID: tx.id, Device: tx.master.device.ID(), Op: OpStart, Err: err}
	}
	return nil
}

// Stop stops the master and then every participant in attach order, and destroys the
// transaction. Every participant is stopped even after a failure; once a failure has
// been seen it is recorded on the following participants' handles so they abort.
// The first failure is returned.
func (tx *Transaction) Stop(ctx context.Context) error {
	if tx.destroyed {
		return ErrDestroyed
	}

	tx.propagateFlags()
	participants := tx.Participants()

	// The master goes first: stopping a remote participant may wait on the network and
	// the master's resources should not be held across that.
	rc := tx.stopOne(ctx, tx.master)

	for _, st := range tx.subs {
		if rc != nil {
			st.handle.Result = rc
		}
		if err := tx.stopOne(ctx, st); err != nil && rc == nil {
			rc = err
		}
	}

	tx.result = rc
	outcome := Outcome{
		TxnID:        tx.id,
		Master:       participants[0],
		Participants: participants,
		Sync:         tx.Sync,
		LocalOnly:    tx.LocalOnly,
		StartedAt:    tx.startedAt,
		StoppedAt:    time.Now(),
		Err:          rc,
	}

	tx.destroy()

	var elapsed time.Duration
	if !tx.startedAt.IsZero() {
		elapsed = outcome.StoppedAt.Sub(tx.startedAt)
	}
	if rc != nil {
		GetLogger().Warn("Transaction stop failed %s=%s code=%d error=%v", MetricStopFailed, tx.id, Code(rc), rc)
	} else {
		GetLogger().Info("Transaction stopped %s=%s participants=%d sync=%t %s=%d",
			MetricStopSuccess, tx.id, len(participants), outcome.Sync,
			MetricStopDurationMs, elapsed.Milliseconds())
	}
	tx.coord.notify(ctx, outcome)
	return rc
}

func (tx *Transaction) stopOne(ctx context.Context, st *SubTransaction) error {
	err := st.device.StopLocal(ctx, st.handle)
	GetLogger().Debug("Participant stopped %s=%s device=%s error=%v", MetricParticipantStop, tx.id, st.device.ID(), err)
	if err != nil {
		return &Error{TxnID: tx.id, Device: st.device.ID(), Op: OpStop, Err: err}
	}
	return nil
}
