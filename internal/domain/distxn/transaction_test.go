package distxn

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestCreate_LinksMaster(t *testing.T) {
	log := &callLog{}
	m := newFakeDevice("mdt0", log)
	c := NewCoordinator(Config{})

	tx, err := c.Create(context.Background(), m)
	require.NoError(t, err)

	assert.NotEmpty(t, tx.ID())
	assert.Equal(t, DeviceID("mdt0"), tx.Master().Device())
	assert.Same(t, tx, tx.Master().Top())
	assert.Same(t, m, tx.MasterDevice())
	assert.Empty(t, tx.SubTransactions())
	assert.False(t, tx.Sync)
	assert.Equal(t, 1, m.creates)

	require.NoError(t, tx.Stop(context.Background()))
}

func TestCreate_AllocationFailureMakesNoDeviceCall(t *testing.T) {
	log := &callLog{}
	m := newFakeDevice("mdt0", log)
	c := NewCoordinator(Config{MaxTransactions: 1})
	ctx := context.Background()

	first, err := c.Create(ctx, m)
	require.NoError(t, err)

	second, err := c.Create(ctx, m)
	require.Error(t, err)
	assert.Nil(t, second)
	assert.True(t, errors.Is(err, ErrAllocation))
	assert.Equal(t, OpAllocate, err.(*Error).Op)
	assert.Equal(t, 1, m.creates, "no local transaction may be created when allocation fails")
	assert.Equal(t, int64(1), c.Metrics().Snapshot().AllocFailed)

	require.NoError(t, first.Stop(ctx))

	// the slot is returned by Stop
	third, err := c.Create(ctx, m)
	require.NoError(t, err)
	require.NoError(t, third.Stop(ctx))
}

func TestCreate_DeviceFailureReleasesSlot(t *testing.T) {
	log := &callLog{}
	devErr := errors.New("journal full")
	m := newFakeDevice("mdt0", log)
	m.createErr = devErr
	c := NewCoordinator(Config{MaxTransactions: 1})
	ctx := context.Background()

	tx, err := c.Create(ctx, m)
	require.Error(t, err)
	assert.Nil(t, tx)
	assert.True(t, errors.Is(err, ErrDeviceCreate))
	assert.True(t, errors.Is(err, devErr))

	m.createErr = nil
	tx, err = c.Create(ctx, m)
	require.NoError(t, err, "failed create must not keep the slot")
	require.NoError(t, tx.Stop(ctx))

	snap := c.Metrics().Snapshot()
	assert.Equal(t, int64(1), snap.CreateFailed)
	assert.Equal(t, int64(1), snap.Created)
}

func TestAttach_SameDeviceTwiceReturnsSameHandle(t *testing.T) {
	log := &callLog{}
	m := newFakeDevice("mdt0", log)
	a := newFakeDevice("mdt1", log)
	ctx := context.Background()

	tx, err := NewCoordinator(Config{}).Create(ctx, m)
	require.NoError(t, err)

	h1, err := tx.Attach(ctx, a)
	require.NoError(t, err)
	h2, err := tx.Attach(ctx, a)
	require.NoError(t, err)

	assert.Same(t, h1, h2)
	assert.Equal(t, 1, a.creates)
	assert.Len(t, tx.SubTransactions(), 1)
	assert.Same(t, tx, h1.Top())

	require.NoError(t, tx.Stop(ctx))
	assert.Equal(t, 1, a.stops)
}

func TestAttach_MasterDeviceReturnsMasterHandle(t *testing.T) {
	log := &callLog{}
	m := newFakeDevice("mdt0", log)
	ctx := context.Background()

	tx, err := NewCoordinator(Config{}).Create(ctx, m)
	require.NoError(t, err)

	h, err := tx.Attach(ctx, newFakeDevice("mdt0", log))
	require.NoError(t, err)

	assert.Same(t, tx.Master(), h)
	assert.Empty(t, tx.SubTransactions())
	assert.False(t, tx.Sync, "a master-only transaction may stay asynchronous")
	assert.Equal(t, 1, m.creates)

	require.NoError(t, tx.Stop(ctx))
}

func TestAttach_ForcesSync(t *testing.T) {
	log := &callLog{}
	m := newFakeDevice("mdt0", log)
	a := newFakeDevice("mdt1", log)
	ctx := context.Background()

	tx, err := NewCoordinator(Config{}).Create(ctx, m)
	require.NoError(t, err)
	require.False(t, tx.Sync)

	_, err = tx.Attach(ctx, a)
	require.NoError(t, err)
	assert.True(t, tx.Sync)

	require.NoError(t, tx.Start(ctx))
	assert.True(t, a.syncAtStart)
	assert.True(t, m.syncAtStart)
	require.NoError(t, tx.Stop(ctx))
}

func TestStart_ParticipantKeepsSyncWhenCleared(t *testing.T) {
	log := &callLog{}
	m := newFakeDevice("mdt0", log)
	a := newFakeDevice("mdt1", log)
	ctx := context.Background()

	tx, err := NewCoordinator(Config{}).Create(ctx, m)
	require.NoError(t, err)
	_, err = tx.Attach(ctx, a)
	require.NoError(t, err)
	tx.Sync = false

	require.NoError(t, tx.Start(ctx))
	assert.True(t, tx.Sync)
	assert.True(t, a.syncAtStart)
	assert.True(t, m.syncAtStart)
	require.NoError(t, tx.Stop(ctx))
}

func TestStart_MasterOnlyMayStayAsync(t *testing.T) {
	log := &callLog{}
	m := newFakeDevice("mdt0", log)
	ctx := context.Background()

	tx, err := NewCoordinator(Config{}).Create(ctx, m)
	require.NoError(t, err)

	require.NoError(t, tx.Start(ctx))
	assert.False(t, m.syncAtStart)
	require.NoError(t, tx.Stop(ctx))
}

func TestAttach_ParticipantLimit(t *testing.T) {
	log := &callLog{}
	m := newFakeDevice("mdt0", log)
	a := newFakeDevice("mdt1", log)
	b := newFakeDevice("mdt2", log)
	ctx := context.Background()

	tx, err := NewCoordinator(Config{MaxParticipants: 1}).Create(ctx, m)
	require.NoError(t, err)

	_, err = tx.Attach(ctx, a)
	require.NoError(t, err)

	h, err := tx.Attach(ctx, b)
	require.Error(t, err)
	assert.Nil(t, h)
	assert.True(t, errors.Is(err, ErrAllocation))
	assert.Equal(t, 0, b.creates, "no local transaction may be created when allocation fails")

	_, err = tx.Lookup(b.ID())
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, tx.Stop(ctx))
	assert.Equal(t, 0, b.stops)
}

func TestAttach_DeviceCreateFailureIsNotRegistered(t *testing.T) {
	log := &callLog{}
	m := newFakeDevice("mdt0", log)
	a := newFakeDevice("mdt1", log)
	a.createErr = syscall.ENOTCONN
	ctx := context.Background()

	tx, err := NewCoordinator(Config{}).Create(ctx, m)
	require.NoError(t, err)

	_, err = tx.Attach(ctx, a)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDeviceCreate))
	assert.Equal(t, -int(syscall.ENOTCONN), Code(err))
	assert.False(t, tx.Sync)

	_, err = tx.Lookup(a.ID())
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, tx.Stop(ctx))
	assert.Equal(t, []string{"mdt0"}, log.only("stop"))
}

func TestLookup(t *testing.T) {
	log := &callLog{}
	m := newFakeDevice("mdt0", log)
	a := newFakeDevice("mdt1", log)
	ctx := context.Background()

	tx, err := NewCoordinator(Config{}).Create(ctx, m)
	require.NoError(t, err)

	st, err := tx.Lookup("mdt0")
	require.NoError(t, err)
	assert.Same(t, tx.Master(), st.Handle())
	assert.Same(t, m, st.Device())
	assert.Same(t, tx, st.Parent())

	_, err = tx.Lookup("mdt1")
	assert.ErrorIs(t, err, ErrNotFound)

	attached, err := tx.Attach(ctx, a)
	require.NoError(t, err)

	st, err = tx.Lookup("mdt1")
	require.NoError(t, err)
	assert.Same(t, attached, st.Handle())
	assert.Same(t, a, st.Device())
	assert.Equal(t, 1, a.creates, "Lookup never creates")

	require.NoError(t, tx.Stop(ctx))
}

func TestStop_CallsEveryDeviceOnce(t *testing.T) {
	for n := 0; n <= 5; n++ {
		t.Run(fmt.Sprintf("%d participants", n), func(t *testing.T) {
			log := &callLog{}
			m := newFakeDevice("mdt0", log)
			ctx := context.Background()

			tx, err := NewCoordinator(Config{}).Create(ctx, m)
			require.NoError(t, err)

			devices := make([]*fakeDevice, n)
			for i := range devices {
				devices[i] = newFakeDevice(fmt.Sprintf("ost%d", i), log)
				// attach twice to check the registry stays unique
				_, err := tx.Attach(ctx, devices[i])
				require.NoError(t, err)
				_, err = tx.Attach(ctx, devices[i])
				require.NoError(t, err)
			}

			require.NoError(t, tx.Start(ctx))
			require.NoError(t, tx.Stop(ctx))

			assert.Equal(t, 1, m.stops)
			for _, d := range devices {
				assert.Equal(t, 1, d.creates)
				assert.Equal(t, 1, d.stops)
			}
			assert.Len(t, log.only("stop"), n+1)
			assert.Equal(t, n > 0, tx.Sync)
		})
	}
}

func TestScenario_StartStopOrderAndFailure(t *testing.T) {
	log := &callLog{}
	m := newFakeDevice("M", log)
	a := newFakeDevice("A", log)
	b := newFakeDevice("B", log)
	a.stopErr = syscall.EIO
	ctx := context.Background()

	tx, err := NewCoordinator(Config{}).Create(ctx, m)
	require.NoError(t, err)
	_, err = tx.Attach(ctx, a)
	require.NoError(t, err)
	_, err = tx.Attach(ctx, b)
	require.NoError(t, err)

	require.NoError(t, tx.Start(ctx))
	assert.Equal(t, []string{"A", "B", "M"}, log.only("start"))

	err = tx.Stop(ctx)
	require.Error(t, err)
	assert.Equal(t, []string{"M", "A", "B"}, log.only("stop"))
	assert.Equal(t, -5, Code(err))
	assert.ErrorIs(t, err, syscall.EIO)
	assert.ErrorIs(t, err, ErrDeviceStop)

	var txErr *Error
	require.True(t, errors.As(err, &txErr))
	assert.Equal(t, DeviceID("A"), txErr.Device)

	// B saw A's failure before it was stopped
	assert.ErrorIs(t, b.resultAtStop, syscall.EIO)
	assert.Nil(t, m.resultAtStop)
}

func TestStop_FirstErrorWins(t *testing.T) {
	log := &callLog{}
	errA := errors.New("master commit failed")
	errB := errors.New("remote commit failed")
	m := newFakeDevice("M", log)
	b := newFakeDevice("B", log)
	m.stopErr = errA
	b.stopErr = errB
	ctx := context.Background()

	tx, err := NewCoordinator(Config{}).Create(ctx, m)
	require.NoError(t, err)
	_, err = tx.Attach(ctx, b)
	require.NoError(t, err)
	require.NoError(t, tx.Start(ctx))

	err = tx.Stop(ctx)
	assert.ErrorIs(t, err, errA)
	assert.NotErrorIs(t, err, errB)
	assert.Same(t, err, tx.Result())

	// the participant was told about the master's failure and still stopped
	assert.Equal(t, 1, b.stops)
	assert.ErrorIs(t, b.resultAtStop, errA)
}

func TestStart_FailureLeavesRestUnstarted(t *testing.T) {
	log := &callLog{}
	m := newFakeDevice("M", log)
	a := newFakeDevice("A", log)
	b := newFakeDevice("B", log)
	a.startErr = syscall.ETIMEDOUT
	ctx := context.Background()

	tx, err := NewCoordinator(Config{}).Create(ctx, m)
	require.NoError(t, err)
	_, err = tx.Attach(ctx, a)
	require.NoError(t, err)
	_, err = tx.Attach(ctx, b)
	require.NoError(t, err)

	err = tx.Start(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDeviceStart)
	assert.ErrorIs(t, err, syscall.ETIMEDOUT)
	assert.Equal(t, []string{"A"}, log.only("start"))
	assert.Equal(t, 0, m.starts)
	assert.Equal(t, 0, b.starts)
	assert.False(t, tx.Stopped(), "a failed start does not unwind anything")

	// the caller still stops everything
	tx.Master().Result = err
	stopErr := tx.Stop(ctx)
	assert.ErrorIs(t, stopErr, syscall.ETIMEDOUT)
	assert.Equal(t, []string{"M", "A", "B"}, log.only("stop"))
}

func TestStart_PropagatesFlagsBeforeAnyStart(t *testing.T) {
	log := &callLog{}
	m := newFakeDevice("M", log)
	a := newFakeDevice("A", log)
	ctx := context.Background()

	tx, err := NewCoordinator(Config{}).Create(ctx, m)
	require.NoError(t, err)
	_, err = tx.Attach(ctx, a)
	require.NoError(t, err)
	tx.LocalOnly = true

	require.NoError(t, tx.Start(ctx))
	assert.True(t, a.masterSyncAtStart, "master flags are set before the first participant starts")
	assert.True(t, tx.Master().LocalOnly)

	sub := tx.SubTransactions()[0]
	assert.True(t, sub.Handle().LocalOnly)
	assert.True(t, sub.Handle().Sync)

	require.NoError(t, tx.Stop(ctx))
}

func TestStop_DestroysTransaction(t *testing.T) {
	log := &callLog{}
	m := newFakeDevice("M", log)
	ctx := context.Background()
	c := NewCoordinator(Config{})

	tx, err := c.Create(ctx, m)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := tx.Attach(ctx, newFakeDevice(fmt.Sprintf("ost%d", i), log))
		require.NoError(t, err)
	}
	subs := tx.SubTransactions()
	require.NoError(t, tx.Start(ctx))
	require.NoError(t, tx.Stop(ctx))

	snap := c.Metrics().Snapshot()
	assert.Equal(t, int64(3), snap.EntriesReleased)
	assert.Equal(t, int64(1), snap.TxnsReleased)
	assert.Equal(t, int64(1), snap.Committed)
	for _, st := range subs {
		assert.Nil(t, st.Parent())
	}

	assert.True(t, tx.Stopped())
	assert.ErrorIs(t, tx.Stop(ctx), ErrDestroyed)
	assert.ErrorIs(t, tx.Start(ctx), ErrDestroyed)
	_, err = tx.Attach(ctx, m)
	assert.ErrorIs(t, err, ErrDestroyed)
	_, err = tx.Lookup("M")
	assert.ErrorIs(t, err, ErrDestroyed)

	// nothing was released twice
	snap = c.Metrics().Snapshot()
	assert.Equal(t, int64(3), snap.EntriesReleased)
	assert.Equal(t, int64(1), snap.TxnsReleased)
}

func TestStop_FailureStillDestroys(t *testing.T) {
	log := &callLog{}
	m := newFakeDevice("M", log)
	m.stopErr = syscall.EROFS
	ctx := context.Background()
	c := NewCoordinator(Config{MaxTransactions: 1})

	tx, err := c.Create(ctx, m)
	require.NoError(t, err)
	require.NoError(t, tx.Start(ctx))
	require.Error(t, tx.Stop(ctx))

	snap := c.Metrics().Snapshot()
	assert.Equal(t, int64(1), snap.Failed)
	assert.Equal(t, int64(1), snap.TxnsReleased)

	m.stopErr = nil
	next, err := c.Create(ctx, m)
	require.NoError(t, err)
	require.NoError(t, next.Stop(ctx))
}

func TestObserverReceivesOutcome(t *testing.T) {
	log := &callLog{}
	obs := &recordingObserver{}
	m := newFakeDevice("M", log)
	a := newFakeDevice("A", log)
	a.stopErr = syscall.EIO
	ctx := context.Background()

	tx, err := NewCoordinator(Config{Observers: []Observer{obs}}).Create(ctx, m)
	require.NoError(t, err)
	_, err = tx.Attach(ctx, a)
	require.NoError(t, err)
	require.NoError(t, tx.Start(ctx))
	_ = tx.Stop(ctx)

	require.Len(t, obs.outcomes, 1)
	o := obs.outcomes[0]
	assert.Equal(t, tx.ID(), o.TxnID)
	assert.Equal(t, DeviceID("M"), o.Master)
	assert.Equal(t, []DeviceID{"M", "A"}, o.Participants)
	assert.True(t, o.Sync)
	assert.Equal(t, -5, o.Code())
	assert.False(t, o.StoppedAt.Before(o.StartedAt))
}

func TestInTransaction(t *testing.T) {
	t.Run("commits", func(t *testing.T) {
		log := &callLog{}
		m := newFakeDevice("M", log)
		a := newFakeDevice("A", log)

		err := NewCoordinator(Config{}).InTransaction(context.Background(), m,
			func(tx *Transaction) error {
				_, err := tx.Attach(context.Background(), a)
				return err
			},
			func(tx *Transaction) error {
				st, err := tx.Lookup("A")
				if err != nil {
					return err
				}
				assert.True(t, st.Handle().Sync)
				return nil
			})
		require.NoError(t, err)
		assert.Equal(t, []string{"A", "M"}, log.only("start"))
		assert.Equal(t, []string{"M", "A"}, log.only("stop"))
		assert.Nil(t, m.resultAtStop)
		assert.Nil(t, a.resultAtStop)
	})

	t.Run("execute failure aborts every participant", func(t *testing.T) {
		log := &callLog{}
		m := newFakeDevice("M", log)
		a := newFakeDevice("A", log)
		opErr := errors.New("directory not empty")

		err := NewCoordinator(Config{}).InTransaction(context.Background(), m,
			func(tx *Transaction) error {
				_, err := tx.Attach(context.Background(), a)
				return err
			},
			func(tx *Transaction) error { return opErr })
		assert.ErrorIs(t, err, opErr)
		assert.ErrorIs(t, m.resultAtStop, opErr)
		assert.ErrorIs(t, a.resultAtStop, opErr)
	})

	t.Run("declare failure skips start", func(t *testing.T) {
		log := &callLog{}
		m := newFakeDevice("M", log)
		a := newFakeDevice("A", log)
		a.createErr = syscall.EHOSTUNREACH

		err := NewCoordinator(Config{}).InTransaction(context.Background(), m,
			func(tx *Transaction) error {
				_, err := tx.Attach(context.Background(), a)
				return err
			}, nil)
		assert.ErrorIs(t, err, ErrDeviceCreate)
		assert.Empty(t, log.only("start"))
		assert.Equal(t, []string{"M"}, log.only("stop"))
	})
}

func TestConcurrentTransactions(t *testing.T) {
	c := NewCoordinator(Config{MaxTransactions: 64})
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 32)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			log := &callLog{}
			m := newFakeDevice(fmt.Sprintf("mdt%d", i), log)
			errs <- c.InTransaction(ctx, m, func(tx *Transaction) error {
				_, err := tx.Attach(ctx, newFakeDevice("ost0", log))
				return err
			}, nil)
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	snap := c.Metrics().Snapshot()
	assert.Equal(t, int64(32), snap.Created)
	assert.Equal(t, int64(32), snap.Committed)
	assert.Equal(t, int64(32), snap.TxnsReleased)
}

func TestCode(t *testing.T) {
	assert.Equal(t, 0, Code(nil))
	assert.Equal(t, -int(syscall.EIO), Code(syscall.EIO))
	assert.Equal(t, -int(syscall.EIO), Code(fmt.Errorf("wrapped: %w", syscall.EIO)))
	assert.Equal(t, -1, Code(errors.New("plain")))
	assert.Equal(t, -7, Code(codedErr(-7)))
}

type codedErr int

func (e codedErr) Error() string { return fmt.Sprintf("status %d", int(e)) }
func (e codedErr) Code() int     { return int(e) }

func TestNewDeviceID(t *testing.T) {
	composed, err := NewDeviceID("  mdt\u00e9 ")
	require.NoError(t, err)
	decomposed, err := NewDeviceID("mdte\u0301")
	require.NoError(t, err)
	assert.Equal(t, composed, decomposed)
	assert.Equal(t, "mdt\u00e9", composed.String())

	_, err = NewDeviceID(" ")
	assert.Error(t, err)
	_, err = NewDeviceID("a/b")
	assert.Error(t, err)
}
