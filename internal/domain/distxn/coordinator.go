package distxn

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/semaphore"
)

// Outcome summarizes one stopped transaction
type Outcome struct {
	TxnID        string
	Master       DeviceID
	Participants []DeviceID
	Sync         bool
	LocalOnly    bool
	StartedAt    time.Time
	StoppedAt    time.Time
	Err          error
}

// Code returns the status code of the outcome
func (o Outcome) Code() int {
	return Code(o.Err)
}

// Observer is notified after every Stop, once the transaction has been destroyed.
type Observer interface {
	TransactionStopped(ctx context.Context, outcome Outcome)
}

// Config configures a Coordinator
type Config struct {
	// MaxTransactions bounds the number of live transactions. Zero means unbounded.
	MaxTransactions int

	// MaxParticipants bounds the non-master participants of one transaction.
	// Zero means unbounded.
	MaxParticipants int

	// Metrics receives counters; a private collector is used when nil.
	Metrics *Metrics

	// Observers are called after each Stop.
	Observers []Observer
}

// Coordinator creates distributed transactions and accounts for their resources.
// A Coordinator is safe for concurrent use; the transactions it creates are not.
type Coordinator struct {
	slots           *semaphore.Weighted
	maxParticipants int
	metrics         *Metrics
	observers       []Observer
}

var (
	errSlotsExhausted        = errors.New("no free transaction slot")
	errParticipantsExhausted = errors.New("participant limit reached")
	errNilHandle             = errors.New("device returned no handle")
)

// NewCoordinator creates a coordinator
func NewCoordinator(cfg Config) *Coordinator {
	limit := int64(cfg.MaxTransactions)
	if limit <= 0 {
		limit = math.MaxInt64
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = NewMetrics()
	}
	return &Coordinator{
		slots:           semaphore.NewWeighted(limit),
		maxParticipants: cfg.MaxParticipants,
		metrics:         metrics,
		observers:       cfg.Observers,
	}
}

// Metrics returns the coordinator's collector
func (c *Coordinator) Metrics() *Metrics {
	return c.metrics
}

// Create starts a distributed transaction on master. The master's local transaction is
// created immediately; no device call is made when no slot is free.
func (c *Coordinator) Create(ctx context.Context, master Device) (*Transaction, error) {
	id := ulid.Make().String()

	if !c.slots.TryAcquire(1) {
		c.metrics.add(&c.metrics.allocFailed, 1)
		GetLogger().Warn("Transaction slot exhausted %s=%s master=%s", MetricAllocFailed, id, master.ID())
		return nil, &Error{TxnID: id, Device: master.ID(), Op: OpAllocate, Err: errSlotsExhausted}
	}

	h, err := master.CreateLocal(ctx)
	if err == nil && h == nil {
		err = errNilHandle
	}
	if err != nil {
		c.slots.Release(1)
		c.metrics.add(&c.metrics.createFailed, 1)
		return nil, &Error{TxnID: id, Device: master.ID(), Op: OpCreate, Err: err}
	}

	tx := &Transaction{
		id:    id,
		coord: c,
		index: make(map[DeviceID]*SubTransaction),
	}
	tx.master = tx.link(master, h)

	c.metrics.add(&c.metrics.created, 1)
	GetLogger().Debug("Transaction created %s=%s master=%s", MetricCreateSuccess, id, master.ID())
	return tx, nil
}

// InTransaction runs the usual lifecycle: declare attaches participants, execute records
// updates once every participant has started, and Stop always runs once Create succeeded.
// A declare or execute error is recorded on the master so that every participant aborts,
// and that error is returned instead of the stop result.
func (c *Coordinator) InTransaction(
	ctx context.Context,
	master Device,
	declare func(tx *Transaction) error,
	execute func(tx *Transaction) error,
) error {
	tx, err := c.Create(ctx, master)
	if err != nil {
		return err
	}

	var opErr error
	if declare != nil {
		opErr = declare(tx)
	}
	if opErr == nil {
		opErr = tx.Start(ctx)
	}
	if opErr == nil && execute != nil {
		opErr = execute(tx)
	}
	if opErr != nil {
		tx.Master().Result = opErr
	}

	stopErr := tx.Stop(ctx)
	if opErr != nil {
		return opErr
	}
	return stopErr
}

func (c *Coordinator) release(entries int) {
	c.metrics.add(&c.metrics.entriesReleased, int64(entries))
	c.metrics.add(&c.metrics.txnsReleased, 1)
	c.slots.Release(1)
}

func (c *Coordinator) notify(ctx context.Context, o Outcome) {
	if o.Err != nil {
		c.metrics.add(&c.metrics.failed, 1)
	} else {
		c.metrics.add(&c.metrics.committed, 1)
	}
	for _, obs := range c.observers {
		obs.TransactionStopped(ctx, o)
	}
}
