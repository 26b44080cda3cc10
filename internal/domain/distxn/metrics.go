package distxn

import (
	"sync"
	"time"
)

// Metric keys used in log lines
const (
	MetricCreateSuccess   = "txn.create.success"
	MetricAllocFailed     = "txn.alloc.failed"
	MetricAttach          = "txn.attach.count"
	MetricStartFailed     = "txn.start.failed"
	MetricStopSuccess     = "txn.stop.success"
	MetricStopFailed      = "txn.stop.failed"
	MetricStopDurationMs  = "txn.stop.duration_ms"
	MetricParticipantStop = "txn.participant.stop"
)

// Metrics counts coordinator events. It is safe for concurrent use.
type Metrics struct {
	mu              sync.RWMutex
	created         int64
	allocFailed     int64
	createFailed    int64
	attached        int64
	startFailed     int64
	committed       int64
	failed          int64
	entriesReleased int64
	txnsReleased    int64
	lastUpdate      time.Time
}

// Snapshot is a point-in-time copy of Metrics
type Snapshot struct {
	Created         int64  `json:"created" yaml:"created"`
	AllocFailed     int64  `json:"alloc_failed" yaml:"alloc_failed"`
	CreateFailed    int64  `json:"create_failed" yaml:"create_failed"`
	Attached        int64  `json:"attached" yaml:"attached"`
	StartFailed     int64  `json:"start_failed" yaml:"start_failed"`
	Committed       int64  `json:"committed" yaml:"committed"`
	Failed          int64  `json:"failed" yaml:"failed"`
	EntriesReleased int64  `json:"entries_released" yaml:"entries_released"`
	TxnsReleased    int64  `json:"txns_released" yaml:"txns_released"`
	LastUpdate      string `json:"last_update" yaml:"last_update"`
}

// NewMetrics creates an empty collector
func NewMetrics() *Metrics {
	return &Metrics{}
}

func (m *Metrics) add(field *int64, n int64) {
	m.mu.Lock()
	*field += n
	m.lastUpdate = time.Now().UTC()
	m.mu.Unlock()
}

// Snapshot returns a copy of the current counters
func (m *Metrics) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := Snapshot{
		Created:         m.created,
		AllocFailed:     m.allocFailed,
		CreateFailed:    m.createFailed,
		Attached:        m.attached,
		StartFailed:     m.startFailed,
		Committed:       m.committed,
		Failed:          m.failed,
		EntriesReleased: m.entriesReleased,
		TxnsReleased:    m.txnsReleased,
	}
	if !m.lastUpdate.IsZero() {
		s.LastUpdate = m.lastUpdate.Format(time.RFC3339)
	}
	return s
}

// Merge adds other onto s. Used when folding a persisted snapshot into the live one.
func (s Snapshot) Merge(other Snapshot) Snapshot {
	return Snapshot{
		Created:         s.Created + other.Created,
		AllocFailed:     s.AllocFailed + other.AllocFailed,
		CreateFailed:    s.CreateFailed + other.CreateFailed,
		Attached:        s.Attached + other.Attached,
		StartFailed:     s.StartFailed + other.StartFailed,
		Committed:       s.Committed + other.Committed,
		Failed:          s.Failed + other.Failed,
		EntriesReleased: s.EntriesReleased + other.EntriesReleased,
		TxnsReleased:    s.TxnsReleased + other.TxnsReleased,
		LastUpdate:      time.Now().UTC().Format(time.RFC3339),
	}
}
