package file

import (
	"fmt"

	"github.com/spf13/afero"

	"github.com/YoshitsuguKoike/mdtxn/internal/domain/distxn"
)

// MetricsStore persists coordinator counters across runs
type MetricsStore struct {
	fs   afero.Fs
	path string
}

// NewMetricsStore creates a store at path
func NewMetricsStore(fs afero.Fs, path string) *MetricsStore {
	return &MetricsStore{fs: fs, path: path}
}

// Load returns the persisted snapshot, or a zero snapshot when none exists
func (s *MetricsStore) Load() (distxn.Snapshot, error) {
	var snap distxn.Snapshot
	if _, err := ReadJSON(s.fs, s.path, &snap); err != nil {
		return distxn.Snapshot{}, fmt.Errorf("load metrics: %w", err)
	}
	return snap, nil
}

// Add folds the counters of one run into the persisted snapshot and returns the total
func (s *MetricsStore) Add(run distxn.Snapshot) (distxn.Snapshot, error) {
	total, err := s.Load()
	if err != nil {
		return distxn.Snapshot{}, err
	}
	total = total.Merge(run)
	if err := WriteJSONAtomic(s.fs, s.path, total); err != nil {
		return distxn.Snapshot{}, fmt.Errorf("save metrics: %w", err)
	}
	return total, nil
}
