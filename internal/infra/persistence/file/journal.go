package file

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/YoshitsuguKoike/mdtxn/internal/domain/distxn"
)

// JournalRecord is one line of the outcome journal
type JournalRecord struct {
	TS           time.Time `json:"ts"`
	TxnID        string    `json:"txn_id"`
	Master       string    `json:"master"`
	Participants []string  `json:"participants"`
	Sync         bool      `json:"sync"`
	LocalOnly    bool      `json:"local_only,omitempty"`
	Code         int       `json:"code"`
	Error        string    `json:"error,omitempty"`
	DurationMs   int64     `json:"duration_ms"`
}

// Journal appends one NDJSON record per stopped transaction. It implements
// distxn.Observer.
type Journal struct {
	fs   afero.Fs
	path string
	mu   sync.Mutex
}

// NewJournal creates a journal at path
func NewJournal(fs afero.Fs, path string) *Journal {
	return &Journal{fs: fs, path: path}
}

// Path returns the journal file path
func (j *Journal) Path() string { return j.path }

// TransactionStopped records o. A journal failure never changes the transaction result.
func (j *Journal) TransactionStopped(ctx context.Context, o distxn.Outcome) {
	rec := JournalRecord{
		TS:        o.StoppedAt.UTC(),
		TxnID:     o.TxnID,
		Master:    o.Master.String(),
		Sync:      o.Sync,
		LocalOnly: o.LocalOnly,
		Code:      o.Code(),
	}
	for _, p := range o.Participants {
		rec.Participants = append(rec.Participants, p.String())
	}
	if o.Err != nil {
		rec.Error = o.Err.Error()
	}
	if !o.StartedAt.IsZero() {
		rec.DurationMs = o.StoppedAt.Sub(o.StartedAt).Milliseconds()
	}

	if err := j.Append(rec); err != nil {
		distxn.GetLogger().Warn("Journal append failed path=%s txn=%s error=%v", j.path, o.TxnID, err)
	}
}

// Append writes rec as one line
func (j *Journal) Append(rec JournalRecord) error {
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal journal record: %w", err)
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.fs.MkdirAll(filepath.Dir(j.path), 0o755); err != nil {
		return fmt.Errorf("create journal directory: %w", err)
	}
	f, err := j.fs.OpenFile(j.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write journal: %w", err)
	}
	return f.Sync()
}

// Read returns every record in append order. A missing journal is empty.
func (j *Journal) Read() ([]JournalRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	f, err := j.fs.Open(j.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	defer f.Close()

	var records []JournalRecord
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var rec JournalRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			return records, fmt.Errorf("journal line %d: %w", line, err)
		}
		records = append(records, rec)
	}
	return records, scanner.Err()
}
