package txn

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/YoshitsuguKoike/mdtxn/internal/infra/fs"
)

// Scanner classifies the transaction work directories of a device.
type Scanner struct {
	// Base directory to scan (<root>/txn)
	BaseDir string
}

// NewScanner creates a new transaction scanner.
func NewScanner(baseDir string) *Scanner {
	return &Scanner{BaseDir: baseDir}
}

// ScanResult represents the result of a transaction scan.
type ScanResult struct {
	TotalFound int

	// Transactions with intent but no commit (need forward recovery)
	IntentOnly []TxnID

	// Transactions with commit marker (can be cleaned up)
	Committed []TxnID

	// Transactions still staging, or abandoned before intent
	Incomplete []TxnID

	// Last modification of each incomplete transaction directory
	ModTimes map[TxnID]time.Time

	ScannedAt time.Time
}

// Scan walks the first level of the base directory. IDs in each class are sorted, which
// is creation order.
func (s *Scanner) Scan() (*ScanResult, error) {
	result := &ScanResult{
		ModTimes:  make(map[TxnID]time.Time),
		ScannedAt: time.Now().UTC(),
	}

	entries, err := os.ReadDir(s.BaseDir)
	if os.IsNotExist(err) {
		return result, nil
	}
	if err != nil {
		return result, fmt.Errorf("failed to scan transaction directory: %w", err)
	}

	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), "txn_") {
			continue
		}
		txnID := TxnID(e.Name())
		path := filepath.Join(s.BaseDir, e.Name())
		result.TotalFound++

		switch {
		case fileExists(filepath.Join(path, "status.commit")):
			result.Committed = append(result.Committed, txnID)
		case fileExists(filepath.Join(path, "status.intent")):
			result.IntentOnly = append(result.IntentOnly, txnID)
			fs.GetLogger().Warn("Found transaction %s with intent but no commit (needs forward recovery)", txnID)
		default:
			result.Incomplete = append(result.Incomplete, txnID)
			if info, err := e.Info(); err == nil {
				result.ModTimes[txnID] = info.ModTime()
			}
		}
	}

	for _, ids := range [][]TxnID{result.IntentOnly, result.Committed, result.Incomplete} {
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	}

	if result.TotalFound > 0 {
		fs.GetLogger().Info("Scanned transactions %s=%d intent_only=%s committed=%d incomplete=%d",
			MetricScanTotal, result.TotalFound, formatTxnIDs(result.IntentOnly),
			len(result.Committed), len(result.Incomplete))
	}
	return result, nil
}

// fileExists checks if a file exists.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

// formatTxnIDs formats transaction IDs for logging.
func formatTxnIDs(ids []TxnID) string {
	if len(ids) == 0 {
		return "none"
	}
	n := len(ids)
	if n > 3 {
		n = 3
	}
	strs := make([]string, n)
	for i := 0; i < n; i++ {
		strs[i] = string(ids[i])
	}
	if len(ids) > 3 {
		return fmt.Sprintf("%s... (%d total)", strings.Join(strs, ", "), len(ids))
	}
	return strings.Join(strs, ", ")
}
