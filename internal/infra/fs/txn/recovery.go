package txn

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/YoshitsuguKoike/mdtxn/internal/infra/fs"
)

// Recovery configuration constants
const (
	DefaultRecoveryTimeout = 30 * time.Second       // Maximum time for single transaction recovery
	DefaultTotalTimeout    = 5 * time.Minute        // Maximum time for complete recovery process
	DefaultMaxRetries      = 3                      // Maximum retry attempts per transaction
	DefaultRetryBaseDelay  = 100 * time.Millisecond // Base delay for exponential backoff
	DefaultRetryMaxDelay   = 2 * time.Second        // Maximum retry delay
	DefaultStaleAfter      = 10 * time.Minute       // Age after which an unfinished staging is discarded
)

// Recovery replays intent-only transactions forward, removes committed work directories
// and discards stale transactions that never reached intent.
type Recovery struct {
	manager      *Manager
	timeout      time.Duration
	totalTimeout time.Duration
	maxRetries   int
	baseDelay    time.Duration
	maxDelay     time.Duration
	staleAfter   time.Duration
}

// RecoveryConfig configures recovery behavior
type RecoveryConfig struct {
	Timeout      time.Duration
	TotalTimeout time.Duration
	MaxRetries   int
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	// StaleAfter is the age of an incomplete transaction before it is discarded.
	// A negative value discards all of them.
	StaleAfter time.Duration
}

// DefaultRecoveryConfig returns the default configuration
func DefaultRecoveryConfig() RecoveryConfig {
	return RecoveryConfig{
		Timeout:      DefaultRecoveryTimeout,
		TotalTimeout: DefaultTotalTimeout,
		MaxRetries:   DefaultMaxRetries,
		BaseDelay:    DefaultRetryBaseDelay,
		MaxDelay:     DefaultRetryMaxDelay,
		StaleAfter:   DefaultStaleAfter,
	}
}

// NewRecovery creates a new recovery handler with default configuration
func NewRecovery(manager *Manager) *Recovery {
	return NewRecoveryWithConfig(manager, DefaultRecoveryConfig())
}

// NewRecoveryWithConfig creates a new recovery handler with custom configuration
func NewRecoveryWithConfig(manager *Manager, config RecoveryConfig) *Recovery {
	return &Recovery{
		manager:      manager,
		timeout:      config.Timeout,
		totalTimeout: config.TotalTimeout,
		maxRetries:   config.MaxRetries,
		baseDelay:    config.BaseDelay,
		maxDelay:     config.MaxDelay,
		staleAfter:   config.StaleAfter,
	}
}

// RecoveryResult contains the results of a recovery operation
type RecoveryResult struct {
	StartedAt      time.Time     `json:"started_at"`
	CompletedAt    time.Time     `json:"completed_at"`
	Duration       time.Duration `json:"duration"`
	RecoveredCount int           `json:"recovered"`
	CleanedCount   int           `json:"cleaned"`
	DiscardedCount int           `json:"discarded"`
	FailedCount    int           `json:"failed"`
	Errors         []error       `json:"-"`
}

// RecoverAll performs recovery for all unfinished transactions with timeout and retry
func (r *Recovery) RecoverAll(ctx context.Context) (*RecoveryResult, error) {
	startTime := time.Now()
	result := &RecoveryResult{StartedAt: startTime}

	totalCtx, cancel := context.WithTimeout(ctx, r.totalTimeout)
	defer cancel()

	scanResult, err := NewScanner(r.manager.baseDir).Scan()
	if err != nil {
		return result, fmt.Errorf("failed to scan transactions: %w", err)
	}

	for _, txnID := range scanResult.IntentOnly {
		if totalCtx.Err() != nil {
			result.Errors = append(result.Errors, fmt.Errorf("recovery cancelled: %w", totalCtx.Err()))
			break
		}

		if err := r.recoverTransactionWithRetry(totalCtx, txnID); err != nil {
			result.FailedCount++
			result.Errors = append(result.Errors, fmt.Errorf("failed to recover %s: %w", txnID, err))
			fs.GetLogger().Error("Failed to recover transaction %s=%s error=%v", MetricRecoverForwardFailed, txnID, err)
			continue
		}
		result.RecoveredCount++
		result.CleanedCount++
		fs.GetLogger().Info("Recovered transaction %s=%s", MetricRecoverForwardSuccess, txnID)
	}

	for _, txnID := range scanResult.Committed {
		if err := r.cleanupTransaction(txnID); err != nil {
			result.Errors = append(result.Errors, fmt.Errorf("failed to cleanup %s: %w", txnID, err))
			fs.GetLogger().Warn("Failed to cleanup transaction %s=%s error=%v", MetricCleanupFailed, txnID, err)
			continue
		}
		result.CleanedCount++
	}

	now := time.Now()
	for _, txnID := range scanResult.Incomplete {
		if r.staleAfter >= 0 && now.Sub(scanResult.ModTimes[txnID]) < r.staleAfter {
			continue
		}
		if err := os.RemoveAll(filepath.Join(r.manager.baseDir, string(txnID))); err != nil {
			result.Errors = append(result.Errors, fmt.Errorf("failed to discard %s: %w", txnID, err))
			continue
		}
		result.DiscardedCount++
		fs.GetLogger().Info("Discarded unfinished transaction %s", txnID)
	}

	result.CompletedAt = time.Now()
	result.Duration = result.CompletedAt.Sub(startTime)

	fs.GetLogger().Info("Recovery complete %s=%d %s=%d %s=%d discarded=%d %s=%d",
		MetricRecoverForwardCount, len(scanResult.IntentOnly),
		MetricRecoverForwardSuccess, result.RecoveredCount,
		MetricCleanupSuccess, result.CleanedCount,
		result.DiscardedCount,
		MetricRecoverDurationMs, result.Duration.Milliseconds())

	return result, nil
}

// recoverTransactionWithRetry performs forward recovery with retry logic
func (r *Recovery) recoverTransactionWithRetry(ctx context.Context, txnID TxnID) error {
	var lastErr error

	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, r.timeout)
		err := r.recoverTransaction(attemptCtx, txnID)
		cancel()

		if err == nil {
			if attempt > 0 {
				fs.GetLogger().Info("Transaction recovery succeeded on retry txn.id=%s txn.retry.attempt=%d", txnID, attempt)
			}
			return nil
		}
		lastErr = err

		// no retry on timeout or cancellation
		if ctx.Err() != nil {
			break
		}

		if attempt < r.maxRetries {
			delay := r.baseDelay * time.Duration(1<<uint(attempt))
			if delay > r.maxDelay {
				delay = r.maxDelay
			}

			fs.GetLogger().Warn("Transaction recovery failed, retrying txn.id=%s txn.retry.attempt=%d txn.retry.delay_ms=%d error=%v",
				txnID, attempt, delay.Milliseconds(), err)

			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	return fmt.Errorf("transaction recovery failed after %d attempts: %w", r.maxRetries+1, lastErr)
}

// recoverTransaction completes the commit of one intent-only transaction and removes
// its work directory.
func (r *Recovery) recoverTransaction(ctx context.Context, txnID TxnID) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	tx, err := r.manager.Load(txnID)
	if err != nil {
		return err
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	if err := r.manager.Commit(tx); err != nil {
		return fmt.Errorf("failed to complete commit during recovery: %w", err)
	}
	return r.manager.Cleanup(tx)
}

// cleanupTransaction removes a completed transaction directory
func (r *Recovery) cleanupTransaction(txnID TxnID) error {
	txnDir := filepath.Join(r.manager.baseDir, string(txnID))

	if !fileExists(filepath.Join(txnDir, "status.commit")) {
		return fmt.Errorf("cannot cleanup: no commit marker found")
	}
	if err := os.RemoveAll(txnDir); err != nil {
		return fmt.Errorf("failed to remove transaction directory: %w", err)
	}
	return nil
}
