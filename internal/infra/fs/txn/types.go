// Package txn implements the local transactions of a file-backed metadata device.
//
// Every local transaction stages its entries under <root>/txn/<id>/stage, records the
// plan in manifest.json, marks status.intent once staging is complete and
// status.commit once every entry has been moved into <root>/data. A transaction with
// an intent marker but no commit marker is replayed forward on the next open.
package txn

import (
	"fmt"
	"time"
)

// TxnID represents a unique transaction identifier.
// Format: "txn_<ulid>", sortable by creation time.
type TxnID string

// Status represents the current state of a transaction.
type Status string

const (
	// StatusPending indicates the transaction accepts staged entries
	StatusPending Status = "pending"

	// StatusIntent indicates all entries are staged and ready to commit
	StatusIntent Status = "intent"

	// StatusCommit indicates the transaction has been committed
	StatusCommit Status = "commit"

	// StatusAborted indicates the transaction was rolled back
	StatusAborted Status = "aborted"
)

// Operation types recorded in the manifest
const (
	OpPut    = "put"
	OpDelete = "delete"
)

// FileOperation represents a single entry change within a transaction.
type FileOperation struct {
	// Type of operation: "put" or "delete"
	Type string `json:"type"`

	// Entry path relative to the data directory
	Destination string `json:"destination"`

	// Size of the staged content in bytes
	Size int64 `json:"size,omitempty"`

	// Checksum of the staged content, for puts
	ChecksumInfo *FileChecksum `json:"checksum_info,omitempty"`
}

// Manifest represents the transaction plan.
type Manifest struct {
	ID        TxnID           `json:"id"`
	Files     []FileOperation `json:"files"`
	CreatedAt time.Time       `json:"created_at"`
	Durable   bool            `json:"durable"`
}

// Validate checks that the manifest can be committed
func (m *Manifest) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("manifest has no transaction ID")
	}
	seen := make(map[string]bool, len(m.Files))
	for i, op := range m.Files {
		if op.Destination == "" {
			return fmt.Errorf("file %d: empty destination", i)
		}
		if seen[op.Destination] {
			return fmt.Errorf("file %d: duplicate destination %s", i, op.Destination)
		}
		seen[op.Destination] = true
		switch op.Type {
		case OpPut:
			if op.ChecksumInfo == nil {
				return fmt.Errorf("file %d: put %s has no checksum", i, op.Destination)
			}
		case OpDelete:
		default:
			return fmt.Errorf("file %d: unknown operation type %q", i, op.Type)
		}
	}
	return nil
}

// Intent represents the ready-to-commit marker.
// This file's presence indicates all staging is complete.
type Intent struct {
	TxnID     TxnID             `json:"txn_id"`
	MarkedAt  time.Time         `json:"marked_at"`
	Checksums map[string]string `json:"checksums"`
	Ready     bool              `json:"ready"`
}

// Commit represents the completion marker.
type Commit struct {
	TxnID          TxnID     `json:"txn_id"`
	CommittedAt    time.Time `json:"committed_at"`
	CommittedFiles []string  `json:"committed_files"`
	Success        bool      `json:"success"`
}

// Transaction represents the state of one local transaction.
type Transaction struct {
	Manifest *Manifest
	Status   Status
	Intent   *Intent
	Commit   *Commit

	// BaseDir is <root>/txn/<id>
	BaseDir string
	// StageDir is <root>/txn/<id>/stage
	StageDir string
}

// TxnError represents transaction-specific errors.
type TxnError struct {
	TxnID     TxnID
	Operation string
	Err       error

	// Recoverable is set when the transaction was left for forward recovery
	Recoverable bool
}

// Error implements the error interface.
func (e *TxnError) Error() string {
	recovery := "unrecoverable"
	if e.Recoverable {
		recovery = "recoverable"
	}
	return fmt.Sprintf("transaction %s: %s failed (%s): %v",
		e.TxnID, e.Operation, recovery, e.Err)
}

// Unwrap returns the underlying error.
func (e *TxnError) Unwrap() error {
	return e.Err
}
