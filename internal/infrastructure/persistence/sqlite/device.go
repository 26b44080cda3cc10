package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/YoshitsuguKoike/mdtxn/internal/application/port/output"
	"github.com/YoshitsuguKoike/mdtxn/internal/domain/distxn"
	"github.com/YoshitsuguKoike/mdtxn/internal/domain/model/update"
)

var (
	errNotStarted = errors.New("local transaction not started")
	errForeign    = errors.New("handle belongs to another device")
)

// Device is a metadata device backed by an SQLite database.
//
// A local transaction pins one connection from StartLocal to StopLocal. The pool holds a
// single connection, so local transactions on one device run one at a time and an
// in-memory database is shared by every caller.
type Device struct {
	id distxn.DeviceID
	db *sql.DB
}

// local is the per-handle state
type local struct {
	conn *sql.Conn
	tx   *sql.Tx
	ops  int
}

// OpenDevice opens the database at dsn and migrates it
func OpenDevice(ctx context.Context, id distxn.DeviceID, dsn string) (*Device, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite device %s: %w", id, err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("open sqlite device %s: %w", id, err)
	}
	if err := NewMigrator(db).Migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate sqlite device %s: %w", id, err)
	}
	return &Device{id: id, db: db}, nil
}

// Close closes the database
func (d *Device) Close() error {
	return d.db.Close()
}

// ID returns the device ID
func (d *Device) ID() distxn.DeviceID { return d.id }

// CreateLocal returns a handle; no database resources are held until StartLocal.
func (d *Device) CreateLocal(ctx context.Context) (*distxn.Handle, error) {
	return distxn.NewHandle(d.id, &local{}), nil
}

// StartLocal pins a connection, applies the durability of the handle and begins the
// SQL transaction.
func (d *Device) StartLocal(ctx context.Context, h *distxn.Handle) error {
	l, err := d.local(h)
	if err != nil {
		return err
	}

	conn, err := d.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}

	mode := "NORMAL"
	if h.Sync {
		mode = "FULL"
	}
	if _, err := conn.ExecContext(ctx, "PRAGMA synchronous = "+mode); err != nil {
		conn.Close()
		return fmt.Errorf("set synchronous=%s: %w", mode, err)
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		conn.Close()
		return fmt.Errorf("begin transaction failed: %w", err)
	}

	l.conn = conn
	l.tx = tx
	return nil
}

// Write applies op inside the SQL transaction
func (d *Device) Write(ctx context.Context, h *distxn.Handle, op update.Op) error {
	l, err := d.local(h)
	if err != nil {
		return err
	}
	if l.tx == nil {
		return errNotStarted
	}
	op, err = op.Normalize()
	if err != nil {
		return err
	}

	switch op.Kind {
	case update.KindPut:
		_, err = l.tx.ExecContext(ctx, `
			INSERT INTO entries (key, value, txn_id, updated_at) VALUES (?, ?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value, txn_id = excluded.txn_id, updated_at = excluded.updated_at`,
			op.Key, op.Value, h.ID().String(), time.Now().UTC().Format(time.RFC3339Nano))
	case update.KindDelete:
		_, err = l.tx.ExecContext(ctx, `DELETE FROM entries WHERE key = ?`, op.Key)
	}
	if err != nil {
		return fmt.Errorf("%s %s: %w", op.Kind, op.Key, err)
	}
	l.ops++
	return nil
}

// StopLocal commits, or rolls back when h.Result is set, and releases the connection.
func (d *Device) StopLocal(ctx context.Context, h *distxn.Handle) error {
	l, err := d.local(h)
	if err != nil {
		return err
	}
	if l.tx == nil {
		if h.Result != nil {
			return h.Result
		}
		return errNotStarted
	}
	defer func() {
		l.conn.Close()
		l.conn, l.tx = nil, nil
	}()

	if h.Result != nil {
		if err := l.tx.Rollback(); err != nil {
			return fmt.Errorf("rollback failed: %v (original error: %w)", err, h.Result)
		}
		return h.Result
	}

	var top string
	if tx, ok := distxn.FromHandle(h); ok {
		top = tx.ID()
	}
	if _, err := l.tx.ExecContext(ctx,
		`INSERT INTO local_txns (txn_id, top_txn_id, ops, durable, committed_at) VALUES (?, ?, ?, ?, ?)`,
		h.ID().String(), top, l.ops, h.Sync, time.Now().UTC().Format(time.RFC3339Nano),
	); err != nil {
		l.tx.Rollback()
		return fmt.Errorf("record local transaction: %w", err)
	}

	if err := l.tx.Commit(); err != nil {
		return fmt.Errorf("commit failed: %w", err)
	}
	return nil
}

func (d *Device) local(h *distxn.Handle) (*local, error) {
	if h == nil || h.Device() != d.id {
		return nil, errForeign
	}
	l, ok := h.Payload().(*local)
	if !ok {
		return nil, errForeign
	}
	return l, nil
}

// Get returns the committed value of key
func (d *Device) Get(ctx context.Context, key string) (string, error) {
	key, err := update.NormalizeKey(key)
	if err != nil {
		return "", err
	}
	var value string
	err = d.db.QueryRowContext(ctx, `SELECT value FROM entries WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("%s on %s: %w", key, d.id, output.ErrEntryNotFound)
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

// Keys lists the committed keys in lexical order
func (d *Device) Keys(ctx context.Context) ([]string, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT key FROM entries ORDER BY key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// CommittedCount returns how many local transactions committed on the device
func (d *Device) CommittedCount(ctx context.Context) (int, error) {
	var n int
	err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM local_txns`).Scan(&n)
	return n, err
}
