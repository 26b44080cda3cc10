package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YoshitsuguKoike/mdtxn/internal/application/port/output"
	"github.com/YoshitsuguKoike/mdtxn/internal/domain/distxn"
	"github.com/YoshitsuguKoike/mdtxn/internal/domain/model/update"
)

var _ output.Participant = (*Device)(nil)

func openTestDevice(t *testing.T, id string) *Device {
	t.Helper()
	d, err := OpenDevice(context.Background(), distxn.DeviceID(id), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return d
}

func runLocal(t *testing.T, d *Device, sync bool, result error, ops ...update.Op) error {
	t.Helper()
	ctx := context.Background()
	h, err := d.CreateLocal(ctx)
	require.NoError(t, err)
	h.Sync = sync
	require.NoError(t, d.StartLocal(ctx, h))
	for _, op := range ops {
		require.NoError(t, d.Write(ctx, h, op))
	}
	h.Result = result
	return d.StopLocal(ctx, h)
}

func TestDevice_Commit(t *testing.T) {
	ctx := context.Background()
	d := openTestDevice(t, "mdt0")

	require.NoError(t, runLocal(t, d, true, nil,
		update.Put("a", "1"), update.Put("b", "2"), update.Put("a", "3")))

	v, err := d.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "3", v)

	keys, err := d.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, keys)

	require.NoError(t, runLocal(t, d, false, nil, update.Delete("a")))
	_, err = d.Get(ctx, "a")
	assert.ErrorIs(t, err, output.ErrEntryNotFound)

	n, err := d.CommittedCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestDevice_AbortRollsBack(t *testing.T) {
	ctx := context.Background()
	d := openTestDevice(t, "mdt0")
	reason := errors.New("participant failed")

	err := runLocal(t, d, false, reason, update.Put("a", "1"))
	assert.ErrorIs(t, err, reason)

	_, err = d.Get(ctx, "a")
	assert.ErrorIs(t, err, output.ErrEntryNotFound)

	n, err := d.CommittedCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestDevice_NotStarted(t *testing.T) {
	ctx := context.Background()
	d := openTestDevice(t, "mdt0")

	h, err := d.CreateLocal(ctx)
	require.NoError(t, err)
	assert.ErrorIs(t, d.Write(ctx, h, update.Put("a", "1")), errNotStarted)
	assert.ErrorIs(t, d.StopLocal(ctx, h), errNotStarted)

	// an aborted handle that never started reports its reason
	h2, err := d.CreateLocal(ctx)
	require.NoError(t, err)
	reason := errors.New("earlier participant failed to start")
	h2.Result = reason
	assert.ErrorIs(t, d.StopLocal(ctx, h2), reason)
}

func TestDevice_RecordsTopTransaction(t *testing.T) {
	ctx := context.Background()
	mdt0 := openTestDevice(t, "mdt0")
	mdt1 := openTestDevice(t, "mdt1")
	coord := distxn.NewCoordinator(distxn.Config{})

	var txID string
	var h1 *distxn.Handle
	err := coord.InTransaction(ctx, mdt0,
		func(tx *distxn.Transaction) error {
			txID = tx.ID()
			var err error
			h1, err = tx.Attach(ctx, mdt1)
			return err
		},
		func(tx *distxn.Transaction) error {
			return mdt1.Write(ctx, h1, update.Put("k", "v"))
		})
	require.NoError(t, err)

	var top string
	var durable bool
	require.NoError(t, mdt1.db.QueryRowContext(ctx,
		`SELECT top_txn_id, durable FROM local_txns`).Scan(&top, &durable))
	assert.Equal(t, txID, top)
	assert.True(t, durable)
}

func TestOpenDevice_File(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "mdt0.db")

	d, err := OpenDevice(ctx, "mdt0", path)
	require.NoError(t, err)
	require.NoError(t, runLocal(t, d, true, nil, update.Put("dir/x", "y")))
	require.NoError(t, d.Close())

	reopened, err := OpenDevice(ctx, "mdt0", path)
	require.NoError(t, err)
	defer reopened.Close()

	v, err := reopened.Get(ctx, "dir/x")
	require.NoError(t, err)
	assert.Equal(t, "y", v)
}
