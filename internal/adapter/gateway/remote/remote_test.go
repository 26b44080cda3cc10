package remote

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/YoshitsuguKoike/mdtxn/internal/application/port/output"
	"github.com/YoshitsuguKoike/mdtxn/internal/domain/distxn"
	"github.com/YoshitsuguKoike/mdtxn/internal/domain/model/update"
	"github.com/YoshitsuguKoike/mdtxn/internal/infrastructure/transaction"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var _ output.Participant = (*Client)(nil)

func newTestServer(t *testing.T, devices ...output.Participant) (*Server, *httptest.Server) {
	t.Helper()
	srv := NewServer(devices, time.Minute)
	hs := httptest.NewServer(srv.Handler())
	t.Cleanup(hs.Close)
	return srv, hs
}

func TestClient_CommitThroughServer(t *testing.T) {
	ctx := context.Background()
	backing := transaction.NewMemoryDevice("mdt1", nil)
	srv, hs := newTestServer(t, backing)

	local := transaction.NewMockDevice("mdt0", nil)
	client := NewClient("mdt1", hs.URL, hs.Client())
	coord := distxn.NewCoordinator(distxn.Config{})

	var hr *distxn.Handle
	err := coord.InTransaction(ctx, local,
		func(tx *distxn.Transaction) error {
			var err error
			hr, err = tx.Attach(ctx, client)
			return err
		},
		func(tx *distxn.Transaction) error {
			if err := local.Write(ctx, tx.Master(), update.Delete("d1/n")); err != nil {
				return err
			}
			return client.Write(ctx, hr, update.Put("d2/n", "fid:7"))
		})
	require.NoError(t, err)
	assert.Zero(t, srv.OpenHandles())

	v, err := backing.Get(ctx, "d2/n")
	require.NoError(t, err)
	assert.Equal(t, "fid:7", v)

	v, err = client.Get(ctx, "d2/n")
	require.NoError(t, err)
	assert.Equal(t, "fid:7", v)

	keys, err := client.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"d2/n"}, keys)

	_, err = client.Get(ctx, "missing")
	assert.ErrorIs(t, err, output.ErrEntryNotFound)
}

func TestClient_AbortCarriesResult(t *testing.T) {
	ctx := context.Background()
	backing := transaction.NewMockDevice("mdt1", nil)
	srv, hs := newTestServer(t, backing)
	client := NewClient("mdt1", hs.URL, hs.Client())

	h, err := client.CreateLocal(ctx)
	require.NoError(t, err)
	require.NoError(t, client.StartLocal(ctx, h))
	require.NoError(t, client.Write(ctx, h, update.Put("k", "v")))

	h.Result = syscall.EIO
	err = client.StopLocal(ctx, h)
	assert.ErrorIs(t, err, syscall.EIO)

	aborts := backing.Aborts()
	require.Len(t, aborts, 1)
	assert.Equal(t, -int(syscall.EIO), distxn.Code(aborts[0]))
	assert.Zero(t, srv.OpenHandles())

	_, err = backing.Get(ctx, "k")
	assert.ErrorIs(t, err, output.ErrEntryNotFound)
}

func TestClient_RemoteFailurePropagatesCode(t *testing.T) {
	ctx := context.Background()
	backing := transaction.NewMockDevice("mdt1", nil)
	backing.StopErr = syscall.ENOSPC
	_, hs := newTestServer(t, backing)
	client := NewClient("mdt1", hs.URL, hs.Client())

	h, err := client.CreateLocal(ctx)
	require.NoError(t, err)
	require.NoError(t, client.StartLocal(ctx, h))

	err = client.StopLocal(ctx, h)
	var remoteErr *Error
	require.ErrorAs(t, err, &remoteErr)
	assert.Equal(t, http.StatusConflict, remoteErr.Status)
	assert.Equal(t, -int(syscall.ENOSPC), distxn.Code(err))
}

func TestClient_UnknownDeviceAndHandle(t *testing.T) {
	ctx := context.Background()
	_, hs := newTestServer(t, transaction.NewMockDevice("mdt1", nil))

	_, err := NewClient("nope", hs.URL, hs.Client()).CreateLocal(ctx)
	var remoteErr *Error
	require.ErrorAs(t, err, &remoteErr)
	assert.Equal(t, http.StatusNotFound, remoteErr.Status)

	client := NewClient("mdt1", hs.URL, hs.Client())
	h, err := client.CreateLocal(ctx)
	require.NoError(t, err)
	require.NoError(t, client.StartLocal(ctx, h))
	require.NoError(t, client.StopLocal(ctx, h))

	// the handle is gone after stop
	err = client.StartLocal(ctx, h)
	require.ErrorAs(t, err, &remoteErr)
	assert.Equal(t, http.StatusNotFound, remoteErr.Status)
}

func TestClient_InvalidKeyRejected(t *testing.T) {
	ctx := context.Background()
	_, hs := newTestServer(t, transaction.NewMemoryDevice("mdt1", nil))
	client := NewClient("mdt1", hs.URL, hs.Client())

	h, err := client.CreateLocal(ctx)
	require.NoError(t, err)
	require.NoError(t, client.StartLocal(ctx, h))

	err = client.Write(ctx, h, update.Put("../x", "v"))
	var remoteErr *Error
	require.ErrorAs(t, err, &remoteErr)
	assert.Equal(t, http.StatusBadRequest, remoteErr.Status)

	h.Result = err
	assert.ErrorIs(t, client.StopLocal(ctx, h), err)
}

func TestServer_ReapAbandonedHandles(t *testing.T) {
	ctx := context.Background()
	backing := transaction.NewMockDevice("mdt1", nil)
	srv, hs := newTestServer(t, backing)
	client := NewClient("mdt1", hs.URL, hs.Client())

	_, err := client.CreateLocal(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, srv.OpenHandles())

	assert.Zero(t, srv.Reap(ctx, time.Now()))
	assert.Equal(t, 1, srv.Reap(ctx, time.Now().Add(2*time.Minute)))
	assert.Zero(t, srv.OpenHandles())

	aborts := backing.Aborts()
	require.Len(t, aborts, 1)
	assert.True(t, errors.Is(aborts[0], errAbandoned))
}

func TestServer_RunReaperStops(t *testing.T) {
	srv := NewServer(nil, time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		srv.RunReaper(ctx, time.Millisecond)
		close(done)
	}()
	time.Sleep(5 * time.Millisecond)
	cancel()
	<-done
}

func TestServer_CloseAbortsEverything(t *testing.T) {
	ctx := context.Background()
	backing := transaction.NewMockDevice("mdt1", nil)
	srv, hs := newTestServer(t, backing)
	client := NewClient("mdt1", hs.URL, hs.Client())

	for i := 0; i < 2; i++ {
		h, err := client.CreateLocal(ctx)
		require.NoError(t, err)
		require.NoError(t, client.StartLocal(ctx, h))
	}

	assert.Equal(t, 2, srv.Close(ctx))
	assert.Zero(t, srv.OpenHandles())
	assert.Len(t, backing.Aborts(), 2)
}
