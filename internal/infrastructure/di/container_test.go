package di

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appconfig "github.com/YoshitsuguKoike/mdtxn/internal/app/config"
	"github.com/YoshitsuguKoike/mdtxn/internal/application/dto"
	"github.com/YoshitsuguKoike/mdtxn/internal/domain/model/update"
)

func newTestContainer(t *testing.T) (*Container, afero.Fs) {
	t.Helper()
	home := t.TempDir()
	cfg := appconfig.NewAppConfig(
		home, "warn",
		"/var/journal.ndjson", "/var/metrics.json",
		0, 0,
		"127.0.0.1:0",
		[]appconfig.DeviceConfig{
			{ID: "mdt0", Kind: appconfig.KindFile, Path: filepath.Join(home, "mdt0")},
			{ID: "mdt1", Kind: appconfig.KindSQLite, Path: filepath.Join(home, "mdt1.db")},
			{ID: "mem", Kind: appconfig.KindMemory},
			{ID: "peer", Kind: appconfig.KindRemote, Path: "http://127.0.0.1:1"},
		},
		"default", "",
	)
	fs := afero.NewMemMapFs()
	c, err := NewContainer(context.Background(), Config{App: cfg, Fs: fs})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c, fs
}

func TestContainer_WiresDevices(t *testing.T) {
	c, _ := newTestContainer(t)

	assert.Len(t, c.List(), 4)
	assert.Len(t, c.FileDevices(), 1)
	assert.Len(t, c.LocalDevices(), 3)

	dev, err := c.Resolve("mdt1")
	require.NoError(t, err)
	assert.Equal(t, "mdt1", dev.ID().String())

	_, err = c.Resolve("nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mdt0")
}

func TestContainer_ApplyRenameAndRecord(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestContainer(t)

	out, err := c.GetApplyUpdateUseCase().Execute(ctx, &update.Plan{
		Master: "mdt0",
		Steps: []update.Step{
			{Device: "mdt0", Ops: []update.Op{update.Put("d1/file", "fid:42")}},
		},
	})
	require.NoError(t, err)
	require.True(t, out.OK)

	out, err = c.GetRenameUseCase().Execute(ctx, dto.RenameInput{
		SrcDevice: "mdt0", SrcDir: "d1",
		DstDevice: "mdt1", DstDir: "d2",
		Name: "file",
	})
	require.NoError(t, err)
	assert.True(t, out.OK)
	assert.True(t, out.Sync)

	mdt1, err := c.Resolve("mdt1")
	require.NoError(t, err)
	v, err := mdt1.Get(ctx, "d2/file")
	require.NoError(t, err)
	assert.Equal(t, "fid:42", v)

	records, err := c.GetJournal().Read()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, []string{"mdt0", "mdt1"}, records[1].Participants)

	total, err := c.FlushMetrics()
	require.NoError(t, err)
	assert.EqualValues(t, 2, total.Committed)

	loaded, err := c.GetMetricsStore().Load()
	require.NoError(t, err)
	assert.Equal(t, total, loaded)
}

func TestNewContainer_RequiresConfig(t *testing.T) {
	_, err := NewContainer(context.Background(), Config{})
	assert.Error(t, err)
}
