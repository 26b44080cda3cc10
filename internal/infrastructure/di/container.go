package di

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/spf13/afero"

	"github.com/YoshitsuguKoike/mdtxn/internal/adapter/gateway/remote"
	"github.com/YoshitsuguKoike/mdtxn/internal/adapter/gateway/storage"
	appconfig "github.com/YoshitsuguKoike/mdtxn/internal/app/config"
	"github.com/YoshitsuguKoike/mdtxn/internal/application/port/input"
	"github.com/YoshitsuguKoike/mdtxn/internal/application/port/output"
	"github.com/YoshitsuguKoike/mdtxn/internal/application/usecase/metadata"
	"github.com/YoshitsuguKoike/mdtxn/internal/domain/distxn"
	"github.com/YoshitsuguKoike/mdtxn/internal/infra/fs/txn"
	"github.com/YoshitsuguKoike/mdtxn/internal/infra/persistence/file"
	"github.com/YoshitsuguKoike/mdtxn/internal/infrastructure/persistence/sqlite"
	"github.com/YoshitsuguKoike/mdtxn/internal/infrastructure/transaction"
)

// Container is the DI container that holds all dependencies
// This implements manual dependency injection for Clean Architecture
type Container struct {
	// Infrastructure Layer - Devices in configuration order
	devices []output.Participant
	byID    map[distxn.DeviceID]output.Participant
	closers []io.Closer

	// Infrastructure Layer - Outcome records
	fs      afero.Fs
	journal *file.Journal
	metrics *file.MetricsStore

	// Domain Layer - Coordinator
	coord *distxn.Coordinator

	// Application Layer - Use Cases
	applyUseCase  input.ApplyUpdateUseCase
	renameUseCase input.RenameUseCase

	config Config
}

// Config holds configuration for the container
type Config struct {
	App appconfig.Config

	// Fs stores the journal and metrics snapshot; the OS filesystem when nil
	Fs afero.Fs

	// RemoteTimeout bounds one round trip to a remote device (default: 30s)
	RemoteTimeout time.Duration
}

// NewContainer opens every configured device and wires the coordinator and use cases.
// File devices run recovery while opening.
func NewContainer(ctx context.Context, config Config) (*Container, error) {
	if config.App == nil {
		return nil, errors.New("container: configuration is required")
	}
	c := &Container{
		config: config,
		byID:   make(map[distxn.DeviceID]output.Participant),
	}
	if c.config.Fs == nil {
		c.config.Fs = afero.NewOsFs()
	}
	if c.config.RemoteTimeout <= 0 {
		c.config.RemoteTimeout = 30 * time.Second
	}

	if err := c.initializeInfrastructure(ctx); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize infrastructure: %w", err)
	}
	c.initializeDomain()
	c.initializeApplication()
	return c, nil
}

// initializeInfrastructure opens devices and the outcome stores
func (c *Container) initializeInfrastructure(ctx context.Context) error {
	for _, dc := range c.config.App.Devices() {
		dev, err := c.openDevice(ctx, dc)
		if err != nil {
			return err
		}
		c.devices = append(c.devices, dev)
		c.byID[dev.ID()] = dev
	}

	c.fs = c.config.Fs
	c.journal = file.NewJournal(c.fs, c.config.App.JournalPath())
	c.metrics = file.NewMetricsStore(c.fs, c.config.App.MetricsPath())
	return nil
}

func (c *Container) openDevice(ctx context.Context, dc appconfig.DeviceConfig) (output.Participant, error) {
	id := distxn.DeviceID(dc.ID)

	switch dc.Kind {
	case appconfig.KindFile:
		dev, err := txn.OpenDevice(ctx, id, dc.Path)
		if err != nil {
			return nil, err
		}
		return dev, nil
	case appconfig.KindSQLite:
		dev, err := sqlite.OpenDevice(ctx, id, dc.Path)
		if err != nil {
			return nil, err
		}
		c.closers = append(c.closers, dev)
		return dev, nil
	case appconfig.KindS3:
		dev, err := storage.NewS3Device(ctx, id, storage.S3Config{
			BucketName: dc.Bucket,
			Prefix:     dc.Prefix,
			Region:     dc.Region,
			Endpoint:   dc.Endpoint,
		})
		if err != nil {
			return nil, err
		}
		return dev, nil
	case appconfig.KindRemote:
		return remote.NewClient(id, dc.Path, &http.Client{Timeout: c.config.RemoteTimeout}), nil
	case appconfig.KindMemory:
		return transaction.NewMemoryDevice(id, nil), nil
	default:
		return nil, fmt.Errorf("device %s: unknown kind %q", dc.ID, dc.Kind)
	}
}

// initializeDomain builds the coordinator; the journal observes every stop
func (c *Container) initializeDomain() {
	c.coord = distxn.NewCoordinator(distxn.Config{
		MaxTransactions: c.config.App.MaxTransactions(),
		MaxParticipants: c.config.App.MaxParticipants(),
		Observers:       []distxn.Observer{c.journal},
	})
}

// initializeApplication initializes use cases
func (c *Container) initializeApplication() {
	apply := metadata.NewApplyUpdateUseCase(c.coord, c)
	c.applyUseCase = apply
	c.renameUseCase = metadata.NewRenameUseCase(apply, c)
}

// Resolve returns the configured device id
func (c *Container) Resolve(id distxn.DeviceID) (output.Participant, error) {
	dev, ok := c.byID[id]
	if !ok {
		known := make([]string, 0, len(c.byID))
		for k := range c.byID {
			known = append(known, k.String())
		}
		sort.Strings(known)
		return nil, fmt.Errorf("unknown device %q (configured: %v)", id, known)
	}
	return dev, nil
}

// List returns the configured devices in configuration order
func (c *Container) List() []output.Participant {
	return append([]output.Participant(nil), c.devices...)
}

// FileDevices returns the configured file devices
func (c *Container) FileDevices() []*txn.Device {
	var out []*txn.Device
	for _, d := range c.devices {
		if fd, ok := d.(*txn.Device); ok {
			out = append(out, fd)
		}
	}
	return out
}

// LocalDevices returns every device that is not itself a remote client; these are the
// devices `serve` can expose.
func (c *Container) LocalDevices() []output.Participant {
	var out []output.Participant
	for _, d := range c.devices {
		if _, ok := d.(*remote.Client); !ok {
			out = append(out, d)
		}
	}
	return out
}

// GetCoordinator returns the coordinator
func (c *Container) GetCoordinator() *distxn.Coordinator {
	return c.coord
}

// GetApplyUpdateUseCase returns the apply use case
func (c *Container) GetApplyUpdateUseCase() input.ApplyUpdateUseCase {
	return c.applyUseCase
}

// GetRenameUseCase returns the rename use case
func (c *Container) GetRenameUseCase() input.RenameUseCase {
	return c.renameUseCase
}

// GetJournal returns the outcome journal
func (c *Container) GetJournal() *file.Journal {
	return c.journal
}

// GetMetricsStore returns the persisted metrics store
func (c *Container) GetMetricsStore() *file.MetricsStore {
	return c.metrics
}

// FlushMetrics adds the counters of this run to the persisted snapshot
func (c *Container) FlushMetrics() (distxn.Snapshot, error) {
	return c.metrics.Add(c.coord.Metrics().Snapshot())
}

// Close closes all resources held by the container
func (c *Container) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}
