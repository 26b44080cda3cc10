package output

import (
	"context"
	"errors"

	"github.com/YoshitsuguKoike/mdtxn/internal/domain/distxn"
	"github.com/YoshitsuguKoike/mdtxn/internal/domain/model/update"
)

// ErrEntryNotFound is returned by Reader.Get for a key with no committed value
var ErrEntryNotFound = errors.New("entry not found")

// Writer records an update inside a started local transaction.
// The update becomes visible only when the handle commits on StopLocal.
type Writer interface {
	Write(ctx context.Context, h *distxn.Handle, op update.Op) error
}

// Reader reads committed device state
type Reader interface {
	Get(ctx context.Context, key string) (string, error)
	Keys(ctx context.Context) ([]string, error)
}

// Participant is a storage device that can join a distributed transaction
type Participant interface {
	distxn.Device
	Writer
	Reader
}

// DeviceResolver finds configured participants by ID
type DeviceResolver interface {
	Resolve(id distxn.DeviceID) (Participant, error)
	List() []Participant
}
