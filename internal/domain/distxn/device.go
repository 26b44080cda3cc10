// Package distxn groups the local transactions of several storage devices into one
// distributed update.
//
// A Transaction is created on a master device, picks up further participants while the
// operation runs (Attach), starts every participant with the master last, and stops the
// master first before the remaining participants. Results are aggregated first-error-wins.
// There is no prepare phase: a participant that committed stays committed even when a
// later participant fails.
package distxn

import (
	"context"
	"fmt"
	"strings"

	"github.com/oklog/ulid/v2"
	"golang.org/x/text/unicode/norm"
)

// DeviceID identifies one storage device (target) in the cluster.
type DeviceID string

// NewDeviceID validates and normalizes a device name.
// Names are NFC-normalized so that the same target typed on two hosts compares equal.
func NewDeviceID(name string) (DeviceID, error) {
	name = strings.TrimSpace(norm.NFC.String(name))
	if name == "" {
		return "", fmt.Errorf("device ID cannot be empty")
	}
	if strings.ContainsAny(name, "/\\") {
		return "", fmt.Errorf("device ID %q must not contain path separators", name)
	}
	return DeviceID(name), nil
}

// String returns the device name
func (id DeviceID) String() string {
	return string(id)
}

// Device is the per-device local transaction backend.
//
// StopLocal commits the handle when h.Result is nil and aborts it otherwise. An aborting
// device returns h.Result (or the abort failure) so the reason is not lost. Once StopLocal
// returns, the handle is disposed whatever the outcome.
type Device interface {
	ID() DeviceID
	CreateLocal(ctx context.Context) (*Handle, error)
	StartLocal(ctx context.Context, h *Handle) error
	StopLocal(ctx context.Context, h *Handle) error
}

// Handle is one device-local transaction.
type Handle struct {
	id      ulid.ULID
	device  DeviceID
	top     *Transaction
	payload any

	// Sync asks the device to make the commit durable before StopLocal returns.
	Sync bool
	// LocalOnly marks a participant that carries no updates for remote targets.
	LocalOnly bool
	// Result is the recorded outcome; a non-nil value makes StopLocal abort.
	Result error
}

// NewHandle is used by devices to build the handle returned from CreateLocal.
// payload carries the device's own per-transaction state.
func NewHandle(device DeviceID, payload any) *Handle {
	return &Handle{
		id:      ulid.Make(),
		device:  device,
		payload: payload,
	}
}

// ID returns the unique handle ID
func (h *Handle) ID() ulid.ULID { return h.id }

// Device returns the device the handle belongs to
func (h *Handle) Device() DeviceID { return h.device }

// Payload returns the device-private state stored with NewHandle
func (h *Handle) Payload() any { return h.payload }

// Top returns the distributed transaction the handle takes part in, or nil for a handle
// that has not been linked yet.
func (h *Handle) Top() *Transaction { return h.top }

// FromHandle recovers the distributed transaction from any participant handle.
func FromHandle(h *Handle) (*Transaction, bool) {
	if h == nil || h.top == nil {
		return nil, false
	}
	return h.top, true
}
