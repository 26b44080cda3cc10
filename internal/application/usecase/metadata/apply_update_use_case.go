// Package metadata holds the use cases that change metadata across devices.
package metadata

import (
	"context"
	"fmt"

	"github.com/YoshitsuguKoike/mdtxn/internal/application/dto"
	"github.com/YoshitsuguKoike/mdtxn/internal/application/port/output"
	"github.com/YoshitsuguKoike/mdtxn/internal/domain/distxn"
	"github.com/YoshitsuguKoike/mdtxn/internal/domain/model/update"
)

// ApplyUpdateUseCase applies an update plan as one distributed transaction
type ApplyUpdateUseCase struct {
	coord   *distxn.Coordinator
	devices output.DeviceResolver
}

// NewApplyUpdateUseCase creates the use case
func NewApplyUpdateUseCase(coord *distxn.Coordinator, devices output.DeviceResolver) *ApplyUpdateUseCase {
	return &ApplyUpdateUseCase{coord: coord, devices: devices}
}

// Execute runs plan: create on the master, attach every step's device in plan order,
// start, write every op through its device's handle and stop.
//
// A failed write is recorded on the handle that failed and on the master, so every
// participant aborts. The returned output describes the outcome even when err is set.
func (uc *ApplyUpdateUseCase) Execute(ctx context.Context, plan *update.Plan) (*dto.ApplyUpdateOutput, error) {
	out := &dto.ApplyUpdateOutput{Master: plan.Master}
	if err := plan.Validate(); err != nil {
		return uc.fail(out, err)
	}

	master, err := uc.devices.Resolve(distxn.DeviceID(plan.Master))
	if err != nil {
		return uc.fail(out, err)
	}

	// resolve everything first so a typo fails before any device is touched
	writers := make([]output.Participant, len(plan.Steps))
	for i, step := range plan.Steps {
		if writers[i], err = uc.devices.Resolve(distxn.DeviceID(step.Device)); err != nil {
			return uc.fail(out, fmt.Errorf("step %d: %w", i, err))
		}
	}

	var tx *distxn.Transaction
	handles := make(map[distxn.DeviceID]*distxn.Handle)

	err = uc.coord.InTransaction(ctx, master,
		func(t *distxn.Transaction) error {
			tx = t
			t.LocalOnly = plan.LocalOnly
			defer func() { out.Participants = deviceNames(t.Participants()) }()

			for _, w := range writers {
				h, err := t.Attach(ctx, w)
				if err != nil {
					return err
				}
				handles[w.ID()] = h
			}
			return nil
		},
		func(t *distxn.Transaction) error {
			for i, step := range plan.Steps {
				w := writers[i]
				h := handles[w.ID()]
				for j, op := range step.Ops {
					if err := w.Write(ctx, h, op); err != nil {
						err = fmt.Errorf("step %d (%s) op %d %s %s: %w", i, w.ID(), j, op.Kind, op.Key, err)
						h.Result = err
						return err
					}
					out.Ops++
				}
			}
			return nil
		})

	if tx != nil {
		out.TxnID = tx.ID()
		out.Sync = tx.Sync
	}
	if err != nil {
		return uc.fail(out, err)
	}
	out.OK = true
	return out, nil
}

func (uc *ApplyUpdateUseCase) fail(out *dto.ApplyUpdateOutput, err error) (*dto.ApplyUpdateOutput, error) {
	out.OK = false
	out.Code = distxn.Code(err)
	out.Error = err.Error()
	return out, err
}

func deviceNames(ids []distxn.DeviceID) []string {
	names := make([]string, len(ids))
	for i, id := range ids {
		names[i] = id.String()
	}
	return names
}
