package metadata

import (
	"context"
	"fmt"
	"path"

	"github.com/YoshitsuguKoike/mdtxn/internal/application/dto"
	"github.com/YoshitsuguKoike/mdtxn/internal/application/port/output"
	"github.com/YoshitsuguKoike/mdtxn/internal/domain/distxn"
	"github.com/YoshitsuguKoike/mdtxn/internal/domain/model/update"
)

// RenameUseCase moves a directory entry, possibly to a directory on another device.
// The source device is the master.
type RenameUseCase struct {
	apply   *ApplyUpdateUseCase
	devices output.DeviceResolver
}

// NewRenameUseCase creates the use case
func NewRenameUseCase(apply *ApplyUpdateUseCase, devices output.DeviceResolver) *RenameUseCase {
	return &RenameUseCase{apply: apply, devices: devices}
}

// BuildPlan reads the entry from the source device and returns the plan that deletes it
// there and inserts it into the target directory.
func (uc *RenameUseCase) BuildPlan(ctx context.Context, in dto.RenameInput) (*update.Plan, error) {
	if in.Name == "" {
		return nil, fmt.Errorf("name is required")
	}
	newName := in.NewName
	if newName == "" {
		newName = in.Name
	}

	src, err := uc.devices.Resolve(distxn.DeviceID(in.SrcDevice))
	if err != nil {
		return nil, err
	}
	srcKey, err := update.NormalizeKey(path.Join(in.SrcDir, in.Name))
	if err != nil {
		return nil, err
	}
	dstKey, err := update.NormalizeKey(path.Join(in.DstDir, newName))
	if err != nil {
		return nil, err
	}

	value, err := src.Get(ctx, srcKey)
	if err != nil {
		return nil, fmt.Errorf("rename source: %w", err)
	}

	plan := &update.Plan{
		Master: in.SrcDevice,
		Steps: []update.Step{
			{Device: in.SrcDevice, Ops: []update.Op{update.Delete(srcKey)}},
			{Device: in.DstDevice, Ops: []update.Op{update.Put(dstKey, value)}},
		},
	}
	if err := plan.Validate(); err != nil {
		return nil, err
	}
	return plan, nil
}

// Execute renames the entry as one distributed transaction
func (uc *RenameUseCase) Execute(ctx context.Context, in dto.RenameInput) (*dto.ApplyUpdateOutput, error) {
	plan, err := uc.BuildPlan(ctx, in)
	if err != nil {
		return &dto.ApplyUpdateOutput{Master: in.SrcDevice, Code: distxn.Code(err), Error: err.Error()}, err
	}
	return uc.apply.Execute(ctx, plan)
}
