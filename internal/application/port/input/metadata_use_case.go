package input

import (
	"context"

	"github.com/YoshitsuguKoike/mdtxn/internal/application/dto"
	"github.com/YoshitsuguKoike/mdtxn/internal/domain/model/update"
)

// ApplyUpdateUseCase applies a multi-device update plan as one distributed transaction
type ApplyUpdateUseCase interface {
	// Execute runs plan. The output describes the outcome even when an error is returned.
	Execute(ctx context.Context, plan *update.Plan) (*dto.ApplyUpdateOutput, error)
}

// RenameUseCase moves a directory entry between directories on any two devices
type RenameUseCase interface {
	// BuildPlan returns the update plan of the rename without applying it
	BuildPlan(ctx context.Context, in dto.RenameInput) (*update.Plan, error)

	// Execute applies the rename
	Execute(ctx context.Context, in dto.RenameInput) (*dto.ApplyUpdateOutput, error)
}
