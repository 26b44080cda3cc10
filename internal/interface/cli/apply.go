package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/YoshitsuguKoike/mdtxn/internal/domain/model/update"
	"github.com/YoshitsuguKoike/mdtxn/internal/infrastructure/di"
)

func newApplyCmd() *cobra.Command {
	var planPath string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "apply -f plan.yaml",
		Short: "Apply an update plan as one distributed transaction",
		Long: `Apply an update plan as one distributed transaction.

The plan names the master device and, per device, the ops to apply:

  master: mdt0
  steps:
    - device: mdt0
      ops:
        - {kind: delete, key: d1/name}
    - device: mdt1
      ops:
        - {kind: put, key: d2/name, value: "fid:0x200000401"}

Use "-f -" to read the plan from stdin.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if planPath == "" {
				return fmt.Errorf("--file is required")
			}
			var plan *update.Plan
			var err error
			if planPath == "-" {
				plan, err = update.DecodePlan(cmd.InOrStdin())
			} else {
				plan, err = update.LoadPlan(planPath)
			}
			if err != nil {
				return err
			}

			return withContainer(cmd.Context(), true, func(c *di.Container) error {
				out, err := c.GetApplyUpdateUseCase().Execute(cmd.Context(), plan)
				if perr := printOutcome(cmd.OutOrStdout(), out, asJSON); perr != nil {
					return perr
				}
				return err
			})
		},
	}
	cmd.Flags().StringVarP(&planPath, "file", "f", "", "plan file (YAML), - for stdin")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the outcome as JSON")
	return cmd
}

