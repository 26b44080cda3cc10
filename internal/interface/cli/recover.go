package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/YoshitsuguKoike/mdtxn/internal/infra/fs/txn"
	"github.com/YoshitsuguKoike/mdtxn/internal/infrastructure/di"
)

func newRecoverCmd() *cobra.Command {
	var discardAll bool

	cmd := &cobra.Command{
		Use:   "recover",
		Short: "Finish or discard local transactions left behind by a crash",
		Long: `Every file device recovers when it is opened: transactions that reached intent
are committed forward, committed work directories are removed and unfinished ones older
than ten minutes are discarded. This command opens all devices and reports the result.

--discard-incomplete also discards unfinished transactions regardless of age. Only use
it when no other process is using the devices.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContainer(cmd.Context(), false, func(c *di.Container) error {
				w := cmd.OutOrStdout()
				devices := c.FileDevices()
				if len(devices) == 0 {
					fmt.Fprintln(w, dimColor("no file devices configured"))
					return nil
				}

				failed := 0
				for _, d := range devices {
					result := d.OpenRecovery()
					if discardAll {
						cfg := txn.DefaultRecoveryConfig()
						cfg.StaleAfter = -1
						again, err := d.RecoverWithConfig(cmd.Context(), cfg)
						if err != nil {
							return fmt.Errorf("recover %s: %w", d.ID(), err)
						}
						again.RecoveredCount += result.RecoveredCount
						again.CleanedCount += result.CleanedCount
						again.DiscardedCount += result.DiscardedCount
						again.FailedCount += result.FailedCount
						again.Errors = append(result.Errors, again.Errors...)
						result = again
					}

					status := okColor("ok")
					if result.FailedCount > 0 {
						status = failColor("failed")
						failed += result.FailedCount
					}
					fmt.Fprintf(w, "%s %s recovered=%d cleaned=%d discarded=%d failed=%d\n",
						status, d.ID(), result.RecoveredCount, result.CleanedCount,
						result.DiscardedCount, result.FailedCount)
					for _, err := range result.Errors {
						fmt.Fprintf(w, "  %s\n", failColor(err.Error()))
					}
				}
				if failed > 0 {
					return fmt.Errorf("%d transactions could not be recovered", failed)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&discardAll, "discard-incomplete", false, "discard every unfinished transaction, whatever its age")
	return cmd
}
