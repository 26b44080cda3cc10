package cli

import (
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/YoshitsuguKoike/mdtxn/internal/infra/persistence/file"
)

func newMetricsCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "metrics",
		Short: "Show the accumulated coordinator counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := file.NewMetricsStore(afero.NewOsFs(), globalConfig.MetricsPath()).Load()
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(w, snap)
			}
			enc := yaml.NewEncoder(w)
			defer enc.Close()
			return enc.Encode(snap)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return cmd
}
