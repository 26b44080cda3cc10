package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	infraConfig "github.com/YoshitsuguKoike/mdtxn/internal/infra/config"
	"github.com/YoshitsuguKoike/mdtxn/internal/infra/fs"
)

func newInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default setting.yaml into the home directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			home := globalConfig.Home()
			path := filepath.Join(home, infraConfig.SettingFile)
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := os.MkdirAll(home, 0o755); err != nil {
				return err
			}
			if err := fs.WriteFileSync(path, infraConfig.CreateDefaultSettings(), 0o644); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing setting.yaml")
	return cmd
}
