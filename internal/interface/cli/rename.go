package cli

import (
	"github.com/spf13/cobra"

	"github.com/YoshitsuguKoike/mdtxn/internal/application/dto"
	"github.com/YoshitsuguKoike/mdtxn/internal/infrastructure/di"
)

func newRenameCmd() *cobra.Command {
	var in dto.RenameInput
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "rename",
		Short: "Move a directory entry, possibly to a directory on another device",
		Example: `  mdtxn rename --src-dev mdt0 --src-dir d1 --dst-dev mdt1 --dst-dir d2 --name file
  mdtxn rename --src-dev mdt0 --src-dir d1 --dst-dev mdt0 --dst-dir d1 --name a --new-name b`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if in.DstDevice == "" {
				in.DstDevice = in.SrcDevice
			}
			return withContainer(cmd.Context(), true, func(c *di.Container) error {
				out, err := c.GetRenameUseCase().Execute(cmd.Context(), in)
				if perr := printOutcome(cmd.OutOrStdout(), out, asJSON); perr != nil {
					return perr
				}
				return err
			})
		},
	}
	cmd.Flags().StringVar(&in.SrcDevice, "src-dev", "", "device holding the source directory (master)")
	cmd.Flags().StringVar(&in.SrcDir, "src-dir", "", "source directory")
	cmd.Flags().StringVar(&in.DstDevice, "dst-dev", "", "device holding the target directory (default: --src-dev)")
	cmd.Flags().StringVar(&in.DstDir, "dst-dir", "", "target directory")
	cmd.Flags().StringVar(&in.Name, "name", "", "entry name")
	cmd.Flags().StringVar(&in.NewName, "new-name", "", "entry name in the target directory (default: --name)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the outcome as JSON")
	_ = cmd.MarkFlagRequired("src-dev")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}
