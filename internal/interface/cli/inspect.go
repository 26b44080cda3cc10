package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/YoshitsuguKoike/mdtxn/internal/domain/distxn"
	"github.com/YoshitsuguKoike/mdtxn/internal/infra/fs/txn"
	"github.com/YoshitsuguKoike/mdtxn/internal/infrastructure/di"
)

func newInspectCmd() *cobra.Command {
	var device string
	var pending bool

	cmd := &cobra.Command{
		Use:   "inspect --device ID [key]",
		Short: "Show the committed state of a device",
		Long: `Without a key, list the committed keys of the device. With a key, print its value.
--pending lists the unfinished local transactions of a file device.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContainer(cmd.Context(), false, func(c *di.Container) error {
				dev, err := c.Resolve(distxn.DeviceID(device))
				if err != nil {
					return err
				}
				w := cmd.OutOrStdout()

				if pending {
					fd, ok := dev.(*txn.Device)
					if !ok {
						return fmt.Errorf("device %s is not a file device", device)
					}
					scan, err := fd.Pending()
					if err != nil {
						return err
					}
					fmt.Fprintf(w, "%s %d\n", keyColor("total:      "), scan.TotalFound)
					fmt.Fprintf(w, "%s %v\n", keyColor("intent only:"), scan.IntentOnly)
					fmt.Fprintf(w, "%s %v\n", keyColor("committed:  "), scan.Committed)
					fmt.Fprintf(w, "%s %v\n", keyColor("incomplete: "), scan.Incomplete)
					return nil
				}

				if len(args) == 1 {
					value, err := dev.Get(cmd.Context(), args[0])
					if err != nil {
						return err
					}
					fmt.Fprintln(w, value)
					return nil
				}

				keys, err := dev.Keys(cmd.Context())
				if err != nil {
					return err
				}
				for _, k := range keys {
					fmt.Fprintln(w, k)
				}
				if len(keys) == 0 {
					fmt.Fprintln(w, dimColor("(empty)"))
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&device, "device", "", "device ID")
	cmd.Flags().BoolVar(&pending, "pending", false, "list unfinished local transactions (file devices)")
	_ = cmd.MarkFlagRequired("device")
	return cmd
}
