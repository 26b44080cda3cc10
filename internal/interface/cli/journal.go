package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/YoshitsuguKoike/mdtxn/internal/infra/persistence/file"
)

func newJournalCmd() *cobra.Command {
	var tail int
	var failedOnly, asJSON bool

	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Show the outcomes of past transactions",
		RunE: func(cmd *cobra.Command, args []string) error {
			records, err := file.NewJournal(afero.NewOsFs(), globalConfig.JournalPath()).Read()
			if err != nil {
				return err
			}
			if failedOnly {
				kept := records[:0]
				for _, r := range records {
					if r.Error != "" {
						kept = append(kept, r)
					}
				}
				records = kept
			}
			if tail > 0 && len(records) > tail {
				records = records[len(records)-tail:]
			}

			w := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(w, records)
			}
			for _, r := range records {
				status := okColor("ok  ")
				if r.Error != "" {
					status = failColor("fail")
				}
				fmt.Fprintf(w, "%s %s %s master=%s participants=%s sync=%t %dms",
					dimColor(r.TS.Format("2006-01-02T15:04:05Z")), status, r.TxnID,
					r.Master, strings.Join(r.Participants, ","), r.Sync, r.DurationMs)
				if r.Error != "" {
					fmt.Fprintf(w, " code=%d error=%q", r.Code, r.Error)
				}
				fmt.Fprintln(w)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&tail, "tail", 20, "show the last N records (0 for all)")
	cmd.Flags().BoolVar(&failedOnly, "failed", false, "only failed transactions")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print records as JSON")
	return cmd
}
