package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/YoshitsuguKoike/mdtxn/internal/application/dto"
)

var (
	okColor   = color.New(color.FgGreen, color.Bold).SprintFunc()
	failColor = color.New(color.FgRed, color.Bold).SprintFunc()
	keyColor  = color.New(color.FgCyan).SprintFunc()
	dimColor  = color.New(color.Faint).SprintFunc()
)

// printOutcome writes the result of one distributed update
func printOutcome(w io.Writer, out *dto.ApplyUpdateOutput, asJSON bool) error {
	if asJSON {
		return writeJSON(w, out)
	}

	status := okColor("COMMITTED")
	if !out.OK {
		status = failColor("ABORTED")
	}
	fmt.Fprintf(w, "%s %s\n", status, out.TxnID)
	fmt.Fprintf(w, "  %s %s\n", keyColor("master:      "), out.Master)
	fmt.Fprintf(w, "  %s %s\n", keyColor("participants:"), strings.Join(out.Participants, ", "))
	fmt.Fprintf(w, "  %s %t\n", keyColor("sync:        "), out.Sync)
	fmt.Fprintf(w, "  %s %d\n", keyColor("ops:         "), out.Ops)
	if !out.OK {
		fmt.Fprintf(w, "  %s %d\n", keyColor("code:        "), out.Code)
		fmt.Fprintf(w, "  %s %s\n", keyColor("error:       "), failColor(out.Error))
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
