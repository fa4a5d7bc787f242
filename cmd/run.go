package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/screening-sync/internal/pipeline"
)

var (
	runInputs []string
	runDryRun bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Normalize, reconcile and submit source exports",
	Long: `Runs the pipeline for each --input in order. A failed source does not stop
later sources; the command fails if any source failed.

  screening-sync run --input crl=results.csv --input escreen=summary.xlsx`,
	RunE: func(cmd *cobra.Command, args []string) error {
		inputs, err := parseInputs(runInputs)
		if err != nil {
			return err
		}

		mode := "run"
		if runDryRun {
			mode = "dry-run"
		}
		e, err := initEnv(cmd.Context(), mode)
		if err != nil {
			return err
		}
		defer e.Close()

		results, runErr := e.Pipeline.RunAll(cmd.Context(), inputs)
		formatResults(os.Stdout, results)
		return runErr
	},
}

// parseInputs parses source=path pairs.
func parseInputs(raw []string) ([]pipeline.Input, error) {
	if len(raw) == 0 {
		return nil, eris.New("at least one --input source=path is required")
	}
	out := make([]pipeline.Input, 0, len(raw))
	for _, r := range raw {
		source, path, ok := strings.Cut(r, "=")
		source, path = strings.TrimSpace(source), strings.TrimSpace(path)
		if !ok || source == "" || path == "" {
			return nil, eris.Errorf("invalid --input %q: want source=path", r)
		}
		out = append(out, pipeline.Input{Source: strings.ToLower(source), Path: path})
	}
	return out, nil
}

// formatResults writes one row of counts per source run.
func formatResults(out io.Writer, results []*pipeline.Result) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "SOURCE\tSTATUS\tDEDUPED\tDUPES\tSENT\tCOMPLETE\tINCOMPLETE\tSTAGED\tACCEPTED\tREJECTED\tSITES")
	for _, r := range results {
		if r == nil {
			continue
		}
		c := r.Counts
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%d\t%d\t%d\t%d\t%d\t%d\n",
			r.Source, r.Status, c.Deduplicated, c.Duplicates, c.AlreadySent,
			c.Complete, c.Incomplete, c.Staged, c.Accepted, c.Rejected, c.CreatedSites)
	}
	_ = w.Flush()

	for _, r := range results {
		if r == nil {
			continue
		}
		if r.Error != "" {
			_, _ = fmt.Fprintf(out, "%s: %s\n", r.Source, r.Error)
		}
		for _, rej := range r.Rejected {
			_, _ = fmt.Fprintf(out, "%s: rejected %s: %s\n", r.Source, rej.ExternalID, rej.Reason)
		}
		for _, rej := range r.RejectedSites {
			_, _ = fmt.Fprintf(out, "%s: site %s refused: %s %s\n", r.Source, rej.SiteID, rej.Code, rej.Message)
		}
	}
}

func init() {
	runCmd.Flags().StringArrayVar(&runInputs, "input", nil, "source=path of an export to process (repeatable)")
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "normalize and reconcile only; no CRM calls or store writes")
	rootCmd.AddCommand(runCmd)
}
