package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sells-group/screening-sync/internal/normalize"
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List registered source profiles",
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := initProfiles(cfg.Pipeline)
		if err != nil {
			return err
		}
		formatSources(cmd.OutOrStdout(), reg)
		return nil
	},
}

func formatSources(out io.Writer, reg *normalize.Registry) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "SOURCE\tDESCRIPTION")
	for _, name := range reg.Names() {
		p, _ := reg.Get(name)
		_, _ = fmt.Fprintf(w, "%s\t%s\n", name, p.Description)
	}
	_ = w.Flush()
}

func init() {
	rootCmd.AddCommand(sourcesCmd)
}
