package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/screening-sync/internal/dataset"
	"github.com/sells-group/screening-sync/internal/model"
	"github.com/sells-group/screening-sync/internal/store"
)

var refsCmd = &cobra.Command{
	Use:   "refs",
	Short: "Manage cached reference entities (accounts, labs, sites)",
}

var refsImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Import accounts or laboratories from a CSV or XLSX file",
	Long: `Loads reference entities into the local cache. Existing keys are never
overwritten.

  accounts: code, name, source_code (optional), remote_id
  labs:     name, remote_id`,
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, _ := cmd.Flags().GetString("kind")
		file, _ := cmd.Flags().GetString("file")

		st, err := openRefStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		t, err := dataset.Load(file, dataset.Options{})
		if err != nil {
			return err
		}

		n, err := importRefs(cmd.Context(), st, kind, t)
		if err != nil {
			return err
		}
		zap.L().Info("refs: import complete", zap.String("kind", kind), zap.Int("rows", t.Len()), zap.Int("inserted", n))
		fmt.Fprintf(cmd.OutOrStdout(), "imported %d of %d %s\n", n, t.Len(), kind)
		return nil
	},
}

var refsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List cached accounts, labs or sites",
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, _ := cmd.Flags().GetString("kind")

		st, err := openRefStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		return listRefs(cmd.Context(), cmd.OutOrStdout(), st, kind)
	},
}

func openRefStore(ctx context.Context) (store.Store, error) {
	if err := cfg.Validate("refs"); err != nil {
		return nil, err
	}
	st, err := initStore(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// importRefs maps table rows to reference entities and inserts them.
func importRefs(ctx context.Context, st store.Store, kind string, t *dataset.Table) (int, error) {
	switch kind {
	case "accounts":
		accounts, err := parseAccounts(t)
		if err != nil {
			return 0, err
		}
		return st.PutAccounts(ctx, accounts)
	case "labs":
		labs, err := parseLabs(t)
		if err != nil {
			return 0, err
		}
		return st.PutLabs(ctx, labs)
	default:
		return 0, eris.Errorf("refs: unknown kind %q (want accounts or labs)", kind)
	}
}

func requireColumn(t *dataset.Table, aliases ...string) (int, error) {
	i, ok := t.Find(aliases...)
	if !ok {
		return -1, eris.Wrapf(model.ErrSchemaMismatch, "refs: column %q not found", aliases[0])
	}
	return i, nil
}

func parseAccounts(t *dataset.Table) ([]model.Account, error) {
	code, err := requireColumn(t, "code", "account code")
	if err != nil {
		return nil, err
	}
	remote, err := requireColumn(t, "remote_id", "remote id", "crm id", "id")
	if err != nil {
		return nil, err
	}
	name, _ := t.Find("name", "account name")
	src, _ := t.Find("source_code", "source code", "account number")

	out := make([]model.Account, 0, t.Len())
	for _, row := range t.Rows {
		a := model.Account{
			Code:       t.Value(row, code),
			Name:       t.Value(row, name),
			SourceCode: t.Value(row, src),
			RemoteID:   t.Value(row, remote),
		}
		if a.Code == "" || a.RemoteID == "" {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

func parseLabs(t *dataset.Table) ([]model.Lab, error) {
	name, err := requireColumn(t, "name", "laboratory", "lab")
	if err != nil {
		return nil, err
	}
	remote, err := requireColumn(t, "remote_id", "remote id", "crm id", "id")
	if err != nil {
		return nil, err
	}

	out := make([]model.Lab, 0, t.Len())
	for _, row := range t.Rows {
		l := model.Lab{Name: t.Value(row, name), RemoteID: t.Value(row, remote)}
		if l.Name == "" || l.RemoteID == "" {
			continue
		}
		out = append(out, l)
	}
	return out, nil
}

func listRefs(ctx context.Context, out io.Writer, st store.Store, kind string) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	switch strings.ToLower(kind) {
	case "accounts":
		accounts, err := st.Accounts(ctx)
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintln(w, "CODE\tNAME\tSOURCE_CODE\tREMOTE_ID")
		for _, a := range accounts {
			_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", a.Code, a.Name, a.SourceCode, a.RemoteID)
		}
	case "labs":
		labs, err := st.Labs(ctx)
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintln(w, "NAME\tREMOTE_ID")
		for _, l := range labs {
			_, _ = fmt.Fprintf(w, "%s\t%s\n", l.Name, l.RemoteID)
		}
	case "sites":
		sites, err := st.Sites(ctx)
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintln(w, "SITE_ID\tNAME\tREMOTE_ID")
		for _, s := range sites {
			_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", s.SiteID, s.Name, s.RemoteID)
		}
	default:
		return eris.Errorf("refs: unknown kind %q (want accounts, labs or sites)", kind)
	}
	return w.Flush()
}

func init() {
	refsImportCmd.Flags().String("kind", "", "entity kind: accounts or labs")
	refsImportCmd.Flags().String("file", "", "CSV or XLSX file to import")
	_ = refsImportCmd.MarkFlagRequired("kind")
	_ = refsImportCmd.MarkFlagRequired("file")

	refsListCmd.Flags().String("kind", "sites", "entity kind: accounts, labs or sites")

	refsCmd.AddCommand(refsImportCmd)
	refsCmd.AddCommand(refsListCmd)
	rootCmd.AddCommand(refsCmd)
}
