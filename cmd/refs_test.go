package main

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/screening-sync/internal/dataset"
	"github.com/sells-group/screening-sync/internal/model"
	"github.com/sells-group/screening-sync/internal/store"
)

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "cmd.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func TestParseAccounts(t *testing.T) {
	tbl := dataset.NewTable(
		[]string{"Account Code", "Name", "Account Number", "CRM ID"},
		[][]string{
			{"A100", "Acme", "1234", "acc-1"},
			{"A200", "Beta", "", "acc-2"},
			{"", "No Code", "", "acc-3"},
			{"A300", "No Remote", "", ""},
		},
	)
	got, err := parseAccounts(tbl)
	require.NoError(t, err)
	assert.Equal(t, []model.Account{
		{Code: "A100", Name: "Acme", SourceCode: "1234", RemoteID: "acc-1"},
		{Code: "A200", Name: "Beta", RemoteID: "acc-2"},
	}, got)
}

func TestParseAccounts_MissingColumn(t *testing.T) {
	_, err := parseAccounts(dataset.NewTable([]string{"Name", "remote_id"}, nil))
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrSchemaMismatch))
}

func TestImportRefs(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	labs := dataset.NewTable([]string{"Lab", "Remote ID"}, [][]string{
		{"Quest Diagnostics", "lab-1"},
		{"Omega Laboratories", "lab-2"},
	})
	n, err := importRefs(ctx, st, "labs", labs)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = importRefs(ctx, st, "labs", labs)
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = importRefs(ctx, st, "sites", labs)
	assert.Error(t, err)
}

func TestListRefs(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	_, err := st.InsertSites(ctx, []model.Site{{SiteID: "S1", Name: "North", RemoteID: "r1"}})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, listRefs(ctx, &buf, st, "sites"))
	assert.Contains(t, buf.String(), "SITE_ID")
	assert.Contains(t, buf.String(), "North")

	assert.Error(t, listRefs(ctx, &buf, st, "widgets"))
}
