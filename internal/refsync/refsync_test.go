package refsync

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/screening-sync/internal/crm/crmtest"
	"github.com/sells-group/screening-sync/internal/model"
	"github.com/sells-group/screening-sync/internal/store"
)

func newStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "refsync.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func sites(n int) []model.Site {
	out := make([]model.Site, n)
	for i := range out {
		out[i] = model.Site{SiteID: fmt.Sprintf("S%03d", i), Name: fmt.Sprintf("Site %d", i)}
	}
	return out
}

func TestSync_CreatesOnlyMissing(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)
	_, err := st.InsertSites(ctx, []model.Site{{SiteID: "S000", Name: "Site 0", RemoteID: "r-old"}})
	require.NoError(t, err)

	fake := &crmtest.Fake{}
	res, err := New(st, fake, 100).Sync(ctx, sites(3))
	require.NoError(t, err)

	require.Len(t, fake.SiteCalls, 1)
	assert.Len(t, fake.SiteCalls[0], 2)
	assert.Equal(t, 2, res.Created)
	assert.Equal(t, "r-old", res.RemoteIDs["S000"])
	assert.NotEmpty(t, res.RemoteIDs["S002"])

	cached, err := st.Sites(ctx)
	require.NoError(t, err)
	assert.Len(t, cached, 3)
}

func TestSync_NothingMissing(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)
	_, err := st.InsertSites(ctx, []model.Site{{SiteID: "S000", RemoteID: "r"}})
	require.NoError(t, err)

	fake := &crmtest.Fake{}
	res, err := New(st, fake, 100).Sync(ctx, []model.Site{{SiteID: "S000"}, {SiteID: " "}})
	require.NoError(t, err)
	assert.Empty(t, fake.SiteCalls)
	assert.Zero(t, res.Created)
}

func TestSync_SecondChunkFailsKeepsFirst(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)
	fake := &crmtest.Fake{FailSiteCall: 2}

	res, err := New(st, fake, 100).Sync(ctx, sites(150))
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrPartialBatch))
	assert.False(t, errors.Is(err, model.ErrRemoteRejection))

	require.Len(t, fake.SiteCalls, 2)
	assert.Len(t, fake.SiteCalls[0], 100)
	assert.Len(t, fake.SiteCalls[1], 50)
	assert.Equal(t, 100, res.Created)

	cached, err := st.Sites(ctx)
	require.NoError(t, err)
	assert.Len(t, cached, 100)
}

func TestSync_RowRejectionCachesCreatedSites(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)
	fake := &crmtest.Fake{RejectSites: map[string]bool{"S002": true}}
	syncer := New(st, fake, 100)

	res, err := syncer.Sync(ctx, sites(3))
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrPartialBatch))
	assert.True(t, errors.Is(err, model.ErrRemoteRejection))
	assert.Contains(t, err.Error(), "1 of 3 sites rejected")

	assert.Equal(t, 2, res.Created)
	require.Len(t, res.Rejected, 1)
	assert.Equal(t, "S002", res.Rejected[0].SiteID)
	assert.Equal(t, "DUPLICATE_DATA", res.Rejected[0].Code)
	assert.NotEmpty(t, res.RemoteIDs["S000"])
	assert.NotEmpty(t, res.RemoteIDs["S001"])
	assert.NotContains(t, res.RemoteIDs, "S002")

	cached, err := st.Sites(ctx)
	require.NoError(t, err)
	assert.Len(t, cached, 2)

	// Only the rejected site is attempted again.
	res, err = syncer.Sync(ctx, sites(3))
	require.Error(t, err)
	require.Len(t, fake.SiteCalls, 2)
	require.Len(t, fake.SiteCalls[1], 1)
	assert.Equal(t, "S002", fake.SiteCalls[1][0].SiteID)
	assert.Zero(t, res.Created)
	assert.Len(t, res.RemoteIDs, 2)

	cached, err = st.Sites(ctx)
	require.NoError(t, err)
	assert.Len(t, cached, 2)
}

func TestSync_RowRejectionDoesNotStopLaterChunks(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)
	fake := &crmtest.Fake{RejectSites: map[string]bool{"S001": true}}

	res, err := New(st, fake, 2).Sync(ctx, sites(4))
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrRemoteRejection))
	assert.Contains(t, err.Error(), "S001")

	assert.Len(t, fake.SiteCalls, 2)
	assert.Equal(t, 3, res.Created)

	cached, err := st.Sites(ctx)
	require.NoError(t, err)
	assert.Len(t, cached, 3)
}

func TestSync_RetryAfterFailureCreatesRemainder(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)
	batch := sites(150)

	_, err := New(st, &crmtest.Fake{FailSiteCall: 2}, 100).Sync(ctx, batch)
	require.Error(t, err)

	fake := &crmtest.Fake{}
	res, err := New(st, fake, 100).Sync(ctx, batch)
	require.NoError(t, err)
	require.Len(t, fake.SiteCalls, 1)
	assert.Len(t, fake.SiteCalls[0], 50)
	assert.Len(t, res.RemoteIDs, 150)
}

func TestMissing_DistinctFirstSeen(t *testing.T) {
	got := Missing([]model.Site{
		{SiteID: "B", Name: "Bee"},
		{SiteID: "A", Name: "Ay"},
		{SiteID: "B", Name: "Other"},
		{SiteID: "", Name: "blank"},
		{SiteID: "K", Name: "Known"},
	}, map[string]string{"K": "r"})
	assert.Equal(t, []model.Site{{SiteID: "B", Name: "Bee"}, {SiteID: "A", Name: "Ay"}}, got)
}

func TestNew_ClampsChunkSize(t *testing.T) {
	assert.Equal(t, DefaultChunkSize, New(nil, nil, 0).chunkSize)
	assert.Equal(t, DefaultChunkSize, New(nil, nil, 500).chunkSize)
	assert.Equal(t, 25, New(nil, nil, 25).chunkSize)
}

func TestSitesOf(t *testing.T) {
	recs := []model.Record{
		{CollectionSiteID: "S1", CollectionSiteName: "One"},
		{CollectionSiteName: "No id"},
	}
	assert.Equal(t, []model.Site{{SiteID: "S1", Name: "One"}}, SitesOf(recs))
}
