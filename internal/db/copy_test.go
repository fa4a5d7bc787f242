package db

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var siteColumns = []string{"site_id", "name", "remote_id"}

func TestCopyFrom_NoRowsSkipsPool(t *testing.T) {
	n, err := CopyFrom(context.Background(), nil, "collection_sites", siteColumns, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCopyFrom_Sites(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectCopyFrom(pgx.Identifier{"collection_sites"}, siteColumns).WillReturnResult(2)

	n, err := CopyFrom(context.Background(), mock, "collection_sites", siteColumns, [][]any{
		{"S-100", "Quest Midtown", "zc-1"},
		{"S-200", "Concentra East", "zc-2"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCopyFrom_WrapsTableName(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectCopyFrom(pgx.Identifier{"staged_records"}, []string{"external_id"}).
		WillReturnError(errors.New("connection reset"))

	_, err = CopyFrom(context.Background(), mock, "staged_records", []string{"external_id"}, [][]any{{"CCF1"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "COPY INTO staged_records")
	assert.Contains(t, err.Error(), "connection reset")
}
