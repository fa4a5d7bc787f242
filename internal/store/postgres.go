package store

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/screening-sync/internal/db"
	"github.com/sells-group/screening-sync/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

const (
	sqlSubmittedIDs = `SELECT external_id FROM submitted_records`
	sqlIsSubmitted  = `SELECT EXISTS (SELECT 1 FROM submitted_records WHERE external_id = $1)`
	sqlStagedIDs    = `SELECT external_id FROM staged_records WHERE NOT reviewed`
	sqlInsertRun    = `INSERT INTO pipeline_runs (id, source, status, started_at) VALUES ($1, $2, $3, $4)`
	sqlFinishRun    = `UPDATE pipeline_runs SET status = $1, counts = $2, error = $3, completed_at = $4 WHERE id = $5`
)

// NewPostgres creates a PostgresStore with a connection pool. pgx caches a
// prepared statement per query text on each connection, so the store runs
// plain SQL.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := newPoolConfig(connString, poolCfg)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, persistErr(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, persistErr(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

func newPoolConfig(connString string, poolCfg *PoolConfig) (*pgxpool.Config, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, persistErr(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute
	return pgxCfg, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS submitted_records (
	external_id  TEXT PRIMARY KEY,
	submitted_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS staged_records (
	external_id          TEXT PRIMARY KEY,
	first_name           TEXT NOT NULL DEFAULT '',
	last_name            TEXT NOT NULL DEFAULT '',
	secondary_id         TEXT NOT NULL DEFAULT '',
	company_name         TEXT NOT NULL DEFAULT '',
	company_code         TEXT NOT NULL DEFAULT '',
	collection_date      TEXT NOT NULL DEFAULT '',
	result_received_date TEXT NOT NULL DEFAULT '',
	reason               TEXT NOT NULL DEFAULT '',
	result               TEXT NOT NULL DEFAULT '',
	positive_analytes    TEXT NOT NULL DEFAULT '',
	test_type            TEXT NOT NULL DEFAULT '',
	regulation_status    TEXT NOT NULL DEFAULT '',
	regulatory_agency    TEXT NOT NULL DEFAULT '',
	measured_value       TEXT,
	laboratory           TEXT NOT NULL DEFAULT '',
	collection_site_name TEXT NOT NULL DEFAULT '',
	collection_site_id   TEXT NOT NULL DEFAULT '',
	location_code        TEXT NOT NULL DEFAULT '',
	reviewed             BOOLEAN NOT NULL DEFAULT false,
	reviewed_at          TIMESTAMPTZ,
	staged_at            TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_staged_records_reviewed ON staged_records(reviewed);

CREATE TABLE IF NOT EXISTS collection_sites (
	site_id   TEXT PRIMARY KEY,
	name      TEXT NOT NULL DEFAULT '',
	remote_id TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS accounts (
	code        TEXT PRIMARY KEY,
	name        TEXT NOT NULL DEFAULT '',
	source_code TEXT NOT NULL DEFAULT '',
	remote_id   TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS laboratories (
	name      TEXT PRIMARY KEY,
	remote_id TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS pipeline_runs (
	id           TEXT PRIMARY KEY,
	source       TEXT NOT NULL,
	status       TEXT NOT NULL,
	counts       JSONB NOT NULL DEFAULT '{}',
	error        TEXT NOT NULL DEFAULT '',
	started_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	completed_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_pipeline_runs_source ON pipeline_runs(source, started_at DESC);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return persistErr(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return persistErr(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// --- Submitted set ---

func (s *PostgresStore) SubmittedIDs(ctx context.Context) (model.IDSet, error) {
	return s.idSet(ctx, sqlSubmittedIDs, "submitted ids")
}

func (s *PostgresStore) IsSubmitted(ctx context.Context, externalID string) (bool, error) {
	var ok bool
	if err := s.pool.QueryRow(ctx, sqlIsSubmitted, externalID).Scan(&ok); err != nil {
		return false, persistErrf(err, "postgres: is submitted %s", externalID)
	}
	return ok, nil
}

func (s *PostgresStore) RecordSubmissions(ctx context.Context, ids []string, at time.Time) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	at = at.UTC()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, persistErr(err, "postgres: record submissions: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	tag, err := tx.Exec(ctx,
		`INSERT INTO submitted_records (external_id, submitted_at)
		 SELECT unnest($1::text[]), $2
		 ON CONFLICT (external_id) DO NOTHING`,
		ids, at,
	)
	if err != nil {
		return 0, persistErr(err, "postgres: record submissions")
	}

	if _, err := tx.Exec(ctx,
		`UPDATE staged_records SET reviewed = true, reviewed_at = $1
		 WHERE external_id = ANY($2) AND NOT reviewed`,
		at, ids,
	); err != nil {
		return 0, persistErr(err, "postgres: mark staged submitted")
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, persistErr(err, "postgres: record submissions: commit")
	}
	return int(tag.RowsAffected()), nil
}

// --- Staging ---

func (s *PostgresStore) StagedIDs(ctx context.Context) (model.IDSet, error) {
	return s.idSet(ctx, sqlStagedIDs, "staged ids")
}

func (s *PostgresStore) StageRecords(ctx context.Context, recs []model.Record) (int, error) {
	rows := make([][]any, 0, len(recs))
	for i := range recs {
		rows = append(rows, stagedValues(&recs[i]))
	}
	n, err := db.BulkInsert(ctx, s.pool, db.InsertConfig{
		Table:        "staged_records",
		Columns:      stagedColumns,
		ConflictKeys: []string{"external_id"},
	}, rows)
	if err != nil {
		return 0, persistErr(err, "postgres: stage records")
	}
	return int(n), nil
}

var postgresStagedSelect = `SELECT ` + strings.Join(stagedColumns, ", ") +
	`, reviewed, reviewed_at, staged_at FROM staged_records`

func (s *PostgresStore) GetStaged(ctx context.Context, externalID string) (*model.StagedRecord, error) {
	row := s.pool.QueryRow(ctx, postgresStagedSelect+` WHERE external_id = $1`, externalID)
	sr, err := scanStaged(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, persistErrf(err, "postgres: get staged %s", externalID)
	}
	return sr, nil
}

func (s *PostgresStore) ListStaged(ctx context.Context, includeReviewed bool) ([]model.StagedRecord, error) {
	query := postgresStagedSelect
	if !includeReviewed {
		query += ` WHERE NOT reviewed`
	}
	query += ` ORDER BY external_id`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, persistErr(err, "postgres: list staged")
	}
	defer rows.Close()

	var out []model.StagedRecord
	for rows.Next() {
		sr, err := scanStaged(rows)
		if err != nil {
			return nil, persistErr(err, "postgres: scan staged")
		}
		out = append(out, *sr)
	}
	return out, persistErr(rows.Err(), "postgres: list staged iterate")
}

func (s *PostgresStore) UpdateStaged(ctx context.Context, rec model.Record) error {
	sets := make([]string, 0, len(stagedColumns)-1)
	for i, c := range stagedColumns[1:] {
		sets = append(sets, c+" = $"+strconv.Itoa(i+1))
	}
	args := append(stagedValues(&rec)[1:], rec.ExternalID)

	tag, err := s.pool.Exec(ctx,
		`UPDATE staged_records SET `+strings.Join(sets, ", ")+` WHERE external_id = $`+strconv.Itoa(len(args)),
		args...)
	if err != nil {
		return persistErrf(err, "postgres: update staged %s", rec.ExternalID)
	}
	if tag.RowsAffected() == 0 {
		return notFound("staged record", rec.ExternalID)
	}
	return nil
}

func (s *PostgresStore) MarkReviewed(ctx context.Context, externalID string, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE staged_records SET reviewed = true, reviewed_at = $1 WHERE external_id = $2`,
		at.UTC(), externalID,
	)
	if err != nil {
		return persistErrf(err, "postgres: mark reviewed %s", externalID)
	}
	if tag.RowsAffected() == 0 {
		return notFound("staged record", externalID)
	}
	return nil
}

// --- Reference entities ---

func (s *PostgresStore) Sites(ctx context.Context) ([]model.Site, error) {
	rows, err := s.pool.Query(ctx, `SELECT site_id, name, remote_id FROM collection_sites ORDER BY site_id`)
	if err != nil {
		return nil, persistErr(err, "postgres: list sites")
	}
	sites, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Site, error) {
		var st model.Site
		err := row.Scan(&st.SiteID, &st.Name, &st.RemoteID)
		return st, err
	})
	return sites, persistErr(err, "postgres: scan sites")
}

func (s *PostgresStore) InsertSites(ctx context.Context, sites []model.Site) (int, error) {
	rows := make([][]any, 0, len(sites))
	for _, st := range sites {
		rows = append(rows, []any{st.SiteID, st.Name, st.RemoteID})
	}
	return s.bulkInsert(ctx, "collection_sites", []string{"site_id", "name", "remote_id"}, "site_id", rows)
}

func (s *PostgresStore) Accounts(ctx context.Context) ([]model.Account, error) {
	rows, err := s.pool.Query(ctx, `SELECT code, name, source_code, remote_id FROM accounts ORDER BY code`)
	if err != nil {
		return nil, persistErr(err, "postgres: list accounts")
	}
	accounts, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Account, error) {
		var a model.Account
		err := row.Scan(&a.Code, &a.Name, &a.SourceCode, &a.RemoteID)
		return a, err
	})
	return accounts, persistErr(err, "postgres: scan accounts")
}

func (s *PostgresStore) PutAccounts(ctx context.Context, accounts []model.Account) (int, error) {
	rows := make([][]any, 0, len(accounts))
	for _, a := range accounts {
		rows = append(rows, []any{a.Code, a.Name, a.SourceCode, a.RemoteID})
	}
	return s.bulkInsert(ctx, "accounts", []string{"code", "name", "source_code", "remote_id"}, "code", rows)
}

func (s *PostgresStore) Labs(ctx context.Context) ([]model.Lab, error) {
	rows, err := s.pool.Query(ctx, `SELECT name, remote_id FROM laboratories ORDER BY name`)
	if err != nil {
		return nil, persistErr(err, "postgres: list labs")
	}
	labs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Lab, error) {
		var l model.Lab
		err := row.Scan(&l.Name, &l.RemoteID)
		return l, err
	})
	return labs, persistErr(err, "postgres: scan labs")
}

func (s *PostgresStore) PutLabs(ctx context.Context, labs []model.Lab) (int, error) {
	rows := make([][]any, 0, len(labs))
	for _, l := range labs {
		rows = append(rows, []any{l.Name, l.RemoteID})
	}
	return s.bulkInsert(ctx, "laboratories", []string{"name", "remote_id"}, "name", rows)
}

func (s *PostgresStore) bulkInsert(ctx context.Context, table string, cols []string, key string, rows [][]any) (int, error) {
	n, err := db.BulkInsert(ctx, s.pool, db.InsertConfig{
		Table:        table,
		Columns:      cols,
		ConflictKeys: []string{key},
	}, rows)
	if err != nil {
		return 0, persistErrf(err, "postgres: insert %s", table)
	}
	return int(n), nil
}

// --- Run log ---

func (s *PostgresStore) StartRun(ctx context.Context, source string) (*model.Run, error) {
	run := &model.Run{
		ID:        uuid.New().String(),
		Source:    source,
		Status:    model.RunStatusRunning,
		StartedAt: time.Now().UTC(),
	}
	if _, err := s.pool.Exec(ctx, sqlInsertRun, run.ID, run.Source, string(run.Status), run.StartedAt); err != nil {
		return nil, persistErrf(err, "postgres: start run for %s", source)
	}
	return run, nil
}

func (s *PostgresStore) CompleteRun(ctx context.Context, runID string, counts model.RunCounts) error {
	return s.finishRun(ctx, runID, model.RunStatusComplete, counts, "")
}

func (s *PostgresStore) FailRun(ctx context.Context, runID string, counts model.RunCounts, cause error) error {
	return s.finishRun(ctx, runID, model.RunStatusFailed, counts, runError(cause))
}

func (s *PostgresStore) finishRun(ctx context.Context, runID string, status model.RunStatus, counts model.RunCounts, msg string) error {
	countsJSON, err := json.Marshal(counts)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal run counts")
	}
	tag, err := s.pool.Exec(ctx, sqlFinishRun, string(status), countsJSON, msg, time.Now().UTC(), runID)
	if err != nil {
		return persistErrf(err, "postgres: finish run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return notFound("run", runID)
	}
	return nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, source, status, counts, error, started_at, completed_at FROM pipeline_runs WHERE 1=1`
	var args []any
	argN := 1

	if filter.Source != "" {
		query += ` AND source = $` + strconv.Itoa(argN)
		args = append(args, filter.Source)
		argN++
	}
	if filter.Status != "" {
		query += ` AND status = $` + strconv.Itoa(argN)
		args = append(args, string(filter.Status))
		argN++
	}
	query += ` ORDER BY started_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT $` + strconv.Itoa(argN)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, persistErr(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		var (
			r          model.Run
			status     string
			countsJSON []byte
		)
		if err := rows.Scan(&r.ID, &r.Source, &status, &countsJSON, &r.Error, &r.StartedAt, &r.CompletedAt); err != nil {
			return nil, persistErr(err, "postgres: scan run")
		}
		r.Status = model.RunStatus(status)
		if len(countsJSON) > 0 {
			if err := json.Unmarshal(countsJSON, &r.Counts); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal run counts")
			}
		}
		runs = append(runs, r)
	}
	return runs, persistErr(rows.Err(), "postgres: list runs iterate")
}

func (s *PostgresStore) idSet(ctx context.Context, query, what string) (model.IDSet, error) {
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, persistErrf(err, "postgres: %s", what)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, persistErrf(err, "postgres: scan %s", what)
	}
	return model.NewIDSet(ids...), nil
}
