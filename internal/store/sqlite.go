package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/screening-sync/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, persistErr(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, persistErrf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS submitted_records (
	external_id  TEXT PRIMARY KEY,
	submitted_at DATETIME NOT NULL
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
	reviewed             BOOLEAN NOT NULL DEFAULT 0,
	reviewed_at          DATETIME,
	staged_at            DATETIME NOT NULL
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
	counts       TEXT NOT NULL DEFAULT '{}',
	error        TEXT NOT NULL DEFAULT '',
	started_at   DATETIME NOT NULL,
	completed_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_pipeline_runs_source ON pipeline_runs(source, started_at);
`

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return persistErr(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return persistErr(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Submitted set ---

func (s *SQLiteStore) SubmittedIDs(ctx context.Context) (model.IDSet, error) {
	return s.idSet(ctx, `SELECT external_id FROM submitted_records`, "submitted ids")
}

func (s *SQLiteStore) IsSubmitted(ctx context.Context, externalID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM submitted_records WHERE external_id = ?`, externalID,
	).Scan(&n)
	if err != nil {
		return false, persistErrf(err, "sqlite: is submitted %s", externalID)
	}
	return n > 0, nil
}

func (s *SQLiteStore) RecordSubmissions(ctx context.Context, ids []string, at time.Time) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	at = at.UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, persistErr(err, "sqlite: record submissions: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	inserted := 0
	for _, id := range ids {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO submitted_records (external_id, submitted_at) VALUES (?, ?)
			 ON CONFLICT (external_id) DO NOTHING`,
			id, at,
		)
		if err != nil {
			return 0, persistErrf(err, "sqlite: record submission %s", id)
		}
		n, _ := res.RowsAffected()
		inserted += int(n)

		if _, err := tx.ExecContext(ctx,
			`UPDATE staged_records SET reviewed = 1, reviewed_at = ? WHERE external_id = ? AND reviewed = 0`,
			at, id,
		); err != nil {
			return 0, persistErrf(err, "sqlite: mark staged submitted %s", id)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, persistErr(err, "sqlite: record submissions: commit")
	}
	return inserted, nil
}

// --- Staging ---

func (s *SQLiteStore) StagedIDs(ctx context.Context) (model.IDSet, error) {
	return s.idSet(ctx, `SELECT external_id FROM staged_records WHERE reviewed = 0`, "staged ids")
}

func (s *SQLiteStore) StageRecords(ctx context.Context, recs []model.Record) (int, error) {
	if len(recs) == 0 {
		return 0, nil
	}
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, persistErr(err, "sqlite: stage records: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	cols := append(append([]string{}, stagedColumns...), "reviewed", "staged_at")
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO staged_records (`+strings.Join(cols, ", ")+`) VALUES (`+placeholders(len(cols))+`)
		 ON CONFLICT (external_id) DO NOTHING`)
	if err != nil {
		return 0, persistErr(err, "sqlite: stage records: prepare")
	}
	defer stmt.Close() //nolint:errcheck

	inserted := 0
	for i := range recs {
		args := append(stagedValues(&recs[i]), false, now)
		res, err := stmt.ExecContext(ctx, args...)
		if err != nil {
			return 0, persistErrf(err, "sqlite: stage record %s", recs[i].ExternalID)
		}
		n, _ := res.RowsAffected()
		inserted += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, persistErr(err, "sqlite: stage records: commit")
	}
	return inserted, nil
}

const sqliteStagedSelect = `SELECT external_id, first_name, last_name, secondary_id, company_name, company_code,
	collection_date, result_received_date, reason, result, positive_analytes,
	test_type, regulation_status, regulatory_agency, measured_value, laboratory,
	collection_site_name, collection_site_id, location_code,
	reviewed, reviewed_at, staged_at FROM staged_records`

func (s *SQLiteStore) GetStaged(ctx context.Context, externalID string) (*model.StagedRecord, error) {
	row := s.db.QueryRowContext(ctx, sqliteStagedSelect+` WHERE external_id = ?`, externalID)
	sr, err := scanStaged(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, persistErrf(err, "sqlite: get staged %s", externalID)
	}
	return sr, nil
}

func (s *SQLiteStore) ListStaged(ctx context.Context, includeReviewed bool) ([]model.StagedRecord, error) {
	query := sqliteStagedSelect
	if !includeReviewed {
		query += ` WHERE reviewed = 0`
	}
	query += ` ORDER BY external_id`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, persistErr(err, "sqlite: list staged")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.StagedRecord
	for rows.Next() {
		sr, err := scanStaged(rows)
		if err != nil {
			return nil, persistErr(err, "sqlite: scan staged")
		}
		out = append(out, *sr)
	}
	return out, persistErr(rows.Err(), "sqlite: list staged iterate")
}

func (s *SQLiteStore) UpdateStaged(ctx context.Context, rec model.Record) error {
	sets := make([]string, 0, len(stagedColumns)-1)
	for _, c := range stagedColumns[1:] {
		sets = append(sets, c+" = ?")
	}
	args := append(stagedValues(&rec)[1:], rec.ExternalID)

	res, err := s.db.ExecContext(ctx,
		`UPDATE staged_records SET `+strings.Join(sets, ", ")+` WHERE external_id = ?`, args...)
	if err != nil {
		return persistErrf(err, "sqlite: update staged %s", rec.ExternalID)
	}
	return checkRowsAffected(res, "staged record", rec.ExternalID)
}

func (s *SQLiteStore) MarkReviewed(ctx context.Context, externalID string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE staged_records SET reviewed = 1, reviewed_at = ? WHERE external_id = ?`,
		at.UTC(), externalID,
	)
	if err != nil {
		return persistErrf(err, "sqlite: mark reviewed %s", externalID)
	}
	return checkRowsAffected(res, "staged record", externalID)
}

// --- Reference entities ---

func (s *SQLiteStore) Sites(ctx context.Context) ([]model.Site, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT site_id, name, remote_id FROM collection_sites ORDER BY site_id`)
	if err != nil {
		return nil, persistErr(err, "sqlite: list sites")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Site
	for rows.Next() {
		var st model.Site
		if err := rows.Scan(&st.SiteID, &st.Name, &st.RemoteID); err != nil {
			return nil, persistErr(err, "sqlite: scan site")
		}
		out = append(out, st)
	}
	return out, persistErr(rows.Err(), "sqlite: list sites iterate")
}

func (s *SQLiteStore) InsertSites(ctx context.Context, sites []model.Site) (int, error) {
	rows := make([][]any, 0, len(sites))
	for _, st := range sites {
		rows = append(rows, []any{st.SiteID, st.Name, st.RemoteID})
	}
	return s.insertIgnore(ctx, "collection_sites", []string{"site_id", "name", "remote_id"}, rows)
}

func (s *SQLiteStore) Accounts(ctx context.Context) ([]model.Account, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT code, name, source_code, remote_id FROM accounts ORDER BY code`)
	if err != nil {
		return nil, persistErr(err, "sqlite: list accounts")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Account
	for rows.Next() {
		var a model.Account
		if err := rows.Scan(&a.Code, &a.Name, &a.SourceCode, &a.RemoteID); err != nil {
			return nil, persistErr(err, "sqlite: scan account")
		}
		out = append(out, a)
	}
	return out, persistErr(rows.Err(), "sqlite: list accounts iterate")
}

func (s *SQLiteStore) PutAccounts(ctx context.Context, accounts []model.Account) (int, error) {
	rows := make([][]any, 0, len(accounts))
	for _, a := range accounts {
		rows = append(rows, []any{a.Code, a.Name, a.SourceCode, a.RemoteID})
	}
	return s.insertIgnore(ctx, "accounts", []string{"code", "name", "source_code", "remote_id"}, rows)
}

func (s *SQLiteStore) Labs(ctx context.Context) ([]model.Lab, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, remote_id FROM laboratories ORDER BY name`)
	if err != nil {
		return nil, persistErr(err, "sqlite: list labs")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Lab
	for rows.Next() {
		var l model.Lab
		if err := rows.Scan(&l.Name, &l.RemoteID); err != nil {
			return nil, persistErr(err, "sqlite: scan lab")
		}
		out = append(out, l)
	}
	return out, persistErr(rows.Err(), "sqlite: list labs iterate")
}

func (s *SQLiteStore) PutLabs(ctx context.Context, labs []model.Lab) (int, error) {
	rows := make([][]any, 0, len(labs))
	for _, l := range labs {
		rows = append(rows, []any{l.Name, l.RemoteID})
	}
	return s.insertIgnore(ctx, "laboratories", []string{"name", "remote_id"}, rows)
}

// insertIgnore inserts rows in one transaction, skipping keys already present.
func (s *SQLiteStore) insertIgnore(ctx context.Context, table string, cols []string, rows [][]any) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, persistErrf(err, "sqlite: insert %s: begin tx", table)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR IGNORE INTO `+table+` (`+strings.Join(cols, ", ")+`) VALUES (`+placeholders(len(cols))+`)`)
	if err != nil {
		return 0, persistErrf(err, "sqlite: insert %s: prepare", table)
	}
	defer stmt.Close() //nolint:errcheck

	inserted := 0
	for _, r := range rows {
		res, err := stmt.ExecContext(ctx, r...)
		if err != nil {
			return 0, persistErrf(err, "sqlite: insert %s", table)
		}
		n, _ := res.RowsAffected()
		inserted += int(n)
	}
	if err := tx.Commit(); err != nil {
		return 0, persistErrf(err, "sqlite: insert %s: commit", table)
	}
	return inserted, nil
}

// --- Run log ---

func (s *SQLiteStore) StartRun(ctx context.Context, source string) (*model.Run, error) {
	run := &model.Run{
		ID:        uuid.New().String(),
		Source:    source,
		Status:    model.RunStatusRunning,
		StartedAt: time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO pipeline_runs (id, source, status, started_at) VALUES (?, ?, ?, ?)`,
		run.ID, run.Source, string(run.Status), run.StartedAt,
	)
	if err != nil {
		return nil, persistErrf(err, "sqlite: start run for %s", source)
	}
	return run, nil
}

func (s *SQLiteStore) CompleteRun(ctx context.Context, runID string, counts model.RunCounts) error {
	return s.finishRun(ctx, runID, model.RunStatusComplete, counts, "")
}

func (s *SQLiteStore) FailRun(ctx context.Context, runID string, counts model.RunCounts, cause error) error {
	return s.finishRun(ctx, runID, model.RunStatusFailed, counts, runError(cause))
}

func (s *SQLiteStore) finishRun(ctx context.Context, runID string, status model.RunStatus, counts model.RunCounts, msg string) error {
	countsJSON, err := json.Marshal(counts)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal run counts")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE pipeline_runs SET status = ?, counts = ?, error = ?, completed_at = ? WHERE id = ?`,
		string(status), string(countsJSON), msg, time.Now().UTC(), runID,
	)
	if err != nil {
		return persistErrf(err, "sqlite: finish run %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, source, status, counts, error, started_at, completed_at FROM pipeline_runs WHERE 1=1`
	var args []any

	if filter.Source != "" {
		query += ` AND source = ?`
		args = append(args, filter.Source)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY started_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, persistErr(err, "sqlite: list runs")
	}
	defer rows.Close() //nolint:errcheck

	var runs []model.Run
	for rows.Next() {
		var (
			r          model.Run
			countsJSON string
		)
		if err := rows.Scan(&r.ID, &r.Source, &r.Status, &countsJSON, &r.Error, &r.StartedAt, &r.CompletedAt); err != nil {
			return nil, persistErr(err, "sqlite: scan run")
		}
		if err := json.Unmarshal([]byte(countsJSON), &r.Counts); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal run counts")
		}
		runs = append(runs, r)
	}
	return runs, persistErr(rows.Err(), "sqlite: list runs iterate")
}

func (s *SQLiteStore) idSet(ctx context.Context, query, what string) (model.IDSet, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, persistErrf(err, "sqlite: %s", what)
	}
	defer rows.Close() //nolint:errcheck

	set := make(model.IDSet)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, persistErrf(err, "sqlite: scan %s", what)
		}
		set.Add(id)
	}
	return set, persistErrf(rows.Err(), "sqlite: %s iterate", what)
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return persistErr(err, "rows affected")
	}
	if n == 0 {
		return notFound(entity, id)
	}
	return nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
