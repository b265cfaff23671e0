// Package sqlite is the default store backend: a single file, no server.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ppiankov/kycscan/internal/model"
	"github.com/ppiankov/kycscan/internal/store"
)

var (
	_ store.Store             = (*Store)(nil)
	_ store.RelationshipStore = (*Store)(nil)
	_ store.Pinger            = (*Store)(nil)
)

const schema = `
CREATE TABLE IF NOT EXISTS search_runs (
	id TEXT PRIMARY KEY,
	individual_name TEXT NOT NULL,
	company_name TEXT NOT NULL DEFAULT '',
	additional_info TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	progress INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL,
	last_updated_at TEXT NOT NULL,
	completed_at TEXT,
	risk_level TEXT NOT NULL,
	adverse_findings INTEGER NOT NULL DEFAULT 0,
	recommendation TEXT NOT NULL DEFAULT '',
	total_results INTEGER NOT NULL DEFAULT 0,
	valid_entity_matches INTEGER NOT NULL DEFAULT 0,
	keyword_tags TEXT NOT NULL DEFAULT '[]'
);

CREATE TABLE IF NOT EXISTS search_results (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL REFERENCES search_runs(id) ON DELETE CASCADE,
	url TEXT NOT NULL,
	title TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	risk_score INTEGER NOT NULL DEFAULT 0,
	adverse_content TEXT NOT NULL DEFAULT '[]',
	summary TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	entity_match TEXT,
	relationships TEXT NOT NULL DEFAULT '[]',
	source_tier TEXT NOT NULL DEFAULT '',
	raw_search_data TEXT,
	raw_crawl_data TEXT,
	created_at TEXT NOT NULL,
	UNIQUE (run_id, url)
);

CREATE TABLE IF NOT EXISTS search_sources (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL REFERENCES search_runs(id) ON DELETE CASCADE,
	source_type TEXT NOT NULL,
	url TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT '',
	raw_data TEXT,
	metadata TEXT NOT NULL DEFAULT '{}',
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS relationships (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL REFERENCES search_runs(id) ON DELETE CASCADE,
	name TEXT NOT NULL,
	type TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	confidence INTEGER NOT NULL DEFAULT 0,
	source_url TEXT NOT NULL DEFAULT '',
	source_title TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_search_runs_created ON search_runs (created_at);
CREATE INDEX IF NOT EXISTS idx_search_results_run ON search_results (run_id);
CREATE INDEX IF NOT EXISTS idx_search_sources_run ON search_sources (run_id, source_type);
CREATE INDEX IF NOT EXISTS idx_relationships_run ON relationships (run_id);
`

// Store persists runs in SQLite through database/sql
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// New opens (and if needed creates) the database at dsn
func New(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer at a time; SQLite serializes writes anyway.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) CreateOrUpdateRun(ctx context.Context, id string, identity model.Identity, keywords []string) (string, error) {
	if id == "" {
		id = store.NewRunID()
	}
	now := formatTime(s.now())
	tags := encode(nonNil(keywords))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	status, err := runStatus(ctx, tx, id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		_, err = tx.ExecContext(ctx, `
			INSERT INTO search_runs (
				id, individual_name, company_name, additional_info, status, progress,
				created_at, last_updated_at, risk_level, adverse_findings, recommendation, keyword_tags
			) VALUES (?, ?, ?, ?, ?, 0, ?, ?, ?, 0, ?, ?)`,
			id, identity.IndividualName, identity.CompanyName, identity.AdditionalInfo, string(model.RunInProgress),
			now, now, string(model.PendingRiskLevel), model.PendingRecommendation, tags)
		if err != nil {
			return "", fmt.Errorf("insert run: %w", err)
		}
	case err != nil:
		return "", err
	case status == model.RunComplete:
		return "", fmt.Errorf("update run %s: %w", id, store.ErrRunSealed)
	default:
		_, err = tx.ExecContext(ctx, `
			UPDATE search_runs
			SET individual_name = ?, company_name = ?, additional_info = ?, keyword_tags = ?,
				status = ?, last_updated_at = ?
			WHERE id = ?`,
			identity.IndividualName, identity.CompanyName, identity.AdditionalInfo, tags,
			string(model.RunInProgress), now, id)
		if err != nil {
			return "", fmt.Errorf("update run: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}
	return id, nil
}

func (s *Store) SavePartialResults(ctx context.Context, runID string, results []model.SearchResultItem, sources model.Sources, progress int) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := requireOpen(ctx, tx, runID); err != nil {
		return 0, err
	}

	storedURLs, err := urlSet(ctx, tx, `SELECT url FROM search_results WHERE run_id = ?`, runID)
	if err != nil {
		return 0, err
	}
	fresh := store.NewResults(results, storedURLs)

	now := s.now()
	for _, r := range fresh {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO search_results (
				run_id, url, title, description, risk_score, adverse_content, summary, status,
				entity_match, relationships, source_tier, raw_search_data, raw_crawl_data, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			runID, r.URL, r.Title, r.Description, r.RiskScore, encode(nonNil(r.AdverseContent)), r.Summary, string(r.Status),
			encodeNullable(r.EntityMatch), encode(nonNil(r.Relationships)), string(r.SourceTier),
			rawOrNull(r.RawSearchData), rawOrNull(r.RawCrawlData), formatTime(now))
		if err != nil {
			return 0, fmt.Errorf("insert result %s: %w", r.URL, err)
		}
	}

	if store.HasSearch(sources) {
		var n int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM search_sources WHERE run_id = ? AND source_type = ?`, runID, string(model.SourceSearch)).Scan(&n); err != nil {
			return 0, fmt.Errorf("count search sources: %w", err)
		}
		if n == 0 {
			if err := insertSource(ctx, tx, runID, sources.Search.Record(now)); err != nil {
				return 0, err
			}
		}
	}

	crawled, err := urlSet(ctx, tx, `SELECT url FROM search_sources WHERE run_id = ? AND source_type = 'crawl'`, runID)
	if err != nil {
		return 0, err
	}
	for _, rec := range store.NewCrawl(sources.Crawl, crawled) {
		if err := insertSource(ctx, tx, runID, rec); err != nil {
			return 0, err
		}
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE search_runs SET progress = MAX(progress, ?), last_updated_at = ? WHERE id = ?`,
		progress, formatTime(now), runID)
	if err != nil {
		return 0, fmt.Errorf("update progress: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return len(fresh), nil
}

func (s *Store) FinalizeRun(ctx context.Context, runID string, summary model.Summary) error {
	var stats model.EntityMatchStats
	if summary.EntityMatchStats != nil {
		stats = *summary.EntityMatchStats
	}
	now := formatTime(s.now())
	res, err := s.db.ExecContext(ctx, `
		UPDATE search_runs
		SET status = ?, progress = 100, risk_level = ?, adverse_findings = ?, recommendation = ?,
			total_results = ?, valid_entity_matches = ?, last_updated_at = ?, completed_at = ?
		WHERE id = ? AND status = ?`,
		string(model.RunComplete), string(summary.RiskLevel), summary.AdverseFindings, summary.Recommendation,
		stats.TotalResults, stats.ValidEntityMatches, now, now,
		runID, string(model.RunInProgress))
	if err != nil {
		return fmt.Errorf("finalize run: %w", err)
	}
	return s.checkTransition(ctx, res, runID)
}

func (s *Store) MarkRunError(ctx context.Context, runID string, recommendation string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE search_runs SET status = ?, recommendation = ?, last_updated_at = ?
		WHERE id = ? AND status = ?`,
		string(model.RunError), recommendation, formatTime(s.now()), runID, string(model.RunInProgress))
	if err != nil {
		return fmt.Errorf("mark run error: %w", err)
	}
	return s.checkTransition(ctx, res, runID)
}

func (s *Store) SaveRelationships(ctx context.Context, runID string, rels []model.Relationship) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := runStatus(ctx, tx, runID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM relationships WHERE run_id = ?`, runID); err != nil {
		return fmt.Errorf("clear relationships: %w", err)
	}
	for _, r := range rels {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO relationships (run_id, name, type, description, confidence, source_url, source_title)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			runID, r.Name, string(r.Type), r.Description, r.Confidence, r.SourceURL, r.SourceTitle)
		if err != nil {
			return fmt.Errorf("insert relationship: %w", err)
		}
	}
	return tx.Commit()
}

const runColumns = `id, individual_name, company_name, additional_info, status, progress,
	created_at, last_updated_at, completed_at, risk_level, adverse_findings, recommendation,
	total_results, valid_entity_matches, keyword_tags`

func (s *Store) GetRun(ctx context.Context, id string) (*model.RunDetail, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM search_runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get run %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", id, err)
	}

	detail := &model.RunDetail{Run: *run}
	if detail.Results, err = s.results(ctx, id); err != nil {
		return nil, err
	}
	if detail.Sources, err = s.sources(ctx, id); err != nil {
		return nil, err
	}
	if detail.Relationships, err = s.relationships(ctx, id); err != nil {
		return nil, err
	}
	return detail, nil
}

func (s *Store) ListRuns(ctx context.Context, opts store.ListOptions) ([]model.SearchRun, error) {
	query := `SELECT ` + runColumns + ` FROM search_runs WHERE 1=1`
	args := []any{}
	if opts.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(opts.Status))
	}
	query += ` ORDER BY created_at DESC, id ASC LIMIT ? OFFSET ?`
	args = append(args, store.NormalizeLimit(opts.Limit), max(opts.Offset, 0))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	runs := []model.SearchRun{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

func (s *Store) DeleteRun(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, table := range []string{"relationships", "search_sources", "search_results"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE run_id = ?`, id); err != nil {
			return fmt.Errorf("delete %s: %w", table, err)
		}
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM search_runs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("delete run %s: %w", id, store.ErrNotFound)
	}
	return tx.Commit()
}

func (s *Store) results(ctx context.Context, runID string) ([]model.SearchResultItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT url, title, description, risk_score, adverse_content, summary, status,
			entity_match, relationships, source_tier, raw_search_data, raw_crawl_data
		FROM search_results WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("query results: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := []model.SearchResultItem{}
	for rows.Next() {
		var (
			r                          model.SearchResultItem
			adverse, rels              string
			match, rawSearch, rawCrawl sql.NullString
		)
		err := rows.Scan(&r.URL, &r.Title, &r.Description, &r.RiskScore, &adverse, &r.Summary, &r.Status,
			&match, &rels, &r.SourceTier, &rawSearch, &rawCrawl)
		if err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		if err := json.Unmarshal([]byte(adverse), &r.AdverseContent); err != nil {
			return nil, fmt.Errorf("decode adverse content: %w", err)
		}
		if err := json.Unmarshal([]byte(rels), &r.Relationships); err != nil {
			return nil, fmt.Errorf("decode relationships: %w", err)
		}
		if match.Valid {
			r.EntityMatch = &model.EntityMatch{}
			if err := json.Unmarshal([]byte(match.String), r.EntityMatch); err != nil {
				return nil, fmt.Errorf("decode entity match: %w", err)
			}
		}
		r.RawSearchData = rawFromNull(rawSearch)
		r.RawCrawlData = rawFromNull(rawCrawl)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) sources(ctx context.Context, runID string) ([]model.SourceRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT source_type, url, status, raw_data, metadata, created_at
		FROM search_sources WHERE run_id = ?
		ORDER BY CASE source_type WHEN 'search' THEN 0 ELSE 1 END, id`, runID)
	if err != nil {
		return nil, fmt.Errorf("query sources: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := []model.SourceRecord{}
	for rows.Next() {
		var (
			rec      model.SourceRecord
			raw      sql.NullString
			meta, at string
		)
		if err := rows.Scan(&rec.SourceType, &rec.URL, &rec.Status, &raw, &meta, &at); err != nil {
			return nil, fmt.Errorf("scan source: %w", err)
		}
		rec.RawData = rawFromNull(raw)
		if err := json.Unmarshal([]byte(meta), &rec.Metadata); err != nil {
			return nil, fmt.Errorf("decode source metadata: %w", err)
		}
		if rec.CreatedAt, err = parseTime(at); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) relationships(ctx context.Context, runID string) ([]model.Relationship, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, type, description, confidence, source_url, source_title
		FROM relationships WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("query relationships: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := []model.Relationship{}
	for rows.Next() {
		var r model.Relationship
		if err := rows.Scan(&r.Name, &r.Type, &r.Description, &r.Confidence, &r.SourceURL, &r.SourceTitle); err != nil {
			return nil, fmt.Errorf("scan relationship: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// checkTransition turns a zero-row terminal update into ErrNotFound or ErrRunSealed
func (s *Store) checkTransition(ctx context.Context, res sql.Result, runID string) error {
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		return nil
	}
	status, err := runStatus(ctx, s.db, runID)
	if err != nil {
		return err
	}
	return fmt.Errorf("run %s is %s: %w", runID, status, store.ErrRunSealed)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func runStatus(ctx context.Context, q queryer, id string) (model.RunStatus, error) {
	var status model.RunStatus
	err := q.QueryRowContext(ctx, `SELECT status FROM search_runs WHERE id = ?`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("run %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("read run status: %w", err)
	}
	return status, nil
}

func requireOpen(ctx context.Context, q queryer, id string) error {
	status, err := runStatus(ctx, q, id)
	if err != nil {
		return err
	}
	if status != model.RunInProgress {
		return fmt.Errorf("run %s is %s: %w", id, status, store.ErrRunSealed)
	}
	return nil
}

func urlSet(ctx context.Context, q queryer, query string, runID string) (map[string]bool, error) {
	rows, err := q.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("query stored urls: %w", err)
	}
	defer func() { _ = rows.Close() }()

	set := make(map[string]bool)
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, fmt.Errorf("scan url: %w", err)
		}
		set[u] = true
	}
	return set, rows.Err()
}

func insertSource(ctx context.Context, tx *sql.Tx, runID string, rec model.SourceRecord) error {
	meta := rec.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO search_sources (run_id, source_type, url, status, raw_data, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		runID, string(rec.SourceType), rec.URL, string(rec.Status), rawOrNull(rec.RawData), encode(meta), formatTime(createdAt))
	if err != nil {
		return fmt.Errorf("insert %s source: %w", rec.SourceType, err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*model.SearchRun, error) {
	var (
		r                     model.SearchRun
		created, updated, tag string
		completed             sql.NullString
	)
	err := row.Scan(&r.ID, &r.IndividualName, &r.CompanyName, &r.AdditionalInfo, &r.Status, &r.Progress,
		&created, &updated, &completed, &r.RiskLevel, &r.AdverseFindings, &r.Recommendation,
		&r.EntityMatchStats.TotalResults, &r.EntityMatchStats.ValidEntityMatches, &tag)
	if err != nil {
		return nil, err
	}
	if r.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if r.LastUpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	if completed.Valid {
		t, err := parseTime(completed.String)
		if err != nil {
			return nil, err
		}
		r.CompletedAt = &t
	}
	if err := json.Unmarshal([]byte(tag), &r.KeywordTags); err != nil {
		return nil, fmt.Errorf("decode keyword tags: %w", err)
	}
	return &r, nil
}

// Timestamps are stored as fixed-width RFC 3339 text so they sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t, nil
}

func encode(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return "null"
	}
	return string(data)
}

func encodeNullable[T any](v *T) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: encode(v), Valid: true}
}

func rawOrNull(raw json.RawMessage) sql.NullString {
	if len(raw) == 0 || !json.Valid(raw) {
		return sql.NullString{}
	}
	return sql.NullString{String: string(raw), Valid: true}
}

func rawFromNull(s sql.NullString) json.RawMessage {
	if !s.Valid {
		return nil
	}
	return json.RawMessage(s.String)
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
