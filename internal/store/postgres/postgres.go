// Package postgres is the shared-database store backend. The schema is
// managed by goose migrations embedded in the binary.
package postgres

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/ppiankov/kycscan/internal/model"
	"github.com/ppiankov/kycscan/internal/store"
)

var (
	_ store.Store             = (*Store)(nil)
	_ store.RelationshipStore = (*Store)(nil)
	_ store.Pinger            = (*Store)(nil)
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Store persists runs in PostgreSQL through a pgx pool
type Store struct {
	pool *pgxpool.Pool
}

// New connects to dsn and brings the schema up to date
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	cfg.MaxConns = 10
	cfg.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &Store{pool: pool}, nil
}

// Migrate applies pending migrations
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	migrations, err := fs.Sub(migrationFS, "migrations")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}

	db := stdlib.OpenDBFromPool(pool)
	defer func() { _ = db.Close() }()

	provider, err := goose.NewProvider(goose.DialectPostgres, db, migrations)
	if err != nil {
		return fmt.Errorf("create migration provider: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) CreateOrUpdateRun(ctx context.Context, id string, identity model.Identity, keywords []string) (string, error) {
	if id == "" {
		id = store.NewRunID()
	}
	tags := encode(nonNil(keywords))

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		status, err := runStatus(ctx, tx, id, true)
		switch {
		case errors.Is(err, store.ErrNotFound):
			_, err = tx.Exec(ctx, `
				INSERT INTO search_runs (
					id, individual_name, company_name, additional_info, status, progress,
					created_at, last_updated_at, risk_level, adverse_findings, recommendation, keyword_tags
				) VALUES ($1, $2, $3, $4, $5, 0, now(), now(), $6, 0, $7, $8)`,
				id, identity.IndividualName, identity.CompanyName, identity.AdditionalInfo, string(model.RunInProgress),
				string(model.PendingRiskLevel), model.PendingRecommendation, tags)
			if err != nil {
				return fmt.Errorf("insert run: %w", err)
			}
			return nil
		case err != nil:
			return err
		case status == model.RunComplete:
			return fmt.Errorf("update run %s: %w", id, store.ErrRunSealed)
		}
		_, err = tx.Exec(ctx, `
			UPDATE search_runs
			SET individual_name = $2, company_name = $3, additional_info = $4, keyword_tags = $5,
				status = $6, last_updated_at = now()
			WHERE id = $1`,
			id, identity.IndividualName, identity.CompanyName, identity.AdditionalInfo, tags, string(model.RunInProgress))
		if err != nil {
			return fmt.Errorf("update run: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

func (s *Store) SavePartialResults(ctx context.Context, runID string, results []model.SearchResultItem, sources model.Sources, progress int) (int, error) {
	inserted := 0
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		status, err := runStatus(ctx, tx, runID, true)
		if err != nil {
			return err
		}
		if status != model.RunInProgress {
			return fmt.Errorf("run %s is %s: %w", runID, status, store.ErrRunSealed)
		}

		storedURLs, err := urlSet(ctx, tx, `SELECT url FROM search_results WHERE run_id = $1`, runID)
		if err != nil {
			return err
		}
		fresh := store.NewResults(results, storedURLs)

		batch := &pgx.Batch{}
		for _, r := range fresh {
			batch.Queue(`
				INSERT INTO search_results (
					run_id, url, title, description, risk_score, adverse_content, summary, status,
					entity_match, relationships, source_tier, raw_search_data, raw_crawl_data
				) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
				ON CONFLICT (run_id, url) DO NOTHING`,
				runID, r.URL, r.Title, r.Description, r.RiskScore, encode(nonNil(r.AdverseContent)), r.Summary, string(r.Status),
				encodeNullable(r.EntityMatch), encode(nonNil(r.Relationships)), string(r.SourceTier),
				rawArg(r.RawSearchData), rawArg(r.RawCrawlData))
		}

		if store.HasSearch(sources) {
			var n int
			if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM search_sources WHERE run_id = $1 AND source_type = 'search'`, runID).Scan(&n); err != nil {
				return fmt.Errorf("count search sources: %w", err)
			}
			if n == 0 {
				queueSource(batch, runID, sources.Search.Record(time.Now().UTC()))
			}
		}

		crawled, err := urlSet(ctx, tx, `SELECT url FROM search_sources WHERE run_id = $1 AND source_type = 'crawl'`, runID)
		if err != nil {
			return err
		}
		for _, rec := range store.NewCrawl(sources.Crawl, crawled) {
			queueSource(batch, runID, rec)
		}

		batch.Queue(`UPDATE search_runs SET progress = GREATEST(progress, $2), last_updated_at = now() WHERE id = $1`, runID, progress)

		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("save partial results: %w", err)
		}
		inserted = len(fresh)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

func (s *Store) FinalizeRun(ctx context.Context, runID string, summary model.Summary) error {
	var stats model.EntityMatchStats
	if summary.EntityMatchStats != nil {
		stats = *summary.EntityMatchStats
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE search_runs
		SET status = $2, progress = 100, risk_level = $3, adverse_findings = $4, recommendation = $5,
			total_results = $6, valid_entity_matches = $7, last_updated_at = now(), completed_at = now()
		WHERE id = $1 AND status = $8`,
		runID, string(model.RunComplete), string(summary.RiskLevel), summary.AdverseFindings, summary.Recommendation,
		stats.TotalResults, stats.ValidEntityMatches, string(model.RunInProgress))
	if err != nil {
		return fmt.Errorf("finalize run: %w", err)
	}
	return s.checkTransition(ctx, tag.RowsAffected(), runID)
}

func (s *Store) MarkRunError(ctx context.Context, runID string, recommendation string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE search_runs SET status = $2, recommendation = $3, last_updated_at = now()
		WHERE id = $1 AND status = $4`,
		runID, string(model.RunError), recommendation, string(model.RunInProgress))
	if err != nil {
		return fmt.Errorf("mark run error: %w", err)
	}
	return s.checkTransition(ctx, tag.RowsAffected(), runID)
}

func (s *Store) SaveRelationships(ctx context.Context, runID string, rels []model.Relationship) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := runStatus(ctx, tx, runID, false); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM relationships WHERE run_id = $1`, runID); err != nil {
			return fmt.Errorf("clear relationships: %w", err)
		}
		rows := make([][]any, 0, len(rels))
		for _, r := range rels {
			rows = append(rows, []any{runID, r.Name, string(r.Type), r.Description, r.Confidence, r.SourceURL, r.SourceTitle})
		}
		_, err := tx.CopyFrom(ctx,
			pgx.Identifier{"relationships"},
			[]string{"run_id", "name", "type", "description", "confidence", "source_url", "source_title"},
			pgx.CopyFromRows(rows))
		if err != nil {
			return fmt.Errorf("insert relationships: %w", err)
		}
		return nil
	})
}

const runColumns = `id, individual_name, company_name, additional_info, status, progress,
	created_at, last_updated_at, completed_at, risk_level, adverse_findings, recommendation,
	total_results, valid_entity_matches, keyword_tags`

func (s *Store) GetRun(ctx context.Context, id string) (*model.RunDetail, error) {
	run, err := scanRun(s.pool.QueryRow(ctx, `SELECT `+runColumns+` FROM search_runs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
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
	rows, err := s.pool.Query(ctx, `
		SELECT `+runColumns+` FROM search_runs
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at DESC, id ASC
		LIMIT $2 OFFSET $3`,
		string(opts.Status), store.NormalizeLimit(opts.Limit), max(opts.Offset, 0))
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

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
	// Child rows go with ON DELETE CASCADE.
	tag, err := s.pool.Exec(ctx, `DELETE FROM search_runs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("delete run %s: %w", id, store.ErrNotFound)
	}
	return nil
}

func (s *Store) results(ctx context.Context, runID string) ([]model.SearchResultItem, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT url, title, description, risk_score, adverse_content, summary, status,
			entity_match, relationships, source_tier, raw_search_data, raw_crawl_data
		FROM search_results WHERE run_id = $1 ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("query results: %w", err)
	}
	defer rows.Close()

	out := []model.SearchResultItem{}
	for rows.Next() {
		var (
			r                                      model.SearchResultItem
			status, tier                           string
			adverse, rels, match, rawSearch, crawl []byte
		)
		err := rows.Scan(&r.URL, &r.Title, &r.Description, &r.RiskScore, &adverse, &r.Summary, &status,
			&match, &rels, &tier, &rawSearch, &crawl)
		if err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		r.Status = model.ResultStatus(status)
		r.SourceTier = model.AuthorityTier(tier)
		if err := json.Unmarshal(adverse, &r.AdverseContent); err != nil {
			return nil, fmt.Errorf("decode adverse content: %w", err)
		}
		if err := json.Unmarshal(rels, &r.Relationships); err != nil {
			return nil, fmt.Errorf("decode relationships: %w", err)
		}
		if match != nil {
			r.EntityMatch = &model.EntityMatch{}
			if err := json.Unmarshal(match, r.EntityMatch); err != nil {
				return nil, fmt.Errorf("decode entity match: %w", err)
			}
		}
		r.RawSearchData = rawSearch
		r.RawCrawlData = crawl
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) sources(ctx context.Context, runID string) ([]model.SourceRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT source_type, url, status, raw_data, metadata, created_at
		FROM search_sources WHERE run_id = $1
		ORDER BY (source_type <> 'search'), id`, runID)
	if err != nil {
		return nil, fmt.Errorf("query sources: %w", err)
	}
	defer rows.Close()

	out := []model.SourceRecord{}
	for rows.Next() {
		var (
			rec       model.SourceRecord
			typ       string
			raw, meta []byte
		)
		if err := rows.Scan(&typ, &rec.URL, &rec.Status, &raw, &meta, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan source: %w", err)
		}
		rec.SourceType = model.SourceType(typ)
		rec.RawData = raw
		if err := json.Unmarshal(meta, &rec.Metadata); err != nil {
			return nil, fmt.Errorf("decode source metadata: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) relationships(ctx context.Context, runID string) ([]model.Relationship, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT name, type, description, confidence, source_url, source_title
		FROM relationships WHERE run_id = $1 ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("query relationships: %w", err)
	}
	defer rows.Close()

	out := []model.Relationship{}
	for rows.Next() {
		var (
			r   model.Relationship
			typ string
		)
		if err := rows.Scan(&r.Name, &typ, &r.Description, &r.Confidence, &r.SourceURL, &r.SourceTitle); err != nil {
			return nil, fmt.Errorf("scan relationship: %w", err)
		}
		r.Type = model.RelationshipType(typ)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) checkTransition(ctx context.Context, affected int64, runID string) error {
	if affected > 0 {
		return nil
	}
	status, err := runStatus(ctx, s.pool, runID, false)
	if err != nil {
		return err
	}
	return fmt.Errorf("run %s is %s: %w", runID, status, store.ErrRunSealed)
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// runStatus reads a run's status. forUpdate locks the row for the enclosing transaction.
func runStatus(ctx context.Context, q querier, id string, forUpdate bool) (model.RunStatus, error) {
	query := `SELECT status FROM search_runs WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	var status string
	err := q.QueryRow(ctx, query, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("run %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("read run status: %w", err)
	}
	return model.RunStatus(status), nil
}

func urlSet(ctx context.Context, q querier, query string, runID string) (map[string]bool, error) {
	rows, err := q.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("query stored urls: %w", err)
	}
	urls, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan urls: %w", err)
	}
	set := make(map[string]bool, len(urls))
	for _, u := range urls {
		set[u] = true
	}
	return set, nil
}

func queueSource(batch *pgx.Batch, runID string, rec model.SourceRecord) {
	meta := rec.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	batch.Queue(`
		INSERT INTO search_sources (run_id, source_type, url, status, raw_data, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		runID, string(rec.SourceType), rec.URL, rec.Status, rawArg(rec.RawData), encode(meta), createdAt)
}

func scanRun(row pgx.Row) (*model.SearchRun, error) {
	var (
		r            model.SearchRun
		status, risk string
		tags         []byte
	)
	err := row.Scan(&r.ID, &r.IndividualName, &r.CompanyName, &r.AdditionalInfo, &status, &r.Progress,
		&r.CreatedAt, &r.LastUpdatedAt, &r.CompletedAt, &risk, &r.AdverseFindings, &r.Recommendation,
		&r.EntityMatchStats.TotalResults, &r.EntityMatchStats.ValidEntityMatches, &tags)
	if err != nil {
		return nil, err
	}
	r.Status = model.RunStatus(status)
	r.RiskLevel = model.RiskLevel(risk)
	if err := json.Unmarshal(tags, &r.KeywordTags); err != nil {
		return nil, fmt.Errorf("decode keyword tags: %w", err)
	}
	return &r, nil
}

// encode returns JSON text for a jsonb parameter
func encode(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return "null"
	}
	return string(data)
}

func encodeNullable[T any](v *T) any {
	if v == nil {
		return nil
	}
	return encode(v)
}

func rawArg(raw json.RawMessage) any {
	if len(raw) == 0 || !json.Valid(raw) {
		return nil
	}
	return string(raw)
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
