package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/gigmap/extract-cli/internal/model"
)

// Pool is the subset of pgxpool.Pool the store uses. pgxmock satisfies it.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool Pool
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}
	pgxCfg.MaxConns = 10
	pgxCfg.MinConns = 2
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS extraction_patterns (
	id               TEXT PRIMARY KEY,
	pattern_type     TEXT NOT NULL,
	regex            TEXT NOT NULL,
	description      TEXT NOT NULL DEFAULT '',
	confidence_score DOUBLE PRECISION NOT NULL DEFAULT 0.5,
	success_count    INTEGER NOT NULL DEFAULT 0,
	failure_count    INTEGER NOT NULL DEFAULT 0,
	source           TEXT NOT NULL DEFAULT 'manual',
	priority         INTEGER NOT NULL DEFAULT 100,
	is_active        BOOLEAN NOT NULL DEFAULT TRUE,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS pattern_suggestions (
	id                TEXT PRIMARY KEY,
	pattern_type      TEXT NOT NULL,
	sample_text       TEXT NOT NULL,
	expected_value    TEXT NOT NULL,
	status            TEXT NOT NULL DEFAULT 'pending',
	attempt_count     INTEGER NOT NULL DEFAULT 0,
	generated_pattern TEXT,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS ground_truth (
	id                 TEXT PRIMARY KEY,
	post_id            TEXT NOT NULL,
	field_name         TEXT NOT NULL,
	ground_truth_value TEXT NOT NULL,
	original_text      TEXT,
	source             TEXT NOT NULL DEFAULT '',
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE(post_id, field_name)
);

CREATE TABLE IF NOT EXISTS events (
	post_id    TEXT PRIMARY KEY,
	owner      TEXT NOT NULL DEFAULT '',
	payload    JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS corrections (
	id         TEXT PRIMARY KEY,
	post_id    TEXT NOT NULL,
	field_name TEXT NOT NULL,
	old_value  TEXT NOT NULL DEFAULT '',
	new_value  TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS known_venues (
	name    TEXT PRIMARY KEY,
	aliases JSONB NOT NULL DEFAULT '[]',
	lat     DOUBLE PRECISION NOT NULL DEFAULT 0,
	lng     DOUBLE PRECISION NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS batch_checkpoints (
	run_id        TEXT PRIMARY KEY,
	last_window   INTEGER NOT NULL DEFAULT -1,
	processed_ids JSONB NOT NULL DEFAULT '[]',
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_patterns_type_active ON extraction_patterns(pattern_type, is_active);
CREATE INDEX IF NOT EXISTS idx_suggestions_status ON pattern_suggestions(status);
CREATE INDEX IF NOT EXISTS idx_events_owner ON events(owner);
CREATE INDEX IF NOT EXISTS idx_corrections_field ON corrections(field_name, created_at);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

const pgPatternCols = `id, pattern_type, regex, description, confidence_score,
	success_count, failure_count, source, priority, is_active, created_at`

func (s *PostgresStore) ListActivePatterns(ctx context.Context, pt model.PatternType) ([]model.ExtractionPattern, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+pgPatternCols+` FROM extraction_patterns
		 WHERE pattern_type = $1 AND is_active = TRUE
		 ORDER BY confidence_score DESC, priority ASC, id ASC`,
		string(pt),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list active patterns")
	}
	defer rows.Close()
	return scanPgPatterns(rows)
}

func (s *PostgresStore) ListPatterns(ctx context.Context) ([]model.ExtractionPattern, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+pgPatternCols+` FROM extraction_patterns ORDER BY pattern_type, priority`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list patterns")
	}
	defer rows.Close()
	return scanPgPatterns(rows)
}

func (s *PostgresStore) InsertPattern(ctx context.Context, p *model.ExtractionPattern) error {
	if _, err := p.Compile(); err != nil {
		return eris.Wrapf(err, "postgres: refusing pattern with invalid regex %q", p.Regex)
	}
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO extraction_patterns (`+pgPatternCols+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		p.ID, string(p.PatternType), p.Regex, p.Description, p.ConfidenceScore,
		p.SuccessCount, p.FailureCount, string(p.Source), p.Priority, p.IsActive, p.CreatedAt,
	)
	return eris.Wrap(err, "postgres: insert pattern")
}

func (s *PostgresStore) FindPatternByRegex(ctx context.Context, pt model.PatternType, regex string) (*model.ExtractionPattern, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+pgPatternCols+` FROM extraction_patterns WHERE pattern_type = $1 AND regex = $2 LIMIT 1`,
		string(pt), regex,
	)
	var p model.ExtractionPattern
	err := row.Scan(&p.ID, &p.PatternType, &p.Regex, &p.Description, &p.ConfidenceScore,
		&p.SuccessCount, &p.FailureCount, &p.Source, &p.Priority, &p.IsActive, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: find pattern by regex")
	}
	return &p, nil
}

func (s *PostgresStore) IncrementPatternCounter(ctx context.Context, patternID string, success bool) error {
	col := "failure_count"
	if success {
		col = "success_count"
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE extraction_patterns SET `+col+` = `+col+` + 1 WHERE id = $1`,
		patternID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: increment pattern counter %s", patternID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("pattern not found: %s", patternID)
	}
	return nil
}

func (s *PostgresStore) UpdatePatternHealth(ctx context.Context, patternID string, confidence float64, isActive bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE extraction_patterns SET confidence_score = $1, is_active = $2 WHERE id = $3`,
		confidence, isActive, patternID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update pattern health %s", patternID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("pattern not found: %s", patternID)
	}
	return nil
}

func (s *PostgresStore) CreateSuggestion(ctx context.Context, sg *model.PatternSuggestion) error {
	if sg.ID == "" {
		sg.ID = uuid.New().String()
	}
	if sg.Status == "" {
		sg.Status = model.SuggestionPending
	}
	if sg.CreatedAt.IsZero() {
		sg.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO pattern_suggestions (id, pattern_type, sample_text, expected_value, status, attempt_count, generated_pattern, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		sg.ID, string(sg.PatternType), sg.SampleText, sg.ExpectedValue,
		string(sg.Status), sg.AttemptCount, nullIfEmpty(sg.GeneratedPattern), sg.CreatedAt,
	)
	return eris.Wrap(err, "postgres: create suggestion")
}

func (s *PostgresStore) ListPendingSuggestions(ctx context.Context) ([]model.PatternSuggestion, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, pattern_type, sample_text, expected_value, status, attempt_count, generated_pattern, created_at
		 FROM pattern_suggestions
		 WHERE status = 'pending'
		 ORDER BY created_at ASC`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list pending suggestions")
	}
	defer rows.Close()

	var out []model.PatternSuggestion
	for rows.Next() {
		var sg model.PatternSuggestion
		var gp *string
		if err := rows.Scan(&sg.ID, &sg.PatternType, &sg.SampleText, &sg.ExpectedValue,
			&sg.Status, &sg.AttemptCount, &gp, &sg.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan suggestion")
		}
		if gp != nil {
			sg.GeneratedPattern = *gp
		}
		out = append(out, sg)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate suggestions")
}

func (s *PostgresStore) UpdateSuggestion(ctx context.Context, id string, status model.SuggestionStatus, generatedPattern string, bumpAttempts bool) error {
	bump := 0
	if bumpAttempts {
		bump = 1
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE pattern_suggestions
		 SET status = $1, generated_pattern = COALESCE($2, generated_pattern), attempt_count = attempt_count + $3
		 WHERE id = $4`,
		string(status), nullIfEmpty(generatedPattern), bump, id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update suggestion %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("suggestion not found: %s", id)
	}
	return nil
}

func (s *PostgresStore) CreateGroundTruth(ctx context.Context, rec *model.GroundTruthRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO ground_truth (id, post_id, field_name, ground_truth_value, original_text, source, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (post_id, field_name) DO NOTHING`,
		rec.ID, rec.PostID, string(rec.FieldName), rec.GroundTruthValue,
		rec.OriginalText, rec.Source, rec.CreatedAt,
	)
	return eris.Wrap(err, "postgres: create ground truth")
}

func (s *PostgresStore) ListGroundTruthWithText(ctx context.Context) ([]model.GroundTruthRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, post_id, field_name, ground_truth_value, original_text, source, created_at
		 FROM ground_truth WHERE original_text IS NOT NULL ORDER BY created_at ASC`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list ground truth")
	}
	defer rows.Close()
	return scanPgGroundTruth(rows)
}

func (s *PostgresStore) ListGroundTruthMissingText(ctx context.Context, limit int) ([]model.GroundTruthRecord, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, post_id, field_name, ground_truth_value, original_text, source, created_at
		 FROM ground_truth WHERE original_text IS NULL ORDER BY created_at ASC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list ground truth missing text")
	}
	defer rows.Close()
	return scanPgGroundTruth(rows)
}

func (s *PostgresStore) BackfillOriginalText(ctx context.Context, id string, originalText string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE ground_truth SET original_text = $1 WHERE id = $2 AND original_text IS NULL`,
		originalText, id,
	)
	return eris.Wrapf(err, "postgres: backfill original text %s", id)
}

func (s *PostgresStore) SaveEvent(ctx context.Context, ev *model.EventCandidate) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal event")
	}
	now := time.Now().UTC()
	_, err = s.pool.Exec(ctx,
		`INSERT INTO events (post_id, owner, payload, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (post_id) DO UPDATE SET payload = EXCLUDED.payload, updated_at = EXCLUDED.updated_at`,
		ev.PostID, ev.Owner, payload, now, now,
	)
	return eris.Wrap(err, "postgres: save event")
}

func (s *PostgresStore) ListAccountVenues(ctx context.Context, ownerUsername string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT payload->>'venue_name' FROM events
		 WHERE owner = $1 AND payload->>'venue_name' IS NOT NULL
		 ORDER BY 1 LIMIT $2`,
		ownerUsername, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list account venues")
	}
	defer rows.Close()

	var venues []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, eris.Wrap(err, "postgres: scan venue")
		}
		venues = append(venues, v)
	}
	return venues, eris.Wrap(rows.Err(), "postgres: iterate venues")
}

func (s *PostgresStore) RecordCorrection(ctx context.Context, c *Correction) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO corrections (id, post_id, field_name, old_value, new_value, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		c.ID, c.PostID, string(c.FieldName), c.OldValue, c.NewValue, time.Now().UTC(),
	)
	return eris.Wrap(err, "postgres: record correction")
}

func (s *PostgresStore) ListRecentCorrections(ctx context.Context, field model.FieldName, limit int) ([]Correction, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, post_id, field_name, old_value, new_value FROM corrections
		 WHERE field_name = $1 ORDER BY created_at DESC LIMIT $2`,
		string(field), limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list corrections")
	}
	defer rows.Close()

	var out []Correction
	for rows.Next() {
		var c Correction
		if err := rows.Scan(&c.ID, &c.PostID, &c.FieldName, &c.OldValue, &c.NewValue); err != nil {
			return nil, eris.Wrap(err, "postgres: scan correction")
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate corrections")
}

func (s *PostgresStore) ListKnownVenues(ctx context.Context) ([]model.KnownVenue, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT name, aliases, lat, lng FROM known_venues ORDER BY name`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list known venues")
	}
	defer rows.Close()

	var out []model.KnownVenue
	for rows.Next() {
		var v model.KnownVenue
		var aliasesJSON []byte
		if err := rows.Scan(&v.Name, &aliasesJSON, &v.Lat, &v.Lng); err != nil {
			return nil, eris.Wrap(err, "postgres: scan venue")
		}
		if err := json.Unmarshal(aliasesJSON, &v.Aliases); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal venue aliases")
		}
		out = append(out, v)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate known venues")
}

func (s *PostgresStore) SaveCheckpoint(ctx context.Context, cp *model.BatchCheckpoint) error {
	ids, err := json.Marshal(cp.ProcessedPostIDs)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal processed ids")
	}
	cp.UpdatedAt = time.Now().UTC()
	_, err = s.pool.Exec(ctx,
		`INSERT INTO batch_checkpoints (run_id, last_window, processed_ids, updated_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (run_id) DO UPDATE SET last_window = EXCLUDED.last_window,
		 processed_ids = EXCLUDED.processed_ids, updated_at = EXCLUDED.updated_at`,
		cp.RunID, cp.LastWindow, ids, cp.UpdatedAt,
	)
	return eris.Wrap(err, "postgres: save checkpoint")
}

func (s *PostgresStore) LoadCheckpoint(ctx context.Context, runID string) (*model.BatchCheckpoint, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT run_id, last_window, processed_ids, updated_at FROM batch_checkpoints WHERE run_id = $1`,
		runID,
	)
	var cp model.BatchCheckpoint
	var ids []byte
	err := row.Scan(&cp.RunID, &cp.LastWindow, &ids, &cp.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: load checkpoint")
	}
	if err := json.Unmarshal(ids, &cp.ProcessedPostIDs); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal processed ids")
	}
	return &cp, nil
}

func scanPgPatterns(rows pgx.Rows) ([]model.ExtractionPattern, error) {
	var out []model.ExtractionPattern
	for rows.Next() {
		var p model.ExtractionPattern
		if err := rows.Scan(&p.ID, &p.PatternType, &p.Regex, &p.Description, &p.ConfidenceScore,
			&p.SuccessCount, &p.FailureCount, &p.Source, &p.Priority, &p.IsActive, &p.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan pattern")
		}
		out = append(out, p)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate patterns")
}

func scanPgGroundTruth(rows pgx.Rows) ([]model.GroundTruthRecord, error) {
	var out []model.GroundTruthRecord
	for rows.Next() {
		var rec model.GroundTruthRecord
		if err := rows.Scan(&rec.ID, &rec.PostID, &rec.FieldName, &rec.GroundTruthValue,
			&rec.OriginalText, &rec.Source, &rec.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan ground truth")
		}
		out = append(out, rec)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate ground truth")
}
