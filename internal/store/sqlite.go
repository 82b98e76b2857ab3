package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/gigmap/extract-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS extraction_patterns (
	id               TEXT PRIMARY KEY,
	pattern_type     TEXT NOT NULL,
	regex            TEXT NOT NULL,
	description      TEXT NOT NULL DEFAULT '',
	confidence_score REAL NOT NULL DEFAULT 0.5,
	success_count    INTEGER NOT NULL DEFAULT 0,
	failure_count    INTEGER NOT NULL DEFAULT 0,
	source           TEXT NOT NULL DEFAULT 'manual',
	priority         INTEGER NOT NULL DEFAULT 100,
	is_active        INTEGER NOT NULL DEFAULT 1,
	created_at       DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS pattern_suggestions (
	id                TEXT PRIMARY KEY,
	pattern_type      TEXT NOT NULL,
	sample_text       TEXT NOT NULL,
	expected_value    TEXT NOT NULL,
	status            TEXT NOT NULL DEFAULT 'pending',
	attempt_count     INTEGER NOT NULL DEFAULT 0,
	generated_pattern TEXT,
	created_at        DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS ground_truth (
	id                 TEXT PRIMARY KEY,
	post_id            TEXT NOT NULL,
	field_name         TEXT NOT NULL,
	ground_truth_value TEXT NOT NULL,
	original_text      TEXT,
	source             TEXT NOT NULL DEFAULT '',
	created_at         DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE(post_id, field_name)
);

CREATE TABLE IF NOT EXISTS events (
	post_id    TEXT PRIMARY KEY,
	owner      TEXT NOT NULL DEFAULT '',
	payload    TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS corrections (
	id         TEXT PRIMARY KEY,
	post_id    TEXT NOT NULL,
	field_name TEXT NOT NULL,
	old_value  TEXT NOT NULL DEFAULT '',
	new_value  TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS known_venues (
	name    TEXT PRIMARY KEY,
	aliases TEXT NOT NULL DEFAULT '[]',
	lat     REAL NOT NULL DEFAULT 0,
	lng     REAL NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS batch_checkpoints (
	run_id        TEXT PRIMARY KEY,
	last_window   INTEGER NOT NULL DEFAULT -1,
	processed_ids TEXT NOT NULL DEFAULT '[]',
	updated_at    DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_patterns_type_active ON extraction_patterns(pattern_type, is_active);
CREATE INDEX IF NOT EXISTS idx_suggestions_status ON pattern_suggestions(status);
CREATE INDEX IF NOT EXISTS idx_ground_truth_text ON ground_truth(field_name) WHERE original_text IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_events_owner ON events(owner);
CREATE INDEX IF NOT EXISTS idx_corrections_field ON corrections(field_name, created_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const patternCols = `id, pattern_type, regex, description, confidence_score,
	success_count, failure_count, source, priority, is_active, created_at`

func (s *SQLiteStore) ListActivePatterns(ctx context.Context, pt model.PatternType) ([]model.ExtractionPattern, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+patternCols+` FROM extraction_patterns
		 WHERE pattern_type = ? AND is_active = 1
		 ORDER BY confidence_score DESC, priority ASC, id ASC`,
		string(pt),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list active patterns")
	}
	defer rows.Close()
	return scanPatterns(rows)
}

func (s *SQLiteStore) ListPatterns(ctx context.Context) ([]model.ExtractionPattern, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+patternCols+` FROM extraction_patterns ORDER BY pattern_type, priority`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list patterns")
	}
	defer rows.Close()
	return scanPatterns(rows)
}

func (s *SQLiteStore) InsertPattern(ctx context.Context, p *model.ExtractionPattern) error {
	if _, err := p.Compile(); err != nil {
		return eris.Wrapf(err, "sqlite: refusing pattern with invalid regex %q", p.Regex)
	}
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO extraction_patterns (`+patternCols+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, string(p.PatternType), p.Regex, p.Description, p.ConfidenceScore,
		p.SuccessCount, p.FailureCount, string(p.Source), p.Priority, boolToInt(p.IsActive), p.CreatedAt,
	)
	return eris.Wrap(err, "sqlite: insert pattern")
}

func (s *SQLiteStore) FindPatternByRegex(ctx context.Context, pt model.PatternType, regex string) (*model.ExtractionPattern, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+patternCols+` FROM extraction_patterns WHERE pattern_type = ? AND regex = ? LIMIT 1`,
		string(pt), regex,
	)
	p, err := scanPattern(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: find pattern by regex")
	}
	return p, nil
}

func (s *SQLiteStore) IncrementPatternCounter(ctx context.Context, patternID string, success bool) error {
	col := "failure_count"
	if success {
		col = "success_count"
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE extraction_patterns SET `+col+` = `+col+` + 1 WHERE id = ?`,
		patternID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: increment pattern counter %s", patternID)
	}
	return checkRowsAffected(res, "pattern", patternID)
}

func (s *SQLiteStore) UpdatePatternHealth(ctx context.Context, patternID string, confidence float64, isActive bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE extraction_patterns SET confidence_score = ?, is_active = ? WHERE id = ?`,
		confidence, boolToInt(isActive), patternID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update pattern health %s", patternID)
	}
	return checkRowsAffected(res, "pattern", patternID)
}

func (s *SQLiteStore) CreateSuggestion(ctx context.Context, sg *model.PatternSuggestion) error {
	if sg.ID == "" {
		sg.ID = uuid.New().String()
	}
	if sg.Status == "" {
		sg.Status = model.SuggestionPending
	}
	if sg.CreatedAt.IsZero() {
		sg.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO pattern_suggestions (id, pattern_type, sample_text, expected_value, status, attempt_count, generated_pattern, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sg.ID, string(sg.PatternType), sg.SampleText, sg.ExpectedValue,
		string(sg.Status), sg.AttemptCount, nullIfEmpty(sg.GeneratedPattern), sg.CreatedAt,
	)
	return eris.Wrap(err, "sqlite: create suggestion")
}

func (s *SQLiteStore) ListPendingSuggestions(ctx context.Context) ([]model.PatternSuggestion, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, pattern_type, sample_text, expected_value, status, attempt_count, generated_pattern, created_at
		 FROM pattern_suggestions
		 WHERE status = 'pending'
		 ORDER BY created_at ASC`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list pending suggestions")
	}
	defer rows.Close()

	var out []model.PatternSuggestion
	for rows.Next() {
		var sg model.PatternSuggestion
		var gp sql.NullString
		if err := rows.Scan(&sg.ID, &sg.PatternType, &sg.SampleText, &sg.ExpectedValue,
			&sg.Status, &sg.AttemptCount, &gp, &sg.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan suggestion")
		}
		sg.GeneratedPattern = gp.String
		out = append(out, sg)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate suggestions")
}

func (s *SQLiteStore) UpdateSuggestion(ctx context.Context, id string, status model.SuggestionStatus, generatedPattern string, bumpAttempts bool) error {
	bump := 0
	if bumpAttempts {
		bump = 1
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE pattern_suggestions
		 SET status = ?, generated_pattern = COALESCE(?, generated_pattern), attempt_count = attempt_count + ?
		 WHERE id = ?`,
		string(status), nullIfEmpty(generatedPattern), bump, id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update suggestion %s", id)
	}
	return checkRowsAffected(res, "suggestion", id)
}

func (s *SQLiteStore) CreateGroundTruth(ctx context.Context, rec *model.GroundTruthRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	// Create-once: an existing (post_id, field_name) row is left untouched.
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO ground_truth (id, post_id, field_name, ground_truth_value, original_text, source, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(post_id, field_name) DO NOTHING`,
		rec.ID, rec.PostID, string(rec.FieldName), rec.GroundTruthValue,
		nullableStr(rec.OriginalText), rec.Source, rec.CreatedAt,
	)
	return eris.Wrap(err, "sqlite: create ground truth")
}

func (s *SQLiteStore) ListGroundTruthWithText(ctx context.Context) ([]model.GroundTruthRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, post_id, field_name, ground_truth_value, original_text, source, created_at
		 FROM ground_truth WHERE original_text IS NOT NULL ORDER BY created_at ASC`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list ground truth")
	}
	defer rows.Close()
	return scanGroundTruth(rows)
}

func (s *SQLiteStore) ListGroundTruthMissingText(ctx context.Context, limit int) ([]model.GroundTruthRecord, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, post_id, field_name, ground_truth_value, original_text, source, created_at
		 FROM ground_truth WHERE original_text IS NULL ORDER BY created_at ASC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list ground truth missing text")
	}
	defer rows.Close()
	return scanGroundTruth(rows)
}

func (s *SQLiteStore) BackfillOriginalText(ctx context.Context, id string, originalText string) error {
	// Idempotent repair: only fills a null column, never replaces a value.
	_, err := s.db.ExecContext(ctx,
		`UPDATE ground_truth SET original_text = ? WHERE id = ? AND original_text IS NULL`,
		originalText, id,
	)
	return eris.Wrapf(err, "sqlite: backfill original text %s", id)
}

func (s *SQLiteStore) SaveEvent(ctx context.Context, ev *model.EventCandidate) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal event")
	}
	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO events (post_id, owner, payload, created_at, updated_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(post_id) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`,
		ev.PostID, ev.Owner, string(payload), now, now,
	)
	return eris.Wrap(err, "sqlite: save event")
}

func (s *SQLiteStore) ListAccountVenues(ctx context.Context, ownerUsername string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT json_extract(payload, '$.venue_name') FROM events
		 WHERE owner = ? AND json_extract(payload, '$.venue_name') IS NOT NULL
		 ORDER BY 1 LIMIT ?`,
		ownerUsername, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list account venues")
	}
	defer rows.Close()

	var venues []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan venue")
		}
		venues = append(venues, v)
	}
	return venues, eris.Wrap(rows.Err(), "sqlite: iterate venues")
}

func (s *SQLiteStore) RecordCorrection(ctx context.Context, c *Correction) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO corrections (id, post_id, field_name, old_value, new_value, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		c.ID, c.PostID, string(c.FieldName), c.OldValue, c.NewValue, time.Now().UTC(),
	)
	return eris.Wrap(err, "sqlite: record correction")
}

func (s *SQLiteStore) ListRecentCorrections(ctx context.Context, field model.FieldName, limit int) ([]Correction, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, post_id, field_name, old_value, new_value FROM corrections
		 WHERE field_name = ? ORDER BY created_at DESC LIMIT ?`,
		string(field), limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list corrections")
	}
	defer rows.Close()

	var out []Correction
	for rows.Next() {
		var c Correction
		if err := rows.Scan(&c.ID, &c.PostID, &c.FieldName, &c.OldValue, &c.NewValue); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan correction")
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate corrections")
}

func (s *SQLiteStore) ListKnownVenues(ctx context.Context) ([]model.KnownVenue, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, aliases, lat, lng FROM known_venues ORDER BY name`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list known venues")
	}
	defer rows.Close()

	var out []model.KnownVenue
	for rows.Next() {
		var v model.KnownVenue
		var aliasesJSON string
		if err := rows.Scan(&v.Name, &aliasesJSON, &v.Lat, &v.Lng); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan venue")
		}
		if err := json.Unmarshal([]byte(aliasesJSON), &v.Aliases); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal venue aliases")
		}
		out = append(out, v)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate known venues")
}

func (s *SQLiteStore) SaveCheckpoint(ctx context.Context, cp *model.BatchCheckpoint) error {
	ids, err := json.Marshal(cp.ProcessedPostIDs)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal processed ids")
	}
	cp.UpdatedAt = time.Now().UTC()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO batch_checkpoints (run_id, last_window, processed_ids, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(run_id) DO UPDATE SET last_window = excluded.last_window,
		 processed_ids = excluded.processed_ids, updated_at = excluded.updated_at`,
		cp.RunID, cp.LastWindow, string(ids), cp.UpdatedAt,
	)
	return eris.Wrap(err, "sqlite: save checkpoint")
}

func (s *SQLiteStore) LoadCheckpoint(ctx context.Context, runID string) (*model.BatchCheckpoint, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT run_id, last_window, processed_ids, updated_at FROM batch_checkpoints WHERE run_id = ?`,
		runID,
	)
	var cp model.BatchCheckpoint
	var ids string
	err := row.Scan(&cp.RunID, &cp.LastWindow, &ids, &cp.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: load checkpoint")
	}
	if err := json.Unmarshal([]byte(ids), &cp.ProcessedPostIDs); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal processed ids")
	}
	return &cp, nil
}

// helpers

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableStr(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanPattern(row scannable) (*model.ExtractionPattern, error) {
	var p model.ExtractionPattern
	var active int
	err := row.Scan(&p.ID, &p.PatternType, &p.Regex, &p.Description, &p.ConfidenceScore,
		&p.SuccessCount, &p.FailureCount, &p.Source, &p.Priority, &active, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	p.IsActive = active != 0
	return &p, nil
}

func scanPatterns(rows *sql.Rows) ([]model.ExtractionPattern, error) {
	var out []model.ExtractionPattern
	for rows.Next() {
		p, err := scanPattern(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan pattern")
		}
		out = append(out, *p)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate patterns")
}

func scanGroundTruth(rows *sql.Rows) ([]model.GroundTruthRecord, error) {
	var out []model.GroundTruthRecord
	for rows.Next() {
		var rec model.GroundTruthRecord
		var text sql.NullString
		if err := rows.Scan(&rec.ID, &rec.PostID, &rec.FieldName, &rec.GroundTruthValue,
			&text, &rec.Source, &rec.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan ground truth")
		}
		if text.Valid {
			rec.OriginalText = &text.String
		}
		out = append(out, rec)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate ground truth")
}
