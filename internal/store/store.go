package store

import (
	"context"

	"github.com/gigmap/extract-cli/internal/model"
)

// Correction records a human fix to an extracted field. Corrections feed the
// contextual memory of the model extractor and seed pattern suggestions.
type Correction struct {
	ID        string          `json:"id"`
	PostID    string          `json:"post_id"`
	FieldName model.FieldName `json:"field_name"`
	OldValue  string          `json:"old_value"`
	NewValue  string          `json:"new_value"`
}

// Store defines the persistence interface for the extraction pipeline.
//
// Ownership rules: only the synthesizer inserts patterns; only the lifecycle
// manager mutates confidence/is_active after creation. Ground-truth rows are
// created once and only ever back-filled with original_text, never
// overwritten with a different value.
type Store interface {
	// Patterns
	ListActivePatterns(ctx context.Context, pt model.PatternType) ([]model.ExtractionPattern, error)
	ListPatterns(ctx context.Context) ([]model.ExtractionPattern, error)
	InsertPattern(ctx context.Context, p *model.ExtractionPattern) error
	FindPatternByRegex(ctx context.Context, pt model.PatternType, regex string) (*model.ExtractionPattern, error)
	IncrementPatternCounter(ctx context.Context, patternID string, success bool) error
	UpdatePatternHealth(ctx context.Context, patternID string, confidence float64, isActive bool) error

	// Suggestions
	CreateSuggestion(ctx context.Context, s *model.PatternSuggestion) error
	ListPendingSuggestions(ctx context.Context) ([]model.PatternSuggestion, error)
	UpdateSuggestion(ctx context.Context, id string, status model.SuggestionStatus, generatedPattern string, bumpAttempts bool) error

	// Ground truth
	CreateGroundTruth(ctx context.Context, rec *model.GroundTruthRecord) error
	ListGroundTruthWithText(ctx context.Context) ([]model.GroundTruthRecord, error)
	ListGroundTruthMissingText(ctx context.Context, limit int) ([]model.GroundTruthRecord, error)
	BackfillOriginalText(ctx context.Context, id string, originalText string) error

	// Events
	SaveEvent(ctx context.Context, ev *model.EventCandidate) error
	ListAccountVenues(ctx context.Context, ownerUsername string, limit int) ([]string, error)

	// Corrections
	RecordCorrection(ctx context.Context, c *Correction) error
	ListRecentCorrections(ctx context.Context, field model.FieldName, limit int) ([]Correction, error)

	// Known venues
	ListKnownVenues(ctx context.Context) ([]model.KnownVenue, error)

	// Checkpoints
	SaveCheckpoint(ctx context.Context, cp *model.BatchCheckpoint) error
	LoadCheckpoint(ctx context.Context, runID string) (*model.BatchCheckpoint, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
