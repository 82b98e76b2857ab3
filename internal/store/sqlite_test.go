package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/gigmap/extract-cli/internal/model"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func openSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLitePatternRoundTrip(t *testing.T) {
	s := openSQLite(t)
	ctx := context.Background()

	p := &model.ExtractionPattern{
		PatternType:     model.PatternTime,
		Regex:           `(\d{1,2}\s*(?:AM|PM))`,
		Description:     "12-hour time with meridiem",
		ConfidenceScore: 0.75,
		Source:          model.SourceManual,
		Priority:        100,
		IsActive:        true,
	}
	require.NoError(t, s.InsertPattern(ctx, p))
	assert.NotEmpty(t, p.ID)

	got, err := s.ListActivePatterns(ctx, model.PatternTime)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, p.ID, got[0].ID)
	assert.Equal(t, p.Regex, got[0].Regex)
	assert.InDelta(t, 0.75, got[0].ConfidenceScore, 1e-9)
	assert.True(t, got[0].IsActive)

	// Other types see nothing.
	other, err := s.ListActivePatterns(ctx, model.PatternDate)
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestSQLiteInsertPatternRejectsInvalidRegex(t *testing.T) {
	s := openSQLite(t)

	err := s.InsertPattern(context.Background(), &model.ExtractionPattern{
		PatternType: model.PatternDate,
		Regex:       `([`,
		IsActive:    true,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid regex")
}

func TestSQLiteActivePatternOrdering(t *testing.T) {
	s := openSQLite(t)
	ctx := context.Background()

	for _, p := range []*model.ExtractionPattern{
		{ID: "low", PatternType: model.PatternDate, Regex: `a`, ConfidenceScore: 0.4, Priority: 100, IsActive: true},
		{ID: "high", PatternType: model.PatternDate, Regex: `b`, ConfidenceScore: 0.9, Priority: 100, IsActive: true},
		{ID: "off", PatternType: model.PatternDate, Regex: `c`, ConfidenceScore: 0.99, IsActive: false},
	} {
		require.NoError(t, s.InsertPattern(ctx, p))
	}

	got, err := s.ListActivePatterns(ctx, model.PatternDate)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "high", got[0].ID)
	assert.Equal(t, "low", got[1].ID)
}

func TestSQLitePatternCounters(t *testing.T) {
	s := openSQLite(t)
	ctx := context.Background()

	p := &model.ExtractionPattern{ID: "pat-1", PatternType: model.PatternTime, Regex: `x`, IsActive: true}
	require.NoError(t, s.InsertPattern(ctx, p))

	require.NoError(t, s.IncrementPatternCounter(ctx, "pat-1", true))
	require.NoError(t, s.IncrementPatternCounter(ctx, "pat-1", true))
	require.NoError(t, s.IncrementPatternCounter(ctx, "pat-1", false))

	all, err := s.ListPatterns(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, 2, all[0].SuccessCount)
	assert.Equal(t, 1, all[0].FailureCount)
	assert.Equal(t, 3, all[0].Attempts())

	err = s.IncrementPatternCounter(ctx, "missing", true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestSQLiteUpdatePatternHealth(t *testing.T) {
	s := openSQLite(t)
	ctx := context.Background()

	p := &model.ExtractionPattern{ID: "pat-1", PatternType: model.PatternTime, Regex: `x`, ConfidenceScore: 0.5, IsActive: true}
	require.NoError(t, s.InsertPattern(ctx, p))

	require.NoError(t, s.UpdatePatternHealth(ctx, "pat-1", 0.2, false))

	active, err := s.ListActivePatterns(ctx, model.PatternTime)
	require.NoError(t, err)
	assert.Empty(t, active)

	all, err := s.ListPatterns(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.InDelta(t, 0.2, all[0].ConfidenceScore, 1e-9)
	assert.False(t, all[0].IsActive)
}

func TestSQLiteFindPatternByRegex(t *testing.T) {
	s := openSQLite(t)
	ctx := context.Background()

	p := &model.ExtractionPattern{ID: "pat-1", PatternType: model.PatternPrice, Regex: `₱(\d+)`, IsActive: true}
	require.NoError(t, s.InsertPattern(ctx, p))

	found, err := s.FindPatternByRegex(ctx, model.PatternPrice, `₱(\d+)`)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "pat-1", found.ID)

	missing, err := s.FindPatternByRegex(ctx, model.PatternPrice, `other`)
	require.NoError(t, err)
	assert.Nil(t, missing)

	wrongType, err := s.FindPatternByRegex(ctx, model.PatternDate, `₱(\d+)`)
	require.NoError(t, err)
	assert.Nil(t, wrongType)
}

func TestSQLiteSuggestions(t *testing.T) {
	s := openSQLite(t)
	ctx := context.Background()

	fresh := &model.PatternSuggestion{PatternType: model.PatternTime, SampleText: "doors 7PM", ExpectedValue: "19:00:00"}
	exhausted := &model.PatternSuggestion{PatternType: model.PatternTime, SampleText: "8PM start", ExpectedValue: "20:00:00", AttemptCount: model.MaxSuggestionAttempts}
	require.NoError(t, s.CreateSuggestion(ctx, fresh))
	require.NoError(t, s.CreateSuggestion(ctx, exhausted))

	// Exhausted suggestions stay visible so a synthesis run can close them.
	pending, err := s.ListPendingSuggestions(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	ids := []string{pending[0].ID, pending[1].ID}
	assert.ElementsMatch(t, []string{fresh.ID, exhausted.ID}, ids)

	require.NoError(t, s.UpdateSuggestion(ctx, fresh.ID, model.SuggestionGenerated, `(\d{1,2}PM)`, true))
	require.NoError(t, s.UpdateSuggestion(ctx, exhausted.ID, model.SuggestionRejected, "", false))

	pending, err = s.ListPendingSuggestions(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)

	err = s.UpdateSuggestion(ctx, "missing", model.SuggestionRejected, "", true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestSQLiteGroundTruthCreateOnce(t *testing.T) {
	s := openSQLite(t)
	ctx := context.Background()

	first := &model.GroundTruthRecord{
		PostID:           "post-1",
		FieldName:        model.FieldEventTime,
		GroundTruthValue: "19:00:00",
		OriginalText:     model.StrPtr("7PM"),
		Source:           "extraction",
	}
	require.NoError(t, s.CreateGroundTruth(ctx, first))

	// Second write for the same (post, field) is silently dropped.
	dup := &model.GroundTruthRecord{
		PostID:           "post-1",
		FieldName:        model.FieldEventTime,
		GroundTruthValue: "20:00:00",
	}
	require.NoError(t, s.CreateGroundTruth(ctx, dup))

	got, err := s.ListGroundTruthWithText(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "19:00:00", got[0].GroundTruthValue)
	require.NotNil(t, got[0].OriginalText)
	assert.Equal(t, "7PM", *got[0].OriginalText)
}

func TestSQLiteGroundTruthBackfill(t *testing.T) {
	s := openSQLite(t)
	ctx := context.Background()

	rec := &model.GroundTruthRecord{
		PostID:           "post-1",
		FieldName:        model.FieldEventDate,
		GroundTruthValue: "2025-12-15",
	}
	require.NoError(t, s.CreateGroundTruth(ctx, rec))

	missing, err := s.ListGroundTruthMissingText(ctx, 10)
	require.NoError(t, err)
	require.Len(t, missing, 1)

	require.NoError(t, s.BackfillOriginalText(ctx, rec.ID, "Dec 15"))

	// Backfill never replaces a populated value.
	require.NoError(t, s.BackfillOriginalText(ctx, rec.ID, "something else"))

	withText, err := s.ListGroundTruthWithText(ctx)
	require.NoError(t, err)
	require.Len(t, withText, 1)
	assert.Equal(t, "Dec 15", *withText[0].OriginalText)

	missing, err = s.ListGroundTruthMissingText(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, missing)
}

func TestSQLiteSaveEventUpsertAndAccountVenues(t *testing.T) {
	s := openSQLite(t)
	ctx := context.Background()

	ev := &model.EventCandidate{
		PostID:    "post-1",
		Owner:     "saguijo.makati",
		VenueName: model.StrPtr("SaGuijo"),
		IsEvent:   true,
	}
	require.NoError(t, s.SaveEvent(ctx, ev))

	// Re-save with a corrected venue; the row is replaced, not duplicated.
	ev.VenueName = model.StrPtr("SaGuijo Cafe + Bar")
	require.NoError(t, s.SaveEvent(ctx, ev))

	require.NoError(t, s.SaveEvent(ctx, &model.EventCandidate{
		PostID:    "post-2",
		Owner:     "saguijo.makati",
		VenueName: model.StrPtr("Route 196"),
		IsEvent:   true,
	}))
	require.NoError(t, s.SaveEvent(ctx, &model.EventCandidate{
		PostID:  "post-3",
		Owner:   "saguijo.makati",
		IsEvent: false,
	}))

	venues, err := s.ListAccountVenues(ctx, "saguijo.makati", 5)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"SaGuijo Cafe + Bar", "Route 196"}, venues)

	none, err := s.ListAccountVenues(ctx, "someone.else", 5)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestSQLiteCorrections(t *testing.T) {
	s := openSQLite(t)
	ctx := context.Background()

	require.NoError(t, s.RecordCorrection(ctx, &Correction{
		PostID:    "post-1",
		FieldName: model.FieldEventTime,
		OldValue:  "07:00:00",
		NewValue:  "19:00:00",
	}))
	require.NoError(t, s.RecordCorrection(ctx, &Correction{
		PostID:    "post-2",
		FieldName: model.FieldVenueName,
		OldValue:  "saguijo bar",
		NewValue:  "SaGuijo Cafe + Bar",
	}))

	got, err := s.ListRecentCorrections(ctx, model.FieldEventTime, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "19:00:00", got[0].NewValue)
}

func TestSQLiteKnownVenues(t *testing.T) {
	s := openSQLite(t)
	ctx := context.Background()

	_, err := s.db.Exec(
		`INSERT INTO known_venues (name, aliases, lat, lng) VALUES (?, ?, ?, ?)`,
		"SaGuijo Cafe + Bar", `["saguijo","sa guijo"]`, 14.5657, 121.0153,
	)
	require.NoError(t, err)

	venues, err := s.ListKnownVenues(ctx)
	require.NoError(t, err)
	require.Len(t, venues, 1)
	assert.Equal(t, "SaGuijo Cafe + Bar", venues[0].Name)
	assert.Equal(t, []string{"saguijo", "sa guijo"}, venues[0].Aliases)
	assert.InDelta(t, 14.5657, venues[0].Lat, 1e-9)
}

func TestSQLiteCheckpointRoundTrip(t *testing.T) {
	s := openSQLite(t)
	ctx := context.Background()

	missing, err := s.LoadCheckpoint(ctx, "run-1")
	require.NoError(t, err)
	assert.Nil(t, missing)

	cp := &model.BatchCheckpoint{
		RunID:            "run-1",
		LastWindow:       2,
		ProcessedPostIDs: []string{"post-1", "post-2"},
	}
	require.NoError(t, s.SaveCheckpoint(ctx, cp))

	cp.LastWindow = 3
	cp.ProcessedPostIDs = append(cp.ProcessedPostIDs, "post-3")
	require.NoError(t, s.SaveCheckpoint(ctx, cp))

	got, err := s.LoadCheckpoint(ctx, "run-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 3, got.LastWindow)
	assert.Equal(t, []string{"post-1", "post-2", "post-3"}, got.ProcessedPostIDs)
	assert.True(t, got.Processed("post-2"))
	assert.False(t, got.Processed("post-9"))
}
