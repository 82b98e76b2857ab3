package learn

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gigmap/extract-cli/internal/config"
	"github.com/gigmap/extract-cli/internal/model"
	"github.com/gigmap/extract-cli/internal/store"
	"github.com/gigmap/extract-cli/pkg/anthropic"
)

type stubModel struct {
	response string
	err      error
	calls    int
}

func (s *stubModel) CreateMessage(_ context.Context, _ anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &anthropic.MessageResponse{
		Content: []anthropic.ContentBlock{{Type: "text", Text: s.response}},
	}, nil
}

type fakeSynthStore struct {
	suggestions []model.PatternSuggestion
	groundTruth []model.GroundTruthRecord
	patterns    []model.ExtractionPattern
	updates     map[string]model.SuggestionStatus
	bumps       map[string]int
}

func newFakeSynthStore() *fakeSynthStore {
	return &fakeSynthStore{
		updates: make(map[string]model.SuggestionStatus),
		bumps:   make(map[string]int),
	}
}

func (f *fakeSynthStore) ListPendingSuggestions(_ context.Context) ([]model.PatternSuggestion, error) {
	var out []model.PatternSuggestion
	for _, sg := range f.suggestions {
		if sg.Status == model.SuggestionPending {
			out = append(out, sg)
		}
	}
	return out, nil
}

func (f *fakeSynthStore) UpdateSuggestion(_ context.Context, id string, status model.SuggestionStatus, generatedPattern string, bumpAttempts bool) error {
	f.updates[id] = status
	if bumpAttempts {
		f.bumps[id]++
	}
	for i := range f.suggestions {
		if f.suggestions[i].ID == id {
			f.suggestions[i].Status = status
			f.suggestions[i].GeneratedPattern = generatedPattern
			if bumpAttempts {
				f.suggestions[i].AttemptCount++
			}
		}
	}
	return nil
}

func (f *fakeSynthStore) ListGroundTruthWithText(_ context.Context) ([]model.GroundTruthRecord, error) {
	return f.groundTruth, nil
}

func (f *fakeSynthStore) FindPatternByRegex(_ context.Context, pt model.PatternType, regex string) (*model.ExtractionPattern, error) {
	for i := range f.patterns {
		if f.patterns[i].PatternType == pt && f.patterns[i].Regex == regex {
			return &f.patterns[i], nil
		}
	}
	return nil, nil
}

func (f *fakeSynthStore) InsertPattern(_ context.Context, p *model.ExtractionPattern) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	f.patterns = append(f.patterns, *p)
	return nil
}

func timeGroundTruth(values map[string]string) []model.GroundTruthRecord {
	var out []model.GroundTruthRecord
	for text, normalized := range values {
		snippet := text
		out = append(out, model.GroundTruthRecord{
			ID:               uuid.New().String(),
			PostID:           uuid.New().String(),
			FieldName:        model.FieldEventTime,
			GroundTruthValue: normalized,
			OriginalText:     &snippet,
		})
	}
	return out
}

func learningConfig() config.LearningConfig {
	return config.LearningConfig{
		MinSamplesPerCluster: 2,
		MaxSamplesPerPrompt:  25,
		MinSuccessRate:       0.6,
	}
}

func TestRunGeneratesPatternFromGroundTruth(t *testing.T) {
	st := newFakeSynthStore()
	st.groundTruth = timeGroundTruth(map[string]string{
		"7PM":  "19:00:00",
		"8PM":  "20:00:00",
		"10PM": "22:00:00",
	})
	client := &stubModel{response: `{"regex": "(\\d{1,2}(?::\\d{2})?\\s*[AP]M)", "confidence": 0.9, "description": "12-hour time with meridiem"}`}

	synth := NewSynthesizer(st, client, "test-model", learningConfig())
	report, err := synth.Run(context.Background(), Options{UseGroundTruth: true})
	require.NoError(t, err)

	assert.Equal(t, 1, report.Generated)
	assert.Zero(t, report.Rejected)
	require.Len(t, st.patterns, 1)

	p := st.patterns[0]
	assert.Equal(t, model.PatternTime, p.PatternType)
	assert.Equal(t, model.SourceAILearned, p.Source)
	assert.True(t, p.IsActive)
	assert.Equal(t, 3, p.SuccessCount)
	assert.Zero(t, p.FailureCount)
	// Confidence is capped by the replay success rate.
	assert.InDelta(t, 0.9, p.ConfidenceScore, 1e-9)

	_, err = p.Compile()
	assert.NoError(t, err)
}

func TestRunRejectsBelowMinimumSuccessRate(t *testing.T) {
	st := newFakeSynthStore()
	st.groundTruth = timeGroundTruth(map[string]string{
		"7PM":  "19:00:00",
		"8PM":  "20:00:00",
		"9PM":  "21:00:00",
		"10PM": "22:00:00",
		"11PM": "23:00:00",
	})
	// Matches only one of five samples: 20% success, below the 60% bar.
	client := &stubModel{response: `{"regex": "(7PM)", "confidence": 0.95, "description": "overfit"}`}

	synth := NewSynthesizer(st, client, "test-model", learningConfig())
	report, err := synth.Run(context.Background(), Options{UseGroundTruth: true})
	require.NoError(t, err)

	assert.Zero(t, report.Generated)
	assert.Equal(t, 1, report.Rejected)
	assert.Empty(t, st.patterns, "a failing regex must never reach the pattern store")
	require.Len(t, report.Clusters, 1)
	assert.Equal(t, OutcomeValidationFailed, report.Clusters[0].Outcome)
}

func TestRunRejectsInvalidRegexes(t *testing.T) {
	tests := []struct {
		name     string
		response string
	}{
		{"does not compile", `{"regex": "([unclosed", "confidence": 0.9}`},
		{"double escaped", `{"regex": "(\\\\d{1,2}PM)", "confidence": 0.9}`},
		{"control characters", `{"regex": "(\u0007\\d+PM)", "confidence": 0.9}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			st := newFakeSynthStore()
			st.groundTruth = timeGroundTruth(map[string]string{
				"7PM": "19:00:00",
				"8PM": "20:00:00",
			})
			client := &stubModel{response: tc.response}

			synth := NewSynthesizer(st, client, "test-model", learningConfig())
			report, err := synth.Run(context.Background(), Options{UseGroundTruth: true})
			require.NoError(t, err)

			assert.Empty(t, st.patterns)
			require.Len(t, report.Clusters, 1)
			assert.Equal(t, OutcomeInvalidRegex, report.Clusters[0].Outcome)
		})
	}
}

func TestRunRejectsDuplicates(t *testing.T) {
	st := newFakeSynthStore()
	st.patterns = []model.ExtractionPattern{{
		ID:          "existing",
		PatternType: model.PatternTime,
		Regex:       `(\d{1,2}(?::\d{2})?\s*[AP]M)`,
		Source:      model.SourceAILearned,
		IsActive:    true,
	}}
	st.groundTruth = timeGroundTruth(map[string]string{
		"7PM": "19:00:00",
		"8PM": "20:00:00",
	})
	client := &stubModel{response: `{"regex": "(\\d{1,2}(?::\\d{2})?\\s*[AP]M)", "confidence": 0.9}`}

	synth := NewSynthesizer(st, client, "test-model", learningConfig())
	report, err := synth.Run(context.Background(), Options{UseGroundTruth: true})
	require.NoError(t, err)

	assert.Len(t, st.patterns, 1, "duplicate must not be inserted")
	require.Len(t, report.Clusters, 1)
	assert.Equal(t, OutcomeDuplicate, report.Clusters[0].Outcome)
}

func TestRunClosesVenueSuggestionsAsNotApplicable(t *testing.T) {
	st := newFakeSynthStore()
	st.suggestions = []model.PatternSuggestion{{
		ID:          "v1",
		PatternType: model.PatternVenue,
		SampleText:  "📍 SaGuijo",
		Status:      model.SuggestionPending,
	}}
	client := &stubModel{response: `{}`}

	synth := NewSynthesizer(st, client, "test-model", learningConfig())
	report, err := synth.Run(context.Background(), Options{UseSuggestions: true})
	require.NoError(t, err)

	assert.Equal(t, 1, report.NotApplicable)
	assert.Equal(t, model.SuggestionNotApplicable, st.updates["v1"])
	assert.Zero(t, client.calls, "venue suggestions never reach the model")
}

func TestRunSettlesSuggestions(t *testing.T) {
	st := newFakeSynthStore()
	st.suggestions = []model.PatternSuggestion{
		{ID: "s1", PatternType: model.PatternTime, SampleText: "7PM", ExpectedValue: "19:00:00", Status: model.SuggestionPending},
		{ID: "s2", PatternType: model.PatternTime, SampleText: "8PM", ExpectedValue: "20:00:00", Status: model.SuggestionPending},
	}
	client := &stubModel{response: `{"regex": "(\\d{1,2}PM)", "confidence": 0.8}`}

	synth := NewSynthesizer(st, client, "test-model", learningConfig())
	report, err := synth.Run(context.Background(), Options{UseSuggestions: true})
	require.NoError(t, err)

	assert.Equal(t, 1, report.Generated)
	assert.Equal(t, model.SuggestionGenerated, st.updates["s1"])
	assert.Equal(t, model.SuggestionGenerated, st.updates["s2"])
	assert.Equal(t, 1, st.bumps["s1"])
}

func TestRunBumpsAttemptsOnFailureAndRejectsAtCap(t *testing.T) {
	st := newFakeSynthStore()
	st.suggestions = []model.PatternSuggestion{
		{ID: "f1", PatternType: model.PatternTime, SampleText: "7PM", ExpectedValue: "19:00:00", Status: model.SuggestionPending},
		{ID: "f2", PatternType: model.PatternTime, SampleText: "8PM", ExpectedValue: "20:00:00", Status: model.SuggestionPending},
		{ID: "done", PatternType: model.PatternTime, SampleText: "9PM", ExpectedValue: "21:00:00", Status: model.SuggestionPending, AttemptCount: model.MaxSuggestionAttempts},
	}
	client := &stubModel{response: `{"regex": "([unclosed", "confidence": 0.9}`}

	synth := NewSynthesizer(st, client, "test-model", learningConfig())
	_, err := synth.Run(context.Background(), Options{UseSuggestions: true})
	require.NoError(t, err)

	assert.Equal(t, model.SuggestionPending, st.updates["f1"], "failed attempt stays pending")
	assert.Equal(t, 1, st.bumps["f1"])
	assert.Equal(t, model.SuggestionRejected, st.updates["done"], "exhausted suggestion is closed")
	assert.Zero(t, st.bumps["done"])
}

func TestRunClosesExhaustedSuggestionsInStore(t *testing.T) {
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })

	ctx := context.Background()
	sg := &model.PatternSuggestion{
		PatternType:   model.PatternTime,
		SampleText:    "doors 7PM",
		ExpectedValue: "19:00:00",
		AttemptCount:  model.MaxSuggestionAttempts,
	}
	require.NoError(t, s.CreateSuggestion(ctx, sg))

	// The at-cap row must be visible to the run, or it can never be closed.
	pending, err := s.ListPendingSuggestions(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	client := &stubModel{response: `{}`}
	synth := NewSynthesizer(s, client, "test-model", learningConfig())
	_, err = synth.Run(ctx, Options{UseSuggestions: true})
	require.NoError(t, err)

	pending, err = s.ListPendingSuggestions(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending, "exhausted suggestion must be closed, not left pending")
	assert.Zero(t, client.calls, "an exhausted suggestion never reaches the model")
}

func TestRunSkipsUndersizedClusters(t *testing.T) {
	st := newFakeSynthStore()
	st.groundTruth = timeGroundTruth(map[string]string{"7PM": "19:00:00"})
	client := &stubModel{response: `{"regex": "(\\d+PM)", "confidence": 0.9}`}

	synth := NewSynthesizer(st, client, "test-model", learningConfig())
	report, err := synth.Run(context.Background(), Options{UseGroundTruth: true})
	require.NoError(t, err)

	assert.Empty(t, report.Clusters)
	assert.Zero(t, client.calls)
}

func TestVetRegex(t *testing.T) {
	compiled, reason := vetRegex(`(\d{1,2}PM)`)
	assert.NotNil(t, compiled)
	assert.Empty(t, reason)

	compiled, _ = vetRegex(`(\\d{1,2}PM)`)
	assert.Nil(t, compiled, "double-escaped metachar must be rejected")

	compiled, _ = vetRegex("([unclosed")
	assert.Nil(t, compiled)

	compiled, _ = vetRegex("(\x07bad)")
	assert.Nil(t, compiled)

	compiled, _ = vetRegex("")
	assert.Nil(t, compiled)
}
