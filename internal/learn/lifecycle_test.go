package learn

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gigmap/extract-cli/internal/config"
	"github.com/gigmap/extract-cli/internal/model"
)

type fakeLifecycleStore struct {
	patterns []model.ExtractionPattern
}

func (f *fakeLifecycleStore) ListPatterns(_ context.Context) ([]model.ExtractionPattern, error) {
	return f.patterns, nil
}

func (f *fakeLifecycleStore) UpdatePatternHealth(_ context.Context, id string, confidence float64, isActive bool) error {
	for i := range f.patterns {
		if f.patterns[i].ID == id {
			f.patterns[i].ConfidenceScore = confidence
			f.patterns[i].IsActive = isActive
		}
	}
	return nil
}

func (f *fakeLifecycleStore) byID(id string) *model.ExtractionPattern {
	for i := range f.patterns {
		if f.patterns[i].ID == id {
			return &f.patterns[i]
		}
	}
	return nil
}

func lifecycleCfg() config.LearningConfig {
	return config.LearningConfig{
		MinLifecycleSamples: 10,
		DeactivateAttempts:  20,
		DeactivateFloor:     0.3,
	}
}

func TestLifecycleDeactivatesChronicFailers(t *testing.T) {
	st := &fakeLifecycleStore{patterns: []model.ExtractionPattern{{
		ID:              "bad",
		PatternType:     model.PatternTime,
		Regex:           `(\d+PM)`,
		ConfidenceScore: 0.8,
		SuccessCount:    2,
		FailureCount:    18,
		Source:          model.SourceAILearned,
		IsActive:        true,
	}}}

	report, err := NewLifecycleManager(st, lifecycleCfg()).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Deactivated)
	p := st.byID("bad")
	require.NotNil(t, p)
	assert.False(t, p.IsActive)
	assert.InDelta(t, 0.1, p.ConfidenceScore, 1e-9)
}

func TestLifecycleRecomputesConfidenceWithoutDeactivating(t *testing.T) {
	st := &fakeLifecycleStore{patterns: []model.ExtractionPattern{{
		ID:              "ok",
		PatternType:     model.PatternDate,
		Regex:           `(\w+ \d{1,2})`,
		ConfidenceScore: 0.5,
		SuccessCount:    12,
		FailureCount:    3,
		Source:          model.SourceAILearned,
		IsActive:        true,
	}}}

	report, err := NewLifecycleManager(st, lifecycleCfg()).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Updated)
	assert.Zero(t, report.Deactivated)
	p := st.byID("ok")
	require.NotNil(t, p)
	assert.True(t, p.IsActive)
	assert.InDelta(t, 0.8, p.ConfidenceScore, 1e-9)
}

func TestLifecycleSkipsSparseAndInactivePatterns(t *testing.T) {
	st := &fakeLifecycleStore{patterns: []model.ExtractionPattern{
		{
			ID: "sparse", PatternType: model.PatternTime, Regex: `x`,
			ConfidenceScore: 0.9, SuccessCount: 3, FailureCount: 2, IsActive: true,
		},
		{
			ID: "retired", PatternType: model.PatternTime, Regex: `y`,
			ConfidenceScore: 0.1, SuccessCount: 2, FailureCount: 30, IsActive: false,
		},
	}}

	report, err := NewLifecycleManager(st, lifecycleCfg()).Run(context.Background())
	require.NoError(t, err)

	assert.Zero(t, report.Examined)
	sparse := st.byID("sparse")
	assert.True(t, sparse.IsActive)
	assert.InDelta(t, 0.9, sparse.ConfidenceScore, 1e-9)
}

func TestLifecycleLowConfidenceBelowAttemptThresholdStaysActive(t *testing.T) {
	// 3/15 = 20% success: below the floor, but not enough attempts to retire.
	st := &fakeLifecycleStore{patterns: []model.ExtractionPattern{{
		ID:              "young",
		PatternType:     model.PatternPrice,
		Regex:           `(\d+)`,
		ConfidenceScore: 0.7,
		SuccessCount:    3,
		FailureCount:    12,
		IsActive:        true,
	}}}

	report, err := NewLifecycleManager(st, lifecycleCfg()).Run(context.Background())
	require.NoError(t, err)

	assert.Zero(t, report.Deactivated)
	p := st.byID("young")
	assert.True(t, p.IsActive)
	assert.InDelta(t, 0.2, p.ConfidenceScore, 1e-9)
}
