package learn

import (
	"context"
	"math"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/gigmap/extract-cli/internal/config"
	"github.com/gigmap/extract-cli/internal/model"
)

// LifecycleStore is the slice of the persistence layer the lifecycle
// manager touches.
type LifecycleStore interface {
	ListPatterns(ctx context.Context) ([]model.ExtractionPattern, error)
	UpdatePatternHealth(ctx context.Context, patternID string, confidence float64, isActive bool) error
}

// LifecycleReport summarizes one lifecycle pass.
type LifecycleReport struct {
	Examined    int `json:"examined"`
	Updated     int `json:"updated"`
	Deactivated int `json:"deactivated"`
}

// LifecycleManager recomputes pattern confidence from observed counters and
// retires chronic failers. This is the only path that deactivates a pattern.
type LifecycleManager struct {
	store LifecycleStore
	cfg   config.LearningConfig
}

func NewLifecycleManager(st LifecycleStore, cfg config.LearningConfig) *LifecycleManager {
	minSamples := cfg.MinLifecycleSamples
	if minSamples <= 0 {
		minSamples = 10
	}
	attempts := cfg.DeactivateAttempts
	if attempts <= 0 {
		attempts = 20
	}
	floor := cfg.DeactivateFloor
	if floor <= 0 {
		floor = 0.3
	}
	cfg.MinLifecycleSamples = minSamples
	cfg.DeactivateAttempts = attempts
	cfg.DeactivateFloor = floor
	return &LifecycleManager{store: st, cfg: cfg}
}

// Run examines every active pattern with enough recorded attempts,
// recomputes its confidence, and deactivates patterns whose observed success
// rate fell below the floor after sustained use.
func (m *LifecycleManager) Run(ctx context.Context) (*LifecycleReport, error) {
	patterns, err := m.store.ListPatterns(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "learn: list patterns for lifecycle")
	}

	report := &LifecycleReport{}
	for _, p := range patterns {
		if !p.IsActive || p.Attempts() <= m.cfg.MinLifecycleSamples {
			continue
		}
		report.Examined++

		confidence := float64(p.SuccessCount) / float64(p.Attempts())
		active := true
		if p.Attempts() >= m.cfg.DeactivateAttempts && confidence < m.cfg.DeactivateFloor {
			active = false
		}

		if active && nearlyEqual(confidence, p.ConfidenceScore) {
			continue
		}
		if err := m.store.UpdatePatternHealth(ctx, p.ID, confidence, active); err != nil {
			return report, eris.Wrapf(err, "learn: update pattern %s", p.ID)
		}
		report.Updated++
		if !active {
			report.Deactivated++
			zap.L().Info("pattern retired",
				zap.String("pattern_id", p.ID),
				zap.String("pattern_type", string(p.PatternType)),
				zap.Int("attempts", p.Attempts()),
				zap.Float64("confidence", confidence),
			)
		}
	}
	return report, nil
}

func nearlyEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}
