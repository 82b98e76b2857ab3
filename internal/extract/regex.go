package extract

import (
	"context"
	"regexp"

	"go.uber.org/zap"

	"github.com/gigmap/extract-cli/internal/model"
	"github.com/gigmap/extract-cli/internal/store"
)

// compiledPattern pairs a stored pattern with its compiled regex.
type compiledPattern struct {
	meta model.ExtractionPattern
	re   *regexp.Regexp
}

// RegexExtractor applies the active deterministic pattern set to caption
// text. It is pure and synchronous; the pattern snapshot is loaded once per
// run, so no lock is held during extraction.
type RegexExtractor struct {
	patterns map[model.PatternType][]compiledPattern
}

// NewRegexExtractor loads and compiles a snapshot of all active patterns.
// Patterns that fail to compile are skipped with a warning; the store
// invariant says they should not exist, but a bad row must not take down the
// run.
func NewRegexExtractor(ctx context.Context, st store.Store) (*RegexExtractor, error) {
	e := &RegexExtractor{patterns: make(map[model.PatternType][]compiledPattern)}

	for _, pt := range []model.PatternType{
		model.PatternDate, model.PatternTime, model.PatternVenue,
		model.PatternPrice, model.PatternSignupURL, model.PatternTitle,
	} {
		rows, err := st.ListActivePatterns(ctx, pt)
		if err != nil {
			return nil, err
		}
		for _, p := range rows {
			re, err := p.Compile()
			if err != nil {
				zap.L().Warn("skipping stored pattern with invalid regex",
					zap.String("pattern_id", p.ID),
					zap.Error(err),
				)
				continue
			}
			e.patterns[pt] = append(e.patterns[pt], compiledPattern{meta: p, re: re})
		}
	}
	return e, nil
}

// NewRegexExtractorFromPatterns builds an extractor from an in-memory
// pattern list. Used by tests and the synthesis replay.
func NewRegexExtractorFromPatterns(patterns []model.ExtractionPattern) *RegexExtractor {
	e := &RegexExtractor{patterns: make(map[model.PatternType][]compiledPattern)}
	for _, p := range patterns {
		if !p.IsActive {
			continue
		}
		re, err := p.Compile()
		if err != nil {
			continue
		}
		e.patterns[p.PatternType] = append(e.patterns[p.PatternType], compiledPattern{meta: p, re: re})
	}
	return e
}

// Extract runs every active pattern of the field's type against the caption
// and returns all candidates. Disambiguation between multiple matches is the
// merger's job, not this component's.
func (e *RegexExtractor) Extract(caption string, field model.FieldName) []model.FieldCandidate {
	pt, ok := model.PatternTypeForField(field)
	if !ok {
		return nil
	}

	var out []model.FieldCandidate
	for _, cp := range e.patterns[pt] {
		m := cp.re.FindStringSubmatch(caption)
		if m == nil {
			continue
		}
		value := m[0]
		if len(m) > 1 && m[1] != "" {
			value = m[1]
		}
		out = append(out, model.FieldCandidate{
			FieldName:       field,
			Value:           value,
			SourcePatternID: cp.meta.ID,
			Confidence:      cp.meta.ConfidenceScore,
			Priority:        cp.meta.Priority,
		})
	}
	return out
}

// ExtractAll runs Extract for every regex-targeted field.
func (e *RegexExtractor) ExtractAll(caption string) []model.FieldCandidate {
	var out []model.FieldCandidate
	for _, f := range []model.FieldName{
		model.FieldEventDate, model.FieldEventTime, model.FieldEndTime,
		model.FieldPrice, model.FieldSignupURL, model.FieldEventTitle,
	} {
		out = append(out, e.Extract(caption, f)...)
	}
	return out
}
