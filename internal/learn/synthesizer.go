package learn

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/gigmap/extract-cli/internal/config"
	"github.com/gigmap/extract-cli/internal/extract"
	"github.com/gigmap/extract-cli/internal/groundtruth"
	"github.com/gigmap/extract-cli/internal/model"
	"github.com/gigmap/extract-cli/pkg/anthropic"
)

// Rejection reasons recorded per cluster.
const (
	OutcomeGenerated        = "generated"
	OutcomeGenerationFailed = "generation_failed"
	OutcomeInvalidRegex     = "invalid_regex"
	OutcomeValidationFailed = "validation_failed"
	OutcomeDuplicate        = "duplicate"
)

// Options tunes one synthesis run. Zero values fall back to config.
type Options struct {
	UseGroundTruth       bool
	UseSuggestions       bool
	MinSamplesPerCluster int
	MinSuccessRate       float64
}

// Sample is one literal-text/expected-value exemplar.
type Sample struct {
	Text          string
	Expected      string
	SuggestionIDs []string
}

// ClusterOutcome reports what happened to one format cluster.
type ClusterOutcome struct {
	PatternType model.PatternType `json:"pattern_type"`
	Format      Format            `json:"format"`
	SampleCount int               `json:"sample_count"`
	Outcome     string            `json:"outcome"`
	PatternID   string            `json:"pattern_id,omitempty"`
	SuccessRate float64           `json:"success_rate,omitempty"`
}

// Report summarizes a synthesis run.
type Report struct {
	Generated     int              `json:"generated"`
	Rejected      int              `json:"rejected"`
	NotApplicable int              `json:"not_applicable"`
	Clusters      []ClusterOutcome `json:"clusters"`
}

// SynthStore is the slice of the persistence layer synthesis touches.
type SynthStore interface {
	ListPendingSuggestions(ctx context.Context) ([]model.PatternSuggestion, error)
	UpdateSuggestion(ctx context.Context, id string, status model.SuggestionStatus, generatedPattern string, bumpAttempts bool) error
	ListGroundTruthWithText(ctx context.Context) ([]model.GroundTruthRecord, error)
	FindPatternByRegex(ctx context.Context, pt model.PatternType, regex string) (*model.ExtractionPattern, error)
	InsertPattern(ctx context.Context, p *model.ExtractionPattern) error
}

// Synthesizer turns accumulated exemplars into validated extraction patterns.
// Runs are idempotent: consumed suggestions change status and duplicate
// regexes are rejected, so re-running over the same state is a no-op.
type Synthesizer struct {
	store  SynthStore
	client anthropic.Client
	model  string
	cfg    config.LearningConfig
}

func NewSynthesizer(st SynthStore, client anthropic.Client, modelName string, cfg config.LearningConfig) *Synthesizer {
	return &Synthesizer{store: st, client: client, model: modelName, cfg: cfg}
}

type clusterKey struct {
	pt     model.PatternType
	format Format
}

// Run executes one synthesis pass and reports per-cluster outcomes.
func (s *Synthesizer) Run(ctx context.Context, opts Options) (*Report, error) {
	minSamples := opts.MinSamplesPerCluster
	if minSamples <= 0 {
		minSamples = s.cfg.MinSamplesPerCluster
	}
	if minSamples < 2 {
		minSamples = 2
	}
	minRate := opts.MinSuccessRate
	if minRate <= 0 {
		minRate = s.cfg.MinSuccessRate
	}

	report := &Report{}
	clusters := make(map[clusterKey][]Sample)

	if opts.UseSuggestions {
		if err := s.collectSuggestions(ctx, clusters, report); err != nil {
			return nil, err
		}
	}
	if opts.UseGroundTruth {
		if err := s.collectGroundTruth(ctx, clusters); err != nil {
			return nil, err
		}
	}

	// Deterministic cluster order keeps runs reproducible.
	keys := make([]clusterKey, 0, len(clusters))
	for k := range clusters {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].pt != keys[j].pt {
			return keys[i].pt < keys[j].pt
		}
		return keys[i].format < keys[j].format
	})

	for _, key := range keys {
		samples := dedupeSamples(clusters[key])
		if len(samples) < minSamples {
			continue
		}
		outcome := s.synthesizeCluster(ctx, key, samples, minRate)
		report.Clusters = append(report.Clusters, outcome)
		if outcome.Outcome == OutcomeGenerated {
			report.Generated++
		} else {
			report.Rejected++
		}
		s.settleSuggestions(ctx, samples, outcome)
	}
	return report, nil
}

// collectSuggestions loads pending suggestions into clusters. Venue-type
// suggestions are resolved by lookup, not regex, and are closed as
// not_applicable. Suggestions past the attempt cap are closed as rejected.
func (s *Synthesizer) collectSuggestions(ctx context.Context, clusters map[clusterKey][]Sample, report *Report) error {
	suggestions, err := s.store.ListPendingSuggestions(ctx)
	if err != nil {
		return eris.Wrap(err, "learn: list pending suggestions")
	}
	for _, sg := range suggestions {
		if !sg.PatternType.RegexTarget() {
			if err := s.store.UpdateSuggestion(ctx, sg.ID, model.SuggestionNotApplicable, "", false); err != nil {
				return eris.Wrapf(err, "learn: close suggestion %s", sg.ID)
			}
			report.NotApplicable++
			continue
		}
		if sg.AttemptCount >= model.MaxSuggestionAttempts {
			if err := s.store.UpdateSuggestion(ctx, sg.ID, model.SuggestionRejected, "", false); err != nil {
				return eris.Wrapf(err, "learn: reject exhausted suggestion %s", sg.ID)
			}
			continue
		}
		key := clusterKey{pt: sg.PatternType, format: DetectFormat(sg.PatternType, sg.SampleText)}
		clusters[key] = append(clusters[key], Sample{
			Text:          sg.SampleText,
			Expected:      sg.ExpectedValue,
			SuggestionIDs: []string{sg.ID},
		})
	}
	return nil
}

// collectGroundTruth loads located ground-truth snippets into clusters.
func (s *Synthesizer) collectGroundTruth(ctx context.Context, clusters map[clusterKey][]Sample) error {
	records, err := s.store.ListGroundTruthWithText(ctx)
	if err != nil {
		return eris.Wrap(err, "learn: list ground truth")
	}
	for _, rec := range records {
		pt, ok := model.PatternTypeForField(rec.FieldName)
		if !ok || !pt.RegexTarget() || rec.OriginalText == nil {
			continue
		}
		key := clusterKey{pt: pt, format: DetectFormat(pt, *rec.OriginalText)}
		clusters[key] = append(clusters[key], Sample{Text: *rec.OriginalText, Expected: rec.GroundTruthValue})
	}
	return nil
}

// synthesizeCluster asks the model for one regex and validates it by replay.
func (s *Synthesizer) synthesizeCluster(ctx context.Context, key clusterKey, samples []Sample, minRate float64) ClusterOutcome {
	outcome := ClusterOutcome{PatternType: key.pt, Format: key.format, SampleCount: len(samples)}

	proposal, err := s.propose(ctx, key, samples)
	if err != nil {
		zap.L().Warn("pattern generation failed",
			zap.String("pattern_type", string(key.pt)),
			zap.String("format", string(key.format)),
			zap.Error(err),
		)
		outcome.Outcome = OutcomeGenerationFailed
		return outcome
	}

	compiled, reason := vetRegex(proposal.Regex)
	if compiled == nil {
		zap.L().Warn("synthesized regex rejected",
			zap.String("pattern_type", string(key.pt)),
			zap.String("regex", proposal.Regex),
			zap.String("reason", reason),
		)
		outcome.Outcome = OutcomeInvalidRegex
		return outcome
	}

	successes := replay(compiled, key.pt, samples)
	rate := float64(successes) / float64(len(samples))
	outcome.SuccessRate = rate
	if rate < minRate {
		outcome.Outcome = OutcomeValidationFailed
		return outcome
	}

	existing, err := s.store.FindPatternByRegex(ctx, key.pt, proposal.Regex)
	if err != nil {
		zap.L().Warn("duplicate check failed", zap.Error(err))
		outcome.Outcome = OutcomeGenerationFailed
		return outcome
	}
	if existing != nil {
		outcome.Outcome = OutcomeDuplicate
		return outcome
	}

	pattern := &model.ExtractionPattern{
		PatternType:     key.pt,
		Regex:           proposal.Regex,
		Description:     proposal.Description,
		ConfidenceScore: minFloat(rate, proposal.Confidence),
		SuccessCount:    successes,
		FailureCount:    len(samples) - successes,
		Source:          model.SourceAILearned,
		Priority:        100,
		IsActive:        true,
	}
	if err := s.store.InsertPattern(ctx, pattern); err != nil {
		zap.L().Error("pattern insert failed", zap.Error(err))
		outcome.Outcome = OutcomeGenerationFailed
		return outcome
	}
	zap.L().Info("pattern learned",
		zap.String("pattern_id", pattern.ID),
		zap.String("pattern_type", string(key.pt)),
		zap.String("format", string(key.format)),
		zap.Float64("success_rate", rate),
	)
	outcome.Outcome = OutcomeGenerated
	outcome.PatternID = pattern.ID
	return outcome
}

// settleSuggestions updates the status of every suggestion consumed by a
// cluster: generated on success, bumped attempt count on failure, rejected
// once the attempt cap is reached.
func (s *Synthesizer) settleSuggestions(ctx context.Context, samples []Sample, outcome ClusterOutcome) {
	for _, sample := range samples {
		for _, id := range sample.SuggestionIDs {
			var err error
			if outcome.Outcome == OutcomeGenerated {
				err = s.store.UpdateSuggestion(ctx, id, model.SuggestionGenerated, outcome.PatternID, true)
			} else {
				err = s.store.UpdateSuggestion(ctx, id, model.SuggestionPending, "", true)
			}
			if err != nil {
				zap.L().Warn("suggestion update failed", zap.String("suggestion_id", id), zap.Error(err))
			}
		}
	}
}

type regexProposal struct {
	Regex       string  `json:"regex"`
	Confidence  float64 `json:"confidence"`
	Description string  `json:"description"`
}

const synthesisSystemPrompt = `You are a regular-expression engineer. Given example pairs of source text and the value to extract, produce ONE Go-compatible (RE2) regular expression that captures the value in its FIRST capture group.

Rules:
- The regex must match the literal source texts shown, not an idealized format.
- Put ONLY the target value in capture group 1.
- Use single backslashes for metacharacters (\d not \\d).
- No lookaheads or lookbehinds (RE2 does not support them).

Respond with JSON only:
{"regex": "...", "confidence": 0.0-1.0, "description": "one line"}`

// propose asks the model for a regex tailored to this cluster's format.
func (s *Synthesizer) propose(ctx context.Context, key clusterKey, samples []Sample) (*regexProposal, error) {
	limit := s.cfg.MaxSamplesPerPrompt
	if limit <= 0 || limit > 25 {
		limit = 25
	}
	if len(samples) > limit {
		samples = samples[:limit]
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Pattern type: %s\nDetected format: %s\n\nExamples:\n", key.pt, key.format)
	for i, sample := range samples {
		fmt.Fprintf(&sb, "%d. text: %q -> value: %q\n", i+1, sample.Text, sample.Expected)
	}

	temp := 0.2
	resp, err := s.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:       s.model,
		MaxTokens:   1024,
		System:      synthesisSystemPrompt,
		Messages:    []anthropic.Message{anthropic.TextMessage("user", sb.String())},
		Temperature: &temp,
	})
	if err != nil {
		return nil, eris.Wrap(err, "learn: synthesis model call")
	}

	var proposal regexProposal
	if err := json.Unmarshal([]byte(stripFences(resp.Text())), &proposal); err != nil {
		return nil, eris.Wrap(err, "learn: parse synthesis response")
	}
	if proposal.Regex == "" {
		return nil, eris.New("learn: synthesis response missing regex")
	}
	if proposal.Confidence <= 0 || proposal.Confidence > 1 {
		proposal.Confidence = 0.5
	}
	return &proposal, nil
}

// vetRegex rejects candidates that fail to compile, contain control
// characters, or carry double-escaped metacharacters. Returns the compiled
// regex or nil with a reason.
func vetRegex(candidate string) (*regexp.Regexp, string) {
	if candidate == "" {
		return nil, "empty"
	}
	for _, r := range candidate {
		if r < 0x20 && r != '\t' {
			return nil, "control characters"
		}
	}
	if doubleEscaped(candidate) {
		return nil, "double-escaped metacharacters"
	}
	compiled, err := regexp.Compile(candidate)
	if err != nil {
		return nil, "does not compile"
	}
	return compiled, ""
}

// doubleEscaped detects `\\d`-style sequences, a common artifact of
// JSON-in-JSON model output.
func doubleEscaped(s string) bool {
	for i := 0; i+2 < len(s); i++ {
		if s[i] == '\\' && s[i+1] == '\\' && strings.ContainsRune(`dswbDSWB.+*?()[]{}|`, rune(s[i+2])) {
			return true
		}
	}
	return false
}

// replay counts samples whose extracted value round-trips to the expected
// value. Expected values may be normalized forms (ground truth) or literal
// snippets (suggestions), so both a format round-trip and a normalized
// substring comparison count as a match.
func replay(re *regexp.Regexp, pt model.PatternType, samples []Sample) int {
	successes := 0
	for _, sample := range samples {
		m := re.FindStringSubmatch(sample.Text)
		if m == nil {
			continue
		}
		value := m[0]
		if len(m) > 1 && m[1] != "" {
			value = m[1]
		}
		if groundtruth.RoundTrips(pt, value, sample.Expected) ||
			extract.NormalizedContains(value, sample.Expected) {
			successes++
		}
	}
	return successes
}

// dedupeSamples collapses exemplars with identical text and expected value,
// merging their suggestion IDs.
func dedupeSamples(samples []Sample) []Sample {
	seen := make(map[string]int)
	var out []Sample
	for _, sample := range samples {
		k := sample.Text + "\x00" + sample.Expected
		if idx, ok := seen[k]; ok {
			out[idx].SuggestionIDs = append(out[idx].SuggestionIDs, sample.SuggestionIDs...)
			continue
		}
		seen[k] = len(out)
		out = append(out, sample)
	}
	return out
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx >= 0 {
			s = s[idx+1:]
		}
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start >= 0 && end > start {
		return s[start : end+1]
	}
	return s
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
