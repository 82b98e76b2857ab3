package model

import (
	"regexp"
	"time"
)

// PatternType categorizes what a deterministic pattern extracts.
type PatternType string

const (
	PatternDate      PatternType = "date"
	PatternTime      PatternType = "time"
	PatternVenue     PatternType = "venue"
	PatternPrice     PatternType = "price"
	PatternSignupURL PatternType = "signup_url"
	PatternTitle     PatternType = "title"
)

// PatternTypeForField maps an event field to the pattern type that targets it.
// The mapping is fixed; venue and address fields are resolved by lookup
// against known venues, not by regex.
func PatternTypeForField(f FieldName) (PatternType, bool) {
	switch f {
	case FieldEventDate, FieldEventEndDate:
		return PatternDate, true
	case FieldEventTime, FieldEndTime:
		return PatternTime, true
	case FieldPrice:
		return PatternPrice, true
	case FieldSignupURL:
		return PatternSignupURL, true
	case FieldEventTitle:
		return PatternTitle, true
	case FieldVenueName, FieldVenueAddress:
		return PatternVenue, true
	}
	return "", false
}

// RegexTarget reports whether a pattern type is a legitimate target for
// synthesized regexes. Venue resolution is semantic lookup, not regex.
func (t PatternType) RegexTarget() bool {
	return t != PatternVenue
}

// PatternSource records how a pattern entered the store.
type PatternSource string

const (
	SourceManual    PatternSource = "manual"
	SourceLearned   PatternSource = "learned"
	SourceAILearned PatternSource = "ai_learned"
)

// ExtractionPattern is one deterministic field-extraction rule.
// ConfidenceScore is recomputed from the counters once learned, never
// hand-edited.
type ExtractionPattern struct {
	ID              string        `json:"id"`
	PatternType     PatternType   `json:"pattern_type"`
	Regex           string        `json:"regex"`
	Description     string        `json:"description"`
	ConfidenceScore float64       `json:"confidence_score"`
	SuccessCount    int           `json:"success_count"`
	FailureCount    int           `json:"failure_count"`
	Source          PatternSource `json:"source"`
	Priority        int           `json:"priority"`
	IsActive        bool          `json:"is_active"`
	CreatedAt       time.Time     `json:"created_at"`
}

// Compile compiles the stored regex. Every stored pattern must compile.
func (p *ExtractionPattern) Compile() (*regexp.Regexp, error) {
	return regexp.Compile(p.Regex)
}

// Attempts returns the total number of recorded match attempts.
func (p *ExtractionPattern) Attempts() int {
	return p.SuccessCount + p.FailureCount
}

// SuggestionStatus is the lifecycle state of a pattern suggestion.
type SuggestionStatus string

const (
	SuggestionPending       SuggestionStatus = "pending"
	SuggestionGenerated     SuggestionStatus = "generated"
	SuggestionRejected      SuggestionStatus = "rejected"
	SuggestionNotApplicable SuggestionStatus = "not_applicable"
)

// MaxSuggestionAttempts caps synthesis retries per suggestion.
const MaxSuggestionAttempts = 3

// PatternSuggestion is a raw exemplar queued for pattern synthesis, created
// when a field extraction needed manual correction or the learning job wants
// more samples of a format.
type PatternSuggestion struct {
	ID               string           `json:"id"`
	PatternType      PatternType      `json:"pattern_type"`
	SampleText       string           `json:"sample_text"`
	ExpectedValue    string           `json:"expected_value"`
	Status           SuggestionStatus `json:"status"`
	AttemptCount     int              `json:"attempt_count"`
	GeneratedPattern string           `json:"generated_pattern,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
}

// GroundTruthRecord links a normalized high-confidence field value back to
// the literal caption snippet that produced it. OriginalText is nullable
// until backfilled and, once populated, must be a substring of the caption
// that re-derives GroundTruthValue.
type GroundTruthRecord struct {
	ID               string    `json:"id"`
	PostID           string    `json:"post_id"`
	FieldName        FieldName `json:"field_name"`
	GroundTruthValue string    `json:"ground_truth_value"`
	OriginalText     *string   `json:"original_text"`
	Source           string    `json:"source"`
	CreatedAt        time.Time `json:"created_at"`
}

// KnownVenue is read-only canonical venue reference data.
type KnownVenue struct {
	Name    string   `json:"name"`
	Aliases []string `json:"aliases"`
	Lat     float64  `json:"lat"`
	Lng     float64  `json:"lng"`
}

// BatchCheckpoint stores batch-driver progress for idempotent resume.
type BatchCheckpoint struct {
	RunID            string    `json:"run_id"`
	LastWindow       int       `json:"last_window"`
	ProcessedPostIDs []string  `json:"processed_post_ids"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Processed reports whether a post was already handled in a previous run.
func (c *BatchCheckpoint) Processed(postID string) bool {
	if c == nil {
		return false
	}
	for _, id := range c.ProcessedPostIDs {
		if id == postID {
			return true
		}
	}
	return false
}
