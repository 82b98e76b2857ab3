package model

import "time"

// Post is the raw ingested social-media post the pipeline consumes.
type Post struct {
	ID            string    `json:"id"`
	Caption       string    `json:"caption"`
	ImageURL      string    `json:"image_url,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
	OwnerUsername string    `json:"owner_username"`
}

// ExtractionMethod identifies which strategy produced an event candidate.
type ExtractionMethod string

const (
	MethodRegex  ExtractionMethod = "regex"
	MethodAI     ExtractionMethod = "ai"
	MethodOCRAI  ExtractionMethod = "ocr_ai"
	MethodVision ExtractionMethod = "vision"
)

// FieldName identifies an event field targeted by extraction.
type FieldName string

const (
	FieldEventTitle   FieldName = "event_title"
	FieldEventDate    FieldName = "event_date"
	FieldEventEndDate FieldName = "event_end_date"
	FieldEventTime    FieldName = "event_time"
	FieldEndTime      FieldName = "end_time"
	FieldVenueName    FieldName = "venue_name"
	FieldVenueAddress FieldName = "venue_address"
	FieldPrice        FieldName = "price"
	FieldSignupURL    FieldName = "signup_url"
)

// FieldCandidate is a single extracted value for one field, before merge.
// Exactly one of SourcePatternID or SourceModel is set.
type FieldCandidate struct {
	FieldName       FieldName `json:"field_name"`
	Value           string    `json:"value"`
	SourcePatternID string    `json:"source_pattern_id,omitempty"`
	SourceModel     string    `json:"source_model,omitempty"`
	Confidence      float64   `json:"confidence"`
	Priority        int       `json:"priority,omitempty"`
}

// FromModel reports whether the candidate came from the language model path.
func (c FieldCandidate) FromModel() bool {
	return c.SourceModel != ""
}

// EventCandidate is the merged, per-post extraction result.
// Nullable fields are pointers; a nil pointer means "not found", never a
// fabricated zero value.
type EventCandidate struct {
	PostID       string  `json:"post_id"`
	Owner        string  `json:"owner,omitempty"`
	EventTitle   *string `json:"event_title"`
	EventDate    *string `json:"event_date"`     // YYYY-MM-DD
	EventEndDate *string `json:"event_end_date"` // YYYY-MM-DD
	EventTime    *string `json:"event_time"`     // HH:MM:SS
	EndTime      *string `json:"end_time"`       // HH:MM:SS
	VenueName    *string `json:"venue_name"`
	VenueAddress *string `json:"venue_address"`
	Price        *float64 `json:"price"`
	PriceMin     *float64 `json:"price_min"`
	PriceMax     *float64 `json:"price_max"`
	IsFree       *bool    `json:"is_free"`
	SignupURL    *string  `json:"signup_url"`
	Category     *string  `json:"category"`

	// Recurrence and post-update signals.
	IsRecurring        bool    `json:"is_recurring"`
	RecurrencePattern  *string `json:"recurrence_pattern"`
	IsUpdate           bool    `json:"is_update"`
	UpdateType         *string `json:"update_type"`
	AvailabilityStatus *string `json:"availability_status"`
	LocationStatus     *string `json:"location_status"`

	IsEvent            bool             `json:"is_event"`
	OutsideServiceArea bool             `json:"outside_service_area"`
	Confidence         float64          `json:"confidence"`
	NeedsReview        bool             `json:"needs_review"`
	ExtractionMethod   ExtractionMethod `json:"extraction_method"`
	Reasoning          string           `json:"reasoning"`

	// PatternProvenance maps field name to the regex pattern that agreed with
	// (or lost to) the model value, for success/failure bookkeeping.
	PatternProvenance map[FieldName]string `json:"pattern_provenance,omitempty"`
}

// Field returns the merged string value for a named field, or nil.
// Price is excluded; it is numeric and handled separately.
func (e *EventCandidate) Field(name FieldName) *string {
	switch name {
	case FieldEventTitle:
		return e.EventTitle
	case FieldEventDate:
		return e.EventDate
	case FieldEventEndDate:
		return e.EventEndDate
	case FieldEventTime:
		return e.EventTime
	case FieldEndTime:
		return e.EndTime
	case FieldVenueName:
		return e.VenueName
	case FieldVenueAddress:
		return e.VenueAddress
	case FieldSignupURL:
		return e.SignupURL
	}
	return nil
}

// StrPtr returns a pointer to s. Convenience for building candidates.
func StrPtr(s string) *string { return &s }

// FloatPtr returns a pointer to f.
func FloatPtr(f float64) *float64 { return &f }

// BoolPtr returns a pointer to b.
func BoolPtr(b bool) *bool { return &b }
