package extract

import (
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/gigmap/extract-cli/internal/model"
)

// Extraction is the validated form of the model's extraction response. Every
// field is checked individually; the raw response is treated as an untrusted
// variant and field presence is never assumed.
type Extraction struct {
	IsEvent      bool
	EventTitle   *string
	EventDate    *string
	EventEndDate *string
	EventTime    *string
	EndTime      *string
	VenueName    *string
	VenueAddress *string
	Price        *float64
	PriceMin     *float64
	PriceMax     *float64
	IsFree       *bool
	SignupURL    *string
	Category     *string

	IsRecurring        bool
	RecurrencePattern  *string
	IsUpdate           bool
	UpdateType         *string
	AvailabilityStatus *string
	LocationStatus     *string

	Confidence float64
	Reasoning  string
}

// FieldValue returns the extraction's string value for a named field, or nil.
func (x *Extraction) FieldValue(name model.FieldName) *string {
	switch name {
	case model.FieldEventTitle:
		return x.EventTitle
	case model.FieldEventDate:
		return x.EventDate
	case model.FieldEventEndDate:
		return x.EventEndDate
	case model.FieldEventTime:
		return x.EventTime
	case model.FieldEndTime:
		return x.EndTime
	case model.FieldVenueName:
		return x.VenueName
	case model.FieldVenueAddress:
		return x.VenueAddress
	case model.FieldSignupURL:
		return x.SignupURL
	}
	return nil
}

// ParseExtraction parses and structurally validates a model response.
func ParseExtraction(text string) (*Extraction, error) {
	cleaned := cleanJSON(text)

	var raw map[string]any
	if err := json.Unmarshal([]byte(cleaned), &raw); err != nil {
		return nil, eris.Wrap(err, "extract: parse model response")
	}

	x := &Extraction{}
	x.IsEvent, _ = raw["isEvent"].(bool)
	x.EventTitle = asStringPtr(raw["eventTitle"])
	x.EventDate = asStringPtr(raw["eventDate"])
	x.EventEndDate = asStringPtr(raw["eventEndDate"])
	x.EventTime = asStringPtr(raw["eventTime"])
	x.EndTime = asStringPtr(raw["endTime"])
	x.VenueName = asStringPtr(raw["locationName"])
	if x.VenueName == nil {
		x.VenueName = asStringPtr(raw["venueName"])
	}
	x.VenueAddress = asStringPtr(raw["venueAddress"])
	x.Price = asFloatPtr(raw["price"])
	x.PriceMin = asFloatPtr(raw["priceMin"])
	x.PriceMax = asFloatPtr(raw["priceMax"])
	x.IsFree = asBoolPtr(raw["isFree"])
	x.SignupURL = asStringPtr(raw["signupUrl"])
	x.Category = asStringPtr(raw["category"])

	x.IsRecurring, _ = raw["isRecurring"].(bool)
	x.RecurrencePattern = asStringPtr(raw["recurrencePattern"])
	x.IsUpdate, _ = raw["isUpdate"].(bool)
	x.UpdateType = asStringPtr(raw["updateType"])
	x.AvailabilityStatus = asStringPtr(raw["availabilityStatus"])
	x.LocationStatus = asStringPtr(raw["locationStatus"])

	if conf, ok := toFloat64(raw["confidence"]); ok {
		x.Confidence = clamp01(conf)
	}
	if r, ok := raw["reasoning"].(string); ok {
		x.Reasoning = r
	}

	return x, nil
}

// cleanJSON extracts a JSON object from text that may contain markdown code
// fences or other wrapping.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```json") {
		text = strings.TrimPrefix(text, "```json")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	} else if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}

	return strings.TrimSpace(text)
}

// asStringPtr returns a pointer to a trimmed non-empty string value, else nil.
// JSON null, absent keys, and non-string values all come back nil.
func asStringPtr(v any) *string {
	s, ok := v.(string)
	if !ok {
		return nil
	}
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "null") {
		return nil
	}
	return &s
}

func asFloatPtr(v any) *float64 {
	f, ok := toFloat64(v)
	if !ok {
		return nil
	}
	return &f
}

func asBoolPtr(v any) *bool {
	b, ok := v.(bool)
	if !ok {
		return nil
	}
	return &b
}

func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
