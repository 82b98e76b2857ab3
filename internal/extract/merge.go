package extract

import (
	"strconv"
	"strings"

	"github.com/gigmap/extract-cli/internal/model"
)

// PatternOutcome reports whether a pattern's candidate agreed with the merged
// value. The pipeline turns these into atomic counter increments.
type PatternOutcome struct {
	PatternID string
	Success   bool
}

// mergedFields is the set of string-valued fields the merger resolves.
var mergedFields = []model.FieldName{
	model.FieldEventTitle,
	model.FieldEventDate,
	model.FieldEventEndDate,
	model.FieldEventTime,
	model.FieldEndTime,
	model.FieldVenueName,
	model.FieldVenueAddress,
	model.FieldSignupURL,
}

// Merge combines the deterministic and model candidate sets into one
// field-resolved record.
//
// Policy: when both paths produce a value the model wins — on agreement the
// model's phrasing is kept as canonical and the pattern is credited, on
// disagreement the pattern is debited. The deterministic path is a cheap
// confirmation, not an authority. Absent values stay nil, never defaulted.
//
// Merge is a pure function: the same inputs always yield the same candidate.
func Merge(post model.Post, regexCands []model.FieldCandidate, llm *LLMResult) (*model.EventCandidate, []PatternOutcome) {
	ev := &model.EventCandidate{
		PostID:            post.ID,
		Owner:             post.OwnerUsername,
		ExtractionMethod:  model.MethodRegex,
		PatternProvenance: make(map[model.FieldName]string),
	}

	var x *Extraction
	if llm != nil && llm.Extraction != nil {
		x = llm.Extraction
		ev.ExtractionMethod = llm.Method
		ev.IsEvent = x.IsEvent
		ev.Confidence = x.Confidence
		ev.Reasoning = x.Reasoning
		ev.Category = x.Category
		ev.PriceMin = x.PriceMin
		ev.PriceMax = x.PriceMax
		ev.IsFree = x.IsFree
		ev.IsRecurring = x.IsRecurring
		ev.RecurrencePattern = x.RecurrencePattern
		ev.IsUpdate = x.IsUpdate
		ev.UpdateType = x.UpdateType
		ev.AvailabilityStatus = x.AvailabilityStatus
		ev.LocationStatus = x.LocationStatus
	}

	byField := make(map[model.FieldName][]model.FieldCandidate)
	for _, c := range regexCands {
		byField[c.FieldName] = append(byField[c.FieldName], c)
	}

	var outcomes []PatternOutcome

	for _, f := range mergedFields {
		best, ok := pickBest(byField[f])

		var modelVal *string
		if x != nil {
			modelVal = x.FieldValue(f)
		}

		switch {
		case modelVal == nil && !ok:
			// Missing stays missing.
		case modelVal == nil && ok:
			setField(ev, f, model.StrPtr(best.Value))
			ev.PatternProvenance[f] = best.SourcePatternID
		case modelVal != nil && !ok:
			setField(ev, f, modelVal)
		default:
			// Both produced values: the model's phrasing is canonical.
			setField(ev, f, modelVal)
			agreed := NormalizedContains(*modelVal, best.Value)
			outcomes = append(outcomes, PatternOutcome{PatternID: best.SourcePatternID, Success: agreed})
			if agreed {
				ev.PatternProvenance[f] = best.SourcePatternID
			}
		}
	}

	// Price is numeric: the regex path yields a string token, the model a
	// number. Same precedence rules.
	priceCand, hasPriceCand := pickBest(byField[model.FieldPrice])
	var regexPrice *float64
	if hasPriceCand {
		regexPrice = parsePriceToken(priceCand.Value)
	}
	switch {
	case x != nil && x.Price != nil:
		ev.Price = x.Price
		if regexPrice != nil {
			agreed := *regexPrice == *x.Price
			outcomes = append(outcomes, PatternOutcome{PatternID: priceCand.SourcePatternID, Success: agreed})
			if agreed {
				ev.PatternProvenance[model.FieldPrice] = priceCand.SourcePatternID
			}
		}
	case regexPrice != nil:
		ev.Price = regexPrice
		ev.PatternProvenance[model.FieldPrice] = priceCand.SourcePatternID
	}

	if x == nil {
		// Regex-only merges have no self-reported confidence; use the mean of
		// the contributing patterns' running confidence.
		ev.Confidence = meanProvenanceConfidence(ev.PatternProvenance, byField)
		ev.IsEvent = ev.EventDate != nil
	}

	return ev, outcomes
}

// pickBest deterministically selects among multiple matching patterns:
// highest running confidence, then lowest priority number, then pattern ID.
func pickBest(cands []model.FieldCandidate) (model.FieldCandidate, bool) {
	if len(cands) == 0 {
		return model.FieldCandidate{}, false
	}
	best := cands[0]
	for _, c := range cands[1:] {
		switch {
		case c.Confidence != best.Confidence:
			if c.Confidence > best.Confidence {
				best = c
			}
		case c.Priority != best.Priority:
			if c.Priority < best.Priority {
				best = c
			}
		case c.SourcePatternID < best.SourcePatternID:
			best = c
		}
	}
	return best, true
}

func setField(ev *model.EventCandidate, f model.FieldName, v *string) {
	switch f {
	case model.FieldEventTitle:
		ev.EventTitle = v
	case model.FieldEventDate:
		ev.EventDate = v
	case model.FieldEventEndDate:
		ev.EventEndDate = v
	case model.FieldEventTime:
		ev.EventTime = v
	case model.FieldEndTime:
		ev.EndTime = v
	case model.FieldVenueName:
		ev.VenueName = v
	case model.FieldVenueAddress:
		ev.VenueAddress = v
	case model.FieldSignupURL:
		ev.SignupURL = v
	}
}

// parsePriceToken extracts a numeric price from a matched token like
// "₱500", "P500", "500.00", "1,500".
func parsePriceToken(s string) *float64 {
	cleaned := strings.Map(func(r rune) rune {
		if (r >= '0' && r <= '9') || r == '.' {
			return r
		}
		return -1
	}, s)
	if cleaned == "" {
		return nil
	}
	f, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return nil
	}
	return &f
}

func meanProvenanceConfidence(prov map[model.FieldName]string, byField map[model.FieldName][]model.FieldCandidate) float64 {
	var sum float64
	var n int
	for f, id := range prov {
		for _, c := range byField[f] {
			if c.SourcePatternID == id {
				sum += c.Confidence
				n++
				break
			}
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}
