package validate

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/gigmap/extract-cli/internal/config"
	"github.com/gigmap/extract-cli/internal/model"
)

// ReviewConfidenceThreshold is the overall-confidence floor below which a
// record is flagged for human review.
const ReviewConfidenceThreshold = 0.7

const dateLayout = "2006-01-02"

var (
	timeHHMM   = regexp.MustCompile(`^([01]?\d|2[0-3]):([0-5]\d)$`)
	timeHHMMSS = regexp.MustCompile(`^([01]?\d|2[0-3]):([0-5]\d):([0-5]\d)$`)

	trailingNoise = regexp.MustCompile(`[\s]*(#\S+|@\S+|[|•·]+.*)$`)

	placeholderVenues = []string{
		"tba", "tbd", "to be announced", "dm for location", "dm for details",
		"secret location", "venue tba", "location tba",
	}
)

// Validator enforces the data contracts on merged event candidates and
// computes the needs-review flag.
type Validator struct {
	reviewThreshold float64
	graceWindow     time.Duration
	rejectKeywords  []string
	now             func() time.Time
}

// New creates a Validator from config.
func New(extCfg config.ExtractionConfig, saCfg config.ServiceAreaConfig) *Validator {
	threshold := extCfg.ReviewThreshold
	if threshold <= 0 {
		threshold = ReviewConfidenceThreshold
	}
	grace := time.Duration(extCfg.HistoricalGraceH) * time.Hour
	if grace <= 0 {
		grace = 48 * time.Hour
	}
	keywords := make([]string, len(saCfg.RejectKeywords))
	for i, k := range saCfg.RejectKeywords {
		keywords[i] = strings.ToLower(k)
	}
	return &Validator{
		reviewThreshold: threshold,
		graceWindow:     grace,
		rejectKeywords:  keywords,
		now:             time.Now,
	}
}

// WithClock overrides the validator's clock for deterministic tests.
func (v *Validator) WithClock(now func() time.Time) *Validator {
	v.now = now
	return v
}

// Validate normalizes the candidate in place, in contract order: dates,
// times, price/free consistency, venue cleanup, service-area check,
// historical-post detection, and finally the review flag.
func (v *Validator) Validate(ev *model.EventCandidate, post model.Post) {
	today := v.now().UTC().Truncate(24 * time.Hour)

	v.normalizeDates(ev, today)
	ev.EventTime = normalizeTime(ev.EventTime)
	ev.EndTime = normalizeTime(ev.EndTime)
	normalizePricing(ev)
	ev.VenueName = cleanVenueName(ev.VenueName)
	v.checkServiceArea(ev, post.Caption)
	v.checkHistorical(ev, post.Timestamp, today)

	ev.NeedsReview = ev.IsEvent &&
		(ev.EventDate == nil || ev.EventTime == nil || ev.VenueName == nil ||
			ev.Confidence < v.reviewThreshold)
}

// normalizeDates drops malformed dates and rejects events whose start is in
// the past unless a multi-day or recurring signal keeps the end in the
// future.
func (v *Validator) normalizeDates(ev *model.EventCandidate, today time.Time) {
	start := parseDate(ev.EventDate)
	if ev.EventDate != nil && start == nil {
		ev.EventDate = nil
	}
	end := parseDate(ev.EventEndDate)
	if ev.EventEndDate != nil && end == nil {
		ev.EventEndDate = nil
	}

	if start == nil {
		// A post with no resolvable date is not an actionable event.
		ev.IsEvent = false
		return
	}

	if start.Before(today) {
		stillRunning := end != nil && !end.Before(today)
		if !(stillRunning || ev.IsRecurring) {
			ev.EventDate = nil
			ev.EventEndDate = nil
			ev.IsEvent = false
		}
	}
}

// normalizeTime coerces HH:MM to HH:MM:SS and nulls anything else invalid.
func normalizeTime(t *string) *string {
	if t == nil {
		return nil
	}
	s := strings.TrimSpace(*t)
	if timeHHMMSS.MatchString(s) {
		return model.StrPtr(pad2(s))
	}
	if timeHHMM.MatchString(s) {
		return model.StrPtr(pad2(s) + ":00")
	}
	return nil
}

// pad2 left-pads a single-digit hour ("7:00" → "07:00").
func pad2(s string) string {
	if idx := strings.Index(s, ":"); idx == 1 {
		return "0" + s
	}
	return s
}

// normalizePricing resolves free/price contradictions:
// price>0 forces isFree=false; isFree=true forces price=null; isFree=false
// with no price becomes unknown; price=0 is represented as free.
func normalizePricing(ev *model.EventCandidate) {
	if ev.Price != nil && *ev.Price == 0 {
		ev.Price = nil
		ev.IsFree = model.BoolPtr(true)
	}
	if ev.Price != nil && *ev.Price > 0 {
		ev.IsFree = model.BoolPtr(false)
	}
	if ev.IsFree != nil && *ev.IsFree {
		ev.Price = nil
		ev.PriceMin = nil
		ev.PriceMax = nil
	}
	if ev.IsFree != nil && !*ev.IsFree && ev.Price == nil && ev.PriceMin == nil {
		ev.IsFree = nil
	}
}

// cleanVenueName strips trailing hashtag/mention/sponsor noise and rejects
// placeholder venues. An @-handle is never accepted as a venue name.
func cleanVenueName(name *string) *string {
	if name == nil {
		return nil
	}
	s := strings.TrimSpace(*name)
	for {
		cleaned := strings.TrimSpace(trailingNoise.ReplaceAllString(s, ""))
		if cleaned == s {
			break
		}
		s = cleaned
	}
	if s == "" || strings.HasPrefix(s, "@") {
		return nil
	}
	lower := strings.ToLower(s)
	for _, p := range placeholderVenues {
		if lower == p {
			return nil
		}
	}
	return &s
}

// checkServiceArea scans caption and venue fields for configured
// out-of-service-area keywords. A hit disqualifies the event.
func (v *Validator) checkServiceArea(ev *model.EventCandidate, caption string) {
	haystack := strings.ToLower(caption)
	if ev.VenueName != nil {
		haystack += " " + strings.ToLower(*ev.VenueName)
	}
	if ev.VenueAddress != nil {
		haystack += " " + strings.ToLower(*ev.VenueAddress)
	}
	for _, kw := range v.rejectKeywords {
		if kw != "" && strings.Contains(haystack, kw) {
			ev.OutsideServiceArea = true
			ev.IsEvent = false
			appendReasoning(ev, fmt.Sprintf("disqualified: outside service area (matched %q)", kw))
			return
		}
	}
}

// checkHistorical disqualifies events whose effective end precedes both today
// and the post's own timestamp by more than the grace window. The decision is
// annotated, never silent.
func (v *Validator) checkHistorical(ev *model.EventCandidate, postedAt time.Time, today time.Time) {
	if !ev.IsEvent {
		return
	}
	end := parseDate(ev.EventEndDate)
	if end == nil {
		end = parseDate(ev.EventDate)
	}
	if end == nil {
		return
	}
	// End of the event's last day.
	endOfDay := end.Add(24 * time.Hour)
	cutoffToday := today.Add(-v.graceWindow)
	cutoffPost := postedAt.UTC().Add(-v.graceWindow)
	if endOfDay.Before(cutoffToday) && endOfDay.Before(cutoffPost) {
		ev.IsEvent = false
		appendReasoning(ev, "disqualified: event ended before the post was made (historical post)")
		zap.L().Debug("historical post detected",
			zap.String("post_id", ev.PostID),
			zap.Time("event_end", endOfDay),
		)
	}
}

func parseDate(s *string) *time.Time {
	if s == nil {
		return nil
	}
	t, err := time.Parse(dateLayout, strings.TrimSpace(*s))
	if err != nil {
		return nil
	}
	return &t
}

func appendReasoning(ev *model.EventCandidate, note string) {
	if ev.Reasoning == "" {
		ev.Reasoning = note
		return
	}
	ev.Reasoning += "; " + note
}
