package groundtruth

import (
	"context"
	"strconv"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/gigmap/extract-cli/internal/model"
	"github.com/gigmap/extract-cli/internal/validate"
)

// capturedFields are the fields worth training pattern synthesis on.
var capturedFields = []model.FieldName{
	model.FieldEventDate,
	model.FieldEventEndDate,
	model.FieldEventTime,
	model.FieldEndTime,
	model.FieldVenueName,
	model.FieldPrice,
	model.FieldSignupURL,
}

// CaptionSource resolves a post's caption by ID, used by the backfill pass.
type CaptionSource interface {
	Caption(ctx context.Context, postID string) (string, error)
}

// RecorderStore is the slice of the persistence layer the recorder touches.
type RecorderStore interface {
	CreateGroundTruth(ctx context.Context, rec *model.GroundTruthRecord) error
	ListGroundTruthMissingText(ctx context.Context, limit int) ([]model.GroundTruthRecord, error)
	BackfillOriginalText(ctx context.Context, id string, originalText string) error
}

// Recorder captures ground-truth rows for confidently extracted fields and
// repairs rows whose source snippet was never located.
type Recorder struct {
	store     RecorderStore
	locator   *Locator
	threshold float64
}

func NewRecorder(st RecorderStore, threshold float64) *Recorder {
	if threshold <= 0 {
		threshold = validate.ReviewConfidenceThreshold
	}
	return &Recorder{store: st, locator: NewLocator(), threshold: threshold}
}

// Capture stores one ground-truth record per qualifying field of the
// candidate. Records are create-once; re-running over the same post is a
// no-op. Snippet location failures are tolerated, the row is stored with a
// null original text for the backfill pass to retry.
func (r *Recorder) Capture(ctx context.Context, post model.Post, ev *model.EventCandidate) (int, error) {
	if !ev.IsEvent || ev.Confidence < r.threshold {
		return 0, nil
	}
	created := 0
	for _, field := range capturedFields {
		value := fieldValue(ev, field)
		if value == "" {
			continue
		}
		rec := &model.GroundTruthRecord{
			PostID:           post.ID,
			FieldName:        field,
			GroundTruthValue: value,
			OriginalText:     r.locator.Locate(post.Caption, field, value),
			Source:           string(ev.ExtractionMethod),
		}
		if err := r.store.CreateGroundTruth(ctx, rec); err != nil {
			return created, eris.Wrapf(err, "groundtruth: capture %s for post %s", field, post.ID)
		}
		created++
	}
	return created, nil
}

// Backfill retries snippet location for records stored without an original
// text. It never rewrites a populated snippet and returns how many rows were
// repaired.
func (r *Recorder) Backfill(ctx context.Context, captions CaptionSource, limit int) (int, error) {
	records, err := r.store.ListGroundTruthMissingText(ctx, limit)
	if err != nil {
		return 0, eris.Wrap(err, "groundtruth: list records missing text")
	}
	repaired := 0
	for _, rec := range records {
		caption, err := captions.Caption(ctx, rec.PostID)
		if err != nil {
			zap.L().Warn("backfill caption lookup failed",
				zap.String("post_id", rec.PostID),
				zap.Error(err),
			)
			continue
		}
		snippet := r.locator.Locate(caption, rec.FieldName, rec.GroundTruthValue)
		if snippet == nil {
			continue
		}
		if err := r.store.BackfillOriginalText(ctx, rec.ID, *snippet); err != nil {
			return repaired, eris.Wrapf(err, "groundtruth: backfill record %s", rec.ID)
		}
		repaired++
	}
	return repaired, nil
}

// fieldValue renders a candidate field as the normalized string stored in
// ground truth. Empty means the field is absent.
func fieldValue(ev *model.EventCandidate, field model.FieldName) string {
	switch field {
	case model.FieldEventDate:
		return deref(ev.EventDate)
	case model.FieldEventEndDate:
		return deref(ev.EventEndDate)
	case model.FieldEventTime:
		return deref(ev.EventTime)
	case model.FieldEndTime:
		return deref(ev.EndTime)
	case model.FieldVenueName:
		return deref(ev.VenueName)
	case model.FieldVenueAddress:
		return deref(ev.VenueAddress)
	case model.FieldSignupURL:
		return deref(ev.SignupURL)
	case model.FieldPrice:
		if ev.Price == nil {
			return ""
		}
		return strconv.FormatFloat(*ev.Price, 'f', -1, 64)
	case model.FieldEventTitle:
		return deref(ev.EventTitle)
	default:
		return ""
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
