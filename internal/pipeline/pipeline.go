package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/gigmap/extract-cli/internal/config"
	"github.com/gigmap/extract-cli/internal/extract"
	"github.com/gigmap/extract-cli/internal/groundtruth"
	"github.com/gigmap/extract-cli/internal/model"
	"github.com/gigmap/extract-cli/internal/store"
	"github.com/gigmap/extract-cli/internal/validate"
	"github.com/gigmap/extract-cli/internal/venue"
)

const (
	accountVenueLimit = 5
	correctionLimit   = 3
)

// Pipeline runs the full per-post extraction flow: concurrent regex and
// model extraction, merge, venue canonicalization, validation, persistence,
// pattern counter updates, and ground-truth capture.
type Pipeline struct {
	store     store.Store
	regex     *extract.RegexExtractor
	llm       *extract.LLMExtractor
	validator *validate.Validator
	resolver  *venue.Resolver
	recorder  *groundtruth.Recorder
}

// New assembles a pipeline over an initialized store and extractors. The
// regex extractor carries a per-run pattern snapshot; build a new pipeline
// per batch run to pick up freshly synthesized patterns.
func New(st store.Store, regex *extract.RegexExtractor, llm *extract.LLMExtractor, cfg *config.Config) *Pipeline {
	fence := venue.NewGeofence(cfg.ServiceArea.Polygon)
	if cfg.ServiceArea.PolygonFile != "" {
		loaded, err := venue.LoadGeofence(cfg.ServiceArea.PolygonFile)
		if err != nil {
			zap.L().Warn("geofence file load failed, using inline polygon",
				zap.String("path", cfg.ServiceArea.PolygonFile),
				zap.Error(err),
			)
		} else {
			fence = loaded
		}
	}
	return &Pipeline{
		store:     st,
		regex:     regex,
		llm:       llm,
		validator: validate.New(cfg.Extraction, cfg.ServiceArea),
		resolver:  venue.NewResolver(st, time.Duration(cfg.Venues.CacheTTLMins)*time.Minute).WithGeofence(fence),
		recorder:  groundtruth.NewRecorder(st, cfg.Extraction.ReviewThreshold),
	}
}

// WithClock pins the validator's clock. Tests use this to evaluate posts
// against a fixed "today".
func (p *Pipeline) WithClock(now func() time.Time) *Pipeline {
	p.validator.WithClock(now)
	return p
}

// ProcessPost extracts, merges, validates, and persists one post. The
// returned candidate is the persisted record. A model failure fails the post;
// a ground-truth or counter update failure does not.
func (p *Pipeline) ProcessPost(ctx context.Context, post model.Post) (*model.EventCandidate, error) {
	mem, err := p.assembleMemory(ctx, post)
	if err != nil {
		return nil, err
	}

	var (
		regexCands []model.FieldCandidate
		llmResult  *extract.LLMResult
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		regexCands = p.regex.ExtractAll(post.Caption)
		return nil
	})
	g.Go(func() error {
		var lerr error
		llmResult, lerr = p.llm.Extract(gctx, post, mem)
		return lerr
	})
	if err := g.Wait(); err != nil {
		return nil, eris.Wrapf(err, "pipeline: extract post %s", post.ID)
	}

	ev, outcomes := extract.Merge(post, regexCands, llmResult)

	if err := p.resolver.Canonicalize(ctx, ev); err != nil {
		// Venue resolution failure degrades to review, it never blocks
		// persistence.
		zap.L().Warn("venue resolution failed", zap.String("post_id", post.ID), zap.Error(err))
		ev.NeedsReview = true
	}

	p.validator.Validate(ev, post)

	if err := p.store.SaveEvent(ctx, ev); err != nil {
		return nil, eris.Wrapf(err, "pipeline: save event for post %s", post.ID)
	}

	p.recordOutcomes(ctx, post.ID, outcomes)

	if captured, err := p.recorder.Capture(ctx, post, ev); err != nil {
		zap.L().Warn("ground truth capture failed", zap.String("post_id", post.ID), zap.Error(err))
	} else if captured > 0 {
		zap.L().Debug("ground truth captured",
			zap.String("post_id", post.ID),
			zap.Int("fields", captured),
		)
	}

	zap.L().Info("post processed",
		zap.String("post_id", post.ID),
		zap.Bool("is_event", ev.IsEvent),
		zap.Bool("needs_review", ev.NeedsReview),
		zap.String("method", string(ev.ExtractionMethod)),
		zap.Float64("confidence", ev.Confidence),
	)
	return ev, nil
}

// assembleMemory builds the contextual memory for the model prompt: known
// venues, this account's past venues, and recent corrections. Memory lookups
// are advisory; failures shrink the prompt instead of failing the post.
func (p *Pipeline) assembleMemory(ctx context.Context, post model.Post) (extract.Memory, error) {
	var mem extract.Memory

	known, err := p.store.ListKnownVenues(ctx)
	if err != nil {
		return mem, eris.Wrap(err, "pipeline: list known venues")
	}
	for _, v := range known {
		mem.KnownVenues = append(mem.KnownVenues, v.Name)
	}

	if post.OwnerUsername != "" {
		account, err := p.store.ListAccountVenues(ctx, post.OwnerUsername, accountVenueLimit)
		if err != nil {
			zap.L().Warn("account venue lookup failed",
				zap.String("owner", post.OwnerUsername),
				zap.Error(err),
			)
		} else {
			mem.AccountVenues = account
		}
	}

	for _, field := range []model.FieldName{model.FieldEventDate, model.FieldEventTime, model.FieldVenueName} {
		corrections, err := p.store.ListRecentCorrections(ctx, field, correctionLimit)
		if err != nil {
			zap.L().Warn("correction lookup failed", zap.String("field", string(field)), zap.Error(err))
			continue
		}
		for _, c := range corrections {
			mem.Corrections = append(mem.Corrections,
				fmt.Sprintf("%s: %q was corrected to %q", c.FieldName, c.OldValue, c.NewValue))
		}
	}
	return mem, nil
}

// recordOutcomes increments pattern success/failure counters from the merge.
// Counter updates are per-row and idempotent per run; a failed update is
// logged and skipped.
func (p *Pipeline) recordOutcomes(ctx context.Context, postID string, outcomes []extract.PatternOutcome) {
	for _, o := range outcomes {
		if err := p.store.IncrementPatternCounter(ctx, o.PatternID, o.Success); err != nil {
			zap.L().Warn("pattern counter update failed",
				zap.String("post_id", postID),
				zap.String("pattern_id", o.PatternID),
				zap.Error(err),
			)
		}
	}
}
