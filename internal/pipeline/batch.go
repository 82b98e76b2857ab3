package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/gigmap/extract-cli/internal/config"
	"github.com/gigmap/extract-cli/internal/model"
	"github.com/gigmap/extract-cli/internal/store"
)

// BatchReport aggregates one batch run.
type BatchReport struct {
	RunID           string `json:"run_id"`
	Windows         int    `json:"windows"`
	Processed       int    `json:"processed"`
	Succeeded       int    `json:"succeeded"`
	Failed          int    `json:"failed"`
	Skipped         int    `json:"skipped"`
	BudgetExhausted bool   `json:"budget_exhausted"`
}

// BatchDriver processes posts in fixed-size windows with bounded concurrency
// and an inter-window delay. Progress is checkpointed after every window so
// an interrupted run resumes idempotently, and a wall-clock budget makes the
// driver checkpoint and exit cleanly instead of being killed mid-window.
type BatchDriver struct {
	pipeline *Pipeline
	store    store.Store
	cfg      config.BatchConfig
	limiter  *rate.Limiter
	now      func() time.Time
}

func NewBatchDriver(p *Pipeline, st store.Store, cfg config.BatchConfig) *BatchDriver {
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = 25
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 5
	}
	var limiter *rate.Limiter
	if cfg.ModelCallsPerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.ModelCallsPerSec), 1)
	}
	return &BatchDriver{
		pipeline: p,
		store:    st,
		cfg:      cfg,
		limiter:  limiter,
		now:      time.Now,
	}
}

// WithClock overrides the driver's clock for deterministic tests.
func (d *BatchDriver) WithClock(now func() time.Time) *BatchDriver {
	d.now = now
	return d
}

// Run processes the given posts under the named run. Re-running with the
// same runID skips posts the checkpoint already covers. Per-post failures
// are counted, not fatal.
func (d *BatchDriver) Run(ctx context.Context, runID string, posts []model.Post) (*BatchReport, error) {
	cp, err := d.store.LoadCheckpoint(ctx, runID)
	if err != nil {
		return nil, eris.Wrapf(err, "batch: load checkpoint %s", runID)
	}
	if cp == nil {
		cp = &model.BatchCheckpoint{RunID: runID, LastWindow: -1}
	} else {
		zap.L().Info("resuming from checkpoint",
			zap.String("run_id", runID),
			zap.Int("last_window", cp.LastWindow),
			zap.Int("processed", len(cp.ProcessedPostIDs)),
		)
	}

	var deadline time.Time
	if d.cfg.Budget() > 0 {
		deadline = d.now().Add(d.cfg.Budget())
	}

	report := &BatchReport{RunID: runID}
	windows := chunkPosts(posts, d.cfg.WindowSize)

	for wi, window := range windows {
		if !deadline.IsZero() && d.now().After(deadline) {
			report.BudgetExhausted = true
			zap.L().Warn("wall-clock budget exhausted, exiting cleanly",
				zap.String("run_id", runID),
				zap.Int("window", wi),
			)
			break
		}
		if err := ctx.Err(); err != nil {
			return report, eris.Wrap(err, "batch: run cancelled")
		}

		d.runWindow(ctx, window, cp, report)
		report.Windows++

		cp.LastWindow = wi
		cp.UpdatedAt = d.now().UTC()
		if err := d.store.SaveCheckpoint(ctx, cp); err != nil {
			return report, eris.Wrapf(err, "batch: save checkpoint after window %d", wi)
		}

		if wi < len(windows)-1 && d.cfg.WindowDelay() > 0 {
			select {
			case <-ctx.Done():
				return report, eris.Wrap(ctx.Err(), "batch: run cancelled")
			case <-time.After(d.cfg.WindowDelay()):
			}
		}
	}

	zap.L().Info("batch run finished",
		zap.String("run_id", runID),
		zap.Int("windows", report.Windows),
		zap.Int("succeeded", report.Succeeded),
		zap.Int("failed", report.Failed),
		zap.Int("skipped", report.Skipped),
		zap.Bool("budget_exhausted", report.BudgetExhausted),
	)
	return report, nil
}

// runWindow processes one window with bounded concurrency. Each post's
// failure is isolated; the window always completes.
func (d *BatchDriver) runWindow(ctx context.Context, window []model.Post, cp *model.BatchCheckpoint, report *BatchReport) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.cfg.Concurrency)

	var succeeded, failed atomic.Int64
	var mu sync.Mutex
	var done []string

	for _, post := range window {
		if cp.Processed(post.ID) {
			report.Skipped++
			continue
		}
		report.Processed++
		g.Go(func() error {
			if d.limiter != nil {
				if err := d.limiter.Wait(gctx); err != nil {
					failed.Add(1)
					return nil
				}
			}
			if _, err := d.pipeline.ProcessPost(gctx, post); err != nil {
				zap.L().Error("post failed",
					zap.String("post_id", post.ID),
					zap.Error(err),
				)
				failed.Add(1)
				return nil
			}
			succeeded.Add(1)
			mu.Lock()
			done = append(done, post.ID)
			mu.Unlock()
			return nil
		})
	}
	// Goroutines never return errors; per-item failures are counted instead.
	_ = g.Wait()

	report.Succeeded += int(succeeded.Load())
	report.Failed += int(failed.Load())
	cp.ProcessedPostIDs = append(cp.ProcessedPostIDs, done...)
}

func chunkPosts(posts []model.Post, size int) [][]model.Post {
	var windows [][]model.Post
	for start := 0; start < len(posts); start += size {
		end := start + size
		if end > len(posts) {
			end = len(posts)
		}
		windows = append(windows, posts[start:end])
	}
	return windows
}
