// Package evaluate runs the per-user backtester over a population of users
// and a sweep of horizons, keeping each user's best horizon.
package evaluate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/TobiSchelling/recbench/internal/backtest"
	"github.com/TobiSchelling/recbench/internal/logger"
	"github.com/TobiSchelling/recbench/internal/metrics"
	"github.com/TobiSchelling/recbench/internal/ratings"
	"github.com/TobiSchelling/recbench/internal/telemetry"
)

// Config describes one evaluation pass.
type Config struct {
	Model string

	// Horizons are absolute rating counts, or fractions of each user's
	// total rating count when RatioHorizons is set.
	Horizons      []float64
	RatioHorizons bool

	Workers int
	// Timeout bounds a single backtest. Zero means no limit.
	Timeout time.Duration
}

// ResolveHorizons turns the configured horizons into rating counts for a
// user with total ratings. Ratios are truncated.
func (c Config) ResolveHorizons(total int) []int {
	out := make([]int, len(c.Horizons))
	for i, h := range c.Horizons {
		if c.RatioHorizons {
			out[i] = int(h * float64(total))
		} else {
			out[i] = int(h)
		}
	}
	return out
}

// Record is the best-horizon result for one user.
type Record struct {
	User         int64
	TotalRatings int
	BestHorizon  int
	BestAPK      float64
	BestPK       float64
	BestRK       float64
	// Skipped is set when no horizon produced an eligible backtest.
	Skipped bool
	// Failures counts backtests that errored or timed out.
	Failures int
}

// Sink receives records as users finish.
type Sink interface {
	Write(model string, rec Record) error
}

// Summary is the outcome of one evaluation pass.
type Summary struct {
	Model     string
	Records   []Record
	MeanAPK   float64
	Attempted int
	Skipped   int
	Failures  int
	Elapsed   time.Duration
}

// Evaluator drives backtests for one model.
type Evaluator struct {
	bt      *backtest.Backtester
	table   *ratings.Table
	cfg     Config
	log     *logger.Logger
	metrics *telemetry.Metrics
}

// New creates an evaluator on top of a backtester for cfg.Model.
func New(bt *backtest.Backtester, table *ratings.Table, cfg Config, log *logger.Logger, m *telemetry.Metrics) *Evaluator {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Evaluator{bt: bt, table: table, cfg: cfg, log: log.With("model", cfg.Model), metrics: m}
}

// EvaluateUser backtests every horizon for user and picks the one with the
// highest average precision.
func (e *Evaluator) EvaluateUser(ctx context.Context, user int64) Record {
	total := e.table.Count(user)
	horizons := e.cfg.ResolveHorizons(total)
	rec := Record{User: user, TotalRatings: total}

	ap := make([]float64, len(horizons))
	pk := make([]float64, len(horizons))
	rk := make([]float64, len(horizons))
	eligible := make([]bool, len(horizons))

	for i, h := range horizons {
		out, err := e.runOne(ctx, user, h)
		var ih *backtest.InsufficientHistoryError
		switch {
		case errors.As(err, &ih):
			e.log.Debug("horizon excluded", "user", user, "horizon", h, "available", ih.Available)
			continue
		case err != nil:
			rec.Failures++
			e.log.Warn("backtest failed", "user", user, "horizon", h, "error", err)
		default:
			ap[i] = out.Scores.AveragePrecisionAtK
			pk[i] = out.Scores.PrecisionAtK
			rk[i] = out.Scores.RecallAtK
		}
		eligible[i] = true
	}

	best, ok := SelectBest(ap, eligible)
	if !ok {
		rec.Skipped = true
		return rec
	}
	rec.BestHorizon = horizons[best]
	rec.BestAPK = ap[best]
	rec.BestPK = pk[best]
	rec.BestRK = rk[best]
	return rec
}

func (e *Evaluator) runOne(ctx context.Context, user int64, horizon int) (*backtest.Outcome, error) {
	if e.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.Timeout)
		defer cancel()
	}
	return e.bt.Run(ctx, user, horizon)
}

// SelectBest returns the index of the highest ap among eligible entries.
// Ties go to the lowest index. ok is false when nothing is eligible.
func SelectBest(ap []float64, eligible []bool) (int, bool) {
	best := -1
	for i, v := range ap {
		if i >= len(eligible) || !eligible[i] {
			continue
		}
		if best < 0 || v > ap[best] {
			best = i
		}
	}
	return best, best >= 0
}

// Run evaluates users on a bounded worker pool. Records are handed to sink
// one at a time; Summary.Records keeps the order of users.
func (e *Evaluator) Run(ctx context.Context, users []int64, sink Sink) (*Summary, error) {
	start := time.Now()
	records := make([]Record, len(users))

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Workers)

	for i, user := range users {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			rec := e.EvaluateUser(gctx, user)
			records[i] = rec
			e.metrics.UserEvaluated(e.cfg.Model)
			if sink == nil {
				return nil
			}
			mu.Lock()
			defer mu.Unlock()
			if err := sink.Write(e.cfg.Model, rec); err != nil {
				return fmt.Errorf("writing record for user %d: %w", user, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("evaluation of %s interrupted: %w", e.cfg.Model, err)
	}

	s := &Summary{Model: e.cfg.Model, Records: records, Attempted: len(users), Elapsed: time.Since(start)}
	best := make([]float64, len(records))
	for i, r := range records {
		best[i] = r.BestAPK
		if r.Skipped {
			s.Skipped++
		}
		s.Failures += r.Failures
	}
	s.MeanAPK = metrics.Mean(best)
	e.metrics.SetMeanAPK(e.cfg.Model, s.MeanAPK)
	e.log.Info("evaluation finished",
		"users", s.Attempted,
		"skipped", s.Skipped,
		"failures", s.Failures,
		"mean_apk", s.MeanAPK,
		"elapsed", s.Elapsed.Round(time.Millisecond))
	return s, nil
}
