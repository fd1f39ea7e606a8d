// Package backtest replays one user's history up to a cutoff, trains a
// strategy on what was known then, and scores its ranking against the
// ratings the user made afterwards.
package backtest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/TobiSchelling/recbench/internal/compute"
	"github.com/TobiSchelling/recbench/internal/geo"
	"github.com/TobiSchelling/recbench/internal/logger"
	"github.com/TobiSchelling/recbench/internal/metrics"
	"github.com/TobiSchelling/recbench/internal/ratings"
	"github.com/TobiSchelling/recbench/internal/strategy"
	"github.com/TobiSchelling/recbench/internal/telemetry"
)

// State is a step of a single backtest.
type State int

const (
	StateInit State = iota
	StateSplit
	StateRestrict
	StateTrain
	StatePredict
	StateScore
	StateDone
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateSplit:
		return "split"
	case StateRestrict:
		return "restrict"
	case StateTrain:
		return "train"
	case StatePredict:
		return "predict"
	case StateScore:
		return "score"
	case StateDone:
		return "done"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// ErrEmptyCandidates marks a backtest with nothing to recommend. It is a
// valid zero-score outcome, reported on Outcome rather than returned.
var ErrEmptyCandidates = errors.New("no candidate items at cutoff")

// InsufficientHistoryError is returned when a horizon exceeds the user's
// rating count.
type InsufficientHistoryError struct {
	User      int64
	Horizon   int
	Available int
}

func (e *InsufficientHistoryError) Error() string {
	return fmt.Sprintf("user %d: horizon %d exceeds %d available ratings", e.User, e.Horizon, e.Available)
}

// Config describes how every backtest of a run is performed.
type Config struct {
	Model      string
	K          int
	RemoveSeen bool
	Threshold  float64
}

// Backtester runs single (user, horizon) backtests against shared,
// read-only stores. It is safe for concurrent use.
type Backtester struct {
	table   *ratings.Table
	geo     *geo.Index
	factory strategy.Factory
	deps    strategy.Deps
	cfg     Config
	log     *logger.Logger
	metrics *telemetry.Metrics
}

// New creates a backtester. The factory is resolved from cfg.Model.
func New(table *ratings.Table, idx *geo.Index, cfg Config, params strategy.Params, session *compute.Session, log *logger.Logger, m *telemetry.Metrics) (*Backtester, error) {
	factory, err := strategy.Lookup(cfg.Model)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Backtester{
		table:   table,
		geo:     idx,
		factory: factory,
		deps:    strategy.Deps{Params: params, Session: session},
		cfg:     cfg,
		log:     log.With("model", cfg.Model),
		metrics: m,
	}, nil
}

// WithFactory replaces the strategy factory, keeping the model name.
func (b *Backtester) WithFactory(f strategy.Factory) *Backtester {
	c := *b
	c.factory = f
	return &c
}

// Outcome is the result of one backtest.
type Outcome struct {
	User            int64
	Horizon         int
	Cutoff          int64
	Candidates      int
	TrainingSize    int
	Predicted       []strategy.Scored
	Truth           []ratings.Event
	Scores          metrics.Scores
	FinalState      State
	EmptyCandidates bool
	CloseErr        error
}

// Run backtests user with the first horizon ratings as known history.
func (b *Backtester) Run(ctx context.Context, user int64, horizon int) (out *Outcome, err error) {
	start := time.Now()
	out = &Outcome{User: user, Horizon: horizon, FinalState: StateInit}
	defer func() {
		b.metrics.ObserveBacktest(b.cfg.Model, outcomeLabel(out, err), time.Since(start))
	}()

	// SPLIT
	out.FinalState = StateSplit
	history := b.table.RatingsFor(user)
	if horizon < 1 || horizon > len(history) {
		return out, &InsufficientHistoryError{User: user, Horizon: horizon, Available: len(history)}
	}
	out.Cutoff = history[horizon-1].Timestamp
	for _, e := range history {
		if e.Timestamp > out.Cutoff {
			out.Truth = append(out.Truth, e)
		}
	}

	// RESTRICT
	if err := ctx.Err(); err != nil {
		return out, fmt.Errorf("backtest user %d horizon %d: %w", user, horizon, err)
	}
	out.FinalState = StateRestrict
	candidates := b.geo.CandidateItems(user, out.Cutoff)
	out.Candidates = len(candidates)
	cutoff := out.Cutoff
	slice := b.table.Filter(func(e ratings.Event) bool {
		return e.Timestamp <= cutoff && candidates.Contains(e.Item)
	})
	out.TrainingSize = slice.Len()
	if len(candidates) == 0 || slice.Len() == 0 {
		b.log.Debug("empty candidate set", "user", user, "horizon", horizon, "cutoff", cutoff)
		out.EmptyCandidates = true
		out.Scores = b.score(user, nil, out.Truth)
		out.FinalState = StateDone
		return out, nil
	}

	// TRAIN
	s, err := b.factory(user, b.deps)
	if err != nil {
		return out, fmt.Errorf("creating strategy: %w", err)
	}
	defer func() {
		if cerr := s.Close(); cerr != nil {
			var re *strategy.ResourceError
			if !errors.As(cerr, &re) {
				cerr = &strategy.ResourceError{Strategy: b.cfg.Model, User: user, Err: cerr}
			}
			out.CloseErr = cerr
			b.metrics.StrategyCloseFailed(b.cfg.Model)
			b.log.Error("strategy resource leak", "user", user, "horizon", horizon, "error", cerr)
		}
	}()

	out.FinalState = StateTrain
	if err := s.Fit(ctx, slice); err != nil {
		return out, fmt.Errorf("fitting user %d horizon %d: %w", user, horizon, err)
	}

	// PREDICT
	if err := ctx.Err(); err != nil {
		return out, fmt.Errorf("backtest user %d horizon %d: %w", user, horizon, err)
	}
	out.FinalState = StatePredict
	out.Predicted, err = s.Predict(ctx, b.cfg.K, b.cfg.RemoveSeen)
	if err != nil {
		return out, fmt.Errorf("predicting user %d horizon %d: %w", user, horizon, err)
	}

	// SCORE
	out.FinalState = StateScore
	out.Scores = b.score(user, out.Predicted, out.Truth)
	out.FinalState = StateDone
	return out, nil
}

func (b *Backtester) score(user int64, predicted []strategy.Scored, truth []ratings.Event) metrics.Scores {
	judgments := make([]metrics.Judgment, len(truth))
	for i, e := range truth {
		judgments[i] = metrics.Judgment{Pair: metrics.Pair{User: e.User, Item: e.Item}, Rating: e.Rating}
	}
	pairs := make([]metrics.Pair, len(predicted))
	for i, p := range predicted {
		pairs[i] = metrics.Pair{User: user, Item: p.Item}
	}
	return metrics.EvaluateTopK(judgments, pairs, b.cfg.K, b.cfg.Threshold)
}

func outcomeLabel(out *Outcome, err error) string {
	var ih *InsufficientHistoryError
	switch {
	case err == nil && out.EmptyCandidates:
		return telemetry.OutcomeEmptyCandidates
	case err == nil:
		return telemetry.OutcomeScored
	case errors.As(err, &ih):
		return telemetry.OutcomeInsufficientHistory
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return telemetry.OutcomeCancelled
	}
	return telemetry.OutcomeFailed
}
