// Package recommend produces live recommendations for one user from their
// whole history, translated back to the ingestion pipeline's item ids.
package recommend

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/TobiSchelling/recbench/internal/compute"
	"github.com/TobiSchelling/recbench/internal/dataset"
	"github.com/TobiSchelling/recbench/internal/geo"
	"github.com/TobiSchelling/recbench/internal/logger"
	"github.com/TobiSchelling/recbench/internal/ratings"
	"github.com/TobiSchelling/recbench/internal/strategy"
)

// ErrNoHistory is returned for users without any ratings.
var ErrNoHistory = errors.New("user has no ratings")

// Recommendation is one ranked item.
type Recommendation struct {
	Item      int64
	LegacyIDs []string
	Score     float64
}

// Config selects the model and list length.
type Config struct {
	Model      string
	K          int
	RemoveSeen bool
}

// Recommender trains a fresh model per request.
type Recommender struct {
	table   *ratings.Table
	index   *geo.Index
	legacy  map[int64][]string
	factory strategy.Factory
	deps    strategy.Deps
	cfg     Config
	log     *logger.Logger
}

// New creates a recommender over a loaded dataset.
func New(data *dataset.Dataset, index *geo.Index, cfg Config, params strategy.Params, session *compute.Session, log *logger.Logger) (*Recommender, error) {
	factory, err := strategy.Lookup(cfg.Model)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Recommender{
		table:   data.Ratings,
		index:   index,
		legacy:  dataset.InvertLegacyIDs(data.LegacyIDs),
		factory: factory,
		deps:    strategy.Deps{Params: params, Session: session},
		cfg:     cfg,
		log:     log.With("model", cfg.Model),
	}, nil
}

// Recommend ranks items in the cities the user is currently in, training
// on every rating of those cities.
func (r *Recommender) Recommend(ctx context.Context, user int64) ([]Recommendation, error) {
	if r.table.Count(user) == 0 {
		return nil, fmt.Errorf("user %d: %w", user, ErrNoHistory)
	}
	candidates := r.index.CandidateItems(user, math.MaxInt64)
	slice := r.table.Filter(func(e ratings.Event) bool { return candidates.Contains(e.Item) })
	r.log.Debug("training live model", "user", user, "candidates", len(candidates), "ratings", slice.Len())

	s, err := r.factory(user, r.deps)
	if err != nil {
		return nil, fmt.Errorf("creating strategy: %w", err)
	}
	defer func() {
		if err := s.Close(); err != nil {
			r.log.Error("strategy resource leak", "user", user, "error", err)
		}
	}()

	if err := s.Fit(ctx, slice); err != nil {
		return nil, fmt.Errorf("fitting user %d: %w", user, err)
	}
	ranked, err := s.Predict(ctx, r.cfg.K, r.cfg.RemoveSeen)
	if err != nil {
		return nil, fmt.Errorf("predicting user %d: %w", user, err)
	}

	out := make([]Recommendation, len(ranked))
	for i, sc := range ranked {
		out[i] = Recommendation{Item: sc.Item, LegacyIDs: r.legacy[sc.Item], Score: sc.Score}
	}
	return out, nil
}
