package strategy

import (
	"context"

	"github.com/TobiSchelling/recbench/internal/ratings"
)

// Popularity scores an item by how many ratings it received in the
// training slice.
type Popularity struct {
	user   int64
	slice  *ratings.Table
	counts map[int64]int
	fitted bool
}

// NewPopularity creates a popularity baseline for user.
func NewPopularity(user int64) *Popularity {
	return &Popularity{user: user}
}

func (p *Popularity) Fit(_ context.Context, slice *ratings.Table) error {
	if p.fitted {
		return ErrAlreadyFitted
	}
	p.fitted = true
	if slice == nil {
		slice = ratings.New(nil)
	}
	p.slice = slice
	p.counts = slice.ItemCounts()
	return nil
}

func (p *Popularity) Predict(_ context.Context, k int, removeSeen bool) ([]Scored, error) {
	if !p.fitted {
		return nil, ErrNotFitted
	}
	return rank(p.slice, p.user, k, removeSeen, func(item int64) (float64, bool) {
		return float64(p.counts[item]), true
	}), nil
}

func (p *Popularity) Close() error {
	return nil
}
