package strategy

import (
	"context"

	"github.com/TobiSchelling/recbench/internal/ratings"
)

// NaiveHybrid weights each training rating by its item's popularity and
// factorizes the reweighted slice with ALS.
type NaiveHybrid struct {
	als *ALS
}

// NewNaiveHybrid creates a naive hybrid strategy for user.
func NewNaiveHybrid(user int64, deps Deps) (*NaiveHybrid, error) {
	als, err := NewALS(user, deps)
	if err != nil {
		return nil, err
	}
	als.name = "nhba"
	return &NaiveHybrid{als: als}, nil
}

func (h *NaiveHybrid) Fit(ctx context.Context, slice *ratings.Table) error {
	if slice == nil {
		return h.als.Fit(ctx, nil)
	}
	return h.als.Fit(ctx, popularityWeighted(slice))
}

func (h *NaiveHybrid) Predict(ctx context.Context, k int, removeSeen bool) ([]Scored, error) {
	return h.als.Predict(ctx, k, removeSeen)
}

func (h *NaiveHybrid) Close() error {
	return h.als.Close()
}

func popularityWeighted(slice *ratings.Table) *ratings.Table {
	counts := slice.ItemCounts()
	events := slice.Events()
	for i := range events {
		events[i].Rating *= float64(counts[events[i].Item])
	}
	return ratings.New(events)
}

const secondsPerDay = 24 * 60 * 60

// TimeBiased is a naive hybrid trained only on ratings inside a trailing
// window of WindowDays whole days. Ratings after the anchor are outside the
// window.
//
// With AnchorUser the window ends at this user's latest rating in the slice,
// falling back to the slice's latest rating when the user has none. With
// AnchorGlobal it always ends at the slice's latest rating.
type TimeBiased struct {
	user   int64
	params Params
	inner  *NaiveHybrid

	seen   map[int64]struct{}
	fitted bool
}

// NewTimeBiased creates a time-biased hybrid strategy for user.
func NewTimeBiased(user int64, deps Deps) (*TimeBiased, error) {
	inner, err := NewNaiveHybrid(user, deps)
	if err != nil {
		return nil, err
	}
	inner.als.name = "tbh"
	return &TimeBiased{user: user, params: withDefaults(deps.Params), inner: inner}, nil
}

func (t *TimeBiased) Fit(ctx context.Context, slice *ratings.Table) error {
	if t.fitted {
		return ErrAlreadyFitted
	}
	t.fitted = true
	if slice == nil || slice.Len() == 0 {
		return t.inner.Fit(ctx, slice)
	}

	t.seen = make(map[int64]struct{})
	for _, e := range slice.RatingsFor(t.user) {
		t.seen[e.Item] = struct{}{}
	}

	anchor := t.anchor(slice)
	window := int64(t.params.WindowDays)
	windowed := slice.Filter(func(e ratings.Event) bool {
		age := anchor - e.Timestamp
		return age >= 0 && age/secondsPerDay <= window
	})
	return t.inner.Fit(ctx, windowed)
}

func (t *TimeBiased) anchor(slice *ratings.Table) int64 {
	if t.params.Anchor == AnchorUser {
		if own := slice.RatingsFor(t.user); len(own) > 0 {
			return own[len(own)-1].Timestamp
		}
	}
	return slice.LatestTimestamp()
}

// Predict removes items the user rated anywhere in the original slice, not
// only inside the window.
func (t *TimeBiased) Predict(ctx context.Context, k int, removeSeen bool) ([]Scored, error) {
	if !t.fitted {
		return nil, ErrNotFitted
	}
	if !removeSeen {
		return t.inner.Predict(ctx, k, false)
	}

	all, err := t.inner.Predict(ctx, 0, true)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, s := range all {
		if _, ok := t.seen[s.Item]; ok {
			continue
		}
		out = append(out, s)
	}
	return truncate(out, k), nil
}

func (t *TimeBiased) Close() error {
	return t.inner.Close()
}
