package recommend

import (
	"context"
	"errors"
	"testing"

	"github.com/TobiSchelling/recbench/internal/dataset"
	"github.com/TobiSchelling/recbench/internal/geo"
	"github.com/TobiSchelling/recbench/internal/ratings"
	"github.com/TobiSchelling/recbench/internal/strategy"
)

func fixture(latestOnly bool) (*dataset.Dataset, *geo.Index) {
	data := &dataset.Dataset{
		Ratings: ratings.New([]ratings.Event{
			{User: 1, Item: 1, Rating: 5, Timestamp: 10},
			{User: 1, Item: 3, Rating: 4, Timestamp: 20},
			{User: 2, Item: 2, Rating: 4, Timestamp: 5},
			{User: 3, Item: 2, Rating: 4, Timestamp: 6},
			{User: 2, Item: 4, Rating: 4, Timestamp: 7},
			{User: 3, Item: 4, Rating: 4, Timestamp: 8},
			{User: 4, Item: 4, Rating: 4, Timestamp: 9},
		}),
		ItemCities: map[int64]string{1: "berlin", 2: "berlin", 3: "paris", 4: "paris"},
		LegacyIDs:  map[string]int64{"b-two": 2, "p-four": 4, "p-four-old": 4},
	}
	idx := geo.Build(data.Ratings, data.ItemCities, geo.Options{LatestOnly: latestOnly, LatestLimiter: 1})
	return data, idx
}

func TestRecommendLatestCity(t *testing.T) {
	data, idx := fixture(true)
	r, err := New(data, idx, Config{Model: strategy.ModelBaseline, K: 10, RemoveSeen: true}, strategy.DefaultParams(), nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, err := r.Recommend(context.Background(), 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Latest rating is in paris: only item 4 is a new paris item.
	if len(got) != 1 || got[0].Item != 4 {
		t.Fatalf("expected [4], got %+v", got)
	}
	if len(got[0].LegacyIDs) != 2 || got[0].LegacyIDs[0] != "p-four" || got[0].LegacyIDs[1] != "p-four-old" {
		t.Errorf("expected sorted legacy ids, got %v", got[0].LegacyIDs)
	}
}

func TestRecommendAllCities(t *testing.T) {
	data, idx := fixture(false)
	r, _ := New(data, idx, Config{Model: strategy.ModelBaseline, K: 10, RemoveSeen: true}, strategy.Params{}, nil, nil)
	got, err := r.Recommend(context.Background(), 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Item 4 has three ratings, item 2 two.
	if len(got) != 2 || got[0].Item != 4 || got[1].Item != 2 {
		t.Fatalf("expected [4 2], got %+v", got)
	}
	if got[1].LegacyIDs[0] != "b-two" {
		t.Errorf("unexpected legacy ids %v", got[1].LegacyIDs)
	}
}

func TestRecommendNoHistory(t *testing.T) {
	data, idx := fixture(true)
	r, _ := New(data, idx, Config{Model: strategy.ModelALS, K: 5}, strategy.DefaultParams(), nil, nil)
	if _, err := r.Recommend(context.Background(), 42); !errors.Is(err, ErrNoHistory) {
		t.Errorf("expected ErrNoHistory, got %v", err)
	}
}

func TestNewUnknownModel(t *testing.T) {
	data, idx := fixture(true)
	if _, err := New(data, idx, Config{Model: "random"}, strategy.Params{}, nil, nil); err == nil {
		t.Error("expected error for unknown model")
	}
}
