// Package strategy defines the ranking model contract used by the backtester
// and its concrete implementations.
package strategy

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/TobiSchelling/recbench/internal/compute"
	"github.com/TobiSchelling/recbench/internal/ratings"
)

// Strategy is a ranking model scoped to a single user for its whole lifetime.
//
// Fit must be called exactly once before Predict. Close releases any
// resources the strategy holds; it is idempotent and must be called once the
// strategy is no longer needed, including after a failed Fit or Predict.
type Strategy interface {
	Fit(ctx context.Context, slice *ratings.Table) error
	// Predict ranks candidate items by descending score. k <= 0 returns the
	// full ranking. With removeSeen, items the user rated in the training
	// slice are excluded before ranking.
	Predict(ctx context.Context, k int, removeSeen bool) ([]Scored, error)
	Close() error
}

// Scored is a ranked item.
type Scored struct {
	Item  int64
	Score float64
}

var (
	ErrNotFitted     = errors.New("strategy: predict called before fit")
	ErrAlreadyFitted = errors.New("strategy: fit called twice")
)

// UnknownModelError is returned for a model name outside the registry.
type UnknownModelError struct {
	Name  string
	Known []string
}

func (e *UnknownModelError) Error() string {
	return fmt.Sprintf("unknown model %q (known: %s)", e.Name, strings.Join(e.Known, ", "))
}

// ResourceError reports a strategy that failed to release its resources.
type ResourceError struct {
	Strategy string
	User     int64
	Err      error
}

func (e *ResourceError) Error() string {
	return fmt.Sprintf("strategy %s for user %d: releasing resources: %v", e.Strategy, e.User, e.Err)
}

func (e *ResourceError) Unwrap() error {
	return e.Err
}

// Anchor selects the timestamp the time-biased window is measured from.
type Anchor string

const (
	AnchorUser   Anchor = "user"
	AnchorGlobal Anchor = "global"
)

// Params configures the concrete strategies.
type Params struct {
	Seed        uint64  `yaml:"seed"`
	Rank        int     `yaml:"rank"`
	Iterations  int     `yaml:"iterations"`
	RegParam    float64 `yaml:"reg_param"`
	Nonnegative bool    `yaml:"nonnegative"`
	WindowDays  int     `yaml:"window_days"`
	Anchor      Anchor  `yaml:"anchor"`
}

// DefaultParams returns the parameters used when none are configured.
func DefaultParams() Params {
	return Params{
		Seed:        42,
		Rank:        10,
		Iterations:  10,
		RegParam:    0.001,
		Nonnegative: true,
		WindowDays:  7,
		Anchor:      AnchorUser,
	}
}

// Deps carries what a factory needs besides the user id.
type Deps struct {
	Params  Params
	Session *compute.Session
}

// rank builds the ranked list for user from the distinct items of slice,
// dropping items score rejects and, with removeSeen, items the user rated.
func rank(slice *ratings.Table, user int64, k int, removeSeen bool, score func(item int64) (float64, bool)) []Scored {
	if slice == nil || slice.Len() == 0 {
		return nil
	}

	seen := make(map[int64]struct{})
	if removeSeen {
		for _, e := range slice.RatingsFor(user) {
			seen[e.Item] = struct{}{}
		}
	}

	var out []Scored
	for _, item := range slice.Items() {
		if _, ok := seen[item]; ok {
			continue
		}
		s, ok := score(item)
		if !ok {
			continue
		}
		out = append(out, Scored{Item: item, Score: s})
	}
	sortScored(out)
	return truncate(out, k)
}

func sortScored(s []Scored) {
	sort.SliceStable(s, func(i, j int) bool {
		if s[i].Score != s[j].Score {
			return s[i].Score > s[j].Score
		}
		return s[i].Item < s[j].Item
	})
}

func truncate(s []Scored, k int) []Scored {
	if k > 0 && len(s) > k {
		return s[:k]
	}
	return s
}
