// Package geo infers where a user is from the cities of the items they rated
// and narrows the candidate items to those cities.
package geo

import (
	"sort"

	"github.com/TobiSchelling/recbench/internal/ratings"
)

// Options controls location inference.
type Options struct {
	// LatestOnly infers location from the user's most recent LatestLimiter
	// ratings up to the cutoff instead of all of them.
	LatestOnly    bool
	LatestLimiter int

	// UserCities are cities known from the ingestion pipeline. They only
	// widen UserCities and never influence CandidateItems.
	UserCities map[int64][]string
}

// Index answers item->city and user->cities lookups. It is read-only after
// Build and safe for concurrent use.
type Index struct {
	table      *ratings.Table
	opts       Options
	itemCity   map[int64]string
	cityItems  map[string][]int64
	userCities map[int64]map[string]struct{}
}

// Candidates is a set of item ids.
type Candidates map[int64]struct{}

// Contains reports whether item is a candidate.
func (c Candidates) Contains(item int64) bool {
	_, ok := c[item]
	return ok
}

// Sorted returns the candidate ids in ascending order.
func (c Candidates) Sorted() []int64 {
	out := make([]int64, 0, len(c))
	for item := range c {
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Build indexes the rating table against the item->city mapping.
func Build(table *ratings.Table, itemCity map[int64]string, opts Options) *Index {
	idx := &Index{
		table:      table,
		opts:       opts,
		itemCity:   make(map[int64]string, len(itemCity)),
		cityItems:  make(map[string][]int64),
		userCities: make(map[int64]map[string]struct{}),
	}

	for item, city := range itemCity {
		idx.itemCity[item] = city
		idx.cityItems[city] = append(idx.cityItems[city], item)
	}
	for city := range idx.cityItems {
		items := idx.cityItems[city]
		sort.Slice(items, func(i, j int) bool { return items[i] < items[j] })
	}

	table.Each(func(e ratings.Event) {
		city, ok := idx.itemCity[e.Item]
		if !ok {
			return
		}
		idx.addUserCity(e.User, city)
	})
	for user, cities := range opts.UserCities {
		for _, city := range cities {
			idx.addUserCity(user, city)
		}
	}
	return idx
}

func (idx *Index) addUserCity(user int64, city string) {
	set, ok := idx.userCities[user]
	if !ok {
		set = make(map[string]struct{})
		idx.userCities[user] = set
	}
	set[city] = struct{}{}
}

// CityOf returns the city of an item.
func (idx *Index) CityOf(item int64) (string, bool) {
	city, ok := idx.itemCity[item]
	return city, ok
}

// UserCities returns every city the user has rated in, sorted.
func (idx *Index) UserCities(user int64) []string {
	set := idx.userCities[user]
	out := make([]string, 0, len(set))
	for city := range set {
		out = append(out, city)
	}
	sort.Strings(out)
	return out
}

// InferCities returns the cities the user is assumed to be in as of asOf.
func (idx *Index) InferCities(user int64, asOf int64) map[string]struct{} {
	var history []ratings.Event
	for _, e := range idx.table.RatingsFor(user) {
		if e.Timestamp > asOf {
			break
		}
		history = append(history, e)
	}

	cities := make(map[string]struct{})
	if !idx.opts.LatestOnly {
		for _, e := range history {
			if city, ok := idx.itemCity[e.Item]; ok {
				cities[city] = struct{}{}
			}
		}
		return cities
	}

	collected := 0
	for i := len(history) - 1; i >= 0 && collected < idx.opts.LatestLimiter; i-- {
		collected++
		if city, ok := idx.itemCity[history[i].Item]; ok {
			cities[city] = struct{}{}
		}
	}
	return cities
}

// CandidateItems returns every item located in a city the user is inferred
// to be in as of asOf. A user without ratings up to asOf has no candidates.
func (idx *Index) CandidateItems(user int64, asOf int64) Candidates {
	out := make(Candidates)
	for city := range idx.InferCities(user, asOf) {
		for _, item := range idx.cityItems[city] {
			out[item] = struct{}{}
		}
	}
	return out
}
