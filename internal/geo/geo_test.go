package geo

import (
	"testing"

	"github.com/TobiSchelling/recbench/internal/ratings"
)

var itemCity = map[int64]string{
	1: "Las Vegas", 2: "Las Vegas",
	3: "Phoenix", 4: "Phoenix",
	5: "Toronto",
}

func testTable() *ratings.Table {
	return ratings.New([]ratings.Event{
		{User: 7, Item: 1, Rating: 4, Timestamp: 100},
		{User: 7, Item: 3, Rating: 5, Timestamp: 200},
		{User: 7, Item: 5, Rating: 2, Timestamp: 300},
		{User: 8, Item: 2, Rating: 3, Timestamp: 150},
	})
}

func TestCandidateItemsAllCities(t *testing.T) {
	idx := Build(testTable(), itemCity, Options{})

	got := idx.CandidateItems(7, 200).Sorted()
	want := []int64{1, 2, 3, 4}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("expected %v, got %v", want, got)
		}
	}
}

func TestCandidateItemsLatestOnly(t *testing.T) {
	idx := Build(testTable(), itemCity, Options{LatestOnly: true, LatestLimiter: 1})

	// Latest rating up to 200 is item 3 in Phoenix.
	got := idx.CandidateItems(7, 200)
	if len(got) != 2 || !got.Contains(3) || !got.Contains(4) {
		t.Errorf("expected Phoenix items, got %v", got.Sorted())
	}

	// Up to 300 the latest rating moves to Toronto.
	got = idx.CandidateItems(7, 300)
	if len(got) != 1 || !got.Contains(5) {
		t.Errorf("expected Toronto items, got %v", got.Sorted())
	}
}

func TestCandidateItemsLatestLimiterExceedsHistory(t *testing.T) {
	idx := Build(testTable(), itemCity, Options{LatestOnly: true, LatestLimiter: 10})
	got := idx.CandidateItems(7, 150)
	if len(got) != 2 || !got.Contains(1) || !got.Contains(2) {
		t.Errorf("expected Las Vegas items, got %v", got.Sorted())
	}
}

func TestCandidateItemsNoHistory(t *testing.T) {
	idx := Build(testTable(), itemCity, Options{})
	if got := idx.CandidateItems(7, 50); len(got) != 0 {
		t.Errorf("expected empty candidates, got %v", got.Sorted())
	}
	if got := idx.CandidateItems(999, 1000); len(got) != 0 {
		t.Errorf("expected empty candidates for unknown user, got %v", got.Sorted())
	}
}

func TestCandidateItemsMonotonic(t *testing.T) {
	idx := Build(testTable(), itemCity, Options{})
	prev := 0
	for _, asOf := range []int64{0, 100, 150, 200, 250, 300, 400} {
		n := len(idx.CandidateItems(7, asOf))
		if n < prev {
			t.Errorf("candidate set shrank at asOf=%d: %d < %d", asOf, n, prev)
		}
		prev = n
	}
}

func TestUserCitiesUnion(t *testing.T) {
	idx := Build(testTable(), itemCity, Options{
		UserCities: map[int64][]string{8: {"Montreal"}},
	})
	cities := idx.UserCities(8)
	if len(cities) != 2 || cities[0] != "Las Vegas" || cities[1] != "Montreal" {
		t.Errorf("unexpected cities %v", cities)
	}
	if city, ok := idx.CityOf(5); !ok || city != "Toronto" {
		t.Errorf("expected Toronto, got %q", city)
	}
}
