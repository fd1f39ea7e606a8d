package ratings

import (
	"sort"
)

// Event is a single (user, item, rating, timestamp) rating.
type Event struct {
	User      int64
	Item      int64
	Rating    float64
	Timestamp int64
}

// Table is an immutable rating log. All accessors are safe for concurrent use
// once the table has been constructed.
type Table struct {
	events []Event
	byUser map[int64][]int // indices into events, ascending by timestamp
	counts map[int64]int
	latest int64
}

// New builds a table from events. The slice is copied.
func New(events []Event) *Table {
	t := &Table{
		events: make([]Event, len(events)),
		byUser: make(map[int64][]int),
		counts: make(map[int64]int),
	}
	copy(t.events, events)

	for i, e := range t.events {
		t.byUser[e.User] = append(t.byUser[e.User], i)
		t.counts[e.User]++
		if i == 0 || e.Timestamp > t.latest {
			t.latest = e.Timestamp
		}
	}

	for _, idx := range t.byUser {
		sort.SliceStable(idx, func(a, b int) bool {
			return t.events[idx[a]].Timestamp < t.events[idx[b]].Timestamp
		})
	}
	return t
}

// Len returns the number of events.
func (t *Table) Len() int {
	return len(t.events)
}

// Events returns a copy of all events in input order.
func (t *Table) Events() []Event {
	out := make([]Event, len(t.events))
	copy(out, t.events)
	return out
}

// Each calls fn for every event in input order without copying.
func (t *Table) Each(fn func(Event)) {
	for _, e := range t.events {
		fn(e)
	}
}

// RatingsFor returns the user's events sorted by timestamp ascending.
// Ties keep input order.
func (t *Table) RatingsFor(user int64) []Event {
	idx := t.byUser[user]
	out := make([]Event, len(idx))
	for i, j := range idx {
		out[i] = t.events[j]
	}
	return out
}

// Count returns the number of events for a user.
func (t *Table) Count(user int64) int {
	return t.counts[user]
}

// CountsByUser returns a copy of the per-user event counts.
func (t *Table) CountsByUser() map[int64]int {
	out := make(map[int64]int, len(t.counts))
	for u, c := range t.counts {
		out[u] = c
	}
	return out
}

// Filter returns a new table holding the events matching pred.
// The receiver is left untouched.
func (t *Table) Filter(pred func(Event) bool) *Table {
	var kept []Event
	for _, e := range t.events {
		if pred(e) {
			kept = append(kept, e)
		}
	}
	return New(kept)
}

// Users returns the distinct user ids, sorted.
func (t *Table) Users() []int64 {
	users := make([]int64, 0, len(t.byUser))
	for u := range t.byUser {
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i] < users[j] })
	return users
}

// Items returns the distinct item ids, sorted.
func (t *Table) Items() []int64 {
	seen := make(map[int64]struct{})
	for _, e := range t.events {
		seen[e.Item] = struct{}{}
	}
	items := make([]int64, 0, len(seen))
	for i := range seen {
		items = append(items, i)
	}
	sort.Slice(items, func(i, j int) bool { return items[i] < items[j] })
	return items
}

// LatestTimestamp returns the largest timestamp in the table, or 0 if empty.
func (t *Table) LatestTimestamp() int64 {
	return t.latest
}

// ItemCounts returns the number of events per item.
func (t *Table) ItemCounts() map[int64]int {
	counts := make(map[int64]int)
	for _, e := range t.events {
		counts[e.Item]++
	}
	return counts
}
