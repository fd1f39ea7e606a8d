package evaluate

import (
	"testing"
)

func counts() map[int64]int {
	out := make(map[int64]int)
	for u := int64(1); u <= 50; u++ {
		out[u] = int(u % 10)
	}
	return out
}

func TestEligible(t *testing.T) {
	got := Eligible(map[int64]int{5: 3, 1: 10, 3: 1}, 3)
	if len(got) != 2 || got[0] != 1 || got[1] != 5 {
		t.Errorf("expected [1 5], got %v", got)
	}
}

func TestSelectUsersAll(t *testing.T) {
	users, seed, err := SelectUsers(counts(), Sampling{Mode: SampleAll, MinRatings: 9}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(users) != 5 || seed != 0 {
		t.Errorf("expected 5 users with count 9, got %v", users)
	}
}

func TestSelectUsersList(t *testing.T) {
	users, _, err := SelectUsers(counts(), Sampling{Mode: SampleList, Users: []int64{7, 3}}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(users) != 2 || users[0] != 7 || users[1] != 3 {
		t.Errorf("expected list order kept, got %v", users)
	}
}

func TestSelectUsersRandomDeterministic(t *testing.T) {
	seed := uint64(42)
	s := Sampling{Mode: SampleRandom, Size: 10, MinRatings: 2, Seed: &seed}
	first, used, err := SelectUsers(counts(), s, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if used != 42 {
		t.Errorf("expected seed 42 reported, got %d", used)
	}
	second, _, _ := SelectUsers(counts(), s, nil)
	if len(first) != 10 {
		t.Fatalf("expected 10 users, got %d", len(first))
	}
	seen := make(map[int64]bool)
	c := counts()
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("expected same sample under the same seed, got %v and %v", first, second)
		}
		if seen[first[i]] {
			t.Errorf("user %d sampled twice", first[i])
		}
		seen[first[i]] = true
		if c[first[i]] < 2 {
			t.Errorf("ineligible user %d sampled", first[i])
		}
	}
}

func TestSelectUsersRandomWithoutSeed(t *testing.T) {
	users, seed, err := SelectUsers(counts(), Sampling{Mode: SampleRandom, Size: 3}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(users) != 3 || seed == 0 {
		t.Errorf("expected 3 users and a reported clock seed, got %v, %d", users, seed)
	}
}

func TestSelectUsersRandomOversized(t *testing.T) {
	seed := uint64(1)
	users, _, _ := SelectUsers(counts(), Sampling{Mode: SampleRandom, Size: 100, MinRatings: 9, Seed: &seed}, nil)
	if len(users) != 5 {
		t.Errorf("expected every eligible user, got %d", len(users))
	}
}

func TestSelectUsersUnknownMode(t *testing.T) {
	if _, _, err := SelectUsers(counts(), Sampling{Mode: "stratified"}, nil); err == nil {
		t.Error("expected error")
	}
}
