package evaluate

import (
	"fmt"
	"math/rand/v2"
	"sort"
	"time"

	"github.com/TobiSchelling/recbench/internal/logger"
)

// Sampling modes.
const (
	SampleList   = "list"
	SampleRandom = "random"
	SampleAll    = "all"
)

// Sampling selects which users a pass evaluates.
type Sampling struct {
	Mode       string
	Users      []int64
	Size       int
	MinRatings int
	// Seed makes random sampling reproducible. Nil draws a seed from the
	// clock.
	Seed *uint64
}

// Eligible returns the users with at least minRatings ratings, ascending.
func Eligible(counts map[int64]int, minRatings int) []int64 {
	var out []int64
	for user, n := range counts {
		if n >= minRatings {
			out = append(out, user)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// SelectUsers applies s to the per-user rating counts. It returns the users
// in evaluation order and the seed actually used (zero outside random mode).
func SelectUsers(counts map[int64]int, s Sampling, log *logger.Logger) ([]int64, uint64, error) {
	if log == nil {
		log = logger.Nop()
	}
	switch s.Mode {
	case SampleList:
		out := make([]int64, 0, len(s.Users))
		for _, u := range s.Users {
			if counts[u] < s.MinRatings {
				log.Warn("listed user below min_ratings", "user", u, "ratings", counts[u], "min_ratings", s.MinRatings)
			}
			out = append(out, u)
		}
		return out, 0, nil

	case SampleAll, "":
		return Eligible(counts, s.MinRatings), 0, nil

	case SampleRandom:
		var seed uint64
		if s.Seed != nil {
			seed = *s.Seed
		} else {
			seed = uint64(time.Now().UnixNano())
			log.Warn("no sampling seed configured, sample is not reproducible", "seed", seed)
		}
		pool := Eligible(counts, s.MinRatings)
		if s.Size < 0 {
			return nil, seed, fmt.Errorf("sample size %d is negative", s.Size)
		}
		if s.Size >= len(pool) {
			if s.Size > len(pool) {
				log.Warn("sample size exceeds eligible users", "size", s.Size, "eligible", len(pool))
			}
			return pool, seed, nil
		}
		rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
		// Partial Fisher-Yates: the first Size slots become the sample.
		for i := 0; i < s.Size; i++ {
			j := i + rng.IntN(len(pool)-i)
			pool[i], pool[j] = pool[j], pool[i]
		}
		return pool[:s.Size], seed, nil
	}
	return nil, 0, fmt.Errorf("unknown sampling mode %q", s.Mode)
}
