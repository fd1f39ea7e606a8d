// Package metrics computes top-k ranking quality against held-out ratings.
package metrics

import "gonum.org/v1/gonum/stat"

// DefaultThreshold is the minimum rating, on a 1-5 scale, for an item to
// count as relevant.
const DefaultThreshold = 3

// Pair identifies a (user, item) prediction or judgment.
type Pair struct {
	User int64
	Item int64
}

// Judgment is a ground-truth rating of a pair.
type Judgment struct {
	Pair
	Rating float64
}

// Scores holds precision, recall and average precision at k.
type Scores struct {
	PrecisionAtK        float64
	RecallAtK           float64
	AveragePrecisionAtK float64
}

// EvaluateTopK scores a ranked prediction list against the truth.
//
// Precision always divides by k, so lists shorter than k are penalized.
// Average precision is the mean of precision at each hit rank, divided by the
// hit count rather than min(k, relevant).
func EvaluateTopK(truth []Judgment, predicted []Pair, k int, threshold float64) Scores {
	if k <= 0 {
		return Scores{}
	}

	relevant := make(map[Pair]struct{})
	for _, j := range truth {
		if j.Rating >= threshold {
			relevant[j.Pair] = struct{}{}
		}
	}

	hits := 0
	precisionSum := 0.0
	for i, p := range predicted {
		rank := i + 1
		if rank > k {
			break
		}
		if _, ok := relevant[p]; ok {
			hits++
			precisionSum += float64(hits) / float64(rank)
		}
	}

	var s Scores
	s.PrecisionAtK = float64(hits) / float64(k)
	if len(relevant) > 0 {
		s.RecallAtK = float64(hits) / float64(len(relevant))
	}
	if hits > 0 {
		s.AveragePrecisionAtK = precisionSum / float64(hits)
	}
	return s
}

// Mean returns the arithmetic mean, or 0 for an empty slice.
func Mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	return stat.Mean(xs, nil)
}
