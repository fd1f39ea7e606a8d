package metrics

import (
	"math"
	"testing"
)

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func pairs(user int64, items ...int64) []Pair {
	out := make([]Pair, len(items))
	for i, item := range items {
		out[i] = Pair{User: user, Item: item}
	}
	return out
}

func TestEvaluateTopKSingleHit(t *testing.T) {
	truth := []Judgment{
		{Pair: Pair{1, 1}, Rating: 5},
		{Pair: Pair{1, 2}, Rating: 1},
	}
	s := EvaluateTopK(truth, pairs(1, 1, 2, 3), 3, 3)

	if !approx(s.PrecisionAtK, 1.0/3) {
		t.Errorf("expected precision 1/3, got %f", s.PrecisionAtK)
	}
	if !approx(s.RecallAtK, 1) {
		t.Errorf("expected recall 1, got %f", s.RecallAtK)
	}
	if !approx(s.AveragePrecisionAtK, 1) {
		t.Errorf("expected AP 1, got %f", s.AveragePrecisionAtK)
	}
}

func TestEvaluateTopKEmptyPrediction(t *testing.T) {
	truth := []Judgment{{Pair: Pair{1, 1}, Rating: 5}}
	s := EvaluateTopK(truth, nil, 10, 3)
	if s != (Scores{}) {
		t.Errorf("expected all-zero scores, got %+v", s)
	}

	s = EvaluateTopK(nil, nil, 10, 3)
	if s != (Scores{}) {
		t.Errorf("expected all-zero scores without truth, got %+v", s)
	}
}

func TestEvaluateTopKStopsAtK(t *testing.T) {
	truth := []Judgment{
		{Pair: Pair{1, 3}, Rating: 4},
		{Pair: Pair{1, 4}, Rating: 4},
	}
	// Item 3 sits at rank 3 and must not count when k = 2.
	s := EvaluateTopK(truth, pairs(1, 1, 2, 3, 4), 2, 3)
	if s.PrecisionAtK != 0 || s.AveragePrecisionAtK != 0 {
		t.Errorf("expected no hits within k, got %+v", s)
	}

	s = EvaluateTopK(truth, pairs(1, 1, 2, 3, 4), 3, 3)
	if !approx(s.PrecisionAtK, 1.0/3) || !approx(s.AveragePrecisionAtK, 1.0/3) {
		t.Errorf("expected one hit at rank 3, got %+v", s)
	}
	if !approx(s.RecallAtK, 0.5) {
		t.Errorf("expected recall 0.5, got %f", s.RecallAtK)
	}
}

func TestEvaluateTopKAveragePrecisionNotNormalized(t *testing.T) {
	truth := []Judgment{
		{Pair: Pair{1, 1}, Rating: 5},
		{Pair: Pair{1, 3}, Rating: 5},
		{Pair: Pair{1, 9}, Rating: 5},
	}
	// Hits at rank 1 and 3: (1/1 + 2/3) / 2.
	s := EvaluateTopK(truth, pairs(1, 1, 2, 3), 3, 3)
	if !approx(s.AveragePrecisionAtK, (1+2.0/3)/2) {
		t.Errorf("unexpected AP %f", s.AveragePrecisionAtK)
	}
	if !approx(s.RecallAtK, 2.0/3) {
		t.Errorf("unexpected recall %f", s.RecallAtK)
	}
}

func TestEvaluateTopKUnderfilledPenalized(t *testing.T) {
	truth := []Judgment{{Pair: Pair{1, 1}, Rating: 5}}
	s := EvaluateTopK(truth, pairs(1, 1), 10, 3)
	if !approx(s.PrecisionAtK, 0.1) {
		t.Errorf("expected precision 0.1, got %f", s.PrecisionAtK)
	}
}

func TestEvaluateTopKIgnoresOtherUsers(t *testing.T) {
	truth := []Judgment{{Pair: Pair{2, 1}, Rating: 5}}
	s := EvaluateTopK(truth, pairs(1, 1), 1, 3)
	if s.PrecisionAtK != 0 {
		t.Errorf("expected no hit across users, got %+v", s)
	}
}

func TestEvaluateTopKBounds(t *testing.T) {
	truth := []Judgment{
		{Pair: Pair{1, 1}, Rating: 5},
		{Pair: Pair{1, 2}, Rating: 2},
		{Pair: Pair{1, 3}, Rating: 3},
	}
	preds := pairs(1, 3, 2, 1, 4, 5)
	for k := 1; k <= 7; k++ {
		first := EvaluateTopK(truth, preds, k, 3)
		second := EvaluateTopK(truth, preds, k, 3)
		if first != second {
			t.Errorf("k=%d: results differ between calls", k)
		}
		if first.PrecisionAtK < 0 || first.PrecisionAtK > 1 {
			t.Errorf("k=%d: precision out of range: %f", k, first.PrecisionAtK)
		}
	}

	if s := EvaluateTopK(truth, preds, 0, 3); s != (Scores{}) {
		t.Errorf("expected zero scores for k=0, got %+v", s)
	}
}

func TestMean(t *testing.T) {
	if Mean(nil) != 0 {
		t.Error("expected 0 for empty mean")
	}
	if !approx(Mean([]float64{1, 0, 0.5}), 0.5) {
		t.Errorf("unexpected mean %f", Mean([]float64{1, 0, 0.5}))
	}
}
