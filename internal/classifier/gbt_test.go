package classifier

import (
	"errors"
	"math/rand"
	"testing"
)

// separableData builds a set where fraud rows have a large first feature.
func separableData(n int, seed int64) ([][]float64, []int) {
	rng := rand.New(rand.NewSource(seed))
	rows := make([][]float64, n)
	labels := make([]int, n)
	for i := range rows {
		if i%5 == 0 {
			rows[i] = []float64{8 + rng.Float64()*4, rng.NormFloat64(), rng.NormFloat64()}
			labels[i] = 1
		} else {
			rows[i] = []float64{rng.Float64() * 2, rng.NormFloat64(), rng.NormFloat64()}
		}
	}
	return rows, labels
}

func TestTrainSeparable(t *testing.T) {
	rows, labels := separableData(500, 42)
	m, err := Train(rows, labels, Options{Rounds: 30})
	if err != nil {
		t.Fatalf("Train failed: %v", err)
	}

	if p := m.Predict([]float64{10, 0, 0}); p < 0.8 {
		t.Errorf("fraud-like row probability = %v, want > 0.8", p)
	}
	if p := m.Predict([]float64{1, 0, 0}); p > 0.2 {
		t.Errorf("normal-like row probability = %v, want < 0.2", p)
	}
}

func TestTrainAccuracy(t *testing.T) {
	rows, labels := separableData(600, 7)
	m, err := Train(rows, labels, Options{Rounds: 50})
	if err != nil {
		t.Fatalf("Train failed: %v", err)
	}

	correct := 0
	for i, row := range rows {
		pred := 0
		if m.Predict(row) > 0.5 {
			pred = 1
		}
		if pred == labels[i] {
			correct++
		}
	}
	if acc := float64(correct) / float64(len(rows)); acc < 0.95 {
		t.Errorf("training accuracy = %v, want >= 0.95 on separable data", acc)
	}
}

func TestTrainNoPositives(t *testing.T) {
	rows := [][]float64{{1, 2}, {3, 4}, {5, 6}}
	labels := []int{0, 0, 0}
	if _, err := Train(rows, labels, Options{}); !errors.Is(err, ErrNoPositiveLabels) {
		t.Fatalf("expected ErrNoPositiveLabels, got %v", err)
	}
}

func TestTrainMismatchedInput(t *testing.T) {
	if _, err := Train([][]float64{{1}}, []int{1, 0}, Options{}); err == nil {
		t.Fatal("expected error for mismatched rows and labels")
	}
	if _, err := Train(nil, nil, Options{}); err == nil {
		t.Fatal("expected error for empty input")
	}
}

func TestPredictInUnitInterval(t *testing.T) {
	rows, labels := separableData(200, 3)
	m, err := Train(rows, labels, Options{Rounds: 10})
	if err != nil {
		t.Fatalf("Train failed: %v", err)
	}
	for _, row := range rows {
		if p := m.Predict(row); p < 0 || p > 1 {
			t.Fatalf("probability %v out of [0,1]", p)
		}
	}
}
