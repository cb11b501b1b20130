package anomaly

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
)

const (
	// DefaultTrees is the ensemble size.
	DefaultTrees = 100
	// DefaultSubsample is the per-tree sample size.
	DefaultSubsample = 256
	// DefaultContamination is the expected outlier fraction used to derive
	// the flagging threshold from the training score distribution.
	DefaultContamination = 0.10

	eulerMascheroni = 0.5772156649015329
)

// Node is one node of an isolation tree. Leaf nodes carry the sample count
// that reached them so path lengths get the average-depth adjustment.
type Node struct {
	Feature   int     `json:"f"`
	Threshold float64 `json:"t"`
	Left      *Node   `json:"l,omitempty"`
	Right     *Node   `json:"r,omitempty"`
	Size      int     `json:"n,omitempty"`
}

// Forest is a fitted isolation forest. Scores are in [0, 1] with higher
// meaning more anomalous.
type Forest struct {
	Trees         []*Node `json:"trees"`
	Subsample     int     `json:"subsample"`
	Contamination float64 `json:"contamination"`
	Threshold     float64 `json:"threshold"`
}

// Options configures forest training. Zero values take the defaults.
type Options struct {
	Trees         int
	Subsample     int
	Contamination float64
	Seed          int64
}

// Fit trains an isolation forest on standardized rows and derives the outlier
// threshold as the (1 - contamination) quantile of the training scores.
func Fit(rows [][]float64, opts Options) (*Forest, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("no rows to fit")
	}
	if opts.Trees <= 0 {
		opts.Trees = DefaultTrees
	}
	if opts.Subsample <= 0 {
		opts.Subsample = DefaultSubsample
	}
	if opts.Contamination <= 0 || opts.Contamination >= 0.5 {
		opts.Contamination = DefaultContamination
	}
	if opts.Subsample > len(rows) {
		opts.Subsample = len(rows)
	}

	rng := rand.New(rand.NewSource(opts.Seed))
	maxDepth := int(math.Ceil(math.Log2(float64(opts.Subsample))))
	if maxDepth < 1 {
		maxDepth = 1
	}

	f := &Forest{
		Trees:         make([]*Node, opts.Trees),
		Subsample:     opts.Subsample,
		Contamination: opts.Contamination,
	}
	for t := 0; t < opts.Trees; t++ {
		sample := make([][]float64, opts.Subsample)
		for i := range sample {
			sample[i] = rows[rng.Intn(len(rows))]
		}
		f.Trees[t] = buildTree(sample, 0, maxDepth, rng)
	}

	scores := make([]float64, len(rows))
	for i, row := range rows {
		scores[i] = f.Score(row)
	}
	f.Threshold = quantile(scores, 1-opts.Contamination)

	return f, nil
}

// Score returns the anomaly score for one standardized vector.
func (f *Forest) Score(row []float64) float64 {
	if len(f.Trees) == 0 {
		return 0
	}
	var sum float64
	for _, tree := range f.Trees {
		sum += pathLength(tree, row, 0)
	}
	avg := sum / float64(len(f.Trees))
	return math.Pow(2, -avg/avgPathLength(f.Subsample))
}

// IsOutlier reports whether a score crosses the fitted threshold.
func (f *Forest) IsOutlier(score float64) bool {
	return score >= f.Threshold
}

func buildTree(rows [][]float64, depth, maxDepth int, rng *rand.Rand) *Node {
	if len(rows) <= 1 || depth >= maxDepth {
		return &Node{Feature: -1, Size: len(rows)}
	}

	dims := len(rows[0])
	// Pick a feature with spread; bail to a leaf when every column is
	// constant in this partition.
	feature := -1
	var lo, hi float64
	for _, j := range rng.Perm(dims) {
		lo, hi = rows[0][j], rows[0][j]
		for _, r := range rows {
			if r[j] < lo {
				lo = r[j]
			}
			if r[j] > hi {
				hi = r[j]
			}
		}
		if hi > lo {
			feature = j
			break
		}
	}
	if feature < 0 {
		return &Node{Feature: -1, Size: len(rows)}
	}

	split := lo + rng.Float64()*(hi-lo)
	var left, right [][]float64
	for _, r := range rows {
		if r[feature] < split {
			left = append(left, r)
		} else {
			right = append(right, r)
		}
	}
	if len(left) == 0 || len(right) == 0 {
		return &Node{Feature: -1, Size: len(rows)}
	}

	return &Node{
		Feature:   feature,
		Threshold: split,
		Left:      buildTree(left, depth+1, maxDepth, rng),
		Right:     buildTree(right, depth+1, maxDepth, rng),
	}
}

func pathLength(n *Node, row []float64, depth float64) float64 {
	if n.Feature < 0 {
		return depth + avgPathLength(n.Size)
	}
	if n.Feature < len(row) && row[n.Feature] < n.Threshold {
		return pathLength(n.Left, row, depth+1)
	}
	return pathLength(n.Right, row, depth+1)
}

// avgPathLength is c(n), the expected path length of an unsuccessful BST
// search over n points.
func avgPathLength(n int) float64 {
	if n <= 1 {
		return 0
	}
	if n == 2 {
		return 1
	}
	fn := float64(n)
	return 2*(math.Log(fn-1)+eulerMascheroni) - 2*(fn-1)/fn
}

func quantile(values []float64, q float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	pos := q * float64(len(sorted)-1)
	low := int(math.Floor(pos))
	high := int(math.Ceil(pos))
	if low == high {
		return sorted[low]
	}
	frac := pos - float64(low)
	return sorted[low]*(1-frac) + sorted[high]*frac
}
