// Package classifier provides a supervised gradient-boosted tree model for
// fraud probability, trained on labeled historical applications.
package classifier

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

const (
	// DefaultRounds is the boosting round count.
	DefaultRounds = 100
	// DefaultLearningRate shrinks each tree's contribution.
	DefaultLearningRate = 0.1
	// DefaultMaxDepth bounds individual trees.
	DefaultMaxDepth = 3

	minLeafSize   = 5
	maxCandidates = 16
)

// ErrNoPositiveLabels is returned when the training set has no fraud labels;
// a classifier trained on one class is meaningless and must be skipped.
var ErrNoPositiveLabels = errors.New("training set has no positive labels")

// TreeNode is one node of a boosted regression tree.
type TreeNode struct {
	Feature   int       `json:"f"`
	Threshold float64   `json:"t"`
	Left      *TreeNode `json:"l,omitempty"`
	Right     *TreeNode `json:"r,omitempty"`
	Value     float64   `json:"v,omitempty"`
	Leaf      bool      `json:"leaf,omitempty"`
}

// Model is a fitted gradient-boosted classifier with logistic loss.
type Model struct {
	Trees        []*TreeNode `json:"trees"`
	LearningRate float64     `json:"learningRate"`
	BaseScore    float64     `json:"baseScore"` // initial log-odds
}

// Options configures training. Zero values take the defaults.
type Options struct {
	Rounds       int
	LearningRate float64
	MaxDepth     int
}

// Train fits a boosted ensemble on feature rows with binary labels.
func Train(rows [][]float64, labels []int, opts Options) (*Model, error) {
	if len(rows) == 0 || len(rows) != len(labels) {
		return nil, fmt.Errorf("rows and labels must be non-empty and equal length")
	}
	positives := 0
	for _, y := range labels {
		if y != 0 {
			positives++
		}
	}
	if positives == 0 {
		return nil, ErrNoPositiveLabels
	}
	if opts.Rounds <= 0 {
		opts.Rounds = DefaultRounds
	}
	if opts.LearningRate <= 0 {
		opts.LearningRate = DefaultLearningRate
	}
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = DefaultMaxDepth
	}

	n := len(rows)
	prior := float64(positives) / float64(n)
	m := &Model{
		LearningRate: opts.LearningRate,
		BaseScore:    math.Log(prior / (1 - prior)),
	}

	logits := make([]float64, n)
	for i := range logits {
		logits[i] = m.BaseScore
	}

	grads := make([]float64, n)
	hess := make([]float64, n)
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}

	for round := 0; round < opts.Rounds; round++ {
		for i := range rows {
			p := sigmoid(logits[i])
			grads[i] = float64(labels[i]) - p
			hess[i] = p * (1 - p)
		}

		tree := buildTree(rows, grads, hess, idx, 0, opts.MaxDepth)
		m.Trees = append(m.Trees, tree)

		for i, row := range rows {
			logits[i] += opts.LearningRate * predictTree(tree, row)
		}
	}

	return m, nil
}

// Predict returns the fraud probability for one feature vector.
func (m *Model) Predict(row []float64) float64 {
	score := m.BaseScore
	for _, tree := range m.Trees {
		score += m.LearningRate * predictTree(tree, row)
	}
	return sigmoid(score)
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

func predictTree(n *TreeNode, row []float64) float64 {
	for !n.Leaf {
		if n.Feature < len(row) && row[n.Feature] < n.Threshold {
			n = n.Left
		} else {
			n = n.Right
		}
	}
	return n.Value
}

// buildTree grows one regression tree on the current gradients. Leaf values
// are Newton steps: sum of gradients over sum of hessians.
func buildTree(rows [][]float64, grads, hess []float64, idx []int, depth, maxDepth int) *TreeNode {
	if depth >= maxDepth || len(idx) < 2*minLeafSize {
		return leaf(grads, hess, idx)
	}

	feature, threshold, ok := bestSplit(rows, grads, idx)
	if !ok {
		return leaf(grads, hess, idx)
	}

	var left, right []int
	for _, i := range idx {
		if rows[i][feature] < threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	if len(left) < minLeafSize || len(right) < minLeafSize {
		return leaf(grads, hess, idx)
	}

	return &TreeNode{
		Feature:   feature,
		Threshold: threshold,
		Left:      buildTree(rows, grads, hess, left, depth+1, maxDepth),
		Right:     buildTree(rows, grads, hess, right, depth+1, maxDepth),
	}
}

func leaf(grads, hess []float64, idx []int) *TreeNode {
	var g, h float64
	for _, i := range idx {
		g += grads[i]
		h += hess[i]
	}
	return &TreeNode{Leaf: true, Value: g / (h + 1e-9)}
}

// bestSplit scans candidate thresholds per feature for the largest reduction
// in gradient variance.
func bestSplit(rows [][]float64, grads []float64, idx []int) (int, float64, bool) {
	dims := len(rows[idx[0]])

	var totalSum float64
	for _, i := range idx {
		totalSum += grads[i]
	}
	n := float64(len(idx))
	baseScore := totalSum * totalSum / n

	bestGain := 1e-9
	bestFeature, bestThreshold := -1, 0.0

	values := make([]float64, 0, len(idx))
	for f := 0; f < dims; f++ {
		values = values[:0]
		for _, i := range idx {
			values = append(values, rows[i][f])
		}
		sort.Float64s(values)
		if values[0] == values[len(values)-1] {
			continue
		}

		step := len(values) / maxCandidates
		if step < 1 {
			step = 1
		}
		prev := math.Inf(-1)
		for c := step; c < len(values); c += step {
			threshold := values[c]
			if threshold == prev || threshold == values[0] {
				continue
			}
			prev = threshold

			var leftSum, leftN float64
			for _, i := range idx {
				if rows[i][f] < threshold {
					leftSum += grads[i]
					leftN++
				}
			}
			rightN := n - leftN
			if leftN < minLeafSize || rightN < minLeafSize {
				continue
			}
			rightSum := totalSum - leftSum
			gain := leftSum*leftSum/leftN + rightSum*rightSum/rightN - baseScore
			if gain > bestGain {
				bestGain = gain
				bestFeature = f
				bestThreshold = threshold
			}
		}
	}

	return bestFeature, bestThreshold, bestFeature >= 0
}
