package model

import (
	"fmt"
	"sort"
	"time"

	"github.com/opensource-agri/harrow/internal/anomaly"
	"github.com/opensource-agri/harrow/internal/classifier"
	"github.com/opensource-agri/harrow/internal/domain"
)

// holdoutWindow is the trailing period reserved for evaluation when the
// training data spans enough time to afford it.
const holdoutWindow = 90 * 24 * time.Hour

// TrainInput carries the training data. Labels and Timestamps are optional;
// when present they must align with Rows.
type TrainInput struct {
	Rows       [][]float64
	Labels     []int
	Timestamps []time.Time
}

// TrainOptions configures a training run.
type TrainOptions struct {
	Version       string
	Contamination float64
	Seed          int64
	Rounds        int
}

// Train fits the full bundle: scaler, isolation forest, and a classifier when
// usable labels exist. The classifier is skipped, never faked, when the data
// has no positive labels.
func Train(in TrainInput, opts TrainOptions) (*Artifact, error) {
	if len(in.Rows) == 0 {
		return nil, fmt.Errorf("no training rows")
	}
	for i, row := range in.Rows {
		if len(row) != domain.FeatureCount {
			return nil, fmt.Errorf("row %d has %d features, want %d", i, len(row), domain.FeatureCount)
		}
	}
	if in.Labels != nil && len(in.Labels) != len(in.Rows) {
		return nil, fmt.Errorf("labels length %d does not match rows %d", len(in.Labels), len(in.Rows))
	}
	if in.Timestamps != nil && len(in.Timestamps) != len(in.Rows) {
		return nil, fmt.Errorf("timestamps length %d does not match rows %d", len(in.Timestamps), len(in.Rows))
	}
	if opts.Version == "" {
		opts.Version = time.Now().UTC().Format("20060102-150405")
	}

	trainIdx, testIdx, policy := split(in)

	trainRows := gather(in.Rows, trainIdx)

	scaler, err := anomaly.FitScaler(trainRows)
	if err != nil {
		return nil, fmt.Errorf("scaler fit failed: %w", err)
	}
	scaledTrain, err := scaler.TransformAll(trainRows)
	if err != nil {
		return nil, fmt.Errorf("scaling failed: %w", err)
	}

	forest, err := anomaly.Fit(scaledTrain, anomaly.Options{
		Contamination: opts.Contamination,
		Seed:          opts.Seed,
	})
	if err != nil {
		return nil, fmt.Errorf("forest fit failed: %w", err)
	}

	a := &Artifact{
		Version:      opts.Version,
		TrainedAt:    time.Now().UTC(),
		FeatureNames: append([]string(nil), domain.FeatureOrder...),
		Scaler:       scaler,
		Forest:       forest,
		Metrics: Metrics{
			TrainRows:   len(trainIdx),
			TestRows:    len(testIdx),
			SplitPolicy: policy,
		},
	}

	if in.Labels != nil {
		trainLabels := gatherInts(in.Labels, trainIdx)
		for _, y := range in.Labels {
			if y != 0 {
				a.Metrics.Positives++
			}
		}
		clf, err := classifier.Train(scaledTrain, trainLabels, classifier.Options{Rounds: opts.Rounds})
		switch {
		case err == nil:
			a.Classifier = clf
			a.Metrics.ClassifierTrained = true
		case err == classifier.ErrNoPositiveLabels:
			// Unsupervised only; the decision layer falls back to the
			// isolation score alone.
		default:
			return nil, fmt.Errorf("classifier fit failed: %w", err)
		}
	}

	if len(testIdx) > 0 && in.Labels != nil {
		evaluate(a, in, testIdx)
	}

	return a, nil
}

// split chooses the evaluation holdout. Timestamped data spanning more than
// the holdout window gets a trailing time split; anything else gets a
// positional 70/30 split.
func split(in TrainInput) (train, test []int, policy string) {
	n := len(in.Rows)

	if in.Timestamps != nil {
		minT, maxT := in.Timestamps[0], in.Timestamps[0]
		for _, ts := range in.Timestamps {
			if ts.Before(minT) {
				minT = ts
			}
			if ts.After(maxT) {
				maxT = ts
			}
		}
		if maxT.Sub(minT) > holdoutWindow {
			cutoff := maxT.Add(-holdoutWindow)
			for i, ts := range in.Timestamps {
				if ts.After(cutoff) {
					test = append(test, i)
				} else {
					train = append(train, i)
				}
			}
			if len(train) > 0 && len(test) > 0 {
				return train, test, "time"
			}
			train, test = nil, nil
		}
	}

	pivot := n * 7 / 10
	if pivot == 0 {
		pivot = n
	}
	for i := 0; i < n; i++ {
		if i < pivot {
			train = append(train, i)
		} else {
			test = append(test, i)
		}
	}
	return train, test, "positional"
}

// evaluate fills the holdout metrics. Uses the classifier probability when
// trained, otherwise the isolation score.
func evaluate(a *Artifact, in TrainInput, testIdx []int) {
	var results []scoredLabel

	for _, i := range testIdx {
		s, err := a.ScoreVector(in.Rows[i])
		if err != nil {
			continue
		}
		score := s.Isolation
		if s.Classifier != nil {
			score = *s.Classifier
		}
		results = append(results, scoredLabel{score: score, label: in.Labels[i]})
	}
	if len(results) == 0 {
		return
	}

	positives := 0
	for _, r := range results {
		if r.label != 0 {
			positives++
		}
	}
	if positives == 0 || positives == len(results) {
		return
	}

	a.Metrics.AUC = rankAUC(results)

	var tp, fp, fn int
	for _, r := range results {
		pred := r.score > 0.5
		switch {
		case pred && r.label != 0:
			tp++
		case pred && r.label == 0:
			fp++
		case !pred && r.label != 0:
			fn++
		}
	}
	if tp+fp > 0 {
		a.Metrics.Precision = float64(tp) / float64(tp+fp)
	}
	if tp+fn > 0 {
		a.Metrics.Recall = float64(tp) / float64(tp+fn)
	}

	k := len(results) / 10
	if k < 1 {
		k = 1
	}
	sort.Slice(results, func(i, j int) bool { return results[i].score > results[j].score })
	hits := 0
	for _, r := range results[:k] {
		if r.label != 0 {
			hits++
		}
	}
	a.Metrics.K = k
	a.Metrics.PrecisionAtK = float64(hits) / float64(k)
}

type scoredLabel struct {
	score float64
	label int
}

// rankAUC computes the area under the ROC curve by rank comparison, ties
// counted as half.
func rankAUC(results []scoredLabel) float64 {
	var pos, neg, sum float64
	for _, a := range results {
		if a.label == 0 {
			continue
		}
		pos++
		for _, b := range results {
			if b.label != 0 {
				continue
			}
			switch {
			case a.score > b.score:
				sum++
			case a.score == b.score:
				sum += 0.5
			}
		}
	}
	for _, b := range results {
		if b.label == 0 {
			neg++
		}
	}
	if pos == 0 || neg == 0 {
		return 0
	}
	return sum / (pos * neg)
}

func gather(rows [][]float64, idx []int) [][]float64 {
	out := make([][]float64, len(idx))
	for i, j := range idx {
		out[i] = rows[j]
	}
	return out
}

func gatherInts(v []int, idx []int) []int {
	out := make([]int, len(idx))
	for i, j := range idx {
		out[i] = v[j]
	}
	return out
}
