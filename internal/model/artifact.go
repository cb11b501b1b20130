// Package model bundles the fitted scaler, isolation forest and optional
// classifier into a versioned artifact, and serves it with atomic hot-swap.
package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/opensource-agri/harrow/internal/anomaly"
	"github.com/opensource-agri/harrow/internal/classifier"
	"github.com/opensource-agri/harrow/internal/domain"
)

// ErrShapeMismatch is returned when a vector's width does not match the
// artifact's feature list. Scoring maps it to an ERROR assessment instead of
// producing a silently wrong score.
var ErrShapeMismatch = errors.New("feature vector shape does not match model")

// Metrics summarizes a training run, computed on the holdout split.
type Metrics struct {
	TrainRows         int     `json:"trainRows"`
	TestRows          int     `json:"testRows"`
	Positives         int     `json:"positives"`
	ClassifierTrained bool    `json:"classifierTrained"`
	AUC               float64 `json:"auc,omitempty"`
	Precision         float64 `json:"precision,omitempty"`
	Recall            float64 `json:"recall,omitempty"`
	PrecisionAtK      float64 `json:"precisionAtK,omitempty"`
	K                 int     `json:"k,omitempty"`
	SplitPolicy       string  `json:"splitPolicy"` // "time" or "positional"
}

// Artifact is the serialized model bundle. FeatureNames pins the vector
// order the models were trained against.
type Artifact struct {
	Version      string            `json:"version"`
	TrainedAt    time.Time         `json:"trainedAt"`
	FeatureNames []string          `json:"featureNames"`
	Scaler       *anomaly.Scaler   `json:"scaler"`
	Forest       *anomaly.Forest   `json:"forest"`
	Classifier   *classifier.Model `json:"classifier,omitempty"`
	Metrics      Metrics           `json:"metrics"`
}

// Scores holds the per-record model outputs.
type Scores struct {
	Isolation float64
	Outlier   bool
	// Classifier is nil when the artifact carries no supervised model.
	Classifier *float64
}

// ScoreVector runs one raw feature vector through the bundle.
func (a *Artifact) ScoreVector(values []float64) (*Scores, error) {
	if len(values) != len(a.FeatureNames) {
		return nil, fmt.Errorf("%w: got %d features, model expects %d",
			ErrShapeMismatch, len(values), len(a.FeatureNames))
	}

	scaled, err := a.Scaler.Transform(values)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrShapeMismatch, err)
	}

	out := &Scores{}
	out.Isolation = a.Forest.Score(scaled)
	out.Outlier = a.Forest.IsOutlier(out.Isolation)

	if a.Classifier != nil {
		p := a.Classifier.Predict(scaled)
		out.Classifier = &p
	}

	return out, nil
}

// Validate checks internal consistency after deserialization.
func (a *Artifact) Validate() error {
	if a.Scaler == nil || a.Forest == nil {
		return fmt.Errorf("artifact is missing scaler or forest")
	}
	if len(a.FeatureNames) == 0 {
		return fmt.Errorf("artifact has no feature names")
	}
	if len(a.Scaler.Mean) != len(a.FeatureNames) {
		return fmt.Errorf("scaler width %d does not match %d feature names",
			len(a.Scaler.Mean), len(a.FeatureNames))
	}
	if len(a.FeatureNames) != domain.FeatureCount {
		return fmt.Errorf("artifact has %d features, runtime builds %d",
			len(a.FeatureNames), domain.FeatureCount)
	}
	for i, name := range a.FeatureNames {
		if name != domain.FeatureOrder[i] {
			return fmt.Errorf("feature %d is %q, runtime order has %q", i, name, domain.FeatureOrder[i])
		}
	}
	return nil
}

// Save writes the artifact atomically: temp file in the same directory, then
// rename, so a reload mid-write never sees a torn file.
func (a *Artifact) Save(path string) error {
	data, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal artifact: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create model directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".artifact-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to close artifact: %w", err)
	}
	return os.Rename(tmp.Name(), path)
}

// LoadArtifact reads and validates an artifact from disk.
func LoadArtifact(path string) (*Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact: %w", err)
	}
	var a Artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("failed to parse artifact: %w", err)
	}
	if err := a.Validate(); err != nil {
		return nil, fmt.Errorf("invalid artifact: %w", err)
	}
	return &a, nil
}
