package model

import (
	"errors"
	"log/slog"
	"sync/atomic"
)

// ErrNoModel is returned when scoring is attempted before any artifact is
// loaded. Callers map it to an UNKNOWN risk level, not a request failure.
var ErrNoModel = errors.New("no model loaded")

// Store holds the active artifact behind an atomic pointer so reloads never
// block in-flight scoring.
type Store struct {
	path    string
	current atomic.Pointer[Artifact]
	logger  *slog.Logger
}

// NewStore creates a store bound to an artifact path. The path may not exist
// yet; the service then runs rules-only until a model is trained.
func NewStore(path string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{path: path, logger: logger}
}

// Load reads the artifact from the bound path and swaps it in.
func (s *Store) Load() error {
	a, err := LoadArtifact(s.path)
	if err != nil {
		return err
	}
	s.current.Store(a)
	s.logger.Info("model loaded",
		"path", s.path,
		"version", a.Version,
		"features", len(a.FeatureNames),
		"classifier", a.Classifier != nil)
	return nil
}

// Swap installs an already-built artifact, bypassing disk.
func (s *Store) Swap(a *Artifact) {
	s.current.Store(a)
}

// Current returns the active artifact, or nil when none is loaded.
func (s *Store) Current() *Artifact {
	return s.current.Load()
}

// Score runs a vector through the active artifact.
func (s *Store) Score(values []float64) (*Scores, error) {
	a := s.current.Load()
	if a == nil {
		return nil, ErrNoModel
	}
	return a.ScoreVector(values)
}

// Path returns the bound artifact path.
func (s *Store) Path() string {
	return s.path
}
