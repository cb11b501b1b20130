// Package scoring orchestrates the full assessment pipeline: reference join,
// feature engineering, model scoring, rule screening and the final decision.
package scoring

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-agri/harrow/internal/decision"
	"github.com/opensource-agri/harrow/internal/domain"
	"github.com/opensource-agri/harrow/internal/features"
	"github.com/opensource-agri/harrow/internal/history"
	"github.com/opensource-agri/harrow/internal/model"
	"github.com/opensource-agri/harrow/internal/rules"
)

// EngineVersion identifies this pipeline build in assessment metadata.
const EngineVersion = "harrow-1.0"

// Service runs the scoring pipeline. All stages tolerate degraded inputs:
// missing reference rows, an absent model, or an empty rule set produce
// defensible assessments, never request failures.
type Service struct {
	refs     RefProvider
	engineer *features.Engineer
	history  *history.Service
	models   *model.Store
	rules    *rules.Engine
	decider  *decision.Engine
	repo     domain.Repository
	bus      domain.EventBus
	logger   *slog.Logger
}

// Config wires the pipeline dependencies. History, Repo and Bus are optional.
type Config struct {
	Refs     RefProvider
	History  *history.Service
	Models   *model.Store
	Rules    *rules.Engine
	Decider  *decision.Engine
	Repo     domain.Repository
	Bus      domain.EventBus
	Logger   *slog.Logger
}

// NewService creates the scoring orchestrator.
func NewService(cfg Config) (*Service, error) {
	if cfg.Refs == nil {
		return nil, fmt.Errorf("reference provider is required")
	}
	if cfg.Models == nil || cfg.Rules == nil || cfg.Decider == nil {
		return nil, fmt.Errorf("model store, rule engine and decision engine are required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		refs:     cfg.Refs,
		engineer: features.NewEngineer(),
		history:  cfg.History,
		models:   cfg.Models,
		rules:    cfg.Rules,
		decider:  cfg.Decider,
		repo:     cfg.Repo,
		bus:      cfg.Bus,
		logger:   logger,
	}, nil
}

// Score assesses one application end to end.
func (s *Service) Score(ctx context.Context, app *domain.Application) (*domain.Assessment, error) {
	refs, err := s.refs.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load reference data: %w", err)
	}
	return s.scoreWithRefs(ctx, app, refs)
}

// ScoreBatch assesses a slice of applications against one reference snapshot.
// Records are isolated: a failing record yields an ERROR assessment and the
// rest of the batch proceeds.
func (s *Service) ScoreBatch(ctx context.Context, apps []*domain.Application) ([]*domain.Assessment, error) {
	refs, err := s.refs.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load reference data: %w", err)
	}

	out := make([]*domain.Assessment, 0, len(apps))
	for _, app := range apps {
		a, err := s.scoreWithRefs(ctx, app, refs)
		if err != nil {
			s.logger.Error("batch record failed", "applicationId", appID(app), "error", err)
			a = s.errorAssessment(app, err)
		}
		out = append(out, a)
	}
	return out, nil
}

func (s *Service) scoreWithRefs(ctx context.Context, app *domain.Application, refs *domain.ReferenceSet) (*domain.Assessment, error) {
	if app == nil {
		return nil, fmt.Errorf("application is required")
	}
	start := time.Now()

	if app.ID == "" {
		app.ID = uuid.New().String()
	}
	if app.CreatedAt.IsZero() {
		app.CreatedAt = time.Now().UTC()
	}

	a := &domain.Assessment{
		ID:            uuid.New().String(),
		ApplicationID: app.ID,
		Timestamp:     time.Now().UTC(),
	}

	// History aggregates
	var hist *domain.HistoryStats
	if s.history != nil {
		hist, _ = s.history.Stats(ctx, app)
	}

	// Feature engineering
	featStart := time.Now()
	fv, err := s.engineer.Build(app, refs, hist)
	if err != nil {
		return nil, fmt.Errorf("feature engineering failed: %w", err)
	}
	a.Metadata.FeatureMs = time.Since(featStart).Milliseconds()

	// Model scoring. No model means UNKNOWN, a broken vector means ERROR;
	// neither fails the request.
	modelStart := time.Now()
	scores, err := s.models.Score(fv.Values)
	a.Metadata.ModelMs = time.Since(modelStart).Milliseconds()
	switch {
	case err == nil:
	case errors.Is(err, model.ErrNoModel):
		scores = nil
	case errors.Is(err, model.ErrShapeMismatch):
		s.logger.Error("model shape mismatch", "applicationId", app.ID, "error", err)
		s.finalize(ctx, app, s.errorFill(a, fv, err), start)
		return a, nil
	default:
		s.logger.Error("model scoring failed", "applicationId", app.ID, "error", err)
		s.finalize(ctx, app, s.errorFill(a, fv, err), start)
		return a, nil
	}

	// Deterministic screening
	rulesStart := time.Now()
	findings, evaluated, err := s.rules.EvaluateAll(ctx, app, fv)
	if err != nil {
		return nil, fmt.Errorf("rule evaluation failed: %w", err)
	}
	a.Metadata.RulesMs = time.Since(rulesStart).Milliseconds()
	a.Metadata.RulesEvaluated = evaluated

	// Decision
	s.decider.Decide(a, scores, findings)
	a.Reasons = append(a.Reasons, fv.Warnings...)

	fillDetails(a, fv, scores)
	if cur := s.models.Current(); cur != nil {
		a.Metadata.ModelVersion = cur.Version
	}

	s.finalize(ctx, app, a, start)
	return a, nil
}

// finalize stamps metadata, persists and publishes. Persistence and bus
// failures are logged, not surfaced: the assessment is already decided.
func (s *Service) finalize(ctx context.Context, app *domain.Application, a *domain.Assessment, start time.Time) {
	a.Metadata.TotalMs = time.Since(start).Milliseconds()
	a.Metadata.EngineVersion = EngineVersion
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		a.Metadata.TraceID = sc.TraceID().String()
	}

	if s.repo != nil {
		if err := s.repo.SaveApplication(ctx, app); err != nil {
			s.logger.Error("failed to persist application", "applicationId", app.ID, "error", err)
		}
		if err := s.repo.SaveAssessment(ctx, a); err != nil {
			s.logger.Error("failed to persist assessment", "assessmentId", a.ID, "error", err)
		}
	}

	if s.bus != nil {
		if payload, err := json.Marshal(a); err == nil {
			if err := s.bus.Publish(ctx, domain.TopicAssessmentCompleted, payload); err != nil {
				s.logger.Error("failed to publish assessment", "assessmentId", a.ID, "error", err)
			}
			if a.IsFlagged {
				if err := s.bus.Publish(ctx, domain.TopicAlert, payload); err != nil {
					s.logger.Error("failed to publish alert", "assessmentId", a.ID, "error", err)
				}
			}
		}
	}

	s.logger.Info("application scored",
		"applicationId", a.ApplicationID,
		"assessmentId", a.ID,
		"riskScore", a.RiskScore,
		"riskLevel", a.RiskLevel,
		"recommendation", a.Recommend,
		"totalMs", a.Metadata.TotalMs)
}

// errorFill marks an assessment as unscorable.
func (s *Service) errorFill(a *domain.Assessment, fv *domain.FeatureVector, err error) *domain.Assessment {
	a.RiskLevel = domain.RiskError
	a.Recommend = domain.RecommendManualReview
	a.Reasons = append(a.Reasons, fmt.Sprintf("scoring error: %v", err))
	if fv != nil {
		fillDetails(a, fv, nil)
	}
	a.Metadata.EngineVersion = EngineVersion
	return a
}

// errorAssessment builds a standalone ERROR assessment for a batch record
// that failed before reaching the pipeline.
func (s *Service) errorAssessment(app *domain.Application, err error) *domain.Assessment {
	a := &domain.Assessment{
		ID:            uuid.New().String(),
		ApplicationID: appID(app),
		Timestamp:     time.Now().UTC(),
	}
	return s.errorFill(a, nil, err)
}

func fillDetails(a *domain.Assessment, fv *domain.FeatureVector, scores *model.Scores) {
	a.Details.QuantityPerHa = fv.At("quantity_per_hectare")
	a.Details.QuantityVsAllowed = fv.At("quantity_vs_allowed")
	a.Details.AllowedQuantity = fv.At("allowed_quantity")
	a.Details.GhostFarmer = fv.GhostFarmer
	if fv.DistanceKnown {
		d := fv.At("distance_farmer_to_dealer_km")
		a.Details.DistanceKm = &d
	}
	if scores != nil {
		a.Details.IsolationScore = scores.Isolation
		a.Details.IsolationOutlier = scores.Outlier
		a.Details.XGBoostScore = scores.Classifier
	}
}

func appID(app *domain.Application) string {
	if app == nil {
		return ""
	}
	return app.ID
}
