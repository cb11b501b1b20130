package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/opensource-agri/harrow/internal/domain"
	"github.com/opensource-agri/harrow/internal/eligibility"
	"github.com/opensource-agri/harrow/internal/features"
	"github.com/opensource-agri/harrow/internal/model"
	"github.com/opensource-agri/harrow/internal/rules"
	"github.com/opensource-agri/harrow/internal/scoring"
)

// autoSubsidyShare is the fraction of the scheme subsidy cap granted when a
// request passes the "AUTO" marker for the subsidy amount.
const autoSubsidyShare = 0.55

// Handler holds dependencies for API handlers.
type Handler struct {
	repo        domain.Repository
	cache       domain.Cache
	bus         domain.EventBus
	scorer      *scoring.Service
	refs        scoring.RefProvider
	engine      *rules.Engine
	eligibility *eligibility.Service
	models      *model.Store
	version     string
}

// NewHandler creates a new API handler.
func NewHandler(repo domain.Repository, cache domain.Cache, bus domain.EventBus, scorer *scoring.Service, refs scoring.RefProvider, engine *rules.Engine, elig *eligibility.Service, models *model.Store, version string) *Handler {
	return &Handler{
		repo:        repo,
		cache:       cache,
		bus:         bus,
		scorer:      scorer,
		refs:        refs,
		engine:      engine,
		eligibility: elig,
		models:      models,
		version:     version,
	}
}

// timestampLayouts are accepted request timestamp formats, tried in order.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// parseTimestamp returns the zero time for malformed input. Downstream
// feature engineering substitutes neutral temporal defaults, so a bad
// timestamp degrades a few features instead of failing the request.
func parseTimestamp(s string) time.Time {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

// toApplication converts a request into a scoring-ready application,
// resolving "AUTO" quantity/subsidy markers against the scheme caps.
func (h *Handler) toApplication(ctx context.Context, req *domain.ApplicationRequest) (*domain.Application, error) {
	app := &domain.Application{
		FarmerID:      req.FarmerID,
		DealerID:      req.DealerID,
		ProductType:   req.ProductType,
		CropType:      req.CropType,
		Season:        req.Season,
		QuantityKg:    req.QuantityKg.Value,
		SubsidyAmt:    req.SubsidyAmt.Value,
		AmountPaid:    req.AmountPaid,
		ClaimedLandHa: req.ClaimedLandHa,
		InvoiceNo:     req.InvoiceNo,
		PaymentMode:   req.PaymentMode,
		DeliveryMode:  req.DeliveryMode,
		CreatedAt:     time.Now().UTC(),
		Metadata:      req.Metadata,
	}

	if req.GeoLat != nil && req.GeoLon != nil {
		app.GeoLat = *req.GeoLat
		app.GeoLon = *req.GeoLon
		app.HasCoord = true
	}

	if req.Timestamp != "" {
		app.Timestamp = parseTimestamp(req.Timestamp)
	} else {
		app.Timestamp = time.Now().UTC()
	}

	if req.Season == "" && !app.Timestamp.IsZero() {
		app.Season = features.SeasonForTime(app.Timestamp).Name
	}

	if req.QuantityKg.Auto || req.SubsidyAmt.Auto {
		refs, err := h.refs.Snapshot(ctx)
		if err != nil {
			return nil, err
		}
		rule := features.LookupSchemeRule(refs.SchemeRules, app.ProductType, app.Season, app.CropType)
		if rule != nil {
			if req.QuantityKg.Auto {
				app.QuantityKg = rule.MaxQtyPerHa * app.ClaimedLandHa
			}
			if req.SubsidyAmt.Auto {
				app.SubsidyAmt = autoSubsidyShare * rule.MaxSubsidyAmt
			}
		}
	}

	return app, nil
}

// validateApplication checks the fields scoring cannot degrade around.
func validateApplication(app *domain.Application) string {
	if app.FarmerID == "" {
		return "farmerId is required"
	}
	if app.DealerID == "" {
		return "dealerId is required"
	}
	if app.QuantityKg <= 0 {
		return "quantityKg must be positive (or \"AUTO\" with a matching scheme rule)"
	}
	return ""
}

// ScoreApplication handles POST /applications/score.
func (h *Handler) ScoreApplication(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req domain.ApplicationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	app, err := h.toApplication(ctx, &req)
	if err != nil {
		slog.Error("failed to resolve application", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "reference data unavailable",
		})
		return
	}

	if msg := validateApplication(app); msg != "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": msg})
		return
	}

	assessment, err := h.scorer.Score(ctx, app)
	if err != nil {
		slog.Error("scoring failed", "application_id", app.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "scoring failed",
		})
		return
	}

	writeJSON(w, http.StatusOK, assessment.ToResponse())
}

// BatchScoreRequest is the request body for POST /applications/score/batch.
type BatchScoreRequest struct {
	Applications []domain.ApplicationRequest `json:"applications"`
}

// BatchScoreResponse is the response for POST /applications/score/batch.
type BatchScoreResponse struct {
	Results []*domain.ScoreResponse `json:"results"`
	Count   int                     `json:"count"`
	Flagged int                     `json:"flagged"`
}

// ScoreBatch handles POST /applications/score/batch.
// One malformed record degrades to an ERROR assessment, it never aborts
// the rest of the batch.
func (h *Handler) ScoreBatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req BatchScoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if len(req.Applications) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "applications must not be empty",
		})
		return
	}

	apps := make([]*domain.Application, len(req.Applications))
	for i := range req.Applications {
		app, err := h.toApplication(ctx, &req.Applications[i])
		if err != nil {
			slog.Error("failed to resolve application", "index", i, "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"error": "reference data unavailable",
			})
			return
		}
		apps[i] = app
	}

	assessments, err := h.scorer.ScoreBatch(ctx, apps)
	if err != nil {
		slog.Error("batch scoring failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "batch scoring failed",
		})
		return
	}

	resp := BatchScoreResponse{
		Results: make([]*domain.ScoreResponse, len(assessments)),
		Count:   len(assessments),
	}
	for i, a := range assessments {
		resp.Results[i] = a.ToResponse()
		if a.IsFlagged {
			resp.Flagged++
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// GetAssessment retrieves an assessment by ID.
func (h *Handler) GetAssessment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	if id == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "assessment id is required",
		})
		return
	}

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	assessment, err := h.repo.GetAssessment(ctx, id)
	if err != nil {
		slog.Error("failed to get assessment", "id", id, "error", err)
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "assessment not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, assessment)
}

// EligibilityRequest is the request body for POST /eligibility/check.
type EligibilityRequest struct {
	Crop        string  `json:"crop"`
	LandAcres   float64 `json:"landAcres"`
	RequestedKg float64 `json:"requestedQuantityKg"`
	SubsidyType string  `json:"subsidyType,omitempty"`
}

// CheckEligibility handles POST /eligibility/check.
func (h *Handler) CheckEligibility(w http.ResponseWriter, r *http.Request) {
	var req EligibilityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	result, err := h.eligibility.Check(req.Crop, req.LandAcres, req.RequestedKg, req.SubsidyType)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// GetNorms handles GET /norms.
func (h *Handler) GetNorms(w http.ResponseWriter, r *http.Request) {
	norms := h.eligibility.Norms()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"norms": norms,
		"count": len(norms),
	})
}

// SeasonRecommendation handles GET /seasons/recommendation.
// The month query parameter (1-12) defaults to the current month.
func (h *Handler) SeasonRecommendation(w http.ResponseWriter, r *http.Request) {
	month := int(time.Now().UTC().Month())
	if raw := r.URL.Query().Get("month"); raw != "" {
		m, err := strconv.Atoi(raw)
		if err != nil || m < 1 || m > 12 {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "month must be an integer between 1 and 12",
			})
			return
		}
		month = m
	}

	season := features.SeasonForMonth(month)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"month":               month,
		"season":              season.Name,
		"recommendedProducts": season.Products,
		"typicalCrops":        season.Crops,
	})
}

// FraudStats handles GET /stats/fraud.
func (h *Handler) FraudStats(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	stats, err := h.repo.AssessmentStats(r.Context())
	if err != nil {
		slog.Error("failed to compute fraud stats", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to compute fraud stats",
		})
		return
	}

	writeJSON(w, http.StatusOK, stats)
}

// ListRules returns all loaded rules from the engine.
// Rules are loaded at startup and can be hot-reloaded via POST /rules/reload.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	loadedRules := h.engine.GetLoadedRules()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"rules": loadedRules,
		"count": len(loadedRules),
	})
}

// GetRule retrieves a rule by ID from the loaded engine rules.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	ruleID := chi.URLParam(r, "id")

	if ruleID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "rule id is required",
		})
		return
	}

	for _, rule := range h.engine.GetLoadedRules() {
		if rule.ID == ruleID {
			writeJSON(w, http.StatusOK, rule)
			return
		}
	}

	writeJSON(w, http.StatusNotFound, map[string]string{
		"error": "rule not found",
	})
}

// CreateRuleRequest is the request body for creating a rule.
type CreateRuleRequest struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Expression  string            `json:"expression"`
	Bands       []domain.RuleBand `json:"bands"`
	Enabled     bool              `json:"enabled"`
}

// CreateRule validates and persists a new screening rule.
// After saving, call POST /rules/reload to hot-reload into the engine.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreateRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	// Validate
	if req.ID == "" || req.Name == "" || req.Expression == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "id, name, and expression are required",
		})
		return
	}

	ruleConfig := &domain.RuleConfig{
		ID:          req.ID,
		Name:        req.Name,
		Description: req.Description,
		Version:     "1.0.0",
		Expression:  req.Expression,
		Bands:       req.Bands,
		Enabled:     req.Enabled,
	}

	// Validate CEL expression without mutating the live rule set
	if err := h.engine.ValidateRule(ruleConfig); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid CEL expression: " + err.Error(),
		})
		return
	}

	if h.repo != nil {
		if err := h.repo.SaveRuleConfig(ctx, ruleConfig); err != nil {
			slog.Error("failed to save rule config", "id", ruleConfig.ID, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to save rule",
			})
			return
		}
	}

	slog.Info("rule created", "id", ruleConfig.ID, "name", ruleConfig.Name)
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"rule":    ruleConfig,
		"message": "Rule created. Call POST /rules/reload to apply changes.",
	})
}

// ReloadRules reloads all rules from the repository into the engine.
// Falls back to the builtin rule set when the repository holds none.
func (h *Handler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	dbRules, err := h.repo.ListRuleConfigs(ctx)
	if err != nil {
		slog.Error("failed to list rules from database", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load rules from database",
		})
		return
	}

	source := "database"
	if len(dbRules) == 0 {
		dbRules = rules.BuiltinRules()
		source = "builtin"
	}

	if err := h.engine.ReloadRules(dbRules); err != nil {
		slog.Error("failed to reload rules into engine", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to reload rules: " + err.Error(),
		})
		return
	}

	slog.Info("rules reloaded", "count", len(dbRules), "source", source)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "rules reloaded successfully",
		"count":   len(dbRules),
		"source":  source,
	})
}

// GetModel returns metadata for the currently loaded model artifact.
func (h *Handler) GetModel(w http.ResponseWriter, r *http.Request) {
	artifact := h.models.Current()
	if artifact == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "no model loaded",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"version":           artifact.Version,
		"trainedAt":         artifact.TrainedAt,
		"featureCount":      len(artifact.FeatureNames),
		"classifierTrained": artifact.Classifier != nil,
		"metrics":           artifact.Metrics,
	})
}

// ReloadModel re-reads the artifact bundle from disk and hot-swaps it.
func (h *Handler) ReloadModel(w http.ResponseWriter, r *http.Request) {
	if err := h.models.Load(); err != nil {
		slog.Error("model reload failed", "path", h.models.Path(), "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "model reload failed: " + err.Error(),
		})
		return
	}

	artifact := h.models.Current()

	if h.bus != nil {
		payload, _ := json.Marshal(map[string]string{"version": artifact.Version})
		if err := h.bus.Publish(r.Context(), domain.TopicModelReloaded, payload); err != nil {
			slog.Error("failed to publish model reload event", "error", err)
		}
	}

	slog.Info("model reloaded", "version", artifact.Version, "path", h.models.Path())
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "model reloaded successfully",
		"version": artifact.Version,
	})
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	// Check repository health
	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	// Check cache health
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
