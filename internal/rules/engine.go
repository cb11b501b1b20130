// Package rules provides the CEL-Go based deterministic screening engine.
package rules

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"

	"github.com/opensource-agri/harrow/internal/domain"
)

// Engine is the CEL-based screening engine. Rules are CEL expressions over
// the engineered feature activation; bands map results to severities.
type Engine struct {
	mu            sync.RWMutex
	env           *cel.Env
	compiledRules map[string]*CompiledRule
	maxWorkers    int
}

// CompiledRule holds a pre-compiled CEL program.
type CompiledRule struct {
	Config  *domain.RuleConfig
	Program cel.Program
}

// NewEngine creates a screening engine.
func NewEngine(maxWorkers int) (*Engine, error) {
	if maxWorkers <= 0 {
		maxWorkers = 10
	}

	// Declare the full feature activation: every engineered feature by name,
	// the signal flags, and the categorical application fields.
	opts := []cel.EnvOption{
		cel.Variable("app", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("ghost_farmer", cel.BoolType),
		cel.Variable("unknown_dealer", cel.BoolType),
		cel.Variable("rule_missing", cel.BoolType),
		cel.Variable("distance_known", cel.BoolType),
		cel.Variable("season_mismatch", cel.BoolType),
		cel.Variable("payment_mode", cel.StringType),
		cel.Variable("delivery_mode", cel.StringType),
		cel.Variable("product_type", cel.StringType),
		cel.Variable("crop_type", cel.StringType),
		cel.Variable("season", cel.StringType),
	}
	for _, name := range domain.FeatureOrder {
		opts = append(opts, cel.Variable(name, cel.DoubleType))
	}

	env, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{
		env:           env,
		compiledRules: make(map[string]*CompiledRule),
		maxWorkers:    maxWorkers,
	}, nil
}

// ValidateRule compiles a rule without mutating loaded engine rules.
func (e *Engine) ValidateRule(cfg *domain.RuleConfig) error {
	if cfg == nil {
		return fmt.Errorf("rule config is required")
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	_, err := e.compileRule(cfg)
	return err
}

// LoadRule compiles and loads a rule into the engine.
func (e *Engine) LoadRule(cfg *domain.RuleConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	compiled, err := e.compileRule(cfg)
	if err != nil {
		return err
	}

	e.compiledRules[cfg.ID] = compiled
	return nil
}

// LoadRules compiles and loads multiple rules. Disabled rules are skipped.
func (e *Engine) LoadRules(configs []*domain.RuleConfig) error {
	for _, cfg := range configs {
		if cfg.Enabled {
			if err := e.LoadRule(cfg); err != nil {
				return err
			}
		}
	}
	return nil
}

// EvaluateAll runs every loaded rule against the application and its feature
// vector. Returns only the findings that fired, plus the count of rules
// evaluated.
func (e *Engine) EvaluateAll(ctx context.Context, app *domain.Application, fv *domain.FeatureVector) ([]domain.Finding, int, error) {
	e.mu.RLock()
	rules := make([]*CompiledRule, 0, len(e.compiledRules))
	for _, rule := range e.compiledRules {
		rules = append(rules, rule)
	}
	e.mu.RUnlock()

	if len(rules) == 0 {
		return nil, 0, nil
	}
	sort.Slice(rules, func(i, j int) bool { return rules[i].Config.ID < rules[j].Config.ID })

	activation := buildActivation(app, fv)

	// Parallel evaluation with bounded concurrency.
	results := make([]*domain.Finding, len(rules))
	var wg sync.WaitGroup
	sem := make(chan struct{}, e.maxWorkers)

	for i, rule := range rules {
		wg.Add(1)
		go func(idx int, r *CompiledRule) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			results[idx] = e.evaluateRule(r, activation)
		}(i, rule)
	}
	wg.Wait()

	findings := make([]domain.Finding, 0, len(rules))
	for _, f := range results {
		if f != nil {
			findings = append(findings, *f)
		}
	}
	return findings, len(rules), nil
}

// evaluateRule runs one rule; returns nil when no band matched.
func (e *Engine) evaluateRule(rule *CompiledRule, activation map[string]any) *domain.Finding {
	start := time.Now()

	out, _, err := rule.Program.Eval(activation)
	if err != nil {
		// An unevaluable rule is itself a finding: a silent pass would hide
		// misconfigured screening.
		return &domain.Finding{
			RuleID:    rule.Config.ID,
			Condition: rule.Config.Name,
			Severity:  domain.SeverityMedium,
			Reason:    fmt.Sprintf("rule evaluation error: %v", err),
			ProcessMs: time.Since(start).Milliseconds(),
		}
	}

	value := toScore(out)
	severity, reason := matchBand(value, rule.Config.Bands)
	if severity == domain.SeverityNone {
		return nil
	}

	return &domain.Finding{
		RuleID:    rule.Config.ID,
		Condition: rule.Config.Name,
		Severity:  severity,
		Value:     value,
		Reason:    reason,
		ProcessMs: time.Since(start).Milliseconds(),
	}
}

// buildActivation flattens the application and feature vector into the CEL
// variable set declared by NewEngine.
func buildActivation(app *domain.Application, fv *domain.FeatureVector) map[string]any {
	activation := map[string]any{
		"ghost_farmer":    fv.GhostFarmer,
		"unknown_dealer":  fv.UnknownDealer,
		"rule_missing":    fv.RuleMissing,
		"distance_known":  fv.DistanceKnown,
		"season_mismatch": fv.SeasonMismatch,
		"payment_mode":    app.PaymentMode,
		"delivery_mode":   app.DeliveryMode,
		"product_type":    app.ProductType,
		"crop_type":       app.CropType,
		"season":          app.Season,
	}
	for i, name := range domain.FeatureOrder {
		if i < len(fv.Values) {
			activation[name] = fv.Values[i]
		} else {
			activation[name] = 0.0
		}
	}
	activation["app"] = map[string]any{
		"id":        app.ID,
		"farmer_id": app.FarmerID,
		"dealer_id": app.DealerID,
		"invoice":   app.InvoiceNo,
	}
	return activation
}

// toScore converts a CEL value to a numeric result.
func toScore(val ref.Val) float64 {
	switch v := val.(type) {
	case types.Bool:
		if v {
			return 1.0
		}
		return 0.0
	case types.Double:
		return float64(v)
	case types.Int:
		return float64(v)
	default:
		return 0.0
	}
}

// matchBand finds the matching band for a value. Bands are evaluated in
// order: lower inclusive, upper exclusive, nil upper means unbounded.
func matchBand(value float64, bands []domain.RuleBand) (string, string) {
	for _, band := range bands {
		lower := 0.0
		if band.LowerLimit != nil {
			lower = *band.LowerLimit
		}
		if value < lower {
			continue
		}
		if band.UpperLimit == nil || value < *band.UpperLimit {
			return band.Severity, band.Reason
		}
	}
	return domain.SeverityNone, ""
}

// RulesCount returns the number of loaded rules.
func (e *Engine) RulesCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.compiledRules)
}

// ReloadRules atomically replaces the loaded rule set.
func (e *Engine) ReloadRules(configs []*domain.RuleConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	newRules := make(map[string]*CompiledRule)
	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}
		compiled, err := e.compileRule(cfg)
		if err != nil {
			return err
		}
		newRules[cfg.ID] = compiled
	}

	e.compiledRules = newRules
	return nil
}

// GetLoadedRules returns the currently loaded rule configurations.
func (e *Engine) GetLoadedRules() []*domain.RuleConfig {
	e.mu.RLock()
	defer e.mu.RUnlock()

	rules := make([]*domain.RuleConfig, 0, len(e.compiledRules))
	for _, compiled := range e.compiledRules {
		rules = append(rules, compiled.Config)
	}
	return rules
}

// Close cleans up the engine.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.compiledRules = make(map[string]*CompiledRule)
	return nil
}

func (e *Engine) compileRule(cfg *domain.RuleConfig) (*CompiledRule, error) {
	ast, issues := e.env.Compile(cfg.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile rule %s: %w", cfg.ID, issues.Err())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for rule %s: %w", cfg.ID, err)
	}

	return &CompiledRule{Config: cfg, Program: program}, nil
}
