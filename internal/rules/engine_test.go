package rules

import (
	"context"
	"testing"

	"github.com/opensource-agri/harrow/internal/domain"
)

// vector builds a feature vector with named overrides.
func vector(overrides map[string]float64) *domain.FeatureVector {
	fv := &domain.FeatureVector{Values: make([]float64, domain.FeatureCount)}
	for i, name := range domain.FeatureOrder {
		if v, ok := overrides[name]; ok {
			fv.Values[i] = v
		}
	}
	return fv
}

func builtinEngine(t *testing.T) *Engine {
	t.Helper()
	engine, err := NewEngine(5)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	if err := engine.LoadRules(BuiltinRules()); err != nil {
		t.Fatalf("LoadRules failed: %v", err)
	}
	return engine
}

func findingFor(findings []domain.Finding, ruleID string) *domain.Finding {
	for i := range findings {
		if findings[i].RuleID == ruleID {
			return &findings[i]
		}
	}
	return nil
}

func TestLoadAndCountRules(t *testing.T) {
	engine := builtinEngine(t)
	defer engine.Close()

	if engine.RulesCount() != 12 {
		t.Errorf("expected 12 builtin rules, got %d", engine.RulesCount())
	}
}

func TestLoadInvalidRule(t *testing.T) {
	engine, _ := NewEngine(5)
	defer engine.Close()

	rule := &domain.RuleConfig{
		ID:         "invalid-rule",
		Name:       "Invalid Rule",
		Expression: "this is not valid CEL !!!",
		Enabled:    true,
	}
	if err := engine.LoadRule(rule); err == nil {
		t.Error("expected error for invalid CEL expression")
	}
}

func TestValidateRuleDoesNotLoad(t *testing.T) {
	engine, _ := NewEngine(5)
	defer engine.Close()

	rule := &domain.RuleConfig{
		ID:         "check-only",
		Name:       "Check Only",
		Expression: "quantity_kg > 10.0",
		Enabled:    true,
	}
	if err := engine.ValidateRule(rule); err != nil {
		t.Fatalf("ValidateRule failed: %v", err)
	}
	if engine.RulesCount() != 0 {
		t.Error("ValidateRule must not load the rule")
	}
}

func TestCleanApplicationNoFindings(t *testing.T) {
	engine := builtinEngine(t)
	defer engine.Close()

	app := &domain.Application{PaymentMode: "UPI", DeliveryMode: "POS"}
	fv := vector(map[string]float64{
		"quantity_kg":          100,
		"land_holding_ha":      2,
		"claimed_land_area_ha": 2,
		"quantity_per_hectare": 50,
		"allowed_quantity":     200,
		"quantity_vs_allowed":  -100,
		"max_subsidy_amount":   5000,
		"subsidy_amount":       2000,
		"subsidy_vs_allowed":   -3000,
	})

	findings, evaluated, err := engine.EvaluateAll(context.Background(), app, fv)
	if err != nil {
		t.Fatalf("EvaluateAll failed: %v", err)
	}
	if evaluated != 12 {
		t.Errorf("evaluated = %d, want 12", evaluated)
	}
	if len(findings) != 0 {
		t.Errorf("expected no findings for clean application, got %v", findings)
	}
}

func TestGhostFarmerCritical(t *testing.T) {
	engine := builtinEngine(t)
	defer engine.Close()

	fv := vector(nil)
	fv.GhostFarmer = true

	findings, _, err := engine.EvaluateAll(context.Background(), &domain.Application{}, fv)
	if err != nil {
		t.Fatalf("EvaluateAll failed: %v", err)
	}
	f := findingFor(findings, "ghost-farmer")
	if f == nil {
		t.Fatal("expected ghost-farmer finding")
	}
	if f.Severity != domain.SeverityCritical {
		t.Errorf("severity = %s, want CRITICAL", f.Severity)
	}
}

func TestQuantityOverEntitlement(t *testing.T) {
	engine := builtinEngine(t)
	defer engine.Close()

	fv := vector(map[string]float64{
		"quantity_kg":         300,
		"allowed_quantity":    200,
		"quantity_vs_allowed": 100,
	})
	findings, _, _ := engine.EvaluateAll(context.Background(), &domain.Application{}, fv)
	f := findingFor(findings, "quantity-over-entitlement")
	if f == nil || f.Severity != domain.SeverityHigh {
		t.Fatalf("expected HIGH quantity-over-entitlement finding, got %v", f)
	}

	// A missing scheme rule zeroes the caps, so the differences equal the raw
	// quantity and subsidy and the checks still fire. Fail closed.
	fv = vector(map[string]float64{
		"quantity_kg":         300,
		"quantity_vs_allowed": 300,
		"subsidy_amount":      1000,
		"subsidy_vs_allowed":  1000,
	})
	fv.RuleMissing = true
	findings, _, _ = engine.EvaluateAll(context.Background(), &domain.Application{}, fv)
	if findingFor(findings, "quantity-over-entitlement") == nil {
		t.Error("uncapped quantity must fire the cap check when no scheme rule matched")
	}
	if findingFor(findings, "subsidy-over-cap") == nil {
		t.Error("uncapped subsidy must fire the cap check when no scheme rule matched")
	}
}

func TestLandHoldingOutliers(t *testing.T) {
	engine := builtinEngine(t)
	defer engine.Close()

	for _, tc := range []struct {
		holding float64
		ruleID  string
	}{
		{150, "large-land-holding"},
		{0.1, "small-land-holding"},
	} {
		fv := vector(map[string]float64{"land_holding_ha": tc.holding})
		findings, _, _ := engine.EvaluateAll(context.Background(), &domain.Application{}, fv)
		f := findingFor(findings, tc.ruleID)
		if f == nil || f.Severity != domain.SeverityMedium {
			t.Errorf("holding %v ha: finding = %v, want MEDIUM %s", tc.holding, f, tc.ruleID)
		}
	}

	// An in-range holding fires neither bound.
	fv := vector(map[string]float64{"land_holding_ha": 2})
	findings, _, _ := engine.EvaluateAll(context.Background(), &domain.Application{}, fv)
	if findingFor(findings, "large-land-holding") != nil || findingFor(findings, "small-land-holding") != nil {
		t.Errorf("2 ha holding fired an outlier rule: %v", findings)
	}

	// A holding absent from the registry is ghost-farmer territory, not a
	// small-holding outlier.
	fv = vector(map[string]float64{"land_holding_ha": 0})
	findings, _, _ = engine.EvaluateAll(context.Background(), &domain.Application{}, fv)
	if findingFor(findings, "small-land-holding") != nil {
		t.Error("zero holding must not fire the small-holding rule")
	}
}

func TestLandOverclaimBands(t *testing.T) {
	engine := builtinEngine(t)
	defer engine.Close()

	cases := []struct {
		claimed  float64
		holding  float64
		severity string
	}{
		{3, 2, domain.SeverityNone},   // 1.5x
		{4.5, 2, domain.SeverityMedium}, // 2.25x
		{11, 2, domain.SeverityHigh},  // 5.5x
	}
	for _, tc := range cases {
		fv := vector(map[string]float64{
			"claimed_land_area_ha": tc.claimed,
			"land_holding_ha":      tc.holding,
		})
		findings, _, _ := engine.EvaluateAll(context.Background(), &domain.Application{}, fv)
		f := findingFor(findings, "land-overclaim")
		if tc.severity == domain.SeverityNone {
			if f != nil {
				t.Errorf("claim %vx: unexpected finding %v", tc.claimed/tc.holding, f)
			}
			continue
		}
		if f == nil || f.Severity != tc.severity {
			t.Errorf("claim %vx: finding = %v, want %s", tc.claimed/tc.holding, f, tc.severity)
		}
	}
}

func TestDistanceBands(t *testing.T) {
	engine := builtinEngine(t)
	defer engine.Close()

	for _, tc := range []struct {
		km       float64
		severity string
	}{
		{100, domain.SeverityNone},
		{500, domain.SeverityMedium},
		{750, domain.SeverityMedium},
		{1000, domain.SeverityHigh},
		{1500, domain.SeverityHigh},
	} {
		fv := vector(map[string]float64{"distance_farmer_to_dealer_km": tc.km})
		fv.DistanceKnown = true
		findings, _, _ := engine.EvaluateAll(context.Background(), &domain.Application{}, fv)
		f := findingFor(findings, "implausible-distance")
		if tc.severity == domain.SeverityNone {
			if f != nil {
				t.Errorf("%v km: unexpected finding %v", tc.km, f)
			}
			continue
		}
		if f == nil || f.Severity != tc.severity {
			t.Errorf("%v km: finding = %v, want %s", tc.km, f, tc.severity)
		}
	}
}

func TestDistanceUnknownDoesNotFire(t *testing.T) {
	engine := builtinEngine(t)
	defer engine.Close()

	fv := vector(map[string]float64{"distance_farmer_to_dealer_km": 2000})
	fv.DistanceKnown = false
	findings, _, _ := engine.EvaluateAll(context.Background(), &domain.Application{}, fv)
	if findingFor(findings, "implausible-distance") != nil {
		t.Error("distance rule must not fire when coordinates are unknown")
	}
}

func TestCashManualEntry(t *testing.T) {
	engine := builtinEngine(t)
	defer engine.Close()

	app := &domain.Application{PaymentMode: "Cash", DeliveryMode: "ManualEntry"}
	findings, _, _ := engine.EvaluateAll(context.Background(), app, vector(nil))
	if f := findingFor(findings, "cash-manual-entry"); f == nil || f.Severity != domain.SeverityHigh {
		t.Fatalf("expected HIGH cash-manual-entry finding, got %v", f)
	}

	app.PaymentMode = "UPI"
	findings, _, _ = engine.EvaluateAll(context.Background(), app, vector(nil))
	if findingFor(findings, "cash-manual-entry") != nil {
		t.Error("UPI payment must not fire the cash rule")
	}
}

func TestQuantityDensityBands(t *testing.T) {
	engine := builtinEngine(t)
	defer engine.Close()

	for _, tc := range []struct {
		density  float64
		severity string
	}{
		{80, domain.SeverityNone},
		{100, domain.SeverityMedium},
		{199, domain.SeverityMedium},
		{200, domain.SeverityHigh},
	} {
		fv := vector(map[string]float64{"quantity_per_hectare": tc.density})
		findings, _, _ := engine.EvaluateAll(context.Background(), &domain.Application{}, fv)
		f := findingFor(findings, "quantity-density")
		if tc.severity == domain.SeverityNone {
			if f != nil {
				t.Errorf("density %v: unexpected finding %v", tc.density, f)
			}
			continue
		}
		if f == nil || f.Severity != tc.severity {
			t.Errorf("density %v: finding = %v, want %s", tc.density, f, tc.severity)
		}
	}
}

func TestTokenQuantity(t *testing.T) {
	engine := builtinEngine(t)
	defer engine.Close()

	fv := vector(map[string]float64{"quantity_kg": 0.25})
	findings, _, _ := engine.EvaluateAll(context.Background(), &domain.Application{}, fv)
	if f := findingFor(findings, "token-quantity"); f == nil || f.Severity != domain.SeverityMedium {
		t.Fatalf("expected MEDIUM token-quantity finding, got %v", f)
	}

	// Zero quantity is handled by eligibility, not this rule.
	fv = vector(map[string]float64{"quantity_kg": 0})
	findings, _, _ = engine.EvaluateAll(context.Background(), &domain.Application{}, fv)
	if findingFor(findings, "token-quantity") != nil {
		t.Error("zero quantity must not fire the token rule")
	}
}

func TestDuplicateInvoiceAndSeasonMismatch(t *testing.T) {
	engine := builtinEngine(t)
	defer engine.Close()

	fv := vector(map[string]float64{"invoice_duplicate_flag": 1})
	fv.SeasonMismatch = true
	findings, _, _ := engine.EvaluateAll(context.Background(), &domain.Application{}, fv)

	if f := findingFor(findings, "duplicate-invoice"); f == nil || f.Severity != domain.SeverityHigh {
		t.Errorf("expected HIGH duplicate-invoice finding, got %v", f)
	}
	if f := findingFor(findings, "crop-season-mismatch"); f == nil || f.Severity != domain.SeverityMedium {
		t.Errorf("expected MEDIUM crop-season-mismatch finding, got %v", f)
	}
}

func TestReloadRules(t *testing.T) {
	engine := builtinEngine(t)
	defer engine.Close()

	replacement := []*domain.RuleConfig{
		{
			ID:         "only-rule",
			Name:       "Only Rule",
			Expression: "quantity_kg > 1000.0",
			Bands:      []domain.RuleBand{{LowerLimit: f(1), Severity: domain.SeverityHigh, Reason: "big"}},
			Enabled:    true,
		},
		{
			ID:         "disabled-rule",
			Name:       "Disabled",
			Expression: "true",
			Enabled:    false,
		},
	}
	if err := engine.ReloadRules(replacement); err != nil {
		t.Fatalf("ReloadRules failed: %v", err)
	}
	if engine.RulesCount() != 1 {
		t.Errorf("expected 1 rule after reload, got %d", engine.RulesCount())
	}

	// A bad reload must not clobber the active set.
	bad := []*domain.RuleConfig{{ID: "broken", Expression: "!!!", Enabled: true}}
	if err := engine.ReloadRules(bad); err == nil {
		t.Fatal("expected reload error for invalid rule")
	}
	if engine.RulesCount() != 1 {
		t.Errorf("failed reload must leave prior rules, got %d", engine.RulesCount())
	}
}
