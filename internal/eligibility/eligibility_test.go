package eligibility

import (
	"math"
	"testing"

	"github.com/opensource-agri/harrow/internal/domain"
)

func testNorms() []*domain.CropNorm {
	return []*domain.CropNorm{
		{Crop: "Paddy", FertilizerPerAcre: 50, SeedPerAcre: 30},
		{Crop: "Wheat", FertilizerPerAcre: 40, SeedPerAcre: 40},
		{Crop: "Hybrid Maize", FertilizerPerAcre: 60, SeedPerAcre: 8},
	}
}

func TestAllowedQuantityExactMatch(t *testing.T) {
	svc := NewService(testNorms())

	allowed, matched, matchType, err := svc.AllowedQuantity("Paddy", 5, CategoryFertilizer)
	if err != nil {
		t.Fatalf("AllowedQuantity failed: %v", err)
	}
	if allowed != 250 {
		t.Errorf("allowed = %v, want 250 (50 kg/acre x 5 acres)", allowed)
	}
	if matched != "Paddy" || matchType != MatchExact {
		t.Errorf("match = %q/%q, want Paddy/exact", matched, matchType)
	}
}

func TestLookupNormalization(t *testing.T) {
	svc := NewService(testNorms())

	allowed, _, matchType, err := svc.AllowedQuantity("  paddy ", 2, CategorySeed)
	if err != nil {
		t.Fatalf("AllowedQuantity failed: %v", err)
	}
	if allowed != 60 || matchType != MatchExact {
		t.Errorf("normalized lookup = %v/%s, want 60/exact", allowed, matchType)
	}
}

func TestLookupPartialMatch(t *testing.T) {
	svc := NewService(testNorms())

	// Query contained in a norm name.
	_, matched, matchType, err := svc.AllowedQuantity("Maize", 1, CategoryFertilizer)
	if err != nil {
		t.Fatalf("AllowedQuantity failed: %v", err)
	}
	if matched != "Hybrid Maize" || matchType != MatchPartial {
		t.Errorf("match = %q/%q, want Hybrid Maize/partial", matched, matchType)
	}

	// Norm name contained in the query.
	_, matched, matchType, err = svc.AllowedQuantity("Basmati Paddy", 1, CategoryFertilizer)
	if err != nil {
		t.Fatalf("AllowedQuantity failed: %v", err)
	}
	if matched != "Paddy" || matchType != MatchPartial {
		t.Errorf("match = %q/%q, want Paddy/partial", matched, matchType)
	}
}

func TestLookupAverageFallback(t *testing.T) {
	svc := NewService(testNorms())

	allowed, matched, matchType, err := svc.AllowedQuantity("Dragonfruit", 1, CategoryFertilizer)
	if err != nil {
		t.Fatalf("AllowedQuantity failed: %v", err)
	}
	if matchType != MatchAverage || matched != "" {
		t.Errorf("match = %q/%q, want empty/average", matched, matchType)
	}
	if want := 50.0; allowed != want {
		t.Errorf("average rate = %v, want %v", allowed, want)
	}
}

func TestCheckStatuses(t *testing.T) {
	svc := NewService(testNorms())

	cases := []struct {
		requested float64
		status    string
	}{
		{200, StatusApprove},
		{250, StatusApprove},   // exactly at allowance
		{275, StatusTolerance}, // exactly at allowance * 1.10
		{276, StatusAboveMax},
		{400, StatusAboveMax},
	}
	for _, tc := range cases {
		r, err := svc.Check("Paddy", 5, tc.requested, CategoryFertilizer)
		if err != nil {
			t.Fatalf("Check(%v) failed: %v", tc.requested, err)
		}
		if r.Status != tc.status {
			t.Errorf("requested %v: status = %s, want %s", tc.requested, r.Status, tc.status)
		}
	}
}

func TestCheckRatioAndIndicators(t *testing.T) {
	svc := NewService(testNorms())

	// Above 1.5x allowance: a strong over-claim indicator.
	r, err := svc.Check("Paddy", 5, 400, CategoryFertilizer)
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if math.Abs(r.Ratio-1.6) > 1e-12 {
		t.Errorf("ratio = %v, want 1.6", r.Ratio)
	}
	if len(r.Indicators) != 1 {
		t.Fatalf("indicators = %v, want exactly one", r.Indicators)
	}

	// Slightly over allowance: informational only.
	r, _ = svc.Check("Paddy", 5, 260, CategoryFertilizer)
	if len(r.Indicators) != 1 {
		t.Errorf("slight excess indicators = %v, want one informational", r.Indicators)
	}

	// Tiny request against large land: paper-record pattern.
	r, _ = svc.Check("Paddy", 5, 10, CategoryFertilizer)
	if len(r.Indicators) != 1 {
		t.Errorf("tiny request indicators = %v, want the paper-record signal", r.Indicators)
	}

	// Clean request carries no indicators.
	r, _ = svc.Check("Paddy", 5, 200, CategoryFertilizer)
	if len(r.Indicators) != 0 {
		t.Errorf("clean request indicators = %v, want none", r.Indicators)
	}
}

func TestCheckInvalidInput(t *testing.T) {
	svc := NewService(testNorms())
	if _, err := svc.Check("Paddy", -1, 10, CategoryFertilizer); err == nil {
		t.Error("expected error for negative land area")
	}
	if _, err := svc.Check("Paddy", 0, 10, CategoryFertilizer); err == nil {
		t.Error("expected error for zero land area")
	}
	if _, err := svc.Check("Paddy", 1, -10, CategoryFertilizer); err == nil {
		t.Error("expected error for negative quantity")
	}
	if _, err := svc.Check("Paddy", 1, 10, "pesticide"); err == nil {
		t.Error("expected error for unknown subsidy category")
	}
}

func TestCheckNoNormsLoaded(t *testing.T) {
	svc := NewService(nil)
	if _, err := svc.Check("Paddy", 1, 10, CategoryFertilizer); err == nil {
		t.Error("expected error with empty norm table")
	}
}

func TestSetNormsSwapsTable(t *testing.T) {
	svc := NewService(testNorms())
	svc.SetNorms([]*domain.CropNorm{{Crop: "Cotton", FertilizerPerAcre: 45, SeedPerAcre: 2}})

	if len(svc.Norms()) != 1 {
		t.Fatalf("norms = %d, want 1 after swap", len(svc.Norms()))
	}
	allowed, _, matchType, err := svc.AllowedQuantity("Cotton", 2, CategoryFertilizer)
	if err != nil {
		t.Fatalf("AllowedQuantity failed: %v", err)
	}
	if allowed != 90 || matchType != MatchExact {
		t.Errorf("post-swap lookup = %v/%s, want 90/exact", allowed, matchType)
	}
}
