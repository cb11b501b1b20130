package features

import (
	"math"
	"testing"
	"time"

	"github.com/opensource-agri/harrow/internal/domain"
)

func testRefs() *domain.ReferenceSet {
	return &domain.ReferenceSet{
		Farmers: map[string]*domain.Farmer{
			"F001": {ID: "F001", District: "Nashik", LandHoldingHa: 2.0},
		},
		Dealers: map[string]*domain.Dealer{
			"D001": {
				ID: "D001", District: "Nashik",
				Lat: 19.9975, Lon: 73.7898, HasCoord: true,
				NumOutlets: 2, AvgMonthlyTxn: 150, InventoryReceivedKg: 50000,
			},
		},
		SchemeRules: []*domain.SchemeRule{
			{ID: "SR1", ProductType: "Urea", Season: "Rabi", MaxQtyPerHa: 100, MaxSubsidyAmt: 5000, EligibilityMin: 0.5, EligibilityMax: 10, ApplicableCrops: "Wheat,Mustard"},
			{ID: "SR2", ProductType: "DAP", Season: "Kharif", MaxQtyPerHa: 50, MaxSubsidyAmt: 3000, ApplicableCrops: "Paddy"},
		},
	}
}

func testApp() *domain.Application {
	return &domain.Application{
		ID: "APP-1", FarmerID: "F001", DealerID: "D001",
		ProductType: "Urea", CropType: "Wheat", Season: "Rabi",
		QuantityKg: 150, SubsidyAmt: 2500, AmountPaid: 1000,
		ClaimedLandHa: 2.0, InvoiceNo: "INV-1",
		PaymentMode: "UPI", DeliveryMode: "POS",
		GeoLat: 20.0110, GeoLon: 73.7903, HasCoord: true,
		Timestamp: time.Date(2024, 11, 15, 14, 30, 0, 0, time.UTC),
	}
}

func TestBuildVectorLength(t *testing.T) {
	fv, err := NewEngineer().Build(testApp(), testRefs(), nil)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if len(fv.Values) != domain.FeatureCount {
		t.Fatalf("expected %d features, got %d", domain.FeatureCount, len(fv.Values))
	}
}

func TestBuildDerivedFeatures(t *testing.T) {
	fv, err := NewEngineer().Build(testApp(), testRefs(), nil)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	if got := fv.At("quantity_per_hectare"); got != 75 {
		t.Errorf("quantity_per_hectare = %v, want 75", got)
	}
	// Entitlement is capped by registered land, not the claim.
	if got := fv.At("allowed_quantity"); got != 200 {
		t.Errorf("allowed_quantity = %v, want 200", got)
	}
	if got := fv.At("quantity_vs_allowed"); got != -50 {
		t.Errorf("quantity_vs_allowed = %v, want -50", got)
	}
	if got := fv.At("subsidy_vs_allowed"); got != -2500 {
		t.Errorf("subsidy_vs_allowed = %v, want -2500", got)
	}
	if got := fv.At("land_vs_claim_diff"); got != 0 {
		t.Errorf("land_vs_claim_diff = %v, want 0", got)
	}
}

func TestBuildZeroLandClaimUsesFloor(t *testing.T) {
	app := testApp()
	app.ClaimedLandHa = 0
	app.QuantityKg = 50

	fv, err := NewEngineer().Build(app, testRefs(), nil)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if got := fv.At("quantity_per_hectare"); got != 500 {
		t.Errorf("quantity_per_hectare = %v, want 500 (floor 0.1 ha)", got)
	}
}

func TestBuildGhostFarmer(t *testing.T) {
	app := testApp()
	app.FarmerID = "F999"

	fv, err := NewEngineer().Build(app, testRefs(), nil)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if !fv.GhostFarmer {
		t.Error("expected GhostFarmer flag for unregistered farmer")
	}
	if got := fv.At("land_holding_ha"); got != 0 {
		t.Errorf("land_holding_ha = %v, want 0 for ghost farmer", got)
	}
	if got := fv.At("allowed_quantity"); got != 0 {
		t.Errorf("allowed_quantity = %v, want 0 for ghost farmer", got)
	}
	if len(fv.Warnings) == 0 {
		t.Error("expected a warning for the missing farmer")
	}
}

func TestBuildUnknownDealer(t *testing.T) {
	app := testApp()
	app.DealerID = "D999"

	fv, err := NewEngineer().Build(app, testRefs(), nil)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if !fv.UnknownDealer {
		t.Error("expected UnknownDealer flag")
	}
	if fv.DistanceKnown {
		t.Error("distance must be unknown without dealer coordinates")
	}
	if got := fv.At("distance_farmer_to_dealer_km"); got != 0 {
		t.Errorf("distance = %v, want 0 when unknown", got)
	}
}

func TestBuildMissingSchemeRule(t *testing.T) {
	app := testApp()
	app.ProductType = "Pesticide"
	app.CropType = "Cotton"

	fv, err := NewEngineer().Build(app, testRefs(), nil)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if !fv.RuleMissing {
		t.Error("expected RuleMissing flag")
	}
	if got := fv.At("max_qty_per_ha"); got != 0 {
		t.Errorf("max_qty_per_ha = %v, want 0", got)
	}
	// Zero caps leave the full claim as over-allowance, so the cap rules
	// still fire for an application nobody defined a ceiling for.
	if got := fv.At("quantity_vs_allowed"); got != 150 {
		t.Errorf("quantity_vs_allowed = %v, want the raw quantity with zero caps", got)
	}
	if got := fv.At("subsidy_vs_allowed"); got != 2500 {
		t.Errorf("subsidy_vs_allowed = %v, want the raw subsidy with zero caps", got)
	}
}

func TestBuildHistoryDefaults(t *testing.T) {
	fv, err := NewEngineer().Build(testApp(), testRefs(), nil)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	// A never-seen farmer counts as one transaction, the current one.
	if got := fv.At("farmer_total_transactions"); got != 1 {
		t.Errorf("farmer_total_transactions = %v, want 1", got)
	}
	if got := fv.At("farmer_total_quantity"); got != 150 {
		t.Errorf("farmer_total_quantity = %v, want 150", got)
	}
}

func TestBuildHistoryAggregates(t *testing.T) {
	hist := &domain.HistoryStats{
		FarmerTransactions: 7, FarmerQuantityKg: 900,
		DealerFarmers: 40, DealerTransactions: 300, DealerQuantityKg: 25000,
		InvoiceReuseCount: 2,
	}
	fv, err := NewEngineer().Build(testApp(), testRefs(), hist)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if got := fv.At("farmer_total_transactions"); got != 7 {
		t.Errorf("farmer_total_transactions = %v, want 7", got)
	}
	if got := fv.At("dealer_total_quantity"); got != 25000 {
		t.Errorf("dealer_total_quantity = %v, want 25000", got)
	}
	if got := fv.At("invoice_duplicate_flag"); got != 1 {
		t.Errorf("invoice_duplicate_flag = %v, want 1", got)
	}
}

func TestBuildDistance(t *testing.T) {
	fv, err := NewEngineer().Build(testApp(), testRefs(), nil)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if !fv.DistanceKnown {
		t.Fatal("expected DistanceKnown with coordinates on both sides")
	}
	got := fv.At("distance_farmer_to_dealer_km")
	if got <= 0 || got > 5 {
		t.Errorf("distance = %v km, want a short positive distance", got)
	}
}

func TestBuildMalformedTimestamp(t *testing.T) {
	app := testApp()
	app.Timestamp = time.Time{}

	fv, err := NewEngineer().Build(app, testRefs(), nil)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if h, d, m := fv.At("txn_hour"), fv.At("txn_day"), fv.At("txn_month"); h != 12 || d != 1 || m != 1 {
		t.Errorf("temporal defaults = (%v, %v, %v), want (12, 1, 1)", h, d, m)
	}
}

func TestBuildSeasonMismatch(t *testing.T) {
	app := testApp()
	app.Season = "Rabi"
	app.CropType = "Paddy" // Kharif crop

	fv, err := NewEngineer().Build(app, testRefs(), nil)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if !fv.SeasonMismatch {
		t.Error("expected SeasonMismatch for Paddy in Rabi")
	}

	app.CropType = "Wheat"
	fv, _ = NewEngineer().Build(app, testRefs(), nil)
	if fv.SeasonMismatch {
		t.Error("Wheat in Rabi should not mismatch")
	}
}

func TestLookupSchemeRuleChain(t *testing.T) {
	rules := testRefs().SchemeRules

	// Exact product + season
	if r := LookupSchemeRule(rules, "Urea", "Rabi", ""); r == nil || r.ID != "SR1" {
		t.Errorf("exact lookup = %v, want SR1", r)
	}
	// Product only, season falls through
	if r := LookupSchemeRule(rules, "DAP", "Summer", ""); r == nil || r.ID != "SR2" {
		t.Errorf("product-only lookup = %v, want SR2", r)
	}
	// Crop fallback
	if r := LookupSchemeRule(rules, "", "", "Paddy"); r == nil || r.ID != "SR2" {
		t.Errorf("crop fallback = %v, want SR2", r)
	}
	// No match
	if r := LookupSchemeRule(rules, "Lime", "", "Cotton"); r != nil {
		t.Errorf("expected nil for unknown product and crop, got %v", r)
	}
}

func TestHaversine(t *testing.T) {
	// Mumbai to Delhi, roughly 1150 km.
	d := Haversine(19.0760, 72.8777, 28.7041, 77.1025)
	if math.Abs(d-1150) > 30 {
		t.Errorf("Mumbai-Delhi distance = %v km, want ~1150", d)
	}
	if d := Haversine(20, 73, 20, 73); d != 0 {
		t.Errorf("identical points distance = %v, want 0", d)
	}
}
