package rules

import "github.com/opensource-agri/harrow/internal/domain"

func f(v float64) *float64 { return &v }

// BuiltinRules returns the stock screening rule set. It is seeded into the
// database on first start and from then on managed via the rules API; edits
// there override these definitions on the next reload.
func BuiltinRules() []*domain.RuleConfig {
	return []*domain.RuleConfig{
		{
			ID:          "ghost-farmer",
			Name:        "Ghost Farmer",
			Description: "Farmer ID absent from the registry",
			Version:     "1.0",
			Expression:  "ghost_farmer",
			Bands: []domain.RuleBand{
				{LowerLimit: f(1), Severity: domain.SeverityCritical, Reason: "Farmer ID not found in registry (possible ghost farmer)"},
			},
			Enabled: true,
		},
		// The vs-allowed differences are computed against zero caps when no
		// scheme rule matched, so these two fire for any positive quantity or
		// subsidy on an uncapped application. Fail closed.
		{
			ID:          "quantity-over-entitlement",
			Name:        "Quantity Over Entitlement",
			Description: "Requested quantity exceeds the scheme cap for the registered land holding",
			Version:     "1.0",
			Expression:  "quantity_vs_allowed > 0.0",
			Bands: []domain.RuleBand{
				{LowerLimit: f(1), Severity: domain.SeverityHigh, Reason: "Quantity exceeds maximum allowed for registered land holding"},
			},
			Enabled: true,
		},
		{
			ID:          "subsidy-over-cap",
			Name:        "Subsidy Over Cap",
			Description: "Claimed subsidy exceeds the scheme maximum",
			Version:     "1.0",
			Expression:  "subsidy_vs_allowed > 0.0",
			Bands: []domain.RuleBand{
				{LowerLimit: f(1), Severity: domain.SeverityHigh, Reason: "Subsidy amount exceeds scheme cap"},
			},
			Enabled: true,
		},
		{
			ID:          "land-overclaim",
			Name:        "Land Overclaim",
			Description: "Claimed land area versus registered holding",
			Version:     "1.0",
			Expression:  "land_holding_ha > 0.0 ? claimed_land_area_ha / land_holding_ha : 0.0",
			Bands: []domain.RuleBand{
				{LowerLimit: f(2), UpperLimit: f(5), Severity: domain.SeverityMedium, Reason: "Claimed land area more than double the registered holding"},
				{LowerLimit: f(5), Severity: domain.SeverityHigh, Reason: "Claimed land area more than five times the registered holding"},
			},
			Enabled: true,
		},
		// Thresholds are the registry outlier bounds of 100 acres and half an
		// acre, expressed in hectares.
		{
			ID:          "large-land-holding",
			Name:        "Large Land Holding",
			Description: "Registered land holding far above smallholder scale",
			Version:     "1.0",
			Expression:  "land_holding_ha > 40.5",
			Bands: []domain.RuleBand{
				{LowerLimit: f(1), Severity: domain.SeverityMedium, Reason: "Unusually large registered land holding"},
			},
			Enabled: true,
		},
		{
			ID:          "small-land-holding",
			Name:        "Small Land Holding",
			Description: "Registered land holding too small to cultivate",
			Version:     "1.0",
			Expression:  "land_holding_ha > 0.0 && land_holding_ha < 0.2",
			Bands: []domain.RuleBand{
				{LowerLimit: f(1), Severity: domain.SeverityMedium, Reason: "Extremely small registered land holding"},
			},
			Enabled: true,
		},
		{
			ID:          "implausible-distance",
			Name:        "Implausible Distance",
			Description: "Distance between transaction location and dealer",
			Version:     "1.0",
			Expression:  "distance_known ? distance_farmer_to_dealer_km : 0.0",
			Bands: []domain.RuleBand{
				{LowerLimit: f(500), UpperLimit: f(1000), Severity: domain.SeverityMedium, Reason: "Transaction location over 500 km from dealer"},
				{LowerLimit: f(1000), Severity: domain.SeverityHigh, Reason: "Transaction location over 1000 km from dealer"},
			},
			Enabled: true,
		},
		{
			ID:          "cash-manual-entry",
			Name:        "Cash Manual Entry",
			Description: "Cash payment combined with manual record entry",
			Version:     "1.0",
			Expression:  `payment_mode == "Cash" && delivery_mode == "ManualEntry"`,
			Bands: []domain.RuleBand{
				{LowerLimit: f(1), Severity: domain.SeverityHigh, Reason: "Cash payment with manual entry bypasses POS verification"},
			},
			Enabled: true,
		},
		{
			ID:          "duplicate-invoice",
			Name:        "Duplicate Invoice",
			Description: "Invoice number reused at the same dealer",
			Version:     "1.0",
			Expression:  "invoice_duplicate_flag >= 1.0",
			Bands: []domain.RuleBand{
				{LowerLimit: f(1), Severity: domain.SeverityHigh, Reason: "Invoice number already used at this dealer"},
			},
			Enabled: true,
		},
		{
			ID:          "crop-season-mismatch",
			Name:        "Crop Season Mismatch",
			Description: "Declared crop outside the declared season",
			Version:     "1.0",
			Expression:  "season_mismatch",
			Bands: []domain.RuleBand{
				{LowerLimit: f(1), Severity: domain.SeverityMedium, Reason: "Crop is not cultivated in the declared season"},
			},
			Enabled: true,
		},
		{
			ID:          "quantity-density",
			Name:        "Quantity Density",
			Description: "Quantity per hectare of claimed land",
			Version:     "1.0",
			Expression:  "quantity_per_hectare",
			Bands: []domain.RuleBand{
				{LowerLimit: f(100), UpperLimit: f(200), Severity: domain.SeverityMedium, Reason: "Quantity per hectare above typical application rates"},
				{LowerLimit: f(200), Severity: domain.SeverityHigh, Reason: "Quantity per hectare far above any agronomic rate"},
			},
			Enabled: true,
		},
		{
			ID:          "token-quantity",
			Name:        "Token Quantity",
			Description: "Near-zero quantity suggesting a paper-only transaction",
			Version:     "1.0",
			Expression:  "quantity_kg > 0.0 && quantity_kg < 0.5",
			Bands: []domain.RuleBand{
				{LowerLimit: f(1), Severity: domain.SeverityMedium, Reason: "Token quantity suggests a record created only to claim subsidy"},
			},
			Enabled: true,
		},
	}
}
