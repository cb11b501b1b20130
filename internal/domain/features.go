package domain

// FeatureOrder is the published order contract for engineered features.
// Trained models are order-blind numeric arrays: vectors fed to a model MUST
// use exactly this order, and the list is persisted inside every artifact so
// a loaded model can verify it.
var FeatureOrder = []string{
	"quantity_kg",
	"subsidy_amount",
	"geo_lat",
	"geo_lon",
	"claimed_land_area_ha",
	"amount_paid_by_farmer",
	"land_holding_ha",
	"lat",
	"lon",
	"num_outlets",
	"avg_monthly_txn",
	"inventory_received_kg",
	"suspicious_dealer",
	"max_qty_per_ha",
	"max_subsidy_amount",
	"eligibility_land_min",
	"eligibility_land_max",
	"quantity_per_hectare",
	"land_vs_claim_diff",
	"farmer_total_transactions",
	"farmer_total_quantity",
	"dealer_total_farmers",
	"dealer_total_transactions",
	"dealer_total_quantity",
	"invoice_duplicate_flag",
	"allowed_quantity",
	"quantity_vs_allowed",
	"subsidy_vs_allowed",
	"distance_farmer_to_dealer_km",
	"txn_hour",
	"txn_day",
	"txn_month",
}

// FeatureCount is the expected vector length.
const FeatureCount = 32

// FeatureVector is a fixed-order engineered feature vector plus the signals
// the decision engine needs beyond raw numbers.
type FeatureVector struct {
	// Values holds the numeric features in FeatureOrder. Unknown distance is
	// filled with 0 here (the model contract needs a number); DistanceKnown
	// disambiguates 0-means-colocated from 0-means-unknown.
	Values []float64 `json:"values"`

	// Signals not expressible as plain numbers
	GhostFarmer    bool `json:"ghostFarmer"`
	UnknownDealer  bool `json:"unknownDealer"`
	RuleMissing    bool `json:"ruleMissing"`
	DistanceKnown  bool `json:"distanceKnown"`
	SeasonMismatch bool `json:"seasonMismatch"`

	// Warnings collected while default-filling missing reference joins
	Warnings []string `json:"warnings,omitempty"`
}

// At returns the value of the named feature, or 0 when the name is unknown.
func (v *FeatureVector) At(name string) float64 {
	for i, n := range FeatureOrder {
		if n == name && i < len(v.Values) {
			return v.Values[i]
		}
	}
	return 0
}
