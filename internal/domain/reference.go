package domain

// Farmer is a registry entry from the reference dataset.
// Immutable within a scoring session.
type Farmer struct {
	ID            string  `json:"id"`
	District      string  `json:"district"`
	State         string  `json:"state,omitempty"`
	LandHoldingHa float64 `json:"landHoldingHa"`

	// Set by reference data, not computed here.
	IsGhost bool `json:"isGhostFarmer"`
}

// Dealer is a registry entry for a point-of-sale dealer.
// Immutable within a scoring session.
type Dealer struct {
	ID         string  `json:"id"`
	District   string  `json:"district"`
	Lat        float64 `json:"lat"`
	Lon        float64 `json:"lon"`
	HasCoord   bool    `json:"hasCoord"`
	NumOutlets int     `json:"numOutlets"`

	// Historical volume stats from the reference dataset.
	AvgMonthlyTxn       float64 `json:"avgMonthlyTxn"`
	InventoryReceivedKg float64 `json:"inventoryReceivedKg"`

	// Pre-existing flag from the reference dataset.
	Suspicious bool `json:"suspiciousDealer"`
}

// SchemeRule caps quantity and subsidy for a (product type, season) pair.
// Multiple rules may exist per product; lookup takes the first season match,
// then any rule for the product, then a crop-based fallback.
type SchemeRule struct {
	ID              string  `json:"id"`
	ProductType     string  `json:"productType"`
	Season          string  `json:"season"`
	MaxQtyPerHa     float64 `json:"maxQtyPerHa"`
	MaxSubsidyAmt   float64 `json:"maxSubsidyAmount"`
	EligibilityMin  float64 `json:"eligibilityLandMin"`
	EligibilityMax  float64 `json:"eligibilityLandMax"`
	ApplicableCrops string  `json:"applicableCrops,omitempty"` // comma-separated crop names
}

// CropNorm is the recommended dose per unit area for a crop.
type CropNorm struct {
	Crop               string  `json:"crop"`
	FertilizerPerAcre  float64 `json:"fertilizerKgPerAcre"`
	SeedPerAcre        float64 `json:"seedKgPerAcre"`
}

// ReferenceSet is an in-memory snapshot of the reference tables used for a
// scoring session. It is read-only once built; lookups that miss degrade to
// defaults (a fraud signal, not an error).
type ReferenceSet struct {
	Farmers     map[string]*Farmer
	Dealers     map[string]*Dealer
	SchemeRules []*SchemeRule
}

// Farmer returns the registry entry for id, or nil when absent (ghost farmer).
func (r *ReferenceSet) Farmer(id string) *Farmer {
	if r == nil || r.Farmers == nil {
		return nil
	}
	return r.Farmers[id]
}

// Dealer returns the registry entry for id, or nil when absent.
func (r *ReferenceSet) Dealer(id string) *Dealer {
	if r == nil || r.Dealers == nil {
		return nil
	}
	return r.Dealers[id]
}
