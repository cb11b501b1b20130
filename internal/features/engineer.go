// Package features builds the fixed-order model feature vector from an
// application joined against the farmer, dealer and scheme reference data.
package features

import (
	"fmt"
	"math"
	"strings"

	"github.com/opensource-agri/harrow/internal/domain"
)

// minLandHa is the floor used for per-hectare density so a zero land claim
// produces a very large density instead of a division by zero.
const minLandHa = 0.1

// Engineer assembles feature vectors. Stateless; safe for concurrent use.
type Engineer struct{}

// NewEngineer creates a feature engineer.
func NewEngineer() *Engineer {
	return &Engineer{}
}

// Build computes the feature vector for one application against the reference
// snapshot and its historical aggregates. Missing reference joins never fail:
// they degrade to defaults and raise the corresponding signal flag.
func (e *Engineer) Build(app *domain.Application, refs *domain.ReferenceSet, hist *domain.HistoryStats) (*domain.FeatureVector, error) {
	if app == nil {
		return nil, fmt.Errorf("application is required")
	}

	fv := &domain.FeatureVector{
		Values: make([]float64, domain.FeatureCount),
	}
	set := func(name string, v float64) {
		for i, n := range domain.FeatureOrder {
			if n == name {
				fv.Values[i] = v
				return
			}
		}
	}

	// Raw application fields
	set("quantity_kg", app.QuantityKg)
	set("subsidy_amount", app.SubsidyAmt)
	set("claimed_land_area_ha", app.ClaimedLandHa)
	set("amount_paid_by_farmer", app.AmountPaid)
	if app.HasCoord {
		set("geo_lat", app.GeoLat)
		set("geo_lon", app.GeoLon)
	}

	// Farmer registry join. A missing farmer is the strongest signal the
	// pipeline produces: the application names someone who does not exist.
	landHolding := 0.0
	if f := refs.Farmer(app.FarmerID); f != nil {
		landHolding = f.LandHoldingHa
		fv.GhostFarmer = f.IsGhost
	} else {
		fv.GhostFarmer = true
		fv.Warnings = append(fv.Warnings, fmt.Sprintf("farmer %s not found in registry", app.FarmerID))
	}
	set("land_holding_ha", landHolding)

	// Dealer registry join
	dealer := refs.Dealer(app.DealerID)
	if dealer != nil {
		set("num_outlets", float64(dealer.NumOutlets))
		set("avg_monthly_txn", dealer.AvgMonthlyTxn)
		set("inventory_received_kg", dealer.InventoryReceivedKg)
		if dealer.Suspicious {
			set("suspicious_dealer", 1)
		}
		if dealer.HasCoord {
			set("lat", dealer.Lat)
			set("lon", dealer.Lon)
		}
	} else {
		fv.UnknownDealer = true
		fv.Warnings = append(fv.Warnings, fmt.Sprintf("dealer %s not found in registry", app.DealerID))
	}

	// Scheme rule join. A missing rule zeroes the caps, which makes any
	// positive quantity or subsidy read as over-allowance. Failing closed
	// beats waving through an application nobody defined a cap for.
	rule := LookupSchemeRule(refs.SchemeRules, app.ProductType, app.Season, app.CropType)
	if rule != nil {
		set("max_qty_per_ha", rule.MaxQtyPerHa)
		set("max_subsidy_amount", rule.MaxSubsidyAmt)
		set("eligibility_land_min", rule.EligibilityMin)
		set("eligibility_land_max", rule.EligibilityMax)
	} else {
		fv.RuleMissing = true
		fv.Warnings = append(fv.Warnings, fmt.Sprintf("no scheme rule for product %q season %q", app.ProductType, app.Season))
	}

	// Derived features
	set("quantity_per_hectare", app.QuantityKg/math.Max(app.ClaimedLandHa, minLandHa))
	set("land_vs_claim_diff", app.ClaimedLandHa-landHolding)

	// Allowed quantity is capped by registered land holding, not the claim:
	// an inflated claim must not inflate the entitlement.
	allowed := 0.0
	if rule != nil {
		allowed = rule.MaxQtyPerHa * landHolding
	}
	set("allowed_quantity", allowed)
	set("quantity_vs_allowed", app.QuantityKg-allowed)
	maxSubsidy := 0.0
	if rule != nil {
		maxSubsidy = rule.MaxSubsidyAmt
	}
	set("subsidy_vs_allowed", app.SubsidyAmt-maxSubsidy)

	// History aggregates. A never-seen farmer counts as one transaction, the
	// current one, so the per-farmer averages stay meaningful for first
	// applications.
	if hist != nil && hist.FarmerTransactions > 0 {
		set("farmer_total_transactions", float64(hist.FarmerTransactions))
		set("farmer_total_quantity", hist.FarmerQuantityKg)
	} else {
		set("farmer_total_transactions", 1)
		set("farmer_total_quantity", app.QuantityKg)
	}
	if hist != nil {
		set("dealer_total_farmers", float64(hist.DealerFarmers))
		set("dealer_total_transactions", float64(hist.DealerTransactions))
		set("dealer_total_quantity", hist.DealerQuantityKg)
		if hist.InvoiceReuseCount > 0 {
			set("invoice_duplicate_flag", 1)
		}
	}

	// Farmer-to-dealer distance. 0 in the vector means unknown OR colocated;
	// DistanceKnown disambiguates for the rule layer.
	if app.HasCoord && dealer != nil && dealer.HasCoord {
		set("distance_farmer_to_dealer_km", Haversine(app.GeoLat, app.GeoLon, dealer.Lat, dealer.Lon))
		fv.DistanceKnown = true
	}

	// Temporal features. The caller normalizes malformed timestamps to the
	// zero time; that degrades to neutral values rather than failing.
	if app.Timestamp.IsZero() {
		set("txn_hour", 12)
		set("txn_day", 1)
		set("txn_month", 1)
	} else {
		set("txn_hour", float64(app.Timestamp.Hour()))
		set("txn_day", float64(app.Timestamp.Day()))
		set("txn_month", float64(app.Timestamp.Month()))
	}

	fv.SeasonMismatch = seasonMismatch(app.Season, app.CropType)

	return fv, nil
}

// LookupSchemeRule resolves the scheme rule for an application. Resolution
// order: exact product+season match, then any rule for the product, then any
// rule whose applicable crop list contains the crop. Returns nil when nothing
// matches.
func LookupSchemeRule(rules []*domain.SchemeRule, productType, season, cropType string) *domain.SchemeRule {
	product := strings.TrimSpace(strings.ToLower(productType))
	seasonNorm := strings.TrimSpace(strings.ToLower(season))
	crop := strings.TrimSpace(strings.ToLower(cropType))

	if product != "" {
		for _, r := range rules {
			if strings.EqualFold(strings.TrimSpace(r.ProductType), product) &&
				strings.EqualFold(strings.TrimSpace(r.Season), seasonNorm) {
				return r
			}
		}
		for _, r := range rules {
			if strings.EqualFold(strings.TrimSpace(r.ProductType), product) {
				return r
			}
		}
	}
	if crop != "" {
		for _, r := range rules {
			for _, c := range strings.Split(r.ApplicableCrops, ",") {
				if strings.EqualFold(strings.TrimSpace(c), crop) {
					return r
				}
			}
		}
	}
	return nil
}

// Haversine returns the great-circle distance in kilometers between two
// latitude/longitude points.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	const earthRadiusKm = 6371.0

	rad := func(deg float64) float64 { return deg * math.Pi / 180 }
	dLat := rad(lat2 - lat1)
	dLon := rad(lon2 - lon1)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rad(lat1))*math.Cos(rad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Asin(math.Min(1, math.Sqrt(a)))
}
