// Package eligibility computes allowable input quantities from crop norms and
// checks requested quantities against them.
package eligibility

import (
	"fmt"
	"strings"
	"sync"

	"github.com/opensource-agri/harrow/internal/domain"
)

// Eligibility statuses.
const (
	StatusApprove   = "APPROVE"
	StatusTolerance = "APPROVE_WITH_TOLERANCE"
	StatusAboveMax  = "ABOVE_MAX_LIMIT"
)

// Input categories with per-acre norms.
const (
	CategoryFertilizer = "fertilizer"
	CategorySeed       = "seed"
)

// tolerance is the slack over the computed allowance before a request is
// rejected outright. Inclusive at the boundary.
const tolerance = 0.10

// Match types for the crop norm lookup.
const (
	MatchExact   = "exact"
	MatchPartial = "partial"
	MatchAverage = "average"
)

// Result is the outcome of one eligibility check.
type Result struct {
	Crop        string   `json:"crop"`
	MatchedCrop string   `json:"matchedCrop,omitempty"`
	MatchType   string   `json:"matchType"`
	Category    string   `json:"category"`
	RatePerAcre float64  `json:"ratePerAcre"`
	LandAcres   float64  `json:"landAcres"`
	AllowedQty  float64  `json:"allowedQuantityKg"`
	Requested   float64  `json:"requestedQuantityKg"`
	Ratio       float64  `json:"quantityRatio"`
	Status      string   `json:"status"`
	Indicators  []string `json:"indicators,omitempty"`
}

// Service answers eligibility queries against a hot-swappable norm table.
type Service struct {
	mu    sync.RWMutex
	norms []*domain.CropNorm
}

// NewService creates an eligibility service with an initial norm table.
func NewService(norms []*domain.CropNorm) *Service {
	return &Service{norms: norms}
}

// DefaultNorms is the fallback norm table used when the repository holds none.
func DefaultNorms() []*domain.CropNorm {
	return []*domain.CropNorm{
		{Crop: "Paddy", FertilizerPerAcre: 50, SeedPerAcre: 2},
		{Crop: "Wheat", FertilizerPerAcre: 45, SeedPerAcre: 2.5},
		{Crop: "Cotton", FertilizerPerAcre: 40, SeedPerAcre: 1},
		{Crop: "Sugarcane", FertilizerPerAcre: 60, SeedPerAcre: 3},
	}
}

// SetNorms replaces the norm table.
func (s *Service) SetNorms(norms []*domain.CropNorm) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.norms = norms
}

// Norms returns the current norm table.
func (s *Service) Norms() []*domain.CropNorm {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.norms
}

// AllowedQuantity returns the allowance in kg for a crop, land area and input
// category, plus how the norm was matched.
func (s *Service) AllowedQuantity(crop string, landAcres float64, category string) (float64, string, string, error) {
	rate, matched, matchType, err := s.lookupRate(crop, category)
	if err != nil {
		return 0, "", "", err
	}
	return rate * landAcres, matched, matchType, nil
}

// Check runs the full eligibility decision for a requested quantity. Invalid
// inputs are caller errors, rejected before any lookup runs.
func (s *Service) Check(crop string, landAcres, requested float64, category string) (*Result, error) {
	if landAcres <= 0 {
		return nil, fmt.Errorf("land area must be positive")
	}
	if requested < 0 {
		return nil, fmt.Errorf("requested quantity must be non-negative")
	}

	rate, matched, matchType, err := s.lookupRate(crop, category)
	if err != nil {
		return nil, err
	}

	r := &Result{
		Crop:        crop,
		MatchedCrop: matched,
		MatchType:   matchType,
		Category:    category,
		RatePerAcre: rate,
		LandAcres:   landAcres,
		AllowedQty:  rate * landAcres,
		Requested:   requested,
	}

	if r.AllowedQty > 0 {
		r.Ratio = requested / r.AllowedQty
	}

	switch {
	case requested <= r.AllowedQty:
		r.Status = StatusApprove
	case requested <= r.AllowedQty*(1+tolerance):
		r.Status = StatusTolerance
	default:
		r.Status = StatusAboveMax
	}

	r.Indicators = indicators(r.Ratio, requested)
	return r, nil
}

// indicators derives advisory signals from the request-to-allowance ratio.
func indicators(ratio, requested float64) []string {
	var out []string
	switch {
	case ratio > 1.5:
		out = append(out, fmt.Sprintf("Requested quantity is %.1fx the norm-based allowance", ratio))
	case ratio > 1.0:
		out = append(out, "Requested quantity slightly exceeds the norm-based allowance")
	}
	if requested > 0 && ratio < 0.2 {
		out = append(out, "Requested quantity far below the norm for the stated land; records like this often exist only on paper")
	}
	return out
}

// lookupRate resolves the per-acre rate for a crop. Resolution order: exact
// normalized name, substring match in either direction, then the mean rate
// across all norms so an unknown crop still gets a sane allowance. An empty
// category means fertilizer; anything else unrecognized is a caller error.
func (s *Service) lookupRate(crop, category string) (float64, string, string, error) {
	if category != "" && category != CategoryFertilizer && category != CategorySeed {
		return 0, "", "", fmt.Errorf("category must be %q or %q", CategoryFertilizer, CategorySeed)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.norms) == 0 {
		return 0, "", "", fmt.Errorf("no crop norms loaded")
	}

	rate := func(n *domain.CropNorm) float64 {
		if category == CategorySeed {
			return n.SeedPerAcre
		}
		return n.FertilizerPerAcre
	}

	needle := normalize(crop)
	if needle != "" {
		for _, n := range s.norms {
			if normalize(n.Crop) == needle {
				return rate(n), n.Crop, MatchExact, nil
			}
		}
		for _, n := range s.norms {
			name := normalize(n.Crop)
			if strings.Contains(name, needle) || strings.Contains(needle, name) {
				return rate(n), n.Crop, MatchPartial, nil
			}
		}
	}

	var sum float64
	for _, n := range s.norms {
		sum += rate(n)
	}
	return sum / float64(len(s.norms)), "", MatchAverage, nil
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
