package features

import (
	"strings"
	"time"
)

// SeasonInfo describes one cropping season of the agricultural calendar.
type SeasonInfo struct {
	Name     string   `json:"name"`
	Months   []int    `json:"months"`
	Products []string `json:"recommendedProducts"`
	Crops    []string `json:"recommendedCrops"`
}

// Seasons is the Indian cropping calendar the portal operates against.
var Seasons = []SeasonInfo{
	{
		Name:     "Rabi",
		Months:   []int{10, 11, 12, 1, 2, 3},
		Products: []string{"Urea", "DAP", "MOP", "Wheat Seeds"},
		Crops:    []string{"Wheat", "Mustard", "Gram", "Barley", "Peas"},
	},
	{
		Name:     "Kharif",
		Months:   []int{6, 7, 8, 9},
		Products: []string{"Urea", "DAP", "Paddy Seeds", "Pesticide"},
		Crops:    []string{"Paddy", "Maize", "Cotton", "Soybean", "Sugarcane"},
	},
	{
		Name:     "Summer",
		Months:   []int{4, 5},
		Products: []string{"Urea", "Vegetable Seeds", "Micro Nutrients"},
		Crops:    []string{"Moong", "Vegetables", "Fodder", "Watermelon"},
	},
}

// SeasonForMonth returns the season covering the given calendar month,
// or nil for an out-of-range month.
func SeasonForMonth(month int) *SeasonInfo {
	for i := range Seasons {
		for _, m := range Seasons[i].Months {
			if m == month {
				return &Seasons[i]
			}
		}
	}
	return nil
}

// SeasonForTime returns the season covering t.
func SeasonForTime(t time.Time) *SeasonInfo {
	return SeasonForMonth(int(t.Month()))
}

// SeasonByName returns the named season, case-insensitive, or nil.
func SeasonByName(name string) *SeasonInfo {
	for i := range Seasons {
		if strings.EqualFold(Seasons[i].Name, strings.TrimSpace(name)) {
			return &Seasons[i]
		}
	}
	return nil
}

// seasonMismatch reports whether a crop is outside the declared season's
// recommended crop list. Unknown seasons or missing fields do not mismatch.
func seasonMismatch(season, crop string) bool {
	if season == "" || crop == "" {
		return false
	}
	info := SeasonByName(season)
	if info == nil {
		return false
	}
	for _, c := range info.Crops {
		if strings.EqualFold(c, strings.TrimSpace(crop)) {
			return false
		}
	}
	return true
}
