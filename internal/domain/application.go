package domain

import (
	"time"
)

// Application represents an incoming subsidy application/transaction to be scored.
// It is the unit of scoring: the core never persists it itself, the surrounding
// service does.
type Application struct {
	// Core identifiers
	ID       string `json:"id"`
	FarmerID string `json:"farmerId"`
	DealerID string `json:"dealerId"`

	// What is being claimed
	ProductType string  `json:"productType,omitempty"` // e.g. "Urea", "DAP", "Seeds"
	CropType    string  `json:"cropType,omitempty"`    // e.g. "Paddy", "Wheat"
	Season      string  `json:"season,omitempty"`      // "Rabi", "Kharif", "Summer"
	QuantityKg  float64 `json:"quantityKg"`
	SubsidyAmt  float64 `json:"subsidyAmount"`
	AmountPaid  float64 `json:"amountPaidByFarmer"`

	// Land claimed on the application (untrusted; compared against registry)
	ClaimedLandHa float64 `json:"claimedLandAreaHa"`

	// Point of sale
	InvoiceNo    string `json:"invoiceNo"`
	PaymentMode  string `json:"paymentMode"`  // "Cash", "UPI", "BankTransfer"
	DeliveryMode string `json:"deliveryMode"` // "POS", "ManualEntry"

	// Geo coordinates reported at the point of transaction
	GeoLat   float64 `json:"geoLat"`
	GeoLon   float64 `json:"geoLon"`
	HasCoord bool    `json:"hasCoord"`

	// Temporal
	Timestamp time.Time `json:"timestamp"`
	CreatedAt time.Time `json:"createdAt"`

	// Optional free-form metadata from the portal
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// ApplicationRequest is the API request payload for application scoring.
// Quantity and subsidy accept the string "AUTO" to be derived from scheme caps.
type ApplicationRequest struct {
	FarmerID      string  `json:"farmerId"`
	DealerID      string  `json:"dealerId"`
	ProductType   string  `json:"productType,omitempty"`
	CropType      string  `json:"cropType,omitempty"`
	Season        string  `json:"season,omitempty"`
	QuantityKg    JSONNum `json:"quantityKg"`
	SubsidyAmt    JSONNum `json:"subsidyAmount"`
	AmountPaid    float64 `json:"amountPaidByFarmer,omitempty"`
	ClaimedLandHa float64 `json:"claimedLandAreaHa"`
	InvoiceNo     string  `json:"invoiceNo,omitempty"`
	PaymentMode   string  `json:"paymentMode,omitempty"`
	DeliveryMode  string  `json:"deliveryMode,omitempty"`
	GeoLat        *float64 `json:"geoLat,omitempty"`
	GeoLon        *float64 `json:"geoLon,omitempty"`
	Timestamp     string  `json:"timestamp,omitempty"` // RFC 3339; malformed values degrade, never fail

	Metadata map[string]interface{} `json:"metadata,omitempty"`
}
