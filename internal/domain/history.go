package domain

// HistoryStats carries the behavioral aggregates computed from stored
// applications. Feeds the history features of the vector.
type HistoryStats struct {
	FarmerTransactions int64   `json:"farmerTransactions"`
	FarmerQuantityKg   float64 `json:"farmerQuantityKg"`
	DealerFarmers      int64   `json:"dealerFarmers"`
	DealerTransactions int64   `json:"dealerTransactions"`
	DealerQuantityKg   float64 `json:"dealerQuantityKg"`
	InvoiceReuseCount  int64   `json:"invoiceReuseCount"`
}
