// Package history computes behavioral aggregates over stored applications.
package history

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/opensource-agri/harrow/internal/domain"
)

// invoiceWindow bounds the fast-path invoice reuse counter. Reuse across a
// longer horizon is still caught by the database count.
const invoiceWindow = 24 * time.Hour

// Store is the subset of the repository the aggregator needs. Aggregates
// exclude the application being scored so a re-score sees the same history.
type Store interface {
	CountFarmerApplications(ctx context.Context, farmerID, excludeAppID string) (int64, float64, error)
	DealerAggregates(ctx context.Context, dealerID, excludeAppID string) (farmers int64, txns int64, quantity float64, err error)
	CountDealerInvoice(ctx context.Context, dealerID, invoiceNo, excludeAppID string) (int64, error)
}

// Service aggregates farmer and dealer history for feature engineering.
type Service struct {
	store Store
	cache domain.Cache
}

// NewService creates a history service. cache may be nil; it only accelerates
// the invoice reuse check.
func NewService(store Store, cache domain.Cache) *Service {
	return &Service{store: store, cache: cache}
}

// Stats returns the aggregates for one application's farmer, dealer and
// invoice. Each leg degrades to zero on error rather than failing the whole
// lookup; scoring with partial history beats not scoring.
func (s *Service) Stats(ctx context.Context, app *domain.Application) (*domain.HistoryStats, error) {
	if app == nil {
		return nil, fmt.Errorf("application is required")
	}

	stats := &domain.HistoryStats{}

	if app.FarmerID != "" {
		txns, qty, err := s.store.CountFarmerApplications(ctx, app.FarmerID, app.ID)
		if err == nil {
			stats.FarmerTransactions = txns
			stats.FarmerQuantityKg = qty
		}
	}

	if app.DealerID != "" {
		farmers, txns, qty, err := s.store.DealerAggregates(ctx, app.DealerID, app.ID)
		if err == nil {
			stats.DealerFarmers = farmers
			stats.DealerTransactions = txns
			stats.DealerQuantityKg = qty
		}
	}

	if app.InvoiceNo != "" {
		stats.InvoiceReuseCount = s.invoiceReuse(ctx, app.ID, app.DealerID, app.InvoiceNo)
	}

	return stats, nil
}

// invoiceReuse counts prior sightings of a dealer/invoice pair. The cache
// counter catches reuse within the window before the application is even
// persisted; the database count is authoritative beyond it. The counter is
// incremented at most once per application, keyed by a per-application
// marker, so re-scoring the same record never manufactures a duplicate.
func (s *Service) invoiceReuse(ctx context.Context, appID, dealerID, invoiceNo string) int64 {
	var reuse int64

	if count, err := s.store.CountDealerInvoice(ctx, dealerID, invoiceNo, appID); err == nil {
		reuse = count
	}

	if s.cache == nil {
		return reuse
	}

	key := invoiceKey(dealerID, invoiceNo)
	marker := key + ":" + strings.ToLower(appID)
	if data, err := s.cache.Get(ctx, marker); err == nil && len(data) > 0 {
		// This application already contributed to the counter; the database
		// count above covers everything else.
		return reuse
	}

	if seen, err := s.cache.IncrementCounter(ctx, key, invoiceWindow); err == nil {
		_ = s.cache.Set(ctx, marker, []byte("1"), invoiceWindow)
		if seen-1 > reuse {
			reuse = seen - 1
		}
	}

	return reuse
}

func invoiceKey(dealerID, invoiceNo string) string {
	return "invoice:" + strings.ToLower(dealerID) + ":" + strings.ToLower(invoiceNo)
}
