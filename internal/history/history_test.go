package history

import (
	"context"
	"fmt"
	"testing"

	"github.com/opensource-agri/harrow/internal/cache"
	"github.com/opensource-agri/harrow/internal/domain"
)

type fakeStore struct {
	farmerTxns   int64
	farmerQty    float64
	dealerFarmer int64
	dealerTxns   int64
	dealerQty    float64
	invoiceCount int64
	failFarmer   bool
}

func (f *fakeStore) CountFarmerApplications(ctx context.Context, farmerID, excludeAppID string) (int64, float64, error) {
	if f.failFarmer {
		return 0, 0, fmt.Errorf("db unavailable")
	}
	return f.farmerTxns, f.farmerQty, nil
}

func (f *fakeStore) DealerAggregates(ctx context.Context, dealerID, excludeAppID string) (int64, int64, float64, error) {
	return f.dealerFarmer, f.dealerTxns, f.dealerQty, nil
}

func (f *fakeStore) CountDealerInvoice(ctx context.Context, dealerID, invoiceNo, excludeAppID string) (int64, error) {
	return f.invoiceCount, nil
}

func TestStatsAggregates(t *testing.T) {
	store := &fakeStore{
		farmerTxns: 5, farmerQty: 800,
		dealerFarmer: 20, dealerTxns: 120, dealerQty: 9000,
		invoiceCount: 1,
	}
	svc := NewService(store, nil)

	app := &domain.Application{ID: "A1", FarmerID: "F001", DealerID: "D001", InvoiceNo: "INV-9"}
	stats, err := svc.Stats(context.Background(), app)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}

	if stats.FarmerTransactions != 5 || stats.FarmerQuantityKg != 800 {
		t.Errorf("farmer aggregates = (%d, %v), want (5, 800)", stats.FarmerTransactions, stats.FarmerQuantityKg)
	}
	if stats.DealerFarmers != 20 || stats.DealerTransactions != 120 || stats.DealerQuantityKg != 9000 {
		t.Errorf("unexpected dealer aggregates: %+v", stats)
	}
	if stats.InvoiceReuseCount != 1 {
		t.Errorf("InvoiceReuseCount = %d, want 1", stats.InvoiceReuseCount)
	}
}

func TestStatsDegradesOnStoreError(t *testing.T) {
	svc := NewService(&fakeStore{failFarmer: true, dealerTxns: 3}, nil)

	app := &domain.Application{ID: "A1", FarmerID: "F001", DealerID: "D001"}
	stats, err := svc.Stats(context.Background(), app)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.FarmerTransactions != 0 {
		t.Errorf("farmer leg should zero out on error, got %d", stats.FarmerTransactions)
	}
	if stats.DealerTransactions != 3 {
		t.Errorf("dealer leg should still populate, got %d", stats.DealerTransactions)
	}
}

func TestStatsSkipsEmptyInvoice(t *testing.T) {
	svc := NewService(&fakeStore{invoiceCount: 4}, nil)

	app := &domain.Application{ID: "A1", FarmerID: "F001", DealerID: "D001"}
	stats, err := svc.Stats(context.Background(), app)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.InvoiceReuseCount != 0 {
		t.Errorf("empty invoice must not count reuse, got %d", stats.InvoiceReuseCount)
	}
}

func TestStatsNilApplication(t *testing.T) {
	svc := NewService(&fakeStore{}, nil)
	if _, err := svc.Stats(context.Background(), nil); err == nil {
		t.Fatal("expected error for nil application")
	}
}

func TestInvoiceReuseRescoreIdempotent(t *testing.T) {
	lru := cache.NewLRUCache(100)
	defer lru.Close()

	svc := NewService(&fakeStore{}, lru)
	ctx := context.Background()

	app := &domain.Application{ID: "A1", FarmerID: "F001", DealerID: "D001", InvoiceNo: "INV-77"}

	stats, err := svc.Stats(ctx, app)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.InvoiceReuseCount != 0 {
		t.Fatalf("first sighting reuse = %d, want 0", stats.InvoiceReuseCount)
	}

	// Re-scoring the same application must not count it as its own duplicate.
	for i := 0; i < 3; i++ {
		stats, err = svc.Stats(ctx, app)
		if err != nil {
			t.Fatalf("Stats failed on re-score: %v", err)
		}
		if stats.InvoiceReuseCount != 0 {
			t.Fatalf("re-score %d reuse = %d, want 0", i, stats.InvoiceReuseCount)
		}
	}

	// A different application reusing the invoice is a real duplicate.
	dup := &domain.Application{ID: "A2", FarmerID: "F002", DealerID: "D001", InvoiceNo: "INV-77"}
	stats, err = svc.Stats(ctx, dup)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.InvoiceReuseCount != 1 {
		t.Errorf("duplicate application reuse = %d, want 1", stats.InvoiceReuseCount)
	}
}
