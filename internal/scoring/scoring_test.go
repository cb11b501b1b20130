package scoring

import (
	"context"
	"math/rand"
	"path/filepath"
	"testing"
	"time"

	"github.com/opensource-agri/harrow/internal/anomaly"
	"github.com/opensource-agri/harrow/internal/cache"
	"github.com/opensource-agri/harrow/internal/decision"
	"github.com/opensource-agri/harrow/internal/domain"
	"github.com/opensource-agri/harrow/internal/history"
	"github.com/opensource-agri/harrow/internal/model"
	"github.com/opensource-agri/harrow/internal/repository"
	"github.com/opensource-agri/harrow/internal/rules"
)

func testRefs() *domain.ReferenceSet {
	return &domain.ReferenceSet{
		Farmers: map[string]*domain.Farmer{
			"F001": {ID: "F001", District: "Nashik", LandHoldingHa: 2.0},
		},
		Dealers: map[string]*domain.Dealer{
			"D001": {ID: "D001", District: "Nashik", Lat: 19.99, Lon: 73.78, HasCoord: true, NumOutlets: 1, AvgMonthlyTxn: 100, InventoryReceivedKg: 10000},
		},
		SchemeRules: []*domain.SchemeRule{
			{ID: "SR1", ProductType: "Urea", Season: "Rabi", MaxQtyPerHa: 100, MaxSubsidyAmt: 5000, ApplicableCrops: "Wheat"},
		},
	}
}

func testApp() *domain.Application {
	return &domain.Application{
		FarmerID: "F001", DealerID: "D001",
		ProductType: "Urea", CropType: "Wheat", Season: "Rabi",
		QuantityKg: 150, SubsidyAmt: 2500, ClaimedLandHa: 2.0,
		InvoiceNo: "INV-1", PaymentMode: "UPI", DeliveryMode: "POS",
		GeoLat: 20.01, GeoLon: 73.79, HasCoord: true,
		Timestamp: time.Date(2024, 11, 15, 10, 0, 0, 0, time.UTC),
	}
}

func testService(t *testing.T, store *model.Store) *Service {
	t.Helper()
	engine, err := rules.NewEngine(5)
	if err != nil {
		t.Fatalf("rules.NewEngine failed: %v", err)
	}
	if err := engine.LoadRules(rules.BuiltinRules()); err != nil {
		t.Fatalf("LoadRules failed: %v", err)
	}
	if store == nil {
		store = model.NewStore("", nil)
	}
	svc, err := NewService(Config{
		Refs:    &StaticRefProvider{Refs: testRefs()},
		Models:  store,
		Rules:   engine,
		Decider: decision.NewEngine(domain.ModeTiered),
	})
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}
	return svc
}

func trainedStore(t *testing.T) *model.Store {
	t.Helper()
	rng := rand.New(rand.NewSource(1))
	rows := make([][]float64, 300)
	for i := range rows {
		row := make([]float64, domain.FeatureCount)
		for j := range row {
			row[j] = rng.NormFloat64()
		}
		rows[i] = row
	}
	a, err := model.Train(model.TrainInput{Rows: rows}, model.TrainOptions{Version: "t1", Seed: 1})
	if err != nil {
		t.Fatalf("Train failed: %v", err)
	}
	store := model.NewStore("", nil)
	store.Swap(a)
	return store
}

func TestScoreWithoutModel(t *testing.T) {
	svc := testService(t, nil)

	a, err := svc.Score(context.Background(), testApp())
	if err != nil {
		t.Fatalf("Score failed: %v", err)
	}
	if a.RiskLevel != domain.RiskUnknown {
		t.Errorf("level = %s, want UNKNOWN without a model", a.RiskLevel)
	}
	if a.Recommend != domain.RecommendApprove {
		t.Errorf("recommendation = %s, want APPROVE for a clean application", a.Recommend)
	}
	if a.Metadata.RulesEvaluated != 12 {
		t.Errorf("rules evaluated = %d, want 12", a.Metadata.RulesEvaluated)
	}
	if a.Metadata.EngineVersion != EngineVersion {
		t.Errorf("engine version = %q", a.Metadata.EngineVersion)
	}
}

func TestScoreGhostFarmerWithoutModel(t *testing.T) {
	svc := testService(t, nil)

	app := testApp()
	app.FarmerID = "F999"
	a, err := svc.Score(context.Background(), app)
	if err != nil {
		t.Fatalf("Score failed: %v", err)
	}
	if a.RiskLevel != domain.RiskHigh || !a.IsFlagged {
		t.Errorf("ghost farmer: level = %s flagged = %v, want HIGH/true", a.RiskLevel, a.IsFlagged)
	}
	if a.Recommend != domain.RecommendReject {
		t.Errorf("recommendation = %s, want REJECT", a.Recommend)
	}
	if !a.Details.GhostFarmer {
		t.Error("details must carry the ghost farmer flag")
	}
}

func TestScoreWithModel(t *testing.T) {
	svc := testService(t, trainedStore(t))

	a, err := svc.Score(context.Background(), testApp())
	if err != nil {
		t.Fatalf("Score failed: %v", err)
	}
	if a.RiskLevel == domain.RiskUnknown || a.RiskLevel == domain.RiskError {
		t.Errorf("level = %s, want a scored tier", a.RiskLevel)
	}
	if a.Details.IsolationScore <= 0 || a.Details.IsolationScore > 1 {
		t.Errorf("isolation score = %v, want (0,1]", a.Details.IsolationScore)
	}
	if a.Details.XGBoostScore != nil {
		t.Error("unsupervised artifact must not report a classifier score")
	}
	if a.Metadata.ModelVersion != "t1" {
		t.Errorf("model version = %q, want t1", a.Metadata.ModelVersion)
	}
	if a.Details.DistanceKm == nil {
		t.Error("expected a known distance for coordinated records")
	}
}

func TestScoreShapeMismatch(t *testing.T) {
	// An artifact trained against a different feature list cannot score the
	// runtime vector; the record must degrade to ERROR, not fail.
	scaler, _ := anomaly.FitScaler([][]float64{{1, 2}, {3, 4}, {5, 6}})
	forest, _ := anomaly.Fit([][]float64{{1, 2}, {3, 4}, {5, 6}}, anomaly.Options{Trees: 5})
	store := model.NewStore("", nil)
	store.Swap(&model.Artifact{
		Version:      "stale",
		FeatureNames: []string{"a", "b"},
		Scaler:       scaler,
		Forest:       forest,
	})
	svc := testService(t, store)

	a, err := svc.Score(context.Background(), testApp())
	if err != nil {
		t.Fatalf("Score failed: %v", err)
	}
	if a.RiskLevel != domain.RiskError {
		t.Errorf("level = %s, want ERROR on shape mismatch", a.RiskLevel)
	}
	if a.Recommend != domain.RecommendManualReview {
		t.Errorf("recommendation = %s, want MANUAL_REVIEW", a.Recommend)
	}
}

func TestScoreBatchIsolation(t *testing.T) {
	svc := testService(t, nil)

	apps := []*domain.Application{nil, testApp()}
	out, err := svc.ScoreBatch(context.Background(), apps)
	if err != nil {
		t.Fatalf("ScoreBatch failed: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("batch results = %d, want 2", len(out))
	}
	if out[0].RiskLevel != domain.RiskError {
		t.Errorf("bad record level = %s, want ERROR", out[0].RiskLevel)
	}
	if out[1].RiskLevel != domain.RiskUnknown {
		t.Errorf("good record level = %s, want UNKNOWN", out[1].RiskLevel)
	}
}

func TestScoreAssignsIDs(t *testing.T) {
	svc := testService(t, nil)

	app := testApp()
	a, err := svc.Score(context.Background(), app)
	if err != nil {
		t.Fatalf("Score failed: %v", err)
	}
	if app.ID == "" || a.ID == "" {
		t.Error("expected generated application and assessment IDs")
	}
	if a.ApplicationID != app.ID {
		t.Errorf("assessment references %q, application is %q", a.ApplicationID, app.ID)
	}
}

func TestScoreRescoreIdempotent(t *testing.T) {
	// Persistence inside the pipeline must not feed the next identical call:
	// re-scoring a stored application yields the same assessment.
	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "test.db"),
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	engine, err := rules.NewEngine(5)
	if err != nil {
		t.Fatalf("rules.NewEngine failed: %v", err)
	}
	if err := engine.LoadRules(rules.BuiltinRules()); err != nil {
		t.Fatalf("LoadRules failed: %v", err)
	}

	lru := cache.NewLRUCache(100)
	t.Cleanup(func() { lru.Close() })

	svc, err := NewService(Config{
		Refs:    &StaticRefProvider{Refs: testRefs()},
		History: history.NewService(repo, lru),
		Models:  trainedStore(t),
		Rules:   engine,
		Decider: decision.NewEngine(domain.ModeTiered),
		Repo:    repo,
	})
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}

	app := testApp()
	app.ID = "APP-RESCORE"
	ctx := context.Background()

	first, err := svc.Score(ctx, app)
	if err != nil {
		t.Fatalf("first Score failed: %v", err)
	}

	for i := 0; i < 3; i++ {
		again, err := svc.Score(ctx, app)
		if err != nil {
			t.Fatalf("re-score %d failed: %v", i, err)
		}
		if again.RiskScore != first.RiskScore {
			t.Errorf("re-score %d risk = %v, first pass = %v", i, again.RiskScore, first.RiskScore)
		}
		if again.RiskLevel != first.RiskLevel || again.IsFlagged != first.IsFlagged {
			t.Errorf("re-score %d verdict = %s/%v, first pass = %s/%v",
				i, again.RiskLevel, again.IsFlagged, first.RiskLevel, first.IsFlagged)
		}
		if len(again.Findings) != len(first.Findings) {
			t.Errorf("re-score %d findings = %d, first pass = %d", i, len(again.Findings), len(first.Findings))
		}
	}
}

func TestStaticRefProviderEmpty(t *testing.T) {
	p := &StaticRefProvider{}
	if _, err := p.Snapshot(context.Background()); err == nil {
		t.Fatal("expected error for unset reference set")
	}
}
