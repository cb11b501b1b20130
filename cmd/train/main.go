// Train tool for building the Harrow model artifact from labeled history.
//
// Usage:
//   go run cmd/train/main.go -csv /path/to/applications.csv -out models/artifact.json
//
// This tool:
//   1. Reads historical subsidy applications (optionally with fraud labels)
//   2. Joins them against the reference registries in the repository
//   3. Engineers the feature matrix and fits scaler + isolation forest
//      (+ gradient-boosted classifier when positive labels exist)
//   4. Writes the artifact bundle for the server to hot-load
package main

import (
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/opensource-agri/harrow/internal/domain"
	"github.com/opensource-agri/harrow/internal/features"
	"github.com/opensource-agri/harrow/internal/model"
	"github.com/opensource-agri/harrow/internal/repository"
)

func main() {
	csvPath := flag.String("csv", "", "Path to labeled application CSV file")
	outPath := flag.String("out", "./models/artifact.json", "Artifact output path")
	dbPath := flag.String("db", "./harrow.db", "SQLite database holding the reference registries")
	version := flag.String("version", "", "Artifact version (default: timestamp)")
	contamination := flag.Float64("contamination", 0.10, "Expected outlier proportion")
	rounds := flag.Int("rounds", 100, "Boosting rounds for the classifier")
	seed := flag.Int64("seed", 42, "Random seed for reproducible forests")
	flag.Parse()

	if *csvPath == "" {
		fmt.Println("Usage: train -csv /path/to/applications.csv [-out models/artifact.json]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║            HARROW TRAIN - Fraud Model Artifact                ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Printf("\nCSV File:      %s\n", *csvPath)
	fmt.Printf("Database:      %s\n", *dbPath)
	fmt.Printf("Output:        %s\n", *outPath)
	fmt.Printf("Contamination: %.2f\n", *contamination)
	fmt.Printf("Rounds:        %d\n", *rounds)
	fmt.Println()

	ctx := context.Background()

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: *dbPath,
	})
	if err != nil {
		fmt.Printf("ERROR: failed to open repository: %v\n", err)
		os.Exit(1)
	}
	defer repo.Close()

	refs, err := loadReferences(ctx, repo)
	if err != nil {
		fmt.Printf("ERROR: failed to load reference registries: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Registries:    %d farmers, %d dealers, %d scheme rules\n",
		len(refs.Farmers), len(refs.Dealers), len(refs.SchemeRules))

	apps, labels, err := readApplications(*csvPath)
	if err != nil {
		fmt.Printf("ERROR: failed to read applications: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Applications:  %d rows (%d labeled fraud)\n", len(apps), countPositives(labels))

	engineer := features.NewEngineer()
	input := model.TrainInput{
		Rows:       make([][]float64, 0, len(apps)),
		Labels:     labels,
		Timestamps: make([]time.Time, 0, len(apps)),
	}
	skipped := 0
	for _, app := range apps {
		fv, err := engineer.Build(app, refs, nil)
		if err != nil {
			skipped++
			continue
		}
		input.Rows = append(input.Rows, fv.Values)
		input.Timestamps = append(input.Timestamps, app.Timestamp)
	}
	if skipped > 0 {
		fmt.Printf("Skipped:       %d rows failed feature engineering\n", skipped)
		// Labels are positional; bail rather than train on misaligned data.
		fmt.Println("ERROR: labels would be misaligned with surviving rows")
		os.Exit(1)
	}

	start := time.Now()
	artifact, err := model.Train(input, model.TrainOptions{
		Version:       *version,
		Contamination: *contamination,
		Seed:          *seed,
		Rounds:        *rounds,
	})
	if err != nil {
		fmt.Printf("ERROR: training failed: %v\n", err)
		os.Exit(1)
	}

	if err := artifact.Save(*outPath); err != nil {
		fmt.Printf("ERROR: failed to save artifact: %v\n", err)
		os.Exit(1)
	}

	m := artifact.Metrics
	fmt.Println()
	fmt.Println("═══════════════════════ TRAINING SUMMARY ═══════════════════════")
	fmt.Printf("Version:            %s\n", artifact.Version)
	fmt.Printf("Duration:           %s\n", time.Since(start).Round(time.Millisecond))
	fmt.Printf("Train rows:         %d\n", m.TrainRows)
	fmt.Printf("Test rows:          %d (%s split)\n", m.TestRows, m.SplitPolicy)
	fmt.Printf("Classifier trained: %v\n", m.ClassifierTrained)
	if m.ClassifierTrained {
		fmt.Printf("AUC:                %.4f\n", m.AUC)
		fmt.Printf("Precision:          %.4f\n", m.Precision)
		fmt.Printf("Recall:             %.4f\n", m.Recall)
		fmt.Printf("Precision@%d:       %.4f\n", m.K, m.PrecisionAtK)
	}
	fmt.Printf("Artifact:           %s\n", *outPath)
	fmt.Println()
	fmt.Println("Hot-load it with: curl -X POST http://localhost:8080/model/reload")
}

func loadReferences(ctx context.Context, repo domain.Repository) (*domain.ReferenceSet, error) {
	farmers, err := repo.ListFarmers(ctx)
	if err != nil {
		return nil, err
	}
	dealers, err := repo.ListDealers(ctx)
	if err != nil {
		return nil, err
	}
	schemeRules, err := repo.ListSchemeRules(ctx)
	if err != nil {
		return nil, err
	}

	refs := &domain.ReferenceSet{
		Farmers:     make(map[string]*domain.Farmer, len(farmers)),
		Dealers:     make(map[string]*domain.Dealer, len(dealers)),
		SchemeRules: schemeRules,
	}
	for _, f := range farmers {
		refs.Farmers[f.ID] = f
	}
	for _, d := range dealers {
		refs.Dealers[d.ID] = d
	}
	return refs, nil
}

// readApplications parses a header-addressed CSV into applications and labels.
// The is_fraud column is optional; without it training is unsupervised.
func readApplications(path string) ([]*domain.Application, []int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		return nil, nil, fmt.Errorf("read header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, required := range []string{"farmer_id", "dealer_id", "quantity_kg"} {
		if _, ok := col[required]; !ok {
			return nil, nil, fmt.Errorf("missing required column %q", required)
		}
	}

	get := func(row []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}
	getF := func(row []string, name string) float64 {
		v, _ := strconv.ParseFloat(get(row, name), 64)
		return v
	}

	var apps []*domain.Application
	var labels []int
	hasLabels := false
	if _, ok := col["is_fraud"]; ok {
		hasLabels = true
	}

	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, err
		}

		app := &domain.Application{
			FarmerID:      get(row, "farmer_id"),
			DealerID:      get(row, "dealer_id"),
			ProductType:   get(row, "product_type"),
			CropType:      get(row, "crop_type"),
			Season:        get(row, "season"),
			QuantityKg:    getF(row, "quantity_kg"),
			SubsidyAmt:    getF(row, "subsidy_amount"),
			AmountPaid:    getF(row, "amount_paid_by_farmer"),
			ClaimedLandHa: getF(row, "claimed_land_area_ha"),
			InvoiceNo:     get(row, "invoice_no"),
			PaymentMode:   get(row, "payment_mode"),
			DeliveryMode:  get(row, "delivery_mode"),
		}
		if lat, lon := get(row, "geo_lat"), get(row, "geo_lon"); lat != "" && lon != "" {
			app.GeoLat, _ = strconv.ParseFloat(lat, 64)
			app.GeoLon, _ = strconv.ParseFloat(lon, 64)
			app.HasCoord = true
		}
		if ts := get(row, "timestamp"); ts != "" {
			for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
				if t, perr := time.Parse(layout, ts); perr == nil {
					app.Timestamp = t.UTC()
					break
				}
			}
		}

		apps = append(apps, app)
		if hasLabels {
			label := 0
			switch strings.ToLower(get(row, "is_fraud")) {
			case "1", "true", "yes":
				label = 1
			}
			labels = append(labels, label)
		}
	}

	if !hasLabels {
		return apps, nil, nil
	}
	return apps, labels, nil
}

func countPositives(labels []int) int {
	n := 0
	for _, l := range labels {
		if l == 1 {
			n++
		}
	}
	return n
}
