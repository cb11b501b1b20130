// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/opensource-agri/harrow/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// statsScanLimit caps how many assessments the statistics endpoint reads to
// aggregate reason strings.
const statsScanLimit = 5000

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveFarmer upserts a farmer registry entry.
func (r *SQLRepository) SaveFarmer(ctx context.Context, f *domain.Farmer) error {
	if f == nil || f.ID == "" {
		return fmt.Errorf("%w: farmer ID is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO farmers (id, district, state, land_holding_ha, is_ghost)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			district = excluded.district,
			state = excluded.state,
			land_holding_ha = excluded.land_holding_ha,
			is_ghost = excluded.is_ghost
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		f.ID, f.District, f.State, f.LandHoldingHa, boolInt(f.IsGhost))
	return err
}

// GetFarmer retrieves a farmer by ID.
func (r *SQLRepository) GetFarmer(ctx context.Context, farmerID string) (*domain.Farmer, error) {
	query := `
		SELECT id, district, state, land_holding_ha, is_ghost
		FROM farmers WHERE id = ?
	`

	var f domain.Farmer
	var state sql.NullString
	var ghost int

	err := r.db.QueryRowContext(ctx, r.rebind(query), farmerID).Scan(
		&f.ID, &f.District, &state, &f.LandHoldingHa, &ghost)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	f.State = state.String
	f.IsGhost = ghost == 1
	return &f, nil
}

// ListFarmers returns the full farmer registry.
func (r *SQLRepository) ListFarmers(ctx context.Context) ([]*domain.Farmer, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, district, state, land_holding_ha, is_ghost FROM farmers`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var farmers []*domain.Farmer
	for rows.Next() {
		var f domain.Farmer
		var state sql.NullString
		var ghost int
		if err := rows.Scan(&f.ID, &f.District, &state, &f.LandHoldingHa, &ghost); err != nil {
			return nil, err
		}
		f.State = state.String
		f.IsGhost = ghost == 1
		farmers = append(farmers, &f)
	}
	return farmers, rows.Err()
}

// SaveDealer upserts a dealer registry entry.
func (r *SQLRepository) SaveDealer(ctx context.Context, d *domain.Dealer) error {
	if d == nil || d.ID == "" {
		return fmt.Errorf("%w: dealer ID is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO dealers (
			id, district, lat, lon, has_coord, num_outlets,
			avg_monthly_txn, inventory_received_kg, suspicious
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			district = excluded.district,
			lat = excluded.lat,
			lon = excluded.lon,
			has_coord = excluded.has_coord,
			num_outlets = excluded.num_outlets,
			avg_monthly_txn = excluded.avg_monthly_txn,
			inventory_received_kg = excluded.inventory_received_kg,
			suspicious = excluded.suspicious
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		d.ID, d.District, d.Lat, d.Lon, boolInt(d.HasCoord), d.NumOutlets,
		d.AvgMonthlyTxn, d.InventoryReceivedKg, boolInt(d.Suspicious))
	return err
}

// GetDealer retrieves a dealer by ID.
func (r *SQLRepository) GetDealer(ctx context.Context, dealerID string) (*domain.Dealer, error) {
	query := `
		SELECT id, district, lat, lon, has_coord, num_outlets,
			   avg_monthly_txn, inventory_received_kg, suspicious
		FROM dealers WHERE id = ?
	`

	var d domain.Dealer
	var hasCoord, suspicious int

	err := r.db.QueryRowContext(ctx, r.rebind(query), dealerID).Scan(
		&d.ID, &d.District, &d.Lat, &d.Lon, &hasCoord, &d.NumOutlets,
		&d.AvgMonthlyTxn, &d.InventoryReceivedKg, &suspicious)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	d.HasCoord = hasCoord == 1
	d.Suspicious = suspicious == 1
	return &d, nil
}

// ListDealers returns the full dealer registry.
func (r *SQLRepository) ListDealers(ctx context.Context) ([]*domain.Dealer, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, district, lat, lon, has_coord, num_outlets,
			   avg_monthly_txn, inventory_received_kg, suspicious
		FROM dealers`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var dealers []*domain.Dealer
	for rows.Next() {
		var d domain.Dealer
		var hasCoord, suspicious int
		if err := rows.Scan(&d.ID, &d.District, &d.Lat, &d.Lon, &hasCoord,
			&d.NumOutlets, &d.AvgMonthlyTxn, &d.InventoryReceivedKg, &suspicious); err != nil {
			return nil, err
		}
		d.HasCoord = hasCoord == 1
		d.Suspicious = suspicious == 1
		dealers = append(dealers, &d)
	}
	return dealers, rows.Err()
}

// SaveSchemeRule upserts a scheme cap rule.
func (r *SQLRepository) SaveSchemeRule(ctx context.Context, s *domain.SchemeRule) error {
	if s == nil || s.ID == "" {
		return fmt.Errorf("%w: scheme rule ID is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO scheme_rules (
			id, product_type, season, max_qty_per_ha, max_subsidy_amount,
			eligibility_land_min, eligibility_land_max, applicable_crops
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			product_type = excluded.product_type,
			season = excluded.season,
			max_qty_per_ha = excluded.max_qty_per_ha,
			max_subsidy_amount = excluded.max_subsidy_amount,
			eligibility_land_min = excluded.eligibility_land_min,
			eligibility_land_max = excluded.eligibility_land_max,
			applicable_crops = excluded.applicable_crops
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		s.ID, s.ProductType, s.Season, s.MaxQtyPerHa, s.MaxSubsidyAmt,
		s.EligibilityMin, s.EligibilityMax, s.ApplicableCrops)
	return err
}

// ListSchemeRules returns all scheme cap rules.
func (r *SQLRepository) ListSchemeRules(ctx context.Context) ([]*domain.SchemeRule, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, product_type, season, max_qty_per_ha, max_subsidy_amount,
			   eligibility_land_min, eligibility_land_max, applicable_crops
		FROM scheme_rules ORDER BY product_type, season`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*domain.SchemeRule
	for rows.Next() {
		var s domain.SchemeRule
		var season, crops sql.NullString
		if err := rows.Scan(&s.ID, &s.ProductType, &season, &s.MaxQtyPerHa,
			&s.MaxSubsidyAmt, &s.EligibilityMin, &s.EligibilityMax, &crops); err != nil {
			return nil, err
		}
		s.Season = season.String
		s.ApplicableCrops = crops.String
		rules = append(rules, &s)
	}
	return rules, rows.Err()
}

// SaveCropNorm upserts a crop norm.
func (r *SQLRepository) SaveCropNorm(ctx context.Context, n *domain.CropNorm) error {
	if n == nil || n.Crop == "" {
		return fmt.Errorf("%w: crop name is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO crop_norms (crop, fertilizer_per_acre, seed_per_acre)
		VALUES (?, ?, ?)
		ON CONFLICT(crop) DO UPDATE SET
			fertilizer_per_acre = excluded.fertilizer_per_acre,
			seed_per_acre = excluded.seed_per_acre
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		n.Crop, n.FertilizerPerAcre, n.SeedPerAcre)
	return err
}

// ListCropNorms returns all crop norms.
func (r *SQLRepository) ListCropNorms(ctx context.Context) ([]*domain.CropNorm, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT crop, fertilizer_per_acre, seed_per_acre FROM crop_norms ORDER BY crop`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var norms []*domain.CropNorm
	for rows.Next() {
		var n domain.CropNorm
		if err := rows.Scan(&n.Crop, &n.FertilizerPerAcre, &n.SeedPerAcre); err != nil {
			return nil, err
		}
		norms = append(norms, &n)
	}
	return norms, rows.Err()
}

// SaveApplication stores a scored application for history aggregation.
func (r *SQLRepository) SaveApplication(ctx context.Context, app *domain.Application) error {
	if app == nil || app.ID == "" {
		return fmt.Errorf("%w: application ID is required", ErrInvalidInput)
	}

	metadata, _ := json.Marshal(app.Metadata)

	query := `
		INSERT INTO applications (
			id, farmer_id, dealer_id, product_type, crop_type, season,
			quantity_kg, subsidy_amount, amount_paid, claimed_land_ha,
			invoice_no, payment_mode, delivery_mode,
			geo_lat, geo_lon, has_coord, timestamp, created_at, metadata
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		app.ID, app.FarmerID, app.DealerID, app.ProductType, app.CropType, app.Season,
		app.QuantityKg, app.SubsidyAmt, app.AmountPaid, app.ClaimedLandHa,
		app.InvoiceNo, app.PaymentMode, app.DeliveryMode,
		app.GeoLat, app.GeoLon, boolInt(app.HasCoord),
		app.Timestamp, app.CreatedAt, string(metadata))
	return err
}

// GetApplication retrieves an application by ID.
func (r *SQLRepository) GetApplication(ctx context.Context, appID string) (*domain.Application, error) {
	query := `
		SELECT id, farmer_id, dealer_id, product_type, crop_type, season,
			   quantity_kg, subsidy_amount, amount_paid, claimed_land_ha,
			   invoice_no, payment_mode, delivery_mode,
			   geo_lat, geo_lon, has_coord, timestamp, created_at, metadata
		FROM applications WHERE id = ?
	`

	var app domain.Application
	var hasCoord int
	var metadata sql.NullString

	err := r.db.QueryRowContext(ctx, r.rebind(query), appID).Scan(
		&app.ID, &app.FarmerID, &app.DealerID, &app.ProductType, &app.CropType, &app.Season,
		&app.QuantityKg, &app.SubsidyAmt, &app.AmountPaid, &app.ClaimedLandHa,
		&app.InvoiceNo, &app.PaymentMode, &app.DeliveryMode,
		&app.GeoLat, &app.GeoLon, &hasCoord, &app.Timestamp, &app.CreatedAt, &metadata)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	app.HasCoord = hasCoord == 1
	if metadata.String != "" {
		json.Unmarshal([]byte(metadata.String), &app.Metadata)
	}
	return &app, nil
}

// ListApplicationsSince returns applications at or after the given time.
func (r *SQLRepository) ListApplicationsSince(ctx context.Context, since time.Time) ([]*domain.Application, error) {
	query := `
		SELECT id, farmer_id, dealer_id, product_type, crop_type, season,
			   quantity_kg, subsidy_amount, amount_paid, claimed_land_ha,
			   invoice_no, payment_mode, delivery_mode,
			   geo_lat, geo_lon, has_coord, timestamp, created_at, metadata
		FROM applications
		WHERE timestamp >= ?
		ORDER BY timestamp
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var apps []*domain.Application
	for rows.Next() {
		var app domain.Application
		var hasCoord int
		var metadata sql.NullString
		if err := rows.Scan(
			&app.ID, &app.FarmerID, &app.DealerID, &app.ProductType, &app.CropType, &app.Season,
			&app.QuantityKg, &app.SubsidyAmt, &app.AmountPaid, &app.ClaimedLandHa,
			&app.InvoiceNo, &app.PaymentMode, &app.DeliveryMode,
			&app.GeoLat, &app.GeoLon, &hasCoord, &app.Timestamp, &app.CreatedAt, &metadata); err != nil {
			return nil, err
		}
		app.HasCoord = hasCoord == 1
		if metadata.String != "" {
			json.Unmarshal([]byte(metadata.String), &app.Metadata)
		}
		apps = append(apps, &app)
	}
	return apps, rows.Err()
}

// CountFarmerApplications returns the application count and total quantity
// for a farmer, excluding the named application. Excluding the record being
// scored keeps a re-score of a persisted application identical to its first
// pass.
func (r *SQLRepository) CountFarmerApplications(ctx context.Context, farmerID, excludeAppID string) (int64, float64, error) {
	query := `
		SELECT COUNT(*), COALESCE(SUM(quantity_kg), 0)
		FROM applications WHERE farmer_id = ? AND id <> ?
	`

	var count int64
	var quantity float64
	err := r.db.QueryRowContext(ctx, r.rebind(query), farmerID, excludeAppID).Scan(&count, &quantity)
	return count, quantity, err
}

// DealerAggregates returns distinct farmer count, transaction count and total
// quantity moved through a dealer, excluding the named application.
func (r *SQLRepository) DealerAggregates(ctx context.Context, dealerID, excludeAppID string) (int64, int64, float64, error) {
	query := `
		SELECT COUNT(DISTINCT farmer_id), COUNT(*), COALESCE(SUM(quantity_kg), 0)
		FROM applications WHERE dealer_id = ? AND id <> ?
	`

	var farmers, txns int64
	var quantity float64
	err := r.db.QueryRowContext(ctx, r.rebind(query), dealerID, excludeAppID).Scan(&farmers, &txns, &quantity)
	return farmers, txns, quantity, err
}

// CountDealerInvoice returns how many other stored applications carry the
// given dealer/invoice pair.
func (r *SQLRepository) CountDealerInvoice(ctx context.Context, dealerID, invoiceNo, excludeAppID string) (int64, error) {
	query := `SELECT COUNT(*) FROM applications WHERE dealer_id = ? AND invoice_no = ? AND id <> ?`

	var count int64
	err := r.db.QueryRowContext(ctx, r.rebind(query), dealerID, invoiceNo, excludeAppID).Scan(&count)
	return count, err
}

// SaveAssessment stores an assessment result.
func (r *SQLRepository) SaveAssessment(ctx context.Context, a *domain.Assessment) error {
	if a == nil || a.ID == "" {
		return fmt.Errorf("%w: assessment ID is required", ErrInvalidInput)
	}

	reasons, _ := json.Marshal(a.Reasons)
	findings, _ := json.Marshal(a.Findings)
	details, _ := json.Marshal(a.Details)
	metadata, _ := json.Marshal(a.Metadata)

	query := `
		INSERT INTO assessments (
			id, application_id, risk_score, risk_level, is_flagged,
			recommendation, reasons, findings, details, metadata, timestamp
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		a.ID, a.ApplicationID, a.RiskScore, a.RiskLevel, boolInt(a.IsFlagged),
		a.Recommend, string(reasons), string(findings), string(details),
		string(metadata), a.Timestamp)
	return err
}

// GetAssessment retrieves an assessment by ID.
func (r *SQLRepository) GetAssessment(ctx context.Context, assessmentID string) (*domain.Assessment, error) {
	query := `
		SELECT id, application_id, risk_score, risk_level, is_flagged,
			   recommendation, reasons, findings, details, metadata, timestamp
		FROM assessments WHERE id = ?
	`

	var a domain.Assessment
	var flagged int
	var reasons, findings, details, metadata sql.NullString

	err := r.db.QueryRowContext(ctx, r.rebind(query), assessmentID).Scan(
		&a.ID, &a.ApplicationID, &a.RiskScore, &a.RiskLevel, &flagged,
		&a.Recommend, &reasons, &findings, &details, &metadata, &a.Timestamp)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	a.IsFlagged = flagged == 1
	json.Unmarshal([]byte(reasons.String), &a.Reasons)
	json.Unmarshal([]byte(findings.String), &a.Findings)
	json.Unmarshal([]byte(details.String), &a.Details)
	json.Unmarshal([]byte(metadata.String), &a.Metadata)
	return &a, nil
}

// AssessmentStats aggregates stored assessments for reporting.
func (r *SQLRepository) AssessmentStats(ctx context.Context) (*domain.FraudStats, error) {
	stats := &domain.FraudStats{ByRiskLevel: make(map[string]int64)}

	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(is_flagged), 0) FROM assessments`).
		Scan(&stats.TotalAssessments, &stats.FlaggedCount)
	if err != nil {
		return nil, err
	}
	if stats.TotalAssessments > 0 {
		stats.FlaggedRate = float64(stats.FlaggedCount) / float64(stats.TotalAssessments) * 100
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT risk_level, COUNT(*) FROM assessments GROUP BY risk_level`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var level string
		var count int64
		if err := rows.Scan(&level, &count); err != nil {
			return nil, err
		}
		stats.ByRiskLevel[level] = count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reason strings live inside a JSON column, so the tally happens here
	// over a bounded window of recent assessments.
	query := `SELECT reasons FROM assessments ORDER BY timestamp DESC LIMIT ` +
		fmt.Sprintf("%d", statsScanLimit)
	reasonRows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer reasonRows.Close()

	counts := make(map[string]int64)
	for reasonRows.Next() {
		var raw sql.NullString
		if err := reasonRows.Scan(&raw); err != nil {
			return nil, err
		}
		var reasons []string
		if raw.String != "" {
			json.Unmarshal([]byte(raw.String), &reasons)
		}
		for _, reason := range reasons {
			counts[reason]++
		}
	}
	if err := reasonRows.Err(); err != nil {
		return nil, err
	}

	stats.TopReasons = topReasons(counts, 10)
	return stats, nil
}

// SaveRuleConfig upserts a screening rule configuration.
func (r *SQLRepository) SaveRuleConfig(ctx context.Context, rule *domain.RuleConfig) error {
	if rule == nil || rule.ID == "" {
		return fmt.Errorf("%w: rule ID is required", ErrInvalidInput)
	}

	bands, _ := json.Marshal(rule.Bands)
	now := time.Now().UTC()

	query := `
		INSERT INTO rule_configs (
			id, name, description, version, expression, bands, enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, version) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			expression = excluded.expression,
			bands = excluded.bands,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, rule.Name, rule.Description, rule.Version,
		rule.Expression, string(bands), boolInt(rule.Enabled), now, now)
	return err
}

// ListRuleConfigs returns the latest version of every rule.
func (r *SQLRepository) ListRuleConfigs(ctx context.Context) ([]*domain.RuleConfig, error) {
	query := `
		SELECT id, name, description, version, expression, bands, enabled
		FROM rule_configs
		ORDER BY id, version DESC
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	seen := make(map[string]bool)
	var configs []*domain.RuleConfig
	for rows.Next() {
		var cfg domain.RuleConfig
		var description, bands sql.NullString
		var enabled int
		if err := rows.Scan(&cfg.ID, &cfg.Name, &description, &cfg.Version,
			&cfg.Expression, &bands, &enabled); err != nil {
			return nil, err
		}
		if seen[cfg.ID] {
			continue
		}
		seen[cfg.ID] = true

		cfg.Description = description.String
		cfg.Enabled = enabled == 1
		json.Unmarshal([]byte(bands.String), &cfg.Bands)
		configs = append(configs, &cfg)
	}
	return configs, rows.Err()
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, ... for postgres.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// topReasons returns the n most frequent reasons, most frequent first.
func topReasons(counts map[string]int64, n int) []domain.ReasonCount {
	out := make([]domain.ReasonCount, 0, len(counts))
	for reason, count := range counts {
		out = append(out, domain.ReasonCount{Reason: reason, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Reason < out[j].Reason
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}
