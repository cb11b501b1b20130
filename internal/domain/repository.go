// Package domain defines the core interfaces and types for Harrow.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence: reference tables,
// application history, and assessment results.
type Repository interface {
	// Reference data
	SaveFarmer(ctx context.Context, f *Farmer) error
	GetFarmer(ctx context.Context, farmerID string) (*Farmer, error)
	ListFarmers(ctx context.Context) ([]*Farmer, error)

	SaveDealer(ctx context.Context, d *Dealer) error
	GetDealer(ctx context.Context, dealerID string) (*Dealer, error)
	ListDealers(ctx context.Context) ([]*Dealer, error)

	SaveSchemeRule(ctx context.Context, r *SchemeRule) error
	ListSchemeRules(ctx context.Context) ([]*SchemeRule, error)

	SaveCropNorm(ctx context.Context, n *CropNorm) error
	ListCropNorms(ctx context.Context) ([]*CropNorm, error)

	// Application history (the feature-engineering source)
	SaveApplication(ctx context.Context, app *Application) error
	GetApplication(ctx context.Context, appID string) (*Application, error)
	ListApplicationsSince(ctx context.Context, since time.Time) ([]*Application, error)
	// The aggregate queries exclude excludeAppID so re-scoring a persisted
	// application sees the same history as its first pass.
	CountFarmerApplications(ctx context.Context, farmerID, excludeAppID string) (int64, float64, error)
	DealerAggregates(ctx context.Context, dealerID, excludeAppID string) (farmers int64, txns int64, quantity float64, err error)
	CountDealerInvoice(ctx context.Context, dealerID, invoiceNo, excludeAppID string) (int64, error)

	// Assessment results
	SaveAssessment(ctx context.Context, a *Assessment) error
	GetAssessment(ctx context.Context, assessmentID string) (*Assessment, error)
	AssessmentStats(ctx context.Context) (*FraudStats, error)

	// Rule configuration
	SaveRuleConfig(ctx context.Context, rule *RuleConfig) error
	ListRuleConfigs(ctx context.Context) ([]*RuleConfig, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// FraudStats summarizes stored assessments for the statistics endpoint.
type FraudStats struct {
	TotalAssessments int64            `json:"totalAssessments"`
	FlaggedCount     int64            `json:"flaggedCount"`
	FlaggedRate      float64          `json:"flaggedRate"` // percent
	ByRiskLevel      map[string]int64 `json:"byRiskLevel"`
	TopReasons       []ReasonCount    `json:"topReasons"`
}

// ReasonCount is a reason string with its occurrence count.
type ReasonCount struct {
	Reason string `json:"reason"`
	Count  int64  `json:"count"`
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
