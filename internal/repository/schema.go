package repository

// Schema definitions for the Harrow database.
// Compatible with both SQLite and PostgreSQL.

const schemaFarmers = `
CREATE TABLE IF NOT EXISTS farmers (
    id TEXT PRIMARY KEY,
    district TEXT NOT NULL,
    state TEXT,
    land_holding_ha REAL NOT NULL DEFAULT 0,
    is_ghost INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_farmers_district ON farmers(district);
`

const schemaDealers = `
CREATE TABLE IF NOT EXISTS dealers (
    id TEXT PRIMARY KEY,
    district TEXT NOT NULL,
    lat REAL NOT NULL DEFAULT 0,
    lon REAL NOT NULL DEFAULT 0,
    has_coord INTEGER NOT NULL DEFAULT 0,
    num_outlets INTEGER NOT NULL DEFAULT 0,
    avg_monthly_txn REAL NOT NULL DEFAULT 0,
    inventory_received_kg REAL NOT NULL DEFAULT 0,
    suspicious INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_dealers_district ON dealers(district);
`

const schemaSchemeRules = `
CREATE TABLE IF NOT EXISTS scheme_rules (
    id TEXT PRIMARY KEY,
    product_type TEXT NOT NULL,
    season TEXT,
    max_qty_per_ha REAL NOT NULL DEFAULT 0,
    max_subsidy_amount REAL NOT NULL DEFAULT 0,
    eligibility_land_min REAL NOT NULL DEFAULT 0,
    eligibility_land_max REAL NOT NULL DEFAULT 0,
    applicable_crops TEXT
);

CREATE INDEX IF NOT EXISTS idx_scheme_rules_product ON scheme_rules(product_type, season);
`

const schemaCropNorms = `
CREATE TABLE IF NOT EXISTS crop_norms (
    crop TEXT PRIMARY KEY,
    fertilizer_per_acre REAL NOT NULL DEFAULT 0,
    seed_per_acre REAL NOT NULL DEFAULT 0
);
`

const schemaApplications = `
CREATE TABLE IF NOT EXISTS applications (
    id TEXT PRIMARY KEY,
    farmer_id TEXT NOT NULL,
    dealer_id TEXT NOT NULL,
    product_type TEXT,
    crop_type TEXT,
    season TEXT,
    quantity_kg REAL NOT NULL,
    subsidy_amount REAL NOT NULL,
    amount_paid REAL NOT NULL DEFAULT 0,
    claimed_land_ha REAL NOT NULL DEFAULT 0,
    invoice_no TEXT,
    payment_mode TEXT,
    delivery_mode TEXT,
    geo_lat REAL NOT NULL DEFAULT 0,
    geo_lon REAL NOT NULL DEFAULT 0,
    has_coord INTEGER NOT NULL DEFAULT 0,
    timestamp TIMESTAMP NOT NULL,
    created_at TIMESTAMP NOT NULL,
    metadata TEXT
);

CREATE INDEX IF NOT EXISTS idx_applications_farmer ON applications(farmer_id);
CREATE INDEX IF NOT EXISTS idx_applications_dealer ON applications(dealer_id);
CREATE INDEX IF NOT EXISTS idx_applications_invoice ON applications(dealer_id, invoice_no);
CREATE INDEX IF NOT EXISTS idx_applications_timestamp ON applications(timestamp);
`

const schemaAssessments = `
CREATE TABLE IF NOT EXISTS assessments (
    id TEXT PRIMARY KEY,
    application_id TEXT NOT NULL,
    risk_score REAL NOT NULL,
    risk_level TEXT NOT NULL,
    is_flagged INTEGER NOT NULL DEFAULT 0,
    recommendation TEXT NOT NULL,
    reasons TEXT,
    findings TEXT,
    details TEXT NOT NULL,
    metadata TEXT NOT NULL,
    timestamp TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_assessments_application ON assessments(application_id);
CREATE INDEX IF NOT EXISTS idx_assessments_level ON assessments(risk_level);
CREATE INDEX IF NOT EXISTS idx_assessments_timestamp ON assessments(timestamp);
`

const schemaRuleConfigs = `
CREATE TABLE IF NOT EXISTS rule_configs (
    id TEXT NOT NULL,
    name TEXT NOT NULL,
    description TEXT,
    version TEXT NOT NULL,
    expression TEXT NOT NULL,
    bands TEXT NOT NULL,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (id, version)
);

CREATE INDEX IF NOT EXISTS idx_rule_configs_enabled ON rule_configs(enabled);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaFarmers,
		schemaDealers,
		schemaSchemeRules,
		schemaCropNorms,
		schemaApplications,
		schemaAssessments,
		schemaRuleConfigs,
	}
}
