package domain

// Finding severities, ordered. A CRITICAL or HIGH finding forces escalation
// regardless of the blended model score.
const (
	SeverityCritical = "CRITICAL"
	SeverityHigh     = "HIGH"
	SeverityMedium   = "MEDIUM"
	SeverityNone     = "NONE"
)

// RuleConfig defines a deterministic screening rule.
// The expression is CEL over the engineered feature activation; bands map the
// numeric result to a severity and reason.
type RuleConfig struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Version     string `json:"version"`

	// CEL expression returning bool, int, or double
	Expression string `json:"expression"`

	// Severity bands for result-to-finding mapping, evaluated in order
	Bands []RuleBand `json:"bands"`

	// Whether rule is active
	Enabled bool `json:"enabled"`
}

// RuleBand maps a result range to a finding severity. A boolean expression
// yields 1.0 for true, so a single band with LowerLimit=1 flags on truth.
type RuleBand struct {
	LowerLimit *float64 `json:"lowerLimit,omitempty"`
	UpperLimit *float64 `json:"upperLimit,omitempty"`
	Severity   string   `json:"severity"` // CRITICAL, HIGH, MEDIUM
	Reason     string   `json:"reason"`
}

// Finding is the output of one rule evaluation that fired.
type Finding struct {
	RuleID    string  `json:"ruleId"`
	Condition string  `json:"condition"` // rule name, e.g. "Ghost Farmer"
	Severity  string  `json:"severity"`
	Value     float64 `json:"value"` // the computed expression value
	Reason    string  `json:"reason"`
	ProcessMs int64   `json:"processMs,omitempty"`
}
