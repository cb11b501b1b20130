// Package decision blends model scores with screening findings into a risk
// level and a recommendation.
package decision

import (
	"fmt"

	"github.com/opensource-agri/harrow/internal/domain"
	"github.com/opensource-agri/harrow/internal/model"
)

// Blend weights. The supervised probability dominates when present; the
// anomaly score keeps novel patterns visible even with a trained classifier.
const (
	classifierWeight = 0.7
	anomalyWeight    = 0.3
)

// Tiered thresholds on the blended score. Below the low threshold the
// application is NORMAL, not merely low risk.
const (
	highThreshold   = 0.6
	mediumThreshold = 0.3
	lowThreshold    = 0.2
)

// binaryThreshold flags in binary mode; exceeded score OR any finding flags.
const binaryThreshold = 0.5

// Engine maps scores and findings to decisions under a configured policy.
type Engine struct {
	mode domain.DecisionMode
}

// NewEngine creates a decision engine for the given policy.
func NewEngine(mode domain.DecisionMode) *Engine {
	if mode == "" {
		mode = domain.ModeTiered
	}
	return &Engine{mode: mode}
}

// Mode returns the active policy.
func (e *Engine) Mode() domain.DecisionMode {
	return e.mode
}

// Decide fills the risk fields of an assessment from the model scores and the
// screening findings. scores may be nil when no model is loaded; the decision
// then rests on findings alone and the level reports UNKNOWN.
func (e *Engine) Decide(a *domain.Assessment, scores *model.Scores, findings []domain.Finding) {
	a.Findings = findings

	risk, haveScore := blend(scores)
	a.RiskScore = risk

	worst := worstSeverity(findings)

	switch e.mode {
	case domain.ModeBinary:
		e.decideBinary(a, haveScore, worst)
	default:
		e.decideTiered(a, haveScore, worst)
	}

	a.Recommend = recommend(worst, a.RiskLevel)
	a.Reasons = reasons(findings, a.RiskScore, haveScore)
}

func (e *Engine) decideTiered(a *domain.Assessment, haveScore bool, worst string) {
	if !haveScore {
		a.RiskLevel = domain.RiskUnknown
	} else {
		switch {
		case a.RiskScore >= highThreshold:
			a.RiskLevel = domain.RiskHigh
		case a.RiskScore >= mediumThreshold:
			a.RiskLevel = domain.RiskMedium
		case a.RiskScore >= lowThreshold:
			a.RiskLevel = domain.RiskLow
		default:
			a.RiskLevel = domain.RiskNormal
		}
	}

	// Deterministic findings override a quiet model: a registry violation is
	// a violation no matter the score.
	switch worst {
	case domain.SeverityCritical, domain.SeverityHigh:
		a.RiskLevel = domain.RiskHigh
	case domain.SeverityMedium:
		if a.RiskLevel == domain.RiskNormal || a.RiskLevel == domain.RiskLow || a.RiskLevel == domain.RiskUnknown {
			a.RiskLevel = domain.RiskMedium
		}
	}

	a.IsFlagged = a.RiskLevel == domain.RiskHigh
}

func (e *Engine) decideBinary(a *domain.Assessment, haveScore bool, worst string) {
	flagged := worst != domain.SeverityNone
	if haveScore && a.RiskScore > binaryThreshold {
		flagged = true
	}

	if !haveScore && worst == domain.SeverityNone {
		a.RiskLevel = domain.RiskUnknown
		return
	}

	a.IsFlagged = flagged
	if flagged {
		a.RiskLevel = domain.RiskFlagged
	} else {
		a.RiskLevel = domain.RiskSafe
	}
}

// blend fuses the model outputs into one score. Without a classifier the
// anomaly score stands alone.
func blend(scores *model.Scores) (float64, bool) {
	if scores == nil {
		return 0, false
	}
	if scores.Classifier != nil {
		return classifierWeight*(*scores.Classifier) + anomalyWeight*scores.Isolation, true
	}
	return scores.Isolation, true
}

// worstSeverity returns the highest severity across findings.
func worstSeverity(findings []domain.Finding) string {
	worst := domain.SeverityNone
	for _, f := range findings {
		switch f.Severity {
		case domain.SeverityCritical:
			return domain.SeverityCritical
		case domain.SeverityHigh:
			worst = domain.SeverityHigh
		case domain.SeverityMedium:
			if worst == domain.SeverityNone {
				worst = domain.SeverityMedium
			}
		}
	}
	return worst
}

// recommend maps the worst finding severity to an action. A high model score
// without findings still goes to a human.
func recommend(worst, riskLevel string) string {
	switch worst {
	case domain.SeverityCritical:
		return domain.RecommendReject
	case domain.SeverityHigh:
		return domain.RecommendManualReview
	case domain.SeverityMedium:
		return domain.RecommendVerifyDocs
	}
	if riskLevel == domain.RiskHigh || riskLevel == domain.RiskFlagged {
		return domain.RecommendManualReview
	}
	return domain.RecommendApprove
}

// reasons collects the human-readable explanation list.
func reasons(findings []domain.Finding, risk float64, haveScore bool) []string {
	out := make([]string, 0, len(findings)+1)
	for _, f := range findings {
		out = append(out, f.Reason)
	}
	if haveScore && risk >= mediumThreshold {
		out = append(out, fmt.Sprintf("Model risk score %.2f", risk))
	}
	return out
}
