package audit

import "github.com/holdfast-sec/holdfast/internal/model"

// MaxRiskScore caps every computed risk score.
const MaxRiskScore = 100

// Signals are the inputs to risk scoring. All fields are observable at the
// decision point; scoring is pure so the same signals always produce the
// same score.
type Signals struct {
	Severity model.Severity
	Denied   bool
	Override bool
	// ThreatIndicators is the count of anomaly dimensions observed
	// (fingerprint mismatch, IP mismatch).
	ThreatIndicators int
	// RecentFailures is the caller's consecutive-denial streak.
	RecentFailures int
	// RequestsInWindow and Limit describe request velocity against the
	// caller's rate rule. Zero Limit means no rule applied.
	RequestsInWindow int
	Limit            int
}

var severityBase = map[model.Severity]int{
	model.SeverityLow:      5,
	model.SeverityMedium:   20,
	model.SeverityHigh:     40,
	model.SeverityCritical: 70,
}

// Score computes a deterministic additive risk score from the signals,
// capped at MaxRiskScore. This is cumulative scoring over known semantics,
// not anomaly detection.
func Score(s Signals) int {
	risk := severityBase[s.Severity]

	if s.Denied {
		risk += 10
	}
	if s.Override {
		risk += 10
	}

	risk += 15 * s.ThreatIndicators

	// Repeated failures escalate, bounded so a long streak cannot dominate
	// the severity signal.
	failures := s.RecentFailures
	if failures > 5 {
		failures = 5
	}
	risk += 5 * failures

	// Velocity against the caller's rate rule.
	if s.Limit > 0 {
		pct := s.RequestsInWindow * 100 / s.Limit
		if pct >= 100 {
			risk += 15
		} else if pct >= 80 {
			risk += 10
		}
	}

	if risk > MaxRiskScore {
		risk = MaxRiskScore
	}
	return risk
}
