package pipeline

import (
	"time"

	"github.com/google/uuid"

	"github.com/shahuldxb/TradeDiscrepancyFinder-sub000/model"
)

// Score deductions per severity tier.
const (
	deductCritical = 25
	deductHigh     = 15
	deductMedium   = 10
	deductLow      = 5
)

// Synthesize aggregates enriched discrepancies into the final report. It
// is a pure function of its input: no lookups, no side effects.
func Synthesize(setID string, discrepancies []*model.Discrepancy) *model.Report {
	report := &model.Report{
		ID:        uuid.New().String(),
		SetID:     setID,
		Total:     len(discrepancies),
		CreatedAt: time.Now(),
	}

	for _, d := range discrepancies {
		switch d.Severity {
		case model.SeverityCritical:
			report.Critical++
		case model.SeverityHigh:
			report.High++
		case model.SeverityMedium:
			report.Medium++
		default:
			report.Low++
		}
		if d.Waivable {
			report.Waivable++
		} else {
			report.NonWaivable++
		}
		report.Discrepancies = append(report.Discrepancies, model.DiscrepancySummary{
			Type:          d.Type,
			FieldName:     d.FieldName,
			Severity:      d.Severity,
			RuleReference: d.RuleReference,
			Waivable:      d.Waivable,
			Description:   d.Description,
		})
	}

	// Strict priority order: any critical rejects outright.
	switch {
	case report.Critical > 0:
		report.Recommendation = model.RecommendReject
		report.RiskLevel = model.RiskHigh
	case report.High > 0:
		report.Recommendation = model.RecommendConditional
		report.RiskLevel = model.RiskMedium
	case report.Medium > 0:
		report.Recommendation = model.RecommendMinor
		report.RiskLevel = model.RiskLow
	default:
		report.Recommendation = model.RecommendClean
		report.RiskLevel = model.RiskNone
	}

	score := 100 -
		deductCritical*report.Critical -
		deductHigh*report.High -
		deductMedium*report.Medium -
		deductLow*report.Low
	if score < 0 {
		score = 0
	}
	report.ComplianceScore = score

	return report
}
