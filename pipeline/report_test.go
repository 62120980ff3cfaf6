package pipeline

import (
	"testing"

	"github.com/shahuldxb/TradeDiscrepancyFinder-sub000/model"
)

func disc(severity string, waivable bool) *model.Discrepancy {
	return &model.Discrepancy{
		ID:            "d-" + severity,
		SetID:         "set-1",
		Type:          model.DiscAmountMismatch,
		FieldName:     "amount",
		Severity:      severity,
		RuleReference: "UCP 600 Article 18",
		Waivable:      waivable,
	}
}

func TestSynthesizeCleanPresentation(t *testing.T) {
	report := Synthesize("set-1", nil)

	if report.Total != 0 {
		t.Errorf("Expected total 0, got %d", report.Total)
	}
	if report.ComplianceScore != 100 {
		t.Errorf("Expected score 100, got %d", report.ComplianceScore)
	}
	if report.Recommendation != model.RecommendClean {
		t.Errorf("Expected %q, got %q", model.RecommendClean, report.Recommendation)
	}
	if report.RiskLevel != model.RiskNone {
		t.Errorf("Expected risk none, got %s", report.RiskLevel)
	}
}

func TestSynthesizeRecommendationPriority(t *testing.T) {
	tests := []struct {
		name       string
		severities []string
		wantRec    string
		wantRisk   string
	}{
		{"critical wins over everything", []string{model.SeverityCritical, model.SeverityHigh, model.SeverityLow}, model.RecommendReject, model.RiskHigh},
		{"high without critical", []string{model.SeverityHigh, model.SeverityMedium}, model.RecommendConditional, model.RiskMedium},
		{"medium only", []string{model.SeverityMedium, model.SeverityLow}, model.RecommendMinor, model.RiskLow},
		{"low only falls through to clean", []string{model.SeverityLow}, model.RecommendClean, model.RiskNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var ds []*model.Discrepancy
			for _, s := range tt.severities {
				ds = append(ds, disc(s, false))
			}
			report := Synthesize("set-1", ds)
			if report.Recommendation != tt.wantRec {
				t.Errorf("Expected %q, got %q", tt.wantRec, report.Recommendation)
			}
			if report.RiskLevel != tt.wantRisk {
				t.Errorf("Expected risk %s, got %s", tt.wantRisk, report.RiskLevel)
			}
		})
	}
}

func TestSynthesizeScoreDeductions(t *testing.T) {
	report := Synthesize("set-1", []*model.Discrepancy{
		disc(model.SeverityCritical, false),
		disc(model.SeverityHigh, false),
		disc(model.SeverityMedium, true),
		disc(model.SeverityLow, true),
	})

	// 100 - 25 - 15 - 10 - 5
	if report.ComplianceScore != 45 {
		t.Errorf("Expected score 45, got %d", report.ComplianceScore)
	}
	if report.Critical != 1 || report.High != 1 || report.Medium != 1 || report.Low != 1 {
		t.Errorf("Unexpected severity counts: %+v", report)
	}
	if report.Waivable != 2 || report.NonWaivable != 2 {
		t.Errorf("Expected 2 waivable and 2 non-waivable, got %d and %d",
			report.Waivable, report.NonWaivable)
	}
	if len(report.Discrepancies) != 4 {
		t.Errorf("Expected 4 summaries, got %d", len(report.Discrepancies))
	}
}

func TestSynthesizeScoreClampedAtZero(t *testing.T) {
	var ds []*model.Discrepancy
	for i := 0; i < 5; i++ {
		ds = append(ds, disc(model.SeverityCritical, false))
	}
	report := Synthesize("set-1", ds)
	if report.ComplianceScore != 0 {
		t.Errorf("Expected score clamped to 0, got %d", report.ComplianceScore)
	}
	if report.Recommendation != model.RecommendReject {
		t.Errorf("Expected %q, got %q", model.RecommendReject, report.Recommendation)
	}
}

func TestSynthesizeUnknownSeverityCountsAsLow(t *testing.T) {
	report := Synthesize("set-1", []*model.Discrepancy{disc("", false)})
	if report.Low != 1 {
		t.Errorf("Expected unknown severity bucketed as low, got %+v", report)
	}
	if report.ComplianceScore != 95 {
		t.Errorf("Expected score 95, got %d", report.ComplianceScore)
	}
}
