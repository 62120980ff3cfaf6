package pipeline

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/shahuldxb/TradeDiscrepancyFinder-sub000/model"
	"github.com/shahuldxb/TradeDiscrepancyFinder-sub000/pkg/refdata"
)

// Matcher decides whether a compliance rule applies to a candidate. It is
// a pluggable strategy so matching accuracy can improve without touching
// the orchestrator.
type Matcher interface {
	Match(rule refdata.Rule, cand Candidate) bool
}

// SubstringMatcher is the default, deliberately permissive policy: the
// rule applies when its title or text contains the candidate's field name
// or discrepancy type, case-insensitively. Acceptable because the catalog
// is small and curated.
type SubstringMatcher struct{}

func (SubstringMatcher) Match(rule refdata.Rule, cand Candidate) bool {
	hay := strings.ToLower(rule.Title + " " + rule.Text)
	field := strings.ToLower(strings.ReplaceAll(cand.FieldName, "_", " "))
	dtype := strings.ToLower(strings.ReplaceAll(cand.Type, "_", " "))
	return (field != "" && strings.Contains(hay, field)) ||
		(dtype != "" && strings.Contains(hay, dtype))
}

// KeywordMatcher matches on a curated keyword set per rule number.
type KeywordMatcher struct {
	// Keywords maps rule number → keywords checked against the
	// candidate's field name and discrepancy type.
	Keywords map[string][]string
}

func (m KeywordMatcher) Match(rule refdata.Rule, cand Candidate) bool {
	field := strings.ToLower(strings.ReplaceAll(cand.FieldName, "_", " "))
	dtype := strings.ToLower(strings.ReplaceAll(cand.Type, "_", " "))
	for _, kw := range m.Keywords[rule.Number] {
		kw = strings.ToLower(kw)
		if strings.Contains(field, kw) || strings.Contains(dtype, kw) {
			return true
		}
	}
	return false
}

// SeverityOverride pins a severity for a family of rule numbers. When the
// matched rule's number starts with the prefix, that severity wins over
// the comparator's hint.
type SeverityOverride struct {
	RulePrefix string
	Severity   string
}

// SeverityOverrides is the ordered precedence table; the first matching
// prefix wins.
var SeverityOverrides = []SeverityOverride{
	{RulePrefix: "UCP600-18", Severity: model.SeverityCritical},
	{RulePrefix: "UCP600-20", Severity: model.SeverityCritical},
	{RulePrefix: "UCP600-14", Severity: model.SeverityCritical},
}

func overrideSeverity(ruleNumber string) (string, bool) {
	for _, o := range SeverityOverrides {
		if strings.HasPrefix(ruleNumber, o.RulePrefix) {
			return o.Severity, true
		}
	}
	return "", false
}

// GenericRuleReference is the rule reference of the fallback discrepancy
// created when no catalog rule matches.
const GenericRuleReference = "general UCP principle"

const genericAdvice = "review against the standard and ensure compliance"

type adviceEntry struct {
	waivable bool
	advice   string
}

var adviceByType = map[string]adviceEntry{
	model.DiscMissingDocument: {
		waivable: false,
		advice:   "Present the missing document before expiry of the credit.",
	},
	model.DiscAmountMismatch: {
		waivable: false,
		advice:   "Issue a corrected invoice or obtain an amendment to the credit amount.",
	},
	model.DiscCurrencyMismatch: {
		waivable: false,
		advice:   "Reissue the invoice in the currency of the credit or amend the credit.",
	},
	model.DiscBeneficiaryMismatch: {
		waivable: true,
		advice:   "Confirm the beneficiary's legal name and correct the document, or request a waiver from the applicant.",
	},
	model.DiscLateShipment: {
		waivable: false,
		advice:   "Request an applicant waiver or an amendment extending the latest shipment date.",
	},
	model.DiscManualReview: {
		waivable: true,
		advice:   "The value could not be parsed; review it manually against the credit terms.",
	},
}

// RuleMapper enriches raw candidates into persisted Discrepancies.
type RuleMapper struct {
	catalog *refdata.Catalog
	matcher Matcher
}

// NewRuleMapper builds a mapper; a nil matcher selects SubstringMatcher.
func NewRuleMapper(catalog *refdata.Catalog, matcher Matcher) *RuleMapper {
	if matcher == nil {
		matcher = SubstringMatcher{}
	}
	return &RuleMapper{catalog: catalog, matcher: matcher}
}

// Enrich maps a candidate to its best-matching compliance rule and builds
// the Discrepancy. It never fails: when no rule matches, the discrepancy
// is created against the generic principle with the comparator's severity
// hint, so the pipeline can always produce a report.
func (m *RuleMapper) Enrich(setID string, cand Candidate) *model.Discrepancy {
	d := &model.Discrepancy{
		ID:            uuid.New().String(),
		SetID:         setID,
		Type:          cand.Type,
		FieldName:     cand.FieldName,
		Severity:      cand.SeverityHint,
		RuleReference: GenericRuleReference,
		Description:   describeCandidate(cand),
		Advice:        genericAdvice,
		Waivable:      true,
		Values:        cand.Values,
		Documents:     cand.Documents,
		CreatedAt:     time.Now(),
	}
	if d.Severity == "" {
		d.Severity = model.SeverityMedium
	}

	if entry, ok := adviceByType[cand.Type]; ok {
		d.Waivable = entry.waivable
		d.Advice = entry.advice
	}

	// Manual-review findings are process outcomes, not rule breaches;
	// mapping them onto an article would also drag in its severity
	// override, turning an unparsable value into a rejection.
	if cand.Type == model.DiscManualReview {
		return d
	}

	for _, rule := range m.catalog.ComplianceRules() {
		if !m.matcher.Match(rule, cand) {
			continue
		}
		d.RuleReference = rule.ArticleID
		if severity, ok := overrideSeverity(rule.Number); ok {
			d.Severity = severity
		}
		break
	}

	return d
}

func describeCandidate(cand Candidate) string {
	switch cand.Type {
	case model.DiscMissingDocument:
		return fmt.Sprintf("required document %q is absent from the presentation",
			strings.ReplaceAll(cand.FieldName, "_", " "))
	case model.DiscAmountMismatch:
		return fmt.Sprintf("credit amount %q conflicts with invoice amount %q",
			cand.Values[0], cand.Values[1])
	case model.DiscCurrencyMismatch:
		return fmt.Sprintf("credit currency %q conflicts with invoice currency %q",
			cand.Values[0], cand.Values[1])
	case model.DiscBeneficiaryMismatch:
		return fmt.Sprintf("beneficiary %q does not sufficiently match seller %q (%s)",
			cand.Values[0], cand.Values[1], cand.Detail)
	case model.DiscLateShipment:
		return fmt.Sprintf("shipment date %q is later than the latest shipment date %q",
			cand.Values[0], cand.Values[1])
	case model.DiscManualReview:
		return fmt.Sprintf("%s values %v need manual review: %s",
			strings.ReplaceAll(cand.FieldName, "_", " "), cand.Values, cand.Detail)
	default:
		return fmt.Sprintf("conflicting values %v for %s", cand.Values, cand.FieldName)
	}
}
