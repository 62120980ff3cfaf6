package pipeline

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/pmezard/go-difflib/difflib"
	"github.com/shopspring/decimal"

	"github.com/shahuldxb/TradeDiscrepancyFinder-sub000/model"
	"github.com/shahuldxb/TradeDiscrepancyFinder-sub000/pkg/refdata"
)

// Candidate is a raw discrepancy found by the comparator. It is transient:
// it always passes through the rule mapper before anything is persisted,
// and it carries the exact source values so the audit trail never sees
// synthesized or rounded numbers.
type Candidate struct {
	Type         string   `json:"type"`
	FieldName    string   `json:"field_name"`
	SeverityHint string   `json:"severity_hint"`
	Values       []string `json:"values"`
	Documents    []string `json:"documents"`
	Detail       string   `json:"detail,omitempty"`
}

// amountTolerance is the absolute tolerance for amount equality.
var amountTolerance = decimal.RequireFromString("0.01")

// similarityThreshold is the minimum name-similarity ratio below which a
// beneficiary mismatch is raised.
const similarityThreshold = 0.8

// Comparator runs the fixed battery of cross-document checks.
type Comparator struct {
	catalog *refdata.Catalog
}

func NewComparator(catalog *refdata.Catalog) *Comparator {
	return &Comparator{catalog: catalog}
}

// Compare evaluates every check against the field sets of one document
// set, keyed by document type. Checks are independent: one that cannot be
// evaluated is skipped, never raises. The candidate order is fixed, so
// identical inputs always yield an identical list.
func (c *Comparator) Compare(fieldSets map[string]*model.ExtractedFieldSet) []Candidate {
	var candidates []Candidate

	candidates = append(candidates, c.checkMissingDocuments(fieldSets)...)
	candidates = append(candidates, c.checkAmount(fieldSets)...)
	candidates = append(candidates, c.checkCurrency(fieldSets)...)
	candidates = append(candidates, c.checkBeneficiary(fieldSets)...)
	candidates = append(candidates, c.checkShipmentDate(fieldSets)...)

	return candidates
}

func (c *Comparator) checkMissingDocuments(fieldSets map[string]*model.ExtractedFieldSet) []Candidate {
	var out []Candidate
	for _, required := range c.catalog.RequiredDocuments() {
		if _, ok := fieldSets[required]; ok {
			continue
		}
		out = append(out, Candidate{
			Type:         model.DiscMissingDocument,
			FieldName:    required,
			SeverityHint: model.SeverityCritical,
			Values:       []string{"absent"},
			Documents:    []string{required},
		})
	}
	return out
}

func (c *Comparator) checkAmount(fieldSets map[string]*model.ExtractedFieldSet) []Candidate {
	creditAmount, ok1 := fieldValue(fieldSets, model.DocTypeCreditMessage, "amount")
	invoiceAmount, ok2 := fieldValue(fieldSets, model.DocTypeCommercialInvoice, "total_amount")
	if !ok1 || !ok2 {
		return nil // not comparable, skip
	}

	docs := []string{model.DocTypeCreditMessage, model.DocTypeCommercialInvoice}

	_, aOK := parseAmount(creditAmount)
	_, bOK := parseAmount(invoiceAmount)
	if !aOK || !bOK {
		// Present but unparsable: flag for manual review instead of
		// silently treating the check as compliant.
		return []Candidate{{
			Type:         model.DiscManualReview,
			FieldName:    "amount",
			SeverityHint: model.SeverityLow,
			Values:       []string{creditAmount, invoiceAmount},
			Documents:    docs,
			Detail:       "amount could not be parsed",
		}}
	}

	if amountsMatch(creditAmount, invoiceAmount) {
		return nil
	}
	return []Candidate{{
		Type:         model.DiscAmountMismatch,
		FieldName:    "amount",
		SeverityHint: model.SeverityCritical,
		Values:       []string{creditAmount, invoiceAmount},
		Documents:    docs,
	}}
}

func (c *Comparator) checkCurrency(fieldSets map[string]*model.ExtractedFieldSet) []Candidate {
	creditCurrency, ok1 := fieldValue(fieldSets, model.DocTypeCreditMessage, "currency")
	invoiceCurrency, ok2 := fieldValue(fieldSets, model.DocTypeCommercialInvoice, "currency")
	if !ok1 || !ok2 {
		return nil
	}

	if strings.EqualFold(strings.TrimSpace(creditCurrency), strings.TrimSpace(invoiceCurrency)) {
		return nil
	}
	return []Candidate{{
		Type:         model.DiscCurrencyMismatch,
		FieldName:    "currency",
		SeverityHint: model.SeverityHigh,
		Values:       []string{creditCurrency, invoiceCurrency},
		Documents:    []string{model.DocTypeCreditMessage, model.DocTypeCommercialInvoice},
	}}
}

func (c *Comparator) checkBeneficiary(fieldSets map[string]*model.ExtractedFieldSet) []Candidate {
	beneficiary, ok1 := fieldValue(fieldSets, model.DocTypeCreditMessage, "beneficiary")
	seller, ok2 := fieldValue(fieldSets, model.DocTypeCommercialInvoice, "seller")
	if !ok1 || !ok2 {
		return nil
	}

	// The 59 field carries name and address lines; only the name line is
	// compared against the invoice seller.
	ratio := similarity(firstLine(beneficiary), firstLine(seller))
	if ratio >= similarityThreshold {
		return nil
	}
	return []Candidate{{
		Type:         model.DiscBeneficiaryMismatch,
		FieldName:    "beneficiary",
		SeverityHint: model.SeverityMedium,
		Values:       []string{beneficiary, seller},
		Documents:    []string{model.DocTypeCreditMessage, model.DocTypeCommercialInvoice},
		Detail:       fmt.Sprintf("similarity ratio %.2f", ratio),
	}}
}

func (c *Comparator) checkShipmentDate(fieldSets map[string]*model.ExtractedFieldSet) []Candidate {
	shipment, ok1 := fieldValue(fieldSets, model.DocTypeBillOfLading, "shipment_date")
	latest, ok2 := fieldValue(fieldSets, model.DocTypeCreditMessage, "latest_shipment_date")
	if !ok1 || !ok2 {
		return nil
	}

	docs := []string{model.DocTypeBillOfLading, model.DocTypeCreditMessage}

	shipped, sOK := parseDate(shipment)
	limit, lOK := parseDate(latest)
	if !sOK || !lOK {
		return []Candidate{{
			Type:         model.DiscManualReview,
			FieldName:    "shipment_date",
			SeverityHint: model.SeverityLow,
			Values:       []string{shipment, latest},
			Documents:    docs,
			Detail:       "date could not be parsed",
		}}
	}

	if shipped <= limit {
		return nil
	}
	return []Candidate{{
		Type:         model.DiscLateShipment,
		FieldName:    "shipment_date",
		SeverityHint: model.SeverityCritical,
		Values:       []string{shipment, latest},
		Documents:    docs,
	}}
}

func fieldValue(fieldSets map[string]*model.ExtractedFieldSet, docType, name string) (string, bool) {
	fs, ok := fieldSets[docType]
	if !ok || fs == nil {
		return "", false
	}
	v, ok := fs.Fields[name]
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return v, true
}

// parseAmount parses a monetary value, tolerating thousands separators,
// surrounding whitespace and a leading 3-letter currency code.
func parseAmount(s string) (decimal.Decimal, bool) {
	s = strings.TrimSpace(s)

	runes := []rune(s)
	if len(runes) >= 3 &&
		unicode.IsLetter(runes[0]) && unicode.IsLetter(runes[1]) && unicode.IsLetter(runes[2]) {
		s = strings.TrimSpace(string(runes[3:]))
	}

	s = strings.ReplaceAll(s, ",", "")
	s = strings.ReplaceAll(s, " ", "")
	if s == "" {
		return decimal.Decimal{}, false
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, false
	}
	return d, true
}

// amountsMatch reports whether two raw amount strings are equal within
// the absolute tolerance.
func amountsMatch(a, b string) bool {
	da, okA := parseAmount(a)
	db, okB := parseAmount(b)
	if !okA || !okB {
		return false
	}
	return da.Sub(db).Abs().Cmp(amountTolerance) <= 0
}

// parseDate reduces a date to its digits and requires the 6-digit YYMMDD
// form; comparison is numeric.
func parseDate(s string) (int, bool) {
	var digits strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	if digits.Len() != 6 {
		return 0, false
	}

	n := 0
	for _, r := range digits.String() {
		n = n*10 + int(r-'0')
	}
	return n, true
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

// similarity computes a difflib sequence-match ratio in [0,1] over the
// lowercased rune sequences. Case-insensitive, token-order-sensitive.
func similarity(a, b string) float64 {
	aw := strings.Split(strings.ToLower(strings.TrimSpace(a)), "")
	bw := strings.Split(strings.ToLower(strings.TrimSpace(b)), "")
	return difflib.NewMatcher(aw, bw).Ratio()
}
