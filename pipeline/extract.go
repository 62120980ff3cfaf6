// Package pipeline implements the staged discrepancy-detection pipeline:
// field extraction, cross-document comparison, rule mapping and report
// synthesis, driven by the stage orchestrator.
package pipeline

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"

	"github.com/shahuldxb/TradeDiscrepancyFinder-sub000/model"
	"github.com/shahuldxb/TradeDiscrepancyFinder-sub000/pkg/refdata"
)

// Extractor turns a document's raw text into an ExtractedFieldSet.
type Extractor struct {
	catalog *refdata.Catalog
}

func NewExtractor(catalog *refdata.Catalog) *Extractor {
	return &Extractor{catalog: catalog}
}

// labelPattern matches a labelled value on its own line, e.g.
// "Invoice Number: INV-2024-001".
type labelPattern struct {
	name string
	re   *regexp.Regexp
}

func newLabelPattern(name, labels string) labelPattern {
	return labelPattern{
		name: name,
		re:   regexp.MustCompile(`(?im)^[^\S\n]*(?:` + labels + `)[^\S\n]*[:\-#]?[^\S\n]*(\S[^\n]*)`),
	}
}

var labelPatternsByDocType = map[string][]labelPattern{
	model.DocTypeCommercialInvoice: {
		newLabelPattern("invoice_number", `invoice\s+(?:no|number)\.?`),
		newLabelPattern("invoice_date", `invoice\s+date`),
		newLabelPattern("total_amount", `total\s+amount|invoice\s+total`),
		newLabelPattern("currency", `currency`),
		newLabelPattern("seller", `seller|exporter`),
		newLabelPattern("buyer", `buyer|importer|bill\s+to`),
	},
	model.DocTypeBillOfLading: {
		newLabelPattern("bl_number", `b\s*/\s*l\s+(?:no|number)\.?|bill\s+of\s+lading\s+(?:no|number)\.?`),
		newLabelPattern("shipment_date", `shipped\s+on\s+board|shipment\s+date|date\s+of\s+shipment`),
		newLabelPattern("vessel", `vessel`),
		newLabelPattern("port_of_loading", `port\s+of\s+loading`),
		newLabelPattern("port_of_discharge", `port\s+of\s+discharge`),
		newLabelPattern("consignee", `consignee`),
		newLabelPattern("shipper", `shipper`),
	},
	model.DocTypeCertificateOfOrigin: {
		newLabelPattern("certificate_number", `certificate\s+(?:no|number)\.?`),
		newLabelPattern("country_of_origin", `country\s+of\s+origin`),
		newLabelPattern("exporter", `exporter`),
	},
	model.DocTypeInsuranceCertificate: {
		newLabelPattern("policy_number", `policy\s+(?:no|number)\.?`),
		newLabelPattern("insured_amount", `insured\s+amount|sum\s+insured`),
		newLabelPattern("coverage", `coverage`),
	},
}

// Extract produces the field set for one document. Extraction never fails
// the document: missing mandatory fields are recorded as errors and the
// partial field map is returned.
func (e *Extractor) Extract(doc *model.Document) *model.ExtractedFieldSet {
	fs := &model.ExtractedFieldSet{
		ID:         uuid.New().String(),
		SetID:      doc.SetID,
		DocumentID: doc.ID,
		DocType:    doc.Type,
		Fields:     make(map[string]string),
		CreatedAt:  time.Now(),
	}

	if doc.Type == model.DocTypeCreditMessage {
		e.extractMessageFields(doc.RawText, fs)
	} else {
		extractLabelFields(doc.RawText, doc.Type, fs)
	}

	return fs
}

func (e *Extractor) extractMessageFields(text string, fs *model.ExtractedFieldSet) {
	defs := e.catalog.FieldCatalog(refdata.MT700)
	for _, def := range defs {
		value, ok := scanMessageField(text, def.Code)
		if !ok || value == "" {
			if def.Mandatory {
				fs.Errors = append(fs.Errors,
					fmt.Sprintf("missing mandatory field %s (%s)", def.Code, def.Name))
			}
			continue
		}
		fs.Fields[def.Name] = value
	}

	// 32B carries currency and amount together; split it so the
	// comparator can address them separately. Raw strings are kept.
	if ca, ok := fs.Fields["currency_amount"]; ok {
		currency, amount := splitCurrencyAmount(ca)
		if currency != "" {
			fs.Fields["currency"] = currency
		}
		if amount != "" {
			fs.Fields["amount"] = amount
		}
	}
}

func extractLabelFields(text, docType string, fs *model.ExtractedFieldSet) {
	for _, p := range labelPatternsByDocType[docType] {
		m := p.re.FindStringSubmatch(text)
		if m == nil {
			continue // optional, simply absent
		}
		value := strings.TrimSpace(m[1])
		if value != "" {
			fs.Fields[p.name] = value
		}
	}
}

// scanMessageField finds a SWIFT-style tagged field value. The value runs
// from after ":CODE:" to the next line starting with ":", so multi-line
// values (addresses, goods descriptions) are kept whole.
func scanMessageField(text, code string) (string, bool) {
	tag := ":" + code + ":"

	idx := -1
	if strings.HasPrefix(text, tag) {
		idx = 0
	} else if j := strings.Index(text, "\n"+tag); j >= 0 {
		idx = j + 1
	}
	if idx < 0 {
		return "", false
	}

	rest := text[idx+len(tag):]
	if j := strings.Index(rest, "\n:"); j >= 0 {
		rest = rest[:j]
	}
	return strings.TrimSpace(rest), true
}

// splitCurrencyAmount splits a 32B-style value ("USD1,000,000.00") into
// its currency code and amount parts, both as raw strings.
func splitCurrencyAmount(value string) (currency, amount string) {
	value = strings.TrimSpace(value)
	runes := []rune(value)

	i := 0
	for i < len(runes) && i < 3 && unicode.IsLetter(runes[i]) {
		i++
	}
	if i == 3 {
		return strings.ToUpper(string(runes[:3])), strings.TrimSpace(string(runes[3:]))
	}
	return "", value
}
