// Package refdata holds the read-only reference catalogs consumed by the
// analysis pipeline: message-field definitions and compliance rules.
// Built-in defaults cover MT700-class credit messages and the UCP 600 /
// ISBP articles the comparator checks touch; either catalog can be
// replaced wholesale from a YAML file.
package refdata

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// FieldDef describes one field of a structured credit message.
type FieldDef struct {
	Code      string `yaml:"code" json:"code"`
	Name      string `yaml:"name" json:"name"`
	Mandatory bool   `yaml:"mandatory" json:"mandatory"`
}

// Rule is one entry of the compliance-rule catalog.
type Rule struct {
	Number    string `yaml:"number" json:"number"`
	ArticleID string `yaml:"article_id" json:"article_id"`
	Title     string `yaml:"title" json:"title"`
	Text      string `yaml:"text" json:"text"`
}

// Catalog bundles both reference catalogs plus the required-document list.
type Catalog struct {
	fieldsByMessageType map[string][]FieldDef
	rules               []Rule
	requiredDocs        []string
}

// MT700 is the message type of the built-in field catalog.
const MT700 = "MT700"

func defaultFieldCatalog() map[string][]FieldDef {
	return map[string][]FieldDef{
		MT700: {
			{Code: "20", Name: "credit_number", Mandatory: true},
			{Code: "31C", Name: "date_of_issue", Mandatory: false},
			{Code: "31D", Name: "expiry", Mandatory: true},
			{Code: "50", Name: "applicant", Mandatory: true},
			{Code: "59", Name: "beneficiary", Mandatory: true},
			{Code: "32B", Name: "currency_amount", Mandatory: true},
			{Code: "44C", Name: "latest_shipment_date", Mandatory: false},
			{Code: "44E", Name: "port_of_loading", Mandatory: false},
			{Code: "44F", Name: "port_of_discharge", Mandatory: false},
			{Code: "45A", Name: "description_of_goods", Mandatory: false},
			{Code: "46A", Name: "documents_required", Mandatory: false},
		},
	}
}

func defaultRules() []Rule {
	return []Rule{
		{
			Number:    "UCP600-14",
			ArticleID: "UCP 600 Article 14",
			Title:     "Standard for Examination of Documents",
			Text: "Data in a document, when read in context with the credit, the document " +
				"itself and international standard banking practice, need not be identical to, " +
				"but must not conflict with, data in that document, any other stipulated " +
				"document or the credit.",
		},
		{
			Number:    "UCP600-18",
			ArticleID: "UCP 600 Article 18",
			Title:     "Commercial Invoice",
			Text: "A commercial invoice must be made out in the name of the applicant, need not " +
				"be signed, and the amount of the invoice must not exceed the amount permitted " +
				"by the credit.",
		},
		{
			Number:    "UCP600-20",
			ArticleID: "UCP 600 Article 20",
			Title:     "Bill of Lading",
			Text: "A bill of lading must indicate shipment from the port of loading to the port " +
				"of discharge stated in the credit, and the date of shipment must not be later " +
				"than the latest shipment date stipulated in the credit.",
		},
		{
			Number:    "ISBP-C5",
			ArticleID: "ISBP 745 C5",
			Title:     "Currency of the Invoice",
			Text: "An invoice is to be issued in the currency of the credit; a difference in " +
				"currency between the invoice and the credit is a discrepancy.",
		},
		{
			Number:    "ISBP-A19",
			ArticleID: "ISBP 745 A19",
			Title:     "Name of the Beneficiary",
			Text: "The name of the beneficiary or seller shown on a document is to correspond " +
				"with that stated in the credit.",
		},
	}
}

func defaultRequiredDocs() []string {
	return []string{"credit_message", "commercial_invoice", "bill_of_lading"}
}

// NewCatalog returns a catalog holding the built-in defaults.
func NewCatalog() *Catalog {
	return &Catalog{
		fieldsByMessageType: defaultFieldCatalog(),
		rules:               defaultRules(),
		requiredDocs:        defaultRequiredDocs(),
	}
}

type fieldCatalogFile struct {
	MessageTypes map[string][]FieldDef `yaml:"message_types"`
	RequiredDocs []string              `yaml:"required_documents"`
}

type rulesFile struct {
	Rules []Rule `yaml:"rules"`
}

// LoadFieldCatalog replaces the field catalog (and, if present, the
// required-document list) from a YAML file.
func (c *Catalog) LoadFieldCatalog(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var f fieldCatalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("failed to parse field catalog: %w", err)
	}
	if len(f.MessageTypes) > 0 {
		c.fieldsByMessageType = f.MessageTypes
	}
	if len(f.RequiredDocs) > 0 {
		c.requiredDocs = f.RequiredDocs
	}
	return nil
}

// LoadComplianceRules replaces the rule catalog from a YAML file.
func (c *Catalog) LoadComplianceRules(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var f rulesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("failed to parse compliance rules: %w", err)
	}
	if len(f.Rules) > 0 {
		c.rules = f.Rules
	}
	return nil
}

// FieldCatalog returns the field definitions for a message type, or nil
// if the type is unknown.
func (c *Catalog) FieldCatalog(messageType string) []FieldDef {
	return c.fieldsByMessageType[messageType]
}

// ComplianceRules returns all catalog rules.
func (c *Catalog) ComplianceRules() []Rule {
	return c.rules
}

// RequiredDocuments returns the document types the comparator expects to
// be present in every set.
func (c *Catalog) RequiredDocuments() []string {
	return c.requiredDocs
}
