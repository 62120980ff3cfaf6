package model

import (
	"time"

	"gorm.io/datatypes"
)

// DocumentSet is the bundle of documents presented against one
// documentary-credit transaction.
type DocumentSet struct {
	ID        string    `json:"id" gorm:"primaryKey"`
	Label     string    `json:"label"`
	Tenant    string    `json:"tenant" gorm:"index"`
	Status    string    `json:"status"` // pending, processing, completed, failed
	ErrorMsg  string    `json:"error_msg,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DocumentSet status constants
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Document type vocabulary
const (
	DocTypeCreditMessage        = "credit_message"
	DocTypeCommercialInvoice    = "commercial_invoice"
	DocTypeBillOfLading         = "bill_of_lading"
	DocTypeCertificateOfOrigin  = "certificate_of_origin"
	DocTypeInsuranceCertificate = "insurance_certificate"
	DocTypeGeneric              = "generic"
)

// DocumentTypes lists the accepted declared document types.
var DocumentTypes = []string{
	DocTypeCreditMessage,
	DocTypeCommercialInvoice,
	DocTypeBillOfLading,
	DocTypeCertificateOfOrigin,
	DocTypeInsuranceCertificate,
	DocTypeGeneric,
}

// ValidDocumentType reports whether t is one of the declared types.
func ValidDocumentType(t string) bool {
	for _, d := range DocumentTypes {
		if d == t {
			return true
		}
	}
	return false
}

// Document is a single uploaded document inside a set. Immutable once the
// raw text has been extracted, except for re-classification of its type.
type Document struct {
	ID            string    `json:"id" gorm:"primaryKey"`
	SetID         string    `json:"set_id" gorm:"index"`
	Tenant        string    `json:"tenant" gorm:"index"`
	Type          string    `json:"type"`
	Filename      string    `json:"filename"`
	ObjectName    string    `json:"-"` // MinIO object key, empty for inline text uploads
	RawText       string    `json:"raw_text,omitempty"`
	TextractTask  string    `json:"textract_task_id,omitempty"`
	TextExtracted bool      `json:"text_extracted"`
	ErrorMsg      string    `json:"error_msg,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// ExtractedFieldSet holds the canonical field name → raw string value
// mapping produced for one document, plus missing-mandatory-field errors.
// Superseded, never patched, on a re-run.
type ExtractedFieldSet struct {
	ID         string            `json:"id" gorm:"primaryKey"`
	SetID      string            `json:"set_id" gorm:"index"`
	DocumentID string            `json:"document_id" gorm:"index"`
	DocType    string            `json:"doc_type"`
	Fields     map[string]string `json:"fields" gorm:"serializer:json"`
	Errors     []string          `json:"errors,omitempty" gorm:"serializer:json"`
	CreatedAt  time.Time         `json:"created_at"`
}

// Severity tiers
const (
	SeverityCritical = "critical"
	SeverityHigh     = "high"
	SeverityMedium   = "medium"
	SeverityLow      = "low"
)

// Discrepancy type vocabulary
const (
	DiscMissingDocument     = "missing_document"
	DiscAmountMismatch      = "amount_mismatch"
	DiscCurrencyMismatch    = "currency_mismatch"
	DiscBeneficiaryMismatch = "beneficiary_mismatch"
	DiscLateShipment        = "late_shipment"
	DiscManualReview        = "manual_review"
)

// Discrepancy is the persisted, rule-enriched record of one detected
// inconsistency. Never mutated after creation; corrections require a new
// analysis run.
type Discrepancy struct {
	ID            string    `json:"id" gorm:"primaryKey"`
	SetID         string    `json:"set_id" gorm:"index"`
	Type          string    `json:"type"`
	FieldName     string    `json:"field_name"`
	Severity      string    `json:"severity"`
	RuleReference string    `json:"rule_reference"`
	Description   string    `json:"description"`
	Advice        string    `json:"advice"`
	Waivable      bool      `json:"waivable"`
	Values        []string  `json:"values" gorm:"serializer:json"`
	Documents     []string  `json:"documents" gorm:"serializer:json"`
	CreatedAt     time.Time `json:"created_at"`
}

// AgentTask status constants
const (
	TaskPending    = "pending"
	TaskInProgress = "in_progress"
	TaskCompleted  = "completed"
	TaskFailed     = "failed"
)

// AgentTask is the audit record of one pipeline stage execution. It is
// write-only from the pipeline's point of view: never read back in.
type AgentTask struct {
	ID         string         `json:"id" gorm:"primaryKey"`
	RunID      string         `json:"run_id" gorm:"index"`
	SetID      string         `json:"set_id" gorm:"index"`
	Stage      string         `json:"stage"`
	Status     string         `json:"status"`
	Input      datatypes.JSON `json:"input,omitempty"`
	Result     datatypes.JSON `json:"result,omitempty"`
	ErrorMsg   string         `json:"error_msg,omitempty"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at,omitempty"`
}

// Recommendation strings, in strict priority order.
const (
	RecommendReject      = "REJECT"
	RecommendConditional = "CONDITIONAL ACCEPTANCE"
	RecommendMinor       = "MINOR DISCREPANCIES - CONSIDER ACCEPTANCE"
	RecommendClean       = "CLEAN PRESENTATION - ACCEPT DOCUMENTS"
)

// Risk levels
const (
	RiskHigh   = "high"
	RiskMedium = "medium"
	RiskLow    = "low"
	RiskNone   = "none"
)

// DiscrepancySummary is the per-discrepancy slice of a Report.
type DiscrepancySummary struct {
	Type          string `json:"type"`
	FieldName     string `json:"field_name"`
	Severity      string `json:"severity"`
	RuleReference string `json:"rule_reference"`
	Waivable      bool   `json:"waivable"`
	Description   string `json:"description"`
}

// Report is the aggregate outcome of one successful pipeline run. A new
// run produces a new Report rather than amending the old one.
type Report struct {
	ID              string               `json:"id" gorm:"primaryKey"`
	SetID           string               `json:"set_id" gorm:"index"`
	Total           int                  `json:"total"`
	Critical        int                  `json:"critical"`
	High            int                  `json:"high"`
	Medium          int                  `json:"medium"`
	Low             int                  `json:"low"`
	Waivable        int                  `json:"waivable"`
	NonWaivable     int                  `json:"non_waivable"`
	Recommendation  string               `json:"recommendation"`
	RiskLevel       string               `json:"risk_level"`
	ComplianceScore int                  `json:"compliance_score"`
	Discrepancies   []DiscrepancySummary `json:"discrepancies" gorm:"serializer:json"`
	CreatedAt       time.Time            `json:"created_at"`
}
