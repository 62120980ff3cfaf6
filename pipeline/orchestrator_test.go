package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shahuldxb/TradeDiscrepancyFinder-sub000/model"
	"github.com/shahuldxb/TradeDiscrepancyFinder-sub000/pkg/refdata"
	"github.com/shahuldxb/TradeDiscrepancyFinder-sub000/service"
)

func seedSet(t *testing.T, store service.Store, setID string, docs ...*model.Document) {
	t.Helper()
	if err := store.SaveDocumentSet(&model.DocumentSet{
		ID:        setID,
		Label:     "test presentation",
		Tenant:    "tenant-a",
		Status:    model.StatusPending,
		CreatedAt: time.Now(),
	}); err != nil {
		t.Fatalf("Failed to save document set: %v", err)
	}
	for _, doc := range docs {
		if err := store.SaveDocument(doc); err != nil {
			t.Fatalf("Failed to save document: %v", err)
		}
	}
}

func textDoc(id, setID, docType, text string) *model.Document {
	return &model.Document{
		ID:            id,
		SetID:         setID,
		Tenant:        "tenant-a",
		Type:          docType,
		Filename:      id + ".txt",
		RawText:       text,
		TextExtracted: true,
	}
}

func waitForStatus(t *testing.T, store service.Store, setID string, statuses ...string) *model.DocumentSet {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		set, err := store.GetDocumentSet(setID)
		if err != nil {
			t.Fatalf("Failed to get document set: %v", err)
		}
		for _, s := range statuses {
			if set != nil && set.Status == s {
				return set
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for set %s to reach %v", setID, statuses)
	return nil
}

func newTestOrchestrator(store service.Store) *Orchestrator {
	return NewOrchestrator(store, refdata.NewCatalog(), nil)
}

func TestStartAnalysisCleanPresentation(t *testing.T) {
	store := service.NewMemoryStore(nil)
	seedSet(t, store, "set-1",
		textDoc("d1", "set-1", model.DocTypeCreditMessage, sampleCreditMessage),
		textDoc("d2", "set-1", model.DocTypeCommercialInvoice, sampleInvoice),
		textDoc("d3", "set-1", model.DocTypeBillOfLading, sampleBillOfLading),
	)

	o := newTestOrchestrator(store)
	defer o.Registry().Close()

	runID, err := o.StartAnalysis(context.Background(), "set-1")
	if err != nil {
		t.Fatalf("StartAnalysis failed: %v", err)
	}
	if runID == "" {
		t.Fatal("Expected a non-empty run id")
	}

	set := waitForStatus(t, store, "set-1", model.StatusCompleted, model.StatusFailed)
	if set.Status != model.StatusCompleted {
		t.Fatalf("Expected completed, got %s (%s)", set.Status, set.ErrorMsg)
	}

	report, err := store.GetReportBySet("set-1")
	if err != nil {
		t.Fatalf("Failed to get report: %v", err)
	}
	if report == nil {
		t.Fatal("Expected a report")
	}
	if report.Total != 0 {
		t.Errorf("Expected 0 discrepancies, got %d: %+v", report.Total, report.Discrepancies)
	}
	if report.ComplianceScore != 100 {
		t.Errorf("Expected score 100, got %d", report.ComplianceScore)
	}
	if report.Recommendation != model.RecommendClean {
		t.Errorf("Expected %q, got %q", model.RecommendClean, report.Recommendation)
	}

	tasks, err := store.GetAgentTasksBySet("set-1")
	if err != nil {
		t.Fatalf("Failed to get tasks: %v", err)
	}
	if len(tasks) != len(stageOrder) {
		t.Fatalf("Expected %d tasks, got %d", len(stageOrder), len(tasks))
	}
	for i, task := range tasks {
		if task.Stage != stageOrder[i] {
			t.Errorf("Task %d: expected stage %s, got %s", i, stageOrder[i], task.Stage)
		}
		if task.Status != model.TaskCompleted {
			t.Errorf("Task %s: expected completed, got %s (%s)", task.Stage, task.Status, task.ErrorMsg)
		}
		if task.RunID != runID {
			t.Errorf("Task %s: expected run id %s, got %s", task.Stage, runID, task.RunID)
		}
		if len(task.Input) == 0 {
			t.Errorf("Task %s: expected an input snapshot", task.Stage)
		}
	}

	// All workers back to idle once the run is done.
	o.Registry().Sync()
	for _, w := range o.Registry().Snapshot() {
		if w.Status != WorkerIdle {
			t.Errorf("Worker %s: expected idle, got %s", w.Stage, w.Status)
		}
	}
}

func TestStartAnalysisDetectsDiscrepancies(t *testing.T) {
	// Invoice amount and currency both conflict with the credit.
	invoice := `Invoice Number: INV-9
Seller: XYZ EXPORT CORPORATION
Currency: EUR
Total Amount: 1,050,000.00`

	store := service.NewMemoryStore(nil)
	seedSet(t, store, "set-1",
		textDoc("d1", "set-1", model.DocTypeCreditMessage, sampleCreditMessage),
		textDoc("d2", "set-1", model.DocTypeCommercialInvoice, invoice),
		textDoc("d3", "set-1", model.DocTypeBillOfLading, sampleBillOfLading),
	)

	o := newTestOrchestrator(store)
	defer o.Registry().Close()

	if _, err := o.StartAnalysis(context.Background(), "set-1"); err != nil {
		t.Fatalf("StartAnalysis failed: %v", err)
	}
	waitForStatus(t, store, "set-1", model.StatusCompleted)

	discs, err := store.GetDiscrepanciesBySet("set-1")
	if err != nil {
		t.Fatalf("Failed to get discrepancies: %v", err)
	}
	if len(discs) != 2 {
		t.Fatalf("Expected 2 discrepancies, got %d: %+v", len(discs), discs)
	}
	for _, d := range discs {
		if d.RuleReference == "" {
			t.Errorf("Discrepancy %s: expected a rule reference", d.Type)
		}
	}

	report, err := store.GetReportBySet("set-1")
	if err != nil || report == nil {
		t.Fatalf("Failed to get report: %v", err)
	}
	if report.Recommendation != model.RecommendReject {
		t.Errorf("Expected %q, got %q", model.RecommendReject, report.Recommendation)
	}
	if report.RiskLevel != model.RiskHigh {
		t.Errorf("Expected risk high, got %s", report.RiskLevel)
	}
	// 100 - 25 (amount, critical) - 15 (currency, high)
	if report.ComplianceScore != 60 {
		t.Errorf("Expected score 60, got %d", report.ComplianceScore)
	}
}

func TestStartAnalysisSetNotFound(t *testing.T) {
	o := newTestOrchestrator(service.NewMemoryStore(nil))
	defer o.Registry().Close()

	_, err := o.StartAnalysis(context.Background(), "missing")
	if !errors.Is(err, ErrSetNotFound) {
		t.Errorf("Expected ErrSetNotFound, got %v", err)
	}
}

func TestStartAnalysisEmptySetFails(t *testing.T) {
	store := service.NewMemoryStore(nil)
	seedSet(t, store, "set-1")

	o := newTestOrchestrator(store)
	defer o.Registry().Close()

	if _, err := o.StartAnalysis(context.Background(), "set-1"); err != nil {
		t.Fatalf("StartAnalysis failed: %v", err)
	}

	set := waitForStatus(t, store, "set-1", model.StatusFailed)
	if set.ErrorMsg == "" {
		t.Error("Expected an error message on the failed set")
	}

	tasks, err := store.GetAgentTasksBySet("set-1")
	if err != nil {
		t.Fatalf("Failed to get tasks: %v", err)
	}
	if len(tasks) != 1 {
		t.Fatalf("Expected the run to stop after the first stage, got %d tasks", len(tasks))
	}
	if tasks[0].Stage != StageFieldExtractor || tasks[0].Status != model.TaskFailed {
		t.Errorf("Expected a failed field_extractor task, got %s/%s", tasks[0].Stage, tasks[0].Status)
	}

	// The failed stage's worker shows a sticky error status.
	o.Registry().Sync()
	for _, w := range o.Registry().Snapshot() {
		if w.Stage == StageFieldExtractor && w.Status != WorkerError {
			t.Errorf("Expected field_extractor worker in error, got %s", w.Status)
		}
	}
}

// blockingStore holds the first stage inside the pipeline until released,
// so a second StartAnalysis call can be made while the run is in flight.
type blockingStore struct {
	*service.MemoryStore
	once    sync.Once
	enter   chan struct{}
	release chan struct{}
}

func (b *blockingStore) GetDocumentsBySet(setID string) ([]*model.Document, error) {
	b.once.Do(func() {
		close(b.enter)
		<-b.release
	})
	return b.MemoryStore.GetDocumentsBySet(setID)
}

func TestStartAnalysisRejectsConcurrentRun(t *testing.T) {
	store := &blockingStore{
		MemoryStore: service.NewMemoryStore(nil),
		enter:       make(chan struct{}),
		release:     make(chan struct{}),
	}
	seedSet(t, store, "set-1",
		textDoc("d1", "set-1", model.DocTypeCreditMessage, sampleCreditMessage),
		textDoc("d2", "set-1", model.DocTypeCommercialInvoice, sampleInvoice),
		textDoc("d3", "set-1", model.DocTypeBillOfLading, sampleBillOfLading),
	)

	o := newTestOrchestrator(store)
	defer o.Registry().Close()

	if _, err := o.StartAnalysis(context.Background(), "set-1"); err != nil {
		t.Fatalf("First StartAnalysis failed: %v", err)
	}

	// Wait until the run is inside the first stage, then try again.
	select {
	case <-store.enter:
	case <-time.After(3 * time.Second):
		t.Fatal("Timed out waiting for the run to start")
	}

	_, err := o.StartAnalysis(context.Background(), "set-1")
	if !errors.Is(err, ErrAnalysisInProgress) {
		t.Errorf("Expected ErrAnalysisInProgress, got %v", err)
	}

	// The rejected call must not have written any stage records of its own.
	tasks, _ := store.GetAgentTasksBySet("set-1")
	if len(tasks) != 1 {
		t.Errorf("Expected only the in-flight run's first task, got %d", len(tasks))
	}

	close(store.release)
	waitForStatus(t, store, "set-1", model.StatusCompleted)

	// With the first run finished, a new one is accepted.
	if _, err := o.StartAnalysis(context.Background(), "set-1"); err != nil {
		t.Errorf("Expected a new run after completion, got %v", err)
	}
	waitForStatus(t, store, "set-1", model.StatusCompleted)
}

func TestWorkerRegistrySnapshotOrder(t *testing.T) {
	r := NewWorkerRegistry()
	defer r.Close()

	snapshot := r.Snapshot()
	if len(snapshot) != len(stageOrder) {
		t.Fatalf("Expected %d workers, got %d", len(stageOrder), len(snapshot))
	}
	for i, w := range snapshot {
		if w.Stage != stageOrder[i] {
			t.Errorf("Worker %d: expected %s, got %s", i, stageOrder[i], w.Stage)
		}
		if w.Status != WorkerIdle {
			t.Errorf("Worker %s: expected idle, got %s", w.Stage, w.Status)
		}
	}
}

func TestWorkerRegistryUpdate(t *testing.T) {
	r := NewWorkerRegistry()
	defer r.Close()

	r.Update(StageComparator, WorkerProcessing, "set-9")
	r.Sync()

	for _, w := range r.Snapshot() {
		if w.Stage != StageComparator {
			continue
		}
		if w.Status != WorkerProcessing {
			t.Errorf("Expected processing, got %s", w.Status)
		}
		if w.CurrentSet != "set-9" {
			t.Errorf("Expected current set set-9, got %q", w.CurrentSet)
		}
	}

	r.Update(StageComparator, WorkerIdle, "")
	r.Sync()
	for _, w := range r.Snapshot() {
		if w.Stage == StageComparator && w.CurrentSet != "" {
			t.Errorf("Expected current set cleared, got %q", w.CurrentSet)
		}
	}
}

func TestRunProtectedRecoversPanic(t *testing.T) {
	_, err := runProtected(func() (any, error) {
		panic("boom")
	})
	if err == nil || !strings.Contains(err.Error(), "boom") {
		t.Errorf("Expected a panic-derived error, got %v", err)
	}
}
