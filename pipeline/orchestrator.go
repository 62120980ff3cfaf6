package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/shahuldxb/TradeDiscrepancyFinder-sub000/model"
	"github.com/shahuldxb/TradeDiscrepancyFinder-sub000/pkg/logger"
	"github.com/shahuldxb/TradeDiscrepancyFinder-sub000/pkg/refdata"
	"github.com/shahuldxb/TradeDiscrepancyFinder-sub000/service"
)

// Stage role names, in execution order.
const (
	StageFieldExtractor    = "field_extractor"
	StageComparator        = "document_comparator"
	StageRuleMapper        = "rule_mapper"
	StageReportSynthesizer = "report_synthesizer"
)

var stageOrder = []string{
	StageFieldExtractor,
	StageComparator,
	StageRuleMapper,
	StageReportSynthesizer,
}

// Worker statuses
const (
	WorkerIdle       = "idle"
	WorkerProcessing = "processing"
	WorkerError      = "error"
)

// WorkerStatus is the dashboard view of one stage role.
type WorkerStatus struct {
	Stage      string    `json:"stage"`
	Status     string    `json:"status"`
	CurrentSet string    `json:"current_set,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type workerEvent struct {
	stage   string
	status  string
	setID   string
	applied chan struct{}
}

// WorkerRegistry aggregates per-stage worker statuses for display. Stages
// never write shared state directly; they send events over a channel and
// the registry applies them one at a time. An error status is sticky
// until a later event for the same stage role replaces it.
type WorkerRegistry struct {
	mu      sync.RWMutex
	workers map[string]*WorkerStatus
	events  chan workerEvent
	done    chan struct{}
}

func NewWorkerRegistry() *WorkerRegistry {
	r := &WorkerRegistry{
		workers: make(map[string]*WorkerStatus, len(stageOrder)),
		events:  make(chan workerEvent, 64),
		done:    make(chan struct{}),
	}
	now := time.Now()
	for _, stage := range stageOrder {
		r.workers[stage] = &WorkerStatus{Stage: stage, Status: WorkerIdle, UpdatedAt: now}
	}
	go r.loop()
	return r
}

func (r *WorkerRegistry) loop() {
	for {
		select {
		case ev := <-r.events:
			if ev.stage != "" {
				r.apply(ev)
			}
			if ev.applied != nil {
				close(ev.applied)
			}
		case <-r.done:
			return
		}
	}
}

func (r *WorkerRegistry) apply(ev workerEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.workers[ev.stage]
	if !ok {
		w = &WorkerStatus{Stage: ev.stage}
		r.workers[ev.stage] = w
	}
	w.Status = ev.status
	w.CurrentSet = ""
	if ev.status == WorkerProcessing {
		w.CurrentSet = ev.setID
	}
	w.UpdatedAt = time.Now()
}

// Update reports a status change for a stage role.
func (r *WorkerRegistry) Update(stage, status, setID string) {
	select {
	case r.events <- workerEvent{stage: stage, status: status, setID: setID}:
	case <-r.done:
	}
}

// Sync blocks until all previously sent events have been applied.
func (r *WorkerRegistry) Sync() {
	applied := make(chan struct{})
	select {
	case r.events <- workerEvent{applied: applied}:
		<-applied
	case <-r.done:
	}
}

// Snapshot returns the statuses of all stage roles in stage order.
func (r *WorkerRegistry) Snapshot() []WorkerStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]WorkerStatus, 0, len(stageOrder))
	for _, stage := range stageOrder {
		if w, ok := r.workers[stage]; ok {
			out = append(out, *w)
		}
	}
	return out
}

// Close stops the registry's event loop.
func (r *WorkerRegistry) Close() {
	close(r.done)
}

// ErrAnalysisInProgress is returned when a run is already in flight for
// the requested document set. The caller must poll and resubmit; requests
// are rejected, never queued.
var ErrAnalysisInProgress = errors.New("analysis already in progress for this document set")

// ErrSetNotFound is returned when the document set does not exist.
var ErrSetNotFound = errors.New("document set not found")

// Orchestrator drives the four analysis stages for one document set in
// strict order, with at most one run in flight per set id.
type Orchestrator struct {
	store      service.Store
	extractor  *Extractor
	comparator *Comparator
	mapper     *RuleMapper
	registry   *WorkerRegistry

	mu       sync.Mutex
	inflight map[string]struct{}
}

// NewOrchestrator wires the four stages. A nil matcher selects the
// default substring rule matching.
func NewOrchestrator(store service.Store, catalog *refdata.Catalog, matcher Matcher) *Orchestrator {
	return &Orchestrator{
		store:      store,
		extractor:  NewExtractor(catalog),
		comparator: NewComparator(catalog),
		mapper:     NewRuleMapper(catalog, matcher),
		registry:   NewWorkerRegistry(),
		inflight:   make(map[string]struct{}),
	}
}

// Registry exposes the worker-status registry for dashboard queries.
func (o *Orchestrator) Registry() *WorkerRegistry {
	return o.registry
}

// StartAnalysis begins the pipeline for a document set and returns the
// run's task id immediately; the stages execute asynchronously. A second
// request while a run is in flight for the same set id fails fast with
// ErrAnalysisInProgress before any stage executes.
func (o *Orchestrator) StartAnalysis(ctx context.Context, setID string) (string, error) {
	set, err := o.store.GetDocumentSet(setID)
	if err != nil {
		return "", err
	}
	if set == nil {
		return "", ErrSetNotFound
	}

	o.mu.Lock()
	if _, busy := o.inflight[setID]; busy {
		o.mu.Unlock()
		return "", ErrAnalysisInProgress
	}
	o.inflight[setID] = struct{}{}
	o.mu.Unlock()

	runID := uuid.New().String()
	logger.Info(ctx, "analysis started", "set_id", setID, "run_id", runID)
	go o.run(runID, setID)
	return runID, nil
}

func (o *Orchestrator) run(runID, setID string) {
	defer func() {
		o.mu.Lock()
		delete(o.inflight, setID)
		o.mu.Unlock()
	}()

	ctx := context.WithValue(context.Background(), logger.SetIDKey, setID)
	if err := o.store.UpdateSetStatus(setID, model.StatusProcessing, ""); err != nil {
		logger.Error(ctx, "failed to mark set processing", "error", err)
		return
	}

	// Stage 1: extract fields from every document.
	var fieldSets map[string]*model.ExtractedFieldSet
	err := o.runStage(runID, setID, StageFieldExtractor,
		map[string]any{"set_id": setID},
		func() (any, error) {
			docs, err := o.store.GetDocumentsBySet(setID)
			if err != nil {
				return nil, err
			}
			if len(docs) == 0 {
				return nil, fmt.Errorf("document set %s has no documents", setID)
			}
			fieldSets = make(map[string]*model.ExtractedFieldSet, len(docs))
			missing := 0
			for _, doc := range docs {
				fs := o.extractor.Extract(doc)
				if err := o.store.SaveFieldSet(fs); err != nil {
					return nil, err
				}
				missing += len(fs.Errors)
				// First document of a type wins for comparison purposes.
				if _, exists := fieldSets[doc.Type]; !exists {
					fieldSets[doc.Type] = fs
				}
			}
			return map[string]any{"documents": len(docs), "missing_fields": missing}, nil
		})
	if err != nil {
		o.fail(ctx, setID, err)
		return
	}

	// Stage 2: cross-document comparison.
	var candidates []Candidate
	err = o.runStage(runID, setID, StageComparator,
		map[string]any{"document_types": docTypes(fieldSets)},
		func() (any, error) {
			candidates = o.comparator.Compare(fieldSets)
			return map[string]any{"candidates": len(candidates)}, nil
		})
	if err != nil {
		o.fail(ctx, setID, err)
		return
	}

	// Stage 3: rule mapping; every candidate becomes a persisted
	// discrepancy, matched rule or not.
	var discrepancies []*model.Discrepancy
	err = o.runStage(runID, setID, StageRuleMapper,
		map[string]any{"candidates": candidates},
		func() (any, error) {
			for _, cand := range candidates {
				d := o.mapper.Enrich(setID, cand)
				if err := o.store.SaveDiscrepancy(d); err != nil {
					return nil, err
				}
				discrepancies = append(discrepancies, d)
			}
			return map[string]any{"discrepancies": len(discrepancies)}, nil
		})
	if err != nil {
		o.fail(ctx, setID, err)
		return
	}

	// Stage 4: synthesize and persist the report.
	err = o.runStage(runID, setID, StageReportSynthesizer,
		map[string]any{"discrepancies": len(discrepancies)},
		func() (any, error) {
			report := Synthesize(setID, discrepancies)
			if err := o.store.SaveReport(report); err != nil {
				return nil, err
			}
			return map[string]any{
				"recommendation":   report.Recommendation,
				"compliance_score": report.ComplianceScore,
			}, nil
		})
	if err != nil {
		o.fail(ctx, setID, err)
		return
	}

	if err := o.store.UpdateSetStatus(setID, model.StatusCompleted, ""); err != nil {
		logger.Error(ctx, "failed to mark set completed", "error", err)
		return
	}
	logger.Info(ctx, "analysis completed", "run_id", runID)
}

// runStage writes the AgentTask audit trail around one stage invocation
// and keeps the worker status in step. A panic inside the stage is
// converted into a stage failure.
func (o *Orchestrator) runStage(runID, setID, stage string, input any, fn func() (any, error)) error {
	task := &model.AgentTask{
		ID:        uuid.New().String(),
		RunID:     runID,
		SetID:     setID,
		Stage:     stage,
		Status:    model.TaskPending,
		Input:     mustJSON(input),
		StartedAt: time.Now(),
	}
	if err := o.store.SaveAgentTask(task); err != nil {
		return err
	}

	o.registry.Update(stage, WorkerProcessing, setID)
	task.Status = model.TaskInProgress
	if err := o.store.SaveAgentTask(task); err != nil {
		o.registry.Update(stage, WorkerError, setID)
		return err
	}

	result, err := runProtected(fn)
	task.FinishedAt = time.Now()
	if err != nil {
		task.Status = model.TaskFailed
		task.ErrorMsg = err.Error()
		if saveErr := o.store.SaveAgentTask(task); saveErr != nil {
			logger.Error(context.Background(), "failed to finalize agent task",
				"stage", stage, "error", saveErr)
		}
		o.registry.Update(stage, WorkerError, setID)
		return fmt.Errorf("stage %s: %w", stage, err)
	}

	task.Status = model.TaskCompleted
	task.Result = mustJSON(result)
	if err := o.store.SaveAgentTask(task); err != nil {
		o.registry.Update(stage, WorkerError, setID)
		return err
	}
	o.registry.Update(stage, WorkerIdle, "")
	return nil
}

func runProtected(fn func() (any, error)) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("stage panicked: %v", r)
		}
	}()
	return fn()
}

func (o *Orchestrator) fail(ctx context.Context, setID string, err error) {
	if updateErr := o.store.UpdateSetStatus(setID, model.StatusFailed, err.Error()); updateErr != nil {
		logger.Error(ctx, "failed to mark set failed", "error", updateErr)
	}
	logger.Error(ctx, "analysis failed", "error", err)
}

func docTypes(fieldSets map[string]*model.ExtractedFieldSet) []string {
	out := make([]string, 0, len(fieldSets))
	for _, t := range []string{
		model.DocTypeCreditMessage,
		model.DocTypeCommercialInvoice,
		model.DocTypeBillOfLading,
		model.DocTypeCertificateOfOrigin,
		model.DocTypeInsuranceCertificate,
		model.DocTypeGeneric,
	} {
		if _, ok := fieldSets[t]; ok {
			out = append(out, t)
		}
	}
	return out
}

func mustJSON(v any) datatypes.JSON {
	b, err := json.Marshal(v)
	if err != nil {
		return datatypes.JSON(`{}`)
	}
	return datatypes.JSON(b)
}
