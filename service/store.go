package service

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/shahuldxb/TradeDiscrepancyFinder-sub000/config"
	"github.com/shahuldxb/TradeDiscrepancyFinder-sub000/model"
)

// Store is the persistence boundary of the analysis pipeline. Lookups
// return nil (not an error) when the record does not exist; errors are
// reserved for backend failures.
type Store interface {
	SaveDocumentSet(set *model.DocumentSet) error
	GetDocumentSet(id string) (*model.DocumentSet, error)
	GetSetsByTenant(tenant string) ([]*model.DocumentSet, error)
	UpdateSetStatus(id, status, errMsg string) error
	DeleteDocumentSet(id string) error

	SaveDocument(doc *model.Document) error
	GetDocument(id string) (*model.Document, error)
	GetDocumentsBySet(setID string) ([]*model.Document, error)
	GetDocumentByTextractTask(taskID string) (*model.Document, error)
	UpdateDocumentText(id, text string) error
	UpdateDocumentType(id, docType string) error
	UpdateDocumentError(id, errMsg string) error
	UpdateDocumentTextractTask(id, taskID string) error

	SaveFieldSet(fs *model.ExtractedFieldSet) error
	GetFieldSetsBySet(setID string) ([]*model.ExtractedFieldSet, error)

	SaveDiscrepancy(d *model.Discrepancy) error
	GetDiscrepanciesBySet(setID string) ([]*model.Discrepancy, error)

	SaveAgentTask(t *model.AgentTask) error
	GetAgentTasksBySet(setID string) ([]*model.AgentTask, error)

	SaveReport(r *model.Report) error
	GetReportBySet(setID string) (*model.Report, error)
}

// MemoryStore is an in-memory Store used by tests and as a fallback when
// no database is configured. Records are copied in and out, so callers
// never share memory with the store.
type MemoryStore struct {
	mu        sync.RWMutex
	sets      map[string]*model.DocumentSet
	documents map[string]*model.Document
	fieldSets map[string]*model.ExtractedFieldSet
	discs     map[string]*model.Discrepancy
	tasks     map[string]*model.AgentTask
	taskOrder []string
	reports   map[string]*model.Report
	maxSets   int // maximum document sets to keep, 0 = unlimited
}

// NewMemoryStore creates an in-memory store. cfg may be nil.
func NewMemoryStore(cfg *config.StoreConfig) *MemoryStore {
	maxSets := 0
	if cfg != nil && cfg.MaxSets > 0 {
		maxSets = cfg.MaxSets
	}
	return &MemoryStore{
		sets:      make(map[string]*model.DocumentSet),
		documents: make(map[string]*model.Document),
		fieldSets: make(map[string]*model.ExtractedFieldSet),
		discs:     make(map[string]*model.Discrepancy),
		tasks:     make(map[string]*model.AgentTask),
		reports:   make(map[string]*model.Report),
		maxSets:   maxSets,
	}
}

func (s *MemoryStore) SaveDocumentSet(set *model.DocumentSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	set.UpdatedAt = time.Now()
	cp := *set
	s.sets[set.ID] = &cp
	s.cleanupIfNeeded()
	return nil
}

func (s *MemoryStore) GetDocumentSet(id string) (*model.DocumentSet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	set, ok := s.sets[id]
	if !ok {
		return nil, nil
	}
	cp := *set
	return &cp, nil
}

func (s *MemoryStore) GetSetsByTenant(tenant string) ([]*model.DocumentSet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []*model.DocumentSet
	for _, set := range s.sets {
		if set.Tenant == tenant {
			cp := *set
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (s *MemoryStore) UpdateSetStatus(id, status, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if set, ok := s.sets[id]; ok {
		set.Status = status
		set.ErrorMsg = errMsg
		set.UpdatedAt = time.Now()
	}
	return nil
}

func (s *MemoryStore) DeleteDocumentSet(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteSetLocked(id)
	return nil
}

// deleteSetLocked removes a set and everything hanging off it.
// Must be called with lock held.
func (s *MemoryStore) deleteSetLocked(id string) {
	delete(s.sets, id)
	for docID, doc := range s.documents {
		if doc.SetID == id {
			delete(s.documents, docID)
		}
	}
	for fsID, fs := range s.fieldSets {
		if fs.SetID == id {
			delete(s.fieldSets, fsID)
		}
	}
	for dID, d := range s.discs {
		if d.SetID == id {
			delete(s.discs, dID)
		}
	}
	kept := s.taskOrder[:0]
	for _, tID := range s.taskOrder {
		if t := s.tasks[tID]; t != nil && t.SetID == id {
			delete(s.tasks, tID)
		} else {
			kept = append(kept, tID)
		}
	}
	s.taskOrder = kept
	delete(s.reports, id)
}

func (s *MemoryStore) SaveDocument(doc *model.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc.UpdatedAt = time.Now()
	cp := *doc
	s.documents[doc.ID] = &cp
	return nil
}

func (s *MemoryStore) GetDocument(id string) (*model.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.documents[id]
	if !ok {
		return nil, nil
	}
	cp := *doc
	return &cp, nil
}

func (s *MemoryStore) GetDocumentsBySet(setID string) ([]*model.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []*model.Document
	for _, doc := range s.documents {
		if doc.SetID == setID {
			cp := *doc
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (s *MemoryStore) GetDocumentByTextractTask(taskID string) (*model.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, doc := range s.documents {
		if doc.TextractTask == taskID {
			cp := *doc
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) UpdateDocumentText(id, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if doc, ok := s.documents[id]; ok {
		doc.RawText = text
		doc.TextExtracted = true
		doc.ErrorMsg = ""
		doc.UpdatedAt = time.Now()
	}
	return nil
}

func (s *MemoryStore) UpdateDocumentType(id, docType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if doc, ok := s.documents[id]; ok {
		doc.Type = docType
		doc.UpdatedAt = time.Now()
	}
	return nil
}

func (s *MemoryStore) UpdateDocumentError(id, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if doc, ok := s.documents[id]; ok {
		doc.ErrorMsg = errMsg
		doc.UpdatedAt = time.Now()
	}
	return nil
}

func (s *MemoryStore) UpdateDocumentTextractTask(id, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if doc, ok := s.documents[id]; ok {
		doc.TextractTask = taskID
		doc.UpdatedAt = time.Now()
	}
	return nil
}

func (s *MemoryStore) SaveFieldSet(fs *model.ExtractedFieldSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	// A re-run supersedes the previous extraction for the same document.
	for id, old := range s.fieldSets {
		if old.DocumentID == fs.DocumentID {
			delete(s.fieldSets, id)
		}
	}
	cp := *fs
	s.fieldSets[fs.ID] = &cp
	return nil
}

func (s *MemoryStore) GetFieldSetsBySet(setID string) ([]*model.ExtractedFieldSet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []*model.ExtractedFieldSet
	for _, fs := range s.fieldSets {
		if fs.SetID == setID {
			cp := *fs
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (s *MemoryStore) SaveDiscrepancy(d *model.Discrepancy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *d
	s.discs[d.ID] = &cp
	return nil
}

func (s *MemoryStore) GetDiscrepanciesBySet(setID string) ([]*model.Discrepancy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []*model.Discrepancy
	for _, d := range s.discs {
		if d.SetID == setID {
			cp := *d
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (s *MemoryStore) SaveAgentTask(t *model.AgentTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tasks[t.ID]; !exists {
		s.taskOrder = append(s.taskOrder, t.ID)
	}
	cp := *t
	s.tasks[t.ID] = &cp
	return nil
}

func (s *MemoryStore) GetAgentTasksBySet(setID string) ([]*model.AgentTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	// Insertion order, which for one set is stage order.
	var result []*model.AgentTask
	for _, id := range s.taskOrder {
		if t := s.tasks[id]; t != nil && t.SetID == setID {
			cp := *t
			result = append(result, &cp)
		}
	}
	return result, nil
}

func (s *MemoryStore) SaveReport(r *model.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Latest report wins; a new run replaces the previous one.
	cp := *r
	s.reports[r.SetID] = &cp
	return nil
}

func (s *MemoryStore) GetReportBySet(setID string) (*model.Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.reports[setID]
	if !ok {
		return nil, nil
	}
	cp := *r
	return &cp, nil
}

// cleanupIfNeeded removes the oldest document sets if the store exceeds
// maxSets. Must be called with lock held.
func (s *MemoryStore) cleanupIfNeeded() {
	if s.maxSets <= 0 {
		return // Unlimited
	}
	if len(s.sets) <= s.maxSets {
		return
	}

	sets := make([]*model.DocumentSet, 0, len(s.sets))
	for _, set := range s.sets {
		sets = append(sets, set)
	}
	sort.Slice(sets, func(i, j int) bool {
		return sets[i].CreatedAt.Before(sets[j].CreatedAt)
	})

	removeCount := len(sets) - s.maxSets
	for i := 0; i < removeCount; i++ {
		slog.Info("auto-cleaning old document set",
			"set_id", sets[i].ID,
			"created_at", sets[i].CreatedAt,
		)
		s.deleteSetLocked(sets[i].ID)
	}
}
