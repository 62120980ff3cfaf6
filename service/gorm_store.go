package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/shahuldxb/TradeDiscrepancyFinder-sub000/config"
	"github.com/shahuldxb/TradeDiscrepancyFinder-sub000/model"
)

// GormStore persists everything in SQLite through GORM.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens (or creates) the SQLite database and migrates the
// schema.
func NewGormStore(cfg *config.StoreConfig) (*GormStore, error) {
	db, err := gorm.Open(sqlite.Open(cfg.Path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	if err := db.AutoMigrate(
		&model.DocumentSet{},
		&model.Document{},
		&model.ExtractedFieldSet{},
		&model.Discrepancy{},
		&model.AgentTask{},
		&model.Report{},
	); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	return &GormStore{db: db}, nil
}

func (s *GormStore) SaveDocumentSet(set *model.DocumentSet) error {
	set.UpdatedAt = time.Now()
	return s.db.Save(set).Error
}

func (s *GormStore) GetDocumentSet(id string) (*model.DocumentSet, error) {
	var set model.DocumentSet
	err := s.db.First(&set, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &set, nil
}

func (s *GormStore) GetSetsByTenant(tenant string) ([]*model.DocumentSet, error) {
	var sets []*model.DocumentSet
	err := s.db.Where("tenant = ?", tenant).Order("created_at").Find(&sets).Error
	return sets, err
}

func (s *GormStore) UpdateSetStatus(id, status, errMsg string) error {
	return s.db.Model(&model.DocumentSet{}).Where("id = ?", id).Updates(map[string]any{
		"status":     status,
		"error_msg":  errMsg,
		"updated_at": time.Now(),
	}).Error
}

func (s *GormStore) DeleteDocumentSet(id string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&model.Document{}, "set_id = ?", id).Error; err != nil {
			return err
		}
		if err := tx.Delete(&model.ExtractedFieldSet{}, "set_id = ?", id).Error; err != nil {
			return err
		}
		if err := tx.Delete(&model.Discrepancy{}, "set_id = ?", id).Error; err != nil {
			return err
		}
		if err := tx.Delete(&model.AgentTask{}, "set_id = ?", id).Error; err != nil {
			return err
		}
		if err := tx.Delete(&model.Report{}, "set_id = ?", id).Error; err != nil {
			return err
		}
		return tx.Delete(&model.DocumentSet{}, "id = ?", id).Error
	})
}

func (s *GormStore) SaveDocument(doc *model.Document) error {
	doc.UpdatedAt = time.Now()
	return s.db.Save(doc).Error
}

func (s *GormStore) GetDocument(id string) (*model.Document, error) {
	var doc model.Document
	err := s.db.First(&doc, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

func (s *GormStore) GetDocumentsBySet(setID string) ([]*model.Document, error) {
	var docs []*model.Document
	err := s.db.Where("set_id = ?", setID).Order("created_at").Find(&docs).Error
	return docs, err
}

func (s *GormStore) GetDocumentByTextractTask(taskID string) (*model.Document, error) {
	var doc model.Document
	err := s.db.First(&doc, "textract_task = ?", taskID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

func (s *GormStore) UpdateDocumentText(id, text string) error {
	return s.db.Model(&model.Document{}).Where("id = ?", id).Updates(map[string]any{
		"raw_text":       text,
		"text_extracted": true,
		"error_msg":      "",
		"updated_at":     time.Now(),
	}).Error
}

func (s *GormStore) UpdateDocumentType(id, docType string) error {
	return s.db.Model(&model.Document{}).Where("id = ?", id).Updates(map[string]any{
		"type":       docType,
		"updated_at": time.Now(),
	}).Error
}

func (s *GormStore) UpdateDocumentError(id, errMsg string) error {
	return s.db.Model(&model.Document{}).Where("id = ?", id).Updates(map[string]any{
		"error_msg":  errMsg,
		"updated_at": time.Now(),
	}).Error
}

func (s *GormStore) UpdateDocumentTextractTask(id, taskID string) error {
	return s.db.Model(&model.Document{}).Where("id = ?", id).Updates(map[string]any{
		"textract_task": taskID,
		"updated_at":    time.Now(),
	}).Error
}

func (s *GormStore) SaveFieldSet(fs *model.ExtractedFieldSet) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		// A re-run supersedes the previous extraction for the document.
		if err := tx.Delete(&model.ExtractedFieldSet{}, "document_id = ?", fs.DocumentID).Error; err != nil {
			return err
		}
		return tx.Create(fs).Error
	})
}

func (s *GormStore) GetFieldSetsBySet(setID string) ([]*model.ExtractedFieldSet, error) {
	var sets []*model.ExtractedFieldSet
	err := s.db.Where("set_id = ?", setID).Order("created_at").Find(&sets).Error
	return sets, err
}

func (s *GormStore) SaveDiscrepancy(d *model.Discrepancy) error {
	return s.db.Create(d).Error
}

func (s *GormStore) GetDiscrepanciesBySet(setID string) ([]*model.Discrepancy, error) {
	var discs []*model.Discrepancy
	err := s.db.Where("set_id = ?", setID).Order("created_at").Find(&discs).Error
	return discs, err
}

func (s *GormStore) SaveAgentTask(t *model.AgentTask) error {
	return s.db.Save(t).Error
}

func (s *GormStore) GetAgentTasksBySet(setID string) ([]*model.AgentTask, error) {
	var tasks []*model.AgentTask
	err := s.db.Where("set_id = ?", setID).Order("started_at").Find(&tasks).Error
	return tasks, err
}

func (s *GormStore) SaveReport(r *model.Report) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		// Latest report wins; a new run replaces the previous one.
		if err := tx.Delete(&model.Report{}, "set_id = ?", r.SetID).Error; err != nil {
			return err
		}
		return tx.Create(r).Error
	})
}

func (s *GormStore) GetReportBySet(setID string) (*model.Report, error) {
	var report model.Report
	err := s.db.First(&report, "set_id = ?", setID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &report, nil
}
