package handler

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/shahuldxb/TradeDiscrepancyFinder-sub000/middleware"
	"github.com/shahuldxb/TradeDiscrepancyFinder-sub000/model"
	"github.com/shahuldxb/TradeDiscrepancyFinder-sub000/service"
)

type DocumentHandler struct {
	minioService    *service.MinioService
	textractService *service.TextractService
	store           service.Store
}

func NewDocumentHandler(minioSvc *service.MinioService, textractSvc *service.TextractService, store service.Store) *DocumentHandler {
	return &DocumentHandler{
		minioService:    minioSvc,
		textractService: textractSvc,
		store:           store,
	}
}

// Upload receives one document of a set. A new set is created when no
// set_id is supplied. Plain-text uploads carry their text inline; PDFs go
// to MinIO and on to the external text-extraction service.
func (h *DocumentHandler) Upload(c *gin.Context) {
	tenant := middleware.GetTenant(c)

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No file provided"})
		return
	}
	defer file.Close()

	docType := c.PostForm("doc_type")
	if docType == "" {
		docType = model.DocTypeGeneric
	}
	if !model.ValidDocumentType(docType) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown document type: " + docType})
		return
	}

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if ext != ".pdf" && ext != ".txt" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Only PDF and TXT files are allowed"})
		return
	}

	set, err := h.resolveSet(c, tenant)
	if err != nil {
		return // response already written
	}

	doc := &model.Document{
		ID:        uuid.New().String(),
		SetID:     set.ID,
		Tenant:    tenant,
		Type:      docType,
		Filename:  header.Filename,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}

	if ext == ".txt" {
		text, err := io.ReadAll(file)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read file"})
			return
		}
		doc.RawText = string(text)
		doc.TextExtracted = true
	} else {
		objectName := fmt.Sprintf("%s/%s/%s", tenant, doc.ID, header.Filename)
		err = h.minioService.UploadDocument(c.Request.Context(), objectName, file, header.Size, "application/pdf")
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to store file: " + err.Error()})
			return
		}
		doc.ObjectName = objectName
	}

	if err := h.store.SaveDocument(doc); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save document: " + err.Error()})
		return
	}

	if !doc.TextExtracted {
		go h.processTextraction(doc)
	}

	c.JSON(http.StatusOK, gin.H{
		"id":             doc.ID,
		"set_id":         set.ID,
		"type":           doc.Type,
		"filename":       doc.Filename,
		"text_extracted": doc.TextExtracted,
	})
}

// resolveSet loads the target set or creates a new one. On failure it
// writes the error response and returns a non-nil error.
func (h *DocumentHandler) resolveSet(c *gin.Context, tenant string) (*model.DocumentSet, error) {
	if setID := c.PostForm("set_id"); setID != "" {
		set, err := h.store.GetDocumentSet(setID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return nil, err
		}
		if set == nil || set.Tenant != tenant {
			c.JSON(http.StatusNotFound, gin.H{"error": "Document set not found"})
			return nil, fmt.Errorf("set not found")
		}
		return set, nil
	}

	label := c.PostForm("set_label")
	if label == "" {
		label = "Presentation " + time.Now().Format("2006-01-02 15:04")
	}
	set := &model.DocumentSet{
		ID:        uuid.New().String(),
		Label:     label,
		Tenant:    tenant,
		Status:    model.StatusPending,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if err := h.store.SaveDocumentSet(set); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return nil, err
	}
	return set, nil
}

// processTextraction hands a stored PDF to the external extraction
// service and waits for its text.
func (h *DocumentHandler) processTextraction(doc *model.Document) {
	ctx := context.Background()

	docURL, err := h.minioService.GetPresignedURL(ctx, doc.ObjectName)
	if err != nil {
		slog.Error("failed to generate document URL", "document_id", doc.ID, "error", err)
		h.store.UpdateDocumentError(doc.ID, err.Error())
		return
	}

	resp, err := h.textractService.CreateTask(docURL, doc.ID)
	if err != nil {
		slog.Error("failed to create extraction task", "document_id", doc.ID, "error", err)
		h.store.UpdateDocumentError(doc.ID, err.Error())
		return
	}

	// A targeted update: the callback may already have written the text
	// by the time the task id lands.
	if err := h.store.UpdateDocumentTextractTask(doc.ID, resp.Data.TaskID); err != nil {
		slog.Error("failed to record extraction task", "document_id", doc.ID, "error", err)
		return
	}
	slog.Info("extraction task created", "document_id", doc.ID, "task_id", resp.Data.TaskID)

	// With a callback configured the service pushes the result; otherwise
	// poll until done.
	text, err := h.textractService.PollTask(ctx, resp.Data.TaskID)
	if err != nil {
		slog.Error("extraction task did not complete", "document_id", doc.ID, "error", err)
		h.store.UpdateDocumentError(doc.ID, err.Error())
		return
	}
	if err := h.store.UpdateDocumentText(doc.ID, text); err != nil {
		slog.Error("failed to save extracted text", "document_id", doc.ID, "error", err)
	}
}

// ListSets returns all document sets for the current tenant
func (h *DocumentHandler) ListSets(c *gin.Context) {
	tenant := middleware.GetTenant(c)

	sets, err := h.store.GetSetsByTenant(tenant)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	result := make([]gin.H, len(sets))
	for i, set := range sets {
		result[i] = gin.H{
			"id":         set.ID,
			"label":      set.Label,
			"status":     set.Status,
			"created_at": set.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
			"updated_at": set.UpdatedAt.Format("2006-01-02T15:04:05Z07:00"),
		}
	}

	c.JSON(http.StatusOK, gin.H{"sets": result})
}

// GetSet returns a single set with its documents
func (h *DocumentHandler) GetSet(c *gin.Context) {
	tenant := middleware.GetTenant(c)
	id := c.Param("id")

	set, err := h.store.GetDocumentSet(id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if set == nil || set.Tenant != tenant {
		c.JSON(http.StatusNotFound, gin.H{"error": "Document set not found"})
		return
	}

	docs, err := h.store.GetDocumentsBySet(id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"set":       set,
		"documents": docs,
	})
}

// DeleteSet removes a set, its documents and their stored files
func (h *DocumentHandler) DeleteSet(c *gin.Context) {
	tenant := middleware.GetTenant(c)
	id := c.Param("id")

	set, err := h.store.GetDocumentSet(id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if set == nil || set.Tenant != tenant {
		c.JSON(http.StatusNotFound, gin.H{"error": "Document set not found"})
		return
	}

	docs, err := h.store.GetDocumentsBySet(id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if h.minioService != nil {
		for _, doc := range docs {
			if doc.ObjectName == "" {
				continue
			}
			if err := h.minioService.DeleteDocument(c.Request.Context(), doc.ObjectName); err != nil {
				slog.Warn("failed to delete stored file", "document_id", doc.ID, "error", err)
			}
		}
	}

	if err := h.store.DeleteDocumentSet(id); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Document set deleted"})
}

type ReclassifyRequest struct {
	Type string `json:"type" binding:"required"`
}

// Reclassify changes a document's declared type, the only mutation a
// document allows after creation.
func (h *DocumentHandler) Reclassify(c *gin.Context) {
	tenant := middleware.GetTenant(c)
	id := c.Param("id")

	var req ReclassifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	if !model.ValidDocumentType(req.Type) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown document type: " + req.Type})
		return
	}

	doc, err := h.store.GetDocument(id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if doc == nil || doc.Tenant != tenant {
		c.JSON(http.StatusNotFound, gin.H{"error": "Document not found"})
		return
	}

	if err := h.store.UpdateDocumentType(id, req.Type); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"id": id, "type": req.Type})
}
