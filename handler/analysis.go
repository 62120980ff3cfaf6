package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/shahuldxb/TradeDiscrepancyFinder-sub000/middleware"
	"github.com/shahuldxb/TradeDiscrepancyFinder-sub000/pipeline"
	"github.com/shahuldxb/TradeDiscrepancyFinder-sub000/service"
)

type AnalysisHandler struct {
	orchestrator *pipeline.Orchestrator
	store        service.Store
}

func NewAnalysisHandler(orch *pipeline.Orchestrator, store service.Store) *AnalysisHandler {
	return &AnalysisHandler{
		orchestrator: orch,
		store:        store,
	}
}

// Start kicks off the analysis pipeline for a document set. The stages
// run asynchronously; callers poll the set status and fetch the report
// when it completes. A second start while a run is in flight is rejected.
func (h *AnalysisHandler) Start(c *gin.Context) {
	tenant := middleware.GetTenant(c)
	setID := c.Param("id")

	set, err := h.store.GetDocumentSet(setID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if set == nil || set.Tenant != tenant {
		c.JSON(http.StatusNotFound, gin.H{"error": "Document set not found"})
		return
	}

	taskID, err := h.orchestrator.StartAnalysis(c.Request.Context(), setID)
	if err != nil {
		switch {
		case errors.Is(err, pipeline.ErrAnalysisInProgress):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		case errors.Is(err, pipeline.ErrSetNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"task_id": taskID})
}

// GetReport returns the latest report for a document set
func (h *AnalysisHandler) GetReport(c *gin.Context) {
	tenant := middleware.GetTenant(c)
	setID := c.Param("id")

	set, err := h.store.GetDocumentSet(setID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if set == nil || set.Tenant != tenant {
		c.JSON(http.StatusNotFound, gin.H{"error": "Document set not found"})
		return
	}

	report, err := h.store.GetReportBySet(setID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if report == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "No report available for this document set"})
		return
	}

	c.JSON(http.StatusOK, report)
}

// GetTasks returns the stage audit trail for a document set
func (h *AnalysisHandler) GetTasks(c *gin.Context) {
	tenant := middleware.GetTenant(c)
	setID := c.Param("id")

	set, err := h.store.GetDocumentSet(setID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if set == nil || set.Tenant != tenant {
		c.JSON(http.StatusNotFound, gin.H{"error": "Document set not found"})
		return
	}

	tasks, err := h.store.GetAgentTasksBySet(setID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"tasks": tasks})
}

// GetWorkers returns the status of each pipeline stage role
func (h *AnalysisHandler) GetWorkers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"workers": h.orchestrator.Registry().Snapshot()})
}
