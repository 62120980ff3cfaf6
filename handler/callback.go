package handler

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/shahuldxb/TradeDiscrepancyFinder-sub000/service"
)

type CallbackHandler struct {
	textractService *service.TextractService
	store           service.Store
}

func NewCallbackHandler(textractSvc *service.TextractService, store service.Store) *CallbackHandler {
	return &CallbackHandler{
		textractService: textractSvc,
		store:           store,
	}
}

type CallbackRequest struct {
	Checksum string `json:"checksum"`
	Content  string `json:"content"`
}

// HandleCallback receives the result push from the text-extraction
// service. data_id carries our document id.
func (h *CallbackHandler) HandleCallback(c *gin.Context) {
	var req CallbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	var content service.TextractCallbackContent
	if err := json.Unmarshal([]byte(req.Content), &content); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid content format"})
		return
	}

	doc, err := h.store.GetDocument(content.DataID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if doc == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Document not found"})
		return
	}

	switch content.State {
	case "done":
		text := content.Text
		if text == "" && content.TextURL != "" {
			text, err = h.textractService.FetchText(content.TextURL)
			if err != nil {
				h.store.UpdateDocumentError(doc.ID, "Failed to fetch text: "+err.Error())
				c.JSON(http.StatusOK, gin.H{"message": "Callback received"})
				return
			}
		}
		h.store.UpdateDocumentText(doc.ID, text)
	case "failed":
		h.store.UpdateDocumentError(doc.ID, content.ErrorMsg)
	}

	c.JSON(http.StatusOK, gin.H{"message": "Callback received"})
}
