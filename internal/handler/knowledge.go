package handler

import (
	"encoding/csv"
	"errors"
	"net/http"

	"kbquery-backend/internal/model"
	"kbquery-backend/internal/service"
	"kbquery-backend/internal/storage"
	"kbquery-backend/pkg/logger"

	"github.com/gin-gonic/gin"
)

type KnowledgeHandler struct {
	knowledge *service.KnowledgeService
}

func NewKnowledgeHandler(knowledge *service.KnowledgeService) *KnowledgeHandler {
	return &KnowledgeHandler{knowledge: knowledge}
}

func (h *KnowledgeHandler) ListDocuments(c *gin.Context) {
	docs, err := h.knowledge.List()
	if err != nil {
		logger.Errorf("Failed to list documents: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"documents": docs,
		"total":     len(docs),
	})
}

func (h *KnowledgeHandler) GetDocument(c *gin.Context) {
	doc, err := h.knowledge.Get(c.Param("id"))
	if err != nil {
		writeStorageError(c, err)
		return
	}

	c.JSON(http.StatusOK, doc)
}

func (h *KnowledgeHandler) DeleteDocument(c *gin.Context) {
	if err := h.knowledge.Delete(c.Param("id")); err != nil {
		writeStorageError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Document deleted successfully"})
}

func (h *KnowledgeHandler) ClearDocuments(c *gin.Context) {
	n, err := h.knowledge.Clear()
	if err != nil {
		writeStorageError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Documents cleared successfully",
		"deleted": n,
	})
}

// Ingest 请求体是原始 CSV，来源名从 ?source= 读取
func (h *KnowledgeHandler) Ingest(c *gin.Context) {
	var req model.IngestRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	docs, err := h.knowledge.Ingest(req.Source, c.Request.Body)
	if err != nil {
		var parseErr *csv.ParseError
		if errors.Is(err, service.ErrEmptyCSV) || errors.As(err, &parseErr) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		logger.Errorf("Failed to ingest %s: %v", req.Source, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	ids := make([]string, 0, len(docs))
	source := req.Source
	for _, doc := range docs {
		ids = append(ids, doc.ID)
		source = doc.Source
	}

	c.JSON(http.StatusCreated, model.IngestResponse{
		Source:    source,
		Ingested:  len(docs),
		Documents: ids,
	})
}

func writeStorageError(c *gin.Context, err error) {
	if errors.Is(err, storage.ErrDocumentNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	logger.Errorf("Storage error: %v", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}
