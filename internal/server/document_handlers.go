package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"docsense/internal/model"
)

type createDocumentRequest struct {
	SourcePath string `json:"source_path" binding:"required"`
	MimeType   string `json:"mime_type" binding:"required"`
	Profile    string `json:"profile"`
	UserID     string `json:"user_id"`
}

// createDocumentHandler registers a document and enqueues it.
func (s *Server) createDocumentHandler(c *gin.Context) {
	var req createDocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	doc, err := s.dc.CreateDocument(c.Request.Context(), req.SourcePath, req.MimeType, req.Profile, req.UserID)
	if err != nil {
		log.Error().Err(err).Msg("Failed to create document")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create document"})
		return
	}

	c.JSON(http.StatusAccepted, doc)
}

// enqueueDocumentHandler re-enqueues an existing document. Idempotent.
func (s *Server) enqueueDocumentHandler(c *gin.Context) {
	if err := s.dc.Enqueue(c.Request.Context(), c.Param("id")); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"status": "queued"})
}

func (s *Server) listDocumentsHandler(c *gin.Context) {
	docs, err := s.dc.ListDocuments(c.Request.Context())
	if err != nil {
		log.Error().Err(err).Msg("Failed to list documents")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list documents"})
		return
	}

	c.JSON(http.StatusOK, docs)
}

func (s *Server) getDocumentHandler(c *gin.Context) {
	doc, err := s.dc.GetDocument(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"id":           doc.ID.Hex(),
		"status":       doc.Status,
		"progress":     doc.Progress,
		"last_message": doc.LastMessage,
	})
}

// getResultHandler returns the consensus and verification results for a
// completed document.
func (s *Server) getResultHandler(c *gin.Context) {
	doc, err := s.dc.GetDocument(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	if doc.Status != model.StatusCompleted {
		c.JSON(http.StatusConflict, gin.H{
			"error":    "document not completed",
			"status":   doc.Status,
			"progress": doc.Progress,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"consensus":    doc.Consensus,
		"verification": doc.Verification,
	})
}

// getDecisionLogHandler returns the verification audit trail for a document.
func (s *Server) getDecisionLogHandler(c *gin.Context) {
	records, err := s.db.GetDecisionLog(c.Request.Context(), c.Param("id"))
	if err != nil {
		log.Error().Err(err).Msg("Failed to load decision log")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load decision log"})
		return
	}

	c.JSON(http.StatusOK, records)
}

// healthHandler reports dependency health.
func (s *Server) healthHandler(c *gin.Context) {
	status := http.StatusOK
	health := gin.H{"status": "ok"}

	if err := s.db.Health(); err != nil {
		health["mongodb"] = err.Error()
		status = http.StatusServiceUnavailable
	}
	if err := s.rabbit.Health(); err != nil {
		health["rabbitmq"] = err.Error()
		status = http.StatusServiceUnavailable
	}

	c.JSON(status, health)
}
