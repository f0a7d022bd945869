package server

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

func (s *Server) RegisterRoutes() http.Handler {
	r := gin.Default()

	r.Use(cors.New(cors.Config{
		AllowOrigins:     s.config.CORS.AllowedOrigins,
		AllowMethods:     s.config.CORS.AllowedMethods,
		AllowHeaders:     s.config.CORS.AllowedHeaders,
		AllowCredentials: s.config.CORS.AllowCredentials,
		MaxAge:           time.Duration(s.config.CORS.MaxAge) * time.Second,
	}))

	r.GET("/health", s.healthHandler)

	r.POST("/documents", s.createDocumentHandler)
	r.POST("/documents/:id/enqueue", s.enqueueDocumentHandler)
	r.GET("/documents", s.listDocumentsHandler)
	r.GET("/documents/:id", s.getDocumentHandler)
	r.GET("/documents/:id/result", s.getResultHandler)
	r.GET("/documents/:id/decisions", s.getDecisionLogHandler)

	return r
}
