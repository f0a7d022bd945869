package server

import (
	"fmt"
	"net/http"
	"time"

	"docsense/internal/config"
	"docsense/internal/controller"
	"docsense/internal/database"
	"docsense/internal/rabbitmq"
)

// Server exposes the document intake and status API.
type Server struct {
	dc     controller.DocumentController
	db     database.Database
	rabbit rabbitmq.Client
	config config.Config
}

// New builds the HTTP server around the document controller.
func New(cfg config.Config, db database.Database, rabbit rabbitmq.Client, dc controller.DocumentController) *http.Server {
	server := Server{
		dc:     dc,
		db:     db,
		rabbit: rabbit,
		config: cfg,
	}

	return &http.Server{
		Addr:         fmt.Sprintf(":%v", cfg.Port),
		Handler:      server.RegisterRoutes(),
		IdleTimeout:  time.Minute,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}
