package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/syncview/syncview-agent/internal/encoder"
	"github.com/syncview/syncview-agent/internal/export"
	"github.com/syncview/syncview-agent/internal/marker"
	"github.com/syncview/syncview-agent/internal/playback"
	"github.com/syncview/syncview-agent/internal/watch"
	"github.com/syncview/syncview-agent/internal/workspace"
)

type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

type ServerConfig struct {
	Port             int
	Version          string
	Markers          *marker.Manager
	Store            *marker.Store
	Workspace        *workspace.Manager
	Engine           *export.Engine
	Queue            *export.Queue
	Detector         *encoder.CachedDetector
	Playback         playback.Service
	Watcher          watch.Watcher
	ExportDir        string
	HardwareDisabled bool
	Logger           *slog.Logger
	StartTime        time.Time
	DeviceID         string
}

func NewServer(cfg ServerConfig) *Server {
	router := NewRouter(cfg)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf("127.0.0.1:%d", cfg.Port),
			Handler:      router,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 0,
			IdleTimeout:  60 * time.Second,
		},
		logger: cfg.Logger,
	}
}

func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) Addr() string {
	return s.httpServer.Addr
}
