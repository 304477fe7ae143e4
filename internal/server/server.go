package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"

	"github.com/Tyrowin/chatdrop/internal/config"
	"github.com/Tyrowin/chatdrop/internal/history"
	"github.com/Tyrowin/chatdrop/internal/upload"
)

// ShutdownTimeout bounds each shutdown phase.
const ShutdownTimeout = 10 * time.Second

// Server bundles the hub, the upload controllers and the HTTP server built
// from one Config.
type Server struct {
	cfg     config.Config
	log     *logrus.Entry
	history *history.Log
	hub     *Hub
	handler http.Handler
	http    *http.Server
}

// New bootstraps directories, loads the history and wires every component.
// A corrupt history is returned as history.ErrCorruptHistory.
func New(cfg config.Config) (*Server, error) {
	log := logrus.WithField("component", "server")

	if err := os.MkdirAll(cfg.PublicDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create public directory: %w", err)
	}

	hist, err := history.Open(cfg.HistoryPath, logrus.WithField("component", "history"))
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}

	docStore, err := upload.NewStore(cfg.Documents.Dir, logrus.WithField("component", "documents"))
	if err != nil {
		return nil, err
	}
	audioStore, err := upload.NewStore(cfg.Audio.Dir, logrus.WithField("component", "audio"))
	if err != nil {
		return nil, err
	}

	docs := upload.NewController(docStore,
		upload.DocumentPolicy(cfg.Documents.MaxSize.Int64(), cfg.Documents.MaxFiles),
		logrus.WithField("component", "upload"))
	audio := upload.NewController(audioStore,
		upload.AudioPolicy(cfg.Audio.MaxSize.Int64()),
		logrus.WithField("component", "upload"))

	hub := NewHub(hist, HubOptions{
		MaxMessageSize: cfg.MaxMessageSize.Int64(),
		RateLimit:      cfg.RateLimit,
	}, nil)

	handler := NewRouter(Routes{
		Hub:               hub,
		Origins:           NewOriginPolicy(cfg.AllowedOrigins, nil),
		Documents:         docs,
		Audio:             audio,
		UploadIdleTimeout: cfg.UploadIdleTimeout,
		PublicDir:         cfg.PublicDir,
	})

	log.WithFields(logrus.Fields{
		"documents":    docStore.Dir(),
		"document_max": humanize.IBytes(uint64(cfg.Documents.MaxSize)),
		"max_files":    cfg.Documents.MaxFiles,
		"audio":        audioStore.Dir(),
		"audio_max":    humanize.IBytes(uint64(cfg.Audio.MaxSize)),
		"messages":     hist.Len(),
		"public":       cfg.PublicDir,
		"origins":      len(cfg.AllowedOrigins),
	}).Info("Server configured")

	return &Server{
		cfg:     cfg,
		log:     log,
		history: hist,
		hub:     hub,
		handler: handler,
		http:    NewHTTPServer(cfg.Addr, handler),
	}, nil
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Hub returns the broadcast hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Run listens on the configured address and serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve runs the hub and serves on ln until ctx is cancelled or the listener
// fails, then shuts down the HTTP server before the hub.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go s.hub.Run()

	errCh := make(chan error, 1)
	go func() {
		errCh <- StartServer(s.http, ln, s.cfg.TLS)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		s.log.Info("Shutdown requested")
	case serveErr = <-errCh:
		if serveErr != nil {
			s.log.WithError(serveErr).Error("Server stopped unexpectedly")
		}
	}

	return errors.Join(serveErr, s.Shutdown(ShutdownTimeout))
}

// Shutdown drains HTTP requests, then closes every WebSocket connection.
func (s *Server) Shutdown(timeout time.Duration) error {
	httpErr := ShutdownServer(s.http, timeout)
	hubErr := s.hub.Shutdown(timeout)
	return errors.Join(httpErr, hubErr)
}
