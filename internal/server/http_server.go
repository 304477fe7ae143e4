package server

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Tyrowin/chatdrop/internal/config"
)

// NewHTTPServer creates the HTTP server. There is no whole-request read or
// write timeout: uploads are bounded by the per-read idle deadline and
// WebSocket connections are hijacked.
func NewHTTPServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
		ErrorLog:          log.New(logrus.StandardLogger().WriterLevel(logrus.WarnLevel), "", 0),
	}
}

// StartServer serves on ln until the server is shut down, using TLS when a
// certificate pair is configured. http.ErrServerClosed is not an error.
func StartServer(srv *http.Server, ln net.Listener, tls config.TLSConfig) error {
	var err error
	if tls.Enabled() {
		logrus.WithField("addr", ln.Addr().String()).Info("Server listening (TLS)")
		err = srv.ServeTLS(ln, tls.CertFile, tls.KeyFile)
	} else {
		logrus.WithField("addr", ln.Addr().String()).Info("Server listening")
		err = srv.Serve(ln)
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// ShutdownServer gracefully shuts down the HTTP server without interrupting
// active requests, waiting at most timeout.
func ShutdownServer(srv *http.Server, timeout time.Duration) error {
	logrus.Info("Shutting down HTTP server")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logrus.WithError(err).Error("HTTP server shutdown error")
		return err
	}

	logrus.Info("HTTP server shutdown completed")
	return nil
}
