package gateway

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/apidoorman/doorman-sub003/internal/config"
	"github.com/apidoorman/doorman-sub003/internal/logging"
)

// Server owns the HTTP listener in front of one Gateway. Run blocks
// until a shutdown signal arrives, then drains in-flight requests within
// the configured grace period before the gateway tears down.
type Server struct {
	gateway *Gateway
	httpSrv *http.Server
	grace   time.Duration

	mu     sync.Mutex
	reload func()
}

// NewServer wraps a gateway with its listener.
func NewServer(cfg *config.Config, gw *Gateway) *Server {
	return &Server{
		gateway: gw,
		grace:   time.Duration(cfg.Server.ShutdownGraceSeconds) * time.Second,
		httpSrv: &http.Server{
			Addr:              cfg.Server.BindAddress,
			Handler:           gw.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
	}
}

// OnReload registers the SIGHUP hook.
func (s *Server) OnReload(fn func()) {
	s.mu.Lock()
	s.reload = fn
	s.mu.Unlock()
}

// Run serves until SIGINT or SIGTERM, then shuts down gracefully.
// SIGHUP invokes the reload hook without interrupting service.
func (s *Server) Run() error {
	errCh := make(chan error, 1)
	go func() {
		logging.Info("doorman listening", zap.String("address", s.httpSrv.Addr))
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(quit)

	for {
		select {
		case err := <-errCh:
			return err
		case sig := <-quit:
			if sig == syscall.SIGHUP {
				s.mu.Lock()
				fn := s.reload
				s.mu.Unlock()
				if fn != nil {
					fn()
				} else {
					logging.Info("reload signal ignored: no reload hook registered")
				}
				continue
			}
			return s.Shutdown()
		}
	}
}

// Shutdown drains the listener up to the grace period, then closes the
// gateway. In-flight requests, logins included, run to completion.
func (s *Server) Shutdown() error {
	logging.Info("Starting graceful shutdown", zap.Duration("grace", s.grace))

	ctx, cancel := context.WithTimeout(context.Background(), s.grace)
	defer cancel()
	err := s.httpSrv.Shutdown(ctx)

	s.gateway.Close()

	if err != nil {
		logging.Warn("listener drain incomplete", zap.Error(err))
		return err
	}
	logging.Info("shutdown complete")
	return nil
}
