// Package graceful coordinates orderly shutdown of the HTTP server and
// background components on SIGINT/SIGTERM.
package graceful

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sendramp/ramp-service/pkg/logger"
)

// Shutdowner is a background component that can be stopped with a deadline.
type Shutdowner interface {
	Shutdown(timeout time.Duration) error
}

// ShutdownManager stops components in registration order, then the HTTP
// server, then the database.
type ShutdownManager struct {
	server      *http.Server
	db          *sql.DB
	shutdowners []Shutdowner
	logger      *logger.Logger
}

func NewShutdownManager(server *http.Server, db *sql.DB, log *logger.Logger) *ShutdownManager {
	return &ShutdownManager{
		server: server,
		db:     db,
		logger: log,
	}
}

// Register adds a component to stop before the server.
func (sm *ShutdownManager) Register(s Shutdowner) {
	sm.shutdowners = append(sm.shutdowners, s)
}

// WaitForShutdown blocks until a termination signal arrives, then drains.
func (sm *ShutdownManager) WaitForShutdown() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	sm.logger.Info("shutting down gracefully")

	timeout := 30 * time.Second
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	for _, s := range sm.shutdowners {
		if err := s.Shutdown(timeout); err != nil {
			sm.logger.Warn("component shutdown error", "error", err)
		}
	}

	if err := sm.server.Shutdown(ctx); err != nil {
		sm.logger.Error("server forced shutdown", "error", err)
	}

	if err := sm.db.Close(); err != nil {
		sm.logger.Warn("database close error", "error", err)
	}

	sm.logger.Info("shutdown complete")
}
