// Package app wires the tracker service: storage, plan guard,
// lifecycle engine, query layer, notification dispatcher, and the HTTP
// JSON surface callers talk to.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/taskmirror/taskmirror/internal/notify"
	"github.com/taskmirror/taskmirror/internal/notify/webhook"
	"github.com/taskmirror/taskmirror/internal/plan"
	"github.com/taskmirror/taskmirror/internal/platform/timeouts"
	"github.com/taskmirror/taskmirror/internal/tracker/query"
	"github.com/taskmirror/taskmirror/internal/tracker/service"
	"github.com/taskmirror/taskmirror/internal/tracker/storage/sqlite"
)

// Config describes a tracker server.
type Config struct {
	Addr string
	// DBPath locates the SQLite database file.
	DBPath string
	// WebhookURL enables chat notifications when set.
	WebhookURL string
}

// Server is the assembled tracker service.
type Server struct {
	addr       string
	httpServer *http.Server
	store      *sqlite.Store
}

// NewServer opens storage and wires the service graph.
func NewServer(config Config) (*Server, error) {
	addr := strings.TrimSpace(config.Addr)
	if addr == "" {
		return nil, errors.New("listen address is required")
	}

	store, err := sqlite.Open(config.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	var dispatcher notify.Dispatcher
	if strings.TrimSpace(config.WebhookURL) != "" {
		dispatcher, err = webhook.New(config.WebhookURL)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("configure webhook: %w", err)
		}
	}

	engine, err := service.New(service.Config{
		Store:      store,
		Guard:      plan.NewGuard(store),
		Dispatcher: dispatcher,
	})
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("build engine: %w", err)
	}
	queries, err := query.New(store)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("build query service: %w", err)
	}

	handler := NewHandler(engine, queries)
	return &Server{
		addr: addr,
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           handler.routes(),
			ReadHeaderTimeout: timeouts.ReadHeader,
		},
		store: store,
	}, nil
}

// ListenAndServe runs the HTTP server until the context ends.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if s == nil {
		return errors.New("tracker server is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	serveErr := make(chan error, 1)
	log.Printf("tracker listening on %s", s.addr)
	go func() {
		serveErr <- s.httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeouts.Shutdown)
		err := s.httpServer.Shutdown(shutdownCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		return nil
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http: %w", err)
	}
}

// Close releases the server's storage handle.
func (s *Server) Close() error {
	if s == nil || s.store == nil {
		return nil
	}
	return s.store.Close()
}
