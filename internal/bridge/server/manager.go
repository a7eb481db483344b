package server

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/k-laboratory/rovlink/internal/bridge/server/http"
	"github.com/k-laboratory/rovlink/pkg/log"
	"github.com/k-laboratory/rovlink/pkg/options"
)

// Server defines the common interface for all protocol servers.
type Server interface {
	Start(ctx context.Context) error
}

// Manager manages the lifecycle of all protocol servers.
type Manager struct {
	servers []Server
}

// NewManager creates a new server manager and initializes all sub-servers.
func NewManager(httpOpts *options.HttpOptions, cmdOpts *options.CommandOptions, backend http.Backend) *Manager {
	return &Manager{
		servers: []Server{
			http.NewServer(httpOpts, cmdOpts, backend),
		},
	}
}

// Start launches all servers in parallel and waits for termination.
func (m *Manager) Start(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for _, s := range m.servers {
		srv := s
		g.Go(func() error {
			return srv.Start(ctx)
		})
	}

	log.Info("All servers starting...")
	return g.Wait()
}
