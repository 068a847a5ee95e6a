// Package server is the composition root: it wires the chunk store, session
// registry, socket hub, sweeper, and HTTP plane together and owns their
// lifecycle.
package server

import (
	"context"
	"fmt"
	"sync"

	"github.com/jsbattig/share-things-sub004/internal/logger"
	"github.com/jsbattig/share-things-sub004/pkg/api"
	"github.com/jsbattig/share-things-sub004/pkg/config"
	"github.com/jsbattig/share-things-sub004/pkg/hub"
	"github.com/jsbattig/share-things-sub004/pkg/session"
	"github.com/jsbattig/share-things-sub004/pkg/store/badger"
	"github.com/jsbattig/share-things-sub004/pkg/sweeper"
)

// Server holds the wired components of a running hub instance.
type Server struct {
	config *config.Config

	store    *badger.Store
	registry *session.Registry
	hub      *hub.Hub
	sweeper  *sweeper.Sweeper
	httpSrv  *api.Server
}

// New builds a Server from configuration. The chunk store is opened (and
// recovered) here; everything else is cheap wiring.
func New(ctx context.Context, cfg *config.Config) (*Server, error) {
	chunks, err := badger.New(ctx, badger.Options{
		Path:     cfg.Storage.Path,
		InMemory: cfg.Storage.InMemory,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open chunk store: %w", err)
	}

	tokens, err := session.NewTokenService(session.TokenConfig{
		Secret: cfg.Session.GetTokenSecret(),
		TTL:    cfg.Session.TokenTTL,
	})
	if err != nil {
		chunks.Close()
		return nil, fmt.Errorf("failed to create token service: %w", err)
	}

	registry := session.NewRegistry(tokens, chunks)
	h := hub.New(registry, chunks, hub.Config{SendLimit: cfg.Hub.MaxItemsToSend})
	sw := sweeper.New(registry, chunks, h, cfg.Sweeper)
	httpSrv := api.NewServer(cfg.Server, registry, chunks, h)

	return &Server{
		config:   cfg,
		store:    chunks,
		registry: registry,
		hub:      h,
		sweeper:  sw,
		httpSrv:  httpSrv,
	}, nil
}

// Run serves until the context is cancelled, then shuts down gracefully and
// closes the store.
func (s *Server) Run(ctx context.Context) error {
	logger.Info("ShareThings server starting",
		"storage_path", s.config.Storage.Path,
		"port", s.httpSrv.Port(),
		"cleanup_interval", s.config.Sweeper.Interval.String())

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.sweeper.Run(runCtx)
	}()

	err := s.httpSrv.Start(runCtx)

	// The HTTP plane is down; stop the sweeper and flush storage.
	cancel()
	wg.Wait()

	if closeErr := s.store.Close(); closeErr != nil {
		logger.Error("Chunk store close failed", "error", closeErr)
		if err == nil {
			err = closeErr
		}
	}

	logger.Info("ShareThings server stopped")
	return err
}

// Registry exposes the session registry, mainly for tests and tooling.
func (s *Server) Registry() *session.Registry {
	return s.registry
}
