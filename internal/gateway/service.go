package gateway

import (
	"context"
	"net/http"

	"github.com/rs/zerolog/log"
)

// Service bundles the gateway: connection manager, session layer and HTTP
// handler. Construct one per process with the room store it should relay
// into.
type Service struct {
	connectionManager *ConnectionManager
	session           *Session
	handler           *Handler
}

// NewService creates a gateway service around a room store.
func NewService(config ConnectionConfig, store RoomStore) *Service {
	connectionManager := NewConnectionManager(config)
	session := NewSession(store, connectionManager)
	handler := NewHandler(connectionManager, store)

	return &Service{
		connectionManager: connectionManager,
		session:           session,
		handler:           handler,
	}
}

// Start runs the broadcast fan-out loop until ctx is cancelled.
func (s *Service) Start(ctx context.Context) {
	s.connectionManager.Start(ctx)
}

// PollExpired is the scheduler's entry point for deadline transitions.
func (s *Service) PollExpired(roomID string) {
	s.session.PollExpired(roomID)
}

// RegisterRoutes registers the gateway HTTP routes.
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	s.handler.RegisterRoutes(mux)
	log.Info().Msg("gateway routes registered")
}
