package stream

import (
	"context"
	"sync"

	"ml-server/internal/metrics"
	"ml-server/internal/shared"

	"github.com/aidarkhanov/nanoid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Hub tracks live sessions so they can be counted and closed on shutdown.
// It holds no per session state used by the dispatcher.
type Hub struct {
	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool
	log      *zap.SugaredLogger
}

func NewHub(log *zap.SugaredLogger) *Hub {
	return &Hub{
		sessions: map[string]*Session{},
		log:      log,
	}
}

// Serve runs a session for conn until it ends
func (h *Hub) Serve(ctx context.Context, conn *websocket.Conn, d Dispatcher, cfg Config) error {
	id, err := nanoid.Generate(shared.RequestIDAlphabet, shared.ConnectionIDLength)
	if err != nil {
		_ = conn.Close()
		return err
	}
	s := NewSession("conn_"+id, conn, d, h.log, cfg)
	if !h.add(s) {
		_ = conn.Close()
		return nil
	}
	defer h.remove(s)

	s.log.Infow("Stream connection established", "remote_addr", conn.RemoteAddr().String(), "admin", cfg.Admin)
	err = s.Run(ctx)
	if err != nil {
		s.log.Warnw("Stream connection closed with error", "error", err)
	} else {
		s.log.Infow("Stream connection closed")
	}
	return err
}

func (h *Hub) add(s *Session) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.sessions[s.ID] = s
	metrics.ActiveConnections.Inc()
	return true
}

func (h *Hub) remove(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.sessions[s.ID]; ok {
		delete(h.sessions, s.ID)
		metrics.ActiveConnections.Dec()
	}
}

func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// Shutdown closes every session and refuses new ones
func (h *Hub) Shutdown() {
	h.mu.Lock()
	h.closed = true
	sessions := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mu.Unlock()

	h.log.Infow("Closing stream connections", "count", len(sessions))
	for _, s := range sessions {
		s.Close()
	}
}
