// Package server exposes solver sessions over websockets. Each connection
// owns one session.Instance.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gorilla/websocket"

	"github.com/lawnchairsociety/wavefront/internal/config"
	"github.com/lawnchairsociety/wavefront/internal/logger"
)

const maxListLimit = 500

type Server struct {
	cfg              *config.ServerConfig
	registry         Registry
	connLimiter      *ConnLimiter
	constructLimiter *ConstructLimiter
	httpServer       *http.Server

	mu           sync.Mutex
	clients      map[Client]struct{}
	wg           sync.WaitGroup
	shutdown     chan struct{}
	shutdownOnce sync.Once
	StartTime    time.Time
}

// NewServer creates a server. registry may be nil, in which case sessions
// are not recorded and the sessions API answers 503.
func NewServer(cfg *config.ServerConfig, registry Registry) *Server {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	s := &Server{
		cfg:              cfg,
		registry:         registry,
		connLimiter:      NewConnLimiter(cfg.Connections),
		constructLimiter: NewConstructLimiter(cfg.RateLimit),
		clients:          make(map[Client]struct{}),
		shutdown:         make(chan struct{}),
		StartTime:        time.Now(),
	}
	s.httpServer = &http.Server{
		Addr:              cfg.Listen.Address,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the HTTP routes: /ws, /healthz and /api/v1/sessions.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocketUpgrade)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /api/v1/sessions", s.handleListSessions)
	return mux
}

// Start listens on the configured address and serves until Shutdown.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.cfg.Listen.Address)
	if err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return s.Serve(listener)
}

// Serve serves on an existing listener until Shutdown.
func (s *Server) Serve(listener net.Listener) error {
	logger.Info("Server listening", "address", listener.Addr().String())

	err := s.httpServer.Serve(listener)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// handleWebSocketUpgrade upgrades an HTTP connection to WebSocket.
func (s *Server) handleWebSocketUpgrade(w http.ResponseWriter, r *http.Request) {
	select {
	case <-s.shutdown:
		http.Error(w, "Server is shutting down.", http.StatusServiceUnavailable)
		return
	default:
	}

	// Supports X-Forwarded-For from reverse proxies
	clientIP := getRealIP(r)

	if locked, d := s.constructLimiter.IsLocked(clientIP); locked {
		logger.Warning("WebSocket connection rejected - locked out",
			"remote_addr", r.RemoteAddr,
			"client_ip", clientIP,
			"remaining", d)
		http.Error(w, "Too many rejected payloads. Please try again later.", http.StatusTooManyRequests)
		return
	}

	if !s.connLimiter.TryAcquire(clientIP) {
		logger.Warning("WebSocket connection rejected - limit exceeded",
			"remote_addr", r.RemoteAddr,
			"client_ip", clientIP)
		http.Error(w, "Too many connections. Please try again later.", http.StatusTooManyRequests)
		return
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			allowed := s.cfg.WebSocket.IsOriginAllowed(origin, r.Host)
			if !allowed {
				logger.Warning("WebSocket connection rejected - origin not allowed",
					"origin", origin,
					"host", r.Host,
					"remote_addr", r.RemoteAddr)
			}
			return allowed
		},
	}

	wsConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error
		logger.Debug("WebSocket upgrade failed", "remote_addr", r.RemoteAddr, "error", err)
		s.connLimiter.Release(clientIP)
		return
	}

	client := NewWebSocketClient(wsConn, s.cfg.WebSocket.MaxMessageSize)
	if !s.track(client) {
		client.Close()
		s.connLimiter.Release(clientIP)
		return
	}

	go func() {
		defer s.wg.Done()
		defer func() {
			s.untrack(client)
			s.connLimiter.Release(clientIP)
			client.Close()
		}()
		s.handleClient(client, clientIP)
	}()
}

// track registers a live client. It fails once shutdown has begun.
func (s *Server) track(c Client) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case <-s.shutdown:
		return false
	default:
	}
	s.clients[c] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *Server) untrack(c Client) {
	s.mu.Lock()
	delete(s.clients, c)
	s.mu.Unlock()
}

// ActiveSessions returns the number of connected clients.
func (s *Server) ActiveSessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// getRealIP returns the client IP, preferring X-Forwarded-For and X-Real-IP
// over the socket address.
func getRealIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		// "client, proxy1, proxy2"
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}

	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}

	return extractIP(r.RemoteAddr)
}

type healthResponse struct {
	Status      string `json:"status"`
	Started     string `json:"started"`
	Uptime      int64  `json:"uptime_seconds"`
	Sessions    int    `json:"sessions"`
	Connections int    `json:"connections"`
	IPs         int    `json:"ips"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	total, ips := s.connLimiter.Stats()
	writeJSON(w, http.StatusOK, healthResponse{
		Status:      "ok",
		Started:     humanize.Time(s.StartTime),
		Uptime:      int64(time.Since(s.StartTime).Seconds()),
		Sessions:    s.ActiveSessions(),
		Connections: total,
		IPs:         ips,
	})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	if s.registry == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "registry disabled"})
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
			return
		}
		limit = min(n, maxListLimit)
	}

	sessions, err := s.registry.ListSessions(r.Context(), limit)
	if err != nil {
		logger.Error("Failed to list sessions", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "registry unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("Failed to write JSON response", "error", err)
	}
}

// Shutdown stops accepting connections, closes every live session and waits
// for their handlers to finish or for ctx to expire. Safe to call more than once.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		s.mu.Lock()
		close(s.shutdown)
		clients := make([]Client, 0, len(s.clients))
		for c := range s.clients {
			clients = append(clients, c)
		}
		s.mu.Unlock()

		err = s.httpServer.Shutdown(ctx)
		s.constructLimiter.Stop()

		// Hijacked websocket connections are not tracked by http.Server
		for _, c := range clients {
			c.Close()
		}

		done := make(chan struct{})
		go func() {
			s.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			err = errors.Join(err, ctx.Err())
		}

		logger.Info("Server shutdown complete", "sessions_closed", len(clients))
	})
	return err
}
