// Package httpapi exposes the observer and operator surface over HTTP: start
// a root run, watch the live tree, answer blocking questions and intervene.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/antoniostano/delphi/internal/config"
	"github.com/antoniostano/delphi/internal/observability"
	"github.com/antoniostano/delphi/internal/operator"
	"github.com/antoniostano/delphi/internal/runtime"
)

type Server struct {
	cfg      config.Config
	service  *runtime.Service
	exchange *operator.Exchange
	upgrader websocket.Upgrader
}

func New(cfg config.Config, service *runtime.Service, exchange *operator.Exchange) *Server {
	return &Server{
		cfg:      cfg,
		service:  service,
		exchange: exchange,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only same-origin browser connections unless the deployment
				// explicitly opens the tree stream up.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Post("/v1/agents", s.handleStartRoot)
	r.Get("/v1/agents/tree", s.handleSnapshotTree)
	r.Get("/v1/agents/recent", s.handleListRecent)
	r.Get("/v1/agents/ws", s.handleEventsWS)
	r.Get("/v1/agents/{id}", s.handleGetAgent)
	r.Get("/v1/agents/{id}/result", s.handleGetResult)
	r.Post("/v1/agents/{id}/intervene", s.handleIntervene)
	r.Post("/v1/agents/{id}/cancel", s.handleCancel)
	r.Get("/v1/questions", s.handleListQuestions)
	r.Post("/v1/questions/{id}/answer", s.handleAnswerQuestion)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":      "ready",
		"live_agents": len(s.service.SnapshotTree()),
	})
}

func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// The backlog is captured before subscribing so a replayed event can never
	// arrive a second time through the subscription. An event published in
	// between is lost to this observer, which beats showing it twice.
	backlog := s.service.Events(64)
	events, unsubscribe := s.service.Subscribe()
	defer unsubscribe()

	for _, evt := range backlog {
		_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := conn.WriteJSON(evt); err != nil {
			return
		}
	}

	go func() {
		// Reads only to notice the peer going away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(evt); err != nil {
				return
			}
		}
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
