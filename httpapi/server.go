package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"pkt.systems/sitesmith/core"
	"pkt.systems/sitesmith/internal/eventhub"
	"pkt.systems/sitesmith/internal/logx"
	"pkt.systems/sitesmith/schema"
)

// Server serves the HTTP API and the observer WebSocket.
type Server struct {
	cfg     Config
	service core.Service
	hub     *eventhub.Hub
}

// NewServer constructs an HTTP server.
func NewServer(cfg Config, service core.Service, hub *eventhub.Hub) *Server {
	return &Server{
		cfg:     cfg,
		service: service,
		hub:     hub,
	}
}

// Handler returns an http.Handler for the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleRoot)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/chat", s.handleChat)
	mux.HandleFunc("/api/sessions", s.handleSessions)
	mux.HandleFunc("/api/sessions/", s.handleSessionByID)
	mux.HandleFunc("/ws/", s.handleWebsocket)
	return withRequestLogging(withCORS(mux))
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		writeError(w, http.StatusNotFound, errors.New("not found"))
		return
	}
	s.handleHealth(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
		return
	}
	records, err := s.service.ListSessions(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"service":  "sitesmith",
		"status":   "ok",
		"sessions": len(records),
	})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
		return
	}
	var req schema.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, schema.ErrInvalidRequest)
		return
	}

	if req.SessionID == "" {
		record, err := s.service.CreateSession(r.Context(), req.Message)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		logx.WithSession(r.Context(), record.ID).Info("session created")
		writeJSON(w, http.StatusOK, schema.ChatResponse{
			SessionID:    record.ID,
			Status:       record.Status,
			PreviewURL:   record.PreviewURL,
			WebsocketURL: record.WebsocketURL,
		})
		return
	}

	if err := s.service.Submit(r.Context(), req.SessionID, req.Message); err != nil {
		writeServiceError(w, err)
		return
	}
	record, err := s.service.GetSession(r.Context(), req.SessionID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, schema.ChatResponse{
		SessionID:    record.ID,
		Status:       record.Status,
		PreviewURL:   record.PreviewURL,
		WebsocketURL: record.WebsocketURL,
		Queued:       true,
	})
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
		return
	}
	records, err := s.service.ListSessions(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": records,
		"count":    len(records),
	})
}

func (s *Server) handleSessionByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/sessions/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		writeError(w, http.StatusNotFound, schema.ErrSessionNotFound)
		return
	}
	id := schema.SessionID(parts[0])

	if len(parts) == 2 && parts[1] == "health" {
		s.handleSessionHealth(w, r, id)
		return
	}
	if len(parts) != 1 {
		writeError(w, http.StatusNotFound, errors.New("not found"))
		return
	}

	switch r.Method {
	case http.MethodGet:
		record, err := s.service.GetSession(r.Context(), id)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, record)
	case http.MethodDelete:
		if err := s.service.DeleteSession(r.Context(), id); err != nil {
			writeServiceError(w, err)
			return
		}
		s.hub.Drop(id)
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	default:
		writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
	}
}

func (s *Server) handleSessionHealth(w http.ResponseWriter, r *http.Request, id schema.SessionID) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
		return
	}
	record, err := s.service.GetSession(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	stats := s.hub.SessionStats(id)
	writeJSON(w, http.StatusOK, schema.SessionHealth{
		SessionID:          id,
		Status:             record.Status,
		ConnectedObservers: stats.Subscribers,
		BufferedEvents:     stats.BufferedEvents,
		QueuedPrompts:      s.service.QueueDepth(id),
	})
}

func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, schema.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, schema.ErrEmptyPrompt), errors.Is(err, schema.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, schema.ErrSessionClosed):
		writeError(w, http.StatusConflict, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	data, _ := json.Marshal(payload)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{"error": err.Error()})
}
