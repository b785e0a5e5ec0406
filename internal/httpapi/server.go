// internal/httpapi/server.go
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/user/botstream/internal/intent"
	"github.com/user/botstream/internal/outbound"
	"github.com/user/botstream/internal/render"
	"github.com/user/botstream/internal/session"
	"github.com/user/botstream/internal/stream"
	"github.com/user/botstream/internal/transcript"
	"github.com/user/botstream/internal/types"
)

// Client is the slice of the engine the API exposes.
type Client interface {
	Session() *session.Session
	Transcripts() *transcript.Store
	Mode() intent.Mode
	State() stream.State
	Send(ctx context.Context, text string) (*outbound.Result, error)
}

// Server is a local HTTP API for inspecting and driving one client session.
type Server struct {
	client   Client
	journal  types.Journal
	renderer *render.Renderer
	mux      *http.ServeMux
}

// NewServer creates a Server. journal and renderer may be nil.
func NewServer(client Client, journal types.Journal, renderer *render.Renderer) *Server {
	s := &Server{
		client:   client,
		journal:  journal,
		renderer: renderer,
		mux:      http.NewServeMux(),
	}
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/session", s.handleSession)
	s.mux.HandleFunc("GET /api/mode", s.handleMode)
	s.mux.HandleFunc("GET /api/transcripts", s.handleTranscripts)
	s.mux.HandleFunc("GET /api/transcripts/{id}", s.handleTranscript)
	s.mux.HandleFunc("GET /api/events", s.handleEvents)
	s.mux.HandleFunc("POST /api/messages", s.handleSend)
	return s
}

// ServeHTTP delegates to the internal mux, implementing http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type sessionResponse struct {
	SessionID string `json:"session_id"`
	State     string `json:"state"`
	Mode      string `json:"mode"`
	Fetched   bool   `json:"fetched"`
	Messages  int    `json:"messages"`
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	sess := s.client.Session()
	writeJSON(w, http.StatusOK, sessionResponse{
		SessionID: string(sess.ID()),
		State:     s.client.State().String(),
		Mode:      s.client.Mode().String(),
		Fetched:   sess.Fetched(),
		Messages:  s.client.Transcripts().Len(),
	})
}

func (s *Server) handleMode(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"mode": s.client.Mode().String()})
}

type transcriptResponse struct {
	MessageID string   `json:"message_id"`
	State     string   `json:"state"`
	Fragments []string `json:"fragments"`
	Text      string   `json:"text"`
	Markdown  string   `json:"markdown,omitempty"`
	Tokens    int      `json:"tokens,omitempty"`
}

func (s *Server) transcript(id types.MessageID, entry transcript.Entry) transcriptResponse {
	resp := transcriptResponse{
		MessageID: string(id),
		State:     entry.State.String(),
		Fragments: entry.Fragments,
		Text:      entry.Text(),
	}
	if s.renderer != nil && entry.State == transcript.Ready {
		msg, err := s.renderer.Render(resp.Text)
		if err != nil {
			slog.Warn("render transcript failed", "message_id", id, "error", err)
		} else {
			resp.Markdown = msg.Text
			resp.Tokens = msg.Tokens
		}
	}
	return resp
}

func (s *Server) handleTranscripts(w http.ResponseWriter, r *http.Request) {
	store := s.client.Transcripts()
	ids := store.IDs()
	result := make([]transcriptResponse, 0, len(ids))
	for _, id := range ids {
		result = append(result, s.transcript(id, store.Get(id)))
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	id := types.MessageID(r.PathValue("id"))
	entry := s.client.Transcripts().Get(id)
	if entry.State == transcript.Loading {
		writeError(w, http.StatusNotFound, "message not found")
		return
	}
	writeJSON(w, http.StatusOK, s.transcript(id, entry))
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeError(w, http.StatusServiceUnavailable, "journal not enabled")
		return
	}

	limit := 200
	if q := r.URL.Query().Get("limit"); q != "" {
		if n, err := strconv.Atoi(q); err == nil && n > 0 {
			limit = n
		}
	}

	sessionID := s.client.Session().ID()
	records, err := s.journal.Tail(r.Context(), sessionID, limit)
	if err != nil {
		slog.Error("tail journal failed", "session_id", sessionID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if records == nil {
		records = []*types.Record{}
	}
	writeJSON(w, http.StatusOK, records)
}

type sendRequest struct {
	Text string `json:"text"`
}

type sendResponse struct {
	ID         string    `json:"id"`
	StatusCode int       `json:"status_code"`
	SentAt     time.Time `json:"sent_at"`
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	res, err := s.client.Send(r.Context(), req.Text)
	if err != nil {
		var netErr *outbound.NetworkError
		switch {
		case errors.Is(err, outbound.ErrEmptyMessage):
			writeError(w, http.StatusBadRequest, "text is required")
		case errors.As(err, &netErr):
			slog.Warn("send failed", "error", err)
			writeError(w, http.StatusBadGateway, netErr.Error())
		default:
			slog.Error("send failed", "error", err)
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	writeJSON(w, http.StatusAccepted, sendResponse{
		ID:         string(res.ID),
		StatusCode: res.StatusCode,
		SentAt:     res.SentAt,
	})
}
