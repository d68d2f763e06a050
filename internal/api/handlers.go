package api

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/BTreeMap/SlotChat/internal/flow"
	"github.com/BTreeMap/SlotChat/internal/models"
	"github.com/BTreeMap/SlotChat/internal/util"
)

// maxChatBodyBytes bounds the POST /chat body.
const maxChatBodyBytes = 64 << 10

// exportTimeFormat is RFC 3339 with milliseconds.
const exportTimeFormat = "2006-01-02T15:04:05.000Z07:00"

func allowOnly(w http.ResponseWriter, r *http.Request, method, handler string) bool {
	if r.Method == method {
		return true
	}
	w.Header().Set("Allow", method)
	slog.Warn("Server."+handler+": method not allowed", "method", r.Method)
	writeJSONResponse(w, http.StatusMethodNotAllowed, models.ErrorWithCode(CodeBadRequest, "Method not allowed"))
	return false
}

func (s *Server) rootHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if !allowOnly(w, r, http.MethodGet, "rootHandler") {
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	io.WriteString(w, "API is running")
}

// chatHandler runs one turn. An absent session id starts a new session.
func (s *Server) chatHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	if !allowOnly(w, r, http.MethodPost, "chatHandler") {
		return
	}

	var req models.ChatRequest
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxChatBodyBytes))
	if err != nil {
		slog.Warn("Server.chatHandler: failed to read body", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.ErrorWithCode(CodeBadRequest, "Request body too large or unreadable"))
		return
	}
	if len(strings.TrimSpace(string(body))) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			slog.Warn("Server.chatHandler: failed to decode JSON", "error", err)
			writeJSONResponse(w, http.StatusBadRequest, models.ErrorWithCode(CodeBadRequest, "Invalid JSON format"))
			return
		}
	}
	q := r.URL.Query()
	if req.SessionID == "" {
		req.SessionID = strings.TrimSpace(q.Get("sessionId"))
	}
	if req.ConditionID == "" {
		req.ConditionID = strings.TrimSpace(q.Get("conditionId"))
	}
	if err := req.Validate(); err != nil {
		writeError(w, err)
		return
	}
	if req.SessionID == "" {
		req.SessionID = util.NewSessionID()
		slog.Debug("Server.chatHandler: new session id issued", "sessionID", req.SessionID)
	} else if !util.IsSessionID(req.SessionID) {
		writeJSONResponse(w, http.StatusBadRequest, models.ErrorWithCode(CodeBadRequest, "Invalid session id"))
		return
	}

	res, err := s.chat.Advance(r.Context(), flow.TurnRequest{
		SessionID:   req.SessionID,
		User:        req.User,
		ConditionID: req.ConditionID,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	slog.Info("Server.chatHandler: turn complete", "sessionID", res.SessionID, "condition", res.ConditionID, "done", res.Done)
	writeJSONResponse(w, http.StatusOK, res.Response())
}

func (s *Server) historyHandler(w http.ResponseWriter, r *http.Request) {
	if !allowOnly(w, r, http.MethodGet, "historyHandler") {
		return
	}
	sess, err := s.chat.Session(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.HistoryResponse{
		SessionID:   sess.ID,
		ConditionID: sess.ConditionID,
		Done:        sess.Done,
		Crisis:      sess.Crisis,
		History:     sess.History,
		Memory:      sess.Memory,
	})
}

// downloadHandler serves GET /download/{id}.txt as a plain-text attachment.
func (s *Server) downloadHandler(w http.ResponseWriter, r *http.Request) {
	if !allowOnly(w, r, http.MethodGet, "downloadHandler") {
		return
	}
	id, ok := strings.CutSuffix(r.PathValue("file"), ".txt")
	if !ok || id == "" {
		http.NotFound(w, r)
		return
	}
	sess, err := s.chat.Session(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	turns, err := s.chat.Turns(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="chat_history_%s.txt"`, sess.ID))
	if _, err := io.WriteString(w, renderTranscript(sess, turns)); err != nil {
		slog.Error("Server.downloadHandler: failed to write transcript", "error", err, "sessionID", sess.ID)
	}
}

// renderTranscript formats a session's turn log as human-readable text.
func renderTranscript(sess *models.Session, turns []models.Turn) string {
	var b strings.Builder
	fmt.Fprintf(&b, "sessionId: %s\n", sess.ID)
	fmt.Fprintf(&b, "conditionId: %s\n", sess.ConditionID)
	fmt.Fprintf(&b, "done: %t\n\n", sess.Done)
	for _, turn := range turns {
		fmt.Fprintf(&b, "[%s] %s", turn.Timestamp.UTC().Format(exportTimeFormat), strings.ToUpper(string(turn.Role)))
		if turn.SlotID != nil {
			fmt.Fprintf(&b, " (slot %d)", *turn.SlotID)
		}
		b.WriteString(":\n")
		b.WriteString(turn.Text)
		b.WriteString("\n\n")
	}
	return b.String()
}

func (s *Server) sessionsHandler(w http.ResponseWriter, r *http.Request) {
	if !allowOnly(w, r, http.MethodGet, "sessionsHandler") {
		return
	}
	sessions, err := s.chat.Sessions(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if sessions == nil {
		sessions = []models.SessionSummary{}
	}
	writeJSONResponse(w, http.StatusOK, models.Success(sessions))
}

func (s *Server) debugHandler(w http.ResponseWriter, r *http.Request) {
	if !allowOnly(w, r, http.MethodGet, "debugHandler") {
		return
	}
	writeJSONResponse(w, http.StatusOK, models.DebugInfo{
		Version: s.version,
		Pool:    s.chat.Table().Pool(),
	})
}

// withCORS sets Access-Control headers for allowed origins and answers
// preflight requests with 204.
func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if allowed := s.allowedOrigin(origin); allowed != "" {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", allowed)
			h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type")
			h.Set("Access-Control-Max-Age", "600")
			if allowed != "*" {
				h.Add("Vary", "Origin")
			}
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// allowedOrigin returns the Access-Control-Allow-Origin value for origin,
// or "" if it is not allowed.
func (s *Server) allowedOrigin(origin string) string {
	for _, o := range s.corsOrigins {
		switch {
		case o == "*":
			return "*"
		case origin == "":
			return ""
		case strings.EqualFold(o, origin):
			return origin
		case strings.HasPrefix(o, "*."):
			host := origin
			if i := strings.Index(host, "://"); i >= 0 {
				host = host[i+3:]
			}
			if strings.HasSuffix(strings.ToLower(host), strings.ToLower(o[1:])) {
				return origin
			}
		}
	}
	return ""
}
