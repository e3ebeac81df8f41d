// ABOUTME: Request handlers for the session, send, view and proxy endpoints
// ABOUTME: Maps the dispatch error taxonomy onto HTTP status codes

package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/zalokit/gateway/internal/dispatch"
	"github.com/zalokit/gateway/internal/store"
	"github.com/zalokit/gateway/internal/zalo"
)

func (s *Server) handleInit(w http.ResponseWriter, r *http.Request) {
	status, err := s.client.LoginInitiate(r.Context())
	if err != nil {
		s.logger.Error("login initiate failed", "error", err)
		s.sendJSON(w, http.StatusInternalServerError, map[string]any{
			"error":       err.Error(),
			"status":      zalo.StateLoggedOut,
			"qrCode":      nil,
			"isListening": false,
			"userId":      nil,
		})
		return
	}
	s.sendJSON(w, http.StatusOK, status)
}

type loginCookiesRequest struct {
	Cookies   []json.RawMessage `json:"cookies"`
	IMEI      string            `json:"imei"`
	UserAgent string            `json:"userAgent"`
}

func (s *Server) handleLoginCookies(w http.ResponseWriter, r *http.Request) {
	var req loginCookiesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(req.Cookies) == 0 {
		s.sendJSONError(w, http.StatusBadRequest, "cookies must be a non-empty array")
		return
	}
	if req.IMEI == "" || req.UserAgent == "" {
		s.sendJSONError(w, http.StatusBadRequest, "imei and userAgent are required")
		return
	}

	// The import talks to the platform and can take a while; it runs as
	// a tracked background task so the response stays immediate.
	taskID := s.runner.Submit("session-import", func(ctx context.Context) error {
		if err := s.client.ImportSession(ctx, req.IMEI, req.UserAgent, req.Cookies); err != nil {
			return err
		}
		status := s.client.GetStatus()
		if status.UserID != "" {
			return s.store.SaveSession(ctx, &store.Session{
				UserID:    status.UserID,
				LoginTime: time.Now().UTC(),
				IsActive:  true,
			})
		}
		return nil
	})

	s.sendJSON(w, http.StatusOK, map[string]any{
		"ok":      true,
		"message": "Login session is being initialized...",
		"taskId":  taskID,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, s.client.GetStatus())
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.client.Logout(r.Context()); err != nil {
		s.logger.Error("logout failed", "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := s.store.DeleteSession(r.Context()); err != nil {
		s.logger.Warn("session row cleanup failed", "error", err)
	}
	s.sendJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Logged out successfully",
	})
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	session, err := s.store.GetSession(r.Context())
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.sendJSON(w, http.StatusOK, map[string]any{"exists": false})
			return
		}
		s.logger.Error("session lookup failed", "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	s.sendJSON(w, http.StatusOK, map[string]any{
		"exists":    true,
		"userId":    session.UserID,
		"loginTime": session.LoginTime,
		"isActive":  session.IsActive,
	})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	status := s.client.GetStatus()
	s.sendJSON(w, http.StatusOK, map[string]any{
		"userId":      status.UserID,
		"status":      status.State,
		"isListening": status.Listening,
	})
}

func (s *Server) handleTask(w http.ResponseWriter, r *http.Request) {
	task, ok := s.runner.Get(mux.Vars(r)["taskId"])
	if !ok {
		s.sendJSONError(w, http.StatusNotFound, "task not found")
		return
	}
	body := map[string]any{
		"taskId": task.ID,
		"name":   task.Name,
		"state":  task.State,
	}
	if task.Error != "" {
		body["error"] = task.Error
	}
	s.sendJSON(w, http.StatusOK, body)
}

type sendRequest struct {
	ConversationID string `json:"conversationId"`
	Message        string `json:"message"`
	Content        string `json:"content"`
	ClientID       string `json:"clientId"`
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	content := req.Message
	if content == "" {
		content = req.Content
	}

	result, err := s.dispatcher.Send(r.Context(), dispatch.SendRequest{
		ConversationID: req.ConversationID,
		Content:        content,
		ClientID:       req.ClientID,
	})
	if err != nil {
		s.writeSendError(w, err)
		return
	}

	body := map[string]any{
		"success":        true,
		"id":             result.MessageID,
		"messageId":      result.MessageID,
		"clientId":       result.ClientID,
		"conversationId": result.ConversationID,
		"content":        result.Content,
		"threadId":       result.ThreadID,
		"timestamp":      result.SentAt,
		"sender":         result.Sender,
	}
	if result.AlreadyProcessed {
		body["message"] = "Message already processed"
	}
	s.sendJSON(w, http.StatusOK, body)
}

// writeSendError maps the dispatch error taxonomy to response codes. A
// persistence failure after dispatch is 207: the message left the
// gateway and the body carries its ID so the caller does not resend.
func (s *Server) writeSendError(w http.ResponseWriter, err error) {
	var persistErr *dispatch.PersistenceError
	var dispatchErr *dispatch.DispatchError

	switch {
	case errors.Is(err, dispatch.ErrValidation),
		errors.Is(err, dispatch.ErrUnresolvableThread),
		errors.Is(err, dispatch.ErrInvalidRecipient):
		s.sendJSONError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, dispatch.ErrConversationNotFound):
		s.sendJSONError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, dispatch.ErrNotConnected):
		s.sendJSON(w, http.StatusServiceUnavailable, map[string]any{
			"error":  err.Error(),
			"status": s.client.GetStatus().State,
		})
	case errors.As(err, &persistErr):
		s.logger.Error("send persisted nothing", "message_id", persistErr.MessageID, "error", err)
		s.sendJSON(w, http.StatusMultiStatus, map[string]any{
			"error":     "message sent but not saved locally",
			"messageId": persistErr.MessageID,
		})
	case errors.As(err, &dispatchErr):
		s.logger.Error("dispatch failed", "thread_id", dispatchErr.ThreadID, "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, err.Error())
	default:
		s.logger.Error("send failed", "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
	}
}

func (s *Server) handleConversations(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r, 100)
	views, err := s.views.Conversations(r.Context(), limit)
	if err != nil {
		s.logger.Error("conversation list failed", "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	s.sendJSON(w, http.StatusOK, map[string]any{"data": views})
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	conversationID := mux.Vars(r)["conversationId"]
	limit := parseLimit(r, 200)
	views, err := s.views.Messages(r.Context(), conversationID, limit)
	if err != nil {
		s.logger.Error("message list failed", "conversation_id", conversationID, "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	s.sendJSON(w, http.StatusOK, map[string]any{"data": views})
}

// handleAvatarProxy fetches an avatar from the platform CDN on the
// client's behalf. Only allow-listed prefixes are fetched; the upstream
// status and content type are mirrored.
func (s *Server) handleAvatarProxy(w http.ResponseWriter, r *http.Request) {
	target := r.URL.Query().Get("url")
	if target == "" {
		s.sendJSONError(w, http.StatusBadRequest, "url query param is required")
		return
	}
	if !s.allowedAvatarURL(target) {
		s.sendJSONError(w, http.StatusForbidden, "url is not an allowed avatar host")
		return
	}

	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, target, nil)
	if err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "invalid url")
		return
	}
	resp, err := s.proxy.Do(req)
	if err != nil {
		s.logger.Warn("avatar fetch failed", "url", target, "error", err)
		s.sendJSONError(w, http.StatusBadGateway, "upstream fetch failed")
		return
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.Header().Set("Cache-Control", "public, max-age=86400")
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		s.logger.Warn("avatar copy interrupted", "url", target, "error", err)
	}
}

func (s *Server) allowedAvatarURL(target string) bool {
	for _, prefix := range s.cfg.AvatarCDNPrefixes {
		if strings.HasPrefix(target, prefix) {
			return true
		}
	}
	return false
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func parseLimit(r *http.Request, def int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return def
	}
	return limit
}
