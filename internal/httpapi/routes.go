package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	apperrors "github.com/edgard/liveinbox/internal/errors"
	"github.com/edgard/liveinbox/internal/ingest"
	"github.com/edgard/liveinbox/internal/liveconnect"
	"github.com/edgard/liveinbox/internal/outbound"
)

func (s *Server) routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", s.handleHealth)

	mux.HandleFunc("GET /conversations", s.handleConversations)
	mux.HandleFunc("GET /messages/{conversationID}", s.handleMessages)

	mux.HandleFunc("POST /webhook/liveconnect", s.handleWebhook)

	mux.HandleFunc("POST /sendMessage", s.handleSendMessage)
	mux.HandleFunc("POST /sendQuickAnswer", s.handleSendQuickAnswer)
	mux.HandleFunc("POST /sendFile", s.handleSendFile)

	mux.HandleFunc("POST /setWebhook", s.handleSetWebhook)
	mux.HandleFunc("POST /config/setWebhook", s.handleSetWebhook)
	mux.HandleFunc("POST /getWebhook", s.handleGetWebhook)
	mux.HandleFunc("POST /config/getWebhook", s.handleGetWebhook)
	mux.HandleFunc("GET /balance", s.handleBalance)
	mux.HandleFunc("GET /config/balance", s.handleBalance)
	mux.HandleFunc("GET /channels", s.handleChannels)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Store.Ping(r.Context()); err != nil {
		s.logger.ErrorContext(r.Context(), "Health check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ok": false, "error": "database unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleConversations(w http.ResponseWriter, r *http.Request) {
	conversations, err := s.deps.Inbox.Conversations(r.Context())
	if err != nil {
		s.writeError(w, r, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, conversations)
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	messages, err := s.deps.Inbox.Messages(r.Context(), r.PathValue("conversationID"))
	if err != nil {
		s.writeError(w, r, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, messages)
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	var payload any
	if err := decodeBody(w, r, &payload); err != nil {
		s.logger.WarnContext(r.Context(), "Webhook body is not valid JSON", "error", err)
		payload = nil
	}

	result := s.deps.Ingest.Ingest(r.Context(), payload)
	writeJSON(w, ingestStatus(result), result)
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	if !s.outboundReady(w, r) {
		return
	}
	var req outbound.SendMessageRequest
	if !s.decodeRequest(w, r, &req) {
		return
	}
	resp, err := s.deps.Outbound.SendMessage(r.Context(), req)
	s.writeUpstream(w, r, resp, err)
}

func (s *Server) handleSendQuickAnswer(w http.ResponseWriter, r *http.Request) {
	if !s.outboundReady(w, r) {
		return
	}
	var req outbound.SendQuickAnswerRequest
	if !s.decodeRequest(w, r, &req) {
		return
	}
	resp, err := s.deps.Outbound.SendQuickAnswer(r.Context(), req)
	s.writeUpstream(w, r, resp, err)
}

func (s *Server) handleSendFile(w http.ResponseWriter, r *http.Request) {
	if !s.outboundReady(w, r) {
		return
	}
	var req outbound.SendFileRequest
	if !s.decodeRequest(w, r, &req) {
		return
	}
	resp, err := s.deps.Outbound.SendFile(r.Context(), req)
	s.writeUpstream(w, r, resp, err)
}

func (s *Server) handleSetWebhook(w http.ResponseWriter, r *http.Request) {
	if !s.outboundReady(w, r) {
		return
	}
	var body map[string]any
	if !s.decodeRequest(w, r, &body) {
		return
	}
	resp, err := s.deps.Outbound.SetWebhook(r.Context(), body)
	s.writeUpstream(w, r, resp, err)
}

func (s *Server) handleGetWebhook(w http.ResponseWriter, r *http.Request) {
	if !s.outboundReady(w, r) {
		return
	}
	var req outbound.GetWebhookRequest
	if !s.decodeRequest(w, r, &req) {
		return
	}
	resp, err := s.deps.Outbound.GetWebhook(r.Context(), req)
	s.writeUpstream(w, r, resp, err)
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	if !s.outboundReady(w, r) {
		return
	}
	resp, err := s.deps.Outbound.Balance(r.Context())
	s.writeUpstream(w, r, resp, err)
}

func (s *Server) handleChannels(w http.ResponseWriter, r *http.Request) {
	if !s.outboundReady(w, r) {
		return
	}
	filters := make(map[string]string)
	for key, values := range r.URL.Query() {
		if len(values) > 0 {
			filters[key] = values[0]
		}
	}
	resp, err := s.deps.Outbound.Channels(r.Context(), filters)
	s.writeUpstream(w, r, resp, err)
}

func (s *Server) outboundReady(w http.ResponseWriter, r *http.Request) bool {
	if s.deps.Outbound != nil {
		return true
	}
	s.logger.WarnContext(r.Context(), "Outbound route called without LiveConnect credentials", "path", r.URL.Path)
	writeJSON(w, http.StatusServiceUnavailable,
		liveconnect.Failure(http.StatusServiceUnavailable, "LiveConnect credentials are not configured"))
	return false
}

func (s *Server) decodeRequest(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := decodeBody(w, r, v); err != nil {
		s.logger.WarnContext(r.Context(), "Rejected malformed request body", "path", r.URL.Path, "error", err)
		writeJSON(w, http.StatusBadRequest, liveconnect.Failure(http.StatusBadRequest, "payload must be a JSON object"))
		return false
	}
	return true
}

// writeUpstream writes an outbound result. Upstream replies keep their status code.
func (s *Server) writeUpstream(w http.ResponseWriter, r *http.Request, resp liveconnect.Response, err error) {
	if err != nil {
		status := outbound.StatusFor(err)
		if status >= http.StatusInternalServerError {
			s.logger.ErrorContext(r.Context(), "Outbound call failed", "path", r.URL.Path, "error", err)
		}
		writeJSON(w, status, liveconnect.Failure(status, errorMessage(err)))
		return
	}

	status := resp.StatusCode()
	if status < 100 || status > 599 {
		status = http.StatusOK
	}
	writeJSON(w, status, resp)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	s.logger.ErrorContext(r.Context(), "Request failed", "path", r.URL.Path, "error", err)
	writeJSON(w, status, map[string]any{"ok": false, "code": apperrors.Code(err), "error": errorMessage(err)})
}

func ingestStatus(result ingest.Result) int {
	switch {
	case result.OK:
		return http.StatusOK
	case result.Code == apperrors.CodeInvalidPayload, result.Code == apperrors.CodeMissingConversationID:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// decodeBody decodes a single JSON value, keeping numbers as json.Number.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("unexpected data after JSON value")
	}
	return nil
}

func errorMessage(err error) string {
	var appErr interface{ Message() string }
	if errors.As(err, &appErr) {
		return appErr.Message()
	}
	return err.Error()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
