// Package ingest validates inbound webhook events and persists them as canonical messages.
package ingest

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/edgard/liveinbox/internal/database"
	apperrors "github.com/edgard/liveinbox/internal/errors"
	"github.com/edgard/liveinbox/internal/inbound"
	"github.com/edgard/liveinbox/internal/logger"
)

// Result statuses.
const (
	StatusOK      = "ok"
	StatusIgnored = "ignored"
	StatusError   = "error"
)

// WarningEmptyMessage is reported when an event carries nothing worth storing.
const WarningEmptyMessage = "empty message ignored"

// Result is the outcome of one Ingest call. It is always returned, never an error.
type Result struct {
	Status  string `json:"status"`
	OK      bool   `json:"ok"`
	Code    string `json:"code,omitempty"`
	Error   string `json:"error,omitempty"`
	Warning string `json:"warning,omitempty"`
}

// Service turns webhook events into stored messages.
type Service struct {
	store  database.Store
	logger *slog.Logger
}

// NewService creates an ingestion service writing through store.
func NewService(store database.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Service{
		store:  store,
		logger: logger.With("component", "ingest"),
	}
}

// Ingest validates payload, normalizes it and saves at most one message.
func (s *Service) Ingest(ctx context.Context, payload any) Result {
	ev, ok := asEvent(payload)
	if !ok {
		s.logger.WarnContext(ctx, "Rejected webhook payload that is not a JSON object")
		return failure(apperrors.NewInvalidPayloadError("payload must be a JSON object"))
	}

	if inbound.Stringify(ev["id_conversacion"]) == "" {
		s.logger.WarnContext(ctx, "Rejected webhook payload without id_conversacion")
		return failure(apperrors.NewMissingConversationIDError("id_conversacion is required"))
	}

	c := inbound.Normalize(ev)
	if c.Text == "" {
		s.logger.DebugContext(ctx, "Ignoring empty inbound message", "conversation_id", c.ConversationID)
		return Result{Status: StatusIgnored, OK: true, Warning: WarningEmptyMessage}
	}

	msg := database.NewMessage{
		ConversationID: c.ConversationID,
		Channel:        c.Channel,
		Sender:         database.SenderUser,
		Text:           c.Text,
		ContactName:    c.ContactName,
		MessageType:    c.Type,
	}
	if c.File != nil {
		msg.FileURL = c.File.URL
		msg.FileName = c.File.Name
		msg.FileExt = c.File.Ext
	}
	if c.Metadata != nil {
		msg.Metadata = c.Metadata
	}

	saved, err := s.store.SaveMessage(ctx, msg)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to persist inbound message",
			"conversation_id", c.ConversationID, "error", err)
		return failure(err)
	}
	if !saved {
		return Result{Status: StatusIgnored, OK: true, Warning: WarningEmptyMessage}
	}

	s.logger.InfoContext(ctx, "Inbound message stored",
		"conversation_id", c.ConversationID,
		"channel", c.Channel,
		"message_type", string(c.Type),
		"text_preview", logger.Preview(c.Text))
	return Result{Status: StatusOK, OK: true}
}

func asEvent(payload any) (inbound.Event, bool) {
	switch p := payload.(type) {
	case inbound.Event:
		return p, p != nil
	case map[string]any:
		return inbound.Event(p), p != nil
	default:
		return nil, false
	}
}

func failure(err error) Result {
	code := apperrors.Code(err)
	if code == apperrors.CodeUnknown {
		code = apperrors.CodeStorage
	}
	msg := err.Error()
	var appErr interface{ Message() string }
	if errors.As(err, &appErr) {
		msg = appErr.Message()
	}
	return Result{Status: StatusError, OK: false, Code: code, Error: msg}
}
