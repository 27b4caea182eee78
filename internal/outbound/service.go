// Package outbound sends agent messages through the LiveConnect proxy and records
// them locally once the upstream accepts them.
package outbound

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/edgard/liveinbox/internal/database"
	apperrors "github.com/edgard/liveinbox/internal/errors"
	"github.com/edgard/liveinbox/internal/liveconnect"
)

// DefaultChannel is recorded for outbound messages sent without a channel.
const DefaultChannel = "proxy"

const quickAnswerPrefix = "[QuickAnswer] id_respuesta="

// Upstream is the subset of the LiveConnect client the service calls.
type Upstream interface {
	SendMessage(ctx context.Context, conversationID, message string) (liveconnect.Response, error)
	SendQuickAnswer(ctx context.Context, conversationID string, answerID int64, variables map[string]any) (liveconnect.Response, error)
	SendFile(ctx context.Context, conversationID, fileURL, name, ext string) (liveconnect.Response, error)
	SetWebhook(ctx context.Context, body any) (liveconnect.Response, error)
	GetWebhook(ctx context.Context, channelID string) (liveconnect.Response, error)
	Balance(ctx context.Context) (liveconnect.Response, error)
	Channels(ctx context.Context, filters url.Values) (liveconnect.Response, error)
}

// Service runs outbound operations.
type Service struct {
	upstream Upstream
	store    database.Store
	validate *validator.Validate
	logger   *slog.Logger
}

// NewService creates an outbound service.
func NewService(upstream Upstream, store database.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	validate := validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return &Service{
		upstream: upstream,
		store:    store,
		validate: validate,
		logger:   logger.With("component", "outbound"),
	}
}

// SendMessage sends a text message and records it as an agent message.
func (s *Service) SendMessage(ctx context.Context, req SendMessageRequest) (liveconnect.Response, error) {
	req.normalize()
	if err := s.check(req); err != nil {
		return nil, err
	}

	resp, err := s.upstream.SendMessage(ctx, req.ConversationID.String(), req.Message.String())
	if err != nil {
		return nil, err
	}

	if resp.OK() {
		s.record(ctx, resp, "message", database.NewMessage{
			ConversationID: req.ConversationID.String(),
			Channel:        channelOrDefault(req.Channel),
			Sender:         database.SenderAgent,
			Text:           req.Message.String(),
			MessageType:    database.MessageTypeText,
		})
	}
	return resp, nil
}

// SendQuickAnswer sends a stored quick answer and records a placeholder message.
func (s *Service) SendQuickAnswer(ctx context.Context, req SendQuickAnswerRequest) (liveconnect.Response, error) {
	req.normalize()
	if err := s.check(req); err != nil {
		return nil, err
	}
	answerID, ok := req.answerID()
	if !ok {
		return nil, apperrors.NewValidationError("id_respuesta must be numeric", nil)
	}
	variables, ok := req.variables()
	if !ok {
		return nil, apperrors.NewValidationError("variables must be a JSON object", nil)
	}

	resp, err := s.upstream.SendQuickAnswer(ctx, req.ConversationID.String(), answerID, variables)
	if err != nil {
		return nil, err
	}

	if resp.OK() {
		s.record(ctx, resp, "quick answer", database.NewMessage{
			ConversationID: req.ConversationID.String(),
			Channel:        channelOrDefault(req.Channel),
			Sender:         database.SenderAgent,
			Text:           quickAnswerPrefix + strconv.FormatInt(answerID, 10),
			MessageType:    database.MessageTypeStructured,
			Metadata:       map[string]any{"id_respuesta": answerID, "variables": variables},
		})
	}
	return resp, nil
}

// SendFile sends a file link and records it as a file message.
func (s *Service) SendFile(ctx context.Context, req SendFileRequest) (liveconnect.Response, error) {
	req.normalize()
	if err := s.check(req); err != nil {
		return nil, err
	}

	ext := req.Extension.String()
	resp, err := s.upstream.SendFile(ctx, req.ConversationID.String(), req.URL.String(), req.Name.String(), ext)
	if err != nil {
		return nil, err
	}

	if resp.OK() {
		name := fileNameWithExt(req.Name.String(), ext)
		s.record(ctx, resp, "file", database.NewMessage{
			ConversationID: req.ConversationID.String(),
			Channel:        channelOrDefault(req.Channel),
			Sender:         database.SenderAgent,
			Text:           "[File] " + name,
			MessageType:    database.MessageTypeFile,
			FileURL:        req.URL.String(),
			FileName:       name,
			FileExt:        ext,
		})
	}
	return resp, nil
}

// SetWebhook forwards a webhook configuration to the upstream.
func (s *Service) SetWebhook(ctx context.Context, body map[string]any) (liveconnect.Response, error) {
	if body == nil {
		return nil, apperrors.NewValidationError("payload must be a JSON object", nil)
	}
	return s.upstream.SetWebhook(ctx, body)
}

// GetWebhook returns the webhook configured for a channel.
func (s *Service) GetWebhook(ctx context.Context, req GetWebhookRequest) (liveconnect.Response, error) {
	channelID := req.ChannelID.String()
	if channelID == "" {
		return nil, apperrors.NewValidationError("id_canal is required", nil)
	}
	return s.upstream.GetWebhook(ctx, channelID)
}

// Channels lists upstream channels. Blank filters are dropped.
func (s *Service) Channels(ctx context.Context, filters map[string]string) (liveconnect.Response, error) {
	query := url.Values{}
	for key, value := range filters {
		if strings.TrimSpace(value) != "" {
			query.Set(key, value)
		}
	}
	return s.upstream.Channels(ctx, query)
}

// Balance fetches the account balance and caches successful responses. When the
// upstream cannot be reached, the cached balance is returned marked "cached".
func (s *Service) Balance(ctx context.Context) (liveconnect.Response, error) {
	resp, err := s.upstream.Balance(ctx)
	if err != nil {
		cached, cacheErr := s.store.GetCachedBalance(ctx)
		if cacheErr != nil || cached == nil {
			if cacheErr != nil {
				s.logger.WarnContext(ctx, "Cached balance unavailable", "error", cacheErr)
			}
			return nil, err
		}
		s.logger.WarnContext(ctx, "Serving cached balance after upstream failure", "error", err)
		fallback := liveconnect.Response(cached)
		fallback["cached"] = true
		fallback.AddWarning(fmt.Sprintf("upstream unavailable, serving cached balance: %v", err))
		return fallback, nil
	}

	if resp.OK() {
		if err := s.store.SaveBalance(ctx, resp); err != nil {
			s.logger.WarnContext(ctx, "Failed to cache balance", "error", err)
			resp.AddWarning(fmt.Sprintf("could not cache balance locally: %v", err))
		}
	}
	return resp, nil
}

// check runs struct validation and maps failures to a ValidationError naming the first field.
func (s *Service) check(req any) error {
	err := s.validate.Struct(req)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		if fe.Tag() == "required" {
			return apperrors.NewValidationError(fe.Field()+" is required", err)
		}
		return apperrors.NewValidationError(fe.Field()+" is invalid", err)
	}
	return apperrors.NewValidationError("invalid request", err)
}

// record saves an accepted outbound message. A failure becomes a warning on resp.
func (s *Service) record(ctx context.Context, resp liveconnect.Response, kind string, msg database.NewMessage) {
	if _, err := s.store.SaveMessage(ctx, msg); err != nil {
		s.logger.WarnContext(ctx, "Failed to record outbound message",
			"kind", kind, "conversation_id", msg.ConversationID, "error", err)
		resp.AddWarning(fmt.Sprintf("could not store %s locally: %v", kind, err))
	}
}

func channelOrDefault(channel Field) string {
	if c := channel.String(); c != "" {
		return c
	}
	return DefaultChannel
}

func fileNameWithExt(name, ext string) string {
	suffix := "." + ext
	if strings.HasSuffix(strings.ToLower(name), suffix) {
		return name
	}
	return name + suffix
}

// StatusFor maps an outbound error to the HTTP status reported to callers.
func StatusFor(err error) int {
	switch apperrors.Code(err) {
	case apperrors.CodeValidation:
		return http.StatusBadRequest
	case apperrors.CodeAPI:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
