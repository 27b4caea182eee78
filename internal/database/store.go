package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	apperrors "github.com/edgard/liveinbox/internal/errors"
)

// Store defines the persistence operations for conversations, messages, and cached config.
// Callers only ever receive copies of stored rows.
type Store interface {
	// Ping checks the database connection.
	Ping(ctx context.Context) error

	// SaveMessage upserts the conversation and appends the message in one transaction.
	// It returns false, without writing anything, when no text can be derived.
	SaveMessage(ctx context.Context, msg NewMessage) (bool, error)

	// ListConversations returns conversations, most recently active first.
	ListConversations(ctx context.Context) ([]Conversation, error)

	// ListMessages returns the non-blank messages of a conversation in chronological order.
	ListMessages(ctx context.Context, conversationID string) ([]Message, error)

	// SaveBalance overwrites the cached balance.
	SaveBalance(ctx context.Context, balance map[string]any) error

	// GetCachedBalance returns the cached balance, or nil when none was ever stored.
	GetCachedBalance(ctx context.Context) (map[string]any, error)

	// RunSQLMaintenance performs database maintenance tasks like VACUUM.
	RunSQLMaintenance(ctx context.Context) error

	// DatabaseSize returns the size of the database file in bytes (page_count * page_size).
	DatabaseSize(ctx context.Context) (int64, error)
}

// StoreOption customizes a store created by NewStore.
type StoreOption func(*sqlxStore)

// WithClock overrides the time source used for updated_at and created_at.
func WithClock(now func() time.Time) StoreOption {
	return func(s *sqlxStore) {
		if now != nil {
			s.now = now
		}
	}
}

// sqlxStore provides an implementation of the Store interface using sqlx.
type sqlxStore struct {
	db     *sqlx.DB
	logger *slog.Logger
	now    func() time.Time
}

// NewStore creates a new Store backed by a connected, migrated sqlx.DB.
func NewStore(db *sqlx.DB, logger *slog.Logger, opts ...StoreOption) Store {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	s := &sqlxStore{
		db:     db,
		logger: logger.With("component", "store"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *sqlxStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return apperrors.NewStorageError("database ping failed", err)
	}
	return nil
}

func (s *sqlxStore) SaveMessage(ctx context.Context, msg NewMessage) (bool, error) {
	conversationID := strings.TrimSpace(msg.ConversationID)
	if conversationID == "" {
		return false, apperrors.NewMissingConversationIDError("conversation_id is required")
	}

	channel := strings.TrimSpace(msg.Channel)
	if channel == "" {
		channel = defaultChannel
	}
	sender := strings.TrimSpace(msg.Sender)
	if sender == "" {
		sender = SenderUser
	}

	fileURL := optionalString(msg.FileURL)
	fileName := optionalString(msg.FileName)
	fileExt := optionalString(msg.FileExt)

	text := strings.TrimSpace(msg.Text)
	if text == "" {
		text = fallbackText(fileName.String, fileURL.String)
	}
	if text == "" {
		s.logger.DebugContext(ctx, "Skipping message without text or file", "conversation_id", conversationID)
		return false, nil
	}

	conv := conversationRow{
		ID:          conversationID,
		Channel:     channel,
		ContactName: optionalString(msg.ContactName),
	}
	row := messageRow{
		ConversationID: conversationID,
		Sender:         sender,
		Text:           text,
		MessageType:    sql.NullString{String: string(resolveMessageType(msg.MessageType, fileURL.Valid)), Valid: true},
		FileURL:        fileURL,
		FileName:       fileName,
		FileExt:        fileExt,
		Metadata:       encodeMetadata(msg.Metadata),
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to begin transaction for saving message",
			"conversation_id", conversationID, "error", err)
		return false, apperrors.NewStorageError("failed to begin transaction", err)
	}
	defer func() {
		if tx != nil {
			if rollbackErr := tx.Rollback(); rollbackErr != nil && !errors.Is(rollbackErr, sql.ErrTxDone) {
				s.logger.WarnContext(ctx, "Error rolling back transaction", "error", rollbackErr)
			}
		}
	}()

	// The pool holds a single connection, so the timestamp is taken while
	// this transaction owns it and commit order matches timestamp order.
	now, err := s.stampTx(ctx, tx, conversationID)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error reading conversation activity", "conversation_id", conversationID, "error", err)
		return false, apperrors.NewStorageError("failed to read conversation "+conversationID, err)
	}
	conv.UpdatedAt = now
	row.CreatedAt = now

	upsert := `
        INSERT INTO conversations (id, channel, contact_name, updated_at)
        VALUES (:id, :channel, :contact_name, :updated_at)
        ON CONFLICT(id) DO UPDATE SET
            channel = excluded.channel,
            contact_name = COALESCE(NULLIF(TRIM(excluded.contact_name), ''), conversations.contact_name),
            updated_at = excluded.updated_at;
    `
	if _, err := tx.NamedExecContext(ctx, upsert, conv); err != nil {
		s.logger.ErrorContext(ctx, "Error upserting conversation", "conversation_id", conversationID, "error", err)
		return false, apperrors.NewStorageError("failed to upsert conversation "+conversationID, err)
	}

	insert := `
        INSERT INTO messages (conversation_id, sender, text, message_type, file_url, file_name, file_ext, metadata, created_at)
        VALUES (:conversation_id, :sender, :text, :message_type, :file_url, :file_name, :file_ext, :metadata, :created_at);
    `
	result, err := tx.NamedExecContext(ctx, insert, row)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error saving message", "conversation_id", conversationID, "error", err)
		return false, apperrors.NewStorageError("failed to save message for conversation "+conversationID, err)
	}

	if err := tx.Commit(); err != nil {
		s.logger.ErrorContext(ctx, "Failed to commit transaction", "conversation_id", conversationID, "error", err)
		return false, apperrors.NewStorageError("failed to commit transaction", err)
	}
	// Successfully committed, set tx to nil to avoid rollback
	tx = nil

	id, _ := result.LastInsertId()
	s.logger.DebugContext(ctx, "Message saved successfully",
		"conversation_id", conversationID,
		"message_id", id,
		"message_type", row.MessageType.String,
		"sender", sender)
	return true, nil
}

// stampTx returns the current time, never earlier than the conversation's
// last recorded activity.
func (s *sqlxStore) stampTx(ctx context.Context, tx *sqlx.Tx, conversationID string) (time.Time, error) {
	now := s.now().UTC()

	var last sql.NullTime
	err := tx.GetContext(ctx, &last, `SELECT updated_at FROM conversations WHERE id = ?`, conversationID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return now, nil
	case err != nil:
		return time.Time{}, err
	}

	if last.Valid && now.Before(last.Time) {
		return last.Time.UTC(), nil
	}
	return now, nil
}

func (s *sqlxStore) ListConversations(ctx context.Context) ([]Conversation, error) {
	var rows []conversationRow
	query := `
        SELECT id, channel, contact_name, updated_at
        FROM conversations
        ORDER BY updated_at DESC, id ASC;
    `
	if err := s.db.SelectContext(ctx, &rows, query); err != nil {
		s.logger.ErrorContext(ctx, "Error listing conversations", "error", err)
		return nil, apperrors.NewStorageError("failed to list conversations", err)
	}

	conversations := make([]Conversation, 0, len(rows))
	for _, r := range rows {
		conversations = append(conversations, r.toConversation())
	}
	return conversations, nil
}

func (s *sqlxStore) ListMessages(ctx context.Context, conversationID string) ([]Message, error) {
	var rows []messageRow
	// Blank rows can only come from data written before validation existed.
	query := `
        SELECT id, conversation_id, sender, text, message_type, file_url, file_name, file_ext, metadata, created_at
        FROM messages
        WHERE conversation_id = ?
          AND TRIM(COALESCE(text, '')) <> ''
        ORDER BY created_at ASC, id ASC;
    `
	if err := s.db.SelectContext(ctx, &rows, query, strings.TrimSpace(conversationID)); err != nil {
		s.logger.ErrorContext(ctx, "Error listing messages", "conversation_id", conversationID, "error", err)
		return nil, apperrors.NewStorageError("failed to list messages for conversation "+conversationID, err)
	}

	messages := make([]Message, 0, len(rows))
	for _, r := range rows {
		messages = append(messages, r.toMessage())
	}
	return messages, nil
}

func (s *sqlxStore) SaveBalance(ctx context.Context, balance map[string]any) error {
	value, err := json.Marshal(balance)
	if err != nil {
		return apperrors.NewStorageError("failed to encode balance", err)
	}

	query := `
        INSERT INTO config (key, value) VALUES (?, ?)
        ON CONFLICT(key) DO UPDATE SET value = excluded.value;
    `
	if _, err := s.db.ExecContext(ctx, query, balanceKey, string(value)); err != nil {
		s.logger.ErrorContext(ctx, "Error caching balance", "error", err)
		return apperrors.NewStorageError("failed to cache balance", err)
	}
	return nil
}

func (s *sqlxStore) GetCachedBalance(ctx context.Context) (map[string]any, error) {
	var value sql.NullString
	err := s.db.GetContext(ctx, &value, `SELECT value FROM config WHERE key = ?`, balanceKey)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil
	case err != nil:
		s.logger.ErrorContext(ctx, "Error reading cached balance", "error", err)
		return nil, apperrors.NewStorageError("failed to read cached balance", err)
	}

	if !value.Valid {
		return nil, apperrors.NewCorruptCacheError("cached balance is NULL", nil)
	}
	var balance map[string]any
	if err := json.Unmarshal([]byte(value.String), &balance); err != nil {
		s.logger.ErrorContext(ctx, "Cached balance is not valid JSON", "error", err)
		return nil, apperrors.NewCorruptCacheError("cached balance is not a JSON object", err)
	}
	if balance == nil {
		return nil, apperrors.NewCorruptCacheError("cached balance is not a JSON object", nil)
	}
	return balance, nil
}

// RunSQLMaintenance executes VACUUM. It must run outside a transaction.
func (s *sqlxStore) RunSQLMaintenance(ctx context.Context) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	s.logger.InfoContext(ctx, "Starting database maintenance (VACUUM)...")
	_, err := s.db.ExecContext(ctx, "VACUUM;")

	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		s.logger.WarnContext(ctx, "VACUUM operation timed out or was cancelled", "error", err)
		return apperrors.NewStorageError("database maintenance (VACUUM) timed out", err)
	case err != nil:
		s.logger.ErrorContext(ctx, "Database maintenance (VACUUM) failed", "error", err)
		return apperrors.NewStorageError("failed to execute VACUUM", err)
	}

	s.logger.InfoContext(ctx, "Database maintenance (VACUUM) completed successfully")
	return nil
}

func (s *sqlxStore) DatabaseSize(ctx context.Context) (int64, error) {
	var pageCount, pageSize int64
	if err := s.db.GetContext(ctx, &pageCount, "PRAGMA page_count;"); err != nil {
		return 0, apperrors.NewStorageError("failed to read page count", err)
	}
	if err := s.db.GetContext(ctx, &pageSize, "PRAGMA page_size;"); err != nil {
		return 0, apperrors.NewStorageError("failed to read page size", err)
	}
	return pageCount * pageSize, nil
}
