// Package inbox serves the read side of stored conversations for the web inbox.
package inbox

import (
	"context"
	"strings"
	"time"

	"github.com/edgard/liveinbox/internal/database"
	"github.com/edgard/liveinbox/internal/inbound"
)

// Message is one entry in a conversation view. Sender is always "usuario" or "agent".
type Message struct {
	ID          int64     `json:"id"`
	Sender      string    `json:"sender"`
	Message     string    `json:"message"`
	MessageType string    `json:"message_type"`
	FileURL     *string   `json:"file_url"`
	FileName    *string   `json:"file_name"`
	FileExt     *string   `json:"file_ext"`
	Metadata    any       `json:"metadata"`
	CreatedAt   time.Time `json:"created_at"`
}

// Reader is the storage the inbox reads from.
type Reader interface {
	ListConversations(ctx context.Context) ([]database.Conversation, error)
	ListMessages(ctx context.Context, conversationID string) ([]database.Message, error)
}

// Inbox exposes conversations and messages for display.
type Inbox struct {
	store Reader
}

// New creates an Inbox over store.
func New(store Reader) *Inbox {
	return &Inbox{store: store}
}

// Conversations returns every conversation, most recent first.
func (i *Inbox) Conversations(ctx context.Context) ([]database.Conversation, error) {
	conversations, err := i.store.ListConversations(ctx)
	if err != nil {
		return nil, err
	}
	if conversations == nil {
		conversations = []database.Conversation{}
	}
	return conversations, nil
}

// Messages returns the displayable messages of a conversation in order.
func (i *Inbox) Messages(ctx context.Context, conversationID string) ([]Message, error) {
	stored, err := i.store.ListMessages(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	messages := make([]Message, 0, len(stored))
	for _, m := range stored {
		text := strings.TrimSpace(m.Text)
		if text == "" {
			continue
		}

		sender := database.SenderAgent
		if m.Sender == database.SenderUser {
			sender = database.SenderUser
		}

		messageType := m.MessageType
		if messageType == "" {
			messageType = string(database.MessageTypeText)
		}

		msg := Message{
			ID:          m.ID,
			Sender:      sender,
			Message:     text,
			MessageType: messageType,
			FileURL:     m.FileURL,
			FileName:    m.FileName,
			FileExt:     m.FileExt,
			Metadata:    m.Metadata,
			CreatedAt:   m.CreatedAt,
		}
		if msg.FileURL == nil {
			fillFromMarker(&msg)
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

// fillFromMarker recovers file fields for rows written before the attachment
// columns existed, when only the [FILE] marker text was stored.
func fillFromMarker(msg *Message) {
	file, ok := inbound.ParseFileMarker(msg.Message)
	if !ok {
		return
	}
	msg.FileURL = &file.URL
	if file.Name != "" {
		msg.FileName = &file.Name
	}
	if file.Ext != "" {
		msg.FileExt = &file.Ext
	}
	msg.MessageType = string(database.MessageTypeFile)
}
