package database

import (
	"database/sql"
	"time"
)

// MessageType is the canonical classification of a stored message.
type MessageType string

const (
	MessageTypeText       MessageType = "text"
	MessageTypeFile       MessageType = "file"
	MessageTypeLink       MessageType = "link"
	MessageTypeStructured MessageType = "structured"
)

// Valid reports whether t is one of the four known message types.
func (t MessageType) Valid() bool {
	switch t {
	case MessageTypeText, MessageTypeFile, MessageTypeLink, MessageTypeStructured:
		return true
	default:
		return false
	}
}

// Canonical sender values.
const (
	SenderUser  = "usuario"
	SenderAgent = "agent"
)

const (
	defaultChannel = "unknown"
	balanceKey     = "balance"
)

// Conversation is the read model of a conversation row.
type Conversation struct {
	ID          string    `db:"id"           json:"id"`
	Channel     string    `db:"channel"      json:"channel"`
	ContactName *string   `db:"contact_name" json:"contact_name"`
	UpdatedAt   time.Time `db:"updated_at"   json:"updated_at"`
}

// Message is the read model of a message row. Metadata holds the decoded JSON
// value, or {"raw": <text>} when the stored text is not valid JSON.
type Message struct {
	ID             int64     `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Sender         string    `json:"sender"`
	Text           string    `json:"text"`
	MessageType    string    `json:"message_type"`
	FileURL        *string   `json:"file_url"`
	FileName       *string   `json:"file_name"`
	FileExt        *string   `json:"file_ext"`
	Metadata       any       `json:"metadata"`
	CreatedAt      time.Time `json:"created_at"`
}

// NewMessage is the input to Store.SaveMessage. Only ConversationID is required;
// blank optional fields are stored as NULL.
type NewMessage struct {
	ConversationID string
	Channel        string
	Sender         string
	Text           string
	ContactName    string
	MessageType    MessageType
	FileURL        string
	FileName       string
	FileExt        string
	// Metadata may be a map, a slice, a JSON string, or json.RawMessage.
	Metadata any
}

type conversationRow struct {
	ID          string         `db:"id"`
	Channel     string         `db:"channel"`
	ContactName sql.NullString `db:"contact_name"`
	UpdatedAt   time.Time      `db:"updated_at"`
}

type messageRow struct {
	ID             int64          `db:"id"`
	ConversationID string         `db:"conversation_id"`
	Sender         string         `db:"sender"`
	Text           string         `db:"text"`
	MessageType    sql.NullString `db:"message_type"`
	FileURL        sql.NullString `db:"file_url"`
	FileName       sql.NullString `db:"file_name"`
	FileExt        sql.NullString `db:"file_ext"`
	Metadata       sql.NullString `db:"metadata"`
	CreatedAt      time.Time      `db:"created_at"`
}

func (r conversationRow) toConversation() Conversation {
	return Conversation{
		ID:          r.ID,
		Channel:     r.Channel,
		ContactName: nullableString(r.ContactName),
		UpdatedAt:   r.UpdatedAt,
	}
}

func (r messageRow) toMessage() Message {
	return Message{
		ID:             r.ID,
		ConversationID: r.ConversationID,
		Sender:         r.Sender,
		Text:           r.Text,
		MessageType:    r.MessageType.String,
		FileURL:        nullableString(r.FileURL),
		FileName:       nullableString(r.FileName),
		FileExt:        nullableString(r.FileExt),
		Metadata:       decodeMetadata(r.Metadata),
		CreatedAt:      r.CreatedAt,
	}
}

func nullableString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}
