package database

import (
	"database/sql"
	"encoding/json"
	"strings"
)

// filePlaceholderPrefix marks text synthesized for a file message that arrived without text.
const filePlaceholderPrefix = "[File] "

// resolveMessageType lets a file URL win over anything explicit; unknown types fall back to text.
func resolveMessageType(explicit MessageType, hasFileURL bool) MessageType {
	if hasFileURL {
		return MessageTypeFile
	}
	t := MessageType(strings.ToLower(strings.TrimSpace(string(explicit))))
	if t.Valid() {
		return t
	}
	return MessageTypeText
}

// encodeMetadata returns the storable text form of metadata, or an invalid
// NullString when there is nothing worth storing.
func encodeMetadata(metadata any) sql.NullString {
	switch v := metadata.(type) {
	case nil:
		return sql.NullString{}
	case string:
		return optionalString(v)
	case json.RawMessage:
		return optionalString(string(v))
	case []byte:
		return optionalString(string(v))
	case map[string]any, []any, []string, map[string]string:
		b, err := json.Marshal(v)
		if err != nil || string(b) == "null" {
			return sql.NullString{}
		}
		return sql.NullString{String: string(b), Valid: true}
	default:
		return sql.NullString{}
	}
}

// decodeMetadata parses stored metadata back into a JSON object or array.
// Anything else is surfaced as {"raw": <text>} so nothing stored is lost.
func decodeMetadata(ns sql.NullString) any {
	if !ns.Valid {
		return nil
	}
	raw := strings.TrimSpace(ns.String)
	if raw == "" {
		return nil
	}

	var parsed any
	if err := json.Unmarshal([]byte(raw), &parsed); err == nil {
		switch parsed.(type) {
		case map[string]any, []any:
			return parsed
		}
	}
	return map[string]any{"raw": raw}
}

// fallbackText picks the text persisted for a message whose own text is empty.
func fallbackText(fileName, fileURL string) string {
	if fileName != "" {
		return filePlaceholderPrefix + fileName
	}
	return fileURL
}

func optionalString(s string) sql.NullString {
	s = strings.TrimSpace(s)
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
