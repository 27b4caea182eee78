package outbound

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/edgard/liveinbox/internal/inbound"
)

// Field is a JSON string field that also accepts numbers and booleans, trimmed on decode.
type Field string

// UnmarshalJSON implements json.Unmarshaler.
func (f *Field) UnmarshalJSON(b []byte) error {
	var v any
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return err
	}
	*f = Field(inbound.Stringify(v))
	return nil
}

func (f Field) String() string {
	return strings.TrimSpace(string(f))
}

// SendMessageRequest is the body of a send-message call.
type SendMessageRequest struct {
	ConversationID Field `json:"id_conversacion" validate:"required"`
	Message        Field `json:"mensaje"         validate:"required"`
	Channel        Field `json:"canal"`
}

// SendQuickAnswerRequest is the body of a quick-answer call. Variables must be
// a JSON object when present.
type SendQuickAnswerRequest struct {
	ConversationID Field           `json:"id_conversacion" validate:"required"`
	AnswerID       Field           `json:"id_respuesta"    validate:"required"`
	Variables      json.RawMessage `json:"variables"`
	Channel        Field           `json:"canal"`
}

// SendFileRequest is the body of a send-file call.
type SendFileRequest struct {
	ConversationID Field `json:"id_conversacion" validate:"required"`
	URL            Field `json:"url"             validate:"required"`
	Name           Field `json:"nombre"          validate:"required"`
	Extension      Field `json:"extension"       validate:"required,alphanum"`
	Channel        Field `json:"canal"`
}

// GetWebhookRequest is the body of a webhook lookup.
type GetWebhookRequest struct {
	ChannelID Field `json:"id_canal"`
}

func (r *SendMessageRequest) normalize() {
	r.ConversationID = Field(r.ConversationID.String())
	r.Message = Field(r.Message.String())
	r.Channel = Field(r.Channel.String())
}

func (r *SendQuickAnswerRequest) normalize() {
	r.ConversationID = Field(r.ConversationID.String())
	r.AnswerID = Field(r.AnswerID.String())
	r.Channel = Field(r.Channel.String())
}

func (r *SendFileRequest) normalize() {
	r.ConversationID = Field(r.ConversationID.String())
	r.URL = Field(r.URL.String())
	r.Name = Field(r.Name.String())
	r.Extension = Field(strings.TrimLeft(strings.ToLower(r.Extension.String()), "."))
	r.Channel = Field(r.Channel.String())
}

// answerID parses id_respuesta as an integer. Integral floats such as 12.0 are accepted.
func (r SendQuickAnswerRequest) answerID() (int64, bool) {
	s := r.AnswerID.String()
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, true
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f == float64(int64(f)) {
		return int64(f), true
	}
	return 0, false
}

// variables decodes Variables, treating absent and null as an empty object.
func (r SendQuickAnswerRequest) variables() (map[string]any, bool) {
	raw := bytes.TrimSpace(r.Variables)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return map[string]any{}, true
	}
	var vars map[string]any
	if err := json.Unmarshal(raw, &vars); err != nil {
		return nil, false
	}
	return vars, true
}
