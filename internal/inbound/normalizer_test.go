package inbound_test

import (
	"encoding/json"
	"reflect"
	"testing"

	"github.com/edgard/liveinbox/internal/database"
	"github.com/edgard/liveinbox/internal/inbound"
)

func decode(t *testing.T, body string) inbound.Event {
	t.Helper()

	var ev inbound.Event
	if err := json.Unmarshal([]byte(body), &ev); err != nil {
		t.Fatalf("decode %q: %v", body, err)
	}
	return ev
}

func TestExtractText(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		body     string
		expected string
	}{
		{"plain", `{"message":{"texto":"  Hola equipo \n"}}`, "Hola equipo"},
		{"number", `{"message":{"texto":12.5}}`, "12.5"},
		{"integer", `{"message":{"texto":42}}`, "42"},
		{"boolean", `{"message":{"texto":true}}`, "true"},
		{"object", `{"message":{"texto":{"a":1}}}`, ""},
		{"missing texto", `{"message":{}}`, ""},
		{"message not object", `{"message":"hola"}`, ""},
		{"no message", `{"id_conversacion":"c"}`, ""},
		{"null", `{"message":{"texto":null}}`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := inbound.ExtractText(decode(t, tt.body)); got != tt.expected {
				t.Errorf("ExtractText() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestExtractURLs(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{"empty", "", nil},
		{"no match", "sin enlaces aqui", nil},
		{"single", "mira https://example.com/a", []string{"https://example.com/a"}},
		{"trailing punctuation", "ver (https://example.com/x?y=1).", []string{"https://example.com/x?y=1"}},
		{"case insensitive", "HTTP://EXAMPLE.COM/Path!", []string{"HTTP://EXAMPLE.COM/Path"}},
		{
			"dedup keeps first seen order",
			"http://b.example, https://a.example; http://b.example?",
			[]string{"http://b.example", "https://a.example"},
		},
		{"scheme only", "http://.", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := inbound.ExtractURLs(tt.input); !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("ExtractURLs(%q) = %#v, want %#v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestExtractFile(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		body     string
		ok       bool
		expected inbound.File
	}{
		{
			name:     "explicit name and ext",
			body:     `{"message":{"file":{"url":"https://cdn.example.com/x/123","name":"Factura.PDF","ext":".PDF"}}}`,
			ok:       true,
			expected: inbound.File{URL: "https://cdn.example.com/x/123", Name: "Factura.PDF", Ext: "pdf"},
		},
		{
			name:     "spanish keys",
			body:     `{"message":{"file":{"url":"https://cdn.example.com/f","nombre":"contrato","extension":"DOCX"}}}`,
			ok:       true,
			expected: inbound.File{URL: "https://cdn.example.com/f", Name: "contrato", Ext: "docx"},
		},
		{
			name:     "ext from name",
			body:     `{"message":{"file":{"url":"https://cdn.example.com/f","name":"foto.JPG"}}}`,
			ok:       true,
			expected: inbound.File{URL: "https://cdn.example.com/f", Name: "foto.JPG", Ext: "jpg"},
		},
		{
			name:     "name and ext from url",
			body:     `{"message":{"file":{"url":"https://cdn.example.com/media/audio%20nota.OGG?sig=abc.def"}}}`,
			ok:       true,
			expected: inbound.File{URL: "https://cdn.example.com/media/audio%20nota.OGG?sig=abc.def", Name: "audio nota.OGG", Ext: "ogg"},
		},
		{
			name:     "default name",
			body:     `{"message":{"file":{"url":"https://cdn.example.com/"}}}`,
			ok:       true,
			expected: inbound.File{URL: "https://cdn.example.com/", Name: "archivo", Ext: ""},
		},
		{"blank url", `{"message":{"file":{"url":"   ","name":"a.pdf"}}}`, false, inbound.File{}},
		{"no url", `{"message":{"file":{"name":"a.pdf"}}}`, false, inbound.File{}},
		{"file not object", `{"message":{"file":"https://cdn.example.com/a.pdf"}}`, false, inbound.File{}},
		{"no file", `{"message":{"texto":"hola"}}`, false, inbound.File{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, ok := inbound.ExtractFile(decode(t, tt.body))
			if ok != tt.ok {
				t.Fatalf("ExtractFile() ok = %v, want %v", ok, tt.ok)
			}
			if !ok {
				return
			}
			if got.URL != tt.expected.URL || got.Name != tt.expected.Name || got.Ext != tt.expected.Ext {
				t.Errorf("ExtractFile() = {%q %q %q}, want {%q %q %q}",
					got.URL, got.Name, got.Ext, tt.expected.URL, tt.expected.Name, tt.expected.Ext)
			}
		})
	}
}

func TestClassifyTypePrecedence(t *testing.T) {
	t.Parallel()

	file := &inbound.File{URL: "https://cdn.example.com/a.pdf"}
	urls := []string{"https://example.com"}
	structured := inbound.Event{"message": map[string]any{"messageId": "m-1"}}
	topLevel := inbound.Event{"f_tipo": "receipt"}
	plain := inbound.Event{"message": map[string]any{"texto": "hola"}}

	tests := []struct {
		name     string
		ev       inbound.Event
		file     *inbound.File
		urls     []string
		expected database.MessageType
	}{
		{"file beats everything", structured, file, urls, database.MessageTypeFile},
		{"link beats structured", structured, nil, urls, database.MessageTypeLink},
		{"structured from message", structured, nil, nil, database.MessageTypeStructured},
		{"structured from top level", topLevel, nil, nil, database.MessageTypeStructured},
		{"text", plain, nil, nil, database.MessageTypeText},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := inbound.ClassifyType(tt.ev, tt.file, tt.urls); got != tt.expected {
				t.Errorf("ClassifyType() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestBuildMetadata(t *testing.T) {
	t.Parallel()

	t.Run("nothing collected", func(t *testing.T) {
		t.Parallel()

		if got := inbound.BuildMetadata(inbound.Event{"message": map[string]any{}}, nil, nil); got != nil {
			t.Errorf("BuildMetadata() = %#v, want nil", got)
		}
	})

	t.Run("everything collected", func(t *testing.T) {
		t.Parallel()

		ev := decode(t, `{
			"timestamp": 1700000000,
			"message": {
				"texto": "ver https://example.com",
				"messageId": "m-9",
				"interno": false,
				"file": {"url": "https://cdn.example.com/p.png", "tipo": "image", "width": 640}
			}
		}`)
		file, ok := inbound.ExtractFile(ev)
		if !ok {
			t.Fatal("expected file")
		}
		urls := inbound.ExtractURLs(inbound.ExtractText(ev))

		got := inbound.BuildMetadata(ev, &file, urls)
		expected := map[string]any{
			"timestamp": float64(1700000000),
			"messageId": "m-9",
			"interno":   false,
			"links":     []any{"https://example.com"},
			"file": map[string]any{
				"name":  "p.png",
				"ext":   "png",
				"tipo":  "image",
				"width": float64(640),
			},
			"raw_text": "ver https://example.com",
		}
		if !reflect.DeepEqual(got, expected) {
			t.Errorf("BuildMetadata() = %#v, want %#v", got, expected)
		}
	})
}

func TestBuildCanonicalText(t *testing.T) {
	t.Parallel()

	file := &inbound.File{URL: "https://cdn.example.com/a.pdf", Name: "a.pdf", Ext: "pdf"}

	if got := inbound.BuildCanonicalText("", file); got != "[FILE]https://cdn.example.com/a.pdf|a.pdf|pdf" {
		t.Errorf("file marker = %q", got)
	}
	if got := inbound.BuildCanonicalText("caption", file); got != "[FILE]https://cdn.example.com/a.pdf|a.pdf|pdf" {
		t.Errorf("file with caption = %q", got)
	}
	if got := inbound.BuildCanonicalText(" hola ", nil); got != "hola" {
		t.Errorf("text = %q", got)
	}
	if got := inbound.BuildCanonicalText("", nil); got != "" {
		t.Errorf("empty = %q", got)
	}

	parsed, ok := inbound.ParseFileMarker(inbound.FileMarker(*file))
	if !ok || parsed.URL != file.URL || parsed.Name != file.Name || parsed.Ext != file.Ext {
		t.Errorf("ParseFileMarker() = %#v, %v", parsed, ok)
	}
	if _, ok := inbound.ParseFileMarker("hola"); ok {
		t.Error("ParseFileMarker should reject plain text")
	}
}

func TestExtractContactNameAndChannel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		body        string
		contactName string
		channel     string
	}{
		{"all present", `{"canal":" whatsapp ","id_canal":"7","contact_data":{"name":" Ana "}}`, "Ana", "whatsapp"},
		{"channel fallback to id", `{"canal":"  ","id_canal":7}`, "", "7"},
		{"channel default", `{"contact_data":{"name":"   "}}`, "", "unknown"},
		{"non string name", `{"contact_data":{"name":12}}`, "", "unknown"},
		{"contact not object", `{"contact_data":"Ana"}`, "", "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ev := decode(t, tt.body)
			if got := inbound.ExtractContactName(ev); got != tt.contactName {
				t.Errorf("ExtractContactName() = %q, want %q", got, tt.contactName)
			}
			if got := inbound.ResolveChannel(ev); got != tt.channel {
				t.Errorf("ResolveChannel() = %q, want %q", got, tt.channel)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	t.Parallel()

	ev := decode(t, `{
		"id_conversacion": " conv-5 ",
		"id_canal": "instagram",
		"contact_data": {"name": "Luis"},
		"message": {"texto": "revisa https://example.com/doc."}
	}`)

	c := inbound.Normalize(ev)
	if c.ConversationID != "conv-5" || c.Channel != "instagram" || c.ContactName != "Luis" {
		t.Errorf("unexpected identity fields: %+v", c)
	}
	if c.Type != database.MessageTypeLink {
		t.Errorf("Type = %q, want link", c.Type)
	}
	if c.Text != "revisa https://example.com/doc." {
		t.Errorf("Text = %q", c.Text)
	}
	if c.File != nil {
		t.Errorf("File = %+v, want nil", c.File)
	}
	if !reflect.DeepEqual(c.Metadata["links"], []any{"https://example.com/doc"}) {
		t.Errorf("Metadata links = %#v", c.Metadata["links"])
	}
}

func TestNormalizeFileWithCaptionStoresMarker(t *testing.T) {
	t.Parallel()

	ev := decode(t, `{
		"id_conversacion": "conv-6",
		"message": {
			"texto": "  aqui va la factura  ",
			"file": {"url": "https://cdn.example.com/f/9", "name": "factura.pdf"}
		}
	}`)

	c := inbound.Normalize(ev)
	if c.Type != database.MessageTypeFile {
		t.Errorf("Type = %q, want file", c.Type)
	}
	if want := "[FILE]https://cdn.example.com/f/9|factura.pdf|pdf"; c.Text != want {
		t.Errorf("Text = %q, want %q", c.Text, want)
	}
	if got := c.Metadata["raw_text"]; got != "aqui va la factura" {
		t.Errorf("Metadata raw_text = %#v, want the caption", got)
	}
}
