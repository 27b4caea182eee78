// Package inbound turns raw webhook events from the chat API into canonical messages.
//
// Every extractor is total: a missing or malformed field yields an explicit
// absent value (empty string, nil, false) and never an error.
package inbound

import (
	"net/url"
	"path"
	"regexp"
	"strconv"
	"strings"

	"github.com/edgard/liveinbox/internal/database"
)

// Event is a decoded webhook body.
type Event map[string]any

// FileMarkerPrefix tags the canonical text of a message that carries a file.
const FileMarkerPrefix = "[FILE]"

const defaultFileName = "archivo"

// MetadataKeys are the event fields copied into message metadata. Their presence
// alone makes an event "structured".
var MetadataKeys = []string{"messageId", "messageUID", "timestamp", "interno", "f_id", "f_tipo"}

var (
	urlPattern         = regexp.MustCompile(`(?i)https?://[^\s<>"']+`)
	urlTrailingCutset  = ".,;!?)"
	fileMetadataFields = []string{"tipo", "width", "height"}
)

// File is an attachment found on an inbound event.
type File struct {
	URL  string
	Name string
	Ext  string
	// Raw is the original file object, used for pass-through metadata.
	Raw map[string]any
}

// Canonical is the normalized form of one inbound event.
type Canonical struct {
	ConversationID string
	Channel        string
	ContactName    string
	Text           string
	Type           database.MessageType
	File           *File
	URLs           []string
	Metadata       map[string]any
}

// Normalize runs every extractor over ev and composes the canonical message.
func Normalize(ev Event) Canonical {
	text := ExtractText(ev)
	urls := ExtractURLs(text)
	file, hasFile := ExtractFile(ev)

	c := Canonical{
		ConversationID: Stringify(ev["id_conversacion"]),
		Channel:        ResolveChannel(ev),
		ContactName:    ExtractContactName(ev),
		URLs:           urls,
	}

	var filePtr *File
	if hasFile {
		filePtr = &file
	}
	c.File = filePtr
	c.Type = ClassifyType(ev, filePtr, urls)
	c.Metadata = BuildMetadata(ev, filePtr, urls)
	c.Text = BuildCanonicalText(text, filePtr)
	return c
}

// Stringify coerces scalar JSON values to trimmed strings. Objects, arrays and
// nil become "".
func Stringify(v any) string {
	switch x := v.(type) {
	case string:
		return strings.TrimSpace(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case bool:
		return strconv.FormatBool(x)
	case interface{ String() string }:
		return strings.TrimSpace(x.String())
	default:
		return ""
	}
}

// ExtractText returns message.texto, trimmed, or "".
func ExtractText(ev Event) string {
	msg, ok := object(ev["message"])
	if !ok {
		return ""
	}
	return Stringify(msg["texto"])
}

// ExtractURLs returns the http(s) URLs found in text, de-duplicated in first-seen order.
func ExtractURLs(text string) []string {
	if text == "" {
		return nil
	}

	var urls []string
	seen := make(map[string]struct{})
	for _, match := range urlPattern.FindAllString(text, -1) {
		candidate := strings.TrimRight(match, urlTrailingCutset)
		if _, host, _ := strings.Cut(candidate, "://"); host == "" {
			continue
		}
		if _, dup := seen[candidate]; dup {
			continue
		}
		seen[candidate] = struct{}{}
		urls = append(urls, candidate)
	}
	return urls
}

// ExtractFile returns the attachment at message.file when it has a usable URL.
func ExtractFile(ev Event) (File, bool) {
	msg, ok := object(ev["message"])
	if !ok {
		return File{}, false
	}
	raw, ok := object(msg["file"])
	if !ok {
		return File{}, false
	}

	fileURL := Stringify(raw["url"])
	if fileURL == "" {
		return File{}, false
	}

	name := firstNonEmpty(Stringify(raw["name"]), Stringify(raw["nombre"]), lastURLSegment(fileURL))
	if name == "" {
		name = defaultFileName
	}

	ext := firstNonEmpty(
		normalizeExt(Stringify(raw["ext"])),
		normalizeExt(Stringify(raw["extension"])),
		normalizeExt(path.Ext(name)),
		normalizeExt(path.Ext(urlPath(fileURL))),
	)

	return File{URL: fileURL, Name: name, Ext: ext, Raw: raw}, true
}

// ClassifyType applies the fixed precedence file > link > structured > text.
func ClassifyType(ev Event, file *File, urls []string) database.MessageType {
	switch {
	case file != nil:
		return database.MessageTypeFile
	case len(urls) > 0:
		return database.MessageTypeLink
	case hasMetadataKey(ev):
		return database.MessageTypeStructured
	default:
		return database.MessageTypeText
	}
}

// BuildMetadata collects the structured parts of an event. It returns nil, not an
// empty map, when nothing was found.
func BuildMetadata(ev Event, file *File, urls []string) map[string]any {
	metadata := make(map[string]any)

	for _, key := range MetadataKeys {
		if v, ok := lookupMetadataKey(ev, key); ok {
			metadata[key] = v
		}
	}

	if len(urls) > 0 {
		links := make([]any, len(urls))
		for i, u := range urls {
			links[i] = u
		}
		metadata["links"] = links
	}

	if file != nil {
		fileMeta := make(map[string]any)
		if file.Name != "" {
			fileMeta["name"] = file.Name
		}
		if file.Ext != "" {
			fileMeta["ext"] = file.Ext
		}
		for _, key := range fileMetadataFields {
			if v, ok := file.Raw[key]; ok && v != nil {
				fileMeta[key] = v
			}
		}
		if len(fileMeta) > 0 {
			metadata["file"] = fileMeta
		}
	}

	if text := ExtractText(ev); text != "" {
		metadata["raw_text"] = text
	}

	if len(metadata) == 0 {
		return nil
	}
	return metadata
}

// BuildCanonicalText returns the text to persist. With a file it is the file
// marker (any caption survives in metadata.raw_text); otherwise the text itself.
func BuildCanonicalText(text string, file *File) string {
	if file != nil {
		return FileMarker(*file)
	}
	return strings.TrimSpace(text)
}

// FileMarker encodes a file as "[FILE]url|name|ext".
func FileMarker(f File) string {
	return FileMarkerPrefix + strings.Join([]string{f.URL, f.Name, f.Ext}, "|")
}

// ParseFileMarker reverses FileMarker.
func ParseFileMarker(text string) (File, bool) {
	rest, ok := strings.CutPrefix(text, FileMarkerPrefix)
	if !ok {
		return File{}, false
	}
	parts := strings.Split(rest, "|")
	if len(parts) != 3 || parts[0] == "" {
		return File{}, false
	}
	return File{URL: parts[0], Name: parts[1], Ext: parts[2]}, true
}

// ExtractContactName returns contact_data.name, trimmed, or "".
func ExtractContactName(ev Event) string {
	contact, ok := object(ev["contact_data"])
	if !ok {
		return ""
	}
	name, ok := contact["name"].(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(name)
}

// ResolveChannel prefers canal, then id_canal, then "unknown".
func ResolveChannel(ev Event) string {
	return firstNonEmpty(Stringify(ev["canal"]), Stringify(ev["id_canal"]), "unknown")
}

func object(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, m != nil
	case Event:
		return m, m != nil
	default:
		return nil, false
	}
}

// lookupMetadataKey checks the message object before the event's top level.
func lookupMetadataKey(ev Event, key string) (any, bool) {
	if msg, ok := object(ev["message"]); ok {
		if v, ok := msg[key]; ok && v != nil {
			return v, true
		}
	}
	if v, ok := ev[key]; ok && v != nil {
		return v, true
	}
	return nil, false
}

func hasMetadataKey(ev Event) bool {
	for _, key := range MetadataKeys {
		if _, ok := lookupMetadataKey(ev, key); ok {
			return true
		}
	}
	return false
}

func urlPath(raw string) string {
	if u, err := url.Parse(raw); err == nil {
		return u.Path
	}
	if idx := strings.IndexAny(raw, "?#"); idx != -1 {
		return raw[:idx]
	}
	return raw
}

func lastURLSegment(raw string) string {
	p := strings.TrimRight(urlPath(raw), "/")
	if p == "" {
		return ""
	}
	segment := path.Base(p)
	if segment == "." || segment == "/" {
		return ""
	}
	if unescaped, err := url.PathUnescape(segment); err == nil {
		return strings.TrimSpace(unescaped)
	}
	return segment
}

func normalizeExt(ext string) string {
	return strings.ToLower(strings.TrimLeft(strings.TrimSpace(ext), "."))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
