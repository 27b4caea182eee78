package liveconnect

import (
	"encoding/json"
	"net/http"
)

// Response is a normalized upstream reply. It always carries "ok" and "status_code".
type Response map[string]any

// OK reports the "ok" field, treating anything but boolean true as false.
func (r Response) OK() bool {
	ok, _ := r["ok"].(bool)
	return ok
}

// StatusCode returns the recorded HTTP status, or 0 when absent.
func (r Response) StatusCode() int {
	switch v := r["status_code"].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return 0
	}
}

// AddWarning appends msg to the "warnings" list, replacing a non-list value.
func (r Response) AddWarning(msg string) {
	warnings, _ := r["warnings"].([]any)
	r["warnings"] = append(warnings, msg)
}

// Failure builds the response reported when a call never reached the upstream.
func Failure(status int, msg string) Response {
	return Response{"ok": false, "status_code": status, "error": msg}
}

// normalizeResponse shapes a raw reply: JSON objects keep their fields and get
// a default "ok" plus "status_code"; other JSON is wrapped under "data"; a
// non-JSON body is kept as "raw_response".
func normalizeResponse(status int, body []byte) Response {
	ok := status >= http.StatusOK && status < http.StatusMultipleChoices

	var payload any
	if err := json.Unmarshal(body, &payload); err != nil {
		payload = map[string]any{"raw_response": string(body)}
	}

	if obj, isObject := payload.(map[string]any); isObject {
		if _, has := obj["ok"]; !has {
			obj["ok"] = ok
		}
		obj["status_code"] = status
		return Response(obj)
	}

	return Response{"ok": ok, "status_code": status, "data": payload}
}
