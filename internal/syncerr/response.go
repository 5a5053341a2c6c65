package syncerr

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
)

// maxBodyInMessage bounds how much of a non-JSON error body ends up in a message
const maxBodyInMessage = 512

// FromResponse builds an API error from a non-success response.
//
// The body is expected to be {"code": "...", "message": "...", "details": ...}
// but nested {"error": {...}} envelopes and non-JSON bodies are tolerated.
func FromResponse(status int, body []byte) *Error {
	if len(body) == 0 || !gjson.ValidBytes(body) {
		return API(status, requestFailedMessage(status, body))
	}

	root := gjson.ParseBytes(body)
	code := firstString(root, "code", "error.code")
	message := firstString(root, "message", "error.message", "error")
	if message == "" {
		message = requestFailedMessage(status, body)
	}

	var details json.RawMessage
	if d := root.Get("details"); d.Exists() && d.Type != gjson.Null {
		details = json.RawMessage(d.Raw)
	} else if d := root.Get("error.details"); d.Exists() && d.Type != gjson.Null {
		details = json.RawMessage(d.Raw)
	}

	return APIStructured(status, code, message, details)
}

func firstString(root gjson.Result, paths ...string) string {
	for _, p := range paths {
		if v := root.Get(p); v.Type == gjson.String && v.Str != "" {
			return v.Str
		}
	}
	return ""
}

func requestFailedMessage(status int, body []byte) string {
	text := strings.TrimSpace(string(body))
	if text == "" {
		return http.StatusText(status)
	}
	if len(text) > maxBodyInMessage {
		text = text[:maxBodyInMessage-3] + "..."
	}
	return "Request failed: " + text
}
