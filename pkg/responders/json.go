// Package responders writes the JSON envelopes shared by the payment API.
package responders

import (
	"encoding/json"
	"net/http"
)

// JSON writes payload as application/json. A nil payload writes only the status.
func JSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(payload)
}

// Success writes {"success": true, "data": data}.
func Success(w http.ResponseWriter, status int, data any) {
	JSON(w, status, map[string]any{
		"success": true,
		"data":    data,
	})
}

// Message writes {"success": true, "message": message} merged with extra
// top-level fields. Extra keys never override success or message.
func Message(w http.ResponseWriter, status int, message string, extra map[string]any) {
	body := make(map[string]any, len(extra)+2)
	for k, v := range extra {
		body[k] = v
	}
	body["success"] = true
	if message != "" {
		body["message"] = message
	}
	JSON(w, status, body)
}
