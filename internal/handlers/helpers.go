package handlers

import (
	"encoding/json"
	"net/http"
)

// AnonymousUser is the identity used when no X-User-ID header is sent
const AnonymousUser = "anonymous"

// GetUserID resolves the caller's identity from the X-User-ID header
func GetUserID(r *http.Request) string {
	if userID := r.Header.Get("X-User-ID"); userID != "" {
		return userID
	}
	return AnonymousUser
}

// WriteJSON writes a JSON response with the specified status code and data
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(data)
}

// WriteError writes the standard error envelope
func WriteError(w http.ResponseWriter, statusCode int, message string) error {
	return WriteJSON(w, statusCode, map[string]interface{}{
		"success": false,
		"error":   message,
	})
}

// WriteErrorDetails writes the error envelope with a details field
func WriteErrorDetails(w http.ResponseWriter, statusCode int, message, details string) error {
	return WriteJSON(w, statusCode, map[string]interface{}{
		"success": false,
		"error":   message,
		"details": details,
	})
}

// WriteSuccess writes the standard success envelope merged with extra fields
func WriteSuccess(w http.ResponseWriter, statusCode int, fields map[string]interface{}) error {
	body := map[string]interface{}{"success": true}
	for k, v := range fields {
		body[k] = v
	}
	return WriteJSON(w, statusCode, body)
}

// RequireMethod validates the request method, writing a 405 envelope on
// mismatch. Returns true when the method matches.
func RequireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return false
	}
	return true
}
