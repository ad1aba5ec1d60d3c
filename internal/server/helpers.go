package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/bobmcallan/robotmw/internal/apperr"
)

// ErrorResponse is the wire error envelope of spec §7.
type ErrorResponse struct {
	Error struct {
		Code    string                 `json:"code"`
		Message string                 `json:"message"`
		Details map[string]interface{} `json:"details,omitempty"`
	} `json:"error"`
}

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// WriteAppError renders an *apperr.Error as the standard wire error
// envelope, choosing the HTTP status from its code.
func WriteAppError(w http.ResponseWriter, err *apperr.Error) {
	resp := ErrorResponse{}
	resp.Error.Code = string(err.Code)
	resp.Error.Message = err.Message
	resp.Error.Details = err.Details
	WriteJSON(w, err.Code.HTTPStatus(), resp)
}

// WriteError writes a generic ERR_INTERNAL response.
func WriteError(w http.ResponseWriter, statusCode int, message string) {
	resp := ErrorResponse{}
	resp.Error.Code = string(apperr.CodeInternal)
	resp.Error.Message = message
	WriteJSON(w, statusCode, resp)
}

// RequireMethod validates the HTTP method, writing a 405 and returning
// false if it doesn't match.
func RequireMethod(w http.ResponseWriter, r *http.Request, methods ...string) bool {
	for _, m := range methods {
		if r.Method == m {
			return true
		}
	}
	w.Header().Set("Allow", strings.Join(methods, ", "))
	WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
	return false
}

// DecodeJSON reads and decodes a JSON request body into v.
func DecodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if r.Body == nil {
		WriteError(w, http.StatusBadRequest, "request body is required")
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return false
	}
	return true
}

// PathParam extracts a single path segment between prefix and an
// optional suffix, e.g. PathParam(r, "/v1/command/", "/cancel").
func PathParam(r *http.Request, prefix, suffix string) string {
	path := r.URL.Path
	if !strings.HasPrefix(path, prefix) {
		return ""
	}
	rest := path[len(prefix):]
	if suffix != "" {
		idx := strings.Index(rest, suffix)
		if idx < 0 {
			return rest
		}
		return rest[:idx]
	}
	if idx := strings.Index(rest, "/"); idx >= 0 {
		return rest[:idx]
	}
	return rest
}
