package adminapi

import (
	"encoding/json"
	"net/http"

	"github.com/cuemby/gatewayd/pkg/gwerr"
)

// Respond writes a JSON response with the given status code.
func Respond(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(data)
}

// ErrorResponse is the standard JSON error envelope, carrying the gwerr.Kind
// so API clients can branch on it without parsing the message.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// RespondError writes a JSON error response with a status and message
// derived only from err's gwerr.Kind — the underlying error's message is
// never forwarded to the client.
func RespondError(w http.ResponseWriter, err error) {
	kind := gwerr.KindOf(err)
	Respond(w, statusForKind(kind), ErrorResponse{
		Error:   string(kind),
		Message: messageForKind(kind),
	})
}

func statusForKind(kind gwerr.Kind) int {
	switch kind {
	case gwerr.InvalidProjectName:
		return http.StatusBadRequest
	case gwerr.ProjectNotFound:
		return http.StatusNotFound
	case gwerr.ProjectAlreadyExists:
		return http.StatusConflict
	case gwerr.ProjectUnavailable:
		return http.StatusConflict
	case gwerr.ServiceUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func messageForKind(kind gwerr.Kind) string {
	switch kind {
	case gwerr.InvalidProjectName:
		return "project name is invalid"
	case gwerr.ProjectNotFound:
		return "project not found"
	case gwerr.ProjectAlreadyExists:
		return "project already exists"
	case gwerr.ProjectUnavailable:
		return "project is not currently available, retry shortly"
	case gwerr.ServiceUnavailable:
		return "service is shutting down or overloaded"
	default:
		return "internal error"
	}
}
