package httpapi

import "net/http"

// APIError is the body of every non-2xx answer.
type APIError struct {
	Error struct {
		Code      string `json:"code"`
		Message   string `json:"message"`
		RequestID string `json:"request_id,omitempty"`
	} `json:"error"`
}

func newAPIError(code, message, requestID string) APIError {
	var e APIError
	e.Error.Code = code
	e.Error.Message = message
	e.Error.RequestID = requestID
	return e
}

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	writeJSON(w, v)
}

func WriteError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	WriteJSON(w, status, newAPIError(code, message, RequestIDFrom(r.Context())))
}
