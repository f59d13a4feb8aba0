package utils

import (
	"encoding/json"
	"net/http"

	"chatwire/pkg/chaterr"
)

// JSONError writes a JSON error response with the given status code and
// message. It ensures the Content-Type is set to application/json.
func JSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// JSONDomainError writes a domain error with its mapped status, caller-safe
// message and taxonomy code.
func JSONDomainError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(chaterr.HTTPStatus(err))
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error": chaterr.MessageOf(err),
		"code":  string(chaterr.CodeOf(err)),
	})
}

// JSONWrite writes the provided value as JSON with the given status code.
func JSONWrite(w http.ResponseWriter, status int, v interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	if status != 0 {
		w.WriteHeader(status)
	}
	return json.NewEncoder(w).Encode(v)
}
