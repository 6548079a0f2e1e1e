// Package httputil centralizes JSON encoding and domain error translation so
// handlers stay thin and error envelopes stay consistent.
package httputil

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	derrors "chronoseal/pkg/domain-errors"
)

// maxBodyBytes bounds request bodies; evidence digests and clock events are
// small, anything larger is a client error.
const maxBodyBytes = 1 << 20

type errorEnvelope struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// WriteJSON writes v as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError translates a domain error into the JSON error envelope. Internal
// errors omit the description so infrastructure details never leak to clients.
func WriteError(w http.ResponseWriter, err error) {
	code := derrors.CodeOf(err)
	status := derrors.ToHTTPStatus(code)

	envelope := errorEnvelope{Error: string(code)}
	var de *derrors.Error
	if errors.As(err, &de) && code != derrors.CodeInternal {
		envelope.ErrorDescription = de.Message
	}
	WriteJSON(w, status, envelope)
}

// Decode reads and unmarshals a JSON request body into T. Returns a
// bad_request domain error on malformed input.
func Decode[T any](r *http.Request) (T, error) {
	var v T
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return v, derrors.Wrap(err, derrors.CodeBadRequest, "read request body")
	}
	if len(body) == 0 {
		return v, derrors.New(derrors.CodeBadRequest, "empty request body")
	}
	if err := json.Unmarshal(body, &v); err != nil {
		return v, derrors.Wrap(err, derrors.CodeBadRequest, "malformed JSON body")
	}
	return v, nil
}
