// Package httpx provides the JSON envelope used by every HTTP response.
package httpx

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/orcamentos/orcamentos/internal/shared"
)

// Envelope is the shared response body shape.
type Envelope map[string]any

// JSON sends a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// OK writes {success:true, data} with status 200.
func OK(w http.ResponseWriter, data any) {
	JSON(w, http.StatusOK, Envelope{"success": true, "data": data})
}

// Created writes {success:true, data} with status 201.
func Created(w http.ResponseWriter, data any) {
	JSON(w, http.StatusCreated, Envelope{"success": true, "data": data})
}

// Message writes {success:true, data:null, message} with status 200.
func Message(w http.ResponseWriter, message string) {
	JSON(w, http.StatusOK, Envelope{"success": true, "data": nil, "message": message})
}

// Fail writes {success:false, message, error?, ...context}.
func Fail(w http.ResponseWriter, status int, code, message string, context Envelope) {
	body := Envelope{"success": false, "message": message}
	if code != "" {
		body["error"] = code
	}
	for k, v := range context {
		body[k] = v
	}
	JSON(w, status, body)
}

// ErrEmptyBody is returned by DecodeJSON when no body was sent.
var ErrEmptyBody = fmt.Errorf("%w: request body is empty", shared.ErrValidation)

// DecodeJSON decodes JSON request body into the target struct. Failures unwrap to
// shared.ErrValidation.
func DecodeJSON(r *http.Request, target any) error {
	if r.Body == nil {
		return ErrEmptyBody
	}
	if err := json.NewDecoder(r.Body).Decode(target); err != nil {
		if errors.Is(err, io.EOF) {
			return ErrEmptyBody
		}
		return shared.NewValidationError("body", "JSON inválido")
	}
	return nil
}

// IDParam parses a positive int64 chi URL parameter.
func IDParam(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, shared.NewValidationError(name, "identificador inválido")
	}
	return id, nil
}
