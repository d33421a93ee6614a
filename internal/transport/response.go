// Package transport contains the HTTP router, middleware chain, and all
// request handlers of the board API.
package transport

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/pitabwire/catalogboard/model"
)

// statusForCode maps ErrorEnvelope codes to HTTP status codes.
var statusForCode = map[string]int{
	model.ErrBadRequest:         http.StatusBadRequest,
	model.ErrUnauthorized:       http.StatusUnauthorized,
	model.ErrForbidden:          http.StatusForbidden,
	model.ErrNotFound:           http.StatusNotFound,
	model.ErrConflict:           http.StatusConflict,
	model.ErrValidationError:    http.StatusUnprocessableEntity,
	model.ErrInternalError:      http.StatusInternalServerError,
	model.ErrBackendUnavailable: http.StatusBadGateway,
	model.ErrBackendTimeout:     http.StatusGatewayTimeout,
	model.ErrRemoteRejection:    http.StatusUnprocessableEntity,
	model.ErrFetchFailure:       http.StatusBadGateway,
	model.ErrMovePending:        http.StatusConflict,
	model.ErrSessionNotFound:    http.StatusNotFound,
}

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

// WriteError writes err as a JSON error response. Errors that do not wrap an
// *ErrorEnvelope become a generic 500 so internals never leak.
func WriteError(w http.ResponseWriter, err error) {
	var ee *model.ErrorEnvelope
	if !errors.As(err, &ee) {
		ee = model.NewInternalError()
	}

	status := statusForCode[ee.Code]
	if status == 0 {
		status = http.StatusInternalServerError
	}

	type errorResponse struct {
		Error *model.ErrorEnvelope `json:"error"`
	}
	WriteJSON(w, status, errorResponse{Error: ee})
}

// writeError writes err and logs it when it is not a client error. The
// envelope carries the request's trace id.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var ee *model.ErrorEnvelope
	if errors.As(err, &ee) {
		if status := statusForCode[ee.Code]; status != 0 && status < http.StatusInternalServerError {
			WriteError(w, err)
			return
		}
		clone := *ee
		ee = &clone
	} else {
		ee = model.NewInternalError()
	}
	if rctx := model.RequestContextFrom(r.Context()); rctx != nil {
		ee.TraceID = rctx.TraceID
	}
	requestLogger(r).Warn("request failed", zap.Error(err))
	WriteError(w, ee)
}

// decodeJSON decodes a size-limited JSON body into v. An empty body leaves v
// untouched.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return model.NewBadRequestError("invalid JSON body")
	}
	return nil
}

const maxBodyBytes = 1 << 20
