// Package apierror maps canonical errors to HTTP responses.
package apierror

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/voxtutor/voxtutor/pkg/core"
)

type Envelope struct {
	Error *core.Error `json:"error"`
}

// FromError converts any error to its canonical form and HTTP status.
func FromError(err error) (*core.Error, int) {
	if err == nil {
		return nil, http.StatusOK
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &core.Error{
			Type:    core.ErrCoordinatorTimeout,
			Message: "request timeout",
		}, http.StatusGatewayTimeout
	}
	if errors.Is(err, context.Canceled) {
		return &core.Error{
			Type:    core.ErrInternal,
			Message: "request cancelled",
			Code:    "cancelled",
		}, http.StatusRequestTimeout
	}

	var coreErr *core.Error
	if errors.As(err, &coreErr) && coreErr != nil {
		out := *coreErr
		return &out, StatusFromType(coreErr.Type)
	}

	// Unknown errors: do not leak details.
	return &core.Error{
		Type:    core.ErrInternal,
		Message: "internal error",
	}, http.StatusInternalServerError
}

// StatusFromType maps an error type to an HTTP status code.
func StatusFromType(t core.ErrorType) int {
	switch t {
	case core.ErrValidation:
		return http.StatusBadRequest
	case core.ErrNotFound:
		return http.StatusNotFound
	case core.ErrConflict:
		return http.StatusConflict
	case core.ErrConnection:
		return http.StatusBadGateway
	case core.ErrCoordinatorTimeout:
		return http.StatusGatewayTimeout
	case core.ErrCoordinatorUnavailable:
		return http.StatusServiceUnavailable
	case core.ErrPersistence:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// Write renders an error as the JSON envelope.
func Write(w http.ResponseWriter, err error) {
	coreErr, status := FromError(err)
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Envelope{Error: coreErr})
}
