package apierror

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/voxtutor/voxtutor/pkg/core"
)

func TestFromError_StatusMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{core.NewValidationError("bad"), http.StatusBadRequest},
		{core.NewNotFoundError("gone"), http.StatusNotFound},
		{core.NewConflictError("busy"), http.StatusConflict},
		{core.NewConnectionError("down", nil), http.StatusBadGateway},
		{core.NewCoordinatorTimeoutError("teaching", nil), http.StatusGatewayTimeout},
		{core.NewCoordinatorUnavailableError("grading"), http.StatusServiceUnavailable},
		{core.NewPersistenceError("db", nil), http.StatusInternalServerError},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{errors.New("mystery"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if _, status := FromError(tc.err); status != tc.status {
			t.Errorf("FromError(%v) status = %d, want %d", tc.err, status, tc.status)
		}
	}
}

func TestFromError_WrappedCoreError(t *testing.T) {
	err := fmt.Errorf("handler: %w", core.NewNotFoundError("no session"))
	coreErr, status := FromError(err)
	if status != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", status)
	}
	if coreErr.Type != core.ErrNotFound {
		t.Fatalf("type = %q", coreErr.Type)
	}
}

func TestFromError_UnknownErrorsDoNotLeak(t *testing.T) {
	coreErr, _ := FromError(errors.New("password is hunter2"))
	if coreErr.Message != "internal error" {
		t.Fatalf("expected opaque message, got %q", coreErr.Message)
	}
}

func TestWrite_Envelope(t *testing.T) {
	rec := httptest.NewRecorder()
	Write(rec, core.NewValidationErrorWithParam("day is required", "day"))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	var env Envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Error == nil || env.Error.Param != "day" {
		t.Fatalf("unexpected envelope: %+v", env.Error)
	}
}
