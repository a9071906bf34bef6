package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"dispatch/internal/types"
)

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorDetail {
	t.Helper()
	var resp APIErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal error body: %v", err)
	}
	return resp.Error
}

func TestJSON_Success(t *testing.T) {
	rec := httptest.NewRecorder()
	JSON(rec, httptest.NewRequest(http.MethodGet, "/", nil), http.StatusOK, map[string]int{"n": 1})

	if rec.Code != http.StatusOK || rec.Body.String() != `{"n":1}` {
		t.Errorf("got %d %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
}

func TestJSON_MarshalFailure(t *testing.T) {
	rec := httptest.NewRecorder()
	JSON(rec, httptest.NewRequest(http.MethodGet, "/", nil), http.StatusOK, math.NaN())

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
	if got := decodeError(t, rec); got.Code != string(types.ErrCodeInternalUnexpected) {
		t.Errorf("code = %q", got.Code)
	}
}

func TestError_StatusMapping(t *testing.T) {
	tests := []struct {
		code types.ErrorCode
		want int
	}{
		{types.ErrCodeValidationInvalidParam, http.StatusBadRequest},
		{types.ErrCodeDecodeMalformed, http.StatusUnprocessableEntity},
		{types.ErrCodeRelayStopped, http.StatusServiceUnavailable},
		{types.ErrCodeUpstreamConnectionLost, http.StatusServiceUnavailable},
		{types.ErrCodeUpstreamMetricsRejected, http.StatusBadGateway},
		{types.ErrCodeInternalDB, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			rec := httptest.NewRecorder()
			Error(rec, httptest.NewRequest(http.MethodGet, "/", nil), types.NewAppError(tt.code, "msg", nil))

			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
			if got := decodeError(t, rec); got.Code != string(tt.code) || got.Message != "msg" {
				t.Errorf("detail = %+v", got)
			}
		})
	}
}

func TestError_WrappedAppErrorKeepsDetails(t *testing.T) {
	appErr := types.NewAppErrorWithDetails(types.ErrCodeDecodeMalformed, "bad payload", nil, map[string]any{"field": "id"})
	rec := httptest.NewRecorder()
	Error(rec, httptest.NewRequest(http.MethodGet, "/", nil), fmt.Errorf("handler: %w", appErr))

	got := decodeError(t, rec)
	if got.Code != string(types.ErrCodeDecodeMalformed) || got.Details["field"] != "id" {
		t.Errorf("detail = %+v", got)
	}
}

func TestError_GenericErrorHidesMessage(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(types.WithRequestID(req.Context(), "req_1"))
	rec := httptest.NewRecorder()
	Error(rec, req, errors.New("pq: password authentication failed"))

	got := decodeError(t, rec)
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
	if got.Message != "an unexpected error occurred" || got.RequestID != "req_1" {
		t.Errorf("detail = %+v", got)
	}
}
