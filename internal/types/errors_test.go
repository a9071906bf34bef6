package types

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

// TestAppErrorErrorFormat verifies Error() renders "code: message" and appends
// the cause when there is one.
func TestAppErrorErrorFormat(t *testing.T) {
	appErr := &AppError{Code: ErrCodeDecodeMissingID, Message: "notification payload has no id"}
	if got, want := appErr.Error(), "decode_missing_id: notification payload has no id"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}

	wrapped := NewAppError(ErrCodeUpstreamConnectionLost, "notification stream failed", errors.New("conn closed"))
	if got, want := wrapped.Error(), "upstream_connection_lost: notification stream failed: conn closed"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

// TestAppErrorUnwrap verifies the error chain support via Unwrap.
func TestAppErrorUnwrap(t *testing.T) {
	underlying := errors.New("database connection failed")
	appErr := NewAppError(ErrCodeInternalDB, "failed to install trigger", underlying)

	if !errors.Is(appErr, underlying) {
		t.Error("errors.Is should find the underlying error")
	}
	if NewAppError(ErrCodeRelayStopped, "stopped", nil).Unwrap() != nil {
		t.Error("Unwrap() should return nil when Err is nil")
	}
}

// TestAppErrorErrorsAs verifies errors.As extracts an AppError from a chain.
func TestAppErrorErrorsAs(t *testing.T) {
	wrappedErr := fmt.Errorf("relay: %w", NewAppError(ErrCodeRelayNotStarted, "not started", nil))

	var target *AppError
	if !errors.As(wrappedErr, &target) {
		t.Fatal("errors.As should find AppError in the chain")
	}
	if target.Code != ErrCodeRelayNotStarted {
		t.Errorf("Code = %q", target.Code)
	}
}

func TestAppErrorWithDetails(t *testing.T) {
	original := NewAppErrorWithDetails(ErrCodeDecodeMalformed, "bad field", nil, map[string]any{"field": "id"})
	enhanced := original.WithDetails(map[string]any{"expected": "int64"})

	if enhanced.Details["field"] != "id" || enhanced.Details["expected"] != "int64" {
		t.Errorf("Details = %v", enhanced.Details)
	}
	if _, ok := original.Details["expected"]; ok {
		t.Error("WithDetails must not mutate the original")
	}
}

// TestErrorCodeHTTPStatusMapping covers every error code category.
func TestErrorCodeHTTPStatusMapping(t *testing.T) {
	tests := []struct {
		code       ErrorCode
		wantStatus int
	}{
		{ErrCodeValidationInvalidParam, http.StatusBadRequest},
		{ErrCodeDecodeMalformed, http.StatusUnprocessableEntity},
		{ErrCodeDecodeMissingID, http.StatusUnprocessableEntity},
		{ErrCodeRelayStopped, http.StatusServiceUnavailable},
		{ErrCodeRelayNotStarted, http.StatusServiceUnavailable},
		{ErrCodeUpstreamConnectionLost, http.StatusServiceUnavailable},
		{ErrCodeUpstreamUnavailable, http.StatusServiceUnavailable},
		{ErrCodeUpstreamMetricsRejected, http.StatusBadGateway},
		{ErrCodeInternalDB, http.StatusInternalServerError},
		{ErrCodeInternalUnexpected, http.StatusInternalServerError},
		{ErrorCode("totally_unknown_error"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			if got := tt.code.HTTPStatus(); got != tt.wantStatus {
				t.Errorf("ErrorCode(%q).HTTPStatus() = %d, want %d", tt.code, got, tt.wantStatus)
			}
		})
	}
}

func TestCodeOf(t *testing.T) {
	if got := CodeOf(fmt.Errorf("x: %w", NewAppError(ErrCodeDecodeMissingID, "m", nil))); got != ErrCodeDecodeMissingID {
		t.Errorf("CodeOf() = %q", got)
	}
	if got := CodeOf(errors.New("plain")); got != "" {
		t.Errorf("CodeOf(plain) = %q, want empty", got)
	}
	if got := CodeOf(nil); got != "" {
		t.Errorf("CodeOf(nil) = %q, want empty", got)
	}
}
