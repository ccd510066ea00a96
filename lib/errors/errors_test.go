package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

// TestSentinelErrors verifies all sentinel errors are properly defined.
func TestSentinelErrors(t *testing.T) {
	sentinels := []struct {
		name string
		err  error
	}{
		{"ErrTimeout", ErrTimeout},
		{"ErrClosed", ErrClosed},
		{"ErrTerminated", ErrTerminated},
		{"ErrInvalidInput", ErrInvalidInput},
		{"ErrInvalidState", ErrInvalidState},
		{"ErrConnection", ErrConnection},
		{"ErrNotFound", ErrNotFound},
		{"ErrUnavailable", ErrUnavailable},
		{"ErrInternal", ErrInternal},
		{"ErrConfiguration", ErrConfiguration},
		{"ErrCircuitOpen", ErrCircuitOpen},
	}

	for _, tc := range sentinels {
		t.Run(tc.name, func(t *testing.T) {
			if tc.err == nil {
				t.Fatalf("%s should not be nil", tc.name)
			}
			if tc.err.Error() == "" {
				t.Errorf("%s should have a non-empty message", tc.name)
			}
		})
	}
}

// TestDomainErrors verifies the package-prefixed errors wrap their categories.
func TestDomainErrors(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wraps   error
		message string
	}{
		{"ErrPoolTerminated", ErrPoolTerminated, ErrTerminated, "pool: terminated"},
		{"ErrPoolTimeout", ErrPoolTimeout, ErrTimeout, "pool: timed out"},
		{"ErrNotTaken", ErrNotTaken, ErrInvalidState, "pool: holder not taken: invalid state"},
		{"ErrConnClosed", ErrConnClosed, ErrClosed, "proxy: connection closed"},
		{"ErrStmtClosed", ErrStmtClosed, ErrClosed, "proxy: statement closed"},
		{"ErrDataSourceTerminated", ErrDataSourceTerminated, ErrTerminated, "datasource: terminated"},
		{"ErrInvalidConfig", ErrInvalidConfig, ErrConfiguration, "datasource: configuration error"},
		{"ErrCircuitOpen", ErrCircuitOpen, ErrUnavailable, "circuit breaker is open: service unavailable"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if tc.err.Error() != tc.message {
				t.Errorf("expected message %q, got %q", tc.message, tc.err.Error())
			}
			if !errors.Is(tc.err, tc.wraps) {
				t.Errorf("%s should wrap %v", tc.name, tc.wraps)
			}
		})
	}
}

// TestAcquisitionErrorsDistinguishable ensures the three acquisition failure
// kinds never match each other.
func TestAcquisitionErrorsDistinguishable(t *testing.T) {
	kinds := []error{ErrPoolTimeout, ErrPoolTerminated, ErrCreateFailed}
	checks := []func(error) bool{IsTimeout, IsTerminated, IsCreateFailed}

	for i, err := range kinds {
		for j, check := range checks {
			if got := check(err); got != (i == j) {
				t.Errorf("check %d on %v = %v, want %v", j, err, got, i == j)
			}
		}
	}
}

func TestNew(t *testing.T) {
	err := New(CodeNotFound, "pool not found")

	if err.Code != CodeNotFound {
		t.Errorf("expected code %d, got %d", CodeNotFound, err.Code)
	}
	if err.Err != nil {
		t.Error("Err should be nil")
	}
	if err.Error() != "pool not found" {
		t.Errorf("expected error string %q, got %q", "pool not found", err.Error())
	}
	if err.SafeMessage() != "pool not found" {
		t.Errorf("expected safe message %q, got %q", "pool not found", err.SafeMessage())
	}
}

// TestWrap wraps an existing error.
func TestWrap(t *testing.T) {
	underlying := errors.New("dial postgres://app:secret@db:5432/app failed")
	err := Wrap(CodeConnection, "connection failed", underlying)

	if err.Code != CodeConnection {
		t.Errorf("expected code %d, got %d", CodeConnection, err.Code)
	}
	if err.Err != underlying {
		t.Error("Err should be the underlying error")
	}
	if err.SafeMessage() != "connection failed" {
		t.Errorf("SafeMessage should not include sensitive data, got %q", err.SafeMessage())
	}
	if errors.Unwrap(err) != underlying {
		t.Error("Unwrap should return the underlying error")
	}
}

func TestWrapNil(t *testing.T) {
	err := Wrap(CodeInternal, "test", nil)

	if err.Err != nil {
		t.Error("Err should be nil")
	}
	if err.Error() != "test" {
		t.Errorf("expected error string %q, got %q", "test", err.Error())
	}
}

func TestWrapInternal(t *testing.T) {
	sensitiveErr := errors.New("password authentication failed for user app")
	err := WrapInternal(sensitiveErr)

	if err.Code != CodeInternal {
		t.Errorf("expected code %d, got %d", CodeInternal, err.Code)
	}
	if err.SafeMessage() != "internal error" {
		t.Errorf("SafeMessage should hide sensitive data, got %q", err.SafeMessage())
	}
	if !errors.Is(err, sensitiveErr) {
		t.Error("should wrap underlying error for debugging")
	}
}

// TestFromSentinel creates error from sentinel.
func TestFromSentinel(t *testing.T) {
	tests := []struct {
		sentinel     error
		expectedCode int
		status       int
	}{
		{ErrPoolTimeout, CodeTimeout, http.StatusGatewayTimeout},
		{ErrPoolTerminated, CodeTerminated, http.StatusServiceUnavailable},
		{fmt.Errorf("attempt 3: %w", ErrCreateFailed), CodeCreate, http.StatusServiceUnavailable},
		{ErrCircuitOpen, CodeUnavailable, http.StatusServiceUnavailable},
		{ErrInvalidConfig, CodeConfiguration, http.StatusBadRequest},
		{ErrInvalidInput, CodeInvalidParams, http.StatusBadRequest},
		{ErrNotTaken, CodeState, http.StatusConflict},
		{ErrConnection, CodeConnection, http.StatusServiceUnavailable},
		{ErrNotFound, CodeNotFound, http.StatusNotFound},
		{ErrInternal, CodeInternal, http.StatusInternalServerError},
	}

	for _, tc := range tests {
		t.Run(tc.sentinel.Error(), func(t *testing.T) {
			err := FromSentinel(tc.sentinel)
			if err.Code != tc.expectedCode {
				t.Errorf("expected code %d, got %d", tc.expectedCode, err.Code)
			}
			if err.HTTPStatus() != tc.status {
				t.Errorf("expected status %d, got %d", tc.status, err.HTTPStatus())
			}
			if !errors.Is(err, tc.sentinel) {
				t.Error("should wrap sentinel error")
			}
		})
	}
}

func TestFromSentinelNil(t *testing.T) {
	if err := FromSentinel(nil); err != nil {
		t.Error("FromSentinel(nil) should return nil")
	}
}

func TestJoin(t *testing.T) {
	err1 := errors.New("first")
	err2 := errors.New("second")

	joined := Join(err1, err2)
	if joined == nil {
		t.Fatal("Join should return a non-nil error")
	}
	if !Is(joined, err1) || !Is(joined, err2) {
		t.Error("joined error should contain both errors")
	}
	if Join(nil, nil) != nil {
		t.Error("Join of nil errors should be nil")
	}
}

func TestAs(t *testing.T) {
	wrapped := fmt.Errorf("outer: %w", New(CodeState, "bad state"))

	var target *Error
	if !As(wrapped, &target) {
		t.Fatal("As should find *Error")
	}
	if target.Code != CodeState {
		t.Errorf("expected code %d, got %d", CodeState, target.Code)
	}
}
