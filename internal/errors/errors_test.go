package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http/httptest"
	"testing"
)

func TestNew(t *testing.T) {
	e := New(400, "bad request")
	if e.Code != 400 {
		t.Errorf("Code = %d, want 400", e.Code)
	}
	if e.Message != "bad request" {
		t.Errorf("Message = %q, want %q", e.Message, "bad request")
	}
	if e.Error() != "bad request" {
		t.Errorf("Error() = %q, want %q", e.Error(), "bad request")
	}
}

func TestWrap(t *testing.T) {
	inner := fmt.Errorf("connection refused")
	e := Wrap(inner, 502, "upstream error")

	if e.Code != 502 {
		t.Errorf("Code = %d, want 502", e.Code)
	}

	want := "upstream error: connection refused"
	if e.Error() != want {
		t.Errorf("Error() = %q, want %q", e.Error(), want)
	}

	if !errors.Is(e, inner) {
		t.Error("errors.Is should find the underlying error")
	}
}

func TestUnwrapNil(t *testing.T) {
	e := New(404, "not found")
	if e.Unwrap() != nil {
		t.Error("Unwrap on a non-wrapped error should return nil")
	}
}

func TestWithDetailsAndRequestID(t *testing.T) {
	e := ErrBadGateway.WithDetails("upstream unreachable").WithRequestID("req-123")

	if e.Details != "upstream unreachable" {
		t.Errorf("Details = %q", e.Details)
	}
	if e.RequestID != "req-123" {
		t.Errorf("RequestID = %q", e.RequestID)
	}
	// The singleton must remain untouched
	if ErrBadGateway.Details != "" || ErrBadGateway.RequestID != "" {
		t.Error("WithDetails/WithRequestID must not mutate the base error")
	}
}

func TestWriteJSONPreSerialized(t *testing.T) {
	rec := httptest.NewRecorder()
	ErrBadGateway.WriteJSON(rec)

	if rec.Code != 502 {
		t.Errorf("status = %d, want 502", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}

	var body EdgeError
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON body: %v", err)
	}
	if body.Code != 502 || body.Message != "Bad Gateway" {
		t.Errorf("body = %+v", body)
	}
}

func TestWriteJSONDerived(t *testing.T) {
	rec := httptest.NewRecorder()
	ErrBadGateway.WithRequestID("abc").WriteJSON(rec)

	var body EdgeError
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON body: %v", err)
	}
	if body.RequestID != "abc" {
		t.Errorf("RequestID = %q, want abc", body.RequestID)
	}
}

func TestIsEdgeError(t *testing.T) {
	if _, ok := IsEdgeError(fmt.Errorf("plain")); ok {
		t.Error("plain error misidentified as EdgeError")
	}
	if e, ok := IsEdgeError(ErrNotFound); !ok || e != ErrNotFound {
		t.Error("EdgeError not identified")
	}
}
