package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/iho/goledger-velocity/internal/adapter/http/dto"
	"github.com/iho/goledger-velocity/internal/domain"
	"github.com/iho/goledger-velocity/internal/policy"
)

func TestMapDomainError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{"limit exceeded", &domain.LimitExceededError{}, http.StatusUnprocessableEntity},
		{"condition evaluation", &domain.ConditionEvaluationError{Expression: "x", Err: errors.New("no such key")}, http.StatusBadRequest},
		{"invalid spec", fmt.Errorf("control c: %w", policy.ErrInvalidSpec), http.StatusBadRequest},
		{"invalid request", dto.ErrInvalidRequest, http.StatusBadRequest},
		{"retryable persistence", &domain.PersistenceError{Op: "find for update", Err: errors.New("lock timeout"), Retryable: true}, http.StatusServiceUnavailable},
		{"permanent persistence", &domain.PersistenceError{Op: "commit", Err: errors.New("closed")}, http.StatusInternalServerError},
		{"unknown error", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := mapDomainError(tt.err); got != tt.expected {
				t.Fatalf("expected %d, got %d", tt.expected, got)
			}
		})
	}
}

func TestWriteJSON(t *testing.T) {
	rr := httptest.NewRecorder()
	payload := map[string]string{"status": "ok"}

	writeJSON(rr, http.StatusCreated, payload)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d", rr.Code)
	}

	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("expected content-type application/json, got %s", ct)
	}

	var decoded map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &decoded); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if decoded["status"] != "ok" {
		t.Fatalf("expected payload to round-trip, got %+v", decoded)
	}
}

func TestWriteError(t *testing.T) {
	rr := httptest.NewRecorder()

	writeError(rr, http.StatusBadRequest, "bad request", "detail")

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}

	var resp dto.ErrorResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}

	if resp.Error != "bad request" {
		t.Fatalf("expected error message to propagate, got %+v", resp)
	}
}
