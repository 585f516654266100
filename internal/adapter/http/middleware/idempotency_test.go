package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/mock/gomock"

	"github.com/iho/goledger-velocity/internal/adapter/repository/redis"
	"github.com/iho/goledger-velocity/internal/usecase/mocks"
)

func newIdempotencyRequest(key string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/velocity/operations", bytes.NewBufferString(`{}`))
	req.Header.Set(IdempotencyKeyHeader, key)
	return req
}

func TestIdempotencyMiddleware_StoreErrorFailsRequest(t *testing.T) {
	store := mocks.NewMockIdempotencyStore(gomock.NewController(t))
	store.EXPECT().CheckAndSet(gomock.Any(), "key-err", nil, time.Hour).Return(false, nil, context.DeadlineExceeded)

	mw := NewIdempotencyMiddleware(store, time.Hour, nil, zerolog.Nop())
	rr := httptest.NewRecorder()

	called := false
	mw.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	})).ServeHTTP(rr, newIdempotencyRequest("key-err"))

	if called {
		t.Fatalf("handler should not be called when store errors")
	}
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected status 500, got %d", rr.Code)
	}
}

func TestIdempotencyMiddleware_ReleasesKeyOnServerError(t *testing.T) {
	store := mocks.NewMockIdempotencyStore(gomock.NewController(t))
	store.EXPECT().CheckAndSet(gomock.Any(), "key-fail", nil, time.Hour).Return(false, nil, nil)
	store.EXPECT().Delete(gomock.Any(), "key-fail").Return(nil)

	mw := NewIdempotencyMiddleware(store, time.Hour, nil, zerolog.Nop())
	rr := httptest.NewRecorder()

	mw.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})).ServeHTTP(rr, newIdempotencyRequest("key-fail"))

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}
}

func TestIdempotencyMiddleware_SkipsNonMutatingRequests(t *testing.T) {
	store := mocks.NewMockIdempotencyStore(gomock.NewController(t))
	mw := NewIdempotencyMiddleware(store, 0, nil, zerolog.Nop())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(IdempotencyKeyHeader, "ignored")
	rr := httptest.NewRecorder()

	called := false
	mw.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	})).ServeHTTP(rr, req)

	if !called {
		t.Fatalf("expected next handler to be called")
	}
}

func TestIdempotencyMiddleware_ReplaysStoredOutcome(t *testing.T) {
	stored, _ := json.Marshal(cachedResponse{
		Status:      http.StatusUnprocessableEntity,
		ContentType: "application/json",
		Body:        []byte(`{"error":"velocity limit exceeded"}`),
	})

	store := mocks.NewMockIdempotencyStore(gomock.NewController(t))
	store.EXPECT().CheckAndSet(gomock.Any(), "key-123", nil, time.Hour).Return(true, stored, nil)

	mw := NewIdempotencyMiddleware(store, time.Hour, nil, zerolog.Nop())
	rr := httptest.NewRecorder()

	mw.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("handler should not be called when a stored outcome exists")
	})).ServeHTTP(rr, newIdempotencyRequest("key-123"))

	if rr.Header().Get("X-Idempotency-Replay") != "true" {
		t.Fatalf("expected X-Idempotency-Replay header to be set")
	}
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected replayed status 422, got %d", rr.Code)
	}
	if got := rr.Body.String(); got != `{"error":"velocity limit exceeded"}` {
		t.Fatalf("unexpected replayed body: %s", got)
	}
}

func TestIdempotencyMiddleware_InFlightConflict(t *testing.T) {
	store := mocks.NewMockIdempotencyStore(gomock.NewController(t))
	store.EXPECT().CheckAndSet(gomock.Any(), "key-busy", nil, time.Hour).Return(true, []byte(redis.PendingMarker), nil)

	mw := NewIdempotencyMiddleware(store, time.Hour, nil, zerolog.Nop())
	rr := httptest.NewRecorder()

	mw.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("handler should not be called while the key is in flight")
	})).ServeHTTP(rr, newIdempotencyRequest("key-busy"))

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}
}

func TestIdempotencyMiddleware_StoresOutcome(t *testing.T) {
	var stored []byte
	store := mocks.NewMockIdempotencyStore(gomock.NewController(t))
	store.EXPECT().CheckAndSet(gomock.Any(), "key-new", nil, time.Hour).Return(false, nil, nil)
	store.EXPECT().Update(gomock.Any(), "key-new", gomock.Any(), time.Hour).
		DoAndReturn(func(_ context.Context, _ string, response []byte, _ time.Duration) error {
			stored = response
			return nil
		})

	mw := NewIdempotencyMiddleware(store, time.Hour, nil, zerolog.Nop())
	rr := httptest.NewRecorder()

	mw.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"accepted"}`))
	})).ServeHTTP(rr, newIdempotencyRequest("key-new"))

	var cached cachedResponse
	if err := json.Unmarshal(stored, &cached); err != nil {
		t.Fatalf("expected stored response to decode: %v", err)
	}
	if cached.Status != http.StatusOK || string(cached.Body) != `{"status":"accepted"}` {
		t.Fatalf("unexpected stored response %+v", cached)
	}
}

func TestIdempotencyMiddleware_UpdateFailureReleasesKey(t *testing.T) {
	store := mocks.NewMockIdempotencyStore(gomock.NewController(t))
	store.EXPECT().CheckAndSet(gomock.Any(), "key-new", nil, time.Hour).Return(false, nil, nil)
	store.EXPECT().Update(gomock.Any(), "key-new", gomock.Any(), time.Hour).Return(errors.New("redis down"))
	store.EXPECT().Delete(gomock.Any(), "key-new").Return(nil)

	mw := NewIdempotencyMiddleware(store, time.Hour, nil, zerolog.Nop())
	rr := httptest.NewRecorder()

	mw.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})).ServeHTTP(rr, newIdempotencyRequest("key-new"))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected handler response to pass through, got %d", rr.Code)
	}
}
