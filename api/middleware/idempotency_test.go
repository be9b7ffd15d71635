package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	pkgerrors "github.com/angelmondragon/shiftpay-backend/pkg/errors"
	"github.com/angelmondragon/shiftpay-backend/pkg/types"
)

type fakeStore struct {
	data map[string]string
}

func newFakeStore() *fakeStore {
	return &fakeStore{data: make(map[string]string)}
}

func (f *fakeStore) Get(_ context.Context, key string) (string, error) {
	if v, ok := f.data[key]; ok {
		return v, nil
	}
	return "", redis.Nil
}

func (f *fakeStore) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	if _, ok := f.data[key]; ok {
		return false, nil
	}
	str, _ := value.(string)
	f.data[key] = str
	return true, nil
}

func (f *fakeStore) Del(_ context.Context, keys ...string) error {
	for _, key := range keys {
		delete(f.data, key)
	}
	return nil
}

func (f *fakeStore) IdempotencyKey(scope, id string) string {
	return fmt.Sprintf("fake:%s:%s", scope, id)
}

const releasePath = "/api/v1/payments/6f1c2a7e-0000-4000-8000-000000000001/release"

func adminRequest(method, url, body, key string) *http.Request {
	req := httptest.NewRequest(method, url, strings.NewReader(body))
	if key != "" {
		req.Header.Set(IdempotencyHeader, key)
	}
	return req.WithContext(WithActor(req.Context(), types.AdminActor("ops-1")))
}

func TestRouteTTLSelection(t *testing.T) {
	tests := []struct {
		name   string
		method string
		path   string
		want   time.Duration
		ok     bool
	}{
		{"open escrow", http.MethodPost, "/api/v1/payments", criticalIdempotencyTTL, true},
		{"release", http.MethodPost, releasePath, criticalIdempotencyTTL, true},
		{"refund", http.MethodPost, "/api/v1/payments/abc/refunds", criticalIdempotencyTTL, true},
		{"hold", http.MethodPost, "/api/v1/payments/abc/hold/", defaultIdempotencyTTL, true},
		{"resolve", http.MethodPost, "/api/v1/disputes/abc/resolve", criticalIdempotencyTTL, true},
		{"release due", http.MethodPost, "/api/v1/payments/release-due", defaultIdempotencyTTL, true},
		{"payout method", http.MethodPut, "/api/v1/payout-methods", defaultIdempotencyTTL, true},
		{"read", http.MethodGet, "/api/v1/payments/abc", 0, false},
		{"nested too deep", http.MethodPost, "/api/v1/payments/abc/release/extra", 0, false},
		{"wrong method", http.MethodPut, "/api/v1/payments", 0, false},
	}

	for _, tt := range tests {
		ttl, ok := routeTTL(tt.method, tt.path)
		if ok != tt.ok {
			t.Fatalf("%s: expected ok=%v got %v", tt.name, tt.ok, ok)
		}
		if ok && ttl != tt.want {
			t.Fatalf("%s: expected ttl=%v got %v", tt.name, tt.want, ttl)
		}
	}
}

func TestIdempotencyMiddlewareRequiresHeader(t *testing.T) {
	mw := Idempotency(newFakeStore(), nil)
	handlerCalled := false
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlerCalled = true
		w.WriteHeader(http.StatusOK)
	})

	resp := httptest.NewRecorder()
	mw(handler).ServeHTTP(resp, adminRequest(http.MethodPost, releasePath, `{}`, ""))

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
	if handlerCalled {
		t.Fatalf("handler should not run without idempotency key")
	}
}

func TestIdempotencyMiddlewareReplaysStoredResponse(t *testing.T) {
	mw := Idempotency(newFakeStore(), nil)
	var calls int
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"data":{"status":"released"}}`))
	})

	resp := httptest.NewRecorder()
	mw(handler).ServeHTTP(resp, adminRequest(http.MethodPost, releasePath, `{"override":true}`, "abc"))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected first response 200 got %d", resp.Code)
	}

	rec := httptest.NewRecorder()
	mw(handler).ServeHTTP(rec, adminRequest(http.MethodPost, releasePath, `{"override":true}`, "abc"))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected replay status 200 got %d", rec.Code)
	}
	if rec.Header().Get("Content-Type") != "application/json" {
		t.Fatalf("expected content-type header preserved")
	}
	if rec.Header().Get(replayedHeader) != "true" {
		t.Fatalf("expected replay marker header")
	}
	if strings.TrimSpace(rec.Body.String()) != `{"data":{"status":"released"}}` {
		t.Fatalf("expected stored body got %s", rec.Body.String())
	}
	if calls != 1 {
		t.Fatalf("handler executed %d times, expected 1", calls)
	}
}

func TestIdempotencyMiddlewareScopesByActor(t *testing.T) {
	mw := Idempotency(newFakeStore(), nil)
	var calls int
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	})

	mw(handler).ServeHTTP(httptest.NewRecorder(), adminRequest(http.MethodPost, releasePath, `{}`, "same"))

	other := httptest.NewRequest(http.MethodPost, releasePath, strings.NewReader(`{}`))
	other.Header.Set(IdempotencyHeader, "same")
	other = other.WithContext(WithActor(other.Context(), types.AdminActor("ops-2")))
	mw(handler).ServeHTTP(httptest.NewRecorder(), other)

	if calls != 2 {
		t.Fatalf("expected keys to be scoped per actor, handler ran %d times", calls)
	}
}

func TestIdempotencyMiddlewareDoesNotStoreServerErrors(t *testing.T) {
	store := newFakeStore()
	mw := Idempotency(store, nil)
	var calls int
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	mw(handler).ServeHTTP(httptest.NewRecorder(), adminRequest(http.MethodPost, releasePath, `{}`, "retry-me"))
	rec := httptest.NewRecorder()
	mw(handler).ServeHTTP(rec, adminRequest(http.MethodPost, releasePath, `{}`, "retry-me"))

	if calls != 2 || rec.Code != http.StatusOK {
		t.Fatalf("expected retry to reach handler, calls=%d code=%d", calls, rec.Code)
	}
	if len(store.data) != 1 {
		t.Fatalf("expected only the success to be stored, have %d", len(store.data))
	}
}

func TestIdempotencyMiddlewareDetectsBodyChange(t *testing.T) {
	mw := Idempotency(newFakeStore(), nil)
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	mw(handler).ServeHTTP(httptest.NewRecorder(), adminRequest(http.MethodPost, "/api/v1/payments/abc/refunds", `{"amount_cents":100}`, "xyz"))

	resp := httptest.NewRecorder()
	mw(handler).ServeHTTP(resp, adminRequest(http.MethodPost, "/api/v1/payments/abc/refunds", `{"amount_cents":900}`, "xyz"))

	if resp.Code != http.StatusConflict {
		t.Fatalf("expected 409 got %d", resp.Code)
	}
	var payload struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &payload); err != nil {
		t.Fatalf("parse error response: %v", err)
	}
	if payload.Error.Code != string(pkgerrors.CodeIdempotency) {
		t.Fatalf("expected error code %s got %s", pkgerrors.CodeIdempotency, payload.Error.Code)
	}
}
