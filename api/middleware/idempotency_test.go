package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/freightlane-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/freightlane-backend/pkg/errors"
	"github.com/angelmondragon/freightlane-backend/pkg/types"
)

type memoryIdempotency struct {
	data map[string]string
	ttls map[string]time.Duration
}

func newMemoryIdempotency() *memoryIdempotency {
	return &memoryIdempotency{data: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (m *memoryIdempotency) Get(_ context.Context, key string) (string, error) {
	if v, ok := m.data[key]; ok {
		return v, nil
	}
	return "", redis.Nil
}

func (m *memoryIdempotency) SetNX(_ context.Context, key string, value any, ttl time.Duration) (bool, error) {
	if _, ok := m.data[key]; ok {
		return false, nil
	}
	m.data[key] = value.(string)
	m.ttls[key] = ttl
	return true, nil
}

func (m *memoryIdempotency) Del(_ context.Context, keys ...string) error {
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}

func (m *memoryIdempotency) IdempotencyKey(scope, id string) string { return scope + "#" + id }

const transitionPath = "/api/v1/assignments/a1/transitions"

func post(key, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, transitionPath, strings.NewReader(body))
	if key != "" {
		req.Header.Set(IdempotencyHeader, key)
	}
	return req
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var env types.ErrorEnvelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return env.Error.Code
}

func TestIdempotencyGuardRequiresKey(t *testing.T) {
	guard := NewIdempotencyGuard(newMemoryIdempotency(), nil)
	ran := false
	h := guard.For(LongReplayWindow)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { ran = true }))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, post("", `{}`))
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.False(t, ran)

	w = httptest.NewRecorder()
	h.ServeHTTP(w, post(strings.Repeat("k", 256), `{}`))
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestIdempotencyGuardReplaysFirstReply(t *testing.T) {
	store := newMemoryIdempotency()
	calls := 0
	h := NewIdempotencyGuard(store, nil).For(LongReplayWindow)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"data":{"effectiveStatus":"loading"}}`))
	}))

	first := httptest.NewRecorder()
	h.ServeHTTP(first, post("k1", `{"targetStatus":"loading"}`))
	require.Equal(t, http.StatusCreated, first.Code)

	again := httptest.NewRecorder()
	h.ServeHTTP(again, post("k1", `{"targetStatus":"loading"}`))
	require.Equal(t, http.StatusCreated, again.Code)
	require.Equal(t, "application/json", again.Header().Get("Content-Type"))
	require.Equal(t, "true", again.Header().Get("Idempotent-Replayed"))
	require.JSONEq(t, first.Body.String(), again.Body.String())
	require.Equal(t, 1, calls)

	for _, ttl := range store.ttls {
		if ttl != claimTTL {
			require.Equal(t, LongReplayWindow, ttl)
		}
	}
}

func TestIdempotencyGuardRejectsReusedKeyWithNewBody(t *testing.T) {
	h := NewIdempotencyGuard(newMemoryIdempotency(), nil).For(ShortReplayWindow)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	h.ServeHTTP(httptest.NewRecorder(), post("k2", `{"targetStatus":"loading"}`))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, post("k2", `{"targetStatus":"in_transit"}`))
	require.Equal(t, http.StatusConflict, w.Code)
	require.Equal(t, string(pkgerrors.CodeIdempotency), errorCode(t, w))
}

func TestIdempotencyGuardAsksDuplicatesToRetryWhileInFlight(t *testing.T) {
	guard := NewIdempotencyGuard(newMemoryIdempotency(), nil)
	var nested *httptest.ResponseRecorder
	var h http.Handler
	h = guard.For(LongReplayWindow)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if nested == nil {
			nested = httptest.NewRecorder()
			h.ServeHTTP(nested, post("same", `{}`))
		}
		w.WriteHeader(http.StatusOK)
	}))
	h.ServeHTTP(httptest.NewRecorder(), post("same", `{}`))

	require.NotNil(t, nested)
	require.Equal(t, http.StatusServiceUnavailable, nested.Code)
	require.Equal(t, string(pkgerrors.CodeContention), errorCode(t, nested))
}

func TestIdempotencyGuardForgetsServerFailures(t *testing.T) {
	store := newMemoryIdempotency()
	calls := 0
	h := NewIdempotencyGuard(store, nil).For(LongReplayWindow)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))

	h.ServeHTTP(httptest.NewRecorder(), post("retry-me", `{}`))
	require.Empty(t, store.data)
	h.ServeHTTP(httptest.NewRecorder(), post("retry-me", `{}`))
	require.Equal(t, 2, calls)
	require.Len(t, store.data, 1)
}

func TestIdempotencyKeysAreScopedToCaller(t *testing.T) {
	store := newMemoryIdempotency()
	calls := 0
	h := NewIdempotencyGuard(store, nil).For(LongReplayWindow)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	}))

	h.ServeHTTP(httptest.NewRecorder(), post("shared", `{}`))
	other := post("shared", `{}`)
	other = other.WithContext(WithPrincipal(other.Context(), uuid.New(), enums.ActorRoleDriver, nil))
	h.ServeHTTP(httptest.NewRecorder(), other)
	require.Equal(t, 2, calls)
}

func TestIdempotencyGuardWithoutStorePassesThrough(t *testing.T) {
	ran := false
	h := NewIdempotencyGuard(nil, nil).For(LongReplayWindow)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { ran = true }))
	h.ServeHTTP(httptest.NewRecorder(), post("", `{}`))
	require.True(t, ran)
}
