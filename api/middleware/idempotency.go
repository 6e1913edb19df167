package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/angelmondragon/freightlane-backend/api/responses"
	pkgerrors "github.com/angelmondragon/freightlane-backend/pkg/errors"
	"github.com/angelmondragon/freightlane-backend/pkg/logger"
	pkgredis "github.com/angelmondragon/freightlane-backend/pkg/redis"
)

// Replay windows. Allocation, transitions and delivery confirmation change
// capacity or trip state and keep their replies for a week.
const (
	ShortReplayWindow = 24 * time.Hour
	LongReplayWindow  = 7 * 24 * time.Hour

	IdempotencyHeader = "Idempotency-Key"
	maxIdempotencyKey = 255
	claimTTL          = time.Minute
	claimMarker       = "in-flight"
)

// storedReply is what a replayed request gets back.
type storedReply struct {
	Status      int    `json:"status"`
	ContentType string `json:"content_type,omitempty"`
	Body        []byte `json:"body"`
	Fingerprint string `json:"fingerprint"`
}

// IdempotencyGuard replays the first non-5xx reply for a repeated
// Idempotency-Key. Keys are scoped to the caller and the request path.
type IdempotencyGuard struct {
	store pkgredis.IdempotencyStore
	logg  *logger.Logger
}

func NewIdempotencyGuard(store pkgredis.IdempotencyStore, logg *logger.Logger) *IdempotencyGuard {
	return &IdempotencyGuard{store: store, logg: logg}
}

// For returns middleware that keeps replies for window. Without a store it is
// a pass-through.
func (g *IdempotencyGuard) For(window time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if g == nil || g.store == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			g.serve(w, r, next, window)
		})
	}
}

func (g *IdempotencyGuard) serve(w http.ResponseWriter, r *http.Request, next http.Handler, window time.Duration) {
	ctx := r.Context()
	clientKey := strings.TrimSpace(r.Header.Get(IdempotencyHeader))
	if clientKey == "" || len(clientKey) > maxIdempotencyKey {
		responses.WriteError(ctx, g.logg, w, pkgerrors.New(pkgerrors.CodeValidation, "Idempotency-Key header required (max 255 characters)"))
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		responses.WriteError(ctx, g.logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body"))
		return
	}
	r.Body = io.NopCloser(bytes.NewReader(body))

	fingerprint := fingerprintRequest(r, body)
	key := g.store.IdempotencyKey(callerScope(r), clientKey)

	claimed, err := g.store.SetNX(ctx, key, claimMarker, claimTTL)
	if err != nil {
		responses.WriteError(ctx, g.logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "claim idempotency key"))
		return
	}
	if !claimed {
		g.replay(w, r, key, fingerprint)
		return
	}

	capture := &replyRecorder{ResponseWriter: w}
	next.ServeHTTP(capture, r)

	// The claim is dropped either way so a 5xx can be retried under the same key.
	if err := g.store.Del(ctx, key); err != nil {
		g.logError(ctx, "drop idempotency claim", err)
		return
	}
	if capture.statusCode() >= http.StatusInternalServerError {
		return
	}
	raw, err := json.Marshal(storedReply{
		Status:      capture.statusCode(),
		ContentType: capture.Header().Get("Content-Type"),
		Body:        capture.body.Bytes(),
		Fingerprint: fingerprint,
	})
	if err != nil {
		g.logError(ctx, "encode idempotent reply", err)
		return
	}
	if _, err := g.store.SetNX(ctx, key, string(raw), window); err != nil {
		g.logError(ctx, "store idempotent reply", err)
	}
}

func (g *IdempotencyGuard) replay(w http.ResponseWriter, r *http.Request, key, fingerprint string) {
	ctx := r.Context()
	raw, err := g.store.Get(ctx, key)
	switch {
	case errors.Is(err, redis.Nil), err == nil && raw == claimMarker:
		responses.WriteError(ctx, g.logg, w, pkgerrors.New(pkgerrors.CodeContention, "a request with this Idempotency-Key is still being processed"))
		return
	case err != nil:
		responses.WriteError(ctx, g.logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read idempotent reply"))
		return
	}

	var reply storedReply
	if err := json.Unmarshal([]byte(raw), &reply); err != nil {
		responses.WriteError(ctx, g.logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode idempotent reply"))
		return
	}
	if reply.Fingerprint != fingerprint {
		responses.WriteError(ctx, g.logg, w, pkgerrors.New(pkgerrors.CodeIdempotency, "Idempotency-Key was already used for a different request"))
		return
	}
	if reply.ContentType != "" {
		w.Header().Set("Content-Type", reply.ContentType)
	}
	w.Header().Set("Idempotent-Replayed", "true")
	w.WriteHeader(reply.Status)
	_, _ = w.Write(reply.Body)
}

func (g *IdempotencyGuard) logError(ctx context.Context, msg string, err error) {
	if g.logg != nil {
		g.logg.Error(ctx, msg, err)
	}
}

func callerScope(r *http.Request) string {
	caller := UserIDFromContext(r.Context())
	if caller == "" {
		caller = "anonymous"
	}
	return caller + "|" + r.Method + "|" + r.URL.Path
}

func fingerprintRequest(r *http.Request, body []byte) string {
	h := sha256.New()
	h.Write([]byte(r.Method + " " + r.URL.Path + "\n"))
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

type replyRecorder struct {
	http.ResponseWriter
	body   bytes.Buffer
	status int
}

func (rr *replyRecorder) WriteHeader(code int) {
	if rr.status == 0 {
		rr.status = code
	}
	rr.ResponseWriter.WriteHeader(code)
}

func (rr *replyRecorder) Write(b []byte) (int, error) {
	if rr.status == 0 {
		rr.status = http.StatusOK
	}
	rr.body.Write(b)
	return rr.ResponseWriter.Write(b)
}

func (rr *replyRecorder) statusCode() int {
	if rr.status == 0 {
		return http.StatusOK
	}
	return rr.status
}
