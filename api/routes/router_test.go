package routes

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/freightlane-backend/internal/capacity"
	"github.com/angelmondragon/freightlane-backend/internal/testdb"
	pkgAuth "github.com/angelmondragon/freightlane-backend/pkg/auth"
	"github.com/angelmondragon/freightlane-backend/pkg/config"
	"github.com/angelmondragon/freightlane-backend/pkg/enums"
	"github.com/angelmondragon/freightlane-backend/pkg/logger"
	"github.com/angelmondragon/freightlane-backend/pkg/metrics"
)

type stubPinger struct{ err error }

func (s stubPinger) Ping(context.Context) error { return s.err }

func testConfig() *config.Config {
	return &config.Config{
		App: config.AppConfig{Env: "test", Port: "0"},
		JWT: config.JWTConfig{Secret: "secret", Issuer: "freightlane", ExpirationMinutes: 60},
	}
}

func token(t *testing.T, cfg *config.Config, role enums.ActorRole) string {
	t.Helper()
	signed, err := pkgAuth.MintAccessToken(cfg.JWT, time.Now(), pkgAuth.AccessTokenPayload{UserID: uuid.New(), Role: role})
	require.NoError(t, err)
	return "Bearer " + signed
}

func newTestRouter(t *testing.T, deps Dependencies) (http.Handler, *config.Config) {
	t.Helper()
	cfg := testConfig()
	if deps.DB == nil {
		deps.DB = stubPinger{}
	}
	if deps.Redis == nil {
		deps.Redis = stubPinger{}
	}
	return NewRouter(cfg, logger.Nop(), deps), cfg
}

func TestHealthEndpoints(t *testing.T) {
	router, _ := newTestRouter(t, Dependencies{})

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	require.Equal(t, http.StatusOK, resp.Code)
	require.Equal(t, "test", resp.Header().Get("X-Freightlane-Env"))
	require.NotEmpty(t, resp.Header().Get("X-Request-Id"))

	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	require.Equal(t, http.StatusOK, resp.Code)
}

func TestReadinessFailsWhenRedisIsDown(t *testing.T) {
	router, _ := newTestRouter(t, Dependencies{Redis: stubPinger{err: context.DeadlineExceeded}})
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	require.Equal(t, http.StatusServiceUnavailable, resp.Code)
}

func TestMetricsEndpointExposesEngineMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewEngineMetrics(reg)
	m.Allocation("granted")

	router, _ := newTestRouter(t, Dependencies{Metrics: reg})
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, resp.Code)
	require.Contains(t, resp.Body.String(), "granted")
}

func TestAPIRequiresJWT(t *testing.T) {
	router, _ := newTestRouter(t, Dependencies{})
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/v1/freight-orders/"+uuid.NewString()+"/capacity", nil))
	require.Equal(t, http.StatusUnauthorized, resp.Code)
}

func TestRoleGuards(t *testing.T) {
	router, cfg := newTestRouter(t, Dependencies{})

	cases := []struct {
		name string
		path string
		role enums.ActorRole
	}{
		{"shipper cannot allocate", "/api/v1/freight-orders/" + uuid.NewString() + "/allocations", enums.ActorRoleShipper},
		{"driver cannot confirm delivery", "/api/v1/assignments/" + uuid.NewString() + "/confirm-delivery", enums.ActorRoleDriver},
		{"shipper cannot report location", "/api/v1/drivers/me/location", enums.ActorRoleShipper},
		{"company cannot rate", "/api/v1/assignments/" + uuid.NewString() + "/rating", enums.ActorRoleCompany},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodPost, tc.path, strings.NewReader(`{}`))
		req.Header.Set("Authorization", token(t, cfg, tc.role))
		req.Header.Set("Idempotency-Key", uuid.NewString())
		resp := httptest.NewRecorder()
		router.ServeHTTP(resp, req)
		require.Equal(t, http.StatusForbidden, resp.Code, tc.name)
	}
}

func TestCapacityRouteReadsLedger(t *testing.T) {
	db := testdb.Open(t)
	order := testdb.SeedOrder(t, db, testdb.WithSlots(4, 1))

	router, cfg := newTestRouter(t, Dependencies{Ledger: capacity.NewLedger(db)})
	req := httptest.NewRequest(http.MethodGet, "/api/v1/freight-orders/"+order.ID.String()+"/capacity", nil)
	req.Header.Set("Authorization", token(t, cfg, enums.ActorRoleShipper))
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	require.Equal(t, http.StatusOK, resp.Code)
	var envelope struct {
		Data capacity.Snapshot `json:"data"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &envelope))
	require.Equal(t, 3, envelope.Data.AvailableSlots)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/freight-orders/"+uuid.NewString()+"/capacity", nil)
	req.Header.Set("Authorization", token(t, cfg, enums.ActorRoleShipper))
	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	require.Equal(t, http.StatusNotFound, resp.Code)
}
