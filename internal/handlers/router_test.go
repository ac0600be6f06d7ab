package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ukydev/loaner-command-center/internal/auth"
	"github.com/ukydev/loaner-command-center/internal/dashboard"
	"github.com/ukydev/loaner-command-center/internal/db/dbtest"
	"github.com/ukydev/loaner-command-center/internal/fleet"
	"github.com/ukydev/loaner-command-center/internal/middleware"
	"github.com/ukydev/loaner-command-center/internal/models"
)

const testJWTSecret = "test-jwt-secret"

var testNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeSnapshots struct {
	active     dashboard.Snapshot
	history    dashboard.Snapshot
	refreshes  int
	refreshErr error
}

func (f *fakeSnapshots) Active() dashboard.Snapshot  { return f.active }
func (f *fakeSnapshots) History() dashboard.Snapshot { return f.history }

func (f *fakeSnapshots) RefreshActive(context.Context) error {
	f.refreshes++
	return f.refreshErr
}

type testAPI struct {
	router    *mux.Router
	store     *dbtest.MockStore
	snapshots *fakeSnapshots
	auth      *auth.Service
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	authService, err := auth.NewService(testJWTSecret, time.Hour)
	require.NoError(t, err)

	store := new(dbtest.MockStore)
	service := fleet.NewService(store, store)
	service.Now = func() time.Time { return testNow }
	snaps := &fakeSnapshots{}

	fleetHandler := NewFleetHandler(service, snaps)
	fleetHandler.now = func() time.Time { return testNow }

	router := NewRouter(Routes{
		Auth:     middleware.NewAuthMiddleware(authService),
		Fleet:    fleetHandler,
		Requests: NewRequestHandler(service, snaps),
		Webhooks: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"path": r.URL.Path})
		}),
	})
	return &testAPI{router: router, store: store, snapshots: snaps, auth: authService}
}

func (a *testAPI) token(t *testing.T, role models.Role) string {
	t.Helper()
	token, err := a.auth.GenerateToken("user-1", "advisor@example.com", role)
	require.NoError(t, err)
	return token
}

func (a *testAPI) do(t *testing.T, method, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	a.router.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), v))
}

func TestHealth_NoAuth(t *testing.T) {
	api := newTestAPI(t)

	rr := api.do(t, http.MethodGet, "/health", nil, "")

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
}

func TestAPI_RequiresToken(t *testing.T) {
	api := newTestAPI(t)

	rr := api.do(t, http.MethodGet, "/api/fleet/active", nil, "")

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	var body map[string]string
	decodeBody(t, rr, &body)
	assert.Equal(t, "Authorization header required", body["error"])
}

func TestAPI_RejectsBadToken(t *testing.T) {
	api := newTestAPI(t)

	rr := api.do(t, http.MethodGet, "/api/requests", nil, "not-a-jwt")

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestAPI_AnonRoleForbidden(t *testing.T) {
	api := newTestAPI(t)

	rr := api.do(t, http.MethodGet, "/api/fleet/active", nil, api.token(t, models.RoleAnon))

	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestAPI_MethodNotAllowed(t *testing.T) {
	api := newTestAPI(t)

	rr := api.do(t, http.MethodDelete, "/api/requests", nil, api.token(t, models.RoleAuthenticated))

	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestWebhooks_SkipBearerAuth(t *testing.T) {
	api := newTestAPI(t)

	rr := api.do(t, http.MethodPost, "/webhooks/dealerware", map[string]string{}, "")

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"path":"/webhooks/dealerware"}`, rr.Body.String())
}

func TestWebhooks_RateLimited(t *testing.T) {
	authService, err := auth.NewService(testJWTSecret, time.Hour)
	require.NoError(t, err)
	limiter := middleware.NewRateLimitMiddleware()
	router := NewRouter(Routes{
		Auth:     middleware.NewAuthMiddleware(authService),
		Fleet:    NewFleetHandler(nil, &fakeSnapshots{}),
		Requests: NewRequestHandler(nil, &fakeSnapshots{}),
		Webhooks: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}),
		WebhookLimit: limiter.RateLimit(1, time.Minute),
	})

	codes := make([]int, 0, 2)
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/obd", nil)
		req.RemoteAddr = "10.0.0.7:5555"
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		codes = append(codes, rr.Code)
	}

	assert.Equal(t, []int{http.StatusOK, http.StatusTooManyRequests}, codes)
}
