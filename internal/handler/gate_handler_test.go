package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"verification-service/internal/config"
	"verification-service/internal/derive"
	"verification-service/internal/models"
	"verification-service/internal/service"
	"verification-service/internal/util"
)

type memorySessionStore struct {
	mu     sync.Mutex
	grants map[string]bool
}

func (m *memorySessionStore) Grant(ctx context.Context, token string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.grants[token] = true
	return nil
}

func (m *memorySessionStore) Granted(ctx context.Context, token string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.grants[token], nil
}

func (m *memorySessionStore) Revoke(ctx context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.grants, token)
	return nil
}

type discardSink struct{}

func (discardSink) Record(models.AuditEvent) {}

func newGateRouter(t *testing.T) chi.Router {
	t.Helper()

	cfg := &config.Config{}
	cfg.Codes.GateSessionTTL = 12 * time.Hour

	svc := service.NewGateService(&memorySessionStore{grants: make(map[string]bool)}, discardSink{}, nil, cfg)
	h := NewGateHandler(svc, util.Get())

	router := chi.NewRouter()
	h.RegisterRoutes(router)
	return router
}

func TestGateAuthorizeEndpoint(t *testing.T) {
	router := newGateRouter(t)
	value := derive.DailyAccessCode(time.Now())

	req := httptest.NewRequest(http.MethodPost, "/gate/authorize", strings.NewReader(`{"value":"`+value+`"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Success bool `json:"success"`
		Data    struct {
			Granted bool   `json:"granted"`
			Token   string `json:"token"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.True(t, resp.Success)
	assert.True(t, resp.Data.Granted)
	require.NotEmpty(t, resp.Data.Token)

	// The token checks out until revoked.
	check := httptest.NewRequest(http.MethodGet, "/gate/session", nil)
	check.Header.Set("X-Gate-Token", resp.Data.Token)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, check)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"granted":true`)

	revoke := httptest.NewRequest(http.MethodDelete, "/gate/session", nil)
	revoke.Header.Set("X-Gate-Token", resp.Data.Token)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, revoke)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, check)
	assert.Contains(t, rec.Body.String(), `"granted":false`)
}

func TestGateAuthorizeDenied(t *testing.T) {
	router := newGateRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/gate/authorize", strings.NewReader(`{"value":"00SENE00"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"granted":false`)
}

func TestGateAuthorizeBadBody(t *testing.T) {
	router := newGateRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/gate/authorize", strings.NewReader(`{`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
