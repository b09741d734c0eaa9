package api_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/QuotaLedger/internal/app"
	"github.com/router-for-me/QuotaLedger/internal/clock"
	"github.com/router-for-me/QuotaLedger/internal/config"
	"github.com/router-for-me/QuotaLedger/internal/dbtest"
	"github.com/router-for-me/QuotaLedger/internal/security"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2024, 3, 1, 3, 0, 0, 0, time.UTC)

type server struct {
	t      *testing.T
	engine *gin.Engine
	clock  *clock.Fake
}

func newServer(t *testing.T, mutate func(*config.Config)) *server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	hash, err := security.HashPassword("hunter22")
	require.NoError(t, err)

	cfg := config.Default()
	cfg.JWT.Secret = "test-secret"
	cfg.Admin = config.AdminConfig{Username: "admin", PasswordHash: hash}
	if mutate != nil {
		mutate(&cfg)
	}
	clk := clock.NewFake(base)
	components, err := app.Build(dbtest.Open(t), cfg, clk)
	require.NoError(t, err)
	return &server{t: t, engine: components.Router(), clock: clk}
}

func (s *server) do(method, path string, body any, token string) (int, map[string]any) {
	s.t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(s.t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.engine.ServeHTTP(rec, req)

	out := map[string]any{}
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(s.t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec.Code, out
}

func (s *server) resolve(puid string) uint64 {
	s.t.Helper()
	code, body := s.do(http.MethodPost, "/api/v1/identities/resolve", gin.H{"provider": "telegram", "provider_user_id": puid}, "")
	require.Equal(s.t, http.StatusOK, code, body)
	return uint64(body["account_id"].(float64))
}

func (s *server) login() string {
	s.t.Helper()
	code, body := s.do(http.MethodPost, "/api/v1/admin/login", gin.H{"username": "admin", "password": "hunter22"}, "")
	require.Equal(s.t, http.StatusOK, code, body)
	return body["token"].(string)
}

func TestEntitlementFlow(t *testing.T) {
	s := newServer(t, nil)
	accountID := s.resolve("1001")
	assert.Equal(t, accountID, s.resolve("1001"), "resolve is idempotent")

	code, body := s.do(http.MethodPost, "/api/v1/entitlements/check", gin.H{"account_id": accountID}, "")
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "free", body["plan_key"])
	assert.Equal(t, float64(3), body["credits_remaining"])
	assert.Equal(t, true, body["allowed"])

	steps := []struct {
		requestID string
		units     int
		allowed   bool
		remaining float64
	}{
		{"r1", 1, true, 2},
		{"r1", 1, true, 2},
		{"r2", 2, true, 0},
		{"r3", 1, false, 0},
	}
	for _, step := range steps {
		code, body = s.do(http.MethodPost, "/api/v1/entitlements/consume", gin.H{
			"account_id": accountID,
			"feature":    "consult",
			"units":      step.units,
			"request_id": step.requestID,
		}, "")
		require.Equal(t, http.StatusOK, code, body)
		assert.Equal(t, step.allowed, body["allowed"], step.requestID)
		assert.Equal(t, step.remaining, body["credits_remaining"], step.requestID)
	}

	code, _ = s.do(http.MethodPost, "/api/v1/entitlements/consume", gin.H{"account_id": accountID, "feature": "consult"}, "")
	assert.Equal(t, http.StatusBadRequest, code, "missing request id")
	code, _ = s.do(http.MethodPost, "/api/v1/entitlements/consume", gin.H{"account_id": accountID, "feature": "consult", "units": 0, "request_id": "r4"}, "")
	assert.Equal(t, http.StatusBadRequest, code, "zero units")
	code, _ = s.do(http.MethodPost, "/api/v1/entitlements/check", gin.H{"account_id": 0}, "")
	assert.Equal(t, http.StatusBadRequest, code, "missing account")

	code, body = s.do(http.MethodGet, "/api/v1/accounts/"+itoa(accountID)+"/credits", nil, "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(0), body["credits_remaining"])
}

func TestPurchaseAndRefund(t *testing.T) {
	s := newServer(t, nil)
	accountID := s.resolve("2002")
	purchase := gin.H{"account_id": accountID, "sku": "PASS_7D", "amount": 1000, "external_charge_id": "ch-1"}

	code, body := s.do(http.MethodPost, "/api/v1/purchases", purchase, "")
	require.Equal(t, http.StatusCreated, code, body)
	assert.Equal(t, true, body["created"])

	code, body = s.do(http.MethodPost, "/api/v1/purchases", purchase, "")
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, false, body["created"], "duplicate charge grants nothing")

	code, body = s.do(http.MethodGet, "/api/v1/accounts/"+itoa(accountID)+"/balance", nil, "")
	require.Equal(t, http.StatusOK, code)
	passUntil, err := time.Parse(time.RFC3339Nano, body["pass_until"].(string))
	require.NoError(t, err)
	assert.True(t, passUntil.Equal(base.Add(7*24*time.Hour)), "one pass, not two")

	code, _ = s.do(http.MethodPost, "/api/v1/purchases", gin.H{"account_id": accountID, "sku": "NOPE"}, "")
	assert.Equal(t, http.StatusBadRequest, code)

	refund := gin.H{"external_charge_id": "ch-1", "refund_id": "rf-1"}
	code, _ = s.do(http.MethodPost, "/api/v1/payments/refund", refund, "")
	assert.Equal(t, http.StatusNotFound, code, "refunds are not a front route")
	code, _ = s.do(http.MethodPost, "/api/v1/admin/refunds", refund, "")
	assert.Equal(t, http.StatusUnauthorized, code)

	token := s.login()
	code, body = s.do(http.MethodPost, "/api/v1/admin/refunds", refund, token)
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, true, body["changed"])
	code, body = s.do(http.MethodPost, "/api/v1/admin/refunds", refund, token)
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, false, body["changed"])

	code, body = s.do(http.MethodGet, "/api/v1/accounts/"+itoa(accountID)+"/balance", nil, "")
	require.Equal(t, http.StatusOK, code)
	assert.Nil(t, body["pass_until"])

	code, body = s.do(http.MethodGet, "/api/v1/admin/audits/latest?action=refund", nil, token)
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "success", body["outcome"])
	assert.Equal(t, float64(0), body["actor_account_id"])
	assert.Equal(t, float64(accountID), body["target_account_id"])
	assert.Equal(t, "admin", body["payload"].(map[string]any)["admin"], "actor comes from the token")
}

func TestAdminRoutes(t *testing.T) {
	s := newServer(t, nil)
	accountID := s.resolve("3003")

	code, _ := s.do(http.MethodGet, "/api/v1/admin/stats", nil, "")
	assert.Equal(t, http.StatusUnauthorized, code)
	code, _ = s.do(http.MethodGet, "/api/v1/admin/stats", nil, "garbage")
	assert.Equal(t, http.StatusUnauthorized, code)
	code, _ = s.do(http.MethodPost, "/api/v1/admin/login", gin.H{"username": "admin", "password": "wrong"}, "")
	assert.Equal(t, http.StatusUnauthorized, code)

	token := s.login()
	code, body := s.do(http.MethodGet, "/api/v1/admin/stats?days=3", nil, token)
	require.Equal(t, http.StatusOK, code, body)
	assert.Len(t, body["days"], 3)

	code, body = s.do(http.MethodPost, "/api/v1/admin/grants", gin.H{"account_id": accountID, "sku": "TICKET_3", "reason": "support"}, token)
	require.Equal(t, http.StatusOK, code, body)
	tickets := body["balance"].(map[string]any)["tickets"].(map[string]any)
	assert.Equal(t, float64(1), tickets["tickets_3"])

	code, body = s.do(http.MethodPost, "/api/v1/tickets/consume", gin.H{"account_id": accountID, "tier": "tickets_3", "request_id": "t1"}, "")
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, true, body["allowed"])
	code, body = s.do(http.MethodPost, "/api/v1/tickets/consume", gin.H{"account_id": accountID, "tier": "tickets_3", "request_id": "t2"}, "")
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, false, body["allowed"])

	code, _ = s.do(http.MethodPost, "/api/v1/admin/revokes", gin.H{"account_id": accountID, "sku": "NOPE"}, token)
	assert.Equal(t, http.StatusBadRequest, code)
	code, body = s.do(http.MethodGet, "/api/v1/admin/audits/latest?action=admin_revoke", nil, token)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "failure", body["outcome"])

	code, _ = s.do(http.MethodPost, "/api/v1/feedback", gin.H{"account_id": accountID, "mode": "tarot", "text": "great reading"}, "")
	require.Equal(t, http.StatusAccepted, code)
	code, body = s.do(http.MethodGet, "/api/v1/admin/feedback", nil, token)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, body["feedback"], 1)
	assert.Equal(t, "great reading", body["feedback"].([]any)[0].(map[string]any)["text"])

	s.clock.Advance(13 * time.Hour)
	code, _ = s.do(http.MethodGet, "/api/v1/admin/stats", nil, token)
	assert.Equal(t, http.StatusUnauthorized, code, "token expired")
}

func TestAllowancesAndProfile(t *testing.T) {
	s := newServer(t, nil)
	accountID := s.resolve("4004")

	for i, want := range []bool{true, true, false} {
		code, body := s.do(http.MethodPost, "/api/v1/allowances/consume", gin.H{
			"account_id": accountID,
			"name":       "general_chat",
			"request_id": "chat-" + itoa(uint64(i)),
		}, "")
		require.Equal(t, http.StatusOK, code, body)
		assert.Equal(t, want, body["allowed"])
	}
	code, body := s.do(http.MethodGet, "/api/v1/accounts/"+itoa(accountID)+"/allowances", nil, "")
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, body["allowances"], 2)

	code, body = s.do(http.MethodPut, "/api/v1/accounts/"+itoa(accountID)+"/lang", gin.H{"lang": "pt-BR"}, "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "pt", body["lang"])
	code, _ = s.do(http.MethodPost, "/api/v1/accounts/"+itoa(accountID)+"/terms", nil, "")
	require.Equal(t, http.StatusOK, code)
	code, body = s.do(http.MethodGet, "/api/v1/accounts/"+itoa(accountID), nil, "")
	require.Equal(t, http.StatusOK, code)
	assert.NotNil(t, body["terms_accepted_at"])
	code, _ = s.do(http.MethodGet, "/api/v1/accounts/abc", nil, "")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestThrottle(t *testing.T) {
	s := newServer(t, func(cfg *config.Config) { cfg.RateLimit.Limit = 1 })
	accountID := s.resolve("5005")

	code, _ := s.do(http.MethodPost, "/api/v1/entitlements/consume", gin.H{"account_id": accountID, "feature": "consult", "request_id": "a"}, "")
	assert.Equal(t, http.StatusOK, code)
	code, _ = s.do(http.MethodPost, "/api/v1/entitlements/consume", gin.H{"account_id": accountID, "feature": "consult", "request_id": "b"}, "")
	assert.Equal(t, http.StatusTooManyRequests, code)

	s.clock.Advance(time.Second)
	code, _ = s.do(http.MethodPost, "/api/v1/entitlements/consume", gin.H{"account_id": accountID, "feature": "consult", "request_id": "b"}, "")
	assert.Equal(t, http.StatusOK, code)
}

func TestHealthzAndMetrics(t *testing.T) {
	s := newServer(t, nil)
	code, body := s.do(http.MethodGet, "/healthz", nil, "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	s.engine.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "quotaledger_api_requests_total")
}

func itoa(v uint64) string {
	return strconv.FormatUint(v, 10)
}
