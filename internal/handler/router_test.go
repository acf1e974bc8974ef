package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/bakeman/internal/ledger"
	"github.com/hitoshi/bakeman/internal/middleware"
	"github.com/hitoshi/bakeman/internal/model"
	"github.com/hitoshi/bakeman/internal/predict"
	"github.com/hitoshi/bakeman/internal/security"
	"github.com/hitoshi/bakeman/internal/session"
	"github.com/hitoshi/bakeman/internal/store"
)

// newTestRouter は実際の依存をすべて組んだルーターを返す。
// forecastURL が空のときは到達不能なエンドポイントを使う。
func newTestRouter(t *testing.T, forecastURL string) (http.Handler, *ledger.Ledger) {
	t.Helper()

	if forecastURL == "" {
		forecastURL = "http://127.0.0.1:1"
	}

	memStore := store.NewMemoryStore()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	auth := &mockAuthAPI{
		loginFunc: func(ctx context.Context, email, password string) (*model.User, error) {
			if password != "correct-password" {
				return nil, model.NewInvalidCredentialsError()
			}
			return &model.User{ID: "user-1", Email: email, Name: "Pierre"}, nil
		},
	}
	registry := session.NewRegistry(memStore, auth, security.NewInputSanitizer(), logger)
	realLedger := ledger.New(memStore, logger, ledger.NopRecorder{})

	provider := NewPredictClientProvider(func() *predict.Client {
		return predict.NewClient(http.DefaultClient, logger, predict.NopRecorder{}, forecastURL, 5*time.Second, 1<<20)
	}, time.Hour)
	t.Cleanup(provider.Stop)

	rateLimiter := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig())
	t.Cleanup(rateLimiter.Stop)

	router := NewRouter(&RouterDeps{
		SessionResolver:   registry,
		CORSAllowedOrigin: "http://localhost:5173",
		RateLimiter:       rateLimiter,
		CSRFConfig:        middleware.CSRFConfig{},
		Registry:          registry,
		AuthConfig:        AuthHandlerConfig{SessionMaxAge: 86400},
		PredictProvider:   provider,
		Sanitizer:         security.NewInputSanitizer(),
		LedgerService:     realLedger,
		HistoryService:    realLedger,
		Store:             memStore,
	})
	return router, realLedger
}

// loginAndFetchTokens はログインとCSRFトークン取得を行い、認証済みリクエストに必要なCookie群を返す。
func loginAndFetchTokens(t *testing.T, router http.Handler) (sessionCookie, csrfCookie *http.Cookie, csrfToken string) {
	t.Helper()

	loginReq := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(`{"email":"a@b.com","password":"correct-password"}`))
	loginRec := httptest.NewRecorder()
	router.ServeHTTP(loginRec, loginReq)
	if loginRec.Code != http.StatusOK {
		t.Fatalf("login status = %d, want %d (body: %s)", loginRec.Code, http.StatusOK, loginRec.Body.String())
	}
	for _, c := range loginRec.Result().Cookies() {
		if c.Name == sessionCookieName {
			sessionCookie = c
		}
	}
	if sessionCookie == nil {
		t.Fatal("session cookie not set by login")
	}

	tokenReq := httptest.NewRequest(http.MethodGet, "/api/csrf-token", nil)
	tokenRec := httptest.NewRecorder()
	router.ServeHTTP(tokenRec, tokenReq)
	if tokenRec.Code != http.StatusOK {
		t.Fatalf("csrf token status = %d, want %d", tokenRec.Code, http.StatusOK)
	}
	for _, c := range tokenRec.Result().Cookies() {
		if c.Name == "csrf_token" {
			csrfCookie = c
		}
	}
	if csrfCookie == nil {
		t.Fatal("csrf cookie not set")
	}
	var body struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(tokenRec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode csrf token response: %v", err)
	}
	return sessionCookie, csrfCookie, body.Token
}

func TestRouter_Health(t *testing.T) {
	router, _ := newTestRouter(t, "")

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestRouter_ProtectedRoutesRequireSession(t *testing.T) {
	router, _ := newTestRouter(t, "")

	paths := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/api/history"},
		{http.MethodGet, "/api/history/stats"},
		{http.MethodGet, "/api/history/export"},
		{http.MethodGet, "/api/dashboard"},
		{http.MethodGet, "/api/products"},
		{http.MethodGet, "/api/preferences/language"},
		{http.MethodPost, "/api/predictions"},
	}

	for _, p := range paths {
		t.Run(p.method+" "+p.path, func(t *testing.T) {
			req := httptest.NewRequest(p.method, p.path, nil)
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			if rec.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
			}
		})
	}
}

func TestRouter_PredictionFlow(t *testing.T) {
	forecast := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"predicted_quantity": 23, "confidence": 0.9})
	}))
	defer forecast.Close()

	router, realLedger := newTestRouter(t, forecast.URL)
	sessionCookie, csrfCookie, csrfToken := loginAndFetchTokens(t, router)

	req := httptest.NewRequest(http.MethodPost, "/api/predictions", strings.NewReader(`{"menuName":"CROISSANT","lastDayQuantity":20,"dayOfWeek":3}`))
	req.AddCookie(sessionCookie)
	req.AddCookie(csrfCookie)
	req.Header.Set("X-CSRF-Token", csrfToken)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("predict status = %d, want %d (body: %s)", rec.Code, http.StatusCreated, rec.Body.String())
	}

	// 台帳に記録されている
	records, err := realLedger.Load(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("failed to load ledger: %v", err)
	}
	if len(records) != 1 || records[0].PredictedQuantity != 23 {
		t.Fatalf("ledger records = %+v, want one record with quantity 23", records)
	}

	// 履歴APIから見える
	listReq := httptest.NewRequest(http.MethodGet, "/api/history", nil)
	listReq.AddCookie(sessionCookie)
	listRec := httptest.NewRecorder()
	router.ServeHTTP(listRec, listReq)

	if listRec.Code != http.StatusOK {
		t.Fatalf("history status = %d, want %d", listRec.Code, http.StatusOK)
	}
	var resp historyResponse
	if err := json.Unmarshal(listRec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode history response: %v", err)
	}
	if len(resp.Records) != 1 {
		t.Errorf("history records = %d, want 1", len(resp.Records))
	}
}

func TestRouter_PredictionRejectedWithoutCSRFToken(t *testing.T) {
	router, _ := newTestRouter(t, "")
	sessionCookie, _, _ := loginAndFetchTokens(t, router)

	req := httptest.NewRequest(http.MethodPost, "/api/predictions", strings.NewReader(`{"menuName":"CROISSANT","lastDayQuantity":20,"dayOfWeek":3}`))
	req.AddCookie(sessionCookie)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusForbidden)
	}
}

func TestRouter_UpdateActualFlow(t *testing.T) {
	router, realLedger := newTestRouter(t, "")
	sessionCookie, csrfCookie, csrfToken := loginAndFetchTokens(t, router)

	seeded, err := realLedger.Append(context.Background(), "user-1", "CROISSANT", model.PredictionResult{Quantity: 20, Confidence: 0.9})
	if err != nil {
		t.Fatalf("failed to seed ledger: %v", err)
	}

	req := httptest.NewRequest(http.MethodPatch, "/api/history/"+seeded.ID+"/actual", strings.NewReader(`{"actualQuantity":17}`))
	req.AddCookie(sessionCookie)
	req.AddCookie(csrfCookie)
	req.Header.Set("X-CSRF-Token", csrfToken)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d (body: %s)", rec.Code, http.StatusOK, rec.Body.String())
	}
	var got model.HistoryRecord
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if got.ActualQuantity == nil || *got.ActualQuantity != 17 {
		t.Errorf("actualQuantity = %v, want 17", got.ActualQuantity)
	}
}

func TestRouter_CORSHeaders(t *testing.T) {
	router, _ := newTestRouter(t, "")

	req := httptest.NewRequest(http.MethodOptions, "/api/history", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:5173" {
		t.Errorf("Access-Control-Allow-Origin = %q, want allowed origin", got)
	}
}

func TestRouter_LogoutEndsSession(t *testing.T) {
	router, _ := newTestRouter(t, "")
	sessionCookie, _, _ := loginAndFetchTokens(t, router)

	logoutReq := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	logoutReq.AddCookie(sessionCookie)
	logoutRec := httptest.NewRecorder()
	router.ServeHTTP(logoutRec, logoutReq)

	if logoutRec.Code != http.StatusNoContent {
		t.Fatalf("logout status = %d, want %d", logoutRec.Code, http.StatusNoContent)
	}

	// 同じCookieではもうアクセスできない
	req := httptest.NewRequest(http.MethodGet, "/api/history", nil)
	req.AddCookie(sessionCookie)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status after logout = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}
