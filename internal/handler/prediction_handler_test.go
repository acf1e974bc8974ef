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
	"github.com/hitoshi/bakeman/internal/store"
)

// mockLedgerService はLedgerServiceのモック。
type mockLedgerService struct {
	appendFunc func(ctx context.Context, userID, menuName string, result model.PredictionResult) (*model.HistoryRecord, error)
}

func (m *mockLedgerService) Append(ctx context.Context, userID, menuName string, result model.PredictionResult) (*model.HistoryRecord, error) {
	return m.appendFunc(ctx, userID, menuName, result)
}

func newPredictionTestServer(handler http.HandlerFunc) *httptest.Server {
	return httptest.NewServer(handler)
}

func newTestPredictionHandler(t *testing.T, forecastURL string, ledgerSvc LedgerService) *PredictionHandler {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	provider := NewPredictClientProvider(func() *predict.Client {
		return predict.NewClient(http.DefaultClient, logger, predict.NopRecorder{}, forecastURL, 5*time.Second, 1<<20)
	}, time.Hour)
	t.Cleanup(provider.Stop)
	return NewPredictionHandler(provider, ledgerSvc, security.NewInputSanitizer())
}

func authedRequest(method, target, body string) *http.Request {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	ctx := middleware.ContextWithUser(req.Context(), &model.User{ID: "user-1"})
	ctx = middleware.ContextWithSessionID(ctx, "sess-abc")
	return req.WithContext(ctx)
}

func TestPredictionHandler_Predict_Success(t *testing.T) {
	server := newPredictionTestServer(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		if body["menu_name"] != "CROISSANT" {
			t.Errorf("menu_name = %v, want CROISSANT", body["menu_name"])
		}
		json.NewEncoder(w).Encode(map[string]any{"predicted_quantity": 23.5, "confidence": 0.82})
	})
	defer server.Close()

	ledgerSvc := &mockLedgerService{
		appendFunc: func(ctx context.Context, userID, menuName string, result model.PredictionResult) (*model.HistoryRecord, error) {
			if userID != "user-1" {
				t.Errorf("userID = %q, want user-1", userID)
			}
			if result.Quantity != 23.5 || result.Confidence != 0.82 {
				t.Errorf("result = %+v, want 23.5/0.82", result)
			}
			return &model.HistoryRecord{
				ID:                "rec-1",
				Date:              time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
				MenuName:          menuName,
				PredictedQuantity: result.Quantity,
				Confidence:        result.Confidence,
			}, nil
		},
	}
	h := newTestPredictionHandler(t, server.URL, ledgerSvc)

	body := `{"menuName":"CROISSANT","lastDayQuantity":20,"dayOfWeek":3}`
	req := authedRequest(http.MethodPost, "/api/predictions", body)
	rec := httptest.NewRecorder()

	h.Predict(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d (body: %s)", rec.Code, http.StatusCreated, rec.Body.String())
	}

	var resp predictionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Record.ID != "rec-1" || resp.Record.PredictedQuantity != 23.5 {
		t.Errorf("record = %+v, want rec-1/23.5", resp.Record)
	}
}

func TestPredictionHandler_Predict_StringNumbersAccepted(t *testing.T) {
	server := newPredictionTestServer(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		if body["last_day_quantity"] != 20.0 {
			t.Errorf("last_day_quantity = %v, want 20", body["last_day_quantity"])
		}
		if body["today_day_of_week"] != 3.0 {
			t.Errorf("today_day_of_week = %v, want 3", body["today_day_of_week"])
		}
		json.NewEncoder(w).Encode(map[string]any{"predicted_quantity": 10})
	})
	defer server.Close()

	ledgerSvc := &mockLedgerService{
		appendFunc: func(ctx context.Context, userID, menuName string, result model.PredictionResult) (*model.HistoryRecord, error) {
			return &model.HistoryRecord{ID: "rec-1", MenuName: menuName}, nil
		},
	}
	h := newTestPredictionHandler(t, server.URL, ledgerSvc)

	body := `{"menuName":"CROISSANT","lastDayQuantity":"20","dayOfWeek":"3"}`
	req := authedRequest(http.MethodPost, "/api/predictions", body)
	rec := httptest.NewRecorder()

	h.Predict(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d (body: %s)", rec.Code, http.StatusCreated, rec.Body.String())
	}
}

func TestPredictionHandler_Predict_ValidationErrors(t *testing.T) {
	ledgerSvc := &mockLedgerService{
		appendFunc: func(ctx context.Context, userID, menuName string, result model.PredictionResult) (*model.HistoryRecord, error) {
			t.Fatal("ledger should not be touched on validation failure")
			return nil, nil
		},
	}
	// バリデーションで弾かれるのでフォアキャストサーバーは不要
	h := newTestPredictionHandler(t, "http://127.0.0.1:1", ledgerSvc)

	tests := []struct {
		name     string
		body     string
		wantCode string
	}{
		{"メニュー名なし", `{"lastDayQuantity":20,"dayOfWeek":3}`, "VALIDATION_MISSING_FIELD"},
		{"数量なし", `{"menuName":"CROISSANT","dayOfWeek":3}`, "VALIDATION_MISSING_FIELD"},
		{"曜日なし", `{"menuName":"CROISSANT","lastDayQuantity":20}`, "VALIDATION_MISSING_FIELD"},
		{"数量が数値でない", `{"menuName":"CROISSANT","lastDayQuantity":"abc","dayOfWeek":3}`, "VALIDATION_NOT_A_NUMBER"},
		{"数量が負", `{"menuName":"CROISSANT","lastDayQuantity":-5,"dayOfWeek":3}`, "VALIDATION_NOT_A_NUMBER"},
		{"曜日が範囲外", `{"menuName":"CROISSANT","lastDayQuantity":20,"dayOfWeek":7}`, "VALIDATION_NOT_A_NUMBER"},
		{"曜日が数値でない", `{"menuName":"CROISSANT","lastDayQuantity":20,"dayOfWeek":"mon"}`, "VALIDATION_NOT_A_NUMBER"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := authedRequest(http.MethodPost, "/api/predictions", tt.body)
			rec := httptest.NewRecorder()

			h.Predict(rec, req)

			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
			}
			var resp apiErrorResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatalf("failed to decode error response: %v", err)
			}
			if resp.Code != tt.wantCode {
				t.Errorf("error code = %q, want %q", resp.Code, tt.wantCode)
			}
		})
	}
}

func TestPredictionHandler_Predict_SanitizesMenuName(t *testing.T) {
	server := newPredictionTestServer(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		if body["menu_name"] != "CROISSANT" {
			t.Errorf("menu_name = %v, want sanitized CROISSANT", body["menu_name"])
		}
		json.NewEncoder(w).Encode(map[string]any{"predicted_quantity": 10})
	})
	defer server.Close()

	ledgerSvc := &mockLedgerService{
		appendFunc: func(ctx context.Context, userID, menuName string, result model.PredictionResult) (*model.HistoryRecord, error) {
			if menuName != "CROISSANT" {
				t.Errorf("menuName = %q, want CROISSANT", menuName)
			}
			return &model.HistoryRecord{ID: "rec-1", MenuName: menuName}, nil
		},
	}
	h := newTestPredictionHandler(t, server.URL, ledgerSvc)

	body := `{"menuName":"<script>alert(1)</script>CROISSANT","lastDayQuantity":20,"dayOfWeek":3}`
	req := authedRequest(http.MethodPost, "/api/predictions", body)
	rec := httptest.NewRecorder()

	h.Predict(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d (body: %s)", rec.Code, http.StatusCreated, rec.Body.String())
	}
}

func TestPredictionHandler_Predict_ForecastServerError(t *testing.T) {
	server := newPredictionTestServer(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		json.NewEncoder(w).Encode(map[string]string{"detail": "unknown menu"})
	})
	defer server.Close()

	ledgerSvc := &mockLedgerService{
		appendFunc: func(ctx context.Context, userID, menuName string, result model.PredictionResult) (*model.HistoryRecord, error) {
			t.Fatal("ledger should not be touched on forecast failure")
			return nil, nil
		},
	}
	h := newTestPredictionHandler(t, server.URL, ledgerSvc)

	req := authedRequest(http.MethodPost, "/api/predictions", `{"menuName":"CROISSANT","lastDayQuantity":20,"dayOfWeek":3}`)
	rec := httptest.NewRecorder()

	h.Predict(rec, req)

	if rec.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadGateway)
	}
}

func TestPredictionHandler_Predict_NetworkError(t *testing.T) {
	server := newPredictionTestServer(func(w http.ResponseWriter, r *http.Request) {})
	server.Close() // 接続拒否させる

	ledgerSvc := &mockLedgerService{
		appendFunc: func(ctx context.Context, userID, menuName string, result model.PredictionResult) (*model.HistoryRecord, error) {
			t.Fatal("ledger should not be touched on network failure")
			return nil, nil
		},
	}
	h := newTestPredictionHandler(t, server.URL, ledgerSvc)

	req := authedRequest(http.MethodPost, "/api/predictions", `{"menuName":"CROISSANT","lastDayQuantity":20,"dayOfWeek":3}`)
	rec := httptest.NewRecorder()

	h.Predict(rec, req)

	if rec.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadGateway)
	}
	var resp apiErrorResponse
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Code != "NETWORK_ERROR" {
		t.Errorf("error code = %q, want NETWORK_ERROR", resp.Code)
	}
}

func TestPredictionHandler_Predict_SupersededReturns409(t *testing.T) {
	firstArrived := make(chan struct{})
	releaseFirst := make(chan struct{})
	var requestCount int

	server := newPredictionTestServer(func(w http.ResponseWriter, r *http.Request) {
		requestCount++
		if requestCount == 1 {
			close(firstArrived)
			<-releaseFirst
			json.NewEncoder(w).Encode(map[string]any{"predicted_quantity": 111})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"predicted_quantity": 222})
	})
	defer server.Close()

	ledgerSvc := &mockLedgerService{
		appendFunc: func(ctx context.Context, userID, menuName string, result model.PredictionResult) (*model.HistoryRecord, error) {
			return &model.HistoryRecord{ID: "rec-1", MenuName: menuName, PredictedQuantity: result.Quantity}, nil
		},
	}
	h := newTestPredictionHandler(t, server.URL, ledgerSvc)

	firstDone := make(chan *httptest.ResponseRecorder)
	go func() {
		rec := httptest.NewRecorder()
		h.Predict(rec, authedRequest(http.MethodPost, "/api/predictions", `{"menuName":"CROISSANT","lastDayQuantity":20,"dayOfWeek":3}`))
		firstDone <- rec
	}()

	<-firstArrived

	// 2件目のリクエストが先に完了し、1件目は破棄されるべき
	rec2 := httptest.NewRecorder()
	h.Predict(rec2, authedRequest(http.MethodPost, "/api/predictions", `{"menuName":"BAGUETTE","lastDayQuantity":30,"dayOfWeek":3}`))
	if rec2.Code != http.StatusCreated {
		t.Fatalf("second request status = %d, want %d", rec2.Code, http.StatusCreated)
	}

	close(releaseFirst)
	rec1 := <-firstDone

	if rec1.Code != http.StatusConflict {
		t.Fatalf("first request status = %d, want %d", rec1.Code, http.StatusConflict)
	}
	var resp apiErrorResponse
	json.Unmarshal(rec1.Body.Bytes(), &resp)
	if resp.Code != "PREDICTION_SUPERSEDED" {
		t.Errorf("error code = %q, want PREDICTION_SUPERSEDED", resp.Code)
	}
}

func TestPredictionHandler_Predict_NoUserContext(t *testing.T) {
	h := newTestPredictionHandler(t, "http://127.0.0.1:1", &mockLedgerService{})

	req := httptest.NewRequest(http.MethodPost, "/api/predictions", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()

	h.Predict(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestPredictionHandler_Predict_AppendsToRealLedger(t *testing.T) {
	server := newPredictionTestServer(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"predicted_quantity": 18, "confidence": 0.7})
	})
	defer server.Close()

	memStore := store.NewMemoryStore()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	realLedger := ledger.New(memStore, logger, ledger.NopRecorder{})

	provider := NewPredictClientProvider(func() *predict.Client {
		return predict.NewClient(http.DefaultClient, logger, predict.NopRecorder{}, server.URL, 5*time.Second, 1<<20)
	}, time.Hour)
	t.Cleanup(provider.Stop)
	h := NewPredictionHandler(provider, realLedger, security.NewInputSanitizer())

	req := authedRequest(http.MethodPost, "/api/predictions", `{"menuName":"CROISSANT","lastDayQuantity":20,"dayOfWeek":3}`)
	rec := httptest.NewRecorder()

	h.Predict(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d (body: %s)", rec.Code, http.StatusCreated, rec.Body.String())
	}

	records, err := realLedger.Load(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("failed to load ledger: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("ledger records = %d, want 1", len(records))
	}
	if records[0].MenuName != "CROISSANT" || records[0].PredictedQuantity != 18 {
		t.Errorf("record = %+v, want CROISSANT/18", records[0])
	}
}

func TestPredictClientProvider_SameSessionSameClient(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	provider := NewPredictClientProvider(func() *predict.Client {
		return predict.NewClient(http.DefaultClient, logger, predict.NopRecorder{}, "http://example.com", time.Second, 1<<20)
	}, time.Hour)
	t.Cleanup(provider.Stop)

	a := provider.ClientFor("sess-1")
	b := provider.ClientFor("sess-1")
	c := provider.ClientFor("sess-2")

	if a != b {
		t.Error("same session should reuse the same client")
	}
	if a == c {
		t.Error("different sessions should get different clients")
	}

	provider.Drop("sess-1")
	if provider.ClientFor("sess-1") == a {
		t.Error("dropped session should get a fresh client")
	}
}

func TestPredictClientProvider_SweepEvictsIdleClients(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	provider := NewPredictClientProvider(func() *predict.Client {
		return predict.NewClient(http.DefaultClient, logger, predict.NopRecorder{}, "http://example.com", time.Second, 1<<20)
	}, time.Hour)
	t.Cleanup(provider.Stop)

	idle := provider.ClientFor("sess-idle")
	active := provider.ClientFor("sess-active")

	// TTL未満のアイドルは生き残る
	provider.sweep(time.Now().Add(30 * time.Minute))
	if provider.ClientFor("sess-active") != active {
		t.Error("recently used client should survive the sweep")
	}

	// ログアウトせずに放置されたセッションはTTL超過で回収される
	provider.sweep(time.Now().Add(2 * time.Hour))
	if provider.ClientFor("sess-idle") == idle {
		t.Error("idle client should have been evicted by the sweep")
	}
}
