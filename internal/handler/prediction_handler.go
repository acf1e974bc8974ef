package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/hitoshi/bakeman/internal/ledger"
	"github.com/hitoshi/bakeman/internal/middleware"
	"github.com/hitoshi/bakeman/internal/model"
	"github.com/hitoshi/bakeman/internal/predict"
	"github.com/hitoshi/bakeman/internal/security"
)

// LedgerService は予測ハンドラーが必要とする台帳操作のインターフェース。
type LedgerService interface {
	Append(ctx context.Context, userID, menuName string, result model.PredictionResult) (*model.HistoryRecord, error)
}

// clientSweepInterval はアイドルクライアントのクリーンアップ間隔。
const clientSweepInterval = 10 * time.Minute

// clientEntry はセッションのクライアントと最終アクセス時刻を保持する。
type clientEntry struct {
	client     *predict.Client
	lastAccess time.Time
}

// PredictClientProvider はセッションIDごとにpredict.Clientを保持する。
// 鮮度トークンはクライアントインスタンス単位の契約なので、
// セッションをまたいでクライアントを共有しない。
// ログアウトを経ずに失効したセッションのクライアントは
// バックグラウンドのクリーンアップで回収される。
type PredictClientProvider struct {
	mu      sync.Mutex
	clients map[string]*clientEntry
	factory func() *predict.Client
	idleTTL time.Duration
	stopCh  chan struct{}
}

// NewPredictClientProvider はPredictClientProviderを生成する。
// idleTTLの間アクセスのなかったクライアントはバックグラウンドで破棄される。
func NewPredictClientProvider(factory func() *predict.Client, idleTTL time.Duration) *PredictClientProvider {
	p := &PredictClientProvider{
		clients: make(map[string]*clientEntry),
		factory: factory,
		idleTTL: idleTTL,
		stopCh:  make(chan struct{}),
	}

	go p.sweepLoop()

	return p
}

// Stop はクリーンアップのバックグラウンドゴルーチンを停止する。
func (p *PredictClientProvider) Stop() {
	close(p.stopCh)
}

// ClientFor はセッションIDに対応するクライアントを返す。存在しなければ生成する。
func (p *PredictClientProvider) ClientFor(sessionID string) *predict.Client {
	p.mu.Lock()
	defer p.mu.Unlock()

	if e, ok := p.clients[sessionID]; ok {
		e.lastAccess = time.Now()
		return e.client
	}
	e := &clientEntry{client: p.factory(), lastAccess: time.Now()}
	p.clients[sessionID] = e
	return e.client
}

// Drop はセッションのクライアントを破棄する。
func (p *PredictClientProvider) Drop(sessionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.clients, sessionID)
}

// sweepLoop はバックグラウンドでアイドルクライアントを定期的に破棄する。
func (p *PredictClientProvider) sweepLoop() {
	ticker := time.NewTicker(clientSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.sweep(time.Now())
		case <-p.stopCh:
			return
		}
	}
}

// sweep は最終アクセスからidleTTLを超えたクライアントを破棄する。
func (p *PredictClientProvider) sweep(now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for sessionID, e := range p.clients {
		if now.Sub(e.lastAccess) > p.idleTTL {
			delete(p.clients, sessionID)
		}
	}
}

// PredictionHandler は予測ディスパッチのHTTPハンドラー。
type PredictionHandler struct {
	provider  *PredictClientProvider
	ledger    LedgerService
	sanitizer security.InputSanitizerService
}

// NewPredictionHandler はPredictionHandlerを生成する。
func NewPredictionHandler(provider *PredictClientProvider, ledgerSvc LedgerService, sanitizer security.InputSanitizerService) *PredictionHandler {
	return &PredictionHandler{
		provider:  provider,
		ledger:    ledgerSvc,
		sanitizer: sanitizer,
	}
}

// flexNumber はJSON数値と文字列のどちらでも受け取れる数値フィールド。
// フォーム由来の入力は文字列で届くことがある。
type flexNumber string

func (f *flexNumber) UnmarshalJSON(data []byte) error {
	var num json.Number
	if err := json.Unmarshal(data, &num); err == nil {
		*f = flexNumber(num.String())
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = flexNumber(s)
		return nil
	}
	return errors.New("value must be a number or a string")
}

// predictionRequest は予測リクエストのボディ。
type predictionRequest struct {
	MenuName        string      `json:"menuName"`
	LastDayQuantity *flexNumber `json:"lastDayQuantity"`
	DayOfWeek       *flexNumber `json:"dayOfWeek"`
}

// predictionResponse は予測成功時のAPIレスポンス。
type predictionResponse struct {
	Record model.HistoryRecord `json:"record"`
}

// Predict は予測ディスパッチを処理する。
// POST /api/predictions
func (h *PredictionHandler) Predict(w http.ResponseWriter, r *http.Request) {
	user, err := middleware.UserFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}
	sessionID, err := middleware.SessionIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	var req predictionRequest
	if decodeErr := json.NewDecoder(r.Body).Decode(&req); decodeErr != nil {
		writeInvalidRequestBody(w)
		return
	}

	menuName := h.sanitizer.Sanitize(req.MenuName)

	predictReq, apiErr := buildPredictRequest(menuName, req.LastDayQuantity, req.DayOfWeek)
	if apiErr != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}

	client := h.provider.ClientFor(sessionID)
	result, err := client.Predict(r.Context(), predictReq)
	if err != nil {
		if errors.Is(err, predict.ErrSuperseded) {
			// より新しいリクエストが発行済み。破棄された応答は記録しない
			writeAPIErrorResponse(w, http.StatusConflict, &model.APIError{
				Code:     "PREDICTION_SUPERSEDED",
				Message:  "より新しい予測リクエストが発行されたため、この結果は破棄されました。",
				Category: "prediction",
				Action:   "最新のリクエストの結果をご利用ください。",
			})
			return
		}
		handleServiceError(w, err)
		return
	}

	record, err := h.ledger.Append(r.Context(), user.ID, menuName, *result)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, predictionResponse{Record: *record})
}

// buildPredictRequest はHTTPリクエストボディからpredict.Requestを構築する。
// 欠落チェックはここで、値の検証はpredict.Validateで行う。
func buildPredictRequest(menuName string, quantity, dayOfWeek *flexNumber) (predict.Request, *model.APIError) {
	req := predict.Request{MenuName: menuName}

	if quantity != nil {
		req.LastDayQuantity = json.Number(*quantity)
	}

	if dayOfWeek != nil {
		raw := string(*dayOfWeek)
		if raw == "" {
			return req, model.NewMissingFieldError("dayOfWeek")
		}
		day, err := strconv.Atoi(raw)
		if err != nil {
			return req, model.NewNotANumberError("dayOfWeek")
		}
		req.DayOfWeek = &day
	}

	if apiErr := predict.Validate(req); apiErr != nil {
		return req, apiErr
	}
	return req, nil
}

var _ LedgerService = (*ledger.Ledger)(nil)
