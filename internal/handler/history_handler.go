package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/bakeman/internal/export"
	"github.com/hitoshi/bakeman/internal/ledger"
	"github.com/hitoshi/bakeman/internal/middleware"
	"github.com/hitoshi/bakeman/internal/model"
	"github.com/hitoshi/bakeman/internal/query"
)

// HistoryService は履歴ハンドラーが必要とする台帳操作のインターフェース。
type HistoryService interface {
	Load(ctx context.Context, userID string) ([]model.HistoryRecord, error)
	UpdateActual(ctx context.Context, userID, recordID string, actual float64) (*model.HistoryRecord, error)
}

// HistoryHandler は予測履歴のHTTPハンドラー。
type HistoryHandler struct {
	ledger HistoryService
	now    func() time.Time
}

// NewHistoryHandler はHistoryHandlerを生成する。
func NewHistoryHandler(ledgerSvc HistoryService) *HistoryHandler {
	return &HistoryHandler{
		ledger: ledgerSvc,
		now:    time.Now,
	}
}

// historyResponse は履歴一覧のAPIレスポンス。
type historyResponse struct {
	Records []model.HistoryRecord `json:"records"`
}

// updateActualRequest は実績記入リクエストのボディ。
type updateActualRequest struct {
	ActualQuantity *flexNumber `json:"actualQuantity"`
}

// dashboardResponse はダッシュボードのAPIレスポンス。
type dashboardResponse struct {
	Stats       query.Stats           `json:"stats"`
	DailyTotals []query.DailyTotal    `json:"dailyTotals"`
	Recent      []model.HistoryRecord `json:"recent"`
}

// criteriaFromQuery はクエリパラメータから絞り込み条件を組み立てる。
func criteriaFromQuery(r *http.Request) (query.Criteria, *model.APIError) {
	c := query.Criteria{
		Product: r.URL.Query().Get("product"),
		Date:    r.URL.Query().Get("date"),
	}
	if c.Date != "" {
		if _, err := time.Parse("2006-01-02", c.Date); err != nil {
			return c, &model.APIError{
				Code:     "VALIDATION_INVALID_DATE",
				Message:  fmt.Sprintf("日付の形式が不正です: %s", c.Date),
				Category: "validation",
				Action:   "YYYY-MM-DD形式で指定してください。",
			}
		}
	}
	return c, nil
}

// List は履歴一覧を返す。product/dateクエリで絞り込みできる。
// GET /api/history
func (h *HistoryHandler) List(w http.ResponseWriter, r *http.Request) {
	user, err := middleware.UserFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	criteria, apiErr := criteriaFromQuery(r)
	if apiErr != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}

	records, err := h.ledger.Load(r.Context(), user.ID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, historyResponse{Records: query.Filter(records, criteria)})
}

// UpdateActual は履歴レコードに実績数量を記入する。
// PATCH /api/history/{id}/actual
func (h *HistoryHandler) UpdateActual(w http.ResponseWriter, r *http.Request) {
	user, err := middleware.UserFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	recordID := chi.URLParam(r, "id")

	var req updateActualRequest
	if decodeErr := json.NewDecoder(r.Body).Decode(&req); decodeErr != nil {
		writeInvalidRequestBody(w)
		return
	}

	if req.ActualQuantity == nil || string(*req.ActualQuantity) == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewMissingFieldError("actualQuantity"))
		return
	}

	actual, parseErr := strconv.ParseFloat(string(*req.ActualQuantity), 64)
	if parseErr != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewNotANumberError("actualQuantity"))
		return
	}

	record, err := h.ledger.UpdateActual(r.Context(), user.ID, recordID, actual)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, record)
}

// Stats は絞り込み済み履歴の集計を返す。
// GET /api/history/stats
func (h *HistoryHandler) Stats(w http.ResponseWriter, r *http.Request) {
	user, err := middleware.UserFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	criteria, apiErr := criteriaFromQuery(r)
	if apiErr != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}

	records, err := h.ledger.Load(r.Context(), user.ID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, query.Aggregate(query.Filter(records, criteria)))
}

// Export は履歴台帳をCSVファイルとしてダウンロードさせる。
// GET /api/history/export
func (h *HistoryHandler) Export(w http.ResponseWriter, r *http.Request) {
	user, err := middleware.UserFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	criteria, apiErr := criteriaFromQuery(r)
	if apiErr != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}

	records, err := h.ledger.Load(r.Context(), user.ID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	data, err := export.Serialize(query.Filter(records, criteria))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	filename := export.Filename(h.now())
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// Dashboard は集計・日別合計・直近の履歴をまとめて返す。
// GET /api/dashboard
func (h *HistoryHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	user, err := middleware.UserFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	records, err := h.ledger.Load(r.Context(), user.ID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	// 直近5件（台帳は追記順なので末尾から取る）
	recent := records
	if len(recent) > 5 {
		recent = recent[len(recent)-5:]
	}

	// 日別合計は直近7日分のみ返す
	totals := query.DailyTotals(records)
	if len(totals) > 7 {
		totals = totals[len(totals)-7:]
	}

	writeJSON(w, http.StatusOK, dashboardResponse{
		Stats:       query.Aggregate(records),
		DailyTotals: totals,
		Recent:      recent,
	})
}

var _ HistoryService = (*ledger.Ledger)(nil)
