// Package predict は外部予測サービスへの検証付きディスパッチを提供する。
// クライアントは単調増加トークンで応答の鮮度を管理し、
// 古いリクエストの応答が新しい応答を上書きしないことを保証する。
package predict

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/hitoshi/bakeman/internal/model"
)

// ErrSuperseded は応答が到着した時点でより新しいリクエストが発行済みで、
// 結果が破棄されたことを示す。
var ErrSuperseded = errors.New("prediction result superseded by a newer request")

// Recorder は予測ディスパッチの計測フック。
type Recorder interface {
	RecordPredictSuccess()
	RecordPredictFailure(code string)
	RecordStaleDiscard()
	RecordForecastStatus(status int)
	ObservePredictDuration(seconds float64)
}

// NopRecorder は何も記録しないRecorder。
type NopRecorder struct{}

func (NopRecorder) RecordPredictSuccess()          {}
func (NopRecorder) RecordPredictFailure(string)    {}
func (NopRecorder) RecordStaleDiscard()            {}
func (NopRecorder) RecordForecastStatus(int)       {}
func (NopRecorder) ObservePredictDuration(float64) {}

// Request は予測リクエストの入力フォーム。
// LastDayQuantityは文字列入力をそのまま受け取り、検証段階で数値化する。
// DayOfWeekは0(月曜)〜6(日曜)。未指定とゼロ値を区別するためポインタにしている。
type Request struct {
	MenuName        string      `json:"menuName"`
	LastDayQuantity json.Number `json:"lastDayQuantity"`
	DayOfWeek       *int        `json:"dayOfWeek"`
}

// forecastRequest は予測サービスのワイヤ形式。
type forecastRequest struct {
	MenuName        string  `json:"menu_name"`
	LastDayQuantity float64 `json:"last_day_quantity"`
	TodayDayOfWeek  int     `json:"today_day_of_week"`
}

// forecastResponse は予測サービスの成功応答。confidenceは省略可。
type forecastResponse struct {
	PredictedQuantity *json.Number `json:"predicted_quantity"`
	Confidence        json.Number  `json:"confidence"`
}

// forecastErrorResponse は予測サービスのエラー応答。
type forecastErrorResponse struct {
	Detail string `json:"detail"`
}

// Client は1クライアントインスタンスの予測ディスパッチを所有する。
// 並行して発行されたリクエストのうち、最後に発行されたものの結果だけが適用される。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	metrics    Recorder
	endpoint   string
	timeout    time.Duration
	maxSize    int64

	mu         sync.Mutex
	lastIssued uint64
	result     *model.PredictionResult
	err        error
}

// NewClient はClientを生成する。httpClientはアウトバウンドガード済みのものを渡すこと。
func NewClient(
	httpClient *http.Client,
	logger *slog.Logger,
	metrics Recorder,
	endpoint string,
	timeout time.Duration,
	maxSize int64,
) *Client {
	return &Client{
		httpClient: httpClient,
		logger:     logger,
		metrics:    metrics,
		endpoint:   endpoint,
		timeout:    timeout,
		maxSize:    maxSize,
	}
}

// Validate はリクエストを検証し、違反があればmodel.APIErrorを返す。
// 欠落チェックが数値チェックより先に行われる。
func Validate(req Request) *model.APIError {
	if strings.TrimSpace(req.MenuName) == "" {
		return model.NewMissingFieldError("menuName")
	}
	if req.LastDayQuantity.String() == "" {
		return model.NewMissingFieldError("lastDayQuantity")
	}
	if req.DayOfWeek == nil {
		return model.NewMissingFieldError("dayOfWeek")
	}

	quantity, err := req.LastDayQuantity.Float64()
	if err != nil {
		return model.NewNotANumberError("lastDayQuantity")
	}
	if quantity < 0 {
		return model.NewNotANumberError("lastDayQuantity")
	}

	if *req.DayOfWeek < 0 || *req.DayOfWeek > 6 {
		return model.NewNotANumberError("dayOfWeek")
	}

	return nil
}

// Predict はリクエストを検証し、予測サービスへディスパッチする。
// 応答適用時点でより新しいリクエストが発行済みの場合、結果は破棄され
// ErrSupersededが返る。破棄された結果はLatest()にも反映されない。
func (c *Client) Predict(ctx context.Context, req Request) (*model.PredictionResult, error) {
	if apiErr := Validate(req); apiErr != nil {
		c.metrics.RecordPredictFailure(apiErr.Code)
		return nil, apiErr
	}

	token := c.issueToken()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	result, callErr := c.dispatch(ctx, req)
	c.metrics.ObservePredictDuration(time.Since(start).Seconds())

	return c.apply(token, result, callErr)
}

// Latest は最後に適用された結果とエラーを返す。
// 破棄された応答はここに現れない。
func (c *Client) Latest() (*model.PredictionResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.result, c.err
}

func (c *Client) issueToken() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastIssued++
	return c.lastIssued
}

// apply はトークンが最新の場合のみ結果を適用する。
func (c *Client) apply(token uint64, result *model.PredictionResult, callErr error) (*model.PredictionResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if token != c.lastIssued {
		c.metrics.RecordStaleDiscard()
		c.logger.Info("discarding stale prediction response",
			slog.Uint64("token", token),
			slog.Uint64("last_issued", c.lastIssued),
		)
		return nil, ErrSuperseded
	}

	c.result = result
	c.err = callErr

	if callErr != nil {
		code := model.ErrCodeServerError
		var apiErr *model.APIError
		if errors.As(callErr, &apiErr) {
			code = apiErr.Code
		}
		c.metrics.RecordPredictFailure(code)
		return nil, callErr
	}

	c.metrics.RecordPredictSuccess()
	return result, nil
}

// dispatch は予測サービスへPOSTし応答を分類する。
func (c *Client) dispatch(ctx context.Context, req Request) (*model.PredictionResult, error) {
	quantity, err := req.LastDayQuantity.Float64()
	if err != nil {
		return nil, model.NewNotANumberError("lastDayQuantity")
	}

	payload, err := json.Marshal(forecastRequest{
		MenuName:        req.MenuName,
		LastDayQuantity: quantity,
		TodayDayOfWeek:  *req.DayOfWeek,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal forecast request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create forecast request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		// タイムアウトを含む到達性障害はすべてネットワークエラーに分類する
		c.logger.Warn("forecast request failed",
			slog.String("error", err.Error()),
		)
		return nil, model.NewNetworkError()
	}
	defer resp.Body.Close()

	c.metrics.RecordForecastStatus(resp.StatusCode)

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxSize))
	if err != nil {
		return nil, model.NewNetworkError()
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp forecastErrorResponse
		detail := ""
		if jsonErr := json.Unmarshal(body, &errResp); jsonErr == nil {
			detail = errResp.Detail
		}
		return nil, model.NewForecastServerError(resp.StatusCode, detail)
	}

	var wire forecastResponse
	if jsonErr := json.Unmarshal(body, &wire); jsonErr != nil || wire.PredictedQuantity == nil {
		return nil, model.NewForecastServerError(0, "malformed response")
	}

	predicted, numErr := wire.PredictedQuantity.Float64()
	if numErr != nil {
		return nil, model.NewForecastServerError(0, "malformed response")
	}

	confidence := 0.0
	if wire.Confidence.String() != "" {
		if v, confErr := wire.Confidence.Float64(); confErr == nil {
			confidence = v
		}
	}

	// 負値・非有限値を返す応答は不正応答として棄却し、台帳に流さない
	if !validForecastValue(predicted) || !validForecastValue(confidence) {
		return nil, model.NewForecastServerError(0, "malformed response")
	}

	return &model.PredictionResult{
		Quantity:   predicted,
		Confidence: confidence,
	}, nil
}

// validForecastValue は予測値として妥当な数値（非負かつ有限）か判定する。
func validForecastValue(v float64) bool {
	return v >= 0 && !math.IsNaN(v) && !math.IsInf(v, 0)
}
