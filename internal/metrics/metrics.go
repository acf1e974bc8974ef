// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector はPrometheusメトリクスを収集する実装。
// predict.Recorderとledger.Recorderを実装する。
type Collector struct {
	predictSuccess prometheus.Counter
	predictFail    *prometheus.CounterVec
	staleDiscard   prometheus.Counter
	forecastStatus *prometheus.CounterVec
	predictLatency prometheus.Histogram
	ledgerAppend   prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		predictSuccess: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bakeman_predict_success_total",
			Help: "予測ディスパッチ成功の合計数",
		}),
		predictFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bakeman_predict_fail_total",
			Help: "予測ディスパッチ失敗のエラーコード別合計数",
		}, []string{"code"}),
		staleDiscard: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bakeman_predict_stale_discard_total",
			Help: "破棄された古い予測応答の合計数",
		}),
		forecastStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bakeman_forecast_http_status_total",
			Help: "予測サービスのHTTPステータスコード別レスポンス数",
		}, []string{"status_code"}),
		predictLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "bakeman_predict_latency_seconds",
			Help:    "予測ディスパッチのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		ledgerAppend: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bakeman_ledger_append_total",
			Help: "台帳に追記された履歴レコードの合計数",
		}),
	}

	reg.MustRegister(
		c.predictSuccess,
		c.predictFail,
		c.staleDiscard,
		c.forecastStatus,
		c.predictLatency,
		c.ledgerAppend,
	)

	return c
}

// RecordPredictSuccess は予測成功を記録する。
func (c *Collector) RecordPredictSuccess() {
	c.predictSuccess.Inc()
}

// RecordPredictFailure は予測失敗をエラーコード付きで記録する。
func (c *Collector) RecordPredictFailure(code string) {
	c.predictFail.WithLabelValues(code).Inc()
}

// RecordStaleDiscard は古い応答の破棄を記録する。
func (c *Collector) RecordStaleDiscard() {
	c.staleDiscard.Inc()
}

// RecordForecastStatus は予測サービスのHTTPステータスコードを記録する。
func (c *Collector) RecordForecastStatus(status int) {
	c.forecastStatus.WithLabelValues(strconv.Itoa(status)).Inc()
}

// ObservePredictDuration は予測ディスパッチのレイテンシを記録する。
func (c *Collector) ObservePredictDuration(seconds float64) {
	c.predictLatency.Observe(seconds)
}

// RecordLedgerAppend は台帳への追記を記録する。
func (c *Collector) RecordLedgerAppend() {
	c.ledgerAppend.Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
