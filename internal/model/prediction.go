package model

import "time"

// PredictionResult は外部予測サービスが算出した翌日の生産予測を表す。
// Confidenceは0〜1の範囲。予測サービスがconfidenceを返さない場合は0。
type PredictionResult struct {
	Quantity   float64 `json:"quantity"`
	Confidence float64 `json:"confidence"`
}

// HistoryRecord は予測履歴台帳の1エントリを表す。
// 一度追記されたレコードは不変であり、ActualQuantityのみ
// 後から明示的な更新操作で記入できる。
// JSONタグは永続化フォーマット（台帳ブロブ）と共有する。
type HistoryRecord struct {
	ID                string    `json:"id"`
	Date              time.Time `json:"date"`
	MenuName          string    `json:"menuName"`
	PredictedQuantity float64   `json:"predictedQuantity"`
	Confidence        float64   `json:"confidence"`
	ActualQuantity    *float64  `json:"actualQuantity,omitempty"`
}
