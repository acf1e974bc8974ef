// Package query は履歴レコードに対する純粋なフィルタ・集計を提供する。
// 台帳を変更せず、入出力はすべて値として受け渡される。
package query

import (
	"sort"

	"github.com/hitoshi/bakeman/internal/model"
)

// Criteria は履歴の絞り込み条件。ゼロ値のフィールドは条件として適用されない。
// DateはUTCの "2006-01-02" 形式で日単位の一致を取る。
type Criteria struct {
	Product string
	Date    string
}

// Stats は履歴の集計結果。
// BestProductは平均accuracyが最も高い商品。accuracyを計算できる
// レコードが1件もない場合は空文字列になる。
type Stats struct {
	Count             int     `json:"count"`
	AverageConfidence float64 `json:"averageConfidence"`
	BestProduct       string  `json:"bestProduct"`
	BestAccuracy      float64 `json:"bestAccuracy"`
}

// DailyTotal は日別の予測数量合計。ダッシュボード表示に使う。
type DailyTotal struct {
	Date           string  `json:"date"`
	TotalPredicted float64 `json:"totalPredicted"`
}

// Filter は条件に一致するレコードを台帳順のまま返す。
func Filter(records []model.HistoryRecord, c Criteria) []model.HistoryRecord {
	result := make([]model.HistoryRecord, 0, len(records))
	for _, rec := range records {
		if c.Product != "" && rec.MenuName != c.Product {
			continue
		}
		if c.Date != "" && rec.Date.UTC().Format("2006-01-02") != c.Date {
			continue
		}
		result = append(result, rec)
	}
	return result
}

// Accuracy は1レコードの予測精度を返す。
// accuracy = 1 - |predicted - actual| / predicted。
// 実績未記入、または予測数量が0の場合は計算できない（ok=false）。
func Accuracy(rec model.HistoryRecord) (float64, bool) {
	if rec.ActualQuantity == nil || rec.PredictedQuantity == 0 {
		return 0, false
	}
	diff := rec.PredictedQuantity - *rec.ActualQuantity
	if diff < 0 {
		diff = -diff
	}
	return 1 - diff/rec.PredictedQuantity, true
}

// Aggregate はレコード群を集計する。空入力はゼロ値のStatsを返す。
// BestProductの同率は台帳内で先に現れた商品が勝つ。
func Aggregate(records []model.HistoryRecord) Stats {
	stats := Stats{Count: len(records)}
	if len(records) == 0 {
		return stats
	}

	confidenceSum := 0.0
	accuracySums := make(map[string]float64)
	accuracyCounts := make(map[string]int)
	productOrder := []string{}

	for _, rec := range records {
		confidenceSum += rec.Confidence

		acc, ok := Accuracy(rec)
		if !ok {
			continue
		}
		if accuracyCounts[rec.MenuName] == 0 {
			productOrder = append(productOrder, rec.MenuName)
		}
		accuracySums[rec.MenuName] += acc
		accuracyCounts[rec.MenuName]++
	}

	stats.AverageConfidence = confidenceSum / float64(len(records))

	best := ""
	bestAvg := 0.0
	for _, product := range productOrder {
		avg := accuracySums[product] / float64(accuracyCounts[product])
		if best == "" || avg > bestAvg {
			best = product
			bestAvg = avg
		}
	}
	stats.BestProduct = best
	stats.BestAccuracy = bestAvg
	return stats
}

// DailyTotals は日別の予測数量合計を日付昇順で返す。
func DailyTotals(records []model.HistoryRecord) []DailyTotal {
	totals := make(map[string]float64)
	for _, rec := range records {
		day := rec.Date.UTC().Format("2006-01-02")
		totals[day] += rec.PredictedQuantity
	}

	days := make([]string, 0, len(totals))
	for day := range totals {
		days = append(days, day)
	}
	sort.Strings(days)

	result := make([]DailyTotal, 0, len(days))
	for _, day := range days {
		result = append(result, DailyTotal{Date: day, TotalPredicted: totals[day]})
	}
	return result
}
