// Package export は履歴台帳の決定的なCSVシリアライズを提供する。
// 同じ入力は常にバイト単位で同一の出力になる。行順は台帳順。
package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"
	"time"

	"github.com/hitoshi/bakeman/internal/model"
	"github.com/hitoshi/bakeman/internal/query"
)

// naToken は実績・精度が未記入のセルに出力される値。
const naToken = "N/A"

var header = []string{"Date", "Product", "PredictedQuantity", "ActualQuantity", "Confidence", "Accuracy"}

// Serialize はレコード群をCSVバイト列へ変換する。
// 空台帳はヘッダ行のみを出力する。
func Serialize(records []model.HistoryRecord) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write(header); err != nil {
		return nil, fmt.Errorf("failed to write csv header: %w", err)
	}

	for _, rec := range records {
		row := []string{
			rec.Date.UTC().Format("2006-01-02"),
			rec.MenuName,
			formatQuantity(rec.PredictedQuantity),
			formatActual(rec.ActualQuantity),
			formatQuantity(rec.Confidence),
			formatAccuracy(rec),
		}
		if err := w.Write(row); err != nil {
			return nil, fmt.Errorf("failed to write csv row: %w", err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("failed to flush csv: %w", err)
	}
	return buf.Bytes(), nil
}

// Filename はエクスポート日のUTC日付入りファイル名を返す。
func Filename(now time.Time) string {
	return "bakery-predictions-" + now.UTC().Format("2006-01-02") + ".csv"
}

func formatQuantity(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func formatActual(v *float64) string {
	if v == nil {
		return naToken
	}
	return formatQuantity(*v)
}

func formatAccuracy(rec model.HistoryRecord) string {
	acc, ok := query.Accuracy(rec)
	if !ok {
		return naToken
	}
	return strconv.FormatFloat(acc, 'f', 4, 64)
}
