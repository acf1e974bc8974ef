// Package ledger はユーザーごとの予測履歴台帳を提供する。
// 台帳は追記専用で、ユーザーIDから導出されるキーの単一JSONブロブとして
// 永続ストアに保存される。読み出し時に破損していた場合は空台帳として
// 振る舞い、次回の追記で健全な状態に上書きされる（自己修復）。
package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/bakeman/internal/model"
	"github.com/hitoshi/bakeman/internal/store"
)

// Recorder は台帳操作の計測フック。
type Recorder interface {
	RecordLedgerAppend()
}

// NopRecorder は何も記録しないRecorder。
type NopRecorder struct{}

func (NopRecorder) RecordLedgerAppend() {}

// Ledger は予測履歴台帳を操作する。
type Ledger struct {
	store   store.DurableStore
	logger  *slog.Logger
	metrics Recorder
	now     func() time.Time
	newID   func() string
}

// New はLedgerを生成する。
func New(durable store.DurableStore, logger *slog.Logger, metrics Recorder) *Ledger {
	return &Ledger{
		store:   durable,
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
		newID:   func() string { return uuid.New().String() },
	}
}

// Load はユーザーの台帳を読み込む。キーが存在しない場合は空スライスを返す。
// ブロブが破損している場合は警告ログを出して空台帳として扱い、
// ストア自体はこの時点では変更しない。
func (l *Ledger) Load(ctx context.Context, userID string) ([]model.HistoryRecord, error) {
	value, found, err := l.store.Get(ctx, store.LedgerKey(userID))
	if err != nil {
		return nil, fmt.Errorf("failed to read ledger: %w", err)
	}
	if !found {
		return []model.HistoryRecord{}, nil
	}

	var records []model.HistoryRecord
	if jsonErr := json.Unmarshal(value, &records); jsonErr != nil {
		l.logger.Warn("ledger blob is corrupted, treating as empty",
			slog.String("user_id", userID),
			slog.String("error", jsonErr.Error()),
		)
		return []model.HistoryRecord{}, nil
	}

	// 必須フィールドを欠くレコードや、数値フィールドが負値・非有限値の
	// レコードが混入していた場合も台帳全体を破棄する
	for _, rec := range records {
		if rec.ID == "" || rec.Date.IsZero() ||
			!validStoredValue(rec.PredictedQuantity) || !validStoredValue(rec.Confidence) {
			l.logger.Warn("ledger blob contains invalid records, treating as empty",
				slog.String("user_id", userID),
			)
			return []model.HistoryRecord{}, nil
		}
	}

	return records, nil
}

// Append は新しい履歴レコードを台帳の末尾に追加して永続化する。
// レコードIDは台帳内で一意なUUIDが払い出される。
func (l *Ledger) Append(ctx context.Context, userID, menuName string, result model.PredictionResult) (*model.HistoryRecord, error) {
	records, err := l.Load(ctx, userID)
	if err != nil {
		return nil, err
	}

	record := model.HistoryRecord{
		ID:                l.uniqueID(records),
		Date:              l.now().UTC(),
		MenuName:          menuName,
		PredictedQuantity: result.Quantity,
		Confidence:        result.Confidence,
	}

	records = append(records, record)
	if err := l.persist(ctx, userID, records); err != nil {
		return nil, err
	}

	l.metrics.RecordLedgerAppend()
	l.logger.Info("appended prediction record",
		slog.String("user_id", userID),
		slog.String("record_id", record.ID),
		slog.String("menu_name", menuName),
	)
	return &record, nil
}

// UpdateActual は指定レコードに実績数量を設定する。
// 実績は上書き可能で、過去の予測値は変更されない。
func (l *Ledger) UpdateActual(ctx context.Context, userID, recordID string, actual float64) (*model.HistoryRecord, error) {
	if actual < 0 {
		return nil, model.NewNotANumberError("actualQuantity")
	}

	records, err := l.Load(ctx, userID)
	if err != nil {
		return nil, err
	}

	for i := range records {
		if records[i].ID != recordID {
			continue
		}
		records[i].ActualQuantity = &actual
		if err := l.persist(ctx, userID, records); err != nil {
			return nil, err
		}
		return &records[i], nil
	}

	return nil, model.NewRecordNotFoundError(recordID)
}

func (l *Ledger) persist(ctx context.Context, userID string, records []model.HistoryRecord) error {
	data, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("failed to marshal ledger: %w", err)
	}
	if err := l.store.Set(ctx, store.LedgerKey(userID), data); err != nil {
		return fmt.Errorf("failed to persist ledger: %w", err)
	}
	return nil
}

// uniqueID は既存レコードと衝突しないIDを払い出す。
func (l *Ledger) uniqueID(records []model.HistoryRecord) string {
	for {
		id := l.newID()
		if !containsID(records, id) {
			return id
		}
	}
}

func containsID(records []model.HistoryRecord, id string) bool {
	for _, rec := range records {
		if rec.ID == id {
			return true
		}
	}
	return false
}

// validStoredValue は台帳に保存された数値として妥当（非負かつ有限）か判定する。
func validStoredValue(v float64) bool {
	return v >= 0 && !math.IsNaN(v) && !math.IsInf(v, 0)
}
