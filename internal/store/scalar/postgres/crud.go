package postgres

import (
	"context"
	"encoding/binary"
	"errors"
	"math"

	"gorm.io/gorm"

	"github.com/thebtf/semcache/pkg/models"
)

func encodeEmbedding(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeEmbedding(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}

// BatchInsert persists records and returns their ids in input order.
func (s *Store) BatchInsert(ctx context.Context, model string, records []models.CacheData) ([]int64, error) {
	if len(records) == 0 {
		return nil, nil
	}

	rows := make([]LLMAnswer, len(records))
	for i, rec := range records {
		answer, answerType := "", models.AnswerSTR
		if len(rec.Answers) > 0 {
			answer, answerType = rec.Answers[0].Value, rec.Answers[0].Type
		}
		var embed []byte
		if len(rec.Embedding) > 0 {
			embed = encodeEmbedding(rec.Embedding)
		}
		rows[i] = LLMAnswer{
			Question:      rec.Question.Content,
			Answer:        answer,
			AnswerType:    int(answerType),
			Model:         model,
			EmbeddingData: embed,
		}
	}

	if err := s.db.WithContext(ctx).Create(&rows).Error; err != nil {
		return nil, err
	}

	ids := make([]int64, len(rows))
	for i, r := range rows {
		ids[i] = r.ID
	}
	return ids, nil
}

// InsertQueryResp writes a best-effort audit row.
func (s *Store) InsertQueryResp(ctx context.Context, rec models.QueryLogRecord) error {
	row := QueryLog{
		ErrorCode: rec.ErrorCode,
		ErrorDesc: rec.ErrorDesc,
		CacheHit:  rec.CacheHit,
		Model:     rec.Model,
		Query:     rec.QueryJSON,
		HitQuery:  rec.HitQuery,
		Answer:    rec.Answer,
		DeltaTime: rec.DeltaTimeSeconds,
	}
	return s.db.WithContext(ctx).Create(&row).Error
}

// GetDataByID returns the record for id, or nil if absent or tombstoned.
func (s *Store) GetDataByID(ctx context.Context, id int64) (*models.ScalarRecord, error) {
	var row LLMAnswer
	err := s.db.WithContext(ctx).First(&row, "id = ? AND is_deleted = false", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &models.ScalarRecord{
		ID:            row.ID,
		Question:      row.Question,
		Answer:        row.Answer,
		AnswerType:    models.AnswerType(row.AnswerType),
		Model:         row.Model,
		HitCount:      row.HitCount,
		EmbeddingData: row.EmbeddingData,
		Deleted:       row.IsDeleted,
	}, nil
}

// UpdateHitCountByID increments the hit counter for id.
func (s *Store) UpdateHitCountByID(ctx context.Context, id int64) error {
	return s.db.WithContext(ctx).Model(&LLMAnswer{}).Where("id = ?", id).
		UpdateColumn("hit_count", gorm.Expr("hit_count + 1")).Error
}

// MarkDeleted soft-deletes ids, returning the count actually tombstoned.
func (s *Store) MarkDeleted(ctx context.Context, ids []int64) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := s.db.WithContext(ctx).Model(&LLMAnswer{}).
		Where("id IN ? AND is_deleted = false", ids).
		UpdateColumn("is_deleted", true)
	return int(res.RowsAffected), res.Error
}

// ModelDeleted tombstones every row belonging to model.
func (s *Store) ModelDeleted(ctx context.Context, model string) (int, error) {
	res := s.db.WithContext(ctx).Model(&LLMAnswer{}).
		Where("model = ? AND is_deleted = false", model).
		UpdateColumn("is_deleted", true)
	return int(res.RowsAffected), res.Error
}

// ClearDeletedData permanently removes tombstoned rows.
func (s *Store) ClearDeletedData(ctx context.Context) error {
	return s.db.WithContext(ctx).Where("is_deleted = true").Delete(&LLMAnswer{}).Error
}

// GetIDs lists ids for model, optionally including tombstoned rows.
func (s *Store) GetIDs(ctx context.Context, model string, includeDeleted bool) ([]int64, error) {
	q := s.db.WithContext(ctx).Model(&LLMAnswer{}).Where("model = ?", model)
	if !includeDeleted {
		q = q.Where("is_deleted = false")
	}
	var ids []int64
	err := q.Pluck("id", &ids).Error
	return ids, err
}

// Count returns the number of live rows for model.
func (s *Store) Count(ctx context.Context, model string) (int, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&LLMAnswer{}).
		Where("model = ? AND is_deleted = false", model).Count(&n).Error
	return int(n), err
}

// Flush is a no-op: GORM writes commit synchronously.
func (s *Store) Flush(ctx context.Context) error { return nil }
