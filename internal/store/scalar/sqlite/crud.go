package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"math"
	"time"

	"github.com/thebtf/semcache/pkg/models"
)

// EncodeEmbedding packs a float32 vector into a little-endian byte blob.
func EncodeEmbedding(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// DecodeEmbedding unpacks a blob written by EncodeEmbedding.
func DecodeEmbedding(b []byte) []float32 {
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

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO modelcache_llm_answer
			(gmt_create, gmt_modified, question, answer, answer_type, hit_count, model, embedding_data, is_deleted)
		VALUES (?, ?, ?, ?, ?, 0, ?, ?, 0)
	`)
	if err != nil {
		return nil, err
	}
	defer stmt.Close()

	ids := make([]int64, len(records))
	now := time.Now().Format(time.RFC3339)
	for i, rec := range records {
		answer, answerType := firstAnswer(rec)
		var embedBlob []byte
		if len(rec.Embedding) > 0 {
			embedBlob = EncodeEmbedding(rec.Embedding)
		}
		res, err := stmt.ExecContext(ctx, now, now, rec.Question.Content, answer, int(answerType), model, embedBlob)
		if err != nil {
			return nil, err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, err
		}
		ids[i] = id
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return ids, nil
}

func firstAnswer(rec models.CacheData) (string, models.AnswerType) {
	if len(rec.Answers) == 0 {
		return "", models.AnswerSTR
	}
	return rec.Answers[0].Value, rec.Answers[0].Type
}

// InsertQueryResp writes a best-effort audit row.
func (s *Store) InsertQueryResp(ctx context.Context, rec models.QueryLogRecord) error {
	stmt, err := s.getStmt(`
		INSERT INTO modelcache_query_log
			(gmt_create, gmt_modified, error_code, error_desc, cache_hit, delta_time, model, query, hit_query, answer)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	now := time.Now().Format(time.RFC3339)
	_, err = stmt.ExecContext(ctx, now, now, rec.ErrorCode, rec.ErrorDesc, boolToInt(rec.CacheHit),
		rec.DeltaTimeSeconds, rec.Model, rec.QueryJSON, rec.HitQuery, rec.Answer)
	return err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// GetDataByID returns the record for id, or nil if absent or tombstoned.
func (s *Store) GetDataByID(ctx context.Context, id int64) (*models.ScalarRecord, error) {
	stmt, err := s.getStmt(`
		SELECT id, question, answer, answer_type, model, hit_count, embedding_data, is_deleted
		FROM modelcache_llm_answer WHERE id = ?
	`)
	if err != nil {
		return nil, err
	}

	var rec models.ScalarRecord
	var answerType int
	var deleted int
	var embed []byte
	err = stmt.QueryRowContext(ctx, id).Scan(&rec.ID, &rec.Question, &rec.Answer, &answerType,
		&rec.Model, &rec.HitCount, &embed, &deleted)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if deleted != 0 {
		return nil, nil
	}
	rec.AnswerType = models.AnswerType(answerType)
	rec.EmbeddingData = embed
	rec.Deleted = deleted != 0
	return &rec, nil
}

// UpdateHitCountByID increments the hit counter for id.
func (s *Store) UpdateHitCountByID(ctx context.Context, id int64) error {
	stmt, err := s.getStmt(`UPDATE modelcache_llm_answer SET hit_count = hit_count + 1, gmt_modified = ? WHERE id = ?`)
	if err != nil {
		return err
	}
	_, err = stmt.ExecContext(ctx, time.Now().Format(time.RFC3339), id)
	return err
}

// MarkDeleted soft-deletes ids, returning the count actually tombstoned.
func (s *Store) MarkDeleted(ctx context.Context, ids []int64) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	var count int
	for _, id := range ids {
		stmt, err := s.getStmt(`UPDATE modelcache_llm_answer SET is_deleted = 1, gmt_modified = ? WHERE id = ? AND is_deleted = 0`)
		if err != nil {
			return count, err
		}
		res, err := stmt.ExecContext(ctx, time.Now().Format(time.RFC3339), id)
		if err != nil {
			return count, err
		}
		n, _ := res.RowsAffected()
		count += int(n)
	}
	return count, nil
}

// ModelDeleted tombstones every row belonging to model.
func (s *Store) ModelDeleted(ctx context.Context, model string) (int, error) {
	stmt, err := s.getStmt(`UPDATE modelcache_llm_answer SET is_deleted = 1, gmt_modified = ? WHERE model = ? AND is_deleted = 0`)
	if err != nil {
		return 0, err
	}
	res, err := stmt.ExecContext(ctx, time.Now().Format(time.RFC3339), model)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// ClearDeletedData permanently removes tombstoned rows.
func (s *Store) ClearDeletedData(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM modelcache_llm_answer WHERE is_deleted = 1`)
	return err
}

// GetIDs lists ids for model, optionally including tombstoned rows.
func (s *Store) GetIDs(ctx context.Context, model string, includeDeleted bool) ([]int64, error) {
	query := `SELECT id FROM modelcache_llm_answer WHERE model = ?`
	if !includeDeleted {
		query += ` AND is_deleted = 0`
	}
	rows, err := s.db.QueryContext(ctx, query, model)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Count returns the number of live rows for model.
func (s *Store) Count(ctx context.Context, model string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM modelcache_llm_answer WHERE model = ? AND is_deleted = 0`, model).Scan(&n)
	return n, err
}
