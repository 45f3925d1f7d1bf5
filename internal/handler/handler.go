// Package handler implements RequestHandler: the single entry point that
// parses a wire request, dispatches it to the appropriate pipeline
// (query/insert/remove/register), and submits an audit record for every
// parsed or dispatched request. A request the blacklist hook blocks gets
// the hook's response and no audit record.
package handler

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/thebtf/semcache/internal/datamanager"
	"github.com/thebtf/semcache/internal/embedding"
	"github.com/thebtf/semcache/internal/metrics"
	"github.com/thebtf/semcache/internal/querylog"
	"github.com/thebtf/semcache/internal/similarity"
	"github.com/thebtf/semcache/internal/store/vector"
	"github.com/thebtf/semcache/pkg/models"
)

// BlacklistFunc inspects a normalized model scope before dispatch; when its
// second result is true, the pipeline is short-circuited and the returned
// bytes are sent back as-is.
type BlacklistFunc func(model string) ([]byte, bool)

// PreEmbedFunc transforms a query/insert chat turn's text before it is
// handed to the embedding dispatcher. The default is the identity.
type PreEmbedFunc func(text string) string

// Candidate is one similarity-evaluated search result handed to
// PostProcessFunc.
type Candidate struct {
	ID       int64
	Question string
	Answer   string
	Score    float64
}

// PostProcessFunc picks the winning candidate, or nil if none should be
// reported as a hit. The default picks the first (best-scoring, since
// DataManager.Search returns best-first).
type PostProcessFunc func(candidates []Candidate) *Candidate

// Config wires a Handler's dependencies and pipeline hooks.
type Config struct {
	DataManager *datamanager.Manager
	Vector      vector.Store
	Dispatcher  *embedding.Dispatcher
	Evaluator   *similarity.Evaluator
	QueryLog    *querylog.Sink
	Metrics     *metrics.Recorder // optional

	TopK int // passed to DataManager.Search; -1 requests the store default

	Blacklist      BlacklistFunc    // optional
	InsertPreEmbed PreEmbedFunc     // optional, defaults to identity
	QueryPreEmbed  PreEmbedFunc     // optional, defaults to identity
	PostProcess    PostProcessFunc  // optional, defaults to first candidate
}

// Handler is the RequestHandler facade.
type Handler struct {
	dm         *datamanager.Manager
	vector     vector.Store
	dispatcher *embedding.Dispatcher
	evaluator  *similarity.Evaluator
	log        *querylog.Sink
	metrics    *metrics.Recorder
	topK       int

	blacklist      BlacklistFunc
	insertPreEmbed PreEmbedFunc
	queryPreEmbed  PreEmbedFunc
	postProcess    PostProcessFunc

	queryGroup singleflight.Group

	registeredMu sync.Mutex
	registered   map[string]bool
}

// New constructs a Handler. TopK defaults to -1 (store default) if unset.
func New(cfg Config) *Handler {
	topK := cfg.TopK
	if topK == 0 {
		topK = -1
	}
	h := &Handler{
		dm:             cfg.DataManager,
		vector:         cfg.Vector,
		dispatcher:     cfg.Dispatcher,
		evaluator:      cfg.Evaluator,
		log:            cfg.QueryLog,
		metrics:        cfg.Metrics,
		topK:           topK,
		blacklist:      cfg.Blacklist,
		insertPreEmbed: cfg.InsertPreEmbed,
		queryPreEmbed:  cfg.QueryPreEmbed,
		postProcess:    cfg.PostProcess,
		registered:     make(map[string]bool),
	}
	if h.insertPreEmbed == nil {
		h.insertPreEmbed = identity
	}
	if h.queryPreEmbed == nil {
		h.queryPreEmbed = identity
	}
	if h.postProcess == nil {
		h.postProcess = firstCandidate
	}
	return h
}

func identity(s string) string { return s }

func firstCandidate(candidates []Candidate) *Candidate {
	if len(candidates) == 0 {
		return nil
	}
	return &candidates[0]
}

// Handle parses raw, dispatches it, and returns the marshaled response.
// It never panics or returns a transport-level error for a malformed
// request body: parse failures are reported as an error-code response.
func (h *Handler) Handle(ctx context.Context, raw []byte) []byte {
	start := time.Now()
	requestID := uuid.NewString()

	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		log.Debug().Str("request_id", requestID).Err(err).Msg("handler: parse error")
		return h.auditAndMarshal(ctx, start, "unknown", "", "", "", "", false, false, CodeParse, fmt.Sprintf("parse error: %v", err), QueryResponse{
			ErrorCode: CodeParse,
			ErrorDesc: "failed to parse request",
			DeltaTime: deltaTime(start),
		})
	}

	model := models.NormalizeModelScope(req.Scope.Model)
	log.Debug().Str("request_id", requestID).Str("type", string(req.Type)).Str("model", model).Msg("handler: dispatching request")

	if h.blacklist != nil {
		if resp, blocked := h.blacklist(model); blocked {
			return resp
		}
	}

	switch req.Type {
	case TypeQuery:
		return h.handleQuery(ctx, start, model, req)
	case TypeInsert:
		return h.handleInsert(ctx, start, model, req)
	case TypeRemove:
		return h.handleRemove(ctx, start, model, req)
	case TypeRegister:
		return h.handleRegister(ctx, start, model, req)
	default:
		return h.auditAndMarshal(ctx, start, "unknown", model, "", "", "", false, false, CodeBadType, "unknown request type", QueryResponse{
			ErrorCode: CodeBadType,
			ErrorDesc: "unknown request type",
			DeltaTime: deltaTime(start),
		})
	}
}

func (h *Handler) handleRegister(ctx context.Context, start time.Time, model string, _ Request) []byte {
	h.registeredMu.Lock()
	alreadyExists := h.registered[model]
	h.registeredMu.Unlock()

	if !alreadyExists {
		if err := h.vector.Create(ctx, model); err != nil {
			return h.auditAndMarshal(ctx, start, "register", model, "", "", "", false, false, CodeRegisterFailed, err.Error(), RegisterResponse{
				ErrorCode:   CodeRegisterFailed,
				ErrorDesc:   err.Error(),
				WriteStatus: "exception",
			})
		}
		h.registeredMu.Lock()
		h.registered[model] = true
		h.registeredMu.Unlock()
	}

	status := "create_success"
	if alreadyExists {
		status = "already_exists"
	}
	return h.auditAndMarshal(ctx, start, "register", model, "", "", "", false, true, CodeSuccess, "", RegisterResponse{
		ErrorCode:   CodeSuccess,
		Response:    status,
		WriteStatus: "success",
	})
}

func (h *Handler) handleInsert(ctx context.Context, start time.Time, model string, req Request) []byte {
	if len(req.ChatInfo) == 0 {
		return h.auditAndMarshal(ctx, start, "insert", model, "", "", "", false, false, CodeBadRequest, "chat_info required", InsertResponse{
			ErrorCode:   CodeBadRequest,
			ErrorDesc:   "chat_info required",
			WriteStatus: "exception",
		})
	}

	records := make([]models.CacheData, len(req.ChatInfo))
	for i, turn := range req.ChatInfo {
		text := h.insertPreEmbed(turn.Query)
		result := <-h.dispatcher.Embed(ctx, text)
		if result.Err != nil {
			return h.auditAndMarshal(ctx, start, "insert", model, "", "", "", false, false, CodeInsertAdapterError, result.Err.Error(), InsertResponse{
				ErrorCode:   CodeInsertAdapterError,
				ErrorDesc:   result.Err.Error(),
				WriteStatus: "exception",
			})
		}
		records[i] = models.CacheData{
			Question:  models.Question{Content: turn.Query},
			Answers:   []models.Answer{{Type: models.AnswerSTR, Value: turn.Answer}},
			Embedding: result.Vector,
		}
	}

	if _, err := h.dm.Save(ctx, records, model); err != nil {
		return h.auditAndMarshal(ctx, start, "insert", model, "", "", "", false, false, CodeInsertFailed, err.Error(), InsertResponse{
			ErrorCode:   CodeInsertFailed,
			ErrorDesc:   err.Error(),
			WriteStatus: "exception",
		})
	}

	return h.auditAndMarshal(ctx, start, "insert", model, "", "", "", false, true, CodeSuccess, "", InsertResponse{
		ErrorCode:   CodeSuccess,
		WriteStatus: "success",
	})
}

func (h *Handler) handleQuery(ctx context.Context, start time.Time, model string, req Request) []byte {
	text := h.queryPreEmbed(req.Query)

	key := model + "\x00" + text
	raw, err, _ := h.queryGroup.Do(key, func() (interface{}, error) {
		return h.executeQuery(ctx, model, req.Query, text)
	})
	if err != nil {
		return h.auditAndMarshal(ctx, start, "query", model, req.Query, "", "", false, false, CodeQueryAdapterError, err.Error(), QueryResponse{
			ErrorCode: CodeQueryAdapterError,
			ErrorDesc: err.Error(),
			DeltaTime: deltaTime(start),
		})
	}

	winner, _ := raw.(*Candidate)
	if winner == nil {
		return h.auditAndMarshal(ctx, start, "query", model, req.Query, "", "", false, true, CodeSuccess, "", QueryResponse{
			ErrorCode: CodeSuccess,
			CacheHit:  false,
			DeltaTime: deltaTime(start),
		})
	}

	if err := h.dm.UpdateHitCount(ctx, winner.ID); err != nil {
		log.Warn().Err(err).Int64("id", winner.ID).Msg("handler: update hit count failed")
	}

	return h.auditAndMarshal(ctx, start, "query", model, req.Query, winner.Question, winner.Answer, true, true, CodeSuccess, "", QueryResponse{
		ErrorCode: CodeSuccess,
		CacheHit:  true,
		HitQuery:  winner.Question,
		Answer:    winner.Answer,
		DeltaTime: deltaTime(start),
	})
}

// executeQuery runs the embed -> search -> evaluate -> post-process
// pipeline once; concurrent identical queries share this call via
// queryGroup.
func (h *Handler) executeQuery(ctx context.Context, model, originalQuery, preEmbedded string) (*Candidate, error) {
	result := <-h.dispatcher.Embed(ctx, preEmbedded)
	if result.Err != nil {
		return nil, fmt.Errorf("embed query: %w", result.Err)
	}

	matches, err := h.dm.Search(ctx, result.Vector, model, h.topK)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}

	var candidates []Candidate
	for _, m := range matches {
		rec, err := h.dm.GetScalarData(ctx, m.ID, model)
		if err != nil || rec == nil || rec.Deleted {
			continue
		}
		score := h.evaluator.Evaluate(m.Distance)
		if !h.evaluator.Accept(m.Distance, originalQuery) {
			continue
		}
		candidates = append(candidates, Candidate{
			ID:       m.ID,
			Question: rec.Question,
			Answer:   rec.Answer,
			Score:    score,
		})
	}

	return h.postProcess(candidates), nil
}

func (h *Handler) handleRemove(ctx context.Context, start time.Time, model string, req Request) []byte {
	if req.RemoveType == RemoveAll {
		if err := h.dm.Truncate(ctx, model); err != nil {
			return h.auditAndMarshal(ctx, start, "remove", model, "", "", "", false, false, CodeRemoveFailed, err.Error(), RemoveResponse{
				ErrorCode:    CodeRemoveFailed,
				ErrorDesc:    err.Error(),
				Response:     RemoveStatus{Status: "exception"},
				RemoveStatus: "exception",
			})
		}
		return h.auditAndMarshal(ctx, start, "remove", model, "", "", "", false, true, CodeSuccess, "", RemoveResponse{
			ErrorCode:    CodeSuccess,
			Response:     RemoveStatus{Status: "success"},
			RemoveStatus: "success",
		})
	}

	res := h.dm.Delete(ctx, req.IDList, model)
	status := RemoveStatus{
		Status:   "success",
		VectorDB: countOrErr(res.VectorCount, res.VectorErr),
		ScalarDB: scalarStatus(res),
	}
	code := CodeSuccess
	writeStatus := "success"
	success := true
	if res.VectorErr != nil || res.ScalarErr != nil {
		code = CodeRemoveAdapterError
		status.Status = "exception"
		writeStatus = "exception"
		success = false
	}

	return h.auditAndMarshal(ctx, start, "remove", model, "", "", "", false, success, code, "", RemoveResponse{
		ErrorCode:    code,
		Response:     status,
		RemoveStatus: writeStatus,
	})
}

func countOrErr(n int, err error) string {
	if err != nil {
		return "error: " + err.Error()
	}
	return fmt.Sprintf("%d", n)
}

func scalarStatus(res datamanager.DeleteResult) string {
	if res.ScalarUnexecuted {
		return "unexecuted"
	}
	return countOrErr(res.ScalarCount, res.ScalarErr)
}

func deltaTime(start time.Time) string {
	secs := time.Since(start).Seconds()
	secs = math.Round(secs*100) / 100
	return fmt.Sprintf("%.2fs", secs)
}

// auditAndMarshal submits a best-effort audit record, records metrics, then
// marshals resp. query is the original request's query text (persisted as
// QueryJSON); hitQuery/answer are the matched cached entry's question/answer
// on a hit, distinct from query since a hit's matched question need not be
// the verbatim text the caller asked with. Audit failures are never
// surfaced to the caller.
func (h *Handler) auditAndMarshal(ctx context.Context, start time.Time, reqType, model, query, hitQuery, answer string, hit, success bool, code int, desc string, resp interface{}) []byte {
	seconds := time.Since(start).Seconds()

	if h.log != nil {
		h.log.Log(models.QueryLogRecord{
			Model:            model,
			ErrorCode:        code,
			ErrorDesc:        desc,
			CacheHit:         hit,
			QueryJSON:        query,
			HitQuery:         hitQuery,
			Answer:           answer,
			DeltaTimeSeconds: seconds,
		})
	}
	h.metrics.RecordRequest(ctx, reqType, hit, success, seconds)

	data, err := json.Marshal(resp)
	if err != nil {
		log.Error().Err(err).Msg("handler: marshal response failed")
		return []byte(`{"errorCode":101,"errorDesc":"internal marshal error"}`)
	}
	return data
}
