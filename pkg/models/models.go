// Package models defines the entity types shared across store backends,
// the eviction policies, and the request handler.
package models

import (
	"strings"
	"time"
)

// DepType identifies the kind of payload carried by a Dep.
type DepType int

const (
	DepSTR DepType = iota
	DepImageBase64
	DepImageURL
)

// Dep is a named, typed piece of auxiliary input attached to a Question.
// IMAGE_URL deps are resolved (fetched, rewritten to an ObjectStore handle)
// before the Question is persisted.
type Dep struct {
	Name string
	Data string
	Type DepType
}

// Question is either plain text content or text plus an ordered list of deps.
type Question struct {
	Content string
	Deps    []Dep
}

// AnswerType identifies how to interpret Answer.Value.
type AnswerType int

const (
	AnswerSTR AnswerType = iota
	AnswerImageBase64
)

// Answer is one candidate response. Non-STR answers are offloaded to
// ObjectStore; Value then holds the store handle rather than the payload.
type Answer struct {
	Value string
	Type  AnswerType
}

// CacheData is a full record: the question asked, the candidate answers,
// and the embedding that indexes it. At least one answer is required.
type CacheData struct {
	Question  Question
	Answers   []Answer
	Embedding []float32
}

// ScalarRecord is what ScalarStore.GetDataByID returns.
type ScalarRecord struct {
	ID            int64
	Question      string
	Answer        string
	AnswerType    AnswerType
	Model         string
	HitCount      int64
	EmbeddingData []byte
	Deleted       bool
}

// VectorData is the (id, embedding) pair written into the ANN index.
type VectorData struct {
	ID    int64
	Data  []float32
	Model string
}

// QueryLogRecord is a best-effort audit row; a write failure never aborts
// the request that produced it.
type QueryLogRecord struct {
	CreatedAt        time.Time
	Model            string
	ErrorDesc        string
	QueryJSON        string
	HitQuery         string
	Answer           string
	ErrorCode        int
	DeltaTimeSeconds float64
	CacheHit         bool
}

// NormalizeModelScope replaces '-' and '.' with '_', matching the scoping
// rule every ScalarStore row and VectorStore collection is partitioned by.
func NormalizeModelScope(name string) string {
	name = strings.ReplaceAll(name, "-", "_")
	name = strings.ReplaceAll(name, ".", "_")
	return name
}
