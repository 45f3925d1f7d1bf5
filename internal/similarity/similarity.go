// Package similarity implements SimilarityEvaluator: turning a raw
// distance/score returned by the vector tier into a [0,1] confidence
// score, and picking the acceptance threshold based on query length.
package similarity

import (
	"fmt"

	"github.com/tiktoken-go/tokenizer"

	"github.com/thebtf/semcache/pkg/similarity"
)

// Config controls threshold selection.
type Config struct {
	// Metric is the vector store's fixed distance metric.
	Metric similarity.Metric

	// Normalized indicates whether stored/queried embeddings are
	// unit-L2-normalized, which bounds the maximum possible L2 distance.
	Normalized bool

	// Threshold is the default acceptance threshold.
	Threshold float64

	// ThresholdLong replaces Threshold once the query's token count
	// exceeds LongQueryTokenBoundary.
	ThresholdLong float64

	// LongQueryTokenBoundary is the token count past which
	// ThresholdLong applies instead of Threshold. Default 64.
	LongQueryTokenBoundary int
}

// Evaluator scores vector-store distances into [0,1] confidence and
// decides the acceptance threshold for a given query.
type Evaluator struct {
	cfg   Config
	codec tokenizer.Codec
}

// NewEvaluator constructs an Evaluator. cfg.LongQueryTokenBoundary
// defaults to 64 if unset.
func NewEvaluator(cfg Config) (*Evaluator, error) {
	if cfg.LongQueryTokenBoundary <= 0 {
		cfg.LongQueryTokenBoundary = 64
	}
	codec, err := tokenizer.Get(tokenizer.Cl100kBase)
	if err != nil {
		return nil, fmt.Errorf("load cl100k_base tokenizer: %w", err)
	}
	return &Evaluator{cfg: cfg, codec: codec}, nil
}

// maxPossibleDistance returns the upper bound on the store's distance
// value: cosine distance (1-cosine similarity) ranges over [0,2] regardless
// of normalization; unit-normalized L2 vectors are at most 2 apart
// (antipodal); unnormalized L2 has no fixed bound and falls back to a
// generous constant.
func (e *Evaluator) maxPossibleDistance() float64 {
	if e.cfg.Metric == similarity.MetricCosine || e.cfg.Normalized {
		return 2.0
	}
	return 100.0
}

// Evaluate converts a vector.Store distance (always ascending, lower is
// better — see vector.Match) into a [0,1] confidence score, clipped to
// [0,1].
func (e *Evaluator) Evaluate(distance float64) float64 {
	score := 1 - distance/e.maxPossibleDistance()
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

// ThresholdFor returns the acceptance threshold to apply for originalQuery,
// switching to the long-query threshold once the tokenized query exceeds
// LongQueryTokenBoundary.
func (e *Evaluator) ThresholdFor(originalQuery string) float64 {
	ids, _, err := e.codec.Encode(originalQuery)
	if err != nil || len(ids) <= e.cfg.LongQueryTokenBoundary {
		return e.cfg.Threshold
	}
	return e.cfg.ThresholdLong
}

// Accept reports whether distance clears the acceptance threshold for
// originalQuery.
func (e *Evaluator) Accept(distance float64, originalQuery string) bool {
	return e.Evaluate(distance) >= e.ThresholdFor(originalQuery)
}
