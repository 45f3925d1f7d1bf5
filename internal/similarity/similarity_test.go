package similarity

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/thebtf/semcache/pkg/similarity"
)

func TestEvaluateCosineDistanceBounded(t *testing.T) {
	e, err := NewEvaluator(Config{Metric: similarity.MetricCosine})
	require.NoError(t, err)
	// Identical vectors: cosine distance 0 -> score 1.
	require.InDelta(t, 1.0, e.Evaluate(0), 1e-9)
	// Antipodal vectors: cosine distance 2 -> score 0.
	require.InDelta(t, 0.0, e.Evaluate(2), 1e-9)
	// Orthogonal-ish: distance 1 (1 - cos(90deg)=1) -> score 0.5.
	require.InDelta(t, 0.5, e.Evaluate(1), 1e-9)
}

func TestEvaluateL2NormalizedBounded(t *testing.T) {
	e, err := NewEvaluator(Config{Metric: similarity.MetricL2, Normalized: true})
	require.NoError(t, err)
	// Identical vectors: distance 0 -> score 1.
	require.InDelta(t, 1.0, e.Evaluate(0), 1e-9)
	// Antipodal unit vectors: distance 2 -> score 0.
	require.InDelta(t, 0.0, e.Evaluate(2), 1e-9)
}

func TestThresholdSwitchesOnLongQuery(t *testing.T) {
	e, err := NewEvaluator(Config{
		Metric:                 similarity.MetricCosine,
		Threshold:              0.8,
		ThresholdLong:          0.9,
		LongQueryTokenBoundary: 3,
	})
	require.NoError(t, err)

	require.Equal(t, 0.8, e.ThresholdFor("hi"))
	require.Equal(t, 0.9, e.ThresholdFor(strings.Repeat("word ", 20)))
}

func TestAcceptCombinesScoreAndThreshold(t *testing.T) {
	e, err := NewEvaluator(Config{Metric: similarity.MetricCosine, Threshold: 0.9})
	require.NoError(t, err)

	require.True(t, e.Accept(0.05, "short query"))  // score 0.975
	require.False(t, e.Accept(1.5, "short query")) // score 0.25
}
