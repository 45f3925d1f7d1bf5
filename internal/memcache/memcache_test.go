package memcache

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBatchPutThenGetHits(t *testing.T) {
	c := New(10, PolicyARC, nil)
	c.BatchPut([]Pair{{ID: 1, Embedding: []float32{1, 2, 3}}}, "gpt_4")

	vec, ok := c.Get(1, "gpt_4")
	require.True(t, ok)
	require.Equal(t, []float32{1, 2, 3}, vec)
}

func TestGetMissReturnsFalse(t *testing.T) {
	c := New(10, PolicyARC, nil)
	_, ok := c.Get(99, "gpt_4")
	require.False(t, ok)
}

func TestEvictionFiresCallbackAndDropsData(t *testing.T) {
	var evictedModel string
	var evictedIDs []int64
	c := New(2, PolicyARC, func(model string, ids []int64) {
		evictedModel = model
		evictedIDs = append(evictedIDs, ids...)
	})

	c.BatchPut([]Pair{
		{ID: 1, Embedding: []float32{1}},
		{ID: 2, Embedding: []float32{2}},
		{ID: 3, Embedding: []float32{3}},
	}, "gpt_4")

	require.Equal(t, "gpt_4", evictedModel)
	require.NotEmpty(t, evictedIDs)

	_, ok := c.Get(evictedIDs[0], "gpt_4")
	require.False(t, ok)
}

func TestClearDropsModelEntirely(t *testing.T) {
	c := New(10, PolicyARC, nil)
	c.BatchPut([]Pair{{ID: 1, Embedding: []float32{1}}}, "gpt_4")
	c.Clear("gpt_4")

	_, ok := c.Get(1, "gpt_4")
	require.False(t, ok)
}

func TestPopRemovesWithoutCallback(t *testing.T) {
	called := false
	c := New(10, PolicyARC, func(string, []int64) { called = true })
	c.BatchPut([]Pair{{ID: 1, Embedding: []float32{1}}}, "gpt_4")

	c.Pop(1, "gpt_4")
	require.False(t, called)

	_, ok := c.Get(1, "gpt_4")
	require.False(t, ok)
}

func TestWTinyLFUPolicyWorksThroughCache(t *testing.T) {
	c := New(200, PolicyWTinyLFU, nil)
	c.BatchPut([]Pair{{ID: 1, Embedding: []float32{9}}}, "gpt_4")

	vec, ok := c.Get(1, "gpt_4")
	require.True(t, ok)
	require.Equal(t, []float32{9}, vec)
}
