package eviction

import (
	"encoding/binary"
	"hash/maphash"
)

const (
	cmsWidth      = 1024
	cmsDepth      = 4
	cmsDecayEvery = 10_000
)

// countMinSketch is a conservative-update Count-Min Sketch used to
// approximate per-key access frequency for W-TinyLFU admission decisions.
// Counters are byte-sized and halved ("aged") every cmsDecayEvery adds so
// frequency estimates track recent behavior rather than accumulating
// forever.
type countMinSketch struct {
	rows  [cmsDepth][cmsWidth]byte
	seeds [cmsDepth]maphash.Seed
	adds  int
}

func newCountMinSketch() *countMinSketch {
	cms := &countMinSketch{}
	for i := range cms.seeds {
		cms.seeds[i] = maphash.MakeSeed()
	}
	return cms
}

func (c *countMinSketch) indexFor(row int, key int64) int {
	var h maphash.Hash
	h.SetSeed(c.seeds[row])
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(key))
	_, _ = h.Write(buf[:])
	return int(h.Sum64() % cmsWidth)
}

// Add increments key's estimated frequency using conservative update: only
// the counters tied for the current minimum are incremented, which keeps
// the sketch's overestimation bias lower than naive per-row increments.
func (c *countMinSketch) Add(key int64) {
	idx := [cmsDepth]int{}
	min := byte(255)
	for row := 0; row < cmsDepth; row++ {
		idx[row] = c.indexFor(row, key)
		if v := c.rows[row][idx[row]]; v < min {
			min = v
		}
	}
	if min < 255 {
		for row := 0; row < cmsDepth; row++ {
			if c.rows[row][idx[row]] == min {
				c.rows[row][idx[row]]++
			}
		}
	}

	c.adds++
	if c.adds >= cmsDecayEvery {
		c.decay()
		c.adds = 0
	}
}

// Estimate returns the minimum counter across all rows for key, the
// standard Count-Min frequency estimate.
func (c *countMinSketch) Estimate(key int64) byte {
	min := byte(255)
	for row := 0; row < cmsDepth; row++ {
		if v := c.rows[row][c.indexFor(row, key)]; v < min {
			min = v
		}
	}
	return min
}

func (c *countMinSketch) decay() {
	for row := 0; row < cmsDepth; row++ {
		for col := 0; col < cmsWidth; col++ {
			c.rows[row][col] /= 2
		}
	}
}
