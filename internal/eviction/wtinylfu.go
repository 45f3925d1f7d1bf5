package eviction

import "container/list"

// segment names a W-TinyLFU list a key currently resides in.
type segment int

const (
	segWindow segment = iota
	segProbation
	segProtected
)

// WTinyLFU implements the window-admission TinyLFU policy: a small LRU
// admission window feeding a segmented-LRU main cache (probation +
// protected), gated by Count-Min Sketch frequency estimates so a
// recency-only scan can't flush out a cache's genuinely hot keys.
type WTinyLFU struct {
	windowCap, probationCap, protectedCap int

	window, probation, protected *list.List
	elem                         map[int64]*list.Element
	owner                        map[int64]segment

	sketch *countMinSketch

	onEvict EvictCallback
}

// NewWTinyLFU creates a W-TinyLFU policy sized for capacity total entries:
// roughly 1% window, the remainder split half probation / half protected.
func NewWTinyLFU(capacity int, onEvict EvictCallback) *WTinyLFU {
	if capacity <= 0 {
		capacity = 1
	}
	windowCap := capacity / 100
	if windowCap < 1 {
		windowCap = 1
	}
	mainCap := capacity - windowCap
	if mainCap < 1 {
		mainCap = 1
	}
	probationCap := mainCap / 2
	if probationCap < 1 {
		probationCap = 1
	}
	protectedCap := mainCap - probationCap

	return &WTinyLFU{
		windowCap:    windowCap,
		probationCap: probationCap,
		protectedCap: protectedCap,
		window:       list.New(),
		probation:    list.New(),
		protected:    list.New(),
		elem:         make(map[int64]*list.Element, capacity),
		owner:        make(map[int64]segment, capacity),
		sketch:       newCountMinSketch(),
		onEvict:      onEvict,
	}
}

var _ Policy = (*WTinyLFU)(nil)

// Access records a request for key, returning true if it was already
// resident in any segment.
func (w *WTinyLFU) Access(key int64) bool {
	w.sketch.Add(key)

	seg, ok := w.owner[key]
	if !ok {
		w.admitToWindow(key)
		return false
	}

	switch seg {
	case segWindow:
		w.window.MoveToBack(w.elem[key])
	case segProbation:
		w.promote(key)
	case segProtected:
		w.protected.MoveToBack(w.elem[key])
	}
	return true
}

// admitToWindow places key in the admission window. If that overflows the
// window, the window's LRU victim and key compete by estimated frequency;
// the winner proceeds to probation admission, the loser is dropped
// entirely.
func (w *WTinyLFU) admitToWindow(key int64) {
	w.elem[key] = w.window.PushBack(key)
	w.owner[key] = segWindow

	if w.window.Len() <= w.windowCap {
		return
	}

	victimElem := w.window.Front()
	victim := victimElem.Value.(int64)
	w.window.Remove(victimElem)
	delete(w.elem, victim)
	delete(w.owner, victim)

	keyElem := w.elem[key]
	w.window.Remove(keyElem)
	delete(w.elem, key)
	delete(w.owner, key)

	winner, loser := victim, key
	if w.sketch.Estimate(key) > w.sketch.Estimate(victim) {
		winner, loser = key, victim
	}

	w.fireEvict(loser)
	w.admitToProbation(winner)
}

// admitToProbation inserts key into probation, evicting probation's LRU
// entry first if it is already full. No further frequency comparison is
// made at this step.
func (w *WTinyLFU) admitToProbation(key int64) {
	if w.probation.Len() >= w.probationCap {
		if victimElem := w.probation.Front(); victimElem != nil {
			victim := victimElem.Value.(int64)
			w.probation.Remove(victimElem)
			delete(w.elem, victim)
			delete(w.owner, victim)
			w.fireEvict(victim)
		}
	}
	w.elem[key] = w.probation.PushBack(key)
	w.owner[key] = segProbation
}

// promote moves key from probation into protected, demoting protected's
// LRU entry back to probation if protected is at capacity. This is a
// segment transfer, not an eviction: the key stays resident either way.
func (w *WTinyLFU) promote(key int64) {
	e := w.elem[key]
	w.probation.Remove(e)

	if w.protected.Len() >= w.protectedCap {
		demotedElem := w.protected.Front()
		demoted := demotedElem.Value.(int64)
		w.protected.Remove(demotedElem)
		w.elem[demoted] = w.probation.PushBack(demoted)
		w.owner[demoted] = segProbation
	}

	w.elem[key] = w.protected.PushBack(key)
	w.owner[key] = segProtected
}

func (w *WTinyLFU) fireEvict(key int64) {
	if w.onEvict != nil {
		w.onEvict(key)
	}
}

// Remove evicts key from whichever segment holds it, without invoking
// onEvict.
func (w *WTinyLFU) Remove(key int64) {
	seg, ok := w.owner[key]
	if !ok {
		return
	}
	e := w.elem[key]
	switch seg {
	case segWindow:
		w.window.Remove(e)
	case segProbation:
		w.probation.Remove(e)
	case segProtected:
		w.protected.Remove(e)
	}
	delete(w.elem, key)
	delete(w.owner, key)
}

// Len reports the total number of keys resident across all three
// segments.
func (w *WTinyLFU) Len() int {
	return w.window.Len() + w.probation.Len() + w.protected.Len()
}
