package heap

import (
	"time"

	"go.uber.org/zap"
)

// Roots supplies the values the collector treats as live.
type Roots interface {
	EachRoot(func(v int32))
}

// Values is a fixed root set, handy for hosts and tests.
type Values []int32

func (vs Values) EachRoot(fn func(int32)) {
	for _, v := range vs {
		fn(v)
	}
}

// RootFunc adapts a plain function to Roots.
type RootFunc func(func(int32))

func (f RootFunc) EachRoot(fn func(int32)) {
	f(fn)
}

type CollectStats struct {
	Marked     int
	Freed      int
	FreedWords int
	Duration   time.Duration
}

// Collect runs a full mark-sweep pass. Any root or payload word that is the
// address of an allocated object keeps that object alive; there are no type
// tags, so integers that happen to equal an object address retain it too.
// Objects are never moved.
func (h *Heap) Collect(roots ...Roots) CollectStats {
	start := time.Now()

	marked := h.mark(roots)
	freed, freedWords := h.sweep()

	cs := CollectStats{
		Marked:     marked,
		Freed:      freed,
		FreedWords: freedWords,
		Duration:   time.Since(start),
	}

	h.stats.Collections++
	h.stats.Freed += freed
	h.stats.FreedWords += freedWords
	h.stats.GCTime += cs.Duration

	h.logger.Debug("collect",
		zap.Int("marked", cs.Marked),
		zap.Int("freed", cs.Freed),
		zap.Int("freed words", cs.FreedWords),
		zap.Int("live", len(h.live)),
		zap.Duration("took", cs.Duration),
	)
	return cs
}

// mark uses an explicit worklist so deep object chains cannot blow the Go
// stack. A header is marked when it is queued, so it is queued at most once.
func (h *Heap) mark(roots []Roots) int {
	work := h.work[:0]
	marked := 0

	visit := func(v int32) {
		off, ok := h.lookup(v)
		if !ok || h.arena[off+hdrMark] != 0 {
			return
		}
		h.arena[off+hdrMark] = 1
		marked++
		work = append(work, off)
	}

	for _, r := range roots {
		if r != nil {
			r.EachRoot(visit)
		}
	}

	for len(work) > 0 {
		off := work[len(work)-1]
		work = work[:len(work)-1]
		for _, v := range h.payload(off) {
			visit(v)
		}
	}

	h.work = work[:0]
	return marked
}

// sweep walks the allocated set backwards so swap-removal only ever moves
// already visited entries.
func (h *Heap) sweep() (int, int) {
	freed, freedWords := 0, 0

	for i := len(h.live) - 1; i >= 0; i-- {
		off := h.live[i]
		if h.arena[off+hdrMark] != 0 {
			h.arena[off+hdrMark] = 0
			continue
		}

		last := len(h.live) - 1
		if i != last {
			moved := h.live[last]
			h.live[i] = moved
			h.arena[moved+hdrSlot] = int32(i)
		}
		h.live = h.live[:last]

		size := int(h.arena[off+hdrSize])
		h.arena[off+hdrSlot] = -1
		h.free[size] = append(h.free[size], off)
		h.freeCount++

		freed++
		freedWords += size + HeaderWords
	}

	h.stats.LiveWords -= freedWords
	return freed, freedWords
}
