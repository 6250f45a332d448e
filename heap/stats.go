package heap

import (
	"fmt"
	"time"
)

// Stats accumulates over the lifetime of a heap.
type Stats struct {
	Allocations int
	Reused      int
	Collections int
	Freed       int
	FreedWords  int
	GCTime      time.Duration

	// words held by allocated objects, headers included
	LiveWords int
	PeakWords int
	// furthest the bump pointer has advanced
	HighWater int
}

func (s Stats) String() string {
	return fmt.Sprintf("Runs: %d, Freed: %d, Total GC Time: %.6fs, Max Heap: %d words",
		s.Collections, s.Freed, s.GCTime.Seconds(), s.PeakWords)
}
