package mqtt

import (
	"sync"
	"time"

	"github.com/turinglab/turinglab/internal/events"
)

// Stats is a snapshot of the day's activity.
type Stats struct {
	Runs      int64 `json:"runs"`
	Failures  int64 `json:"failures"`
	ToolCalls int64 `json:"tool_calls"`
	ToolFails int64 `json:"tool_failures"`
	// Termination counts completed runs by termination reason.
	Termination map[string]int64 `json:"termination"`
}

// DailyStats accumulates run counters that reset at local midnight. It
// is safe for concurrent use.
type DailyStats struct {
	mu          sync.Mutex
	runs        int64
	failures    int64
	toolCalls   int64
	toolFails   int64
	termination map[string]int64
	resetDay    int // day-of-year of last reset
	loc         *time.Location
	now         func() time.Time
}

// NewDailyStats creates an accumulator using loc for midnight
// detection. If loc is nil, [time.Local] is used.
func NewDailyStats(loc *time.Location) *DailyStats {
	if loc == nil {
		loc = time.Local
	}
	d := &DailyStats{
		termination: make(map[string]int64),
		loc:         loc,
		now:         time.Now,
	}
	d.resetDay = d.now().In(loc).YearDay()
	return d
}

// Observe folds one bus event into the counters. Events other than
// request_complete and tool_done are ignored.
func (d *DailyStats) Observe(e events.Event) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.maybeReset()
	switch e.Kind {
	case events.KindRequestComplete:
		d.runs++
		if _, failed := e.Data["error"]; failed {
			d.failures++
			return
		}
		if t, ok := e.Data["termination"].(string); ok && t != "" {
			d.termination[t]++
		}
	case events.KindToolDone:
		d.toolCalls++
		if ok, _ := e.Data["ok"].(bool); !ok {
			d.toolFails++
		}
	}
}

// Snapshot returns the current totals after checking for midnight
// rollover.
func (d *DailyStats) Snapshot() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.maybeReset()
	term := make(map[string]int64, len(d.termination))
	for k, v := range d.termination {
		term[k] = v
	}
	return Stats{
		Runs:        d.runs,
		Failures:    d.failures,
		ToolCalls:   d.toolCalls,
		ToolFails:   d.toolFails,
		Termination: term,
	}
}

// maybeReset zeroes the counters if the local day has changed. Must be
// called with d.mu held.
func (d *DailyStats) maybeReset() {
	today := d.now().In(d.loc).YearDay()
	if today != d.resetDay {
		d.runs = 0
		d.failures = 0
		d.toolCalls = 0
		d.toolFails = 0
		clear(d.termination)
		d.resetDay = today
	}
}
