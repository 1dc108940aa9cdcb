package scheduler

import (
	"sort"
	"sync"

	"github.com/castbench/castbench/pkg/model"
)

// Aggregator collects TestResults as workers complete them. Append order
// is completion order; Sorted returns them by test id for deterministic
// output.
type Aggregator struct {
	mu      sync.Mutex
	results []model.TestResult

	// onAdd, if set, is invoked with each appended result. Invocations are
	// serialized by cbMu, never by mu, so a callback may call Snapshot.
	// The suite runner uses it for intermediate snapshots and live status
	// events; serialization keeps concurrent snapshot writes from tearing
	// the file or publishing a stale one over a newer one.
	onAdd func(model.TestResult)
	cbMu  sync.Mutex
}

// NewAggregator returns an Aggregator sized for the expected result count.
func NewAggregator(capacity int) *Aggregator {
	return &Aggregator{results: make([]model.TestResult, 0, capacity)}
}

// OnAdd registers a callback invoked for every appended result. It must be
// called before workers start.
func (a *Aggregator) OnAdd(fn func(model.TestResult)) {
	a.onAdd = fn
}

// Add appends a result. Safe for concurrent workers. The callback runs
// after the append, one invocation at a time: a Snapshot taken inside the
// callback therefore always includes every result whose callback has
// already finished.
func (a *Aggregator) Add(result model.TestResult) {
	a.mu.Lock()
	a.results = append(a.results, result)
	a.mu.Unlock()
	if a.onAdd != nil {
		a.cbMu.Lock()
		a.onAdd(result)
		a.cbMu.Unlock()
	}
}

// Len returns the number of collected results.
func (a *Aggregator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.results)
}

// Snapshot returns a copy of the results in completion order.
func (a *Aggregator) Snapshot() []model.TestResult {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]model.TestResult, len(a.results))
	copy(out, a.results)
	return out
}

// Sorted returns a copy of the results ordered by test id.
func (a *Aggregator) Sorted() []model.TestResult {
	out := a.Snapshot()
	sort.Slice(out, func(i, j int) bool { return out[i].TestID < out[j].TestID })
	return out
}
