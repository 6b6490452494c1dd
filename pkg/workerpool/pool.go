// Package workerpool provides the bounded, work-stealing-style pool used
// by the group engine's parallel fold-reduce passes (spec.md §4.3, §5).
// Grounded on friggdb/pool/pool.go's job-channel worker pool and
// pkg/boundedwaitgroup's capacity-bounded fan-out, both from the teacher
// repository.
package workerpool

import (
	"runtime"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/atomic"
)

var (
	metricActiveJobs = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "bytehound",
		Name:      "worker_pool_active_jobs",
		Help:      "Current number of in-flight parallel-fold jobs.",
	})
)

// BoundedWaitGroup behaves like sync.WaitGroup except it limits the number
// of concurrently running goroutines to a fixed capacity. Ported from
// pkg/boundedwaitgroup in the teacher repository.
type BoundedWaitGroup struct {
	wg sync.WaitGroup
	ch chan struct{}
}

// NewBoundedWaitGroup returns a BoundedWaitGroup with the given concurrency.
func NewBoundedWaitGroup(capacity int) BoundedWaitGroup {
	if capacity <= 0 {
		capacity = runtime.GOMAXPROCS(0)
	}
	return BoundedWaitGroup{ch: make(chan struct{}, capacity)}
}

// Add reserves delta slots, blocking until capacity is available.
func (bwg *BoundedWaitGroup) Add(delta int) {
	for i := 0; i > delta; i-- {
		<-bwg.ch
	}
	for i := 0; i < delta; i++ {
		bwg.ch <- struct{}{}
	}
	bwg.wg.Add(delta)
}

// Done releases one slot.
func (bwg *BoundedWaitGroup) Done() {
	bwg.Add(-1)
}

// Wait blocks until every reserved slot has called Done.
func (bwg *BoundedWaitGroup) Wait() {
	bwg.wg.Wait()
}

// Workers returns the default fan-out width for parallel folds: one
// goroutine per available CPU, matching spec.md §5's "work-stealing pool
// over all CPU cores".
func Workers() int {
	n := runtime.GOMAXPROCS(0)
	if n < 1 {
		n = 1
	}
	return n
}

// ParallelChunks splits [0, n) into contiguous chunks, one per worker, and
// runs fn concurrently over each chunk, waiting for all to finish. fn
// receives the chunk's [start, end) bounds. Used by the group engine and
// group-statistics fold (spec.md §4.3's "parallel fold by identity
// element").
func ParallelChunks(n int, fn func(start, end int)) {
	if n == 0 {
		return
	}
	workers := Workers()
	if workers > n {
		workers = n
	}
	chunkSize := (n + workers - 1) / workers

	metricActiveJobs.Add(float64(workers))
	defer metricActiveJobs.Sub(float64(workers))

	active := atomic.NewInt32(0)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		start := w * chunkSize
		end := start + chunkSize
		if start >= n {
			break
		}
		if end > n {
			end = n
		}
		wg.Add(1)
		active.Inc()
		go func(start, end int) {
			defer wg.Done()
			defer active.Dec()
			fn(start, end)
		}(start, end)
	}
	wg.Wait()
}
