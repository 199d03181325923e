// Package stretch pre-renders time-stretched loop variants in a background
// worker pool, storing results in a byte-bounded LRU cache for instant
// preview and export.
package stretch

import (
	"container/heap"
	"strings"
	"sync"
)

// Logger is the minimal logging surface the stretch subsystem needs.
type Logger interface {
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
	Debugf(format string, args ...any)
}

// Task describes one (stem, loop segment, target BPM) unit of work.
// Tasks are immutable once enqueued and consumed exactly once.
type Task struct {
	Stem        string
	LoopIndex   int
	StartSec    float64
	EndSec      float64
	OriginalBPM float64
	TargetBPM   float64

	priority int
	seq      int
}

// Ratio returns the time-stretch ratio target/original.
func (t *Task) Ratio() float64 {
	return t.TargetBPM / t.OriginalBPM
}

// stemRank orders stem categories for dispatch: the rhythm-critical stem
// first, harmonic stems after, catch-all last.
func stemRank(stem string) int {
	switch strings.ToLower(stem) {
	case "drums":
		return 0
	case "bass":
		return 1
	case "vocals":
		return 2
	default:
		return 3
	}
}

// taskHeap orders by (priority, loop index, insertion sequence). The last
// tie-break makes dispatch order deterministic and reproducible for
// identical inputs; a bare priority heap is not.
type taskHeap []*Task

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority < h[j].priority
	}
	if h[i].LoopIndex != h[j].LoopIndex {
		return h[i].LoopIndex < h[j].LoopIndex
	}
	return h[i].seq < h[j].seq
}

func (h taskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *taskHeap) Push(x any) { *h = append(*h, x.(*Task)) }

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return t
}

// queue is a mutex-guarded priority queue of tasks.
type queue struct {
	mu    sync.Mutex
	tasks taskHeap
	seq   int
}

func newQueue() *queue {
	q := &queue{}
	heap.Init(&q.tasks)
	return q
}

// pushAll enqueues a batch atomically so totals are stable from the first
// progress tick.
func (q *queue) pushAll(tasks []*Task) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, t := range tasks {
		t.priority = stemRank(t.Stem)
		t.seq = q.seq
		q.seq++
		heap.Push(&q.tasks, t)
	}
}

// pop returns the highest-priority pending task, or nil when empty.
func (q *queue) pop() *Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.tasks.Len() == 0 {
		return nil
	}
	return heap.Pop(&q.tasks).(*Task)
}

// drain discards all pending tasks and returns how many were dropped.
func (q *queue) drain() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := q.tasks.Len()
	q.tasks = q.tasks[:0]
	return n
}

func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.tasks.Len()
}
