package stretch

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"
	"sort"
	"strings"
	"sync"

	"github.com/stemforge/stemforge/pkg/stemforge/audio"
	"github.com/stemforge/stemforge/pkg/stemforge/loops"
)

// State is the lifecycle state of a stretch batch.
type State int

const (
	StateIdle State = iota
	StateRunning
	StateCompleted
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// ErrBatchRunning is returned when StartBatch is called while a batch is
// already in flight.
var ErrBatchRunning = errors.New("stretch batch already running")

// Engine performs the actual pitch-preserving time stretch. Implementations
// wrap an external tool; the manager only supplies the ratio.
type Engine interface {
	Stretch(ctx context.Context, data [][]float64, sampleRate int, ratio float64) ([][]float64, error)
	IsAvailable() bool
}

// DefaultWorkerCount derives the worker pool size from available CPU
// parallelism, clamped to [2, 8]. Stretching is CPU-bound, so
// oversubscription buys nothing.
func DefaultWorkerCount() int {
	n := runtime.NumCPU()
	if n < 2 {
		return 2
	}
	if n > 8 {
		return 8
	}
	return n
}

// ManagerConfig holds tunables for the background stretch manager.
type ManagerConfig struct {
	MaxWorkers int   // 0 selects DefaultWorkerCount()
	CacheBytes int64 // 0 selects DefaultCacheSize
	Logger     Logger
}

// stemSource lazily loads one stem file; the first worker that needs a
// stem decodes it, later workers reuse the decoded buffer.
type stemSource struct {
	path string
	once sync.Once
	data [][]float64
	rate int
	err  error
}

func (s *stemSource) load() ([][]float64, int, error) {
	s.once.Do(func() {
		s.data, s.rate, s.err = audio.ReadWav(s.path)
	})
	return s.data, s.rate, s.err
}

// Manager orchestrates background time-stretching: it enumerates
// (stem x loop) tasks, dispatches them to a worker pool in deterministic
// priority order, and stores results in the cache. Completion order is not
// guaranteed; dispatch order is.
type Manager struct {
	engine Engine
	cache  *Cache
	log    Logger

	maxWorkers int

	mu           sync.Mutex
	state        State
	queue        *queue
	stems        map[string]*stemSource
	total        int
	completed    int
	failed       int
	cancelled    bool
	cancelCh     chan struct{}
	doneCh       chan struct{}
	lastBatchKey string
	wg           sync.WaitGroup

	emitMu      sync.Mutex
	lastEmitted int

	onProgress  func(completed, total int)
	onComplete  func()
	onCancelled func()
}

// NewManager builds a Manager around an engine. The cache and worker pool
// are owned by the manager for its whole lifetime.
func NewManager(engine Engine, cfg ManagerConfig) *Manager {
	workers := cfg.MaxWorkers
	if workers <= 0 {
		workers = DefaultWorkerCount()
	}
	if cfg.Logger == nil {
		cfg.Logger = nopLogger{}
	}
	return &Manager{
		engine:     engine,
		cache:      NewCache(cfg.CacheBytes),
		log:        cfg.Logger,
		maxWorkers: workers,
		state:      StateIdle,
	}
}

type nopLogger struct{}

func (nopLogger) Infof(string, ...any)  {}
func (nopLogger) Warnf(string, ...any)  {}
func (nopLogger) Errorf(string, ...any) {}
func (nopLogger) Debugf(string, ...any) {}

// OnProgress registers the progress callback. It may be invoked from any
// worker goroutine; observed (completed, total) pairs are monotonically
// non-decreasing and the final pair always has completed == total unless
// the batch is cancelled.
func (m *Manager) OnProgress(fn func(completed, total int)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onProgress = fn
}

// OnComplete registers the one-shot all-completed callback.
func (m *Manager) OnComplete(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onComplete = fn
}

// OnCancelled registers the callback fired instead of OnComplete when a
// batch is cancelled.
func (m *Manager) OnCancelled(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onCancelled = fn
}

// batchKey identifies the source-file set of a batch so the cache can be
// dropped when a new batch targets different files.
func batchKey(stemFiles map[string]string) string {
	parts := make([]string, 0, len(stemFiles))
	for name, path := range stemFiles {
		parts = append(parts, name+"="+path)
	}
	sort.Strings(parts)
	return strings.Join(parts, ";")
}

// StartBatch creates len(stemFiles) x len(segments) tasks, pushes them
// into the priority queue atomically and starts the worker pool. It is a
// logged no-op error if a batch is already running.
func (m *Manager) StartBatch(ctx context.Context, stemFiles map[string]string, segments []loops.Segment, originalBPM, targetBPM float64) error {
	if len(stemFiles) == 0 || len(segments) == 0 {
		return errors.New("stretch batch needs at least one stem and one loop segment")
	}
	if originalBPM <= 0 || targetBPM <= 0 {
		return fmt.Errorf("invalid BPM pair %.2f -> %.2f", originalBPM, targetBPM)
	}

	m.mu.Lock()
	if m.state == StateRunning {
		m.mu.Unlock()
		m.log.Warnf("stretch batch rejected: already running")
		return ErrBatchRunning
	}

	key := batchKey(stemFiles)
	if m.lastBatchKey != "" && m.lastBatchKey != key {
		m.cache.Purge()
	}
	m.lastBatchKey = key

	m.state = StateRunning
	m.queue = newQueue()
	m.cancelCh = make(chan struct{})
	m.doneCh = make(chan struct{})
	m.total = len(stemFiles) * len(segments)
	m.completed = 0
	m.failed = 0
	m.cancelled = false
	m.lastEmitted = 0

	m.stems = make(map[string]*stemSource, len(stemFiles))
	stemNames := make([]string, 0, len(stemFiles))
	for name, path := range stemFiles {
		m.stems[name] = &stemSource{path: path}
		stemNames = append(stemNames, name)
	}
	sort.Strings(stemNames) // deterministic insertion order

	tasks := make([]*Task, 0, m.total)
	for _, name := range stemNames {
		for _, seg := range segments {
			tasks = append(tasks, &Task{
				Stem:        name,
				LoopIndex:   seg.Index,
				StartSec:    seg.StartSec,
				EndSec:      seg.EndSec,
				OriginalBPM: originalBPM,
				TargetBPM:   targetBPM,
			})
		}
	}
	m.queue.pushAll(tasks)

	m.wg.Add(m.maxWorkers)
	for i := 0; i < m.maxWorkers; i++ {
		go m.worker(ctx)
	}
	go m.finisher()

	total := m.total
	workers := m.maxWorkers
	m.mu.Unlock()

	m.log.Infof("stretch batch started: %d tasks, %d workers, %.1f -> %.1f BPM", total, workers, originalBPM, targetBPM)
	return nil
}

// worker pulls tasks until the queue is exhausted or the batch is
// cancelled. A single failing task never aborts the batch.
func (m *Manager) worker(ctx context.Context) {
	defer m.wg.Done()
	for {
		select {
		case <-m.cancelCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		task := m.queue.pop()
		if task == nil {
			return
		}

		if err := m.runTask(ctx, task); err != nil {
			m.log.Errorf("stretch task %s/loop%d@%.1f failed: %v", task.Stem, task.LoopIndex, task.TargetBPM, err)
			m.mu.Lock()
			m.failed++
			m.mu.Unlock()
		}
		m.finishTask()
	}
}

func (m *Manager) runTask(ctx context.Context, task *Task) error {
	m.mu.Lock()
	src := m.stems[task.Stem]
	m.mu.Unlock()
	if src == nil {
		return fmt.Errorf("unknown stem %q", task.Stem)
	}

	data, rate, err := src.load()
	if err != nil {
		return fmt.Errorf("loading stem %s: %w", task.Stem, err)
	}

	start := int(math.Round(task.StartSec * float64(rate)))
	end := int(math.Round(task.EndSec * float64(rate)))
	total := len(data[0])
	if start < 0 {
		start = 0
	}
	if end > total {
		end = total
	}
	if end <= start {
		return fmt.Errorf("empty loop segment [%.2f, %.2f)", task.StartSec, task.EndSec)
	}

	segment := make([][]float64, len(data))
	for c := range data {
		segment[c] = data[c][start:end]
	}

	out, err := m.engine.Stretch(ctx, segment, rate, task.Ratio())
	if err != nil {
		return err
	}

	m.cache.Put(Key{Stem: task.Stem, LoopIndex: task.LoopIndex, TargetBPM: task.TargetBPM}, out)
	return nil
}

// finishTask advances the shared completed counter and emits a progress
// tick. Emission is serialized and deduplicated so observers see a
// monotonically non-decreasing sequence ending exactly at total.
func (m *Manager) finishTask() {
	m.mu.Lock()
	m.completed++
	completed := m.completed
	total := m.total
	fn := m.onProgress
	m.mu.Unlock()

	if fn == nil {
		return
	}
	m.emitMu.Lock()
	if completed > m.lastEmitted {
		m.lastEmitted = completed
		fn(completed, total)
	}
	m.emitMu.Unlock()
}

// finisher waits for the pool to drain and fires the terminal
// notification exactly once.
func (m *Manager) finisher() {
	m.wg.Wait()

	m.mu.Lock()
	var fn func()
	if m.cancelled {
		m.state = StateCancelled
		fn = m.onCancelled
	} else {
		m.state = StateCompleted
		fn = m.onComplete
	}
	completed, failed, total := m.completed, m.failed, m.total
	done := m.doneCh
	m.mu.Unlock()

	m.log.Infof("stretch batch finished: %d/%d done, %d failed, state %s", completed, total, failed, m.State())
	if fn != nil {
		fn()
	}
	close(done)
}

// Cancel stops dispatch and drains the queue. In-flight tasks finish
// naturally; the external tool is never killed mid-write.
func (m *Manager) Cancel() {
	m.mu.Lock()
	if m.state != StateRunning {
		m.mu.Unlock()
		return
	}
	m.cancelled = true
	close(m.cancelCh)
	queue := m.queue
	m.mu.Unlock()

	dropped := queue.drain()
	m.log.Infof("stretch batch cancelled, %d queued tasks dropped", dropped)
}

// Wait blocks until the current batch reaches a terminal state. It
// returns immediately when no batch was started.
func (m *Manager) Wait() {
	m.mu.Lock()
	done := m.doneCh
	m.mu.Unlock()
	if done == nil {
		return
	}
	<-done
}

// GetStretchedLoop is a pure cache lookup. The second return is false
// while the task is still pending or has failed, letting callers fall
// back to the original audio.
func (m *Manager) GetStretchedLoop(stem string, loopIndex int, targetBPM float64) ([][]float64, bool) {
	return m.cache.Get(Key{Stem: stem, LoopIndex: loopIndex, TargetBPM: targetBPM})
}

// State returns the current batch state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Progress returns the completed and total task counts of the current batch.
func (m *Manager) Progress() (completed, total int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.completed, m.total
}

// Failed returns how many tasks of the current batch failed.
func (m *Manager) Failed() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failed
}

// Cache exposes the result cache, e.g. for stats or explicit purging.
func (m *Manager) Cache() *Cache {
	return m.cache
}
