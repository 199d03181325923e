package stretch

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stemforge/stemforge/pkg/stemforge/audio"
	"github.com/stemforge/stemforge/pkg/stemforge/loops"
)

// identityEngine returns its input unchanged; fast and deterministic.
type identityEngine struct {
	calls    atomic.Int64
	failCall int64 // 1-based call number that fails, 0 for never
}

func (e *identityEngine) Stretch(ctx context.Context, data [][]float64, rate int, ratio float64) ([][]float64, error) {
	n := e.calls.Add(1)
	if e.failCall != 0 && n == e.failCall {
		return nil, errors.New("injected stretch failure")
	}
	return data, nil
}

func (e *identityEngine) IsAvailable() bool { return true }

// blockingEngine parks every call until release is closed.
type blockingEngine struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func newBlockingEngine() *blockingEngine {
	return &blockingEngine{
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (e *blockingEngine) Stretch(ctx context.Context, data [][]float64, rate int, ratio float64) ([][]float64, error) {
	e.once.Do(func() { close(e.started) })
	<-e.release
	return data, nil
}

func (e *blockingEngine) IsAvailable() bool { return true }

// writeStemWav writes a mono sine wave and returns its path.
func writeStemWav(t *testing.T, name string, seconds float64, rate int) string {
	t.Helper()

	n := int(seconds * float64(rate))
	data := make([]float64, n)
	for i := range data {
		data[i] = 0.5 * math.Sin(2*math.Pi*220*float64(i)/float64(rate))
	}
	path := filepath.Join(t.TempDir(), name)
	if err := audio.WriteWav(path, [][]float64{data}, rate); err != nil {
		t.Fatalf("Failed to write stem WAV: %v", err)
	}
	return path
}

func testSegments() []loops.Segment {
	return []loops.Segment{
		{Index: 0, StartSec: 0, EndSec: 1},
		{Index: 1, StartSec: 1, EndSec: 2},
	}
}

// TestBatchCompletesAllTasks runs a 2-stem x 2-loop batch and expects a
// cache entry per task plus a completed terminal state.
func TestBatchCompletesAllTasks(t *testing.T) {
	rate := 8000
	stems := map[string]string{
		"drums": writeStemWav(t, "drums.wav", 4, rate),
		"bass":  writeStemWav(t, "bass.wav", 4, rate),
	}

	mgr := NewManager(&identityEngine{}, ManagerConfig{MaxWorkers: 2})

	completeFired := false
	mgr.OnComplete(func() { completeFired = true })

	if err := mgr.StartBatch(context.Background(), stems, testSegments(), 120, 90); err != nil {
		t.Fatalf("StartBatch failed: %v", err)
	}
	mgr.Wait()

	if mgr.State() != StateCompleted {
		t.Errorf("State = %s, want completed", mgr.State())
	}
	if !completeFired {
		t.Error("OnComplete callback never fired")
	}
	completed, total := mgr.Progress()
	if completed != 4 || total != 4 {
		t.Errorf("Progress = (%d, %d), want (4, 4)", completed, total)
	}
	if mgr.Failed() != 0 {
		t.Errorf("Failed = %d, want 0", mgr.Failed())
	}

	for stem := range stems {
		for _, seg := range testSegments() {
			data, ok := mgr.GetStretchedLoop(stem, seg.Index, 90)
			if !ok {
				t.Errorf("Missing stretched loop %s/loop%d", stem, seg.Index)
				continue
			}
			// Identity engine: output length equals the loop's samples.
			if len(data[0]) != rate {
				t.Errorf("Loop %s/%d has %d samples, want %d", stem, seg.Index, len(data[0]), rate)
			}
		}
	}
}

// TestFailedTaskDoesNotAbortBatch injects one failure and expects the
// rest of the batch to complete normally.
func TestFailedTaskDoesNotAbortBatch(t *testing.T) {
	rate := 8000
	stems := map[string]string{
		"drums": writeStemWav(t, "drums.wav", 4, rate),
		"bass":  writeStemWav(t, "bass.wav", 4, rate),
	}

	// One worker dispatches in priority order, so call 1 is drums/loop0.
	mgr := NewManager(&identityEngine{failCall: 1}, ManagerConfig{MaxWorkers: 1})

	if err := mgr.StartBatch(context.Background(), stems, testSegments(), 120, 90); err != nil {
		t.Fatalf("StartBatch failed: %v", err)
	}
	mgr.Wait()

	if mgr.State() != StateCompleted {
		t.Errorf("State = %s, want completed", mgr.State())
	}
	if mgr.Failed() != 1 {
		t.Errorf("Failed = %d, want 1", mgr.Failed())
	}
	completed, total := mgr.Progress()
	if completed != total {
		t.Errorf("Progress = (%d, %d), failed tasks still count as finished", completed, total)
	}

	if _, ok := mgr.GetStretchedLoop("drums", 0, 90); ok {
		t.Error("Failed task should leave no cache entry")
	}
	if _, ok := mgr.GetStretchedLoop("drums", 1, 90); !ok {
		t.Error("Tasks after the failure should still produce results")
	}
	if _, ok := mgr.GetStretchedLoop("bass", 0, 90); !ok {
		t.Error("Other stems should still produce results")
	}
}

// TestProgressMonotonic records every progress emission across a
// multi-worker batch and checks the documented ordering guarantee.
func TestProgressMonotonic(t *testing.T) {
	rate := 8000
	stems := map[string]string{
		"drums": writeStemWav(t, "drums.wav", 8, rate),
		"bass":  writeStemWav(t, "bass.wav", 8, rate),
	}
	var segments []loops.Segment
	for i := 0; i < 6; i++ {
		segments = append(segments, loops.Segment{Index: i, StartSec: float64(i), EndSec: float64(i + 1)})
	}

	mgr := NewManager(&identityEngine{}, ManagerConfig{MaxWorkers: 4})

	var mu sync.Mutex
	var seen [][2]int
	mgr.OnProgress(func(completed, total int) {
		mu.Lock()
		seen = append(seen, [2]int{completed, total})
		mu.Unlock()
	})

	if err := mgr.StartBatch(context.Background(), stems, segments, 120, 90); err != nil {
		t.Fatalf("StartBatch failed: %v", err)
	}
	mgr.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(seen) == 0 {
		t.Fatal("No progress emissions observed")
	}
	for i := 1; i < len(seen); i++ {
		if seen[i][0] <= seen[i-1][0] {
			t.Fatalf("Progress went from %d to %d", seen[i-1][0], seen[i][0])
		}
	}
	last := seen[len(seen)-1]
	if last[0] != 12 || last[1] != 12 {
		t.Errorf("Final emission = (%d, %d), want (12, 12)", last[0], last[1])
	}
}

// TestStartBatchWhileRunning expects ErrBatchRunning for a second start
// and a clean restart once the first batch finishes.
func TestStartBatchWhileRunning(t *testing.T) {
	rate := 8000
	stems := map[string]string{"drums": writeStemWav(t, "drums.wav", 4, rate)}

	engine := newBlockingEngine()
	mgr := NewManager(engine, ManagerConfig{MaxWorkers: 1})

	if err := mgr.StartBatch(context.Background(), stems, testSegments(), 120, 90); err != nil {
		t.Fatalf("StartBatch failed: %v", err)
	}
	<-engine.started

	if err := mgr.StartBatch(context.Background(), stems, testSegments(), 120, 90); !errors.Is(err, ErrBatchRunning) {
		t.Errorf("Expected ErrBatchRunning, got %v", err)
	}

	close(engine.release)
	mgr.Wait()

	if err := mgr.StartBatch(context.Background(), stems, testSegments(), 120, 90); err != nil {
		t.Errorf("Restart after completion failed: %v", err)
	}
	mgr.Wait()
}

// TestCancelDrainsQueue cancels mid-batch: the in-flight task finishes,
// queued tasks are dropped and the cancelled callback fires.
func TestCancelDrainsQueue(t *testing.T) {
	rate := 8000
	stems := map[string]string{
		"drums": writeStemWav(t, "drums.wav", 4, rate),
		"bass":  writeStemWav(t, "bass.wav", 4, rate),
	}

	engine := newBlockingEngine()
	mgr := NewManager(engine, ManagerConfig{MaxWorkers: 1})

	cancelFired := false
	completeFired := false
	mgr.OnCancelled(func() { cancelFired = true })
	mgr.OnComplete(func() { completeFired = true })

	if err := mgr.StartBatch(context.Background(), stems, testSegments(), 120, 90); err != nil {
		t.Fatalf("StartBatch failed: %v", err)
	}

	<-engine.started
	mgr.Cancel()
	close(engine.release)
	mgr.Wait()

	if mgr.State() != StateCancelled {
		t.Errorf("State = %s, want cancelled", mgr.State())
	}
	if !cancelFired {
		t.Error("OnCancelled never fired")
	}
	if completeFired {
		t.Error("OnComplete must not fire on a cancelled batch")
	}
	completed, total := mgr.Progress()
	if completed >= total {
		t.Errorf("Progress = (%d, %d), expected an incomplete batch", completed, total)
	}
	// The task in flight at cancel time still lands in the cache.
	if completed != 1 {
		t.Errorf("Completed = %d, want exactly the in-flight task", completed)
	}
}

func TestCancelWithoutBatch(t *testing.T) {
	mgr := NewManager(&identityEngine{}, ManagerConfig{MaxWorkers: 1})
	mgr.Cancel() // must not panic
	mgr.Wait()   // must not block
	if mgr.State() != StateIdle {
		t.Errorf("State = %s, want idle", mgr.State())
	}
}

func TestStartBatchValidation(t *testing.T) {
	rate := 8000
	stems := map[string]string{"drums": writeStemWav(t, "drums.wav", 4, rate)}
	mgr := NewManager(&identityEngine{}, ManagerConfig{MaxWorkers: 1})

	if err := mgr.StartBatch(context.Background(), nil, testSegments(), 120, 90); err == nil {
		t.Error("Expected error for empty stem set")
	}
	if err := mgr.StartBatch(context.Background(), stems, nil, 120, 90); err == nil {
		t.Error("Expected error for empty segment list")
	}
	if err := mgr.StartBatch(context.Background(), stems, testSegments(), 0, 90); err == nil {
		t.Error("Expected error for zero original BPM")
	}
	if err := mgr.StartBatch(context.Background(), stems, testSegments(), 120, -1); err == nil {
		t.Error("Expected error for negative target BPM")
	}
}

// TestNewBatchPurgesCacheOnNewSources runs two batches over different
// source files; results from the first must not leak into the second.
func TestNewBatchPurgesCacheOnNewSources(t *testing.T) {
	rate := 8000
	first := map[string]string{"drums": writeStemWav(t, "a.wav", 4, rate)}
	second := map[string]string{"drums": writeStemWav(t, "b.wav", 4, rate)}

	mgr := NewManager(&identityEngine{}, ManagerConfig{MaxWorkers: 1})

	if err := mgr.StartBatch(context.Background(), first, testSegments(), 120, 90); err != nil {
		t.Fatalf("First StartBatch failed: %v", err)
	}
	mgr.Wait()
	if _, ok := mgr.GetStretchedLoop("drums", 1, 90); !ok {
		t.Fatal("First batch left no result for loop 1")
	}

	oneSegment := []loops.Segment{{Index: 0, StartSec: 0, EndSec: 1}}
	if err := mgr.StartBatch(context.Background(), second, oneSegment, 120, 90); err != nil {
		t.Fatalf("Second StartBatch failed: %v", err)
	}
	mgr.Wait()

	if _, ok := mgr.GetStretchedLoop("drums", 1, 90); ok {
		t.Error("Result from previous batch survived the source change")
	}
	if _, ok := mgr.GetStretchedLoop("drums", 0, 90); !ok {
		t.Error("Second batch result missing")
	}
}

func TestDefaultWorkerCountBounds(t *testing.T) {
	n := DefaultWorkerCount()
	if n < 2 || n > 8 {
		t.Errorf("DefaultWorkerCount = %d, want within [2, 8]", n)
	}
}

// TestWaitReturnsPromptly guards against a finisher deadlock.
func TestWaitReturnsPromptly(t *testing.T) {
	rate := 8000
	stems := map[string]string{"drums": writeStemWav(t, "drums.wav", 4, rate)}
	mgr := NewManager(&identityEngine{}, ManagerConfig{MaxWorkers: 2})

	if err := mgr.StartBatch(context.Background(), stems, testSegments(), 120, 90); err != nil {
		t.Fatalf("StartBatch failed: %v", err)
	}

	done := make(chan struct{})
	go func() {
		mgr.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("Wait did not return")
	}
}
