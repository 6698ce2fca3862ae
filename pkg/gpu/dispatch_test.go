package gpu

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vltier/meshcore-keygen/internal/keygen"
	"github.com/vltier/meshcore-keygen/internal/logger"
	"github.com/vltier/meshcore-keygen/internal/pattern"
	"github.com/vltier/meshcore-keygen/pkg/types"
)

func referencePool(t *testing.T, lanes int) *Pool {
	t.Helper()
	b, ok := BackendFor(KindCPUOnly)
	if !ok {
		t.Fatal("cpu backend not registered")
	}
	p, err := NewPool(b, Descriptor{Kind: KindCPUOnly, Name: "cpu"}, lanes, logger.Nop{})
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func TestNewPoolRejectsNegativeLanes(t *testing.T) {
	b, _ := BackendFor(KindCPUOnly)
	if _, err := NewPool(b, Descriptor{}, -1, nil); !errors.Is(err, ErrInvalidLaneCount) {
		t.Errorf("error = %v, want ErrInvalidLaneCount", err)
	}
}

func TestPoolFindsMatchingKeys(t *testing.T) {
	// A single-nibble prefix matches 1/16 of keys, so a few hundred lanes
	// find one almost immediately.
	spec, err := pattern.Compile("a", 0)
	if err != nil {
		t.Fatal(err)
	}

	pool := referencePool(t, 256)
	var stop atomic.Bool
	var attempts atomic.Uint64
	results := make(chan types.Candidate, 64)

	done := make(chan error, 1)
	go func() {
		done <- pool.Run(types.WorkerConfig{
			Spec:     spec,
			Stop:     &stop,
			Attempts: &attempts,
			Results:  results,
		})
	}()

	var cand types.Candidate
	select {
	case cand = <-results:
	case <-time.After(30 * time.Second):
		t.Fatal("no candidate produced in 30s")
	}
	stop.Store(true)

	// Drain so the pool never blocks on the channel while draining its batch.
	go func() {
		for range results {
		}
	}()
	if err := <-done; err != nil {
		t.Fatalf("pool exited with error: %v", err)
	}
	close(results)

	if !spec.Matches(&cand.Key.Public) {
		t.Errorf("candidate does not match pattern: %s", cand.Key.PublicHex())
	}
	if !keygen.Verify(&cand.Key) {
		t.Error("candidate failed host verification")
	}
	if cand.Source != "gpu:cpu" {
		t.Errorf("source = %q, want gpu:cpu", cand.Source)
	}
	if attempts.Load() == 0 || attempts.Load()%256 != 0 {
		t.Errorf("attempts = %d, want positive multiple of lane count", attempts.Load())
	}
}

func TestPoolStopsPromptly(t *testing.T) {
	// An eight-nibble prefix is effectively unfindable; the pool must still
	// exit within a few batches of the stop flag flipping.
	spec, err := pattern.Compile("deadbeef", 0)
	if err != nil {
		t.Fatal(err)
	}

	pool := referencePool(t, 64)
	var stop atomic.Bool
	var attempts atomic.Uint64
	results := make(chan types.Candidate, 4)

	done := make(chan error, 1)
	go func() {
		done <- pool.Run(types.WorkerConfig{
			Spec:     spec,
			Stop:     &stop,
			Attempts: &attempts,
			Results:  results,
		})
	}()

	time.Sleep(50 * time.Millisecond)
	stop.Store(true)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("pool exited with error: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("pool did not stop")
	}
}

type recordingBackend struct {
	mu     sync.Mutex
	states [][4]uint32
	epochs []uint32
}

func (*recordingBackend) Info() BackendInfo { return BackendInfo{Name: "recording"} }
func (*recordingBackend) Available() bool   { return true }
func (b *recordingBackend) NewSearcher(cfg SearchConfig) (Searcher, error) {
	return &recordingSearcher{backend: b, lanes: cfg.Lanes}, nil
}

type recordingSearcher struct {
	backend *recordingBackend
	lanes   int
}

func (s *recordingSearcher) Lanes() int   { return s.lanes }
func (s *recordingSearcher) Close() error { return nil }
func (s *recordingSearcher) Search(state [4]uint32, epoch uint32) ([]Match, error) {
	s.backend.mu.Lock()
	s.backend.states = append(s.backend.states, state)
	s.backend.epochs = append(s.backend.epochs, epoch)
	s.backend.mu.Unlock()
	return nil, nil
}

// TestPoolRedrawsStateEachBatch pins the seed-freshness contract. With a
// fixed base state the gid mixing alone repeats once epoch*lanes wraps the
// 32-bit space, so the dispatcher must hand every batch a new random state.
func TestPoolRedrawsStateEachBatch(t *testing.T) {
	// First the hazard itself: at the default lane count, the gid of lane 0
	// at epoch 16384 wraps to the gid of lane 0 at epoch 0, and a reused
	// state would replay the exact seed.
	state := [4]uint32{0xdeadbeef, 0x12345678, 0x9abcdef0, 0x0f1e2d3c}
	wrapEpoch := uint32(16384)
	gid0 := uint32(0)
	gidWrap := gid0 + wrapEpoch*uint32(DefaultLanes)
	if gid0 != gidWrap {
		t.Fatalf("expected gid wraparound, got %d and %d", gid0, gidWrap)
	}
	if laneSeed(state, gid0) != laneSeed(state, gidWrap) {
		t.Fatal("wrapped gid should replay the seed under a fixed state")
	}

	// Therefore the pool must not reuse its state across batches.
	spec, err := pattern.Compile("ab", 0)
	if err != nil {
		t.Fatal(err)
	}
	backend := &recordingBackend{}
	pool, err := NewPool(backend, Descriptor{Kind: KindCUDA}, 16, logger.Nop{})
	if err != nil {
		t.Fatal(err)
	}

	var stop atomic.Bool
	var attempts atomic.Uint64
	done := make(chan error, 1)
	go func() {
		done <- pool.Run(types.WorkerConfig{
			Spec:     spec,
			Stop:     &stop,
			Attempts: &attempts,
			Results:  make(chan types.Candidate, 1),
		})
	}()

	for {
		backend.mu.Lock()
		n := len(backend.states)
		backend.mu.Unlock()
		if n >= 5 {
			break
		}
		time.Sleep(time.Millisecond)
	}
	stop.Store(true)
	if err := <-done; err != nil {
		t.Fatalf("pool exited with error: %v", err)
	}

	backend.mu.Lock()
	defer backend.mu.Unlock()
	seen := make(map[[4]uint32]int)
	for i, st := range backend.states {
		if prev, dup := seen[st]; dup {
			t.Fatalf("batches %d and %d ran with the same base state %x", prev, i, st)
		}
		seen[st] = i
	}
	for i, e := range backend.epochs[:5] {
		if e != uint32(i) {
			t.Errorf("batch %d ran with epoch %d", i, e)
		}
	}
}

type failingBackend struct{}

func (failingBackend) Info() BackendInfo { return BackendInfo{Name: "failing"} }
func (failingBackend) Available() bool   { return true }
func (failingBackend) NewSearcher(cfg SearchConfig) (Searcher, error) {
	return failingSearcher{lanes: cfg.Lanes}, nil
}

type failingSearcher struct{ lanes int }

func (s failingSearcher) Lanes() int   { return s.lanes }
func (failingSearcher) Close() error   { return nil }
func (failingSearcher) Search([4]uint32, uint32) ([]Match, error) {
	return nil, errors.New("simulated device loss")
}

func TestPoolReportsDeviceFailure(t *testing.T) {
	spec, err := pattern.Compile("ab", 0)
	if err != nil {
		t.Fatal(err)
	}
	pool, err := NewPool(failingBackend{}, Descriptor{Kind: KindCUDA}, 32, logger.Nop{})
	if err != nil {
		t.Fatal(err)
	}

	var stop atomic.Bool
	var attempts atomic.Uint64
	err = pool.Run(types.WorkerConfig{
		Spec:     spec,
		Stop:     &stop,
		Attempts: &attempts,
		Results:  make(chan types.Candidate, 1),
	})
	if !errors.Is(err, ErrDeviceFailure) {
		t.Errorf("error = %v, want ErrDeviceFailure", err)
	}
}
