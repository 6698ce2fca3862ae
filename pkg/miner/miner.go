// Package miner coordinates a search run: it owns the worker pools, consumes
// the candidate stream, validates and deduplicates finds, and decides when
// the run is over.
package miner

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vltier/meshcore-keygen/internal/config"
	"github.com/vltier/meshcore-keygen/internal/keygen"
	"github.com/vltier/meshcore-keygen/internal/logger"
	"github.com/vltier/meshcore-keygen/internal/pattern"
	"github.com/vltier/meshcore-keygen/pkg/gpu"
	"github.com/vltier/meshcore-keygen/pkg/types"
	"github.com/vltier/meshcore-keygen/pkg/worker"
)

// resultsBuffer bounds how far producers can run ahead of the consumer.
const resultsBuffer = 64

// CandidateStore persists accepted candidates. Implemented by
// internal/storage; nil disables persistence.
type CandidateStore interface {
	Store(c *types.Candidate) error
	AllPublicKeys() ([]string, error)
}

// Miner is the single consumer of the candidate channel. It runs the CPU
// pool always and the GPU pool when a usable backend is selected.
type Miner struct {
	cfg  *config.Config
	log  logger.Logger
	spec *pattern.Spec

	stop     atomic.Bool
	attempts atomic.Uint64
	found    atomic.Uint64

	store   CandidateStore
	onFound func(c types.Candidate, index int)

	mu    sync.Mutex
	known map[string]struct{}
	start time.Time
}

// New compiles the pattern and builds a miner. Pattern errors surface here,
// before any goroutine starts.
func New(cfg *config.Config, log logger.Logger) (*Miner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	spec, err := pattern.Compile(cfg.Prefix, cfg.VanityLen)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.Nop{}
	}
	return &Miner{
		cfg:   cfg,
		log:   log,
		spec:  spec,
		known: make(map[string]struct{}),
	}, nil
}

// Spec exposes the compiled pattern, for display.
func (m *Miner) Spec() *pattern.Spec { return m.spec }

// SetStore attaches a key database. Existing keys seed the duplicate set so
// re-finds of already stored keys are dropped silently.
func (m *Miner) SetStore(s CandidateStore) error {
	m.store = s
	if s == nil {
		return nil
	}
	keys, err := s.AllPublicKeys()
	if err != nil {
		return fmt.Errorf("seed known keys: %w", err)
	}
	m.mu.Lock()
	for _, k := range keys {
		m.known[k] = struct{}{}
	}
	m.mu.Unlock()
	return nil
}

// SetKnownKeys marks public keys (lowercase hex) as already found, for
// deduplication against keys on disk.
func (m *Miner) SetKnownKeys(keys []string) {
	m.mu.Lock()
	for _, k := range keys {
		m.known[k] = struct{}{}
	}
	m.mu.Unlock()
}

// SetOnFound registers a callback invoked for every accepted candidate with
// its zero-based index.
func (m *Miner) SetOnFound(fn func(c types.Candidate, index int)) {
	m.onFound = fn
}

// Stop requests shutdown. Safe from any goroutine.
func (m *Miner) Stop() {
	m.stop.Store(true)
}

// Stats returns a progress snapshot.
func (m *Miner) Stats() types.Stats {
	elapsed := time.Since(m.start)
	attempts := m.attempts.Load()
	rate := 0.0
	if elapsed.Seconds() > 0 {
		rate = float64(attempts) / elapsed.Seconds()
	}
	return types.Stats{
		Attempts: attempts,
		Found:    m.found.Load(),
		Elapsed:  elapsed,
		Rate:     rate,
	}
}

// Run executes the search until the target count is reached, a limit trips,
// the context is cancelled or Stop is called. It always returns the partial
// result accumulated so far.
func (m *Miner) Run(ctx context.Context) (*types.Result, error) {
	m.start = time.Now()
	results := make(chan types.Candidate, resultsBuffer)

	workerCfg := types.WorkerConfig{
		BatchSize: m.cfg.BatchSize,
		Spec:      m.spec,
		Stop:      &m.stop,
		Attempts:  &m.attempts,
		Results:   results,
	}

	var producers sync.WaitGroup

	cpuPool := worker.NewPool(m.cfg.Workers, workerCfg, m.log)
	if err := cpuPool.Start(); err != nil {
		return nil, fmt.Errorf("start cpu pool: %w", err)
	}
	producers.Add(1)
	go func() {
		defer producers.Done()
		cpuPool.Wait()
	}()

	if m.cfg.UseGPU {
		m.startGPU(workerCfg, &producers)
	}

	// The channel closes only after every producer has exited, so the drain
	// below always terminates.
	go func() {
		producers.Wait()
		close(results)
	}()

	result := m.consume(ctx, results)

	m.stop.Store(true)
	for range results {
		// Discard candidates produced while the pools wind down.
	}

	result.Attempts = m.attempts.Load()
	result.Duration = time.Since(m.start)
	return result, nil
}

// startGPU selects a backend and launches the GPU pool. Any failure here
// degrades to CPU-only and is never fatal.
func (m *Miner) startGPU(workerCfg types.WorkerConfig, producers *sync.WaitGroup) {
	kind, err := gpu.ParseKind(m.cfg.Backend)
	if err != nil {
		m.log.Warn("ignoring gpu request: ", err)
		return
	}
	backend, desc, err := gpu.Select(kind)
	if err != nil {
		m.log.Warn("no usable gpu backend, running cpu-only: ", err)
		return
	}
	pool, err := gpu.NewPool(backend, desc, m.cfg.Lanes, m.log)
	if err != nil {
		m.log.Warn("gpu pool setup failed, running cpu-only: ", err)
		return
	}
	m.log.Info("gpu backend selected: ", desc.Kind.String())

	producers.Add(1)
	go func() {
		defer producers.Done()
		if err := pool.Run(workerCfg); err != nil {
			// The cpu pool keeps the search alive.
			m.log.Warn("gpu pool exited: ", err)
		}
	}()
}

// consume is the main loop: accept candidates until a stop condition trips.
func (m *Miner) consume(ctx context.Context, results <-chan types.Candidate) *types.Result {
	result := &types.Result{}

	ticker := time.NewTicker(time.Duration(m.cfg.LogInterval) * time.Second)
	defer ticker.Stop()

	// The progress interval is seconds; Stop and the attempt limit are
	// polled much faster so shutdown latency stays well under one batch.
	poll := time.NewTicker(50 * time.Millisecond)
	defer poll.Stop()

	var deadline <-chan time.Time
	if m.cfg.MaxTime > 0 {
		timer := time.NewTimer(m.cfg.MaxTime)
		defer timer.Stop()
		deadline = timer.C
	}

	for len(result.Keys) < m.cfg.Count {
		select {
		case c, ok := <-results:
			if !ok {
				// Every producer exited; with Stop unset this means they all
				// failed, and there is nothing left to wait for.
				return result
			}
			m.accept(c, result)

		case <-ticker.C:
			m.logProgress()

		case <-poll.C:
			if m.stop.Load() {
				return result
			}
			if m.cfg.MaxAttempts > 0 && m.attempts.Load() >= m.cfg.MaxAttempts {
				m.log.Info("attempt limit reached")
				return result
			}

		case <-deadline:
			m.log.Info("time limit reached")
			return result

		case <-ctx.Done():
			m.log.Info("interrupted")
			return result
		}
	}
	return result
}

// accept runs the per-candidate pipeline: dedupe, validate, deliver, persist.
func (m *Miner) accept(c types.Candidate, result *types.Result) {
	pub := c.Key.PublicHex()

	m.mu.Lock()
	_, dup := m.known[pub]
	if !dup {
		m.known[pub] = struct{}{}
	}
	m.mu.Unlock()
	if dup {
		m.log.Debug("duplicate key dropped: ", pub[:8])
		return
	}

	if !m.cfg.NoVerify {
		if err := keygen.Validate(&c.Key); err != nil {
			m.log.Warn("discarding invalid candidate ", pub[:8], ": ", err)
			return
		}
		result.Valid++
	}

	index := len(result.Keys)
	result.Keys = append(result.Keys, c)
	m.found.Add(1)

	m.log.Info("found key ", index+1, "/", m.cfg.Count, ": ", pub,
		" (", c.Source, ", ", m.attempts.Load(), " attempts)")

	if m.onFound != nil {
		m.onFound(c, index)
	}
	if m.store != nil {
		if err := m.store.Store(&c); err != nil {
			m.log.Error("persist key ", pub[:8], ": ", err)
		}
	}
}

func (m *Miner) logProgress() {
	st := m.Stats()
	msg := fmt.Sprintf("progress: %d attempts, %.0f keys/s, %d/%d found",
		st.Attempts, st.Rate, st.Found, m.cfg.Count)
	if p := m.spec.Probability(); p > 0 && st.Rate > 0 {
		eta := time.Duration(1 / p / st.Rate * float64(time.Second))
		msg += fmt.Sprintf(", ~%s per key", eta.Round(time.Second))
	}
	m.log.Info(msg)
}
