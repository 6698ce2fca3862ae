// Package worker implements the CPU search pool: n goroutines generating
// random seeds, deriving keypairs and publishing pattern matches.
package worker

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"runtime"
	"sync"
	"time"

	mrand "math/rand/v2"

	"github.com/vltier/meshcore-keygen/internal/keygen"
	"github.com/vltier/meshcore-keygen/internal/logger"
	"github.com/vltier/meshcore-keygen/pkg/types"
)

// DefaultBatchSize is the number of derivations between stop-flag checks.
// Large enough that the atomic loads disappear in the derivation cost.
const DefaultBatchSize = 1000

// Pool runs the CPU side of the search. Workers share one WorkerConfig by
// reference; the stop flag and attempt counter are the only mutable state
// they touch, so the hot loop takes no locks.
type Pool struct {
	workers int
	cfg     types.WorkerConfig
	log     logger.Logger
	wg      sync.WaitGroup
}

// NewPool creates a pool with the given worker count; zero or negative means
// one worker per CPU.
func NewPool(workers int, cfg types.WorkerConfig, log logger.Logger) *Pool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if log == nil {
		log = logger.Nop{}
	}
	return &Pool{workers: workers, cfg: cfg, log: log}
}

// Workers returns the resolved worker count.
func (p *Pool) Workers() int { return p.workers }

// Start launches the workers. It returns immediately; use Wait for shutdown.
// If seeding any worker fails, the ones already launched are stopped and
// reaped before the error is returned.
func (p *Pool) Start() error {
	for i := 0; i < p.workers; i++ {
		rng, err := newWorkerRNG()
		if err != nil {
			p.cfg.Stop.Store(true)
			p.wg.Wait()
			return fmt.Errorf("seed worker %d: %w", i, err)
		}
		p.wg.Add(1)
		go p.run(i, rng)
	}
	p.log.Debug("cpu pool started: workers=", p.workers, " batch=", p.cfg.BatchSize)
	return nil
}

// Wait blocks until every worker has observed the stop flag and exited.
func (p *Pool) Wait() {
	p.wg.Wait()
}

// randRead is swapped in tests to simulate entropy failures.
var randRead = rand.Read

// newWorkerRNG builds a per-worker ChaCha8 generator seeded from the system
// CSPRNG. Each worker owning its own generator keeps seed generation off any
// shared lock.
func newWorkerRNG() (*mrand.ChaCha8, error) {
	var seed [32]byte
	if _, err := randRead(seed[:]); err != nil {
		return nil, err
	}
	return mrand.NewChaCha8(seed), nil
}

// run is the worker hot loop. Stop is checked once per batch, so cancellation
// latency is bounded by BatchSize derivations.
func (p *Pool) run(id int, rng *mrand.ChaCha8) {
	defer p.wg.Done()

	var seed [32]byte
	for !p.cfg.Stop.Load() {
		for i := 0; i < p.cfg.BatchSize; i++ {
			fillSeed(&seed, rng)
			kp := keygen.Derive(seed)
			if p.cfg.Spec.Matches(&kp.Public) {
				p.cfg.Results <- types.Candidate{
					Key:      kp,
					Pattern:  p.cfg.Spec.Describe(),
					Attempts: p.cfg.Attempts.Load(),
					FoundAt:  time.Now(),
					Source:   "cpu",
				}
			}
		}
		p.cfg.Attempts.Add(uint64(p.cfg.BatchSize))
	}
	p.log.Debug("cpu worker ", id, " stopped")
}

func fillSeed(seed *[32]byte, rng *mrand.ChaCha8) {
	binary.LittleEndian.PutUint64(seed[0:], rng.Uint64())
	binary.LittleEndian.PutUint64(seed[8:], rng.Uint64())
	binary.LittleEndian.PutUint64(seed[16:], rng.Uint64())
	binary.LittleEndian.PutUint64(seed[24:], rng.Uint64())
}
