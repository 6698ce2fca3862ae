// Package gpu provides the device-accelerated search path: backend detection
// and selection, the host-side batch dispatcher, and a reference
// implementation of the device kernel.
//
// Every backend implements one operation, batch generate-and-match: expand
// per-lane seeds from a small base state, run the full derivation pipeline on
// the device, and return only the lanes whose public key matched. Keeping the
// kernel output bit-identical to the host derivation in internal/keygen is
// the load-bearing invariant of this package; the dispatcher revalidates
// everything a device reports before it leaves the pool.
package gpu

import "sync"

// BackendInfo describes a backend implementation.
type BackendInfo struct {
	Name        string
	Version     string
	Description string
}

// Match is a single lane hit reported by a Searcher. Lane identifies which
// invocation produced it within the batch.
type Match struct {
	Lane    int
	Public  [32]byte
	Private [64]byte
}

// SearchConfig fixes the shape of a Searcher at creation time.
type SearchConfig struct {
	// Lanes is the number of parallel invocations per batch.
	Lanes int

	// MatchFn is the predicate applied on-device; only matching lanes are
	// transferred back to the host.
	MatchFn func(pub *[32]byte) bool
}

// Backend is implemented by compute backends (Metal, CUDA, Vulkan, OpenCL,
// and the CPU-executed reference kernel).
type Backend interface {
	Info() BackendInfo
	Available() bool
	NewSearcher(cfg SearchConfig) (Searcher, error)
}

// Searcher runs generate-and-match batches on its device. A Searcher is not
// safe for concurrent use; each dispatcher owns exactly one.
type Searcher interface {
	// Search derives one key per lane from the base state and batch epoch
	// and returns the lanes whose public key satisfied the match predicate.
	Search(state [4]uint32, epoch uint32) ([]Match, error)
	Lanes() int
	Close() error
}

var (
	registryMu sync.RWMutex
	registry   = map[Kind]Backend{}
)

// Register installs a backend for a kind, replacing any previous one.
// Backends register themselves from init when built in.
func Register(kind Kind, b Backend) {
	registryMu.Lock()
	registry[kind] = b
	registryMu.Unlock()
}

// BackendFor returns the registered backend for a kind.
func BackendFor(kind Kind) (Backend, bool) {
	registryMu.RLock()
	b, ok := registry[kind]
	registryMu.RUnlock()
	return b, ok
}
