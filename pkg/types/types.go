package types

import (
	"encoding/hex"
	"sync/atomic"
	"time"

	"github.com/vltier/meshcore-keygen/internal/pattern"
)

// KeyPair is a MeshCore-format Ed25519 keypair. The layout is the wire
// contract with the protocol: Private is the clamped scalar followed by the
// second half of the SHA-512 seed digest, Public is the compressed curve
// point.
type KeyPair struct {
	Public  [32]byte
	Private [64]byte
}

// PublicHex returns the public key as 64 lowercase hex characters.
func (kp *KeyPair) PublicHex() string {
	return hex.EncodeToString(kp.Public[:])
}

// PrivateHex returns the private key as 128 lowercase hex characters.
func (kp *KeyPair) PrivateHex() string {
	return hex.EncodeToString(kp.Private[:])
}

// NodeID returns the MeshCore node identifier (first public key byte as hex).
func (kp *KeyPair) NodeID() string {
	return hex.EncodeToString(kp.Public[:1])
}

// Candidate is a keypair that passed pattern matching. It is produced by
// exactly one worker and handed to the orchestrator by value; nothing mutates
// it after the handoff.
type Candidate struct {
	Key      KeyPair
	Pattern  string // human description of the matched pattern
	Attempts uint64 // global attempt count at discovery
	FoundAt  time.Time
	Source   string // "cpu" or the GPU backend name
}

// WorkerConfig is shared by reference across every worker in a pool. The
// atomic fields and the results channel are the only cross-worker state.
type WorkerConfig struct {
	BatchSize int
	Spec      *pattern.Spec
	Stop      *atomic.Bool
	Attempts  *atomic.Uint64
	Results   chan<- Candidate
}

// Stats is a point-in-time snapshot of search progress.
type Stats struct {
	Attempts uint64
	Found    uint64
	Elapsed  time.Duration
	Rate     float64 // keys per second, averaged over the run
}

// Result summarises a completed run.
type Result struct {
	Keys     []Candidate
	Attempts uint64
	Valid    int
	Duration time.Duration
}

// Rate returns the average throughput in keys per second.
func (r *Result) Rate() float64 {
	if r.Duration.Seconds() <= 0 {
		return 0
	}
	return float64(r.Attempts) / r.Duration.Seconds()
}
