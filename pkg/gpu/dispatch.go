package gpu

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/vltier/meshcore-keygen/internal/keygen"
	"github.com/vltier/meshcore-keygen/internal/logger"
	"github.com/vltier/meshcore-keygen/pkg/types"
)

// DefaultLanes is the batch width used when the caller does not set one.
// Large enough to keep a discrete GPU saturated, still cheap on the CPU
// reference backend.
const DefaultLanes = 262144

// Pool drives one backend in a batch loop: seed a batch, search it on the
// device, revalidate hits on the host, publish candidates. It mirrors the CPU
// worker pool's contract so the orchestrator treats both identically.
type Pool struct {
	backend Backend
	desc    Descriptor
	lanes   int
	log     logger.Logger
}

// NewPool wires a pool to a selected backend. Zero lanes means DefaultLanes.
func NewPool(b Backend, desc Descriptor, lanes int, log logger.Logger) (*Pool, error) {
	if lanes == 0 {
		lanes = DefaultLanes
	}
	if lanes < 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidLaneCount, lanes)
	}
	if log == nil {
		log = logger.Nop{}
	}
	return &Pool{backend: b, desc: desc, lanes: lanes, log: log}, nil
}

// Source identifies this pool in candidate records.
func (p *Pool) Source() string {
	return "gpu:" + p.desc.Kind.String()
}

// Run executes batches until cfg.Stop is set or the device fails. Device
// failure is reported wrapped in ErrDeviceFailure so the orchestrator can
// drop the GPU path and keep the CPU pool running.
func (p *Pool) Run(cfg types.WorkerConfig) error {
	searcher, err := p.backend.NewSearcher(SearchConfig{
		Lanes:   p.lanes,
		MatchFn: cfg.Spec.Matches,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDeviceFailure, err)
	}
	defer searcher.Close()

	p.log.Info("gpu pool started: backend=", p.desc.Kind.String(), " lanes=", p.lanes)

	var epoch uint32
	for !cfg.Stop.Load() {
		// A fresh base state every batch keeps lane seeds unique even after
		// epoch*lanes wraps the 32-bit gid space; gid mixing alone repeats
		// after 2^32 derivations.
		state, err := randomState()
		if err != nil {
			return fmt.Errorf("seed base state: %w", err)
		}
		matches, err := searcher.Search(state, epoch)
		if err != nil {
			p.log.Error("gpu batch failed: ", err)
			return fmt.Errorf("%w: %v", ErrDeviceFailure, err)
		}
		cfg.Attempts.Add(uint64(p.lanes))

		for _, m := range matches {
			kp := types.KeyPair{Public: m.Public, Private: m.Private}
			// Never trust device output: re-check the pattern and the key
			// structure on the host before publishing.
			if !cfg.Spec.Matches(&kp.Public) || !keygen.Verify(&kp) {
				p.log.Warn("gpu reported a bad match, lane ", m.Lane, " epoch ", epoch)
				continue
			}
			cfg.Results <- types.Candidate{
				Key:      kp,
				Pattern:  cfg.Spec.Describe(),
				Attempts: cfg.Attempts.Load(),
				FoundAt:  time.Now(),
				Source:   p.Source(),
			}
		}

		epoch++
	}
	return nil
}

func randomState() ([4]uint32, error) {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return [4]uint32{}, err
	}
	var s [4]uint32
	for i := range s {
		s[i] = binary.LittleEndian.Uint32(buf[i*4:])
	}
	return s, nil
}
