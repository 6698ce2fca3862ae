package gpu

import (
	"fmt"
	"runtime"
	"sync"
)

func init() {
	Register(KindCPUOnly, &referenceBackend{})
}

// referenceBackend executes the device kernel on the host CPU. It serves two
// jobs: the fallback when no GPU is usable, and the ground truth native
// backends are compared against in the parity tests.
type referenceBackend struct{}

func (referenceBackend) Info() BackendInfo {
	return BackendInfo{
		Name:        "cpu-reference",
		Version:     runtime.Version(),
		Description: "portable kernel executed on host CPU",
	}
}

func (referenceBackend) Available() bool { return true }

func (referenceBackend) NewSearcher(cfg SearchConfig) (Searcher, error) {
	if cfg.Lanes <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidLaneCount, cfg.Lanes)
	}
	if cfg.MatchFn == nil {
		return nil, fmt.Errorf("gpu: search config has no match predicate")
	}
	shards := runtime.GOMAXPROCS(0)
	if shards > cfg.Lanes {
		shards = cfg.Lanes
	}
	return &referenceSearcher{lanes: cfg.Lanes, shards: shards, match: cfg.MatchFn}, nil
}

type referenceSearcher struct {
	lanes  int
	shards int
	match  func(pub *[32]byte) bool
}

func (s *referenceSearcher) Lanes() int { return s.lanes }

func (s *referenceSearcher) Close() error { return nil }

// Search runs every lane of the batch, sharded across GOMAXPROCS goroutines.
// Lane gids follow the device convention: lane + epoch*lanes.
func (s *referenceSearcher) Search(state [4]uint32, epoch uint32) ([]Match, error) {
	perShard := (s.lanes + s.shards - 1) / s.shards

	var wg sync.WaitGroup
	shardHits := make([][]Match, s.shards)
	for shard := 0; shard < s.shards; shard++ {
		lo := shard * perShard
		hi := lo + perShard
		if hi > s.lanes {
			hi = s.lanes
		}
		if lo >= hi {
			continue
		}
		wg.Add(1)
		go func(shard, lo, hi int) {
			defer wg.Done()
			var hits []Match
			for lane := lo; lane < hi; lane++ {
				gid := uint32(lane) + epoch*uint32(s.lanes)
				seed := laneSeed(state, gid)
				pub, priv := kernelDerive(seed)
				if s.match(&pub) {
					hits = append(hits, Match{Lane: lane, Public: pub, Private: priv})
				}
			}
			shardHits[shard] = hits
		}(shard, lo, hi)
	}
	wg.Wait()

	var out []Match
	for _, hits := range shardHits {
		out = append(out, hits...)
	}
	return out, nil
}
