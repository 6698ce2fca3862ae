//go:build metal

package gpu

// MetalBackend is a stub backend enabled with the "metal" build tag. The
// shader pipeline is not wired up yet; Available reports false so selection
// falls through to the CPU reference backend.
type MetalBackend struct{}

func init() {
	Register(KindMetal, &MetalBackend{})
}

func (b *MetalBackend) Info() BackendInfo {
	return BackendInfo{
		Name:        "metal",
		Version:     "stub",
		Description: "Apple Metal backend stub (no implementation)",
	}
}

func (b *MetalBackend) Available() bool {
	return false
}

func (b *MetalBackend) NewSearcher(_ SearchConfig) (Searcher, error) {
	return nil, ErrBackendUnavailable
}
