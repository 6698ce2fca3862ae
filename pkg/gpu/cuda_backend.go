//go:build cuda

package gpu

// CUDABackend is a stub backend enabled with the "cuda" build tag.
// It does not provide a working implementation yet.
type CUDABackend struct{}

func init() {
	Register(KindCUDA, &CUDABackend{})
}

func (b *CUDABackend) Info() BackendInfo {
	return BackendInfo{
		Name:        "cuda",
		Version:     "stub",
		Description: "CUDA backend stub (no implementation)",
	}
}

func (b *CUDABackend) Available() bool {
	return false
}

func (b *CUDABackend) NewSearcher(_ SearchConfig) (Searcher, error) {
	return nil, ErrBackendUnavailable
}
