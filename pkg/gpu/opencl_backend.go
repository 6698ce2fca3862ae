//go:build opencl

package gpu

// OpenCLBackend is a stub backend enabled with the "opencl" build tag.
// It does not provide a working implementation yet.
type OpenCLBackend struct{}

func init() {
	Register(KindOpenCL, &OpenCLBackend{})
}

func (b *OpenCLBackend) Info() BackendInfo {
	return BackendInfo{
		Name:        "opencl",
		Version:     "stub",
		Description: "OpenCL backend stub (no implementation)",
	}
}

func (b *OpenCLBackend) Available() bool {
	return false
}

func (b *OpenCLBackend) NewSearcher(_ SearchConfig) (Searcher, error) {
	return nil, ErrBackendUnavailable
}
