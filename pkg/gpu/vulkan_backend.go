//go:build vulkan

package gpu

// VulkanBackend is a stub backend enabled with the "vulkan" build tag.
// It does not provide a working implementation yet.
type VulkanBackend struct{}

func init() {
	Register(KindVulkan, &VulkanBackend{})
}

func (b *VulkanBackend) Info() BackendInfo {
	return BackendInfo{
		Name:        "vulkan",
		Version:     "stub",
		Description: "Vulkan compute backend stub (no implementation)",
	}
}

func (b *VulkanBackend) Available() bool {
	return false
}

func (b *VulkanBackend) NewSearcher(_ SearchConfig) (Searcher, error) {
	return nil, ErrBackendUnavailable
}
