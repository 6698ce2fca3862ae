package gpu

import (
	"fmt"
	"os/exec"
	"runtime"
	"strings"
)

// Kind identifies a compute backend family.
type Kind int

const (
	KindNone Kind = iota
	KindMetal
	KindCUDA
	KindVulkan
	KindOpenCL
	KindCPUOnly
)

func (k Kind) String() string {
	switch k {
	case KindMetal:
		return "metal"
	case KindCUDA:
		return "cuda"
	case KindVulkan:
		return "vulkan"
	case KindOpenCL:
		return "opencl"
	case KindCPUOnly:
		return "cpu"
	default:
		return "none"
	}
}

// ParseKind maps a user-supplied backend name to a Kind.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "metal":
		return KindMetal, nil
	case "cuda":
		return KindCUDA, nil
	case "vulkan":
		return KindVulkan, nil
	case "opencl":
		return KindOpenCL, nil
	case "cpu", "cpu-only":
		return KindCPUOnly, nil
	case "auto", "":
		return KindNone, nil
	}
	return KindNone, fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// Descriptor is one detected compute capability on the host.
type Descriptor struct {
	Kind     Kind
	Name     string
	Priority int
	// Registered reports whether a backend for this kind was compiled in.
	Registered bool
}

// lookPath is swapped in tests to simulate hosts with different tooling.
var lookPath = exec.LookPath

// Detect probes the host for usable compute backends, best first. The CPU
// backend is always present and always last.
func Detect() []Descriptor {
	var found []Descriptor

	if runtime.GOOS == "darwin" {
		found = append(found, Descriptor{Kind: KindMetal, Name: "Apple Metal", Priority: 4})
	}
	if _, err := lookPath("nvidia-smi"); err == nil {
		found = append(found, Descriptor{Kind: KindCUDA, Name: "NVIDIA CUDA", Priority: 3})
	}
	if _, err := lookPath("vulkaninfo"); err == nil {
		found = append(found, Descriptor{Kind: KindVulkan, Name: "Vulkan", Priority: 2})
	}
	if _, err := lookPath("clinfo"); err == nil {
		found = append(found, Descriptor{Kind: KindOpenCL, Name: "OpenCL", Priority: 1})
	}
	found = append(found, Descriptor{Kind: KindCPUOnly, Name: "CPU", Priority: 0})

	for i := range found {
		if b, ok := BackendFor(found[i].Kind); ok && b.Available() {
			found[i].Registered = true
		}
	}
	return found
}

// Select resolves the backend to run. A forced kind must be registered and
// available; with KindNone the best registered detection wins, falling back
// to the CPU backend.
func Select(forced Kind) (Backend, Descriptor, error) {
	if forced != KindNone {
		b, ok := BackendFor(forced)
		if !ok {
			return nil, Descriptor{}, fmt.Errorf("%w: %s", ErrNoBackend, forced)
		}
		if !b.Available() {
			return nil, Descriptor{}, fmt.Errorf("%w: %s", ErrBackendUnavailable, forced)
		}
		return b, Descriptor{Kind: forced, Name: b.Info().Name, Registered: true}, nil
	}

	var best *Descriptor
	for _, d := range Detect() {
		if !d.Registered {
			continue
		}
		if best == nil || d.Priority > best.Priority {
			d := d
			best = &d
		}
	}
	if best == nil {
		return nil, Descriptor{}, ErrNoBackend
	}
	b, _ := BackendFor(best.Kind)
	return b, *best, nil
}
