package gpu

import (
	"errors"
	"os/exec"
	"runtime"
	"testing"
)

func TestParseKind(t *testing.T) {
	tests := []struct {
		in   string
		want Kind
		err  bool
	}{
		{"metal", KindMetal, false},
		{"CUDA", KindCUDA, false},
		{"vulkan", KindVulkan, false},
		{"opencl", KindOpenCL, false},
		{"cpu", KindCPUOnly, false},
		{"cpu-only", KindCPUOnly, false},
		{"auto", KindNone, false},
		{"", KindNone, false},
		{" cuda ", KindCUDA, false},
		{"directx", KindNone, true},
	}
	for _, tt := range tests {
		got, err := ParseKind(tt.in)
		if tt.err {
			if !errors.Is(err, ErrUnknownKind) {
				t.Errorf("ParseKind(%q) error = %v, want ErrUnknownKind", tt.in, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("ParseKind(%q) = %v, %v, want %v", tt.in, got, err, tt.want)
		}
	}
}

func TestKindString(t *testing.T) {
	for kind, want := range map[Kind]string{
		KindNone: "none", KindMetal: "metal", KindCUDA: "cuda",
		KindVulkan: "vulkan", KindOpenCL: "opencl", KindCPUOnly: "cpu",
	} {
		if got := kind.String(); got != want {
			t.Errorf("Kind(%d).String() = %q, want %q", kind, got, want)
		}
	}
}

func TestDetectAlwaysIncludesCPU(t *testing.T) {
	found := Detect()
	if len(found) == 0 {
		t.Fatal("Detect returned nothing")
	}
	last := found[len(found)-1]
	if last.Kind != KindCPUOnly {
		t.Errorf("last detection = %v, want cpu", last.Kind)
	}
	if !last.Registered {
		t.Error("cpu backend should always be registered")
	}
}

func TestDetectProbesTools(t *testing.T) {
	orig := lookPath
	defer func() { lookPath = orig }()

	// Host with every probe tool present.
	lookPath = func(string) (string, error) { return "/usr/bin/tool", nil }
	kinds := map[Kind]bool{}
	for _, d := range Detect() {
		kinds[d.Kind] = true
	}
	for _, want := range []Kind{KindCUDA, KindVulkan, KindOpenCL, KindCPUOnly} {
		if !kinds[want] {
			t.Errorf("expected %v in detections", want)
		}
	}

	// Host with no tooling at all: only the CPU (plus Metal on darwin).
	lookPath = func(string) (string, error) { return "", exec.ErrNotFound }
	found := Detect()
	wantLen := 1
	if runtime.GOOS == "darwin" {
		wantLen = 2
	}
	if len(found) != wantLen {
		t.Errorf("bare host detections = %d, want %d", len(found), wantLen)
	}
}

func TestSelectForced(t *testing.T) {
	b, desc, err := Select(KindCPUOnly)
	if err != nil {
		t.Fatalf("Select(cpu): %v", err)
	}
	if b == nil || desc.Kind != KindCPUOnly {
		t.Errorf("Select(cpu) = %v, %v", b, desc)
	}

	// Vulkan is not registered in default builds.
	if _, ok := BackendFor(KindVulkan); !ok {
		_, _, err = Select(KindVulkan)
		if !errors.Is(err, ErrNoBackend) {
			t.Errorf("Select(vulkan) error = %v, want ErrNoBackend", err)
		}
	}
}

func TestSelectAutoFallsBackToCPU(t *testing.T) {
	orig := lookPath
	defer func() { lookPath = orig }()
	lookPath = func(string) (string, error) { return "", exec.ErrNotFound }

	b, desc, err := Select(KindNone)
	if err != nil {
		t.Fatalf("Select(auto): %v", err)
	}
	if desc.Kind != KindCPUOnly {
		t.Errorf("auto selection = %v, want cpu", desc.Kind)
	}
	if !b.Available() {
		t.Error("selected backend reports unavailable")
	}
}
