package embed

import (
	"log/slog"
	"runtime"
	"strings"

	"github.com/ebitengine/purego"
)

// Device identifies an inference device.
type Device string

const (
	// DeviceMPS is Apple Metal Performance Shaders (darwin only).
	DeviceMPS Device = "mps"

	// DeviceCUDA is NVIDIA CUDA (linux only).
	DeviceCUDA Device = "cuda"

	// DeviceCPU always resolves.
	DeviceCPU Device = "cpu"
)

// fallbackOrder is the demotion chain when a requested device is
// unavailable. CPU terminates the chain.
var fallbackOrder = []Device{DeviceMPS, DeviceCUDA, DeviceCPU}

// ResolveDevice probes for the requested device and walks the fallback
// chain mps -> cuda -> cpu on unavailability, logging each demotion.
func ResolveDevice(requested string, logger *slog.Logger) Device {
	if logger == nil {
		logger = slog.Default()
	}

	req := Device(strings.ToLower(strings.TrimSpace(requested)))
	if req == "" {
		req = DeviceCPU
	}

	start := len(fallbackOrder) - 1
	for i, d := range fallbackOrder {
		if d == req {
			start = i
			break
		}
	}

	for i := start; i < len(fallbackOrder); i++ {
		d := fallbackOrder[i]
		if !deviceAvailable(d) {
			logger.Warn("embed_device_unavailable",
				slog.String("device", string(d)))
			continue
		}
		if d != req {
			logger.Warn("embed_device_demoted",
				slog.String("requested", string(req)),
				slog.String("resolved", string(d)))
		}
		return d
	}

	return DeviceCPU
}

// deviceAvailable probes the native runtime for a device. The probe loads
// the device's runtime library via dlopen; a load failure means the
// driver stack is absent.
func deviceAvailable(d Device) bool {
	switch d {
	case DeviceCPU:
		return true
	case DeviceMPS:
		if runtime.GOOS != "darwin" {
			return false
		}
		return dlopenOK("/System/Library/Frameworks/Metal.framework/Metal")
	case DeviceCUDA:
		if runtime.GOOS != "linux" {
			return false
		}
		return dlopenOK("libcudart.so") || dlopenOK("libcuda.so.1")
	default:
		return false
	}
}

// dlopenOK reports whether a shared library loads.
func dlopenOK(path string) bool {
	lib, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_GLOBAL)
	if err != nil {
		return false
	}
	_ = purego.Dlclose(lib)
	return true
}

// DemotePrecision returns the next-cheaper precision and true, or the
// input and false when already at the floor. Used once per engine when a
// provider reports resource exhaustion.
func DemotePrecision(p string) (string, bool) {
	switch strings.ToLower(p) {
	case PrecisionFP32:
		return PrecisionFP16, true
	case PrecisionFP16:
		return PrecisionInt8, true
	default:
		return p, false
	}
}
