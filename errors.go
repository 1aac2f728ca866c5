package vkr

import (
	"github.com/cockroachdb/errors"
	vk "github.com/vulkan-go/vulkan"
)

// Error kinds surfaced by the runtime. Callers are expected to match
// these with errors.Is; most call sites wrap them with additional
// context before returning.
var (
	// ErrNotRegistered means a producer called into the command queue
	// without a prior ThreadInit. This is a programming error.
	ErrNotRegistered = errors.New("vkr: calling goroutine has no command recorder")

	// ErrOutOfStagingMemory means the per-frame staging arena is
	// exhausted. The current frame is abandoned; the next FrameBegin
	// starts with a reset arena.
	ErrOutOfStagingMemory = errors.New("vkr: staging arena exhausted")

	// ErrSurfaceLost and ErrSurfaceOutOfDate come from swapchain
	// acquire/present. The caller decides between Resize and a full
	// destroy/recreate.
	ErrSurfaceLost      = errors.New("vkr: surface lost")
	ErrSurfaceOutOfDate = errors.New("vkr: surface out of date")

	// ErrNoSupportedFormat means capability detection found no format
	// satisfying the request.
	ErrNoSupportedFormat = errors.New("vkr: no supported format")

	// ErrShaderBindingConflict means two stages declare incompatible
	// kinds on the same slot.
	ErrShaderBindingConflict = errors.New("vkr: shader binding conflict")

	// ErrShaderBindingMissing means a draw referenced a binding name
	// absent from the shader's reflection record.
	ErrShaderBindingMissing = errors.New("vkr: shader binding missing")

	// Renderer contract violations.
	ErrNestedPass           = errors.New("vkr: render pass already active")
	ErrNoActivePass         = errors.New("vkr: no render pass active")
	ErrInvalidAttachment    = errors.New("vkr: invalid pass attachment")
	ErrResourceNotWriteable = errors.New("vkr: resource is not writeable")

	// ErrAllocFailed is a backend out-of-memory from image, buffer or
	// descriptor allocation.
	ErrAllocFailed = errors.New("vkr: backend allocation failed")

	// ErrDeviceLost is unrecoverable; the runtime must be shut down and
	// reinitialised.
	ErrDeviceLost = errors.New("vkr: device lost")
)

// vkErr converts a vk.Result into one of the package sentinels where a
// sensible mapping exists, falling back to the binding's own error.
func vkErr(res vk.Result) error {
	switch res {
	case vk.Success:
		return nil
	case vk.ErrorSurfaceLost:
		return ErrSurfaceLost
	case vk.ErrorOutOfDate:
		return ErrSurfaceOutOfDate
	case vk.ErrorDeviceLost:
		return ErrDeviceLost
	case vk.ErrorOutOfDeviceMemory, vk.ErrorOutOfHostMemory:
		return errors.WithDetailf(ErrAllocFailed, "vk result %d", res)
	}
	return vk.Error(res)
}
