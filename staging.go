package vkr

import (
	"github.com/cockroachdb/errors"
	vk "github.com/vulkan-go/vulkan"
)

// DefaultStagingSize is the byte size of each frame's staging arena.
var DefaultStagingSize = uint64(32 << 20)

// StagingArena suballocates one persistently mapped host-visible
// buffer. Each in-flight frame owns one arena; it is reset when its
// frame slot comes around again.
type StagingArena struct {
	Device   *Device
	VKBuffer vk.Buffer
	Memory   *DeviceMemory
	Size     uint64

	alloc  LinearAllocator
	mapped []byte
}

func (d *Device) CreateStagingArena(size uint64) (*StagingArena, error) {
	return d.createArena(size, vk.BufferUsageFlags(vk.BufferUsageTransferSrcBit))
}

// CreateParamArena is a staging arena shaders read directly. Frame
// code suballocates per-draw uniform and instance runs out of it.
func (d *Device) CreateParamArena(size uint64) (*StagingArena, error) {
	return d.createArena(size, vk.BufferUsageFlags(
		vk.BufferUsageUniformBufferBit|vk.BufferUsageStorageBufferBit))
}

func (d *Device) createArena(size uint64, usage vk.BufferUsageFlags) (*StagingArena, error) {
	buffer, mem, err := d.allocBuffer(size, usage,
		vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit|vk.MemoryPropertyHostCoherentBit))
	if err != nil {
		return nil, errors.Wrap(err, "creating staging arena")
	}

	ptr, err := mem.Map()
	if err != nil {
		vk.DestroyBuffer(d.VKDevice, buffer, nil)
		mem.Destroy()
		return nil, err
	}

	return &StagingArena{
		Device:   d,
		VKBuffer: buffer,
		Memory:   mem,
		Size:     size,
		alloc:    LinearAllocator{Size: size},
		mapped:   ToBytes(ptr, int(size)),
	}, nil
}

// Alloc reserves size bytes and returns the buffer offset plus a
// writable window into the mapped storage.
func (s *StagingArena) Alloc(size, align uint64) (uint64, []byte, error) {
	a := s.alloc.Allocate(size, align)
	if a == nil {
		return 0, nil, errors.Wrapf(ErrOutOfStagingMemory, "want %d bytes, %d of %d in use", size, s.alloc.Used(), s.Size)
	}
	return a.Offset, s.mapped[a.Offset : a.Offset+size], nil
}

// Reset recycles the arena for a new frame. Only valid once the frame
// that consumed it has retired.
func (s *StagingArena) Reset() {
	s.alloc.Reset()
}

// Used reports the bytes consumed since the last Reset.
func (s *StagingArena) Used() uint64 {
	return s.alloc.Used()
}

func (s *StagingArena) Destroy() {
	if s.Memory.IsMapped() {
		s.Memory.Unmap()
	}
	vk.DestroyBuffer(s.Device.VKDevice, s.VKBuffer, nil)
	s.Memory.Destroy()
}
