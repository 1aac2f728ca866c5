package vkr

import (
	"github.com/cockroachdb/errors"
	vk "github.com/vulkan-go/vulkan"
)

// BufferType selects what the buffer binds as.
type BufferType int32

const (
	BufferTypeVertex BufferType = iota
	BufferTypeIndex
	BufferTypeConstant
	BufferTypeStorage
)

// BufferUsage selects the update policy and memory placement.
type BufferUsage int32

const (
	// BufferUsageStatic buffers live in device-local memory and must
	// not be written after the initial upload.
	BufferUsageStatic BufferUsage = iota
	// BufferUsageDynamic buffers are host visible and may be rewritten
	// every frame.
	BufferUsageDynamic
	BufferUsageComputeRead
	BufferUsageComputeReadWrite
)

// Buffer is a typed GPU buffer handle.
type Buffer struct {
	Device   *Device
	VKBuffer vk.Buffer
	Memory   *DeviceMemory
	Count    int
	Stride   int
	Type     BufferType
	Usage    BufferUsage

	queue  *CmdQueue
	name   string
	mapped []byte
	valid  bool
}

func (t BufferType) vkUsage() vk.BufferUsageFlags {
	switch t {
	case BufferTypeVertex:
		return vk.BufferUsageFlags(vk.BufferUsageVertexBufferBit)
	case BufferTypeIndex:
		return vk.BufferUsageFlags(vk.BufferUsageIndexBufferBit)
	case BufferTypeConstant:
		return vk.BufferUsageFlags(vk.BufferUsageUniformBufferBit)
	case BufferTypeStorage:
		return vk.BufferUsageFlags(vk.BufferUsageStorageBufferBit)
	}
	return 0
}

func (u BufferUsage) hostVisible() bool {
	return u == BufferUsageDynamic
}

// CreateBuffer creates a buffer of count elements of stride bytes.
// data may be nil; for static buffers the upload happens on the next
// frame drain.
func (r *Renderer) CreateBuffer(data []byte, count, stride int, btype BufferType, usage BufferUsage) (*Buffer, error) {
	size := uint64(count * stride)
	if size == 0 {
		return nil, errors.Wrap(ErrAllocFailed, "zero-size buffer")
	}

	vkUsage := btype.vkUsage()
	props := vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit)
	if usage.hostVisible() {
		props = vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit | vk.MemoryPropertyHostCoherentBit)
	} else {
		vkUsage |= vk.BufferUsageFlags(vk.BufferUsageTransferDstBit)
	}
	if usage == BufferUsageComputeRead || usage == BufferUsageComputeReadWrite {
		vkUsage |= vk.BufferUsageFlags(vk.BufferUsageStorageBufferBit)
	}

	buffer, mem, err := r.Device.allocBuffer(size, vkUsage, props)
	if err != nil {
		return nil, errors.Wrap(err, "creating buffer")
	}

	b := &Buffer{
		Device:   r.Device,
		VKBuffer: buffer,
		Memory:   mem,
		Count:    count,
		Stride:   stride,
		Type:     btype,
		Usage:    usage,
		queue:    r.Commands,
		valid:    true,
	}

	if usage.hostVisible() {
		ptr, err := mem.Map()
		if err != nil {
			b.Destroy()
			return nil, err
		}
		b.mapped = ToBytes(ptr, int(size))
	}

	if data != nil {
		if usage.hostVisible() {
			copy(b.mapped, data)
		} else {
			payload := make([]byte, len(data))
			copy(payload, data)
			r.Commands.submit(Cmd{
				Op:     CmdUploadBuffer,
				Data:   payload,
				Buffer: buffer,
			})
		}
	}

	return b, nil
}

// IsValid reports whether the handle still owns backend objects.
func (b *Buffer) IsValid() bool {
	return b != nil && b.valid
}

// Set replaces the buffer contents. Only dynamic buffers are
// writeable.
func (b *Buffer) Set(data []byte) error {
	if b.Usage != BufferUsageDynamic {
		return errors.Wrap(ErrResourceNotWriteable, "buffer is not dynamic")
	}
	copy(b.mapped, data)
	return nil
}

// SetName attaches a debug name, surfaced in pipeline debug names and
// log records.
func (b *Buffer) SetName(name string) {
	b.name = name
}

func (b *Buffer) Name() string {
	return b.name
}

// SizeBytes returns the total byte size.
func (b *Buffer) SizeBytes() uint64 {
	return uint64(b.Count * b.Stride)
}

// Destroy releases the handle. Backend objects are freed once the
// current frame plus FramesInFlight have retired.
func (b *Buffer) Destroy() {
	if !b.IsValid() {
		return
	}
	b.valid = false
	if b.mapped != nil {
		b.Memory.Unmap()
		b.mapped = nil
	}
	b.queue.deferDestroy(Cmd{Op: CmdDestroyBuffer, Buffer: b.VKBuffer})
	b.queue.deferDestroy(Cmd{Op: CmdDestroyMemory, Memory: b.Memory.VKDeviceMemory})
	b.VKBuffer = vk.NullBuffer
}
