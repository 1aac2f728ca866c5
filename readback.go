package vkr

import (
	"sync/atomic"
	"unsafe"

	vk "github.com/vulkan-go/vulkan"
)

// Readback is a future for a texture download. It becomes ready once
// the frame that recorded the copy has retired on the GPU.
type Readback struct {
	Device *Device
	Format TexFormat
	Width  uint32
	Height uint32

	queue  *CmdQueue
	buffer vk.Buffer
	memory *DeviceMemory
	frame  uint64
	size   int
	data   []byte
	ready  atomic.Bool
	done   chan struct{}
}

func newReadback(d *Device, q *CmdQueue, format TexFormat, w, h uint32, size int) (*Readback, error) {
	rb := &Readback{
		Device: d,
		Format: format,
		Width:  w,
		Height: h,
		queue:  q,
		size:   size,
		done:   make(chan struct{}),
	}
	if d == nil {
		return rb, nil
	}
	buf, mem, err := d.allocBuffer(uint64(size),
		vk.BufferUsageFlags(vk.BufferUsageTransferDstBit),
		vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit|vk.MemoryPropertyHostCoherentBit))
	if err != nil {
		return nil, err
	}
	rb.buffer = buf
	rb.memory = mem
	return rb, nil
}

// Ready reports whether the pixels have arrived. It never blocks.
func (rb *Readback) Ready() bool {
	return rb.ready.Load()
}

// Wait blocks until the readback resolves. Callers driving the frame
// loop themselves should poll Ready instead; Wait from the render
// goroutine would deadlock.
func (rb *Readback) Wait() {
	<-rb.done
}

// Data returns the downloaded pixels, or nil while the readback is
// still in flight. The slice stays valid until Release.
func (rb *Readback) Data() []byte {
	if !rb.ready.Load() {
		return nil
	}
	return rb.data
}

// resolve is called by the command queue when the recording frame has
// retired.
func (rb *Readback) resolve() {
	if rb.memory != nil {
		ptr, err := rb.memory.Map()
		if err == nil {
			rb.data = unsafe.Slice((*byte)(ptr), rb.size)
		}
	}
	rb.ready.Store(true)
	close(rb.done)
}

// Release frees the staging buffer backing the pixel data.
func (rb *Readback) Release() {
	rb.data = nil
	if rb.buffer != vk.NullBuffer {
		rb.queue.deferDestroy(Cmd{Op: CmdDestroyBuffer, Buffer: rb.buffer})
		rb.buffer = vk.NullBuffer
	}
	if rb.memory != nil {
		rb.queue.deferDestroy(Cmd{Op: CmdDestroyMemory, Memory: rb.memory.VKDeviceMemory})
		rb.memory = nil
	}
}
