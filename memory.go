package vkr

import (
	"fmt"
	"sync/atomic"
	"unsafe"

	vk "github.com/vulkan-go/vulkan"
)

// DeviceMemory wraps vk.DeviceMemory, host or device local.
type DeviceMemory struct {
	Device         *Device
	VKDeviceMemory vk.DeviceMemory
	Size           uint64
	MapCount       int32
	Ptr            unsafe.Pointer
}

// IsMapped returns true while the memory holds at least one mapping.
func (d *DeviceMemory) IsMapped() bool {
	return atomic.LoadInt32(&d.MapCount) > 0
}

func (d *DeviceMemory) Destroy() {
	vk.FreeMemory(d.Device.VKDevice, d.VKDeviceMemory, nil)
}

// Map maps the entirety of this memory.
func (d *DeviceMemory) Map() (unsafe.Pointer, error) {
	var res unsafe.Pointer
	if err := vk.Error(vk.MapMemory(d.Device.VKDevice, d.VKDeviceMemory, 0, vk.DeviceSize(d.Size), 0, &res)); err != nil {
		return nil, err
	}
	atomic.AddInt32(&d.MapCount, 1)
	d.Ptr = res
	return res, nil
}

func (d *DeviceMemory) Unmap() {
	d.Ptr = nil
	vk.UnmapMemory(d.Device.VKDevice, d.VKDeviceMemory)
	atomic.AddInt32(&d.MapCount, -1)
}

// Allocation is a sub-range of an allocator's backing store.
type Allocation struct {
	Offset uint64
	Size   uint64
}

func (a *Allocation) String() string {
	return fmt.Sprintf("[%d %d]", a.Offset, a.Size)
}

// Allocator hands out sub-ranges of a fixed-size backing store.
type Allocator interface {
	Allocate(size uint64, align uint64) *Allocation
	Free(a *Allocation)
}

// LinearAllocator is a first-fit free-range allocator over a fixed
// size. The allocation list is kept sorted by offset.
type LinearAllocator struct {
	Size   uint64
	allocs []*Allocation
}

func (p *LinearAllocator) Free(fa *Allocation) {
	for i, a := range p.allocs {
		if a == fa {
			p.allocs = append(p.allocs[:i], p.allocs[i+1:]...)
			return
		}
	}
}

func (p *LinearAllocator) Allocate(size uint64, align uint64) *Allocation {
	if align == 0 {
		align = 1
	}
	if len(p.allocs) == 0 {
		if size > p.Size {
			return nil
		}
		na := &Allocation{Offset: 0, Size: size}
		p.allocs = append(p.allocs, na)
		return na
	}

	// Head gap.
	if p.allocs[0].Offset >= size {
		na := &Allocation{Offset: 0, Size: size}
		p.allocs = append([]*Allocation{na}, p.allocs...)
		return na
	}

	// Gaps between neighbours.
	for i := 0; i+1 < len(p.allocs); i++ {
		c := p.allocs[i]
		n := p.allocs[i+1]
		l := alignUp(c.Offset+c.Size, align)
		if n.Offset >= l && n.Offset-l >= size {
			na := &Allocation{Offset: l, Size: size}
			p.allocs = append(p.allocs[:i+1], append([]*Allocation{na}, p.allocs[i+1:]...)...)
			return na
		}
	}

	// Tail.
	last := p.allocs[len(p.allocs)-1]
	nl := alignUp(last.Offset+last.Size, align)
	if p.Size >= nl && p.Size-nl >= size {
		na := &Allocation{Offset: nl, Size: size}
		p.allocs = append(p.allocs, na)
		return na
	}
	return nil
}

// Reset drops every allocation at once, recycling the full range. The
// staging arenas use this at the top of each frame.
func (p *LinearAllocator) Reset() {
	p.allocs = p.allocs[:0]
}

// Used reports the high-water offset of the live allocations.
func (p *LinearAllocator) Used() uint64 {
	if len(p.allocs) == 0 {
		return 0
	}
	last := p.allocs[len(p.allocs)-1]
	return last.Offset + last.Size
}

func (p *LinearAllocator) String() string {
	return fmt.Sprintf("%v", p.allocs)
}

// allocBuffer creates a vk.Buffer with dedicated memory. Destruction is
// expected to go through the command queue as deferred destroy records.
func (d *Device) allocBuffer(size uint64, usage vk.BufferUsageFlags, props vk.MemoryPropertyFlags) (vk.Buffer, *DeviceMemory, error) {
	bufferCreateInfo := vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        vk.DeviceSize(size),
		Usage:       usage,
		SharingMode: vk.SharingModeExclusive,
	}

	var buffer vk.Buffer
	if err := vkErr(vk.CreateBuffer(d.VKDevice, &bufferCreateInfo, nil, &buffer)); err != nil {
		return vk.NullBuffer, nil, err
	}

	var mr vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(d.VKDevice, buffer, &mr)
	mr.Deref()

	mem, err := d.Allocate(int(mr.Size), mr.MemoryTypeBits, props)
	if err != nil {
		vk.DestroyBuffer(d.VKDevice, buffer, nil)
		return vk.NullBuffer, nil, err
	}

	if err := vkErr(vk.BindBufferMemory(d.VKDevice, buffer, mem.VKDeviceMemory, 0)); err != nil {
		vk.DestroyBuffer(d.VKDevice, buffer, nil)
		mem.Destroy()
		return vk.NullBuffer, nil, err
	}

	return buffer, mem, nil
}

// allocImage creates a vk.Image with dedicated memory.
func (d *Device) allocImage(info *vk.ImageCreateInfo) (vk.Image, *DeviceMemory, error) {
	var image vk.Image
	if err := vkErr(vk.CreateImage(d.VKDevice, info, nil, &image)); err != nil {
		return vk.NullImage, nil, err
	}

	var mr vk.MemoryRequirements
	vk.GetImageMemoryRequirements(d.VKDevice, image, &mr)
	mr.Deref()

	mem, err := d.Allocate(int(mr.Size), mr.MemoryTypeBits, vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit))
	if err != nil {
		vk.DestroyImage(d.VKDevice, image, nil)
		return vk.NullImage, nil, err
	}

	if err := vkErr(vk.BindImageMemory(d.VKDevice, image, mem.VKDeviceMemory, 0)); err != nil {
		vk.DestroyImage(d.VKDevice, image, nil)
		mem.Destroy()
		return vk.NullImage, nil, err
	}

	return image, mem, nil
}
