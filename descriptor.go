package vkr

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/cockroachdb/errors"
	vk "github.com/vulkan-go/vulkan"
)

const (
	descPoolMaxSets  = 512
	descPoolUniforms = 1024
	descPoolSamplers = 1024
	descPoolStorage  = 256
)

// BoundBuffer is a buffer range bound to a descriptor slot.
type BoundBuffer struct {
	Buffer vk.Buffer
	Offset uint64
	Size   uint64
}

// BoundTexture is an image view plus sampler bound to a slot.
type BoundTexture struct {
	View    vk.ImageView
	Sampler vk.Sampler
}

// BindSet is the resolved resource set for one draw: every slot of the
// shader's layout mapped to a concrete backend object.
type BindSet struct {
	Buffers  map[uint32]BoundBuffer
	Textures map[uint32]BoundTexture
}

func NewBindSet() *BindSet {
	return &BindSet{
		Buffers:  map[uint32]BoundBuffer{},
		Textures: map[uint32]BoundTexture{},
	}
}

func (s *BindSet) Reset() {
	clear(s.Buffers)
	clear(s.Textures)
}

// fingerprint identifies a (material, bindings) combination within one
// frame, so identical draws share a descriptor set.
func (s *BindSet) fingerprint(mat uint32, layout *BindLayout) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d", mat)
	for _, slot := range layout.Slots {
		switch slot.Kind {
		case BindTexture, BindStorageImage:
			t := s.Textures[slot.Slot]
			fmt.Fprintf(&b, "|%d:%v:%v", slot.Slot, t.View, t.Sampler)
		default:
			buf := s.Buffers[slot.Slot]
			fmt.Fprintf(&b, "|%d:%v:%d:%d", slot.Slot, buf.Buffer, buf.Offset, buf.Size)
		}
	}
	return b.String()
}

// buildWrites produces the descriptor writes for a bind set. dstSet is
// the null handle on the push descriptor path. Slots with no bound
// resource return ErrShaderBindingMissing.
func buildWrites(layout *BindLayout, s *BindSet, dstSet vk.DescriptorSet) ([]vk.WriteDescriptorSet, error) {
	writes := make([]vk.WriteDescriptorSet, 0, len(layout.Slots))
	for _, slot := range layout.Slots {
		w := vk.WriteDescriptorSet{
			SType:           vk.StructureTypeWriteDescriptorSet,
			DstSet:          dstSet,
			DstBinding:      slot.Slot,
			DescriptorCount: 1,
			DescriptorType:  slot.Kind.descriptorType(),
		}
		switch slot.Kind {
		case BindTexture, BindStorageImage:
			t, ok := s.Textures[slot.Slot]
			if !ok {
				return nil, errors.Wrapf(ErrShaderBindingMissing, "texture slot %q", slot.Name)
			}
			imageLayout := vk.ImageLayoutShaderReadOnlyOptimal
			if slot.Kind == BindStorageImage {
				imageLayout = vk.ImageLayoutGeneral
			}
			w.PImageInfo = []vk.DescriptorImageInfo{{
				Sampler:     t.Sampler,
				ImageView:   t.View,
				ImageLayout: imageLayout,
			}}
		default:
			buf, ok := s.Buffers[slot.Slot]
			if !ok {
				return nil, errors.Wrapf(ErrShaderBindingMissing, "buffer slot %q", slot.Name)
			}
			w.PBufferInfo = []vk.DescriptorBufferInfo{{
				Buffer: buf.Buffer,
				Offset: vk.DeviceSize(buf.Offset),
				Range:  vk.DeviceSize(buf.Size),
			}}
		}
		writes = append(writes, w)
	}
	return writes, nil
}

type descFrame struct {
	pools  []vk.DescriptorPool
	active int
	sets   map[string]vk.DescriptorSet
}

// DescriptorRing hands out descriptor sets that live exactly one
// frame. Each ring frame owns its pools; advancing onto a frame resets
// them wholesale, which is why sets must not outlive the frame that
// allocated them.
type DescriptorRing struct {
	device *Device
	log    *slog.Logger
	frames []descFrame
	cur    int
}

func NewDescriptorRing(d *Device, logger *slog.Logger) *DescriptorRing {
	r := &DescriptorRing{
		device: d,
		log:    logger,
		frames: make([]descFrame, FramesInFlight),
	}
	for i := range r.frames {
		r.frames[i].sets = map[string]vk.DescriptorSet{}
	}
	return r
}

func (r *DescriptorRing) createPool() (vk.DescriptorPool, error) {
	sizes := []vk.DescriptorPoolSize{
		{Type: vk.DescriptorTypeUniformBuffer, DescriptorCount: descPoolUniforms},
		{Type: vk.DescriptorTypeCombinedImageSampler, DescriptorCount: descPoolSamplers},
		{Type: vk.DescriptorTypeStorageBuffer, DescriptorCount: descPoolStorage},
		{Type: vk.DescriptorTypeStorageImage, DescriptorCount: descPoolStorage},
	}
	info := vk.DescriptorPoolCreateInfo{
		SType:         vk.StructureTypeDescriptorPoolCreateInfo,
		MaxSets:       descPoolMaxSets,
		PoolSizeCount: uint32(len(sizes)),
		PPoolSizes:    sizes,
	}
	var pool vk.DescriptorPool
	if err := vkErr(vk.CreateDescriptorPool(r.device.VKDevice, &info, nil, &pool)); err != nil {
		return vk.NullDescriptorPool, err
	}
	return pool, nil
}

// NextFrame advances the ring and recycles the pools of the frame it
// lands on. The caller guarantees that frame's GPU work has retired.
func (r *DescriptorRing) NextFrame() {
	r.cur = (r.cur + 1) % len(r.frames)
	f := &r.frames[r.cur]
	for _, pool := range f.pools {
		vk.ResetDescriptorPool(r.device.VKDevice, pool, 0)
	}
	f.active = 0
	clear(f.sets)
}

// Acquire returns a descriptor set for the given material and bind
// set, reusing the frame's earlier set when the combination repeats.
func (r *DescriptorRing) Acquire(mat uint32, layout *BindLayout, binds *BindSet) (vk.DescriptorSet, error) {
	f := &r.frames[r.cur]
	key := binds.fingerprint(mat, layout)
	if set, ok := f.sets[key]; ok {
		return set, nil
	}

	set, err := r.alloc(f, layout.VKLayout)
	if err != nil {
		return vk.NullDescriptorSet, err
	}

	writes, err := buildWrites(layout, binds, set)
	if err != nil {
		return vk.NullDescriptorSet, err
	}
	vk.UpdateDescriptorSets(r.device.VKDevice, uint32(len(writes)), writes, 0, nil)

	f.sets[key] = set
	return set, nil
}

func (r *DescriptorRing) alloc(f *descFrame, layout vk.DescriptorSetLayout) (vk.DescriptorSet, error) {
	for {
		if f.active == len(f.pools) {
			pool, err := r.createPool()
			if err != nil {
				return vk.NullDescriptorSet, err
			}
			f.pools = append(f.pools, pool)
			r.log.Debug("descriptor pool added", "frame", r.cur, "pools", len(f.pools))
		}

		info := vk.DescriptorSetAllocateInfo{
			SType:              vk.StructureTypeDescriptorSetAllocateInfo,
			DescriptorPool:     f.pools[f.active],
			DescriptorSetCount: 1,
			PSetLayouts:        []vk.DescriptorSetLayout{layout},
		}
		sets := make([]vk.DescriptorSet, 1)
		res := vk.AllocateDescriptorSets(r.device.VKDevice, &info, &sets[0])
		switch res {
		case vk.Success:
			return sets[0], nil
		case vk.ErrorOutOfPoolMemory, vk.ErrorFragmentedPool:
			// Pool exhausted, move to the next one.
			f.active++
		default:
			return vk.NullDescriptorSet, vkErr(res)
		}
	}
}

// Destroy frees every pool. The caller must have drained the device
// first.
func (r *DescriptorRing) Destroy() {
	for i := range r.frames {
		for _, pool := range r.frames[i].pools {
			vk.DestroyDescriptorPool(r.device.VKDevice, pool, nil)
		}
		r.frames[i].pools = nil
		clear(r.frames[i].sets)
	}
}
