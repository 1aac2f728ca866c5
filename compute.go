package vkr

import (
	"log/slog"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	vk "github.com/vulkan-go/vulkan"
)

// ComputeKernel wraps a compute shader with its bound resources.
// Execute submits synchronously on the compute queue, outside any
// render pass.
// kernelIDs allocates descriptor-cache identities for compute kernels.
// The high bit keeps them disjoint from material ids.
var kernelIDs atomic.Uint32

const kernelIDBit = uint32(1) << 31

type ComputeKernel struct {
	Shader *Shader

	renderer *Renderer
	id       uint32
	pipeline vk.Pipeline
	layout   vk.PipelineLayout
	binds    *BindSet
	textures map[uint32]*Texture
	params   *Buffer
	paramMem []byte
	log      *slog.Logger
	name     string
	valid    bool
}

// CreateComputeKernel builds a compute pipeline for a shader blob
// carrying a compute stage.
func (r *Renderer) CreateComputeKernel(shader *Shader) (*ComputeKernel, error) {
	if !shader.IsCompute() {
		return nil, errors.Newf("vkr: shader %q has no compute stage", shader.Name())
	}

	layoutInfo := vk.PipelineLayoutCreateInfo{
		SType:          vk.StructureTypePipelineLayoutCreateInfo,
		SetLayoutCount: 1,
		PSetLayouts:    []vk.DescriptorSetLayout{shader.Layout().VKLayout},
	}
	var layout vk.PipelineLayout
	if err := vkErr(vk.CreatePipelineLayout(r.Device.VKDevice, &layoutInfo, nil, &layout)); err != nil {
		return nil, err
	}

	info := vk.ComputePipelineCreateInfo{
		SType: vk.StructureTypeComputePipelineCreateInfo,
		Stage: vk.PipelineShaderStageCreateInfo{
			SType:  vk.StructureTypePipelineShaderStageCreateInfo,
			Stage:  vk.ShaderStageComputeBit,
			Module: shader.Module(StageCompute),
			PName:  safeString("main"),
		},
		Layout: layout,
	}
	pipelines := make([]vk.Pipeline, 1)
	err := vkErr(vk.CreateComputePipelines(r.Device.VKDevice, r.Pipelines.VKCache(), 1,
		[]vk.ComputePipelineCreateInfo{info}, nil, pipelines))
	if err != nil {
		vk.DestroyPipelineLayout(r.Device.VKDevice, layout, nil)
		return nil, errors.Wrapf(err, "compute kernel %q", shader.Name())
	}

	k := &ComputeKernel{
		Shader:   shader,
		renderer: r,
		id:       kernelIDs.Add(1) | kernelIDBit,
		pipeline: pipelines[0],
		layout:   layout,
		binds:    NewBindSet(),
		textures: map[uint32]*Texture{},
		log:      r.log,
		name:     shader.Name(),
		valid:    true,
	}

	if shader.Blob.ParamSize > 0 {
		k.paramMem = make([]byte, shader.Blob.ParamSize)
		buf, err := r.CreateBuffer(nil, int(shader.Blob.ParamSize), 1, BufferTypeConstant, BufferUsageDynamic)
		if err != nil {
			k.Destroy()
			return nil, err
		}
		k.params = buf
		if slot, ok := shader.Layout().Lookup(MaterialParamsName); ok {
			k.binds.Buffers[slot.Slot] = BoundBuffer{Buffer: buf.VKBuffer, Size: buf.SizeBytes()}
		}
	}
	return k, nil
}

func (k *ComputeKernel) IsValid() bool {
	return k != nil && k.valid
}

// SetTex binds a texture to the named storage image or sampler slot.
func (k *ComputeKernel) SetTex(name string, t *Texture) {
	slot, ok := k.Shader.Layout().Lookup(name)
	if !ok || (slot.Kind != BindStorageImage && slot.Kind != BindTexture) {
		k.log.Debug("kernel texture slot not found", "kernel", k.name, "slot", name)
		return
	}
	k.binds.Textures[slot.Slot] = BoundTexture{View: t.VKView, Sampler: t.Sampler()}
	k.textures[slot.Slot] = t
}

// SetParam writes raw bytes into the named parameter buffer field.
// Unknown names are ignored with a debug log.
func (k *ComputeKernel) SetParam(name string, value []byte) {
	for _, p := range k.Shader.Blob.Params {
		if p.Name != name {
			continue
		}
		n := min(len(value), int(p.Size))
		copy(k.paramMem[p.Offset:p.Offset+uint32(n)], value[:n])
		if k.params != nil {
			k.params.Set(k.paramMem)
		}
		return
	}
	k.log.Debug("kernel param not found", "kernel", k.name, "param", name)
}

// SetBuffer binds a buffer to the named constant or storage slot.
func (k *ComputeKernel) SetBuffer(name string, b *Buffer) {
	slot, ok := k.Shader.Layout().Lookup(name)
	if !ok || (slot.Kind != BindConstantBuffer && slot.Kind != BindStorageBuffer) {
		k.log.Debug("kernel buffer slot not found", "kernel", k.name, "slot", name)
		return
	}
	k.binds.Buffers[slot.Slot] = BoundBuffer{Buffer: b.VKBuffer, Size: b.SizeBytes()}
}

// Execute dispatches x*y*z workgroups and blocks until they finish.
// Storage textures are moved to the general layout for the dispatch
// and back to shader-read afterwards.
func (k *ComputeKernel) Execute(x, y, z uint32) error {
	r := k.renderer
	cb, err := r.computePool.AllocateBuffer()
	if err != nil {
		return err
	}
	defer r.computePool.FreeBuffer(cb)

	if err := cb.BeginOneTime(); err != nil {
		return err
	}
	if err := k.record(cb, x, y, z); err != nil {
		return err
	}
	if err := cb.End(); err != nil {
		return err
	}
	return r.ComputeQueue.SubmitWaitIdle(cb)
}

func (k *ComputeKernel) record(cb *CommandBuffer, x, y, z uint32) error {
	layout := k.Shader.Layout()
	for slot, t := range k.textures {
		if s, ok := layout.Lookup(slotName(layout, slot)); ok && s.Kind == BindStorageImage {
			cb.TransitionImage(t.VKImage, t.Format.aspectMask(),
				t.CurrentLayout(), vk.ImageLayoutGeneral, 0, t.Mips, 0, t.Layers)
			t.setLayout(vk.ImageLayoutGeneral)
		}
	}

	vk.CmdBindPipeline(cb.VK(), vk.PipelineBindPointCompute, k.pipeline)

	if layout.Push {
		writes, err := buildWrites(layout, k.binds, vk.NullDescriptorSet)
		if err != nil {
			return errors.Wrapf(err, "compute kernel %q", k.name)
		}
		vk.CmdPushDescriptorSet(cb.VK(), vk.PipelineBindPointCompute, k.layout,
			0, uint32(len(writes)), writes)
	} else {
		set, err := k.renderer.Descriptors.Acquire(k.id, layout, k.binds)
		if err != nil {
			return errors.Wrapf(err, "compute kernel %q", k.name)
		}
		vk.CmdBindDescriptorSets(cb.VK(), vk.PipelineBindPointCompute, k.layout,
			0, 1, []vk.DescriptorSet{set}, 0, nil)
	}

	vk.CmdDispatch(cb.VK(), x, y, z)

	for slot, t := range k.textures {
		if s, ok := layout.Lookup(slotName(layout, slot)); ok && s.Kind == BindStorageImage {
			cb.TransitionImage(t.VKImage, t.Format.aspectMask(),
				vk.ImageLayoutGeneral, vk.ImageLayoutShaderReadOnlyOptimal, 0, t.Mips, 0, t.Layers)
			t.setLayout(vk.ImageLayoutShaderReadOnlyOptimal)
		}
	}
	return nil
}

func slotName(layout *BindLayout, slot uint32) string {
	for _, s := range layout.Slots {
		if s.Slot == slot {
			return s.Name
		}
	}
	return ""
}

// dispatchMipChain downsamples mips 1..n of a storage-capable texture,
// one dispatch per level with a barrier between levels.
func (k *ComputeKernel) dispatchMipChain(t *Texture) error {
	if !t.Flags.has(TexCompute) {
		return errors.Wrap(ErrResourceNotWriteable, "texture lacks compute usage")
	}

	r := k.renderer
	cb, err := r.computePool.AllocateBuffer()
	if err != nil {
		return err
	}
	defer r.computePool.FreeBuffer(cb)

	views := make([]vk.ImageView, 0, t.Mips)
	defer func() {
		for _, v := range views {
			r.Commands.deferDestroy(Cmd{Op: CmdDestroyImageView, View: v})
		}
	}()
	mipView := func(mip uint32) (vk.ImageView, error) {
		info := vk.ImageViewCreateInfo{
			SType:    vk.StructureTypeImageViewCreateInfo,
			Image:    t.VKImage,
			ViewType: vk.ImageViewType2d,
			Format:   t.Format.VK(),
			SubresourceRange: vk.ImageSubresourceRange{
				AspectMask:   t.Format.aspectMask(),
				BaseMipLevel: mip,
				LevelCount:   1,
				LayerCount:   t.Layers,
			},
		}
		var view vk.ImageView
		if err := vkErr(vk.CreateImageView(r.Device.VKDevice, &info, nil, &view)); err != nil {
			return vk.NullImageView, err
		}
		views = append(views, view)
		return view, nil
	}

	if err := cb.BeginOneTime(); err != nil {
		return err
	}
	cb.TransitionImage(t.VKImage, t.Format.aspectMask(),
		t.CurrentLayout(), vk.ImageLayoutGeneral, 0, t.Mips, 0, t.Layers)

	layout := k.Shader.Layout()
	vk.CmdBindPipeline(cb.VK(), vk.PipelineBindPointCompute, k.pipeline)

	for mip := uint32(1); mip < t.Mips; mip++ {
		src, err := mipView(mip - 1)
		if err != nil {
			return err
		}
		dst, err := mipView(mip)
		if err != nil {
			return err
		}
		binds := NewBindSet()
		for _, s := range layout.Slots {
			switch s.Kind {
			case BindTexture:
				binds.Textures[s.Slot] = BoundTexture{View: src, Sampler: t.Sampler()}
			case BindStorageImage:
				binds.Textures[s.Slot] = BoundTexture{View: dst}
			}
		}
		writes, err := buildWrites(layout, binds, vk.NullDescriptorSet)
		if err != nil {
			return err
		}
		if layout.Push {
			vk.CmdPushDescriptorSet(cb.VK(), vk.PipelineBindPointCompute, k.layout,
				0, uint32(len(writes)), writes)
		} else {
			set, err := r.Descriptors.Acquire(k.id, layout, binds)
			if err != nil {
				return err
			}
			vk.CmdBindDescriptorSets(cb.VK(), vk.PipelineBindPointCompute, k.layout,
				0, 1, []vk.DescriptorSet{set}, 0, nil)
		}

		w := max(t.Width>>mip, 1)
		h := max(t.Height>>mip, 1)
		vk.CmdDispatch(cb.VK(), (w+7)/8, (h+7)/8, t.Layers)

		barrier := vk.MemoryBarrier{
			SType:         vk.StructureTypeMemoryBarrier,
			SrcAccessMask: vk.AccessFlags(vk.AccessShaderWriteBit),
			DstAccessMask: vk.AccessFlags(vk.AccessShaderReadBit),
		}
		vk.CmdPipelineBarrier(cb.VK(),
			vk.PipelineStageFlags(vk.PipelineStageComputeShaderBit),
			vk.PipelineStageFlags(vk.PipelineStageComputeShaderBit),
			0, 1, []vk.MemoryBarrier{barrier}, 0, nil, 0, nil)
	}

	cb.TransitionImage(t.VKImage, t.Format.aspectMask(),
		vk.ImageLayoutGeneral, vk.ImageLayoutShaderReadOnlyOptimal, 0, t.Mips, 0, t.Layers)
	t.setLayout(vk.ImageLayoutShaderReadOnlyOptimal)

	if err := cb.End(); err != nil {
		return err
	}
	return r.ComputeQueue.SubmitWaitIdle(cb)
}

// Destroy releases the pipeline and layout after the frame window.
func (k *ComputeKernel) Destroy() {
	if !k.IsValid() {
		return
	}
	k.valid = false
	if k.params != nil {
		k.params.Destroy()
	}
	k.renderer.Commands.deferDestroy(Cmd{Op: CmdDestroyPipeline, Pipeline: k.pipeline})
	k.renderer.Commands.deferDestroy(Cmd{Op: CmdDestroyPipelineLayout, PipelineLayout: k.layout})
}
