package vkr

import (
	"log/slog"
	"sync"

	"github.com/cockroachdb/errors"
	vk "github.com/vulkan-go/vulkan"
)

const pipelineCacheInitialCap = 8

type materialSlot struct {
	refs   int
	shader *Shader
	state  MaterialState
	layout vk.PipelineLayout
}

type renderpassSlot struct {
	refs int
	key  RenderPassKey
	pass vk.RenderPass
}

type vertformatSlot struct {
	refs   int
	format VertexFormat
}

type materialKey struct {
	shader *Shader
	state  MaterialState
}

// PipelineCache interns material state, render passes and vertex
// formats, and lazily builds one graphics pipeline per live
// combination of the three. Registration is refcounted; freed slots
// are reused before the arrays grow.
type PipelineCache struct {
	device *Device
	queue  *CmdQueue
	log    *slog.Logger

	mu        sync.Mutex
	materials []*materialSlot
	passes    []*renderpassSlot
	formats   []*vertformatSlot
	matByKey  map[materialKey]uint32
	rpByKey   map[RenderPassKey]uint32
	vfByKey   map[string]uint32

	// grid holds len(materials)*len(passes)*len(formats) pipelines,
	// null until first use.
	grid         []vk.Pipeline
	oldPassCap   int
	oldFormatCap int

	// vkCache is the driver-level cache shared by every pipeline
	// build, compute included.
	vkCache vk.PipelineCache
}

func NewPipelineCache(d *Device, q *CmdQueue, logger *slog.Logger) (*PipelineCache, error) {
	c := &PipelineCache{
		device:   d,
		queue:    q,
		log:      logger,
		matByKey: map[materialKey]uint32{},
		rpByKey:  map[RenderPassKey]uint32{},
		vfByKey:  map[string]uint32{},
	}
	if d != nil {
		info := vk.PipelineCacheCreateInfo{SType: vk.StructureTypePipelineCacheCreateInfo}
		if err := vkErr(vk.CreatePipelineCache(d.VKDevice, &info, nil, &c.vkCache)); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// VKCache exposes the driver cache so compute pipelines share it.
func (c *PipelineCache) VKCache() vk.PipelineCache {
	return c.vkCache
}

func (c *PipelineCache) gridIndex(mat, rp, vf uint32) int {
	return (int(mat)*len(c.passes)+int(rp))*len(c.formats) + int(vf)
}

// allocSlot finds a free index in a slot array of length n, growing
// the cache grid when the array is full. grow doubles capacity.
func allocSlot[T any](slots *[]*T, c *PipelineCache) uint32 {
	for i, s := range *slots {
		if s == nil {
			return uint32(i)
		}
	}
	n := len(*slots)
	grown := max(n*2, pipelineCacheInitialCap)
	*slots = append(*slots, make([]*T, grown-n)...)
	c.rebuildGrid()
	return uint32(n)
}

// rebuildGrid resizes the pipeline grid after a capacity change.
// Existing pipelines keep their (mat, rp, vf) coordinates, so they are
// copied across rather than rebuilt.
func (c *PipelineCache) rebuildGrid() {
	old := c.grid
	oldPasses := c.oldPassCap
	oldFormats := c.oldFormatCap

	c.grid = make([]vk.Pipeline, len(c.materials)*len(c.passes)*len(c.formats))
	if old == nil {
		c.oldPassCap = len(c.passes)
		c.oldFormatCap = len(c.formats)
		return
	}
	for m := 0; m*oldPasses*oldFormats < len(old); m++ {
		for r := 0; r < oldPasses; r++ {
			for v := 0; v < oldFormats; v++ {
				p := old[(m*oldPasses+r)*oldFormats+v]
				if p != vk.NullPipeline {
					c.grid[c.gridIndex(uint32(m), uint32(r), uint32(v))] = p
				}
			}
		}
	}
	c.oldPassCap = len(c.passes)
	c.oldFormatCap = len(c.formats)
}

// RegisterMaterial interns a shader/state pair. A repeated
// registration returns the existing id with its refcount bumped.
func (c *PipelineCache) RegisterMaterial(shader *Shader, state MaterialState) (uint32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := materialKey{shader: shader, state: state}
	if id, ok := c.matByKey[key]; ok {
		c.materials[id].refs++
		return id, nil
	}

	var layout vk.PipelineLayout
	if c.device != nil {
		info := vk.PipelineLayoutCreateInfo{
			SType:          vk.StructureTypePipelineLayoutCreateInfo,
			SetLayoutCount: 1,
			PSetLayouts:    []vk.DescriptorSetLayout{shader.Layout().VKLayout},
		}
		if err := vkErr(vk.CreatePipelineLayout(c.device.VKDevice, &info, nil, &layout)); err != nil {
			return 0, errors.Wrapf(err, "material %q", shader.Name())
		}
	}

	id := allocSlot(&c.materials, c)
	c.materials[id] = &materialSlot{refs: 1, shader: shader, state: state, layout: layout}
	c.matByKey[key] = id
	return id, nil
}

// UnregisterMaterial drops one reference. The last reference frees the
// slot and schedules the material's pipelines and layout for deferred
// destruction.
func (c *PipelineCache) UnregisterMaterial(id uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	slot := c.materials[id]
	slot.refs--
	if slot.refs > 0 {
		return
	}
	for r := range c.passes {
		for v := range c.formats {
			c.dropPipeline(c.gridIndex(id, uint32(r), uint32(v)))
		}
	}
	if slot.layout != vk.NullPipelineLayout {
		c.queue.deferDestroy(Cmd{Op: CmdDestroyPipelineLayout, PipelineLayout: slot.layout})
	}
	delete(c.matByKey, materialKey{shader: slot.shader, state: slot.state})
	c.materials[id] = nil
}

// RegisterRenderpass interns a render pass key, creating the backend
// pass on first registration.
func (c *PipelineCache) RegisterRenderpass(key RenderPassKey) (uint32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if id, ok := c.rpByKey[key]; ok {
		c.passes[id].refs++
		return id, nil
	}

	var pass vk.RenderPass
	if c.device != nil {
		var err error
		if pass, err = createRenderPass(c.device, key); err != nil {
			return 0, err
		}
	}

	id := allocSlot(&c.passes, c)
	c.passes[id] = &renderpassSlot{refs: 1, key: key, pass: pass}
	c.rpByKey[key] = id
	return id, nil
}

func (c *PipelineCache) UnregisterRenderpass(id uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	slot := c.passes[id]
	slot.refs--
	if slot.refs > 0 {
		return
	}
	for m := range c.materials {
		for v := range c.formats {
			c.dropPipeline(c.gridIndex(uint32(m), id, uint32(v)))
		}
	}
	if slot.pass != vk.NullRenderPass {
		c.queue.deferDestroy(Cmd{Op: CmdDestroyRenderPass, RenderPass: slot.pass})
	}
	delete(c.rpByKey, slot.key)
	c.passes[id] = nil
}

// RegisterVertexFormat interns a vertex layout.
func (c *PipelineCache) RegisterVertexFormat(format VertexFormat) (uint32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := format.key()
	if id, ok := c.vfByKey[key]; ok {
		c.formats[id].refs++
		return id, nil
	}

	id := allocSlot(&c.formats, c)
	c.formats[id] = &vertformatSlot{refs: 1, format: format}
	c.vfByKey[key] = id
	return id, nil
}

func (c *PipelineCache) UnregisterVertexFormat(id uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	slot := c.formats[id]
	slot.refs--
	if slot.refs > 0 {
		return
	}
	for m := range c.materials {
		for r := range c.passes {
			c.dropPipeline(c.gridIndex(uint32(m), uint32(r), id))
		}
	}
	delete(c.vfByKey, slot.format.key())
	c.formats[id] = nil
}

func (c *PipelineCache) dropPipeline(idx int) {
	if idx >= len(c.grid) || c.grid[idx] == vk.NullPipeline {
		return
	}
	c.queue.deferDestroy(Cmd{Op: CmdDestroyPipeline, Pipeline: c.grid[idx]})
	c.grid[idx] = vk.NullPipeline
}

// GetRenderpass returns the backend pass for a registered id.
func (c *PipelineCache) GetRenderpass(id uint32) vk.RenderPass {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.passes[id].pass
}

// GetLayout returns the pipeline layout of a registered material.
func (c *PipelineCache) GetLayout(mat uint32) vk.PipelineLayout {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.materials[mat].layout
}

// GetDescriptorLayout returns the descriptor layout of a registered
// material's shader.
func (c *PipelineCache) GetDescriptorLayout(mat uint32) *BindLayout {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.materials[mat].shader.Layout()
}

// GetPipeline returns the pipeline for a (material, renderpass,
// vertex format) triple, building it on first use.
func (c *PipelineCache) GetPipeline(mat, rp, vf uint32) (vk.Pipeline, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	idx := c.gridIndex(mat, rp, vf)
	if p := c.grid[idx]; p != vk.NullPipeline {
		return p, nil
	}

	ms := c.materials[mat]
	rs := c.passes[rp]
	vs := c.formats[vf]
	p, err := c.buildPipeline(ms, rs, vs)
	if err != nil {
		return vk.NullPipeline, errors.Wrapf(err, "pipeline for material %q", ms.shader.Name())
	}
	c.grid[idx] = p
	c.log.Debug("pipeline built", "material", ms.shader.Name(), "renderpass", rp, "vertformat", vf)
	return p, nil
}

func (c *PipelineCache) buildPipeline(ms *materialSlot, rs *renderpassSlot, vs *vertformatSlot) (vk.Pipeline, error) {
	stages := []vk.PipelineShaderStageCreateInfo{
		{
			SType:  vk.StructureTypePipelineShaderStageCreateInfo,
			Stage:  vk.ShaderStageVertexBit,
			Module: ms.shader.Module(StageVertex),
			PName:  safeString("main"),
		},
		{
			SType:  vk.StructureTypePipelineShaderStageCreateInfo,
			Stage:  vk.ShaderStageFragmentBit,
			Module: ms.shader.Module(StagePixel),
			PName:  safeString("main"),
		},
	}

	attrs := make([]vk.VertexInputAttributeDescription, len(vs.format.Elements))
	for i, e := range vs.format.Elements {
		attrs[i] = vk.VertexInputAttributeDescription{
			Location: uint32(i),
			Binding:  0,
			Format:   e.Format,
			Offset:   e.Offset,
		}
	}
	vertexInput := vk.PipelineVertexInputStateCreateInfo{
		SType:                         vk.StructureTypePipelineVertexInputStateCreateInfo,
		VertexBindingDescriptionCount: 1,
		PVertexBindingDescriptions: []vk.VertexInputBindingDescription{{
			Binding:   0,
			Stride:    vs.format.Stride,
			InputRate: vk.VertexInputRateVertex,
		}},
		VertexAttributeDescriptionCount: uint32(len(attrs)),
		PVertexAttributeDescriptions:    attrs,
	}

	assembly := vk.PipelineInputAssemblyStateCreateInfo{
		SType:    vk.StructureTypePipelineInputAssemblyStateCreateInfo,
		Topology: vk.PrimitiveTopologyTriangleList,
	}

	viewport := vk.PipelineViewportStateCreateInfo{
		SType:         vk.StructureTypePipelineViewportStateCreateInfo,
		ViewportCount: 1,
		ScissorCount:  1,
	}

	polygonMode := vk.PolygonModeFill
	if ms.state.Wireframe {
		polygonMode = vk.PolygonModeLine
	}
	raster := vk.PipelineRasterizationStateCreateInfo{
		SType:       vk.StructureTypePipelineRasterizationStateCreateInfo,
		PolygonMode: polygonMode,
		CullMode:    ms.state.Cull.VK(),
		FrontFace:   vk.FrontFaceCounterClockwise,
		LineWidth:   1,
	}
	if ms.state.DepthClamp && c.device.Caps.DepthClamp {
		raster.DepthClampEnable = vk.True
	}

	multisample := vk.PipelineMultisampleStateCreateInfo{
		SType:                vk.StructureTypePipelineMultisampleStateCreateInfo,
		RasterizationSamples: rs.key.Samples,
	}
	if ms.state.AlphaToCoverage {
		multisample.AlphaToCoverageEnable = vk.True
	}

	depthWrite := vk.Bool32(vk.False)
	if ms.state.DepthWrite {
		depthWrite = vk.True
	}
	depth := vk.PipelineDepthStencilStateCreateInfo{
		SType:            vk.StructureTypePipelineDepthStencilStateCreateInfo,
		DepthTestEnable:  vk.True,
		DepthWriteEnable: depthWrite,
		DepthCompareOp:   ms.state.DepthTest.VK(),
	}
	if ms.state.StencilEnabled {
		depth.StencilTestEnable = vk.True
		depth.Front = stencilOpState(ms.state.StencilFront, ms.state.StencilRef)
		depth.Back = stencilOpState(ms.state.StencilBack, ms.state.StencilRef)
	}

	blend := vk.PipelineColorBlendAttachmentState{
		ColorWriteMask: ms.state.ColorWriteMask,
	}
	if ms.state.Blend.Enabled {
		blend.BlendEnable = vk.True
		blend.SrcColorBlendFactor = ms.state.Blend.SrcColor
		blend.DstColorBlendFactor = ms.state.Blend.DstColor
		blend.ColorBlendOp = ms.state.Blend.ColorOp
		blend.SrcAlphaBlendFactor = ms.state.Blend.SrcAlpha
		blend.DstAlphaBlendFactor = ms.state.Blend.DstAlpha
		blend.AlphaBlendOp = ms.state.Blend.AlphaOp
	}
	colorBlend := vk.PipelineColorBlendStateCreateInfo{
		SType:           vk.StructureTypePipelineColorBlendStateCreateInfo,
		AttachmentCount: 1,
		PAttachments:    []vk.PipelineColorBlendAttachmentState{blend},
	}

	dynamic := vk.PipelineDynamicStateCreateInfo{
		SType:             vk.StructureTypePipelineDynamicStateCreateInfo,
		DynamicStateCount: 2,
		PDynamicStates:    []vk.DynamicState{vk.DynamicStateViewport, vk.DynamicStateScissor},
	}

	info := vk.GraphicsPipelineCreateInfo{
		SType:               vk.StructureTypeGraphicsPipelineCreateInfo,
		StageCount:          uint32(len(stages)),
		PStages:             stages,
		PVertexInputState:   &vertexInput,
		PInputAssemblyState: &assembly,
		PViewportState:      &viewport,
		PRasterizationState: &raster,
		PMultisampleState:   &multisample,
		PDepthStencilState:  &depth,
		PColorBlendState:    &colorBlend,
		PDynamicState:       &dynamic,
		Layout:              ms.layout,
		RenderPass:          rs.pass,
	}

	pipelines := make([]vk.Pipeline, 1)
	err := vkErr(vk.CreateGraphicsPipelines(c.device.VKDevice, c.vkCache, 1,
		[]vk.GraphicsPipelineCreateInfo{info}, nil, pipelines))
	if err != nil {
		return vk.NullPipeline, err
	}
	return pipelines[0], nil
}

func stencilOpState(s StencilState, ref uint32) vk.StencilOpState {
	return vk.StencilOpState{
		FailOp:      s.Fail,
		PassOp:      s.Pass,
		DepthFailOp: s.DepthFail,
		CompareOp:   s.Compare,
		CompareMask: s.CompareMask,
		WriteMask:   s.WriteMask,
		Reference:   ref,
	}
}

// Destroy schedules every live pipeline and the driver cache for
// destruction. Registered slots stay valid for lookups but no new
// pipelines can be built.
func (c *PipelineCache) Destroy() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.grid {
		c.dropPipeline(i)
	}
	for _, m := range c.materials {
		if m != nil && m.layout != vk.NullPipelineLayout {
			c.queue.deferDestroy(Cmd{Op: CmdDestroyPipelineLayout, PipelineLayout: m.layout})
			m.layout = vk.NullPipelineLayout
		}
	}
	for _, r := range c.passes {
		if r != nil && r.pass != vk.NullRenderPass {
			c.queue.deferDestroy(Cmd{Op: CmdDestroyRenderPass, RenderPass: r.pass})
			r.pass = vk.NullRenderPass
		}
	}
	if c.vkCache != vk.NullPipelineCache {
		vk.DestroyPipelineCache(c.device.VKDevice, c.vkCache, nil)
		c.vkCache = vk.NullPipelineCache
	}
}
