package vkr

import (
	"log/slog"
	"time"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/loov/hrtime"
	vk "github.com/vulkan-go/vulkan"
	"github.com/xlab/linmath"
)

// MaxViews is the number of simultaneous views a pass can render, two
// for stereo.
const MaxViews = 2

// fenceTimeout bounds frame fence waits; hitting it means the device
// hung or was lost.
const fenceTimeout = 4 * time.Second

// Reserved binding names the renderer fills in automatically.
const (
	// SystemBufferName is the per-frame view/projection constant
	// block.
	SystemBufferName = "SystemBuffer"
	// MaterialParamsName is the material's own parameter block.
	MaterialParamsName = "$Globals"
	// InstanceBufferName is the storage buffer of per-draw instances.
	InstanceBufferName = "Instances"
)

// ViewConstants is the camera block for one view.
type ViewConstants struct {
	View     linmath.Mat4x4
	Proj     linmath.Mat4x4
	ViewProj linmath.Mat4x4
	ViewInv  linmath.Mat4x4
	ProjInv  linmath.Mat4x4
}

// GlobalConstants is the system constant block bound to any shader
// slot named SystemBufferName.
type GlobalConstants struct {
	Views     [MaxViews]ViewConstants
	CamPos    [MaxViews]linmath.Vec4
	CamDir    [MaxViews]linmath.Vec4
	Time      float32
	ViewCount uint32
	_         [2]uint32
}

// RenderTarget is the attachment set for one pass.
type RenderTarget struct {
	Color *Texture
	// Depth is optional.
	Depth *Texture
	// Resolve receives the single-sample resolve of a multisampled
	// Color.
	Resolve *Texture

	Clear      bool
	ClearColor [4]float32
	ClearDepth float32

	// ViewCount > 1 renders all views in one multiview pass.
	ViewCount uint32

	// FinalLayout defaults to shader-read; swapchain targets use the
	// present layout.
	FinalLayout vk.ImageLayout
}

// FrameStats is a snapshot of the previous frame's cost.
type FrameStats struct {
	CPUTimeMs    float64
	GPUTimeMs    float64
	Draws        int
	Instances    int
	StagingBytes uint64
}

// RendererOptions tune renderer creation. Zero values pick defaults.
type RendererOptions struct {
	StagingSize uint64
	ParamSize   uint64
	Logger      *slog.Logger
}

type frameData struct {
	cb      *CommandBuffer
	fence   *Fence
	staging *StagingArena
	params  *StagingArena
	used    bool
}

type passState struct {
	active    bool
	target    *RenderTarget
	rpID      uint32
	width     uint32
	height    uint32
	viewCount uint32

	globalsOff uint64
	instOff    uint64
	instLen    uint64
	paramOffs  map[uint32]uint64
	boundPipe  vk.Pipeline
}

// Renderer owns the frame loop and every cache the resources hang off.
type Renderer struct {
	Device      *Device
	Commands    *CmdQueue
	Samplers    *SamplerCache
	Pipelines   *PipelineCache
	Descriptors *DescriptorRing

	GraphicsQueue *Queue
	ComputeQueue  *Queue

	log          *slog.Logger
	framebuffers *framebufferCache
	graphicsPool *CommandPool
	computePool  *CommandPool

	frames  []*frameData
	frame   uint64
	slot    int
	inFrame bool
	pass    passState
	passIDs map[RenderPassKey]uint32

	globals   GlobalConstants
	globalTex map[string]*Texture
	globalBuf map[string]*Buffer
	dummyTex  *Texture
	dummyBuf  *Buffer
	blitMesh  *Mesh
	blitList  RenderList

	queryPool  vk.QueryPool
	gpuTimeMs  float64
	stats      FrameStats
	lastStats  FrameStats
	frameStart time.Duration
}

// NewRenderer builds a renderer over an already created device.
func NewRenderer(device *Device, opts *RendererOptions) (*Renderer, error) {
	if opts == nil {
		opts = &RendererOptions{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	stagingSize := opts.StagingSize
	if stagingSize == 0 {
		stagingSize = DefaultStagingSize
	}
	paramSize := opts.ParamSize
	if paramSize == 0 {
		paramSize = uint64(8 << 20)
	}

	families, err := device.PhysicalDevice.QueueFamilies()
	if err != nil {
		return nil, err
	}
	graphicsFamilies := families.FilterGraphics()
	if len(graphicsFamilies) == 0 {
		return nil, errors.New("vkr: no graphics queue family")
	}
	computeFamilies := families.FilterCompute()
	if len(computeFamilies) == 0 {
		computeFamilies = graphicsFamilies
	}

	r := &Renderer{
		Device:    device,
		Commands:  NewCmdQueue(device, logger),
		log:       logger,
		passIDs:   map[RenderPassKey]uint32{},
		globalTex: map[string]*Texture{},
		globalBuf: map[string]*Buffer{},
	}
	r.GraphicsQueue = device.GetQueue(graphicsFamilies[0])
	r.ComputeQueue = device.GetQueue(computeFamilies[0])
	r.Samplers = newSamplerCache(device, r.Commands)
	if r.Pipelines, err = NewPipelineCache(device, r.Commands, logger); err != nil {
		return nil, err
	}
	r.Descriptors = NewDescriptorRing(device, logger)
	r.framebuffers = newFramebufferCache(device, r.Commands)

	if r.graphicsPool, err = device.CreateCommandPool(graphicsFamilies[0]); err != nil {
		return nil, err
	}
	if r.computePool, err = device.CreateCommandPool(computeFamilies[0]); err != nil {
		return nil, err
	}

	r.frames = make([]*frameData, FramesInFlight)
	for i := range r.frames {
		f := &frameData{}
		if f.cb, err = r.graphicsPool.AllocateBuffer(); err != nil {
			return nil, err
		}
		if f.fence, err = device.CreateFence(false); err != nil {
			return nil, err
		}
		if f.staging, err = device.CreateStagingArena(stagingSize); err != nil {
			return nil, err
		}
		if f.params, err = device.CreateParamArena(paramSize); err != nil {
			return nil, err
		}
		r.frames[i] = f
	}

	if device.Caps.TimestampQueries {
		info := vk.QueryPoolCreateInfo{
			SType:      vk.StructureTypeQueryPoolCreateInfo,
			QueryType:  vk.QueryTypeTimestamp,
			QueryCount: uint32(2 * FramesInFlight),
		}
		if err := vkErr(vk.CreateQueryPool(device.VKDevice, &info, nil, &r.queryPool)); err != nil {
			logger.Warn("timestamp query pool unavailable", "err", err)
			r.queryPool = vk.NullQueryPool
		}
	}

	if err := r.createDummies(); err != nil {
		return nil, err
	}

	r.globals.ViewCount = 1
	for i := range r.globals.Views {
		r.globals.Views[i].View.Identity()
		r.globals.Views[i].Proj.Identity()
		r.globals.Views[i].ViewProj.Identity()
	}
	return r, nil
}

// createDummies builds the fallbacks bound to slots no one set: a 1x1
// white texture and a zeroed constant buffer.
func (r *Renderer) createDummies() error {
	var err error
	r.dummyTex, err = r.CreateTexture(&TextureInfo{
		Format: TexFormatRGBA32Linear,
		Flags:  TexReadable,
		Width:  1, Height: 1,
		Data: []byte{255, 255, 255, 255},
		Name: "dummy/white",
	})
	if err != nil {
		return err
	}
	r.dummyBuf, err = r.CreateBuffer(make([]byte, 256), 1, 256, BufferTypeConstant, BufferUsageStatic)
	if err != nil {
		return err
	}
	r.dummyBuf.SetName("dummy/zero")
	return nil
}

// SetView sets one view's camera block. ViewProj is derived here.
func (r *Renderer) SetView(view int, viewMat, projMat linmath.Mat4x4, camPos, camDir linmath.Vec3) {
	v := &r.globals.Views[view]
	v.View = viewMat
	v.Proj = projMat
	v.ViewProj.Mult(&projMat, &viewMat)
	v.ViewInv.Invert(&viewMat)
	v.ProjInv.Invert(&projMat)
	r.globals.CamPos[view] = linmath.Vec4{camPos[0], camPos[1], camPos[2], 1}
	r.globals.CamDir[view] = linmath.Vec4{camDir[0], camDir[1], camDir[2], 0}
}

// SetGlobalConstants replaces the whole system block at once.
func (r *Renderer) SetGlobalConstants(g GlobalConstants) {
	r.globals = g
}

// Globals returns the system block for in-place edits before the next
// pass begins.
func (r *Renderer) Globals() *GlobalConstants {
	return &r.globals
}

// SetGlobalBuffer binds a buffer to every material slot with the
// given name, overriding per-material bindings. A nil buffer removes
// the override.
func (r *Renderer) SetGlobalBuffer(name string, b *Buffer) {
	if b == nil {
		delete(r.globalBuf, name)
		return
	}
	r.globalBuf[name] = b
}

// SetGlobalTexture binds a texture to every material slot with the
// given name, overriding per-material bindings. A nil texture removes
// the override.
func (r *Renderer) SetGlobalTexture(name string, t *Texture) {
	if t == nil {
		delete(r.globalTex, name)
		return
	}
	r.globalTex[name] = t
}

// FrameBegin opens a frame: waits for the in-flight slot, retires its
// deferred work and drains queued uploads into the frame's command
// buffer.
func (r *Renderer) FrameBegin() error {
	if r.inFrame {
		return errors.New("vkr: FrameBegin inside an open frame")
	}
	r.frameStart = hrtime.Now()
	r.stats = FrameStats{}
	r.slot = int(r.frame % uint64(FramesInFlight))
	f := r.frames[r.slot]

	if f.used {
		if err := r.Device.WaitForFences(true, fenceTimeout, f.fence); err != nil {
			return errors.Wrap(err, "waiting for frame fence")
		}
		f.fence.Reset()
		r.readFrameTimestamps()
	}
	r.Commands.Retire(r.frame)
	f.staging.Reset()
	f.params.Reset()
	r.Descriptors.NextFrame()

	if err := f.cb.Reset(); err != nil {
		return err
	}
	if err := f.cb.BeginOneTime(); err != nil {
		return err
	}
	if r.queryPool != vk.NullQueryPool {
		vk.CmdResetQueryPool(f.cb.VK(), r.queryPool, uint32(r.slot*2), 2)
		vk.CmdWriteTimestamp(f.cb.VK(), vk.PipelineStageTopOfPipeBit, r.queryPool, uint32(r.slot*2))
	}

	if err := r.Commands.DrainInto(f.cb, f.staging, r.frame); err != nil {
		return err
	}
	r.inFrame = true
	return nil
}

// readFrameTimestamps pulls the retired slot's GPU timestamps.
func (r *Renderer) readFrameTimestamps() {
	if r.queryPool == vk.NullQueryPool {
		return
	}
	var ticks [2]uint64
	res := vk.GetQueryPoolResults(r.Device.VKDevice, r.queryPool,
		uint32(r.slot*2), 2, uint(unsafe.Sizeof(ticks)), unsafe.Pointer(&ticks[0]),
		vk.DeviceSize(8), vk.QueryResultFlags(vk.QueryResult64Bit))
	if res == vk.Success && ticks[1] > ticks[0] {
		ns := float64(ticks[1]-ticks[0]) * float64(r.Device.Caps.TimestampPeriod)
		r.gpuTimeMs = ns / 1e6
	}
}

// BeginPass starts rendering into a target. Passes cannot nest.
func (r *Renderer) BeginPass(target *RenderTarget) error {
	if !r.inFrame {
		return errors.New("vkr: BeginPass outside a frame")
	}
	if r.pass.active {
		return ErrNestedPass
	}
	if target.Color == nil || !target.Color.IsValid() {
		return errors.Wrap(ErrInvalidAttachment, "pass needs a color target")
	}
	if target.Depth != nil && (target.Depth.Width != target.Color.Width || target.Depth.Height != target.Color.Height) {
		return errors.Wrap(ErrInvalidAttachment, "depth extent differs from color")
	}
	viewCount := target.ViewCount
	if viewCount == 0 {
		viewCount = 1
	}
	finalLayout := target.FinalLayout
	if finalLayout == vk.ImageLayoutUndefined {
		finalLayout = vk.ImageLayoutShaderReadOnlyOptimal
	}

	key := RenderPassKey{
		Color:       target.Color.Format,
		Samples:     target.Color.Samples,
		Resolve:     target.Resolve != nil,
		ClearColor:  target.Clear,
		ClearDepth:  target.Clear,
		ViewCount:   viewCount,
		FinalLayout: finalLayout,
	}
	if target.Depth != nil {
		key.Depth = target.Depth.Format
	}
	rpID, ok := r.passIDs[key]
	if !ok {
		var err error
		if rpID, err = r.Pipelines.RegisterRenderpass(key); err != nil {
			return err
		}
		r.passIDs[key] = rpID
	}
	pass := r.Pipelines.GetRenderpass(rpID)

	fbKey := framebufferKey{
		pass:   pass,
		color:  target.Color.VKView,
		width:  target.Color.Width,
		height: target.Color.Height,
		layers: 1,
	}
	if target.Depth != nil {
		fbKey.depth = target.Depth.VKView
	}
	if target.Resolve != nil {
		fbKey.resolve = target.Resolve.VKView
	}
	fb, err := r.framebuffers.get(fbKey)
	if err != nil {
		return err
	}

	f := r.frames[r.slot]
	if !target.Clear {
		// Loaded attachments must enter the pass in their attachment
		// layout; the pass declares that as its initial layout.
		if cur := target.Color.CurrentLayout(); cur != vk.ImageLayoutColorAttachmentOptimal {
			f.cb.TransitionImage(target.Color.VKImage, target.Color.Format.aspectMask(),
				cur, vk.ImageLayoutColorAttachmentOptimal, 0, target.Color.Mips, 0, target.Color.Layers)
		}
		if target.Depth != nil {
			if cur := target.Depth.CurrentLayout(); cur != vk.ImageLayoutDepthStencilAttachmentOptimal {
				f.cb.TransitionImage(target.Depth.VKImage, target.Depth.Format.aspectMask(),
					cur, vk.ImageLayoutDepthStencilAttachmentOptimal, 0, target.Depth.Mips, 0, target.Depth.Layers)
			}
		}
	}
	clears := []vk.ClearValue{}
	if target.Clear {
		var c vk.ClearValue
		c.SetColor(target.ClearColor[:])
		clears = append(clears, c)
		if target.Depth != nil {
			var d vk.ClearValue
			d.SetDepthStencil(target.ClearDepth, 0)
			clears = append(clears, d)
		}
	}
	begin := vk.RenderPassBeginInfo{
		SType:       vk.StructureTypeRenderPassBeginInfo,
		RenderPass:  pass,
		Framebuffer: fb,
		RenderArea: vk.Rect2D{
			Extent: vk.Extent2D{Width: target.Color.Width, Height: target.Color.Height},
		},
		ClearValueCount: uint32(len(clears)),
		PClearValues:    clears,
	}
	vk.CmdBeginRenderPass(f.cb.VK(), &begin, vk.SubpassContentsInline)

	r.pass = passState{
		active:    true,
		target:    target,
		rpID:      rpID,
		width:     target.Color.Width,
		height:    target.Color.Height,
		viewCount: viewCount,
		paramOffs: map[uint32]uint64{},
	}
	target.Color.setLayout(finalLayout)
	if target.Depth != nil {
		target.Depth.setLayout(vk.ImageLayoutDepthStencilAttachmentOptimal)
	}
	if target.Resolve != nil {
		target.Resolve.setLayout(finalLayout)
	}

	r.SetViewport(0, 0, float32(r.pass.width), float32(r.pass.height))
	r.SetScissor(0, 0, r.pass.width, r.pass.height)

	// One system block snapshot per pass.
	r.globals.ViewCount = viewCount
	off, window, err := f.params.Alloc(uint64(unsafe.Sizeof(r.globals)), r.Device.Caps.MinUniformOffsetAlign)
	if err != nil {
		return err
	}
	copy(window, structBytes(&r.globals))
	r.pass.globalsOff = off
	return nil
}

// SetViewport sets the active viewport, y-down.
func (r *Renderer) SetViewport(x, y, w, h float32) {
	f := r.frames[r.slot]
	vp := vk.Viewport{X: x, Y: y, Width: w, Height: h, MinDepth: 0, MaxDepth: 1}
	vk.CmdSetViewport(f.cb.VK(), 0, 1, []vk.Viewport{vp})
}

// SetScissor sets the active scissor rectangle.
func (r *Renderer) SetScissor(x, y int32, w, h uint32) {
	f := r.frames[r.slot]
	sc := vk.Rect2D{
		Offset: vk.Offset2D{X: x, Y: y},
		Extent: vk.Extent2D{Width: w, Height: h},
	}
	vk.CmdSetScissor(f.cb.VK(), 0, 1, []vk.Rect2D{sc})
}

// Draw sorts a render list and records its draws into the active
// pass.
func (r *Renderer) Draw(list *RenderList) error {
	if !r.pass.active {
		return ErrNoActivePass
	}
	if list.Len() == 0 {
		return nil
	}
	list.Sort()

	f := r.frames[r.slot]
	instData := list.InstanceData()
	instOff, window, err := f.params.Alloc(uint64(len(instData)), r.Device.Caps.MinUniformOffsetAlign)
	if err != nil {
		return err
	}
	copy(window, instData)
	r.pass.instOff = instOff

	var lastMesh *Mesh
	for i := range list.Draws() {
		rec := &list.Draws()[i]
		if err := r.drawOne(f, rec, lastMesh); err != nil {
			return err
		}
		lastMesh = rec.Mesh
		r.stats.Draws++
		r.stats.Instances += int(rec.InstanceCount)
	}
	return nil
}

func (r *Renderer) drawOne(f *frameData, rec *DrawRecord, lastMesh *Mesh) error {
	mat := rec.Material
	mesh := rec.Mesh
	cb := f.cb.VK()

	pipe, err := r.Pipelines.GetPipeline(mat.id, r.pass.rpID, mesh.formatID)
	if err != nil {
		return err
	}
	if pipe != r.pass.boundPipe {
		vk.CmdBindPipeline(cb, vk.PipelineBindPointGraphics, pipe)
		r.pass.boundPipe = pipe
	}

	layout := mat.Shader.Layout()
	binds, err := r.resolveBinds(f, mat, rec)
	if err != nil {
		return err
	}

	pipeLayout := r.Pipelines.GetLayout(mat.id)
	if layout.Push {
		writes, err := buildWrites(layout, binds, vk.NullDescriptorSet)
		if err != nil {
			return err
		}
		vk.CmdPushDescriptorSet(cb, vk.PipelineBindPointGraphics, pipeLayout,
			0, uint32(len(writes)), writes)
	} else {
		set, err := r.Descriptors.Acquire(mat.id, layout, binds)
		if err != nil {
			return err
		}
		vk.CmdBindDescriptorSets(cb, vk.PipelineBindPointGraphics, pipeLayout,
			0, 1, []vk.DescriptorSet{set}, 0, nil)
	}

	if mesh != lastMesh {
		vk.CmdBindVertexBuffers(cb, 0, 1, []vk.Buffer{mesh.verts.VKBuffer}, []vk.DeviceSize{0})
		if mesh.Indexed() {
			vk.CmdBindIndexBuffer(cb, mesh.inds.VKBuffer, 0, vk.IndexTypeUint32)
		}
	}
	if mesh.Indexed() {
		vk.CmdDrawIndexed(cb, uint32(mesh.IndexCount()), rec.InstanceCount, 0, 0, 0)
	} else {
		vk.CmdDraw(cb, uint32(mesh.VertexCount()), rec.InstanceCount, 0, 0)
	}
	return nil
}

// resolveBinds fills every slot of the material's layout: reserved
// names from frame state, then global overrides, then the material's
// own bindings, then dummies.
func (r *Renderer) resolveBinds(f *frameData, mat *Material, rec *DrawRecord) (*BindSet, error) {
	binds := NewBindSet()
	layout := mat.Shader.Layout()
	for _, slot := range layout.Slots {
		switch slot.Name {
		case SystemBufferName:
			binds.Buffers[slot.Slot] = BoundBuffer{
				Buffer: f.params.VKBuffer,
				Offset: r.pass.globalsOff,
				Size:   uint64(unsafe.Sizeof(r.globals)),
			}
			continue
		case MaterialParamsName:
			off, err := r.materialParamsOffset(f, mat)
			if err != nil {
				return nil, err
			}
			binds.Buffers[slot.Slot] = BoundBuffer{
				Buffer: f.params.VKBuffer,
				Offset: off,
				Size:   uint64(len(mat.params)),
			}
			continue
		case InstanceBufferName:
			binds.Buffers[slot.Slot] = BoundBuffer{
				Buffer: f.params.VKBuffer,
				Offset: r.pass.instOff + uint64(rec.InstanceOffset),
				Size:   uint64(rec.InstanceCount) * uint64(rec.InstanceStride),
			}
			continue
		}

		switch slot.Kind {
		case BindTexture, BindStorageImage:
			t := r.globalTex[slot.Name]
			if t == nil {
				t = mat.textures[slot.Slot]
			}
			if t == nil || !t.IsValid() {
				t = r.dummyTex
			}
			binds.Textures[slot.Slot] = BoundTexture{View: t.VKView, Sampler: t.Sampler()}
		default:
			if b := r.globalBuf[slot.Name]; b.IsValid() {
				binds.Buffers[slot.Slot] = BoundBuffer{Buffer: b.VKBuffer, Size: b.SizeBytes()}
			} else if b := mat.buffers[slot.Slot]; b.IsValid() {
				binds.Buffers[slot.Slot] = BoundBuffer{Buffer: b.VKBuffer, Size: b.SizeBytes()}
			} else {
				binds.Buffers[slot.Slot] = BoundBuffer{Buffer: r.dummyBuf.VKBuffer, Size: r.dummyBuf.SizeBytes()}
			}
		}
	}
	return binds, nil
}

// materialParamsOffset snapshots a material's parameter block into the
// frame arena, once per material per pass. The snapshot taken at the
// first draw of the pass wins.
func (r *Renderer) materialParamsOffset(f *frameData, mat *Material) (uint64, error) {
	if off, ok := r.pass.paramOffs[mat.id]; ok {
		return off, nil
	}
	size := uint64(len(mat.params))
	if size == 0 {
		size = 16
	}
	off, window, err := f.params.Alloc(size, r.Device.Caps.MinUniformOffsetAlign)
	if err != nil {
		return 0, err
	}
	copy(window, mat.params)
	r.pass.paramOffs[mat.id] = off
	return off, nil
}

// EndPass closes the active pass.
func (r *Renderer) EndPass() error {
	if !r.pass.active {
		return ErrNoActivePass
	}
	vk.CmdEndRenderPass(r.frames[r.slot].cb.VK())
	r.pass = passState{}
	return nil
}

// fullscreenTriangle covers clip space with a single triangle. The UVs
// run past 1 so the visible [0,1] range maps exactly onto the target.
func fullscreenTriangle() []Vertex {
	white := [4]uint8{255, 255, 255, 255}
	return []Vertex{
		{Pos: linmath.Vec3{-1, -1, 0}, Norm: linmath.Vec3{0, 0, -1}, UV: linmath.Vec2{0, 0}, Color: white},
		{Pos: linmath.Vec3{3, -1, 0}, Norm: linmath.Vec3{0, 0, -1}, UV: linmath.Vec2{2, 0}, Color: white},
		{Pos: linmath.Vec3{-1, 3, 0}, Norm: linmath.Vec3{0, 0, -1}, UV: linmath.Vec2{0, 2}, Color: white},
	}
}

// blitRect clamps a requested rectangle to the target extent. A zero
// width or height selects the whole target.
func blitRect(x, y int32, w, h, tw, th uint32) (int32, int32, uint32, uint32) {
	if w == 0 || h == 0 {
		return 0, 0, tw, th
	}
	x, w = clampAxis(x, w, tw)
	y, h = clampAxis(y, h, th)
	return x, y, w, h
}

func clampAxis(o int32, n, limit uint32) (int32, uint32) {
	if o < 0 {
		if cut := uint32(-o); cut < n {
			n -= cut
		} else {
			n = 0
		}
		o = 0
	}
	if uint32(o) >= limit {
		return o, 0
	}
	if uint32(o)+n > limit {
		n = limit - uint32(o)
	}
	return o, n
}

// Blit runs a material over a rectangle of target in its own pass,
// drawing a single fullscreen triangle. The target's previous contents
// outside the rectangle survive. Must be called between frame begin
// and end, outside any other pass.
func (r *Renderer) Blit(mat *Material, target *Texture, x, y int32, w, h uint32) error {
	if !r.inFrame {
		return errors.New("vkr: Blit outside a frame")
	}
	if r.pass.active {
		return errors.Wrap(ErrNestedPass, "Blit inside a pass")
	}
	if !mat.IsValid() || !target.IsValid() {
		return errors.Wrap(ErrInvalidAttachment, "blit needs a material and a target")
	}

	if r.blitMesh == nil {
		mesh, err := r.CreateMeshOf(fullscreenTriangle(), nil, BufferUsageStatic)
		if err != nil {
			return err
		}
		mesh.SetName("blit/fullscreen")
		r.blitMesh = mesh
	}

	x, y, w, h = blitRect(x, y, w, h, target.Width, target.Height)
	if w == 0 || h == 0 {
		return nil
	}

	if err := r.BeginPass(&RenderTarget{Color: target}); err != nil {
		return err
	}
	r.SetViewport(float32(x), float32(y), float32(w), float32(h))
	r.SetScissor(x, y, w, h)

	r.blitList.Clear()
	var inst Instance
	inst.Transform.Identity()
	inst.Color = [4]float32{1, 1, 1, 1}
	r.blitList.Add(mat, r.blitMesh, []Instance{inst})
	if err := r.Draw(&r.blitList); err != nil {
		r.EndPass()
		return err
	}
	return r.EndPass()
}

// CopyTexture copies src into dst with scaling, outside any pass. This
// is a raw transfer; Blit runs a material instead.
func (r *Renderer) CopyTexture(dst, src *Texture) error {
	if r.pass.active {
		return errors.Wrap(ErrNestedPass, "CopyTexture inside a pass")
	}
	return r.Commands.Enqueue(Cmd{
		Op:        CmdBlit,
		SrcImage:  src.VKImage,
		SrcWidth:  src.Width,
		SrcHeight: src.Height,
		Image:     dst.VKImage,
		Width:     dst.Width,
		Height:    dst.Height,
		Aspect:    src.Format.aspectMask(),
		OldLayout: src.CurrentLayout(),
		NewLayout: vk.ImageLayoutShaderReadOnlyOptimal,
		tex:       dst,
	})
}

// FrameEnd submits the frame's command buffer and advances the frame
// counter. Wait semaphores come from the surface when presenting.
func (r *Renderer) FrameEnd(waits []*Semaphore, signals []*Semaphore) error {
	if !r.inFrame {
		return errors.New("vkr: FrameEnd without FrameBegin")
	}
	if r.pass.active {
		if err := r.EndPass(); err != nil {
			return err
		}
		r.log.Warn("pass left open at FrameEnd")
	}
	f := r.frames[r.slot]

	if r.queryPool != vk.NullQueryPool {
		vk.CmdWriteTimestamp(f.cb.VK(), vk.PipelineStageBottomOfPipeBit, r.queryPool, uint32(r.slot*2+1))
	}
	if err := f.cb.End(); err != nil {
		return err
	}

	waitSems := make([]vk.Semaphore, len(waits))
	waitStages := make([]vk.PipelineStageFlags, len(waits))
	for i, s := range waits {
		waitSems[i] = s.VKSemaphore
		waitStages[i] = vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit)
	}
	signalSems := make([]vk.Semaphore, len(signals))
	for i, s := range signals {
		signalSems[i] = s.VKSemaphore
	}

	submit := vk.SubmitInfo{
		SType:                vk.StructureTypeSubmitInfo,
		WaitSemaphoreCount:   uint32(len(waitSems)),
		PWaitSemaphores:      waitSems,
		PWaitDstStageMask:    waitStages,
		CommandBufferCount:   1,
		PCommandBuffers:      []vk.CommandBuffer{f.cb.VK()},
		SignalSemaphoreCount: uint32(len(signalSems)),
		PSignalSemaphores:    signalSems,
	}

	QueueLock(r.GraphicsQueue.QueueFamily.Index)
	err := vkErr(vk.QueueSubmit(r.GraphicsQueue.VKQueue, 1, []vk.SubmitInfo{submit}, f.fence.VKFence))
	QueueUnlock(r.GraphicsQueue.QueueFamily.Index)
	if err != nil {
		return errors.Wrap(err, "submitting frame")
	}
	f.used = true

	r.stats.CPUTimeMs = (hrtime.Now() - r.frameStart).Seconds() * 1000
	r.stats.GPUTimeMs = r.gpuTimeMs
	r.stats.StagingBytes = f.staging.Used()
	r.lastStats = r.stats
	r.inFrame = false
	r.frame++
	return nil
}

// Frame is the number of frames submitted so far.
func (r *Renderer) Frame() uint64 {
	return r.frame
}

// GPUTimeMs is the GPU duration of the most recently retired frame, or
// zero when timestamps are unsupported.
func (r *Renderer) GPUTimeMs() float64 {
	return r.gpuTimeMs
}

// Stats is the previous frame's statistics snapshot.
func (r *Renderer) Stats() FrameStats {
	return r.lastStats
}

// Destroy drains the GPU and tears everything down in dependency
// order.
func (r *Renderer) Destroy() {
	r.Device.WaitIdle()

	if r.blitMesh != nil {
		r.blitMesh.Destroy()
	}
	r.dummyBuf.Destroy()
	r.dummyTex.Destroy()
	r.framebuffers.purge()
	for key, id := range r.passIDs {
		r.Pipelines.UnregisterRenderpass(id)
		delete(r.passIDs, key)
	}
	r.Pipelines.Destroy()
	r.Samplers.shutdown()
	r.Descriptors.Destroy()

	// Runs every deferred destroy immediately; nothing is in flight.
	r.Commands.Flush()

	if r.queryPool != vk.NullQueryPool {
		vk.DestroyQueryPool(r.Device.VKDevice, r.queryPool, nil)
	}
	for _, f := range r.frames {
		f.fence.Destroy()
		f.staging.Destroy()
		f.params.Destroy()
		r.graphicsPool.FreeBuffer(f.cb)
	}
	r.graphicsPool.Destroy()
	r.computePool.Destroy()
}
