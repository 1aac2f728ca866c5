package vkr

import (
	"log/slog"

	"github.com/cockroachdb/errors"
	vk "github.com/vulkan-go/vulkan"
	"github.com/xlab/linmath"
)

// Cull selects which triangle winding is discarded.
type Cull uint8

const (
	CullBack Cull = iota
	CullFront
	CullNone
)

func (c Cull) VK() vk.CullModeFlags {
	switch c {
	case CullFront:
		return vk.CullModeFlags(vk.CullModeFrontBit)
	case CullNone:
		return vk.CullModeFlags(vk.CullModeNone)
	default:
		return vk.CullModeFlags(vk.CullModeBackBit)
	}
}

// DepthTest is the depth comparison for rasterized fragments.
type DepthTest uint8

const (
	DepthTestLess DepthTest = iota
	DepthTestLessEq
	DepthTestGreater
	DepthTestGreaterEq
	DepthTestEqual
	DepthTestNotEqual
	DepthTestAlways
	DepthTestNever
)

func (d DepthTest) VK() vk.CompareOp {
	switch d {
	case DepthTestLessEq:
		return vk.CompareOpLessOrEqual
	case DepthTestGreater:
		return vk.CompareOpGreater
	case DepthTestGreaterEq:
		return vk.CompareOpGreaterOrEqual
	case DepthTestEqual:
		return vk.CompareOpEqual
	case DepthTestNotEqual:
		return vk.CompareOpNotEqual
	case DepthTestAlways:
		return vk.CompareOpAlways
	case DepthTestNever:
		return vk.CompareOpNever
	default:
		return vk.CompareOpLess
	}
}

// BlendState is the full per-attachment blend equation.
type BlendState struct {
	Enabled  bool
	SrcColor vk.BlendFactor
	DstColor vk.BlendFactor
	ColorOp  vk.BlendOp
	SrcAlpha vk.BlendFactor
	DstAlpha vk.BlendFactor
	AlphaOp  vk.BlendOp
}

// BlendAlpha is standard premultiplied-style alpha blending.
func BlendAlpha() BlendState {
	return BlendState{
		Enabled:  true,
		SrcColor: vk.BlendFactorSrcAlpha,
		DstColor: vk.BlendFactorOneMinusSrcAlpha,
		ColorOp:  vk.BlendOpAdd,
		SrcAlpha: vk.BlendFactorOne,
		DstAlpha: vk.BlendFactorOneMinusSrcAlpha,
		AlphaOp:  vk.BlendOpAdd,
	}
}

// BlendAdditive accumulates color, for glows and particles.
func BlendAdditive() BlendState {
	return BlendState{
		Enabled:  true,
		SrcColor: vk.BlendFactorOne,
		DstColor: vk.BlendFactorOne,
		ColorOp:  vk.BlendOpAdd,
		SrcAlpha: vk.BlendFactorOne,
		DstAlpha: vk.BlendFactorOne,
		AlphaOp:  vk.BlendOpAdd,
	}
}

// StencilState is one face's stencil configuration.
type StencilState struct {
	Fail        vk.StencilOp
	Pass        vk.StencilOp
	DepthFail   vk.StencilOp
	Compare     vk.CompareOp
	CompareMask uint32
	WriteMask   uint32
}

// StencilReplace writes the reference value wherever the test passes.
func StencilReplace() StencilState {
	return StencilState{
		Fail:        vk.StencilOpKeep,
		Pass:        vk.StencilOpReplace,
		DepthFail:   vk.StencilOpKeep,
		Compare:     vk.CompareOpAlways,
		CompareMask: 0xff,
		WriteMask:   0xff,
	}
}

// ColorWriteAll enables every color channel.
const ColorWriteAll = vk.ColorComponentFlags(vk.ColorComponentRBit |
	vk.ColorComponentGBit | vk.ColorComponentBBit | vk.ColorComponentABit)

// MaterialState is the rasterizer and blend state a material bakes
// into its pipelines. It is part of the pipeline intern key, so two
// materials with the same shader and state share pipelines.
type MaterialState struct {
	Cull       Cull
	Wireframe  bool
	DepthTest  DepthTest
	DepthWrite bool
	// DepthClamp is honoured only when the device supports it.
	DepthClamp      bool
	Blend           BlendState
	ColorWriteMask  vk.ColorComponentFlags
	AlphaToCoverage bool
	StencilFront    StencilState
	StencilBack     StencilState
	// StencilRef is baked into the pipeline; materials needing a
	// different reference value get a separate pipeline.
	StencilRef     uint32
	StencilEnabled bool
}

// DefaultMaterialState is opaque back-face culled rendering with depth
// writes.
var DefaultMaterialState = MaterialState{
	Cull:           CullBack,
	DepthTest:      DepthTestLess,
	DepthWrite:     true,
	ColorWriteMask: ColorWriteAll,
}

// Material pairs a shader with pipeline state and a set of named
// resource bindings.
type Material struct {
	Shader *Shader
	State  MaterialState

	// QueueOffset shifts the material within the draw sort order
	// without affecting pipeline interning.
	QueueOffset int32

	id       uint32
	cache    *PipelineCache
	log      *slog.Logger
	params   []byte
	textures map[uint32]*Texture
	buffers  map[uint32]*Buffer
	name     string
	valid    bool
}

// CreateMaterial interns the shader/state pair in the pipeline cache
// and returns a material referencing it.
func (r *Renderer) CreateMaterial(shader *Shader, state MaterialState) (*Material, error) {
	if shader.IsCompute() {
		return nil, errors.Newf("vkr: shader %q is compute, use CreateComputeKernel", shader.Name())
	}
	id, err := r.Pipelines.RegisterMaterial(shader, state)
	if err != nil {
		return nil, err
	}
	return &Material{
		Shader:   shader,
		State:    state,
		id:       id,
		cache:    r.Pipelines,
		log:      r.log,
		params:   make([]byte, shader.Blob.ParamSize),
		textures: map[uint32]*Texture{},
		buffers:  map[uint32]*Buffer{},
		name:     shader.Name(),
		valid:    true,
	}, nil
}

// CreateCopy makes an independent material sharing the source's shader
// and pipelines, with its own parameter and binding tables.
func (m *Material) CreateCopy() (*Material, error) {
	id, err := m.cache.RegisterMaterial(m.Shader, m.State)
	if err != nil {
		return nil, err
	}
	cp := &Material{
		Shader:      m.Shader,
		State:       m.State,
		QueueOffset: m.QueueOffset,
		id:          id,
		cache:       m.cache,
		log:         m.log,
		params:      append([]byte(nil), m.params...),
		textures:    make(map[uint32]*Texture, len(m.textures)),
		buffers:     make(map[uint32]*Buffer, len(m.buffers)),
		name:        m.name + "/copy",
		valid:       true,
	}
	for k, v := range m.textures {
		cp.textures[k] = v
	}
	for k, v := range m.buffers {
		cp.buffers[k] = v
	}
	return cp, nil
}

func (m *Material) IsValid() bool {
	return m != nil && m.valid
}

// SetParam writes raw bytes into the named parameter buffer field.
// Unknown names are reported once at debug level and ignored.
func (m *Material) SetParam(name string, value []byte) {
	for _, p := range m.Shader.Blob.Params {
		if p.Name != name {
			continue
		}
		n := min(len(value), int(p.Size))
		copy(m.params[p.Offset:p.Offset+uint32(n)], value[:n])
		return
	}
	m.log.Debug("material param not found", "material", m.name, "param", name)
}

func (m *Material) SetFloat(name string, v float32) {
	m.SetParam(name, structBytes(&v))
}

func (m *Material) SetVec4(name string, v linmath.Vec4) {
	m.SetParam(name, structBytes(&v))
}

func (m *Material) SetMatrix(name string, v linmath.Mat4x4) {
	m.SetParam(name, structBytes(&v))
}

// SetTex binds a texture to the named sampler slot.
func (m *Material) SetTex(name string, t *Texture) {
	slot, ok := m.Shader.Layout().Lookup(name)
	if !ok || (slot.Kind != BindTexture && slot.Kind != BindStorageImage) {
		m.log.Debug("material texture slot not found", "material", m.name, "slot", name)
		return
	}
	m.textures[slot.Slot] = t
}

// SetBuffer binds a buffer to the named constant or storage slot.
func (m *Material) SetBuffer(name string, b *Buffer) {
	slot, ok := m.Shader.Layout().Lookup(name)
	if !ok || (slot.Kind != BindConstantBuffer && slot.Kind != BindStorageBuffer) {
		m.log.Debug("material buffer slot not found", "material", m.name, "slot", name)
		return
	}
	m.buffers[slot.Slot] = b
}

// Tex returns the texture bound to the named slot, if any.
func (m *Material) Tex(name string) *Texture {
	slot, ok := m.Shader.Layout().Lookup(name)
	if !ok {
		return nil
	}
	return m.textures[slot.Slot]
}

// Params is the CPU-side parameter buffer. The renderer snapshots it
// at draw time; the last write before the frame ends wins.
func (m *Material) Params() []byte {
	return m.params
}

func (m *Material) SetName(name string) { m.name = name }
func (m *Material) Name() string        { return m.name }

// Destroy drops the cache reference. Pipelines survive until every
// material sharing them is destroyed.
func (m *Material) Destroy() {
	if !m.IsValid() {
		return
	}
	m.valid = false
	m.cache.UnregisterMaterial(m.id)
	m.textures = nil
	m.buffers = nil
}
