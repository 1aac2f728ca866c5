package vkr

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/cockroachdb/errors"
	vk "github.com/vulkan-go/vulkan"
)

// Shader blobs carry pre-compiled SPIR-V stages together with a
// reflection table, so no shader compiler is needed at runtime.
//
//	"VKRS" magic, version uint32
//	name        (uint32 length + bytes)
//	paramSize   uint32
//	bindings    uint32 count, then per binding:
//	            name [64]byte nul-padded, kind, slot, stages (uint32 each)
//	params      uint32 count, then per param:
//	            name [64]byte nul-padded, offset, size (uint32 each)
//	stages      uint32 count, then per stage:
//	            stage uint32, code size uint32, SPIR-V words
//
// All integers are little-endian.
var shaderMagic = [4]byte{'V', 'K', 'R', 'S'}

const shaderVersion = 1
const shaderNameLen = 64

// ShaderStage is a bitmask of pipeline stages a binding is visible to.
type ShaderStage uint32

const (
	StageVertex ShaderStage = 1 << iota
	StagePixel
	StageCompute
)

func (s ShaderStage) VK() vk.ShaderStageFlagBits {
	var out vk.ShaderStageFlagBits
	if s&StageVertex != 0 {
		out |= vk.ShaderStageVertexBit
	}
	if s&StagePixel != 0 {
		out |= vk.ShaderStageFragmentBit
	}
	if s&StageCompute != 0 {
		out |= vk.ShaderStageComputeBit
	}
	return out
}

// BindKind tells what kind of resource a named slot expects.
type BindKind uint32

const (
	BindConstantBuffer BindKind = iota
	BindTexture
	BindStorageBuffer
	BindStorageImage
)

func (k BindKind) descriptorType() vk.DescriptorType {
	switch k {
	case BindConstantBuffer:
		return vk.DescriptorTypeUniformBuffer
	case BindTexture:
		return vk.DescriptorTypeCombinedImageSampler
	case BindStorageBuffer:
		return vk.DescriptorTypeStorageBuffer
	default:
		return vk.DescriptorTypeStorageImage
	}
}

// ShaderBinding is one named resource slot from the reflection table.
type ShaderBinding struct {
	Name   string
	Kind   BindKind
	Slot   uint32
	Stages ShaderStage
}

// ShaderParam is one field inside the material parameter buffer.
type ShaderParam struct {
	Name   string
	Offset uint32
	Size   uint32
}

// ShaderStageCode is one SPIR-V module from the blob.
type ShaderStageCode struct {
	Stage ShaderStage
	Code  []uint32
}

// ShaderBlob is the parsed, backend-independent form of a shader file.
type ShaderBlob struct {
	Name      string
	ParamSize uint32
	Bindings  []ShaderBinding
	Params    []ShaderParam
	Stages    []ShaderStageCode
}

type blobReader struct {
	buf *bytes.Reader
	err error
}

func (r *blobReader) u32() uint32 {
	var v uint32
	if r.err == nil {
		r.err = binary.Read(r.buf, binary.LittleEndian, &v)
	}
	return v
}

func (r *blobReader) name() string {
	var raw [shaderNameLen]byte
	if r.err == nil {
		_, r.err = io.ReadFull(r.buf, raw[:])
	}
	if i := bytes.IndexByte(raw[:], 0); i >= 0 {
		return string(raw[:i])
	}
	return string(raw[:])
}

// ParseShaderBlob decodes a "VKRS" shader file.
func ParseShaderBlob(data []byte) (*ShaderBlob, error) {
	if len(data) < 8 || !bytes.Equal(data[:4], shaderMagic[:]) {
		return nil, errors.New("vkr: not a shader blob")
	}
	r := &blobReader{buf: bytes.NewReader(data[4:])}

	if v := r.u32(); v != shaderVersion {
		return nil, errors.Newf("vkr: shader blob version %d, want %d", v, shaderVersion)
	}

	blob := &ShaderBlob{}
	nameLen := r.u32()
	if r.err == nil {
		raw := make([]byte, nameLen)
		_, r.err = io.ReadFull(r.buf, raw)
		blob.Name = string(raw)
	}
	blob.ParamSize = r.u32()

	for i, n := uint32(0), r.u32(); i < n && r.err == nil; i++ {
		b := ShaderBinding{Name: r.name()}
		b.Kind = BindKind(r.u32())
		b.Slot = r.u32()
		b.Stages = ShaderStage(r.u32())
		blob.Bindings = append(blob.Bindings, b)
	}

	for i, n := uint32(0), r.u32(); i < n && r.err == nil; i++ {
		p := ShaderParam{Name: r.name()}
		p.Offset = r.u32()
		p.Size = r.u32()
		blob.Params = append(blob.Params, p)
	}

	for i, n := uint32(0), r.u32(); i < n && r.err == nil; i++ {
		s := ShaderStageCode{Stage: ShaderStage(r.u32())}
		size := r.u32()
		if size%4 != 0 {
			return nil, errors.Newf("vkr: stage code size %d is not a word multiple", size)
		}
		code := make([]byte, size)
		if r.err == nil {
			_, r.err = io.ReadFull(r.buf, code)
		}
		s.Code = sliceUint32(code)
		blob.Stages = append(blob.Stages, s)
	}

	if r.err != nil {
		return nil, errors.Wrap(r.err, "truncated shader blob")
	}
	if len(blob.Stages) == 0 {
		return nil, errors.New("vkr: shader blob has no stages")
	}
	return blob, nil
}

// EncodeShaderBlob is the inverse of ParseShaderBlob. Asset pipelines
// use it to pack compiled SPIR-V with its reflection table.
func EncodeShaderBlob(blob *ShaderBlob) ([]byte, error) {
	var out bytes.Buffer
	out.Write(shaderMagic[:])
	w := func(v uint32) { binary.Write(&out, binary.LittleEndian, v) }
	name := func(s string) error {
		var raw [shaderNameLen]byte
		if len(s) >= shaderNameLen {
			return errors.Newf("vkr: name %q exceeds %d bytes", s, shaderNameLen-1)
		}
		copy(raw[:], s)
		out.Write(raw[:])
		return nil
	}

	w(shaderVersion)
	w(uint32(len(blob.Name)))
	out.WriteString(blob.Name)
	w(blob.ParamSize)

	w(uint32(len(blob.Bindings)))
	for _, b := range blob.Bindings {
		if err := name(b.Name); err != nil {
			return nil, err
		}
		w(uint32(b.Kind))
		w(b.Slot)
		w(uint32(b.Stages))
	}

	w(uint32(len(blob.Params)))
	for _, p := range blob.Params {
		if err := name(p.Name); err != nil {
			return nil, err
		}
		w(p.Offset)
		w(p.Size)
	}

	w(uint32(len(blob.Stages)))
	for _, s := range blob.Stages {
		w(uint32(s.Stage))
		w(uint32(len(s.Code) * 4))
		binary.Write(&out, binary.LittleEndian, s.Code)
	}
	return out.Bytes(), nil
}

// Shader owns per-stage modules plus the merged binding table used to
// build pipeline layouts.
type Shader struct {
	Device *Device
	Blob   *ShaderBlob

	queue   *CmdQueue
	modules map[ShaderStage]vk.ShaderModule
	layout  *BindLayout
	name    string
	valid   bool
}

// CreateShader parses a blob and creates its backend modules and
// descriptor layout.
func (r *Renderer) CreateShader(data []byte) (*Shader, error) {
	blob, err := ParseShaderBlob(data)
	if err != nil {
		return nil, err
	}
	return r.createShaderFromBlob(blob, nil)
}

// CreateShaderWithSamplers is CreateShader with immutable samplers
// baked into the named texture slots. Needed for YCbCr sampling, where
// the conversion must be part of the descriptor layout.
func (r *Renderer) CreateShaderWithSamplers(data []byte, immutable map[string]vk.Sampler) (*Shader, error) {
	blob, err := ParseShaderBlob(data)
	if err != nil {
		return nil, err
	}
	return r.createShaderFromBlob(blob, immutable)
}

func (r *Renderer) createShaderFromBlob(blob *ShaderBlob, immutable map[string]vk.Sampler) (*Shader, error) {
	layout, err := buildBindLayoutSamplers(r.Device, blob.Bindings, immutable)
	if err != nil {
		return nil, errors.Wrapf(err, "shader %q", blob.Name)
	}

	s := &Shader{
		Device:  r.Device,
		Blob:    blob,
		queue:   r.Commands,
		modules: make(map[ShaderStage]vk.ShaderModule, len(blob.Stages)),
		layout:  layout,
		name:    blob.Name,
		valid:   true,
	}

	for _, stage := range blob.Stages {
		info := vk.ShaderModuleCreateInfo{
			SType:    vk.StructureTypeShaderModuleCreateInfo,
			CodeSize: uint(len(stage.Code)) * 4,
			PCode:    stage.Code,
		}
		var module vk.ShaderModule
		if err := vkErr(vk.CreateShaderModule(r.Device.VKDevice, &info, nil, &module)); err != nil {
			s.Destroy()
			return nil, errors.Wrapf(err, "shader %q stage %x", blob.Name, stage.Stage)
		}
		s.modules[stage.Stage] = module
	}
	return s, nil
}

// Module returns the compiled module for one stage, or the null handle
// when the blob does not carry it.
func (s *Shader) Module(stage ShaderStage) vk.ShaderModule {
	return s.modules[stage]
}

// IsCompute reports whether the blob carries a compute stage.
func (s *Shader) IsCompute() bool {
	_, ok := s.modules[StageCompute]
	return ok
}

// Layout is the merged binding layout for this shader.
func (s *Shader) Layout() *BindLayout {
	return s.layout
}

func (s *Shader) IsValid() bool {
	return s != nil && s.valid
}

func (s *Shader) SetName(name string) { s.name = name }
func (s *Shader) Name() string        { return s.name }

// Destroy releases the modules and layout after the frame window.
func (s *Shader) Destroy() {
	if !s.IsValid() && len(s.modules) == 0 {
		return
	}
	s.valid = false
	for _, m := range s.modules {
		s.queue.deferDestroy(Cmd{Op: CmdDestroyShaderModule, ShaderModule: m})
	}
	s.modules = nil
	if s.layout != nil {
		s.layout.destroy(s.queue)
		s.layout = nil
	}
}
