package vkr

import (
	"sync/atomic"

	"github.com/cockroachdb/errors"
	vk "github.com/vulkan-go/vulkan"
)

// TexFlags describe how a texture is created and used.
type TexFlags uint32

const (
	// TexWriteable makes the texture usable as a render target.
	TexWriteable TexFlags = 1 << iota
	// TexReadable makes the texture sampleable from shaders.
	TexReadable
	// TexDynamic allows SetData after creation.
	TexDynamic
	// TexCompute makes the texture usable as a storage image.
	TexCompute
	TexArray
	TexCubemap
	Tex3D
	// TexGenMips requests automatic mip generation after uploads.
	TexGenMips
)

// TextureInfo are the creation parameters for CreateTexture.
type TextureInfo struct {
	Format  TexFormat
	Flags   TexFlags
	Sampler SamplerKey
	Width   uint32
	Height  uint32
	// Layers defaults to 1; TexArray requires >= 2, TexCubemap
	// requires exactly 6.
	Layers uint32
	// Samples defaults to 1.
	Samples vk.SampleCountFlagBits
	// Mips is a hint; 0 means the full chain when TexGenMips is set,
	// otherwise a single level.
	Mips int
	// Data, when set, is tightly packed mip 0 pixels for every layer.
	Data []byte
	Name string
}

// Texture is a typed image handle. The tracked layout always reflects
// the layout as of the last executed command record.
type Texture struct {
	Device  *Device
	VKImage vk.Image
	VKView  vk.ImageView
	Memory  *DeviceMemory
	Format  TexFormat
	Width   uint32
	Height  uint32
	Layers  uint32
	Mips    uint32
	Samples vk.SampleCountFlagBits
	Flags   TexFlags

	queue      *CmdQueue
	samplers   *SamplerCache
	samplerKey SamplerKey
	sampler    vk.Sampler
	layout     atomic.Int32
	name       string
	valid      bool
	// borrowed images belong to the swapchain; Destroy only frees the
	// view.
	borrowed bool
}

func (f TexFlags) has(bit TexFlags) bool { return f&bit != 0 }

func (info *TextureInfo) usage() vk.ImageUsageFlags {
	usage := vk.ImageUsageFlags(vk.ImageUsageTransferSrcBit | vk.ImageUsageTransferDstBit)
	if info.Flags.has(TexReadable) {
		usage |= vk.ImageUsageFlags(vk.ImageUsageSampledBit)
	}
	if info.Flags.has(TexWriteable) {
		if info.Format.IsDepth() {
			usage |= vk.ImageUsageFlags(vk.ImageUsageDepthStencilAttachmentBit)
		} else {
			usage |= vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit)
		}
	}
	if info.Flags.has(TexCompute) {
		usage |= vk.ImageUsageFlags(vk.ImageUsageStorageBit)
	}
	return usage
}

func (info *TextureInfo) validate() error {
	if info.Width == 0 || info.Height == 0 {
		return errors.Wrap(ErrInvalidAttachment, "zero extent")
	}
	if info.Layers == 0 {
		info.Layers = 1
	}
	if info.Samples == 0 {
		info.Samples = vk.SampleCount1Bit
	}
	if info.Flags.has(TexArray) && info.Layers < 2 {
		return errors.Newf("vkr: array texture needs >= 2 layers, got %d", info.Layers)
	}
	if info.Flags.has(TexCubemap) && info.Layers != 6 {
		return errors.Newf("vkr: cubemap needs 6 layers, got %d", info.Layers)
	}
	if info.Samples > vk.SampleCount1Bit && info.Flags.has(TexReadable) && !info.Flags.has(TexWriteable) {
		return errors.New("vkr: multisampled texture cannot be readable without a resolve target")
	}
	return nil
}

func (info *TextureInfo) mipCount() uint32 {
	if info.Mips > 0 {
		return uint32(info.Mips)
	}
	if info.Flags.has(TexGenMips) {
		return uint32(mipChainLength(info.Width, info.Height))
	}
	return 1
}

// CreateTexture creates a texture and uploads the optional initial
// data on the next frame drain.
func (r *Renderer) CreateTexture(info *TextureInfo) (*Texture, error) {
	if err := info.validate(); err != nil {
		return nil, err
	}
	mips := info.mipCount()

	createInfo := vk.ImageCreateInfo{
		SType:         vk.StructureTypeImageCreateInfo,
		ImageType:     vk.ImageType2d,
		Format:        info.Format.VK(),
		Extent:        vk.Extent3D{Width: info.Width, Height: info.Height, Depth: 1},
		MipLevels:     mips,
		ArrayLayers:   info.Layers,
		Samples:       info.Samples,
		Tiling:        vk.ImageTilingOptimal,
		Usage:         info.usage(),
		SharingMode:   vk.SharingModeExclusive,
		InitialLayout: vk.ImageLayoutUndefined,
	}
	if info.Flags.has(TexCubemap) {
		createInfo.Flags = vk.ImageCreateFlags(vk.ImageCreateCubeCompatibleBit)
	}
	if info.Flags.has(Tex3D) {
		createInfo.ImageType = vk.ImageType3d
		createInfo.Extent.Depth = info.Layers
		createInfo.ArrayLayers = 1
	}

	image, mem, err := r.Device.allocImage(&createInfo)
	if err != nil {
		return nil, errors.Wrapf(err, "creating texture %q", info.Name)
	}

	viewType := vk.ImageViewType2d
	switch {
	case info.Flags.has(TexCubemap):
		viewType = vk.ImageViewTypeCube
	case info.Flags.has(Tex3D):
		viewType = vk.ImageViewType3d
	case info.Flags.has(TexArray):
		viewType = vk.ImageViewType2dArray
	}

	viewInfo := vk.ImageViewCreateInfo{
		SType:    vk.StructureTypeImageViewCreateInfo,
		Image:    image,
		ViewType: viewType,
		Format:   createInfo.Format,
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask: info.Format.aspectMask(),
			LevelCount: mips,
			LayerCount: createInfo.ArrayLayers,
		},
	}

	var view vk.ImageView
	if err := vkErr(vk.CreateImageView(r.Device.VKDevice, &viewInfo, nil, &view)); err != nil {
		vk.DestroyImage(r.Device.VKDevice, image, nil)
		mem.Destroy()
		return nil, err
	}

	sampler, err := r.Samplers.Acquire(info.Sampler)
	if err != nil {
		vk.DestroyImageView(r.Device.VKDevice, view, nil)
		vk.DestroyImage(r.Device.VKDevice, image, nil)
		mem.Destroy()
		return nil, err
	}

	t := &Texture{
		Device:     r.Device,
		VKImage:    image,
		VKView:     view,
		Memory:     mem,
		Format:     info.Format,
		Width:      info.Width,
		Height:     info.Height,
		Layers:     info.Layers,
		Mips:       mips,
		Samples:    info.Samples,
		Flags:      info.Flags,
		queue:      r.Commands,
		samplers:   r.Samplers,
		samplerKey: info.Sampler,
		sampler:    sampler,
		name:       info.Name,
		valid:      true,
	}
	t.layout.Store(int32(vk.ImageLayoutUndefined))

	if info.Data != nil {
		if err := t.upload(info.Data); err != nil {
			t.Destroy()
			return nil, err
		}
	} else if info.Flags.has(TexReadable) && !info.Flags.has(TexWriteable) {
		// Readable textures start life shader-visible so a draw before
		// the first upload samples defined (if garbage) memory rather
		// than tripping validation.
		t.queue.submit(Cmd{
			Op:        CmdTransitionImage,
			Image:     image,
			Aspect:    info.Format.aspectMask(),
			OldLayout: vk.ImageLayoutUndefined,
			NewLayout: vk.ImageLayoutShaderReadOnlyOptimal,
			MipCount:  mips,
			Layers:    createInfo.ArrayLayers,
			tex:       t,
		})
	}

	return t, nil
}

func (t *Texture) upload(data []byte) error {
	layerSize := t.Format.mipByteSize(t.Width, t.Height, 0)
	if len(data) < layerSize*int(t.Layers) {
		return errors.Newf("vkr: texture data is %d bytes, need %d", len(data), layerSize*int(t.Layers))
	}

	for layer := uint32(0); layer < t.Layers; layer++ {
		payload := make([]byte, layerSize)
		copy(payload, data[int(layer)*layerSize:])
		t.queue.submit(Cmd{
			Op:        CmdUploadImage,
			Data:      payload,
			Image:     t.VKImage,
			Aspect:    t.Format.aspectMask(),
			Width:     t.Width,
			Height:    t.Height,
			Layer:     layer,
			OldLayout: t.CurrentLayout(),
			NewLayout: vk.ImageLayoutShaderReadOnlyOptimal,
			tex:       t,
		})
	}

	if t.Flags.has(TexGenMips) && t.Mips > 1 {
		t.queue.submit(Cmd{
			Op:        CmdGenerateMips,
			Image:     t.VKImage,
			Aspect:    t.Format.aspectMask(),
			Width:     t.Width,
			Height:    t.Height,
			MipCount:  t.Mips,
			Layers:    t.Layers,
			OldLayout: vk.ImageLayoutShaderReadOnlyOptimal,
			NewLayout: vk.ImageLayoutShaderReadOnlyOptimal,
			tex:       t,
		})
	}
	return nil
}

// IsValid reports whether the handle still owns backend objects.
func (t *Texture) IsValid() bool {
	return t != nil && t.valid
}

// SetData replaces the mip 0 contents. Requires TexDynamic.
func (t *Texture) SetData(data []byte) error {
	if !t.Flags.has(TexDynamic) {
		return errors.Wrap(ErrResourceNotWriteable, "texture is not dynamic")
	}
	return t.upload(data)
}

// GenerateMips refreshes mips 1..n from mip 0 using the transfer blit
// chain. A caller-supplied compute kernel may be used instead when the
// format is not blittable.
func (t *Texture) GenerateMips(kernel *ComputeKernel) error {
	if t.Mips < 2 {
		return nil
	}
	if kernel != nil {
		return kernel.dispatchMipChain(t)
	}
	t.queue.submit(Cmd{
		Op:        CmdGenerateMips,
		Image:     t.VKImage,
		Aspect:    t.Format.aspectMask(),
		Width:     t.Width,
		Height:    t.Height,
		MipCount:  t.Mips,
		Layers:    t.Layers,
		OldLayout: t.CurrentLayout(),
		NewLayout: vk.ImageLayoutShaderReadOnlyOptimal,
		tex:       t,
	})
	return nil
}

// Readback schedules a copy of one mip/layer into host memory. The
// returned future becomes ready once the scheduling frame retires, at
// most FramesInFlight frames later.
func (t *Texture) Readback(mip, layer uint32) (*Readback, error) {
	if mip >= t.Mips || layer >= t.Layers {
		return nil, errors.Newf("vkr: readback mip %d layer %d out of range", mip, layer)
	}

	w := max(t.Width>>mip, 1)
	h := max(t.Height>>mip, 1)
	size := t.Format.mipByteSize(t.Width, t.Height, int(mip))

	rb, err := newReadback(t.Device, t.queue, t.Format, w, h, size)
	if err != nil {
		return nil, err
	}

	t.queue.submit(Cmd{
		Op:        CmdReadback,
		Image:     t.VKImage,
		Aspect:    t.Format.aspectMask(),
		Width:     w,
		Height:    h,
		Mip:       mip,
		Layer:     layer,
		OldLayout: t.CurrentLayout(),
		rb:        rb,
	})
	return rb, nil
}

// CreateCopyOptions tune CreateCopy. Zero values inherit from the
// source.
type CreateCopyOptions struct {
	Format  TexFormat
	Flags   TexFlags
	Samples vk.SampleCountFlagBits
}

// CreateCopy clones the texture, optionally converting format and
// resolving multisampling. The copy is recorded on the next drain.
func (r *Renderer) CreateCopy(src *Texture, opts *CreateCopyOptions) (*Texture, error) {
	info := TextureInfo{
		Format:  src.Format,
		Flags:   src.Flags &^ TexGenMips,
		Sampler: src.samplerKey,
		Width:   src.Width,
		Height:  src.Height,
		Layers:  src.Layers,
		Samples: vk.SampleCount1Bit,
		Name:    src.name + "/copy",
	}
	if opts != nil {
		if opts.Format != TexFormatNone {
			info.Format = opts.Format
		}
		if opts.Flags != 0 {
			info.Flags = opts.Flags
		}
		if opts.Samples != 0 {
			info.Samples = opts.Samples
		}
	}
	info.Flags |= TexReadable | TexWriteable

	dst, err := r.CreateTexture(&info)
	if err != nil {
		return nil, err
	}

	dst.queue.submit(Cmd{
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
	return dst, nil
}

// CurrentLayout is the tracked image layout as of the last executed
// command record.
func (t *Texture) CurrentLayout() vk.ImageLayout {
	return vk.ImageLayout(t.layout.Load())
}

func (t *Texture) setLayout(l vk.ImageLayout) {
	t.layout.Store(int32(l))
}

// Sampler returns the interned backend sampler for this texture.
func (t *Texture) Sampler() vk.Sampler {
	return t.sampler
}

// SamplerKey returns the sampler state this texture was created with.
func (t *Texture) SamplerKey() SamplerKey {
	return t.samplerKey
}

// SetSampler swaps the sampler state, acquiring the new cache entry
// before releasing the old one.
func (t *Texture) SetSampler(key SamplerKey) error {
	if key == t.samplerKey {
		return nil
	}
	s, err := t.samplers.Acquire(key)
	if err != nil {
		return err
	}
	t.samplers.Release(t.samplerKey)
	t.samplerKey = key
	t.sampler = s
	return nil
}

func (t *Texture) SetName(name string) {
	t.name = name
}

func (t *Texture) Name() string {
	return t.name
}

// Destroy releases the handle; backend objects are freed after the
// frame window passes.
func (t *Texture) Destroy() {
	if !t.IsValid() {
		return
	}
	t.valid = false
	if t.samplers != nil {
		t.samplers.Release(t.samplerKey)
	}
	t.queue.deferDestroy(Cmd{Op: CmdDestroyImageView, View: t.VKView})
	if t.borrowed {
		return
	}
	t.queue.deferDestroy(Cmd{Op: CmdDestroyImage, Image: t.VKImage})
	t.queue.deferDestroy(Cmd{Op: CmdDestroyMemory, Memory: t.Memory.VKDeviceMemory})
}
