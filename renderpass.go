package vkr

import (
	"sync"

	vk "github.com/vulkan-go/vulkan"
)

// RenderPassKey is the interning key for render passes. Two passes
// with the same attachment formats, sample count, load behavior and
// view count are the same pass.
type RenderPassKey struct {
	Color   TexFormat
	Depth   TexFormat
	Samples vk.SampleCountFlagBits
	// Resolve adds a single-sample resolve attachment for the color
	// target.
	Resolve    bool
	ClearColor bool
	ClearDepth bool
	// ViewCount > 1 renders all views in one pass via multiview.
	ViewCount   uint32
	FinalLayout vk.ImageLayout
}

func loadOp(clear bool) vk.AttachmentLoadOp {
	if clear {
		return vk.AttachmentLoadOpClear
	}
	return vk.AttachmentLoadOpLoad
}

// initialLayout picks the attachment's declared starting layout. A
// cleared attachment may start undefined; a loaded one must already be
// in its attachment layout, which BeginPass transitions it into.
func initialLayout(clear bool, optimal vk.ImageLayout) vk.ImageLayout {
	if clear {
		return vk.ImageLayoutUndefined
	}
	return optimal
}

func createRenderPass(d *Device, key RenderPassKey) (vk.RenderPass, error) {
	var attachments []vk.AttachmentDescription
	var colorRef, depthRef, resolveRef vk.AttachmentReference

	colorRef = vk.AttachmentReference{
		Attachment: uint32(len(attachments)),
		Layout:     vk.ImageLayoutColorAttachmentOptimal,
	}
	attachments = append(attachments, vk.AttachmentDescription{
		Format:         key.Color.VK(),
		Samples:        key.Samples,
		LoadOp:         loadOp(key.ClearColor),
		StoreOp:        vk.AttachmentStoreOpStore,
		StencilLoadOp:  vk.AttachmentLoadOpDontCare,
		StencilStoreOp: vk.AttachmentStoreOpDontCare,
		InitialLayout:  initialLayout(key.ClearColor, vk.ImageLayoutColorAttachmentOptimal),
		FinalLayout:    key.FinalLayout,
	})

	subpass := vk.SubpassDescription{
		PipelineBindPoint:    vk.PipelineBindPointGraphics,
		ColorAttachmentCount: 1,
		PColorAttachments:    []vk.AttachmentReference{colorRef},
	}

	if key.Depth != TexFormatNone {
		depthRef = vk.AttachmentReference{
			Attachment: uint32(len(attachments)),
			Layout:     vk.ImageLayoutDepthStencilAttachmentOptimal,
		}
		attachments = append(attachments, vk.AttachmentDescription{
			Format:         key.Depth.VK(),
			Samples:        key.Samples,
			LoadOp:         loadOp(key.ClearDepth),
			StoreOp:        vk.AttachmentStoreOpDontCare,
			StencilLoadOp:  loadOp(key.ClearDepth),
			StencilStoreOp: vk.AttachmentStoreOpDontCare,
			InitialLayout:  initialLayout(key.ClearDepth, vk.ImageLayoutDepthStencilAttachmentOptimal),
			FinalLayout:    vk.ImageLayoutDepthStencilAttachmentOptimal,
		})
		subpass.PDepthStencilAttachment = &depthRef
	}

	if key.Resolve {
		resolveRef = vk.AttachmentReference{
			Attachment: uint32(len(attachments)),
			Layout:     vk.ImageLayoutColorAttachmentOptimal,
		}
		attachments = append(attachments, vk.AttachmentDescription{
			Format:        key.Color.VK(),
			Samples:       vk.SampleCount1Bit,
			LoadOp:        vk.AttachmentLoadOpDontCare,
			StoreOp:       vk.AttachmentStoreOpStore,
			InitialLayout: vk.ImageLayoutUndefined,
			FinalLayout:   key.FinalLayout,
		})
		subpass.PResolveAttachments = []vk.AttachmentReference{resolveRef}
	}

	dependency := vk.SubpassDependency{
		SrcSubpass: vk.SubpassExternal,
		DstSubpass: 0,
		SrcStageMask: vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit |
			vk.PipelineStageEarlyFragmentTestsBit),
		DstStageMask: vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit |
			vk.PipelineStageEarlyFragmentTestsBit),
		SrcAccessMask: 0,
		DstAccessMask: vk.AccessFlags(vk.AccessColorAttachmentWriteBit |
			vk.AccessDepthStencilAttachmentWriteBit),
	}

	info := vk.RenderPassCreateInfo{
		SType:           vk.StructureTypeRenderPassCreateInfo,
		AttachmentCount: uint32(len(attachments)),
		PAttachments:    attachments,
		SubpassCount:    1,
		PSubpasses:      []vk.SubpassDescription{subpass},
		DependencyCount: 1,
		PDependencies:   []vk.SubpassDependency{dependency},
	}

	if key.ViewCount > 1 && d.Caps.Multiview {
		viewMask := uint32(1)<<key.ViewCount - 1
		multiview := vk.RenderPassMultiviewCreateInfo{
			SType:                vk.StructureTypeRenderPassMultiviewCreateInfo,
			SubpassCount:         1,
			PViewMasks:           []uint32{viewMask},
			CorrelationMaskCount: 1,
			PCorrelationMasks:    []uint32{viewMask},
		}
		info.PNext = unsafePtr(&multiview)
	}

	var pass vk.RenderPass
	if err := vkErr(vk.CreateRenderPass(d.VKDevice, &info, nil, &pass)); err != nil {
		return vk.NullRenderPass, err
	}
	return pass, nil
}

type framebufferKey struct {
	pass    vk.RenderPass
	color   vk.ImageView
	depth   vk.ImageView
	resolve vk.ImageView
	width   uint32
	height  uint32
	layers  uint32
}

// framebufferCache interns framebuffers by pass and attachment views.
// Entries are purged wholesale on resize and shutdown; individual
// eviction is not worth tracking.
type framebufferCache struct {
	device *Device
	queue  *CmdQueue

	mu      sync.Mutex
	entries map[framebufferKey]vk.Framebuffer
}

func newFramebufferCache(d *Device, q *CmdQueue) *framebufferCache {
	return &framebufferCache{device: d, queue: q, entries: map[framebufferKey]vk.Framebuffer{}}
}

func (c *framebufferCache) get(key framebufferKey) (vk.Framebuffer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if fb, ok := c.entries[key]; ok {
		return fb, nil
	}

	views := []vk.ImageView{key.color}
	if key.depth != vk.NullImageView {
		views = append(views, key.depth)
	}
	if key.resolve != vk.NullImageView {
		views = append(views, key.resolve)
	}

	layers := key.layers
	if layers == 0 {
		layers = 1
	}
	info := vk.FramebufferCreateInfo{
		SType:           vk.StructureTypeFramebufferCreateInfo,
		RenderPass:      key.pass,
		AttachmentCount: uint32(len(views)),
		PAttachments:    views,
		Width:           key.width,
		Height:          key.height,
		Layers:          layers,
	}

	var fb vk.Framebuffer
	if err := vkErr(vk.CreateFramebuffer(c.device.VKDevice, &info, nil, &fb)); err != nil {
		return vk.NullFramebuffer, err
	}
	c.entries[key] = fb
	return fb, nil
}

// purge schedules every cached framebuffer for deferred destruction.
func (c *framebufferCache) purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, fb := range c.entries {
		c.queue.deferDestroy(Cmd{Op: CmdDestroyFramebuffer, Framebuffer: fb})
		delete(c.entries, key)
	}
}
