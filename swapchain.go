package vkr

import (
	"github.com/cockroachdb/errors"
	vk "github.com/vulkan-go/vulkan"
)

// PresentStatus tells the frame loop what the surface needs next.
type PresentStatus int

const (
	PresentOk PresentStatus = iota
	// PresentNeedsResize means the swapchain no longer matches the
	// window; call Resize and retry.
	PresentNeedsResize
	// PresentSurfaceLost means the surface is gone for good.
	PresentSurfaceLost
)

// Surface owns a swapchain and hands its images out as borrowed
// textures, with one acquire/release semaphore pair per in-flight
// frame.
type Surface struct {
	VKSurface   vk.Surface
	VKSwapchain vk.Swapchain
	Format      TexFormat
	Width       uint32
	Height      uint32

	renderer     *Renderer
	presentQueue *Queue
	textures     []*Texture
	acquireSems  []*Semaphore
	releaseSems  []*Semaphore
	imageIndex   uint32
	slot         int
}

// CreateSurface wraps a platform surface in a swapchain. The fallback
// size is used when the surface does not report an extent of its own.
func (r *Renderer) CreateSurface(surface vk.Surface, fallbackW, fallbackH uint32) (*Surface, error) {
	families, err := r.Device.PhysicalDevice.QueueFamilies()
	if err != nil {
		return nil, err
	}
	present := families.FilterPresent(surface)
	if len(present) == 0 {
		return nil, errors.Wrap(ErrSurfaceLost, "no present-capable queue family")
	}

	s := &Surface{
		VKSurface:    surface,
		renderer:     r,
		presentQueue: r.Device.GetQueue(present[0]),
	}
	for i := 0; i < FramesInFlight; i++ {
		acquire, err := r.Device.CreateSemaphore()
		if err != nil {
			return nil, err
		}
		release, err := r.Device.CreateSemaphore()
		if err != nil {
			return nil, err
		}
		s.acquireSems = append(s.acquireSems, acquire)
		s.releaseSems = append(s.releaseSems, release)
	}

	if err := s.createSwapchain(fallbackW, fallbackH, vk.NullSwapchain); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Surface) createSwapchain(fallbackW, fallbackH uint32, old vk.Swapchain) error {
	d := s.renderer.Device
	p := d.PhysicalDevice

	modes, err := p.GetSurfacePresentModes(s.VKSurface)
	if err != nil {
		return err
	}
	presentMode := vk.PresentModeFifo
	if m := modes.Filter(vk.PresentModeMailbox); len(m) > 0 {
		presentMode = m[0]
	}

	formats, err := p.GetSurfaceFormats(s.VKSurface)
	if err != nil {
		return err
	}
	var surfaceFormat vk.SurfaceFormat
	picked := formats.Filter(func(f vk.SurfaceFormat) bool {
		f.Deref()
		return f.Format == vk.FormatB8g8r8a8Unorm || f.Format == vk.FormatR8g8b8a8Unorm
	})
	if len(picked) == 0 {
		return errors.Wrap(ErrNoSupportedFormat, "surface formats")
	}
	surfaceFormat = picked[0]
	surfaceFormat.Deref()

	caps, err := p.GetSurfaceCapabilities(s.VKSurface)
	if err != nil {
		return err
	}
	caps.Deref()
	caps.CurrentExtent.Deref()
	caps.MinImageExtent.Deref()

	size := caps.CurrentExtent
	if size.Width == vk.MaxUint32 {
		size = vk.Extent2D{Width: fallbackW, Height: fallbackH}
	}

	imageCount := caps.MinImageCount + 1
	if caps.MaxImageCount > 0 && imageCount > caps.MaxImageCount {
		imageCount = caps.MaxImageCount
	}

	createInfo := &vk.SwapchainCreateInfo{
		SType:            vk.StructureTypeSwapchainCreateInfo,
		Surface:          s.VKSurface,
		MinImageCount:    imageCount,
		ImageFormat:      surfaceFormat.Format,
		ImageColorSpace:  surfaceFormat.ColorSpace,
		ImageExtent:      size,
		PresentMode:      presentMode,
		ImageUsage:       vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit | vk.ImageUsageTransferDstBit),
		ImageArrayLayers: 1,
		Clipped:          vk.True,
		PreTransform:     caps.CurrentTransform,
		CompositeAlpha:   vk.CompositeAlphaOpaqueBit,
		OldSwapchain:     old,
	}

	graphics := s.renderer.GraphicsQueue
	if graphics.QueueFamily.Index != s.presentQueue.QueueFamily.Index {
		createInfo.QueueFamilyIndexCount = 2
		createInfo.PQueueFamilyIndices = []uint32{
			uint32(graphics.QueueFamily.Index),
			uint32(s.presentQueue.QueueFamily.Index),
		}
		createInfo.ImageSharingMode = vk.SharingModeConcurrent
	} else {
		createInfo.ImageSharingMode = vk.SharingModeExclusive
	}

	var swapchain vk.Swapchain
	if err := vkErr(vk.CreateSwapchain(d.VKDevice, createInfo, nil, &swapchain)); err != nil {
		return err
	}

	s.VKSwapchain = swapchain
	s.Format = FormatFromVK(surfaceFormat.Format)
	s.Width = size.Width
	s.Height = size.Height
	return s.wrapImages()
}

// wrapImages builds a borrowed texture for each swapchain image.
func (s *Surface) wrapImages() error {
	d := s.renderer.Device

	var count uint32
	if err := vkErr(vk.GetSwapchainImages(d.VKDevice, s.VKSwapchain, &count, nil)); err != nil {
		return err
	}
	images := make([]vk.Image, count)
	if err := vkErr(vk.GetSwapchainImages(d.VKDevice, s.VKSwapchain, &count, images)); err != nil {
		return err
	}

	s.textures = make([]*Texture, count)
	for i, image := range images {
		viewInfo := vk.ImageViewCreateInfo{
			SType:    vk.StructureTypeImageViewCreateInfo,
			Image:    image,
			ViewType: vk.ImageViewType2d,
			Format:   s.Format.VK(),
			SubresourceRange: vk.ImageSubresourceRange{
				AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
				LevelCount: 1,
				LayerCount: 1,
			},
		}
		var view vk.ImageView
		if err := vkErr(vk.CreateImageView(d.VKDevice, &viewInfo, nil, &view)); err != nil {
			return err
		}

		t := &Texture{
			Device:   d,
			VKImage:  image,
			VKView:   view,
			Format:   s.Format,
			Width:    s.Width,
			Height:   s.Height,
			Layers:   1,
			Mips:     1,
			Samples:  vk.SampleCount1Bit,
			Flags:    TexWriteable,
			queue:    s.renderer.Commands,
			borrowed: true,
			valid:    true,
		}
		t.layout.Store(int32(vk.ImageLayoutUndefined))
		s.textures[i] = t
	}
	return nil
}

// AcquireNext blocks for the next swapchain image. The returned
// semaphore must be waited on by the frame submit; pass it to
// FrameEnd.
func (s *Surface) AcquireNext() (*Texture, *Semaphore, PresentStatus, error) {
	s.slot = (s.slot + 1) % len(s.acquireSems)
	sem := s.acquireSems[s.slot]

	var index uint32
	res := vk.AcquireNextImage(s.renderer.Device.VKDevice, s.VKSwapchain,
		vk.MaxUint64, sem.VKSemaphore, vk.NullFence, &index)
	switch res {
	case vk.Success, vk.Suboptimal:
		s.imageIndex = index
		return s.textures[index], sem, PresentOk, nil
	case vk.ErrorOutOfDate:
		return nil, nil, PresentNeedsResize, nil
	case vk.ErrorSurfaceLost:
		return nil, nil, PresentSurfaceLost, nil
	default:
		return nil, nil, PresentOk, vkErr(res)
	}
}

// ReleaseSemaphore is the semaphore the frame submit must signal for
// this acquire; pass it to FrameEnd and then to Present.
func (s *Surface) ReleaseSemaphore() *Semaphore {
	return s.releaseSems[s.slot]
}

// Present queues the acquired image for display.
func (s *Surface) Present() (PresentStatus, error) {
	info := vk.PresentInfo{
		SType:              vk.StructureTypePresentInfo,
		WaitSemaphoreCount: 1,
		PWaitSemaphores:    []vk.Semaphore{s.releaseSems[s.slot].VKSemaphore},
		SwapchainCount:     1,
		PSwapchains:        []vk.Swapchain{s.VKSwapchain},
		PImageIndices:      []uint32{s.imageIndex},
	}

	QueueLock(s.presentQueue.QueueFamily.Index)
	res := vk.QueuePresent(s.presentQueue.VKQueue, &info)
	QueueUnlock(s.presentQueue.QueueFamily.Index)

	switch res {
	case vk.Success:
		return PresentOk, nil
	case vk.Suboptimal, vk.ErrorOutOfDate:
		return PresentNeedsResize, nil
	case vk.ErrorSurfaceLost:
		return PresentSurfaceLost, nil
	default:
		return PresentOk, vkErr(res)
	}
}

// Resize rebuilds the swapchain for a new window size. Cached
// framebuffers referencing the old images are purged.
func (s *Surface) Resize(width, height uint32) error {
	s.renderer.Device.WaitIdle()

	old := s.VKSwapchain
	for _, t := range s.textures {
		t.Destroy()
	}
	s.renderer.framebuffers.purge()

	if err := s.createSwapchain(width, height, old); err != nil {
		return err
	}
	if old != vk.NullSwapchain {
		vk.DestroySwapchain(s.renderer.Device.VKDevice, old, nil)
	}
	return nil
}

// Destroy tears down the swapchain. The surface handle itself belongs
// to the windowing layer.
func (s *Surface) Destroy() {
	s.renderer.Device.WaitIdle()
	for _, t := range s.textures {
		t.Destroy()
	}
	s.renderer.framebuffers.purge()
	for i := range s.acquireSems {
		s.acquireSems[i].Destroy()
		s.releaseSems[i].Destroy()
	}
	if s.VKSwapchain != vk.NullSwapchain {
		vk.DestroySwapchain(s.renderer.Device.VKDevice, s.VKSwapchain, nil)
		s.VKSwapchain = vk.NullSwapchain
	}
}
