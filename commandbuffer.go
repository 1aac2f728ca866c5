package vkr

import (
	vk "github.com/vulkan-go/vulkan"
)

// CommandBuffer records a sequence of commands for one queue
// submission. The drain of the command queue and the renderer's frame
// loop are the only writers.
type CommandBuffer struct {
	VKCommandBuffer vk.CommandBuffer
}

// VK exposes the native handle for call sites this wrapper does not
// cover.
func (c *CommandBuffer) VK() vk.CommandBuffer {
	return c.VKCommandBuffer
}

func (c *CommandBuffer) Reset() error {
	return vk.Error(vk.ResetCommandBuffer(c.VKCommandBuffer, 0))
}

func (c *CommandBuffer) ResetAndRelease() error {
	return vk.Error(vk.ResetCommandBuffer(c.VKCommandBuffer, vk.CommandBufferResetFlags(vk.CommandBufferResetReleaseResourcesBit)))
}

func (c *CommandBuffer) Begin() error {
	beginInfo := vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
	}
	return vk.Error(vk.BeginCommandBuffer(c.VKCommandBuffer, &beginInfo))
}

// BeginOneTime begins recording for a single submission.
func (c *CommandBuffer) BeginOneTime() error {
	beginInfo := vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit),
	}
	return vk.Error(vk.BeginCommandBuffer(c.VKCommandBuffer, &beginInfo))
}

func (c *CommandBuffer) End() error {
	return vk.Error(vk.EndCommandBuffer(c.VKCommandBuffer))
}

// layoutAccess returns the access mask and pipeline stage a layout is
// first usable in. Used to build transition barriers.
func layoutAccess(layout vk.ImageLayout) (vk.AccessFlags, vk.PipelineStageFlags) {
	switch layout {
	case vk.ImageLayoutUndefined, vk.ImageLayoutPreinitialized:
		return 0, vk.PipelineStageFlags(vk.PipelineStageTopOfPipeBit)
	case vk.ImageLayoutTransferDstOptimal:
		return vk.AccessFlags(vk.AccessTransferWriteBit), vk.PipelineStageFlags(vk.PipelineStageTransferBit)
	case vk.ImageLayoutTransferSrcOptimal:
		return vk.AccessFlags(vk.AccessTransferReadBit), vk.PipelineStageFlags(vk.PipelineStageTransferBit)
	case vk.ImageLayoutShaderReadOnlyOptimal:
		return vk.AccessFlags(vk.AccessShaderReadBit), vk.PipelineStageFlags(vk.PipelineStageFragmentShaderBit | vk.PipelineStageComputeShaderBit)
	case vk.ImageLayoutColorAttachmentOptimal:
		return vk.AccessFlags(vk.AccessColorAttachmentReadBit | vk.AccessColorAttachmentWriteBit),
			vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit)
	case vk.ImageLayoutDepthStencilAttachmentOptimal:
		return vk.AccessFlags(vk.AccessDepthStencilAttachmentReadBit | vk.AccessDepthStencilAttachmentWriteBit),
			vk.PipelineStageFlags(vk.PipelineStageEarlyFragmentTestsBit | vk.PipelineStageLateFragmentTestsBit)
	case vk.ImageLayoutGeneral:
		return vk.AccessFlags(vk.AccessShaderReadBit | vk.AccessShaderWriteBit),
			vk.PipelineStageFlags(vk.PipelineStageComputeShaderBit)
	case vk.ImageLayoutPresentSrc:
		return 0, vk.PipelineStageFlags(vk.PipelineStageBottomOfPipeBit)
	}
	return vk.AccessFlags(vk.AccessMemoryReadBit | vk.AccessMemoryWriteBit),
		vk.PipelineStageFlags(vk.PipelineStageAllCommandsBit)
}

// TransitionImage records a full-subresource layout transition barrier.
func (c *CommandBuffer) TransitionImage(image vk.Image, aspect vk.ImageAspectFlags,
	oldLayout, newLayout vk.ImageLayout, baseMip, mipCount, baseLayer, layerCount uint32) {

	srcAccess, srcStage := layoutAccess(oldLayout)
	dstAccess, dstStage := layoutAccess(newLayout)

	barrier := vk.ImageMemoryBarrier{
		SType:               vk.StructureTypeImageMemoryBarrier,
		OldLayout:           oldLayout,
		NewLayout:           newLayout,
		SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
		DstQueueFamilyIndex: vk.QueueFamilyIgnored,
		Image:               image,
		SrcAccessMask:       srcAccess,
		DstAccessMask:       dstAccess,
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask:     aspect,
			BaseMipLevel:   baseMip,
			LevelCount:     mipCount,
			BaseArrayLayer: baseLayer,
			LayerCount:     layerCount,
		},
	}

	vk.CmdPipelineBarrier(c.VKCommandBuffer, srcStage, dstStage, 0, 0, nil, 0, nil, 1,
		[]vk.ImageMemoryBarrier{barrier})
}

// CopyBufferToImage records a staging-buffer upload into one mip/layer.
func (c *CommandBuffer) CopyBufferToImage(buffer vk.Buffer, bufferOffset uint64,
	image vk.Image, aspect vk.ImageAspectFlags, width, height, mip, layer uint32) {

	vk.CmdCopyBufferToImage(c.VKCommandBuffer, buffer, image, vk.ImageLayoutTransferDstOptimal, 1,
		[]vk.BufferImageCopy{{
			BufferOffset: vk.DeviceSize(bufferOffset),
			ImageSubresource: vk.ImageSubresourceLayers{
				AspectMask:     aspect,
				MipLevel:       mip,
				BaseArrayLayer: layer,
				LayerCount:     1,
			},
			ImageExtent: vk.Extent3D{Width: width, Height: height, Depth: 1},
		}})
}

// CopyImageToBuffer records a readback of one mip/layer into a
// host-visible buffer.
func (c *CommandBuffer) CopyImageToBuffer(image vk.Image, aspect vk.ImageAspectFlags,
	width, height, mip, layer uint32, buffer vk.Buffer) {

	vk.CmdCopyImageToBuffer(c.VKCommandBuffer, image, vk.ImageLayoutTransferSrcOptimal, buffer, 1,
		[]vk.BufferImageCopy{{
			ImageSubresource: vk.ImageSubresourceLayers{
				AspectMask:     aspect,
				MipLevel:       mip,
				BaseArrayLayer: layer,
				LayerCount:     1,
			},
			ImageExtent: vk.Extent3D{Width: width, Height: height, Depth: 1},
		}})
}

// CopyBuffer records a plain buffer-to-buffer copy.
func (c *CommandBuffer) CopyBuffer(src vk.Buffer, srcOffset uint64, dst vk.Buffer, dstOffset, size uint64) {
	vk.CmdCopyBuffer(c.VKCommandBuffer, src, dst, 1, []vk.BufferCopy{{
		SrcOffset: vk.DeviceSize(srcOffset),
		DstOffset: vk.DeviceSize(dstOffset),
		Size:      vk.DeviceSize(size),
	}})
}

// BlitMip records a filtered blit from one mip to another, the building
// block of the mip generation chain.
func (c *CommandBuffer) BlitMip(image vk.Image, aspect vk.ImageAspectFlags,
	srcMip, dstMip, layer uint32, srcW, srcH, dstW, dstH int32) {

	blit := vk.ImageBlit{
		SrcSubresource: vk.ImageSubresourceLayers{
			AspectMask: aspect, MipLevel: srcMip, BaseArrayLayer: layer, LayerCount: 1,
		},
		DstSubresource: vk.ImageSubresourceLayers{
			AspectMask: aspect, MipLevel: dstMip, BaseArrayLayer: layer, LayerCount: 1,
		},
	}
	blit.SrcOffsets[1] = vk.Offset3D{X: srcW, Y: srcH, Z: 1}
	blit.DstOffsets[1] = vk.Offset3D{X: dstW, Y: dstH, Z: 1}

	vk.CmdBlitImage(c.VKCommandBuffer,
		image, vk.ImageLayoutTransferSrcOptimal,
		image, vk.ImageLayoutTransferDstOptimal,
		1, []vk.ImageBlit{blit}, vk.FilterLinear)
}

// BlitImage records a filtered blit between two images, used by texture
// copies with format conversion or scaling.
func (c *CommandBuffer) BlitImage(src vk.Image, srcW, srcH int32, dst vk.Image, dstW, dstH int32, aspect vk.ImageAspectFlags) {
	blit := vk.ImageBlit{
		SrcSubresource: vk.ImageSubresourceLayers{AspectMask: aspect, LayerCount: 1},
		DstSubresource: vk.ImageSubresourceLayers{AspectMask: aspect, LayerCount: 1},
	}
	blit.SrcOffsets[1] = vk.Offset3D{X: srcW, Y: srcH, Z: 1}
	blit.DstOffsets[1] = vk.Offset3D{X: dstW, Y: dstH, Z: 1}

	vk.CmdBlitImage(c.VKCommandBuffer,
		src, vk.ImageLayoutTransferSrcOptimal,
		dst, vk.ImageLayoutTransferDstOptimal,
		1, []vk.ImageBlit{blit}, vk.FilterLinear)
}

// ResolveImage records a multisample resolve.
func (c *CommandBuffer) ResolveImage(src vk.Image, dst vk.Image, width, height uint32, aspect vk.ImageAspectFlags) {
	vk.CmdResolveImage(c.VKCommandBuffer,
		src, vk.ImageLayoutTransferSrcOptimal,
		dst, vk.ImageLayoutTransferDstOptimal,
		1, []vk.ImageResolve{{
			SrcSubresource: vk.ImageSubresourceLayers{AspectMask: aspect, LayerCount: 1},
			DstSubresource: vk.ImageSubresourceLayers{AspectMask: aspect, LayerCount: 1},
			Extent:         vk.Extent3D{Width: width, Height: height, Depth: 1},
		}})
}
