package vkr

import (
	vk "github.com/vulkan-go/vulkan"
)

// Caps is the read-only capability table populated once during device
// creation. Components consult it instead of re-querying the driver.
type Caps struct {
	// DepthFormat is the preferred depth/stencil attachment format.
	DepthFormat TexFormat

	// MSAAReadable means multisampled images can also be sampled.
	MSAAReadable bool
	// MaxSamples is the highest color+depth sample count the device
	// supports.
	MaxSamples vk.SampleCountFlagBits

	PushDescriptor   bool
	DepthClamp       bool
	YCbCrConversion  bool
	ExternalMemory   bool
	VideoDecodeQueue bool
	TimestampQueries bool
	Multiview        bool

	// TimestampPeriod is nanoseconds per timestamp tick.
	TimestampPeriod float32
	// MinUniformOffsetAlign is the required alignment for dynamic
	// uniform offsets; the instance ring and param buffers honour it.
	MinUniformOffsetAlign uint64
}

const (
	extPushDescriptor = "VK_KHR_push_descriptor"
	extYcbcr          = "VK_KHR_sampler_ycbcr_conversion"
	extExternalMemory = "VK_KHR_external_memory"
	extVideoQueue     = "VK_KHR_video_queue"
	extMultiview      = "VK_KHR_multiview"
)

// multiviewSupported reports whether render passes may carry a
// multiview view mask. Core in 1.1; 1.0 devices need the extension.
func multiviewSupported(apiVersion uint32, have map[string]bool) bool {
	return apiVersion >= vk.MakeVersion(1, 1, 0) || have[extMultiview]
}

func detectCaps(p *PhysicalDevice, options *CreateDeviceOptions) Caps {
	var caps Caps

	props := p.VKPhysicalDeviceProperties
	props.Limits.Deref()
	caps.TimestampQueries = props.Limits.TimestampComputeAndGraphics == vk.True
	caps.TimestampPeriod = props.Limits.TimestampPeriod
	caps.MinUniformOffsetAlign = uint64(props.Limits.MinUniformBufferOffsetAlignment)
	if caps.MinUniformOffsetAlign == 0 {
		caps.MinUniformOffsetAlign = 256
	}

	counts := vk.SampleCountFlags(props.Limits.FramebufferColorSampleCounts) &
		vk.SampleCountFlags(props.Limits.FramebufferDepthSampleCounts)
	for _, c := range []vk.SampleCountFlagBits{
		vk.SampleCount8Bit, vk.SampleCount4Bit, vk.SampleCount2Bit,
	} {
		if counts&vk.SampleCountFlags(c) != 0 {
			caps.MaxSamples = c
			break
		}
	}
	if caps.MaxSamples == 0 {
		caps.MaxSamples = vk.SampleCount1Bit
	}

	features := p.VKPhysicalDeviceFeatures()
	features.Deref()
	caps.DepthClamp = features.DepthClamp == vk.True
	caps.MSAAReadable = features.SampleRateShading == vk.True

	have := map[string]bool{}
	if ext, err := p.SupportedExtensions(); err == nil {
		for _, e := range ext {
			have[e] = true
		}
	}
	caps.PushDescriptor = have[extPushDescriptor]
	caps.YCbCrConversion = have[extYcbcr]
	caps.ExternalMemory = have[extExternalMemory]
	caps.VideoDecodeQueue = have[extVideoQueue]
	caps.Multiview = multiviewSupported(props.ApiVersion, have)

	depth, err := p.PickDepthFormat()
	if err == nil {
		caps.DepthFormat = depth
	} else {
		caps.DepthFormat = TexFormatDepth16
	}

	return caps
}
