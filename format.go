package vkr

import (
	"github.com/cockroachdb/errors"
	vk "github.com/vulkan-go/vulkan"
)

// TexFormat is the texture format surface exposed to callers. It is a
// deliberate subset of the Vulkan format zoo: the formats the renderer
// can rely on across desktop and mobile drivers.
type TexFormat int32

const (
	TexFormatNone TexFormat = iota
	TexFormatRGBA32
	TexFormatRGBA32Linear
	TexFormatBGRA32
	TexFormatBGRA32Linear
	TexFormatRG11B10
	TexFormatRGB10A2
	TexFormatRGBA64U
	TexFormatRGBA64S
	TexFormatRGBA64F
	TexFormatRGBA128
	TexFormatR8
	TexFormatR8G8
	TexFormatR16U
	TexFormatR16S
	TexFormatR16F
	TexFormatR32
	TexFormatRGB9E5
	TexFormatBC1RGBSRGB
	TexFormatDepthStencil
	TexFormatDepth32
	TexFormatDepth16
	TexFormatDepth32S8
	TexFormatDepth16S8
)

var texFormatToVK = map[TexFormat]vk.Format{
	TexFormatRGBA32:       vk.FormatR8g8b8a8Srgb,
	TexFormatRGBA32Linear: vk.FormatR8g8b8a8Unorm,
	TexFormatBGRA32:       vk.FormatB8g8r8a8Srgb,
	TexFormatBGRA32Linear: vk.FormatB8g8r8a8Unorm,
	TexFormatRG11B10:      vk.FormatB10g11r11UfloatPack32,
	TexFormatRGB10A2:      vk.FormatA2b10g10r10UnormPack32,
	TexFormatRGBA64U:      vk.FormatR16g16b16a16Unorm,
	TexFormatRGBA64S:      vk.FormatR16g16b16a16Snorm,
	TexFormatRGBA64F:      vk.FormatR16g16b16a16Sfloat,
	TexFormatRGBA128:      vk.FormatR32g32b32a32Sfloat,
	TexFormatR8:           vk.FormatR8Unorm,
	TexFormatR8G8:         vk.FormatR8g8Unorm,
	TexFormatR16U:         vk.FormatR16Unorm,
	TexFormatR16S:         vk.FormatR16Snorm,
	TexFormatR16F:         vk.FormatR16Sfloat,
	TexFormatR32:          vk.FormatR32Sfloat,
	TexFormatRGB9E5:       vk.FormatE5b9g9r9UfloatPack32,
	TexFormatBC1RGBSRGB:   vk.FormatBc1RgbSrgbBlock,
	TexFormatDepthStencil: vk.FormatD24UnormS8Uint,
	TexFormatDepth32:      vk.FormatD32Sfloat,
	TexFormatDepth16:      vk.FormatD16Unorm,
	TexFormatDepth32S8:    vk.FormatD32SfloatS8Uint,
	TexFormatDepth16S8:    vk.FormatD16UnormS8Uint,
}

var vkToTexFormat = func() map[vk.Format]TexFormat {
	m := make(map[vk.Format]TexFormat, len(texFormatToVK))
	for tf, f := range texFormatToVK {
		m[f] = tf
	}
	return m
}()

// VK returns the Vulkan format backing f, or vk.FormatUndefined.
func (f TexFormat) VK() vk.Format {
	return texFormatToVK[f]
}

// FormatFromVK maps a Vulkan format back into the exposed enumeration.
// Formats outside the supported subset map to TexFormatNone.
func FormatFromVK(f vk.Format) TexFormat {
	return vkToTexFormat[f]
}

// IsDepth reports whether f is a depth or depth/stencil format.
func (f TexFormat) IsDepth() bool {
	switch f {
	case TexFormatDepthStencil, TexFormatDepth32, TexFormatDepth16,
		TexFormatDepth32S8, TexFormatDepth16S8:
		return true
	}
	return false
}

// HasStencil reports whether f carries a stencil aspect.
func (f TexFormat) HasStencil() bool {
	switch f {
	case TexFormatDepthStencil, TexFormatDepth32S8, TexFormatDepth16S8:
		return true
	}
	return false
}

// IsCompressed reports whether f is a block-compressed format.
func (f TexFormat) IsCompressed() bool {
	return f == TexFormatBC1RGBSRGB
}

// PixelSize returns the byte size of one pixel, or of one 4x4 block for
// compressed formats.
func (f TexFormat) PixelSize() int {
	switch f {
	case TexFormatR8:
		return 1
	case TexFormatR8G8, TexFormatR16U, TexFormatR16S, TexFormatR16F, TexFormatDepth16:
		return 2
	case TexFormatRGBA32, TexFormatRGBA32Linear, TexFormatBGRA32, TexFormatBGRA32Linear,
		TexFormatRG11B10, TexFormatRGB10A2, TexFormatR32, TexFormatRGB9E5,
		TexFormatDepthStencil, TexFormatDepth32, TexFormatDepth16S8:
		return 4
	case TexFormatRGBA64U, TexFormatRGBA64S, TexFormatRGBA64F, TexFormatDepth32S8:
		return 8
	case TexFormatBC1RGBSRGB:
		return 8 // per 4x4 block
	case TexFormatRGBA128:
		return 16
	}
	return 0
}

// aspectMask returns the image aspect flags for f.
func (f TexFormat) aspectMask() vk.ImageAspectFlags {
	if !f.IsDepth() {
		return vk.ImageAspectFlags(vk.ImageAspectColorBit)
	}
	m := vk.ImageAspectFlags(vk.ImageAspectDepthBit)
	if f.HasStencil() {
		m |= vk.ImageAspectFlags(vk.ImageAspectStencilBit)
	}
	return m
}

// mipChainLength returns the number of levels in a full mip chain for
// the given extent.
func mipChainLength(width, height uint32) int {
	n := 1
	for width > 1 || height > 1 {
		width = max(width/2, 1)
		height = max(height/2, 1)
		n++
	}
	return n
}

// rowPitch returns the byte pitch of one row at the given mip width,
// honouring compressed block layouts.
func (f TexFormat) rowPitch(width uint32) int {
	if f.IsCompressed() {
		blocks := (int(width) + 3) / 4
		return blocks * f.PixelSize()
	}
	return int(width) * f.PixelSize()
}

// mipByteSize returns the byte size of one layer at mip level l.
func (f TexFormat) mipByteSize(width, height uint32, l int) int {
	w := max(width>>uint(l), 1)
	h := max(height>>uint(l), 1)
	if f.IsCompressed() {
		return f.rowPitch(w) * ((int(h) + 3) / 4)
	}
	return f.rowPitch(w) * int(h)
}

// PickFormat returns the first candidate supported for the given tiling
// and feature set, in candidate order.
func (p *PhysicalDevice) PickFormat(candidates []TexFormat, tiling vk.ImageTiling, features vk.FormatFeatureFlags) (TexFormat, error) {
	for _, c := range candidates {
		var props vk.FormatProperties
		vk.GetPhysicalDeviceFormatProperties(p.VKPhysicalDevice, c.VK(), &props)
		props.Deref()
		switch tiling {
		case vk.ImageTilingLinear:
			if props.LinearTilingFeatures&features == features {
				return c, nil
			}
		case vk.ImageTilingOptimal:
			if props.OptimalTilingFeatures&features == features {
				return c, nil
			}
		}
	}
	return TexFormatNone, errors.Wrapf(ErrNoSupportedFormat, "candidates %v", candidates)
}

// PickDepthFormat returns the best supported depth/stencil attachment
// format, preferring combined depth-stencil over depth-only.
func (p *PhysicalDevice) PickDepthFormat() (TexFormat, error) {
	return p.PickFormat(
		[]TexFormat{TexFormatDepthStencil, TexFormatDepth32S8, TexFormatDepth32, TexFormatDepth16S8, TexFormatDepth16},
		vk.ImageTilingOptimal,
		vk.FormatFeatureFlags(vk.FormatFeatureDepthStencilAttachmentBit),
	)
}
