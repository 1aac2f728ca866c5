package vkr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	vk "github.com/vulkan-go/vulkan"
)

func TestFormatVKRoundtrip(t *testing.T) {
	assert.Equal(t, vk.FormatR8g8b8a8Srgb, TexFormatRGBA32.VK())
	assert.Equal(t, vk.FormatUndefined, TexFormatNone.VK())
	assert.Equal(t, TexFormatBGRA32Linear, FormatFromVK(vk.FormatB8g8r8a8Unorm))
	assert.Equal(t, TexFormatNone, FormatFromVK(vk.FormatR4g4UnormPack8))
}

func TestFormatDepthStencil(t *testing.T) {
	assert.True(t, TexFormatDepth32.IsDepth())
	assert.True(t, TexFormatDepthStencil.IsDepth())
	assert.False(t, TexFormatRGBA32.IsDepth())

	assert.True(t, TexFormatDepthStencil.HasStencil())
	assert.True(t, TexFormatDepth32S8.HasStencil())
	assert.False(t, TexFormatDepth32.HasStencil())
	assert.False(t, TexFormatDepth16.HasStencil())
}

func TestFormatAspectMask(t *testing.T) {
	assert.Equal(t, vk.ImageAspectFlags(vk.ImageAspectColorBit), TexFormatRGBA32.aspectMask())
	assert.Equal(t, vk.ImageAspectFlags(vk.ImageAspectDepthBit), TexFormatDepth32.aspectMask())
	assert.Equal(t,
		vk.ImageAspectFlags(vk.ImageAspectDepthBit)|vk.ImageAspectFlags(vk.ImageAspectStencilBit),
		TexFormatDepthStencil.aspectMask())
}

func TestMipChainLength(t *testing.T) {
	assert.Equal(t, 1, mipChainLength(1, 1))
	assert.Equal(t, 2, mipChainLength(2, 1))
	assert.Equal(t, 9, mipChainLength(256, 256))
	assert.Equal(t, 11, mipChainLength(1024, 512))
	assert.Equal(t, 7, mipChainLength(100, 7))
}

func TestRowPitch(t *testing.T) {
	assert.Equal(t, 1024, TexFormatRGBA32.rowPitch(256))
	assert.Equal(t, 256, TexFormatR8.rowPitch(256))

	// BC1 packs 4x4 blocks of 8 bytes; width rounds up to whole blocks.
	assert.Equal(t, 8, TexFormatBC1RGBSRGB.rowPitch(4))
	assert.Equal(t, 8, TexFormatBC1RGBSRGB.rowPitch(1))
	assert.Equal(t, 16, TexFormatBC1RGBSRGB.rowPitch(5))
}

func TestMipByteSize(t *testing.T) {
	assert.Equal(t, 256*256*4, TexFormatRGBA32.mipByteSize(256, 256, 0))
	assert.Equal(t, 128*128*4, TexFormatRGBA32.mipByteSize(256, 256, 1))
	assert.Equal(t, 4, TexFormatRGBA32.mipByteSize(256, 256, 10), "mip extent clamps at 1x1")

	// One BC1 block at the 4x4 tail.
	assert.Equal(t, 8, TexFormatBC1RGBSRGB.mipByteSize(4, 4, 0))
	assert.Equal(t, 8, TexFormatBC1RGBSRGB.mipByteSize(4, 4, 1))
}

func TestPixelSize(t *testing.T) {
	assert.Equal(t, 4, TexFormatRGBA32Linear.PixelSize())
	assert.Equal(t, 16, TexFormatRGBA128.PixelSize())
	assert.Equal(t, 1, TexFormatR8.PixelSize())
	assert.Equal(t, 0, TexFormatNone.PixelSize())
}
