package vkr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	vk "github.com/vulkan-go/vulkan"
)

func TestTextureInfoValidate(t *testing.T) {
	info := &TextureInfo{Format: TexFormatRGBA32, Flags: TexReadable, Width: 64, Height: 64}
	require.NoError(t, info.validate())
	assert.Equal(t, uint32(1), info.Layers, "layers default to 1")
	assert.Equal(t, vk.SampleCount1Bit, info.Samples)

	zero := &TextureInfo{Format: TexFormatRGBA32, Width: 0, Height: 64}
	assert.Error(t, zero.validate())

	array := &TextureInfo{Format: TexFormatRGBA32, Flags: TexArray, Width: 4, Height: 4, Layers: 1}
	assert.Error(t, array.validate(), "array textures need at least two layers")
	array.Layers = 2
	assert.NoError(t, array.validate())

	cube := &TextureInfo{Format: TexFormatRGBA32, Flags: TexCubemap, Width: 4, Height: 4, Layers: 4}
	assert.Error(t, cube.validate(), "cubemaps are exactly six layers")
	cube.Layers = 6
	assert.NoError(t, cube.validate())

	msaa := &TextureInfo{
		Format: TexFormatRGBA32, Flags: TexReadable,
		Width: 4, Height: 4, Samples: vk.SampleCount4Bit,
	}
	assert.Error(t, msaa.validate(), "sampling an unresolved MSAA image is rejected")
	msaa.Flags |= TexWriteable
	assert.NoError(t, msaa.validate())
}

func TestTextureInfoUsage(t *testing.T) {
	base := vk.ImageUsageFlags(vk.ImageUsageTransferSrcBit | vk.ImageUsageTransferDstBit)

	plain := &TextureInfo{Format: TexFormatRGBA32}
	assert.Equal(t, base, plain.usage())

	readable := &TextureInfo{Format: TexFormatRGBA32, Flags: TexReadable}
	assert.Equal(t, base|vk.ImageUsageFlags(vk.ImageUsageSampledBit), readable.usage())

	color := &TextureInfo{Format: TexFormatRGBA32, Flags: TexWriteable}
	assert.Equal(t, base|vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit), color.usage())

	depth := &TextureInfo{Format: TexFormatDepth32, Flags: TexWriteable}
	assert.Equal(t, base|vk.ImageUsageFlags(vk.ImageUsageDepthStencilAttachmentBit), depth.usage())

	storage := &TextureInfo{Format: TexFormatRGBA32Linear, Flags: TexCompute}
	assert.Equal(t, base|vk.ImageUsageFlags(vk.ImageUsageStorageBit), storage.usage())
}

func TestTextureInfoMipCount(t *testing.T) {
	flat := &TextureInfo{Width: 256, Height: 256}
	assert.Equal(t, uint32(1), flat.mipCount())

	chained := &TextureInfo{Width: 256, Height: 256, Flags: TexGenMips}
	assert.Equal(t, uint32(9), chained.mipCount())

	capped := &TextureInfo{Width: 256, Height: 256, Flags: TexGenMips, Mips: 4}
	assert.Equal(t, uint32(4), capped.mipCount())
}
