package vkr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	vk "github.com/vulkan-go/vulkan"
)

func testLayout(t *testing.T) *BindLayout {
	t.Helper()
	l, err := buildBindLayout(nil, []ShaderBinding{
		{Name: "SystemBuffer", Kind: BindConstantBuffer, Slot: 0, Stages: StageVertex},
		{Name: "diffuse", Kind: BindTexture, Slot: 1, Stages: StagePixel},
	})
	require.NoError(t, err)
	return l
}

func TestBindSetFingerprint(t *testing.T) {
	l := testLayout(t)

	a := NewBindSet()
	a.Buffers[0] = BoundBuffer{Offset: 0, Size: 256}

	b := NewBindSet()
	b.Buffers[0] = BoundBuffer{Offset: 0, Size: 256}
	assert.Equal(t, a.fingerprint(1, l), b.fingerprint(1, l),
		"identical bindings share a fingerprint")

	b.Buffers[0] = BoundBuffer{Offset: 256, Size: 256}
	assert.NotEqual(t, a.fingerprint(1, l), b.fingerprint(1, l),
		"a moved buffer range is a different set")

	assert.NotEqual(t, a.fingerprint(1, l), a.fingerprint(2, l),
		"material identity is part of the fingerprint")
}

func TestKernelIDsDisjointFromMaterials(t *testing.T) {
	l := testLayout(t)
	s := NewBindSet()
	s.Buffers[0] = BoundBuffer{Size: 64}

	id := kernelIDs.Add(1) | kernelIDBit
	assert.NotZero(t, id&kernelIDBit, "kernel ids carry the high bit")
	assert.NotEqual(t, s.fingerprint(id, l), s.fingerprint(id&^kernelIDBit, l),
		"a kernel never shares a cached set with a material of the same index")
}

func TestBindSetReset(t *testing.T) {
	s := NewBindSet()
	s.Buffers[0] = BoundBuffer{Size: 64}
	s.Textures[1] = BoundTexture{}
	s.Reset()
	assert.Empty(t, s.Buffers)
	assert.Empty(t, s.Textures)
}

func TestBuildWrites(t *testing.T) {
	l := testLayout(t)

	s := NewBindSet()
	s.Buffers[0] = BoundBuffer{Offset: 128, Size: 256}
	s.Textures[1] = BoundTexture{}

	writes, err := buildWrites(l, s, vk.NullDescriptorSet)
	require.NoError(t, err)
	require.Len(t, writes, 2)

	assert.Equal(t, vk.DescriptorTypeUniformBuffer, writes[0].DescriptorType)
	require.Len(t, writes[0].PBufferInfo, 1)
	assert.Equal(t, vk.DeviceSize(128), writes[0].PBufferInfo[0].Offset)
	assert.Equal(t, vk.DeviceSize(256), writes[0].PBufferInfo[0].Range)

	assert.Equal(t, vk.DescriptorTypeCombinedImageSampler, writes[1].DescriptorType)
	require.Len(t, writes[1].PImageInfo, 1)
	assert.Equal(t, vk.ImageLayoutShaderReadOnlyOptimal, writes[1].PImageInfo[0].ImageLayout)
}

func TestBuildWritesMissingBinding(t *testing.T) {
	l := testLayout(t)

	s := NewBindSet()
	s.Buffers[0] = BoundBuffer{Size: 256}
	_, err := buildWrites(l, s, vk.NullDescriptorSet)
	assert.ErrorIs(t, err, ErrShaderBindingMissing)

	empty := NewBindSet()
	empty.Textures[1] = BoundTexture{}
	_, err = buildWrites(l, empty, vk.NullDescriptorSet)
	assert.ErrorIs(t, err, ErrShaderBindingMissing)
}

func TestStorageImageWriteLayout(t *testing.T) {
	l, err := buildBindLayout(nil, []ShaderBinding{
		{Name: "dst", Kind: BindStorageImage, Slot: 0, Stages: StageCompute},
	})
	require.NoError(t, err)

	s := NewBindSet()
	s.Textures[0] = BoundTexture{}
	writes, err := buildWrites(l, s, vk.NullDescriptorSet)
	require.NoError(t, err)
	require.Len(t, writes, 1)
	assert.Equal(t, vk.ImageLayoutGeneral, writes[0].PImageInfo[0].ImageLayout)
}
