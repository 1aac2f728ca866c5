package vkr

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBlob() *ShaderBlob {
	return &ShaderBlob{
		Name:      "unlit",
		ParamSize: 32,
		Bindings: []ShaderBinding{
			{Name: "SystemBuffer", Kind: BindConstantBuffer, Slot: 0, Stages: StageVertex | StagePixel},
			{Name: "$Globals", Kind: BindConstantBuffer, Slot: 1, Stages: StagePixel},
			{Name: "diffuse", Kind: BindTexture, Slot: 2, Stages: StagePixel},
		},
		Params: []ShaderParam{
			{Name: "color", Offset: 0, Size: 16},
			{Name: "tex_scale", Offset: 16, Size: 4},
		},
		Stages: []ShaderStageCode{
			{Stage: StageVertex, Code: []uint32{0x07230203, 1, 2, 3}},
			{Stage: StagePixel, Code: []uint32{0x07230203, 4, 5}},
		},
	}
}

func TestShaderBlobRoundtrip(t *testing.T) {
	data, err := EncodeShaderBlob(testBlob())
	require.NoError(t, err)

	blob, err := ParseShaderBlob(data)
	require.NoError(t, err)

	assert.Equal(t, "unlit", blob.Name)
	assert.Equal(t, uint32(32), blob.ParamSize)
	require.Len(t, blob.Bindings, 3)
	assert.Equal(t, "$Globals", blob.Bindings[1].Name)
	assert.Equal(t, StageVertex|StagePixel, blob.Bindings[0].Stages)
	require.Len(t, blob.Params, 2)
	assert.Equal(t, uint32(16), blob.Params[1].Offset)
	require.Len(t, blob.Stages, 2)
	assert.Equal(t, []uint32{0x07230203, 1, 2, 3}, blob.Stages[0].Code)
}

func TestParseShaderBlobBadMagic(t *testing.T) {
	_, err := ParseShaderBlob([]byte("SPRV\x01\x00\x00\x00"))
	assert.Error(t, err)

	_, err = ParseShaderBlob(nil)
	assert.Error(t, err)
}

func TestParseShaderBlobBadVersion(t *testing.T) {
	data, err := EncodeShaderBlob(testBlob())
	require.NoError(t, err)
	data[4] = 0xff
	_, err = ParseShaderBlob(data)
	assert.Error(t, err)
}

func TestParseShaderBlobTruncated(t *testing.T) {
	data, err := EncodeShaderBlob(testBlob())
	require.NoError(t, err)
	for _, n := range []int{8, 20, len(data) / 2, len(data) - 1} {
		_, err := ParseShaderBlob(data[:n])
		assert.Error(t, err, "truncated at %d bytes", n)
	}
}

func TestParseShaderBlobNoStages(t *testing.T) {
	blob := testBlob()
	blob.Stages = nil
	data, err := EncodeShaderBlob(blob)
	require.NoError(t, err)
	_, err = ParseShaderBlob(data)
	assert.Error(t, err)
}

func TestEncodeShaderBlobOversizedName(t *testing.T) {
	blob := testBlob()
	blob.Bindings[0].Name = strings.Repeat("x", shaderNameLen)
	_, err := EncodeShaderBlob(blob)
	assert.Error(t, err)
}
