package vkr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	vk "github.com/vulkan-go/vulkan"
)

func testPipelineCache(t *testing.T) *PipelineCache {
	t.Helper()
	c, err := NewPipelineCache(nil, NewCmdQueue(nil, nil), nil)
	require.NoError(t, err)
	return c
}

func TestRegisterMaterialInterns(t *testing.T) {
	c := testPipelineCache(t)
	sh := &Shader{}

	a, err := c.RegisterMaterial(sh, DefaultMaterialState)
	require.NoError(t, err)
	b, err := c.RegisterMaterial(sh, DefaultMaterialState)
	require.NoError(t, err)
	assert.Equal(t, a, b, "same shader and state intern to one id")

	st := DefaultMaterialState
	st.Wireframe = true
	w, err := c.RegisterMaterial(sh, st)
	require.NoError(t, err)
	assert.NotEqual(t, a, w, "state change is a new material")

	// Two refs on a; a single unregister keeps the slot alive.
	c.UnregisterMaterial(a)
	again, err := c.RegisterMaterial(sh, DefaultMaterialState)
	require.NoError(t, err)
	assert.Equal(t, a, again)
}

func TestMaterialStateKeyCoversBlendStencilMask(t *testing.T) {
	c := testPipelineCache(t)
	sh := &Shader{}

	base, err := c.RegisterMaterial(sh, DefaultMaterialState)
	require.NoError(t, err)

	st := DefaultMaterialState
	st.Blend = BlendAlpha()
	alpha, err := c.RegisterMaterial(sh, st)
	require.NoError(t, err)
	assert.NotEqual(t, base, alpha, "enabling blending is a new material")

	st.Blend.DstColor = vk.BlendFactorOne
	add, err := c.RegisterMaterial(sh, st)
	require.NoError(t, err)
	assert.NotEqual(t, alpha, add, "a single blend factor changes the key")

	st = DefaultMaterialState
	st.ColorWriteMask = vk.ColorComponentFlags(vk.ColorComponentRBit)
	red, err := c.RegisterMaterial(sh, st)
	require.NoError(t, err)
	assert.NotEqual(t, base, red, "write mask is part of the key")

	st = DefaultMaterialState
	st.StencilEnabled = true
	st.StencilFront = StencilReplace()
	front, err := c.RegisterMaterial(sh, st)
	require.NoError(t, err)
	st.StencilBack = StencilReplace()
	st.StencilBack.Compare = vk.CompareOpEqual
	back, err := c.RegisterMaterial(sh, st)
	require.NoError(t, err)
	assert.NotEqual(t, front, back, "front and back stencil key independently")
}

func TestMaterialSlotReuse(t *testing.T) {
	c := testPipelineCache(t)

	a, err := c.RegisterMaterial(&Shader{}, DefaultMaterialState)
	require.NoError(t, err)
	c.UnregisterMaterial(a)

	b, err := c.RegisterMaterial(&Shader{}, DefaultMaterialState)
	require.NoError(t, err)
	assert.Equal(t, a, b, "freed slot is reused before the array grows")
}

func TestMaterialSlotGrowth(t *testing.T) {
	c := testPipelineCache(t)

	ids := map[uint32]bool{}
	for i := 0; i < pipelineCacheInitialCap*2+1; i++ {
		st := DefaultMaterialState
		st.StencilRef = uint32(i + 1)
		st.StencilEnabled = true
		id, err := c.RegisterMaterial(&Shader{}, st)
		require.NoError(t, err)
		assert.False(t, ids[id], "ids must be distinct while registered")
		ids[id] = true
	}
	assert.Len(t, ids, pipelineCacheInitialCap*2+1)
}

func TestRegisterRenderpassInterns(t *testing.T) {
	c := testPipelineCache(t)

	key := RenderPassKey{Color: TexFormatRGBA32, Depth: TexFormatDepth32, Samples: 1, ViewCount: 1}
	a, err := c.RegisterRenderpass(key)
	require.NoError(t, err)
	b, err := c.RegisterRenderpass(key)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	key.Samples = 4
	msaa, err := c.RegisterRenderpass(key)
	require.NoError(t, err)
	assert.NotEqual(t, a, msaa)

	c.UnregisterRenderpass(a)
	c.UnregisterRenderpass(b)
	again, err := c.RegisterRenderpass(RenderPassKey{Color: TexFormatRGBA32, Depth: TexFormatDepth32, Samples: 1, ViewCount: 1})
	require.NoError(t, err)
	assert.Equal(t, a, again, "slot freed once both refs drop")
}

func TestRegisterVertexFormatInterns(t *testing.T) {
	c := testPipelineCache(t)

	a, err := c.RegisterVertexFormat(DefaultVertexFormat)
	require.NoError(t, err)
	b, err := c.RegisterVertexFormat(DefaultVertexFormat)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	narrow := VertexFormat{
		Stride: 12,
		Elements: []VertexElement{
			{Format: vk.FormatR32g32b32Sfloat, Offset: 0},
		},
	}
	n, err := c.RegisterVertexFormat(narrow)
	require.NoError(t, err)
	assert.NotEqual(t, a, n)
}

func TestUnregisterDefersDestroys(t *testing.T) {
	q := NewCmdQueue(nil, nil)
	c, err := NewPipelineCache(nil, q, nil)
	require.NoError(t, err)

	var destroyed int
	q.SetDestroyHook(func(*Cmd) { destroyed++ })

	id, err := c.RegisterMaterial(&Shader{}, DefaultMaterialState)
	require.NoError(t, err)
	c.UnregisterMaterial(id)

	// Logic-only cache holds no backend handles, so nothing is parked.
	require.NoError(t, q.DrainInto(nil, nil, 0))
	q.Flush()
	assert.Zero(t, destroyed)
}
