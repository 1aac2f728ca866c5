package vkr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeBindingsCombinesStages(t *testing.T) {
	slots, err := mergeBindings([]ShaderBinding{
		{Name: "SystemBuffer", Kind: BindConstantBuffer, Slot: 0, Stages: StageVertex},
		{Name: "SystemBuffer", Kind: BindConstantBuffer, Slot: 0, Stages: StagePixel},
		{Name: "diffuse", Kind: BindTexture, Slot: 2, Stages: StagePixel},
	})
	require.NoError(t, err)
	require.Len(t, slots, 2)
	assert.Equal(t, StageVertex|StagePixel, slots[0].Stages)
	assert.Equal(t, "diffuse", slots[1].Name)
}

func TestMergeBindingsSortedBySlot(t *testing.T) {
	slots, err := mergeBindings([]ShaderBinding{
		{Name: "c", Kind: BindTexture, Slot: 5, Stages: StagePixel},
		{Name: "a", Kind: BindConstantBuffer, Slot: 0, Stages: StageVertex},
		{Name: "b", Kind: BindStorageBuffer, Slot: 3, Stages: StageVertex},
	})
	require.NoError(t, err)
	require.Len(t, slots, 3)
	for i := 1; i < len(slots); i++ {
		assert.Less(t, slots[i-1].Slot, slots[i].Slot)
	}
}

func TestMergeBindingsConflict(t *testing.T) {
	_, err := mergeBindings([]ShaderBinding{
		{Name: "params", Kind: BindConstantBuffer, Slot: 1, Stages: StageVertex},
		{Name: "other", Kind: BindConstantBuffer, Slot: 1, Stages: StagePixel},
	})
	assert.ErrorIs(t, err, ErrShaderBindingConflict)

	_, err = mergeBindings([]ShaderBinding{
		{Name: "params", Kind: BindConstantBuffer, Slot: 1, Stages: StageVertex},
		{Name: "params", Kind: BindStorageBuffer, Slot: 1, Stages: StagePixel},
	})
	assert.ErrorIs(t, err, ErrShaderBindingConflict)
}

func TestBindLayoutLookup(t *testing.T) {
	l, err := buildBindLayout(nil, []ShaderBinding{
		{Name: "SystemBuffer", Kind: BindConstantBuffer, Slot: 0, Stages: StageVertex},
		{Name: "diffuse", Kind: BindTexture, Slot: 1, Stages: StagePixel},
	})
	require.NoError(t, err)

	s, ok := l.Lookup("diffuse")
	require.True(t, ok)
	assert.Equal(t, uint32(1), s.Slot)
	assert.Equal(t, BindTexture, s.Kind)

	_, ok = l.Lookup("missing")
	assert.False(t, ok)
}
