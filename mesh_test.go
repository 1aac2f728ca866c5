package vkr

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
)

func TestDefaultVertexFormatMatchesVertex(t *testing.T) {
	assert.Equal(t, uintptr(DefaultVertexFormat.Stride), unsafe.Sizeof(Vertex{}))
	assert.Equal(t, uint32(unsafe.Offsetof(Vertex{}.Norm)), DefaultVertexFormat.Elements[1].Offset)
	assert.Equal(t, uint32(unsafe.Offsetof(Vertex{}.UV)), DefaultVertexFormat.Elements[2].Offset)
	assert.Equal(t, uint32(unsafe.Offsetof(Vertex{}.Color)), DefaultVertexFormat.Elements[3].Offset)
}

func TestVertexFormatKey(t *testing.T) {
	assert.Equal(t, DefaultVertexFormat.key(), DefaultVertexFormat.key())

	narrow := VertexFormat{Stride: 12, Elements: DefaultVertexFormat.Elements[:1]}
	assert.NotEqual(t, DefaultVertexFormat.key(), narrow.key())

	shifted := VertexFormat{Stride: 12, Elements: []VertexElement{
		{Format: DefaultVertexFormat.Elements[0].Format, Offset: 4},
	}}
	assert.NotEqual(t, narrow.key(), shifted.key())
}

func TestMeshWithoutIndicesIsNonIndexed(t *testing.T) {
	m := &Mesh{Format: DefaultVertexFormat, valid: true}
	assert.False(t, m.Indexed())
	assert.Zero(t, m.IndexCount())

	m.inds = &Buffer{valid: true, Count: 6}
	assert.True(t, m.Indexed())
	assert.Equal(t, 6, m.IndexCount())
}

func TestMeshSortIDsDistinct(t *testing.T) {
	a := meshSortIDs.Add(1)
	b := meshSortIDs.Add(1)
	assert.NotEqual(t, a, b)
}
