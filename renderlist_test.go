package vkr

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMaterial(id uint32, queueOffset int32) *Material {
	return &Material{id: id, QueueOffset: queueOffset, valid: true}
}

func testMesh(sortID uint32) *Mesh {
	return &Mesh{sortID: sortID, valid: true}
}

func TestSortKeyOrdering(t *testing.T) {
	// Queue offset dominates, material breaks ties, mesh last.
	assert.Less(t, sortKey(-10, 99, 99), sortKey(0, 0, 0))
	assert.Less(t, sortKey(0, 1, 99), sortKey(0, 2, 0))
	assert.Less(t, sortKey(5, 1, 1), sortKey(5, 1, 2))
	assert.Less(t, sortKey(-32768, 0, 0), sortKey(32767, 0, 0))
}

func TestSortKeyClampsQueue(t *testing.T) {
	assert.Equal(t, sortKey(100000, 1, 1), sortKey(32767, 1, 1))
	assert.Equal(t, sortKey(-100000, 1, 1), sortKey(-32768, 1, 1))
}

func TestRenderListSort(t *testing.T) {
	opaque := testMaterial(1, 0)
	opaque2 := testMaterial(2, 0)
	transparent := testMaterial(3, 100)
	sky := testMaterial(4, -50)
	mesh := testMesh(1)

	var l RenderList
	inst := []Instance{{}}
	l.Add(transparent, mesh, inst)
	l.Add(opaque2, mesh, inst)
	l.Add(sky, mesh, inst)
	l.Add(opaque, mesh, inst)
	l.Sort()

	draws := l.Draws()
	require.Len(t, draws, 4)
	assert.Same(t, sky, draws[0].Material)
	assert.Same(t, opaque, draws[1].Material)
	assert.Same(t, opaque2, draws[2].Material)
	assert.Same(t, transparent, draws[3].Material)
}

func TestRenderListSortStable(t *testing.T) {
	mat := testMaterial(1, 0)
	mesh := testMesh(1)

	var l RenderList
	for i := 0; i < 4; i++ {
		l.Add(mat, mesh, []Instance{{Color: [4]float32{float32(i), 0, 0, 0}}})
	}
	l.Sort()

	for i, d := range l.Draws() {
		assert.Equal(t, uint32(i)*uint32(unsafe.Sizeof(Instance{})), d.InstanceOffset,
			"equal keys keep submission order")
	}
}

func TestRenderListPreserveOrder(t *testing.T) {
	first := testMaterial(9, 100)
	second := testMaterial(1, -100)
	mesh := testMesh(1)

	l := RenderList{PreserveOrder: true}
	l.Add(first, mesh, []Instance{{}})
	l.Add(second, mesh, []Instance{{}})
	l.Sort()

	draws := l.Draws()
	require.Len(t, draws, 2)
	assert.Same(t, first, draws[0].Material)
	assert.Same(t, second, draws[1].Material)
}

func TestRenderListInstanceRuns(t *testing.T) {
	mat := testMaterial(1, 0)
	mesh := testMesh(1)
	instSize := uint32(unsafe.Sizeof(Instance{}))

	var l RenderList
	l.Add(mat, mesh, make([]Instance, 3))
	l.Add(mat, mesh, make([]Instance, 2))

	draws := l.Draws()
	require.Len(t, draws, 2)
	assert.Equal(t, uint32(0), draws[0].InstanceOffset)
	assert.Equal(t, uint32(3), draws[0].InstanceCount)
	assert.Equal(t, 3*instSize, draws[1].InstanceOffset)
	assert.Equal(t, uint32(2), draws[1].InstanceCount)
	assert.Len(t, l.InstanceData(), int(5*instSize))
}

func TestRenderListAddRawStride(t *testing.T) {
	mat := testMaterial(1, 0)
	mesh := testMesh(1)

	var l RenderList
	// Two 8-byte instances packed back to back.
	l.AddRaw(mat, mesh, []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}, 8, 2)

	draws := l.Draws()
	require.Len(t, draws, 1)
	assert.Equal(t, uint32(8), draws[0].InstanceStride)
	assert.Equal(t, uint32(2), draws[0].InstanceCount)
	assert.Len(t, l.InstanceData(), 16)

	// Typed Add records the standard stride.
	l.Add(mat, mesh, []Instance{{}})
	assert.Equal(t, uint32(unsafe.Sizeof(Instance{})), l.Draws()[1].InstanceStride)
}

func TestRenderListAddRawRejectsShortData(t *testing.T) {
	mat := testMaterial(1, 0)
	mesh := testMesh(1)

	var l RenderList
	l.AddRaw(mat, mesh, make([]byte, 15), 8, 2)
	l.AddRaw(mat, mesh, make([]byte, 16), 0, 2)
	assert.Zero(t, l.Len())
}

func TestRenderListSkipsEmptyAndInvalid(t *testing.T) {
	mat := testMaterial(1, 0)
	mesh := testMesh(1)

	var l RenderList
	l.Add(mat, mesh, nil)
	l.Add(nil, mesh, []Instance{{}})
	l.Add(mat, nil, []Instance{{}})
	assert.Zero(t, l.Len())
}

func TestRenderListClearKeepsCapacity(t *testing.T) {
	mat := testMaterial(1, 0)
	mesh := testMesh(1)

	var l RenderList
	for i := 0; i < 16; i++ {
		l.Add(mat, mesh, []Instance{{}})
	}
	capDraws := cap(l.draws)
	capInst := cap(l.instances)

	l.Clear()
	assert.Zero(t, l.Len())
	assert.Empty(t, l.InstanceData())
	assert.Equal(t, capDraws, cap(l.draws))
	assert.Equal(t, capInst, cap(l.instances))
}
