package vkr

import (
	"sort"
	"unsafe"

	"github.com/xlab/linmath"
)

// Instance is the per-draw data every rendered mesh carries.
type Instance struct {
	Transform linmath.Mat4x4
	Color     [4]float32
}

// DrawRecord is one mesh/material pair with a run of instances in the
// list's instance arena.
type DrawRecord struct {
	Material *Material
	Mesh     *Mesh

	// InstanceOffset is a byte offset into the list's instance arena.
	InstanceOffset uint32
	InstanceCount  uint32
	InstanceStride uint32

	key uint64
}

// RenderList collects draws for a frame. Lists are not safe for
// concurrent use; record one list per goroutine and submit them in
// order.
type RenderList struct {
	draws     []DrawRecord
	instances []byte

	// PreserveOrder skips sorting, keeping submission order. Useful
	// for UI layers where draw order is the z order.
	PreserveOrder bool
}

// sortKey packs queue offset, material and mesh identity so sorting
// groups draws by pipeline first, then by mesh. The queue offset is
// biased to sort negatives before zero.
func sortKey(queueOffset int32, materialID, meshID uint32) uint64 {
	q := uint64(uint16(clampQueue(queueOffset) + 32768))
	return q<<48 | uint64(materialID&0xffffff)<<24 | uint64(meshID&0xffffff)
}

func clampQueue(q int32) int32 {
	if q > 32767 {
		return 32767
	}
	if q < -32768 {
		return -32768
	}
	return q
}

// Add records a draw of mesh with material for every instance. The
// instance data is copied into the list.
func (l *RenderList) Add(material *Material, mesh *Mesh, instances []Instance) {
	l.AddRaw(material, mesh, sliceBytes(instances),
		uint32(unsafe.Sizeof(Instance{})), uint32(len(instances)))
}

// AddRaw records a draw whose per-instance data is an opaque byte
// blob, stride bytes per instance. Shaders that declare their own
// instance layout use this directly; Add wraps it for the standard
// Instance struct.
func (l *RenderList) AddRaw(material *Material, mesh *Mesh, data []byte, stride, count uint32) {
	if count == 0 || stride == 0 || !material.IsValid() || !mesh.IsValid() {
		return
	}
	if uint32(len(data)) < stride*count {
		return
	}
	offset := uint32(len(l.instances))
	l.instances = append(l.instances, data[:stride*count]...)

	l.draws = append(l.draws, DrawRecord{
		Material:       material,
		Mesh:           mesh,
		InstanceOffset: offset,
		InstanceCount:  count,
		InstanceStride: stride,
		key:            sortKey(material.QueueOffset, material.id, mesh.sortID),
	})
}

// Sort orders draws by queue offset, then material, then mesh. The
// sort is stable so equal keys keep submission order. PreserveOrder
// lists are left untouched.
func (l *RenderList) Sort() {
	if l.PreserveOrder {
		return
	}
	sort.SliceStable(l.draws, func(i, j int) bool {
		return l.draws[i].key < l.draws[j].key
	})
}

// Draws exposes the recorded draws in their current order.
func (l *RenderList) Draws() []DrawRecord {
	return l.draws
}

// InstanceData is the packed instance arena for this list.
func (l *RenderList) InstanceData() []byte {
	return l.instances
}

// Len reports the number of recorded draws.
func (l *RenderList) Len() int {
	return len(l.draws)
}

// Clear empties the list but keeps its allocations for reuse.
func (l *RenderList) Clear() {
	l.draws = l.draws[:0]
	l.instances = l.instances[:0]
}
