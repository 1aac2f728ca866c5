package vkr

import (
	"fmt"
	"strings"
	"sync/atomic"

	vk "github.com/vulkan-go/vulkan"
	"github.com/xlab/linmath"
)

// VertexElement is one attribute within a vertex.
type VertexElement struct {
	Format vk.Format
	Offset uint32
}

// VertexFormat describes a vertex layout. Formats are interned by the
// pipeline cache so meshes sharing a layout share pipelines.
type VertexFormat struct {
	Stride   uint32
	Elements []VertexElement
}

func (f VertexFormat) key() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d", f.Stride)
	for _, e := range f.Elements {
		fmt.Fprintf(&b, ":%d@%d", e.Format, e.Offset)
	}
	return b.String()
}

// Vertex is the standard interleaved vertex layout.
type Vertex struct {
	Pos   linmath.Vec3
	Norm  linmath.Vec3
	UV    linmath.Vec2
	Color [4]uint8
}

// DefaultVertexFormat matches the Vertex struct.
var DefaultVertexFormat = VertexFormat{
	Stride: 36,
	Elements: []VertexElement{
		{Format: vk.FormatR32g32b32Sfloat, Offset: 0},
		{Format: vk.FormatR32g32b32Sfloat, Offset: 12},
		{Format: vk.FormatR32g32Sfloat, Offset: 24},
		{Format: vk.FormatR8g8b8a8Unorm, Offset: 32},
	},
}

// meshSortIDs gives every mesh a stable identity for draw sorting.
var meshSortIDs atomic.Uint32

// Mesh owns a vertex and an index buffer sharing one usage mode.
type Mesh struct {
	Format VertexFormat

	renderer *Renderer
	formatID uint32
	sortID   uint32
	verts    *Buffer
	inds     *Buffer
	usage    BufferUsage
	name     string
	valid    bool
}

// CreateMesh builds a mesh from raw interleaved vertex bytes and
// 32-bit indices. An empty index slice makes a non-indexed mesh that
// draws its vertices in order. Static meshes upload once; dynamic
// meshes stay host-visible for SetVerts.
func (r *Renderer) CreateMesh(format VertexFormat, verts []byte, vertCount int, inds []uint32, usage BufferUsage) (*Mesh, error) {
	id, err := r.Pipelines.RegisterVertexFormat(format)
	if err != nil {
		return nil, err
	}

	m := &Mesh{
		Format:   format,
		renderer: r,
		formatID: id,
		sortID:   meshSortIDs.Add(1),
		usage:    usage,
		valid:    true,
	}
	if m.verts, err = r.CreateBuffer(verts, vertCount, int(format.Stride), BufferTypeVertex, usage); err != nil {
		m.Destroy()
		return nil, err
	}
	if len(inds) > 0 {
		if m.inds, err = r.CreateBuffer(sliceBytes(inds), len(inds), 4, BufferTypeIndex, usage); err != nil {
			m.Destroy()
			return nil, err
		}
	}
	return m, nil
}

// CreateMeshOf is CreateMesh for the standard Vertex layout.
func (r *Renderer) CreateMeshOf(verts []Vertex, inds []uint32, usage BufferUsage) (*Mesh, error) {
	return r.CreateMesh(DefaultVertexFormat, sliceBytes(verts), len(verts), inds, usage)
}

func (m *Mesh) IsValid() bool {
	return m != nil && m.valid
}

// SetVerts replaces the vertex data. A static mesh is promoted to a
// dynamic one on first write; a dynamic buffer that is too small is
// reallocated.
func (m *Mesh) SetVerts(verts []byte, count int) error {
	need := count * int(m.Format.Stride)
	if m.usage == BufferUsageDynamic && m.verts.IsValid() && uint64(need) <= m.verts.SizeBytes() {
		m.verts.Count = count
		return m.verts.Set(verts[:need])
	}

	fresh, err := m.renderer.CreateBuffer(verts, count, int(m.Format.Stride), BufferTypeVertex, BufferUsageDynamic)
	if err != nil {
		return err
	}
	if m.verts != nil {
		m.verts.Destroy()
	}
	m.verts = fresh
	m.usage = BufferUsageDynamic
	return nil
}

// SetInds replaces the index data, promoting to dynamic the same way
// SetVerts does.
func (m *Mesh) SetInds(inds []uint32) error {
	data := sliceBytes(inds)
	if m.usage == BufferUsageDynamic && m.inds.IsValid() && uint64(len(data)) <= m.inds.SizeBytes() {
		m.inds.Count = len(inds)
		return m.inds.Set(data)
	}

	fresh, err := m.renderer.CreateBuffer(data, len(inds), 4, BufferTypeIndex, BufferUsageDynamic)
	if err != nil {
		return err
	}
	if m.inds != nil {
		m.inds.Destroy()
	}
	m.inds = fresh
	m.usage = BufferUsageDynamic
	return nil
}

func (m *Mesh) VertexCount() int {
	if m.verts == nil {
		return 0
	}
	return m.verts.Count
}

// Indexed reports whether the mesh carries an index buffer.
func (m *Mesh) Indexed() bool {
	return m.inds.IsValid()
}

func (m *Mesh) IndexCount() int {
	if m.inds == nil {
		return 0
	}
	return m.inds.Count
}

func (m *Mesh) SetName(name string) {
	m.name = name
	if m.verts != nil {
		m.verts.SetName(name + "/verts")
	}
	if m.inds != nil {
		m.inds.SetName(name + "/inds")
	}
}

func (m *Mesh) Name() string { return m.name }

// Destroy drops the vertex format reference and schedules the buffers
// for deferred destruction.
func (m *Mesh) Destroy() {
	if !m.IsValid() {
		return
	}
	m.valid = false
	m.renderer.Pipelines.UnregisterVertexFormat(m.formatID)
	if m.verts != nil {
		m.verts.Destroy()
	}
	if m.inds != nil {
		m.inds.Destroy()
	}
}
