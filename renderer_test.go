package vkr

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFullscreenTriangleCoversClipSpace(t *testing.T) {
	verts := fullscreenTriangle()
	assert.Len(t, verts, 3, "one triangle, no index buffer")

	// The triangle's bounding box must contain all of clip space, with
	// UV 0..1 mapped onto the visible -1..1 range.
	for i, v := range verts {
		assert.InDelta(t, (v.Pos[0]+1)/2, float64(v.UV[0]), 1e-6, "vertex %d u", i)
		assert.InDelta(t, (v.Pos[1]+1)/2, float64(v.UV[1]), 1e-6, "vertex %d v", i)
	}
	assert.LessOrEqual(t, verts[0].Pos[0], float32(-1))
	assert.GreaterOrEqual(t, verts[1].Pos[0], float32(3))
	assert.GreaterOrEqual(t, verts[2].Pos[1], float32(3))
}

func TestBlitRect(t *testing.T) {
	// Zero extent selects the whole target.
	x, y, w, h := blitRect(10, 10, 0, 0, 256, 128)
	assert.Equal(t, [4]int{0, 0, 256, 128}, [4]int{int(x), int(y), int(w), int(h)})

	// In-bounds rects pass through.
	x, y, w, h = blitRect(16, 8, 64, 32, 256, 128)
	assert.Equal(t, [4]int{16, 8, 64, 32}, [4]int{int(x), int(y), int(w), int(h)})

	// Overhang is clipped at the target edge.
	x, y, w, h = blitRect(200, 100, 100, 100, 256, 128)
	assert.Equal(t, [4]int{200, 100, 56, 28}, [4]int{int(x), int(y), int(w), int(h)})

	// Negative origin is clipped at zero.
	x, y, w, h = blitRect(-10, -4, 20, 8, 256, 128)
	assert.Equal(t, [4]int{0, 0, 10, 4}, [4]int{int(x), int(y), int(w), int(h)})

	// A rect fully outside collapses to empty.
	_, _, w, _ = blitRect(300, 0, 10, 10, 256, 128)
	assert.Zero(t, w)
	_, _, w, _ = blitRect(-50, 0, 20, 10, 256, 128)
	assert.Zero(t, w)
}
