package vkr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	vk "github.com/vulkan-go/vulkan"
)

func TestMultiviewSupported(t *testing.T) {
	none := map[string]bool{}
	ext := map[string]bool{extMultiview: true}

	assert.True(t, multiviewSupported(vk.MakeVersion(1, 1, 0), none), "core in 1.1")
	assert.True(t, multiviewSupported(vk.MakeVersion(1, 2, 0), none))
	assert.False(t, multiviewSupported(vk.MakeVersion(1, 0, 0), none),
		"a 1.0 device without the extension reports multiview off")
	assert.True(t, multiviewSupported(vk.MakeVersion(1, 0, 0), ext))
}
