package vkr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	vk "github.com/vulkan-go/vulkan"
)

func TestAttachmentLoadBehavior(t *testing.T) {
	assert.Equal(t, vk.AttachmentLoadOpClear, loadOp(true))
	assert.Equal(t, vk.AttachmentLoadOpLoad, loadOp(false))
}

func TestAttachmentInitialLayout(t *testing.T) {
	// A cleared attachment may start undefined; loading requires the
	// contents, so the pass must declare the real attachment layout.
	assert.Equal(t, vk.ImageLayoutUndefined,
		initialLayout(true, vk.ImageLayoutColorAttachmentOptimal))
	assert.Equal(t, vk.ImageLayoutColorAttachmentOptimal,
		initialLayout(false, vk.ImageLayoutColorAttachmentOptimal))
	assert.Equal(t, vk.ImageLayoutDepthStencilAttachmentOptimal,
		initialLayout(false, vk.ImageLayoutDepthStencilAttachmentOptimal))
}
