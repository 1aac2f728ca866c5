// Package vkr is a real-time rendering core over Vulkan.
//
// The renderer owns three systems: a deferred command queue that
// batches uploads and postpones destruction until the GPU is done with
// a resource, a pipeline cache that interns material state, render
// passes and vertex formats so pipelines are shared across everything
// that can share them, and a per-frame renderer that records sorted
// render lists into frames kept in flight.
//
// Resources hang off a Renderer: buffers, textures, shaders,
// materials, meshes and compute kernels. Any goroutine may create and
// destroy resources; goroutines that record non-destroy work register
// themselves first with Commands.ThreadInit.
package vkr
