package vkr

import (
	"sync"

	vk "github.com/vulkan-go/vulkan"
)

// SamplerFilter is the min/mag filtering mode.
type SamplerFilter int32

const (
	SamplerFilterLinear SamplerFilter = iota
	SamplerFilterNearest
	SamplerFilterAnisotropic
)

// SamplerAddress is the UVW wrap mode.
type SamplerAddress int32

const (
	SamplerAddressWrap SamplerAddress = iota
	SamplerAddressClamp
	SamplerAddressMirror
)

// SamplerKey is the full sampler state. Equal keys share one backend
// sampler through the process-wide cache. A non-null Ycbcr conversion
// makes the sampler immutable in descriptor layouts and changes layout
// identity.
type SamplerKey struct {
	Filter     SamplerFilter
	Address    SamplerAddress
	Anisotropy uint32
	Compare    vk.CompareOp
	LodBias    float32
	Ycbcr      vk.SamplerYcbcrConversion
}

type samplerEntry struct {
	sampler vk.Sampler
	refs    int
}

// SamplerCache interns sampler state process-wide. Acquire/Release are
// refcounted; the last release defers destruction through the command
// queue.
type SamplerCache struct {
	mu      sync.Mutex
	entries map[SamplerKey]*samplerEntry
	queue   *CmdQueue

	// create is the backend constructor; replaceable in tests.
	create func(SamplerKey) (vk.Sampler, error)
}

func newSamplerCache(d *Device, queue *CmdQueue) *SamplerCache {
	c := &SamplerCache{
		entries: map[SamplerKey]*samplerEntry{},
		queue:   queue,
	}
	c.create = func(key SamplerKey) (vk.Sampler, error) {
		return createSampler(d, key)
	}
	return c
}

func createSampler(d *Device, key SamplerKey) (vk.Sampler, error) {
	var filter vk.Filter
	var mip vk.SamplerMipmapMode
	switch key.Filter {
	case SamplerFilterNearest:
		filter = vk.FilterNearest
		mip = vk.SamplerMipmapModeNearest
	default:
		filter = vk.FilterLinear
		mip = vk.SamplerMipmapModeLinear
	}

	var address vk.SamplerAddressMode
	switch key.Address {
	case SamplerAddressClamp:
		address = vk.SamplerAddressModeClampToEdge
	case SamplerAddressMirror:
		address = vk.SamplerAddressModeMirroredRepeat
	default:
		address = vk.SamplerAddressModeRepeat
	}

	info := vk.SamplerCreateInfo{
		SType:                   vk.StructureTypeSamplerCreateInfo,
		MagFilter:               filter,
		MinFilter:               filter,
		MipmapMode:              mip,
		AddressModeU:            address,
		AddressModeV:            address,
		AddressModeW:            address,
		MipLodBias:              key.LodBias,
		MinLod:                  0,
		MaxLod:                  vk.LodClampNone,
		BorderColor:             vk.BorderColorFloatTransparentBlack,
		UnnormalizedCoordinates: vk.False,
	}
	if key.Filter == SamplerFilterAnisotropic && key.Anisotropy > 1 {
		info.AnisotropyEnable = vk.True
		info.MaxAnisotropy = float32(key.Anisotropy)
	}
	if key.Compare != vk.CompareOpNever {
		info.CompareEnable = vk.True
		info.CompareOp = key.Compare
	}
	if key.Ycbcr != vk.NullSamplerYcbcrConversion {
		info.PNext = unsafePtr(&vk.SamplerYcbcrConversionInfo{
			SType:      vk.StructureTypeSamplerYcbcrConversionInfo,
			Conversion: key.Ycbcr,
		})
	}

	var sampler vk.Sampler
	if err := vkErr(vk.CreateSampler(d.VKDevice, &info, nil, &sampler)); err != nil {
		return vk.NullSampler, err
	}
	return sampler, nil
}

// Acquire returns the backend sampler for key, creating it on first
// use and bumping its refcount otherwise.
func (c *SamplerCache) Acquire(key SamplerKey) (vk.Sampler, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.refs++
		return e.sampler, nil
	}

	sampler, err := c.create(key)
	if err != nil {
		return vk.NullSampler, err
	}
	c.entries[key] = &samplerEntry{sampler: sampler, refs: 1}
	return sampler, nil
}

// Release drops one reference; the last reference defers the backend
// destroy through the command queue.
func (c *SamplerCache) Release(key SamplerKey) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return
	}
	e.refs--
	if e.refs > 0 {
		return
	}
	delete(c.entries, key)
	c.queue.deferDestroy(Cmd{Op: CmdDestroySampler, Sampler: e.sampler})
	if key.Ycbcr != vk.NullSamplerYcbcrConversion {
		c.queue.deferDestroy(Cmd{Op: CmdDestroyYcbcrConversion, Ycbcr: key.Ycbcr})
	}
}

// refs reports the live refcount for key; zero when uncached.
func (c *SamplerCache) refs(key SamplerKey) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		return e.refs
	}
	return 0
}

func (c *SamplerCache) shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, e := range c.entries {
		c.queue.deferDestroy(Cmd{Op: CmdDestroySampler, Sampler: e.sampler})
		delete(c.entries, key)
	}
}
