package vkr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	vk "github.com/vulkan-go/vulkan"
)

func testSamplerCache() (*SamplerCache, *CmdQueue, *int) {
	q := NewCmdQueue(nil, nil)
	c := newSamplerCache(nil, q)
	creates := new(int)
	c.create = func(SamplerKey) (vk.Sampler, error) {
		(*creates)++
		return vk.NullSampler, nil
	}
	return c, q, creates
}

func TestSamplerCacheInterning(t *testing.T) {
	c, _, creates := testSamplerCache()

	linear := SamplerKey{Filter: SamplerFilterLinear, Address: SamplerAddressWrap}
	_, err := c.Acquire(linear)
	require.NoError(t, err)
	_, err = c.Acquire(linear)
	require.NoError(t, err)
	assert.Equal(t, 1, *creates, "equal keys share one sampler")
	assert.Equal(t, 2, c.refs(linear))

	clamp := linear
	clamp.Address = SamplerAddressClamp
	_, err = c.Acquire(clamp)
	require.NoError(t, err)
	assert.Equal(t, 2, *creates, "state change is a new sampler")
}

func TestSamplerCacheRelease(t *testing.T) {
	c, q, creates := testSamplerCache()

	var destroyed []CmdOp
	q.SetDestroyHook(func(cmd *Cmd) { destroyed = append(destroyed, cmd.Op) })

	key := SamplerKey{Filter: SamplerFilterNearest}
	_, err := c.Acquire(key)
	require.NoError(t, err)
	_, err = c.Acquire(key)
	require.NoError(t, err)

	c.Release(key)
	assert.Equal(t, 1, c.refs(key))
	require.NoError(t, q.DrainInto(nil, nil, 0))
	q.Flush()
	assert.Empty(t, destroyed, "live references block destruction")

	c.Release(key)
	assert.Zero(t, c.refs(key))
	require.NoError(t, q.DrainInto(nil, nil, 0))
	q.Flush()
	assert.Equal(t, []CmdOp{CmdDestroySampler}, destroyed, "last release defers one destroy")

	// A fresh acquire after the last release creates again.
	_, err = c.Acquire(key)
	require.NoError(t, err)
	assert.Equal(t, 2, *creates)
}

func TestSamplerCacheReleaseUnknown(t *testing.T) {
	c, _, _ := testSamplerCache()
	c.Release(SamplerKey{Anisotropy: 16}) // no-op
	assert.Zero(t, c.refs(SamplerKey{Anisotropy: 16}))
}

func TestSamplerCacheShutdown(t *testing.T) {
	c, q, _ := testSamplerCache()

	var destroyed int
	q.SetDestroyHook(func(*Cmd) { destroyed++ })

	for _, key := range []SamplerKey{
		{Filter: SamplerFilterLinear},
		{Filter: SamplerFilterNearest},
		{Filter: SamplerFilterAnisotropic, Anisotropy: 8},
	} {
		_, err := c.Acquire(key)
		require.NoError(t, err)
	}

	c.shutdown()
	require.NoError(t, q.DrainInto(nil, nil, 0))
	q.Flush()
	assert.Equal(t, 3, destroyed)
}
