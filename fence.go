package vkr

import (
	"time"

	vk "github.com/vulkan-go/vulkan"
)

type Fence struct {
	Device  *Device
	VKFence vk.Fence
}

func (d *Device) CreateFence(signaled bool) (*Fence, error) {
	fenceCreateInfo := vk.FenceCreateInfo{
		SType: vk.StructureTypeFenceCreateInfo,
	}
	if signaled {
		fenceCreateInfo.Flags = vk.FenceCreateFlags(vk.FenceCreateSignaledBit)
	}

	var fence vk.Fence
	if err := vk.Error(vk.CreateFence(d.VKDevice, &fenceCreateInfo, nil, &fence)); err != nil {
		return nil, err
	}
	return &Fence{Device: d, VKFence: fence}, nil
}

func (f *Fence) Status() vk.Result {
	return vk.GetFenceStatus(f.Device.VKDevice, f.VKFence)
}

func (f *Fence) Reset() {
	vk.ResetFences(f.Device.VKDevice, 1, []vk.Fence{f.VKFence})
}

func (f *Fence) Destroy() {
	vk.DestroyFence(f.Device.VKDevice, f.VKFence, nil)
}

func (d *Device) WaitForFences(waitForAll bool, ts time.Duration, fences ...*Fence) error {
	f := make([]vk.Fence, len(fences))
	for i := range fences {
		f[i] = fences[i].VKFence
	}

	wait := vk.Bool32(vk.False)
	if waitForAll {
		wait = vk.True
	}

	return vkErr(vk.WaitForFences(d.VKDevice, uint32(len(fences)), f, wait, uint64(ts.Nanoseconds())))
}
