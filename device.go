package vkr

import (
	"fmt"

	vk "github.com/vulkan-go/vulkan"
)

// Device wraps the Vulkan logical device together with the capability
// table detected at creation.
type Device struct {
	PhysicalDevice *PhysicalDevice
	VKDevice       vk.Device
	Caps           Caps
}

func (d *Device) Destroy() {
	vk.DestroyDevice(d.VKDevice, nil)
}

func (d *Device) String() string {
	return fmt.Sprintf("{ PhysicalDevice: %s }", d.PhysicalDevice)
}

func (d *Device) WaitIdle() {
	vk.DeviceWaitIdle(d.VKDevice)
}

func (d *Device) GetQueue(qf *QueueFamily) *Queue {
	var vkq vk.Queue
	vk.GetDeviceQueue(d.VKDevice, uint32(qf.Index), 0, &vkq)
	return &Queue{QueueFamily: qf, Device: d, VKQueue: vkq}
}

// Allocate allocates raw device memory of the given size from a memory
// type compatible with memoryTypeBits and the requested properties.
func (d *Device) Allocate(sizeInBytes int, memoryTypeBits uint32, memoryProperties vk.MemoryPropertyFlags) (*DeviceMemory, error) {
	allocateInfo := vk.MemoryAllocateInfo{
		SType:          vk.StructureTypeMemoryAllocateInfo,
		AllocationSize: vk.DeviceSize(sizeInBytes),
	}

	var err error
	allocateInfo.MemoryTypeIndex, err = d.PhysicalDevice.FindMemoryType(memoryTypeBits, memoryProperties)
	if err != nil {
		return nil, err
	}

	var deviceMemory vk.DeviceMemory
	if err := vkErr(vk.AllocateMemory(d.VKDevice, &allocateInfo, nil, &deviceMemory)); err != nil {
		return nil, err
	}

	return &DeviceMemory{
		Device:         d,
		VKDeviceMemory: deviceMemory,
		Size:           uint64(sizeInBytes),
	}, nil
}
