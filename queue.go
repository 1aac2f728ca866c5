package vkr

import (
	"fmt"
	"sync"

	vk "github.com/vulkan-go/vulkan"
)

type Queue struct {
	Device      *Device
	QueueFamily *QueueFamily
	VKQueue     vk.Queue
}

// Per-family submission locks. When the device is shared with an
// external subsystem (video decode, an overlay compositor) both sides
// must hold the family lock around QueueSubmit/QueuePresent.
var (
	queueLocksMu sync.Mutex
	queueLocks   = map[int]*sync.Mutex{}
)

// QueueLock serialises submissions on the given queue family. Pair with
// QueueUnlock.
func QueueLock(family int) {
	queueLocksMu.Lock()
	l, ok := queueLocks[family]
	if !ok {
		l = &sync.Mutex{}
		queueLocks[family] = l
	}
	queueLocksMu.Unlock()
	l.Lock()
}

// QueueUnlock releases the family lock taken by QueueLock.
func QueueUnlock(family int) {
	queueLocksMu.Lock()
	l := queueLocks[family]
	queueLocksMu.Unlock()
	if l != nil {
		l.Unlock()
	}
}

func (q *Queue) WaitIdle() error {
	return vk.Error(vk.QueueWaitIdle(q.VKQueue))
}

// SubmitWaitIdle submits the buffers and blocks until the queue drains.
// Used on init paths only; the frame loop goes through SubmitWithFence.
func (q *Queue) SubmitWaitIdle(buffers ...*CommandBuffer) error {
	submitInfo := vk.SubmitInfo{
		SType:              vk.StructureTypeSubmitInfo,
		CommandBufferCount: uint32(len(buffers)),
	}

	b := make([]vk.CommandBuffer, len(buffers))
	for i := range buffers {
		b[i] = buffers[i].VKCommandBuffer
	}
	submitInfo.PCommandBuffers = b

	QueueLock(q.QueueFamily.Index)
	err := vkErr(vk.QueueSubmit(q.VKQueue, 1, []vk.SubmitInfo{submitInfo}, vk.NullFence))
	QueueUnlock(q.QueueFamily.Index)
	if err != nil {
		return err
	}

	vk.QueueWaitIdle(q.VKQueue)
	return nil
}

// SubmitWithFence submits the buffers, signalling fence on completion.
func (q *Queue) SubmitWithFence(fence *Fence, buffers ...*CommandBuffer) error {
	submitInfo := vk.SubmitInfo{
		SType:              vk.StructureTypeSubmitInfo,
		CommandBufferCount: uint32(len(buffers)),
	}

	b := make([]vk.CommandBuffer, len(buffers))
	for i := range buffers {
		b[i] = buffers[i].VKCommandBuffer
	}
	submitInfo.PCommandBuffers = b

	QueueLock(q.QueueFamily.Index)
	err := vkErr(vk.QueueSubmit(q.VKQueue, 1, []vk.SubmitInfo{submitInfo}, fence.VKFence))
	QueueUnlock(q.QueueFamily.Index)
	return err
}

func (q *Queue) String() string {
	return fmt.Sprintf("{Device: %s QueueFamily: %s}", q.Device.String(), q.QueueFamily.String())
}
