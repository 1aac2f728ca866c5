package vkr

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestThreadInitIdempotent(t *testing.T) {
	q := NewCmdQueue(nil, nil)
	r1 := q.ThreadInit()
	r2 := q.ThreadInit()
	assert.Same(t, r1, r2)
	q.ThreadShutdown()
}

func TestThreadInitPerGoroutine(t *testing.T) {
	q := NewCmdQueue(nil, nil)
	main := q.ThreadInit()
	defer q.ThreadShutdown()

	var other *CmdRecorder
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		other = q.ThreadInit()
		q.ThreadShutdown()
	}()
	wg.Wait()
	assert.NotSame(t, main, other)
}

func TestEnqueueUnregistered(t *testing.T) {
	q := NewCmdQueue(nil, nil)

	err := q.Enqueue(Cmd{Op: CmdUploadBuffer, Data: []byte{1, 2, 3}})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotRegistered)

	// Destroys are always accepted; they land on the shared recorder.
	err = q.Enqueue(Cmd{Op: CmdDestroyBuffer})
	require.NoError(t, err)

	var got []CmdOp
	q.SetDestroyHook(func(c *Cmd) { got = append(got, c.Op) })
	require.NoError(t, q.DrainInto(nil, nil, 0))
	q.Retire(uint64(FramesInFlight))
	assert.Equal(t, []CmdOp{CmdDestroyBuffer}, got)
}

func TestRecorderShutdownRefuses(t *testing.T) {
	q := NewCmdQueue(nil, nil)
	r := q.ThreadInit()
	q.ThreadShutdown()
	err := r.Enqueue(Cmd{Op: CmdUploadBuffer})
	assert.ErrorIs(t, err, ErrNotRegistered)
}

func TestRetireFrameWindow(t *testing.T) {
	q := NewCmdQueue(nil, nil)
	q.ThreadInit()
	defer q.ThreadShutdown()

	var executed []uint64
	q.SetDestroyHook(func(c *Cmd) { executed = append(executed, c.Offset) })

	// One destroy per frame for three frames; Offset tags the frame it
	// was enqueued on.
	for frame := uint64(0); frame < 3; frame++ {
		require.NoError(t, q.Enqueue(Cmd{Op: CmdDestroyImage, Offset: frame}))
		require.NoError(t, q.DrainInto(nil, nil, frame))
		q.Retire(frame)
	}
	assert.Empty(t, executed, "nothing retires inside the frame window")

	q.Retire(0 + uint64(FramesInFlight))
	assert.Equal(t, []uint64{0}, executed)

	q.Retire(2 + uint64(FramesInFlight))
	assert.Equal(t, []uint64{0, 1, 2}, executed)

	// Destroys run exactly once.
	q.Retire(100)
	assert.Equal(t, []uint64{0, 1, 2}, executed)
}

func TestReadbackResolvesAfterFrameWindow(t *testing.T) {
	q := NewCmdQueue(nil, nil)
	q.ThreadInit()
	defer q.ThreadShutdown()

	rb, err := newReadback(nil, q, TexFormatRGBA32, 4, 4, 64)
	require.NoError(t, err)
	require.NoError(t, q.Enqueue(Cmd{Op: CmdReadback, rb: rb}))

	const frame = uint64(5)
	require.NoError(t, q.DrainInto(nil, nil, frame))
	assert.False(t, rb.Ready(), "not ready at record time")

	q.Retire(frame + uint64(FramesInFlight) - 1)
	assert.False(t, rb.Ready(), "not ready inside the frame window")

	q.Retire(frame + uint64(FramesInFlight))
	assert.True(t, rb.Ready(), "ready once the recording frame retires")
	rb.Wait()
}

func TestDrainSharedFirst(t *testing.T) {
	q := NewCmdQueue(nil, nil)

	// Shared recorder gets a destroy from an unregistered context.
	require.NoError(t, q.Enqueue(Cmd{Op: CmdDestroySampler, Offset: 0}))

	q.ThreadInit()
	defer q.ThreadShutdown()
	require.NoError(t, q.Enqueue(Cmd{Op: CmdDestroyBuffer, Offset: 1}))

	var order []CmdOp
	q.SetDestroyHook(func(c *Cmd) { order = append(order, c.Op) })
	require.NoError(t, q.DrainInto(nil, nil, 0))
	q.Retire(uint64(FramesInFlight))
	assert.Equal(t, []CmdOp{CmdDestroySampler, CmdDestroyBuffer}, order)
}

func TestShutdownLeavesPendingRecords(t *testing.T) {
	q := NewCmdQueue(nil, nil)
	r := q.ThreadInit()
	require.NoError(t, r.Enqueue(Cmd{Op: CmdDestroyPipeline}))
	q.ThreadShutdown()

	var got int
	q.SetDestroyHook(func(*Cmd) { got++ })
	require.NoError(t, q.DrainInto(nil, nil, 0))
	q.Flush()
	assert.Equal(t, 1, got, "records enqueued before shutdown still drain")
}

func TestFlushRunsEverythingParked(t *testing.T) {
	q := NewCmdQueue(nil, nil)
	q.ThreadInit()
	defer q.ThreadShutdown()

	for i := 0; i < 5; i++ {
		require.NoError(t, q.Enqueue(Cmd{Op: CmdDestroyImageView}))
	}
	require.NoError(t, q.DrainInto(nil, nil, 7))

	var got int
	q.SetDestroyHook(func(*Cmd) { got++ })
	q.Flush()
	assert.Equal(t, 5, got)

	// Flush drains the parked list; a later retire finds nothing.
	q.Retire(1000)
	assert.Equal(t, 5, got)
}

func TestConcurrentEnqueue(t *testing.T) {
	q := NewCmdQueue(nil, nil)
	const workers = 8
	const perWorker = 64

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			q.ThreadInit()
			defer q.ThreadShutdown()
			for i := 0; i < perWorker; i++ {
				if err := q.Enqueue(Cmd{Op: CmdDestroyBuffer}); err != nil {
					t.Error(err)
					return
				}
			}
		}()
	}
	wg.Wait()

	var got int
	q.SetDestroyHook(func(*Cmd) { got++ })
	require.NoError(t, q.DrainInto(nil, nil, 0))
	q.Flush()
	assert.Equal(t, workers*perWorker, got)
}
