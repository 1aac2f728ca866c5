package vkr

import (
	"log/slog"
	"runtime"
	"sync"

	"github.com/cockroachdb/errors"
	vk "github.com/vulkan-go/vulkan"
)

// FramesInFlight is the number of frames that may be submitted before
// the renderer blocks on the oldest fence. Deferred destruction keys
// off it: a handle destroyed at frame F is freed once frame
// F+FramesInFlight has retired.
var FramesInFlight = 3

// CmdOp tags a Cmd record.
type CmdOp int32

const (
	CmdNone CmdOp = iota
	CmdUploadBuffer
	CmdUploadImage
	CmdTransitionImage
	CmdGenerateMips
	CmdBlit
	CmdReadback
	CmdDestroyImage
	CmdDestroyImageView
	CmdDestroyBuffer
	CmdDestroyMemory
	CmdDestroyPipeline
	CmdDestroyPipelineLayout
	CmdDestroyDescriptorSetLayout
	CmdDestroyRenderPass
	CmdDestroyFramebuffer
	CmdDestroySampler
	CmdDestroyShaderModule
	CmdDestroyYcbcrConversion
)

func (op CmdOp) isDestroy() bool {
	return op >= CmdDestroyImage && op <= CmdDestroyYcbcrConversion
}

// Cmd is one deferred operation against the backend. It is a tagged
// variant: Op selects which fields are meaningful. Destroy records
// carry raw handles by value so that executing them never touches the
// owning resource object.
type Cmd struct {
	Op CmdOp

	// Upload payload; Data is owned by the record once enqueued.
	Data   []byte
	Offset uint64
	Size   uint64

	// Image operands.
	Image     vk.Image
	SrcImage  vk.Image
	Aspect    vk.ImageAspectFlags
	Width     uint32
	Height    uint32
	SrcWidth  uint32
	SrcHeight uint32
	Mip       uint32
	Layer     uint32
	MipCount  uint32
	Layers    uint32
	OldLayout vk.ImageLayout
	NewLayout vk.ImageLayout

	// Buffer operands.
	Buffer vk.Buffer

	// Destroy payloads.
	Memory         vk.DeviceMemory
	View           vk.ImageView
	Pipeline       vk.Pipeline
	PipelineLayout vk.PipelineLayout
	DescLayout     vk.DescriptorSetLayout
	RenderPass     vk.RenderPass
	Framebuffer    vk.Framebuffer
	Sampler        vk.Sampler
	ShaderModule   vk.ShaderModule
	Ycbcr          vk.SamplerYcbcrConversion

	// tex, when set, has its tracked layout updated as the record is
	// translated. Never set on destroy records.
	tex *Texture
	// rb, on CmdReadback, is resolved when the owning frame retires.
	rb *Readback
}

// CmdRecorder is one producer's append-only command ring. One recorder
// per producer goroutine; the short mutex only contends with the drain.
type CmdRecorder struct {
	mu         sync.Mutex
	cmds       []Cmd
	registered bool
	queue      *CmdQueue
}

// Enqueue appends to this recorder. ErrNotRegistered after
// ThreadShutdown.
func (r *CmdRecorder) Enqueue(cmd Cmd) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.registered {
		return ErrNotRegistered
	}
	r.cmds = append(r.cmds, cmd)
	return nil
}

// take swaps out the pending records, keeping capacity for reuse.
func (r *CmdRecorder) take(into []Cmd) []Cmd {
	r.mu.Lock()
	into = append(into, r.cmds...)
	r.cmds = r.cmds[:0]
	r.mu.Unlock()
	return into
}

type delayedCmd struct {
	frame uint64
	cmd   Cmd
}

// CmdQueue is the process ordering point between producer goroutines
// and the renderer's GPU timeline. Producers enqueue records; the
// renderer drains them at frame start and retires destroys once the
// owning frame's fence has signalled.
type CmdQueue struct {
	device *Device
	log    *slog.Logger

	mu          sync.Mutex
	recorders   []*CmdRecorder // registration order; drain order
	byGoroutine map[uint64]*CmdRecorder

	// shared takes records from goroutines that never registered;
	// destruction must be possible from anywhere.
	shared *CmdRecorder

	delayedMu        sync.Mutex
	delayed          []delayedCmd
	pendingReadbacks []*Readback

	// destroyHook, when set, observes every executed destroy record.
	// Used by tests and leak tracking.
	destroyHook func(*Cmd)

	scratch []Cmd
}

// NewCmdQueue creates a command queue bound to the device. A nil device
// is allowed for logic-only use; destroy records are then reported to
// the hook without touching the backend.
func NewCmdQueue(device *Device, logger *slog.Logger) *CmdQueue {
	if logger == nil {
		logger = slog.Default()
	}
	q := &CmdQueue{
		device:      device,
		log:         logger,
		byGoroutine: map[uint64]*CmdRecorder{},
	}
	q.shared = &CmdRecorder{registered: true, queue: q}
	return q
}

// SetDestroyHook installs a callback observing executed destroy
// records.
func (q *CmdQueue) SetDestroyHook(hook func(*Cmd)) {
	q.destroyHook = hook
}

// goid extracts the calling goroutine's id from the stack header. Only
// used to key recorder registration; never for synchronisation.
func goid() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	// "goroutine 123 [running]:"
	var id uint64
	for _, c := range buf[len("goroutine "):n] {
		if c < '0' || c > '9' {
			break
		}
		id = id*10 + uint64(c-'0')
	}
	return id
}

// ThreadInit registers the calling goroutine as a producer and returns
// its recorder. Idempotent: repeated calls return the same recorder.
func (q *CmdQueue) ThreadInit() *CmdRecorder {
	id := goid()
	q.mu.Lock()
	defer q.mu.Unlock()
	if r, ok := q.byGoroutine[id]; ok {
		return r
	}
	r := &CmdRecorder{registered: true, queue: q}
	q.byGoroutine[id] = r
	q.recorders = append(q.recorders, r)
	return r
}

// ThreadShutdown unregisters the calling goroutine. Records already
// enqueued stay pending and are picked up by the next drain.
func (q *CmdQueue) ThreadShutdown() {
	id := goid()
	q.mu.Lock()
	r, ok := q.byGoroutine[id]
	if ok {
		delete(q.byGoroutine, id)
	}
	q.mu.Unlock()
	if ok {
		r.mu.Lock()
		r.registered = false
		r.mu.Unlock()
	}
}

// Enqueue appends a record to the calling goroutine's recorder.
// Destroy records from unregistered goroutines fall back to the shared
// recorder; anything else from an unregistered goroutine is
// ErrNotRegistered.
func (q *CmdQueue) Enqueue(cmd Cmd) error {
	id := goid()
	q.mu.Lock()
	r := q.byGoroutine[id]
	q.mu.Unlock()
	if r == nil {
		if !cmd.Op.isDestroy() {
			return errors.Wrapf(ErrNotRegistered, "op %d", cmd.Op)
		}
		r = q.shared
	}
	return r.Enqueue(cmd)
}

// submit is the internal entry used by resource methods. It prefers
// the calling goroutine's recorder so a registered producer keeps
// program order, and falls back to the shared recorder otherwise.
func (q *CmdQueue) submit(cmd Cmd) {
	id := goid()
	q.mu.Lock()
	r := q.byGoroutine[id]
	q.mu.Unlock()
	if r == nil {
		r = q.shared
	}
	if err := r.Enqueue(cmd); err != nil {
		// Shared recorder never refuses; reaching here means the
		// producer shut its recorder down mid-call.
		q.shared.Enqueue(cmd)
	}
}

// deferDestroy parks a destroy record for execution after the frame
// window has passed.
func (q *CmdQueue) deferDestroy(cmd Cmd) {
	q.submit(cmd)
}

// DrainInto sweeps every recorder in registration order (shared first)
// and translates the records onto cb. Upload data goes through the
// frame's staging arena. Destroy records are parked until
// frame+FramesInFlight retires.
func (q *CmdQueue) DrainInto(cb *CommandBuffer, staging *StagingArena, frame uint64) error {
	q.mu.Lock()
	recs := make([]*CmdRecorder, 0, len(q.recorders)+1)
	recs = append(recs, q.shared)
	recs = append(recs, q.recorders...)
	q.mu.Unlock()

	q.scratch = q.scratch[:0]
	for _, r := range recs {
		q.scratch = r.take(q.scratch)
	}

	for i := range q.scratch {
		cmd := &q.scratch[i]
		if cmd.Op.isDestroy() {
			q.delayedMu.Lock()
			q.delayed = append(q.delayed, delayedCmd{frame: frame, cmd: *cmd})
			q.delayedMu.Unlock()
			continue
		}
		if err := q.translate(cb, staging, frame, cmd); err != nil {
			return err
		}
	}
	return nil
}

func (q *CmdQueue) translate(cb *CommandBuffer, staging *StagingArena, frame uint64, cmd *Cmd) error {
	switch cmd.Op {
	case CmdUploadBuffer:
		off, dst, err := staging.Alloc(uint64(len(cmd.Data)), 4)
		if err != nil {
			return err
		}
		copy(dst, cmd.Data)
		cb.CopyBuffer(staging.VKBuffer, off, cmd.Buffer, cmd.Offset, uint64(len(cmd.Data)))
		cmd.Data = nil

	case CmdUploadImage:
		off, dst, err := staging.Alloc(uint64(len(cmd.Data)), 16)
		if err != nil {
			return err
		}
		copy(dst, cmd.Data)
		cb.TransitionImage(cmd.Image, cmd.Aspect, cmd.OldLayout, vk.ImageLayoutTransferDstOptimal,
			cmd.Mip, 1, cmd.Layer, 1)
		cb.CopyBufferToImage(staging.VKBuffer, off, cmd.Image, cmd.Aspect,
			cmd.Width, cmd.Height, cmd.Mip, cmd.Layer)
		cb.TransitionImage(cmd.Image, cmd.Aspect, vk.ImageLayoutTransferDstOptimal, cmd.NewLayout,
			cmd.Mip, 1, cmd.Layer, 1)
		if cmd.tex != nil {
			cmd.tex.setLayout(cmd.NewLayout)
		}
		cmd.Data = nil

	case CmdTransitionImage:
		cb.TransitionImage(cmd.Image, cmd.Aspect, cmd.OldLayout, cmd.NewLayout,
			0, cmd.MipCount, 0, cmd.Layers)
		if cmd.tex != nil {
			cmd.tex.setLayout(cmd.NewLayout)
		}

	case CmdGenerateMips:
		q.generateMips(cb, cmd)

	case CmdBlit:
		cb.TransitionImage(cmd.SrcImage, cmd.Aspect, cmd.OldLayout, vk.ImageLayoutTransferSrcOptimal, 0, 1, 0, 1)
		cb.TransitionImage(cmd.Image, cmd.Aspect, vk.ImageLayoutUndefined, vk.ImageLayoutTransferDstOptimal, 0, 1, 0, 1)
		cb.BlitImage(cmd.SrcImage, int32(cmd.SrcWidth), int32(cmd.SrcHeight),
			cmd.Image, int32(cmd.Width), int32(cmd.Height), cmd.Aspect)
		cb.TransitionImage(cmd.SrcImage, cmd.Aspect, vk.ImageLayoutTransferSrcOptimal, cmd.OldLayout, 0, 1, 0, 1)
		cb.TransitionImage(cmd.Image, cmd.Aspect, vk.ImageLayoutTransferDstOptimal, cmd.NewLayout, 0, 1, 0, 1)
		if cmd.tex != nil {
			cmd.tex.setLayout(cmd.NewLayout)
		}

	case CmdReadback:
		rb := cmd.rb
		if q.device != nil {
			cb.TransitionImage(cmd.Image, cmd.Aspect, cmd.OldLayout, vk.ImageLayoutTransferSrcOptimal,
				cmd.Mip, 1, cmd.Layer, 1)
			cb.CopyImageToBuffer(cmd.Image, cmd.Aspect, cmd.Width, cmd.Height, cmd.Mip, cmd.Layer, rb.buffer)
			cb.TransitionImage(cmd.Image, cmd.Aspect, vk.ImageLayoutTransferSrcOptimal, cmd.OldLayout,
				cmd.Mip, 1, cmd.Layer, 1)
		}
		rb.frame = frame
		q.delayedMu.Lock()
		q.pendingReadbacks = append(q.pendingReadbacks, rb)
		q.delayedMu.Unlock()

	default:
		q.log.Warn("unknown command record", "op", cmd.Op)
	}
	return nil
}

// generateMips records the blit chain that fills mips 1..MipCount-1
// from mip 0 across all layers.
func (q *CmdQueue) generateMips(cb *CommandBuffer, cmd *Cmd) {
	for layer := uint32(0); layer < cmd.Layers; layer++ {
		w, h := int32(cmd.Width), int32(cmd.Height)
		cb.TransitionImage(cmd.Image, cmd.Aspect, cmd.OldLayout, vk.ImageLayoutTransferSrcOptimal,
			0, 1, layer, 1)
		for mip := uint32(1); mip < cmd.MipCount; mip++ {
			nw, nh := w/2, h/2
			if nw < 1 {
				nw = 1
			}
			if nh < 1 {
				nh = 1
			}
			cb.TransitionImage(cmd.Image, cmd.Aspect, vk.ImageLayoutUndefined, vk.ImageLayoutTransferDstOptimal,
				mip, 1, layer, 1)
			cb.BlitMip(cmd.Image, cmd.Aspect, mip-1, mip, layer, w, h, nw, nh)
			cb.TransitionImage(cmd.Image, cmd.Aspect, vk.ImageLayoutTransferDstOptimal, vk.ImageLayoutTransferSrcOptimal,
				mip, 1, layer, 1)
			w, h = nw, nh
		}
		cb.TransitionImage(cmd.Image, cmd.Aspect, vk.ImageLayoutTransferSrcOptimal, cmd.NewLayout,
			0, cmd.MipCount, layer, 1)
	}
	if cmd.tex != nil {
		cmd.tex.setLayout(cmd.NewLayout)
	}
}

// Retire runs the destroy records whose frame bucket has aged past
// FramesInFlight, and resolves readbacks belonging to retired frames.
func (q *CmdQueue) Retire(retiredFrame uint64) {
	q.delayedMu.Lock()
	keep := q.delayed[:0]
	var run []Cmd
	for _, d := range q.delayed {
		if retiredFrame >= d.frame+uint64(FramesInFlight) {
			run = append(run, d.cmd)
		} else {
			keep = append(keep, d)
		}
	}
	q.delayed = keep

	var ready []*Readback
	keepRB := q.pendingReadbacks[:0]
	for _, rb := range q.pendingReadbacks {
		if retiredFrame >= rb.frame+uint64(FramesInFlight) {
			ready = append(ready, rb)
		} else {
			keepRB = append(keepRB, rb)
		}
	}
	q.pendingReadbacks = keepRB
	q.delayedMu.Unlock()

	for i := range run {
		q.execDestroy(&run[i])
	}
	for _, rb := range ready {
		rb.resolve()
	}
}

// Flush executes every parked and still-enqueued destroy immediately.
// Only valid after the device has gone idle; used during shutdown.
// Non-destroy records found in the recorders are dropped.
func (q *CmdQueue) Flush() {
	q.mu.Lock()
	recs := make([]*CmdRecorder, 0, len(q.recorders)+1)
	recs = append(recs, q.shared)
	recs = append(recs, q.recorders...)
	q.mu.Unlock()

	q.scratch = q.scratch[:0]
	for _, r := range recs {
		q.scratch = r.take(q.scratch)
	}
	for i := range q.scratch {
		if q.scratch[i].Op.isDestroy() {
			q.execDestroy(&q.scratch[i])
		} else {
			q.log.Warn("dropping command record at shutdown", "op", q.scratch[i].Op)
		}
	}

	q.delayedMu.Lock()
	run := q.delayed
	q.delayed = nil
	q.delayedMu.Unlock()
	for i := range run {
		q.execDestroy(&run[i].cmd)
	}
}

func (q *CmdQueue) execDestroy(cmd *Cmd) {
	if q.destroyHook != nil {
		q.destroyHook(cmd)
	}
	if q.device == nil {
		return
	}
	dev := q.device.VKDevice
	switch cmd.Op {
	case CmdDestroyImage:
		vk.DestroyImage(dev, cmd.Image, nil)
	case CmdDestroyImageView:
		vk.DestroyImageView(dev, cmd.View, nil)
	case CmdDestroyBuffer:
		vk.DestroyBuffer(dev, cmd.Buffer, nil)
	case CmdDestroyMemory:
		vk.FreeMemory(dev, cmd.Memory, nil)
	case CmdDestroyPipeline:
		vk.DestroyPipeline(dev, cmd.Pipeline, nil)
	case CmdDestroyPipelineLayout:
		vk.DestroyPipelineLayout(dev, cmd.PipelineLayout, nil)
	case CmdDestroyDescriptorSetLayout:
		vk.DestroyDescriptorSetLayout(dev, cmd.DescLayout, nil)
	case CmdDestroyRenderPass:
		vk.DestroyRenderPass(dev, cmd.RenderPass, nil)
	case CmdDestroyFramebuffer:
		vk.DestroyFramebuffer(dev, cmd.Framebuffer, nil)
	case CmdDestroySampler:
		vk.DestroySampler(dev, cmd.Sampler, nil)
	case CmdDestroyShaderModule:
		vk.DestroyShaderModule(dev, cmd.ShaderModule, nil)
	case CmdDestroyYcbcrConversion:
		vk.DestroySamplerYcbcrConversion(dev, cmd.Ycbcr, nil)
	default:
		q.log.Warn("unknown destroy record", "op", cmd.Op)
	}
}
