// Package cfp implements the contiguous frame pool (CFP): a physical frame
// allocator that serves variable-length contiguous runs of frames from a
// bounded region of physical memory and keeps its own bookkeeping bitmap
// inside one of the frames it manages.
//
// Multiple pools coexist in a process (one per physical region). Because a
// caller releasing a frame does not generally know which pool it came from,
// every constructed Pool is appended to a process-wide registry and
// ReleaseFrames walks that registry to find the owner. This mirrors the
// original implementation's static release_frames dispatch; see this
// module's DESIGN.md for the tradeoffs of that choice.
package cfp

import (
	"unsafe"

	"github.com/aayushhyadav/csce-611/kernel"
	"github.com/aayushhyadav/csce-611/kernel/console"
	"github.com/aayushhyadav/csce-611/kernel/mm/pmm"
)

// FrameState is the two-bit state of a single frame in a pool's bitmap.
type FrameState byte

const (
	// Used marks a frame that is allocated but is not the first frame of
	// its sequence.
	Used FrameState = 0b00
	// HeadOfSequence marks the first frame of an allocated run.
	HeadOfSequence FrameState = 0b10
	// Free marks a frame that is available for allocation.
	Free FrameState = 0b11
)

// framesPerInfoFrame is the number of frame-state entries (two bits each)
// that fit in a single info frame.
const framesPerInfoFrame = pmm.FrameSize * 4

// Kind classifies a pool by the memory region it manages. ReleaseFrames uses
// it to pick the right pool for a bare frame number.
type Kind uint8

const (
	// Kernel pools hold kernel-owned frames (page directories, kernel
	// data structures).
	Kernel Kind = iota
	// Process pools hold frames backing user-mapped pages, and the
	// page-table pages the page table allocates.
	Process
)

var (
	// head and tail form a process-wide singly linked registry of every
	// constructed Pool, in construction order. ReleaseFrames walks this
	// list to find the pool that owns a bare frame number.
	head, tail *Pool
)

var errPoolTooLarge = &kernel.Error{Module: "cfp", Message: "pool size exceeds a single bitmap frame"}

// Pool is a contiguous frame pool governing n_frames frames starting at
// base_frame_no.
type Pool struct {
	baseFrame pmm.Frame
	nFrames   uint32
	nFree     uint32
	infoFrame pmm.Frame
	kind      Kind
	bitmap    []byte
	next      *Pool
}

// New constructs a pool governing n frames starting at base. If info is zero,
// the pool's own first frame is self-consumed to hold the bitmap (and marked
// HeadOfSequence); otherwise the bitmap lives in the externally supplied
// info frame. n must fit in a single info frame's worth of bitmap entries.
func New(base pmm.Frame, n uint32, info pmm.Frame) *Pool {
	kernel.PanicOnCondition(n > framesPerInfoFrame, errPoolTooLarge)

	p := &Pool{
		baseFrame: base,
		nFrames:   n,
		nFree:     n,
		infoFrame: info,
	}

	bitmapFrame := info
	if bitmapFrame == 0 {
		bitmapFrame = base
	}
	p.bitmap = frameBytesFn(bitmapFrame)

	for i := uint32(0); i < n; i++ {
		p.setState(i, Free)
	}

	if info == 0 {
		p.setState(0, HeadOfSequence)
		p.nFree--
	}

	if base == pmm.KernelPoolStartFrame {
		p.kind = Kernel
	} else {
		p.kind = Process
	}

	if head == nil {
		head = p
	} else {
		tail.next = p
	}
	tail = p

	console.Puts("cfp: pool initialized\n")
	return p
}

// frameBytesFn turns the physical address of a frame into a byte slice
// spanning exactly one frame. This is how the pool keeps its bookkeeping
// bitmap inside the frames it manages instead of on the Go heap, which does
// not exist yet when the kernel and process pools are first constructed.
// It is a package-level variable so that tests can substitute a Go-managed
// byte arena for a real physical frame.
var frameBytesFn = frameBytes

func frameBytes(f pmm.Frame) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(uintptr(f.Address()))), pmm.FrameSize)
}

func (p *Pool) state(i uint32) FrameState {
	b := p.bitmap[i/4]
	return FrameState((b >> ((i % 4) * 2)) & 0x3)
}

func (p *Pool) setState(i uint32, s FrameState) {
	shift := (i % 4) * 2
	mask := byte(0x3) << shift
	p.bitmap[i/4] = (p.bitmap[i/4] &^ mask) | (byte(s) << shift)
}

// NFree returns the number of currently free frames in the pool.
func (p *Pool) NFree() uint32 {
	return p.nFree
}

// Kind reports whether this is the kernel or the process pool.
func (p *Pool) Kind() Kind {
	return p.kind
}

// GetFrames finds the lowest-addressed run of n free frames, marks its first
// frame HeadOfSequence and the rest Used, and returns the base frame number
// of the run. It returns 0 if no such run currently exists, whether because
// free frames are scattered (external fragmentation) or because fewer than n
// frames are free at all; state is left unchanged in that case, and the
// caller decides how to handle 0.
func (p *Pool) GetFrames(n uint32) pmm.Frame {
	var start, runLen uint32
	fn := uint32(0)
	for fn < p.nFrames {
		if p.state(fn) == Free {
			start = fn
			runLen = 1
			fn++
			for fn < p.nFrames && p.state(fn) == Free {
				if runLen == n {
					break
				}
				runLen++
				fn++
			}
			if runLen == n {
				break
			}
		}
		fn++
	}

	if runLen != n {
		console.Puts("cfp: external fragmentation, cannot satisfy allocation\n")
		return 0
	}

	p.markRun(start, n)
	return p.baseFrame + pmm.Frame(start)
}

// MarkInaccessible marks the n frames starting at baseFrame as an allocated
// run without searching for free space. It is a trusted operator call: if
// the first frame is not Free the call is logged and ignored, but the
// remaining n-1 frames are not checked.
func (p *Pool) MarkInaccessible(baseFrame pmm.Frame, n uint32) {
	start := uint32(baseFrame - p.baseFrame)
	if p.state(start) != Free {
		console.Puts("cfp: mark_inaccessible target frame already allocated\n")
		return
	}
	p.markRun(start, n)
}

func (p *Pool) markRun(start, n uint32) {
	p.setState(start, HeadOfSequence)
	for i := start + 1; i < start+n; i++ {
		p.setState(i, Used)
	}
	p.nFree -= n
}

// ReleaseFrames classifies first by its numeric range into the kernel or
// process pool and releases the run starting there through whichever
// registered pool matches. A frame number belonging to neither pool is
// silently ignored.
func ReleaseFrames(first pmm.Frame) {
	var kind Kind
	if first >= pmm.KernelPoolStartFrame && first < pmm.KernelPoolStartFrame+pmm.KernelPoolFrameCount {
		kind = Kernel
	} else {
		kind = Process
	}

	for p := head; p != nil; p = p.next {
		if p.kind == kind {
			if first >= p.baseFrame && first < p.baseFrame+pmm.Frame(p.nFrames) {
				p.release(first)
			}
			return
		}
	}
}

// release frees the run starting at frame first, which must belong to this
// pool. If first is not marked HeadOfSequence the call is logged and
// ignored; otherwise first and every following Used frame is marked Free,
// stopping at the next Free or HeadOfSequence entry (or the end of the
// pool).
func (p *Pool) release(first pmm.Frame) {
	fn := uint32(first - p.baseFrame)

	if p.state(fn) != HeadOfSequence {
		console.Puts("cfp: release target is not the head of an allocated sequence\n")
		return
	}
	p.setState(fn, Free)
	p.nFree++
	fn++

	for fn < p.nFrames && p.state(fn) == Used {
		p.setState(fn, Free)
		p.nFree++
		fn++
	}
}

// NeededInfoFrames returns the number of info frames required to hold the
// bitmap for a pool governing n frames, at four frame-states per byte.
func NeededInfoFrames(n uint32) uint32 {
	return (n + framesPerInfoFrame - 1) / framesPerInfoFrame
}
