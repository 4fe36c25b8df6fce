// Package vmpool implements the virtual memory pool (VMP): a manager of
// logical address regions within one page table's address space. A pool
// hands out non-overlapping regions of a requested length and tells the
// page fault handler whether a given address falls inside the pool's bounds,
// but it does not itself hold any page mappings; those are created lazily
// by vmm.HandleFault the first time a granted region is touched.
package vmpool

import (
	"unsafe"

	"github.com/aayushhyadav/csce-611/kernel"
	"github.com/aayushhyadav/csce-611/kernel/console"
	"github.com/aayushhyadav/csce-611/kernel/mm/pmm"
	"github.com/aayushhyadav/csce-611/kernel/mm/vmm"
)

// region describes one allocated span of logical address space.
type region struct {
	base   uint32
	length uint32
}

// regionCapacity is the number of region records that fit in the pool's own
// bookkeeping page alongside its header.
const regionCapacity = (pmm.FrameSize - 16) / 8

// directory is the in-memory layout of the pool's bookkeeping page: a small
// header followed by a flat array of region records. It is placed at the
// pool's base address so the pool's own metadata lives inside the address
// space it manages, the same way a contiguous frame pool's bitmap lives
// inside a frame it manages.
type directory struct {
	count   uint32
	_       uint32
	regions [regionCapacity]region
}

// pageTable is the subset of *vmm.PageTable this package depends on.
// Depending on the interface rather than the concrete type keeps this
// package testable without a real page directory.
type pageTable interface {
	FreePage(virtAddr uint32)
}

// Pool manages the logical address range [base, base+size) within pt's
// address space.
type Pool struct {
	pt   pageTable
	base uint32
	size uint32
	dir  *directory
}

var errPoolFull = &kernel.Error{Module: "vmpool", Message: "virtual memory pool region table is full"}

// directoryAtFn resolves a logical address to the directory page stored
// there. It is a package-level variable so that tests can point it at a
// Go-managed arena instead of a raw logical address.
var directoryAtFn = directoryAt

// registerPoolFn registers a pool with the active page table's fault
// handler. It is a package-level variable purely for test isolation, since
// vmm.RegisterPool mutates process-wide state.
var registerPoolFn = vmm.RegisterPool

func directoryAt(addr uint32) *directory {
	return (*directory)(unsafe.Pointer(uintptr(addr)))
}

// New creates a pool governing [base, base+size) in pt's address space. The
// first page of the pool is reserved for its own region directory, and is
// counted against size the same way the first frame of a contiguous frame
// pool is self-consumed by its bitmap.
func New(pt pageTable, base, size uint32) *Pool {
	p := &Pool{
		pt:   pt,
		base: base,
		size: size,
		dir:  directoryAtFn(base),
	}

	// Register before touching base: the write below to p.dir (the pool's
	// own bookkeeping page) is what faults the first page in, and the
	// fault handler only accepts the fault if this pool is already in the
	// registry it consults.
	registerPoolFn(p)

	p.dir.count = 0
	p.dir.regions[0] = region{base: base, length: pmm.FrameSize}
	p.dir.count = 1

	console.Puts("vmpool: pool initialized\n")
	return p
}

// Allocate reserves a region of size bytes (rounded up to a whole number of
// frames) and returns its base address. It does not map any pages; the
// first access to the region takes a page fault that vmm.HandleFault
// resolves against this pool's IsLegitimate.
func (p *Pool) Allocate(size uint32) uint32 {
	if p.dir.count >= regionCapacity {
		kernel.Panic(errPoolFull)
		return 0
	}

	pages := (size + pmm.FrameSize - 1) / pmm.FrameSize
	length := pages * pmm.FrameSize

	last := p.dir.regions[p.dir.count-1]
	base := last.base + last.length

	p.dir.regions[p.dir.count] = region{base: base, length: length}
	p.dir.count++

	console.Puts("vmpool: region allocated\n")
	return base
}

// Release frees the region starting at addr, unmapping and releasing every
// page frame within it that has actually been faulted in. addr must be a
// base address previously returned by Allocate; any other value is logged
// and ignored.
func (p *Pool) Release(addr uint32) {
	for i := uint32(0); i < p.dir.count; i++ {
		r := p.dir.regions[i]
		if r.base != addr {
			continue
		}

		for page := r.base; page < r.base+r.length; page += pmm.FrameSize {
			p.pt.FreePage(page)
		}

		for j := i; j < p.dir.count-1; j++ {
			p.dir.regions[j] = p.dir.regions[j+1]
		}
		p.dir.count--
		console.Puts("vmpool: region released\n")
		return
	}
	console.Puts("vmpool: release target does not match any allocated region\n")
}

// IsLegitimate reports whether addr falls within [base, base+size]. It does
// not require addr lie inside any region actually handed out by Allocate:
// that permissiveness is sufficient because the fault handler only ever
// consults IsLegitimate for an address that would fault regardless, and a
// pool never claims bounds wider than what its owner asked for. Tightening
// this to a real region-membership check would diverge from the pool this
// package is modeled on; see this package's DESIGN.md entry.
func (p *Pool) IsLegitimate(addr uint32) bool {
	if addr < p.base || addr > p.base+p.size {
		console.Puts("vmpool: address is not legitimate\n")
		return false
	}
	console.Puts("vmpool: address is legitimate\n")
	return true
}
