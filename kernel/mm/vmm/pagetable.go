// Package vmm implements the page table (PT): a per-address-space
// translation structure built on the contiguous frame pool. It installs
// kernel direct-mapped pages eagerly at construction time and user pages
// lazily in response to page faults, editing itself after paging is enabled
// through a recursive self-mapping rather than through physical pointers.
package vmm

import (
	"unsafe"

	"github.com/aayushhyadav/csce-611/kernel"
	"github.com/aayushhyadav/csce-611/kernel/console"
	"github.com/aayushhyadav/csce-611/kernel/cpu"
	"github.com/aayushhyadav/csce-611/kernel/irq"
	"github.com/aayushhyadav/csce-611/kernel/mm/pmm"
	"github.com/aayushhyadav/csce-611/kernel/mm/pmm/cfp"
)

const (
	// entriesPerTable is the number of entries in a page directory or
	// page table on this architecture.
	entriesPerTable = 1024

	// recursiveIndex is the page-directory slot that is made to point at
	// the directory itself, so that the directory and every live page
	// table can be reached through a fixed virtual alias once paging is
	// enabled.
	recursiveIndex = entriesPerTable - 1

	pdeShift    = 22
	pteIndexMax = 0x3FF
)

// FrameAllocator is the subset of a contiguous frame pool's behaviour the
// page table needs in order to back new page directory, page table and
// user pages. Depending on this interface rather than on *cfp.Pool directly
// keeps this package free to substitute a fake allocator in tests.
type FrameAllocator interface {
	GetFrames(n uint32) pmm.Frame
}

// VMRegion is the subset of a virtual memory pool's behaviour the page fault
// handler needs: a way to ask whether a faulting address falls inside some
// registered logical address region. Keeping this as an interface (rather
// than importing the vmpool package directly) avoids a PageTable <-> VMPool
// import cycle, since a pool must in turn call back into the PageTable that
// owns it to register itself and to free pages.
type VMRegion interface {
	IsLegitimate(addr uint32) bool
}

type regionNode struct {
	region VMRegion
	next   *regionNode
}

var (
	// kernelPool and processPool are set once via InitPaging and consumed
	// by every PageTable constructed afterwards.
	kernelPool, processPool FrameAllocator
	sharedSize              uint32

	// currentPageTable and pagingEnabled are process-wide, matching the
	// single active address space this teaching kernel supports.
	currentPageTable *PageTable
	pagingEnabled    bool

	// vmRegionHead/vmRegionTail form the process-wide registry of
	// virtual memory pools associated with the active address space.
	vmRegionHead, vmRegionTail *regionNode

	// The following indirections let tests substitute Go-managed memory
	// and fakes for the MMU-facing primitives without touching raw
	// physical addresses.
	entriesAtFn      = defaultEntriesAt
	cr0ReadFn        = cpu.ReadCR0
	cr0WriteFn       = cpu.WriteCR0
	cr2ReadFn        = cpu.ReadCR2
	cr3WriteFn       = cpu.WriteCR3
	handleExceptFn   = irq.HandleException
	releaseFramesFn  = cfp.ReleaseFrames
	errNoFreeFrame   = &kernel.Error{Module: "vmm", Message: "frame pool exhausted while building the page table"}
	errFaultNotFound = &kernel.Error{Module: "vmm", Message: "faulting address is not covered by any registered virtual memory pool"}
)

func defaultEntriesAt(addr uint32) *[entriesPerTable]Entry {
	return (*[entriesPerTable]Entry)(unsafe.Pointer(uintptr(addr)))
}

// InitPaging records the two contiguous frame pools that back the page
// table (one for kernel structures, one for user pages) and the size of the
// eagerly, identity-mapped kernel region.
func InitPaging(kernelCFP, processCFP FrameAllocator, sharedBytes uint32) {
	kernelPool = kernelCFP
	processPool = processCFP
	sharedSize = sharedBytes
}

// PageTable owns one page directory and the kernel page table installed at
// construction time.
type PageTable struct {
	directory pmm.Frame
}

func mustGetFrame(pool FrameAllocator) pmm.Frame {
	f := pool.GetFrames(1)
	kernel.PanicOnCondition(f == 0, errNoFreeFrame)
	return f
}

// New builds a fresh address space: a page directory with a recursive
// self-mapping at entry 1023 and an identity-mapped page table covering the
// first 4MiB of physical memory (kernel text, data, stack and the BIOS
// area), so that the kernel keeps running across the later call to
// EnablePaging.
func New() *PageTable {
	dirFrame := mustGetFrame(kernelPool)
	dir := entriesAtFn(dirFrame.Address())

	// The final revision of this design draws the initial kernel page
	// table from the process pool rather than the kernel pool; this
	// means user-facing page-table pages and this bootstrap table share
	// the same budget.
	tableFrame := mustGetFrame(processPool)
	table := entriesAtFn(tableFrame.Address())

	addr := uint32(0)
	for i := 0; i < entriesPerTable; i++ {
		table[i] = Entry(addr) | KernelRWPresent
		addr += pmm.FrameSize
	}

	dir[recursiveIndex] = Entry(dirFrame.Address()) | KernelRWPresent
	dir[0] = Entry(tableFrame.Address()) | KernelRWPresent
	for i := 1; i < recursiveIndex; i++ {
		dir[i] = KernelRWAbsent
	}

	console.Puts("vmm: page directory and kernel page table installed\n")
	return &PageTable{directory: dirFrame}
}

// Load installs pt as the active page table and reloads CR3, which is also
// this architecture's whole-TLB flush.
func (pt *PageTable) Load() {
	currentPageTable = pt
	cr3WriteFn(pt.directory.Address())
}

// EnablePaging sets CR0's paging-enable bit. It is a package-level function
// rather than a PageTable method because the architecture has a single
// paging-enable switch regardless of which address space is loaded.
func EnablePaging() {
	cr0WriteFn(cr0ReadFn() | 0x80000000)
	pagingEnabled = true
}

// InstallFaultHandler registers HandleFault as the dispatch target for
// page-fault exceptions. It must be called after the recursive
// self-mapping has been installed by New, since the handler depends on it.
func InstallFaultHandler() {
	handleExceptFn(irq.PageFault, HandleFault)
}

// RegisterPool appends region to the process-wide registry consulted by
// HandleFault. The registry is global to the active address space, not
// scoped to a particular PageTable: switching address spaces does not
// change which pools are registered. See this module's DESIGN.md for why
// that matches the authoritative design rather than a latent bug.
func RegisterPool(region VMRegion) {
	node := &regionNode{region: region}
	if vmRegionHead == nil {
		vmRegionHead = node
	} else {
		vmRegionTail.next = node
	}
	vmRegionTail = node
}

// pdeSelfAddress is the virtual address at which the page directory can be
// read and written as if it were an ordinary page. The walk uses entry 1023
// twice: the first lookup treats the directory as its own page table (via
// the recursive entry), and the second lookup, landing on entry 1023 of
// that "table", resolves back to the directory's own frame.
func pdeSelfAddress() uint32 {
	return (uint32(recursiveIndex) << pdeShift) | (uint32(recursiveIndex) << 12)
}

// pteSelfAddress is the virtual address at which the page-table page
// backing addr can be read and written, again via the recursive mapping:
// entry 1023 takes the walk to the directory-as-table, which then
// dereferences the real table for addr's directory index.
func pteSelfAddress(addr uint32) uint32 {
	return (uint32(recursiveIndex) << pdeShift) | ((addr >> pdeShift) << 12)
}

// HandleFault is the vector-14 exception handler. It only handles
// not-present faults; protection-bit faults (writes to read-only pages) are
// logged and otherwise ignored, since this teaching kernel does not enforce
// permissions beyond the flags set at mapping time.
func HandleFault(regs *irq.Regs) {
	faultAddr := cr2ReadFn()
	pdeIndex := (faultAddr >> pdeShift) & pteIndexMax
	pteIndex := (faultAddr >> 12) & pteIndexMax

	if regs.Present() {
		console.Puts("vmm: protection fault ignored (no write-protection enforcement)\n")
		return
	}

	if vmRegionHead != nil {
		legitimate := false
		for n := vmRegionHead; n != nil; n = n.next {
			if n.region.IsLegitimate(faultAddr) {
				legitimate = true
				break
			}
		}
		kernel.PanicOnCondition(!legitimate, errFaultNotFound)
	}

	dir := entriesAtFn(pdeSelfAddress())
	if !dir[pdeIndex].HasFlags(FlagPresent) {
		tableFrame := mustGetFrame(processPool)
		dir[pdeIndex] = Entry(tableFrame.Address()) | KernelRWPresent

		table := entriesAtFn(pteSelfAddress(faultAddr))
		for i := range table {
			table[i] = UserRAbsent
		}
		// The PTE itself is left not-present; the faulting instruction
		// re-executes and the handler reaches the branch below.
		return
	}

	frame := mustGetFrame(processPool)
	table := entriesAtFn(pteSelfAddress(faultAddr))
	table[pteIndex] = Entry(frame.Address()) | UserRWPresent
}

// FreePage releases the frame backing the page at virtAddr (if any) back to
// the process pool, clears its present bit and flushes the TLB.
func (pt *PageTable) FreePage(virtAddr uint32) {
	pteIndex := (virtAddr >> 12) & pteIndexMax
	table := entriesAtFn(pteSelfAddress(virtAddr))

	// A region can be released before every page in it was ever faulted
	// in (vmpool.Release walks the whole region unconditionally), so the
	// PTE here may still carry its never-present frame-0 default. Only a
	// present entry names a frame this page table actually owns.
	if !table[pteIndex].HasFlags(FlagPresent) {
		return
	}

	frame := table[pteIndex].Frame()
	releaseFramesFn(frame)

	table[pteIndex].ClearFlags(FlagPresent)
	pt.Load()
}
