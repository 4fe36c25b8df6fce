package vmm

import (
	"testing"
	"unsafe"

	"github.com/aayushhyadav/csce-611/kernel/irq"
	"github.com/aayushhyadav/csce-611/kernel/mm/pmm"
)

// fakeAllocator hands out sequential frame numbers from a small arena of
// Go-managed memory, the same role the teacher's physPage arrays and
// FrameAllocatorFn closures play in its own page table tests.
type fakeAllocator struct {
	arena    map[pmm.Frame][]byte
	next     pmm.Frame
	pageSize int
}

func newFakeAllocator(start pmm.Frame) *fakeAllocator {
	return &fakeAllocator{arena: map[pmm.Frame][]byte{}, next: start, pageSize: pmm.FrameSize}
}

func (f *fakeAllocator) GetFrames(n uint32) pmm.Frame {
	base := f.next
	for i := pmm.Frame(0); i < pmm.Frame(n); i++ {
		f.arena[base+i] = make([]byte, f.pageSize)
	}
	f.next += pmm.Frame(n)
	return base
}

// mockMMU wires entriesAtFn/cr*Fn to the two fake allocators' arenas so that
// "physical addresses" the page table hands out resolve to real Go memory.
type mockMMU struct {
	kernel, process *fakeAllocator
	cr3             uint32
	cr0             uint32
}

func newMockMMU() *mockMMU {
	return &mockMMU{
		kernel:  newFakeAllocator(pmm.Frame(1)),
		process: newFakeAllocator(pmm.Frame(1000)),
	}
}

func (m *mockMMU) frameBuf(frame pmm.Frame) []byte {
	if buf, ok := m.kernel.arena[frame]; ok {
		return buf
	}
	if buf, ok := m.process.arena[frame]; ok {
		return buf
	}
	return nil
}

// resolve emulates the MMU walk for addr. Ordinary addresses (the real
// physical frame addresses New hands out) resolve directly by frame number.
// Addresses in the recursive region (top 10 bits = recursiveIndex) are
// walked through the currently loaded directory exactly as the real
// recursive self-mapping would, so that HandleFault and FreePage exercise
// the same pdeSelfAddress/pteSelfAddress paths production code uses.
func (m *mockMMU) resolve(addr uint32) []byte {
	if addr>>pdeShift == recursiveIndex {
		dirBuf := m.frameBuf(m.cr3Frame())
		if dirBuf == nil {
			return nil
		}
		idx := (addr >> 12) & pteIndexMax
		entries := (*[entriesPerTable]Entry)(unsafe.Pointer(&dirBuf[0]))
		return m.frameBuf(entries[idx].Frame())
	}
	return m.frameBuf(pmm.FrameFromAddress(addr &^ 0xFFF))
}

func (m *mockMMU) cr3Frame() pmm.Frame {
	return pmm.FrameFromAddress(m.cr3)
}

func withMockMMU(t *testing.T) (*mockMMU, func()) {
	t.Helper()
	origEntriesAt := entriesAtFn
	origCr0Read, origCr0Write := cr0ReadFn, cr0WriteFn
	origCr2Read, origCr3Write := cr2ReadFn, cr3WriteFn
	origKernelPool, origProcessPool := kernelPool, processPool
	origVMHead, origVMTail := vmRegionHead, vmRegionTail

	m := newMockMMU()
	kernelPool = m.kernel
	processPool = m.process
	vmRegionHead, vmRegionTail = nil, nil

	entriesAtFn = func(addr uint32) *[entriesPerTable]Entry {
		buf := m.resolve(addr)
		if buf == nil {
			t.Fatalf("entriesAtFn: address %#x does not resolve to any known frame", addr)
		}
		return (*[entriesPerTable]Entry)(unsafe.Pointer(&buf[0]))
	}
	cr0ReadFn = func() uint32 { return m.cr0 }
	cr0WriteFn = func(v uint32) { m.cr0 = v }
	cr2ReadFn = func() uint32 { return 0 }
	cr3WriteFn = func(v uint32) { m.cr3 = v }

	return m, func() {
		entriesAtFn = origEntriesAt
		cr0ReadFn, cr0WriteFn = origCr0Read, origCr0Write
		cr2ReadFn, cr3WriteFn = origCr2Read, origCr3Write
		kernelPool, processPool = origKernelPool, origProcessPool
		vmRegionHead, vmRegionTail = origVMHead, origVMTail
	}
}

func TestNewInstallsRecursiveSelfMapping(t *testing.T) {
	_, cleanup := withMockMMU(t)
	defer cleanup()

	pt := New()
	dir := entriesAtFn(pt.directory.Address())

	if !dir[recursiveIndex].HasFlags(FlagPresent | FlagRW) {
		t.Fatal("recursive slot should be present and writable")
	}
	if got := dir[recursiveIndex].Frame(); got != pt.directory {
		t.Fatalf("recursive slot frame = %d, want %d (the directory's own frame)", got, pt.directory)
	}
}

func TestNewIdentityMapsFirstPageTable(t *testing.T) {
	_, cleanup := withMockMMU(t)
	defer cleanup()

	pt := New()
	dir := entriesAtFn(pt.directory.Address())

	if !dir[0].HasFlags(FlagPresent | FlagRW) {
		t.Fatal("directory entry 0 should be present and writable")
	}

	table := entriesAtFn(dir[0].Frame().Address())
	if got, want := table[0].Frame().Address(), uint32(0); got != want {
		t.Fatalf("table[0] maps frame at %#x, want identity-mapped %#x", got, want)
	}
	if got, want := table[5].Frame().Address(), uint32(5*pmm.FrameSize); got != want {
		t.Fatalf("table[5] maps frame at %#x, want %#x", got, want)
	}
}

func TestNewLeavesMiddleDirectoryEntriesAbsent(t *testing.T) {
	_, cleanup := withMockMMU(t)
	defer cleanup()

	pt := New()
	dir := entriesAtFn(pt.directory.Address())

	for _, idx := range []int{1, 500, recursiveIndex - 1} {
		if dir[idx].HasFlags(FlagPresent) {
			t.Fatalf("directory entry %d should not be present before any fault maps it", idx)
		}
	}
}

func TestLoadSetsCR3(t *testing.T) {
	m, cleanup := withMockMMU(t)
	defer cleanup()

	pt := New()
	pt.Load()

	if got := m.cr3; got != pt.directory.Address() {
		t.Fatalf("CR3 = %#x, want %#x", got, pt.directory.Address())
	}
}

func TestEnablePagingSetsPagingBit(t *testing.T) {
	m, cleanup := withMockMMU(t)
	defer cleanup()

	m.cr0 = 0
	EnablePaging()

	if m.cr0&0x80000000 == 0 {
		t.Fatal("EnablePaging should set bit 31 of CR0")
	}
}

// The branch of HandleFault that calls kernel.Panic on an illegitimate
// address is not tested here: kernel.Panic's halt hook (haltFn) is
// unexported, and kernel's own tests cover Panic itself; cpu.Halt is a
// bodiless, architecture-specific primitive with no Go implementation to
// invoke here.

type acceptAllRegion struct{}

func (acceptAllRegion) IsLegitimate(uint32) bool { return true }

func TestHandleFaultAllocatesPageTableThenPage(t *testing.T) {
	_, cleanup := withMockMMU(t)
	defer cleanup()

	pt := New()
	pt.Load()
	RegisterPool(acceptAllRegion{})

	const faultAddr = uint32(8) << 22 // directory index 8, well past the identity-mapped table

	cr2ReadFn = func() uint32 { return faultAddr }
	HandleFault(&irq.Regs{ErrCode: 0})

	dir := entriesAtFn(pt.directory.Address())
	if !dir[8].HasFlags(FlagPresent) {
		t.Fatal("first fault on a new directory region should allocate and map a page table")
	}

	table := entriesAtFn(dir[8].Frame().Address())
	if table[0].HasFlags(FlagPresent) {
		t.Fatal("the PTE itself should still be absent after only the page-table allocation branch runs")
	}

	HandleFault(&irq.Regs{ErrCode: 0})
	if !table[0].HasFlags(FlagPresent) {
		t.Fatal("second fault at the same address should map the backing page")
	}
}

func TestFreePageReleasesFrameAndClearsPresent(t *testing.T) {
	_, cleanup := withMockMMU(t)
	defer cleanup()

	pt := New()
	pt.Load()
	RegisterPool(acceptAllRegion{})

	const faultAddr = uint32(8) << 22
	cr2ReadFn = func() uint32 { return faultAddr }
	HandleFault(&irq.Regs{ErrCode: 0})
	HandleFault(&irq.Regs{ErrCode: 0})

	var released pmm.Frame
	origRelease := releaseFramesFn
	releaseFramesFn = func(f pmm.Frame) { released = f }
	defer func() { releaseFramesFn = origRelease }()

	pt.FreePage(faultAddr)

	if released == 0 {
		t.Fatal("FreePage should release the frame that was backing the page")
	}

	table := entriesAtFn(pdeSelfAddressForTest(pt, faultAddr))
	pteIndex := (faultAddr >> 12) & pteIndexMax
	if table[pteIndex].HasFlags(FlagPresent) {
		t.Fatal("FreePage should clear the present bit")
	}
}

func pdeSelfAddressForTest(pt *PageTable, addr uint32) uint32 {
	dir := entriesAtFn(pt.directory.Address())
	return dir[(addr>>pdeShift)&pteIndexMax].Frame().Address()
}
