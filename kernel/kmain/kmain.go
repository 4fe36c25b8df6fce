// Package kmain assembles the memory-management core (contiguous frame
// pools, the page table and a process virtual memory pool) into the single
// bring-up sequence the rest of the kernel depends on.
package kmain

import (
	"github.com/aayushhyadav/csce-611/kernel"
	"github.com/aayushhyadav/csce-611/kernel/console"
	"github.com/aayushhyadav/csce-611/kernel/cpu"
	"github.com/aayushhyadav/csce-611/kernel/mm/pmm"
	"github.com/aayushhyadav/csce-611/kernel/mm/pmm/cfp"
	"github.com/aayushhyadav/csce-611/kernel/mm/vmm"
	"github.com/aayushhyadav/csce-611/kernel/mm/vmpool"
)

var errKmainReturned = &kernel.Error{Module: "kmain", Message: "Kmain returned"}

var errNoInfoFrame = &kernel.Error{Module: "kmain", Message: "kernel pool exhausted while reserving the process pool's info frame"}

// processPoolVMSize is the size in bytes of the logical address range the
// bring-up sequence hands to the first process virtual memory pool.
const processPoolVMSize = 4 * 1024 * 1024

// Kmain constructs the kernel and process frame pools, builds and loads a
// page table over them, enables paging and registers a virtual memory pool
// against the live address space. It is not expected to return.
//
//go:noinline
func Kmain() {
	// Interrupts stay disabled while the pools and the initial page
	// table are under construction: a page fault arriving before the
	// page-fault handler and the frame pools it depends on are both
	// fully in place has nowhere legitimate to resolve to.
	cpu.DisableInterrupts()

	kernelPool := cfp.New(pmm.KernelPoolStartFrame, pmm.KernelPoolFrameCount, 0)

	// The process pool's bitmap lives in an info frame drawn from the
	// kernel pool rather than self-consuming its own first frame, matching
	// the original bring-up sequence.
	processInfoFrame := kernelPool.GetFrames(cfp.NeededInfoFrames(pmm.ProcessPoolFrameCount))
	kernel.PanicOnCondition(processInfoFrame == 0, errNoInfoFrame)

	processPool := cfp.New(pmm.ProcessPoolStartFrame, pmm.ProcessPoolFrameCount, processInfoFrame)
	processPool.MarkInaccessible(pmm.ProcessPoolHoleStartFrame, pmm.ProcessPoolHoleFrameCount)

	// vmm.New identity-maps the first 4MiB of physical memory.
	vmm.InitPaging(kernelPool, processPool, 4*1024*1024)

	pt := vmm.New()
	pt.Load()
	vmm.InstallFaultHandler()
	vmm.EnablePaging()

	cpu.EnableInterrupts()

	console.Puts("kmain: paging enabled\n")

	vmpool.New(pt, pmm.ProcessPoolStartFrame.Address(), processPoolVMSize)

	kernel.Panic(errKmainReturned)
}
