package nativepool

import (
	"errors"
	"fmt"
	"unsafe"

	"github.com/tbfly/tbox/hostmem"
)

// hostAllocate/hostReallocate/hostFree/hostPageSize indirect every call into
// hostmem through package-level vars instead of calling hostmem directly.
// Tests in this package substitute hostReallocate to force a restartable
// ralloc failure (§8 scenario 3) without needing to exhaust real host memory.
var (
	hostAllocate   = hostmem.Allocate
	hostReallocate = hostmem.Reallocate
	hostFree       = hostmem.Free
	hostPageSize   = hostmem.PageSize
)

// poolInstance is host-allocated, not Go-heap-allocated — it is carved out
// of hostmem exactly like every allocation header it tracks. A Go-heap
// poolInstance with intrusive pointers written into it from off-heap header
// memory would be an invisible-to-the-garbage-collector mutation target;
// allocating the instance itself from the host source sidesteps the
// question, the same way tb_native_page_pool_init calls
// tb_native_memory_malloc0 for the impl struct rather than using the
// language's managed heap.
type poolInstance struct {
	head  listEntry // live allocations, insertion order
	freed listEntry // diagnostics-only quarantine, see Free's doc comment

	selfSize    int
	pageSize    int
	diagnostics bool

	liveCount int // list length; tracked regardless of diagnostics

	peakSize     int
	totalSize    int
	occupiedSize int
	mallocCount  int
	rallocCount  int
	freeCount    int
}

func instanceOf(h Handle) *poolInstance {
	if h.ptr == nil {
		return nil
	}
	return (*poolInstance)(h.ptr)
}

// Init allocates a pool instance from hostmem and prepares an empty list.
// It fails if the host allocation fails or the host reports a zero page
// size; on failure, the partially-constructed pool is exited before Init
// returns its error, matching the C original's "if (impl) exit(impl)" path.
func Init(diagnostics bool) (Handle, error) {
	size := int(unsafe.Sizeof(poolInstance{}))
	b, err := hostAllocate(size)
	if err != nil {
		return Handle{}, fmt.Errorf("nativepool: init: %w", err)
	}

	p := (*poolInstance)(unsafe.Pointer(unsafe.SliceData(b)))
	*p = poolInstance{}
	p.selfSize = size
	p.diagnostics = diagnostics
	initList(&p.head)
	initList(&p.freed)

	h := Handle{kind: KindNative, ptr: unsafe.Pointer(p)}

	ps := hostPageSize()
	if ps <= 0 {
		Exit(h)
		return Handle{}, errors.New("nativepool: init: host reports zero page size")
	}
	p.pageSize = ps

	return h, nil
}

// Exit frees every live allocation via Clear, then releases the pool
// instance itself. Exit on the zero Handle is a no-op. Exit does not reset
// the caller's Handle: it is dangling afterwards and must not be passed to
// any operation again, Exit included.
func Exit(h Handle) {
	p := instanceOf(h)
	if p == nil {
		return
	}

	Clear(h)

	self := unsafe.Slice((*byte)(h.ptr), p.selfSize)
	hostFree(self) //nolint:errcheck // best effort; Exit has no error return, matching tb_void_t
}

// Clear frees every still-live allocation, in list order, and drains the
// diagnostics quarantine (see Free). It leaves the pool instance itself
// allocated and ready for further use.
func Clear(h Handle) {
	p := instanceOf(h)
	if p == nil {
		return
	}

	it := newForwardIterator(&p.head)
	for it.valid() {
		hdr := it.header()
		it.next()
		Free(h, userBytes(hdr))
	}

	drainQuarantine(p)
}

func drainQuarantine(p *poolInstance) {
	it := newForwardIterator(&p.freed)
	for it.valid() {
		hdr := it.header()
		it.next()
		removeEntry(unsafe.Pointer(&hdr.entry))
		raw := unsafe.Slice((*byte)(unsafe.Pointer(hdr)), int(hdr.allocSize))
		hostFree(raw) //nolint:errcheck // best effort, same as Exit
	}
}

// Malloc carves need = headerSize + size + guard bytes out of hostmem,
// initializes the header, threads it onto the list tail, and returns the
// user-visible slice. Under diagnostics the body and guard byte are dirtied
// to DataPatch and the caller site / backtrace are captured.
func Malloc(h Handle, size int) (b []byte, err error) {
	if trace {
		defer func() { traceMalloc(size, b, err) }()
	}

	p := instanceOf(h)
	if p == nil || p.pageSize == 0 {
		return nil, errors.New("nativepool: malloc: invalid pool handle")
	}
	if size < 0 {
		panic("nativepool: malloc: negative size")
	}

	guard := 0
	if p.diagnostics {
		guard = 1
		p.checkLast()
	}
	need := headerSize + size + guard

	raw, err := hostAllocate(need)
	if err != nil {
		return nil, fmt.Errorf("nativepool: malloc: %w", err)
	}

	// A real host allocator never returns an odd address at this alignment;
	// this is the Go port's analogue of tbox's low-bit assertion on the
	// malloc'd address. tbox's version guards against colliding with its
	// pointer-bit-tagged pool handles specifically; this package tags pool
	// kind out-of-band (see Handle), so here it's a plain alignment sanity
	// check rather than a handle-collision check.
	base := unsafe.Pointer(unsafe.SliceData(raw))
	if uintptr(base)&1 != 0 {
		panic("nativepool: malloc: host returned an oddly-aligned address")
	}

	hdr := (*dataHeader)(base)
	*hdr = dataHeader{}
	hdr.allocSize = uint32(need)
	hdr.size = uint32(size)
	hdr.poolTag = uintptr(h.ptr)

	if p.diagnostics {
		hdr.debug.magic = DataMagic
		hdr.debug.line, hdr.debug.file, hdr.debug.function = callerSite(2)
		captureBacktrace(&hdr.debug.backtrace)
		fillPatch(hdr)
	}

	insertTail(&p.head, unsafe.Pointer(&hdr.entry))
	p.liveCount++

	if p.diagnostics {
		occupied := need - debugHeadSize
		p.occupiedSize += occupied
		p.totalSize += size
		if occupied > p.peakSize {
			p.peakSize = occupied
		}
		p.mallocCount++
	}

	return userBytes(hdr), nil
}

// recoverAndValidate recovers the header behind b and checks ownership
// (always) plus magic/guard integrity (diagnostics only). Ownership
// mismatch and corruption share tbox's asymmetry: without diagnostics a
// mismatch is reported as ok=false; with diagnostics it is a hard abort,
// since in that mode we already trust the other fields enough to dump them.
func (p *poolInstance) recoverAndValidate(h Handle, b []byte) (*dataHeader, bool) {
	hdr := recoverHeader(b)
	if hdr == nil {
		return nil, false
	}

	if hdr.poolTag != uintptr(h.ptr) {
		if p.diagnostics {
			dumpOffending(hdr)
			panic(fmt.Sprintf("nativepool: data %p does not belong to pool %p", userAddr(hdr), h.ptr))
		}
		return nil, false
	}

	p.checkData(hdr)
	return hdr, true
}

// Ralloc resizes an existing allocation. Failure is restartable: if hostmem
// fails to grow the block, the original header — detached from the list
// just beforehand — is reinserted at the tail before Ralloc returns, so the
// pool never loses track of it.
func Ralloc(h Handle, b []byte, size int) (r []byte, err error) {
	if trace {
		defer func() { traceRalloc(b, size, r, err) }()
	}

	p := instanceOf(h)
	if p == nil || p.pageSize == 0 {
		return nil, errors.New("nativepool: ralloc: invalid pool handle")
	}
	if size < 0 {
		panic("nativepool: ralloc: negative size")
	}

	hdr, ok := p.recoverAndValidate(h, b)
	if !ok {
		return nil, nil
	}

	p.checkLast()
	p.checkPrevOf(hdr)
	p.checkNextOf(hdr)

	removeEntry(unsafe.Pointer(&hdr.entry))

	guard := 0
	if p.diagnostics {
		guard = 1
	}
	need := headerSize + size + guard

	raw := unsafe.Slice((*byte)(unsafe.Pointer(hdr)), int(hdr.allocSize))
	newRaw, err := hostReallocate(raw, need)
	if err != nil {
		// Restore the original entry at the tail: ralloc failure must not
		// lose the tracked allocation.
		insertTail(&p.head, unsafe.Pointer(&hdr.entry))
		return nil, fmt.Errorf("nativepool: ralloc: %w", err)
	}

	newHdr := (*dataHeader)(unsafe.Pointer(unsafe.SliceData(newRaw)))
	newHdr.allocSize = uint32(need)
	newHdr.size = uint32(size)

	if p.diagnostics {
		if newHdr.debug.magic != DataMagic {
			dumpOffending(newHdr)
			panic(fmt.Sprintf("nativepool: ralloc data have been changed: %p", userAddr(newHdr)))
		}
		newHdr.debug.line, newHdr.debug.file, newHdr.debug.function = callerSite(2)
		captureBacktrace(&newHdr.debug.backtrace)
		fillPatch(newHdr)
	}

	insertTail(&p.head, unsafe.Pointer(&newHdr.entry))

	if p.diagnostics {
		occupied := need - debugHeadSize
		p.occupiedSize += occupied
		p.totalSize += size
		if occupied > p.peakSize {
			p.peakSize = occupied
		}
		p.rallocCount++
	}

	return userBytes(newHdr), nil
}

// Free validates, detaches, and releases an allocation.
//
// Under diagnostics, the released block is not unmapped immediately.
// hostmem's host source is real page-granular mmap: unmapping a block the
// instant it's freed means any read of a stale pointer afterwards — exactly
// what a second Free on the same pointer performs, to check the magic — hits
// a hardware fault instead of the library's own corruption check. So under
// diagnostics, Free inverts the magic (arming detection) and moves the
// header into an internal quarantine list instead of releasing it to the
// host; Clear and Exit drain the quarantine for real. Without diagnostics,
// there is nothing to detect, and Free releases the block immediately.
func Free(h Handle, b []byte) (ok bool) {
	if trace {
		defer func() { traceFree(b, ok) }()
	}

	p := instanceOf(h)
	if p == nil {
		return false
	}

	hdr, ok := p.recoverAndValidate(h, b)
	if !ok {
		return false
	}

	p.checkLast()
	p.checkPrevOf(hdr)
	p.checkNextOf(hdr)

	removeEntry(unsafe.Pointer(&hdr.entry))
	p.liveCount--

	if p.diagnostics {
		hdr.debug.magic = ^hdr.debug.magic
		insertTail(&p.freed, unsafe.Pointer(&hdr.entry))
		p.freeCount++
		return true
	}

	raw := unsafe.Slice((*byte)(unsafe.Pointer(hdr)), int(hdr.allocSize))
	return hostFree(raw) == nil
}

// Stats is a snapshot of a pool's bookkeeping.
type Stats struct {
	PageSize    int
	Diagnostics bool
	Live        int

	PeakSize     int
	TotalSize    int
	OccupiedSize int
	MallocCount  int
	RallocCount  int
	FreeCount    int
}

// StatsOf reports h's current counters. It returns ok=false for an invalid
// handle.
func StatsOf(h Handle) (s Stats, ok bool) {
	p := instanceOf(h)
	if p == nil {
		return Stats{}, false
	}

	return Stats{
		PageSize:     p.pageSize,
		Diagnostics:  p.diagnostics,
		Live:         p.liveCount,
		PeakSize:     p.peakSize,
		TotalSize:    p.totalSize,
		OccupiedSize: p.occupiedSize,
		MallocCount:  p.mallocCount,
		RallocCount:  p.rallocCount,
		FreeCount:    p.freeCount,
	}, true
}
