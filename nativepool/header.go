package nativepool

import (
	"runtime"
	"unsafe"
)

// debugInfo is the diagnostics-only portion of a header: the live/freed
// magic, caller site, and a short backtrace. Its size is exactly what
// occupied-size accounting subtracts back out of "need" in Malloc/Ralloc,
// the same way native_page_pool.c subtracts sizeof(tb_pool_data_debug_head_t)
// rather than the whole header.
type debugInfo struct {
	magic     uint16
	line      int32
	file      string
	function  string
	backtrace [8]uintptr
}

// dataHeader is the fixed-layout prefix prepended to every user region.
// entry must stay the first field (see listEntry's doc comment).
type dataHeader struct {
	entry     listEntry
	poolTag   uintptr // owning-pool identity; compared for equality, never dereferenced
	allocSize uint32  // total bytes requested from hostmem for this block
	size      uint32  // user-requested size
	flags     uint8   // reserved; always zero for pool-originated allocations
	_         [3]byte
	debug     debugInfo
}

var (
	headerSize    = roundup(int(unsafe.Sizeof(dataHeader{})), DataAlign)
	debugHeadSize = int(unsafe.Sizeof(debugInfo{}))
)

// roundup returns n rounded up to the next multiple of m. m must be a power
// of 2: if n%m != 0 { n += m - n%m }.
func roundup(n, m int) int { return (n + m - 1) &^ (m - 1) }

// userAddr returns the address immediately past hdr, where the user payload
// begins — valid even when size is 0, unlike indexing userBytes(hdr)[0].
func userAddr(hdr *dataHeader) unsafe.Pointer {
	return unsafe.Add(unsafe.Pointer(hdr), headerSize)
}

func userBytes(hdr *dataHeader) []byte {
	return unsafe.Slice((*byte)(userAddr(hdr)), int(hdr.size))
}

func guardPtr(hdr *dataHeader) *byte {
	return (*byte)(unsafe.Add(userAddr(hdr), int(hdr.size)))
}

// fillPatch dirties the size+1 user-visible bytes (body plus guard byte)
// with DataPatch so accidental reads of uninitialized memory, or an
// untouched guard byte, are both recognizable.
func fillPatch(hdr *dataHeader) {
	b := unsafe.Slice((*byte)(userAddr(hdr)), int(hdr.size)+1)
	for i := range b {
		b[i] = DataPatch
	}
}

// recoverHeader walks back from a user-visible slice to the header that
// precedes it. It returns nil for a nil slice — the caller then treats the
// operation as an invalid-pointer failure rather than dereferencing garbage.
func recoverHeader(b []byte) *dataHeader {
	if b == nil {
		return nil
	}
	sd := unsafe.SliceData(b)
	if sd == nil {
		return nil
	}
	return (*dataHeader)(unsafe.Add(unsafe.Pointer(sd), -headerSize))
}

// callerSite recovers the file/line/function of the caller skip frames up,
// the idiomatic Go stand-in for the __FILE__/__func__/__LINE__ macros the
// tbox original captures at each call site.
func callerSite(skip int) (line int32, file, function string) {
	pc, f, l, ok := runtime.Caller(skip)
	if !ok {
		return 0, "", ""
	}
	name := ""
	if fn := runtime.FuncForPC(pc); fn != nil {
		name = fn.Name()
	}
	return int32(l), f, name
}

func captureBacktrace(bt *[8]uintptr) {
	n := runtime.Callers(3, bt[:])
	for i := n; i < len(bt); i++ {
		bt[i] = 0
	}
}
