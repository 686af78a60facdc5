package nativepool

import (
	"fmt"
	"io"
	"os"
	"unsafe"
)

// checkData is the diagnostics-only corruption check: the header must not
// already be freed (magic inverted), must carry a valid magic, and the
// guard byte at offset size must be untouched. Any failure dumps the
// offending region and hard-aborts — this is a memory-safety tool, not a
// recoverable error path.
func (p *poolInstance) checkData(hdr *dataHeader) {
	if !p.diagnostics {
		return
	}

	switch {
	case hdr.debug.magic == ^DataMagic:
		dumpOffending(hdr)
		panic(fmt.Sprintf("nativepool: data have been freed: %p", userAddr(hdr)))
	case hdr.debug.magic != DataMagic:
		dumpOffending(hdr)
		panic(fmt.Sprintf("nativepool: invalid data: %p", userAddr(hdr)))
	case *guardPtr(hdr) != DataPatch:
		dumpOffending(hdr)
		panic(fmt.Sprintf("nativepool: data underflow: %p", userAddr(hdr)))
	}
}

func (p *poolInstance) checkLast() {
	if !p.diagnostics || isEmptyList(&p.head) {
		return
	}
	p.checkData((*dataHeader)(lastOf(&p.head)))
}

func (p *poolInstance) checkPrevOf(hdr *dataHeader) {
	if !p.diagnostics || isEmptyList(&p.head) {
		return
	}
	prev := prevOf(unsafe.Pointer(&hdr.entry))
	if prev == sentinelOf(&p.head) {
		return
	}
	p.checkData((*dataHeader)(prev))
}

func (p *poolInstance) checkNextOf(hdr *dataHeader) {
	if !p.diagnostics || isEmptyList(&p.head) {
		return
	}
	next := nextOf(unsafe.Pointer(&hdr.entry))
	if next == sentinelOf(&p.head) {
		return
	}
	p.checkData((*dataHeader)(next))
}

func dumpOffending(hdr *dataHeader) {
	hexDump(os.Stderr, "[nativepool]: [error]: ", userBytes(hdr))
}

func hexDump(w io.Writer, prefix string, data []byte) {
	const max = 64
	n := len(data)
	if n > max {
		n = max
	}
	fmt.Fprintf(w, "%sdata: % x", prefix, data[:n])
	if len(data) > max {
		fmt.Fprintf(w, " ... (%d more bytes)", len(data)-max)
	}
	fmt.Fprintln(w)
}
