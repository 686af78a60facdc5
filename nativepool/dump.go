package nativepool

import (
	"fmt"
	"io"
)

// Dump reports every still-live allocation as a leak — running checkData on
// each one first, so a dump also catches corruption in an allocation nobody
// ever touched again — then the lifetime counters: peak_size, a waste-rate
// fraction in parts-per-10000, and the three operation counts.
//
// Dump is a diagnostics-only operation. Called on a pool built without
// diagnostics, it does nothing: there is no magic/guard state to validate
// and no counters were kept.
func Dump(h Handle, w io.Writer) {
	p := instanceOf(h)
	if p == nil || !p.diagnostics {
		return
	}

	fmt.Fprintln(w, "======================================================================")

	it := newForwardIterator(&p.head)
	for it.valid() {
		hdr := it.header()
		p.checkData(hdr)

		fmt.Fprintf(w, "leak: %p\n", userAddr(hdr))
		hexDump(w, "[nativepool]: [leak]: ", userBytes(hdr))

		it.next()
	}

	var wasteRate int64
	if p.occupiedSize != 0 {
		wasteRate = (int64(p.occupiedSize) - int64(p.totalSize)) * 10000 / int64(p.occupiedSize)
	}

	fmt.Fprintf(w, "peak_size: %d\n", p.peakSize)
	fmt.Fprintf(w, "waste_rate: %d/10000\n", wasteRate)
	fmt.Fprintf(w, "free_count: %d\n", p.freeCount)
	fmt.Fprintf(w, "malloc_count: %d\n", p.mallocCount)
	fmt.Fprintf(w, "ralloc_count: %d\n", p.rallocCount)
	fmt.Fprintln(w, "======================================================================")
}
