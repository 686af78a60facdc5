package nativepool

import "unsafe"

// forwardIterator walks a listEntry-rooted list front to back. It is the Go
// analogue of tbox's tb_iterator_ref_t/tb_list_entry_itor pair used to drive
// the page pool's dump routine — scoped to this package since the general
// iterator/remove algorithm itself is out of scope here.
type forwardIterator struct {
	head *listEntry
	cur  unsafe.Pointer
}

func newForwardIterator(head *listEntry) *forwardIterator {
	return &forwardIterator{head: head, cur: firstOf(head)}
}

func (it *forwardIterator) valid() bool {
	return it.cur != sentinelOf(it.head)
}

func (it *forwardIterator) header() *dataHeader {
	return (*dataHeader)(it.cur)
}

// next advances the iterator by reading the current entry's link. A caller
// that removes the current element mid-walk must call next before removing
// it, as Clear does before its per-entry Free.
func (it *forwardIterator) next() {
	it.cur = nextOf(it.cur)
}
