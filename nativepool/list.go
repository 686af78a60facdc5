package nativepool

import "unsafe"

// listEntry is the intrusive doubly-linked link embedded in every header,
// plus the sentinel embedded in poolInstance itself. A sentinel acts as both
// "before first" and "after last": an empty list has head.next == head.prev
// == the sentinel's own address.
//
// entry must be the first field of dataHeader: list operations convert a
// *listEntry back to a *dataHeader by reinterpreting the same address,
// mirroring tbox's tb_list_entry container-of trick without needing an
// offset computation.
type listEntry struct {
	prev unsafe.Pointer
	next unsafe.Pointer
}

func initList(head *listEntry) {
	s := sentinelOf(head)
	head.prev = s
	head.next = s
}

func sentinelOf(head *listEntry) unsafe.Pointer { return unsafe.Pointer(head) }

func isEmptyList(head *listEntry) bool { return head.next == sentinelOf(head) }

func firstOf(head *listEntry) unsafe.Pointer { return head.next }

func lastOf(head *listEntry) unsafe.Pointer { return head.prev }

func entryAt(e unsafe.Pointer) *listEntry { return (*listEntry)(e) }

func nextOf(e unsafe.Pointer) unsafe.Pointer { return entryAt(e).next }

func prevOf(e unsafe.Pointer) unsafe.Pointer { return entryAt(e).prev }

// insertTail threads e onto the end of the list rooted at head, immediately
// before the sentinel.
func insertTail(head *listEntry, e unsafe.Pointer) {
	s := sentinelOf(head)
	last := head.prev
	entryAt(e).prev = last
	entryAt(e).next = s
	entryAt(last).next = e
	head.prev = e
}

// removeEntry detaches e from whatever list it currently sits in. e must
// currently be a member of exactly one list.
func removeEntry(e unsafe.Pointer) {
	en := entryAt(e)
	entryAt(en.prev).next = en.next
	entryAt(en.next).prev = en.prev
	en.prev = nil
	en.next = nil
}
