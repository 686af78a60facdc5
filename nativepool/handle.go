package nativepool

import "unsafe"

// PoolKind discriminates pool flavors that could share this handle shape.
// Prefer this tagged-variant approach over tagging the low bit of a raw
// pointer: it keeps the discriminator out of the pointer value entirely,
// at the cost of one extra byte per handle, padded to a full word.
type PoolKind uint8

const (
	// KindNative is the only flavor this package implements. Room is left
	// in the type for sibling pool kinds (tbox itself has more than one)
	// that are out of scope here.
	KindNative PoolKind = iota
)

// Handle is an opaque reference to a pool instance, returned by Init. The
// zero Handle is invalid; every operation on it is a safe no-op or failure,
// never a crash.
type Handle struct {
	kind PoolKind
	ptr  unsafe.Pointer
}

// Kind reports which pool flavor h refers to.
func (h Handle) Kind() PoolKind { return h.kind }

// Valid reports whether h is a non-zero Handle. A Handle returned by a
// failed Init is not valid. Exit cannot reset the caller's copy, so a
// Handle that has already been passed to Exit still reports true.
func (h Handle) Valid() bool { return h.ptr != nil }
