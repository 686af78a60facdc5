// Package nativepool implements the native page pool: an instrumented
// allocator that hands out arbitrarily-sized byte regions carved out of
// hostmem, tracks every live allocation in an intrusive doubly-linked list,
// and — when built with diagnostics — enforces no-double-free,
// no-cross-pool-free and no-buffer-underflow invariants via a magic sentinel
// and a guard byte.
//
// It does not recycle freed regions: every allocation maps 1:1 onto one
// hostmem allocation. "Page pool" names large-object tracking, not a
// free-list allocator. A pool is a single-owner resource; callers sharing a
// Handle across goroutines must provide their own mutual exclusion.
package nativepool
