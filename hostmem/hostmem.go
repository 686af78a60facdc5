// Copyright 2017 The Memory Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package hostmem is the host memory source the native page pool is built on:
// raw allocate/reallocate/free of anonymous, page-backed byte regions, plus
// the system page size. It owns no bookkeeping of its own — every region it
// hands out is uninterpreted bytes; tracking what's live is nativepool's job.
package hostmem

import (
	"errors"
	"fmt"
)

// PageSize reports the size, in bytes, of a native memory page on this host.
func PageSize() int { return osPageSize }

// Allocate reserves n freshly-mapped, uninitialized bytes from the host.
// Allocate panics for n <= 0; callers are expected to have already rejected
// degenerate sizes the way nativepool.Malloc does.
func Allocate(n int) ([]byte, error) {
	if n <= 0 {
		panic("hostmem: allocate size must be positive")
	}

	b, err := rawMmap(n)
	if err != nil {
		return nil, fmt.Errorf("hostmem: allocate %d bytes: %w", n, err)
	}

	return b, nil
}

// Free releases a region previously returned by Allocate or Reallocate.
// Free of a nil/empty region is a no-op.
func Free(b []byte) error {
	if len(b) == 0 {
		return nil
	}

	if err := rawMunmap(b); err != nil {
		return fmt.Errorf("hostmem: free: %w", err)
	}

	return nil
}

// Reallocate resizes b to newSize, preserving the overlapping prefix. Since
// anonymous mappings cannot grow in place portably, this is always a fresh
// Allocate, a copy of min(len(b), newSize) bytes, and a Free of the old
// region — mirroring the large-object path of cznic-memory's own
// Allocator.Realloc. On failure to allocate the new region, b is left
// untouched and unfreed.
func Reallocate(b []byte, newSize int) ([]byte, error) {
	if newSize <= 0 {
		return nil, errors.New("hostmem: reallocate size must be positive")
	}

	nb, err := Allocate(newSize)
	if err != nil {
		return nil, err
	}

	n := len(b)
	if newSize < n {
		n = newSize
	}
	copy(nb, b[:n])

	if err := Free(b); err != nil {
		Free(nb) //nolint:errcheck // best effort; the original failure is what's reported
		return nil, err
	}

	return nb, nil
}
