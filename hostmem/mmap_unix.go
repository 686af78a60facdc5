// Copyright 2011 Evan Shaw. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE-MMAP-GO file.

// Modifications (c) 2017 The Memory Authors.

//go:build unix

package hostmem

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

var (
	osPageSize = unix.Getpagesize()
	osPageMask = osPageSize - 1
)

func rawMmap(size int) ([]byte, error) {
	b, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_ANON)
	if err != nil {
		return nil, err
	}

	if uintptr(unsafe.Pointer(&b[0]))&uintptr(osPageMask) != 0 {
		panic("hostmem: mmap returned a region that isn't page-aligned")
	}

	return b, nil
}

func rawMunmap(b []byte) error {
	return unix.Munmap(b)
}
