// Copyright 2011 Evan Shaw. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE-MMAP-GO file.

// Modifications (c) 2017 The Memory Authors.

//go:build windows

package hostmem

import (
	"errors"
	"os"
	"reflect"
	"unsafe"

	"golang.org/x/sys/windows"
)

// mmap on Windows is a two-step process. First CreateFileMapping hands back a
// handle, then MapViewOfFile turns that handle into an actual address.

var (
	osPageSize = func() int {
		var si windows.SystemInfo
		windows.GetSystemInfo(&si)
		return int(si.PageSize)
	}()
	osPageMask = osPageSize - 1

	// handleMap lets rawMunmap recover the CreateFileMapping handle that
	// belongs to a mapped address; MapViewOfFile only gives us the address.
	handleMap = map[uintptr]windows.Handle{}
)

func rawMmap(size int) ([]byte, error) {
	maxSizeHigh := uint32(int64(size) >> 32)
	maxSizeLow := uint32(int64(size) & 0xFFFFFFFF)
	h, err := windows.CreateFileMapping(windows.InvalidHandle, nil, windows.PAGE_READWRITE, maxSizeHigh, maxSizeLow, nil)
	if h == 0 {
		return nil, os.NewSyscallError("CreateFileMapping", err)
	}

	addr, err := windows.MapViewOfFile(h, windows.FILE_MAP_WRITE, 0, 0, uintptr(size))
	if addr == 0 {
		return nil, os.NewSyscallError("MapViewOfFile", err)
	}

	if addr&uintptr(osPageMask) != 0 {
		panic("hostmem: mmap returned a region that isn't page-aligned")
	}

	handleMap[addr] = h
	var b []byte
	sh := (*reflect.SliceHeader)(unsafe.Pointer(&b))
	sh.Data = addr
	sh.Len = size
	sh.Cap = size
	return b, nil
}

func rawMunmap(b []byte) error {
	addr := uintptr(unsafe.Pointer(&b[0]))
	if err := windows.UnmapViewOfFile(addr); err != nil {
		return err
	}

	handle, ok := handleMap[addr]
	if !ok {
		return errors.New("hostmem: unmapped an unknown base address")
	}
	delete(handleMap, addr)

	return os.NewSyscallError("CloseHandle", windows.CloseHandle(handle))
}
