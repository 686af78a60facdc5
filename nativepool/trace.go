package nativepool

import (
	"fmt"
	"os"
)

// trace gates the stderr call-and-result logging every operation below can
// emit, the same convention cznic-memory's Malloc/Free/Realloc/Calloc use
// ("if trace { ... fmt.Fprintf(os.Stderr, ...) }"). It is false in normal
// builds; flip it in a debugger session or a throwaway local build, never in
// committed code.
var trace = false

func traceMalloc(size int, b []byte, err error) {
	if !trace {
		return
	}
	fmt.Fprintf(os.Stderr, "Malloc(%#x) %p, %v\n", size, addrOf(b), err)
}

func traceRalloc(old []byte, size int, b []byte, err error) {
	if !trace {
		return
	}
	fmt.Fprintf(os.Stderr, "Ralloc(%p, %#x) %p, %v\n", addrOf(old), size, addrOf(b), err)
}

func traceFree(b []byte, ok bool) {
	if !trace {
		return
	}
	fmt.Fprintf(os.Stderr, "Free(%p) %v\n", addrOf(b), ok)
}

func addrOf(b []byte) *byte {
	if len(b) == 0 {
		return nil
	}
	return &b[0]
}
