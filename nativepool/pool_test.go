package nativepool

import (
	"bytes"
	"errors"
	"math"
	"testing"
	"unsafe"

	"github.com/cznic/mathutil"
)

var errRallocForced = errors.New("forced ralloc failure")

func mustInit(t *testing.T, diagnostics bool) Handle {
	t.Helper()
	h, err := Init(diagnostics)
	if err != nil {
		t.Fatal(err)
	}
	return h
}

// Scenario 1: init -> malloc(16) -> free -> exit. Returns true, zero leaks.
func TestScenarioMallocFreeExit(t *testing.T) {
	h := mustInit(t, true)
	defer Exit(h)

	p, err := Malloc(h, 16)
	if err != nil {
		t.Fatal(err)
	}
	if !Free(h, p) {
		t.Fatal("Free returned false")
	}

	var buf bytes.Buffer
	Dump(h, &buf)
	if bytes.Contains(buf.Bytes(), []byte("leak:")) {
		t.Fatalf("unexpected leak reported: %s", buf.String())
	}
}

// Scenario 2: init -> malloc(8) -> ralloc(32) -> free -> exit.
func TestScenarioMallocRallocFreeExit(t *testing.T) {
	h := mustInit(t, true)
	defer Exit(h)

	p, err := Malloc(h, 8)
	if err != nil {
		t.Fatal(err)
	}

	q, err := Ralloc(h, p, 32)
	if err != nil {
		t.Fatal(err)
	}
	if len(q) != 32 {
		t.Fatalf("len(q) = %d, want 32", len(q))
	}

	if !Free(h, q) {
		t.Fatal("Free returned false")
	}

	stats, ok := StatsOf(h)
	if !ok {
		t.Fatal("StatsOf: invalid handle")
	}
	if stats.MallocCount != 1 || stats.RallocCount != 1 || stats.FreeCount != 1 {
		t.Fatalf("counters = %+v, want malloc=1 ralloc=1 free=1", stats)
	}
}

// Scenario 3: ralloc forced to fail at the host leaves the original pointer
// listed and freeable; the pool is clean at exit.
func TestScenarioRallocFailureRestartable(t *testing.T) {
	h := mustInit(t, true)
	defer Exit(h)

	p, err := Malloc(h, 8)
	if err != nil {
		t.Fatal(err)
	}

	orig := hostReallocate
	hostReallocate = func(b []byte, newSize int) ([]byte, error) {
		return nil, errRallocForced
	}
	defer func() { hostReallocate = orig }()

	q, err := Ralloc(h, p, 32)
	if err == nil {
		t.Fatal("Ralloc returned a nil error on forced host-reallocate failure")
	}
	if !errors.Is(err, errRallocForced) {
		t.Fatalf("err = %v, want it to wrap the forced failure", err)
	}
	if q != nil {
		t.Fatalf("q = %v, want nil on forced failure", q)
	}

	stats, _ := StatsOf(h)
	if stats.Live != 1 {
		t.Fatalf("Live = %d, want 1 (original allocation still tracked)", stats.Live)
	}

	if !Free(h, p) {
		t.Fatal("Free(original pointer) returned false after forced ralloc failure")
	}
}

// Scenario 4: two mallocs, clear, exit: two frees executed by clear, no leaks.
func TestScenarioClearFreesAll(t *testing.T) {
	h := mustInit(t, true)
	defer Exit(h)

	if _, err := Malloc(h, 4); err != nil {
		t.Fatal(err)
	}
	if _, err := Malloc(h, 4); err != nil {
		t.Fatal(err)
	}

	Clear(h)

	stats, _ := StatsOf(h)
	if stats.Live != 0 {
		t.Fatalf("Live = %d, want 0 after Clear", stats.Live)
	}
	if stats.FreeCount != 2 {
		t.Fatalf("FreeCount = %d, want 2", stats.FreeCount)
	}
}

// Scenario 5: a leaked allocation is reported as a leak on Dump, before exit.
func TestScenarioDumpReportsLeak(t *testing.T) {
	h := mustInit(t, true)
	defer Exit(h)
	defer Clear(h) // clean up without relying on the leak path under test

	if _, err := Malloc(h, 10); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	Dump(h, &buf)

	if !bytes.Contains(buf.Bytes(), []byte("leak:")) {
		t.Fatalf("Dump did not report a leak: %s", buf.String())
	}
}

// Scenario 6: a second Free on the same pointer aborts under diagnostics.
func TestScenarioDoubleFreeAborts(t *testing.T) {
	h := mustInit(t, true)
	defer Exit(h)

	p, err := Malloc(h, 4)
	if err != nil {
		t.Fatal(err)
	}
	if !Free(h, p) {
		t.Fatal("first Free returned false")
	}

	defer func() {
		if recover() == nil {
			t.Fatal("second Free did not abort")
		}
	}()
	Free(h, p)
	t.Fatal("unreachable")
}

// Round-trip: malloc then free returns true and decrements the live count.
func TestRoundTrip(t *testing.T) {
	for _, diag := range []bool{true, false} {
		h := mustInit(t, diag)

		p, err := Malloc(h, 24)
		if err != nil {
			t.Fatal(err)
		}

		before, _ := StatsOf(h)
		if !Free(h, p) {
			t.Fatal("Free returned false")
		}
		after, _ := StatsOf(h)

		if after.Live != before.Live-1 {
			t.Fatalf("Live went from %d to %d, want a decrease of 1", before.Live, after.Live)
		}

		Exit(h)
	}
}

// Ownership: freeing through the wrong pool is rejected.
func TestOwnershipRejected(t *testing.T) {
	for _, diag := range []bool{false, true} {
		a := mustInit(t, diag)
		b := mustInit(t, diag)

		p, err := Malloc(a, 16)
		if err != nil {
			t.Fatal(err)
		}

		if diag {
			func() {
				defer func() {
					if recover() == nil {
						t.Fatal("cross-pool free did not abort under diagnostics")
					}
				}()
				Free(b, p)
			}()
			// p is still owned by a and still live; free it properly before exit.
			if !Free(a, p) {
				t.Fatal("Free(a, p) returned false")
			}
		} else {
			if Free(b, p) {
				t.Fatal("Free(b, p) returned true for data owned by a")
			}
			if !Free(a, p) {
				t.Fatal("Free(a, p) returned false")
			}
		}

		Exit(a)
		Exit(b)
	}
}

// Guard integrity: corrupting the guard byte trips the next diagnostic check
// that touches the allocation.
func TestGuardIntegrityTripsCheck(t *testing.T) {
	h := mustInit(t, true)
	defer Exit(h)

	p, err := Malloc(h, 8)
	if err != nil {
		t.Fatal(err)
	}

	hdr := recoverHeader(p)
	*guardPtr(hdr) = 0x00 // corrupt the guard byte written by Malloc

	defer func() {
		if recover() == nil {
			t.Fatal("corrupted guard byte did not trip the check")
		}
		*guardPtr(hdr) = DataPatch // restore so the deferred Exit can release it
	}()
	Free(h, p)
	t.Fatal("unreachable")
}

// Counter monotonicity across a mixed sequence of operations.
func TestCounterMonotonicity(t *testing.T) {
	h := mustInit(t, true)
	defer Exit(h)

	var prev Stats
	check := func() {
		cur, _ := StatsOf(h)
		if cur.TotalSize < prev.TotalSize ||
			cur.OccupiedSize < prev.OccupiedSize ||
			cur.MallocCount < prev.MallocCount ||
			cur.RallocCount < prev.RallocCount ||
			cur.FreeCount < prev.FreeCount {
			t.Fatalf("counters regressed: prev=%+v cur=%+v", prev, cur)
		}
		prev = cur
	}

	a, err := Malloc(h, 10)
	if err != nil {
		t.Fatal(err)
	}
	check()

	a, err = Ralloc(h, a, 40)
	if err != nil {
		t.Fatal(err)
	}
	check()

	if !Free(h, a) {
		t.Fatal("Free returned false")
	}
	check()

	b, err := Malloc(h, 5)
	if err != nil {
		t.Fatal(err)
	}
	check()

	if !Free(h, b) {
		t.Fatal("Free returned false")
	}
	check()
}

// Clear empties: after Clear, the list is empty and nothing re-exposes prior
// allocations through Dump.
func TestClearEmpties(t *testing.T) {
	h := mustInit(t, true)
	defer Exit(h)

	if _, err := Malloc(h, 16); err != nil {
		t.Fatal(err)
	}
	if _, err := Malloc(h, 32); err != nil {
		t.Fatal(err)
	}

	Clear(h)

	stats, _ := StatsOf(h)
	if stats.Live != 0 {
		t.Fatalf("Live = %d, want 0", stats.Live)
	}

	var buf bytes.Buffer
	Dump(h, &buf)
	if bytes.Contains(buf.Bytes(), []byte("leak:")) {
		t.Fatalf("Dump reported a leak after Clear: %s", buf.String())
	}
}

// Insertion-order iteration: the list walk visits allocations in the order
// they were most recently inserted, including ralloc's tail reinsertion.
func TestInsertionOrderIteration(t *testing.T) {
	h := mustInit(t, true)
	defer Exit(h)

	a, err := Malloc(h, 4)
	if err != nil {
		t.Fatal(err)
	}
	b, err := Malloc(h, 4)
	if err != nil {
		t.Fatal(err)
	}
	c, err := Malloc(h, 4)
	if err != nil {
		t.Fatal(err)
	}

	// Ralloc moves a's entry to the tail.
	a, err = Ralloc(h, a, 8)
	if err != nil {
		t.Fatal(err)
	}

	p := instanceOf(h)
	var order []unsafe.Pointer
	it := firstOf(&p.head)
	for it != sentinelOf(&p.head) {
		order = append(order, userAddr((*dataHeader)(it)))
		it = nextOf(it)
	}

	want := []unsafe.Pointer{
		unsafe.Pointer(unsafe.SliceData(b)),
		unsafe.Pointer(unsafe.SliceData(c)),
		unsafe.Pointer(unsafe.SliceData(a)),
	}
	if len(order) != len(want) {
		t.Fatalf("iterated %d entries, want %d", len(order), len(want))
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("entry %d: got %p, want %p", i, order[i], want[i])
		}
	}

	Free(h, a)
	Free(h, b)
	Free(h, c)
}

// Malloc/free drill in cznic-memory's all_test.go style: allocate a quota's
// worth of randomly-sized regions with a reproducible FC32 sequence, verify
// the dirty-then-overwritten contents round-trip, shuffle, and free.
func testDrill(t *testing.T, diagnostics bool, max int) {
	const quota = 1 << 20

	h := mustInit(t, diagnostics)
	defer Exit(h)

	rng, err := mathutil.NewFC32(0, math.MaxInt32, true)
	if err != nil {
		t.Fatal(err)
	}
	rng.Seed(42)
	pos := rng.Pos()

	rem := quota
	var allocs [][]byte
	for rem > 0 {
		size := rng.Next()%max + 1
		rem -= size

		b, err := Malloc(h, size)
		if err != nil {
			t.Fatal(err)
		}
		for i := range b {
			b[i] = byte(rng.Next())
		}
		allocs = append(allocs, b)
	}

	rng.Seek(pos)
	for i, b := range allocs {
		if g, e := len(b), rng.Next()%max+1; g != e {
			t.Fatalf("alloc %d: len = %d, want %d", i, g, e)
		}
		for j, g := range b {
			if e := byte(rng.Next()); g != e {
				t.Fatalf("alloc %d byte %d: got %#02x, want %#02x", i, j, g, e)
			}
		}
	}

	for i := range allocs {
		j := rng.Next() % len(allocs)
		allocs[i], allocs[j] = allocs[j], allocs[i]
	}

	for _, b := range allocs {
		if !Free(h, b) {
			t.Fatal("Free returned false")
		}
	}

	stats, _ := StatsOf(h)
	if stats.Live != 0 {
		t.Fatalf("Live = %d, want 0", stats.Live)
	}
}

func TestDrillSmallDiagnostics(t *testing.T)   { testDrill(t, true, 256) }
func TestDrillSmallNoDiagnostics(t *testing.T) { testDrill(t, false, 256) }
func TestDrillLargeDiagnostics(t *testing.T)   { testDrill(t, true, 64<<10) }
func TestDrillLargeNoDiagnostics(t *testing.T) { testDrill(t, false, 64<<10) }

func TestExitOnZeroHandleIsNoop(t *testing.T) {
	Exit(Handle{})
	Clear(Handle{})
}

func TestFreeOfNilIsFalse(t *testing.T) {
	h := mustInit(t, true)
	defer Exit(h)

	if Free(h, nil) {
		t.Fatal("Free(h, nil) returned true")
	}
}

func TestRallocOfNilReturnsNil(t *testing.T) {
	h := mustInit(t, true)
	defer Exit(h)

	q, err := Ralloc(h, nil, 16)
	if err != nil {
		t.Fatal(err)
	}
	if q != nil {
		t.Fatalf("q = %v, want nil", q)
	}
}
