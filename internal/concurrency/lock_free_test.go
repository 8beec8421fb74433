package concurrency_test

import (
	"sync"
	"testing"

	"solsniper/internal/concurrency"
)

func TestAtomicFloat64_AddIsConsistentUnderContention(t *testing.T) {
	af := concurrency.NewAtomicFloat64(0)
	const goroutines = 50
	const perGoroutine = 200

	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				af.Add(1.0)
			}
		}()
	}
	wg.Wait()

	want := float64(goroutines * perGoroutine)
	if got := af.Load(); got != want {
		t.Fatalf("expected %v after concurrent adds, got %v", want, got)
	}
}

func TestAtomicFloat64_CompareAndSwap(t *testing.T) {
	af := concurrency.NewAtomicFloat64(1.5)
	if af.CompareAndSwap(1.0, 2.0) {
		t.Fatalf("CAS should fail against a stale expected value")
	}
	if !af.CompareAndSwap(1.5, 2.0) {
		t.Fatalf("CAS should succeed against the current value")
	}
	if af.Load() != 2.0 {
		t.Fatalf("expected 2.0 after a successful CAS, got %v", af.Load())
	}
}

func TestLockFreeQueue_FIFOOrderSingleProducer(t *testing.T) {
	q := concurrency.NewLockFreeQueue[int]()
	for i := 0; i < 100; i++ {
		q.Enqueue(i)
	}
	for i := 0; i < 100; i++ {
		v, ok := q.Dequeue()
		if !ok || v != i {
			t.Fatalf("expected (%d, true), got (%d, %v)", i, v, ok)
		}
	}
	if _, ok := q.Dequeue(); ok {
		t.Fatalf("expected Dequeue on an empty queue to report false")
	}
}

func TestLockFreeQueue_ConcurrentProducersNoLoss(t *testing.T) {
	q := concurrency.NewLockFreeQueue[int]()
	const producers = 20
	const perProducer = 500

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				q.Enqueue(i)
			}
		}()
	}
	wg.Wait()

	count := 0
	for {
		if _, ok := q.Dequeue(); !ok {
			break
		}
		count++
	}
	if want := producers * perProducer; count != want {
		t.Fatalf("expected %d items dequeued, got %d", want, count)
	}
}

func TestLockFreeRingBuffer_RejectsPushWhenFull(t *testing.T) {
	rb := concurrency.NewLockFreeRingBuffer[int](4)
	for i := 0; i < 4; i++ {
		if !rb.Push(i) {
			t.Fatalf("push %d: expected capacity for 4 items", i)
		}
	}
	if rb.Push(99) {
		t.Fatalf("expected Push to fail once the ring buffer is at capacity")
	}
	if rb.Len() != 4 {
		t.Fatalf("expected Len 4, got %d", rb.Len())
	}

	v, ok := rb.Pop()
	if !ok || v != 0 {
		t.Fatalf("expected (0, true) FIFO pop, got (%d, %v)", v, ok)
	}
	if !rb.Push(99) {
		t.Fatalf("expected a slot to free up after one pop")
	}
}

func TestLockFreeRingBuffer_PopEmptyReportsFalse(t *testing.T) {
	rb := concurrency.NewLockFreeRingBuffer[string](2)
	if _, ok := rb.Pop(); ok {
		t.Fatalf("expected Pop on an empty ring buffer to report false")
	}
}

func TestSequenceGenerator_MonotonicAcrossGoroutines(t *testing.T) {
	sg := concurrency.NewSequenceGenerator(0)
	const goroutines = 10
	const perGoroutine = 100

	seen := make(chan int64, goroutines*perGoroutine)
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				seen <- sg.Next()
			}
		}()
	}
	wg.Wait()
	close(seen)

	unique := make(map[int64]struct{}, goroutines*perGoroutine)
	for v := range seen {
		if _, dup := unique[v]; dup {
			t.Fatalf("sequence value %d handed out more than once", v)
		}
		unique[v] = struct{}{}
	}
	if len(unique) != goroutines*perGoroutine {
		t.Fatalf("expected %d unique sequence values, got %d", goroutines*perGoroutine, len(unique))
	}
	if sg.Current() != int64(goroutines*perGoroutine) {
		t.Fatalf("expected Current() %d, got %d", goroutines*perGoroutine, sg.Current())
	}
}

func TestSpinLock_MutualExclusion(t *testing.T) {
	var sl concurrency.SpinLock
	counter := 0
	const goroutines = 20
	const perGoroutine = 200

	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				sl.Lock()
				counter++
				sl.Unlock()
			}
		}()
	}
	wg.Wait()

	if want := goroutines * perGoroutine; counter != want {
		t.Fatalf("expected counter %d under mutual exclusion, got %d", want, counter)
	}
}

func TestSpinLock_TryLock(t *testing.T) {
	var sl concurrency.SpinLock
	if !sl.TryLock() {
		t.Fatalf("expected TryLock to succeed on an unlocked spin lock")
	}
	if sl.TryLock() {
		t.Fatalf("expected TryLock to fail while already locked")
	}
	sl.Unlock()
	if !sl.TryLock() {
		t.Fatalf("expected TryLock to succeed after Unlock")
	}
}
