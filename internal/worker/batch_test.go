package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func noSleep(t *testing.T) {
	t.Helper()
	orig := sleepFunc
	sleepFunc = func(context.Context, time.Duration) error { return nil }
	t.Cleanup(func() { sleepFunc = orig })
}

func echoCall(_ context.Context, batch []int) (Response[int], error) {
	out := make([]int, len(batch))
	for i, v := range batch {
		out[i] = v * 10
	}
	return Response[int]{Items: out, Raw: "ok"}, nil
}

func TestPartition(t *testing.T) {
	tests := []struct {
		n, size int
		want    []int
	}{
		{n: 0, size: 3, want: []int{}},
		{n: 1, size: 3, want: []int{1}},
		{n: 3, size: 3, want: []int{3}},
		{n: 10, size: 3, want: []int{3, 3, 3, 1}},
		{n: 5, size: 2, want: []int{2, 2, 1}},
		{n: 4, size: 0, want: []int{1, 1, 1, 1}},
	}

	for _, tt := range tests {
		items := make([]int, tt.n)
		batches := Partition(items, tt.size)
		if len(batches) != len(tt.want) {
			t.Fatalf("Partition(%d, %d): got %d batches, want %d", tt.n, tt.size, len(batches), len(tt.want))
		}
		for i, b := range batches {
			if len(b) != tt.want[i] {
				t.Errorf("Partition(%d, %d) batch %d: got %d items, want %d", tt.n, tt.size, i, len(b), tt.want[i])
			}
		}
	}
}

func TestBatchedCaller_OrderedResults(t *testing.T) {
	items := []int{1, 2, 3, 4, 5, 6, 7}

	caller := &BatchedCaller[int, int]{
		Key:         "test",
		BatchSize:   3,
		MaxAttempts: 2,
		Concurrency: 3,
		Call: func(ctx context.Context, batch []int) (Response[int], error) {
			// Finish later batches first
			time.Sleep(time.Duration(10-batch[0]) * time.Millisecond)
			return echoCall(ctx, batch)
		},
	}

	results, err := caller.Run(context.Background(), items)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 batches, got %d", len(results))
	}

	wantOffsets := []int{0, 3, 6}
	for i, r := range results {
		if r.Index != i {
			t.Errorf("result %d has index %d", i, r.Index)
		}
		if r.Offset != wantOffsets[i] {
			t.Errorf("result %d offset = %d, want %d", i, r.Offset, wantOffsets[i])
		}
		if r.Err != nil {
			t.Errorf("result %d unexpected error: %v", i, r.Err)
		}
		for j, v := range r.Responses() {
			if v != r.Items[j]*10 {
				t.Errorf("batch %d item %d: got %d, want %d", i, j, v, r.Items[j]*10)
			}
		}
	}
}

func TestBatchedCaller_BatchSizeBound(t *testing.T) {
	var mu sync.Mutex
	var sizes []int

	caller := &BatchedCaller[int, int]{
		BatchSize:   2,
		Concurrency: 2,
		Call: func(ctx context.Context, batch []int) (Response[int], error) {
			mu.Lock()
			sizes = append(sizes, len(batch))
			mu.Unlock()
			return echoCall(ctx, batch)
		},
	}

	if _, err := caller.Run(context.Background(), make([]int, 9)); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(sizes) != 5 {
		t.Fatalf("expected 5 calls, got %d", len(sizes))
	}
	small := 0
	for _, s := range sizes {
		if s > 2 {
			t.Errorf("batch of %d exceeds size 2", s)
		}
		if s < 2 {
			small++
		}
	}
	if small != 1 {
		t.Errorf("expected exactly one short batch, got %d", small)
	}
}

func TestBatchedCaller_RetriesInvalidResponse(t *testing.T) {
	noSleep(t)

	var calls int32
	caller := &BatchedCaller[int, int]{
		BatchSize:   3,
		MaxAttempts: 2,
		Call: func(ctx context.Context, batch []int) (Response[int], error) {
			atomic.AddInt32(&calls, 1)
			// Always one short
			return Response[int]{Items: make([]int, len(batch)-1), Raw: "short"}, nil
		},
		Validate: func(batch []int, resp Response[int]) error {
			if len(resp.Items) != len(batch) {
				return errors.New("count mismatch")
			}
			return nil
		},
	}

	results, err := caller.Run(context.Background(), []int{1, 2, 3})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if atomic.LoadInt32(&calls) != 2 {
		t.Errorf("expected 2 calls, got %d", calls)
	}
	r := results[0]
	if r.Err == nil {
		t.Fatal("expected final error")
	}
	if len(r.Attempts) != 2 {
		t.Errorf("expected 2 attempts, got %d", len(r.Attempts))
	}
	if len(r.Responses()) != 2 {
		t.Errorf("expected last attempt's 2 parsed items to be kept, got %d", len(r.Responses()))
	}
}

func TestBatchedCaller_RetrySucceeds(t *testing.T) {
	noSleep(t)

	var calls int32
	caller := &BatchedCaller[int, int]{
		BatchSize:   2,
		MaxAttempts: 2,
		Call: func(ctx context.Context, batch []int) (Response[int], error) {
			if atomic.AddInt32(&calls, 1) == 1 {
				return Response[int]{}, errors.New("transient")
			}
			return echoCall(ctx, batch)
		},
	}

	results, err := caller.Run(context.Background(), []int{1, 2})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if results[0].Err != nil {
		t.Errorf("expected success after retry, got %v", results[0].Err)
	}
	if results[0].Attempts[0].Err == nil {
		t.Error("expected first attempt to record its error")
	}
}

func TestBatchedCaller_NonRetryable(t *testing.T) {
	noSleep(t)

	permanent := errors.New("unauthorized")
	var calls int32
	caller := &BatchedCaller[int, int]{
		BatchSize:   2,
		MaxAttempts: 3,
		Call: func(ctx context.Context, batch []int) (Response[int], error) {
			atomic.AddInt32(&calls, 1)
			return Response[int]{}, permanent
		},
		Retryable: func(err error) bool { return !errors.Is(err, permanent) },
	}

	results, _ := caller.Run(context.Background(), []int{1})
	if atomic.LoadInt32(&calls) != 1 {
		t.Errorf("expected a single call, got %d", calls)
	}
	if !errors.Is(results[0].Err, permanent) {
		t.Errorf("expected permanent error, got %v", results[0].Err)
	}
}

func TestBatchedCaller_CancelBetweenBatches(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var completed int32
	caller := &BatchedCaller[int, int]{
		BatchSize:   1,
		Concurrency: 1,
		Call: func(callCtx context.Context, batch []int) (Response[int], error) {
			// Cancel while the first batch is in flight
			cancel()
			time.Sleep(5 * time.Millisecond)
			if callCtx.Err() != nil {
				t.Error("in-flight call observed run cancellation")
			}
			atomic.AddInt32(&completed, 1)
			return echoCall(callCtx, batch)
		},
	}

	results, err := caller.Run(ctx, []int{1, 2, 3})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected a result for every batch, got %d", len(results))
	}
	if atomic.LoadInt32(&completed) != 1 {
		t.Errorf("expected exactly the first batch to complete, got %d", completed)
	}
	if results[0].Skipped || results[0].Err != nil {
		t.Errorf("first batch should have completed: %+v", results[0])
	}
	for _, r := range results[1:] {
		if !r.Skipped {
			t.Errorf("batch %d should be skipped", r.Index)
		}
	}
}

func TestBatchedCaller_OnBatchSingleGoroutine(t *testing.T) {
	var inCallback int32
	var seen []int

	caller := &BatchedCaller[int, int]{
		BatchSize:   1,
		Concurrency: 4,
		Call:        echoCall,
		OnBatch: func(r *BatchResult[int, int]) {
			if atomic.AddInt32(&inCallback, 1) != 1 {
				t.Error("OnBatch invoked concurrently")
			}
			seen = append(seen, r.Index)
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inCallback, -1)
		},
	}

	if _, err := caller.Run(context.Background(), make([]int, 8)); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(seen) != 8 {
		t.Errorf("expected 8 callbacks, got %d", len(seen))
	}
}

func TestBatchedCaller_Empty(t *testing.T) {
	caller := &BatchedCaller[int, int]{BatchSize: 3, Call: echoCall}
	results, err := caller.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected no results, got %d", len(results))
	}
}

func TestBatchedCaller_ConcurrencyCeiling(t *testing.T) {
	var current, peak int32
	caller := &BatchedCaller[int, int]{
		BatchSize:   1,
		Concurrency: 2,
		Call: func(ctx context.Context, batch []int) (Response[int], error) {
			n := atomic.AddInt32(&current, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&current, -1)
			return echoCall(ctx, batch)
		},
	}

	if _, err := caller.Run(context.Background(), make([]int, 10)); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if atomic.LoadInt32(&peak) > 2 {
		t.Errorf("peak concurrency %d exceeded ceiling 2", peak)
	}
}

func TestBatchedCaller_LookupSkipsCall(t *testing.T) {
	var calls int32
	caller := &BatchedCaller[int, int]{
		BatchSize: 2,
		Call: func(ctx context.Context, batch []int) (Response[int], error) {
			atomic.AddInt32(&calls, 1)
			return echoCall(ctx, batch)
		},
		Lookup: func(batch []int) (Response[int], bool) {
			if batch[0] == 1 {
				return Response[int]{Items: []int{100, 200}, Raw: "cached"}, true
			}
			return Response[int]{}, false
		},
	}

	results, err := caller.Run(context.Background(), []int{1, 2, 3, 4})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Errorf("expected one real call, got %d", calls)
	}
	if !results[0].Last().Cached || results[0].Responses()[1] != 200 {
		t.Errorf("expected cached response for first batch: %+v", results[0].Last())
	}
	if results[1].Last().Cached {
		t.Error("second batch should not be cached")
	}
}

func TestBatchedCaller_InvalidLookupFallsThrough(t *testing.T) {
	caller := &BatchedCaller[int, int]{
		BatchSize: 2,
		Call:      echoCall,
		Lookup: func(batch []int) (Response[int], bool) {
			return Response[int]{Items: []int{1}}, true
		},
		Validate: func(batch []int, resp Response[int]) error {
			if len(resp.Items) != len(batch) {
				return errors.New("count mismatch")
			}
			return nil
		},
	}

	results, err := caller.Run(context.Background(), []int{1, 2})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	r := results[0]
	if r.Err != nil || r.Last().Cached {
		t.Errorf("expected a fresh successful call, got %+v", r.Last())
	}
	if len(r.Attempts) != 1 {
		t.Errorf("rejected lookups should not be recorded, got %d attempts", len(r.Attempts))
	}
}
