package worker

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Response is the parsed output of one batch call and the raw text it was parsed from
type Response[Resp any] struct {
	Items []Resp
	Raw   string
}

// Attempt records a single call made for a batch
type Attempt[Resp any] struct {
	Number   int
	Started  time.Time
	Latency  time.Duration
	Response Response[Resp]
	Cached   bool // served by Lookup without calling the service
	Err      error
}

// BatchResult is the outcome of one batch after its retry budget
type BatchResult[Req, Resp any] struct {
	Index    int
	Offset   int // position of the batch's first item in the input
	Items    []Req
	Attempts []Attempt[Resp]
	Skipped  bool  // the run was cancelled before the batch started
	Err      error // error of the final attempt, nil on success
}

// GetError returns the final error of the batch
func (r *BatchResult[Req, Resp]) GetError() error {
	return r.Err
}

// Last returns the final attempt, or nil if the batch never ran
func (r *BatchResult[Req, Resp]) Last() *Attempt[Resp] {
	if len(r.Attempts) == 0 {
		return nil
	}
	return &r.Attempts[len(r.Attempts)-1]
}

// Responses returns the items parsed by the final attempt. They are kept even
// when the attempt failed validation so callers can salvage partial results.
func (r *BatchResult[Req, Resp]) Responses() []Resp {
	if last := r.Last(); last != nil {
		return last.Response.Items
	}
	return nil
}

// ErrBatchSkipped marks a batch that was never started because the run was cancelled
var ErrBatchSkipped = errors.New("batch skipped: run cancelled")

// sleepFunc waits between attempts; tests replace it
var sleepFunc = func(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// BatchedCaller partitions items into bounded batches, calls an external
// service once per batch on a bounded worker pool, retries failed or invalid
// responses within a fixed budget, and returns results in batch order.
type BatchedCaller[Req, Resp any] struct {
	// Key identifies the service for rate limiting
	Key string

	BatchSize   int
	MaxAttempts int
	Concurrency int
	Backoff     time.Duration
	Limiter     *Limiter

	// Lookup returns a stored response for a batch. A hit skips rate
	// limiting and the call; the stored response is still validated.
	Lookup func(batch []Req) (Response[Resp], bool)

	// Call performs one external call for a batch
	Call func(ctx context.Context, batch []Req) (Response[Resp], error)

	// Validate checks a successful response; a non-nil error consumes an attempt
	Validate func(batch []Req, resp Response[Resp]) error

	// Retryable decides whether an error is worth another attempt. Nil retries every error.
	Retryable func(err error) bool

	// OnBatch is invoked once per finished or skipped batch, in completion
	// order, always from the same goroutine
	OnBatch func(result *BatchResult[Req, Resp])
}

// Partition splits items into consecutive batches of at most size items.
// Only the final batch may be smaller.
func Partition[T any](items []T, size int) [][]T {
	if size <= 0 {
		size = 1
	}
	batches := make([][]T, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		batches = append(batches, items[start:end:end])
	}
	return batches
}

// Run processes every item and returns one result per batch, ordered by batch
// index. Cancellation of ctx is observed between batches: batches already in
// flight finish on a context detached from ctx and later batches are skipped.
// The returned error is ctx.Err() when any batch was skipped.
func (c *BatchedCaller[Req, Resp]) Run(ctx context.Context, items []Req) ([]*BatchResult[Req, Resp], error) {
	if c.Call == nil {
		return nil, fmt.Errorf("batched caller %q has no call function", c.Key)
	}
	batches := Partition(items, c.BatchSize)
	results := make([]*BatchResult[Req, Resp], len(batches))
	if len(batches) == 0 {
		return results, nil
	}

	pool := NewPool(c.Concurrency)
	pool.Start()

	go func() {
		offset := 0
		for i, batch := range batches {
			pool.Submit(&batchJob[Req, Resp]{
				caller: c,
				runCtx: ctx,
				result: &BatchResult[Req, Resp]{Index: i, Offset: offset, Items: batch},
			})
			offset += len(batch)
		}
		pool.Close()
	}()

	skipped := false
	for r := range pool.Results() {
		res := r.(*BatchResult[Req, Resp])
		results[res.Index] = res
		if res.Skipped {
			skipped = true
		}
		if c.OnBatch != nil {
			c.OnBatch(res)
		}
	}

	if skipped {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		return results, ErrBatchSkipped
	}
	return results, nil
}

func (c *BatchedCaller[Req, Resp]) maxAttempts() int {
	if c.MaxAttempts <= 0 {
		return 1
	}
	return c.MaxAttempts
}

func (c *BatchedCaller[Req, Resp]) retryable(err error) bool {
	if c.Retryable == nil {
		return true
	}
	return c.Retryable(err)
}

type batchJob[Req, Resp any] struct {
	caller *BatchedCaller[Req, Resp]
	runCtx context.Context
	result *BatchResult[Req, Resp]
}

func (j *batchJob[Req, Resp]) Execute(_ context.Context) Result {
	c := j.caller
	res := j.result

	if j.runCtx.Err() != nil {
		res.Skipped = true
		res.Err = ErrBatchSkipped
		return res
	}
	if c.Lookup != nil {
		if resp, ok := c.Lookup(res.Items); ok {
			attempt := Attempt[Resp]{Number: 1, Started: time.Now(), Response: resp, Cached: true}
			if c.Validate != nil {
				attempt.Err = c.Validate(res.Items, resp)
			}
			if attempt.Err == nil {
				res.Attempts = append(res.Attempts, attempt)
				return res
			}
		}
	}
	if c.Limiter != nil {
		if err := c.Limiter.Wait(j.runCtx, c.Key); err != nil {
			res.Skipped = true
			res.Err = ErrBatchSkipped
			return res
		}
	}

	// Once started, a batch runs to completion regardless of run cancellation
	callCtx := context.WithoutCancel(j.runCtx)

	for n := 1; n <= c.maxAttempts(); n++ {
		if n > 1 {
			if c.Limiter != nil {
				_ = c.Limiter.Wait(callCtx, c.Key)
			}
			_ = sleepFunc(callCtx, c.Backoff)
		}

		attempt := Attempt[Resp]{Number: n, Started: time.Now()}
		resp, err := c.Call(callCtx, res.Items)
		attempt.Latency = time.Since(attempt.Started)
		attempt.Response = resp
		if err == nil && c.Validate != nil {
			err = c.Validate(res.Items, resp)
		}
		attempt.Err = err
		res.Attempts = append(res.Attempts, attempt)
		res.Err = err

		if err == nil || !c.retryable(err) {
			break
		}
	}
	return res
}
