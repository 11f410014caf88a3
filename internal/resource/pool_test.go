package resource

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestRoundRobinFairness(t *testing.T) {
	p := New([]string{"a", "b", "c"}, Options{})

	counts := map[string]int{}
	for i := 0; i < 2*3; i++ {
		idx, v, err := p.Acquire(context.Background(), time.Second)
		if err != nil {
			t.Fatalf("acquire %d: %v", i, err)
		}
		counts[v]++
		p.Release(idx, false)
	}

	for _, v := range []string{"a", "b", "c"} {
		if counts[v] < 2 {
			t.Errorf("slot %q used %d times, want >= 2", v, counts[v])
		}
	}
}

func TestConcurrentAcquirersGetDistinctSlots(t *testing.T) {
	p := New([]string{"k1", "k2"}, Options{})

	var wg sync.WaitGroup
	results := make(chan string, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			idx, v, err := p.Acquire(context.Background(), time.Second)
			if err != nil {
				t.Errorf("acquire: %v", err)
				return
			}
			results <- v
			time.Sleep(20 * time.Millisecond)
			p.Release(idx, false)
		}()
	}
	wg.Wait()
	close(results)

	seen := map[string]bool{}
	for v := range results {
		seen[v] = true
	}
	if len(seen) != 2 {
		t.Fatalf("expected 2 distinct slots acquired concurrently, got %v", seen)
	}
}

func TestDiscardedSlotNeverReappears(t *testing.T) {
	p := New([]string{"a", "b"}, Options{})

	idx, v, err := p.Acquire(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	p.Release(idx, true)

	for i := 0; i < 10; i++ {
		gotIdx, got, err := p.Acquire(context.Background(), time.Second)
		if err != nil {
			t.Fatalf("acquire %d: %v", i, err)
		}
		if got == v {
			t.Fatalf("discarded slot %q reappeared", v)
		}
		p.Release(gotIdx, false)
	}
}

func TestDiscardLowerIndexDoesNotCorruptHigherIndexHolder(t *testing.T) {
	p := New([]string{"a", "b", "c", "d"}, Options{})

	var acquired []int
	for i := 0; i < 4; i++ {
		idx, _, err := p.Acquire(context.Background(), time.Second)
		if err != nil {
			t.Fatalf("acquire %d: %v", i, err)
		}
		acquired = append(acquired, idx)
	}

	// Discard the lowest index while the others are still held. A
	// physical slice compaction here would shift every higher index
	// down by one, corrupting the other holders' Release calls.
	lowest := acquired[0]
	for _, idx := range acquired[1:] {
		if idx < lowest {
			lowest = idx
		}
	}
	p.Release(lowest, true)

	for _, idx := range acquired {
		if idx == lowest {
			continue
		}
		// Must not panic and must flip the correct physical slot.
		p.Release(idx, false)
	}

	if got := p.Len(); got != 3 {
		t.Fatalf("expected 3 live slots after one discard, got %d", got)
	}
}

func TestAcquireTimeout(t *testing.T) {
	p := New([]string{"only"}, Options{})

	idx, _, err := p.Acquire(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer p.Release(idx, false)

	_, _, err = p.Acquire(context.Background(), 30*time.Millisecond)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestCooldownDelaysReavailability(t *testing.T) {
	p := New([]string{"only"}, Options{CooldownTime: 60 * time.Millisecond})

	idx, _, err := p.Acquire(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	p.Release(idx, false)

	_, _, err = p.Acquire(context.Background(), 20*time.Millisecond)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected cooldown to keep slot unavailable, got err=%v", err)
	}

	_, _, err = p.Acquire(context.Background(), 200*time.Millisecond)
	if err != nil {
		t.Fatalf("expected slot to become available after cooldown, got %v", err)
	}
}

func TestRetryTriesDistinctSlotsThenNoMoreResource(t *testing.T) {
	p := New([]string{"a", "b"}, Options{})

	tried := map[string]bool{}
	isRetryable := func(error) bool { return true }

	err := p.Retry(context.Background(), 5, 0, isRetryable, func(a Attempt) error {
		tried[a.Value] = true
		return errors.New("upstream rejected")
	})

	if !errors.Is(err, ErrNoMoreResource) {
		t.Fatalf("expected ErrNoMoreResource after exhausting slots, got %v", err)
	}
	if len(tried) != 2 {
		t.Fatalf("expected both distinct slots tried, got %v", tried)
	}
}

func TestRetrySucceedsStopsIterating(t *testing.T) {
	p := New([]string{"a", "b", "c"}, Options{})

	calls := 0
	err := p.Retry(context.Background(), 5, 0, func(error) bool { return true }, func(a Attempt) error {
		calls++
		if calls == 2 {
			return nil
		}
		return errors.New("fail")
	})

	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected exactly 2 attempts, got %d", calls)
	}
}

func TestRetryAbortsOnNonRetryableError(t *testing.T) {
	p := New([]string{"a", "b"}, Options{})

	sentinel := errors.New("fatal")
	calls := 0
	err := p.Retry(context.Background(), 5, 0, func(error) bool { return false }, func(a Attempt) error {
		calls++
		return sentinel
	})

	if !errors.Is(err, sentinel) {
		t.Fatalf("expected sentinel error to propagate, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected exactly 1 attempt before abort, got %d", calls)
	}
}

func TestNullPoolNeverBlocks(t *testing.T) {
	p := NewNull()
	idx, v, err := p.Acquire(context.Background(), time.Millisecond)
	if err != nil || v != "" {
		t.Fatalf("expected immediate empty acquire, got idx=%d v=%q err=%v", idx, v, err)
	}
	p.Release(idx, true) // no-op, must not panic
}
