// Package resource implements the fair, round-robin, cool-down-aware
// multiplexing of a fixed set of opaque resources (API keys, proxy URLs)
// described by ResourcePool. Grounded on original_source/src/resources.py's
// ResourceManager: a round-robin cursor over an index set guarded by a
// condition variable, with cooldown handled as deferred re-insertion and a
// retrying-acquisition mode that tracks which slots have already been
// tried in the current attempt sequence.
package resource

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/zonde306/lmproxy/pkg/safego"
)

// ErrTimeout is returned by Acquire when no slot becomes available within
// the requested timeout.
var ErrTimeout = errors.New("resource: acquire timeout")

// ErrNoMoreResource is returned by the retrying acquisition mode once
// every slot in the pool has been tried in the current attempt sequence.
// Callers surface this as WorkerOverload.
var ErrNoMoreResource = errors.New("resource: no more untried resources")

// RenewFunc fetches a fresh newline-separated resource list, e.g. by
// issuing an HTTP GET to a configured renew_url.
type RenewFunc func(ctx context.Context) ([]string, error)

// slot carries a stable identity: once appended, a slot's index into
// p.slots/p.available never changes for the lifetime of the pool. A
// discarded slot is tombstoned in place (removed=true, available=false
// forever) rather than spliced out, so any goroutine still holding that
// index from an earlier Acquire can safely Release it later without
// racing a compaction that would shift other slots down.
type slot struct {
	value   string
	removed bool
}

// Options configures a Pool.
type Options struct {
	// CooldownTime, if > 0, keeps a released slot unavailable for this
	// long before it re-enters the round-robin set. Scheduled
	// asynchronously; the releaser never blocks on it.
	CooldownTime time.Duration
	// Repeat duplicates every declared resource this many times in the
	// slot set, bounding concurrent use of the same credential at Repeat.
	Repeat int
	// Renew is consulted when the available set is empty; at most one
	// concurrent renewal is in flight at a time.
	Renew RenewFunc
	Logger *zap.Logger
}

// Pool is a fixed (optionally renewable) set of opaque string resources
// multiplexed round-robin with cooldown and retry-on-different-resource
// semantics. All state transitions happen under mu, guarded by cond;
// network I/O (renewal) happens with the lock released.
type Pool struct {
	mu   sync.Mutex
	cond *sync.Cond

	slots     []slot
	available []bool // parallel to slots; true = in the round-robin set
	cursor    int

	renew      RenewFunc
	isRenewing bool
	repeat     int
	cooldown   time.Duration
	logger     *zap.Logger
}

// New builds a pool from an initial resource list.
func New(initial []string, opts Options) *Pool {
	repeat := opts.Repeat
	if repeat < 1 {
		repeat = 1
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	p := &Pool{
		renew:    opts.Renew,
		repeat:   repeat,
		cooldown: opts.CooldownTime,
		logger:   logger,
	}
	p.cond = sync.NewCond(&p.mu)
	p.appendLocked(initial)
	return p
}

func (p *Pool) appendLocked(values []string) {
	for _, v := range values {
		for i := 0; i < p.repeat; i++ {
			p.slots = append(p.slots, slot{value: v})
			p.available = append(p.available, true)
		}
	}
}

// Acquire returns the round-robin next available slot index and value. It
// blocks until one is available or timeout elapses, returning ErrTimeout
// in the latter case. A zero timeout means wait forever.
func (p *Pool) Acquire(ctx context.Context, timeout time.Duration) (int, string, error) {
	deadline := time.Time{}
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	p.mu.Lock()
	for {
		if idx, ok := p.nextAvailableLocked(-1, nil); ok {
			p.available[idx] = false
			v := p.slots[idx].value
			p.mu.Unlock()
			return idx, v, nil
		}

		if p.tryRenewLocked(ctx) {
			continue
		}

		if !deadline.IsZero() && time.Now().After(deadline) {
			p.mu.Unlock()
			return -1, "", ErrTimeout
		}

		if waitWithDeadline(p.cond, deadline) {
			p.mu.Unlock()
			return -1, "", ErrTimeout
		}
	}
}

// nextAvailableLocked scans from cursor for the next available slot not
// present in excluded. Must be called with mu held.
func (p *Pool) nextAvailableLocked(afterIdx int, tried map[int]bool) (int, bool) {
	n := len(p.slots)
	if n == 0 {
		return -1, false
	}
	start := p.cursor
	for i := 0; i < n; i++ {
		idx := (start + i) % n
		if p.slots[idx].removed || !p.available[idx] {
			continue
		}
		if tried != nil && tried[idx] {
			continue
		}
		p.cursor = (idx + 1) % n
		return idx, true
	}
	return -1, false
}

// tryRenewLocked elects this caller to fetch a fresh resource list when
// the pool is empty/exhausted and Renew is configured. Returns true if a
// renewal was attempted (so the caller should re-scan), false otherwise.
// Must be called with mu held; releases and re-acquires mu internally.
func (p *Pool) tryRenewLocked(ctx context.Context) bool {
	if p.renew == nil {
		return false
	}
	if p.isRenewing {
		// someone else is already fetching; wait for their broadcast
		p.cond.Wait()
		return true
	}

	p.isRenewing = true
	p.mu.Unlock()

	fresh, err := p.renew(ctx)

	p.mu.Lock()
	p.isRenewing = false
	if err != nil {
		p.logger.Warn("resource pool renewal failed", zap.Error(err))
		p.cond.Broadcast()
		return true
	}
	p.appendLocked(fresh)
	p.cond.Broadcast()
	return true
}

// waitWithDeadline waits on cond, returning true if the deadline (if any)
// has passed once woken. cond.L must be held on entry and is held on
// return.
func waitWithDeadline(cond *sync.Cond, deadline time.Time) bool {
	if deadline.IsZero() {
		cond.Wait()
		return false
	}

	remaining := time.Until(deadline)
	if remaining <= 0 {
		return true
	}

	// sync.Cond has no timed wait; emulate by waking the waiter via a
	// timer goroutine that broadcasts once the deadline passes.
	timer := time.AfterFunc(remaining, func() {
		cond.Broadcast()
	})
	defer timer.Stop()

	cond.Wait()
	return time.Now().After(deadline)
}

// Release returns idx to the pool. If discard is true the slot is removed
// permanently and never reappears until a renewal adds a matching value
// back. Otherwise, if a cooldown is configured, the slot re-enters the
// round-robin set only after the cooldown elapses, scheduled
// asynchronously so Release never blocks.
func (p *Pool) Release(idx int, discard bool) {
	if idx < 0 {
		return
	}

	if discard {
		p.mu.Lock()
		if idx < len(p.slots) {
			p.slots[idx].removed = true
			p.available[idx] = false
		}
		p.cond.Broadcast()
		p.mu.Unlock()
		return
	}

	if p.cooldown <= 0 {
		p.mu.Lock()
		if idx < len(p.slots) && !p.slots[idx].removed {
			p.available[idx] = true
		}
		p.cond.Broadcast()
		p.mu.Unlock()
		return
	}

	safego.Go(p.logger, "resource-pool-cooldown", func() {
		time.Sleep(p.cooldown)
		p.mu.Lock()
		if idx < len(p.slots) && !p.slots[idx].removed {
			p.available[idx] = true
		}
		p.cond.Broadcast()
		p.mu.Unlock()
	})
}

// Attempt is one iteration of a retrying acquisition sequence: the slot
// index/value acquired for this attempt, plus the Release callback the
// caller must invoke (with discard=true only for resource-exhaustion
// style failures) once the attempt concludes.
type Attempt struct {
	Index   int
	Value   string
	Release func(discard bool)
}

// Retry produces up to maxAttempts attempts, each yielding a distinct slot
// not yet tried in this sequence, waiting `wait` between attempts. The
// caller invokes fn with each Attempt; Retry itself does not interpret
// fn's result — it is a generator of attempts, mirroring
// original_source/src/resources.py's get_retrying async generator via an
// explicit Go iteration instead of Python's async-generator protocol.
//
// isRetryable classifies whether the error from a failed attempt should
// advance to the next (distinct) slot, or abort the sequence immediately
// propagating the error. ErrNoMoreResource is returned once all slots
// have been tried and the caller still wants another attempt.
func (p *Pool) Retry(ctx context.Context, maxAttempts int, wait time.Duration, isRetryable func(error) bool, fn func(Attempt) error) error {
	tried := map[int]bool{}
	var lastErr error

	for attemptNum := 1; attemptNum <= maxAttempts; attemptNum++ {
		idx, value, ok := p.acquireUntried(tried)
		if !ok {
			return ErrNoMoreResource
		}
		tried[idx] = true

		released := false
		release := func(discard bool) {
			if released {
				return
			}
			released = true
			p.Release(idx, discard)
		}

		err := fn(Attempt{Index: idx, Value: value, Release: release})
		release(false)

		if err == nil {
			return nil
		}
		lastErr = err

		if !isRetryable(err) {
			return err
		}

		if attemptNum < maxAttempts {
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	return lastErr
}

// acquireUntried returns a slot not present in tried, blocking briefly for
// one to become available if the untried set is momentarily empty but the
// pool as a whole is not exhausted of untried slots.
func (p *Pool) acquireUntried(tried map[int]bool) (int, string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(tried) >= len(p.slots) {
		return -1, "", false
	}

	for {
		if idx, ok := p.nextAvailableLocked(-1, tried); ok {
			p.available[idx] = false
			return idx, p.slots[idx].value, true
		}

		// Are there any untried slots at all, just not currently
		// available? If not, the sequence is exhausted.
		hasUntried := false
		for i := range p.slots {
			if !p.slots[i].removed && !tried[i] {
				hasUntried = true
				break
			}
		}
		if !hasUntried {
			return -1, "", false
		}

		p.cond.Wait()
	}
}

// Len reports the total number of live slots currently registered
// (available + in-use + cooling; excludes discarded/tombstoned slots),
// mostly useful for tests.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, s := range p.slots {
		if !s.removed {
			n++
		}
	}
	return n
}

// httpRenew builds a RenewFunc that GETs url and splits the response body
// by separator (default "\n").
func httpRenew(client *http.Client, url, separator string) RenewFunc {
	if separator == "" {
		separator = "\n"
	}
	return func(ctx context.Context) ([]string, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		resp, err := client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		buf := make([]byte, 0, 4096)
		chunk := make([]byte, 4096)
		for {
			n, readErr := resp.Body.Read(chunk)
			if n > 0 {
				buf = append(buf, chunk[:n]...)
			}
			if readErr != nil {
				break
			}
		}

		var out []string
		start := 0
		body := string(buf)
		for i := 0; i < len(body); i++ {
			if matchSeparator(body, i, separator) {
				if s := body[start:i]; s != "" {
					out = append(out, s)
				}
				start = i + len(separator)
				i = start - 1
			}
		}
		if s := body[start:]; s != "" {
			out = append(out, s)
		}
		return out, nil
	}
}

func matchSeparator(s string, i int, sep string) bool {
	if i+len(sep) > len(s) {
		return false
	}
	return s[i:i+len(sep)] == sep
}

// HTTPRenewFunc exposes httpRenew for use by internal/proxy and config
// wiring without re-implementing the GET+split logic per pool.
func HTTPRenewFunc(client *http.Client, url, separator string) RenewFunc {
	return httpRenew(client, url, separator)
}
