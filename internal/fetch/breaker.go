package fetch

import (
	"context"
	"errors"
	"os"
	"sync"
	"time"
)

// BreakerState represents the per-host circuit state.
type BreakerState int

const (
	// BreakerClosed allows all requests through.
	BreakerClosed BreakerState = iota
	// BreakerOpen rejects all requests.
	BreakerOpen
	// BreakerHalfOpen allows a single probe request.
	BreakerHalfOpen
)

// String returns a human-readable state name.
func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// BreakerConfig holds circuit breaker parameters.
type BreakerConfig struct {
	ErrorThreshold float64       // weighted error rate to trip (e.g. 0.30)
	MinSamples     int           // minimum requests before breaker can open
	WindowSeconds  int           // sliding window duration in seconds
	OpenTimeout    time.Duration // time in OPEN before transitioning to HALF_OPEN
}

// DefaultBreakerConfig returns sensible defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		ErrorThreshold: 0.30,
		MinSamples:     10,
		WindowSeconds:  60,
		OpenTimeout:    30 * time.Second,
	}
}

// weigh returns the error weight for a fetch outcome. Weight 0 means the
// host answered acceptably; timeouts weigh heaviest because they hold a
// connection for the full deadline before failing.
func weigh(status int, err error) float64 {
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
			return 1.5
		}
		return 1.0
	}
	switch {
	case status == 429:
		return 0.5
	case status >= 500 && status <= 504:
		return 1.0
	default:
		return 0
	}
}

// sample holds error and request counts for a 1-second slot.
type sample struct {
	errors float64
	total  int
}

// slidingWindow is a fixed-size ring buffer of 1-second samples.
type slidingWindow struct {
	slots    [60]sample
	size     int   // number of active slots (== windowSeconds)
	head     int   // index of current slot
	headTime int64 // unix seconds of head slot
}

func newSlidingWindow(windowSeconds int) slidingWindow {
	if windowSeconds <= 0 || windowSeconds > 60 {
		windowSeconds = 60
	}
	return slidingWindow{size: windowSeconds}
}

// advance moves the head forward to the current second, clearing stale slots.
func (w *slidingWindow) advance(nowSec int64) {
	if w.headTime == 0 {
		w.headTime = nowSec
		return
	}
	gap := nowSec - w.headTime
	if gap <= 0 {
		return
	}
	expired := min(int(gap), w.size)
	for i := range expired {
		idx := (w.head + 1 + i) % w.size
		w.slots[idx] = sample{}
	}
	w.head = (w.head + int(gap)) % w.size
	w.headTime = nowSec
}

func (w *slidingWindow) record(weight float64, now time.Time) {
	w.advance(now.Unix())
	w.slots[w.head].total++
	w.slots[w.head].errors += weight
}

// errorRate returns the weighted error rate and sample count across the window.
func (w *slidingWindow) errorRate(now time.Time) (rate float64, samples int) {
	w.advance(now.Unix())
	var errSum float64
	var total int
	for i := range w.size {
		errSum += w.slots[i].errors
		total += w.slots[i].total
	}
	if total == 0 {
		return 0, 0
	}
	return errSum / float64(total), total
}

func (w *slidingWindow) reset() {
	for i := range w.size {
		w.slots[i] = sample{}
	}
	w.headTime = 0
	w.head = 0
}

// Breaker is a per-host circuit breaker state machine. It short-circuits
// fetches to a host that keeps failing so cached fallbacks kick in
// immediately instead of waiting out another timeout.
type Breaker struct {
	mu          sync.Mutex
	state       BreakerState
	window      slidingWindow
	openedAt    time.Time
	lastUsed    time.Time // for stale eviction
	probing     bool      // true when a half-open probe is in flight
	threshold   float64
	minSamples  int
	openTimeout time.Duration
}

// NewBreaker creates a breaker with the given config.
func NewBreaker(cfg BreakerConfig) *Breaker {
	return &Breaker{
		state:       BreakerClosed,
		window:      newSlidingWindow(cfg.WindowSeconds),
		threshold:   cfg.ErrorThreshold,
		minSamples:  cfg.MinSamples,
		openTimeout: cfg.OpenTimeout,
		lastUsed:    time.Now(),
	}
}

// State returns the current breaker state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	s := b.state
	b.mu.Unlock()
	return s
}

// Allow reports whether a request to the host may proceed.
func (b *Breaker) Allow() bool {
	now := time.Now()
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastUsed = now

	switch b.state {
	case BreakerClosed:
		return true
	case BreakerOpen:
		if now.Sub(b.openedAt) >= b.openTimeout {
			b.state = BreakerHalfOpen
			b.probing = true
			return true
		}
		return false
	case BreakerHalfOpen:
		if !b.probing {
			b.probing = true
			return true
		}
		// Another probe is already in flight; reject.
		return false
	}
	return false
}

// Record folds a fetch outcome into the window and drives state transitions.
func (b *Breaker) Record(status int, err error) {
	weight := weigh(status, err)
	now := time.Now()
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastUsed = now
	b.window.record(weight, now)

	if weight == 0 {
		if b.state == BreakerHalfOpen {
			// Probe succeeded: close the breaker.
			b.state = BreakerClosed
			b.probing = false
			b.window.reset()
		}
		return
	}

	switch b.state {
	case BreakerClosed:
		rate, samples := b.window.errorRate(now)
		if samples >= b.minSamples && rate >= b.threshold {
			b.state = BreakerOpen
			b.openedAt = now
		}
	case BreakerHalfOpen:
		// Probe failed: reopen.
		b.state = BreakerOpen
		b.openedAt = now
		b.probing = false
	}
}

// LastUsed returns the time of last activity (for stale eviction).
func (b *Breaker) LastUsed() time.Time {
	b.mu.Lock()
	t := b.lastUsed
	b.mu.Unlock()
	return t
}

// breakerSet manages per-host Breaker instances.
type breakerSet struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
	config   BreakerConfig
}

func newBreakerSet(cfg BreakerConfig) *breakerSet {
	return &breakerSet{
		breakers: make(map[string]*Breaker),
		config:   cfg,
	}
}

// get returns the breaker for host, creating one if needed.
func (s *breakerSet) get(host string) *Breaker {
	s.mu.RLock()
	b, ok := s.breakers[host]
	s.mu.RUnlock()
	if ok {
		return b
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.breakers[host]; ok {
		return b
	}
	b = NewBreaker(s.config)
	s.breakers[host] = b
	return b
}

// evictStale removes breakers not used since cutoff and returns the count.
func (s *breakerSet) evictStale(cutoff time.Time) int {
	s.mu.RLock()
	var stale []string
	for host, b := range s.breakers {
		if b.LastUsed().Before(cutoff) {
			stale = append(stale, host)
		}
	}
	s.mu.RUnlock()

	if len(stale) == 0 {
		return 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	evicted := 0
	for _, host := range stale {
		if b, ok := s.breakers[host]; ok && b.LastUsed().Before(cutoff) {
			delete(s.breakers, host)
			evicted++
		}
	}
	return evicted
}
