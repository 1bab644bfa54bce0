package ccconn

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ThrottleTick and ThrottleBurst are the leaky-bucket parameters from
// spec.md §4.F: a 3600-second tick and a burst of 10 requests.
const (
	ThrottleTick  = 3600 * time.Second
	ThrottleBurst = 10
)

// ThrottleKey identifies one leaky-bucket counter. spec.md §4.F scopes
// the bucket to (peer-uid, TTH, offset) with a sentinel offset for tthl
// requests; this repo instead tags tthl requests explicitly (spec.md §9's
// Open Question on throttle keys), since a sentinel numeric offset risks
// colliding with a real byte offset on a tiny file.
type ThrottleKey struct {
	Peer   string
	TTH    string
	Offset int64
	IsTTHL bool
}

// Throttler enforces the leaky-bucket admission rule per ThrottleKey.
// Granted-slot peers are exempt per spec.md §4.F and should bypass this
// type entirely rather than calling Allow.
type Throttler struct {
	mu       sync.Mutex
	limiters map[ThrottleKey]*rate.Limiter
}

func NewThrottler() *Throttler {
	return &Throttler{limiters: make(map[ThrottleKey]*rate.Limiter)}
}

func (t *Throttler) limiterFor(key ThrottleKey) *rate.Limiter {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.limiters[key]
	if !ok {
		l = rate.NewLimiter(rate.Every(ThrottleTick), ThrottleBurst)
		t.limiters[key] = l
	}
	return l
}

// Allow reports whether a request for key may proceed at now. Admission is
// synchronous-only: a request is granted exactly when a token is already
// available in the bucket, never by queuing behind one that will recharge
// later. This is what makes request 11 of 10 rejected rather than request
// 21 (spec.md §8 scenario 6): the 11th request has no token to spend, so
// its reservation is cancelled immediately instead of being admitted on
// credit.
func (t *Throttler) Allow(key ThrottleKey, now time.Time) bool {
	l := t.limiterFor(key)
	res := l.ReserveN(now, 1)
	if !res.OK() {
		return false
	}
	if res.DelayFrom(now) > 0 {
		res.CancelAt(now)
		return false
	}
	return true
}

// Evict drops the limiter for key, e.g. once its CC disconnects and the
// entry has gone idle long enough that keeping it around is wasted memory.
func (t *Throttler) Evict(key ThrottleKey) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.limiters, key)
}

// Len reports how many distinct keys currently have a live limiter.
func (t *Throttler) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.limiters)
}
