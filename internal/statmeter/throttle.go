package statmeter

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Throttle blocks briefly when the configured download rate ceiling is
// exceeded, re-arming the caller's hang-reaper timestamp each time it
// sleeps (spec 4.5: "let the global speed meter throttle... this is the
// only place besides pool.get_connection where busy-waiting is
// acceptable"). Zero rate means unlimited.
type Throttle struct {
	mu      sync.Mutex
	limiter *rate.Limiter
}

func NewThrottle(bytesPerSecond int64) *Throttle {
	t := &Throttle{}
	t.SetRate(bytesPerSecond)
	return t
}

func (t *Throttle) SetRate(bytesPerSecond int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if bytesPerSecond <= 0 {
		t.limiter = nil
		return
	}
	t.limiter = rate.NewLimiter(rate.Limit(bytesPerSecond), int(bytesPerSecond))
}

// Wait blocks in ~10ms increments while the limiter reports insufficient
// tokens for n bytes, calling onWait before each sleep so the caller can
// re-arm its last-update timestamp.
func (t *Throttle) Wait(n int, onWait func()) {
	t.mu.Lock()
	limiter := t.limiter
	t.mu.Unlock()
	if limiter == nil {
		return
	}
	for !limiter.AllowN(time.Now(), n) {
		if onWait != nil {
			onWait()
		}
		time.Sleep(10 * time.Millisecond)
	}
}
