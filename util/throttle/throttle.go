// Package throttle slows down clients that keep failing.
package throttle

import (
	"sync"
	"time"
)

// Defaults used by a zero Throttle.
const (
	DefaultDelay  = 3 * time.Second
	DefaultWindow = 60 * time.Second
	DefaultBuffer = 10
)

// Throttle counts failures per key, typically a client IP address.
//
// Once a key has more than Buffer failures, each Throttle call made
// within Delay of its last failure sleeps for Delay.
// Keys are forgotten Window after their last failure.
type Throttle struct {
	Delay  time.Duration
	Window time.Duration
	Buffer int

	mu       sync.Mutex
	attempts map[string]state
	cleaned  time.Time
}

type state struct {
	last     time.Time
	failures int
}

func (tr *Throttle) params() (delay, window time.Duration, buffer int) {
	delay, window, buffer = tr.Delay, tr.Window, tr.Buffer
	if delay == 0 {
		delay = DefaultDelay
	}
	if window == 0 {
		window = DefaultWindow
	}
	if buffer == 0 {
		buffer = DefaultBuffer
	}
	return delay, window, buffer
}

// Throttle sleeps if key has failed too often recently.
// It reports whether it slept.
func (tr *Throttle) Throttle(key string) bool {
	delay, window, buffer := tr.params()
	now := timeNow()

	tr.mu.Lock()
	if now.Sub(tr.cleaned) > window {
		for k, st := range tr.attempts {
			if now.Sub(st.last) > window {
				delete(tr.attempts, k)
			}
		}
		tr.cleaned = now
	}
	st := tr.attempts[key]
	tr.mu.Unlock()

	if st.failures > buffer && now.Sub(st.last) < delay {
		timeSleep(delay)
		return true
	}
	return false
}

// Add records a failure by key.
func (tr *Throttle) Add(key string) {
	tr.mu.Lock()
	if tr.attempts == nil {
		tr.attempts = make(map[string]state)
	}
	st := tr.attempts[key]
	st.last = timeNow()
	st.failures++
	tr.attempts[key] = st
	tr.mu.Unlock()
}

// Len reports the number of keys with recorded failures.
func (tr *Throttle) Len() int {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return len(tr.attempts)
}

var timeSleep = time.Sleep
var timeNow = time.Now
