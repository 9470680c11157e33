package throttle

import (
	"testing"
	"time"
)

func TestThrottle(t *testing.T) {
	now := time.Now()
	slept := time.Duration(0)
	timeSleep = func(d time.Duration) { slept = d }
	timeNow = func() time.Time { return now }
	defer func() {
		timeSleep = time.Sleep
		timeNow = time.Now
	}()

	tr := Throttle{}
	if tr.Throttle("192.0.2.1") || slept != 0 {
		// internal map not yet initialized
		t.Errorf("empty throttle is throttling: %v", slept)
		slept = 0
	}

	tr.Add("192.0.2.1")
	if tr.Throttle("192.0.2.1") || slept != 0 {
		t.Errorf("throttling inside initial buffer: %v", slept)
		slept = 0
	}
	for i := 0; i < 10; i++ {
		tr.Add("192.0.2.1")
	}
	if tr.Throttle("192.0.2.2") || slept != 0 {
		t.Errorf("throttling another key: %v", slept)
		slept = 0
	}
	if !tr.Throttle("192.0.2.1") || slept != DefaultDelay {
		t.Errorf("want throttling, got: %v", slept)
	}
	slept = 0
	now = now.Add(4 * time.Second)
	if tr.Throttle("192.0.2.1") || slept != 0 {
		t.Errorf("throttling after sufficient wait: %v", slept)
	}
	slept = 0

	now = now.Add(61 * time.Second)
	if tr.Throttle("192.0.2.1") || slept != 0 {
		t.Errorf("throttling after cleaning window: %v", slept)
		slept = 0
	}
	if n := tr.Len(); n != 0 {
		t.Errorf("%d keys remain after cleaning window", n)
	}
}

func TestThrottleParams(t *testing.T) {
	now := time.Now()
	slept := time.Duration(0)
	timeSleep = func(d time.Duration) { slept = d }
	timeNow = func() time.Time { return now }
	defer func() {
		timeSleep = time.Sleep
		timeNow = time.Now
	}()

	tr := Throttle{Delay: time.Second, Buffer: 2}
	for i := 0; i < 3; i++ {
		tr.Add("k")
	}
	if !tr.Throttle("k") || slept != time.Second {
		t.Errorf("want 1s throttle, got: %v", slept)
	}
}
