package queue

import (
	"math/rand/v2"
	"time"
)

const (
	backoffBase   = 200 * time.Millisecond
	backoffFactor = 2.0
	backoffCap    = 30 * time.Second
	backoffJitter = 0.25
)

// computeBackoff implements the exponential-backoff-with-jitter formula
// of spec §4.3: base 200ms, factor 2, jitter ±25%, cap 30s. attempt is
// 1-indexed (the first retry passes attempt=1).
func computeBackoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(backoffBase)
	for i := 1; i < attempt; i++ {
		d *= backoffFactor
		if d > float64(backoffCap) {
			d = float64(backoffCap)
			break
		}
	}
	jitterRange := d * backoffJitter
	jittered := d + (rand.Float64()*2-1)*jitterRange
	if jittered < 0 {
		jittered = 0
	}
	result := time.Duration(jittered)
	if result > backoffCap {
		result = backoffCap
	}
	return result
}
