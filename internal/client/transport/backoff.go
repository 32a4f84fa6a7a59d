package transport

import (
	"math/rand"
	"time"
)

// ReconnectDelay draws a delay uniformly from [min, max]. The window is fixed:
// the attempt number does not grow it.
func ReconnectDelay(min, max time.Duration, rng *rand.Rand) time.Duration {
	if min <= 0 {
		min = 0
	}
	if max <= min {
		return min
	}
	span := int64(max - min)
	if rng == nil {
		return min + time.Duration(span/2)
	}
	return min + time.Duration(rng.Int63n(span+1))
}
