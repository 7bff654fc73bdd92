package backoff

import (
	"fmt"
	"math"
	"math/rand"
	"time"
)

// Policy names how a delay grows with the number of attempts.
type Policy string

const (
	Fixed          Policy = "fixed"
	Linear         Policy = "linear"
	Exponential    Policy = "exponential"
	ExpEqualJitter Policy = "exp_equal_jitter"
	ExpFullJitter  Policy = "exp_full_jitter"
)

// ParsePolicy accepts the policy names used in configuration. The empty
// string selects Fixed.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(s); p {
	case "":
		return Fixed, nil
	case Fixed, Linear, Exponential, ExpEqualJitter, ExpFullJitter:
		return p, nil
	}
	return "", fmt.Errorf("unknown backoff policy %q", s)
}

// Compute returns the delay before the next attempt. attempts is expected to
// be >= 0; a nil rng uses a fixed seed.
func Compute(policy Policy, base, maxDelay time.Duration, attempts int, rng *rand.Rand) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	if base <= 0 {
		base = time.Millisecond
	}
	if maxDelay <= 0 {
		maxDelay = base
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}

	exp := func() time.Duration {
		d := float64(base) * math.Pow(2, float64(attempts))
		if d >= float64(maxDelay) {
			return maxDelay
		}
		return time.Duration(d)
	}

	switch policy {
	case Fixed:
		return min(base, maxDelay)
	case Linear:
		return min(base*time.Duration(max(1, attempts)), maxDelay)
	case Exponential:
		return exp()
	case ExpEqualJitter:
		half := exp() / 2
		return half + time.Duration(rng.Int63n(int64(half)+1))
	default:
		d := exp()
		if d <= 0 {
			return 0
		}
		return time.Duration(rng.Int63n(int64(d) + 1))
	}
}
