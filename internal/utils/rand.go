package utils

import (
	"crypto/rand"
	"math/big"
)

// SecureIntn returns a uniform random int in [0, n). Draws must not be
// predictable from state visible before they execute, so this reads from
// crypto/rand rather than a seeded PRNG.
func SecureIntn(n int) int {
	if n <= 0 {
		return 0
	}
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		// crypto/rand failing means the platform entropy source is broken;
		// there is no meaningful fallback for a fairness-sensitive draw.
		panic(err)
	}
	return int(v.Int64())
}
