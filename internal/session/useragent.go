package session

import (
	"crypto/rand"
	"math/big"
)

// DefaultUserAgents is the stock pool a session picks from at random.
var DefaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
}

// PickUserAgent returns a random entry from pool, or "" for an empty pool.
func PickUserAgent(pool []string) string {
	switch len(pool) {
	case 0:
		return ""
	case 1:
		return pool[0]
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(pool))))
	if err != nil {
		return pool[0]
	}
	return pool[n.Int64()]
}
