package domain

import (
	"crypto/rand"
	"math/big"
	"strconv"
	"time"
)

const referenceAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// NewReference builds an internal transaction reference: prefix, unix seconds and six random
// characters. References are generated before any gateway call and double as idempotency keys.
func NewReference(prefix string, now time.Time) string {
	suffix := make([]byte, 6)
	max := big.NewInt(int64(len(referenceAlphabet)))
	for i := range suffix {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			// crypto/rand failing is unrecoverable for reference generation.
			panic(err)
		}
		suffix[i] = referenceAlphabet[n.Int64()]
	}
	return prefix + strconv.FormatInt(now.Unix(), 10) + string(suffix)
}
