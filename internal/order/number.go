package order

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"
)

// NewOrderNumber returns the human readable number printed for a finalized
// order, e.g. ORD-20260115-093012-042-7731.
func NewOrderNumber(now time.Time) string {
	now = now.UTC()

	datePart := now.Format("20060102-150405")
	millis := now.Nanosecond() / int(time.Millisecond)

	n, err := rand.Int(rand.Reader, big.NewInt(10000))
	if err != nil {
		n = big.NewInt(now.UnixNano() % 10000)
	}

	return fmt.Sprintf("ORD-%s-%03d-%04d", datePart, millis, n.Int64())
}
