// Package dedup suppresses rapid re-fires of the same beacon. It is an abuse
// heuristic, not a billing correctness mechanism: entries are volatile and a
// racing duplicate may occasionally slip through.
package dedup

import (
	"context"
	"time"
)

type Store interface {
	// CheckAndMark reports whether fingerprint was marked less than ttl ago.
	// When it was not, the fingerprint is marked with the current time.
	CheckAndMark(ctx context.Context, fingerprint string, ttl time.Duration) (bool, error)
}
