package z

import "time"

// Cache is the subset of github.com/outcaste-io/ristretto#Cache the
// resolver needs. Any implementation with compatible semantics works.
type Cache interface {
	// Get returns the value (if any) and a boolean representing whether the
	// value was found or not. The value can be nil and the boolean can be
	// true at the same time.
	Get(k any) (v any, found bool)
	// SetWithTTL adds a key-value pair to the cache that will expire after
	// the specified TTL has passed. A zero value means the value never
	// expires.
	SetWithTTL(k, v any, cost int64, ttl time.Duration) bool
}
