package z

import (
	"github.com/cespare/xxhash/v2"
	"github.com/miekg/dns"
	"github.com/outcaste-io/ristretto"
)

// MsgCost reports the wire length of a cached DNS response so the cache
// cost tracks actual memory use.
func MsgCost(v any) int64 {
	return int64(v.(*dns.Msg).Len())
}

// QuestionToHash hashes a dns.Question cache key.
func QuestionToHash(k any) (uint64, uint64) {
	q := k.(dns.Question)

	hash := xxhash.New()

	_, _ = hash.Write([]byte(q.Name))
	_, _ = hash.Write([]byte{byte(q.Qtype >> 8), byte(q.Qtype)})
	_, _ = hash.Write([]byte{byte(q.Qclass >> 8), byte(q.Qclass)})

	return hash.Sum64(), 0
}

// MustRistrettoCache builds a ristretto cache or panics. Intended for
// initialization paths where a broken cache config is a programming error.
func MustRistrettoCache(cfg *ristretto.Config) *ristretto.Cache {
	c, err := ristretto.NewCache(cfg)
	if err != nil {
		panic(err)
	}

	return c
}
