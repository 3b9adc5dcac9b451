package spf

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/miekg/dns"

	"github.com/gitpan/Mail-SPF/z"
)

// Resolver issues a single DNS query. Implementations return the raw
// response message; rcode interpretation is the engine's business.
// Transport-level failures map to ErrDNSTimeout or ErrDNSError.
type Resolver interface {
	Send(name string, qtype uint16) (*dns.Msg, error)
}

type MiekgDNSResolverOption func(*MiekgDNSResolver)

// MiekgDNSClient installs a preconfigured client for its network
// ("udp" or "tcp"), replacing the default one.
func MiekgDNSClient(c *dns.Client) MiekgDNSResolverOption {
	return func(r *MiekgDNSResolver) {
		if c == nil {
			return
		}
		r.dnsClients[c.Net] = c
	}
}

// MiekgDNSCache attaches a response cache, typically built with
// z.MustRistrettoCache.
func MiekgDNSCache(c z.Cache) MiekgDNSResolverOption {
	return func(r *MiekgDNSResolver) {
		r.cache = c
	}
}

// MiekgDNSMinSaneTTL sets a floor on the cache lifetime of responses,
// protecting against zones publishing zero or near-zero TTLs.
func MiekgDNSMinSaneTTL(d time.Duration) MiekgDNSResolverOption {
	return func(r *MiekgDNSResolver) {
		r.minSaneTTL = d
	}
}

// MiekgDNSResolver resolves queries against a single DNS server using
// github.com/miekg/dns, over UDP with a TCP retry on truncation.
type MiekgDNSResolver struct {
	mu         sync.Mutex
	dnsClients map[string]*dns.Client
	cache      z.Cache
	minSaneTTL time.Duration
	serverAddr string
}

// NewMiekgDNSResolver returns a resolver querying the DNS server at
// addr (a host:port pair).
func NewMiekgDNSResolver(addr string, opts ...MiekgDNSResolverOption) (*MiekgDNSResolver, error) {
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return nil, err
	}
	r := &MiekgDNSResolver{
		dnsClients: map[string]*dns.Client{
			"udp": {Net: "udp"},
			"tcp": {Net: "tcp"},
		},
		serverAddr: addr,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Send implements Resolver.
func (r *MiekgDNSResolver) Send(name string, qtype uint16) (*dns.Msg, error) {
	req := new(dns.Msg)
	req.SetQuestion(name, qtype)
	return r.exchange(req)
}

func (r *MiekgDNSResolver) cachedResponse(req *dns.Msg) (*dns.Msg, bool) {
	if r.cache == nil {
		return nil, false
	}
	// dns.Question is comparable and makes a stable cache key
	res, found := r.cache.Get(req.Question[0])
	if !found {
		return nil, false
	}
	return res.(*dns.Msg), true
}

const maxUint32 = 1<<32 - 1

// CacheResponse stores a response under its question, for the minimum
// answer TTL (bounded below by the configured sane minimum). Negative
// responses are kept briefly.
func (r *MiekgDNSResolver) CacheResponse(res *dns.Msg) {
	if r.cache == nil {
		return
	}
	if len(res.Answer) == 0 {
		// TODO get TTL from SOA and limit it between 60s and 3600s
		r.cache.SetWithTTL(res.Question[0], res, int64(res.Len()), 60*time.Second)
		return
	}
	var ttl uint32 = maxUint32
	for _, a := range res.Answer {
		if d := a.Header().Ttl; d < ttl {
			ttl = d
		}
	}

	d := time.Duration(ttl) * time.Second
	if r.minSaneTTL > 0 && d < r.minSaneTTL {
		d = r.minSaneTTL
	}

	_ = r.cache.SetWithTTL(res.Question[0], res, int64(res.Len()), d)
}

func (r *MiekgDNSResolver) exchange(req *dns.Msg) (*dns.Msg, error) {
	if res, found := r.cachedResponse(req); found {
		return res, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var (
		res *dns.Msg
		err error
	)
	for _, n := range []string{"udp", "tcp"} {
		dnsClient, found := r.dnsClients[n]
		if !found {
			continue
		}
		res, _, err = dnsClient.Exchange(req, r.serverAddr)
		if nErr, ok := err.(net.Error); ok && nErr.Timeout() {
			continue
		}
		if err == nil && res.Truncated {
			continue
		}
		break
	}
	if err != nil {
		if nErr, ok := err.(net.Error); ok && nErr.Timeout() {
			return nil, ErrDNSTimeout
		}
		return nil, fmt.Errorf("%w: %v", ErrDNSError, err)
	}
	if res.Rcode == dns.RcodeSuccess || res.Rcode == dns.RcodeNameError {
		r.CacheResponse(res)
	}
	return res, nil
}
