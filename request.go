package spf

import (
	"net"
	"sort"
	"strconv"
	"strings"
)

// Scope names the mail identity a policy applies to.
type Scope int8

const (
	// ScopeHelo checks the HELO/EHLO domain.
	ScopeHelo Scope = iota + 1
	// ScopeMailFrom checks the envelope sender.
	ScopeMailFrom
	// ScopePRA checks the Purported Responsible Address (RFC 4406).
	ScopePRA
)

func (s Scope) String() string {
	switch s {
	case ScopeHelo:
		return "helo"
	case ScopeMailFrom:
		return "mfrom"
	case ScopePRA:
		return "pra"
	default:
		return strconv.Itoa(int(s))
	}
}

// ScopeFromString maps a scope name from a "spf2.0/..." version tag to
// a Scope. Only "mfrom" and "pra" may appear on the wire.
func ScopeFromString(s string) (Scope, bool) {
	switch s {
	case "helo":
		return ScopeHelo, true
	case "mfrom":
		return ScopeMailFrom, true
	case "pra":
		return ScopePRA, true
	default:
		return 0, false
	}
}

// Version identifies an SPF record version: 1 for "v=spf1" records,
// 2 for "spf2.0/..." records.
type Version int8

const (
	Version1 Version = 1
	Version2 Version = 2
)

func (v Version) String() string {
	switch v {
	case Version1:
		return "v=spf1"
	case Version2:
		return "spf2.0"
	default:
		return strconv.Itoa(int(v))
	}
}

// defaultVersions returns the record versions acceptable for a scope
// when the caller did not choose explicitly.
func defaultVersions(scope Scope) []Version {
	switch scope {
	case ScopeHelo:
		return []Version{Version1}
	case ScopePRA:
		return []Version{Version2}
	default:
		return []Version{Version1, Version2}
	}
}

// evalState is the mutable per-evaluation part of a Request. It is
// shared by reference between a root request and every sub-request
// derived from it so that processing limits stay global.
type evalState struct {
	dnsInteractiveTerms int
	frames              *frameStack
	explanation         *MacroString
}

// Request carries the inputs of a single SPF check plus the
// per-evaluation state the engine mutates while processing it. A
// Request must not be evaluated concurrently.
type Request struct {
	scope    Scope
	identity string
	ip       net.IP
	helo     string
	versions []Version

	localPart    string
	senderDomain string
	domain       string // current authority domain, rebound by include/redirect

	state *evalState
}

// RequestOption sets an optional parameter of a Request.
type RequestOption func(*Request)

// HeloIdentity supplies the secondary HELO identity used by the %{h}
// macro when the request's own scope is not "helo".
func HeloIdentity(s string) RequestOption {
	return func(r *Request) {
		r.helo = s
	}
}

// AcceptedVersions overrides the record versions acceptable for this
// request.
func AcceptedVersions(vs ...Version) RequestOption {
	return func(r *Request) {
		if len(vs) == 0 {
			return
		}
		r.versions = append([]Version(nil), vs...)
	}
}

// NewRequest builds a request for the given identity and connecting
// client IP. The authority domain and local part are derived from the
// identity: for the "helo" scope the identity is the domain; otherwise
// the domain is the part after the last "@", or the whole identity if
// no "@" is present, and the local part defaults to "postmaster".
func NewRequest(scope Scope, identity string, ip net.IP, opts ...RequestOption) *Request {
	r := &Request{
		scope:     scope,
		identity:  identity,
		ip:        ip,
		localPart: "postmaster",
	}
	if at := strings.LastIndex(identity, "@"); at >= 0 {
		if at > 0 {
			r.localPart = identity[:at]
		}
		r.senderDomain = identity[at+1:]
	} else {
		r.senderDomain = identity
	}
	r.domain = r.senderDomain
	if scope == ScopeHelo {
		r.domain = identity
		r.senderDomain = identity
		r.helo = identity
	}
	for _, opt := range opts {
		opt(r)
	}
	if len(r.versions) == 0 {
		r.versions = defaultVersions(scope)
	}
	// highest version first; record selection depends on this order
	sort.Slice(r.versions, func(i, j int) bool { return r.versions[i] > r.versions[j] })
	return r
}

func (r *Request) Scope() Scope         { return r.scope }
func (r *Request) Identity() string     { return r.identity }
func (r *Request) IP() net.IP           { return r.ip }
func (r *Request) HeloIdentity() string { return r.helo }

// AuthorityDomain returns the domain whose policy is currently being
// consulted. For sub-requests this is the include or redirect target.
func (r *Request) AuthorityDomain() string { return r.domain }

// LocalPart returns the local part of the identity, or "postmaster".
func (r *Request) LocalPart() string { return r.localPart }

// Versions returns the acceptable record versions, highest first.
func (r *Request) Versions() []Version { return r.versions }

// ipv4 returns the 4-byte form of the client IP, or nil when the
// client connected over native IPv6. IPv4-mapped IPv6 addresses count
// as IPv4.
func (r *Request) ipv4() net.IP { return r.ip.To4() }

// ipv6 returns the 16-byte form of the client IP; for IPv4 clients
// this is the IPv4-mapped address.
func (r *Request) ipv6() net.IP { return r.ip.To16() }

// resetState initializes the per-evaluation state for a root
// evaluation, binding the server's default explanation.
func (r *Request) resetState(explanation *MacroString) {
	r.state = &evalState{
		frames:      newFrameStack(),
		explanation: explanation,
	}
}

// sub derives the request used to evaluate an include or redirect
// target: a shallow clone with the authority domain rebound and the
// parent's evaluation state shared by reference.
func (r *Request) sub(domain string) *Request {
	s := *r
	s.domain = domain
	return &s
}
