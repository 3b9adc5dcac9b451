package spf

import (
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"

	"github.com/miekg/dns"

	"github.com/gitpan/Mail-SPF/spferr"
)

type mechKind int8

const (
	mechAll mechKind = iota + 1
	mechInclude
	mechA
	mechMX
	mechPTR
	mechIP4
	mechIP6
	mechExists
)

func (k mechKind) String() string {
	switch k {
	case mechAll:
		return "all"
	case mechInclude:
		return "include"
	case mechA:
		return "a"
	case mechMX:
		return "mx"
	case mechPTR:
		return "ptr"
	case mechIP4:
		return "ip4"
	case mechIP6:
		return "ip6"
	case mechExists:
		return "exists"
	default:
		return strconv.Itoa(int(k))
	}
}

// matchingResult maps a term qualifier to the result produced when the
// mechanism matches.
func matchingResult(qualifier tokenType) (Result, error) {
	switch qualifier {
	case qPlus:
		return Pass, nil
	case qMinus:
		return Fail, nil
	case qQuestionMark:
		return Neutral, nil
	case qTilde:
		return Softfail, nil
	default:
		return 0, fmt.Errorf("invalid qualifier")
	}
}

// mechanism is one directive of a record: a common header (kind and
// qualifier) plus the variant payload.
type mechanism struct {
	kind      mechKind
	qualifier tokenType

	domain  *MacroString // include/exists (required), a/mx/ptr (optional)
	ip4Mask net.IPMask   // a, mx
	ip6Mask net.IPMask   // a, mx
	ipnet   *net.IPNet   // ip4, ip6

	tok *token
}

func (m *mechanism) String() string { return m.tok.String() }

// result returns the result kind this mechanism produces on a match.
func (m *mechanism) result() Result {
	r, _ := matchingResult(m.qualifier)
	return r
}

// mechanismParsers is the dispatch table of per-variant parameter
// parsers, keyed by the mechanism's token type.
var mechanismParsers = map[tokenType]func(*mechanism, *token) error{
	tAll:     parseAllParams,
	tInclude: parseDomainParam,
	tExists:  parseDomainParam,
	tA:       parseDualCIDRParams,
	tMX:      parseDualCIDRParams,
	tPTR:     parseOptionalDomainParam,
	tIP4:     parseIPParams,
	tIP6:     parseIPParams,
}

var tokenToMechKind = map[tokenType]mechKind{
	tAll:     mechAll,
	tInclude: mechInclude,
	tA:       mechA,
	tMX:      mechMX,
	tPTR:     mechPTR,
	tIP4:     mechIP4,
	tIP6:     mechIP6,
	tExists:  mechExists,
}

// parseMechanism interprets a lexed mechanism token's parameter suffix.
func parseMechanism(tok *token) (*mechanism, error) {
	kind, ok := tokenToMechKind[tok.mechanism]
	if !ok {
		return nil, syntaxError(tok.String(), ErrSyntaxError)
	}
	m := &mechanism{kind: kind, qualifier: tok.qualifier, tok: tok}
	if err := mechanismParsers[tok.mechanism](m, tok); err != nil {
		return nil, err
	}
	return m, nil
}

func parseAllParams(_ *mechanism, _ *token) error { return nil }

func parseDomainParam(m *mechanism, tok *token) error {
	ms, err := NewMacroString(tok.value)
	if err != nil {
		return syntaxError(tok.String(), err)
	}
	m.domain = ms
	return nil
}

func parseOptionalDomainParam(m *mechanism, tok *token) error {
	if tok.value == "" {
		return nil
	}
	return parseDomainParam(m, tok)
}

func parseDualCIDRParams(m *mechanism, tok *token) error {
	domain, ip4Mask, ip6Mask, err := splitDomainDualCIDR(tok.value)
	if err != nil {
		return syntaxError(tok.String(), err)
	}
	if domain != "" {
		ms, err := NewMacroString(domain)
		if err != nil {
			return syntaxError(tok.String(), err)
		}
		m.domain = ms
	}
	m.ip4Mask = ip4Mask
	m.ip6Mask = ip6Mask
	return nil
}

func parseIPParams(m *mechanism, tok *token) error {
	v6 := tok.mechanism == tIP6
	ipnet, err := parseIPNetwork(tok.value, v6)
	if err != nil {
		return syntaxError(tok.String(), err)
	}
	m.ipnet = ipnet
	return nil
}

// parseIPNetwork parses the literal address and optional prefix length
// of an ip4 or ip6 mechanism into the network it designates.
func parseIPNetwork(value string, v6 bool) (*net.IPNet, error) {
	if strings.Contains(value, "/") {
		ip, ipnet, err := net.ParseCIDR(value)
		if err != nil {
			return nil, ErrInvalidCIDRLength
		}
		if !v6 && ip.To4() == nil {
			return nil, ErrNotIPv4
		}
		if v6 && ip.To4() != nil {
			return nil, ErrNotIPv6
		}
		return ipnet, nil
	}
	ip := net.ParseIP(value)
	if ip == nil {
		if v6 {
			return nil, ErrNotIPv6
		}
		return nil, ErrNotIPv4
	}
	if !v6 {
		if ip = ip.To4(); ip == nil {
			return nil, ErrNotIPv4
		}
		return &net.IPNet{IP: ip, Mask: net.CIDRMask(32, 32)}, nil
	}
	if ip.To4() != nil {
		return nil, ErrNotIPv6
	}
	return &net.IPNet{IP: ip, Mask: net.CIDRMask(128, 128)}, nil
}

func parseCIDRMask(s string, bits int) (net.IPMask, error) {
	if s == "" {
		return net.CIDRMask(bits, bits), nil
	}
	l, err := strconv.Atoi(s)
	if err != nil {
		return nil, ErrInvalidCIDRLength
	}
	mask := net.CIDRMask(l, bits)
	if mask == nil {
		return nil, ErrInvalidCIDRLength
	}
	return mask, nil
}

// splitDomainDualCIDR splits an a/mx parameter suffix of the form
// [domain-spec][/L4][//L6] into its parts, with masks defaulting to
// full length.
func splitDomainDualCIDR(s string) (string, net.IPMask, net.IPMask, error) {
	domain := s
	var ip4Len, ip6Len string
	if i := strings.IndexByte(s, '/'); i >= 0 {
		domain = s[:i]
		cidr := s[i:]
		if strings.HasPrefix(cidr, "//") {
			ip6Len = cidr[2:]
		} else if j := strings.Index(cidr, "//"); j >= 0 {
			ip4Len = cidr[1:j]
			ip6Len = cidr[j+2:]
		} else {
			ip4Len = cidr[1:]
		}
	}

	ip4Mask, err := parseCIDRMask(ip4Len, 8*net.IPv4len)
	if err != nil {
		return "", nil, nil, err
	}
	ip6Mask, err := parseCIDRMask(ip6Len, 8*net.IPv6len)
	if err != nil {
		return "", nil, nil, err
	}

	return domain, ip4Mask, ip6Mask, nil
}

// targetDomain resolves the mechanism's effective domain: the expanded
// domain-spec if one was given, the request's current domain otherwise.
// The result is macro-expanded, length-truncated, validated and folded
// to the canonical form without a trailing dot.
func (m *mechanism) targetDomain(s *Server, req *Request) (string, error) {
	target := req.domain
	if m.domain != nil {
		t, err := m.domain.Expand(s, req, false)
		if err != nil {
			return "", newSpfError(spferr.KindSyntax, m.tok.String(), err)
		}
		target = t
	}
	target, err := truncateFQDN(target)
	if err != nil {
		return "", newSpfError(spferr.KindValidation, m.tok.String(), err)
	}
	target = strings.ToLower(strings.TrimSuffix(target, "."))
	if target == "" {
		return "", newSpfError(spferr.KindValidation, m.tok.String(), ErrEmptyDomain)
	}
	if !isDomainName(target) {
		return "", newSpfError(spferr.KindValidation, m.tok.String(), newInvalidDomainError(target))
	}
	return target, nil
}

// match evaluates the mechanism against the request. Matching stops
// evaluation of the record; a non-nil error short-circuits the whole
// evaluation and is classified at the Process boundary.
func (m *mechanism) match(s *Server, req *Request) (bool, error) {
	switch m.kind {
	case mechAll:
		return true, nil
	case mechIP4:
		ip := req.ipv4()
		return ip != nil && m.ipnet.Contains(ip), nil
	case mechIP6:
		return m.ipnet.Contains(req.ipv6()), nil
	case mechA:
		return m.matchA(s, req)
	case mechMX:
		return m.matchMX(s, req)
	case mechPTR:
		return m.matchPTR(s, req)
	case mechExists:
		return m.matchExists(s, req)
	case mechInclude:
		return m.matchInclude(s, req)
	default:
		return false, newSpfError(spferr.KindSyntax, m.tok.String(), ErrSyntaxError)
	}
}

func (m *mechanism) matchA(s *Server, req *Request) (bool, error) {
	if err := s.countDNSInteractiveTerm(req); err != nil {
		return false, err
	}
	target, err := m.targetDomain(s, req)
	if err != nil {
		return false, err
	}
	return s.matchAddrs(req, target, m.ip4Mask, m.ip6Mask)
}

func (m *mechanism) matchMX(s *Server, req *Request) (bool, error) {
	if err := s.countDNSInteractiveTerm(req); err != nil {
		return false, err
	}
	target, err := m.targetDomain(s, req)
	if err != nil {
		return false, err
	}
	msg, err := s.dnsLookup(target, dns.TypeMX)
	if err != nil {
		return false, err
	}
	mxs := make([]*dns.MX, 0, len(msg.Answer))
	for _, rr := range msg.Answer {
		if mx, ok := rr.(*dns.MX); ok {
			mxs = append(mxs, mx)
		}
	}
	sort.SliceStable(mxs, func(i, j int) bool { return mxs[i].Preference < mxs[j].Preference })
	for i, mx := range mxs {
		if i >= s.maxNameLookupsPerMXMech {
			// over the per-mechanism cap the mechanism terminates
			// without match
			return false, nil
		}
		found, err := s.matchAddrs(req, mx.Mx, m.ip4Mask, m.ip6Mask)
		if found || err != nil {
			return found, err
		}
	}
	return false, nil
}

func (m *mechanism) matchPTR(s *Server, req *Request) (bool, error) {
	if err := s.countDNSInteractiveTerm(req); err != nil {
		return false, err
	}
	target, err := m.targetDomain(s, req)
	if err != nil {
		return false, err
	}
	for _, name := range s.validatedPTRNames(req) {
		if dns.IsSubDomain(dns.Fqdn(target), dns.Fqdn(name)) {
			return true, nil
		}
	}
	return false, nil
}

func (m *mechanism) matchExists(s *Server, req *Request) (bool, error) {
	if err := s.countDNSInteractiveTerm(req); err != nil {
		return false, err
	}
	target, err := m.targetDomain(s, req)
	if err != nil {
		return false, err
	}
	// existence test only, and always over A even for IPv6 clients
	msg, err := s.dnsLookup(target, dns.TypeA)
	if err != nil {
		return false, err
	}
	for _, rr := range msg.Answer {
		if _, ok := rr.(*dns.A); ok {
			return true, nil
		}
	}
	return false, nil
}

func (m *mechanism) matchInclude(s *Server, req *Request) (bool, error) {
	if err := s.countDNSInteractiveTerm(req); err != nil {
		return false, err
	}
	target, err := m.targetDomain(s, req)
	if err != nil {
		return false, err
	}
	if req.state.frames.has(target) {
		return false, newSpfError(spferr.KindLoop, m.tok.String(), ErrLoopDetected)
	}

	result, _, err := s.evaluate(req.sub(target))

	// RFC 4408 section 5.2: pass matches, fail/softfail/neutral do not,
	// temperror and permerror short-circuit, and none becomes permerror.
	switch result {
	case Pass:
		return true, nil
	case Fail, Softfail, Neutral:
		return false, nil
	case Temperror:
		if err == nil {
			err = ErrDNSError
		}
		return false, newSpfError(spferr.KindDNS, m.tok.String(), err)
	default:
		if err == nil {
			err = ErrNoAcceptableRecord
		}
		return false, newSpfError(spferr.KindValidation, m.tok.String(), err)
	}
}
