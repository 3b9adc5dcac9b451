package spf

import (
	"errors"
	"net"
	"strings"

	"github.com/miekg/dns"

	"github.com/gitpan/Mail-SPF/spferr"
)

// defaultExplanationTemplate is expanded for "fail" results when
// neither the server nor the record supplies an explanation.
const defaultExplanationTemplate = "Please see http://www.openspf.org/why.html?sender=%{S}&ip=%{I}&receiver=%{R}"

// defaultMaxDNSInteractiveTerms is the RFC 4408 section 10.1 limit on
// terms that cause DNS queries, per evaluation.
const defaultMaxDNSInteractiveTerms = 10

// defaultMaxNameLookupsPerTerm caps the name lookups a single mx or
// ptr mechanism may cause.
const defaultMaxNameLookupsPerTerm = 10

// Server evaluates SPF policies. A Server is safe for concurrent use
// once constructed; all mutable evaluation state lives in the Request.
type Server struct {
	resolver Resolver
	listener Listener

	maxDNSInteractiveTerms   int
	maxNameLookupsPerMXMech  int
	maxNameLookupsPerPTRMech int

	defaultExplanation *MacroString
	receivingFQDN      string
}

// ServerOption sets an optional parameter of a Server.
type ServerOption func(*Server) error

// WithResolver sets the DNS resolver. A resolver is mandatory.
func WithResolver(r Resolver) ServerOption {
	return func(s *Server) error {
		s.resolver = r
		return nil
	}
}

// WithListener registers an observer of evaluation events.
func WithListener(l Listener) ServerOption {
	return func(s *Server) error {
		s.listener = l
		return nil
	}
}

// MaxDNSInteractiveTerms overrides the global limit on DNS-interactive
// terms per evaluation.
func MaxDNSInteractiveTerms(n int) ServerOption {
	return func(s *Server) error {
		if n > 0 {
			s.maxDNSInteractiveTerms = n
		}
		return nil
	}
}

// MaxNameLookupsPerTerm overrides the per-mechanism name lookup cap
// for both mx and ptr.
func MaxNameLookupsPerTerm(n int) ServerOption {
	return func(s *Server) error {
		if n > 0 {
			s.maxNameLookupsPerMXMech = n
			s.maxNameLookupsPerPTRMech = n
		}
		return nil
	}
}

// MaxNameLookupsPerMXMech overrides the cap on MX exchanges checked by
// one mx mechanism.
func MaxNameLookupsPerMXMech(n int) ServerOption {
	return func(s *Server) error {
		if n > 0 {
			s.maxNameLookupsPerMXMech = n
		}
		return nil
	}
}

// MaxNameLookupsPerPTRMech overrides the cap on PTR names validated by
// one ptr mechanism.
func MaxNameLookupsPerPTRMech(n int) ServerOption {
	return func(s *Server) error {
		if n > 0 {
			s.maxNameLookupsPerPTRMech = n
		}
		return nil
	}
}

// DefaultExplanation replaces the built-in explanation template. The
// text is macro text expanded in explanation context.
func DefaultExplanation(text string) ServerOption {
	return func(s *Server) error {
		ms, err := NewMacroString(text)
		if err != nil {
			return err
		}
		s.defaultExplanation = ms
		return nil
	}
}

// ReceivingFQDN sets the host name substituted for the %{r} macro
// letter. Defaults to "unknown".
func ReceivingFQDN(name string) ServerOption {
	return func(s *Server) error {
		if name != "" {
			s.receivingFQDN = name
		}
		return nil
	}
}

// NewServer builds a policy server. WithResolver is required; every
// other option has a working default.
func NewServer(opts ...ServerOption) (*Server, error) {
	s := &Server{
		maxDNSInteractiveTerms:   defaultMaxDNSInteractiveTerms,
		maxNameLookupsPerMXMech:  defaultMaxNameLookupsPerTerm,
		maxNameLookupsPerPTRMech: defaultMaxNameLookupsPerTerm,
		receivingFQDN:            "unknown",
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	if s.resolver == nil {
		return nil, ErrNoResolver
	}
	if s.defaultExplanation == nil {
		ms, err := NewMacroString(defaultExplanationTemplate)
		if err != nil {
			return nil, err
		}
		s.defaultExplanation = ms
	}
	return s, nil
}

// Process runs a complete check_host() evaluation for the request and
// returns the result, the explanation for "fail" results, and the
// underlying error for "temperror" and "permerror" results.
func (s *Server) Process(req *Request) (Result, string, error) {
	req.resetState(s.defaultExplanation)
	s.fireCheckHost(req)
	result, expl, err := s.evaluate(req)
	s.fireCheckHostResult(result, expl, err)
	return result, expl, err
}

// evaluate wraps checkHost with error classification: DNS faults become
// "temperror", everything else (syntax, limits, loops, validation)
// becomes "permerror".
func (s *Server) evaluate(req *Request) (Result, string, error) {
	result, expl, err := s.checkHost(req)
	if result != 0 {
		return result, expl, err
	}
	if kind, _ := Cause(err); kind == spferr.KindDNS {
		return Temperror, "", err
	}
	return Permerror, "", err
}

// checkHost retrieves and evaluates the authority domain's record. A
// zero result with a non-nil error signals a fault to be classified by
// evaluate.
func (s *Server) checkHost(req *Request) (Result, string, error) {
	domain := strings.ToLower(strings.TrimSuffix(req.domain, "."))
	if domain == "" || !isDomainName(domain) {
		// a malformed or absent authority domain yields "none" without
		// any DNS traffic
		return None, "", newSpfError(spferr.KindValidation, domain, newInvalidDomainError(req.domain))
	}

	rec, err := s.selectRecord(req, domain)
	if err != nil {
		return 0, "", err
	}
	if rec == nil {
		return None, "", newSpfError(spferr.KindValidation, domain, ErrNoAcceptableRecord)
	}
	s.fireSPFRecord(domain, rec)

	return s.checkRecord(req, domain, rec)
}

// selectRecord retrieves the domain's published records, consulting
// the SPF RR type before TXT. Selection applies per RR type: TXT is
// the fallback both when the type-99 query times out and when none of
// its records is applicable to the request. Other DNS faults on the
// type-99 query surface.
func (s *Server) selectRecord(req *Request, domain string) (*Record, error) {
	texts, err := s.fetchRecordTexts(domain, dns.TypeSPF)
	if err != nil && !errors.Is(err, ErrDNSTimeout) {
		return nil, err
	}
	if err == nil {
		rec, err := s.chooseRecord(req, domain, texts)
		if rec != nil || err != nil {
			return rec, err
		}
	}

	texts, err = s.fetchRecordTexts(domain, dns.TypeTXT)
	if err != nil {
		return nil, err
	}
	return s.chooseRecord(req, domain, texts)
}

// chooseRecord applies the version and scope selection rules to the
// candidate record texts: among the acceptable versions, the highest
// one with any applicable record wins; more than one applicable record
// of that version is an error.
func (s *Server) chooseRecord(req *Request, domain string, texts []string) (*Record, error) {
	for _, v := range req.versions {
		var chosen *Record
		for _, txt := range texts {
			ver, scopes, _, tagErr := parseVersionTag(txt)
			if tagErr != nil || ver != v {
				continue
			}
			if !scopeCovered(scopes, req.scope) {
				continue
			}
			rec, err := ParseRecord(txt)
			if err != nil {
				return nil, err
			}
			if chosen != nil {
				return nil, newSpfError(spferr.KindValidation, domain, ErrRedundantRecords)
			}
			chosen = rec
		}
		if chosen != nil {
			return chosen, nil
		}
	}
	return nil, nil
}

func scopeCovered(scopes []Scope, scope Scope) bool {
	for _, sc := range scopes {
		if sc == scope {
			return true
		}
	}
	return false
}

// fetchRecordTexts retrieves the candidate record texts published at
// domain under the given RR type. The strings of a single record
// concatenate without separators.
func (s *Server) fetchRecordTexts(domain string, qtype uint16) ([]string, error) {
	msg, err := s.dnsLookup(domain, qtype)
	if err != nil {
		return nil, err
	}
	var texts []string
	for _, rr := range msg.Answer {
		switch rec := rr.(type) {
		case *dns.SPF:
			texts = append(texts, strings.Join(rec.Txt, ""))
		case *dns.TXT:
			texts = append(texts, strings.Join(rec.Txt, ""))
		}
	}
	return texts, nil
}

// checkRecord evaluates a record's mechanisms in order, then the
// redirect modifier if nothing matched.
func (s *Server) checkRecord(req *Request, domain string, rec *Record) (Result, string, error) {
	req.state.frames.push(domain)
	defer req.state.frames.pop()

	for _, m := range rec.mechanisms {
		s.fireDirective(m)
		match, err := m.match(s, req)
		if err != nil {
			return 0, "", err
		}
		if !match {
			s.fireNonMatch(m)
			continue
		}
		result := m.result()
		var expl string
		if result == Fail {
			expl = s.explanation(req, rec)
		}
		s.fireMatch(m, result, expl)
		return result, expl, nil
	}

	if rec.redirect != nil {
		return s.redirect(req, rec)
	}
	return Neutral, "", nil
}

// redirect hands the evaluation over to the redirect target domain. A
// target publishing no acceptable record is a permanent error, unlike
// the "none" it would produce as a root domain.
func (s *Server) redirect(req *Request, rec *Record) (Result, string, error) {
	term := "redirect=" + rec.redirect.String()

	if err := s.countDNSInteractiveTerm(req); err != nil {
		return 0, "", err
	}
	target, err := rec.redirect.Expand(s, req, false)
	if err != nil {
		return 0, "", newSpfError(spferr.KindSyntax, term, err)
	}
	target, err = truncateFQDN(target)
	if err != nil {
		return 0, "", newSpfError(spferr.KindValidation, term, err)
	}
	target = strings.ToLower(strings.TrimSuffix(target, "."))
	if target == "" || !isDomainName(target) {
		return 0, "", newSpfError(spferr.KindValidation, term, newInvalidDomainError(target))
	}
	if req.state.frames.has(target) {
		return 0, "", newSpfError(spferr.KindLoop, term, ErrLoopDetected)
	}

	result, expl, err := s.checkHost(req.sub(target))
	if result == None {
		return 0, "", newSpfError(spferr.KindValidation, term, ErrNoAcceptableRecord)
	}
	return result, expl, err
}

// explanation resolves the explanation string for a "fail" result
// produced by the given record. A record-level exp modifier overrides
// the server default; every error on that path falls back silently.
func (s *Server) explanation(req *Request, rec *Record) string {
	ms := req.state.explanation
	if rec.exp != nil {
		if override := s.explanationTXT(req, rec.exp); override != nil {
			ms = override
		}
	}
	if ms == nil {
		return ""
	}
	expl, err := ms.Expand(s, req, true)
	if err != nil {
		return ""
	}
	return expl
}

// explanationTXT fetches the TXT record named by an exp modifier's
// domain-spec. Exactly one TXT record must exist and parse as macro
// text; otherwise the override is void.
func (s *Server) explanationTXT(req *Request, exp *MacroString) *MacroString {
	name, err := exp.Expand(s, req, false)
	if err != nil {
		return nil
	}
	name, err = truncateFQDN(name)
	if err != nil {
		return nil
	}
	name = strings.ToLower(strings.TrimSuffix(name, "."))
	if name == "" || !isDomainName(name) {
		return nil
	}
	msg, err := s.dnsLookup(name, dns.TypeTXT)
	if err != nil {
		return nil
	}
	var texts []string
	for _, rr := range msg.Answer {
		if rec, ok := rr.(*dns.TXT); ok {
			texts = append(texts, strings.Join(rec.Txt, ""))
		}
	}
	if len(texts) != 1 {
		return nil
	}
	ms, err := NewMacroString(texts[0])
	if err != nil {
		return nil
	}
	return ms
}

// countDNSInteractiveTerm charges one DNS-interactive term (include, a,
// mx, ptr, exists or redirect) against the evaluation's global budget.
// It is called before any DNS work the term causes.
func (s *Server) countDNSInteractiveTerm(req *Request) error {
	req.state.dnsInteractiveTerms++
	if req.state.dnsInteractiveTerms > s.maxDNSInteractiveTerms {
		return newSpfError(spferr.KindLimit, "", ErrTooManyDNSTerms)
	}
	return nil
}

// dnsLookup sends one query and classifies transport faults and fatal
// rcodes as DNS errors. NXDOMAIN is not a fault: it is a NOERROR
// response with zero answers, per RFC 4408 section 5.
func (s *Server) dnsLookup(name string, qtype uint16) (*dns.Msg, error) {
	fqdn := NormalizeFQDN(name)
	msg, err := s.resolver.Send(fqdn, qtype)
	if err != nil {
		return nil, newSpfError(spferr.KindDNS, fqdn, err)
	}
	switch msg.Rcode {
	case dns.RcodeSuccess, dns.RcodeNameError:
		return msg, nil
	default:
		return nil, newSpfError(spferr.KindDNS, fqdn, ErrDNSError)
	}
}

// matchAddrs looks up the address records of fqdn matching the request
// IP's family and tests each against the client IP under the given
// masks.
func (s *Server) matchAddrs(req *Request, fqdn string, ip4Mask, ip6Mask net.IPMask) (bool, error) {
	qtype := dns.TypeA
	ip := req.ipv4()
	mask := ip4Mask
	if ip == nil {
		qtype = dns.TypeAAAA
		ip = req.ipv6()
		mask = ip6Mask
	}

	msg, err := s.dnsLookup(fqdn, qtype)
	if err != nil {
		return false, err
	}
	for _, rr := range msg.Answer {
		var addr net.IP
		switch a := rr.(type) {
		case *dns.A:
			addr = a.A
		case *dns.AAAA:
			addr = a.AAAA
		default: // CNAMEs in the chain carry no address
			continue
		}
		n := net.IPNet{IP: addr, Mask: mask}
		if n.Contains(ip) {
			return true, nil
		}
	}
	return false, nil
}

// validatedPTRNames resolves the client IP's PTR names and keeps those
// that validate: a forward lookup of the name yields the client IP
// back. DNS errors make names drop out rather than fail the check, and
// at most maxNameLookupsPerPTRMech names are examined.
func (s *Server) validatedPTRNames(req *Request) []string {
	rev, err := dns.ReverseAddr(req.ip.String())
	if err != nil {
		return nil
	}
	msg, err := s.dnsLookup(rev, dns.TypePTR)
	if err != nil {
		return nil
	}

	qtype := dns.TypeA
	if req.ipv4() == nil {
		qtype = dns.TypeAAAA
	}

	var names []string
	looked := 0
	for _, rr := range msg.Answer {
		ptr, ok := rr.(*dns.PTR)
		if !ok {
			continue
		}
		if looked >= s.maxNameLookupsPerPTRMech {
			break
		}
		looked++

		fwd, err := s.dnsLookup(ptr.Ptr, qtype)
		if err != nil {
			continue
		}
		for _, frr := range fwd.Answer {
			var addr net.IP
			switch a := frr.(type) {
			case *dns.A:
				addr = a.A
			case *dns.AAAA:
				addr = a.AAAA
			default:
				continue
			}
			if addr.Equal(req.ip) {
				names = append(names, strings.ToLower(strings.TrimSuffix(ptr.Ptr, ".")))
				break
			}
		}
	}
	return names
}

// validatedDomainForIP implements the %{p} macro letter: the validated
// PTR name equal to the current domain if one exists, else one that is
// a subdomain of it, else the first validated name, else "unknown".
func (s *Server) validatedDomainForIP(req *Request) string {
	names := s.validatedPTRNames(req)
	if len(names) == 0 {
		return "unknown"
	}
	domain := NormalizeFQDN(req.domain)
	for _, n := range names {
		if dns.Fqdn(n) == domain {
			return n
		}
	}
	for _, n := range names {
		if dns.IsSubDomain(domain, dns.Fqdn(n)) {
			return n
		}
	}
	return names[0]
}

func (s *Server) fireCheckHost(req *Request) {
	if s.listener == nil {
		return
	}
	s.listener.CheckHost(req.ip, req.domain, req.identity)
}

func (s *Server) fireCheckHostResult(r Result, explanation string, err error) {
	if s.listener == nil {
		return
	}
	s.listener.CheckHostResult(r, explanation, err)
}

func (s *Server) fireSPFRecord(domain string, rec *Record) {
	if s.listener == nil {
		return
	}
	s.listener.SPFRecord(domain, rec.String())
}

func (s *Server) fireDirective(m *mechanism) {
	if s.listener == nil {
		return
	}
	s.listener.Directive(m.qualifier.String(), m.kind.String(), m.tok.value)
}

func (s *Server) fireNonMatch(m *mechanism) {
	if s.listener == nil {
		return
	}
	s.listener.NonMatch(m.String())
}

func (s *Server) fireMatch(m *mechanism, r Result, explanation string) {
	if s.listener == nil {
		return
	}
	s.listener.Match(m.String(), r, explanation)
}
