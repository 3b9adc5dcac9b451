// Package spf evaluates Sender Policy Framework authorization policies
// as specified by RFC 4408. A Server retrieves the authority domain's
// published policy over DNS (SPF RR type 99 first, then TXT), parses it
// and evaluates it against a Request, producing one of the seven SPF
// results together with a macro-expanded explanation for "fail".
//
// The engine also understands the RFC 4406 record version "spf2.0" to
// the extent shared with RFC 4408: version and scope selection of
// published records.
package spf

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gitpan/Mail-SPF/spferr"
)

// Sentinel errors for root cause analysis. They surface wrapped in
// SpfError which carries the spferr.Kind classification.
var (
	ErrDNSTimeout           = errors.New("DNS query timed out")
	ErrDNSError             = errors.New("DNS error")
	ErrNoAcceptableRecord   = errors.New("no acceptable SPF record found")
	ErrRedundantRecords     = errors.New("redundant applicable records")
	ErrInvalidRecordVersion = errors.New("not an acceptable SPF record version")
	ErrSyntaxError          = errors.New("wrong syntax")
	ErrDuplicateModifier    = errors.New("duplicate modifier")
	ErrEmptyDomain          = errors.New("empty domain")
	ErrInvalidCIDRLength    = errors.New("invalid CIDR length")
	ErrNotIPv4              = errors.New("address isn't ipv4")
	ErrNotIPv6              = errors.New("address isn't ipv6")
	ErrTooManyDNSTerms      = errors.New("too many DNS-interactive terms")
	ErrLoopDetected         = errors.New("include/redirect loop detected")
	ErrNoResolver           = errors.New("no resolver configured")
)

// SpfError wraps an engine error with its recovery classification and,
// when available, the text of the term that produced it.
type SpfError struct {
	kind spferr.Kind
	term string
	err  error
}

func newSpfError(kind spferr.Kind, term string, err error) SpfError {
	return SpfError{kind: kind, term: term, err: err}
}

func syntaxError(term string, err error) SpfError {
	return SpfError{kind: spferr.KindSyntax, term: term, err: err}
}

func (e SpfError) Error() string {
	if e.term == "" {
		return e.err.Error()
	}
	return fmt.Sprintf("error checking %q: %s", e.term, e.err.Error())
}

func (e SpfError) Unwrap() error { return e.err }

func (e SpfError) Kind() spferr.Kind { return e.kind }

// TermString returns the text of the term the error was produced for,
// or the empty string.
func (e SpfError) TermString() string { return e.term }

// Cause unwraps err down to its root cause and reports the outermost
// classification found on the way.
func Cause(err error) (spferr.Kind, error) {
	kind := spferr.KindUnknown
	for err != nil {
		var e SpfError
		if errors.As(err, &e) {
			if kind == spferr.KindUnknown {
				kind = e.kind
			}
			err = e.err
			continue
		}
		u := errors.Unwrap(err)
		if u == nil {
			break
		}
		err = u
	}
	return kind, err
}

// DomainError represents a domain check error.
type DomainError struct {
	Err    string // description of the error
	Domain string // domain checked
}

func (e *DomainError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Domain == "" {
		return e.Err
	}
	return e.Err + ": " + e.Domain
}

func newInvalidDomainError(domain string) error {
	return &DomainError{
		Err:    "invalid domain name",
		Domain: domain,
	}
}

// isDomainName checks if a string is a presentation-format domain name
// (currently restricted to hostname-compatible "preferred name" LDH labels and
// SRV-like "underscore labels"; see golang.org/issue/12421).
//
// Copied from https://github.com/golang/go/blob/8a16c71067ca2cfd09281a82ee150a408095f0bc/src/net/dnsclient.go#L60
func isDomainName(s string) bool {
	// See RFC 1035, RFC 3696.
	// Presentation format has dots before every label except the first, and the
	// terminal empty label is optional here because we assume fully-qualified
	// (absolute) input. We must therefore reserve space for the first and last
	// labels' length octets in wire format, where they are necessary and the
	// maximum total length is 255.
	// So our _effective_ maximum is 253, but 254 is not rejected if the last
	// character is a dot.
	l := len(s)
	if l == 0 || l > 254 || l == 254 && s[l-1] != '.' {
		return false
	}

	last := byte('.')
	ok := false // Ok once we've seen a letter.
	partlen := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		default:
			return false
		case 'a' <= c && c <= 'z' || 'A' <= c && c <= 'Z' || c == '_':
			ok = true
			partlen++
		case '0' <= c && c <= '9':
			// fine
			partlen++
		case c == '-':
			// Byte before dash cannot be dot.
			if last == '.' {
				return false
			}
			partlen++
		case c == '.':
			// Byte before dot cannot be dot, dash.
			if last == '.' || last == '-' {
				return false
			}
			if partlen > 63 || partlen == 0 {
				return false
			}
			partlen = 0
		}
		last = c
	}
	if last == '-' || partlen > 63 {
		return false
	}

	return ok
}

// NormalizeFQDN appends the root domain (a dot) to the FQDN and folds
// it to lower case.
func NormalizeFQDN(name string) string {
	if len(name) == 0 {
		return ""
	}
	if name[len(name)-1] != '.' {
		name = name + "."
	}
	return strings.ToLower(name)
}

// When the result of macro expansion is used in a domain name query, if
// the expanded domain name exceeds 253 characters (the maximum length
// of a domain name in this format), the left side is truncated to fit,
// by removing successive domain labels (and their following dots) until
// the total length does not exceed 253 characters.
func truncateFQDN(s string) (string, error) {
	l := len(s)
	if l < 254 || l == 254 && s[l-1] == '.' {
		if l == 1 {
			return s, nil
		}
		for i := 1; i < l; i++ {
			if s[i-1] == '.' && s[i] == '.' {
				return "", newInvalidDomainError(s)
			}
		}
		return s, nil
	}
	dot := -1
	l = 0
	i := len(s) - 1
	labelLen := 0
	for i >= 0 && l < 253 {
		if s[i] == '.' {
			if labelLen == 0 {
				return "", newInvalidDomainError(s)
			}
			dot = i
			labelLen = 0
		} else {
			labelLen++
		}
		l++
		i--
	}
	if dot < 0 {
		return "", newInvalidDomainError(s)
	}
	if s[i] == '.' {
		return s[i+1:], nil
	}
	return s[dot+1:], nil
}

const upperhex = "0123456789ABCDEF"

// uriEscape percent-encodes everything outside the RFC 3986 unreserved
// set. Used by upper-case macro letters.
func uriEscape(s string) string {
	unreserved := func(c byte) bool {
		return 'A' <= c && c <= 'Z' || 'a' <= c && c <= 'z' ||
			'0' <= c && c <= '9' || c == '-' || c == '.' || c == '_' || c == '~'
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if unreserved(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(upperhex[c>>4])
		b.WriteByte(upperhex[c&0xf])
	}
	return b.String()
}
