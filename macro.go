package spf

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// macroLetters is the alphabet of RFC 4408 section 8 macro letters.
// c, r and t are valid only while expanding an explanation.
const macroLetters = "slodipvhcrt"

// macroDelimiters are the label separators a transformer may choose
// from. The first one given is the split delimiter; output is always
// joined with ".".
const macroDelimiters = ".-+,/_="

// macroToken is one element of a macro string's precomputed token
// stream: either a literal run (letter == 0) or a %{...} expression.
type macroToken struct {
	literal string
	letter  byte // lower-cased macro letter, 0 for literals
	escape  bool // upper-case letter: URL-escape the expansion
	digits  int  // keep only the last n labels, 0 = all
	reverse bool
	delim   byte // split delimiter, '.' by default
}

// MacroString is the lazy representation of domain-spec style text
// containing %{...} expansions. The raw text is parsed once at
// construction; expansion against a (server, request) pair is a pure
// function of the raw text, so two macro strings with equal raw text
// expand identically.
type MacroString struct {
	raw    string
	tokens []macroToken
}

// NewMacroString parses raw macro text. Unknown macro letters and
// malformed expressions are syntax errors, surfaced as "permerror"
// when encountered during record parsing.
func NewMacroString(raw string) (*MacroString, error) {
	m := &MacroString{raw: raw}

	var lit strings.Builder
	flush := func() {
		if lit.Len() > 0 {
			m.tokens = append(m.tokens, macroToken{literal: lit.String()})
			lit.Reset()
		}
	}

	for i := 0; i < len(raw); {
		c := raw[i]
		if c != '%' {
			lit.WriteByte(c)
			i++
			continue
		}
		if i+1 >= len(raw) {
			return nil, syntaxError(raw, fmt.Errorf("unterminated macro: %w", ErrSyntaxError))
		}
		switch raw[i+1] {
		case '%':
			lit.WriteByte('%')
			i += 2
		case '_':
			lit.WriteByte(' ')
			i += 2
		case '-':
			lit.WriteString("%20")
			i += 2
		case '{':
			flush()
			tok, n, err := scanMacroExpr(raw[i+2:])
			if err != nil {
				return nil, syntaxError(raw, err)
			}
			m.tokens = append(m.tokens, tok)
			i += 2 + n
		default:
			return nil, syntaxError(raw, fmt.Errorf("forbidden character %q after %%: %w", raw[i+1], ErrSyntaxError))
		}
	}
	flush()
	return m, nil
}

// scanMacroExpr scans the part of a macro expression following "%{",
// up to and including the closing brace. It returns the number of
// bytes consumed.
func scanMacroExpr(s string) (macroToken, int, error) {
	tok := macroToken{delim: '.'}

	if s == "" {
		return tok, 0, fmt.Errorf("unterminated macro: %w", ErrSyntaxError)
	}
	letter := s[0]
	lower := letter | 0x20
	if !strings.ContainsRune(macroLetters, rune(lower)) {
		return tok, 0, fmt.Errorf("unknown macro letter %q: %w", letter, ErrSyntaxError)
	}
	tok.letter = lower
	tok.escape = letter >= 'A' && letter <= 'Z'

	i := 1
	start := i
	for i < len(s) && isDigit(rune(s[i])) {
		i++
	}
	if i > start {
		n, err := strconv.Atoi(s[start:i])
		if err != nil || n < 1 || n > 128 {
			return tok, 0, fmt.Errorf("macro label count out of range: %w", ErrSyntaxError)
		}
		tok.digits = n
	}
	if i < len(s) && (s[i] == 'r' || s[i] == 'R') {
		tok.reverse = true
		i++
	}
	if i < len(s) && strings.IndexByte(macroDelimiters, s[i]) >= 0 {
		// the first delimiter given selects the split character; any
		// further ones are allowed by the grammar but change nothing
		tok.delim = s[i]
		for i < len(s) && strings.IndexByte(macroDelimiters, s[i]) >= 0 {
			i++
		}
	}
	if i >= len(s) || s[i] != '}' {
		return tok, 0, fmt.Errorf("expected '}': %w", ErrSyntaxError)
	}
	return tok, i + 1, nil
}

// String returns the raw, unexpanded macro text.
func (m *MacroString) String() string { return m.raw }

// Expand produces the concrete string for the given server and
// request. exp selects explanation context, which additionally permits
// the c, r and t macro letters.
func (m *MacroString) Expand(s *Server, req *Request, exp bool) (string, error) {
	var b strings.Builder
	for _, tok := range m.tokens {
		if tok.letter == 0 {
			b.WriteString(tok.literal)
			continue
		}
		v, err := macroValue(tok.letter, s, req, exp)
		if err != nil {
			return "", err
		}
		v = transformLabels(v, tok)
		if tok.escape {
			v = uriEscape(v)
		}
		b.WriteString(v)
	}
	return b.String(), nil
}

func macroValue(letter byte, s *Server, req *Request, exp bool) (string, error) {
	switch letter {
	case 's':
		return req.identity, nil
	case 'l':
		return req.localPart, nil
	case 'o':
		return req.senderDomain, nil
	case 'd':
		return req.domain, nil
	case 'i':
		return ipMacroForm(req.ip), nil
	case 'p':
		return s.validatedDomainForIP(req), nil
	case 'v':
		if req.ipv4() != nil {
			return "in-addr", nil
		}
		return "ip6", nil
	case 'h':
		if req.helo == "" {
			return "unknown", nil
		}
		return req.helo, nil
	case 'c':
		if !exp {
			return "", syntaxError("%{c}", fmt.Errorf(`'c' macro letter allowed only in "exp" text: %w`, ErrSyntaxError))
		}
		return req.ip.String(), nil
	case 'r':
		if !exp {
			return "", syntaxError("%{r}", fmt.Errorf(`'r' macro letter allowed only in "exp" text: %w`, ErrSyntaxError))
		}
		return s.receivingFQDN, nil
	case 't':
		if !exp {
			return "", syntaxError("%{t}", fmt.Errorf(`'t' macro letter allowed only in "exp" text: %w`, ErrSyntaxError))
		}
		return strconv.FormatInt(time.Now().UTC().Unix(), 10), nil
	default:
		return "", syntaxError(string(letter), ErrSyntaxError)
	}
}

// transformLabels applies the digit, reversal and delimiter
// transformers of a macro expression.
func transformLabels(v string, tok macroToken) string {
	if tok.digits == 0 && !tok.reverse && tok.delim == '.' {
		return v
	}
	parts := strings.Split(v, string(tok.delim))
	if tok.reverse {
		for first, last := 0, len(parts)-1; first < last; first, last = first+1, last-1 {
			parts[first], parts[last] = parts[last], parts[first]
		}
	}
	if tok.digits > 0 && tok.digits < len(parts) {
		parts = parts[len(parts)-tok.digits:]
	}
	return strings.Join(parts, ".")
}

const hexDigit = "0123456789abcdef"

// ipMacroForm renders the client IP for the %{i} macro: dotted quad
// for IPv4, dot-separated nibbles for IPv6.
func ipMacroForm(ip net.IP) string {
	if v4 := ip.To4(); v4 != nil {
		return v4.String()
	}
	ip = ip.To16()
	b := make([]byte, 0, len("f.f.")*net.IPv6len)
	for i := 0; i < net.IPv6len; i++ {
		if i > 0 {
			b = append(b, '.')
		}
		b = append(b, hexDigit[ip[i]>>4], '.', hexDigit[ip[i]&0xf])
	}
	return string(b)
}
