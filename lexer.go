package spf

import (
	"regexp"
	"strings"
)

// lex splits a record's term text on whitespace and scans each field
// into a token. Version tags are stripped by the record parser before
// lexing; every field here is a mechanism or modifier candidate.
func lex(input string) []*token {
	fields := strings.Fields(input)
	tokens := make([]*token, 0, len(fields))
	for _, f := range fields {
		tokens = append(tokens, scanTerm(f))
	}
	return tokens
}

// scanTerm scans a single whitespace-delimited term. A term is a
// modifier if it matches NAME "=" VALUE; otherwise it is a mechanism
// with an optional leading qualifier. Unrecognized mechanism names and
// malformed terms produce a token in the error state, which the record
// parser turns into a syntax error.
func scanTerm(ident string) *token {
	t := &token{mechanism: tErr, qualifier: qPlus}

	errToken := func() *token {
		t.mechanism = tErr
		t.qualifier = qErr
		t.value = ident
		return t
	}

	if ident == "" {
		return errToken()
	}

	s := ident
	hasQualifier := false
	if q, ok := qualifiers[rune(s[0])]; ok {
		t.qualifier = q
		hasQualifier = true
		s = s[1:]
	}

	i := strings.IndexAny(s, ":=/")
	if i < 0 {
		t.key = s
		t.mechanism = tokenTypeFromString(s)
		if !t.mechanism.isMechanism() || !checkTokenSyntax(t, 0) {
			return errToken()
		}
		return t
	}

	name := s[:i]
	delim := rune(s[i])
	value := s[i+1:]
	if delim == '/' {
		// keep the slash so mechanism parsers see the full
		// dual-cidr-length suffix
		value = s[i:]
		delim = ':'
	}
	t.key = name
	t.value = value
	t.mechanism = tokenTypeFromString(name)

	if t.mechanism == tErr {
		// NAME "=" VALUE with an unrecognized name parses as an unknown
		// modifier; it is retained but has no semantic effect.
		if delim == '=' && !hasQualifier && checkUnknownModifierSyntax(name, value) {
			t.mechanism = tUnknownModifier
			return t
		}
		return errToken()
	}
	if t.mechanism.isModifier() && hasQualifier {
		return errToken()
	}
	if !checkTokenSyntax(t, delim) {
		return errToken()
	}
	return t
}

var (
	// name = ALPHA *( ALPHA / DIGIT / "-" / "_" / "." )
	reModifierName = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9\-_.]*$`)
	// macro-string     = *( macro-expand / macro-literal )
	// macro-expand     = ( "%{" macro-letter transformers *delimiter "}" ) / "%%" / "%_" / "%-"
	// macro-literal    = %x21-24 / %x26-7E ; visible characters except "%"
	// macro-letter     = "s" / "l" / "o" / "d" / "i" / "p" / "h" / "c" / "r" / "t" / "v"
	// transformers     = *DIGIT [ "r" ]
	// delimiter        = "." / "-" / "+" / "," / "/" / "_" / "="
	reMacroString = regexp.MustCompile(`^((%\{[slodiphcrtvSLODIPHCRTV][0-9]*[rR]?[.\-+,/_=]*\})|%%|%_|%-|[\x21\x22\x23\x24\x26-\x7E])*$`)
)

func checkUnknownModifierSyntax(key, value string) bool {
	return reModifierName.MatchString(key) && reMacroString.MatchString(value)
}

// isDigit returns true if the rune is between '0' and '9'.
func isDigit(ch rune) bool { return ch >= '0' && ch <= '9' }
