package spf

import (
	"fmt"
	"strconv"
	"strings"
)

type tokenType int

const (
	tEOF tokenType = iota
	tErr

	mechanismBeg

	tAll     // all
	tA       // a
	tIP4     // ip4
	tIP6     // ip6
	tMX      // mx
	tPTR     // ptr
	tInclude // include
	tExists  // exists

	mechanismEnd

	modifierBeg

	tRedirect        // redirect
	tExp             // explanation
	tUnknownModifier // unknown modifier

	modifierEnd

	qPlus
	qMinus
	qTilde
	qQuestionMark

	qErr
)

var qualifiers = map[rune]tokenType{
	'+': qPlus,
	'-': qMinus,
	'?': qQuestionMark,
	'~': qTilde,
}

func (tok tokenType) String() string {
	switch tok {
	case tAll:
		return "all"
	case tA:
		return "a"
	case tIP4:
		return "ip4"
	case tIP6:
		return "ip6"
	case tMX:
		return "mx"
	case tPTR:
		return "ptr"
	case tInclude:
		return "include"
	case tRedirect:
		return "redirect"
	case tExists:
		return "exists"
	case tExp:
		return "exp"
	case qPlus:
		return "+"
	case qMinus:
		return "-"
	case qQuestionMark:
		return "?"
	case qTilde:
		return "~"
	case tUnknownModifier:
		return "(unknown)"
	default:
		return ":" + strconv.Itoa(int(tok))
	}
}

func tokenTypeFromString(s string) tokenType {
	switch strings.ToLower(s) {
	case "all":
		return tAll
	case "a":
		return tA
	case "ip4":
		return tIP4
	case "ip6":
		return tIP6
	case "mx":
		return tMX
	case "ptr":
		return tPTR
	case "include":
		return tInclude
	case "redirect":
		return tRedirect
	case "exists":
		return tExists
	case "exp":
		return tExp
	default:
		return tErr
	}
}

func (tok tokenType) isMechanism() bool {
	return tok > mechanismBeg && tok < mechanismEnd
}

func (tok tokenType) isModifier() bool {
	return tok > modifierBeg && tok < modifierEnd
}

// checkTokenSyntax verifies the delimiter and value rules of the term
// grammar: modifiers take "=", mechanisms take ":" (or a bare "/" CIDR
// suffix for a and mx), "all" takes nothing, and include, exists, ip4
// and ip6 must not have an empty value.
func checkTokenSyntax(tkn *token, delimiter rune) bool {
	if tkn == nil {
		return false
	}

	if tkn.mechanism == tErr && tkn.qualifier == qErr {
		return true // already in the error state
	}

	if tkn.mechanism.isModifier() && delimiter != '=' {
		return false
	}
	if tkn.mechanism.isMechanism() && delimiter == '=' {
		return false
	}

	switch tkn.mechanism {
	case tAll:
		return tkn.value == ""
	case tInclude, tExists, tIP4, tIP6:
		return tkn.value != ""
	case tA, tMX:
		// "a:" with an empty target is junk, "a/24" is fine
		if delimiter == ':' && tkn.value == "" {
			return false
		}
	case tRedirect, tExp:
		return tkn.value != ""
	}

	return true
}

// token represents one SPF term (mechanism or modifier) as produced by
// the lexer, before mechanism parameters are interpreted.
type token struct {
	mechanism tokenType // all, include, a, mx, ptr, ip4, ip6, exists etc.
	qualifier tokenType // +, -, ~, ?, defaults to +
	key       string    // term name as written
	value     string    // parameter suffix, if any
}

func (t *token) isErr() bool {
	return t.mechanism == tErr || t.qualifier == qErr
}

func (t *token) String() string {
	if t == nil {
		return ""
	}
	if t.mechanism == tErr || t.qualifier == qErr {
		return t.value
	}
	q := t.qualifier.String()
	if t.qualifier == qPlus {
		q = ""
	}
	k := t.mechanism.String()
	if t.mechanism == tUnknownModifier {
		// preserve the original key of unknown modifiers
		k = t.key
	}
	if t.value == "" {
		return fmt.Sprintf("%s%s", q, k)
	}
	d := ":"
	if t.mechanism.isModifier() {
		d = "="
	}
	if t.value[0] == '/' {
		d = ""
	}
	return fmt.Sprintf("%s%s%s%s", q, k, d, t.value)
}

// IsKnownTermName reports whether s names a recognized mechanism or
// modifier.
func IsKnownTermName(s string) bool {
	return tokenTypeFromString(s) != tErr
}
