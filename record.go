package spf

import (
	"strings"

	"github.com/gitpan/Mail-SPF/spferr"
)

// modifier is an unknown (non-redirect, non-exp) modifier, retained
// verbatim so that records round-trip through String.
type modifier struct {
	key   string
	value *MacroString
	tok   *token
}

// Record is a parsed SPF policy record: an ordered list of mechanisms
// plus the redirect and exp modifiers, if present.
type Record struct {
	version    Version
	scopes     []Scope
	mechanisms []*mechanism
	redirect   *MacroString
	exp        *MacroString
	modifiers  []*modifier

	tokens []*token
}

// Version reports the record version declared by the version tag.
func (r *Record) Version() Version { return r.version }

// Scopes reports the scopes the record covers: helo and mfrom for
// "v=spf1" records, the listed scopes for "spf2.0" records.
func (r *Record) Scopes() []Scope { return r.scopes }

// Covers reports whether the record applies to the given scope.
func (r *Record) Covers(scope Scope) bool {
	for _, sc := range r.scopes {
		if sc == scope {
			return true
		}
	}
	return false
}

func (r *Record) versionTag() string {
	if r.version != Version2 {
		return "v=spf1"
	}
	names := make([]string, len(r.scopes))
	for i, sc := range r.scopes {
		names[i] = sc.String()
	}
	return "spf2.0/" + strings.Join(names, ",")
}

// String renders the record in its canonical form: the version tag
// followed by each term, "+" qualifiers omitted and unknown modifiers
// preserved under their original names.
func (r *Record) String() string {
	parts := make([]string, 0, len(r.tokens)+1)
	parts = append(parts, r.versionTag())
	for _, tok := range r.tokens {
		parts = append(parts, tok.String())
	}
	return strings.Join(parts, " ")
}

// parseVersionTag inspects the first whitespace-delimited token of a
// candidate record. Text not starting with a well-formed version tag is
// not an SPF record at all and is skipped during record selection; this
// is distinct from a tagged record whose terms fail to parse.
func parseVersionTag(text string) (Version, []Scope, string, error) {
	tag, rest := text, ""
	if i := strings.IndexAny(text, " \t"); i >= 0 {
		tag, rest = text[:i], text[i+1:]
	}
	lower := strings.ToLower(tag)
	switch {
	case lower == "v=spf1":
		return Version1, []Scope{ScopeHelo, ScopeMailFrom}, rest, nil
	case strings.HasPrefix(lower, "spf2.0/"):
		var scopes []Scope
		for _, name := range strings.Split(lower[len("spf2.0/"):], ",") {
			sc, ok := ScopeFromString(name)
			if !ok || sc == ScopeHelo {
				return 0, nil, "", newSpfError(spferr.KindValidation, tag, ErrInvalidRecordVersion)
			}
			scopes = append(scopes, sc)
		}
		return Version2, scopes, rest, nil
	default:
		return 0, nil, "", newSpfError(spferr.KindValidation, tag, ErrInvalidRecordVersion)
	}
}

// ParseRecord parses the full text of an SPF record, version tag
// included. Any malformed term, an unrecognized mechanism name, or a
// repeated modifier name makes the whole record invalid.
func ParseRecord(text string) (*Record, error) {
	version, scopes, rest, err := parseVersionTag(text)
	if err != nil {
		return nil, err
	}
	r := &Record{version: version, scopes: scopes}

	seen := make(map[string]struct{})
	for _, tok := range lex(rest) {
		if tok.isErr() {
			return nil, syntaxError(tok.String(), ErrSyntaxError)
		}

		switch {
		case tok.mechanism.isMechanism():
			m, err := parseMechanism(tok)
			if err != nil {
				return nil, err
			}
			r.mechanisms = append(r.mechanisms, m)

		default:
			name := strings.ToLower(tok.key)
			if name == "" {
				name = tok.mechanism.String()
			}
			if _, dup := seen[name]; dup {
				return nil, syntaxError(tok.String(), ErrDuplicateModifier)
			}
			seen[name] = struct{}{}

			ms, err := NewMacroString(tok.value)
			if err != nil {
				return nil, syntaxError(tok.String(), err)
			}
			switch tok.mechanism {
			case tRedirect:
				r.redirect = ms
			case tExp:
				r.exp = ms
			default:
				r.modifiers = append(r.modifiers, &modifier{key: tok.key, value: ms, tok: tok})
			}
		}

		r.tokens = append(r.tokens, tok)
	}

	return r, nil
}
