package spf

import (
	"fmt"
	"testing"
)

func TestTokenString(t *testing.T) {
	tests := []struct {
		tok  *token
		want string
	}{
		{&token{tAll, qPlus, "all", ""}, "all"},
		{&token{tAll, qMinus, "all", ""}, "-all"},
		{&token{tAll, qTilde, "all", ""}, "~all"},
		{&token{tAll, qQuestionMark, "all", ""}, "?all"},
		{&token{tA, qPlus, "a", "example.com"}, "a:example.com"},
		{&token{tA, qPlus, "a", "/24"}, "a/24"},
		{&token{tMX, qMinus, "mx", "example.com/24//64"}, "-mx:example.com/24//64"},
		{&token{tIP4, qPlus, "ip4", "192.0.2.0/24"}, "ip4:192.0.2.0/24"},
		{&token{tRedirect, qPlus, "redirect", "_spf.example.com"}, "redirect=_spf.example.com"},
		{&token{tExp, qPlus, "exp", "exp.example.com"}, "exp=exp.example.com"},
		{&token{tUnknownModifier, qPlus, "moo", "cow"}, "moo=cow"},
		{&token{tErr, qErr, "", "garbage:in"}, "garbage:in"},
	}

	const skipAllBut = -1
	for no, test := range tests {
		if skipAllBut != -1 && skipAllBut != no {
			continue
		}
		t.Run(fmt.Sprintf("%d_%s", no, test.want), func(t *testing.T) {
			if got := test.tok.String(); got != test.want {
				t.Errorf("token.String() = %q; want %q", got, test.want)
			}
		})
	}
}

func TestTokenStringRoundTrip(t *testing.T) {
	terms := []string{
		"all",
		"-all",
		"a:example.com",
		"a/24",
		"~mx:example.com/24",
		"ptr:example.com",
		"ip6:2001:db8::/32",
		"include:_spf.example.com",
		"exists:%{ir}.sbl.example.org",
		"redirect=_spf.example.com",
		"exp=explain._spf.example.com",
		"moo.cow-far_out=macro.example.org",
	}
	for no, term := range terms {
		t.Run(fmt.Sprintf("%d_%s", no, term), func(t *testing.T) {
			if got := scanTerm(term).String(); got != term {
				t.Errorf("scanTerm(%q).String() = %q", term, got)
			}
		})
	}
}

func TestIsKnownTermName(t *testing.T) {
	for _, name := range []string{"all", "a", "mx", "ptr", "ip4", "ip6", "include", "exists", "redirect", "exp"} {
		if !IsKnownTermName(name) {
			t.Errorf("IsKnownTermName(%q) = false", name)
		}
	}
	for _, name := range []string{"", "al", "ip", "moo"} {
		if IsKnownTermName(name) {
			t.Errorf("IsKnownTermName(%q) = true", name)
		}
	}
}
