package spf

import (
	"errors"
	"fmt"
	"testing"
)

func TestParseRecord(t *testing.T) {
	tests := []struct {
		text       string
		mechanisms int
		redirect   bool
		exp        bool
		unknown    int
	}{
		{"v=spf1", 0, false, false, 0},
		{"v=spf1 -all", 1, false, false, 0},
		{"V=SPF1 -all", 1, false, false, 0},
		{"v=spf1 mx -all", 2, false, false, 0},
		{"v=spf1 a a:example.com a:example.com/24 a/24 -all", 5, false, false, 0},
		{"v=spf1 ip4:192.0.2.0/24 ip6:2001:db8::/32 ~all", 3, false, false, 0},
		{"v=spf1 include:_spf.example.com ?all", 2, false, false, 0},
		{"v=spf1 exists:%{ir}.sbl.example.org -all", 2, false, false, 0},
		{"v=spf1 redirect=_spf.example.com", 0, true, false, 0},
		{"v=spf1 -all exp=explain._spf.example.com", 1, false, true, 0},
		{"v=spf1 moo.cow-far_out=macro.example.org -all", 1, false, false, 1},
		{"spf2.0/mfrom,pra mx -all", 2, false, false, 0},
		{"spf2.0/pra ~all", 1, false, false, 0},
	}

	const skipAllBut = -1
	for no, test := range tests {
		if skipAllBut != -1 && skipAllBut != no {
			continue
		}
		t.Run(fmt.Sprintf("%d_%s", no, test.text), func(t *testing.T) {
			rec, err := ParseRecord(test.text)
			if err != nil {
				t.Fatalf("ParseRecord(%q) err=%s", test.text, err)
			}
			if got := len(rec.mechanisms); got != test.mechanisms {
				t.Errorf("mechanisms = %d; want %d", got, test.mechanisms)
			}
			if got := rec.redirect != nil; got != test.redirect {
				t.Errorf("redirect = %t; want %t", got, test.redirect)
			}
			if got := rec.exp != nil; got != test.exp {
				t.Errorf("exp = %t; want %t", got, test.exp)
			}
			if got := len(rec.modifiers); got != test.unknown {
				t.Errorf("unknown modifiers = %d; want %d", got, test.unknown)
			}
		})
	}
}

func TestParseRecordErrors(t *testing.T) {
	tests := []struct {
		text string
		want error
	}{
		{"", ErrInvalidRecordVersion},
		{"v=spf1.0 -all", ErrInvalidRecordVersion},
		{"spf2.0 -all", ErrInvalidRecordVersion},
		{"spf2.0/", ErrInvalidRecordVersion},
		{"spf2.0/helo", ErrInvalidRecordVersion},
		{"spf2.0/mfrom,bogus", ErrInvalidRecordVersion},
		{"v=spf1 ip4:192.0.2.0/33 -all", ErrInvalidCIDRLength},
		{"v=spf1 ip4:2001:db8::1 -all", ErrNotIPv4},
		{"v=spf1 ip6:192.0.2.1 -all", ErrNotIPv6},
		{"v=spf1 a:example.com/badcidr -all", ErrInvalidCIDRLength},
		{"v=spf1 all:argument", ErrSyntaxError},
		{"v=spf1 include:", ErrSyntaxError},
		{"v=spf1 -redirect=example.com", ErrSyntaxError},
		{"v=spf1 redirect=a.example.com redirect=b.example.com", ErrDuplicateModifier},
		{"v=spf1 exp=a.example.com exp=b.example.com", ErrDuplicateModifier},
		{"v=spf1 moo=1 moo=2", ErrDuplicateModifier},
		{"v=spf1 exists:%{x}.example.com -all", ErrSyntaxError},
	}

	const skipAllBut = -1
	for no, test := range tests {
		if skipAllBut != -1 && skipAllBut != no {
			continue
		}
		t.Run(fmt.Sprintf("%d_%s", no, test.text), func(t *testing.T) {
			_, err := ParseRecord(test.text)
			if err == nil {
				t.Fatalf("ParseRecord(%q) parsed", test.text)
			}
			if !errors.Is(err, test.want) {
				t.Errorf("ParseRecord(%q) err=%v; want %v", test.text, err, test.want)
			}
		})
	}
}

func TestRecordScopes(t *testing.T) {
	rec, err := ParseRecord("v=spf1 -all")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Version() != Version1 {
		t.Errorf("Version() = %v; want %v", rec.Version(), Version1)
	}
	if !rec.Covers(ScopeHelo) || !rec.Covers(ScopeMailFrom) || rec.Covers(ScopePRA) {
		t.Errorf("v=spf1 scopes = %v", rec.Scopes())
	}

	rec, err = ParseRecord("spf2.0/pra -all")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Version() != Version2 {
		t.Errorf("Version() = %v; want %v", rec.Version(), Version2)
	}
	if rec.Covers(ScopeMailFrom) || !rec.Covers(ScopePRA) {
		t.Errorf("spf2.0/pra scopes = %v", rec.Scopes())
	}
}

func TestRecordStringRoundTrip(t *testing.T) {
	tests := []string{
		"v=spf1 -all",
		"v=spf1 mx -all",
		"v=spf1 a:example.com/24 ~all",
		"v=spf1 ip4:192.0.2.0/24 ip6:2001:db8::/32 ?all",
		"v=spf1 include:_spf.example.com exists:%{ir}.sbl.example.org -all",
		"v=spf1 mx redirect=_spf.example.com",
		"v=spf1 -all exp=explain._spf.example.com",
		"v=spf1 moo.cow-far_out=macro.example.org -all",
		"spf2.0/mfrom,pra mx -all",
	}
	for no, text := range tests {
		t.Run(fmt.Sprintf("%d_%s", no, text), func(t *testing.T) {
			rec, err := ParseRecord(text)
			if err != nil {
				t.Fatal(err)
			}
			if got := rec.String(); got != text {
				t.Errorf("String() = %q; want %q", got, text)
			}
		})
	}
}

func TestRecordStringNormalizesQualifiers(t *testing.T) {
	rec, err := ParseRecord("v=spf1 +mx +all")
	if err != nil {
		t.Fatal(err)
	}
	if got, want := rec.String(), "v=spf1 mx all"; got != want {
		t.Errorf("String() = %q; want %q", got, want)
	}
}
