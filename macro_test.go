package spf

import (
	"fmt"
	"net"
	"strconv"
	"testing"
	"time"
)

var (
	macroTestIP = net.ParseIP("192.0.2.3")
	macroSender = "strong-bad@email.example.com"
)

func macroTestRequest() *Request {
	return NewRequest(ScopeMailFrom, macroSender, macroTestIP, HeloIdentity("mx.example.org"))
}

func expandMacro(t *testing.T, srv *Server, req *Request, raw string, exp bool) (string, error) {
	t.Helper()
	ms, err := NewMacroString(raw)
	if err != nil {
		return "", err
	}
	return ms.Expand(srv, req, exp)
}

// TestMacroExpansionRFCExamples runs the examples of RFC 4408 section
// 8.2 for the mail-from request <strong-bad@email.example.com, 192.0.2.3>.
func TestMacroExpansionRFCExamples(t *testing.T) {
	tests := []struct {
		macro string
		want  string
	}{
		{"", ""},
		{"%{s}", "strong-bad@email.example.com"},
		{"%{o}", "email.example.com"},
		{"%{d}", "email.example.com"},
		{"%{d4}", "email.example.com"},
		{"%{d3}", "email.example.com"},
		{"%{d2}", "example.com"},
		{"%{d1}", "com"},
		{"%{dr}", "com.example.email"},
		{"%{d2r}", "example.email"},
		{"%{l}", "strong-bad"},
		{"%{l-}", "strong.bad"},
		{"%{lr}", "strong-bad"},
		{"%{lr-}", "bad.strong"},
		{"%{l1r-}", "strong"},
		{"%{h}", "mx.example.org"},
		{"%{i}", "192.0.2.3"},
		{"%{i1}", "3"},
		{"%{i100}", "192.0.2.3"},
		{"%{ir}", "3.2.0.192"},
		{"%{i2r}", "0.192"},
		{"%{ir}.%{v}._spf.%{d2}", "3.2.0.192.in-addr._spf.example.com"},
		{"%{lr-}.lp._spf.%{d2}", "bad.strong.lp._spf.example.com"},
		{"%{lr-}.lp.%{ir}.%{v}._spf.%{d2}", "bad.strong.lp.3.2.0.192.in-addr._spf.example.com"},
		{"%{ir}.%{v}.%{l1r-}.lp._spf.%{d2}", "3.2.0.192.in-addr.strong.lp._spf.example.com"},
		{"%{d2}.trusted-domains.example.net", "example.com.trusted-domains.example.net"},
		// upper-case letters URL-escape their expansion
		{"%{S}", "strong-bad%40email.example.com"},
		{"%{D}", "email.example.com"},
		{"%{Dr}", "com.example.email"},
		{"%{dR}", "com.example.email"},
		{"%{D2R}", "example.email"},
		{"%{IR}.%{V}._spf.%{D2}", "3.2.0.192.in-addr._spf.example.com"},
		// literal escapes
		{"%%matching.com", "%matching.com"},
		{"%%matching%_%%.com", "%matching %.com"},
		{"matching%-.com", "matching%20.com"},
		{"%%%%%_%-", "%% %20"},
	}

	srv := newTestServer(t)
	req := macroTestRequest()

	const skipAllBut = -1
	for no, test := range tests {
		if skipAllBut != -1 && skipAllBut != no {
			continue
		}
		t.Run(fmt.Sprintf("%d_%s", no, test.macro), func(t *testing.T) {
			got, err := expandMacro(t, srv, req, test.macro, false)
			if err != nil {
				t.Fatalf("%q err=%s", test.macro, err)
			}
			if got != test.want {
				t.Errorf("%q got=%q, want=%q", test.macro, got, test.want)
			}
		})
	}
}

func TestMacroExpansionIPv6(t *testing.T) {
	srv := newTestServer(t)
	req := NewRequest(ScopeMailFrom, macroSender, net.ParseIP("2001:db8::cb01"))

	tests := []struct {
		macro string
		want  string
	}{
		{"%{i}", "2.0.0.1.0.d.b.8.0.0.0.0.0.0.0.0.0.0.0.0.0.0.0.0.0.0.0.0.c.b.0.1"},
		{"%{ir}.%{v}._spf.%{d2}", "1.0.b.c.0.0.0.0.0.0.0.0.0.0.0.0.0.0.0.0.0.0.0.0.8.b.d.0.1.0.0.2.ip6._spf.example.com"},
	}
	for no, test := range tests {
		t.Run(fmt.Sprintf("%d_%s", no, test.macro), func(t *testing.T) {
			got, err := expandMacro(t, srv, req, test.macro, false)
			if err != nil {
				t.Fatalf("%q err=%s", test.macro, err)
			}
			if got != test.want {
				t.Errorf("%q got=%q, want=%q", test.macro, got, test.want)
			}
		})
	}
}

func TestMacroLocalPartDefaultsToPostmaster(t *testing.T) {
	srv := newTestServer(t)
	req := NewRequest(ScopeMailFrom, "example.com", macroTestIP)

	got, err := expandMacro(t, srv, req, "%{l}", false)
	if err != nil {
		t.Fatal(err)
	}
	if got != "postmaster" {
		t.Errorf("%%{l} = %q; want %q", got, "postmaster")
	}
	if got, _ := expandMacro(t, srv, req, "%{s}", false); got != "example.com" {
		t.Errorf("%%{s} = %q; want %q", got, "example.com")
	}
}

// The c, r and t macro letters are reserved for explanation text.
func TestMacroExplanationOnlyLetters(t *testing.T) {
	srv := newTestServer(t, ReceivingFQDN("mta.receiver.example"))
	req := macroTestRequest()

	for _, macro := range []string{"%{c}", "%{r}", "%{t}", "%{C}", "%{R}", "%{T}"} {
		if _, err := expandMacro(t, srv, req, macro, false); err == nil {
			t.Errorf("%q expanded outside explanation context", macro)
		}
	}

	if got, err := expandMacro(t, srv, req, "%{c}", true); err != nil || got != "192.0.2.3" {
		t.Errorf("%%{c} = %q, %v", got, err)
	}
	if got, err := expandMacro(t, srv, req, "%{r}", true); err != nil || got != "mta.receiver.example" {
		t.Errorf("%%{r} = %q, %v", got, err)
	}
	before := time.Now().UTC().Unix()
	got, err := expandMacro(t, srv, req, "%{t}", true)
	if err != nil {
		t.Fatal(err)
	}
	ts, err := strconv.ParseInt(got, 10, 64)
	if err != nil || ts < before || ts > time.Now().UTC().Unix() {
		t.Errorf("%%{t} = %q, not a current timestamp", got)
	}
}

// Without validated PTR names the p macro letter expands to "unknown".
func TestMacroValidatedDomainUnknown(t *testing.T) {
	srv := newTestServer(t)
	req := macroTestRequest()

	got, err := expandMacro(t, srv, req, "%{p}", false)
	if err != nil {
		t.Fatal(err)
	}
	if got != "unknown" {
		t.Errorf("%%{p} = %q; want %q", got, "unknown")
	}
}

func TestNewMacroStringSyntaxErrors(t *testing.T) {
	tests := []string{
		"%",
		"%a",
		"%{x}",
		"%{s",
		"%{s0}",
		"%{s129}",
		"%{}",
		"%{d2",
	}
	for no, raw := range tests {
		t.Run(fmt.Sprintf("%d_%s", no, raw), func(t *testing.T) {
			if _, err := NewMacroString(raw); err == nil {
				t.Errorf("NewMacroString(%q) parsed", raw)
			}
		})
	}
}

func TestMacroStringExpandIsIdempotent(t *testing.T) {
	srv := newTestServer(t)
	req := macroTestRequest()

	ms, err := NewMacroString("%{ir}.%{v}._spf.%{d2}")
	if err != nil {
		t.Fatal(err)
	}
	first, err := ms.Expand(srv, req, false)
	if err != nil {
		t.Fatal(err)
	}
	second, err := ms.Expand(srv, req, false)
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Errorf("repeated expansion differs: %q vs %q", first, second)
	}
	if ms.String() != "%{ir}.%{v}._spf.%{d2}" {
		t.Errorf("String() = %q, raw text lost", ms.String())
	}
}
