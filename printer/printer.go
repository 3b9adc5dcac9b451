// Package printer traces SPF evaluations to a writer. A Printer is
// both a spf.Listener and a spf.Resolver wrapper, so the evaluation
// steps and the DNS queries they cause interleave in the output,
// indented by check_host() nesting depth.
package printer

import (
	"fmt"
	"io"
	"net"
	"strings"
	"sync"

	"github.com/miekg/dns"

	spf "github.com/gitpan/Mail-SPF"
)

func New(w io.Writer, r spf.Resolver) *Printer {
	return &Printer{
		w: w,
		r: r,
	}
}

type Printer struct {
	sync.Mutex
	w io.Writer
	c int
	r spf.Resolver
}

func (p *Printer) indent() string { return strings.Repeat("  ", p.c) }

func (p *Printer) CheckHost(ip net.IP, domain, sender string) {
	p.Lock()
	defer p.Unlock()
	fmt.Fprintf(p.w, "%sCHECK_HOST(%q, %q, %q)\n", p.indent(), ip, domain, sender)
	p.c++
}

func (p *Printer) CheckHostResult(r spf.Result, explanation string, err error) {
	p.Lock()
	defer p.Unlock()
	if p.c > 0 {
		p.c--
	}
	fmt.Fprintf(p.w, "%s= %s, %q, %v\n", p.indent(), r, explanation, err)
}

func (p *Printer) SPFRecord(domain, record string) {
	p.Lock()
	defer p.Unlock()
	fmt.Fprintf(p.w, "%sSPF[%s]: %s\n", p.indent(), domain, record)
}

func (p *Printer) Directive(qualifier, mechanism, value string) {
	p.Lock()
	defer p.Unlock()
	if qualifier == "+" {
		qualifier = ""
	}
	fmt.Fprintf(p.w, "%s%s%s", p.indent(), qualifier, mechanism)
	if value != "" {
		d := ":"
		if value[0] == '/' {
			d = ""
		}
		fmt.Fprintf(p.w, "%s%s", d, value)
	}
	fmt.Fprintln(p.w)
}

func (p *Printer) NonMatch(term string) {}

func (p *Printer) Match(term string, r spf.Result, explanation string) {
	p.Lock()
	defer p.Unlock()
	fmt.Fprintf(p.w, "%smatch %s = %s %q\n", p.indent(), term, r, explanation)
}

// Send implements spf.Resolver, logging the query before forwarding it.
func (p *Printer) Send(name string, qtype uint16) (*dns.Msg, error) {
	p.Lock()
	fmt.Fprintf(p.w, "%s  lookup(%s) %s\n", p.indent(), dns.Type(qtype), name)
	p.Unlock()
	return p.r.Send(name, qtype)
}
