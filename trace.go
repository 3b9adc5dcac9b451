package spf

import (
	"fmt"
	"net"
	"strings"
)

// Trace holds the data of a "Received-SPF" header field as described
// by RFC 4408 section 7.
type Trace struct {
	Result       Result `json:"result"`                 // the result
	Explanation  string `json:"exp,omitempty"`          // supporting information for the result
	ClientIP     net.IP `json:"clientIp,omitempty"`     // the IP address of the SMTP client
	Scope        Scope  `json:"scope,omitempty"`        // the identity that was checked
	Helo         string `json:"helo,omitempty"`         // the host name given in the HELO or EHLO command
	EnvelopeFrom string `json:"envelopeFrom,omitempty"` // the envelope sender mailbox
	Problem      error  `json:"problem,omitempty"`      // if an error was returned, details about the error
	Receiver     string `json:"receiver,omitempty"`     // the host name of the SPF verifier
	Mechanism    string `json:"mechanism,omitempty"`    // the mechanism that matched
}

// ReceivedSPF renders the header field body: the result, a comment,
// then the key-value pairs.
func (r *Trace) ReceivedSPF() string {
	// TODO wrap the result to the 78 character line limit of RFC 5322
	if r == nil {
		return ""
	}
	var b strings.Builder

	b.WriteString(r.Result.String())
	b.WriteString(" (")
	if r.Explanation != "" {
		b.WriteString(r.Explanation)
	} else {
		r.writeComment(&b)
	}
	b.WriteByte(')')

	var scol bool
	writeKV := func(k, v string) {
		if v == "" {
			return
		}
		if scol {
			b.WriteByte(';')
		}
		scol = true
		b.WriteByte(' ')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(v)
	}

	if r.ClientIP != nil {
		writeKV("client-ip", r.ClientIP.String())
	}
	if r.Problem != nil {
		writeKV("problem", r.Problem.Error())
	}
	if r.Scope != 0 {
		writeKV("identity", r.Scope.String())
	}
	writeKV("helo", r.Helo)
	writeKV("envelope-from", r.EnvelopeFrom)
	writeKV("receiver", r.Receiver)
	writeKV("mechanism", r.Mechanism)
	return b.String()
}

// writeComment writes the default comment used when no explanation is
// available, e.g. "mybox.example.org: domain of myname@example.com
// designates 192.0.2.1 as permitted sender".
func (r *Trace) writeComment(b *strings.Builder) {
	if r.Receiver != "" {
		b.WriteString(r.Receiver)
		b.WriteString(": ")
	}
	sender := "sender"
	if r.EnvelopeFrom != "" {
		sender = r.EnvelopeFrom
	}
	host := "the host"
	if r.ClientIP != nil {
		host = r.ClientIP.String()
	}
	switch r.Result {
	case Pass:
		fmt.Fprintf(b, "domain of %s designates %s as permitted sender", sender, host)
	case Fail:
		fmt.Fprintf(b, "domain of %s does not designate %s as permitted sender", sender, host)
	case Softfail:
		fmt.Fprintf(b, "domain of %s does not designate %s as permitted sender but is in transition", sender, host)
	case Neutral:
		b.WriteString("nothing can be said about validity")
	case None:
		fmt.Fprintf(b, "domain of %s does not have an SPF record or the SPF record does not evaluate to a result", sender)
	case Permerror:
		b.WriteString("a permanent error has occurred")
	case Temperror:
		b.WriteString("a transient error has occurred")
	}
}
