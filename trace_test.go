package spf

import (
	"errors"
	"net"
	"testing"
)

func TestTraceReceivedSPF(t *testing.T) {
	tests := []struct {
		name  string
		trace *Trace
		want  string
	}{
		{
			"nil", nil, "",
		},
		{
			"pass",
			&Trace{
				Result:       Pass,
				ClientIP:     net.ParseIP("192.0.2.1"),
				Scope:        ScopeMailFrom,
				Helo:         "foo.example.com",
				EnvelopeFrom: "myname@example.com",
				Receiver:     "mybox.example.org",
				Mechanism:    "ip4:192.0.2.0/24",
			},
			"pass (mybox.example.org: domain of myname@example.com designates 192.0.2.1 as permitted sender)" +
				" client-ip=192.0.2.1; identity=mfrom; helo=foo.example.com;" +
				" envelope-from=myname@example.com; receiver=mybox.example.org; mechanism=ip4:192.0.2.0/24",
		},
		{
			"fail_with_explanation",
			&Trace{
				Result:      Fail,
				Explanation: "denied for 198.51.100.7",
				ClientIP:    net.ParseIP("198.51.100.7"),
				Scope:       ScopeMailFrom,
			},
			"fail (denied for 198.51.100.7) client-ip=198.51.100.7; identity=mfrom",
		},
		{
			"temperror_with_problem",
			&Trace{
				Result:  Temperror,
				Problem: errors.New("DNS timeout"),
			},
			"temperror (a transient error has occurred) problem=DNS timeout",
		},
		{
			"none",
			&Trace{
				Result:       None,
				EnvelopeFrom: "x@example.com",
			},
			"none (domain of x@example.com does not have an SPF record or the SPF record does not evaluate to a result)" +
				" envelope-from=x@example.com",
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := test.trace.ReceivedSPF(); got != test.want {
				t.Errorf("ReceivedSPF()\n got: %q\nwant: %q", got, test.want)
			}
		})
	}
}
