// Package testing provides an in-process DNS server for exercising the
// policy engine against fixture zones, including SPF RR (type 99)
// responses.
package testing

import (
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/miekg/dns"
)

// StartDNSServer starts a DNS server on laddr and blocks until it
// accepts queries. Handlers are registered through dns.HandleFunc.
func StartDNSServer(network string, laddr string) (*dns.Server, error) {
	pc, err := net.ListenPacket(network, laddr)
	if err != nil {
		return nil, err
	}
	server := &dns.Server{PacketConn: pc, ReadTimeout: time.Second, WriteTimeout: time.Second}

	waitLock := sync.Mutex{}
	waitLock.Lock()
	server.NotifyStartedFunc = waitLock.Unlock

	go func() {
		_ = server.ActivateAndServe()
		_ = pc.Close()
	}()

	waitLock.Lock()
	return server, nil
}

// RootZone answers the root SOA and NXDOMAIN for everything else. It
// is the catch-all handler for names no fixture zone covers.
func RootZone(w dns.ResponseWriter, req *dns.Msg) {
	m := new(dns.Msg)
	switch req.Question[0].Name {
	case ".":
		m.SetReply(req)
		rr, _ := dns.NewRR(". 0 IN SOA a.root-servers.net. nstld.verisign-grs.com. 2016110600 1800 900 604800 86400")
		m.Ns = []dns.RR{rr}
	default:
		m.SetRcode(req, dns.RcodeNameError)
	}
	_ = w.WriteMsg(m)
}

// WithDelay delays a handler's response, for driving client timeouts.
func WithDelay(f func(dns.ResponseWriter, *dns.Msg), d time.Duration) func(dns.ResponseWriter, *dns.Msg) {
	return func(writer dns.ResponseWriter, msg *dns.Msg) {
		time.Sleep(d)
		f(writer, msg)
	}
}

// Rcode answers every query with the given rcode and no records.
func Rcode(rcode int) func(dns.ResponseWriter, *dns.Msg) {
	return func(w dns.ResponseWriter, req *dns.Msg) {
		m := new(dns.Msg)
		m.SetRcode(req, rcode)
		_ = w.WriteMsg(m)
	}
}

// Zone serves the given records, keyed by query type and filtered by
// owner name. Records are in presentation format, e.g.
//
//	dns.TypeTXT: {`example.com. 0 IN TXT "v=spf1 -all"`}
//	dns.TypeSPF: {`example.com. 0 IN SPF "v=spf1 mx -all"`}
func Zone(zone map[uint16][]string) func(dns.ResponseWriter, *dns.Msg) {
	return func(w dns.ResponseWriter, req *dns.Msg) {
		m := new(dns.Msg)
		m.SetReply(req)

		rr, ok := zone[req.Question[0].Qtype]
		if !ok {
			_ = w.WriteMsg(m)
			return
		}
		m.Answer = make([]dns.RR, 0, len(rr))
		for _, r := range rr {
			if !strings.HasPrefix(strings.ToLower(r), strings.ToLower(req.Question[0].Name)) {
				continue
			}
			a, err := dns.NewRR(r)
			if err != nil {
				fmt.Printf("unable to prepare dns response: %s\n", err)
				continue
			}
			m.Answer = append(m.Answer, a)
		}
		_ = w.WriteMsg(m)
	}
}
