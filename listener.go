package spf

import (
	"net"
)

// Listener observes the steps of an evaluation. All methods are called
// synchronously from Process; implementations must not block.
type Listener interface {
	// CheckHost fires when a root evaluation starts.
	CheckHost(ip net.IP, domain, sender string)
	// CheckHostResult fires when the root evaluation completes.
	CheckHostResult(r Result, explanation string, err error)
	// SPFRecord fires for every record selected for evaluation,
	// including those of include and redirect targets.
	SPFRecord(domain, record string)
	// Directive fires before a mechanism is evaluated.
	Directive(qualifier, mechanism, value string)
	// NonMatch fires when a mechanism was evaluated and did not match.
	NonMatch(term string)
	// Match fires for the matching mechanism that decided the record.
	Match(term string, r Result, explanation string)
}
