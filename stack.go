package spf

// frameStack tracks the chain of include/redirect target domains for
// the evaluation in progress. Loop detection is a linear scan; depth is
// bounded by the DNS-interactive term limit.
type frameStack struct {
	domains []string
}

func newFrameStack() *frameStack {
	return &frameStack{domains: make([]string, 0, 10)}
}

func (s *frameStack) push(domain string) {
	s.domains = append(s.domains, domain)
}

func (s *frameStack) pop() {
	if l := len(s.domains); l > 0 {
		s.domains = s.domains[:l-1]
	}
}

func (s *frameStack) has(domain string) bool {
	for _, d := range s.domains {
		if d == domain {
			return true
		}
	}
	return false
}
