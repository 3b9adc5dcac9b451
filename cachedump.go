package spf

import (
	"bytes"
	"encoding/base64"
	"encoding/json"

	"github.com/miekg/dns"

	"github.com/gitpan/Mail-SPF/z"
)

// CacheDump is a snapshot of cached DNS responses keyed by question.
// Its JSON form interleaves human-readable question comments with the
// packed, base64-encoded messages, so dumps diff cleanly and load back
// losslessly.
type CacheDump map[dns.Question]*dns.Msg

func (c CacheDump) MarshalJSON() ([]byte, error) {
	var bb bytes.Buffer

	if c == nil {
		bb.WriteString("null")
		return bb.Bytes(), nil
	}
	longestName := 0
	for q := range c {
		if len(q.Name) > longestName {
			longestName = len(q.Name)
		}
	}

	bb.WriteString("[\n")
	i := 0
	for q, msg := range c {
		if i > 0 {
			bb.WriteString(",\n")
		}

		b, err := msg.Pack()
		if err != nil {
			return nil, err
		}

		bb.WriteString(`";`)
		bb.WriteString(q.Name)
		bb.Write(bytes.Repeat([]byte{' '}, longestName-len(q.Name)))
		bb.WriteByte(' ')
		bb.WriteString(dns.Class(q.Qclass).String())
		bb.WriteByte(' ')
		typ := dns.Type(q.Qtype).String()
		bb.WriteString(typ)
		bb.WriteString(`", `)
		bb.Write(bytes.Repeat([]byte{' '}, 4-len(typ)))
		bb.WriteByte('"')
		bb.WriteString(base64.StdEncoding.EncodeToString(b))
		bb.WriteByte('"')
		i++
	}
	if i > 0 {
		bb.WriteByte('\n')
	}
	bb.WriteByte(']')
	return bb.Bytes(), nil
}

func (c *CacheDump) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}

	var values []string
	if err := json.Unmarshal(b, &values); err != nil {
		return err
	}
	m := make(map[dns.Question]*dns.Msg)
	for _, v := range values {
		if len(v) > 0 && v[0] == ';' {
			// question comment
			continue
		}
		b, err := base64.StdEncoding.DecodeString(v)
		if err != nil {
			return err
		}
		msg := new(dns.Msg)
		if err := msg.Unpack(b); err != nil {
			return err
		}
		m[msg.Question[0]] = msg
	}
	*c = CacheDump(m)
	return nil
}

// UnloadTo preloads a resolver cache with the dumped responses, using
// the same TTL rules as live responses.
func (c CacheDump) UnloadTo(cache z.Cache) {
	if cache == nil {
		return
	}
	r := &MiekgDNSResolver{cache: cache}
	for _, msg := range c {
		r.CacheResponse(msg)
	}
}
