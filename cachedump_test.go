package spf

import (
	"encoding/json"
	"testing"

	"github.com/miekg/dns"
	"github.com/outcaste-io/ristretto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gitpan/Mail-SPF/z"
)

func testMsg(t *testing.T, name string, qtype uint16, rrs ...string) *dns.Msg {
	t.Helper()
	m := new(dns.Msg)
	m.SetQuestion(name, qtype)
	m.Response = true
	for _, s := range rrs {
		rr, err := dns.NewRR(s)
		require.NoError(t, err)
		m.Answer = append(m.Answer, rr)
	}
	return m
}

func TestCacheDumpRoundTrip(t *testing.T) {
	txt := testMsg(t, "example.com.", dns.TypeTXT, `example.com. 30 IN TXT "v=spf1 -all"`)
	spf := testMsg(t, "example.com.", dns.TypeSPF, `example.com. 30 IN SPF "v=spf1 mx -all"`)

	dump := CacheDump{
		txt.Question[0]: txt,
		spf.Question[0]: spf,
	}

	b, err := json.Marshal(dump)
	require.NoError(t, err)

	var got CacheDump
	require.NoError(t, json.Unmarshal(b, &got))
	require.Len(t, got, 2)

	for q, want := range dump {
		msg, ok := got[q]
		require.True(t, ok, "question %v lost", q)
		assert.Equal(t, want.Question, msg.Question)
		require.Len(t, msg.Answer, 1)
		assert.Equal(t, want.Answer[0].String(), msg.Answer[0].String())
	}
}

func TestCacheDumpNull(t *testing.T) {
	var dump CacheDump

	b, err := json.Marshal(dump)
	require.NoError(t, err)
	assert.Equal(t, "null", string(b))

	var got CacheDump
	require.NoError(t, json.Unmarshal([]byte("null"), &got))
	assert.Nil(t, got)
}

func TestCacheDumpUnloadTo(t *testing.T) {
	txt := testMsg(t, "unload.example.com.", dns.TypeTXT, `unload.example.com. 30 IN TXT "v=spf1 -all"`)
	dump := CacheDump{txt.Question[0]: txt}

	cache := z.MustRistrettoCache(&ristretto.Config{
		NumCounters: 100,
		MaxCost:     1 << 20,
		BufferItems: 64,
		KeyToHash:   z.QuestionToHash,
		Cost:        z.MsgCost,
	})
	dump.UnloadTo(cache)
	cache.Wait()

	v, found := cache.Get(txt.Question[0])
	require.True(t, found)
	assert.Equal(t, txt.Answer[0].String(), v.(*dns.Msg).Answer[0].String())
}
