package testutil

import (
	"net"
	"strings"
	"sync"
	"testing"

	"github.com/miekg/dns"
)

// TXTSource answers TXT lookups for a name without the trailing dot.
type TXTSource func(fqdn string) []string

// StartDNSServer runs a UDP nameserver on loopback serving TXT answers from
// src and returns its address. It is shut down when the test ends.
func StartDNSServer(t *testing.T, src TXTSource) string {
	t.Helper()

	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen udp: %v", err)
	}
	serve(t, &dns.Server{
		PacketConn: pc,
		Handler:    dns.HandlerFunc(func(w dns.ResponseWriter, r *dns.Msg) { serveTXT(w, r, src) }),
	})
	return pc.LocalAddr().String()
}

// StartTruncatingDNSServer runs a nameserver whose UDP answers are empty and
// flagged as truncated, with the full answer served over TCP on the same
// port. tcpQueries counts the TCP lookups.
func StartTruncatingDNSServer(t *testing.T, src TXTSource) (addr string, tcpQueries func() int) {
	t.Helper()

	var (
		pc  net.PacketConn
		l   net.Listener
		err error
	)
	// The kernel picks the UDP port; the TCP port may already be taken.
	for range 10 {
		if pc, err = net.ListenPacket("udp", "127.0.0.1:0"); err != nil {
			t.Fatalf("listen udp: %v", err)
		}
		if l, err = net.Listen("tcp", pc.LocalAddr().String()); err == nil {
			break
		}
		pc.Close()
	}
	if err != nil {
		t.Fatalf("listen tcp: %v", err)
	}

	var (
		mu    sync.Mutex
		count int
	)
	serve(t, &dns.Server{
		PacketConn: pc,
		Handler: dns.HandlerFunc(func(w dns.ResponseWriter, r *dns.Msg) {
			m := new(dns.Msg)
			m.SetReply(r)
			m.Truncated = true
			_ = w.WriteMsg(m)
		}),
	})
	serve(t, &dns.Server{
		Listener: l,
		Handler: dns.HandlerFunc(func(w dns.ResponseWriter, r *dns.Msg) {
			mu.Lock()
			count++
			mu.Unlock()
			serveTXT(w, r, src)
		}),
	})

	return pc.LocalAddr().String(), func() int {
		mu.Lock()
		defer mu.Unlock()
		return count
	}
}

func serve(t *testing.T, srv *dns.Server) {
	t.Helper()
	started := make(chan struct{})
	srv.NotifyStartedFunc = func() { close(started) }
	go func() {
		_ = srv.ActivateAndServe()
	}()
	<-started
	t.Cleanup(func() { _ = srv.Shutdown() })
}

func serveTXT(w dns.ResponseWriter, r *dns.Msg, src TXTSource) {
	m := new(dns.Msg)
	m.SetReply(r)
	m.Authoritative = true

	for _, q := range r.Question {
		if q.Qtype != dns.TypeTXT {
			continue
		}
		for _, v := range src(strings.TrimSuffix(strings.ToLower(q.Name), ".")) {
			m.Answer = append(m.Answer, &dns.TXT{
				Hdr: dns.RR_Header{Name: q.Name, Rrtype: dns.TypeTXT, Class: dns.ClassINET, Ttl: 60},
				Txt: []string{v},
			})
		}
	}
	if len(m.Answer) == 0 {
		m.Rcode = dns.RcodeNameError
	}
	_ = w.WriteMsg(m)
}
