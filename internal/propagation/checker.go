// Package propagation waits until nameservers serve a challenge TXT value.
package propagation

import (
	"context"
	"fmt"
	"net"
	"slices"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/miekg/dns"
	"k8s.io/apimachinery/pkg/util/wait"
)

const defaultQueryTimeout = 3 * time.Second

// Checker queries a fixed set of nameservers for TXT records.
type Checker struct {
	Nameservers  []string
	Timeout      time.Duration
	Interval     time.Duration
	QueryTimeout time.Duration
	Log          logr.Logger
}

// NewChecker returns a Checker with port 53 added to bare nameserver hosts.
func NewChecker(log logr.Logger, nameservers []string, timeout, interval time.Duration) *Checker {
	addrs := make([]string, 0, len(nameservers))
	for _, ns := range nameservers {
		addrs = append(addrs, withPort(ns))
	}
	return &Checker{
		Nameservers:  addrs,
		Timeout:      timeout,
		Interval:     interval,
		QueryTimeout: defaultQueryTimeout,
		Log:          log,
	}
}

func withPort(ns string) string {
	if _, _, err := net.SplitHostPort(ns); err == nil {
		return ns
	}
	return net.JoinHostPort(strings.Trim(ns, "[]"), "53")
}

// Visible reports whether every nameserver answers fqdn with value.
func (c *Checker) Visible(ctx context.Context, fqdn, value string) (bool, error) {
	for _, ns := range c.Nameservers {
		values, err := c.LookupTXT(ctx, fqdn, ns)
		if err != nil {
			return false, err
		}
		if !slices.Contains(values, value) {
			c.Log.V(1).Info("value not served yet", "fqdn", fqdn, "nameserver", ns, "values", len(values))
			return false, nil
		}
	}
	return true, nil
}

// LookupTXT returns the TXT strings served for fqdn by one nameserver.
// Multi-string TXT records are joined. NXDOMAIN is an empty answer.
func (c *Checker) LookupTXT(ctx context.Context, fqdn, nameserver string) ([]string, error) {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(fqdn), dns.TypeTXT)
	m.RecursionDesired = true

	qt := c.QueryTimeout
	if qt <= 0 {
		qt = defaultQueryTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, qt)
	defer cancel()

	in, _, err := (&dns.Client{Net: "udp"}).ExchangeContext(ctx, m, nameserver)
	if err == nil && in.Truncated {
		in, _, err = (&dns.Client{Net: "tcp"}).ExchangeContext(ctx, m, nameserver)
	}
	if err != nil {
		return nil, fmt.Errorf("propagation: query %s at %s: %w", fqdn, nameserver, err)
	}
	if in.Rcode != dns.RcodeSuccess && in.Rcode != dns.RcodeNameError {
		return nil, fmt.Errorf("propagation: query %s at %s: %s", fqdn, nameserver, dns.RcodeToString[in.Rcode])
	}

	var values []string
	for _, rr := range in.Answer {
		if txt, ok := rr.(*dns.TXT); ok {
			values = append(values, strings.Join(txt.Txt, ""))
		}
	}
	return values, nil
}

// Wait polls Visible every Interval until the value is served or Timeout
// elapses. Query errors are logged and polled again.
func (c *Checker) Wait(ctx context.Context, fqdn, value string) error {
	start := time.Now()
	err := wait.PollUntilContextTimeout(ctx, c.Interval, c.Timeout, true, func(ctx context.Context) (bool, error) {
		ok, err := c.Visible(ctx, fqdn, value)
		if err != nil {
			c.Log.V(1).Info("propagation check failed", "fqdn", fqdn, "error", err.Error())
			return false, nil
		}
		return ok, nil
	})
	if err != nil {
		return fmt.Errorf("propagation: %s not served by all nameservers within %s: %w", fqdn, c.Timeout, err)
	}
	c.Log.Info("record propagated", "fqdn", fqdn, "elapsed", time.Since(start).Round(time.Second).String())
	return nil
}
