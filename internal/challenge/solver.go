// Package challenge publishes and removes DNS-01 challenge TXT records.
package challenge

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"

	"github.com/yuriy-kovalchuk/yk-acme-hook/internal/config"
	"github.com/yuriy-kovalchuk/yk-acme-hook/internal/dns"
)

// Challenge is one DNS-01 challenge as handed over by the ACME client.
type Challenge struct {
	Domain        string
	TokenFilename string
	Value         string
}

// FQDN returns the name the TXT record is published under.
func (c Challenge) FQDN() string {
	return dns.ChallengeFQDN(c.Domain)
}

// Checker waits for a published value to be served.
type Checker interface {
	Wait(ctx context.Context, fqdn, value string) error
}

// Solver manages challenge records through a dns.Provider. A nil Checker
// skips propagation waits.
type Solver struct {
	Provider dns.Provider
	Checker  Checker
	Zones    *config.ZoneMap
	Log      logr.Logger
}

func (s *Solver) record(fqdn, value string) dns.Record {
	r := dns.Record{
		Hostname: dns.Normalize(fqdn),
		Type:     dns.RecordTypeTXT,
		Value:    value,
	}
	if zone, ok := s.Zones.LookupZone(r.Hostname); ok {
		r.Meta = map[string]string{"zone": zone}
	}
	return r
}

// Present publishes value under fqdn unless that exact record already exists.
func (s *Solver) Present(ctx context.Context, fqdn, value string) error {
	_, err := s.present(ctx, fqdn, value)
	return err
}

// present reports whether it created the record.
func (s *Solver) present(ctx context.Context, fqdn, value string) (bool, error) {
	r := s.record(fqdn, value)

	exists, err := s.Provider.Exists(ctx, r)
	if err != nil {
		return false, fmt.Errorf("checking TXT record for %s: %w", r.Hostname, err)
	}
	if exists {
		s.Log.V(1).Info("TXT record already exists, skipping", "fqdn", r.Hostname)
		return false, nil
	}
	if err := s.Provider.Create(ctx, r); err != nil {
		return false, fmt.Errorf("creating TXT record for %s: %w", r.Hostname, err)
	}
	s.Log.Info("created TXT record", "fqdn", r.Hostname)
	return true, nil
}

// Wait blocks until value is served under fqdn.
func (s *Solver) Wait(ctx context.Context, fqdn, value string) error {
	if s.Checker == nil {
		return nil
	}
	return s.Checker.Wait(ctx, dns.Normalize(fqdn), value)
}

// CleanUp removes the TXT record holding value under fqdn. A missing record
// is reported as an error wrapping dns.ErrRecordNotFound.
func (s *Solver) CleanUp(ctx context.Context, fqdn, value string) error {
	r := s.record(fqdn, value)
	if err := s.Provider.Delete(ctx, r); err != nil {
		return fmt.Errorf("deleting TXT record for %s: %w", r.Hostname, err)
	}
	s.Log.Info("deleted TXT record", "fqdn", r.Hostname)
	return nil
}

// Deploy presents every challenge concurrently, then waits for all of them
// to propagate. The first failure cancels the remaining work and removes the
// records this call created, since the ACME client does not run
// clean_challenge after a failed deploy.
func (s *Solver) Deploy(ctx context.Context, challenges []Challenge) error {
	var (
		mu      sync.Mutex
		created []Challenge
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, c := range challenges {
		g.Go(func() error {
			ok, err := s.present(gctx, c.FQDN(), c.Value)
			if ok {
				mu.Lock()
				created = append(created, c)
				mu.Unlock()
			}
			return err
		})
	}
	if err := g.Wait(); err != nil {
		s.rollback(ctx, created)
		return err
	}
	s.Log.Info("all records deployed, waiting for propagation", "count", len(challenges))

	g, gctx = errgroup.WithContext(ctx)
	for _, c := range challenges {
		g.Go(func() error {
			return s.Wait(gctx, c.FQDN(), c.Value)
		})
	}
	if err := g.Wait(); err != nil {
		s.rollback(ctx, created)
		return err
	}
	s.Log.Info("all records confirmed as available", "count", len(challenges))
	return nil
}

// rollback removes records created by a failed Deploy. Records it cannot
// remove are logged so they can be cleaned up by hand.
func (s *Solver) rollback(ctx context.Context, created []Challenge) {
	if len(created) == 0 {
		return
	}
	ctx = context.WithoutCancel(ctx)

	var left []string
	for _, c := range created {
		if err := s.CleanUp(ctx, c.FQDN(), c.Value); err != nil {
			s.Log.Error(err, "unable to remove TXT record after failed deploy", "domain", c.Domain)
			left = append(left, c.FQDN()+"="+c.Value)
		}
	}
	if len(left) > 0 {
		s.Log.Error(nil, "TXT records left behind after failed deploy", "records", left)
		return
	}
	s.Log.Info("removed TXT records of failed deploy", "count", len(created))
}

// Clean removes every challenge record, carrying on past failures. All
// failures are returned together.
func (s *Solver) Clean(ctx context.Context, challenges []Challenge) error {
	var errs []error
	for _, c := range challenges {
		if err := s.CleanUp(ctx, c.FQDN(), c.Value); err != nil {
			s.Log.Error(err, "cleanup failed", "domain", c.Domain)
			errs = append(errs, err)
		}
	}
	return utilerrors.NewAggregate(errs)
}
