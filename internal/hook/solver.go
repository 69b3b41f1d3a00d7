package hook

import (
	"fmt"

	"github.com/go-logr/logr"

	"github.com/yuriy-kovalchuk/yk-acme-hook/internal/challenge"
	"github.com/yuriy-kovalchuk/yk-acme-hook/internal/config"
	"github.com/yuriy-kovalchuk/yk-acme-hook/internal/dns"
	_ "github.com/yuriy-kovalchuk/yk-acme-hook/internal/dns/providers"
	"github.com/yuriy-kovalchuk/yk-acme-hook/internal/propagation"
)

// SolverFactory builds the Solver used by the challenge operations.
type SolverFactory func(cfg *config.Config, log logr.Logger) (*challenge.Solver, error)

// NewSolver creates the configured DNS provider and propagation checker.
func NewSolver(cfg *config.Config, log logr.Logger) (*challenge.Solver, error) {
	provider, err := dns.NewProvider(cfg.Provider, log.WithName("dns-"+cfg.Provider), cfg.Settings)
	if err != nil {
		return nil, fmt.Errorf("unable to create DNS provider: %w", err)
	}

	s := &challenge.Solver{
		Provider: provider,
		Zones:    cfg.ZoneMap(),
		Log:      log.WithName("challenge"),
	}
	if !cfg.Propagation.Disabled {
		s.Checker = propagation.NewChecker(log.WithName("propagation"),
			cfg.Propagation.Nameservers, cfg.Propagation.Timeout, cfg.Propagation.Interval)
	}
	return s, nil
}
