// Package hook maps ACME client hook operations onto the challenge solver.
package hook

import (
	"context"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"

	"github.com/yuriy-kovalchuk/yk-acme-hook/internal/challenge"
	"github.com/yuriy-kovalchuk/yk-acme-hook/internal/config"
	"github.com/yuriy-kovalchuk/yk-acme-hook/internal/metrics"
)

// Hook operations handled by this hook. Every other operation is ignored.
const (
	OpDeployChallenge  = "deploy_challenge"
	OpCleanChallenge   = "clean_challenge"
	OpDeployCert       = "deploy_cert"
	OpUnchangedCert    = "unchanged_cert"
	OpInvalidChallenge = "invalid_challenge"
	OpRequestFailure   = "request_failure"
	OpExitHook         = "exit_hook"
)

// NeedsProvider reports whether operation talks to the DNS provider. Only
// those operations may fail on configuration errors.
func NeedsProvider(operation string) bool {
	return operation == OpDeployChallenge || operation == OpCleanChallenge
}

// Options wires the command tree.
type Options struct {
	Config    *config.Config
	Log       logr.Logger
	Version   string
	NewSolver SolverFactory // defaults to NewSolver
}

type runner struct {
	opts Options
	log  logr.Logger
}

// NewRootCommand builds the command tree. Arguments are passed through
// verbatim: flag parsing is disabled because token values may begin with '-'.
func NewRootCommand(opts Options) *cobra.Command {
	if opts.NewSolver == nil {
		opts.NewSolver = NewSolver
	}
	r := &runner{opts: opts, log: opts.Log.WithName("hook")}

	root := &cobra.Command{
		Use:   "yk-acme-hook OPERATION [ARGS...]",
		Short: "DNS-01 hook for ACME clients backed by Linode DNS",
		Long: `yk-acme-hook is called by an ACME client such as dehydrated. It
publishes _acme-challenge TXT records through the Linode API on
deploy_challenge, removes them on clean_challenge and ignores every
other hook operation.`,
		Args:               cobra.ArbitraryArgs,
		DisableFlagParsing: true,
		SilenceUsage:       true,
		SilenceErrors:      true,
		CompletionOptions:  cobra.CompletionOptions{DisableDefaultCmd: true},
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				switch args[0] {
				case "-h", "--help":
					return cmd.Help()
				case "--version":
					fmt.Fprintln(cmd.OutOrStdout(), opts.Version)
					return nil
				}
			}
			if len(args) > 0 {
				// Unhandled operations must be ignored silently.
				r.log.V(1).Info("ignoring hook operation", "operation", args[0])
			}
			return nil
		},
	}

	root.AddCommand(
		r.command(OpDeployChallenge, "Publish challenge TXT records and wait for propagation", r.deployChallenge),
		r.command(OpCleanChallenge, "Remove challenge TXT records", r.cleanChallenge),
		r.command(OpDeployCert, "Report a newly issued certificate", r.deployCert),
		r.command(OpUnchangedCert, "Report a certificate that is still valid", r.unchangedCert),
		r.command(OpInvalidChallenge, "Report a failed challenge", r.invalidChallenge),
		r.command(OpRequestFailure, "Report a failed ACME request", r.requestFailure),
		r.command(OpExitHook, "Report the end of the ACME client run", r.exitHook),
	)
	return root
}

func (r *runner) command(name, short string, run func(ctx context.Context, args []string) error) *cobra.Command {
	return &cobra.Command{
		Use:                name,
		Short:              short,
		Args:               cobra.ArbitraryArgs,
		DisableFlagParsing: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), args)
		},
	}
}

func (r *runner) deployChallenge(ctx context.Context, args []string) error {
	return r.solve(ctx, OpDeployChallenge, args, (*challenge.Solver).Deploy)
}

func (r *runner) cleanChallenge(ctx context.Context, args []string) error {
	return r.solve(ctx, OpCleanChallenge, args, (*challenge.Solver).Clean)
}

func (r *runner) solve(ctx context.Context, op string, args []string, fn func(*challenge.Solver, context.Context, []challenge.Challenge) error) error {
	start := time.Now()

	challenges, err := ParseChallenges(args)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	err = func() error {
		solver, err := r.opts.NewSolver(r.opts.Config, r.opts.Log)
		if err != nil {
			return err
		}
		r.log.Info("handling challenges", "operation", op, "count", len(challenges))
		return fn(solver, ctx, challenges)
	}()

	r.writeMetrics(op, len(challenges), start, err)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (r *runner) writeMetrics(op string, count int, start time.Time, opErr error) {
	dir := r.opts.Config.Metrics.TextfileDir
	if dir == "" {
		return
	}
	rec := metrics.NewRecorder()
	rec.Observe(op, count, start, opErr)
	path, err := rec.WriteTextfile(dir, op)
	if err != nil {
		r.log.Error(err, "unable to write metrics")
		return
	}
	r.log.V(1).Info("wrote metrics", "path", path)
}

func (r *runner) deployCert(_ context.Context, args []string) error {
	r.log.Info("certificate deployed", "domain", arg(args, 0), "keyfile", arg(args, 1),
		"certfile", arg(args, 2), "fullchainfile", arg(args, 3), "timestamp", arg(args, 5))
	return nil
}

func (r *runner) unchangedCert(_ context.Context, args []string) error {
	r.log.Info("certificate unchanged", "domain", arg(args, 0), "certfile", arg(args, 2))
	return nil
}

func (r *runner) invalidChallenge(_ context.Context, args []string) error {
	r.log.Error(nil, "challenge failed", "domain", arg(args, 0), "response", arg(args, 1))
	return nil
}

func (r *runner) requestFailure(_ context.Context, args []string) error {
	r.log.Error(nil, "ACME request failed", "status", arg(args, 0), "reason", arg(args, 1),
		"requestType", arg(args, 2))
	return nil
}

func (r *runner) exitHook(_ context.Context, args []string) error {
	if msg := arg(args, 0); msg != "" {
		r.log.Error(nil, "ACME client finished with errors", "error", msg)
		return nil
	}
	r.log.V(1).Info("ACME client finished")
	return nil
}
