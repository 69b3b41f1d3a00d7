package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-logr/logr"

	"github.com/yuriy-kovalchuk/yk-acme-hook/internal/config"
	"github.com/yuriy-kovalchuk/yk-acme-hook/internal/hook"
	"github.com/yuriy-kovalchuk/yk-acme-hook/internal/logging"
)

var Version = "dev"

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdout, stderr io.Writer) error {
	cfg, log, setupErr := setup(stderr)
	if setupErr != nil {
		if len(args) > 0 && hook.NeedsProvider(args[0]) {
			return setupErr
		}
		// Operations that never reach the provider must not fail the
		// ACME client run over a bad setting.
		cfg = config.Default()
		var err error
		if log, err = logging.New(cfg.Logging, stderr); err != nil {
			return err
		}
		log.V(1).Info("setup failed, using defaults", "error", setupErr.Error())
	}
	log.V(1).Info("starting yk-acme-hook", "version", Version, "provider", cfg.Provider)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := hook.NewRootCommand(hook.Options{
		Config:  cfg,
		Log:     log,
		Version: Version,
	})
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	return root.ExecuteContext(ctx)
}

func setup(stderr io.Writer) (*config.Config, logr.Logger, error) {
	if err := config.LoadEnvFile(); err != nil {
		return nil, logr.Logger{}, err
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, logr.Logger{}, fmt.Errorf("unable to load config: %w", err)
	}

	log, err := logging.New(cfg.Logging, stderr)
	if err != nil {
		return nil, logr.Logger{}, fmt.Errorf("unable to set up logging: %w", err)
	}
	return cfg, log, nil
}
