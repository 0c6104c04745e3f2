// questd runs the quest and recurrence scheduling core as a daemon.
//
// Usage:
//
//	questd --config ./questd.yaml            # run until SIGINT/SIGTERM
//	questd --config ./questd.yaml --once expand
//	questd --config ./questd.yaml --once reconcile
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/spf13/pflag"

	"questline/internal/app"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		cfgPath string
		once    string
		timeout time.Duration
	)
	flagSet := pflag.NewFlagSet("questd", pflag.ContinueOnError)
	flagSet.StringVarP(&cfgPath, "config", "c", "./questd.yaml", "path to config (.yaml, .yml, .json or .jsonc)")
	flagSet.StringVar(&once, "once", "", "run a single pass and exit: expand | reconcile")
	flagSet.DurationVar(&timeout, "stop-timeout", 15*time.Second, "upper bound for graceful shutdown")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)

	a, err := app.NewApp(cfgPath)
	if err != nil {
		return err
	}

	if once != "" {
		go func() {
			select {
			case <-sigs:
				cancel()
			case <-ctx.Done():
			}
		}()
		runErr := a.RunOnce(ctx, once)
		stopCtx, stopCancel := context.WithTimeout(context.Background(), timeout)
		defer stopCancel()
		return errors.Join(runErr, a.Stop(stopCtx, app.StopUnknown))
	}

	if err := a.Start(ctx); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	// No-op outside systemd (NOTIFY_SOCKET unset).
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)

	reason, fatal := app.StopUnknown, false
	select {
	case sig := <-sigs:
		reason = stopReason(sig)
	case <-a.Done():
		if fatal = a.Err() != nil; fatal {
			reason = app.StopFatalError
		}
	}
	cancel()
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), timeout)
	defer stopCancel()
	stopErr := a.Stop(stopCtx, reason)
	if fatal {
		return errors.Join(a.Err(), stopErr)
	}
	return stopErr
}

func stopReason(sig os.Signal) app.StopReason {
	switch sig {
	case os.Interrupt:
		return app.StopSIGINT
	case syscall.SIGTERM:
		return app.StopSIGTERM
	default:
		return app.StopUnknown
	}
}
