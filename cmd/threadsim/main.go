// Command threadsim runs a behavior script on one or more thread schedulers
// and prints what happened.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"

	"github.com/b97tsk/thread/internal/cli"
	"github.com/b97tsk/thread/internal/script"
	"github.com/b97tsk/thread/internal/sim"
)

func main() {
	// Use a minimal logger until the full one is configured.
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := run(ctx, os.Stdout, os.Stderr, os.Args[1:])
	stop()
	if err != nil {
		var exitErr *cli.ExitError
		if errors.As(err, &exitErr) {
			fmt.Fprintln(os.Stderr, exitErr.Message)
			os.Exit(exitErr.Code)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// run is main without the process around it: reports go to outW, logs and
// diagnostics to errW.
func run(ctx context.Context, outW, errW io.Writer, args []string) error {
	cfg, shouldExit, err := cli.Parse(args, outW)
	if err != nil {
		return err
	}
	if shouldExit {
		return nil
	}
	logger := cli.NewLogger(cfg.LogLevel, cfg.LogFormat, errW)

	loader := script.NewLoader()
	s, diags := loader.Load(cfg.ScriptPath)
	if len(diags) != 0 {
		if err := loader.WriteDiagnostics(errW, diags); err != nil {
			return err
		}
	}
	if diags.HasErrors() {
		return &cli.ExitError{Code: 1, Message: fmt.Sprintf("%s: %d error(s) in script", cfg.ScriptPath, len(diags.Errs()))}
	}
	logger.Info("Script loaded.", "path", cfg.ScriptPath, "flows", len(s.Flows), "roots", s.RootCount())

	ctx = sim.ContextWithLogger(ctx, logger)
	reports, err := sim.RunWorlds(ctx, s, sim.Config{
		Worlds:   cfg.Worlds,
		Frames:   cfg.Frames,
		Quota:    cfg.Quota,
		Parallel: cfg.Parallel,
	}, sim.WithVerbosity(cfg.Verbosity))

	for _, r := range reports {
		fmt.Fprint(outW, r.Summary())
		if cfg.Profile && r.Profile != "" {
			fmt.Fprintf(outW, "profile:\n%s", r.Profile)
		}
	}
	return err
}
