package sim

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/b97tsk/thread/internal/script"
)

type loggerKey struct{}

// ContextWithLogger returns a copy of ctx that carries logger.
func ContextWithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// Logger returns the logger carried by ctx, or [slog.Default].
func Logger(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}

// Config controls how [RunWorlds] runs worlds.
type Config struct {
	Worlds   int           // number of worlds; at least one is run
	Frames   int           // passes per world; 0 runs until idle
	Quota    time.Duration // quota of each pass
	Parallel int           // worlds running at once; 0 means no limit
}

// RunWorlds runs cfg.Worlds independent worlds of s concurrently, each on
// its own goroutine with its own scheduler, and returns their reports in
// order.
//
// If one world fails to run, the context of all the others is canceled;
// the reports of every world are returned anyway, along with the first
// error.
func RunWorlds(ctx context.Context, s *script.Script, cfg Config, opts ...Option) ([]Report, error) {
	n := max(cfg.Worlds, 1)
	logger := Logger(ctx)
	logger.Debug("Running worlds.", "worlds", n, "frames", cfg.Frames, "quota", cfg.Quota)

	reports := make([]Report, n)
	g, ctx := errgroup.WithContext(ctx)
	if cfg.Parallel > 0 {
		g.SetLimit(cfg.Parallel)
	}
	for i := range n {
		g.Go(func() error {
			w := NewWorld(s, append(slices.Clip(opts), WithName(fmt.Sprintf("world-%d", i+1)))...)
			r, err := w.Run(ctx, cfg.Frames, cfg.Quota)
			reports[i] = r
			return err
		})
	}
	err := g.Wait()
	logger.Debug("Worlds finished.", "worlds", n, "err", err)
	return reports, err
}
