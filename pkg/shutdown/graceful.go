package shutdown

import (
	"context"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/cockroachdb/errors"

	"github.com/juniormsyoka/med-assistant-front-sub000/pkg/logger"
)

// Step is one named stage of an ordered shutdown.
type Step struct {
	Name string
	Fn   func(ctx context.Context) error
}

// Run executes steps in order. A failing step is logged and does not stop
// the ones after it; the errors are combined into the returned error. Steps
// not yet started when ctx expires are skipped.
func Run(ctx context.Context, steps ...Step) error {
	logger.Info("shutdown_requested", "steps", len(steps))
	var errs error
	for _, s := range steps {
		if s.Fn == nil {
			continue
		}
		if err := ctx.Err(); err != nil {
			logger.Error("shutdown_step_skipped", "step", s.Name, "error", err)
			errs = errors.CombineErrors(errs, errors.Wrapf(err, "shutdown %s", s.Name))
			continue
		}
		logger.Info("shutdown_step", "step", s.Name)
		if err := s.Fn(ctx); err != nil {
			logger.Error("shutdown_step_failed", "step", s.Name, "error", err)
			errs = errors.CombineErrors(errs, errors.Wrapf(err, "shutdown %s", s.Name))
		}
	}
	logger.Info("shutdown_complete")
	return errs
}

// SetupSignalHandler installs handlers for SIGINT/SIGTERM and SIGPIPE and
// returns a context cancelled when any of them arrives.
func SetupSignalHandler(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case s := <-sigc:
			logger.Info("signal_received", "signal", s.String(), "msg", "shutdown requested")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigc)
	}()

	// dump goroutine stacks on SIGPIPE to aid diagnostics
	sigpipe := make(chan os.Signal, 1)
	signal.Notify(sigpipe, syscall.SIGPIPE)
	go func() {
		select {
		case s := <-sigpipe:
			logger.Info("signal_received", "signal", s.String(), "msg", "SIGPIPE - dumping goroutine stacks")
			buf := make([]byte, 1<<20)
			n := runtime.Stack(buf, true)
			logger.Info("goroutine_stack_dump", "dump", string(buf[:n]))
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigpipe)
	}()

	return ctx, cancel
}
