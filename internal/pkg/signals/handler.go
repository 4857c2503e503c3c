package signals

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/endorses/tlsdissect/internal/pkg/logger"
)

const signalBuffer = 1

// SetupHandler cancels ctx through cancel on SIGINT or SIGTERM.
// The returned cleanup function stops the delivery of signals.
func SetupHandler(ctx context.Context, cancel context.CancelFunc) (cleanup func()) {
	sigCh := make(chan os.Signal, signalBuffer)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		defer close(done)
		select {
		case sig := <-sigCh:
			logger.Info("Received signal, shutting down", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
	}()

	return func() {
		signal.Stop(sigCh)
		cancel()
		<-done
	}
}

// OnHangup calls fn for every SIGHUP until ctx is done. fn runs on the
// handler goroutine, one call at a time.
func OnHangup(ctx context.Context, fn func()) (cleanup func()) {
	sigCh := make(chan os.Signal, signalBuffer)
	signal.Notify(sigCh, syscall.SIGHUP)

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-sigCh:
				logger.Debug("Received SIGHUP")
				fn()
			case <-ctx.Done():
				return
			}
		}
	}()

	return func() {
		signal.Stop(sigCh)
		cancel()
		<-done
	}
}
