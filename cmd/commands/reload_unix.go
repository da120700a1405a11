//go:build !windows

package commands

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/dohr-michael/smoothstream/internal/config"
)

// watchReload reloads the config on SIGHUP until ctx is done.
func watchReload(ctx context.Context, r *config.Reloader) (stop func()) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGHUP)

	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-ch:
				if err := r.Reload(); err != nil {
					slog.Error("config reload failed", "error", err)
				}
			case <-ctx.Done():
				return
			case <-done:
				return
			}
		}
	}()

	return func() {
		signal.Stop(ch)
		close(done)
	}
}
