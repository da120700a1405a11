//go:build windows

package commands

import (
	"context"

	"github.com/dohr-michael/smoothstream/internal/config"
)

// watchReload is a no-op: there is no SIGHUP on windows.
func watchReload(context.Context, *config.Reloader) (stop func()) {
	return func() {}
}
