//go:build !linux

package firecracker

import (
	"context"
	"os"
	"time"
)

// waitForFileCreation polls path's existence every 20ms. Used on platforms
// without inotify; production deployments are Linux-only but this keeps the
// package buildable for local development on other hosts.
func waitForFileCreation(ctx context.Context, path string) error {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	if _, err := os.Stat(path); err == nil {
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := os.Stat(path); err == nil {
				return nil
			}
		}
	}
}
