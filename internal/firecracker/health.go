package firecracker

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// waitHealthy polls the guest's /health endpoint until it returns 2xx, ctx
// is done, or timeout elapses. Connection errors and 5xx responses are
// retried; anything else (4xx) is treated as a permanent failure since it
// means the guest is up but misconfigured.
func waitHealthy(ctx context.Context, client *http.Client, ip string, port int, interval, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	url := fmt.Sprintf("http://%s:%d/health", ip, port)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err == nil {
			resp, err := client.Do(req)
			if err == nil {
				resp.Body.Close()
				if resp.StatusCode >= 200 && resp.StatusCode < 300 {
					return nil
				}
				if resp.StatusCode < 500 {
					return fmt.Errorf("health check returned %d", resp.StatusCode)
				}
			}
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("health check timed out after %s", timeout)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
