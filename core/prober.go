package core

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"pkt.systems/sitesmith/schema"
)

// HTTPProber probes the preview server with a plain GET against loopback.
// Any HTTP response means the process is serving; only transport failures
// (refused, reset, timeout) classify as down.
type HTTPProber struct{}

// Probe implements Prober.
func (HTTPProber) Probe(ctx context.Context, port int, timeout time.Duration) schema.Health {
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	url := fmt.Sprintf("http://127.0.0.1:%d/", port)
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return schema.HealthDown
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return schema.HealthDown
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return schema.HealthUpWithError
	}
	return schema.HealthUp
}
