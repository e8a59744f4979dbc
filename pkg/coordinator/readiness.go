package coordinator

import (
	"context"
	"net/http"
	"time"

	"github.com/katashiba/secscan-engine/internal/httpclient"
)

// ensureServicesReady polls the Analysis and Remediation collaborators'
// /readiness endpoints until both report 200, or the configured timeout
// elapses. Mirrors the original's ensure_services_ready.
func (c *Coordinator) ensureServicesReady(ctx context.Context) bool {
	urls := []string{}
	if c.cfg.AnalysisServiceURL != "" {
		urls = append(urls, c.cfg.AnalysisServiceURL+"/readiness")
	}
	if c.cfg.RemediationServiceURL != "" {
		urls = append(urls, c.cfg.RemediationServiceURL+"/readiness")
	}
	if len(urls) == 0 {
		return true
	}

	client := httpclient.New(httpclient.Config{Timeout: 5 * time.Second}, httpclient.DefaultDefaults())
	deadline := time.Now().Add(c.cfg.ReadinessTimeout)

	for {
		allReady := true
		for _, url := range urls {
			if !probe(ctx, client, url) {
				allReady = false
			}
		}
		if allReady {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}

		select {
		case <-ctx.Done():
			return false
		case <-time.After(c.cfg.ReadinessPollInterval):
		}
	}
}

func probe(ctx context.Context, client *http.Client, url string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
