// Package httpclient provides shared HTTP client configuration used by
// every outbound collaborator client (LLM, sandbox, hosting API,
// readiness prober): timeout defaults and response body size limits.
package httpclient

import (
	"io"
	"net/http"
	"strings"
	"time"
)

// Config holds per-client configuration used across all outbound
// collaborator clients. This eliminates duplication of client-creation
// logic across pkg/workflow, pkg/publisher, and pkg/coordinator.
type Config struct {
	BaseURL      string
	Timeout      time.Duration
	MaxBodyBytes int64
}

// Defaults holds the fallback values applied when a Config field is zero.
type Defaults struct {
	Timeout      time.Duration
	MaxBodyBytes int64
}

// DefaultDefaults returns the standard fallback values used when no
// caller-supplied override is present.
func DefaultDefaults() Defaults {
	return Defaults{
		Timeout:      30 * time.Second,
		MaxBodyBytes: 4 << 20, // 4MiB, generous enough for LLM completions
	}
}

// New builds an *http.Client with the effective timeout applied.
func New(cfg Config, defaults Defaults) *http.Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaults.Timeout
	}
	return &http.Client{Timeout: timeout}
}

// NewWithBaseURL builds a client and normalizes the base URL (trims a
// trailing slash so callers can safely concatenate a leading-slash path).
func NewWithBaseURL(cfg Config, defaults Defaults) (*http.Client, string) {
	client := New(cfg, defaults)
	base := strings.TrimRight(cfg.BaseURL, "/")
	return client, base
}

// ResolveMaxBodyBytes returns the effective body-size cap.
func ResolveMaxBodyBytes(cfg int64, defaultBytes int64) int64 {
	if cfg <= 0 {
		return defaultBytes
	}
	return cfg
}

// LimitedReader wraps r so reads stop with io.EOF after maxBytes,
// protecting callers from unbounded response bodies.
func LimitedReader(r io.Reader, maxBytes int64) io.Reader {
	return io.LimitReader(r, maxBytes)
}
