package logging

import (
	"net/http"
	"time"
)

// DebugTransport logs method, URL, status and latency of every request
type DebugTransport struct {
	base   http.RoundTripper
	logger Logger
}

// NewDebugTransport wraps base; a nil base means http.DefaultTransport
func NewDebugTransport(base http.RoundTripper, logger Logger) *DebugTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	if logger == nil {
		logger = NewNoOpLogger()
	}
	return &DebugTransport{base: base, logger: logger.With(F("component", "http"))}
}

// Wrap returns a copy of the transport delegating to base
func (t *DebugTransport) Wrap(base http.RoundTripper) *DebugTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &DebugTransport{base: base, logger: t.logger}
}

// RoundTrip implements http.RoundTripper
func (t *DebugTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	logger := t.logger.WithContext(req.Context())

	resp, err := t.base.RoundTrip(req)
	elapsed := time.Since(start)

	if err != nil {
		logger.Debug("HTTP request failed",
			F("method", req.Method),
			F("url", redactSensitiveData(req.URL.String())),
			F("duration_ms", elapsed.Milliseconds()),
			F("error", err.Error()),
		)
		return nil, err
	}

	logger.Debug("HTTP request",
		F("method", req.Method),
		F("url", redactSensitiveData(req.URL.String())),
		F("status", resp.StatusCode),
		F("duration_ms", elapsed.Milliseconds()),
	)
	return resp, nil
}
