package api

import (
	"context"
	"math"
	"math/rand"
	"strconv"
	"time"

	"github.com/dl-alexandre/gsyncfs/internal/errors"
	"github.com/dl-alexandre/gsyncfs/internal/logging"
	"github.com/dl-alexandre/gsyncfs/internal/types"
	"github.com/dl-alexandre/gsyncfs/internal/utils"
	"github.com/google/uuid"
	drive "google.golang.org/api/drive/v2"
	"google.golang.org/api/googleapi"
)

// Client wraps the Drive service with retry logic and error classification
type Client struct {
	service    *drive.Service
	profile    string
	maxRetries int
	retryDelay time.Duration
	logger     logging.Logger
}

// NewClient creates a new Drive API client
func NewClient(service *drive.Service, maxRetries int, retryDelayMs int, logger logging.Logger) *Client {
	if logger == nil {
		logger = logging.NewNoOpLogger()
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Client{
		service:    service,
		maxRetries: maxRetries,
		retryDelay: time.Duration(retryDelayMs) * time.Millisecond,
		logger:     logger.With(logging.F("component", "api")),
	}
}

// WithProfile returns a copy of the client whose request contexts carry profile
func (c *Client) WithProfile(profile string) *Client {
	clone := *c
	clone.profile = profile
	return &clone
}

// NewRequestContext creates a new request context with trace ID
func NewRequestContext(profile string, requestType types.RequestType) *types.RequestContext {
	return &types.RequestContext{
		Profile:           profile,
		InvolvedFileIDs:   []string{},
		InvolvedParentIDs: []string{},
		RequestType:       requestType,
		TraceID:           uuid.New().String(),
	}
}

// NewRequestContext creates a request context for the client's profile
func (c *Client) NewRequestContext(requestType types.RequestType) *types.RequestContext {
	return NewRequestContext(c.profile, requestType)
}

// ExecuteWithRetry executes an API call, retrying rate limits and server
// errors with exponential backoff. The returned error is always classified.
func ExecuteWithRetry[T any](ctx context.Context, client *Client, reqCtx *types.RequestContext, fn func() (T, error)) (T, error) {
	var result T
	var lastErr error

	logger := client.logger.WithTraceID(reqCtx.TraceID)
	logger.Debug("API operation starting",
		logging.F("requestType", reqCtx.RequestType),
		logging.F("profile", reqCtx.Profile),
	)

	start := time.Now()

	for attempt := 0; attempt <= client.maxRetries; attempt++ {
		if attempt > 0 {
			logger.Warn("Retrying API operation",
				logging.F("attempt", attempt),
				logging.F("maxRetries", client.maxRetries),
			)
		}

		if err := ctx.Err(); err != nil {
			return result, classifyError(err, reqCtx, client.logger)
		}

		result, lastErr = fn()
		if lastErr == nil {
			logger.Debug("API operation completed",
				logging.F("duration_ms", time.Since(start).Milliseconds()),
				logging.F("attempts", attempt+1),
			)
			return result, nil
		}

		if !isRetryable(lastErr) {
			logger.Debug("API operation failed (non-retryable)",
				logging.F("duration_ms", time.Since(start).Milliseconds()),
				logging.F("error", lastErr.Error()),
				logging.F("attempts", attempt+1),
			)
			return result, classifyError(lastErr, reqCtx, client.logger)
		}

		if attempt < client.maxRetries {
			delay := calculateBackoff(client.retryDelay, attempt, lastErr)
			logger.Warn("API operation failed (retryable)",
				logging.F("attempt", attempt+1),
				logging.F("delay_ms", delay.Milliseconds()),
				logging.F("error", lastErr.Error()),
			)
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return result, classifyError(ctx.Err(), reqCtx, client.logger)
			case <-timer.C:
			}
		}
	}

	logger.Error("API operation failed after max retries",
		logging.F("duration_ms", time.Since(start).Milliseconds()),
		logging.F("attempts", client.maxRetries+1),
		logging.F("error", lastErr.Error()),
	)

	return result, classifyError(lastErr, reqCtx, client.logger)
}

// isRetryable reports whether a raw SDK error is worth another attempt.
// Network failures are not retried here; the poll scheduler owns that.
func isRetryable(err error) bool {
	apiErr, ok := err.(*googleapi.Error)
	if !ok {
		return false
	}
	switch apiErr.Code {
	case 429, 500, 502, 503, 504:
		return true
	case 403:
		for _, e := range apiErr.Errors {
			if e.Reason == "userRateLimitExceeded" || e.Reason == "rateLimitExceeded" {
				return true
			}
		}
	}
	return false
}

// calculateBackoff calculates the retry delay with exponential backoff
func calculateBackoff(baseDelay time.Duration, attempt int, err error) time.Duration {
	maxDelay := time.Duration(utils.MaxRetryDelayMs) * time.Millisecond

	if apiErr, ok := err.(*googleapi.Error); ok && apiErr.Header != nil {
		if retryAfter := apiErr.Header.Get("Retry-After"); retryAfter != "" {
			if seconds, err := strconv.Atoi(retryAfter); err == nil {
				delay := time.Duration(seconds) * time.Second
				if delay > maxDelay {
					return maxDelay
				}
				return delay
			}
		}
	}

	delay := baseDelay * time.Duration(math.Pow(2, float64(attempt)))
	if delay > maxDelay {
		delay = maxDelay
	}

	// ±25% jitter
	if jitterRange := delay / 4; jitterRange > 0 {
		jitter := time.Duration(rand.Int63n(int64(jitterRange*2))) - jitterRange
		delay += jitter
	}

	if delay < 0 {
		delay = baseDelay
	}

	return delay
}

func classifyError(err error, reqCtx *types.RequestContext, logger logging.Logger) error {
	return errors.ClassifyGoogleAPIError("drive", err, reqCtx, logger)
}

// Service returns the underlying Drive service
func (c *Client) Service() *drive.Service {
	return c.service
}

// Logger returns the client's logger
func (c *Client) Logger() logging.Logger {
	return c.logger
}
