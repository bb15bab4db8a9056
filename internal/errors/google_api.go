package errors

import (
	"context"
	stderrors "errors"

	"github.com/dl-alexandre/gsyncfs/internal/logging"
	"github.com/dl-alexandre/gsyncfs/internal/types"
	"github.com/dl-alexandre/gsyncfs/internal/utils"
	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"
)

// ClassifyGoogleAPIError converts an error returned by the Drive SDK (or by
// the HTTP transport beneath it) into an AppError with a stable code.
func ClassifyGoogleAPIError(service string, err error, reqCtx *types.RequestContext, logger logging.Logger) error {
	if err == nil {
		return nil
	}
	if logger == nil {
		logger = logging.NewNoOpLogger()
	}
	if reqCtx == nil {
		reqCtx = &types.RequestContext{}
	}

	var appErr *utils.AppError
	if stderrors.As(err, &appErr) {
		return err
	}

	if stderrors.Is(err, context.Canceled) {
		return utils.NewCLIError(utils.ErrCodeCancelled, err.Error()).
			WithContext("traceId", reqCtx.TraceID).
			Err()
	}

	var retrieveErr *oauth2.RetrieveError
	if stderrors.As(err, &retrieveErr) {
		logger.Error("Token refresh failed",
			logging.F("error", err.Error()),
			logging.F("traceId", reqCtx.TraceID),
		)
		builder := utils.NewCLIError(utils.ErrCodeAuthFailed, "token acquisition failed: "+err.Error()).
			WithContext("traceId", reqCtx.TraceID).
			WithContext("service", service).
			WithContext("suggestedAction", "run 'gsyncfs auth store' to provide new credentials")
		if retrieveErr.Response != nil {
			builder.WithHTTPStatus(retrieveErr.Response.StatusCode)
		}
		return builder.Err()
	}

	var apiErr *googleapi.Error
	if !stderrors.As(err, &apiErr) {
		logger.Warn("Transport error",
			logging.F("error", err.Error()),
			logging.F("traceId", reqCtx.TraceID),
		)
		return utils.NewCLIError(utils.ErrCodeTransportFailed, err.Error()).
			WithRetryable(true).
			WithContext(utils.ContextKeyOffline, true).
			WithContext("traceId", reqCtx.TraceID).
			WithContext("service", service).
			Err()
	}

	var code string
	var retryable bool

	switch apiErr.Code {
	case 400:
		code = utils.ErrCodeInvalidArgument
	case 401:
		code = utils.ErrCodeAuthFailed
	case 403:
		code = utils.ErrCodePermissionDenied
		for _, e := range apiErr.Errors {
			switch e.Reason {
			case "storageQuotaExceeded", "quotaExceeded":
				code = utils.ErrCodeQuotaExceeded
			case "userRateLimitExceeded", "rateLimitExceeded":
				code = utils.ErrCodeRateLimited
				retryable = true
			case "dailyLimitExceeded":
				code = utils.ErrCodeRateLimited
			}
		}
	case 404:
		code = utils.ErrCodeNotFound
	case 409:
		code = utils.ErrCodeInvalidArgument
	case 429:
		code = utils.ErrCodeRateLimited
		retryable = true
	case 500, 502, 503, 504:
		code = utils.ErrCodeTransportFailed
		retryable = true
	default:
		code = utils.ErrCodeUnknown
		if apiErr.Code >= 500 {
			code = utils.ErrCodeTransportFailed
			retryable = true
		}
	}

	logger.Error("API error classified",
		logging.F("httpStatus", apiErr.Code),
		logging.F("errorCode", code),
		logging.F("retryable", retryable),
		logging.F("message", apiErr.Message),
		logging.F("traceId", reqCtx.TraceID),
		logging.F("service", service),
	)

	builder := utils.NewCLIError(code, apiErr.Message).
		WithHTTPStatus(apiErr.Code).
		WithRetryable(retryable).
		WithContext("traceId", reqCtx.TraceID).
		WithContext("requestType", string(reqCtx.RequestType)).
		WithContext("service", service)

	if len(apiErr.Errors) > 0 {
		builder.WithDriveReason(apiErr.Errors[0].Reason)
	}

	switch code {
	case utils.ErrCodeAuthFailed:
		builder.WithContext("suggestedAction", "run 'gsyncfs auth store' to re-authenticate")
	case utils.ErrCodeQuotaExceeded:
		builder.WithContext("suggestedAction", "free up space in Google Drive or upgrade storage")
	case utils.ErrCodeRateLimited:
		builder.WithContext("suggestedAction", "rate limit exceeded, retrying with backoff")
	}

	if apiErr.Code >= 500 && apiErr.Code <= 504 {
		builder.WithContext("serverError", true)
	}

	return builder.Err()
}
