package apierr

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

// Kind is the taxonomy of streaming-finalize error classes: the set of ways
// a retrieval call, an LLM call, or a backend dependency can fail mid-turn.
type Kind string

const (
	KindRateLimit      Kind = "rate_limit"
	KindInvalidAPIKey  Kind = "invalid_api_key"
	KindThrottling     Kind = "throttling"
	KindValidation     Kind = "validation"
	KindBackendMissing Kind = "backend_not_found"
	KindAuthz          Kind = "authz"
	KindCanceled       Kind = "canceled"
	KindUnknown        Kind = "unknown"
)

// UserPhrase is the short user-facing message attached to each kind. It never
// leaks provider internals.
func (k Kind) UserPhrase() string {
	switch k {
	case KindRateLimit:
		return "The assistant is receiving too many requests right now. Please try again shortly."
	case KindInvalidAPIKey:
		return "The assistant is temporarily misconfigured. Please try again later."
	case KindThrottling:
		return "The assistant is warming up. Please try again in a moment."
	case KindValidation:
		return "That request couldn't be processed as sent."
	case KindBackendMissing:
		return "A required backend for this chat is unavailable."
	case KindAuthz:
		return "You don't have access to this chat."
	case KindCanceled:
		return "Generation was stopped."
	default:
		return "Something went wrong while generating a response."
	}
}

func (k Kind) Status() int {
	switch k {
	case KindRateLimit, KindThrottling:
		return http.StatusTooManyRequests
	case KindInvalidAPIKey, KindAuthz:
		return http.StatusUnauthorized
	case KindValidation:
		return http.StatusBadRequest
	case KindBackendMissing:
		return http.StatusNotFound
	case KindCanceled:
		return 499
	default:
		return http.StatusInternalServerError
	}
}

// Classify maps a provider/backend error into a Kind using string matching
// against the provider error surface, since provider SDKs rarely expose a
// structured error type across vendors.
func Classify(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	if errors.Is(err, context.Canceled) {
		return KindCanceled
	}
	if ae, ok := Is(err); ok {
		switch ae.Status {
		case http.StatusTooManyRequests:
			return KindRateLimit
		case http.StatusUnauthorized, http.StatusForbidden:
			return KindAuthz
		case http.StatusBadRequest, http.StatusUnprocessableEntity:
			return KindValidation
		case http.StatusNotFound:
			return KindBackendMissing
		case 499:
			return KindCanceled
		}
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "rate limit") || strings.Contains(msg, "429"):
		return KindRateLimit
	case strings.Contains(msg, "invalid api key") || strings.Contains(msg, "incorrect api key") || strings.Contains(msg, "401"):
		return KindInvalidAPIKey
	case strings.Contains(msg, "overloaded") || strings.Contains(msg, "throttl") || strings.Contains(msg, "503"):
		return KindThrottling
	case strings.Contains(msg, "context canceled") || strings.Contains(msg, "stopped by user"):
		return KindCanceled
	case strings.Contains(msg, "validation") || strings.Contains(msg, "invalid request") || strings.Contains(msg, "400"):
		return KindValidation
	case strings.Contains(msg, "not found") || strings.Contains(msg, "404"):
		return KindBackendMissing
	case strings.Contains(msg, "forbidden") || strings.Contains(msg, "unauthorized"):
		return KindAuthz
	default:
		return KindUnknown
	}
}

// ToAPIError converts any error into an *Error carrying the right status
// and a short code, preserving the original as Err for logging.
func ToAPIError(err error) *Error {
	if err == nil {
		return nil
	}
	if ae, ok := Is(err); ok {
		return ae
	}
	k := Classify(err)
	return New(k.Status(), string(k), err)
}
