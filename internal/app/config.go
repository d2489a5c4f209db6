package app

import (
	"time"

	"github.com/fenwick-ai/ragchat-core/internal/platform/envutil"
)

// Config holds the small set of knobs that don't belong to any one client
// or repo: request-scoped timeouts and the retrieval defaults a new
// UserPersonalization row falls back to before a user sets their own.
type Config struct {
	RequestTimeout    time.Duration
	DefaultRetrievalK int
	DefaultAlpha      float64
}

func LoadConfig() Config {
	return Config{
		RequestTimeout:    envutil.Duration("REQUEST_TIMEOUT", 60*time.Second),
		DefaultRetrievalK: envutil.Int("RETRIEVAL_DEFAULT_TOP_K", 8),
		DefaultAlpha:      envutil.Float("RETRIEVAL_DEFAULT_ALPHA", 0.5),
	}
}
