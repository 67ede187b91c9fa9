package errors

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/JawadKotaichh/AUBus-sub000/pkg/common"
)

// SentryConfig mirrors the subset of sentry.ClientOptions the service
// sets. Callers typically start from DefaultSentryConfig and override
// DSN, ServerName and Release.
type SentryConfig struct {
	DSN              string
	Environment      string
	Release          string
	SampleRate       float64
	Debug            bool
	ServerName       string
	AttachStacktrace bool
}

// DefaultSentryConfig reads SENTRY_* variables from the environment,
// falling back to a full-sample development setup.
func DefaultSentryConfig() *SentryConfig {
	cfg := &SentryConfig{
		DSN:              os.Getenv("SENTRY_DSN"),
		Environment:      "development",
		Release:          os.Getenv("SENTRY_RELEASE"),
		SampleRate:       1.0,
		Debug:            os.Getenv("SENTRY_DEBUG") == "true",
		ServerName:       os.Getenv("SERVICE_NAME"),
		AttachStacktrace: true,
	}
	for _, key := range []string{"ENVIRONMENT", "SENTRY_ENVIRONMENT"} {
		if v := os.Getenv(key); v != "" {
			cfg.Environment = v
			break
		}
	}
	if v := os.Getenv("SENTRY_SAMPLE_RATE"); v != "" {
		if rate, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.SampleRate = rate
		}
	}
	return cfg
}

// InitSentry starts the Sentry client. Info and debug events are
// dropped before sending; everything below warning stays local.
func InitSentry(config *SentryConfig) error {
	if config.DSN == "" {
		return fmt.Errorf("no sentry DSN set")
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              config.DSN,
		Environment:      config.Environment,
		Release:          config.Release,
		SampleRate:       config.SampleRate,
		Debug:            config.Debug,
		ServerName:       config.ServerName,
		AttachStacktrace: config.AttachStacktrace,
		BeforeSend: func(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
			switch event.Level {
			case sentry.LevelInfo, sentry.LevelDebug:
				return nil
			}
			return event
		},
	})
	if err != nil {
		return fmt.Errorf("failed to start sentry client: %w", err)
	}
	return nil
}

// Flush blocks until buffered events are sent or the timeout expires.
func Flush(timeout time.Duration) bool {
	return sentry.Flush(timeout)
}

// CaptureError sends err to Sentry unless it represents an expected
// request outcome. Returns the event ID, or nil when nothing was sent.
func CaptureError(err error) *sentry.EventID {
	if !Reportable(err) {
		return nil
	}
	return sentry.CaptureException(err)
}

// Reportable decides whether an error is worth an alert. Domain
// outcomes a client caused or can recover from (bad payloads, state
// conflicts, empty driver pools) are resolved per request; only
// infrastructure-kind failures go to Sentry.
func Reportable(err error) bool {
	if err == nil {
		return false
	}
	switch common.KindOf(err) {
	case common.KindInternal, common.KindMapUnavailable, common.KindSelectorFailed:
		return true
	default:
		return false
	}
}
