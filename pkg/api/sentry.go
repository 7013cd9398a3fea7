package api

import (
	"fmt"
	"strings"

	"github.com/getsentry/sentry-go"

	"github.com/james-see/midi2makecode/pkg/config"
)

// sensitiveHeaders are redacted before events leave the process
var sensitiveHeaders = map[string]bool{
	"authorization": true,
	"cookie":        true,
	"x-api-key":     true,
}

// InitSentry configures error reporting when cfg has a DSN. The returned
// function flushes buffered events and is safe to call when Sentry is disabled.
func InitSentry(cfg *config.Config, release string) (func(), error) {
	if cfg.SentryDSN == "" {
		return func() {}, nil
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              cfg.SentryDSN,
		Environment:      cfg.Environment,
		Release:          "midi2makecode@" + release,
		EnableTracing:    true,
		TracesSampleRate: 1.0,
		Debug:            !cfg.IsProduction(),
		BeforeSend: func(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
			if event.Request != nil {
				event.Request.Headers = filterSensitiveHeaders(event.Request.Headers)
			}
			return event
		},
	})
	if err != nil {
		return func() {}, fmt.Errorf("failed to initialize Sentry: %w", err)
	}

	return func() { sentry.Flush(sentryFlushTimeout) }, nil
}

func filterSensitiveHeaders(headers map[string]string) map[string]string {
	filtered := make(map[string]string, len(headers))
	for k, v := range headers {
		if sensitiveHeaders[strings.ToLower(k)] {
			filtered[k] = "[REDACTED]"
		} else {
			filtered[k] = v
		}
	}
	return filtered
}
