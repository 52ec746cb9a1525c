package reporting

import (
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/stonefield/matchwire/internal/infrastructure/env"
)

// Reporter forwards escaped handler errors to an external tracker.
// A nil *Tracker is safe to use; every method no-ops.
type Reporter interface {
	CaptureError(err error, tags map[string]string)
	Flush(timeout time.Duration)
}

type Tracker struct {
	enabled bool
}

func Init() (*Tracker, error) {
	dsn := env.GetString("SENTRY_DSN", "")
	if dsn == "" {
		return &Tracker{}, nil
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:         dsn,
		Environment: env.GetString("SENTRY_ENVIRONMENT", "production"),
		Release:     env.GetString("SENTRY_RELEASE", ""),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize sentry: %w", err)
	}

	return &Tracker{enabled: true}, nil
}

func (t *Tracker) CaptureError(err error, tags map[string]string) {
	if t == nil || !t.enabled || err == nil {
		return
	}

	sentry.WithScope(func(scope *sentry.Scope) {
		for k, v := range tags {
			scope.SetTag(k, v)
		}
		sentry.CaptureException(err)
	})
}

func (t *Tracker) Flush(timeout time.Duration) {
	if t == nil || !t.enabled {
		return
	}
	sentry.Flush(timeout)
}
