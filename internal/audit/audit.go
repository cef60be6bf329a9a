// Package audit turns denials into structured log events that downstream
// tooling can correlate by event id.
package audit

import (
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/Dxstvn/realestatecrypto-sub008/internal/limiter"
)

type Recorder struct {
	log *slog.Logger
}

func NewRecorder(logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{log: logger}
}

// DenialHook builds an OnDenied callback for one policy. Each event gets
// its own id so a single flood shows up as distinct records.
func (a *Recorder) DenialHook(policy string) func(*http.Request, limiter.Decision) {
	return func(r *http.Request, d limiter.Decision) {
		a.log.Warn("request denied",
			"event_id", uuid.NewString(),
			"policy", policy,
			"identity", d.Identity,
			"observed", d.ObservedCount,
			"limit", d.Limit,
			"reset_at", d.ResetAt,
			"method", r.Method,
			"path", r.URL.Path,
		)
	}
}
