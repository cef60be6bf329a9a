package middleware

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/Dxstvn/realestatecrypto-sub008/internal/limiter"
)

// Throttle adapts limiter decisions to HTTP: one instance wraps any number
// of routes, each bound to its own policy.
type Throttle struct {
	limiter *limiter.Limiter
	logger  *slog.Logger
}

func NewThrottle(l *limiter.Limiter, logger *slog.Logger) *Throttle {
	if logger == nil {
		logger = slog.Default()
	}
	return &Throttle{
		limiter: l,
		logger:  logger,
	}
}

// Limit binds a policy to a route. It panics on an invalid policy so a
// typo in limits surfaces at startup, not on the first denied request.
func (t *Throttle) Limit(p *limiter.Policy) func(http.Handler) http.Handler {
	if err := p.Validate(); err != nil {
		panic(err)
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d := t.limiter.Evaluate(r.Context(), r, p)

			if p.EmitHeaders {
				t.setRateLimitHeaders(w, p, d)
			}

			if !d.Admitted {
				t.logger.Warn("rate limit exceeded",
					"policy", p.Name,
					"identity", d.Identity,
					"observed", d.ObservedCount,
					"limit", d.Limit,
					"path", r.URL.Path,
				)
				t.sendRateLimitError(w, p)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func (t *Throttle) setRateLimitHeaders(w http.ResponseWriter, p *limiter.Policy, d limiter.Decision) {
	h := w.Header()
	h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	h.Set("X-RateLimit-Policy", p.Descriptor())

	if !d.ResetAt.IsZero() {
		h.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
	}
}

func (t *Throttle) sendRateLimitError(w http.ResponseWriter, p *limiter.Policy) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(p.Status())

	json.NewEncoder(w).Encode(map[string]string{
		"error": p.Message(),
	})
}
