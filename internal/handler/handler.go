package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/Dxstvn/realestatecrypto-sub008/internal/limiter"
)

// Echo returns a placeholder handler for a throttled surface. It stands in
// for the real upstream so the policies can be exercised end to end.
func Echo(surface string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"message":   "Request admitted.",
			"surface":   surface,
			"timestamp": time.Now().Format(time.RFC3339),
		})
	}
}

// Health reports liveness. It is mounted outside every policy so probes
// never burn request budget.
func Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"time":   time.Now().Format(time.RFC3339),
	})
}

// Auth is the login endpoint. A successful login clears the caller's
// violation record, restoring the full limit that repeated failed attempts
// had shrunk.
type Auth struct {
	limiter *limiter.Limiter
	policy  *limiter.Policy
	verify  func(username, password string) bool
	log     *slog.Logger
}

// NewAuth wires the login endpoint. verify decides whether credentials are
// good; the demo server passes a stand-in.
func NewAuth(l *limiter.Limiter, p *limiter.Policy, verify func(username, password string) bool, logger *slog.Logger) *Auth {
	if logger == nil {
		logger = slog.Default()
	}
	return &Auth{
		limiter: l,
		policy:  p,
		verify:  verify,
		log:     logger,
	}
}

func (a *Auth) Login(w http.ResponseWriter, r *http.Request) {
	var creds struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid request body",
		})
		return
	}

	if !a.verify(creds.Username, creds.Password) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{
			"error": "invalid credentials",
		})
		return
	}

	if err := a.limiter.ClearPenaltyFor(r.Context(), r, a.policy); err != nil {
		a.log.Warn("could not clear violation record after login",
			"username", creds.Username,
			"error", err,
		)
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"message":  "login successful",
		"username": creds.Username,
	})
}

func writeJSON(w http.ResponseWriter, status int, body map[string]string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
