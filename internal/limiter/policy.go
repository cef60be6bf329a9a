package limiter

import (
	"fmt"
	"net/http"
	"time"
)

const (
	// DefaultRejectionStatus is used when a policy does not override the
	// denial status code.
	DefaultRejectionStatus = http.StatusTooManyRequests

	// DefaultRejectionMessage is the generic denial body text.
	DefaultRejectionMessage = "Rate limit exceeded, please try again later."
)

// Policy describes one protected surface: how wide its window is, how many
// requests fit in it, and how denials are presented. Policies are built
// once at process start and passed by handle; they are not mutated after.
type Policy struct {
	// Name tags the surface ("auth", "api", ...). It namespaces the
	// default identity key so surfaces sharing a window duration cannot
	// collide on counters, and it labels logs.
	Name string

	Window      time.Duration
	MaxRequests int

	// RejectionStatus and RejectionMessage shape the denial response.
	// Zero values fall back to the package defaults.
	RejectionStatus  int
	RejectionMessage string

	// KeyFn overrides identity derivation. Nil means the resolved client
	// IP prefixed with the policy namespace.
	KeyFn func(*http.Request) string

	// BypassFn, when it returns true, skips throttling for the request.
	// It is additional to the resolver's allowlist, which always applies.
	BypassFn func(*http.Request) bool

	// EmitHeaders controls the X-RateLimit-* disclosure headers.
	EmitHeaders bool

	// OnDenied runs on every denial, after the decision is final. Typical
	// use is audit logging.
	OnDenied func(*http.Request, Decision)
}

// Validate reports a misconfigured policy. Callers must fail fast at
// construction or bind time; a policy error must never surface during
// request handling.
func (p *Policy) Validate() error {
	if p.MaxRequests <= 0 {
		return fmt.Errorf("policy %q: max requests must be positive, got %d", p.Name, p.MaxRequests)
	}
	if p.Window < time.Millisecond {
		return fmt.Errorf("policy %q: window must be at least 1ms, got %v", p.Name, p.Window)
	}
	return nil
}

// Descriptor renders the policy as "<max>;w=<windowMs>" for the
// X-RateLimit-Policy header.
func (p *Policy) Descriptor() string {
	return fmt.Sprintf("%d;w=%d", p.MaxRequests, p.Window.Milliseconds())
}

// Status is the HTTP status a denial responds with.
func (p *Policy) Status() int {
	if p.RejectionStatus != 0 {
		return p.RejectionStatus
	}
	return DefaultRejectionStatus
}

// Message is the denial body text.
func (p *Policy) Message() string {
	if p.RejectionMessage != "" {
		return p.RejectionMessage
	}
	return DefaultRejectionMessage
}

// identityFor derives the counting key for a request: the custom KeyFn if
// set, otherwise the resolved IP behind the policy's namespace tag.
func (p *Policy) identityFor(r *http.Request, ip string) string {
	if p.KeyFn != nil {
		return p.KeyFn(r)
	}
	if p.Name != "" {
		return p.Name + ":ip:" + ip
	}
	return "ip:" + ip
}

// Decision is the outcome of one evaluation. Limit is the effective budget
// after penalties, which is why two decisions for the same policy can
// disclose different limits.
type Decision struct {
	Admitted      bool
	Limit         int
	Remaining     int
	ResetAt       time.Time
	ObservedCount int64
	Identity      string
}

// PolicySet holds the deployment's named policies, one per protected
// surface, constructed once and passed where needed.
type PolicySet struct {
	API           *Policy
	Auth          *Policy
	PasswordReset *Policy
	Email         *Policy
	Upload        *Policy
	Transaction   *Policy
	Search        *Policy
	Admin         *Policy
}

// DefaultPolicies returns the platform's stock policy set. The admin
// surface needs no bypass of its own: loopback bypass outside production
// comes from the identity resolver and applies everywhere.
func DefaultPolicies() *PolicySet {
	return &PolicySet{
		API: &Policy{
			Name:             "api",
			Window:           15 * time.Minute,
			MaxRequests:      1000,
			RejectionMessage: "Too many requests from this IP, please try again later.",
			EmitHeaders:      true,
		},
		Auth: &Policy{
			Name:             "auth",
			Window:           15 * time.Minute,
			MaxRequests:      10,
			RejectionMessage: "Too many authentication attempts, please try again in 15 minutes.",
			EmitHeaders:      true,
		},
		PasswordReset: &Policy{
			Name:             "passwordReset",
			Window:           time.Hour,
			MaxRequests:      5,
			RejectionMessage: "Too many password reset requests, please try again later.",
			EmitHeaders:      true,
		},
		Email: &Policy{
			Name:             "email",
			Window:           time.Hour,
			MaxRequests:      10,
			RejectionMessage: "Too many email requests, please try again later.",
			EmitHeaders:      true,
		},
		Upload: &Policy{
			Name:             "upload",
			Window:           time.Hour,
			MaxRequests:      50,
			RejectionMessage: "Upload limit reached, please try again later.",
			EmitHeaders:      true,
		},
		Transaction: &Policy{
			Name:             "transaction",
			Window:           time.Minute,
			MaxRequests:      5,
			RejectionMessage: "Too many transaction attempts, please slow down.",
			EmitHeaders:      true,
		},
		Search: &Policy{
			Name:             "search",
			Window:           time.Minute,
			MaxRequests:      60,
			RejectionMessage: "Search rate limit exceeded, please slow down.",
			EmitHeaders:      true,
		},
		Admin: &Policy{
			Name:             "admin",
			Window:           time.Minute,
			MaxRequests:      30,
			RejectionMessage: "Too many admin requests, please slow down.",
			EmitHeaders:      true,
		},
	}
}

// Validate checks every policy in the set.
func (s *PolicySet) Validate() error {
	for _, p := range s.All() {
		if err := p.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Find returns the policy named name, or nil.
func (s *PolicySet) Find(name string) *Policy {
	for _, p := range s.All() {
		if p.Name == name {
			return p
		}
	}
	return nil
}

// All returns the set's policies in a stable order.
func (s *PolicySet) All() []*Policy {
	return []*Policy{
		s.API,
		s.Auth,
		s.PasswordReset,
		s.Email,
		s.Upload,
		s.Transaction,
		s.Search,
		s.Admin,
	}
}
