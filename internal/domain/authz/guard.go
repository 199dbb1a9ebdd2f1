package authz

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/enteecaay/BloodDonation-prototype/internal/domain/auth"
	"github.com/enteecaay/BloodDonation-prototype/internal/domain/session"
)

// Outcome is the guard's answer for a route.
type Outcome string

const (
	// OutcomeWait means the session is still initializing; nothing may be decided yet.
	OutcomeWait Outcome = "wait"
	// OutcomeAllow means the actor may reach the route.
	OutcomeAllow Outcome = "allow"
	// OutcomeRedirect means the actor must be sent to the login view.
	OutcomeRedirect Outcome = "redirect"
)

// DefaultLoginPath is where failed checks are redirected.
const DefaultLoginPath = "/login"

// maxCacheEntries bounds the route match cache. The cache is reset when full.
const maxCacheEntries = 4096

// Decision is the result of a guard check.
type Decision struct {
	Outcome Outcome `json:"outcome"`
	// Path is the normalized path that was checked.
	Path string `json:"path"`
	// Rule is the name of the matching rule, empty when none matched.
	Rule string `json:"rule,omitempty"`
	// Location is the redirect target for OutcomeRedirect.
	Location string `json:"location,omitempty"`
	// Reason explains a redirect.
	Reason string `json:"reason,omitempty"`
}

// ConditionInput is the data a rule condition can reference.
type ConditionInput struct {
	Role          string
	Path          string
	IdentityID    string
	Email         string
	AccountStatus string
	RequestTime   time.Time
}

// ConditionEvaluator evaluates rule condition expressions.
type ConditionEvaluator interface {
	// ValidateExpression reports whether expr compiles.
	ValidateExpression(expr string) error
	// EvaluateCondition runs expr against in.
	EvaluateCondition(ctx context.Context, expr string, in ConditionInput) (bool, error)
}

// Guard is the single authority deciding route access from a session snapshot.
type Guard struct {
	table      *Table
	conditions ConditionEvaluator
	loginPath  string
	logger     *slog.Logger
	now        func() time.Time

	mu    sync.RWMutex
	cache map[uint64]cachedMatch
}

type cachedMatch struct {
	path  string
	index int
}

// GuardOption configures a Guard.
type GuardOption func(*Guard)

// WithConditions enables rule conditions.
func WithConditions(c ConditionEvaluator) GuardOption {
	return func(g *Guard) { g.conditions = c }
}

// WithLoginPath overrides the login view path used in redirects.
func WithLoginPath(p string) GuardOption {
	return func(g *Guard) { g.loginPath = p }
}

// WithLogger sets the guard logger.
func WithLogger(l *slog.Logger) GuardOption {
	return func(g *Guard) { g.logger = l }
}

// NewGuard creates a Guard over table.
func NewGuard(table *Table, opts ...GuardOption) *Guard {
	g := &Guard{
		table:     table,
		loginPath: DefaultLoginPath,
		logger:    slog.Default(),
		now:       time.Now,
		cache:     make(map[uint64]cachedMatch),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// ValidateConditions checks every rule condition against the evaluator.
// Rules with conditions are rejected when no evaluator is configured.
func (g *Guard) ValidateConditions() error {
	for _, r := range g.table.rules {
		if r.Condition == "" {
			continue
		}
		if g.conditions == nil {
			return fmt.Errorf("%w: %s: conditions are not enabled", ErrInvalidRule, r.Name)
		}
		if err := g.conditions.ValidateExpression(r.Condition); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidRule, r.Name, err)
		}
	}
	return nil
}

// Decide checks whether the session may reach rawPath.
// While the session is initializing the answer is always OutcomeWait.
func (g *Guard) Decide(ctx context.Context, snap session.Snapshot, rawPath string) Decision {
	p := NormalizePath(rawPath)
	d := Decision{Path: p}

	if !snap.Ready() {
		d.Outcome = OutcomeWait
		return d
	}

	idx := g.match(p)
	if idx < 0 {
		d.Outcome = OutcomeAllow
		return d
	}
	rule := g.table.rules[idx]
	d.Rule = rule.Name

	if !rule.Permits(snap.Role) {
		return g.redirect(d, rawPath, "role "+string(snap.Role)+" not permitted")
	}
	if rule.Condition != "" {
		ok, reason := g.evaluate(ctx, rule, snap, p)
		if !ok {
			return g.redirect(d, rawPath, reason)
		}
	}
	d.Outcome = OutcomeAllow
	return d
}

// LoginLocation returns the login view URL that returns to target afterwards.
func (g *Guard) LoginLocation(target string) string {
	return g.loginPath + "?redirect=" + url.QueryEscape(target)
}

func (g *Guard) redirect(d Decision, target, reason string) Decision {
	d.Outcome = OutcomeRedirect
	d.Reason = reason
	if target == "" {
		target = d.Path
	}
	d.Location = g.LoginLocation(target)
	return d
}

func (g *Guard) evaluate(ctx context.Context, rule Rule, snap session.Snapshot, p string) (bool, string) {
	if g.conditions == nil {
		return false, "condition evaluator unavailable"
	}
	in := ConditionInput{
		Role:        string(snap.Role),
		Path:        p,
		RequestTime: g.now().UTC(),
	}
	if snap.Identity != nil {
		in.IdentityID = snap.Identity.ID
		in.Email = snap.Identity.Email
		in.AccountStatus = string(snap.Identity.AccountStatus)
	}
	if in.AccountStatus == "" && snap.Role == auth.RoleGuest {
		in.AccountStatus = "none"
	}
	ok, err := g.conditions.EvaluateCondition(ctx, rule.Condition, in)
	if err != nil {
		g.logger.Warn("rule condition failed", "rule", rule.Name, "error", err)
		return false, "condition error"
	}
	if !ok {
		return false, "condition not met"
	}
	return true, ""
}

// match returns the matching rule index for p, consulting the cache first.
func (g *Guard) match(p string) int {
	key := xxhash.Sum64String(p)

	g.mu.RLock()
	c, ok := g.cache[key]
	g.mu.RUnlock()
	if ok && c.path == p {
		return c.index
	}

	idx := g.table.Match(p)

	g.mu.Lock()
	if len(g.cache) >= maxCacheEntries {
		g.cache = make(map[uint64]cachedMatch)
	}
	g.cache[key] = cachedMatch{path: p, index: idx}
	g.mu.Unlock()
	return idx
}
