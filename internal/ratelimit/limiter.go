package ratelimit

import (
	"context"
	"time"
)

type Scope string

const (
	ScopeIP    Scope = "ip"
	ScopeUser  Scope = "user"
	ScopeAdmin Scope = "admin"
)

const (
	MinuteWindow = 60 * time.Second
	BurstWindow  = 10 * time.Second
)

type Policy struct {
	User, Admin, IP                Window
	UserBurst, AdminBurst, IPBurst Window
}

// NewPolicy builds per-minute and burst windows from plain request counts.
// Admin limits are raised to the regular limits if configured lower.
func NewPolicy(user, admin, ip, burst, adminBurst, ipBurst int) Policy {
	if admin < user {
		admin = user
	}
	if adminBurst < burst {
		adminBurst = burst
	}
	return Policy{
		User:       Window{Limit: user, Period: MinuteWindow},
		Admin:      Window{Limit: admin, Period: MinuteWindow},
		IP:         Window{Limit: ip, Period: MinuteWindow},
		UserBurst:  Window{Limit: burst, Period: BurstWindow},
		AdminBurst: Window{Limit: adminBurst, Period: BurstWindow},
		IPBurst:    Window{Limit: ipBurst, Period: BurstWindow},
	}
}

// Subject identifies who is making a request. UserID is empty for
// anonymous callers and for callers whose token could not be parsed.
type Subject struct {
	IP     string
	UserID string
	Admin  bool
}

type Result struct {
	Allowed  bool
	Scope    Scope
	Decision Decision
}

type Limiter struct {
	store  Store
	policy Policy
	now    func() time.Time
}

func New(store Store, p Policy) *Limiter {
	return &Limiter{store: store, policy: p, now: time.Now}
}

type check struct {
	scope Scope
	tag   string
	id    string
	win   Window
}

// Check runs the IP windows first and then the user (or admin) windows.
// The IP scope is evaluated for every request whatever the user counters
// say. All windows are checked in one store call and the request counts
// against none of them unless all allow it. The first denial wins; an
// allowed result reports the per-minute window of the most specific scope.
func (l *Limiter) Check(ctx context.Context, s Subject) (Result, error) {
	now := l.now()

	checks := make([]check, 0, 4)
	if s.IP != "" {
		checks = append(checks,
			check{ScopeIP, "min", s.IP, l.policy.IP},
			check{ScopeIP, "burst", s.IP, l.policy.IPBurst},
		)
	}
	switch {
	case s.UserID != "" && s.Admin:
		checks = append(checks,
			check{ScopeAdmin, "min", s.UserID, l.policy.Admin},
			check{ScopeAdmin, "burst", s.UserID, l.policy.AdminBurst},
		)
	case s.UserID != "":
		checks = append(checks,
			check{ScopeUser, "min", s.UserID, l.policy.User},
			check{ScopeUser, "burst", s.UserID, l.policy.UserBurst},
		)
	}

	keys := make([]Key, len(checks))
	for i, c := range checks {
		keys[i] = Key{Name: string(c.scope) + ":" + c.tag + ":" + c.id, Window: c.win}
	}
	decisions, err := l.store.Hit(ctx, keys, now)
	if err != nil {
		return Result{}, err
	}

	res := Result{Allowed: true}
	for i, c := range checks {
		d := decisions[i]
		if !d.Allowed {
			return Result{Allowed: false, Scope: c.scope, Decision: d}, nil
		}
		if c.tag == "min" {
			res.Scope = c.scope
			res.Decision = d
		}
	}
	return res, nil
}
