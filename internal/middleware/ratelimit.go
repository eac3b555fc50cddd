package middleware

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"process-calendar-api/internal/auth"
	"process-calendar-api/internal/logging"
	"process-calendar-api/internal/metrics"
	"process-calendar-api/internal/ratelimit"
)

type client struct {
	lim  *rate.Limiter
	seen time.Time
}

// Throttle is a per-IP token bucket used in front of the credential
// endpoints, on top of the sliding-window limits.
type Throttle struct {
	mu      sync.Mutex
	clients map[string]*client
	r       rate.Limit
	burst   int
}

// NewThrottle starts a sweeper that drops idle clients until ctx ends.
func NewThrottle(ctx context.Context, rps float64, burst int) *Throttle {
	t := &Throttle{
		clients: make(map[string]*client),
		r:       rate.Limit(rps),
		burst:   burst,
	}
	go func() {
		tick := time.NewTicker(time.Minute)
		defer tick.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-tick.C:
				t.sweep(now, 3*time.Minute)
			}
		}
	}()
	return t
}

func (t *Throttle) sweep(now time.Time, idle time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for ip, c := range t.clients {
		if now.Sub(c.seen) > idle {
			delete(t.clients, ip)
		}
	}
}

func (t *Throttle) get(ip string) *rate.Limiter {
	t.mu.Lock()
	defer t.mu.Unlock()
	if c, ok := t.clients[ip]; ok {
		c.seen = time.Now()
		return c.lim
	}
	l := rate.NewLimiter(t.r, t.burst)
	t.clients[ip] = &client{lim: l, seen: time.Now()}
	return l
}

func (t *Throttle) Allow(ip string) bool { return t.get(ip).Allow() }

func (t *Throttle) Middleware(trustProxy bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !t.Allow(ClientIP(r, trustProxy)) {
				metrics.RecordRateLimited("auth")
				w.Header().Set("Retry-After", "1")
				writeJSON(w, http.StatusTooManyRequests, map[string]any{
					"detail":     "Too many requests",
					"retryAfter": 1,
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// skipRateLimit lists paths that probes and scrapers hit.
var skipRateLimit = map[string]bool{
	"/health":  true,
	"/metrics": true,
}

// RateLimit applies the sliding-window limiter. The caller is identified
// from the bearer token when it parses; otherwise only the IP scope
// applies. Store failures let the request through.
func RateLimit(l *ratelimit.Limiter, iss *auth.Issuer, trustProxy bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if skipRateLimit[r.URL.Path] || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			sub := ratelimit.Subject{IP: ClientIP(r, trustProxy)}
			if raw := auth.BearerToken(r.Header.Get("Authorization")); raw != "" {
				if c, err := iss.Parse(raw); err == nil {
					sub.UserID = c.UserID
					sub.Admin = c.Admin()
				}
			}

			res, err := l.Check(r.Context(), sub)
			if err != nil {
				logging.FromContext(r.Context()).WithError(err).Warn("rate limiter unavailable, allowing request")
				next.ServeHTTP(w, r)
				return
			}

			setRateHeaders(w.Header(), res.Decision)
			if !res.Allowed {
				metrics.RecordRateLimited(string(res.Scope))
				retry := res.Decision.RetryAfterSeconds()
				w.Header().Set("Retry-After", strconv.Itoa(retry))
				writeJSON(w, http.StatusTooManyRequests, map[string]any{
					"detail":     "Rate limit exceeded",
					"retryAfter": retry,
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func setRateHeaders(h http.Header, d ratelimit.Decision) {
	remaining := d.Remaining
	if remaining < 0 {
		remaining = 0
	}
	reset := 0
	if d.Reset > 0 {
		reset = int((d.Reset + time.Second - 1) / time.Second)
	}
	h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	h.Set("X-RateLimit-Reset", strconv.Itoa(reset))
}

// UnaryRateLimit applies the sliding-window limiter by peer address and,
// when the metadata carries a valid token, by user. Calls from loopback may
// name the real client in x-forwarded-for.
func UnaryRateLimit(l *ratelimit.Limiter, iss *auth.Issuer) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
		sub := ratelimit.Subject{IP: "unknown"}
		if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
			sub.IP = p.Addr.String()
			if host, _, err := net.SplitHostPort(sub.IP); err == nil {
				sub.IP = host
			}
		}
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			// the grpc-web bridge runs in-process and dials loopback
			if fwd := md.Get("x-forwarded-for"); len(fwd) > 0 && isLoopback(sub.IP) {
				sub.IP = fwd[0]
			}
			if vals := md.Get("authorization"); len(vals) > 0 {
				if c, err := iss.Parse(auth.BearerToken(vals[0])); err == nil {
					sub.UserID = c.UserID
					sub.Admin = c.Admin()
				}
			}
		}

		res, err := l.Check(ctx, sub)
		if err != nil {
			logging.FromContext(ctx).WithError(err).Warn("rate limiter unavailable, allowing call")
			return next(ctx, req)
		}
		if !res.Allowed {
			metrics.RecordRateLimited(string(res.Scope))
			_ = grpc.SetHeader(ctx, metadata.Pairs("retry-after", strconv.Itoa(res.Decision.RetryAfterSeconds())))
			return nil, status.Errorf(codes.ResourceExhausted, "rate limit exceeded, retry after %ds", res.Decision.RetryAfterSeconds())
		}
		return next(ctx, req)
	}
}

func isLoopback(ip string) bool {
	p := net.ParseIP(ip)
	return p != nil && p.IsLoopback()
}
