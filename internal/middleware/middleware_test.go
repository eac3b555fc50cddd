package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"process-calendar-api/internal/auth"
	"process-calendar-api/internal/ratelimit"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func TestRequireAuth(t *testing.T) {
	iss := auth.NewIssuer("secret", time.Minute)
	tok, _ := iss.Make("u1", "admin")

	var gotUser string
	var gotAdmin bool
	h := RequireAuth(iss)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser, gotAdmin = UserID(r.Context()), IsAdmin(r.Context())
	}))

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"garbage", "Bearer nope", http.StatusUnauthorized},
		{"valid", "Bearer " + tok, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/events", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
	assert.Equal(t, "u1", gotUser)
	assert.True(t, gotAdmin)
}

func newLimiter(user, ip int) *ratelimit.Limiter {
	return ratelimit.New(ratelimit.NewMemoryStore(), ratelimit.NewPolicy(user, user, ip, 1000, 1000, 1000))
}

func TestRateLimitHeadersAndDenial(t *testing.T) {
	iss := auth.NewIssuer("secret", time.Minute)
	tok, _ := iss.Make("u1", "user")
	h := RateLimit(newLimiter(2, 100), iss, false)(okHandler)

	do := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/events", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		req.Header.Set("Authorization", "Bearer "+tok)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	rec := do()
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "1", rec.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, "60", rec.Header().Get("X-RateLimit-Reset"))

	require.Equal(t, http.StatusOK, do().Code)

	rec = do()
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	var body struct {
		Detail     string `json:"detail"`
		RetryAfter int    `json:"retryAfter"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, 60, body.RetryAfter)
	assert.NotEmpty(t, body.Detail)
}

func TestRateLimitBadTokenFallsBackToIP(t *testing.T) {
	iss := auth.NewIssuer("secret", time.Minute)
	h := RateLimit(newLimiter(1, 3), iss, false)(okHandler)

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/events", nil)
		req.RemoteAddr = "10.0.0.2:1"
		req.Header.Set("Authorization", "Bearer broken")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		// user limit of 1 would deny the second call if it applied
		require.Equal(t, http.StatusOK, rec.Code, "request %d", i+1)
		assert.Equal(t, "3", rec.Header().Get("X-RateLimit-Limit"))
	}
}

func TestRateLimitSkipsHealth(t *testing.T) {
	h := RateLimit(newLimiter(1, 1), auth.NewIssuer("s", 0), false)(okHandler)
	for i := 0; i < 5; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	}
}

type failingStore struct{}

func (failingStore) Hit(context.Context, []ratelimit.Key, time.Time) ([]ratelimit.Decision, error) {
	return nil, errors.New("redis down")
}

func TestRateLimitFailsOpen(t *testing.T) {
	l := ratelimit.New(failingStore{}, ratelimit.NewPolicy(1, 1, 1, 1, 1, 1))
	h := RateLimit(l, auth.NewIssuer("s", 0), false)(okHandler)
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/events", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name    string
		remote  string
		xff     string
		realIP  string
		trusted bool
		want    string
	}{
		{"remote addr", "1.2.3.4:555", "", "", false, "1.2.3.4"},
		{"xff ignored when untrusted", "1.2.3.4:555", "9.9.9.9", "", false, "1.2.3.4"},
		{"xff first hop", "1.2.3.4:555", "9.9.9.9, 10.0.0.1", "", true, "9.9.9.9"},
		{"real ip", "1.2.3.4:555", "", "8.8.8.8", true, "8.8.8.8"},
		{"no port", "1.2.3.4", "", "", false, "1.2.3.4"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.realIP != "" {
				req.Header.Set("X-Real-IP", tt.realIP)
			}
			assert.Equal(t, tt.want, ClientIP(req, tt.trusted))
		})
	}
}

func TestThrottle(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	th := NewThrottle(ctx, 1, 2)
	h := th.Middleware(false)(okHandler)

	got := []int{}
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
		req.RemoteAddr = "5.5.5.5:1"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		got = append(got, rec.Code)
	}
	assert.Equal(t, []int{200, 200, 429}, got)

	th.sweep(time.Now().Add(time.Hour), time.Minute)
	assert.Empty(t, th.clients)
}

func TestRecoverAndRequestID(t *testing.T) {
	log := logrus.New()
	log.SetOutput(io.Discard)
	h := RequestID(log)(Recover(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "req-123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "req-123", rec.Header().Get(RequestIDHeader))
	var body map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "req-123", body["requestId"])
}

func TestCORS(t *testing.T) {
	h := CORS([]string{"https://app.example.com"})(okHandler)

	req := httptest.NewRequest(http.MethodOptions, "/events", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/events", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestUnaryAuth(t *testing.T) {
	iss := auth.NewIssuer("secret", time.Minute)
	tok, _ := iss.Make("u1", "user")
	icpt := UnaryAuth(iss, map[string]bool{"/open": true})

	handler := func(ctx context.Context, req any) (any, error) { return UserID(ctx), nil }

	_, err := icpt(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: "/closed"}, handler)
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	out, err := icpt(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: "/open"}, handler)
	require.NoError(t, err)
	assert.Equal(t, "", out)

	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs("authorization", "Bearer "+tok))
	out, err = icpt(ctx, nil, &grpc.UnaryServerInfo{FullMethod: "/closed"}, handler)
	require.NoError(t, err)
	assert.Equal(t, "u1", out)
}
