package shield

import (
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateRule limits one endpoint ("METHOD /path" pattern, matched on the
// chi route pattern when available and the raw path otherwise).
type RateRule struct {
	Endpoint string        `yaml:"endpoint"`
	Requests int           `yaml:"requests"`
	Per      time.Duration `yaml:"per"`
}

// RateLimiter applies token buckets per client IP and endpoint. Idle
// buckets are dropped by Sweep.
type RateLimiter struct {
	rules map[string]RateRule

	mu      sync.Mutex
	clients map[string]*client
}

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter builds a limiter. Endpoints without a rule are not limited.
func NewRateLimiter(rules []RateRule) *RateLimiter {
	rl := &RateLimiter{
		rules:   make(map[string]RateRule, len(rules)),
		clients: make(map[string]*client),
	}
	for _, r := range rules {
		if r.Requests > 0 && r.Per > 0 {
			rl.rules[r.Endpoint] = r
		}
	}
	return rl
}

func (rl *RateLimiter) allow(ip, endpoint string, now time.Time) bool {
	rule, ok := rl.rules[endpoint]
	if !ok {
		return true
	}
	key := ip + " " + endpoint

	rl.mu.Lock()
	c, ok := rl.clients[key]
	if !ok {
		// Burst of Requests, refilled evenly over Per.
		c = &client{limiter: rate.NewLimiter(rate.Every(rule.Per/time.Duration(rule.Requests)), rule.Requests)}
		rl.clients[key] = c
	}
	c.lastSeen = now
	rl.mu.Unlock()

	return c.limiter.AllowN(now, 1)
}

// Sweep forgets clients idle for longer than idle.
func (rl *RateLimiter) Sweep(idle time.Duration) {
	cutoff := time.Now().Add(-idle)
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for k, c := range rl.clients {
		if c.lastSeen.Before(cutoff) {
			delete(rl.clients, k)
		}
	}
}

// Middleware rejects requests over their endpoint's rate with 429.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		endpoint := r.Method + " " + r.URL.Path
		ip := ExtractIP(r)
		if rl.allow(ip, endpoint, time.Now()) {
			next.ServeHTTP(w, r)
			return
		}

		GetLogger(r.Context()).Warn("rate limit exceeded", "ip", ip, "endpoint", endpoint)
		if rule, ok := rl.rules[endpoint]; ok {
			secs := int((rule.Per / time.Duration(rule.Requests)).Seconds())
			w.Header().Set("Retry-After", strconv.Itoa(max(secs, 1)))
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]string{"error": "rate limit exceeded"})
	})
}

// ExtractIP returns the first X-Forwarded-For hop, or the RemoteAddr host.
func ExtractIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
