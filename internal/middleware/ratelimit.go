package middleware

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const maxTrackedClients = 10000

type window struct {
	used  int
	reset time.Time
}

// RateLimit admits limit requests per caller in each fixed window of length
// per. Authenticated callers are keyed by user id so several users behind one
// NAT do not share a budget; anonymous callers fall back to their IP.
func RateLimit(limit int, per time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limit <= 0 {
			return next
		}
		var mu sync.Mutex
		windows := expirable.NewLRU[string, *window](maxTrackedClients, nil, per)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := rateLimitKey(r)
			now := time.Now()

			mu.Lock()
			win, ok := windows.Get(key)
			if !ok || !now.Before(win.reset) {
				win = &window{reset: now.Add(per)}
				windows.Add(key, win)
			}
			allowed := win.used < limit
			if allowed {
				win.used++
			}
			remaining := limit - win.used
			reset := win.reset
			mu.Unlock()

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			if !allowed {
				w.Header().Set("Retry-After", strconv.Itoa(int(reset.Sub(now).Seconds())+1))
				writeError(w, http.StatusTooManyRequests, "rate_limited", "too many requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func rateLimitKey(r *http.Request) string {
	if uid := UserIDFromContext(r.Context()); uid != "" {
		return "user:" + uid
	}
	return "ip:" + clientIPForRateLimit(r)
}

func clientIPForRateLimit(r *http.Request) string {
	for _, part := range strings.Split(r.Header.Get("X-Forwarded-For"), ",") {
		if ip := strings.TrimSpace(part); net.ParseIP(ip) != nil {
			return ip
		}
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && net.ParseIP(host) != nil {
		return host
	}
	return r.RemoteAddr
}
