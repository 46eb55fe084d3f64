package middleware

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/jsamuelsen11/go-actionbus/internal/adapters/http/dto"
)

const (
	headerSubjectID = "X-Subject-ID"

	defaultIdleTTL = 10 * time.Minute

	// evictEvery is how many Allow calls pass between idle sweeps.
	evictEvery = 512
)

// SubjectLimiter applies a token bucket per caller and periodically evicts
// callers that have been idle longer than the TTL. A nil *SubjectLimiter
// allows everything.
type SubjectLimiter struct {
	limit   rate.Limit
	burst   int
	idleTTL time.Duration

	mu    sync.Mutex
	byKey map[string]*limiterEntry
	hits  uint64
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewSubjectLimiter returns nil when rps or burst is not positive, which
// disables limiting.
func NewSubjectLimiter(rps float64, burst int, idleTTL time.Duration) *SubjectLimiter {
	if rps <= 0 || burst <= 0 {
		return nil
	}
	if idleTTL <= 0 {
		idleTTL = defaultIdleTTL
	}
	return &SubjectLimiter{
		limit:   rate.Limit(rps),
		burst:   burst,
		idleTTL: idleTTL,
		byKey:   make(map[string]*limiterEntry),
	}
}

// Allow reports whether key may make one more request at now.
func (l *SubjectLimiter) Allow(key string, now time.Time) bool {
	if l == nil {
		return true
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.byKey[key]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.byKey[key] = e
	}
	e.lastSeen = now
	allowed := e.limiter.AllowN(now, 1)

	l.hits++
	if l.hits%evictEvery == 0 {
		cutoff := now.Add(-l.idleTTL)
		for k, v := range l.byKey {
			if v.lastSeen.Before(cutoff) {
				delete(l.byKey, k)
			}
		}
	}
	return allowed
}

// Len returns the number of callers currently tracked.
func (l *SubjectLimiter) Len() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.byKey)
}

// RateLimit returns middleware that rejects callers over their budget with
// 429. Callers are keyed by X-Subject-ID, falling back to the client IP.
func RateLimit(l *SubjectLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if l == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !l.Allow(callerKey(r), time.Now()) {
				w.Header().Set("Retry-After", "1")
				dto.WriteErrorResponse(w, r, dto.ErrRateLimited)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func callerKey(r *http.Request) string {
	if id := r.Header.Get(headerSubjectID); id != "" {
		return "subject:" + id
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}
