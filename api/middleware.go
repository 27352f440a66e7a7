package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"fathom-crm/core/auth"
	"fathom-crm/core/utils"
)

const (
	sessionCookie               = "fathom_session"
	csrfCookie                  = "fathom_csrf"
	sessionActivityInterval     = 30 * time.Second
	loginPayloadMaxBytes        = 64 * 1024
	loginLimiterTTL             = 10 * time.Minute
	loginLimiterCleanupInterval = time.Minute
	loginLimiterMaxBuckets      = 10000
)

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if s.logger != nil {
					s.logger.Errorf("PANIC %s %s: %v\n%s", r.Method, r.URL.Path, rec, string(debug.Stack()))
				}
				http.Error(w, "internal server error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "SAMEORIGIN")
		w.Header().Set("Referrer-Policy", "no-referrer")
		next.ServeHTTP(w, r)
	})
}

func (s *Server) jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	size   int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	n, err := r.ResponseWriter.Write(b)
	r.size += n
	return n, err
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		if s.logger != nil {
			user := "-"
			if sess := auth.SessionFromContext(r.Context()); sess != nil {
				user = sess.Username
			}
			s.logger.Printf("RESP %s %s user=%s status=%d dur=%s bytes=%d", r.Method, r.URL.Path, user, rec.status, time.Since(start), rec.size)
		}
	})
}

type sessionActivity struct {
	mu   sync.Mutex
	last map[string]time.Time
}

var activityTracker = &sessionActivity{last: map[string]time.Time{}}

func (sa *sessionActivity) shouldUpdate(id string, now time.Time, interval time.Duration) bool {
	sa.mu.Lock()
	defer sa.mu.Unlock()
	last, ok := sa.last[id]
	if !ok || now.Sub(last) >= interval {
		sa.last[id] = now
		return true
	}
	return false
}

func (s *Server) withSession(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(sessionCookie)
		if err != nil || cookie.Value == "" {
			if s.logger != nil {
				s.logger.Printf("AUTH fail (missing cookie) %s %s", r.Method, r.URL.Path)
			}
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		sess, err := s.sessions.GetSession(r.Context(), cookie.Value)
		if err != nil || sess == nil || sess.ExpiresAt.Before(time.Now().UTC()) {
			if s.logger != nil {
				s.logger.Printf("AUTH fail (session not found) %s %s: %v", r.Method, r.URL.Path, err)
			}
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		user, err := s.users.GetUser(r.Context(), sess.UserID)
		if err != nil || user == nil || !user.Active {
			if s.logger != nil {
				s.logger.Printf("AUTH fail (user inactive/missing) %s %s: %v", r.Method, r.URL.Path, err)
			}
			_ = s.sessions.DeleteSession(r.Context(), sess.ID)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		// CSRF for state-changing methods
		if r.Method != http.MethodGet && r.Method != http.MethodHead && r.Method != http.MethodOptions {
			csrfHeader := r.Header.Get("X-CSRF-Token")
			csrfCookieVal, _ := r.Cookie(csrfCookie)
			boundToSession := s.cfg == nil || s.cfg.CSRFKey == "" || auth.VerifyCSRF(s.cfg.CSRFKey, sess.ID, csrfHeader)
			if csrfHeader == "" || csrfCookieVal == nil || csrfHeader != csrfCookieVal.Value || csrfHeader != sess.CSRFToken || !boundToSession {
				if s.logger != nil {
					s.logger.Printf("AUTH fail (csrf) %s %s user=%s", r.Method, r.URL.Path, sess.Username)
				}
				http.Error(w, "csrf invalid", http.StatusForbidden)
				return
			}
		}
		ctx := context.WithValue(r.Context(), auth.SessionContextKey, sess)
		ctx = context.WithValue(ctx, auth.UserContextKey, user)
		now := time.Now().UTC()
		if activityTracker.shouldUpdate(sess.ID, now, sessionActivityInterval) {
			_ = s.sessions.TouchSession(r.Context(), sess.ID, now, now.Add(s.cfg.EffectiveSessionTTL()))
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	}
}

// requireKnob gates a handler on the user's effective feature permission.
func (s *Server) requireKnob(knobKey string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := auth.UserFromContext(r.Context())
		if user == nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if err := s.authz.RequirePermission(r.Context(), user, knobKey); err != nil {
			if s.logger != nil {
				s.logger.Printf("PERM fail %s %s user=%s need=%s", r.Method, r.URL.Path, user.Username, knobKey)
			}
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	}
}

// requirePlanFeature gates a handler on the org's billing plan. It is
// independent of requireKnob; routes needing both stack the two.
func (s *Server) requirePlanFeature(knobKey string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := auth.UserFromContext(r.Context())
		if user == nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		ok, err := s.gate.ForRequest().HasFeature(r.Context(), user.OrgID, knobKey)
		if err != nil {
			http.Error(w, "server error", http.StatusInternalServerError)
			return
		}
		if !ok {
			if s.logger != nil {
				s.logger.Printf("PLAN fail %s %s org=%d need=%s", r.Method, r.URL.Path, user.OrgID, knobKey)
			}
			http.Error(w, "feature not available on current plan", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	}
}

type requestLimiter struct {
	mu              sync.Mutex
	buckets         map[string]*tokenBucket
	capacity        int
	refill          time.Duration
	ttl             time.Duration
	cleanupInterval time.Duration
	lastCleanup     time.Time
	maxBuckets      int
}

type tokenBucket struct {
	tokens   int
	last     time.Time
	lastSeen time.Time
}

func newLimiter(capacity int, refill time.Duration) *requestLimiter {
	return &requestLimiter{
		buckets:         make(map[string]*tokenBucket),
		capacity:        capacity,
		refill:          refill,
		ttl:             loginLimiterTTL,
		cleanupInterval: loginLimiterCleanupInterval,
		maxBuckets:      loginLimiterMaxBuckets,
	}
}

func (l *requestLimiter) allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	if l.cleanupInterval > 0 && now.Sub(l.lastCleanup) >= l.cleanupInterval {
		l.cleanup(now)
		l.lastCleanup = now
	}
	tb, ok := l.buckets[key]
	if !ok {
		l.buckets[key] = &tokenBucket{tokens: l.capacity - 1, last: now, lastSeen: now}
		return true
	}
	tb.lastSeen = now
	if now.Sub(tb.last) >= l.refill {
		tb.tokens = l.capacity
		tb.last = now
	}
	if tb.tokens <= 0 {
		return false
	}
	tb.tokens--
	return true
}

func (l *requestLimiter) cleanup(now time.Time) {
	if l.ttl > 0 {
		for key, tb := range l.buckets {
			if now.Sub(tb.lastSeen) > l.ttl {
				delete(l.buckets, key)
			}
		}
	}
	if l.maxBuckets > 0 && len(l.buckets) > l.maxBuckets {
		for len(l.buckets) > l.maxBuckets {
			oldestKey := ""
			var oldest time.Time
			for key, tb := range l.buckets {
				if oldestKey == "" || tb.lastSeen.Before(oldest) {
					oldestKey = key
					oldest = tb.lastSeen
				}
			}
			if oldestKey == "" {
				break
			}
			delete(l.buckets, oldestKey)
		}
	}
}

var loginLimiter = newLimiter(5, time.Minute)

func (s *Server) rateLimitMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ip := s.clientIP(r)
		r.Body = http.MaxBytesReader(w, r.Body, loginPayloadMaxBytes+1)
		body, err := io.ReadAll(r.Body)
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
				return
			}
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))

		var cred auth.Credentials
		_ = json.Unmarshal(body, &cred)
		username := strings.ToLower(strings.TrimSpace(cred.Username))
		if !loginLimiter.allow(strings.ToLower(ip)) {
			http.Error(w, "too many attempts", http.StatusTooManyRequests)
			return
		}
		if username != "" && !loginLimiter.allow("user|"+username) {
			http.Error(w, "too many attempts", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	}
}

func (s *Server) clientIP(r *http.Request) string {
	var trusted []string
	if s != nil && s.cfg != nil {
		trusted = s.cfg.Security.TrustedProxies
	}
	return utils.ClientIP(r, trusted)
}
