package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/coder/quartz"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/sdko-org/visitor-beacon/internal/beacon"
	"github.com/sdko-org/visitor-beacon/internal/metrics"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

type contextKey int

const (
	requestIDKey contextKey = iota
	ownerIDKey
)

const requestIDHeader = "X-Request-ID"

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
	bytesSent  int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Write(b []byte) (int, error) {
	n, err := lrw.ResponseWriter.Write(b)
	lrw.bytesSent += n
	return n, err
}

func RequestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

func OwnerIDFrom(ctx context.Context) (uint, bool) {
	id, ok := ctx.Value(ownerIDKey).(uint)
	return id, ok
}

// RequestIDMiddleware keeps an incoming X-Request-ID or mints one.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" || len(id) > 64 {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	})
}

func LoggingMiddleware(logger *logrus.Logger, m *metrics.Metrics) mux.MiddlewareFunc {
	logEntry := logger.WithField("component", "http_middleware")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			lrw := &loggingResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			defer func() {
				duration := time.Since(start)
				logEntry.WithFields(logrus.Fields{
					"method":     r.Method,
					"path":       r.URL.Path,
					"status":     lrw.statusCode,
					"duration":   duration,
					"client_ip":  beacon.ClientIP(r),
					"bytes":      lrw.bytesSent,
					"user_agent": r.UserAgent(),
					"request_id": RequestIDFrom(r.Context()),
				}).Info("Request processed")

				if m != nil {
					m.ObserveHTTP(r.Method, routeTemplate(r), lrw.statusCode, duration)
				}
			}()

			next.ServeHTTP(lrw, r)
		})
	}
}

func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter hands each client IP a token bucket of limit requests per
// window. Idle buckets are dropped by Start.
type RateLimiter struct {
	limit  rate.Limit
	burst  int
	clock  quartz.Clock
	logger *logrus.Entry

	mu      sync.Mutex
	clients map[string]*clientLimiter
}

func NewRateLimiter(logger *logrus.Logger, clock quartz.Clock, limit int, window time.Duration) *RateLimiter {
	if limit < 1 {
		limit = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &RateLimiter{
		limit:   rate.Limit(float64(limit) / window.Seconds()),
		burst:   limit,
		clock:   clock,
		logger:  logger.WithField("component", "rate_limiter"),
		clients: make(map[string]*clientLimiter),
	}
}

func (rl *RateLimiter) Allow(ip string) bool {
	now := rl.clock.Now()

	rl.mu.Lock()
	client, exists := rl.clients[ip]
	if !exists {
		client = &clientLimiter{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.clients[ip] = client
	}
	client.lastSeen = now
	rl.mu.Unlock()

	return client.limiter.AllowN(now, 1)
}

func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.Allow(beacon.ClientIP(r)) {
			writeError(w, http.StatusTooManyRequests, codeRateLimited)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Start evicts clients idle for three minutes until ctx is done.
func (rl *RateLimiter) Start(ctx context.Context) {
	ticker := rl.clock.NewTicker(time.Minute, "rate_limiter", "cleanup")
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := rl.cleanup(); n > 0 {
				rl.logger.WithField("evicted", n).Debug("Dropped idle rate limit buckets")
			}
		case <-ctx.Done():
			return
		}
	}
}

func (rl *RateLimiter) cleanup() int {
	cutoff := rl.clock.Now().Add(-3 * time.Minute)

	rl.mu.Lock()
	defer rl.mu.Unlock()
	n := 0
	for ip, client := range rl.clients {
		if client.lastSeen.Before(cutoff) {
			delete(rl.clients, ip)
			n++
		}
	}
	return n
}

// Auth verifies HS256 bearer tokens whose subject is the owner's user id.
type Auth struct {
	secret []byte
}

func NewAuth(secret string) *Auth {
	return &Auth{secret: []byte(secret)}
}

func (a *Auth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ownerID, err := a.verify(r.Header.Get("Authorization"))
		if err != nil {
			writeError(w, http.StatusUnauthorized, codeUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ownerIDKey, ownerID)))
	})
}

func (a *Auth) verify(header string) (uint, error) {
	tokenString, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || tokenString == "" {
		return 0, errors.New("missing bearer token")
	}

	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return 0, errors.New("invalid token")
	}

	id, err := strconv.ParseUint(claims.Subject, 10, 64)
	if err != nil || id == 0 {
		return 0, errors.New("invalid subject")
	}
	return uint(id), nil
}
