// Package identity resolves which student an HTTP request speaks for.
package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"strings"
	"time"
)

const (
	AnonCookieName      = "tutormesh_student"
	StudentHeaderName   = "X-Student-ID"
	anonCookieMaxAge    = 30 * 24 * time.Hour
	maxStudentIDLength  = 128
	anonymousIDHexBytes = 16
)

type contextKey int

const studentIDKey contextKey = iota

var (
	anonIDPattern    = regexp.MustCompile(`^student_[a-f0-9]{32}$`)
	studentIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:@-]+$`)
)

// StudentIDFromContext returns the student resolved by Middleware.
func StudentIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(studentIDKey).(string); ok {
		return v
	}
	return ""
}

// Resolve prefers an explicit student id supplied with the request and falls
// back to the one established by Middleware. Invalid explicit ids are
// ignored.
func Resolve(ctx context.Context, explicit string) string {
	if id := Sanitize(explicit); id != "" {
		return id
	}
	return StudentIDFromContext(ctx)
}

// Sanitize returns id trimmed, or "" when it is not a usable student id.
func Sanitize(id string) string {
	id = strings.TrimSpace(id)
	if id == "" || len(id) > maxStudentIDLength || !studentIDPattern.MatchString(id) {
		return ""
	}
	return id
}

func generateAnonID() (string, error) {
	buf := make([]byte, anonymousIDHexBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate anonymous id: %w", err)
	}
	return "student_" + hex.EncodeToString(buf), nil
}

func isValidAnonID(id string) bool {
	return anonIDPattern.MatchString(id)
}

func setAnonCookie(w http.ResponseWriter, id string, isDev bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     AnonCookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(anonCookieMaxAge.Seconds()),
		Expires:  time.Now().Add(anonCookieMaxAge),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   !isDev,
	})
}

func getOrCreateAnonID(w http.ResponseWriter, r *http.Request, isDev bool) (string, error) {
	if c, err := r.Cookie(AnonCookieName); err == nil && isValidAnonID(c.Value) {
		setAnonCookie(w, c.Value, isDev)
		return c.Value, nil
	}

	id, err := generateAnonID()
	if err != nil {
		return "", err
	}
	setAnonCookie(w, id, isDev)
	return id, nil
}

// Middleware puts a student id in the request context: the X-Student-ID
// header when valid, otherwise an anonymous per-device cookie.
func Middleware(isDev bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			studentID := Sanitize(r.Header.Get(StudentHeaderName))
			if studentID == "" {
				var err error
				studentID, err = getOrCreateAnonID(w, r, isDev)
				if err != nil {
					http.Error(w, `{"status":"error","message":"failed to establish anonymous identity"}`, http.StatusInternalServerError)
					return
				}
			}

			ctx := context.WithValue(r.Context(), studentIDKey, studentID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// IPFromRequest returns a normalized remote IP for request tracing.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
