package server

import (
	"context"
	"net/http"
	"strings"
)

const (
	// CookieName is the name of the session cookie carrying the user id
	CookieName = "prlens_session"
	// UserHeader is the header fallback for clients without cookies
	UserHeader = "X-User-Id"
)

type ctxKey struct{}

// GetSessionCookie reads the user id from the cookie
func GetSessionCookie(r *http.Request) (string, error) {
	cookie, err := r.Cookie(CookieName)
	if err != nil {
		return "", err
	}
	return cookie.Value, nil
}

// getUserID retrieves the caller's user id from the cookie, then the header.
func getUserID(r *http.Request) string {
	if uid, err := GetSessionCookie(r); err == nil && strings.TrimSpace(uid) != "" {
		return strings.TrimSpace(uid)
	}
	return strings.TrimSpace(r.Header.Get(UserHeader))
}

// requireUser rejects requests without a caller identity.
func requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		uid := getUserID(r)
		if uid == "" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"Unauthorized"}` + "\n"))
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, uid)))
	})
}

func userFrom(r *http.Request) string {
	uid, _ := r.Context().Value(ctxKey{}).(string)
	return uid
}
