package api

import (
	"context"
	"crypto/subtle"
	"net/http"

	"golang.org/x/crypto/bcrypt"
)

type contextKey string

const userContextKey contextKey = "user"

// requireAdmin checks HTTP basic credentials against the configured bcrypt
// hashes and injects the username into the request context.
func (s *server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		username, password, ok := r.BasicAuth()
		if !ok {
			w.Header().Set("WWW-Authenticate", `Basic realm="regressoor"`)
			writeJSON(w, http.StatusUnauthorized, errorResponse{"authentication required"})

			return
		}

		if !s.checkCredentials(username, password) {
			s.log.WithField("username", username).Warn("Rejected admin credentials")
			writeJSON(w, http.StatusUnauthorized, errorResponse{"invalid credentials"})

			return
		}

		ctx := context.WithValue(r.Context(), userContextKey, username)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *server) checkCredentials(username, password string) bool {
	for _, u := range s.cfg.Admin.Users {
		if subtle.ConstantTimeCompare([]byte(u.Username), []byte(username)) != 1 {
			continue
		}

		return bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) == nil
	}

	return false
}

// userFromContext returns the authenticated admin, if any.
func userFromContext(ctx context.Context) string {
	user, _ := ctx.Value(userContextKey).(string)

	return user
}
