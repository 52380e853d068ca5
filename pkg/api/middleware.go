package api

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strings"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/testcycle/pkg/api/store"
	"github.com/ethpandaops/testcycle/pkg/config"
	"github.com/ethpandaops/testcycle/pkg/lifecycle"
)

type ctxKey int

const userKey ctxKey = iota

// touchInterval throttles last-seen bookkeeping for sessions.
const touchInterval = 5 * time.Minute

// requestLogger logs each request with its status once it completes.
func (s *server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r)

		s.log.WithFields(logrus.Fields{
			"request_id": chimw.GetReqID(r.Context()),
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     ww.Status(),
			"bytes":      ww.BytesWritten(),
			"duration":   time.Since(start),
		}).Debug("Request handled")
	})
}

// sessionToken reads the session token from the cookie, falling back to
// an Authorization bearer header for non-browser clients.
func sessionToken(r *http.Request) string {
	if c, err := r.Cookie(sessionCookie); err == nil && c.Value != "" {
		return c.Value
	}

	if token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return strings.TrimSpace(token)
	}

	return ""
}

// identify resolves the user behind r's session. A request without a
// session token yields a nil user and no error.
func (s *server) identify(r *http.Request) (*store.User, error) {
	token := sessionToken(r)
	if token == "" {
		return nil, nil
	}

	sess, err := s.store.SessionByToken(r.Context(), token, time.Now().UTC())
	if err != nil {
		return nil, err
	}

	if sess.LastSeenAt == nil || time.Since(*sess.LastSeenAt) > touchInterval {
		id := sess.ID

		s.background(func(ctx context.Context) {
			if err := s.store.TouchSession(ctx, id, time.Now().UTC()); err != nil {
				s.log.WithError(err).Warn("Failed to touch session")
			}
		})
	}

	return &sess.User, nil
}

// authenticate puts the session user into the request context. Without
// anonymous access a request must carry a session; a token that does not
// resolve is rejected either way.
func (s *server) authenticate(anonymous bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, err := s.identify(r)

			switch {
			case errors.Is(err, store.ErrNotFound):
				writeJSON(w, http.StatusUnauthorized,
					errorResponse{"invalid or expired session"})
			case err != nil:
				s.writeInternalError(w, err, "Failed to resolve session")
			case user == nil && !anonymous:
				writeJSON(w, http.StatusUnauthorized,
					errorResponse{"authentication required"})
			case user == nil:
				next.ServeHTTP(w, r)
			default:
				next.ServeHTTP(w, r.WithContext(
					context.WithValue(r.Context(), userKey, user)))
			}
		})
	}
}

// allowRoles rejects authenticated users whose account role is not
// listed. Mount it after authenticate(false).
func allowRoles(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := userFromContext(r.Context())
			if user == nil || !slices.Contains(roles, user.Role) {
				writeJSON(w, http.StatusForbidden,
					errorResponse{"insufficient permissions"})

				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// writers may change executions; readonly accounts may only read.
var writers = allowRoles(config.RoleAdmin, config.RoleUser)

// background runs fn detached from the request; Stop waits for it.
func (s *server) background(fn func(ctx context.Context)) {
	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		fn(ctx)
	}()
}

func userFromContext(ctx context.Context) *store.User {
	user, _ := ctx.Value(userKey).(*store.User)

	return user
}

// actorFromContext returns the lifecycle actor for the request, which is
// anonymous when no user is authenticated.
func actorFromContext(ctx context.Context) lifecycle.Actor {
	if user := userFromContext(ctx); user != nil {
		return lifecycle.Actor{Username: user.Username}
	}

	return lifecycle.Actor{}
}
