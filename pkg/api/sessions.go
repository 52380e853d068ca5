package api

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/ethpandaops/testcycle/pkg/api/store"
)

const (
	sessionCookie     = "testcycle_session"
	sessionTokenBytes = 32
)

var errBadCredentials = errors.New("invalid credentials")

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// identity is who the caller is and what they hold in each project.
type identity struct {
	Username string             `json:"username"`
	Role     string             `json:"role"`
	Projects map[int64][]string `json:"projects"`
}

type loginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	User      identity  `json:"user"`
}

// handleLogin checks a username and password and opens a session. The
// token is set as a cookie and returned for bearer use.
func (s *server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var c credentials
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil || c.Username == "" || c.Password == "" {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"username and password are required"})

		return
	}

	user, err := s.verify(r.Context(), c)
	if errors.Is(err, errBadCredentials) {
		writeJSON(w, http.StatusUnauthorized, errorResponse{err.Error()})

		return
	} else if err != nil {
		s.writeInternalError(w, err, "Failed to verify credentials")

		return
	}

	sess, err := s.openSession(r.Context(), user)
	if err != nil {
		s.writeInternalError(w, err, "Failed to open session")

		return
	}

	id, err := s.identityOf(r.Context(), user)
	if err != nil {
		s.writeInternalError(w, err, "Failed to load memberships")

		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    sess.Token,
		Path:     "/",
		Expires:  sess.ExpiresAt,
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})

	s.log.WithField("user", user.Username).Info("Session opened")

	writeJSON(w, http.StatusOK, loginResponse{
		Token:     sess.Token,
		ExpiresAt: sess.ExpiresAt,
		User:      id,
	})
}

// handleLogout closes the caller's session, if any, and clears the
// cookie.
func (s *server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if token := sessionToken(r); token != "" {
		err := s.store.CloseSession(r.Context(), token)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			s.writeInternalError(w, err, "Failed to close session")

			return
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})

	w.WriteHeader(http.StatusNoContent)
}

// handleMe returns the caller's identity with their project capabilities.
func (s *server) handleMe(w http.ResponseWriter, r *http.Request) {
	id, err := s.identityOf(r.Context(), userFromContext(r.Context()))
	if err != nil {
		s.writeInternalError(w, err, "Failed to load memberships")

		return
	}

	writeJSON(w, http.StatusOK, id)
}

// verify returns the account matching c or errBadCredentials.
func (s *server) verify(ctx context.Context, c credentials) (*store.User, error) {
	user, err := s.store.UserByUsername(ctx, c.Username)
	if errors.Is(err, store.ErrNotFound) {
		return nil, errBadCredentials
	} else if err != nil {
		return nil, err
	}

	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(c.Password)) != nil {
		return nil, errBadCredentials
	}

	return user, nil
}

func (s *server) openSession(ctx context.Context, user *store.User) (*store.Session, error) {
	raw := make([]byte, sessionTokenBytes)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("generating session token: %w", err)
	}

	sess := &store.Session{
		Token:     hex.EncodeToString(raw),
		UserID:    user.ID,
		ExpiresAt: time.Now().UTC().Add(s.cfg.Auth.SessionDuration()),
	}

	if err := s.store.OpenSession(ctx, sess); err != nil {
		return nil, err
	}

	return sess, nil
}

func (s *server) identityOf(ctx context.Context, user *store.User) (identity, error) {
	members, err := s.store.MembershipsOf(ctx, user.Username)
	if err != nil {
		return identity{}, err
	}

	projects := make(map[int64][]string, len(members))
	for _, m := range members {
		projects[m.ProjectID] = append(projects[m.ProjectID], m.Capability)
	}

	return identity{Username: user.Username, Role: user.Role, Projects: projects}, nil
}
