package store

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ethpandaops/testcycle/pkg/config"
)

// SyncUsers makes the users table match the configured accounts. Listed
// users are inserted or have their password and role replaced. Users no
// longer listed are removed with their sessions and memberships.
func (s *store) SyncUsers(ctx context.Context, users []config.BasicAuthUser) error {
	rows := make([]User, 0, len(users))
	names := make([]string, 0, len(users))

	for _, u := range users {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.Password), bcrypt.DefaultCost)
		if err != nil {
			return fmt.Errorf("hashing password for %q: %w", u.Username, err)
		}

		rows = append(rows, User{Username: u.Username, PasswordHash: string(hash), Role: u.Role})
		names = append(names, u.Username)
	}

	var removed []uint

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(rows) > 0 {
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "username"}},
				DoUpdates: clause.AssignmentColumns([]string{"password_hash", "role", "updated_at"}),
			}).Create(&rows).Error; err != nil {
				return fmt.Errorf("upserting users: %w", err)
			}
		}

		stale := tx.Model(&User{})
		if len(names) > 0 {
			stale = stale.Where("username NOT IN ?", names)
		}

		if err := stale.Pluck("id", &removed).Error; err != nil {
			return fmt.Errorf("finding removed users: %w", err)
		}

		if len(removed) == 0 {
			return nil
		}

		for _, model := range []any{&Session{}, &ProjectMember{}} {
			if err := tx.Where("user_id IN ?", removed).Delete(model).Error; err != nil {
				return fmt.Errorf("deleting data of removed users: %w", err)
			}
		}

		return tx.Delete(&User{}, removed).Error
	})
	if err != nil {
		return err
	}

	s.log.WithField("users", len(rows)).
		WithField("removed", len(removed)).
		Info("Synced users from config")

	return nil
}

func (s *store) UserByUsername(ctx context.Context, username string) (*User, error) {
	var u User
	if err := s.db.WithContext(ctx).
		Where("username = ?", username).
		Take(&u).Error; err != nil {
		return nil, fmt.Errorf("loading user %q: %w", username, notFound(err))
	}

	return &u, nil
}

func (s *store) OpenSession(ctx context.Context, sess *Session) error {
	if err := s.db.WithContext(ctx).Omit("User").Create(sess).Error; err != nil {
		return fmt.Errorf("opening session: %w", err)
	}

	return nil
}

func (s *store) SessionByToken(
	ctx context.Context, token string, now time.Time,
) (*Session, error) {
	var sess Session
	if err := s.db.WithContext(ctx).
		Preload("User").
		Where("token = ? AND expires_at > ?", token, now).
		Take(&sess).Error; err != nil {
		return nil, fmt.Errorf("loading session: %w", notFound(err))
	}

	if sess.User.ID == 0 {
		return nil, fmt.Errorf("session %d has no user: %w", sess.ID, ErrNotFound)
	}

	return &sess, nil
}

func (s *store) TouchSession(ctx context.Context, id uint, at time.Time) error {
	if err := s.db.WithContext(ctx).
		Model(&Session{}).
		Where("id = ?", id).
		Update("last_seen_at", at).Error; err != nil {
		return fmt.Errorf("touching session: %w", err)
	}

	return nil
}

// CloseSession ends the session holding token. Closing an unknown token
// returns ErrNotFound.
func (s *store) CloseSession(ctx context.Context, token string) error {
	res := s.db.WithContext(ctx).Where("token = ?", token).Delete(&Session{})
	if res.Error != nil {
		return fmt.Errorf("closing session: %w", res.Error)
	}

	if res.RowsAffected == 0 {
		return fmt.Errorf("closing session: %w", ErrNotFound)
	}

	return nil
}

// PurgeSessions deletes sessions that expired at or before now and
// returns how many were removed.
func (s *store) PurgeSessions(ctx context.Context, now time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("expires_at <= ?", now).Delete(&Session{})
	if res.Error != nil {
		return 0, fmt.Errorf("purging sessions: %w", res.Error)
	}

	return res.RowsAffected, nil
}
