package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/ethpandaops/testcycle/pkg/config"
	"github.com/ethpandaops/testcycle/pkg/execution"
)

// memberships selects project members joined with their usernames.
func (s *store) memberships(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx).
		Model(&ProjectMember{}).
		Select("project_members.id, project_members.user_id, users.username, " +
			"project_members.project_id, project_members.capability").
		Joins("JOIN users ON users.id = project_members.user_id").
		Order("project_members.project_id ASC, users.username ASC, project_members.capability ASC")
}

// ListMemberships returns the memberships of projectID, or of every
// project when projectID is zero.
func (s *store) ListMemberships(
	ctx context.Context, projectID int64,
) ([]Membership, error) {
	q := s.memberships(ctx)
	if projectID > 0 {
		q = q.Where("project_members.project_id = ?", projectID)
	}

	var out []Membership
	if err := q.Scan(&out).Error; err != nil {
		return nil, fmt.Errorf("listing memberships: %w", err)
	}

	return out, nil
}

// MembershipsOf returns every membership of username across projects.
func (s *store) MembershipsOf(
	ctx context.Context, username string,
) ([]Membership, error) {
	var out []Membership
	if err := s.memberships(ctx).
		Where("users.username = ?", username).
		Scan(&out).Error; err != nil {
		return nil, fmt.Errorf("listing memberships of %q: %w", username, err)
	}

	return out, nil
}

// UpsertMembership grants c to the user in projectID. Granting an
// existing capability is a no-op.
func (s *store) UpsertMembership(
	ctx context.Context, userID uint, projectID int64, c execution.Capability,
) (*ProjectMember, error) {
	m := &ProjectMember{
		UserID:     userID,
		ProjectID:  projectID,
		Capability: c.String(),
	}

	if err := s.db.WithContext(ctx).
		Where("user_id = ? AND project_id = ? AND capability = ?",
			m.UserID, m.ProjectID, m.Capability).
		FirstOrCreate(m).Error; err != nil {
		return nil, fmt.Errorf("upserting membership: %w", err)
	}

	return m, nil
}

func (s *store) DeleteMembership(ctx context.Context, id uint) error {
	result := s.db.WithContext(ctx).Delete(&ProjectMember{}, id)
	if result.Error != nil {
		return fmt.Errorf("deleting membership: %w", result.Error)
	}

	if result.RowsAffected == 0 {
		return fmt.Errorf("deleting membership %d: %w", id, ErrNotFound)
	}

	return nil
}

// HasCapability reports whether username holds c in projectID.
func (s *store) HasCapability(
	ctx context.Context, username string, projectID int64, c execution.Capability,
) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).
		Model(&ProjectMember{}).
		Joins("JOIN users ON users.id = project_members.user_id").
		Where("users.username = ? AND project_members.project_id = ? AND project_members.capability = ?",
			username, projectID, c.String()).
		Count(&count).Error; err != nil {
		return false, fmt.Errorf("checking capability: %w", err)
	}

	return count > 0, nil
}

// SeedMemberships upserts memberships from config. Entries naming an
// unknown user are skipped with a warning.
func (s *store) SeedMemberships(
	ctx context.Context, memberships []config.MembershipConfig,
) error {
	seeded := 0

	for _, m := range memberships {
		user, err := s.UserByUsername(ctx, m.Username)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				s.log.WithField("username", m.Username).
					Warn("Skipping membership for unknown user")

				continue
			}

			return err
		}

		for _, name := range m.Capabilities {
			c, err := execution.ParseCapability(name)
			if err != nil {
				return fmt.Errorf("membership for %q: %w", m.Username, err)
			}

			if _, err := s.UpsertMembership(ctx, user.ID, m.ProjectID, c); err != nil {
				return err
			}

			seeded++
		}
	}

	if seeded > 0 {
		s.log.WithField("count", seeded).
			Info("Seeded project memberships from config")
	}

	return nil
}
