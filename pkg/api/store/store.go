package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/ethpandaops/testcycle/pkg/config"
	"github.com/ethpandaops/testcycle/pkg/execution"
)

// ErrNotFound is returned when a user, session or membership does not
// exist.
var ErrNotFound = errors.New("not found")

// Accounts holds the config-defined users and their login sessions.
type Accounts interface {
	SyncUsers(ctx context.Context, users []config.BasicAuthUser) error
	UserByUsername(ctx context.Context, username string) (*User, error)

	// OpenSession stores sess and fills in its id.
	OpenSession(ctx context.Context, sess *Session) error
	// SessionByToken returns the unexpired session for token with its
	// user loaded.
	SessionByToken(ctx context.Context, token string, now time.Time) (*Session, error)
	TouchSession(ctx context.Context, id uint, at time.Time) error
	CloseSession(ctx context.Context, token string) error
	PurgeSessions(ctx context.Context, now time.Time) (int64, error)
}

// Memberships grants capabilities per project. HasCapability makes the
// store a role resolver for the lifecycle controller.
type Memberships interface {
	SeedMemberships(ctx context.Context, memberships []config.MembershipConfig) error
	ListMemberships(ctx context.Context, projectID int64) ([]Membership, error)
	MembershipsOf(ctx context.Context, username string) ([]Membership, error)
	UpsertMembership(ctx context.Context, userID uint, projectID int64, c execution.Capability) (*ProjectMember, error)
	DeleteMembership(ctx context.Context, id uint) error
	HasCapability(ctx context.Context, username string, projectID int64, c execution.Capability) (bool, error)
}

// Store provides persistence for accounts, memberships and execution
// records.
type Store interface {
	Start(ctx context.Context) error
	Stop() error
	Ping(ctx context.Context) error

	Accounts
	Memberships

	FindExecution(ctx context.Context, id string) (*execution.Record, error)
	QueryExecutions(ctx context.Context, f execution.Filter) (*execution.Page, error)
	InsertExecution(ctx context.Context, rec *execution.Record) error
	UpdateExecution(ctx context.Context, rec *execution.Record, expectedVersion int64) error
	MaxCycleNumber(ctx context.Context, key execution.CycleKey) (int, error)
	LatestExecution(ctx context.Context, key execution.CycleKey) (*execution.Record, error)
	DeleteExecution(ctx context.Context, id string) error
}

var _ Store = (*store)(nil)

type store struct {
	log logrus.FieldLogger
	cfg *config.APIDatabaseConfig
	db  *gorm.DB
}

// NewStore creates a Store for the configured driver. Start connects and
// migrates.
func NewStore(log logrus.FieldLogger, cfg *config.APIDatabaseConfig) Store {
	return &store{
		log: log.WithField("component", "store"),
		cfg: cfg,
	}
}

// dialector picks the gorm driver for the configured database.
func dialector(cfg *config.APIDatabaseConfig) (gorm.Dialector, error) {
	switch cfg.Driver {
	case "sqlite":
		return sqlite.Open(cfg.SQLite.Path), nil
	case "postgres":
		pg := cfg.Postgres

		return postgres.Open(fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			pg.Host, pg.Port, pg.User, pg.Password, pg.Database, pg.SSLMode,
		)), nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}
}

// Start connects to the database and migrates the schema.
func (s *store) Start(ctx context.Context) error {
	d, err := dialector(s.cfg)
	if err != nil {
		return err
	}

	db, err := gorm.Open(d, &gorm.Config{
		Logger:         logger.Discard,
		TranslateError: true,
		// Sessions reference users only for preloading.
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}

	s.db = db

	if s.cfg.Driver == "sqlite" {
		sqlDB, err := db.DB()
		if err != nil {
			return fmt.Errorf("getting underlying db: %w", err)
		}

		// ":memory:" is per connection, and sqlite has a single writer.
		sqlDB.SetMaxOpenConns(1)
	}

	if err := db.WithContext(ctx).AutoMigrate(
		&User{},
		&Session{},
		&ProjectMember{},
		&execution.Record{},
	); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	s.log.WithField("driver", s.cfg.Driver).Info("Database ready")

	return nil
}

// Stop closes the database.
func (s *store) Stop() error {
	if s.db == nil {
		return nil
	}

	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("getting underlying db: %w", err)
	}

	return sqlDB.Close()
}

// Ping checks that the database answers.
func (s *store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("getting underlying db: %w", err)
	}

	return sqlDB.PingContext(ctx)
}

// notFound maps gorm's missing-row error onto ErrNotFound.
func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}

	return err
}

// isDuplicateKeyError reports a unique constraint violation. Drivers that
// do not translate errors are matched on their message.
func isDuplicateKeyError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	msg := strings.ToLower(err.Error())

	return strings.Contains(msg, "23505") ||
		strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "duplicate key")
}
