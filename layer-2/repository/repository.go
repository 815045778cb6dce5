package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	cmtlog "github.com/cometbft/cometbft/libs/log"
	"github.com/jackc/pgx/v5/pgconn"
	"golang.org/x/sync/singleflight"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/agritrace/agritracechain/layer-2/repository/models"
)

// Repository error codes
const (
	CodeNotFound        = "NOT_FOUND"
	CodeAlreadyExists   = "ALREADY_EXISTS"
	CodeVersionConflict = "VERSION_CONFLICT"
	CodeDatabaseError   = "DATABASE_ERROR"
	CodeCreateFailed    = "CREATE_FAILED"
	CodeUpdateFailed    = "UPDATE_FAILED"
	CodeDeleteFailed    = "DELETE_FAILED"
	CodeCommitFailed    = "COMMIT_FAILED"
	CodeUnavailable     = "DB_UNAVAILABLE"
)

// PostgreSQL error codes
const (
	PgErrUniqueViolation = "23505"
)

// RepositoryError represents repository layer errors
type RepositoryError struct {
	Code    string
	Message string
	Detail  string
}

func (e *RepositoryError) Error() string {
	return fmt.Sprintf("%s: %s - %s", e.Code, e.Message, e.Detail)
}

func databaseError(err error) *RepositoryError {
	return &RepositoryError{
		Code:    CodeDatabaseError,
		Message: "Database error",
		Detail:  err.Error(),
	}
}

// Options configures how the repository reaches its database
type Options struct {
	Dialector      gorm.Dialector
	MaxOpenConns   int
	MaxIdleConns   int
	ConnectTries   int
	ConnectBackoff time.Duration
	Seed           bool
	Logger         cmtlog.Logger
}

// Repository handles all database operations for the API node.
// The connection is opened on first use and shared by every caller afterwards.
type Repository struct {
	opts   Options
	logger cmtlog.Logger

	group singleflight.Group
	mu    sync.RWMutex
	db    *gorm.DB
}

// NewRepository creates a new repository instance
func NewRepository(opts Options) *Repository {
	if opts.ConnectTries <= 0 {
		opts.ConnectTries = 1
	}
	if opts.Logger == nil {
		opts.Logger = cmtlog.NewNopLogger()
	}
	return &Repository{
		opts:   opts,
		logger: opts.Logger.With("module", "repository"),
	}
}

// ConnectDB establishes the shared connection eagerly
func (r *Repository) ConnectDB(ctx context.Context) error {
	_, err := r.conn(ctx)
	return err
}

// Close releases the underlying connection pool
func (r *Repository) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.db == nil {
		return nil
	}
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	r.db = nil
	return sqlDB.Close()
}

// conn returns the shared handle bound to ctx, opening it if needed.
// Concurrent first callers share one attempt and a failed attempt is not kept.
func (r *Repository) conn(ctx context.Context) (*gorm.DB, error) {
	r.mu.RLock()
	db := r.db
	r.mu.RUnlock()
	if db != nil {
		return db.WithContext(ctx), nil
	}

	v, err, _ := r.group.Do("connect", func() (any, error) {
		r.mu.RLock()
		existing := r.db
		r.mu.RUnlock()
		if existing != nil {
			return existing, nil
		}

		opened, err := r.open(ctx)
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		r.db = opened
		r.mu.Unlock()
		return opened, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*gorm.DB).WithContext(ctx), nil
}

func (r *Repository) open(ctx context.Context) (*gorm.DB, error) {
	if r.opts.Dialector == nil {
		return nil, fmt.Errorf("no database dialector configured")
	}

	var lastErr error
	for i := range r.opts.ConnectTries {
		r.logger.Info("Database connection attempt", "attempt", i+1)
		db, err := gorm.Open(r.opts.Dialector, &gorm.Config{
			TranslateError: true,
			Logger:         logger.Default.LogMode(logger.Silent),
			NowFunc:        func() time.Time { return time.Now().UTC() },
		})
		if err == nil {
			err = r.configurePool(db)
		}
		if err == nil {
			if err = Migrate(db); err != nil {
				return nil, fmt.Errorf("migration failed: %w", err)
			}
			if r.opts.Seed {
				if err := Seed(db); err != nil {
					r.logger.Error("Seeding failed", "err", err)
				}
			}
			r.logger.Info("Connected to database")
			return db, nil
		}

		lastErr = err
		r.logger.Error("Connection attempt failed", "attempt", i+1, "err", err)
		if i+1 == r.opts.ConnectTries {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(r.opts.ConnectBackoff):
		}
	}
	return nil, fmt.Errorf("failed to connect to database after %d attempts: %w", r.opts.ConnectTries, lastErr)
}

func (r *Repository) configurePool(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	if r.opts.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(r.opts.MaxOpenConns)
	}
	if r.opts.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(r.opts.MaxIdleConns)
	}
	return nil
}

// handle wraps conn failures in a RepositoryError
func (r *Repository) handle(ctx context.Context) (*gorm.DB, *RepositoryError) {
	db, err := r.conn(ctx)
	if err != nil {
		return nil, &RepositoryError{
			Code:    CodeUnavailable,
			Message: "Database unavailable",
			Detail:  err.Error(),
		}
	}
	return db, nil
}

// Migrate performs database schema migrations
func Migrate(db *gorm.DB) error {
	migrator := db.Migrator()

	// Order matters due to foreign keys
	tables := []any{
		&models.Product{},
		&models.Certification{},
		&models.TransportEvent{},
		&models.Identity{},
		&models.FarmProfile{},
		&models.LogisticsProfile{},
		&models.ProductOwnerProfile{},
		&models.StoreProfile{},
		&models.Payment{},
		&models.Complaint{},
	}

	for _, table := range tables {
		if !migrator.HasTable(table) {
			if err := migrator.CreateTable(table); err != nil {
				return fmt.Errorf("failed to create table: %w", err)
			}
		}
	}
	return nil
}

// Seed registers one demo identity per role
func Seed(db *gorm.DB) error {
	var count int64
	if err := db.Model(&models.Identity{}).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	identities := []models.Identity{
		{
			AddressWallet: "0x1111111111111111111111111111111111111111",
			Role:          models.RoleFarm,
			Name:          "Green Valley Farm",
			Farm:          &models.FarmProfile{Owner: "Nguyen Van A"},
		},
		{
			AddressWallet: "0x2222222222222222222222222222222222222222",
			Role:          models.RoleLogistics,
			Name:          "FastTrack Logistics",
			Logistics: &models.LogisticsProfile{
				ContactNumber: "+84 900 000 000",
				Vehicles:      datatypes.JSON(`["51C-123.45","51C-678.90"]`),
			},
		},
		{
			AddressWallet: "0x3333333333333333333333333333333333333333",
			Role:          models.RoleProductOwner,
			Name:          "Fresh Produce Co",
			ProductOwner:  &models.ProductOwnerProfile{Provider: "Green Valley Farm"},
		},
		{
			AddressWallet: "0x4444444444444444444444444444444444444444",
			Role:          models.RoleStore,
			Name:          "Corner Market",
			Store:         &models.StoreProfile{Address: "12 Market Street"},
		},
	}
	for i := range identities {
		if err := db.Create(&identities[i]).Error; err != nil {
			return err
		}
	}
	return nil
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == PgErrUniqueViolation {
		return true
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
