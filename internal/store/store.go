// Package store persists pull request identities and the relations between
// source and distribution pull requests in SQLite.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/mattn/go-sqlite3"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"distsync.dev/distsync/internal/model"
)

const maxRetries = 5

// gormLogger forwards GORM output to slog
type gormLogger struct {
	log   *slog.Logger
	level logger.LogLevel
}

// LogMode sets the log level
func (l *gormLogger) LogMode(level logger.LogLevel) logger.Interface {
	return &gormLogger{log: l.log, level: level}
}

func (l *gormLogger) Info(_ context.Context, msg string, data ...interface{}) {
	if l.level >= logger.Info {
		l.log.Info(fmt.Sprintf(msg, data...))
	}
}

func (l *gormLogger) Warn(_ context.Context, msg string, data ...interface{}) {
	if l.level >= logger.Warn {
		l.log.Warn(fmt.Sprintf(msg, data...))
	}
}

func (l *gormLogger) Error(_ context.Context, msg string, data ...interface{}) {
	if l.level >= logger.Error {
		l.log.Error(fmt.Sprintf(msg, data...))
	}
}

// Trace logs SQL queries, only at debug level
func (l *gormLogger) Trace(_ context.Context, begin time.Time, fc func() (sql string, rowsAffected int64), err error) {
	if l.level < logger.Info {
		return
	}

	elapsed := time.Since(begin)
	sql, rows := fc()

	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound):
		l.log.Error("gorm query error", "error", err, "duration", elapsed, "sql", sql, "rows", rows)
	case elapsed > 200*time.Millisecond:
		l.log.Warn("slow query", "duration", elapsed, "sql", sql, "rows", rows)
	default:
		l.log.Debug("gorm query", "duration", elapsed, "sql", sql, "rows", rows)
	}
}

func newGormLogger(log *slog.Logger) logger.Interface {
	if log.Enabled(context.Background(), slog.LevelDebug) {
		return (&gormLogger{log: log}).LogMode(logger.Info)
	}
	return (&gormLogger{log: log}).LogMode(logger.Silent)
}

// Store is the relation store. It is safe for concurrent use; the pair
// uniqueness is enforced by the database.
type Store struct {
	db *gorm.DB
}

// Open opens (and migrates) the database at dbPath. ":memory:" is accepted
// for throwaway stores.
func Open(dbPath string, log *slog.Logger) (*Store, error) {
	if dbPath != ":memory:" {
		if len(dbPath) > 0 && dbPath[0] == '~' {
			homeDir, err := os.UserHomeDir()
			if err != nil {
				return nil, fmt.Errorf("failed to get home directory: %w", err)
			}
			dbPath = filepath.Join(homeDir, dbPath[1:])
		}
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		PrepareStmt:                              false,
		NowFunc:                                  func() time.Time { return time.Now().UTC() },
		Logger:                                   newGormLogger(log),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// pragmas are per connection and SQLite serializes writers anyway
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if err := db.Exec(pragma).Error; err != nil {
			_ = sqlDB.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	if err := db.AutoMigrate(&PullRequest{}, &Relation{}); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// GetOrCreatePR returns the stored record for identity, creating it when missing
func (s *Store) GetOrCreatePR(ctx context.Context, identity model.PullRequestIdentity) (model.PullRequestRecord, error) {
	var record model.PullRequestRecord
	err := withRetry(func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			row, err := getOrCreatePR(tx, identity)
			if err != nil {
				return err
			}
			record = row.toRecord()
			return nil
		})
	}, maxRetries)
	if err != nil {
		return model.PullRequestRecord{}, fmt.Errorf("failed to store pull request %s: %w", identity, err)
	}
	return record, nil
}

// FindPR looks up identity without creating it
func (s *Store) FindPR(ctx context.Context, identity model.PullRequestIdentity) (model.PullRequestRecord, bool, error) {
	var row PullRequest
	found := false
	err := withRetry(func() error {
		result := whereIdentity(s.db.WithContext(ctx), identity).Limit(1).Find(&row)
		if result.Error != nil {
			return result.Error
		}
		found = result.RowsAffected > 0
		return nil
	}, maxRetries)
	if err != nil {
		return model.PullRequestRecord{}, false, fmt.Errorf("failed to look up pull request %s: %w", identity, err)
	}
	if !found {
		return model.PullRequestRecord{}, false, nil
	}
	return row.toRecord(), true, nil
}

// GetBySourceID returns the relation whose source is the given pull request, or nil
func (s *Store) GetBySourceID(ctx context.Context, id uint) (*model.Relation, error) {
	return s.findRelation(ctx, "source_pull_request_id = ?", id)
}

// GetByDistributionID returns the relation whose distribution side is the given pull request, or nil
func (s *Store) GetByDistributionID(ctx context.Context, id uint) (*model.Relation, error) {
	return s.findRelation(ctx, "distribution_pull_request_id = ?", id)
}

func (s *Store) findRelation(ctx context.Context, query string, id uint) (*model.Relation, error) {
	var rows []Relation
	err := withRetry(func() error {
		return s.db.WithContext(ctx).
			Preload("SourcePullRequest").
			Preload("DistributionPullRequest").
			Where(query, id).
			Limit(1).
			Find(&rows).Error
	}, maxRetries)
	if err != nil {
		return nil, fmt.Errorf("failed to look up relation: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	relation := rows[0].toModel()
	return &relation, nil
}

// CreateIfAbsent links source and distribution. If either pull request
// already participates in a relation, that relation is returned with
// created=false and nothing is written.
func (s *Store) CreateIfAbsent(ctx context.Context, source, distribution model.PullRequestIdentity) (model.Relation, bool, error) {
	var (
		relation model.Relation
		created  bool
	)

	err := withRetry(func() error {
		created = false
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			src, err := getOrCreatePR(tx, source)
			if err != nil {
				return err
			}
			dist, err := getOrCreatePR(tx, distribution)
			if err != nil {
				return err
			}

			var existing []Relation
			if err := tx.Preload("SourcePullRequest").
				Preload("DistributionPullRequest").
				Where("source_pull_request_id = ? OR distribution_pull_request_id = ?", src.ID, dist.ID).
				Order("id ASC").
				Limit(1).
				Find(&existing).Error; err != nil {
				return err
			}
			if len(existing) > 0 {
				relation = existing[0].toModel()
				return nil
			}

			row := Relation{SourcePullRequestID: src.ID, DistributionPullRequestID: dist.ID}
			if err := tx.Omit(clause.Associations).Create(&row).Error; err != nil {
				return err
			}
			row.SourcePullRequest = src
			row.DistributionPullRequest = dist
			relation = row.toModel()
			created = true
			return nil
		})
	}, maxRetries)

	if isConstraintError(err) {
		// lost a race against another writer; report the winner
		existing, lookupErr := s.relationInvolving(ctx, source, distribution)
		if lookupErr != nil {
			return model.Relation{}, false, lookupErr
		}
		if existing != nil {
			return *existing, false, nil
		}
	}
	if err != nil {
		return model.Relation{}, false, fmt.Errorf("failed to create relation %s -> %s: %w", source, distribution, err)
	}
	return relation, created, nil
}

func (s *Store) relationInvolving(ctx context.Context, source, distribution model.PullRequestIdentity) (*model.Relation, error) {
	for _, side := range []struct {
		identity model.PullRequestIdentity
		lookup   func(context.Context, uint) (*model.Relation, error)
	}{
		{source, s.GetBySourceID},
		{distribution, s.GetByDistributionID},
	} {
		record, found, err := s.FindPR(ctx, side.identity)
		if err != nil {
			return nil, err
		}
		if !found {
			continue
		}
		relation, err := side.lookup(ctx, record.ID)
		if err != nil || relation != nil {
			return relation, err
		}
	}
	return nil, nil
}

// List returns every relation, oldest first
func (s *Store) List(ctx context.Context) ([]model.Relation, error) {
	var rows []Relation
	err := withRetry(func() error {
		return s.db.WithContext(ctx).
			Preload("SourcePullRequest").
			Preload("DistributionPullRequest").
			Order("id ASC").
			Find(&rows).Error
	}, maxRetries)
	if err != nil {
		return nil, fmt.Errorf("failed to list relations: %w", err)
	}

	relations := make([]model.Relation, 0, len(rows))
	for _, row := range rows {
		relations = append(relations, row.toModel())
	}
	return relations, nil
}

func whereIdentity(db *gorm.DB, identity model.PullRequestIdentity) *gorm.DB {
	return db.Where("namespace = ? AND repo_name = ? AND project_url = ? AND number = ?",
		identity.Namespace, identity.RepoName, identity.ProjectURL, identity.Number)
}

func getOrCreatePR(tx *gorm.DB, identity model.PullRequestIdentity) (PullRequest, error) {
	row := PullRequest{
		Namespace:  identity.Namespace,
		RepoName:   identity.RepoName,
		ProjectURL: identity.ProjectURL,
		Number:     identity.Number,
	}
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error; err != nil {
		return PullRequest{}, err
	}

	var stored PullRequest
	if err := whereIdentity(tx, identity).First(&stored).Error; err != nil {
		return PullRequest{}, err
	}
	return stored, nil
}

func isConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint
}

// withRetry retries operations on SQLITE_BUSY with a growing delay
func withRetry(fn func() error, maxRetries int) error {
	var err error
	for i := 0; i < maxRetries; i++ {
		err = fn()
		if err == nil {
			return nil
		}

		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && (sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked) {
			time.Sleep(time.Millisecond * time.Duration(50*(i+1)))
			continue
		}

		return err
	}
	return fmt.Errorf("operation failed after %d retries: %w", maxRetries, err)
}
