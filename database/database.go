package database

import (
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"gorm.io/gorm"

	"github.com/camden-git/rsvpbackend/models"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Question)

// Migration is one forward-only schema step. Versions are applied in order and
// recorded in schema_migrations; an applied version is never re-run.
type Migration struct {
	Version int
	Name    string
	Up      func(tx *gorm.DB) error
}

var migrations = []Migration{
	{
		Version: 1,
		Name:    "create_people_and_responses",
		Up: func(tx *gorm.DB) error {
			return tx.AutoMigrate(&models.Person{}, &models.Response{})
		},
	},
	{
		Version: 2,
		Name:    "active_uniqueness_indexes",
		Up: func(tx *gorm.DB) error {
			stmts := []string{
				`CREATE UNIQUE INDEX IF NOT EXISTS idx_people_active_email
					ON people(email_norm) WHERE deleted_at IS NULL AND email_norm IS NOT NULL`,
				`CREATE UNIQUE INDEX IF NOT EXISTS idx_people_active_name
					ON people(first_name_norm, last_name_norm) WHERE deleted_at IS NULL`,
			}
			for _, stmt := range stmts {
				if err := tx.Exec(stmt).Error; err != nil {
					return err
				}
			}
			return nil
		},
	},
}

// Migrate applies every pending migration, each in its own transaction.
// It returns the versions applied by this call.
func Migrate(db *gorm.DB) ([]int, error) {
	if err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		applied_at INTEGER NOT NULL
	)`).Error; err != nil {
		return nil, fmt.Errorf("failed to create schema_migrations table: %w", err)
	}

	done, err := AppliedVersions(db)
	if err != nil {
		return nil, err
	}

	var applied []int
	for _, m := range migrations {
		if done[m.Version] {
			continue
		}
		err := db.Transaction(func(tx *gorm.DB) error {
			if err := m.Up(tx); err != nil {
				return err
			}
			sqlStr, args, err := psql.Insert("schema_migrations").
				Columns("version", "name", "applied_at").
				Values(m.Version, m.Name, time.Now().Unix()).
				ToSql()
			if err != nil {
				return fmt.Errorf("failed to build SQL for migration record: %w", err)
			}
			return tx.Exec(sqlStr, args...).Error
		})
		if err != nil {
			return applied, fmt.Errorf("migration %d (%s) failed: %w", m.Version, m.Name, err)
		}
		applied = append(applied, m.Version)
	}
	return applied, nil
}

// AppliedVersions returns the set of recorded migration versions.
func AppliedVersions(db *gorm.DB) (map[int]bool, error) {
	sqlStr, args, err := psql.Select("version").From("schema_migrations").OrderBy("version ASC").ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build SQL for AppliedVersions: %w", err)
	}
	var versions []int
	if err := db.Raw(sqlStr, args...).Scan(&versions).Error; err != nil {
		return nil, fmt.Errorf("failed to read schema_migrations: %w", err)
	}
	done := make(map[int]bool, len(versions))
	for _, v := range versions {
		done[v] = true
	}
	return done, nil
}
