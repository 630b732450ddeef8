package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrVersionNameTaken is returned when an app already has a version with the name.
var ErrVersionNameTaken = errors.New("version name already exists")

const uniqueViolation = "23505"

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// CreateApp inserts the app, its environments and its first version in one transaction.
func (s *PostgresStore) CreateApp(ctx context.Context, app App, environments []Environment, initial Version) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create app: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO apps (id, name, created_by_name)
		VALUES ($1, $2, $3)
	`, app.ID, app.Name, app.CreatedBy); err != nil {
		return fmt.Errorf("insert app: %w", err)
	}

	for _, env := range environments {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO app_environments (id, app_id, name, priority)
			VALUES ($1, $2, $3, $4)
		`, env.ID, app.ID, env.Name, env.Priority); err != nil {
			return fmt.Errorf("insert environment %s: %w", env.Name, err)
		}
	}

	if err := insertVersion(ctx, tx, initial); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create app: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetApp(ctx context.Context, appID string) (App, error) {
	var item App
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, created_by_name, created_at
		FROM apps
		WHERE id=$1
	`, appID).Scan(&item.ID, &item.Name, &item.CreatedBy, &item.CreatedAt)
	if err != nil {
		return App{}, err
	}
	return item, nil
}

func (s *PostgresStore) ListEnvironments(ctx context.Context, appID string) ([]Environment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, app_id, name, priority
		FROM app_environments
		WHERE app_id=$1
		ORDER BY priority ASC
	`, appID)
	if err != nil {
		return nil, fmt.Errorf("list environments: %w", err)
	}
	defer rows.Close()

	items := make([]Environment, 0)
	for rows.Next() {
		var item Environment
		if err := rows.Scan(&item.ID, &item.AppID, &item.Name, &item.Priority); err != nil {
			return nil, fmt.Errorf("scan environment: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate environments: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetEnvironment(ctx context.Context, appID, environmentID string) (Environment, error) {
	var item Environment
	err := s.db.QueryRowContext(ctx, `
		SELECT id, app_id, name, priority
		FROM app_environments
		WHERE app_id=$1 AND id=$2
	`, appID, environmentID).Scan(&item.ID, &item.AppID, &item.Name, &item.Priority)
	if err != nil {
		return Environment{}, err
	}
	return item, nil
}

// DefaultEnvironment returns the first stage of the app's promotion order.
func (s *PostgresStore) DefaultEnvironment(ctx context.Context, appID string) (Environment, error) {
	var item Environment
	err := s.db.QueryRowContext(ctx, `
		SELECT id, app_id, name, priority
		FROM app_environments
		WHERE app_id=$1
		ORDER BY priority ASC
		LIMIT 1
	`, appID).Scan(&item.ID, &item.AppID, &item.Name, &item.Priority)
	if err != nil {
		return Environment{}, err
	}
	return item, nil
}

// InsertVersion records a new version. A duplicate name within the app yields
// ErrVersionNameTaken.
func (s *PostgresStore) InsertVersion(ctx context.Context, version Version) error {
	return insertVersion(ctx, s.db, version)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertVersion(ctx context.Context, db execer, version Version) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO app_versions (id, app_id, name, source_version_id, environment_id, branch_name, created_by_name)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, version.ID, version.AppID, version.Name, version.SourceVersionID, version.EnvironmentID, version.BranchName, version.CreatedBy)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && pgErr.ConstraintName == "app_versions_app_name_key" {
			return ErrVersionNameTaken
		}
		return fmt.Errorf("insert version: %w", err)
	}
	return nil
}

const versionColumns = `v.id, v.app_id, v.name, v.source_version_id, v.environment_id, v.branch_name, v.created_by_name, v.created_at`

func (s *PostgresStore) GetVersion(ctx context.Context, appID, versionID string) (Version, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+versionColumns+`
		FROM app_versions v
		WHERE v.app_id=$1 AND v.id=$2
	`, appID, versionID)
	item, err := scanVersion(row)
	if err != nil {
		return Version{}, err
	}
	return item, nil
}

// ListVersionsPromotedTo returns the versions that have reached the environment,
// oldest first. A version sitting in a later stage has passed through every
// earlier one.
func (s *PostgresStore) ListVersionsPromotedTo(ctx context.Context, appID, environmentID string) ([]Version, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+versionColumns+`
		FROM app_versions v
		JOIN app_environments e ON e.id = v.environment_id
		WHERE v.app_id=$1
			AND e.priority >= (SELECT priority FROM app_environments WHERE id=$2 AND app_id=$1)
		ORDER BY v.seq ASC
	`, appID, environmentID)
	if err != nil {
		return nil, fmt.Errorf("list promoted versions: %w", err)
	}
	return collectVersions(rows)
}

// SearchVersions matches version names by substring, case-insensitively.
func (s *PostgresStore) SearchVersions(ctx context.Context, appID, query string, limit int) ([]Version, error) {
	if limit <= 0 {
		limit = 20
	}
	pattern := "%" + escapeLike(strings.TrimSpace(query)) + "%"
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+versionColumns+`
		FROM app_versions v
		WHERE v.app_id=$1 AND v.name ILIKE $2
		ORDER BY v.seq ASC
		LIMIT $3
	`, appID, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("search versions: %w", err)
	}
	return collectVersions(rows)
}

// CountVersions counts the versions whose name matches SearchVersions' pattern.
func (s *PostgresStore) CountVersions(ctx context.Context, appID, query string) (int, error) {
	pattern := "%" + escapeLike(strings.TrimSpace(query)) + "%"
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM app_versions v
		WHERE v.app_id=$1 AND v.name ILIKE $2
	`, appID, pattern).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count versions: %w", err)
	}
	return count, nil
}

// ListAllVersions returns every version of every app, used to rebuild search indexes.
func (s *PostgresStore) ListAllVersions(ctx context.Context) ([]Version, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+versionColumns+`
		FROM app_versions v
		ORDER BY v.seq ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list all versions: %w", err)
	}
	return collectVersions(rows)
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanVersion(row rowScanner) (Version, error) {
	var item Version
	var source sql.NullString
	if err := row.Scan(
		&item.ID,
		&item.AppID,
		&item.Name,
		&source,
		&item.EnvironmentID,
		&item.BranchName,
		&item.CreatedBy,
		&item.CreatedAt,
	); err != nil {
		return Version{}, err
	}
	if source.Valid {
		item.SourceVersionID = &source.String
	}
	return item, nil
}

func collectVersions(rows *sql.Rows) ([]Version, error) {
	defer rows.Close()

	items := make([]Version, 0)
	for rows.Next() {
		item, err := scanVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan version: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate versions: %w", err)
	}
	return items, nil
}

func escapeLike(value string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(value)
}
