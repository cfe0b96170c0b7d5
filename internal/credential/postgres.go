package credential

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver
	"github.com/pressly/goose/v3"

	"github.com/Tyrowin/gochat-relay/internal/credential/migrations"
)

// pgUniqueViolation is the SQLSTATE for unique_violation.
const pgUniqueViolation = "23505"

// DBTX is the subset of *sql.DB used by PostgresStore.
type DBTX interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// PostgresStore is a Store backed by PostgreSQL through the pgx driver.
type PostgresStore struct {
	db DBTX
}

// NewPostgresStore wraps an open database handle.
func NewPostgresStore(db DBTX) *PostgresStore {
	return &PostgresStore{db: db}
}

// Open connects to dsn with the pgx driver and checks the connection.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping error: %w", err)
	}
	return db, nil
}

// Migrate applies the embedded migrations.
func Migrate(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "."); err != nil {
		return fmt.Errorf("migration error: %w", err)
	}
	return nil
}

// FindByUsername implements Store.
func (s *PostgresStore) FindByUsername(ctx context.Context, username string) (*Credential, error) {
	query :=
		`SELECT username, email, password_hash, created_at FROM credentials
		 WHERE username = $1`

	return s.findOne(ctx, query, username)
}

// FindByEmail implements Store. Emails match case-insensitively.
func (s *PostgresStore) FindByEmail(ctx context.Context, email string) (*Credential, error) {
	query :=
		`SELECT username, email, password_hash, created_at FROM credentials
		 WHERE lower(email) = lower($1)`

	return s.findOne(ctx, query, email)
}

func (s *PostgresStore) findOne(ctx context.Context, query string, arg string) (*Credential, error) {
	c := &Credential{}
	err := s.db.QueryRowContext(ctx, query, arg).Scan(&c.Username, &c.Email, &c.PasswordHash, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return c, nil
}

// Save implements Store. Unique violations raised by the database are
// reported as *DuplicateError.
func (s *PostgresStore) Save(ctx context.Context, c *Credential) error {
	query :=
		`INSERT INTO credentials (username, email, password_hash)
		 VALUES ($1, $2, $3)
		 RETURNING created_at`

	err := s.db.QueryRowContext(ctx, query, c.Username, c.Email, c.PasswordHash).Scan(&c.CreatedAt)
	if err != nil {
		if dup := duplicateFromPg(err); dup != nil {
			return dup
		}
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func duplicateFromPg(err error) *DuplicateError {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != pgUniqueViolation {
		return nil
	}
	if strings.Contains(pgErr.ConstraintName, "email") {
		return &DuplicateError{Field: FieldEmail}
	}
	return &DuplicateError{Field: FieldUsername}
}
