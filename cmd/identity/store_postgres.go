package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"commune/cmd/identity/ids"
	"commune/cmd/internal/schema"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store over PostgreSQL.
// The pool is owned by the caller; the store never closes it.
type PostgresStore struct {
	pool   *pgxpool.Pool
	ids    ids.Source
	hasher *PasswordHasher
	schema string
}

// PostgresOption configures the store.
type PostgresOption func(*PostgresStore) error

// WithSchema sets the Postgres schema (default "commune").
func WithSchema(name string) PostgresOption {
	return func(s *PostgresStore) error {
		name = strings.TrimSpace(name)
		if name == "" {
			return fmt.Errorf("identity: empty schema")
		}
		if !schema.ValidIdent(name) {
			return fmt.Errorf("identity: invalid schema identifier")
		}
		s.schema = name
		return nil
	}
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool, src ids.Source, hasher *PasswordHasher, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:   pool,
		ids:    src,
		hasher: hasher,
		schema: schema.Default,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, fmt.Errorf("identity: nil pool")
	}
	if st.ids == nil || st.hasher == nil {
		return nil, fmt.Errorf("identity: id source and password hasher are required")
	}
	return st, nil
}

const userColumns = `id, name, email, email_norm, created_at, updated_at`

// CreateUser validates input, hashes the password and inserts the user.
func (s *PostgresStore) CreateUser(ctx context.Context, in CreateUserInput) (User, error) {
	const op = "identity.CreateUser"

	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	if err := validateCreateUser(op, in); err != nil {
		return User{}, err
	}

	pwHash, err := s.hasher.Hash(op, in.Password)
	if err != nil {
		return User{}, err
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	id, err := s.ids.NextContext(ctx)
	if err != nil {
		return User{}, fmt.Errorf("%s: mint id: %w", op, err)
	}

	u := User{
		ID:        id,
		Name:      NormalizeName(in.Name),
		Email:     strings.TrimSpace(in.Email),
		EmailNorm: NormalizeEmail(in.Email),
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO `+schema.Qualify(s.schema, "users")+` (
		     id, name, email, email_norm, password_hash, created_at, updated_at
		   ) VALUES ($1, $2, $3, $4, $5, $6, $6)`,
		u.ID.Int64(), u.Name, u.Email, u.EmailNorm, pwHash, now,
	)
	if err != nil {
		if field, ok := pgClassifyUniqueViolation(err); ok {
			return User{}, ConflictError{Op: op, Field: field}
		}
		return User{}, err
	}
	return u, nil
}

// GetUserByID returns NotFoundError when the id is unknown.
func (s *PostgresStore) GetUserByID(ctx context.Context, id ids.ID) (User, error) {
	const op = "identity.GetUserByID"

	row := s.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM `+schema.Qualify(s.schema, "users")+` WHERE id = $1`,
		id.Int64(),
	)
	u, err := scanUser(row, nil)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, NotFoundError{Op: op, Resource: "user"}
		}
		return User{}, err
	}
	return u, nil
}

// GetUserAuthByEmail looks the user up by normalized email.
func (s *PostgresStore) GetUserAuthByEmail(ctx context.Context, email string) (UserAuth, error) {
	const op = "identity.GetUserAuthByEmail"

	norm := NormalizeEmail(email)
	if norm == "" {
		return UserAuth{}, invalid(op, "email is required")
	}

	var ua UserAuth
	row := s.pool.QueryRow(ctx,
		`SELECT `+userColumns+`, password_hash FROM `+schema.Qualify(s.schema, "users")+` WHERE email_norm = $1`,
		norm,
	)
	u, err := scanUser(row, &ua.PasswordHash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return UserAuth{}, NotFoundError{Op: op, Resource: "user"}
		}
		return UserAuth{}, err
	}
	ua.User = u
	return ua, nil
}

func scanUser(row pgx.Row, pwHash *string) (User, error) {
	var u User
	dest := []any{&u.ID, &u.Name, &u.Email, &u.EmailNorm, &u.CreatedAt, &u.UpdatedAt}
	if pwHash != nil {
		dest = append(dest, pwHash)
	}
	if err := row.Scan(dest...); err != nil {
		return User{}, err
	}
	return u, nil
}

func pgClassifyUniqueViolation(err error) (field string, ok bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return "", false
	}
	if pgErr.Code != "23505" { // unique_violation
		return "", false
	}

	c := strings.ToLower(strings.TrimSpace(pgErr.ConstraintName))
	switch {
	case c == "uq_users_email_norm", strings.Contains(c, "email"):
		return "email", true
	case c == "users_pkey":
		return "id", true
	default:
		return "unique", true
	}
}
