package community

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
	schema string
}

// PostgresOption configures the store.
type PostgresOption func(*PostgresStore) error

// WithSchema sets the Postgres schema (default "commune").
func WithSchema(name string) PostgresOption {
	return func(s *PostgresStore) error {
		name = strings.TrimSpace(name)
		if !schema.ValidIdent(name) {
			return fmt.Errorf("community: invalid schema identifier %q", name)
		}
		s.schema = name
		return nil
	}
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool, src ids.Source, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{pool: pool, ids: src, schema: schema.Default}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, fmt.Errorf("community: nil pool")
	}
	if st.ids == nil {
		return nil, fmt.Errorf("community: nil id source")
	}
	return st, nil
}

// querier is the subset of pgxpool.Pool and pgx.Tx used here.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (s *PostgresStore) t(name string) string { return schema.Qualify(s.schema, name) }

func (s *PostgresStore) mint(ctx context.Context, op string) (ids.ID, error) {
	id, err := s.ids.NextContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("%s: mint id: %w", op, err)
	}
	return id, nil
}

// ---- roles ----

func (s *PostgresStore) CreateRole(ctx context.Context, name string, now time.Time) (Role, error) {
	const op = "community.CreateRole"

	id, err := s.mint(ctx, op)
	if err != nil {
		return Role{}, err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO `+s.t("roles")+` (id, name, created_at, updated_at) VALUES ($1, $2, $3, $3)`,
		id.Int64(), name, now,
	)
	if err != nil {
		if pgIsUniqueViolation(err) {
			return Role{}, ConflictError{Op: op, Field: "name"}
		}
		return Role{}, err
	}
	return Role{ID: id, Name: name, CreatedAt: now, UpdatedAt: now}, nil
}

func (s *PostgresStore) EnsureRole(ctx context.Context, name string, now time.Time) (Role, error) {
	return s.ensureRole(ctx, s.pool, name, now)
}

// ensureRole selects the role by name and inserts it when absent. A
// concurrent insert of the same name is resolved by re-reading.
func (s *PostgresStore) ensureRole(ctx context.Context, q querier, name string, now time.Time) (Role, error) {
	const op = "community.EnsureRole"

	sel := `SELECT id, name, created_at, updated_at FROM ` + s.t("roles") + ` WHERE name = $1`

	r, err := scanRole(q.QueryRow(ctx, sel, name))
	if err == nil {
		return r, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Role{}, err
	}

	id, err := s.mint(ctx, op)
	if err != nil {
		return Role{}, err
	}
	tag, err := q.Exec(ctx,
		`INSERT INTO `+s.t("roles")+` (id, name, created_at, updated_at) VALUES ($1, $2, $3, $3)
		 ON CONFLICT (name) DO NOTHING`,
		id.Int64(), name, now,
	)
	if err != nil {
		return Role{}, err
	}
	if tag.RowsAffected() == 1 {
		return Role{ID: id, Name: name, CreatedAt: now, UpdatedAt: now}, nil
	}
	return scanRole(q.QueryRow(ctx, sel, name))
}

func (s *PostgresStore) GetRole(ctx context.Context, id ids.ID) (Role, error) {
	r, err := scanRole(s.pool.QueryRow(ctx,
		`SELECT id, name, created_at, updated_at FROM `+s.t("roles")+` WHERE id = $1`, id.Int64()))
	if errors.Is(err, pgx.ErrNoRows) {
		return Role{}, NotFoundError{Op: "community.GetRole", Resource: "role"}
	}
	return r, err
}

func (s *PostgresStore) ListRoles(ctx context.Context, p Page) ([]Role, int, error) {
	total, err := s.count(ctx, `SELECT count(*) FROM `+s.t("roles"))
	if err != nil {
		return nil, 0, err
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, created_at, updated_at FROM `+s.t("roles")+` ORDER BY id LIMIT $1 OFFSET $2`,
		p.Limit, p.Offset,
	)
	if err != nil {
		return nil, 0, err
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Role, error) { return scanRole(row) })
	return out, total, err
}

func scanRole(row pgx.Row) (Role, error) {
	var r Role
	err := row.Scan(&r.ID, &r.Name, &r.CreatedAt, &r.UpdatedAt)
	return r, err
}

// ---- communities ----

func (s *PostgresStore) communitySelect() string {
	return `SELECT c.id, c.name, c.slug, c.owner_id, u.name, c.created_at, c.updated_at
	          FROM ` + s.t("communities") + ` c
	          JOIN ` + s.t("users") + ` u ON u.id = c.owner_id`
}

func scanCommunity(row pgx.Row) (Community, error) {
	var c Community
	err := row.Scan(&c.ID, &c.Name, &c.Slug, &c.Owner.ID, &c.Owner.Name, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

func (s *PostgresStore) CreateCommunity(ctx context.Context, in CreateCommunityInput) (Community, Member, error) {
	const op = "community.CreateCommunity"

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return Community{}, Member{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var ownerName string
	err = tx.QueryRow(ctx, `SELECT name FROM `+s.t("users")+` WHERE id = $1`, in.OwnerID.Int64()).Scan(&ownerName)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Community{}, Member{}, NotFoundError{Op: op, Resource: "user"}
		}
		return Community{}, Member{}, err
	}

	admin, err := s.ensureRole(ctx, tx, RoleAdmin, in.Now)
	if err != nil {
		return Community{}, Member{}, err
	}

	cid, err := s.mint(ctx, op)
	if err != nil {
		return Community{}, Member{}, err
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO `+s.t("communities")+` (id, name, slug, owner_id, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $5)`,
		cid.Int64(), in.Name, in.Slug, in.OwnerID.Int64(), in.Now,
	)
	if err != nil {
		if pgIsUniqueViolation(err) {
			return Community{}, Member{}, ConflictError{Op: op, Field: "slug"}
		}
		return Community{}, Member{}, err
	}

	mid, err := s.mint(ctx, op)
	if err != nil {
		return Community{}, Member{}, err
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO `+s.t("members")+` (id, community_id, user_id, role_id, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		mid.Int64(), cid.Int64(), in.OwnerID.Int64(), admin.ID.Int64(), in.Now,
	)
	if err != nil {
		return Community{}, Member{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Community{}, Member{}, err
	}

	owner := Ref{ID: in.OwnerID, Name: ownerName}
	return Community{
			ID:        cid,
			Name:      in.Name,
			Slug:      in.Slug,
			Owner:     owner,
			CreatedAt: in.Now,
			UpdatedAt: in.Now,
		}, Member{
			ID:          mid,
			CommunityID: cid,
			User:        owner,
			Role:        Ref{ID: admin.ID, Name: admin.Name},
			CreatedAt:   in.Now,
		}, nil
}

func (s *PostgresStore) GetCommunity(ctx context.Context, id ids.ID) (Community, error) {
	c, err := scanCommunity(s.pool.QueryRow(ctx, s.communitySelect()+` WHERE c.id = $1`, id.Int64()))
	if errors.Is(err, pgx.ErrNoRows) {
		return Community{}, NotFoundError{Op: "community.GetCommunity", Resource: "community"}
	}
	return c, err
}

func (s *PostgresStore) ListCommunities(ctx context.Context, p Page) ([]Community, int, error) {
	total, err := s.count(ctx, `SELECT count(*) FROM `+s.t("communities"))
	if err != nil {
		return nil, 0, err
	}
	out, err := s.queryCommunities(ctx, s.communitySelect()+` ORDER BY c.id LIMIT $1 OFFSET $2`, p.Limit, p.Offset)
	return out, total, err
}

func (s *PostgresStore) ListOwnedCommunities(ctx context.Context, ownerID ids.ID, p Page) ([]Community, int, error) {
	total, err := s.count(ctx, `SELECT count(*) FROM `+s.t("communities")+` WHERE owner_id = $1`, ownerID.Int64())
	if err != nil {
		return nil, 0, err
	}
	out, err := s.queryCommunities(ctx,
		s.communitySelect()+` WHERE c.owner_id = $1 ORDER BY c.id LIMIT $2 OFFSET $3`,
		ownerID.Int64(), p.Limit, p.Offset,
	)
	return out, total, err
}

func (s *PostgresStore) ListJoinedCommunities(ctx context.Context, userID ids.ID, p Page) ([]Community, int, error) {
	total, err := s.count(ctx, `SELECT count(*) FROM `+s.t("members")+` WHERE user_id = $1`, userID.Int64())
	if err != nil {
		return nil, 0, err
	}
	out, err := s.queryCommunities(ctx,
		s.communitySelect()+`
		  JOIN `+s.t("members")+` m ON m.community_id = c.id
		 WHERE m.user_id = $1
		 ORDER BY c.id LIMIT $2 OFFSET $3`,
		userID.Int64(), p.Limit, p.Offset,
	)
	return out, total, err
}

func (s *PostgresStore) queryCommunities(ctx context.Context, sql string, args ...any) ([]Community, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Community, error) { return scanCommunity(row) })
}

// ---- members ----

func (s *PostgresStore) memberSelect() string {
	return `SELECT m.id, m.community_id, m.user_id, u.name, m.role_id, r.name, m.created_at
	          FROM ` + s.t("members") + ` m
	          JOIN ` + s.t("users") + ` u ON u.id = m.user_id
	          JOIN ` + s.t("roles") + ` r ON r.id = m.role_id`
}

func scanMember(row pgx.Row) (Member, error) {
	var m Member
	err := row.Scan(&m.ID, &m.CommunityID, &m.User.ID, &m.User.Name, &m.Role.ID, &m.Role.Name, &m.CreatedAt)
	return m, err
}

func (s *PostgresStore) AddMember(ctx context.Context, in AddMemberInput) (Member, error) {
	const op = "community.AddMember"

	mid, err := s.mint(ctx, op)
	if err != nil {
		return Member{}, err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO `+s.t("members")+` (id, community_id, user_id, role_id, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		mid.Int64(), in.CommunityID.Int64(), in.UserID.Int64(), in.RoleID.Int64(), in.Now,
	)
	if err != nil {
		if pgIsUniqueViolation(err) {
			return Member{}, ConflictError{Op: op, Field: "membership"}
		}
		if res, ok := pgForeignKeyResource(err); ok {
			return Member{}, NotFoundError{Op: op, Resource: res}
		}
		return Member{}, err
	}
	return s.GetMember(ctx, mid)
}

func (s *PostgresStore) GetMember(ctx context.Context, id ids.ID) (Member, error) {
	m, err := scanMember(s.pool.QueryRow(ctx, s.memberSelect()+` WHERE m.id = $1`, id.Int64()))
	if errors.Is(err, pgx.ErrNoRows) {
		return Member{}, NotFoundError{Op: "community.GetMember", Resource: "member"}
	}
	return m, err
}

func (s *PostgresStore) GetMembership(ctx context.Context, communityID, userID ids.ID) (Member, error) {
	m, err := scanMember(s.pool.QueryRow(ctx,
		s.memberSelect()+` WHERE m.community_id = $1 AND m.user_id = $2`,
		communityID.Int64(), userID.Int64(),
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return Member{}, NotFoundError{Op: "community.GetMembership", Resource: "member"}
	}
	return m, err
}

func (s *PostgresStore) ListMembers(ctx context.Context, communityID ids.ID, p Page) ([]Member, int, error) {
	total, err := s.count(ctx, `SELECT count(*) FROM `+s.t("members")+` WHERE community_id = $1`, communityID.Int64())
	if err != nil {
		return nil, 0, err
	}
	rows, err := s.pool.Query(ctx,
		s.memberSelect()+` WHERE m.community_id = $1 ORDER BY m.id LIMIT $2 OFFSET $3`,
		communityID.Int64(), p.Limit, p.Offset,
	)
	if err != nil {
		return nil, 0, err
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Member, error) { return scanMember(row) })
	return out, total, err
}

func (s *PostgresStore) RemoveMember(ctx context.Context, id ids.ID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM `+s.t("members")+` WHERE id = $1`, id.Int64())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return NotFoundError{Op: "community.RemoveMember", Resource: "member"}
	}
	return nil
}

func (s *PostgresStore) count(ctx context.Context, sql string, args ...any) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, sql, args...).Scan(&n)
	return n, err
}

func pgIsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505" // unique_violation
}

// pgForeignKeyResource maps a foreign_key_violation to the missing resource.
func pgForeignKeyResource(err error) (string, bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23503" {
		return "", false
	}
	c := strings.ToLower(pgErr.ConstraintName)
	switch {
	case strings.Contains(c, "community"):
		return "community", true
	case strings.Contains(c, "user"):
		return "user", true
	case strings.Contains(c, "role"):
		return "role", true
	default:
		return "", true
	}
}
