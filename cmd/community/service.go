package community

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"commune/cmd/identity/ids"

	"github.com/gosimple/slug"
)

// MinNameLength applies to role and community names.
const MinNameLength = 2

// Service implements the community operations on top of a Store.
//
// It owns validation and the role-based authorization rules; the Store
// only persists. Every row it creates gets its key from the Store's id source.
type Service struct {
	store Store
	now   func() time.Time
}

// NewService constructs a Service. now defaults to time.Now in UTC.
func NewService(store Store, now func() time.Time) *Service {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Service{store: store, now: now}
}

func (s *Service) ListRoles(ctx context.Context, p Page) ([]Role, int, error) {
	return s.store.ListRoles(ctx, p)
}

func (s *Service) ListCommunities(ctx context.Context, p Page) ([]Community, int, error) {
	return s.store.ListCommunities(ctx, p)
}

func (s *Service) ListOwnedCommunities(ctx context.Context, ownerID ids.ID, p Page) ([]Community, int, error) {
	return s.store.ListOwnedCommunities(ctx, ownerID, p)
}

func (s *Service) ListJoinedCommunities(ctx context.Context, userID ids.ID, p Page) ([]Community, int, error) {
	return s.store.ListJoinedCommunities(ctx, userID, p)
}

func (s *Service) ListMembers(ctx context.Context, communityID ids.ID, p Page) ([]Member, int, error) {
	return s.store.ListMembers(ctx, communityID, p)
}

// CreateRole creates a role with a unique name.
func (s *Service) CreateRole(ctx context.Context, name string) (Role, error) {
	const op = "community.CreateRole"

	name = strings.TrimSpace(name)
	if utf8.RuneCountInString(name) < MinNameLength {
		return Role{}, invalid(op, "name must be at least 2 characters")
	}
	return s.store.CreateRole(ctx, name, s.now())
}

// EnsureRoles creates each missing role and returns all of them in input order.
func (s *Service) EnsureRoles(ctx context.Context, names ...string) ([]Role, error) {
	out := make([]Role, 0, len(names))
	now := s.now()
	for _, n := range names {
		r, err := s.store.EnsureRole(ctx, n, now)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// CreateCommunity creates a community owned by ownerID. The owner becomes
// its first member with the RoleAdmin role.
func (s *Service) CreateCommunity(ctx context.Context, ownerID ids.ID, name string) (Community, Member, error) {
	const op = "community.CreateCommunity"

	name = strings.TrimSpace(name)
	if utf8.RuneCountInString(name) < MinNameLength {
		return Community{}, Member{}, invalid(op, "name must be at least 2 characters")
	}
	sl := Slug(name)
	if sl == "" {
		return Community{}, Member{}, invalid(op, "name must contain letters or digits")
	}
	return s.store.CreateCommunity(ctx, CreateCommunityInput{
		Name:    name,
		Slug:    sl,
		OwnerID: ownerID,
		Now:     s.now(),
	})
}

// AddMember adds a user to a community. The requester must hold RoleAdmin
// in that community.
func (s *Service) AddMember(ctx context.Context, requesterID ids.ID, communityID, userID, roleID ids.ID) (Member, error) {
	const op = "community.AddMember"

	if communityID.IsZero() || userID.IsZero() || roleID.IsZero() {
		return Member{}, invalid(op, "community, user and role are required")
	}
	if err := s.requireRole(ctx, op, communityID, requesterID, RoleAdmin); err != nil {
		return Member{}, err
	}
	return s.store.AddMember(ctx, AddMemberInput{
		CommunityID: communityID,
		UserID:      userID,
		RoleID:      roleID,
		Now:         s.now(),
	})
}

// RemoveMember deletes a membership. The requester must hold RoleAdmin or
// RoleModerator in the member's community.
func (s *Service) RemoveMember(ctx context.Context, requesterID, memberID ids.ID) error {
	const op = "community.RemoveMember"

	m, err := s.store.GetMember(ctx, memberID)
	if err != nil {
		return err
	}
	if err := s.requireRole(ctx, op, m.CommunityID, requesterID, RoleAdmin, RoleModerator); err != nil {
		return err
	}
	return s.store.RemoveMember(ctx, memberID)
}

// requireRole returns a forbidden error unless userID is a member of the
// community holding one of the named roles.
func (s *Service) requireRole(ctx context.Context, op string, communityID, userID ids.ID, roles ...string) error {
	m, err := s.store.GetMembership(ctx, communityID, userID)
	if err != nil {
		if IsNotFound(err) {
			return forbidden(op)
		}
		return err
	}
	for _, r := range roles {
		if m.Role.Name == r {
			return nil
		}
	}
	return forbidden(op)
}

// Slug derives the lower-case URL slug of a community name.
func Slug(name string) string {
	return slug.Make(name)
}
