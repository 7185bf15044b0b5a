package community

import (
	"context"
	"time"

	"commune/cmd/identity"
	"commune/cmd/identity/ids"
)

// Built-in role names.
const (
	RoleAdmin     = "Community Admin"
	RoleModerator = "Community Moderator"
	RoleMember    = "Community Member"
)

// DefaultRoles are created by the seeder.
var DefaultRoles = []string{RoleAdmin, RoleModerator, RoleMember}

type Role struct {
	ID        ids.ID
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Ref is the {id, name} projection embedded in listings.
type Ref struct {
	ID   ids.ID
	Name string
}

type Community struct {
	ID        ids.ID
	Name      string
	Slug      string
	Owner     Ref
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Member struct {
	ID          ids.ID
	CommunityID ids.ID
	User        Ref
	Role        Ref
	CreatedAt   time.Time
}

// Page selects a window of a listing ordered by id.
type Page struct {
	Offset int
	Limit  int
}

type CreateCommunityInput struct {
	Name    string
	Slug    string
	OwnerID ids.ID
	Now     time.Time
}

type AddMemberInput struct {
	CommunityID ids.ID
	UserID      ids.ID
	RoleID      ids.ID
	Now         time.Time
}

// Store persists roles, communities and members.
type Store interface {
	CreateRole(ctx context.Context, name string, now time.Time) (Role, error)
	// EnsureRole returns the role with this name, creating it if missing.
	EnsureRole(ctx context.Context, name string, now time.Time) (Role, error)
	GetRole(ctx context.Context, id ids.ID) (Role, error)
	ListRoles(ctx context.Context, p Page) ([]Role, int, error)

	// CreateCommunity stores the community and makes its owner a member
	// with the RoleAdmin role, creating that role if needed, atomically.
	CreateCommunity(ctx context.Context, in CreateCommunityInput) (Community, Member, error)
	GetCommunity(ctx context.Context, id ids.ID) (Community, error)
	ListCommunities(ctx context.Context, p Page) ([]Community, int, error)
	ListOwnedCommunities(ctx context.Context, ownerID ids.ID, p Page) ([]Community, int, error)
	ListJoinedCommunities(ctx context.Context, userID ids.ID, p Page) ([]Community, int, error)

	AddMember(ctx context.Context, in AddMemberInput) (Member, error)
	GetMember(ctx context.Context, id ids.ID) (Member, error)
	GetMembership(ctx context.Context, communityID, userID ids.ID) (Member, error)
	ListMembers(ctx context.Context, communityID ids.ID, p Page) ([]Member, int, error)
	RemoveMember(ctx context.Context, id ids.ID) error
}

// UserDirectory resolves user ids. identity.Store satisfies it.
type UserDirectory interface {
	GetUserByID(ctx context.Context, id ids.ID) (identity.User, error)
}
