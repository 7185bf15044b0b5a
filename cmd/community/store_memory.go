package community

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"commune/cmd/identity"
	"commune/cmd/identity/ids"
)

// MemoryStore is an in-process Store for dev mode and tests.
type MemoryStore struct {
	ids   ids.Source
	users UserDirectory

	mu          sync.RWMutex
	roles       map[ids.ID]Role
	roleByName  map[string]ids.ID
	communities map[ids.ID]memCommunity
	slugs       map[string]ids.ID
	members     map[ids.ID]memMember
	membership  map[memberKey]ids.ID
}

type memCommunity struct {
	Community
	ownerID ids.ID
}

type memMember struct {
	id          ids.ID
	communityID ids.ID
	userID      ids.ID
	roleID      ids.ID
	createdAt   time.Time
}

type memberKey struct{ community, user ids.ID }

// NewMemoryStore constructs an empty MemoryStore. users resolves member and
// owner names for listings.
func NewMemoryStore(src ids.Source, users UserDirectory) *MemoryStore {
	return &MemoryStore{
		ids:         src,
		users:       users,
		roles:       make(map[ids.ID]Role),
		roleByName:  make(map[string]ids.ID),
		communities: make(map[ids.ID]memCommunity),
		slugs:       make(map[string]ids.ID),
		members:     make(map[ids.ID]memMember),
		membership:  make(map[memberKey]ids.ID),
	}
}

func (s *MemoryStore) mint(ctx context.Context, op string) (ids.ID, error) {
	id, err := s.ids.NextContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("%s: mint id: %w", op, err)
	}
	return id, nil
}

func (s *MemoryStore) CreateRole(ctx context.Context, name string, now time.Time) (Role, error) {
	const op = "community.CreateRole"

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.roleByName[name]; ok {
		return Role{}, ConflictError{Op: op, Field: "name"}
	}
	return s.insertRoleLocked(ctx, op, name, now)
}

func (s *MemoryStore) EnsureRole(ctx context.Context, name string, now time.Time) (Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.roleByName[name]; ok {
		return s.roles[id], nil
	}
	return s.insertRoleLocked(ctx, "community.EnsureRole", name, now)
}

func (s *MemoryStore) insertRoleLocked(ctx context.Context, op, name string, now time.Time) (Role, error) {
	id, err := s.mint(ctx, op)
	if err != nil {
		return Role{}, err
	}
	return s.putRoleLocked(id, name, now), nil
}

func (s *MemoryStore) putRoleLocked(id ids.ID, name string, now time.Time) Role {
	r := Role{ID: id, Name: name, CreatedAt: now, UpdatedAt: now}
	s.roles[id] = r
	s.roleByName[name] = id
	return r
}

func (s *MemoryStore) GetRole(_ context.Context, id ids.ID) (Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.roles[id]
	if !ok {
		return Role{}, NotFoundError{Op: "community.GetRole", Resource: "role"}
	}
	return r, nil
}

func (s *MemoryStore) ListRoles(_ context.Context, p Page) ([]Role, int, error) {
	s.mu.RLock()
	out := make([]Role, 0, len(s.roles))
	for _, r := range s.roles {
		out = append(out, r)
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b Role) int { return cmp.Compare(a.ID, b.ID) })
	return window(out, p), len(out), nil
}

func (s *MemoryStore) CreateCommunity(ctx context.Context, in CreateCommunityInput) (Community, Member, error) {
	const op = "community.CreateCommunity"

	owner, err := s.users.GetUserByID(ctx, in.OwnerID)
	if err != nil {
		return Community{}, Member{}, userLookupError(op, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.slugs[in.Slug]; ok {
		return Community{}, Member{}, ConflictError{Op: op, Field: "slug"}
	}

	// Mint everything first so a generator failure leaves no partial state.
	cid, err := s.mint(ctx, op)
	if err != nil {
		return Community{}, Member{}, err
	}
	mid, err := s.mint(ctx, op)
	if err != nil {
		return Community{}, Member{}, err
	}
	roleID, haveAdmin := s.roleByName[RoleAdmin]
	if !haveAdmin {
		if roleID, err = s.mint(ctx, op); err != nil {
			return Community{}, Member{}, err
		}
	}

	admin, ok := s.roles[roleID]
	if !ok {
		admin = s.putRoleLocked(roleID, RoleAdmin, in.Now)
	}

	c := Community{
		ID:        cid,
		Name:      in.Name,
		Slug:      in.Slug,
		Owner:     Ref{ID: owner.ID, Name: owner.Name},
		CreatedAt: in.Now,
		UpdatedAt: in.Now,
	}
	s.communities[cid] = memCommunity{Community: c, ownerID: owner.ID}
	s.slugs[in.Slug] = cid

	mm := memMember{id: mid, communityID: cid, userID: owner.ID, roleID: admin.ID, createdAt: in.Now}
	s.members[mid] = mm
	s.membership[memberKey{cid, owner.ID}] = mid

	return c, Member{
		ID:          mid,
		CommunityID: cid,
		User:        Ref{ID: owner.ID, Name: owner.Name},
		Role:        Ref{ID: admin.ID, Name: admin.Name},
		CreatedAt:   in.Now,
	}, nil
}

func (s *MemoryStore) GetCommunity(_ context.Context, id ids.ID) (Community, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.communities[id]
	if !ok {
		return Community{}, NotFoundError{Op: "community.GetCommunity", Resource: "community"}
	}
	return c.Community, nil
}

func (s *MemoryStore) ListCommunities(_ context.Context, p Page) ([]Community, int, error) {
	return s.listCommunities(p, func(memCommunity) bool { return true })
}

func (s *MemoryStore) ListOwnedCommunities(_ context.Context, ownerID ids.ID, p Page) ([]Community, int, error) {
	return s.listCommunities(p, func(c memCommunity) bool { return c.ownerID == ownerID })
}

func (s *MemoryStore) ListJoinedCommunities(_ context.Context, userID ids.ID, p Page) ([]Community, int, error) {
	return s.listCommunities(p, func(c memCommunity) bool {
		_, ok := s.membership[memberKey{c.ID, userID}]
		return ok
	})
}

func (s *MemoryStore) listCommunities(p Page, keep func(memCommunity) bool) ([]Community, int, error) {
	s.mu.RLock()
	out := make([]Community, 0)
	for _, c := range s.communities {
		if keep(c) {
			out = append(out, c.Community)
		}
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b Community) int { return cmp.Compare(a.ID, b.ID) })
	return window(out, p), len(out), nil
}

func (s *MemoryStore) AddMember(ctx context.Context, in AddMemberInput) (Member, error) {
	const op = "community.AddMember"

	user, err := s.users.GetUserByID(ctx, in.UserID)
	if err != nil {
		return Member{}, userLookupError(op, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.communities[in.CommunityID]; !ok {
		return Member{}, NotFoundError{Op: op, Resource: "community"}
	}
	role, ok := s.roles[in.RoleID]
	if !ok {
		return Member{}, NotFoundError{Op: op, Resource: "role"}
	}
	key := memberKey{in.CommunityID, in.UserID}
	if _, ok := s.membership[key]; ok {
		return Member{}, ConflictError{Op: op, Field: "membership"}
	}

	mid, err := s.mint(ctx, op)
	if err != nil {
		return Member{}, err
	}
	s.members[mid] = memMember{id: mid, communityID: in.CommunityID, userID: in.UserID, roleID: in.RoleID, createdAt: in.Now}
	s.membership[key] = mid

	return Member{
		ID:          mid,
		CommunityID: in.CommunityID,
		User:        Ref{ID: user.ID, Name: user.Name},
		Role:        Ref{ID: role.ID, Name: role.Name},
		CreatedAt:   in.Now,
	}, nil
}

func (s *MemoryStore) GetMember(ctx context.Context, id ids.ID) (Member, error) {
	s.mu.RLock()
	mm, ok := s.members[id]
	s.mu.RUnlock()
	if !ok {
		return Member{}, NotFoundError{Op: "community.GetMember", Resource: "member"}
	}
	return s.resolve(ctx, mm), nil
}

func (s *MemoryStore) GetMembership(ctx context.Context, communityID, userID ids.ID) (Member, error) {
	s.mu.RLock()
	mid, ok := s.membership[memberKey{communityID, userID}]
	mm := s.members[mid]
	s.mu.RUnlock()
	if !ok {
		return Member{}, NotFoundError{Op: "community.GetMembership", Resource: "member"}
	}
	return s.resolve(ctx, mm), nil
}

func (s *MemoryStore) ListMembers(ctx context.Context, communityID ids.ID, p Page) ([]Member, int, error) {
	s.mu.RLock()
	raw := make([]memMember, 0)
	for _, mm := range s.members {
		if mm.communityID == communityID {
			raw = append(raw, mm)
		}
	}
	s.mu.RUnlock()

	slices.SortFunc(raw, func(a, b memMember) int { return cmp.Compare(a.id, b.id) })
	total := len(raw)
	raw = window(raw, p)

	out := make([]Member, 0, len(raw))
	for _, mm := range raw {
		out = append(out, s.resolve(ctx, mm))
	}
	return out, total, nil
}

func (s *MemoryStore) RemoveMember(_ context.Context, id ids.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	mm, ok := s.members[id]
	if !ok {
		return NotFoundError{Op: "community.RemoveMember", Resource: "member"}
	}
	delete(s.members, id)
	delete(s.membership, memberKey{mm.communityID, mm.userID})
	return nil
}

// resolve fills the user and role names. Must be called without s.mu held.
func (s *MemoryStore) resolve(ctx context.Context, mm memMember) Member {
	m := Member{
		ID:          mm.id,
		CommunityID: mm.communityID,
		User:        Ref{ID: mm.userID},
		Role:        Ref{ID: mm.roleID},
		CreatedAt:   mm.createdAt,
	}
	if u, err := s.users.GetUserByID(ctx, mm.userID); err == nil {
		m.User.Name = u.Name
	}
	s.mu.RLock()
	m.Role.Name = s.roles[mm.roleID].Name
	s.mu.RUnlock()
	return m
}

func userLookupError(op string, err error) error {
	if identity.IsNotFound(err) {
		return NotFoundError{Op: op, Resource: "user"}
	}
	return err
}

func window[T any](items []T, p Page) []T {
	if p.Offset < 0 || p.Offset >= len(items) {
		return []T{}
	}
	end := len(items)
	if p.Limit > 0 && p.Limit < end-p.Offset {
		end = p.Offset + p.Limit
	}
	return items[p.Offset:end]
}
