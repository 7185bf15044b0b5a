package api

import (
	"time"

	"commune/cmd/community"
	"commune/cmd/identity"
	"commune/cmd/identity/ids"
)

type signupRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type signinRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type nameRequest struct {
	Name string `json:"name"`
}

type addMemberRequest struct {
	Community ids.ID `json:"community"`
	User      ids.ID `json:"user"`
	Role      ids.ID `json:"role"`
}

type userResponse struct {
	ID        ids.ID    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

type refResponse struct {
	ID   ids.ID `json:"id"`
	Name string `json:"name"`
}

type roleResponse struct {
	ID        ids.ID    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type communityResponse struct {
	ID        ids.ID      `json:"id"`
	Name      string      `json:"name"`
	Slug      string      `json:"slug"`
	Owner     refResponse `json:"owner"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

type memberResponse struct {
	ID        ids.ID      `json:"id"`
	Community ids.ID      `json:"community"`
	User      refResponse `json:"user"`
	Role      refResponse `json:"role"`
	CreatedAt time.Time   `json:"created_at"`
}

func toUserResponse(u identity.User) userResponse {
	return userResponse{ID: u.ID, Name: u.Name, Email: u.Email, CreatedAt: u.CreatedAt}
}

func toRef(r community.Ref) refResponse {
	return refResponse{ID: r.ID, Name: r.Name}
}

func toRoleResponse(r community.Role) roleResponse {
	return roleResponse{ID: r.ID, Name: r.Name, CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt}
}

func toCommunityResponse(c community.Community) communityResponse {
	return communityResponse{
		ID:        c.ID,
		Name:      c.Name,
		Slug:      c.Slug,
		Owner:     toRef(c.Owner),
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
}

func toMemberResponse(m community.Member) memberResponse {
	return memberResponse{
		ID:        m.ID,
		Community: m.CommunityID,
		User:      toRef(m.User),
		Role:      toRef(m.Role),
		CreatedAt: m.CreatedAt,
	}
}

func mapSlice[T, R any](in []T, f func(T) R) []R {
	out := make([]R, 0, len(in))
	for _, v := range in {
		out = append(out, f(v))
	}
	return out
}
