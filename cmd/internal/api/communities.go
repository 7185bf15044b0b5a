package api

import (
	"context"
	"net/http"

	"commune/cmd/community"
	"commune/cmd/identity"
	"commune/cmd/identity/ids"
)

func (h *Handler) handleCreateCommunity(w http.ResponseWriter, r *http.Request, u identity.User) {
	var req nameRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	c, _, err := h.communities.CreateCommunity(r.Context(), u.ID, req.Name)
	if err != nil {
		switch {
		case community.IsInvalidInput(err):
			writeError(w, http.StatusBadRequest, community.InvalidInputMessage(err))
		case community.IsConflict(err):
			writeError(w, http.StatusConflict, "Community already exists")
		default:
			h.serverError(w, r, "community.create.fail", err)
		}
		return
	}
	h.log.Info("community.create", "community_id", c.ID, "owner_id", u.ID)
	writeData(w, http.StatusCreated, toCommunityResponse(c), nil)
}

func (h *Handler) handleListCommunities(w http.ResponseWriter, r *http.Request) {
	h.listCommunities(w, r, h.communities.ListCommunities)
}

func (h *Handler) handleOwnedCommunities(w http.ResponseWriter, r *http.Request, u identity.User) {
	h.listCommunities(w, r, func(ctx context.Context, p community.Page) ([]community.Community, int, error) {
		return h.communities.ListOwnedCommunities(ctx, u.ID, p)
	})
}

func (h *Handler) handleJoinedCommunities(w http.ResponseWriter, r *http.Request, u identity.User) {
	h.listCommunities(w, r, func(ctx context.Context, p community.Page) ([]community.Community, int, error) {
		return h.communities.ListJoinedCommunities(ctx, u.ID, p)
	})
}

type communityLister func(ctx context.Context, p community.Page) ([]community.Community, int, error)

func (h *Handler) listCommunities(w http.ResponseWriter, r *http.Request, list communityLister) {
	n, p, ok := h.pageFromQuery(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "page must be a positive integer")
		return
	}

	items, total, err := list(r.Context(), p)
	if err != nil {
		h.serverError(w, r, "community.list.fail", err)
		return
	}
	meta, ok := h.pageMetaFor(total, n)
	if !ok {
		writeError(w, http.StatusNotFound, "No Communities Found")
		return
	}
	writeData(w, http.StatusOK, mapSlice(items, toCommunityResponse), meta)
}

func (h *Handler) handleListMembers(w http.ResponseWriter, r *http.Request) {
	id, err := ids.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid community id")
		return
	}
	n, p, ok := h.pageFromQuery(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "page must be a positive integer")
		return
	}

	members, total, err := h.communities.ListMembers(r.Context(), id, p)
	if err != nil {
		h.serverError(w, r, "community.members.fail", err)
		return
	}
	meta, ok := h.pageMetaFor(total, n)
	if !ok {
		writeError(w, http.StatusNotFound, "No Members Found")
		return
	}
	writeData(w, http.StatusOK, mapSlice(members, toMemberResponse), meta)
}
