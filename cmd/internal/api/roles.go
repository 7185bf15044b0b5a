package api

import (
	"net/http"

	"commune/cmd/community"
)

func (h *Handler) handleCreateRole(w http.ResponseWriter, r *http.Request) {
	var req nameRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	role, err := h.communities.CreateRole(r.Context(), req.Name)
	if err != nil {
		switch {
		case community.IsInvalidInput(err):
			writeError(w, http.StatusBadRequest, community.InvalidInputMessage(err))
		case community.IsConflict(err):
			writeError(w, http.StatusConflict, "Role name already exists")
		default:
			h.serverError(w, r, "role.create.fail", err)
		}
		return
	}
	writeData(w, http.StatusCreated, toRoleResponse(role), nil)
}

func (h *Handler) handleListRoles(w http.ResponseWriter, r *http.Request) {
	n, p, ok := h.pageFromQuery(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "page must be a positive integer")
		return
	}

	roles, total, err := h.communities.ListRoles(r.Context(), p)
	if err != nil {
		h.serverError(w, r, "role.list.fail", err)
		return
	}
	meta, ok := h.pageMetaFor(total, n)
	if !ok {
		writeError(w, http.StatusNotFound, "Roles Not Found")
		return
	}
	writeData(w, http.StatusOK, mapSlice(roles, toRoleResponse), meta)
}
