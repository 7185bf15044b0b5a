package api

import (
	"net/http"

	"commune/cmd/community"
	"commune/cmd/identity"
	"commune/cmd/identity/ids"
)

func (h *Handler) handleAddMember(w http.ResponseWriter, r *http.Request, u identity.User) {
	var req addMemberRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	m, err := h.communities.AddMember(r.Context(), u.ID, req.Community, req.User, req.Role)
	if err != nil {
		h.writeMemberError(w, r, "member.add.fail", err)
		return
	}
	h.log.Info("member.add", "member_id", m.ID, "community_id", m.CommunityID, "by", u.ID)
	writeData(w, http.StatusCreated, toMemberResponse(m), nil)
}

func (h *Handler) handleRemoveMember(w http.ResponseWriter, r *http.Request, u identity.User) {
	id, err := ids.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "Member not found")
		return
	}

	if err := h.communities.RemoveMember(r.Context(), u.ID, id); err != nil {
		h.writeMemberError(w, r, "member.remove.fail", err)
		return
	}
	h.log.Info("member.remove", "member_id", id, "by", u.ID)
	writeOK(w)
}

func (h *Handler) writeMemberError(w http.ResponseWriter, r *http.Request, event string, err error) {
	switch {
	case community.IsInvalidInput(err):
		writeError(w, http.StatusBadRequest, community.InvalidInputMessage(err))
	case community.IsForbidden(err):
		writeError(w, http.StatusForbidden, "NOT_ALLOWED_ACCESS")
	case community.IsConflict(err):
		writeError(w, http.StatusConflict, "User is already a member of the community")
	case community.IsNotFound(err):
		switch community.MissingResource(err) {
		case "community":
			writeError(w, http.StatusNotFound, "Community not found")
		case "user":
			writeError(w, http.StatusNotFound, "User not found")
		case "role":
			writeError(w, http.StatusNotFound, "Role not found")
		default:
			writeError(w, http.StatusNotFound, "Member not found")
		}
	default:
		h.serverError(w, r, event, err)
	}
}
