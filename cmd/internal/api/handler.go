package api

import (
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"commune/cmd/community"
	"commune/cmd/identity"
	"commune/cmd/internal/auth/session"
)

// Handler serves the /v1 API.
type Handler struct {
	log *slog.Logger
	cfg Config

	users       identity.Store
	hasher      *identity.PasswordHasher
	tokens      session.AccessTokenManager
	communities *community.Service

	signin *ipThrottle
	now    func() time.Time
}

// HandlerOption configures optional Handler dependencies.
type HandlerOption func(*Handler)

// WithClock overrides the wall clock used for token issue and throttling.
func WithClock(now func() time.Time) HandlerOption {
	return func(h *Handler) {
		if now != nil {
			h.now = now
		}
	}
}

// NewHandler constructs a Handler.
func NewHandler(
	log *slog.Logger,
	cfg Config,
	users identity.Store,
	hasher *identity.PasswordHasher,
	tokens session.AccessTokenManager,
	communities *community.Service,
	opts ...HandlerOption,
) (*Handler, error) {
	if log == nil {
		log = slog.Default()
	}
	if users == nil || hasher == nil || tokens == nil || communities == nil {
		return nil, errors.New("api: users, hasher, tokens and communities are required")
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultConfig().MaxBodyBytes
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultConfig().PageSize
	}

	h := &Handler{
		log:         log,
		cfg:         cfg,
		users:       users,
		hasher:      hasher,
		tokens:      tokens,
		communities: communities,
		signin:      newIPThrottle(cfg.SigninIPMax, cfg.SigninIPWindow),
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h, nil
}

// Register wires the API routes onto mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.HandleFunc("POST /v1/auth/signup", h.handleSignup)
	mux.HandleFunc("POST /v1/auth/signin", h.handleSignin)
	mux.HandleFunc("GET /v1/auth/me", h.authed(h.handleMe))

	mux.HandleFunc("POST /v1/role", h.handleCreateRole)
	mux.HandleFunc("GET /v1/role", h.handleListRoles)

	mux.HandleFunc("POST /v1/community", h.authed(h.handleCreateCommunity))
	mux.HandleFunc("GET /v1/community", h.handleListCommunities)
	mux.HandleFunc("GET /v1/community/me/owner", h.authed(h.handleOwnedCommunities))
	mux.HandleFunc("GET /v1/community/me/member", h.authed(h.handleJoinedCommunities))
	mux.HandleFunc("GET /v1/community/{id}/members", h.handleListMembers)

	mux.HandleFunc("POST /v1/member", h.authed(h.handleAddMember))
	mux.HandleFunc("DELETE /v1/member/{id}", h.authed(h.handleRemoveMember))
}

// serverError logs err and writes a generic 500.
func (h *Handler) serverError(w http.ResponseWriter, r *http.Request, event string, err error) {
	h.log.Error(event, "err", err, "path", r.URL.Path)
	writeError(w, http.StatusInternalServerError, "Internal Server Error")
}

// pageFromQuery parses ?page (1-based, default 1). Pages whose offset does
// not fit an int are rejected like any other malformed value.
func (h *Handler) pageFromQuery(r *http.Request) (int, community.Page, bool) {
	n := 1
	if raw := r.URL.Query().Get("page"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 || v-1 > math.MaxInt/h.cfg.PageSize {
			return 0, community.Page{}, false
		}
		n = v
	}
	return n, community.Page{Offset: (n - 1) * h.cfg.PageSize, Limit: h.cfg.PageSize}, true
}

// pageMetaFor returns the listing meta, and false when page lies beyond
// the last page (which includes every page of an empty listing).
func (h *Handler) pageMetaFor(total, page int) (pageMeta, bool) {
	pages := (total + h.cfg.PageSize - 1) / h.cfg.PageSize
	return pageMeta{Total: total, Pages: pages, Page: page}, page <= pages
}
