package api

import (
	"errors"
	"net"
	"net/http"
	"strings"

	"commune/cmd/identity"
	"commune/cmd/internal/auth/session"
)

func (h *Handler) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	ctx := r.Context()
	now := h.now()

	u, err := h.users.CreateUser(ctx, identity.CreateUserInput{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
		Now:      now,
	})
	if err != nil {
		switch {
		case identity.IsInvalidInput(err):
			writeError(w, http.StatusBadRequest, identity.InvalidInputMessage(err))
		case identity.IsConflict(err):
			writeError(w, http.StatusBadRequest, "Email already exists")
		default:
			h.serverError(w, r, "auth.signup.fail", err)
		}
		return
	}

	token, _, err := h.tokens.Issue(u.ID, now)
	if err != nil {
		h.serverError(w, r, "auth.signup.token.fail", err)
		return
	}

	h.log.Info("auth.signup", "user_id", u.ID)
	writeData(w, http.StatusCreated, toUserResponse(u), tokenMeta{AccessToken: token})
}

func (h *Handler) handleSignin(w http.ResponseWriter, r *http.Request) {
	var req signinRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if !identity.ValidEmail(req.Email) {
		writeError(w, http.StatusBadRequest, "email must be a valid email address")
		return
	}
	if req.Password == "" {
		writeError(w, http.StatusBadRequest, "password is required")
		return
	}

	ctx := r.Context()
	now := h.now()
	ipKey := ipString(clientIP(r, h.cfg.TrustProxy))

	if blocked, retryAfter := h.signin.Blocked(ipKey, now); blocked {
		h.log.Warn("auth.signin.rate_limited", "ip", ipKey, "retry_after", retryAfter)
		writeRateLimited(w, retryAfter)
		return
	}

	ua, err := h.users.GetUserAuthByEmail(ctx, req.Email)
	if err != nil {
		if identity.IsNotFound(err) {
			// Keep the miss path as slow as a real verify.
			h.hasher.VerifyDummy(req.Password)
			h.signin.Fail(ipKey, now)
			writeError(w, http.StatusNotFound, "User not found")
			return
		}
		h.serverError(w, r, "auth.signin.lookup.fail", err)
		return
	}

	ok, err := h.hasher.Verify(req.Password, ua.PasswordHash)
	if err != nil {
		h.serverError(w, r, "auth.signin.verify.fail", err)
		return
	}
	if !ok {
		h.signin.Fail(ipKey, now)
		h.log.Info("auth.signin.fail", "user_id", ua.User.ID, "ip", ipKey)
		writeError(w, http.StatusForbidden, "Invalid credentials")
		return
	}

	token, _, err := h.tokens.Issue(ua.User.ID, now)
	if err != nil {
		h.serverError(w, r, "auth.signin.token.fail", err)
		return
	}
	writeData(w, http.StatusOK, toUserResponse(ua.User), tokenMeta{AccessToken: token})
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request, u identity.User) {
	writeData(w, http.StatusOK, toUserResponse(u), nil)
}

// requireAuth resolves the bearer token to a user. On failure it writes the
// 401 response and returns false.
func (h *Handler) requireAuth(w http.ResponseWriter, r *http.Request) (identity.User, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "Not authorized")
		return identity.User{}, false
	}
	claims, err := h.tokens.Verify(token, h.now())
	if err != nil {
		if errors.Is(err, session.ErrTokenExpired) {
			writeError(w, http.StatusUnauthorized, "Token has expired")
			return identity.User{}, false
		}
		writeError(w, http.StatusUnauthorized, "Invalid token")
		return identity.User{}, false
	}

	u, err := h.users.GetUserByID(r.Context(), claims.UserID)
	if err != nil {
		if identity.IsNotFound(err) {
			writeError(w, http.StatusUnauthorized, "Invalid credentials")
			return identity.User{}, false
		}
		h.serverError(w, r, "auth.resolve_user.fail", err)
		return identity.User{}, false
	}
	return u, true
}

// authed wraps a handler that needs the authenticated user.
func (h *Handler) authed(next func(http.ResponseWriter, *http.Request, identity.User)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u, ok := h.requireAuth(w, r)
		if !ok {
			return
		}
		next(w, r, u)
	}
}

func bearerToken(r *http.Request) string {
	raw := strings.TrimSpace(r.Header.Get("Authorization"))
	if raw == "" {
		return ""
	}
	parts := strings.SplitN(raw, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func clientIP(r *http.Request, trustProxy bool) net.IP {
	if trustProxy {
		if ip := parseForwardedIP(r.Header.Get("X-Forwarded-For")); ip != nil {
			return ip
		}
		if ip := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ip != nil {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil {
		if ip := net.ParseIP(host); ip != nil {
			return ip
		}
	}
	return nil
}

func parseForwardedIP(raw string) net.IP {
	if raw == "" {
		return nil
	}
	for _, p := range strings.Split(raw, ",") {
		if ip := net.ParseIP(strings.TrimSpace(p)); ip != nil {
			return ip
		}
	}
	return nil
}

func ipString(ip net.IP) string {
	if ip == nil {
		return ""
	}
	return ip.String()
}
