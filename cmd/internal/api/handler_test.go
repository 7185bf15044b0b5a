package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"commune/cmd/community"
	"commune/cmd/identity"
	"commune/cmd/identity/ids"
	"commune/cmd/internal/auth/session"
	"commune/cmd/security/password"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnvelope struct {
	Status  bool   `json:"status"`
	Error   string `json:"error"`
	Content struct {
		Data json.RawMessage `json:"data"`
		Meta json.RawMessage `json:"meta"`
	} `json:"content"`
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type testAPI struct {
	srv   *httptest.Server
	clock *testClock
	gen   *ids.Generator
	svc   *community.Service
}

func testHasher() *identity.PasswordHasher {
	return identity.NewPasswordHasher(password.Config{
		Params: password.Argon2idParams{
			MemoryKiB:   8 * 1024,
			Iterations:  1,
			Parallelism: 1,
			SaltLength:  16,
			KeyLength:   32,
		},
		Policy: password.Policy{MinLength: 6, MaxLength: 256},
	})
}

func newTestAPI(t *testing.T, mutate func(*Config)) *testAPI {
	t.Helper()
	return newTestAPIWithSource(t, mutate, nil)
}

func newTestAPIWithSource(t *testing.T, mutate func(*Config), src ids.Source) *testAPI {
	t.Helper()

	gen, err := ids.NewGenerator(1, 1577836800000)
	require.NoError(t, err)
	if src == nil {
		src = gen
	}

	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}

	clock := &testClock{now: time.Now().UTC()}
	hasher := testHasher()
	users := identity.NewMemoryStore(src, hasher)
	svc := community.NewService(community.NewMemoryStore(src, users), clock.Now)

	tokens, err := session.NewPasetoV4PublicManager(session.DefaultConfig())
	require.NoError(t, err)

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	h, err := NewHandler(log, cfg, users, hasher, tokens, svc, WithClock(clock.Now))
	require.NoError(t, err)

	mux := http.NewServeMux()
	h.Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return &testAPI{srv: srv, clock: clock, gen: gen, svc: svc}
}

func (a *testAPI) do(t *testing.T, method, path string, body any, token string) (int, testEnvelope) {
	t.Helper()

	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, a.srv.URL+path, rdr)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := a.srv.Client().Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var env testEnvelope
	if len(bytes.TrimSpace(raw)) > 0 {
		require.NoError(t, json.Unmarshal(raw, &env), "body: %s", raw)
	}
	return resp.StatusCode, env
}

// signup registers a user and returns its id and access token.
func (a *testAPI) signup(t *testing.T, name string) (ids.ID, string) {
	t.Helper()

	status, env := a.do(t, http.MethodPost, "/v1/auth/signup", signupRequest{
		Name:     name,
		Email:    name + "@example.com",
		Password: "secret-pw",
	}, "")
	require.Equal(t, http.StatusCreated, status, env.Error)

	var u userResponse
	require.NoError(t, json.Unmarshal(env.Content.Data, &u))
	var meta tokenMeta
	require.NoError(t, json.Unmarshal(env.Content.Meta, &meta))
	require.NotEmpty(t, meta.AccessToken)
	return u.ID, meta.AccessToken
}

func TestSignup_IssuesGeneratedIDAndToken(t *testing.T) {
	t.Parallel()
	a := newTestAPI(t, nil)

	status, env := a.do(t, http.MethodPost, "/v1/auth/signup", signupRequest{
		Name:     "John Snow",
		Email:    "john@example.com",
		Password: "winter-is-coming",
	}, "")
	require.Equal(t, http.StatusCreated, status)
	assert.True(t, env.Status)

	// ids cross the wire as decimal strings.
	var raw map[string]any
	require.NoError(t, json.Unmarshal(env.Content.Data, &raw))
	idStr, ok := raw["id"].(string)
	require.True(t, ok, "id must be a JSON string, got %T", raw["id"])
	_, hasPassword := raw["password"]
	assert.False(t, hasPassword)

	id, err := ids.Parse(idStr)
	require.NoError(t, err)
	assert.EqualValues(t, 1, a.gen.Decode(id).WorkerID)

	var meta tokenMeta
	require.NoError(t, json.Unmarshal(env.Content.Meta, &meta))

	status, env = a.do(t, http.MethodGet, "/v1/auth/me", nil, meta.AccessToken)
	require.Equal(t, http.StatusOK, status)
	var me userResponse
	require.NoError(t, json.Unmarshal(env.Content.Data, &me))
	assert.Equal(t, id, me.ID)
	assert.Equal(t, "john@example.com", me.Email)
}

func TestSignup_Validation(t *testing.T) {
	t.Parallel()
	a := newTestAPI(t, nil)
	a.signup(t, "taken")

	tests := []struct {
		name string
		req  signupRequest
		want string
	}{
		{"short name", signupRequest{Name: "J", Email: "j@example.com", Password: "secret-pw"}, "name must be at least 2 characters"},
		{"bad email", signupRequest{Name: "Jon", Email: "nope", Password: "secret-pw"}, "email must be a valid email address"},
		{"short password", signupRequest{Name: "Jon", Email: "jon@example.com", Password: "12345"}, "password is too short"},
		{"duplicate email", signupRequest{Name: "Jon", Email: "TAKEN@example.com", Password: "secret-pw"}, "Email already exists"},
	}
	for _, tt := range tests {
		status, env := a.do(t, http.MethodPost, "/v1/auth/signup", tt.req, "")
		assert.Equal(t, http.StatusBadRequest, status, tt.name)
		assert.False(t, env.Status, tt.name)
		assert.Equal(t, tt.want, env.Error, tt.name)
	}

	status, env := a.do(t, http.MethodPost, "/v1/auth/signup", map[string]any{"name": "Jon", "extra": 1}, "")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "Invalid request body", env.Error)
}

func TestSignin(t *testing.T) {
	t.Parallel()
	a := newTestAPI(t, nil)
	id, _ := a.signup(t, "arya")

	status, env := a.do(t, http.MethodPost, "/v1/auth/signin", signinRequest{Email: "ghost@example.com", Password: "secret-pw"}, "")
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "User not found", env.Error)

	status, env = a.do(t, http.MethodPost, "/v1/auth/signin", signinRequest{Email: "arya@example.com", Password: "wrong-pw"}, "")
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "Invalid credentials", env.Error)

	status, env = a.do(t, http.MethodPost, "/v1/auth/signin", signinRequest{Email: "ARYA@example.com", Password: "secret-pw"}, "")
	require.Equal(t, http.StatusOK, status)
	var u userResponse
	require.NoError(t, json.Unmarshal(env.Content.Data, &u))
	assert.Equal(t, id, u.ID)
	var meta tokenMeta
	require.NoError(t, json.Unmarshal(env.Content.Meta, &meta))
	assert.NotEmpty(t, meta.AccessToken)

	status, _ = a.do(t, http.MethodPost, "/v1/auth/signin", signinRequest{Email: "arya@example.com"}, "")
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestSignin_ThrottlesFailuresPerIP(t *testing.T) {
	t.Parallel()
	a := newTestAPI(t, func(c *Config) {
		c.SigninIPMax = 2
		c.SigninIPWindow = time.Minute
	})
	a.signup(t, "bran")

	bad := signinRequest{Email: "bran@example.com", Password: "wrong-pw"}
	for range 2 {
		status, _ := a.do(t, http.MethodPost, "/v1/auth/signin", bad, "")
		require.Equal(t, http.StatusForbidden, status)
	}

	// Even correct credentials are refused while blocked.
	good := signinRequest{Email: "bran@example.com", Password: "secret-pw"}
	status, env := a.do(t, http.MethodPost, "/v1/auth/signin", good, "")
	assert.Equal(t, http.StatusTooManyRequests, status)
	assert.False(t, env.Status)

	a.clock.Advance(time.Minute + time.Second)
	status, _ = a.do(t, http.MethodPost, "/v1/auth/signin", good, "")
	assert.Equal(t, http.StatusOK, status)
}

func TestRequireAuth(t *testing.T) {
	t.Parallel()
	a := newTestAPI(t, nil)
	_, token := a.signup(t, "sansa")

	status, env := a.do(t, http.MethodGet, "/v1/auth/me", nil, "")
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "Not authorized", env.Error)

	status, env = a.do(t, http.MethodGet, "/v1/auth/me", nil, "garbage")
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "Invalid token", env.Error)

	a.clock.Advance(25 * time.Hour)
	status, env = a.do(t, http.MethodGet, "/v1/auth/me", nil, token)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "Token has expired", env.Error)
}

func TestRoles(t *testing.T) {
	t.Parallel()
	a := newTestAPI(t, nil)

	status, env := a.do(t, http.MethodGet, "/v1/role", nil, "")
	assert.Equal(t, http.StatusNotFound, status, "empty listing")

	var created []ids.ID
	for i := range 12 {
		status, env = a.do(t, http.MethodPost, "/v1/role", nameRequest{Name: fmt.Sprintf("Role %02d", i)}, "")
		require.Equal(t, http.StatusCreated, status, env.Error)
		var r roleResponse
		require.NoError(t, json.Unmarshal(env.Content.Data, &r))
		created = append(created, r.ID)
	}

	status, env = a.do(t, http.MethodPost, "/v1/role", nameRequest{Name: "Role 00"}, "")
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "Role name already exists", env.Error)

	status, env = a.do(t, http.MethodPost, "/v1/role", nameRequest{Name: "R"}, "")
	assert.Equal(t, http.StatusBadRequest, status)

	status, env = a.do(t, http.MethodGet, "/v1/role", nil, "")
	require.Equal(t, http.StatusOK, status)
	var page1 []roleResponse
	require.NoError(t, json.Unmarshal(env.Content.Data, &page1))
	var meta pageMeta
	require.NoError(t, json.Unmarshal(env.Content.Meta, &meta))
	assert.Equal(t, pageMeta{Total: 12, Pages: 2, Page: 1}, meta)
	require.Len(t, page1, 10)

	status, env = a.do(t, http.MethodGet, "/v1/role?page=2", nil, "")
	require.Equal(t, http.StatusOK, status)
	var page2 []roleResponse
	require.NoError(t, json.Unmarshal(env.Content.Data, &page2))
	require.Len(t, page2, 2)

	// Listing order is creation order, which is id order.
	all := append(page1, page2...)
	for i, r := range all {
		assert.Equal(t, created[i], r.ID)
	}

	status, _ = a.do(t, http.MethodGet, "/v1/role?page=3", nil, "")
	assert.Equal(t, http.StatusNotFound, status)
	status, _ = a.do(t, http.MethodGet, "/v1/role?page=zero", nil, "")
	assert.Equal(t, http.StatusBadRequest, status)

	// (page-1)*PageSize would overflow.
	status, env = a.do(t, http.MethodGet, "/v1/role?page=9223372036854775807", nil, "")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "page must be a positive integer", env.Error)

	// Largest page whose offset still fits is just past the end.
	status, _ = a.do(t, http.MethodGet, "/v1/role?page=922337203685477581", nil, "")
	assert.Equal(t, http.StatusNotFound, status)
}

func TestCommunities(t *testing.T) {
	t.Parallel()
	a := newTestAPI(t, nil)
	ownerID, ownerTok := a.signup(t, "jon")
	_, otherTok := a.signup(t, "sam")

	status, _ := a.do(t, http.MethodPost, "/v1/community", nameRequest{Name: "Night Watch"}, "")
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = a.do(t, http.MethodGet, "/v1/community", nil, "")
	assert.Equal(t, http.StatusNotFound, status)

	status, env := a.do(t, http.MethodPost, "/v1/community", nameRequest{Name: "Night Watch"}, ownerTok)
	require.Equal(t, http.StatusCreated, status, env.Error)
	var c communityResponse
	require.NoError(t, json.Unmarshal(env.Content.Data, &c))
	assert.Equal(t, "night-watch", c.Slug)
	assert.Equal(t, refResponse{ID: ownerID, Name: "jon"}, c.Owner)

	status, env = a.do(t, http.MethodPost, "/v1/community", nameRequest{Name: "night watch"}, otherTok)
	assert.Equal(t, http.StatusConflict, status)

	status, env = a.do(t, http.MethodGet, "/v1/community", nil, "")
	require.Equal(t, http.StatusOK, status)
	var list []communityResponse
	require.NoError(t, json.Unmarshal(env.Content.Data, &list))
	require.Len(t, list, 1)
	assert.Equal(t, "jon", list[0].Owner.Name)

	status, _ = a.do(t, http.MethodGet, "/v1/community/me/owner", nil, ownerTok)
	assert.Equal(t, http.StatusOK, status)
	status, _ = a.do(t, http.MethodGet, "/v1/community/me/member", nil, ownerTok)
	assert.Equal(t, http.StatusOK, status)
	status, _ = a.do(t, http.MethodGet, "/v1/community/me/owner", nil, otherTok)
	assert.Equal(t, http.StatusNotFound, status)

	status, env = a.do(t, http.MethodGet, "/v1/community/"+c.ID.String()+"/members", nil, "")
	require.Equal(t, http.StatusOK, status)
	var members []memberResponse
	require.NoError(t, json.Unmarshal(env.Content.Data, &members))
	require.Len(t, members, 1)
	assert.Equal(t, ownerID, members[0].User.ID)
	assert.Equal(t, community.RoleAdmin, members[0].Role.Name)
	assert.Less(t, uint64(c.ID), uint64(members[0].ID))

	status, _ = a.do(t, http.MethodGet, "/v1/community/abc/members", nil, "")
	assert.Equal(t, http.StatusBadRequest, status)

	// Only the canonical decimal spelling names the community.
	for _, alias := range []string{"0" + c.ID.String(), "+" + c.ID.String()} {
		status, env = a.do(t, http.MethodGet, "/v1/community/"+alias+"/members", nil, "")
		assert.Equal(t, http.StatusBadRequest, status, alias)
		assert.Equal(t, "Invalid community id", env.Error)
	}
}

func TestMembers(t *testing.T) {
	t.Parallel()
	a := newTestAPI(t, nil)
	_, adminTok := a.signup(t, "ned")
	modID, modTok := a.signup(t, "jory")
	plainID, plainTok := a.signup(t, "hodor")

	roles, err := a.svc.EnsureRoles(context.Background(), community.DefaultRoles...)
	require.NoError(t, err)
	modRole, memberRole := roles[1], roles[2]

	status, env := a.do(t, http.MethodPost, "/v1/community", nameRequest{Name: "Winterfell"}, adminTok)
	require.Equal(t, http.StatusCreated, status)
	var c communityResponse
	require.NoError(t, json.Unmarshal(env.Content.Data, &c))

	add := func(tok string, user, role ids.ID) (int, testEnvelope) {
		return a.do(t, http.MethodPost, "/v1/member", addMemberRequest{Community: c.ID, User: user, Role: role}, tok)
	}

	status, env = add(modTok, modID, modRole.ID)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "NOT_ALLOWED_ACCESS", env.Error)

	status, env = add(adminTok, modID, modRole.ID)
	require.Equal(t, http.StatusCreated, status, env.Error)
	var modMember memberResponse
	require.NoError(t, json.Unmarshal(env.Content.Data, &modMember))
	assert.Equal(t, "Community Moderator", modMember.Role.Name)

	status, env = add(adminTok, plainID, memberRole.ID)
	require.Equal(t, http.StatusCreated, status, env.Error)
	var plainMember memberResponse
	require.NoError(t, json.Unmarshal(env.Content.Data, &plainMember))

	status, env = add(adminTok, plainID, memberRole.ID)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "User is already a member of the community", env.Error)

	status, env = add(adminTok, ids.ID(99), memberRole.ID)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "User not found", env.Error)

	// Moderators may not add, plain members may not remove.
	status, _ = add(modTok, ids.ID(99), memberRole.ID)
	assert.Equal(t, http.StatusForbidden, status)
	status, env = a.do(t, http.MethodDelete, "/v1/member/"+modMember.ID.String(), nil, plainTok)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "NOT_ALLOWED_ACCESS", env.Error)

	status, env = a.do(t, http.MethodDelete, "/v1/member/"+plainMember.ID.String(), nil, modTok)
	require.Equal(t, http.StatusOK, status, env.Error)
	assert.True(t, env.Status)

	status, env = a.do(t, http.MethodDelete, "/v1/member/"+plainMember.ID.String(), nil, adminTok)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "Member not found", env.Error)

	status, env = a.do(t, http.MethodGet, "/v1/community/"+c.ID.String()+"/members", nil, "")
	require.Equal(t, http.StatusOK, status)
	var meta pageMeta
	require.NoError(t, json.Unmarshal(env.Content.Meta, &meta))
	assert.Equal(t, 2, meta.Total)
}

type failingSource struct{ err error }

func (f failingSource) NextContext(context.Context) (ids.ID, error) { return 0, f.err }

func TestGeneratorFailure_Is500(t *testing.T) {
	t.Parallel()
	rollback := &ids.ClockRollbackError{Drift: time.Second, Tolerance: ids.DefaultMaxRollback}
	a := newTestAPIWithSource(t, nil, failingSource{err: rollback})

	status, env := a.do(t, http.MethodPost, "/v1/auth/signup", signupRequest{
		Name:     "Tyrion",
		Email:    "tyrion@example.com",
		Password: "secret-pw",
	}, "")
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "Internal Server Error", env.Error)

	status, _ = a.do(t, http.MethodPost, "/v1/role", nameRequest{Name: "Hand"}, "")
	assert.Equal(t, http.StatusInternalServerError, status)
}

func TestClientIP_TrustProxy(t *testing.T) {
	t.Parallel()

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "192.0.2.1:1234"
	r.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")

	if got := ipString(clientIP(r, false)); got != "192.0.2.1" {
		t.Fatalf("untrusted proxy: got %q", got)
	}
	if got := ipString(clientIP(r, true)); got != "203.0.113.7" {
		t.Fatalf("trusted proxy: got %q", got)
	}
}

func TestBearerToken(t *testing.T) {
	t.Parallel()

	tests := []struct {
		header string
		want   string
	}{
		{"", ""},
		{"Bearer abc", "abc"},
		{"bearer  abc ", "abc"},
		{"Basic abc", ""},
		{"Bearer", ""},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		if tt.header != "" {
			r.Header.Set("Authorization", tt.header)
		}
		if got := bearerToken(r); got != tt.want {
			t.Fatalf("bearerToken(%q)=%q want=%q", tt.header, got, tt.want)
		}
	}
}
