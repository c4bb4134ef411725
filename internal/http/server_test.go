package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"schooldesk/auth-identity/internal/auth"
	"schooldesk/auth-identity/internal/crypto"
	"schooldesk/auth-identity/internal/logging"
	"schooldesk/auth-identity/internal/metrics"
	"schooldesk/auth-identity/internal/ratelimit"
	"schooldesk/auth-identity/internal/service"
	"schooldesk/auth-identity/internal/service/servicetest"
)

type testEnv struct {
	app    *httptest.Server
	svc    *service.AuthService
	store  *servicetest.MemoryStore
	clock  *testclock.Clock
	tokens *auth.Tokens
}

func newTestEnv(t *testing.T, limiter ratelimit.Limiter) *testEnv {
	t.Helper()
	clk := testclock.NewClock(time.Now())
	tokens, err := auth.NewTokens(auth.TokenConfig{
		AccessSecret:  "access-secret",
		RefreshSecret: "refresh-secret",
		Issuer:        "test",
		AccessTTL:     time.Hour,
		RefreshTTL:    24 * time.Hour,
	}, clk)
	require.NoError(t, err)

	store := servicetest.NewMemoryStore()
	m := metrics.New()
	svc := service.NewAuthService(service.Options{
		Store:    store,
		Hasher:   crypto.NewHasher(bcrypt.MinCost),
		Tokens:   tokens,
		Clock:    clk,
		Logger:   logging.Discard(),
		Recorder: m,
	})
	server := NewServer(Options{
		Accounts: svc,
		Limiter:  limiter,
		Metrics:  m,
		Logger:   logging.Discard(),
	})
	app := httptest.NewServer(server.Router())
	t.Cleanup(app.Close)
	return &testEnv{app: app, svc: svc, store: store, clock: clk, tokens: tokens}
}

type response struct {
	Status  int
	Success bool                   `json:"success"`
	Message string                 `json:"message"`
	Data    map[string]interface{} `json:"data"`
	Header  http.Header
}

func (e *testEnv) do(t *testing.T, method, path, token string, body interface{}) response {
	t.Helper()
	var payload bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&payload).Encode(body))
	}
	req, err := http.NewRequest(method, e.app.URL+path, &payload)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	out := response{Status: resp.StatusCode, Header: resp.Header}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return out
}

func (e *testEnv) register(t *testing.T, email, role string, profile string) service.Session {
	t.Helper()
	in := service.RegisterInput{Email: email, Password: "Passw0rd", Role: role}
	if profile != "" {
		in.Profile = json.RawMessage(profile)
	}
	session, err := e.svc.Register(context.Background(), in)
	require.NoError(t, err)
	return session
}

const teacherProfile = `{"employee_id":"EMP-1","first_name":"Ada","last_name":"Lovelace"}`

func TestHealth(t *testing.T) {
	env := newTestEnv(t, nil)
	resp, err := http.Get(env.app.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRegisterLoginScenario(t *testing.T) {
	env := newTestEnv(t, nil)

	resp := env.do(t, http.MethodPost, "/auth/register", "", map[string]interface{}{
		"email":    "teacher@school.test",
		"password": "Passw0rd",
		"role":     "Teacher",
		"profile":  json.RawMessage(teacherProfile),
	})
	require.Equal(t, http.StatusCreated, resp.Status, resp.Message)
	assert.True(t, resp.Success)
	assert.NotEmpty(t, resp.Data["token"])
	assert.NotEmpty(t, resp.Data["refreshToken"])
	user := resp.Data["user"].(map[string]interface{})
	assert.Equal(t, "Teacher", user["role"])
	assert.NotContains(t, user, "password_hash")
	profile := resp.Data["profile"].(map[string]interface{})
	assert.Equal(t, "EMP-1", profile["employee_id"])

	resp = env.do(t, http.MethodPost, "/auth/login", "", map[string]string{"email": "TEACHER@school.test", "password": "Passw0rd"})
	require.Equal(t, http.StatusOK, resp.Status)
	token := resp.Data["token"].(string)

	resp = env.do(t, http.MethodGet, "/auth/me", token, nil)
	require.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, "teacher@school.test", resp.Data["user"].(map[string]interface{})["email"])
}

func TestRegisterConflictAndValidation(t *testing.T) {
	env := newTestEnv(t, nil)
	env.register(t, "dup@school.test", "Teacher", teacherProfile)

	resp := env.do(t, http.MethodPost, "/auth/register", "", map[string]interface{}{
		"email": "dup@school.test", "password": "Passw0rd", "role": "Admin",
	})
	assert.Equal(t, http.StatusConflict, resp.Status)
	assert.False(t, resp.Success)

	resp = env.do(t, http.MethodPost, "/auth/register", "", map[string]interface{}{
		"email": "new@school.test", "password": "Passw0rd", "role": "Student",
		"profile": map[string]string{"first_name": "Sam"},
	})
	assert.Equal(t, http.StatusBadRequest, resp.Status)
	assert.Contains(t, resp.Message, "admission_number")

	resp = env.do(t, http.MethodPost, "/auth/register", "", map[string]interface{}{
		"email": "new@school.test", "password": "Passw0rd", "role": "Janitor",
	})
	assert.Equal(t, http.StatusBadRequest, resp.Status)

	resp = env.do(t, http.MethodPost, "/auth/register", "", map[string]interface{}{"unexpected": true})
	assert.Equal(t, http.StatusBadRequest, resp.Status)
	assert.Equal(t, msgInvalidBody, resp.Message)
	assert.Equal(t, 1, env.store.Count())
}

func TestLoginFailuresShareOneMessage(t *testing.T) {
	env := newTestEnv(t, nil)
	env.register(t, "teacher@school.test", "Teacher", teacherProfile)

	wrong := env.do(t, http.MethodPost, "/auth/login", "", map[string]string{"email": "teacher@school.test", "password": "Wrong0ne"})
	missing := env.do(t, http.MethodPost, "/auth/login", "", map[string]string{"email": "ghost@school.test", "password": "Passw0rd"})

	assert.Equal(t, http.StatusUnauthorized, wrong.Status)
	assert.Equal(t, http.StatusUnauthorized, missing.Status)
	assert.Equal(t, msgBadCredentials, wrong.Message)
	assert.Equal(t, wrong.Message, missing.Message)

	empty := env.do(t, http.MethodPost, "/auth/login", "", map[string]string{"email": "", "password": ""})
	assert.Equal(t, http.StatusBadRequest, empty.Status)
}

func TestAuthMiddlewareClassifiesTokens(t *testing.T) {
	env := newTestEnv(t, nil)
	session := env.register(t, "teacher@school.test", "Teacher", teacherProfile)

	resp := env.do(t, http.MethodGet, "/auth/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.Status)
	assert.Equal(t, msgNoToken, resp.Message)

	req, _ := http.NewRequest(http.MethodGet, env.app.URL+"/auth/me", nil)
	req.Header.Set("Authorization", "Basic "+session.Tokens.AccessToken)
	raw, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	raw.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, raw.StatusCode)

	resp = env.do(t, http.MethodGet, "/auth/me", "not.a.token", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.Status)
	assert.Equal(t, msgTokenInvalid, resp.Message)

	resp = env.do(t, http.MethodGet, "/auth/me", session.Tokens.RefreshToken, nil)
	assert.Equal(t, msgTokenInvalid, resp.Message)

	ghost, err := env.tokens.IssueAccess(auth.Identity{AccountID: 999, Email: "ghost@school.test", Role: "Admin"})
	require.NoError(t, err)
	resp = env.do(t, http.MethodGet, "/auth/me", ghost, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.Status)
	assert.Equal(t, msgAccountNotFound, resp.Message)

	env.clock.Advance(2 * time.Hour)
	resp = env.do(t, http.MethodGet, "/auth/me", session.Tokens.AccessToken, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.Status)
	assert.Equal(t, msgTokenExpired, resp.Message)
}

func TestRoleGate(t *testing.T) {
	env := newTestEnv(t, nil)
	admin := env.register(t, "admin@school.test", "Admin", "")
	teacher := env.register(t, "teacher@school.test", "Teacher", teacherProfile)
	parent := env.register(t, "parent@school.test", "Parent", `{"first_name":"Pat","last_name":"Doe","phone":"555"}`)

	target := "/accounts/" + strconv.FormatInt(parent.Account.ID, 10)

	resp := env.do(t, http.MethodGet, target, parent.Tokens.AccessToken, nil)
	assert.Equal(t, http.StatusForbidden, resp.Status)
	assert.Equal(t, msgForbidden, resp.Message)

	resp = env.do(t, http.MethodGet, target, teacher.Tokens.AccessToken, nil)
	assert.Equal(t, http.StatusOK, resp.Status)

	resp = env.do(t, http.MethodDelete, target, teacher.Tokens.AccessToken, nil)
	assert.Equal(t, http.StatusForbidden, resp.Status)

	resp = env.do(t, http.MethodGet, "/accounts/abc", admin.Tokens.AccessToken, nil)
	assert.Equal(t, http.StatusBadRequest, resp.Status)

	resp = env.do(t, http.MethodGet, "/accounts/4040", admin.Tokens.AccessToken, nil)
	assert.Equal(t, http.StatusNotFound, resp.Status)
}

func TestAuthorizeWithoutIdentity(t *testing.T) {
	handler := AdminOnly(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), msgAuthRequired)
}

func TestDeactivationRevokesAccess(t *testing.T) {
	env := newTestEnv(t, nil)
	admin := env.register(t, "admin@school.test", "Admin", "")
	teacher := env.register(t, "teacher@school.test", "Teacher", teacherProfile)
	target := "/accounts/" + strconv.FormatInt(teacher.Account.ID, 10)

	resp := env.do(t, http.MethodDelete, target, admin.Tokens.AccessToken, nil)
	require.Equal(t, http.StatusOK, resp.Status)

	resp = env.do(t, http.MethodGet, "/auth/me", teacher.Tokens.AccessToken, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.Status)
	assert.Equal(t, msgAccountNotFound, resp.Message)

	resp = env.do(t, http.MethodPost, "/auth/refresh", "", map[string]string{"refreshToken": teacher.Tokens.RefreshToken})
	assert.Equal(t, http.StatusUnauthorized, resp.Status)

	resp = env.do(t, http.MethodPost, "/auth/login", "", map[string]string{"email": "teacher@school.test", "password": "Passw0rd"})
	assert.Equal(t, http.StatusUnauthorized, resp.Status)

	resp = env.do(t, http.MethodPost, target+"/activate", admin.Tokens.AccessToken, nil)
	require.Equal(t, http.StatusOK, resp.Status)
	resp = env.do(t, http.MethodGet, "/auth/me", teacher.Tokens.AccessToken, nil)
	assert.Equal(t, http.StatusOK, resp.Status)

	self := "/accounts/" + strconv.FormatInt(admin.Account.ID, 10)
	resp = env.do(t, http.MethodDelete, self, admin.Tokens.AccessToken, nil)
	assert.Equal(t, http.StatusBadRequest, resp.Status)
}

func TestRefreshEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)
	session := env.register(t, "teacher@school.test", "Teacher", teacherProfile)

	resp := env.do(t, http.MethodPost, "/auth/refresh", "", map[string]string{"refreshToken": session.Tokens.AccessToken})
	assert.Equal(t, http.StatusUnauthorized, resp.Status)
	assert.Equal(t, msgTokenInvalid, resp.Message)

	resp = env.do(t, http.MethodPost, "/auth/refresh", "", map[string]string{"refreshToken": ""})
	assert.Equal(t, http.StatusBadRequest, resp.Status)

	resp = env.do(t, http.MethodPost, "/auth/refresh", "", map[string]string{"refreshToken": session.Tokens.RefreshToken})
	require.Equal(t, http.StatusOK, resp.Status)
	access := resp.Data["token"].(string)

	resp = env.do(t, http.MethodGet, "/auth/me", access, nil)
	assert.Equal(t, http.StatusOK, resp.Status)
}

func TestProvisionAdminOnly(t *testing.T) {
	env := newTestEnv(t, nil)
	admin := env.register(t, "admin@school.test", "Admin", "")
	teacher := env.register(t, "teacher@school.test", "Teacher", teacherProfile)

	body := map[string]interface{}{
		"email": "student@school.test", "password": "Passw0rd", "role": "Student",
		"profile": map[string]string{"admission_number": "ADM-1", "admission_date": "2024-09-01", "first_name": "Sam", "last_name": "Doe"},
	}
	resp := env.do(t, http.MethodPost, "/accounts", teacher.Tokens.AccessToken, body)
	assert.Equal(t, http.StatusForbidden, resp.Status)

	resp = env.do(t, http.MethodPost, "/accounts", admin.Tokens.AccessToken, body)
	require.Equal(t, http.StatusCreated, resp.Status, resp.Message)
	assert.NotContains(t, resp.Data, "token")
	assert.Equal(t, "ADM-1", resp.Data["profile"].(map[string]interface{})["student_id"])
}

func TestChangePasswordAndLogout(t *testing.T) {
	env := newTestEnv(t, nil)
	session := env.register(t, "teacher@school.test", "Teacher", teacherProfile)
	token := session.Tokens.AccessToken

	resp := env.do(t, http.MethodPut, "/auth/change-password", token, map[string]string{
		"currentPassword": "Passw0rd", "newPassword": "N3wSecret", "confirmPassword": "Mismatch1",
	})
	assert.Equal(t, http.StatusBadRequest, resp.Status)

	resp = env.do(t, http.MethodPut, "/auth/change-password", token, map[string]string{
		"currentPassword": "Wrong0ne", "newPassword": "N3wSecret", "confirmPassword": "N3wSecret",
	})
	assert.Equal(t, http.StatusUnauthorized, resp.Status)

	resp = env.do(t, http.MethodPut, "/auth/change-password", token, map[string]string{
		"currentPassword": "Passw0rd", "newPassword": "N3wSecret", "confirmPassword": "N3wSecret",
	})
	require.Equal(t, http.StatusOK, resp.Status)

	resp = env.do(t, http.MethodPost, "/auth/logout", token, nil)
	assert.Equal(t, http.StatusOK, resp.Status)

	resp = env.do(t, http.MethodGet, "/auth/me", token, nil)
	assert.Equal(t, http.StatusOK, resp.Status)
}

func TestOptionalSession(t *testing.T) {
	env := newTestEnv(t, nil)
	session := env.register(t, "teacher@school.test", "Teacher", teacherProfile)

	resp := env.do(t, http.MethodGet, "/auth/session", "", nil)
	require.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, false, resp.Data["authenticated"])

	resp = env.do(t, http.MethodGet, "/auth/session", "garbage", nil)
	require.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, false, resp.Data["authenticated"])

	resp = env.do(t, http.MethodGet, "/auth/session", session.Tokens.AccessToken, nil)
	require.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, true, resp.Data["authenticated"])
}

func TestRateLimit(t *testing.T) {
	limiter := ratelimit.NewMemoryLimiter(ratelimit.Config{Requests: 2, Window: time.Minute}, nil)
	env := newTestEnv(t, limiter)
	body := map[string]string{"email": "ghost@school.test", "password": "Passw0rd"}

	first := env.do(t, http.MethodPost, "/auth/login", "", body)
	assert.Equal(t, http.StatusUnauthorized, first.Status)
	assert.Equal(t, "2", first.Header.Get("X-RateLimit-Limit"))
	assert.Equal(t, "1", first.Header.Get("X-RateLimit-Remaining"))

	env.do(t, http.MethodPost, "/auth/login", "", body)
	third := env.do(t, http.MethodPost, "/auth/login", "", body)
	assert.Equal(t, http.StatusTooManyRequests, third.Status)
	assert.Equal(t, msgTooManyRequests, third.Message)
	assert.NotEmpty(t, third.Header.Get("Retry-After"))

	health, err := http.Get(env.app.URL + "/health")
	require.NoError(t, err)
	health.Body.Close()
	assert.Equal(t, http.StatusOK, health.StatusCode)
}

func TestBearerToken(t *testing.T) {
	assert.Equal(t, "abc", bearerToken("Bearer abc"))
	assert.Equal(t, "abc", bearerToken("bearer  abc "))
	assert.Equal(t, "", bearerToken("Token abc"))
	assert.Equal(t, "", bearerToken("Bearer"))
	assert.Equal(t, "", bearerToken(""))
}
