package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatwire/pkg/chaterr"
	"chatwire/pkg/config"
	"chatwire/pkg/models"
)

func setSecret(t *testing.T, secret string) {
	t.Helper()
	config.SetRuntime(&config.RuntimeConfig{JWTSecret: secret})
}

func TestMintVerifyRoundTrip(t *testing.T) {
	setSecret(t, "unit-test-secret")
	id := models.Identity{ID: "cust-1", Name: "Ada", Role: models.RoleCustomer}

	tok, err := Mint(id, time.Minute)
	require.NoError(t, err)
	require.NotEmpty(t, tok)

	got, err := Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, id, got)
}

func TestVerifyExpiredToken(t *testing.T) {
	setSecret(t, "unit-test-secret")
	claims := Claims{
		Role: models.RoleAgent,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "agent-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("unit-test-secret"))
	require.NoError(t, err)

	_, err = Verify(tok)
	require.Error(t, err)
	assert.True(t, chaterr.Is(err, chaterr.CodeUnauthorized))
	assert.Equal(t, "token expired", chaterr.MessageOf(err))
}

func TestVerifyWrongSecret(t *testing.T) {
	setSecret(t, "secret-a")
	tok, err := Mint(models.Identity{ID: "u1", Role: models.RoleCustomer}, time.Minute)
	require.NoError(t, err)

	setSecret(t, "secret-b")
	_, err = Verify(tok)
	assert.True(t, chaterr.Is(err, chaterr.CodeUnauthorized))
}

func TestVerifyRejectsUnknownRole(t *testing.T) {
	setSecret(t, "unit-test-secret")
	claims := Claims{
		Role: "superuser",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "u1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		},
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("unit-test-secret"))
	require.NoError(t, err)

	_, err = Verify(tok)
	assert.True(t, chaterr.Is(err, chaterr.CodeUnauthorized))
}

func TestVerifyDefaultsNameToSubject(t *testing.T) {
	setSecret(t, "unit-test-secret")
	tok, err := Mint(models.Identity{ID: "u1", Role: models.RoleCustomer}, time.Minute)
	require.NoError(t, err)

	got, err := Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, "u1", got.Name)
}

func TestCan(t *testing.T) {
	cases := []struct {
		role   string
		action string
		want   bool
	}{
		{models.RoleCustomer, ActionOpenSession, true},
		{models.RoleCustomer, ActionAccept, false},
		{models.RoleCustomer, ActionClose, true},
		{models.RoleCustomer, ActionViewPending, false},
		{models.RoleAgent, ActionAccept, true},
		{models.RoleAgent, ActionOpenSession, false},
		{models.RoleAgent, ActionViewPending, true},
		{models.RoleAdmin, ActionAdmin, true},
		{models.RoleAdmin, ActionAccept, false},
		{models.RoleSystem, ActionClose, false},
		{"", ActionClose, false},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, Can(c.role, c.action), "role=%q action=%q", c.role, c.action)
	}
}

func TestBearerToken(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/v1/sessions", nil)
	r.Header.Set("Authorization", "Bearer abc123")
	assert.Equal(t, "abc123", BearerToken(r))

	r = httptest.NewRequest(http.MethodGet, "/v1/ws?token=qp456", nil)
	assert.Equal(t, "qp456", BearerToken(r))

	// header wins over query param
	r = httptest.NewRequest(http.MethodGet, "/v1/ws?token=qp456", nil)
	r.Header.Set("Authorization", "bearer hdr789")
	assert.Equal(t, "hdr789", BearerToken(r))

	r = httptest.NewRequest(http.MethodGet, "/v1/sessions", nil)
	assert.Equal(t, "", BearerToken(r))
}

func TestMiddlewareRejectsMissingToken(t *testing.T) {
	setSecret(t, "unit-test-secret")
	h := AuthenticateRequestMiddleware(SecConfig{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not run")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/sessions", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), string(chaterr.CodeUnauthorized))
}

func TestMiddlewareInjectsIdentity(t *testing.T) {
	setSecret(t, "unit-test-secret")
	tok, err := Mint(models.Identity{ID: "u1", Name: "Ada", Role: models.RoleCustomer}, time.Minute)
	require.NoError(t, err)

	var got models.Identity
	h := AuthenticateRequestMiddleware(SecConfig{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = IdentityFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/sessions", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "u1", got.ID)
	assert.Equal(t, models.RoleCustomer, got.Role)
}

func TestMiddlewareAllowsProbesUnauthenticated(t *testing.T) {
	setSecret(t, "unit-test-secret")
	called := false
	h := AuthenticateRequestMiddleware(SecConfig{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, called)
}

func TestMiddlewareRateLimits(t *testing.T) {
	setSecret(t, "unit-test-secret")
	tok, err := Mint(models.Identity{ID: "u1", Role: models.RoleCustomer}, time.Minute)
	require.NoError(t, err)

	h := AuthenticateRequestMiddleware(SecConfig{RPS: 1, Burst: 1})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/v1/sessions", nil)
		req.Header.Set("Authorization", "Bearer "+tok)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, http.StatusOK, codes[0])
	assert.Contains(t, codes, http.StatusTooManyRequests)
}

func TestRequireAction(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	h := RequireAction(ActionAdmin, inner)

	// no identity in context
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/admin/stats", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// customer lacks the admin permission
	req := httptest.NewRequest(http.MethodGet, "/v1/admin/stats", nil)
	req = req.WithContext(WithIdentity(req.Context(), models.Identity{ID: "c1", Role: models.RoleCustomer}))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// admin passes
	req = httptest.NewRequest(http.MethodGet, "/v1/admin/stats", nil)
	req = req.WithContext(WithIdentity(req.Context(), models.Identity{ID: "adm1", Role: models.RoleAdmin}))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
