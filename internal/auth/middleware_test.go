package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("test-secret")

func newTestHandler(t *testing.T) (http.Handler, *Identity) {
	t.Helper()
	seen := new(Identity)
	policy := NewDefaultPolicy([]string{"/healthz", "/metrics"}, nil)
	mw := NewMiddleware(testSecret, policy, nil)
	return mw.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*seen, _ = IdentityFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})), seen
}

func serve(handler http.Handler, method, path, token string) int {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	return resp.Code
}

func mustToken(t *testing.T, secret []byte, id Identity) string {
	t.Helper()
	token, err := IssueToken(secret, id, time.Hour, time.Now())
	require.NoError(t, err)
	return token
}

func TestAuthMiddleware_NoToken(t *testing.T) {
	handler, _ := newTestHandler(t)
	assert.Equal(t, http.StatusUnauthorized, serve(handler, http.MethodPost, "/api/v1/bills", ""))
}

func TestAuthMiddleware_ExemptPaths(t *testing.T) {
	handler, _ := newTestHandler(t)
	assert.Equal(t, http.StatusOK, serve(handler, http.MethodGet, "/healthz", ""))
	assert.Equal(t, http.StatusOK, serve(handler, http.MethodGet, "/metrics", ""))
}

func TestAuthMiddleware_RoleMatrix(t *testing.T) {
	viewer := mustToken(t, testSecret, Identity{Subject: "v", Role: RoleViewer})
	operator := mustToken(t, testSecret, Identity{Subject: "o", Role: RoleOperator})
	admin := mustToken(t, testSecret, Identity{Subject: "a", Role: RoleAdmin})

	cases := []struct {
		name   string
		method string
		path   string
		token  string
		want   int
	}{
		{"viewer consolidate", http.MethodPost, "/api/v1/jobs/consolidate", viewer, http.StatusForbidden},
		{"operator consolidate", http.MethodPost, "/api/v1/jobs/consolidate", operator, http.StatusOK},
		{"viewer allocate", http.MethodPost, "/api/v1/jobs/allocate", viewer, http.StatusForbidden},
		{"admin allocate", http.MethodPost, "/api/v1/jobs/allocate", admin, http.StatusOK},
		{"viewer create bill", http.MethodPost, "/api/v1/bills", viewer, http.StatusForbidden},
		{"operator create bill", http.MethodPost, "/api/v1/bills", operator, http.StatusOK},
		{"viewer export", http.MethodGet, "/api/v1/bills/doc-1/export.pdf", viewer, http.StatusOK},
		{"viewer status", http.MethodPost, "/api/v1/bills/doc-1/status", viewer, http.StatusForbidden},
		{"operator status", http.MethodPost, "/api/v1/bills/doc-1/status", operator, http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			handler, _ := newTestHandler(t)
			assert.Equal(t, tc.want, serve(handler, tc.method, tc.path, tc.token))
		})
	}
}

func TestAuthMiddleware_CustomerClaimInContext(t *testing.T) {
	handler, seen := newTestHandler(t)
	token := mustToken(t, testSecret, Identity{Subject: "billing-bot", Role: RoleOperator, CustomerID: "CUST-7"})
	require.Equal(t, http.StatusOK, serve(handler, http.MethodGet, "/api/v1/bills/doc-1/export.xlsx", token))
	assert.Equal(t, Identity{Subject: "billing-bot", Role: RoleOperator, CustomerID: "CUST-7"}, *seen)
	assert.True(t, seen.CustomerBound())
}

func TestAuthMiddleware_WrongSecret(t *testing.T) {
	handler, _ := newTestHandler(t)
	token := mustToken(t, []byte("other-secret"), Identity{Role: RoleAdmin})
	assert.Equal(t, http.StatusUnauthorized, serve(handler, http.MethodPost, "/api/v1/bills", token))
}

func TestAuthMiddleware_ExpiredToken(t *testing.T) {
	handler, _ := newTestHandler(t)
	token, err := IssueToken(testSecret, Identity{Role: RoleAdmin}, time.Minute, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, serve(handler, http.MethodPost, "/api/v1/bills", token))
}

func TestParseToken_UnknownRole(t *testing.T) {
	_, err := IssueToken(testSecret, Identity{Role: Role("root")}, time.Hour, time.Now())
	require.ErrorIs(t, err, ErrUnknownRole)

	_, err = ParseToken("", testSecret)
	require.ErrorIs(t, err, ErrEmptyToken)
}

func TestRoleSatisfies(t *testing.T) {
	assert.True(t, RoleAdmin.Satisfies(RoleOperator))
	assert.True(t, RoleOperator.Satisfies(RoleOperator))
	assert.False(t, RoleViewer.Satisfies(RoleOperator))
	assert.False(t, Role("").Satisfies(RoleViewer))
}

func TestIdentity_MayAccessCustomer(t *testing.T) {
	staff := Identity{Role: RoleAdmin}
	assert.True(t, staff.MayAccessCustomer("CUST-1"))

	bound := Identity{Role: RoleOperator, CustomerID: "CUST-1"}
	assert.True(t, bound.MayAccessCustomer("CUST-1"))
	assert.False(t, bound.MayAccessCustomer("CUST-2"))
}

func TestPolicy_RequiredRole(t *testing.T) {
	policy := NewDefaultPolicy([]string{"/healthz"}, nil)
	cases := []struct {
		method string
		path   string
		want   Role
		ok     bool
	}{
		{http.MethodGet, "/api/v1/jobs/consolidate", RoleOperator, true},
		{http.MethodGet, "/api/v1/bills", RoleViewer, true},
		{http.MethodPost, "/api/v1/bills", RoleOperator, true},
		{http.MethodHead, "/api/v1/bills/doc-1", RoleViewer, true},
		{http.MethodPost, "/api/v1/bills/doc-1/status", RoleOperator, true},
		{http.MethodPost, "/api/v2/other", RoleOperator, true},
		{http.MethodGet, "/healthz", "", false},
	}
	for _, tc := range cases {
		role, ok := policy.RequiredRole(httptest.NewRequest(tc.method, tc.path, nil))
		assert.Equal(t, tc.ok, ok, tc.path)
		assert.Equal(t, tc.want, role, tc.method+" "+tc.path)
	}
}

func TestBearerToken(t *testing.T) {
	assert.Equal(t, "abc", bearerToken("Bearer abc"))
	assert.Equal(t, "abc", bearerToken("bearer  abc "))
	assert.Empty(t, bearerToken("Basic abc"))
	assert.Empty(t, bearerToken("abc"))
	assert.Empty(t, bearerToken(""))
}
