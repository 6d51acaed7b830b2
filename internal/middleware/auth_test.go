package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "test-secret"

func protected(h http.Handler) http.Handler {
	return Auth(secret)(h)
}

func TestParseToken_RoundTrip(t *testing.T) {
	tok, err := IssueToken(secret, UserClaims{UserID: "u-1", Email: "op@medbin.local", Role: "operator"}, time.Now())
	require.NoError(t, err)

	c, err := ParseToken(secret, tok)
	require.NoError(t, err)
	assert.Equal(t, "u-1", c.UserID)
	assert.Equal(t, "operator", c.Role)

	_, err = ParseToken("other-secret", tok)
	assert.Error(t, err)
}

func TestParseToken_Expired(t *testing.T) {
	tok, err := IssueToken(secret, UserClaims{UserID: "u-1", Role: "driver"}, time.Now().Add(-30*24*time.Hour))
	require.NoError(t, err)

	_, err = ParseToken(secret, tok)
	assert.Error(t, err)
}

func TestAuth(t *testing.T) {
	var seen UserClaims
	h := protected(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = GetUserFromContext(r)
		w.WriteHeader(http.StatusNoContent)
	}))

	tok, err := IssueToken(secret, UserClaims{UserID: "u-2", Email: "d@medbin.local", Role: "driver"}, time.Now())
	require.NoError(t, err)

	cases := []struct {
		name   string
		header string
		want   int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"short header", "Bearer", http.StatusUnauthorized},
		{"wrong scheme", "Basic " + tok, http.StatusUnauthorized},
		{"garbage token", "Bearer abc", http.StatusUnauthorized},
		{"valid", "Bearer " + tok, http.StatusNoContent},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/devices", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tc.want, rec.Code)
		})
	}
	assert.Equal(t, "u-2", seen.UserID)
}

func TestRequireRole(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	h := protected(RequireRole("operator", "admin")(ok))

	for role, want := range map[string]int{
		"operator": http.StatusOK,
		"admin":    http.StatusOK,
		"driver":   http.StatusForbidden,
	} {
		tok, err := IssueToken(secret, UserClaims{UserID: "u", Role: role}, time.Now())
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodPost, "/api/devices/DEV-1/command", nil)
		req.Header.Set("Authorization", "Bearer "+tok)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, want, rec.Code, role)
	}
}
