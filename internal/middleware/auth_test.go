package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/PortNumber53/social-publisher/internal/auth"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func protected(t *testing.T) (http.Handler, *auth.Verifier) {
	t.Helper()
	v := auth.NewVerifier("s3cret")
	logger, _ := logtest.NewNullLogger()
	h := RequireUser(v, logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("user=" + UserID(r.Context())))
	}))
	return h, v
}

func TestRequireUser_Valid(t *testing.T) {
	h, v := protected(t)
	tok, err := v.Sign("user-42", time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api-tester", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "user=user-42", rr.Body.String())
}

func TestRequireUser_Rejects(t *testing.T) {
	h, v := protected(t)
	expired, _ := v.Sign("user-42", -time.Minute)

	cases := map[string]struct {
		header string
		want   string
	}{
		"missing": {"", "missing bearer token"},
		"basic":   {"Basic dXNlcjpwYXNz", "missing bearer token"},
		"garbage": {"Bearer not-a-jwt", "invalid token"},
		"expired": {"Bearer " + expired, "token expired"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api-tester", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)

			assert.Equal(t, http.StatusUnauthorized, rr.Code)
			assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
			assert.True(t, strings.Contains(rr.Body.String(), tc.want), rr.Body.String())
		})
	}
}

func TestRequireUser_PreflightPasses(t *testing.T) {
	h, _ := protected(t)
	req := httptest.NewRequest(http.MethodOptions, "/api-tester", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
}
