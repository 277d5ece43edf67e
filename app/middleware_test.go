package relay

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/putto11262002/relay/core"
	"github.com/putto11262002/relay/pkg/router"
)

func TestAuthMiddleware(t *testing.T) {
	secret := []byte("0123456789abcdef0123456789abcdef")

	r := router.New()
	r.Use(AuthMiddleware(core.NewJWTAuthenticator(secret)))
	r.Get("/whoami", func(w http.ResponseWriter, req *http.Request) error {
		_, err := io.WriteString(w, UserFromRequest(req))
		return err
	})
	server := httptest.NewServer(r)
	defer server.Close()

	get := func(t *testing.T, authorization string) (*http.Response, string) {
		t.Helper()
		req, err := http.NewRequest(http.MethodGet, server.URL+"/whoami", nil)
		require.NoError(t, err)
		if authorization != "" {
			req.Header.Set("Authorization", authorization)
		}
		res, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer res.Body.Close()
		body, err := io.ReadAll(res.Body)
		require.NoError(t, err)
		return res, string(body)
	}

	t.Run("missing header", func(t *testing.T) {
		res, body := get(t, "")
		assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
		assert.Contains(t, body, "unauthenticated")
	})

	t.Run("non-bearer scheme", func(t *testing.T) {
		res, _ := get(t, "Token abc")
		assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
	})

	t.Run("invalid token", func(t *testing.T) {
		res, _ := get(t, "Bearer not.a.jwt")
		assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
	})

	t.Run("valid token resolves the user", func(t *testing.T) {
		token, _, err := core.NewToken("alice", time.Hour, secret)
		require.NoError(t, err)
		res, body := get(t, "Bearer "+token)
		assert.Equal(t, http.StatusOK, res.StatusCode)
		assert.Equal(t, "alice", body)
	})
}
