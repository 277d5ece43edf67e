package relay

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/putto11262002/relay/core"
	"github.com/putto11262002/relay/pkg/router"
)

type userKey string

const requestUserKey userKey = "user"

// UserFromRequest extracts the authenticated user from the request context.
// It must be called in handlers protected by AuthMiddleware; it panics
// otherwise.
func UserFromRequest(r *http.Request) string {
	userID, ok := r.Context().Value(requestUserKey).(string)
	if !ok {
		panic("user not found in request context: call this function in handlers protected by AuthMiddleware")
	}
	return userID
}

// AuthMiddleware verifies the bearer token on the request with the same
// authenticator the websocket gateway uses, and attaches the resolved user to
// the request context.
func AuthMiddleware(auth core.Authenticator) router.Middleware {
	return func(next http.Handler) router.HandlerFunc {
		authErr := router.NewJsonError(http.StatusUnauthorized, "unauthenticated")

		return func(w http.ResponseWriter, r *http.Request) error {
			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || token == "" {
				return authErr
			}

			userID, err := auth.Verify(r.Context(), token)
			if err != nil {
				if errors.Is(err, core.ErrAuthFailed) {
					return authErr
				}
				return err
			}

			newCtx := context.WithValue(r.Context(), requestUserKey, userID)
			next.ServeHTTP(w, r.WithContext(newCtx))
			return nil
		}
	}
}
