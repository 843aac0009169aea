package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/lingua-attempt/internal/response"
	"github.com/stemsi/lingua-attempt/internal/service"
)

// SessionValidator checks a token ID against the learner's active session.
type SessionValidator interface {
	ValidateSession(ctx context.Context, userID int, jti string) error
}

// CheckActiveSession rejects tokens whose JTI is no longer the learner's
// active session, i.e. after logout or a newer login elsewhere.
// Must run after RequireLearnerJWT or RequireLearnerWSAuth.
func CheckActiveSession(sessions SessionValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := GetClaims(c)
		if claims == nil {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenRequired)
			return
		}

		err := sessions.ValidateSession(c.Request.Context(), claims.UserID, claims.ID)
		switch {
		case err == nil:
			c.Next()
		case errors.Is(err, service.ErrSessionReplaced), errors.Is(err, service.ErrNoSession):
			response.AbortFail(c, http.StatusUnauthorized, response.ErrSessionReplaced)
		default:
			response.AbortFail(c, http.StatusServiceUnavailable, response.ErrInternal)
		}
	}
}
