package auth

import (
	"context"

	"github.com/gin-gonic/gin"

	"minichat/internal/models"
	"minichat/internal/service/chat"
)

const currentUserContextKey = "auth_current_user"

// UserResolver looks up a user record by primary key.
type UserResolver interface {
	GetUser(ctx context.Context, id int64) (*models.User, error)
}

var _ UserResolver = (*chat.Service)(nil)

// OptionalUser resolves the session cookie to a user once at the
// request boundary. Requests without a valid session pass through with
// no user bound; handlers read the result via CurrentUser and never
// touch cookies or tokens themselves.
func (s *Service) OptionalUser(users UserResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := c.Cookie(s.cookieName)
		if err != nil || token == "" {
			c.Next()
			return
		}
		userID, err := s.ValidateToken(c.Request.Context(), token)
		if err != nil {
			c.Next()
			return
		}
		user, err := users.GetUser(c.Request.Context(), userID)
		if err != nil {
			c.Next()
			return
		}
		c.Set(currentUserContextKey, user)
		c.Next()
	}
}

// CurrentUser returns the user bound by OptionalUser, or nil.
func CurrentUser(c *gin.Context) *models.User {
	val, ok := c.Get(currentUserContextKey)
	if !ok {
		return nil
	}
	user, ok := val.(*models.User)
	if !ok {
		return nil
	}
	return user
}
