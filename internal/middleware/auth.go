package middleware

import (
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"

	"memoria/internal/errs"
	"memoria/internal/models"
	"memoria/internal/services"
)

const (
	CheckUserKey   = "user"
	UnreadCountKey = "unread_count"

	// SessionUserKey is the session field holding the signed-in user id.
	SessionUserKey = "user_id"
)

// LoadUser resolves the session user, if any, and stores it in the context.
// A session pointing at a user that no longer exists is cleared.
func LoadUser(users *services.UserService, notes *services.NotificationService) gin.HandlerFunc {
	return func(c *gin.Context) {
		session := sessions.Default(c)
		id, ok := session.Get(SessionUserKey).(uint)
		if !ok || id == 0 {
			c.Next()
			return
		}

		user, err := users.Get(c.Request.Context(), id)
		switch {
		case err == nil:
			c.Set(CheckUserKey, user)
			if count, err := notes.UnreadCount(c.Request.Context(), user.ID); err == nil {
				c.Set(UnreadCountKey, count)
			}
		case errs.Is(err, errs.NotFound):
			session.Clear()
			_ = session.Save()
		}
		c.Next()
	}
}

// AuthRequired rejects requests without a signed-in user.
func AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, exists := c.Get(CheckUserKey); !exists {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "sign in required",
				"code":  errs.Unauthenticated,
			})
			return
		}
		c.Next()
	}
}

// CurrentUser returns the signed-in user or nil.
func CurrentUser(c *gin.Context) *models.User {
	if v, ok := c.Get(CheckUserKey); ok {
		if u, ok := v.(*models.User); ok {
			return u
		}
	}
	return nil
}

// ActorID is the signed-in user's id, or 0 for anonymous requests.
func ActorID(c *gin.Context) uint {
	if u := CurrentUser(c); u != nil {
		return u.ID
	}
	return 0
}
