package http

import (
	"github.com/dkeye/liveroom/internal/domain"
	"github.com/dkeye/liveroom/internal/logging"
	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const (
	sessionName    = "LiveroomSessions"
	sessionGuestID = "guest_id"
	// contextVerified marks users named by the trusted upstream header.
	contextVerified = "user_verified"

	HeaderConnectionID = "X-Connection-ID"
)

// IdentityMiddleware resolves the caller. A trusted proxy sets header to the
// verified user id; everyone else is a guest whose id lives in the session
// cookie.
func IdentityMiddleware(header string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if uid := c.GetHeader(header); header != "" && uid != "" {
			c.Set(logging.ContextUserID, uid)
			c.Set(contextVerified, true)
			c.Next()
			return
		}

		session := sessions.Default(c)
		guest, _ := session.Get(sessionGuestID).(string)
		if guest == "" {
			guest = domain.NewGuestID()
			session.Set(sessionGuestID, guest)
			if err := session.Save(); err != nil {
				log.Warn().Err(err).Str("module", "adapters.http").Msg("guest session not saved")
			}
		}
		c.Set(logging.ContextUserID, guest)
		c.Next()
	}
}

func userID(c *gin.Context) string {
	return c.GetString(logging.ContextUserID)
}
