package http

import (
	"context"
	stdhttp "net/http"

	"github.com/dkeye/liveroom/internal/adapters/signal"
	"github.com/dkeye/liveroom/internal/adapters/sse"
	"github.com/dkeye/liveroom/internal/app/orch"
	"github.com/dkeye/liveroom/internal/config"
	"github.com/dkeye/liveroom/internal/logging"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/securecookie"
	"github.com/rs/zerolog/log"
)

func SetupRouter(ctx context.Context, cfg *config.Config, o *orch.Orchestrator) *gin.Engine {
	switch cfg.Server.Mode {
	case gin.DebugMode, gin.TestMode:
		gin.SetMode(cfg.Server.Mode)
	default:
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logging.GinMiddleware())

	store := cookie.NewStore(sessionKey(cfg.Server.Secret))
	store.Options(sessions.Options{Path: "/", MaxAge: 3600 * 24 * 7, HttpOnly: true, SameSite: stdhttp.SameSiteLaxMode})
	r.Use(sessions.Sessions(sessionName, store))
	r.Use(IdentityMiddleware(cfg.Server.IdentityHeader))

	if cfg.Server.StaticPath != "" {
		r.Static("/static", cfg.Server.StaticPath)
		r.GET("/", func(c *gin.Context) {
			c.File(cfg.Server.StaticPath + "/index.html")
		})
	}
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(stdhttp.StatusOK, gin.H{"status": "ok", "rooms": o.Rooms.Count(), "clients": o.Hub.ClientCount()})
	})

	log.Info().Str("module", "adapters.http").Str("static", cfg.Server.StaticPath).Msg("router setup")

	api := r.Group("/api")

	api.GET("/events", sse.Handler(o, cfg.Broadcast.SinkBuffer, userID))

	ctrl := signal.NewSignalWSController(o, signal.Options{
		ReadLimit:  cfg.Server.ReadLimit,
		PingPeriod: cfg.Server.PingPeriod,
		SendBuffer: cfg.Broadcast.SinkBuffer,
	})
	api.GET("/ws/signal", func(c *gin.Context) {
		log.Info().Str("module", "adapters.http").Str("user", userID(c)).Msg("ws signal endpoint hit")
		ctrl.HandleSignal(ctx, c, userID(c))
	})

	registerRoutes(api, &handlers{o: o})
	return r
}

// sessionKey signs guest cookies. Without a configured secret a random key is
// used, so guest ids do not survive a restart.
func sessionKey(secret string) []byte {
	if secret != "" {
		return []byte(secret)
	}
	log.Warn().Str("module", "adapters.http").Msg("server.secret not set, using a random session key")
	return securecookie.GenerateRandomKey(32)
}

func registerRoutes(api *gin.RouterGroup, h *handlers) {
	api.POST("/notify", h.notify)

	rooms := api.Group("/rooms")
	rooms.GET("", h.listRooms)
	rooms.POST("", h.createRoom)

	room := rooms.Group("/:roomID")
	room.GET("", h.getRoom)
	room.PATCH("", h.updateRoom)
	room.GET("/participants", h.participants)
	room.POST("/join", h.join)
	room.POST("/leave", h.leave)
	room.POST("/kick", h.kick)

	room.GET("/capabilities", h.capabilities)
	room.POST("/transports", h.createTransport)
	room.POST("/transports/:transportID/connect", h.connectTransport)
	room.POST("/transports/:transportID/offer", h.renegotiate)
	room.POST("/transports/:transportID/answer", h.applyAnswer)
	room.POST("/transports/:transportID/candidates", h.addCandidate)
	room.DELETE("/transports/:transportID", h.closeTransport)
	room.GET("/producers", h.listProducers)
	room.POST("/producers", h.produce)
	room.DELETE("/producers/:producerID", h.closeProducer)
	room.POST("/consumers", h.consume)
	room.POST("/consumers/:consumerID/pause", h.pauseConsumer)
	room.POST("/consumers/:consumerID/resume", h.resumeConsumer)
	room.DELETE("/consumers/:consumerID", h.closeConsumer)
	room.GET("/media", h.mediaStats)

	room.POST("/reactions", h.react)
	room.POST("/comments", h.comment)
	room.GET("/history", h.history)
}
