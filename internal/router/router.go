package router

import (
	"log/slog"
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"

	"memoria/internal/handlers"
	"memoria/internal/middleware"
	"memoria/internal/services"
)

type Options struct {
	SessionSecret string
	CookieName    string
	SecureCookies bool
	MaxUploadSize int64

	// UploadDir, when set, is served under UploadURL (local storage).
	UploadDir string
	UploadURL string
}

// New builds the engine with sessions, middleware and every route.
func New(svc *services.Services, opts Options, log *slog.Logger) *gin.Engine {
	r := gin.New()
	r.Use(middleware.Recovery(log), middleware.RequestLogger(log))
	r.MaxMultipartMemory = opts.MaxUploadSize

	store := cookie.NewStore([]byte(opts.SessionSecret))
	store.Options(sessions.Options{
		Path:     "/",
		MaxAge:   30 * 24 * 3600,
		HttpOnly: true,
		Secure:   opts.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	r.Use(sessions.Sessions(opts.CookieName, store))
	r.Use(middleware.LoadUser(svc.Users, svc.Notifications))

	if opts.UploadDir != "" {
		r.Static(opts.UploadURL, opts.UploadDir)
	}
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	RegisterRoutes(r, svc, opts.MaxUploadSize)
	return r
}

func RegisterRoutes(r *gin.Engine, svc *services.Services, maxUploadSize int64) {
	authHandler := handlers.NewAuthHandler(svc.Users)
	userHandler := handlers.NewUserHandler(svc, maxUploadSize)
	postHandler := handlers.NewPostHandler(svc, maxUploadSize)
	memorialHandler := handlers.NewMemorialHandler(svc, maxUploadSize)
	notificationHandler := handlers.NewNotificationHandler(svc.Notifications)

	api := r.Group("/api")

	// Public routes
	api.POST("/auth/signup", authHandler.SignUp)
	api.POST("/auth/signin", authHandler.SignIn)
	api.POST("/auth/signout", authHandler.SignOut)

	api.GET("/users/:username", userHandler.Profile)
	api.GET("/users/:username/followers", userHandler.Followers)
	api.GET("/users/:username/following", userHandler.Following)

	api.GET("/posts", postHandler.List)
	api.GET("/posts/:id", postHandler.Detail)
	api.GET("/posts/:id/comments", postHandler.Comments)

	api.GET("/memorials", memorialHandler.List)
	api.GET("/memorials/:slug", memorialHandler.Detail)
	api.GET("/memorials/:slug/comments", memorialHandler.Comments)

	// Protected routes
	authorized := api.Group("/")
	authorized.Use(middleware.AuthRequired())
	{
		authorized.GET("/me", userHandler.Me)
		authorized.PATCH("/me", userHandler.UpdateMe)
		authorized.POST("/me/avatar", userHandler.UploadAvatar)
		authorized.GET("/me/bookmarks", userHandler.Bookmarks)
		authorized.POST("/users/:username/follow", userHandler.Follow)

		authorized.POST("/posts", postHandler.Create)
		authorized.PATCH("/posts/:id", postHandler.Update)
		authorized.DELETE("/posts/:id", postHandler.Delete)
		authorized.POST("/posts/:id/like", postHandler.Like)
		authorized.POST("/posts/:id/bookmark", postHandler.Bookmark)
		authorized.POST("/posts/:id/comments", postHandler.CreateComment)
		authorized.DELETE("/comments/:id", postHandler.DeleteComment)

		authorized.POST("/memorials", memorialHandler.Create)
		authorized.PATCH("/memorials/:slug", memorialHandler.Update)
		authorized.POST("/memorials/:slug/avatar", memorialHandler.UploadAvatar)
		authorized.POST("/memorials/:slug/memories", memorialHandler.AddMemory)
		authorized.POST("/memorials/:slug/flowers", memorialHandler.Flower)
		authorized.POST("/memorials/:slug/comments", memorialHandler.CreateComment)
		authorized.DELETE("/memories/:id", memorialHandler.DeleteMemory)
		authorized.POST("/memories/:id/like", memorialHandler.LikeMemory)
		authorized.DELETE("/memorial-comments/:id", memorialHandler.DeleteComment)

		authorized.GET("/notifications", notificationHandler.List)
		authorized.POST("/notifications/read-all", notificationHandler.ReadAll)
		authorized.POST("/notifications/:id/read", notificationHandler.Read)
		authorized.DELETE("/notifications/:id", notificationHandler.Delete)
	}
}
