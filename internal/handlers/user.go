package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"memoria/internal/middleware"
	"memoria/internal/services"
)

type UserHandler struct {
	svc           *services.Services
	maxUploadSize int64
}

func NewUserHandler(svc *services.Services, maxUploadSize int64) *UserHandler {
	return &UserHandler{svc: svc, maxUploadSize: maxUploadSize}
}

// Me returns the signed-in user with the unread notification count.
func (h *UserHandler) Me(c *gin.Context) {
	user := middleware.CurrentUser(c)
	unread, _ := c.Get(middleware.UnreadCountKey)
	c.JSON(http.StatusOK, gin.H{"user": user, "unread_count": unread})
}

type profileRequest struct {
	Username    *string `json:"username"`
	DisplayName *string `json:"display_name"`
	Bio         *string `json:"bio"`
}

func (h *UserHandler) UpdateMe(c *gin.Context) {
	var req profileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	user, err := h.svc.Users.UpdateProfile(c.Request.Context(), middleware.ActorID(c), services.ProfileUpdate{
		Username:    req.Username,
		DisplayName: req.DisplayName,
		Bio:         req.Bio,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

func (h *UserHandler) UploadAvatar(c *gin.Context) {
	up, closer, err := formUpload(c, "image", h.maxUploadSize, true)
	if err != nil {
		respondError(c, err)
		return
	}
	defer closer.Close()

	user, err := h.svc.Users.SetAvatar(c.Request.Context(), middleware.ActorID(c), up)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

func (h *UserHandler) Bookmarks(c *gin.Context) {
	posts, err := h.svc.Users.Bookmarks(c.Request.Context(), middleware.ActorID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, posts)
}

func (h *UserHandler) Profile(c *gin.Context) {
	p, err := h.svc.Users.Profile(c.Request.Context(), middleware.ActorID(c), c.Param("username"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *UserHandler) Followers(c *gin.Context) {
	users, err := h.svc.Users.Followers(c.Request.Context(), c.Param("username"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, users)
}

func (h *UserHandler) Following(c *gin.Context) {
	users, err := h.svc.Users.Following(c.Request.Context(), c.Param("username"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, users)
}

// Follow toggles following the user named in the path.
func (h *UserHandler) Follow(c *gin.Context) {
	target, err := h.svc.Users.ByUsername(c.Request.Context(), c.Param("username"))
	if err != nil {
		respondError(c, err)
		return
	}
	res, err := h.svc.Relations.Toggle(c.Request.Context(), middleware.ActorID(c), target.ID, services.KindFollow)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}
