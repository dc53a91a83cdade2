package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"memoria/internal/middleware"
	"memoria/internal/services"
)

type PostHandler struct {
	svc           *services.Services
	maxUploadSize int64
}

func NewPostHandler(svc *services.Services, maxUploadSize int64) *PostHandler {
	return &PostHandler{svc: svc, maxUploadSize: maxUploadSize}
}

type postRequest struct {
	Content string `json:"content" form:"content"`
}

type commentRequest struct {
	Content string `json:"content" form:"content" binding:"required"`
}

// List returns the newest posts; ?author=<username> narrows to one author.
func (h *PostHandler) List(c *gin.Context) {
	ctx := c.Request.Context()
	q := services.PostQuery{}
	q.Limit, q.Offset = pageQuery(c)

	if name := c.Query("author"); name != "" {
		author, err := h.svc.Users.ByUsername(ctx, name)
		if err != nil {
			respondError(c, err)
			return
		}
		q.AuthorID = author.ID
	}

	posts, err := h.svc.Posts.List(ctx, middleware.ActorID(c), q)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, posts)
}

// Create accepts JSON or a multipart form with an optional "media" image.
func (h *PostHandler) Create(c *gin.Context) {
	var req postRequest
	if err := c.ShouldBind(&req); err != nil {
		bindError(c, err)
		return
	}
	media, closer, err := formUpload(c, "media", h.maxUploadSize, false)
	if err != nil {
		respondError(c, err)
		return
	}
	defer closer.Close()

	post, err := h.svc.Posts.Create(c.Request.Context(), middleware.ActorID(c), services.PostInput{
		Content: req.Content,
		Media:   media,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, post)
}

func (h *PostHandler) Detail(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	post, err := h.svc.Posts.Get(c.Request.Context(), middleware.ActorID(c), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, post)
}

func (h *PostHandler) Update(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req postRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	post, err := h.svc.Posts.Update(c.Request.Context(), middleware.ActorID(c), id, req.Content)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, post)
}

func (h *PostHandler) Delete(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	if err := h.svc.Posts.Delete(c.Request.Context(), middleware.ActorID(c), id); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *PostHandler) Like(c *gin.Context) {
	h.toggle(c, services.KindLike)
}

func (h *PostHandler) Bookmark(c *gin.Context) {
	h.toggle(c, services.KindBookmark)
}

func (h *PostHandler) toggle(c *gin.Context, kind services.RelationKind) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	res, err := h.svc.Relations.Toggle(c.Request.Context(), middleware.ActorID(c), id, kind)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *PostHandler) Comments(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	list, err := h.svc.Posts.ListComments(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *PostHandler) CreateComment(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req commentRequest
	if err := c.ShouldBind(&req); err != nil {
		bindError(c, err)
		return
	}
	comment, err := h.svc.Posts.AddComment(c.Request.Context(), middleware.ActorID(c), id, req.Content)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, comment)
}

func (h *PostHandler) DeleteComment(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	if err := h.svc.Posts.DeleteComment(c.Request.Context(), middleware.ActorID(c), id); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
