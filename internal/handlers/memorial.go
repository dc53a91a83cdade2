package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"memoria/internal/middleware"
	"memoria/internal/services"
)

type MemorialHandler struct {
	svc           *services.Services
	maxUploadSize int64
}

func NewMemorialHandler(svc *services.Services, maxUploadSize int64) *MemorialHandler {
	return &MemorialHandler{svc: svc, maxUploadSize: maxUploadSize}
}

// memorialRequest carries dates as YYYY-MM-DD strings.
type memorialRequest struct {
	Name            *string `json:"name"`
	Bio             *string `json:"bio"`
	BirthDate       *string `json:"birth_date"`
	PassingDate     *string `json:"passing_date"`
	AnniversaryDate *string `json:"anniversary_date"`
}

func (r memorialRequest) dates() (birth, passing, anniversary *time.Time, err error) {
	if birth, err = parseDate("birth_date", r.BirthDate); err != nil {
		return
	}
	if passing, err = parseDate("passing_date", r.PassingDate); err != nil {
		return
	}
	anniversary, err = parseDate("anniversary_date", r.AnniversaryDate)
	return
}

func (h *MemorialHandler) List(c *gin.Context) {
	ctx := c.Request.Context()
	var page services.Page
	page.Limit, page.Offset = pageQuery(c)

	var creatorID uint
	if name := c.Query("creator"); name != "" {
		creator, err := h.svc.Users.ByUsername(ctx, name)
		if err != nil {
			respondError(c, err)
			return
		}
		creatorID = creator.ID
	}

	list, err := h.svc.Memorials.List(ctx, creatorID, page)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *MemorialHandler) Create(c *gin.Context) {
	var req memorialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	birth, passing, anniversary, err := req.dates()
	if err != nil {
		respondError(c, err)
		return
	}
	in := services.MemorialInput{BirthDate: birth, PassingDate: passing, AnniversaryDate: anniversary}
	if req.Name != nil {
		in.Name = *req.Name
	}
	if req.Bio != nil {
		in.Bio = *req.Bio
	}

	page, err := h.svc.Memorials.Create(c.Request.Context(), middleware.ActorID(c), in)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, page)
}

func (h *MemorialHandler) Detail(c *gin.Context) {
	view, err := h.svc.Memorials.Get(c.Request.Context(), middleware.ActorID(c), c.Param("slug"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *MemorialHandler) Update(c *gin.Context) {
	var req memorialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	birth, passing, anniversary, err := req.dates()
	if err != nil {
		respondError(c, err)
		return
	}

	page, err := h.svc.Memorials.Update(c.Request.Context(), middleware.ActorID(c), c.Param("slug"), services.MemorialUpdate{
		Name:            req.Name,
		Bio:             req.Bio,
		BirthDate:       birth,
		PassingDate:     passing,
		AnniversaryDate: anniversary,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (h *MemorialHandler) UploadAvatar(c *gin.Context) {
	up, closer, err := formUpload(c, "image", h.maxUploadSize, true)
	if err != nil {
		respondError(c, err)
		return
	}
	defer closer.Close()

	page, err := h.svc.Memorials.SetAvatar(c.Request.Context(), middleware.ActorID(c), c.Param("slug"), up)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

// AddMemory takes a multipart form (content, optional image) or JSON.
func (h *MemorialHandler) AddMemory(c *gin.Context) {
	var req struct {
		Content string `json:"content" form:"content" binding:"required"`
	}
	if err := c.ShouldBind(&req); err != nil {
		bindError(c, err)
		return
	}
	up, closer, err := formUpload(c, "image", h.maxUploadSize, false)
	if err != nil {
		respondError(c, err)
		return
	}
	defer closer.Close()

	memory, err := h.svc.Memorials.AddMemory(c.Request.Context(), middleware.ActorID(c), c.Param("slug"), req.Content, up)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, memory)
}

func (h *MemorialHandler) DeleteMemory(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	if err := h.svc.Memorials.DeleteMemory(c.Request.Context(), middleware.ActorID(c), id); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *MemorialHandler) LikeMemory(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	res, err := h.svc.Relations.Toggle(c.Request.Context(), middleware.ActorID(c), id, services.KindMemoryLike)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// Flower toggles the actor's virtual flower on the page.
func (h *MemorialHandler) Flower(c *gin.Context) {
	page, err := h.svc.Memorials.BySlug(c.Request.Context(), c.Param("slug"))
	if err != nil {
		respondError(c, err)
		return
	}
	res, err := h.svc.Relations.Toggle(c.Request.Context(), middleware.ActorID(c), page.ID, services.KindFlower)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *MemorialHandler) Comments(c *gin.Context) {
	list, err := h.svc.Memorials.ListComments(c.Request.Context(), c.Param("slug"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *MemorialHandler) CreateComment(c *gin.Context) {
	var req commentRequest
	if err := c.ShouldBind(&req); err != nil {
		bindError(c, err)
		return
	}
	comment, err := h.svc.Memorials.AddComment(c.Request.Context(), middleware.ActorID(c), c.Param("slug"), req.Content)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, comment)
}

func (h *MemorialHandler) DeleteComment(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	if err := h.svc.Memorials.DeleteComment(c.Request.Context(), middleware.ActorID(c), id); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
