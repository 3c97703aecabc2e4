package users

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"findoc-backend/internal/shared/server/respond"
)

type Handler struct {
	Svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{Svc: svc}
}

func (h *Handler) RegisterRoutes(r gin.IRoutes) {
	r.POST("/users/", h.create)
}

type createRequest struct {
	Email    string `json:"email" form:"email"`
	FullName string `json:"full_name" form:"full_name"`
}

func (h *Handler) create(c *gin.Context) {
	if h.Svc == nil {
		respond.Error(c, http.StatusInternalServerError, "internal_error", "service unavailable", nil)
		return
	}

	var req createRequest
	if err := c.ShouldBind(&req); err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "invalid request body", nil)
		return
	}
	if strings.TrimSpace(req.Email) == "" {
		respond.Error(c, http.StatusBadRequest, "validation_error", "email is required", nil)
		return
	}

	user, err := h.Svc.GetOrCreate(c.Request.Context(), req.Email, req.FullName)
	if err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", err.Error(), nil)
		return
	}
	c.Set("userId", user.ID)

	respond.OK(c, gin.H{
		"user_id":   user.ID,
		"email":     user.Email,
		"full_name": user.FullName,
	})
}
