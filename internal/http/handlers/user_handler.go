// README: Account handlers: registration and the caller's own profile.
package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"quickassist/internal/http/middleware"
	"quickassist/internal/modules/user"
	"quickassist/internal/types"
)

type UserService interface {
	Register(ctx context.Context, cmd user.RegisterCommand) (*user.User, error)
	Me(ctx context.Context, uid types.ID) (*user.User, error)
	UpdateContact(ctx context.Context, uid types.ID, phone, deviceToken *string) (*user.User, error)
}

type UserHandler struct {
	users UserService
}

func NewUserHandler(users UserService) *UserHandler {
	return &UserHandler{users: users}
}

type registerReq struct {
	Name        string `json:"name" binding:"required,max=120"`
	Email       string `json:"email" binding:"omitempty,email"`
	PhoneNumber string `json:"phone_number" binding:"max=20"`
	Role        string `json:"role" binding:"omitempty,oneof=CUSTOMER PROVIDER"`
	DeviceToken string `json:"device_token"`
}

// Register binds the verified token subject to a new account.
func (h *UserHandler) Register(c *gin.Context) {
	var req registerReq
	if !bindJSON(c, &req) {
		return
	}
	u, err := h.users.Register(c.Request.Context(), user.RegisterCommand{
		UID:         middleware.CallerUID(c),
		Name:        req.Name,
		Email:       req.Email,
		PhoneNumber: req.PhoneNumber,
		Role:        types.Role(req.Role),
		DeviceToken: req.DeviceToken,
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, u)
}

func (h *UserHandler) Me(c *gin.Context) {
	u, err := h.users.Me(c.Request.Context(), middleware.Caller(c).ID)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, u)
}

type contactReq struct {
	PhoneNumber *string `json:"phone_number" binding:"omitempty,max=20"`
	DeviceToken *string `json:"device_token"`
}

func (h *UserHandler) UpdateContact(c *gin.Context) {
	var req contactReq
	if !bindJSON(c, &req) {
		return
	}
	u, err := h.users.UpdateContact(c.Request.Context(), middleware.Caller(c).ID, req.PhoneNumber, req.DeviceToken)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, u)
}
