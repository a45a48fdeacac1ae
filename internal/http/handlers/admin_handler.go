// README: Admin handlers: dashboard, account management, provider verification, catalog writes.
package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"quickassist/internal/http/middleware"
	"quickassist/internal/modules/catalog"
	"quickassist/internal/modules/dashboard"
	"quickassist/internal/modules/provider"
	"quickassist/internal/modules/user"
	"quickassist/internal/types"
)

type DashboardService interface {
	Stats(ctx context.Context, p types.Principal) (*dashboard.Stats, error)
	RecentBookings(ctx context.Context, p types.Principal, limit int) ([]dashboard.RecentBooking, error)
}

type AccountAdmin interface {
	List(ctx context.Context, admin types.Principal, role types.Role) ([]user.User, error)
	SetRole(ctx context.Context, admin types.Principal, uid types.ID, role types.Role) (*user.User, error)
	SetActive(ctx context.Context, admin types.Principal, uid types.ID, active bool) (*user.User, error)
}

type ProviderVerifier interface {
	SetVerified(ctx context.Context, admin types.Principal, uid types.ID, verified bool) (*provider.Profile, error)
}

type CatalogAdmin interface {
	CreateCategory(ctx context.Context, p types.Principal, name, description string) (*catalog.Category, error)
	CreateService(ctx context.Context, p types.Principal, cmd catalog.CreateServiceCommand) (*catalog.Offering, error)
}

type AdminHandler struct {
	dashboard DashboardService
	users     AccountAdmin
	providers ProviderVerifier
	catalog   CatalogAdmin
}

func NewAdminHandler(dash DashboardService, users AccountAdmin, providers ProviderVerifier, cat CatalogAdmin) *AdminHandler {
	return &AdminHandler{dashboard: dash, users: users, providers: providers, catalog: cat}
}

func (h *AdminHandler) Stats(c *gin.Context) {
	st, err := h.dashboard.Stats(c.Request.Context(), middleware.Caller(c))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, st)
}

func (h *AdminHandler) RecentBookings(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(c, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	list, err := h.dashboard.RecentBookings(c.Request.Context(), middleware.Caller(c), limit)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	if list == nil {
		list = []dashboard.RecentBooking{}
	}
	writeJSON(c, http.StatusOK, list)
}

func (h *AdminHandler) Users(c *gin.Context) {
	var role types.Role
	if raw := c.Query("role"); raw != "" {
		r, ok := types.ParseRole(raw)
		if !ok {
			writeError(c, http.StatusBadRequest, "invalid role")
			return
		}
		role = r
	}
	list, err := h.users.List(c.Request.Context(), middleware.Caller(c), role)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	if list == nil {
		list = []user.User{}
	}
	writeJSON(c, http.StatusOK, list)
}

type updateUserReq struct {
	Role     *string `json:"role" binding:"omitempty,oneof=CUSTOMER PROVIDER ADMIN"`
	IsActive *bool   `json:"is_active"`
}

// UpdateUser applies a role change and/or suspension. Role goes first so a
// promotion that fails leaves the active flag untouched.
func (h *AdminHandler) UpdateUser(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req updateUserReq
	if !bindJSON(c, &req) {
		return
	}
	if req.Role == nil && req.IsActive == nil {
		writeError(c, http.StatusBadRequest, "nothing to update")
		return
	}
	admin := middleware.Caller(c)
	var (
		u   *user.User
		err error
	)
	if req.Role != nil {
		if u, err = h.users.SetRole(c.Request.Context(), admin, id, types.Role(*req.Role)); err != nil {
			writeServiceError(c, err)
			return
		}
	}
	if req.IsActive != nil {
		if u, err = h.users.SetActive(c.Request.Context(), admin, id, *req.IsActive); err != nil {
			writeServiceError(c, err)
			return
		}
	}
	writeJSON(c, http.StatusOK, u)
}

type verifyReq struct {
	Verified *bool `json:"is_verified" binding:"required"`
}

func (h *AdminHandler) VerifyProvider(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req verifyReq
	if !bindJSON(c, &req) {
		return
	}
	prof, err := h.providers.SetVerified(c.Request.Context(), middleware.Caller(c), id, *req.Verified)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, prof)
}

type categoryReq struct {
	Name        string `json:"name" binding:"required,max=100"`
	Description string `json:"description" binding:"max=1000"`
}

func (h *AdminHandler) CreateCategory(c *gin.Context) {
	var req categoryReq
	if !bindJSON(c, &req) {
		return
	}
	cat, err := h.catalog.CreateCategory(c.Request.Context(), middleware.Caller(c), req.Name, req.Description)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, cat)
}

type serviceReq struct {
	CategoryID  int64  `json:"category_id" binding:"required,gt=0"`
	Name        string `json:"name" binding:"required,max=100"`
	Description string `json:"description" binding:"max=1000"`
	BasePrice   int64  `json:"base_price" binding:"gte=0"`
}

func (h *AdminHandler) CreateService(c *gin.Context) {
	var req serviceReq
	if !bindJSON(c, &req) {
		return
	}
	svc, err := h.catalog.CreateService(c.Request.Context(), middleware.Caller(c), catalog.CreateServiceCommand{
		CategoryID:  req.CategoryID,
		Name:        req.Name,
		Description: req.Description,
		BasePrice:   req.BasePrice,
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, svc)
}
