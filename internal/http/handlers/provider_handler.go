// README: Provider handlers: public directory and the provider's own duty/location/profile.
package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"quickassist/internal/http/middleware"
	"quickassist/internal/modules/provider"
	"quickassist/internal/modules/rating"
	"quickassist/internal/types"
)

type ProviderService interface {
	Get(ctx context.Context, uid types.ID) (*provider.Profile, error)
	Directory(ctx context.Context, serviceID int64) ([]provider.Profile, error)
	DirectoryNear(ctx context.Context, serviceID int64, origin types.Point) ([]provider.Listing, error)
	SetOnDuty(ctx context.Context, p types.Principal, onDuty bool) (*provider.Profile, error)
	UpdateLocation(ctx context.Context, p types.Principal, pos types.Point) error
	UpdateProfile(ctx context.Context, p types.Principal, u provider.ProfileUpdate) (*provider.Profile, error)
}

type RatingReader interface {
	ListForProvider(ctx context.Context, providerID types.ID) ([]rating.Rating, error)
}

type ProviderHandler struct {
	providers ProviderService
	ratings   RatingReader
}

func NewProviderHandler(providers ProviderService, ratings RatingReader) *ProviderHandler {
	return &ProviderHandler{providers: providers, ratings: ratings}
}

// Directory lists verified providers. With ?latitude=&longitude= the list is
// ordered nearest first and carries distances.
func (h *ProviderHandler) Directory(c *gin.Context) {
	serviceID, ok := queryInt64(c, "service_id")
	if !ok {
		return
	}
	if c.Query("latitude") != "" || c.Query("longitude") != "" {
		lat, errLat := strconv.ParseFloat(c.Query("latitude"), 64)
		lng, errLng := strconv.ParseFloat(c.Query("longitude"), 64)
		if errLat != nil || errLng != nil {
			writeError(c, http.StatusBadRequest, "latitude and longitude must both be numbers")
			return
		}
		near, err := h.providers.DirectoryNear(c.Request.Context(), serviceID, types.Point{Lat: lat, Lng: lng})
		if err != nil {
			writeServiceError(c, err)
			return
		}
		writeJSON(c, http.StatusOK, near)
		return
	}
	list, err := h.providers.Directory(c.Request.Context(), serviceID)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	if list == nil {
		list = []provider.Profile{}
	}
	writeJSON(c, http.StatusOK, list)
}

type publicProfile struct {
	provider.Profile
	Ratings []rating.Rating `json:"ratings"`
}

// Public is the anonymous provider page: profile without position, plus reviews.
func (h *ProviderHandler) Public(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	prof, err := h.providers.Get(c.Request.Context(), id)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	if !prof.Verified {
		writeServiceError(c, provider.ErrNotFound)
		return
	}
	ratings, err := h.ratings.ListForProvider(c.Request.Context(), id)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	if ratings == nil {
		ratings = []rating.Rating{}
	}
	writeJSON(c, http.StatusOK, publicProfile{Profile: prof.PublicView(), Ratings: ratings})
}

func (h *ProviderHandler) Profile(c *gin.Context) {
	prof, err := h.providers.Get(c.Request.Context(), middleware.Caller(c).ID)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, prof)
}

type statusReq struct {
	OnDuty *bool `json:"on_duty" binding:"required"`
}

func (h *ProviderHandler) SetStatus(c *gin.Context) {
	var req statusReq
	if !bindJSON(c, &req) {
		return
	}
	prof, err := h.providers.SetOnDuty(c.Request.Context(), middleware.Caller(c), *req.OnDuty)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, prof)
}

type locationReq struct {
	Latitude  *float64 `json:"latitude" binding:"required,gte=-90,lte=90"`
	Longitude *float64 `json:"longitude" binding:"required,gte=-180,lte=180"`
}

func (h *ProviderHandler) UpdateLocation(c *gin.Context) {
	var req locationReq
	if !bindJSON(c, &req) {
		return
	}
	pos := types.Point{Lat: *req.Latitude, Lng: *req.Longitude}
	if err := h.providers.UpdateLocation(c.Request.Context(), middleware.Caller(c), pos); err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"status": "ok"})
}

type profileReq struct {
	Bio       string `json:"bio" binding:"max=2000"`
	ServiceID *int64 `json:"service_id" binding:"omitempty,gt=0"`
}

func (h *ProviderHandler) UpdateProfile(c *gin.Context) {
	var req profileReq
	if !bindJSON(c, &req) {
		return
	}
	prof, err := h.providers.UpdateProfile(c.Request.Context(), middleware.Caller(c), provider.ProfileUpdate{
		Bio:       req.Bio,
		ServiceID: req.ServiceID,
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, prof)
}
