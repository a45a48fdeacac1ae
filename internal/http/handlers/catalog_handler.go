// README: Public catalog browsing and price quotes.
package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"quickassist/internal/modules/catalog"
	"quickassist/internal/modules/pricing"
)

type CatalogService interface {
	Categories(ctx context.Context) ([]catalog.Category, error)
	Services(ctx context.Context, categoryID int64) ([]catalog.Offering, error)
}

type Quoter interface {
	Quote(ctx context.Context, serviceID int64) (pricing.Quote, error)
}

type CatalogHandler struct {
	catalog CatalogService
	quotes  Quoter
}

func NewCatalogHandler(catalog CatalogService, quotes Quoter) *CatalogHandler {
	return &CatalogHandler{catalog: catalog, quotes: quotes}
}

func (h *CatalogHandler) Categories(c *gin.Context) {
	cats, err := h.catalog.Categories(c.Request.Context())
	if err != nil {
		writeServiceError(c, err)
		return
	}
	if cats == nil {
		cats = []catalog.Category{}
	}
	writeJSON(c, http.StatusOK, cats)
}

func (h *CatalogHandler) Services(c *gin.Context) {
	categoryID, ok := queryInt64(c, "category_id")
	if !ok {
		return
	}
	list, err := h.catalog.Services(c.Request.Context(), categoryID)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	if list == nil {
		list = []catalog.Offering{}
	}
	writeJSON(c, http.StatusOK, list)
}

func (h *CatalogHandler) Quote(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(c, http.StatusBadRequest, "invalid id")
		return
	}
	q, err := h.quotes.Quote(c.Request.Context(), id)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, q)
}
