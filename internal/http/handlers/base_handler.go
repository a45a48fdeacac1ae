// README: Base handler utilities (JSON helpers, request binding, domain error mapping).
package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"quickassist/internal/modules/booking"
	"quickassist/internal/modules/catalog"
	"quickassist/internal/modules/dashboard"
	"quickassist/internal/modules/matching"
	"quickassist/internal/modules/payment"
	"quickassist/internal/modules/pricing"
	"quickassist/internal/modules/provider"
	"quickassist/internal/modules/rating"
	"quickassist/internal/modules/realtime"
	"quickassist/internal/modules/user"
	"quickassist/internal/types"
)

type errorResponse struct {
	Error   string   `json:"error"`
	Details []string `json:"details,omitempty"`
}

// transitionResponse carries the status found and the status required when a
// booking precondition fails.
type transitionResponse struct {
	Error          string           `json:"error"`
	CurrentStatus  booking.Status   `json:"current_status"`
	RequiredStatus []booking.Status `json:"required_status"`
}

// isValidID accepts the ids this API hands out: uuids and auth subjects.
func isValidID(v string) bool {
	if v == "" || len(v) > 128 {
		return false
	}
	for _, c := range v {
		if (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c == '-' || c == '_' {
			continue
		}
		return false
	}
	return true
}

func writeJSON(c *gin.Context, status int, v any) {
	c.JSON(status, v)
}

func writeError(c *gin.Context, status int, msg string) {
	writeJSON(c, status, errorResponse{Error: msg})
}

// bindJSON decodes the body into dst and reports validation failures field by field.
func bindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			details := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				details = append(details, fieldMessage(fe))
			}
			writeJSON(c, http.StatusBadRequest, errorResponse{Error: "validation failed", Details: details})
			return false
		}
		writeError(c, http.StatusBadRequest, "invalid json")
		return false
	}
	return true
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "min", "gte":
		return fmt.Sprintf("%s must be at least %s", fe.Field(), fe.Param())
	case "max", "lte":
		return fmt.Sprintf("%s must be at most %s", fe.Field(), fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of %s", fe.Field(), fe.Param())
	case "email":
		return fe.Field() + " must be a valid email"
	default:
		return fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag())
	}
}

// pathID reads and validates the :id path parameter.
func pathID(c *gin.Context) (types.ID, bool) {
	id := c.Param("id")
	if !isValidID(id) {
		writeError(c, http.StatusBadRequest, "invalid id")
		return "", false
	}
	return types.ID(id), true
}

// queryInt64 parses an optional positive integer query parameter.
func queryInt64(c *gin.Context, name string) (int64, bool) {
	raw := c.Query(name)
	if raw == "" {
		return 0, true
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n <= 0 {
		writeError(c, http.StatusBadRequest, "invalid "+name)
		return 0, false
	}
	return n, true
}

func writeServiceError(c *gin.Context, err error) {
	var te *booking.TransitionError
	if errors.As(err, &te) {
		writeJSON(c, http.StatusConflict, transitionResponse{
			Error:          te.Error(),
			CurrentStatus:  te.Current,
			RequiredStatus: te.Required,
		})
		return
	}

	switch {
	case errors.Is(err, booking.ErrNotFound),
		errors.Is(err, user.ErrNotFound),
		errors.Is(err, provider.ErrNotFound),
		errors.Is(err, catalog.ErrServiceNotFound),
		errors.Is(err, catalog.ErrCategoryNotFound):
		writeError(c, http.StatusNotFound, err.Error())

	case errors.Is(err, booking.ErrUnauthorized),
		errors.Is(err, user.ErrForbidden),
		errors.Is(err, user.ErrInactive),
		errors.Is(err, provider.ErrForbidden),
		errors.Is(err, provider.ErrNotProvider),
		errors.Is(err, catalog.ErrForbidden),
		errors.Is(err, matching.ErrNotCustomer),
		errors.Is(err, dashboard.ErrForbidden):
		writeError(c, http.StatusForbidden, err.Error())

	case errors.Is(err, booking.ErrInvalidState),
		errors.Is(err, rating.ErrAlreadyRated),
		errors.Is(err, payment.ErrAlreadyPaid),
		errors.Is(err, payment.ErrPaymentPending),
		errors.Is(err, matching.ErrNoAvailableProvider),
		errors.Is(err, user.ErrAlreadyRegistered),
		errors.Is(err, catalog.ErrDuplicate),
		errors.Is(err, provider.ErrNotVerified),
		errors.Is(err, pricing.ErrNoPrice):
		writeError(c, http.StatusConflict, err.Error())

	case errors.Is(err, booking.ErrBadRequest),
		errors.Is(err, catalog.ErrBadRequest),
		errors.Is(err, user.ErrBadRequest),
		errors.Is(err, provider.ErrBadLocation),
		errors.Is(err, provider.ErrUnknownService),
		errors.Is(err, matching.ErrUnknownService),
		errors.Is(err, matching.ErrBadLocation),
		errors.Is(err, rating.ErrInvalidScore),
		errors.Is(err, payment.ErrNoPhoneNumber),
		errors.Is(err, payment.ErrInvalidMethod),
		errors.Is(err, realtime.ErrEmptyMessage),
		errors.Is(err, realtime.ErrMessageTooLong),
		errors.Is(err, realtime.ErrUnknownChannel):
		writeError(c, http.StatusBadRequest, err.Error())

	case errors.Is(err, payment.ErrMethodUnavailable):
		writeError(c, http.StatusServiceUnavailable, err.Error())

	case errors.Is(err, payment.ErrGateway):
		writeError(c, http.StatusBadGateway, err.Error())

	default:
		_ = c.Error(err)
		writeError(c, http.StatusInternalServerError, "internal error")
	}
}
