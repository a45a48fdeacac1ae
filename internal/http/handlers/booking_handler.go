// README: Booking handlers: request (match), read, lifecycle actions, rating and payment.
package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"quickassist/internal/http/middleware"
	"quickassist/internal/modules/booking"
	"quickassist/internal/modules/matching"
	"quickassist/internal/modules/payment"
	"quickassist/internal/modules/rating"
	"quickassist/internal/types"
)

type BookingService interface {
	GetFor(ctx context.Context, id types.ID, p types.Principal) (*booking.Booking, error)
	ListFor(ctx context.Context, p types.Principal) ([]booking.Booking, error)
	History(ctx context.Context, id types.ID, p types.Principal) ([]booking.Event, error)
	Accept(ctx context.Context, id types.ID, p types.Principal) (*booking.Booking, error)
	Decline(ctx context.Context, id types.ID, p types.Principal) (*booking.Booking, error)
	Start(ctx context.Context, id types.ID, p types.Principal) (*booking.Booking, error)
	Complete(ctx context.Context, id types.ID, p types.Principal) (*booking.Booking, error)
	Cancel(ctx context.Context, id types.ID, p types.Principal) (*booking.Booking, error)
}

type Matcher interface {
	Request(ctx context.Context, p types.Principal, cmd matching.RequestCommand) (*matching.Match, error)
}

type Rater interface {
	Rate(ctx context.Context, p types.Principal, cmd rating.RateCommand) (*rating.Result, error)
}

type Payer interface {
	Pay(ctx context.Context, p types.Principal, cmd payment.PayCommand) (*payment.Payment, error)
	ListForBooking(ctx context.Context, p types.Principal, b *booking.Booking) ([]payment.Payment, error)
}

type BookingHandler struct {
	bookings BookingService
	matcher  Matcher
	rater    Rater
	payer    Payer
}

func NewBookingHandler(bookings BookingService, matcher Matcher, rater Rater, payer Payer) *BookingHandler {
	return &BookingHandler{bookings: bookings, matcher: matcher, rater: rater, payer: payer}
}

type createBookingReq struct {
	ServiceID int64    `json:"service_id" binding:"required,gt=0"`
	Latitude  *float64 `json:"latitude" binding:"required,gte=-90,lte=90"`
	Longitude *float64 `json:"longitude" binding:"required,gte=-180,lte=180"`
}

// Create matches the request to the nearest eligible provider and opens a PENDING booking.
func (h *BookingHandler) Create(c *gin.Context) {
	var req createBookingReq
	if !bindJSON(c, &req) {
		return
	}
	m, err := h.matcher.Request(c.Request.Context(), middleware.Caller(c), matching.RequestCommand{
		ServiceID: req.ServiceID,
		Location:  types.Point{Lat: *req.Latitude, Lng: *req.Longitude},
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, m)
}

func (h *BookingHandler) List(c *gin.Context) {
	list, err := h.bookings.ListFor(c.Request.Context(), middleware.Caller(c))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	if list == nil {
		list = []booking.Booking{}
	}
	writeJSON(c, http.StatusOK, list)
}

func (h *BookingHandler) Get(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	b, err := h.bookings.GetFor(c.Request.Context(), id, middleware.Caller(c))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, b)
}

func (h *BookingHandler) History(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	events, err := h.bookings.History(c.Request.Context(), id, middleware.Caller(c))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	if events == nil {
		events = []booking.Event{}
	}
	writeJSON(c, http.StatusOK, events)
}

type transitionFunc func(ctx context.Context, id types.ID, p types.Principal) (*booking.Booking, error)

func (h *BookingHandler) transition(fn transitionFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c)
		if !ok {
			return
		}
		b, err := fn(c.Request.Context(), id, middleware.Caller(c))
		if err != nil {
			writeServiceError(c, err)
			return
		}
		writeJSON(c, http.StatusOK, b)
	}
}

func (h *BookingHandler) Accept(c *gin.Context)   { h.transition(h.bookings.Accept)(c) }
func (h *BookingHandler) Decline(c *gin.Context)  { h.transition(h.bookings.Decline)(c) }
func (h *BookingHandler) Start(c *gin.Context)    { h.transition(h.bookings.Start)(c) }
func (h *BookingHandler) Complete(c *gin.Context) { h.transition(h.bookings.Complete)(c) }
func (h *BookingHandler) Cancel(c *gin.Context)   { h.transition(h.bookings.Cancel)(c) }

type rateReq struct {
	Score   int    `json:"score" binding:"required,min=1,max=5"`
	Comment string `json:"comment" binding:"max=1000"`
}

func (h *BookingHandler) Rate(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req rateReq
	if !bindJSON(c, &req) {
		return
	}
	res, err := h.rater.Rate(c.Request.Context(), middleware.Caller(c), rating.RateCommand{
		BookingID: id,
		Score:     req.Score,
		Comment:   req.Comment,
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, res)
}

type payReq struct {
	Method string `json:"payment_method" binding:"required,oneof=CASH MOBILE_MONEY"`
}

func (h *BookingHandler) Pay(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req payReq
	if !bindJSON(c, &req) {
		return
	}
	pay, err := h.payer.Pay(c.Request.Context(), middleware.Caller(c), payment.PayCommand{
		BookingID: id,
		Method:    payment.Method(req.Method),
	})
	if err != nil {
		if errors.Is(err, payment.ErrGateway) && pay != nil {
			writeJSON(c, http.StatusBadGateway, gin.H{"error": err.Error(), "payment": pay})
			return
		}
		writeServiceError(c, err)
		return
	}
	status := http.StatusOK
	if pay.Status == payment.StatusPending {
		status = http.StatusAccepted
	}
	writeJSON(c, status, pay)
}

func (h *BookingHandler) Payments(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	p := middleware.Caller(c)
	b, err := h.bookings.GetFor(c.Request.Context(), id, p)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	list, err := h.payer.ListForBooking(c.Request.Context(), p, b)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	if list == nil {
		list = []payment.Payment{}
	}
	writeJSON(c, http.StatusOK, list)
}
