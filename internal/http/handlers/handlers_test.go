package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"quickassist/internal/http/handlers"
	"quickassist/internal/http/middleware"
	"quickassist/internal/infra"
	"quickassist/internal/modules/booking"
	"quickassist/internal/modules/matching"
	"quickassist/internal/modules/payment"
	"quickassist/internal/modules/rating"
	"quickassist/internal/types"
)

// tokenIsUID treats the bearer token itself as the subject.
type tokenIsUID struct{}

func (tokenIsUID) VerifyIDToken(_ context.Context, raw string) (*infra.AuthToken, error) {
	return &infra.AuthToken{UID: raw}, nil
}

type principals map[types.ID]types.Role

func (p principals) Principal(_ context.Context, uid types.ID) (types.Principal, error) {
	return types.Principal{ID: uid, Role: p[uid]}, nil
}

var testPrincipals = principals{
	"cust1": types.RoleCustomer,
	"prov1": types.RoleProvider,
	"admin": types.RoleAdmin,
}

type fakeBookings struct {
	b   *booking.Booking
	err error
}

func (f *fakeBookings) result() (*booking.Booking, error) { return f.b, f.err }

func (f *fakeBookings) GetFor(context.Context, types.ID, types.Principal) (*booking.Booking, error) {
	return f.result()
}
func (f *fakeBookings) ListFor(context.Context, types.Principal) ([]booking.Booking, error) {
	return nil, f.err
}
func (f *fakeBookings) History(context.Context, types.ID, types.Principal) ([]booking.Event, error) {
	return nil, f.err
}
func (f *fakeBookings) Accept(context.Context, types.ID, types.Principal) (*booking.Booking, error) {
	return f.result()
}
func (f *fakeBookings) Decline(context.Context, types.ID, types.Principal) (*booking.Booking, error) {
	return f.result()
}
func (f *fakeBookings) Start(context.Context, types.ID, types.Principal) (*booking.Booking, error) {
	return f.result()
}
func (f *fakeBookings) Complete(context.Context, types.ID, types.Principal) (*booking.Booking, error) {
	return f.result()
}
func (f *fakeBookings) Cancel(context.Context, types.ID, types.Principal) (*booking.Booking, error) {
	return f.result()
}

type fakeMatcher struct {
	got matching.RequestCommand
	m   *matching.Match
	err error
}

func (f *fakeMatcher) Request(_ context.Context, _ types.Principal, cmd matching.RequestCommand) (*matching.Match, error) {
	f.got = cmd
	return f.m, f.err
}

type fakeRater struct{ err error }

func (f fakeRater) Rate(_ context.Context, _ types.Principal, cmd rating.RateCommand) (*rating.Result, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &rating.Result{}, nil
}

type fakePayer struct {
	pay *payment.Payment
	err error
}

func (f fakePayer) Pay(context.Context, types.Principal, payment.PayCommand) (*payment.Payment, error) {
	return f.pay, f.err
}
func (f fakePayer) ListForBooking(context.Context, types.Principal, *booking.Booking) ([]payment.Payment, error) {
	return nil, f.err
}

func bookingRouter(h *handlers.BookingHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	g := r.Group("/api/bookings", middleware.Auth(tokenIsUID{}), middleware.Resolve(testPrincipals))
	g.POST("", h.Create)
	g.GET("", h.List)
	g.GET("/:id", h.Get)
	g.POST("/:id/accept", h.Accept)
	g.POST("/:id/rate", h.Rate)
	g.POST("/:id/pay", h.Pay)
	return r
}

func do(r http.Handler, method, path, uid, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/json")
	if uid != "" {
		req.Header.Set("Authorization", "Bearer "+uid)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return out
}

func TestCreateBooking(t *testing.T) {
	m := &fakeMatcher{m: &matching.Match{
		Booking:    &booking.Booking{ID: "b1", Status: booking.StatusPending, ProviderID: "prov1"},
		ProviderID: "prov1",
		DistanceKm: 1.2,
	}}
	r := bookingRouter(handlers.NewBookingHandler(&fakeBookings{}, m, fakeRater{}, fakePayer{}))

	w := do(r, http.MethodPost, "/api/bookings", "cust1", `{"service_id":3,"latitude":-1.28,"longitude":36.82}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d body=%s", w.Code, w.Body.String())
	}
	if m.got.ServiceID != 3 || m.got.Location.Lat != -1.28 || m.got.Location.Lng != 36.82 {
		t.Fatalf("command = %+v", m.got)
	}
}

func TestCreateBooking_Validation(t *testing.T) {
	r := bookingRouter(handlers.NewBookingHandler(&fakeBookings{}, &fakeMatcher{}, fakeRater{}, fakePayer{}))

	w := do(r, http.MethodPost, "/api/bookings", "cust1", `{"service_id":3,"longitude":36.82}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
	body := decode(t, w)
	details, _ := body["details"].([]any)
	if len(details) != 1 || !strings.Contains(details[0].(string), "Latitude") {
		t.Fatalf("details = %v", body["details"])
	}

	w = do(r, http.MethodPost, "/api/bookings", "cust1", `{"service_id":3,"latitude":95,"longitude":0}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("out of range latitude status = %d", w.Code)
	}

	w = do(r, http.MethodPost, "/api/bookings", "cust1", `{not json`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("malformed body status = %d", w.Code)
	}
}

func TestCreateBooking_NoProvider(t *testing.T) {
	m := &fakeMatcher{err: matching.ErrNoAvailableProvider}
	r := bookingRouter(handlers.NewBookingHandler(&fakeBookings{}, m, fakeRater{}, fakePayer{}))

	w := do(r, http.MethodPost, "/api/bookings", "cust1", `{"service_id":3,"latitude":0,"longitude":0}`)
	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestTransitionErrorsCarryStatuses(t *testing.T) {
	fb := &fakeBookings{err: &booking.TransitionError{
		BookingID: "b1",
		Current:   booking.StatusCancelled,
		Required:  []booking.Status{booking.StatusPending},
		Target:    booking.StatusAccepted,
	}}
	r := bookingRouter(handlers.NewBookingHandler(fb, &fakeMatcher{}, fakeRater{}, fakePayer{}))

	w := do(r, http.MethodPost, "/api/bookings/b1/accept", "prov1", "")
	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d", w.Code)
	}
	body := decode(t, w)
	if body["current_status"] != "CANCELLED" {
		t.Fatalf("current_status = %v", body["current_status"])
	}
	req, _ := body["required_status"].([]any)
	if len(req) != 1 || req[0] != "PENDING" {
		t.Fatalf("required_status = %v", body["required_status"])
	}
}

func TestServiceErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"unauthorized", booking.ErrUnauthorized, http.StatusForbidden},
		{"not found", booking.ErrNotFound, http.StatusNotFound},
		{"wrapped not found", errors.Join(errors.New("lookup"), booking.ErrNotFound), http.StatusNotFound},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fb := &fakeBookings{err: tc.err}
			r := bookingRouter(handlers.NewBookingHandler(fb, &fakeMatcher{}, fakeRater{}, fakePayer{}))
			w := do(r, http.MethodGet, "/api/bookings/b1", "cust1", "")
			if w.Code != tc.want {
				t.Fatalf("status = %d, want %d", w.Code, tc.want)
			}
		})
	}
}

func TestInvalidPathID(t *testing.T) {
	r := bookingRouter(handlers.NewBookingHandler(&fakeBookings{}, &fakeMatcher{}, fakeRater{}, fakePayer{}))
	w := do(r, http.MethodGet, "/api/bookings/b1%27%3B", "cust1", "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestRate(t *testing.T) {
	r := bookingRouter(handlers.NewBookingHandler(&fakeBookings{}, &fakeMatcher{}, fakeRater{}, fakePayer{}))
	if w := do(r, http.MethodPost, "/api/bookings/b1/rate", "cust1", `{"score":6}`); w.Code != http.StatusBadRequest {
		t.Fatalf("score 6 status = %d", w.Code)
	}
	if w := do(r, http.MethodPost, "/api/bookings/b1/rate", "cust1", `{"score":4,"comment":"tidy"}`); w.Code != http.StatusCreated {
		t.Fatalf("score 4 status = %d", w.Code)
	}

	r = bookingRouter(handlers.NewBookingHandler(&fakeBookings{}, &fakeMatcher{}, fakeRater{err: rating.ErrAlreadyRated}, fakePayer{}))
	if w := do(r, http.MethodPost, "/api/bookings/b1/rate", "cust1", `{"score":4}`); w.Code != http.StatusConflict {
		t.Fatalf("second rating status = %d", w.Code)
	}
}

func TestPay(t *testing.T) {
	ref := "ws_CO_1"
	cases := []struct {
		name   string
		body   string
		payer  fakePayer
		want   int
		status string
	}{
		{"cash", `{"payment_method":"CASH"}`, fakePayer{pay: &payment.Payment{Status: payment.StatusSuccess}}, http.StatusOK, "SUCCESS"},
		{"mobile pending", `{"payment_method":"MOBILE_MONEY"}`, fakePayer{pay: &payment.Payment{Status: payment.StatusPending, Reference: &ref}}, http.StatusAccepted, "PENDING"},
		{"gateway down", `{"payment_method":"MOBILE_MONEY"}`, fakePayer{
			pay: &payment.Payment{Status: payment.StatusFailed},
			err: &payment.GatewayError{Op: "push", Err: errors.New("timeout")},
		}, http.StatusBadGateway, ""},
		{"already paid", `{"payment_method":"CASH"}`, fakePayer{err: payment.ErrAlreadyPaid}, http.StatusConflict, ""},
		{"mobile disabled", `{"payment_method":"MOBILE_MONEY"}`, fakePayer{err: payment.ErrMethodUnavailable}, http.StatusServiceUnavailable, ""},
		{"unknown method", `{"payment_method":"CARD"}`, fakePayer{}, http.StatusBadRequest, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := bookingRouter(handlers.NewBookingHandler(&fakeBookings{}, &fakeMatcher{}, fakeRater{}, tc.payer))
			w := do(r, http.MethodPost, "/api/bookings/b1/pay", "cust1", tc.body)
			if w.Code != tc.want {
				t.Fatalf("status = %d, want %d body=%s", w.Code, tc.want, w.Body.String())
			}
			if tc.status != "" {
				if got := decode(t, w)["status"]; got != tc.status {
					t.Fatalf("payment status = %v", got)
				}
			}
		})
	}
}

func TestPay_GatewayFailureReturnsPayment(t *testing.T) {
	payer := fakePayer{
		pay: &payment.Payment{ID: "p1", Status: payment.StatusFailed},
		err: &payment.GatewayError{Op: "push", Err: errors.New("timeout")},
	}
	r := bookingRouter(handlers.NewBookingHandler(&fakeBookings{}, &fakeMatcher{}, fakeRater{}, payer))
	w := do(r, http.MethodPost, "/api/bookings/b1/pay", "cust1", `{"payment_method":"MOBILE_MONEY"}`)
	body := decode(t, w)
	pay, _ := body["payment"].(map[string]any)
	if pay == nil || pay["status"] != "FAILED" {
		t.Fatalf("payment = %v", body["payment"])
	}
}

type recordingCallbacks struct {
	got []payment.CallbackResult
	err error
}

func (r *recordingCallbacks) HandleCallback(_ context.Context, res payment.CallbackResult) error {
	r.got = append(r.got, res)
	return r.err
}

func TestPaymentCallbackAcknowledgement(t *testing.T) {
	gin.SetMode(gin.TestMode)
	body := `{"Body":{"stkCallback":{"MerchantRequestID":"m1","CheckoutRequestID":"ws_CO_1","ResultCode":0,"ResultDesc":"ok"}}}`

	cases := []struct {
		name      string
		payload   string
		err       error
		wantCode  int
		wantAck   float64
		forwarded int
	}{
		{"applied", body, nil, http.StatusOK, 0, 1},
		{"missing reference", body, payment.ErrMissingReference, http.StatusOK, 0, 1},
		{"storage failure asks for redelivery", body, fmt.Errorf("settle: %w", errors.New("db down")), http.StatusServiceUnavailable, 1, 1},
		{"unreadable body", `garbage`, nil, http.StatusOK, 0, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := &recordingCallbacks{err: tc.err}
			r := gin.New()
			r.POST("/api/payments/callback", handlers.NewPaymentHandler(rec, nil).Callback)

			w := do(r, http.MethodPost, "/api/payments/callback", "", tc.payload)
			if w.Code != tc.wantCode {
				t.Fatalf("status = %d, want %d", w.Code, tc.wantCode)
			}
			if got := decode(t, w); got["ResultCode"] != tc.wantAck {
				t.Fatalf("ack = %v", got)
			}
			if len(rec.got) != tc.forwarded {
				t.Fatalf("callbacks = %+v", rec.got)
			}
			if tc.forwarded == 1 && (rec.got[0].Reference != "ws_CO_1" || !rec.got[0].Success) {
				t.Fatalf("callback = %+v", rec.got[0])
			}
		})
	}
}
