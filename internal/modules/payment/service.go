// README: Payment service: cash and mobile-money payment of completed bookings, plus gateway callbacks.
package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"quickassist/internal/events"
	"quickassist/internal/logging"
	"quickassist/internal/modules/booking"
	"quickassist/internal/types"
)

var (
	ErrAlreadyPaid       = errors.New("booking already paid")
	ErrPaymentPending    = errors.New("a payment for this booking is still pending")
	ErrNoPhoneNumber     = errors.New("a phone number is required for mobile money")
	ErrInvalidMethod     = errors.New("payment method must be CASH or MOBILE_MONEY")
	ErrMethodUnavailable = errors.New("mobile money is not configured")
	ErrMissingReference  = errors.New("callback carried no reference")
)

const (
	defaultPendingTimeout = 2 * time.Minute
	expiredReason         = "expired without callback"
)

type PriceSource interface {
	Estimate(ctx context.Context, serviceID int64) (types.Money, error)
}

type PhoneBook interface {
	PhoneNumber(ctx context.Context, uid types.ID) (string, error)
}

type Service struct {
	store          Repository
	prices         PriceSource
	phones         PhoneBook
	gateway        Gateway
	events         events.Publisher
	log            logrus.FieldLogger
	pendingTimeout time.Duration
	now            func() time.Time
}

// NewService builds the payment service. A nil gateway disables MOBILE_MONEY.
func NewService(store Repository, prices PriceSource, phones PhoneBook, gateway Gateway, publisher events.Publisher, log logrus.FieldLogger, pendingTimeout time.Duration) *Service {
	if publisher == nil {
		publisher = events.Nop{}
	}
	if pendingTimeout <= 0 {
		pendingTimeout = defaultPendingTimeout
	}
	return &Service{
		store:          store,
		prices:         prices,
		phones:         phones,
		gateway:        gateway,
		events:         publisher,
		log:            logging.Component(log, "payment"),
		pendingTimeout: pendingTimeout,
		now:            func() time.Time { return time.Now().UTC() },
	}
}

type PayCommand struct {
	BookingID types.ID
	Method    Method
}

// Pay settles a completed booking. CASH succeeds at once; MOBILE_MONEY returns
// a PENDING payment whose outcome arrives through HandleCallback.
func (s *Service) Pay(ctx context.Context, p types.Principal, cmd PayCommand) (*Payment, error) {
	if !cmd.Method.Valid() {
		return nil, ErrInvalidMethod
	}
	if cmd.Method == MethodMobileMoney && s.gateway == nil {
		return nil, ErrMethodUnavailable
	}

	var pay *Payment
	var phone string
	err := s.store.Lock(ctx, cmd.BookingID, func(tx Tx) error {
		b := tx.Booking()
		if err := b.Authorize(p, booking.ActionPay); err != nil {
			return err
		}
		if err := booking.RequireStatus(b, booking.StatusCompleted); err != nil {
			return err
		}

		now := s.now()
		for _, existing := range tx.Payments() {
			switch existing.Status {
			case StatusSuccess:
				return ErrAlreadyPaid
			case StatusPending:
				if now.Sub(existing.CreatedAt) < s.pendingTimeout {
					return ErrPaymentPending
				}
				if err := tx.MarkFailed(existing.ID, expiredReason); err != nil {
					return err
				}
				s.log.WithFields(logrus.Fields{"booking_id": b.ID, "payment_id": existing.ID}).
					Info("stale pending payment expired")
			}
		}

		amount, err := s.amountFor(ctx, tx)
		if err != nil {
			return err
		}

		if cmd.Method == MethodMobileMoney {
			phone, err = s.phones.PhoneNumber(ctx, p.ID)
			if err != nil {
				return err
			}
			if phone == "" {
				return ErrNoPhoneNumber
			}
		}

		pay = &Payment{
			ID:        types.ID(uuid.NewString()),
			BookingID: b.ID,
			PayerID:   p.ID,
			Method:    cmd.Method,
			Amount:    amount,
			Status:    StatusPending,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if cmd.Method == MethodCash {
			pay.Status = StatusSuccess
		}
		return tx.Insert(pay)
	})
	if err != nil {
		return nil, err
	}

	logger := s.log.WithFields(logrus.Fields{
		"booking_id": pay.BookingID,
		"payment_id": pay.ID,
		"method":     pay.Method,
		"amount":     pay.Amount.String(),
	})
	if pay.Status == StatusSuccess {
		logger.Info("payment settled")
		s.publish(ctx, pay)
		return pay, nil
	}

	res, err := s.gateway.Push(ctx, PushRequest{
		Phone:            phone,
		Amount:           pay.Amount,
		AccountReference: string(pay.BookingID),
		Description:      fmt.Sprintf("QuickAssist booking %s", pay.BookingID),
	})
	if err != nil {
		var gwErr *GatewayError
		if !errors.As(err, &gwErr) {
			gwErr = &GatewayError{Op: "push", Err: err}
		}
		// Record the failure even if the caller has gone away.
		if mErr := s.store.MarkFailed(context.WithoutCancel(ctx), pay.ID, gwErr.Error()); mErr != nil {
			logger.WithError(mErr).Error("mark payment failed")
		}
		pay.Status = StatusFailed
		pay.FailureReason = gwErr.Error()
		logger.WithError(gwErr).Warn("mobile money push failed")
		return pay, gwErr
	}

	ref := res.Reference
	pay.Reference = &ref
	logger = logger.WithField("reference", ref)
	// The customer already has the prompt, so the payment stays PENDING either
	// way. Without the stored reference its callback will not match and the row
	// needs reconciling against the gateway by hand.
	if err := s.store.SetReference(context.WithoutCancel(ctx), pay.ID, ref); err != nil {
		logger.WithError(err).Error("mobile money push sent but reference not stored, reconcile manually")
		return pay, nil
	}
	logger.Info("mobile money push sent")
	return pay, nil
}

func (s *Service) amountFor(ctx context.Context, tx Tx) (types.Money, error) {
	b := tx.Booking()
	if b.FinalPrice != nil {
		return *b.FinalPrice, nil
	}
	amount, err := s.prices.Estimate(ctx, b.ServiceID)
	if err != nil {
		return types.Money{}, err
	}
	if err := tx.SetFinalPrice(amount); err != nil {
		return types.Money{}, err
	}
	return amount, nil
}

// HandleCallback applies a gateway verdict. Unknown references and repeats are
// successful no-ops so the gateway stops retrying.
func (s *Service) HandleCallback(ctx context.Context, res CallbackResult) error {
	if res.Reference == "" {
		return ErrMissingReference
	}
	st, err := s.store.Settle(ctx, res)
	if err != nil {
		return err
	}
	logger := s.log.WithFields(logrus.Fields{"reference": res.Reference, "result_code": res.ResultCode})
	if st == nil {
		logger.Info("callback for unknown reference ignored")
		return nil
	}
	logger = logger.WithFields(logrus.Fields{"booking_id": st.Payment.BookingID, "payment_id": st.Payment.ID})
	switch {
	case st.Duplicate:
		logger.Error("second successful payment for booking recorded as failed, refund required")
	case !st.Changed:
		logger.WithField("status", st.Payment.Status).Debug("callback did not change payment")
	case st.Payment.Status == StatusSuccess:
		logger.Info("payment settled")
		s.publish(ctx, st.Payment)
	default:
		logger.WithField("reason", res.Description).Info("payment failed")
	}
	return nil
}

func (s *Service) ListForBooking(ctx context.Context, p types.Principal, b *booking.Booking) ([]Payment, error) {
	if err := b.Authorize(p, booking.ActionView); err != nil {
		return nil, err
	}
	return s.store.ListByBooking(ctx, b.ID)
}

func (s *Service) publish(ctx context.Context, pay *Payment) {
	if err := s.events.Publish(ctx, events.New(events.TypePaymentSettled, string(pay.BookingID), pay)); err != nil {
		s.log.WithError(err).WithField("booking_id", pay.BookingID).Warn("publish payment event failed")
	}
}

// RunExpirySweeper fails mobile payments whose callback never arrived, every
// interval until ctx is cancelled. Pay also expires them lazily, so the sweeper
// only keeps listings and the dashboard honest.
func (s *Service) RunExpirySweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = s.pendingTimeout
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.ExpireStale(ctx); err != nil && ctx.Err() == nil {
				s.log.WithError(err).Warn("pending payment sweep failed")
			}
		}
	}
}

// ExpireStale marks every PENDING payment older than the pending timeout FAILED.
func (s *Service) ExpireStale(ctx context.Context) (int64, error) {
	n, err := s.store.ExpirePending(ctx, s.now().Add(-s.pendingTimeout), expiredReason)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.log.WithField("count", n).Info("stale pending payments expired")
	}
	return n, nil
}
