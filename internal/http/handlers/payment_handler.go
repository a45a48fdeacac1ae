// README: Mobile-money callback endpoint.
package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"quickassist/internal/logging"
	"quickassist/internal/modules/payment"
)

type CallbackHandler interface {
	HandleCallback(ctx context.Context, res payment.CallbackResult) error
}

type PaymentHandler struct {
	payments CallbackHandler
	log      logrus.FieldLogger
}

func NewPaymentHandler(payments CallbackHandler, log logrus.FieldLogger) *PaymentHandler {
	return &PaymentHandler{payments: payments, log: logging.Component(log, "payment_callback")}
}

// gatewayAck is the only reply the gateway understands; anything else makes it retry.
var gatewayAck = gin.H{"ResultCode": 0, "ResultDesc": "Accepted"}

var gatewayRetry = gin.H{"ResultCode": 1, "ResultDesc": "Temporarily unavailable"}

// Callback acknowledges unreadable bodies, missing and unknown references and
// repeats, since redelivering those cannot change the outcome. Any other
// failure answers 503 so the gateway delivers the verdict again.
func (h *PaymentHandler) Callback(c *gin.Context) {
	var env payment.CallbackEnvelope
	if err := c.ShouldBindJSON(&env); err != nil {
		h.log.WithError(err).Warn("unreadable payment callback")
		c.JSON(http.StatusOK, gatewayAck)
		return
	}
	res := env.Result()
	err := h.payments.HandleCallback(c.Request.Context(), res)
	switch {
	case err == nil:
	case errors.Is(err, payment.ErrMissingReference):
		h.log.WithError(err).Warn("payment callback ignored")
	default:
		h.log.WithError(err).WithField("reference", res.Reference).Error("payment callback not applied, asking gateway to retry")
		c.JSON(http.StatusServiceUnavailable, gatewayRetry)
		return
	}
	c.JSON(http.StatusOK, gatewayAck)
}
