package api

import (
	"errors"
	"net/http"

	"rewarder/dispatcher"
	"rewarder/service"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// errorResponse is the body of every non-2xx reply
type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type errorMapping struct {
	target error
	status int
	code   string
}

// Order matters: ErrCreditPending wraps the transient cause that produced it.
var errorMappings = []errorMapping{
	{service.ErrValidation, http.StatusBadRequest, "validation_failed"},
	{service.ErrCreditPending, http.StatusAccepted, "credit_pending"},
	{service.ErrDuplicate, http.StatusConflict, "duplicate"},
	{service.ErrSettlementInProgress, http.StatusConflict, "in_progress"},
	{service.ErrAccountInactive, http.StatusConflict, "account_inactive"},
	{service.ErrNotReversible, http.StatusConflict, "not_reversible"},
	{dispatcher.ErrItemNotFailed, http.StatusConflict, "item_not_failed"},
	{dispatcher.ErrItemAlreadyRequeued, http.StatusConflict, "already_requeued"},
	{service.ErrInsufficientFunds, http.StatusUnprocessableEntity, "insufficient_funds"},
	{service.ErrInsufficientAvailableBalance, http.StatusUnprocessableEntity, "insufficient_available_balance"},
	{service.ErrNoActiveCampaign, http.StatusUnprocessableEntity, "no_active_campaign"},
	{service.ErrAccountNotFound, http.StatusNotFound, "account_not_found"},
	{service.ErrSettlementNotFound, http.StatusNotFound, "settlement_not_found"},
	{service.ErrTransient, http.StatusServiceUnavailable, "unavailable"},
}

// statusFor maps a service error to its HTTP status and error code
func statusFor(err error) (int, string) {
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			return m.status, m.code
		}
	}
	return http.StatusInternalServerError, "internal"
}

// respondError writes err as JSON. Internal failures are logged and their
// details kept out of the response.
func respondError(c *gin.Context, err error) {
	status, code := statusFor(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		log.WithFields(log.Fields{
			"route": c.FullPath(),
			"error": err,
		}).Error("Request failed")
		message = "internal error"
	}
	_ = c.Error(err)
	c.JSON(status, errorResponse{Error: code, Message: message})
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid_request", Message: message})
}
