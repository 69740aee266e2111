package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	invitedomain "github.com/smallbiznis/hongbao/internal/invite/domain"
	ledgerdomain "github.com/smallbiznis/hongbao/internal/ledger/domain"
	packetdomain "github.com/smallbiznis/hongbao/internal/packet/domain"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var ErrInvalidRequest = errors.New("invalid_request")

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	if isValidationError(err) {
		code := err.Error()
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Code:    code,
					Message: "invalid value",
				},
			},
		}
	}

	switch {
	case errors.Is(err, packetdomain.ErrAlreadyClaimed),
		errors.Is(err, packetdomain.ErrContention),
		errors.Is(err, ledgerdomain.ErrBalanceConflict),
		errors.Is(err, invitedomain.ErrAlreadyBound):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: err.Error(),
		}
	case errors.Is(err, packetdomain.ErrPacketExpired):
		return http.StatusGone, errorPayload{
			Type:    "gone",
			Message: "packet expired",
		}
	case errors.Is(err, packetdomain.ErrPacketDepleted):
		return http.StatusUnprocessableEntity, errorPayload{
			Type:    "depleted",
			Message: "packet depleted",
		}
	case errors.Is(err, ledgerdomain.ErrInsufficientBalance):
		return http.StatusPaymentRequired, errorPayload{
			Type:    "insufficient_balance",
			Message: "insufficient balance",
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return true
	case errors.Is(err, packetdomain.ErrInvalidSender),
		errors.Is(err, packetdomain.ErrInvalidCurrency),
		errors.Is(err, packetdomain.ErrInvalidPolicy),
		errors.Is(err, packetdomain.ErrInvalidShareCount),
		errors.Is(err, packetdomain.ErrInvalidTotalAmount),
		errors.Is(err, packetdomain.ErrMessageTooLong),
		errors.Is(err, packetdomain.ErrBombCountNotEligible):
		return true
	case errors.Is(err, ledgerdomain.ErrInvalidUser),
		errors.Is(err, ledgerdomain.ErrInvalidCurrency),
		errors.Is(err, ledgerdomain.ErrInvalidAmount),
		errors.Is(err, ledgerdomain.ErrInvalidEntryType),
		errors.Is(err, ledgerdomain.ErrInvalidRelatedID):
		return true
	case errors.Is(err, invitedomain.ErrInvalidInvitee),
		errors.Is(err, invitedomain.ErrInvalidInviter),
		errors.Is(err, invitedomain.ErrSelfInvite):
		return true
	default:
		return false
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, packetdomain.ErrPacketNotFound),
		errors.Is(err, invitedomain.ErrRelationNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}
