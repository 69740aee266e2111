package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	ledgerdomain "github.com/smallbiznis/hongbao/internal/ledger/domain"
)

type depositRequest struct {
	Currency string `json:"currency"`
	Amount   int64  `json:"amount"`
	Note     string `json:"note"`
}

func (s *Server) GetBalance(c *gin.Context) {
	userID, err := parseID(c.Param("user_id"))
	if err != nil {
		AbortWithError(c, newValidationError("user_id", "invalid_user", "invalid user id"))
		return
	}

	currency := strings.TrimSpace(c.Query("currency"))
	if currency == "" {
		currency = s.cfg.Engine.RewardCurrency
	}

	balance, err := s.ledgerSvc.Balance(c.Request.Context(), userID, currency)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"user_id":  userID.String(),
		"currency": currency,
		"balance":  balance,
	}})
}

func (s *Server) ListEntries(c *gin.Context) {
	userID, err := parseID(c.Param("user_id"))
	if err != nil {
		AbortWithError(c, newValidationError("user_id", "invalid_user", "invalid user id"))
		return
	}

	currency := strings.TrimSpace(c.Query("currency"))
	if currency == "" {
		currency = s.cfg.Engine.RewardCurrency
	}

	limit := 50
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 500 {
			AbortWithError(c, newValidationError("limit", "invalid_limit", "invalid limit"))
			return
		}
		limit = n
	}

	entries, err := s.ledgerSvc.History(c.Request.Context(), userID, currency, limit)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": entries})
}

// Deposit funds an account directly. Registered outside production only;
// real top-ups arrive through a payment provider, not this surface.
func (s *Server) Deposit(c *gin.Context) {
	userID, err := parseID(c.Param("user_id"))
	if err != nil {
		AbortWithError(c, newValidationError("user_id", "invalid_user", "invalid user id"))
		return
	}

	var req depositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	entry, err := s.ledgerSvc.Apply(c.Request.Context(), ledgerdomain.ApplyRequest{
		UserID:    userID,
		Currency:  strings.TrimSpace(req.Currency),
		Amount:    req.Amount,
		EntryType: ledgerdomain.EntryTypeDeposit,
		RelatedID: s.genID.Generate(),
		Note:      req.Note,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": entry})
}
