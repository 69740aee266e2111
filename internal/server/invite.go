package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type bindInviteRequest struct {
	InviteeID string `json:"invitee_id"`
	InviterID string `json:"inviter_id"`
}

func (s *Server) BindInvite(c *gin.Context) {
	var req bindInviteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	inviteeID, err := parseID(req.InviteeID)
	if err != nil {
		AbortWithError(c, newValidationError("invitee_id", "invalid_invitee", "invalid invitee id"))
		return
	}

	inviterID, err := parseID(req.InviterID)
	if err != nil {
		AbortWithError(c, newValidationError("inviter_id", "invalid_inviter", "invalid inviter id"))
		return
	}

	resp, err := s.inviteSvc.Bind(c.Request.Context(), inviteeID, inviterID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
