package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	packetdomain "github.com/smallbiznis/hongbao/internal/packet/domain"
)

type createPacketRequest struct {
	SenderID    string `json:"sender_id"`
	Currency    string `json:"currency"`
	TotalAmount int64  `json:"total_amount"`
	ShareCount  int    `json:"share_count"`
	Policy      string `json:"policy"`
	Message     string `json:"message"`
}

type claimPacketRequest struct {
	UserID string `json:"user_id"`
}

func parseID(raw string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(raw))
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (s *Server) CreatePacket(c *gin.Context) {
	var req createPacketRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	senderID, err := parseID(req.SenderID)
	if err != nil {
		AbortWithError(c, newValidationError("sender_id", "invalid_sender", "invalid sender id"))
		return
	}

	resp, err := s.packetSvc.Create(c.Request.Context(), packetdomain.CreateRequest{
		SenderID:    senderID,
		Currency:    strings.TrimSpace(req.Currency),
		TotalAmount: req.TotalAmount,
		ShareCount:  req.ShareCount,
		Policy:      packetdomain.Policy(strings.TrimSpace(req.Policy)),
		Message:     req.Message,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetPacket(c *gin.Context) {
	packetID, err := parseID(c.Param("id"))
	if err != nil {
		AbortWithError(c, newValidationError("id", "invalid_packet_id", "invalid packet id"))
		return
	}

	resp, err := s.packetSvc.Get(c.Request.Context(), packetID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ClaimPacket(c *gin.Context) {
	packetID, err := parseID(c.Param("id"))
	if err != nil {
		AbortWithError(c, newValidationError("id", "invalid_packet_id", "invalid packet id"))
		return
	}

	var req claimPacketRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	userID, err := parseID(req.UserID)
	if err != nil {
		AbortWithError(c, newValidationError("user_id", "invalid_user", "invalid user id"))
		return
	}

	resp, err := s.packetSvc.Claim(c.Request.Context(), packetID, userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListPacketClaims(c *gin.Context) {
	packetID, err := parseID(c.Param("id"))
	if err != nil {
		AbortWithError(c, newValidationError("id", "invalid_packet_id", "invalid packet id"))
		return
	}

	resp, err := s.packetSvc.ListClaims(c.Request.Context(), packetID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
