package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/turnosalon/salon-payments/internal/core/domain"
	"github.com/turnosalon/salon-payments/internal/core/service"
)

// IssueLinkRequest represents the JSON body for the links endpoint.
type IssueLinkRequest struct {
	OrgID       string         `json:"org_id"`
	SalonID     string         `json:"salon_id" binding:"required"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Metadata    map[string]any `json:"metadata"`
	ExpiresAt   *time.Time     `json:"expires_at"`
}

// IssueLink handles POST /api/v1/links
// The raw token is only ever returned here.
func (h *PaymentHandler) IssueLink(c *gin.Context) {
	var req IssueLinkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if !h.sameOrg(c, req.OrgID) {
		return
	}

	link, err := h.links.Issue(c.Request.Context(), service.IssueLinkInput{
		OrgID:       callerOrg(c),
		SalonID:     req.SalonID,
		Title:       req.Title,
		Description: req.Description,
		Metadata:    req.Metadata,
		ExpiresAt:   req.ExpiresAt,
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"success": true, "link": link})
}

// PublicLink handles GET /api/v1/public/links?token=&salon_id=
func (h *PaymentHandler) PublicLink(c *gin.Context) {
	cfg, err := h.links.Describe(c.Request.Context(), c.Query("token"), c.Query("salon_id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "link": cfg})
}

// PublicBookingRequest represents the JSON body of an anonymous booking.
type PublicBookingRequest struct {
	Token       string           `json:"token" binding:"required"`
	SalonID     string           `json:"salon_id" binding:"required"`
	ServiceID   string           `json:"service_id" binding:"required"`
	StartsAt    time.Time        `json:"starts_at" binding:"required"`
	ClientName  string           `json:"client_name" binding:"required"`
	ClientEmail string           `json:"client_email" binding:"omitempty,email"`
	ClientPhone string           `json:"client_phone"`
	BackURLs    *domain.BackURLs `json:"back_urls"`
}

// PublicBooking handles POST /api/v1/public/bookings
// Creates a pending appointment and returns the checkout URL for it.
func (h *PaymentHandler) PublicBooking(c *gin.Context) {
	var req PublicBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	res, err := h.booking.Book(c.Request.Context(), service.BookingInput{
		Token:       req.Token,
		SalonID:     req.SalonID,
		ServiceID:   req.ServiceID,
		StartsAt:    req.StartsAt,
		ClientName:  req.ClientName,
		ClientEmail: req.ClientEmail,
		ClientPhone: req.ClientPhone,
		BackURLs:    req.BackURLs,
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success":        true,
		"appointment_id": res.AppointmentID,
		"url":            res.URL,
		"preference_id":  res.PreferenceID,
		"sandbox_url":    res.SandboxURL,
	})
}
