package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/propertyhub/backend/internal/apierr"
	"github.com/MarcoPoloResearchLab/propertyhub/backend/internal/properties"
	"github.com/gin-gonic/gin"
)

const dateLayout = "2006-01-02"

func (h *httpHandler) handleListOwners(c *gin.Context) {
	user, ok := h.requester(c)
	if !ok {
		return
	}
	owners, err := h.properties.ListOwners(c.Request.Context(), user, c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"owners": owners})
}

type addOwnerPayload struct {
	OwnerID             string  `json:"ownerId" binding:"required"`
	OwnershipPercentage float64 `json:"ownershipPercentage" binding:"gt=0,lte=100"`
	StartDate           string  `json:"startDate"`
	EndDate             string  `json:"endDate"`
}

func (h *httpHandler) handleAddOwner(c *gin.Context) {
	user, ok := h.requester(c)
	if !ok {
		return
	}
	var payload addOwnerPayload
	if !h.bindJSON(c, &payload) {
		return
	}
	var fieldErrors []apierr.FieldError
	startDate, ok := parseDate(payload.StartDate)
	if !ok {
		fieldErrors = append(fieldErrors, apierr.FieldError{Field: "startDate", Message: "must be a date (YYYY-MM-DD) or RFC 3339 timestamp"})
	}
	endDate, ok := parseDate(payload.EndDate)
	if !ok {
		fieldErrors = append(fieldErrors, apierr.FieldError{Field: "endDate", Message: "must be a date (YYYY-MM-DD) or RFC 3339 timestamp"})
	}
	if len(fieldErrors) > 0 {
		h.writeError(c, apierr.Validation("Invalid owner payload", fieldErrors...))
		return
	}
	owner, err := h.properties.AddOwner(c.Request.Context(), user, c.Param("id"), properties.AddOwnerInput{
		OwnerID:             payload.OwnerID,
		OwnershipPercentage: payload.OwnershipPercentage,
		StartDate:           startDate,
		EndDate:             endDate,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, owner)
}

func (h *httpHandler) handleRemoveOwner(c *gin.Context) {
	user, ok := h.requester(c)
	if !ok {
		return
	}
	if err := h.properties.RemoveOwner(c.Request.Context(), user, c.Param("id"), c.Param("ownerId")); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// parseDate accepts an empty value, a calendar date or an RFC 3339 timestamp.
func parseDate(raw string) (*time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, true
	}
	for _, layout := range []string{time.RFC3339, dateLayout} {
		if parsed, err := time.Parse(layout, raw); err == nil {
			return &parsed, true
		}
	}
	return nil, false
}
