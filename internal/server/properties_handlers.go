package server

import (
	"bytes"
	"encoding/json"
	"net/http"

	"github.com/MarcoPoloResearchLab/propertyhub/backend/internal/apierr"
	"github.com/MarcoPoloResearchLab/propertyhub/backend/internal/properties"
	"github.com/gin-gonic/gin"
)

var jsonNull = []byte("null")

type listPropertiesQuery struct {
	Limit           int    `form:"limit" binding:"omitempty,min=1,max=100"`
	Offset          int    `form:"offset" binding:"omitempty,min=0"`
	Search          string `form:"search" binding:"max=255"`
	Status          string `form:"status"`
	IncludeTotal    bool   `form:"includeTotal"`
	IncludeArchived bool   `form:"includeArchived"`
}

func (h *httpHandler) handleListProperties(c *gin.Context) {
	user, ok := h.requester(c)
	if !ok {
		return
	}
	var query listPropertiesQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		h.writeError(c, bindingError(err))
		return
	}
	result, err := h.properties.List(c.Request.Context(), user, properties.ListQuery{
		Limit:           query.Limit,
		Offset:          query.Offset,
		Search:          query.Search,
		Status:          query.Status,
		IncludeTotal:    query.IncludeTotal,
		IncludeArchived: query.IncludeArchived,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// createPropertyPayload accepts the legacy postcode and type aliases.
type createPropertyPayload struct {
	Name          string            `json:"name"`
	Address       string            `json:"address"`
	City          string            `json:"city"`
	State         string            `json:"state"`
	ZipCode       string            `json:"zipCode"`
	Postcode      string            `json:"postcode"`
	Country       string            `json:"country"`
	PropertyType  string            `json:"propertyType"`
	Type          string            `json:"type"`
	Status        string            `json:"status"`
	ImageURL      *string           `json:"imageUrl"`
	CoverImage    *string           `json:"coverImage"`
	Images        []json.RawMessage `json:"images"`
	Description   *string           `json:"description"`
	YearBuilt     *int              `json:"yearBuilt"`
	TotalUnits    *int              `json:"totalUnits"`
	TotalArea     *float64          `json:"totalArea"`
	PurchasePrice *float64          `json:"purchasePrice"`
	CurrentValue  *float64          `json:"currentValue"`
	Amenities     map[string]any    `json:"amenities"`
}

func (p createPropertyPayload) input() properties.CreateInput {
	return properties.CreateInput{
		Name:          p.Name,
		Address:       p.Address,
		City:          p.City,
		State:         p.State,
		ZipCode:       firstNonEmpty(p.ZipCode, p.Postcode),
		Country:       p.Country,
		PropertyType:  firstNonEmpty(p.PropertyType, p.Type),
		Status:        p.Status,
		ImageURL:      p.ImageURL,
		CoverImage:    p.CoverImage,
		Images:        p.Images,
		Description:   p.Description,
		YearBuilt:     p.YearBuilt,
		TotalUnits:    p.TotalUnits,
		TotalArea:     p.TotalArea,
		PurchasePrice: p.PurchasePrice,
		CurrentValue:  p.CurrentValue,
		Amenities:     p.Amenities,
	}
}

func (h *httpHandler) handleCreateProperty(c *gin.Context) {
	user, ok := h.requester(c)
	if !ok {
		return
	}
	var payload createPropertyPayload
	if !h.bindJSON(c, &payload) {
		return
	}
	view, err := h.properties.Create(c.Request.Context(), user, payload.input())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, view)
}

func (h *httpHandler) handleGetProperty(c *gin.Context) {
	user, ok := h.requester(c)
	if !ok {
		return
	}
	view, err := h.properties.Get(c.Request.Context(), user, c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// updatePropertyPayload keeps imageUrl and images raw so an explicit null
// can be told apart from an absent field.
type updatePropertyPayload struct {
	Name          *string         `json:"name"`
	Address       *string         `json:"address"`
	City          *string         `json:"city"`
	State         *string         `json:"state"`
	ZipCode       *string         `json:"zipCode"`
	Postcode      *string         `json:"postcode"`
	Country       *string         `json:"country"`
	PropertyType  *string         `json:"propertyType"`
	Type          *string         `json:"type"`
	Status        *string         `json:"status"`
	Description   *string         `json:"description"`
	YearBuilt     *int            `json:"yearBuilt"`
	TotalUnits    *int            `json:"totalUnits"`
	TotalArea     *float64        `json:"totalArea"`
	PurchasePrice *float64        `json:"purchasePrice"`
	CurrentValue  *float64        `json:"currentValue"`
	Amenities     map[string]any  `json:"amenities"`
	Archived      *bool           `json:"archived"`
	ImageURL      json.RawMessage `json:"imageUrl"`
	Images        json.RawMessage `json:"images"`
}

func (p updatePropertyPayload) input() (properties.UpdateInput, error) {
	input := properties.UpdateInput{
		Name:          p.Name,
		Address:       p.Address,
		City:          p.City,
		State:         p.State,
		ZipCode:       firstSet(p.ZipCode, p.Postcode),
		Country:       p.Country,
		PropertyType:  firstSet(p.PropertyType, p.Type),
		Status:        p.Status,
		Description:   p.Description,
		YearBuilt:     p.YearBuilt,
		TotalUnits:    p.TotalUnits,
		TotalArea:     p.TotalArea,
		PurchasePrice: p.PurchasePrice,
		CurrentValue:  p.CurrentValue,
		Amenities:     p.Amenities,
		Archived:      p.Archived,
	}
	var fieldErrors []apierr.FieldError
	if len(p.ImageURL) > 0 {
		input.ImageURLSet = true
		if !bytes.Equal(p.ImageURL, jsonNull) {
			var location string
			if err := json.Unmarshal(p.ImageURL, &location); err != nil {
				fieldErrors = append(fieldErrors, apierr.FieldError{Field: "imageUrl", Message: "must be a string or null"})
			} else {
				input.ImageURL = &location
			}
		}
	}
	if len(p.Images) > 0 && !bytes.Equal(p.Images, jsonNull) {
		var images []json.RawMessage
		if err := json.Unmarshal(p.Images, &images); err != nil {
			fieldErrors = append(fieldErrors, apierr.FieldError{Field: "images", Message: "must be an array"})
		} else {
			input.ImagesSet = true
			input.Images = images
		}
	}
	if len(fieldErrors) > 0 {
		return properties.UpdateInput{}, apierr.Validation("Invalid property payload", fieldErrors...)
	}
	return input, nil
}

func (h *httpHandler) handleUpdateProperty(c *gin.Context) {
	user, ok := h.requester(c)
	if !ok {
		return
	}
	var payload updatePropertyPayload
	if !h.bindJSON(c, &payload) {
		return
	}
	input, err := payload.input()
	if err != nil {
		h.writeError(c, err)
		return
	}
	view, err := h.properties.Update(c.Request.Context(), user, c.Param("id"), input)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *httpHandler) handleDeleteProperty(c *gin.Context) {
	user, ok := h.requester(c)
	if !ok {
		return
	}
	if err := h.properties.Delete(c.Request.Context(), user, c.Param("id")); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleOccupancy(c *gin.Context) {
	user, ok := h.requester(c)
	if !ok {
		return
	}
	stats, err := h.properties.Occupancy(c.Request.Context(), user, c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}

func firstSet(values ...*string) *string {
	for _, value := range values {
		if value != nil {
			return value
		}
	}
	return nil
}
