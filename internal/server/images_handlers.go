package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/MarcoPoloResearchLab/propertyhub/backend/internal/apierr"
	"github.com/MarcoPoloResearchLab/propertyhub/backend/internal/properties"
	"github.com/MarcoPoloResearchLab/propertyhub/backend/internal/storage"
	"github.com/MarcoPoloResearchLab/propertyhub/backend/internal/users"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const imageFormField = "image"

func (h *httpHandler) handleListImages(c *gin.Context) {
	user, ok := h.requester(c)
	if !ok {
		return
	}
	images, err := h.properties.ListImages(c.Request.Context(), user, c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"images": images})
}

// addImagePayload accepts the legacy url and altText spellings.
type addImagePayload struct {
	ImageURL  string  `json:"imageUrl" binding:"max=2048"`
	URL       string  `json:"url" binding:"max=2048"`
	Caption   *string `json:"caption"`
	AltText   *string `json:"altText"`
	IsPrimary *bool   `json:"isPrimary"`
}

// handleAddImage attaches an image by URL or, for multipart requests, stores
// the uploaded file first.
func (h *httpHandler) handleAddImage(c *gin.Context) {
	user, ok := h.requester(c)
	if !ok {
		return
	}
	if c.ContentType() == gin.MIMEMultipartPOSTForm {
		h.uploadImage(c, user)
		return
	}
	var payload addImagePayload
	if !h.bindJSON(c, &payload) {
		return
	}
	caption := payload.Caption
	if caption == nil {
		caption = payload.AltText
	}
	result, err := h.properties.AddImage(c.Request.Context(), user, c.Param("id"), properties.AddImageInput{
		ImageURL:  firstNonEmpty(strings.TrimSpace(payload.ImageURL), strings.TrimSpace(payload.URL)),
		Caption:   caption,
		IsPrimary: payload.IsPrimary,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

func (h *httpHandler) uploadImage(c *gin.Context, user users.User) {
	header, err := c.FormFile(imageFormField)
	if err != nil {
		h.writeError(c, apierr.Validation("Invalid image upload", apierr.FieldError{Field: imageFormField, Message: "is required"}))
		return
	}
	contentType, err := storage.ValidateUpload(header, storage.ImageConstraints)
	if err != nil {
		h.writeError(c, uploadError(imageFormField, err))
		return
	}

	var fieldErrors []apierr.FieldError
	var isPrimary *bool
	if raw := strings.TrimSpace(c.PostForm("isPrimary")); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			fieldErrors = append(fieldErrors, apierr.FieldError{Field: "isPrimary", Message: "must be true or false"})
		}
		isPrimary = &parsed
	}
	if len(fieldErrors) > 0 {
		h.writeError(c, apierr.Validation("Invalid image upload", fieldErrors...))
		return
	}
	var caption *string
	if raw, ok := c.GetPostForm("caption"); ok {
		caption = &raw
	} else if raw, ok := c.GetPostForm("altText"); ok {
		caption = &raw
	}

	file, err := header.Open()
	if err != nil {
		h.writeError(c, uploadError(imageFormField, err))
		return
	}
	defer func() {
		if closeErr := file.Close(); closeErr != nil {
			h.logger.Debug("failed to close upload", zap.Error(closeErr))
		}
	}()

	result, err := h.properties.UploadImage(c.Request.Context(), user, c.Param("id"), properties.Upload{
		FileName:    header.Filename,
		ContentType: contentType,
		Body:        file,
	}, caption, isPrimary)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

type updateImagePayload struct {
	Caption   json.RawMessage `json:"caption"`
	AltText   json.RawMessage `json:"altText"`
	IsPrimary *bool           `json:"isPrimary"`
}

func (h *httpHandler) handleUpdateImage(c *gin.Context) {
	user, ok := h.requester(c)
	if !ok {
		return
	}
	var payload updateImagePayload
	if !h.bindJSON(c, &payload) {
		return
	}
	input := properties.UpdateImageInput{IsPrimary: payload.IsPrimary}
	rawCaption := payload.Caption
	if len(rawCaption) == 0 {
		rawCaption = payload.AltText
	}
	if len(rawCaption) > 0 {
		input.CaptionSet = true
		if !bytes.Equal(rawCaption, jsonNull) {
			var caption string
			if err := json.Unmarshal(rawCaption, &caption); err != nil {
				h.writeError(c, apierr.Validation("Invalid image payload", apierr.FieldError{Field: "caption", Message: "must be a string or null"}))
				return
			}
			input.Caption = &caption
		}
	}
	result, err := h.properties.UpdateImage(c.Request.Context(), user, c.Param("id"), c.Param("imageId"), input)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *httpHandler) handleDeleteImage(c *gin.Context) {
	user, ok := h.requester(c)
	if !ok {
		return
	}
	cover, err := h.properties.DeleteImage(c.Request.Context(), user, c.Param("id"), c.Param("imageId"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"coverImageUrl": cover})
}

type reorderImagesPayload struct {
	ImageIDs []string `json:"imageIds" binding:"required,dive,required"`
}

func (h *httpHandler) handleReorderImages(c *gin.Context) {
	user, ok := h.requester(c)
	if !ok {
		return
	}
	var payload reorderImagesPayload
	if !h.bindJSON(c, &payload) {
		return
	}
	result, err := h.properties.ReorderImages(c.Request.Context(), user, c.Param("id"), payload.ImageIDs)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// uploadError reports a rejected file on the given form field.
func uploadError(field string, err error) error {
	message := strings.TrimPrefix(err.Error(), storage.ErrInvalidUpload.Error()+": ")
	return apierr.Validation("Invalid file upload", apierr.FieldError{Field: field, Message: message})
}
