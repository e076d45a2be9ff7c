package server

import (
	"net/http"

	"github.com/MarcoPoloResearchLab/propertyhub/backend/internal/apierr"
	"github.com/MarcoPoloResearchLab/propertyhub/backend/internal/documents"
	"github.com/MarcoPoloResearchLab/propertyhub/backend/internal/storage"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const documentFormField = "file"

func (h *httpHandler) handleListDocuments(c *gin.Context) {
	user, ok := h.requester(c)
	if !ok {
		return
	}
	items, err := h.documents.List(c.Request.Context(), user, c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"documents": items})
}

func (h *httpHandler) handleUploadDocument(c *gin.Context) {
	user, ok := h.requester(c)
	if !ok {
		return
	}
	header, err := c.FormFile(documentFormField)
	if err != nil {
		h.writeError(c, apierr.Validation("Invalid document upload", apierr.FieldError{Field: documentFormField, Message: "is required"}))
		return
	}
	contentType, err := storage.ValidateUpload(header, storage.DocumentConstraints)
	if err != nil {
		h.writeError(c, uploadError(documentFormField, err))
		return
	}
	file, err := header.Open()
	if err != nil {
		h.writeError(c, uploadError(documentFormField, err))
		return
	}
	defer func() {
		if closeErr := file.Close(); closeErr != nil {
			h.logger.Debug("failed to close upload", zap.Error(closeErr))
		}
	}()

	input := documents.UploadInput{
		FileName:    header.Filename,
		ContentType: contentType,
		Size:        header.Size,
		Body:        file,
		Category:    c.PostForm("category"),
		AccessLevel: c.PostForm("accessLevel"),
	}
	if unitID, ok := c.GetPostForm("unitId"); ok {
		input.UnitID = &unitID
	}
	if description, ok := c.GetPostForm("description"); ok {
		input.Description = &description
	}
	document, err := h.documents.Upload(c.Request.Context(), user, c.Param("id"), input)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, document)
}

func (h *httpHandler) handleDeleteDocument(c *gin.Context) {
	user, ok := h.requester(c)
	if !ok {
		return
	}
	if err := h.documents.Delete(c.Request.Context(), user, c.Param("id"), c.Param("documentId")); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
