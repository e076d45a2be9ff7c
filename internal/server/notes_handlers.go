package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type notePayload struct {
	Content string `json:"content"`
}

func (h *httpHandler) handleListNotes(c *gin.Context) {
	user, ok := h.requester(c)
	if !ok {
		return
	}
	items, err := h.notes.List(c.Request.Context(), user, c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"notes": items})
}

func (h *httpHandler) handleCreateNote(c *gin.Context) {
	user, ok := h.requester(c)
	if !ok {
		return
	}
	var payload notePayload
	if !h.bindJSON(c, &payload) {
		return
	}
	note, err := h.notes.Create(c.Request.Context(), user, c.Param("id"), payload.Content)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, note)
}

func (h *httpHandler) handleUpdateNote(c *gin.Context) {
	user, ok := h.requester(c)
	if !ok {
		return
	}
	var payload notePayload
	if !h.bindJSON(c, &payload) {
		return
	}
	note, err := h.notes.Update(c.Request.Context(), user, c.Param("id"), c.Param("noteId"), payload.Content)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, note)
}

func (h *httpHandler) handleDeleteNote(c *gin.Context) {
	user, ok := h.requester(c)
	if !ok {
		return
	}
	if err := h.notes.Delete(c.Request.Context(), user, c.Param("id"), c.Param("noteId")); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
