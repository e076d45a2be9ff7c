package server

import (
	"net/http"
	"strings"
	"testing"

	"github.com/MarcoPoloResearchLab/propertyhub/backend/internal/apierr"
	"github.com/MarcoPoloResearchLab/propertyhub/backend/internal/users"
)

var pdfBytes = []byte("%PDF-1.4\n1 0 obj\n<< /Type /Catalog >>\nendobj\n")

type documentView struct {
	ID          string `json:"id"`
	FileName    string `json:"fileName"`
	FileURL     string `json:"fileUrl"`
	MimeType    string `json:"mimeType"`
	Category    string `json:"category"`
	AccessLevel string `json:"accessLevel"`
}

func TestDocumentRoutesEnforceVisibility(testContext *testing.T) {
	env := newRouterEnv(testContext, routerOptions{})
	env.seedProperty(testContext, "property-1", "manager-1")
	env.seedOwnership(testContext, "property-1", "owner-1")
	manager := sessionToken(testContext, "manager-1", users.RolePropertyManager)
	owner := sessionToken(testContext, "owner-1", users.RoleOwner)
	base := "/api/properties/property-1/documents"

	response := env.upload(testContext, base, manager, documentFormField, "lease.pdf", pdfBytes, map[string]string{
		"category":    "lease",
		"accessLevel": "owner",
		"description": "Signed lease",
	})
	if response.Code != http.StatusCreated {
		testContext.Fatalf("upload returned %d: %s", response.Code, response.Body.String())
	}
	var shared documentView
	response.decode(testContext, &shared)
	if shared.MimeType != "application/pdf" || shared.Category != "LEASE" || shared.AccessLevel != "OWNER" {
		testContext.Fatalf("unexpected document %+v", shared)
	}

	response = env.upload(testContext, base, manager, documentFormField, "ledger.pdf", pdfBytes, nil)
	if response.Code != http.StatusCreated {
		testContext.Fatalf("second upload returned %d: %s", response.Code, response.Body.String())
	}
	var private documentView
	response.decode(testContext, &private)
	if private.AccessLevel != "PROPERTY_MANAGER" || private.Category != "OTHER" {
		testContext.Fatalf("expected restrictive defaults, got %+v", private)
	}

	var listing struct {
		Documents []documentView `json:"documents"`
	}
	env.do(testContext, http.MethodGet, base, owner, nil).decode(testContext, &listing)
	if len(listing.Documents) != 1 || listing.Documents[0].ID != shared.ID {
		testContext.Fatalf("expected owner to see only the shared document, got %+v", listing.Documents)
	}
	env.do(testContext, http.MethodGet, base, manager, nil).decode(testContext, &listing)
	if len(listing.Documents) != 2 {
		testContext.Fatalf("expected manager to see both documents, got %d", len(listing.Documents))
	}

	response = env.upload(testContext, base, owner, documentFormField, "mine.pdf", pdfBytes, nil)
	if response.Code != http.StatusForbidden {
		testContext.Fatalf("expected owner upload to be denied, got %d", response.Code)
	}
	response = env.upload(testContext, base, manager, documentFormField, "script.sh", []byte("#!/bin/sh\necho hi\n"), nil)
	if response.Code != http.StatusBadRequest || !strings.Contains(response.Body.String(), `"field":"file"`) {
		testContext.Fatalf("expected rejected file type, got %d %s", response.Code, response.Body.String())
	}
	response = env.upload(testContext, base, manager, documentFormField, "unit.pdf", pdfBytes, map[string]string{"unitId": "unit-404"})
	if response.Code != http.StatusBadRequest || !strings.Contains(response.Body.String(), `"field":"unitId"`) {
		testContext.Fatalf("expected unit validation, got %d %s", response.Code, response.Body.String())
	}

	if response := env.do(testContext, http.MethodDelete, base+"/"+private.ID, manager, nil); response.Code != http.StatusNoContent {
		testContext.Fatalf("delete returned %d", response.Code)
	}
	response = env.do(testContext, http.MethodDelete, base+"/"+private.ID, manager, nil)
	if response.Code != http.StatusNotFound || response.envelope(testContext).Code != string(apierr.CodeDocumentNotFound) {
		testContext.Fatalf("expected 404 on repeated delete, got %d %s", response.Code, response.Body.String())
	}
	env.docs.WaitForCleanup()
}

func TestNoteRoutesRestrictEditsToAuthor(testContext *testing.T) {
	env := newRouterEnv(testContext, routerOptions{})
	env.seedProperty(testContext, "property-1", "manager-1")
	env.seedOwnership(testContext, "property-1", "owner-1")
	manager := sessionToken(testContext, "manager-1", users.RolePropertyManager)
	owner := sessionToken(testContext, "owner-1", users.RoleOwner)
	base := "/api/properties/property-1/notes"

	response := env.do(testContext, http.MethodPost, base, owner, map[string]any{"content": "Gutter needs clearing"})
	if response.Code != http.StatusCreated {
		testContext.Fatalf("owner note returned %d: %s", response.Code, response.Body.String())
	}
	var note struct {
		ID       string `json:"id"`
		AuthorID string `json:"authorId"`
		Content  string `json:"content"`
	}
	response.decode(testContext, &note)
	if note.AuthorID != "owner-1" {
		testContext.Fatalf("unexpected note %+v", note)
	}

	response = env.do(testContext, http.MethodPatch, base+"/"+note.ID, manager, map[string]any{"content": "Done"})
	if response.Code != http.StatusForbidden || response.envelope(testContext).Code != string(apierr.CodeNoteAccessDenied) {
		testContext.Fatalf("expected author-only edit, got %d %s", response.Code, response.Body.String())
	}
	response = env.do(testContext, http.MethodPatch, base+"/"+note.ID, owner, map[string]any{"content": "Gutter cleared"})
	if response.Code != http.StatusOK || !strings.Contains(response.Body.String(), "Gutter cleared") {
		testContext.Fatalf("expected author edit to succeed, got %d %s", response.Code, response.Body.String())
	}
	response = env.do(testContext, http.MethodPost, base, manager, map[string]any{"content": "   "})
	if response.Code != http.StatusBadRequest || !strings.Contains(response.Body.String(), `"field":"content"`) {
		testContext.Fatalf("expected content validation, got %d %s", response.Code, response.Body.String())
	}

	var listing struct {
		Notes []struct {
			ID string `json:"id"`
		} `json:"notes"`
	}
	env.do(testContext, http.MethodGet, base, manager, nil).decode(testContext, &listing)
	if len(listing.Notes) != 1 {
		testContext.Fatalf("expected one note, got %d", len(listing.Notes))
	}
	if response := env.do(testContext, http.MethodDelete, base+"/"+note.ID, owner, nil); response.Code != http.StatusNoContent {
		testContext.Fatalf("author delete returned %d", response.Code)
	}
}
