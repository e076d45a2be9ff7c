package properties

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MarcoPoloResearchLab/propertyhub/backend/internal/apierr"
	"github.com/MarcoPoloResearchLab/propertyhub/backend/internal/storage"
	"github.com/MarcoPoloResearchLab/propertyhub/backend/internal/users"
)

var pngBytes = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0x0d, 'I', 'H', 'D', 'R'}

func storedPath(store *storage.LocalStorage, fileURL string) string {
	relative := strings.TrimPrefix(fileURL, store.PublicPrefix()+"/")
	return filepath.Join(store.Root(), filepath.FromSlash(relative))
}

func fileExists(t *testing.T, path string) bool {
	t.Helper()
	_, err := os.Stat(path)
	if err == nil {
		return true
	}
	if errors.Is(err, os.ErrNotExist) {
		return false
	}
	t.Fatalf("stat %s: %v", path, err)
	return false
}

func TestUploadsStayWithTheirPropertyAcrossManagers(t *testing.T) {
	store, err := storage.NewLocalStorage(t.TempDir(), "/uploads")
	if err != nil {
		t.Fatalf("new local storage: %v", err)
	}
	env := newTestEnv(t, testOptions{store: store})
	ctx := context.Background()
	alice := seedUser(t, env.db, "manager-alice", users.RolePropertyManager)
	bob := seedUser(t, env.db, "manager-bob", users.RolePropertyManager)
	aliceProperty := createProperty(t, env, alice)
	bobProperty := createProperty(t, env, bob)

	uploaded, err := env.service.UploadImage(ctx, alice, aliceProperty.ID, Upload{
		FileName:    "front.png",
		ContentType: "image/png",
		Body:        bytes.NewReader(pngBytes),
	}, nil, nil)
	if err != nil {
		t.Fatalf("upload failed: %v", err)
	}
	aliceURL := uploaded.Image.ImageURL
	if !strings.HasPrefix(aliceURL, "/uploads/properties/"+aliceProperty.ID+"/images/") {
		t.Fatalf("unexpected upload location %q", aliceURL)
	}
	aliceFile := storedPath(store, aliceURL)

	_, err = env.service.AddImage(ctx, bob, bobProperty.ID, AddImageInput{ImageURL: aliceURL})
	apiErr := expectAPIError(t, err, http.StatusBadRequest, apierr.CodeValidation)
	if !strings.Contains(apiErr.Error(), "Invalid image payload") {
		t.Fatalf("unexpected validation error %v", apiErr)
	}
	_, err = env.service.Update(ctx, bob, bobProperty.ID, UpdateInput{ImageURLSet: true, ImageURL: &aliceURL})
	expectAPIError(t, err, http.StatusBadRequest, apierr.CodeValidation)
	_, err = env.service.Create(ctx, bob, CreateInput{
		Name: "Copycat", Address: "2 Pier Road", City: "Portsmouth", PropertyType: "residential", ImageURL: &aliceURL,
	})
	expectAPIError(t, err, http.StatusBadRequest, apierr.CodeValidation)

	// a row written before uploads were namespaced may still point at another property's file
	shared := PropertyImage{ID: "shared-1", PropertyID: bobProperty.ID, ImageURL: aliceURL, IsPrimary: true, UploadedByID: bob.ID, CreatedAt: testNow, UpdatedAt: testNow}
	if err := env.db.Create(&shared).Error; err != nil {
		t.Fatalf("seed shared image: %v", err)
	}
	if _, err := env.service.DeleteImage(ctx, bob, bobProperty.ID, shared.ID); err != nil {
		t.Fatalf("delete shared image: %v", err)
	}
	env.service.WaitForCleanup()
	if !fileExists(t, aliceFile) {
		t.Fatalf("deleting another property's reference must keep the file")
	}

	if err := env.db.Create(&PropertyImage{ID: "shared-2", PropertyID: bobProperty.ID, ImageURL: aliceURL, UploadedByID: bob.ID, CreatedAt: testNow, UpdatedAt: testNow}).Error; err != nil {
		t.Fatalf("seed shared image: %v", err)
	}
	if err := env.service.Delete(ctx, bob, bobProperty.ID); err != nil {
		t.Fatalf("delete property: %v", err)
	}
	env.service.WaitForCleanup()
	if !fileExists(t, aliceFile) {
		t.Fatalf("deleting another property must keep the file")
	}
	assertCoverConsistent(t, env.db, aliceProperty.ID)

	if _, err := env.service.DeleteImage(ctx, alice, aliceProperty.ID, uploaded.Image.ID); err != nil {
		t.Fatalf("delete own image: %v", err)
	}
	env.service.WaitForCleanup()
	if fileExists(t, aliceFile) {
		t.Fatalf("expected the owning property's delete to remove the file")
	}
}

func TestReleasableFilesKeepsReferencedAndForeignFiles(t *testing.T) {
	env := newTestEnv(t, testOptions{})
	manager := seedUser(t, env.db, "manager-1", users.RolePropertyManager)
	property := createProperty(t, env, manager)
	own := "/uploads/properties/" + property.ID + "/images/a.png"
	documentURL := "/uploads/properties/" + property.ID + "/documents/lease.pdf"
	document := PropertyDocument{
		ID: "doc-1", PropertyID: property.ID, FileName: "lease.pdf", FileURL: documentURL,
		MimeType: "application/pdf", Category: CategoryOther, AccessLevel: AccessOwner, UploaderID: manager.ID,
	}
	if err := env.db.Create(&document).Error; err != nil {
		t.Fatalf("seed document: %v", err)
	}

	releasable, err := ReleasableFiles(env.db, property.ID, true,
		own,
		documentURL,
		"/uploads/properties/other-property/images/b.png",
		"https://cdn.example.com/c.jpg",
		own,
	)
	if err != nil {
		t.Fatalf("releasable files: %v", err)
	}
	if len(releasable) != 1 || releasable[0] != own {
		t.Fatalf("expected only the unreferenced own file, got %v", releasable)
	}
}

func TestMissingUnrelatedTableKeepsImageStoreAvailable(t *testing.T) {
	env := newTestEnv(t, testOptions{})
	ctx := context.Background()
	manager := seedUser(t, env.db, "manager-1", users.RolePropertyManager)
	property := createProperty(t, env, manager, "https://cdn.example.com/a.jpg")

	if err := env.db.Migrator().DropTable(&Unit{}); err != nil {
		t.Fatalf("drop units: %v", err)
	}
	err := env.service.Delete(ctx, manager, property.ID)
	expectAPIError(t, err, http.StatusInternalServerError, apierr.CodeInternal)

	available, err := env.probe.Available(ctx)
	if err != nil || !available {
		t.Fatalf("image store must stay available, got %v %v", available, err)
	}
	if images := loadStoredImages(t, env.db, property.ID); len(images) != 1 {
		t.Fatalf("expected the image record to survive, got %d", len(images))
	}
}
