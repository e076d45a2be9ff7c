package properties

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/propertyhub/backend/internal/apierr"
	"github.com/MarcoPoloResearchLab/propertyhub/backend/internal/storage"
	"github.com/MarcoPoloResearchLab/propertyhub/backend/internal/users"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var testNow = time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC)

type sequentialIDs struct {
	mu     sync.Mutex
	prefix string
	next   int
}

func (p *sequentialIDs) NewID() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.next++
	return fmt.Sprintf("%s-%04d", p.prefix, p.next), nil
}

type testEnv struct {
	db      *gorm.DB
	service *Service
	probe   *ImageStoreProbe
	users   *users.Service
}

type testOptions struct {
	skipImageTable bool
	mode           ImageStoreMode
	logger         *zap.Logger
	store          storage.Storage
}

func openTestDatabase(t *testing.T, skipImageTable bool) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:properties_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	models := []any{&users.User{}}
	for _, model := range Models() {
		if _, isImage := model.(*PropertyImage); isImage && skipImageTable {
			continue
		}
		models = append(models, model)
	}
	if err := db.AutoMigrate(models...); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	return db
}

func newTestEnv(t *testing.T, opts testOptions) testEnv {
	t.Helper()
	db := openTestDatabase(t, opts.skipImageTable)
	clock := func() time.Time { return testNow }
	logger := opts.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	probe, err := NewImageStoreProbe(ProbeConfig{Database: db, Mode: opts.mode, Clock: clock, Logger: logger})
	if err != nil {
		t.Fatalf("failed to create probe: %v", err)
	}
	directory, err := users.NewService(users.ServiceConfig{Database: db, Clock: clock})
	if err != nil {
		t.Fatalf("failed to create user directory: %v", err)
	}
	service, err := NewService(ServiceConfig{
		Database:   db,
		Clock:      clock,
		IDProvider: &sequentialIDs{prefix: "id"},
		Logger:     logger,
		Probe:      probe,
		Locations:  LocationPolicy{UploadsPrefix: "/uploads"},
		Users:      directory,
		Storage:    opts.store,
	})
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	t.Cleanup(service.WaitForCleanup)
	return testEnv{db: db, service: service, probe: probe, users: directory}
}

func seedUser(t *testing.T, db *gorm.DB, id string, role users.Role) users.User {
	t.Helper()
	user := users.User{ID: id, Email: id + "@example.com", Role: role, LastSeenAt: testNow}
	if err := db.Create(&user).Error; err != nil {
		t.Fatalf("failed to seed user %s: %v", id, err)
	}
	return user
}

func rawImages(urls ...string) []json.RawMessage {
	raw := make([]json.RawMessage, 0, len(urls))
	for _, url := range urls {
		encoded, _ := json.Marshal(url)
		raw = append(raw, encoded)
	}
	return raw
}

func createProperty(t *testing.T, env testEnv, manager users.User, images ...string) PropertyView {
	t.Helper()
	view, err := env.service.Create(context.Background(), manager, CreateInput{
		Name:         "Harbor View",
		Address:      "1 Pier Road",
		City:         "Portsmouth",
		PropertyType: "residential",
		Images:       rawImages(images...),
	})
	if err != nil {
		t.Fatalf("create property failed: %v", err)
	}
	return view
}

func loadStoredImages(t *testing.T, db *gorm.DB, propertyID string) []PropertyImage {
	t.Helper()
	var images []PropertyImage
	if err := db.Where("property_id = ?", propertyID).Order("display_order ASC, id ASC").Find(&images).Error; err != nil {
		t.Fatalf("failed to load images: %v", err)
	}
	return images
}

func loadProperty(t *testing.T, db *gorm.DB, propertyID string) Property {
	t.Helper()
	var property Property
	if err := db.Where("id = ?", propertyID).Take(&property).Error; err != nil {
		t.Fatalf("failed to load property: %v", err)
	}
	return property
}

// assertCoverConsistent checks primary uniqueness and that the cover column
// mirrors the primary image.
func assertCoverConsistent(t *testing.T, db *gorm.DB, propertyID string) {
	t.Helper()
	images := loadStoredImages(t, db, propertyID)
	property := loadProperty(t, db, propertyID)
	primaries := 0
	var primaryURL string
	for _, image := range images {
		if image.IsPrimary {
			primaries++
			primaryURL = image.ImageURL
		}
	}
	if len(images) == 0 {
		if property.ImageURL != nil {
			t.Fatalf("expected no cover image, got %q", *property.ImageURL)
		}
		return
	}
	if primaries != 1 {
		t.Fatalf("expected exactly one primary image, got %d", primaries)
	}
	if property.ImageURL == nil || *property.ImageURL != primaryURL {
		t.Fatalf("expected cover %q, got %v", primaryURL, property.ImageURL)
	}
	for index, image := range images {
		if image.DisplayOrder != index {
			t.Fatalf("expected dense display order, image %s has %d at position %d", image.ID, image.DisplayOrder, index)
		}
	}
}

func expectAPIError(t *testing.T, err error, status int, code apierr.Code) *apierr.Error {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error %s, got nil", code)
	}
	apiErr := apierr.As(err)
	if apiErr.Status != status || apiErr.Code != code {
		t.Fatalf("expected %d %s, got %d %s (%v)", status, code, apiErr.Status, apiErr.Code, err)
	}
	return apiErr
}
