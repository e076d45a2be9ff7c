package notes

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/propertyhub/backend/internal/properties"
	"github.com/MarcoPoloResearchLab/propertyhub/backend/internal/users"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

var testNow = time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC)

type sequentialIDs struct {
	mu   sync.Mutex
	next int
}

func (p *sequentialIDs) NewID() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.next++
	return fmt.Sprintf("note-%04d", p.next), nil
}

type noteFixture struct {
	db       *gorm.DB
	service  *Service
	property properties.Property
	manager  users.User
	owner    users.User
	stranger users.User
}

func newNoteFixture(t *testing.T) noteFixture {
	t.Helper()
	dsn := fmt.Sprintf("file:notes_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
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

	models := append([]any{&users.User{}}, properties.Models()...)
	if err := db.AutoMigrate(models...); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}

	clock := func() time.Time { return testNow }
	probe, err := properties.NewImageStoreProbe(properties.ProbeConfig{Database: db, Clock: clock})
	if err != nil {
		t.Fatalf("failed to create probe: %v", err)
	}
	propertyService, err := properties.NewService(properties.ServiceConfig{
		Database:   db,
		Clock:      clock,
		IDProvider: properties.NewUUIDProvider(),
		Probe:      probe,
	})
	if err != nil {
		t.Fatalf("failed to create property service: %v", err)
	}
	service, err := NewService(ServiceConfig{
		Database:   db,
		Clock:      clock,
		IDProvider: &sequentialIDs{},
		Properties: propertyService,
	})
	if err != nil {
		t.Fatalf("failed to create note service: %v", err)
	}

	fixture := noteFixture{
		db:       db,
		service:  service,
		manager:  users.User{ID: "manager-1", Role: users.RolePropertyManager},
		owner:    users.User{ID: "owner-1", Role: users.RoleOwner},
		stranger: users.User{ID: "manager-2", Role: users.RolePropertyManager},
	}
	fixture.property = properties.Property{
		ID:           "property-1",
		Name:         "Harbor View",
		Address:      "1 Pier Road",
		City:         "Portsmouth",
		PropertyType: properties.TypeResidential,
		Status:       properties.StatusActive,
		ManagerID:    fixture.manager.ID,
	}
	records := []any{
		&fixture.property,
		&properties.PropertyOwner{PropertyID: fixture.property.ID, OwnerID: fixture.owner.ID, OwnershipPercentage: 100, StartDate: testNow},
	}
	for _, record := range records {
		if err := db.Create(record).Error; err != nil {
			t.Fatalf("failed to seed %T: %v", record, err)
		}
	}
	return fixture
}
