package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/propertyhub/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/propertyhub/backend/internal/cache"
	"github.com/MarcoPoloResearchLab/propertyhub/backend/internal/documents"
	"github.com/MarcoPoloResearchLab/propertyhub/backend/internal/notes"
	"github.com/MarcoPoloResearchLab/propertyhub/backend/internal/properties"
	"github.com/MarcoPoloResearchLab/propertyhub/backend/internal/ratelimit"
	"github.com/MarcoPoloResearchLab/propertyhub/backend/internal/storage"
	"github.com/MarcoPoloResearchLab/propertyhub/backend/internal/users"
	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	testSigningSecret = "router-test-secret"
	testIssuer        = "propertyhub-auth"
	testCookieName    = "app_session"
)

var pngBytes = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0x0d, 'I', 'H', 'D', 'R', 0, 0, 0, 1, 0, 0, 0, 1, 8, 2, 0, 0, 0}

type routerOptions struct {
	redis       *redis.Client
	rateLimit   int
	development bool
	logger      *zap.Logger
}

type routerEnv struct {
	db      *gorm.DB
	handler http.Handler
	store   *storage.LocalStorage
	props   *properties.Service
	docs    *documents.Service
}

func newRouterEnv(t *testing.T, opts routerOptions) routerEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:server_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
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
	if err := db.AutoMigrate(append([]any{&users.User{}}, properties.Models()...)...); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}

	logger := opts.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	store, err := storage.NewLocalStorage(t.TempDir(), "/uploads")
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}
	cleaner := storage.NewCleaner(store, logger, time.Second)

	userService, err := users.NewService(users.ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to create user service: %v", err)
	}
	probe, err := properties.NewImageStoreProbe(properties.ProbeConfig{Database: db, Logger: logger})
	if err != nil {
		t.Fatalf("failed to create probe: %v", err)
	}
	propertyService, err := properties.NewService(properties.ServiceConfig{
		Database:   db,
		IDProvider: properties.NewUUIDProvider(),
		Logger:     logger,
		Probe:      probe,
		Locations:  properties.LocationPolicy{UploadsPrefix: store.PublicPrefix()},
		Storage:    store,
		Cleaner:    cleaner,
		Users:      userService,
	})
	if err != nil {
		t.Fatalf("failed to create property service: %v", err)
	}
	documentService, err := documents.NewService(documents.ServiceConfig{
		Database:   db,
		IDProvider: properties.NewUUIDProvider(),
		Logger:     logger,
		Properties: propertyService,
		Storage:    store,
		Cleaner:    cleaner,
	})
	if err != nil {
		t.Fatalf("failed to create document service: %v", err)
	}
	noteService, err := notes.NewService(notes.ServiceConfig{
		Database:   db,
		IDProvider: properties.NewUUIDProvider(),
		Logger:     logger,
		Properties: propertyService,
	})
	if err != nil {
		t.Fatalf("failed to create note service: %v", err)
	}
	validator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(testSigningSecret),
		Issuer:        testIssuer,
		CookieName:    testCookieName,
	})
	if err != nil {
		t.Fatalf("failed to create session validator: %v", err)
	}

	deps := Dependencies{
		Sessions:        validator,
		Users:           userService,
		PropertyService: propertyService,
		DocumentService: documentService,
		NotesService:    noteService,
		Uploads:         &Uploads{Dir: store.Root(), PublicPrefix: store.PublicPrefix()},
		Development:     opts.development,
		Logger:          logger,
	}
	if opts.redis != nil {
		deps.Cache = cache.New(opts.redis, "test", logger)
		deps.CacheTTL = time.Minute
		if opts.rateLimit > 0 {
			deps.RateLimiter = ratelimit.New(opts.redis, ratelimit.Config{
				Requests: opts.rateLimit,
				Window:   time.Minute,
				Logger:   logger,
				Reject:   RejectRateLimited,
			})
		}
	}
	handler, err := NewHTTPHandler(deps)
	if err != nil {
		t.Fatalf("failed to build handler: %v", err)
	}
	t.Cleanup(propertyService.WaitForCleanup)
	return routerEnv{db: db, handler: handler, store: store, props: propertyService, docs: documentService}
}

func sessionToken(t *testing.T, userID string, role users.Role) string {
	t.Helper()
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, auth.SessionClaims{
		UserID:   userID,
		UserRole: string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    testIssuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now.Add(-time.Minute)),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	})
	signed, err := token.SignedString([]byte(testSigningSecret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

type testResponse struct {
	*httptest.ResponseRecorder
}

func (r testResponse) decode(t *testing.T, target any) {
	t.Helper()
	if err := json.Unmarshal(r.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to decode response %q: %v", r.Body.String(), err)
	}
}

func (r testResponse) envelope(t *testing.T) errorEnvelopeView {
	t.Helper()
	var envelope errorEnvelopeView
	r.decode(t, &envelope)
	return envelope
}

type errorEnvelopeView struct {
	Error   string          `json:"error"`
	Code    string          `json:"code"`
	Details json.RawMessage `json:"details"`
}

func (e routerEnv) do(t *testing.T, method, path, token string, body any) testResponse {
	t.Helper()
	var reader io.Reader = http.NoBody
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	}
	request := httptest.NewRequest(method, path, reader)
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	recorder := httptest.NewRecorder()
	e.handler.ServeHTTP(recorder, request)
	return testResponse{recorder}
}

func (e routerEnv) upload(t *testing.T, path, token, field, fileName string, content []byte, fields map[string]string) testResponse {
	t.Helper()
	var buffer bytes.Buffer
	writer := multipart.NewWriter(&buffer)
	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			t.Fatalf("failed to write field: %v", err)
		}
	}
	part, err := writer.CreateFormFile(field, fileName)
	if err != nil {
		t.Fatalf("failed to create form file: %v", err)
	}
	if _, err := part.Write(content); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("failed to close multipart writer: %v", err)
	}
	request := httptest.NewRequest(http.MethodPost, path, &buffer)
	request.Header.Set("Content-Type", writer.FormDataContentType())
	request.Header.Set("Authorization", "Bearer "+token)
	recorder := httptest.NewRecorder()
	e.handler.ServeHTTP(recorder, request)
	return testResponse{recorder}
}

// seedProperty stores a property managed by managerID.
func (e routerEnv) seedProperty(t *testing.T, id, managerID string) {
	t.Helper()
	property := properties.Property{
		ID:           id,
		Name:         "Seeded " + id,
		Address:      "1 Test Street",
		City:         "Bristol",
		PropertyType: properties.TypeResidential,
		Status:       properties.StatusActive,
		ManagerID:    managerID,
	}
	if err := e.db.Create(&property).Error; err != nil {
		t.Fatalf("failed to seed property: %v", err)
	}
}

func (e routerEnv) seedOwnership(t *testing.T, propertyID, ownerID string) {
	t.Helper()
	records := []any{
		&users.User{ID: ownerID, Role: users.RoleOwner},
		&properties.PropertyOwner{PropertyID: propertyID, OwnerID: ownerID, OwnershipPercentage: 50, StartDate: time.Now().Add(-time.Hour)},
	}
	for _, record := range records {
		if err := e.db.Create(record).Error; err != nil {
			t.Fatalf("failed to seed %T: %v", record, err)
		}
	}
}
