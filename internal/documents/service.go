// Package documents stores property documents and enforces their visibility.
package documents

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/propertyhub/backend/internal/apierr"
	"github.com/MarcoPoloResearchLab/propertyhub/backend/internal/properties"
	"github.com/MarcoPoloResearchLab/propertyhub/backend/internal/storage"
	"github.com/MarcoPoloResearchLab/propertyhub/backend/internal/users"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	errMissingProperties = errors.New("property authorizer is required")
	errMissingStorage    = errors.New("storage backend is required")
)

type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew = "documents.service.new"
	opList       = "documents.list"
	opUpload     = "documents.upload"
	opDelete     = "documents.delete"

	maxFileNameLength = 255
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// PropertyAuthorizer runs the property access guard.
type PropertyAuthorizer interface {
	Authorize(ctx context.Context, user users.User, propertyID string, opts properties.AccessOptions) (*properties.Property, error)
}

type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider properties.IDProvider
	Logger     *zap.Logger
	Properties PropertyAuthorizer
	Storage    storage.Storage
	Cleaner    *storage.Cleaner
}

type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider properties.IDProvider
	logger     *zap.Logger
	properties PropertyAuthorizer
	storage    storage.Storage
	cleaner    *storage.Cleaner
}

func NewService(cfg ServiceConfig) (*Service, error) {
	switch {
	case cfg.Database == nil:
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	case cfg.IDProvider == nil:
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	case cfg.Properties == nil:
		return nil, newServiceError(opServiceNew, "missing_properties", errMissingProperties)
	case cfg.Storage == nil:
		return nil, newServiceError(opServiceNew, "missing_storage", errMissingStorage)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	cleaner := cfg.Cleaner
	if cleaner == nil {
		cleaner = storage.NewCleaner(cfg.Storage, logger, 0)
	}
	return &Service{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
		properties: cfg.Properties,
		storage:    cfg.Storage,
		cleaner:    cleaner,
	}, nil
}

// WaitForCleanup blocks until background file deletions finished.
func (s *Service) WaitForCleanup() {
	s.cleaner.Wait()
}

// visibleLevels returns the access levels a reader may see; nil means all.
func visibleLevels(user users.User) []properties.AccessLevel {
	if user.Is(users.RolePropertyManager) {
		return nil
	}
	return []properties.AccessLevel{properties.AccessPublic, properties.AccessOwner}
}

// List returns the documents of a readable property that the user may see,
// newest first.
func (s *Service) List(ctx context.Context, user users.User, propertyID string) ([]properties.PropertyDocument, error) {
	property, err := s.properties.Authorize(ctx, user, propertyID, properties.AccessOptions{})
	if err != nil {
		return nil, err
	}
	query := s.db.WithContext(ctx).Where("property_id = ?", property.ID)
	if levels := visibleLevels(user); levels != nil {
		query = query.Where("access_level IN ?", levels)
	}
	documents := []properties.PropertyDocument{}
	if err := query.Order("created_at DESC, id DESC").Find(&documents).Error; err != nil {
		s.logError(opList, "query_failed", err, zap.String("property_id", property.ID))
		return nil, apierr.Internal(newServiceError(opList, "query_failed", err))
	}
	return documents, nil
}

// UploadInput is a validated file plus its metadata.
type UploadInput struct {
	FileName    string
	ContentType string
	Size        int64
	Body        io.Reader
	Category    string
	AccessLevel string
	UnitID      *string
	Description *string
}

// Upload stores the file and records the document. The stored file is
// removed again when recording fails.
func (s *Service) Upload(ctx context.Context, user users.User, propertyID string, input UploadInput) (properties.PropertyDocument, error) {
	property, err := s.properties.Authorize(ctx, user, propertyID, properties.AccessOptions{RequireWrite: true})
	if err != nil {
		return properties.PropertyDocument{}, err
	}

	var fieldErrors []apierr.FieldError
	fileName := filepath.Base(strings.TrimSpace(input.FileName))
	if fileName == "" || fileName == "." || fileName == string(filepath.Separator) {
		fieldErrors = append(fieldErrors, apierr.FieldError{Field: "file", Message: "is required"})
	}
	if len([]rune(fileName)) > maxFileNameLength {
		fieldErrors = append(fieldErrors, apierr.FieldError{Field: "file", Message: fmt.Sprintf("name must be at most %d characters", maxFileNameLength)})
	}
	category := properties.CategoryOther
	if strings.TrimSpace(input.Category) != "" {
		parsed, ok := properties.ParseDocumentCategory(input.Category)
		if !ok {
			fieldErrors = append(fieldErrors, apierr.FieldError{Field: "category", Message: "must be one of LEASE, INSURANCE, INSPECTION, MAINTENANCE, FINANCIAL, LEGAL, PHOTO, OTHER"})
		}
		category = parsed
	}
	accessLevel := properties.AccessPropertyManager
	if strings.TrimSpace(input.AccessLevel) != "" {
		parsed, ok := properties.ParseAccessLevel(input.AccessLevel)
		if !ok {
			fieldErrors = append(fieldErrors, apierr.FieldError{Field: "accessLevel", Message: "must be one of PUBLIC, TENANT, OWNER, PROPERTY_MANAGER"})
		}
		accessLevel = parsed
	}
	unitID := trimmedOrNil(input.UnitID)
	if unitID != nil {
		var count int64
		if err := s.db.WithContext(ctx).Model(&properties.Unit{}).
			Where("id = ? AND property_id = ?", *unitID, property.ID).
			Count(&count).Error; err != nil {
			s.logError(opUpload, "unit_lookup_failed", err, zap.String("property_id", property.ID))
			return properties.PropertyDocument{}, apierr.Internal(newServiceError(opUpload, "unit_lookup_failed", err))
		}
		if count == 0 {
			fieldErrors = append(fieldErrors, apierr.FieldError{Field: "unitId", Message: "must reference a unit of this property"})
		}
	}
	if len(fieldErrors) > 0 {
		return properties.PropertyDocument{}, apierr.Validation("Invalid document payload", fieldErrors...)
	}

	documentID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opUpload, "id_generation_failed", err)
		return properties.PropertyDocument{}, apierr.Internal(newServiceError(opUpload, "id_generation_failed", err))
	}
	key := storage.NewObjectKey(properties.FileFolder(property.ID, "documents"), fileName)
	fileURL, err := s.storage.Save(ctx, key, input.Body, input.ContentType)
	if err != nil {
		s.logError(opUpload, "store_failed", err, zap.String("property_id", property.ID))
		return properties.PropertyDocument{}, apierr.Internal(newServiceError(opUpload, "store_failed", err))
	}

	now := s.clock().UTC()
	document := properties.PropertyDocument{
		ID:          documentID,
		PropertyID:  property.ID,
		UnitID:      unitID,
		FileName:    fileName,
		FileURL:     fileURL,
		MimeType:    input.ContentType,
		FileSize:    input.Size,
		Category:    category,
		AccessLevel: accessLevel,
		Description: trimmedOrNil(input.Description),
		UploaderID:  user.ID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.db.WithContext(ctx).Create(&document).Error; err != nil {
		s.cleaner.Schedule(fileURL)
		s.logError(opUpload, "insert_failed", err, zap.String("property_id", property.ID))
		return properties.PropertyDocument{}, apierr.Internal(newServiceError(opUpload, "insert_failed", err))
	}
	return document, nil
}

// Delete removes the document record and, in the background, its file.
func (s *Service) Delete(ctx context.Context, user users.User, propertyID, documentID string) error {
	property, err := s.properties.Authorize(ctx, user, propertyID, properties.AccessOptions{RequireWrite: true})
	if err != nil {
		return err
	}
	var document properties.PropertyDocument
	err = s.db.WithContext(ctx).
		Where("id = ? AND property_id = ?", strings.TrimSpace(documentID), property.ID).
		Take(&document).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apierr.NotFound(apierr.CodeDocumentNotFound, "Document not found")
	}
	if err != nil {
		s.logError(opDelete, "select_failed", err, zap.String("document_id", documentID))
		return apierr.Internal(newServiceError(opDelete, "select_failed", err))
	}
	if err := s.db.WithContext(ctx).Delete(&properties.PropertyDocument{}, "id = ?", document.ID).Error; err != nil {
		s.logError(opDelete, "delete_failed", err, zap.String("document_id", document.ID))
		return apierr.Internal(newServiceError(opDelete, "delete_failed", err))
	}
	releasable, err := properties.ReleasableFiles(s.db.WithContext(ctx), property.ID, true, document.FileURL)
	if err != nil {
		s.logError(opDelete, "reference_check_failed", err, zap.String("document_id", document.ID))
		return nil
	}
	s.cleaner.Schedule(releasable...)
	return nil
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("documents service error", attrs...)
}

func trimmedOrNil(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
