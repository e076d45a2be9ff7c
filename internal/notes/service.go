package notes

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/propertyhub/backend/internal/apierr"
	"github.com/MarcoPoloResearchLab/propertyhub/backend/internal/properties"
	"github.com/MarcoPoloResearchLab/propertyhub/backend/internal/users"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	errMissingProperties = errors.New("property authorizer is required")
	noOpLogger           = zap.NewNop()
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
	opServiceNew = "notes.service.new"
	opListNotes  = "notes.list_notes"
	opCreateNote = "notes.create_note"
	opUpdateNote = "notes.update_note"
	opDeleteNote = "notes.delete_note"
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
}

// Service manages property notes. Anyone who can read a property may list
// and add notes; only the author may edit or delete one.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider properties.IDProvider
	logger     *zap.Logger
	properties PropertyAuthorizer
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}
	if cfg.Properties == nil {
		return nil, newServiceError(opServiceNew, "missing_properties", errMissingProperties)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
		properties: cfg.Properties,
	}, nil
}

// List returns the notes of a readable property, newest first.
func (s *Service) List(ctx context.Context, user users.User, propertyID string) ([]properties.PropertyNote, error) {
	property, err := s.properties.Authorize(ctx, user, propertyID, properties.AccessOptions{})
	if err != nil {
		return nil, err
	}
	notes := []properties.PropertyNote{}
	if err := s.db.WithContext(ctx).
		Where("property_id = ?", property.ID).
		Order("created_at DESC, id DESC").
		Find(&notes).Error; err != nil {
		s.logError(opListNotes, "query_failed", err, zap.String("property_id", property.ID))
		return nil, apierr.Internal(newServiceError(opListNotes, "query_failed", err))
	}
	return notes, nil
}

// Create adds a note authored by user.
func (s *Service) Create(ctx context.Context, user users.User, propertyID, rawContent string) (properties.PropertyNote, error) {
	property, err := s.properties.Authorize(ctx, user, propertyID, properties.AccessOptions{})
	if err != nil {
		return properties.PropertyNote{}, err
	}
	content, err := NewContent(rawContent)
	if err != nil {
		return properties.PropertyNote{}, contentValidationError()
	}
	noteID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opCreateNote, "id_generation_failed", err)
		return properties.PropertyNote{}, apierr.Internal(newServiceError(opCreateNote, "id_generation_failed", err))
	}

	now := s.clock().UTC()
	note := properties.PropertyNote{
		ID:         noteID,
		PropertyID: property.ID,
		AuthorID:   user.ID,
		Content:    content.String(),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.db.WithContext(ctx).Create(&note).Error; err != nil {
		s.logError(opCreateNote, "insert_failed", err, zap.String("property_id", property.ID))
		return properties.PropertyNote{}, apierr.Internal(newServiceError(opCreateNote, "insert_failed", err))
	}
	return note, nil
}

// Update replaces the content of a note written by user.
func (s *Service) Update(ctx context.Context, user users.User, propertyID, rawNoteID, rawContent string) (properties.PropertyNote, error) {
	note, err := s.authoredNote(ctx, user, propertyID, rawNoteID, opUpdateNote)
	if err != nil {
		return properties.PropertyNote{}, err
	}
	content, err := NewContent(rawContent)
	if err != nil {
		return properties.PropertyNote{}, contentValidationError()
	}

	now := s.clock().UTC()
	if err := s.db.WithContext(ctx).Model(&properties.PropertyNote{}).
		Where("id = ?", note.ID).
		Updates(map[string]any{"content": content.String(), "updated_at": now}).Error; err != nil {
		s.logError(opUpdateNote, "update_failed", err, zap.String("note_id", note.ID))
		return properties.PropertyNote{}, apierr.Internal(newServiceError(opUpdateNote, "update_failed", err))
	}
	note.Content = content.String()
	note.UpdatedAt = now
	return note, nil
}

// Delete removes a note written by user.
func (s *Service) Delete(ctx context.Context, user users.User, propertyID, rawNoteID string) error {
	note, err := s.authoredNote(ctx, user, propertyID, rawNoteID, opDeleteNote)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Delete(&properties.PropertyNote{}, "id = ?", note.ID).Error; err != nil {
		s.logError(opDeleteNote, "delete_failed", err, zap.String("note_id", note.ID))
		return apierr.Internal(newServiceError(opDeleteNote, "delete_failed", err))
	}
	return nil
}

// authoredNote checks read access to the property, then loads the note and
// requires user to be its author.
func (s *Service) authoredNote(ctx context.Context, user users.User, propertyID, rawNoteID, operation string) (properties.PropertyNote, error) {
	property, err := s.properties.Authorize(ctx, user, propertyID, properties.AccessOptions{})
	if err != nil {
		return properties.PropertyNote{}, err
	}
	noteID, err := NewNoteID(rawNoteID)
	if err != nil {
		return properties.PropertyNote{}, apierr.NotFound(apierr.CodeNoteNotFound, "Note not found")
	}

	var note properties.PropertyNote
	err = s.db.WithContext(ctx).
		Where("id = ? AND property_id = ?", noteID.String(), property.ID).
		Take(&note).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return properties.PropertyNote{}, apierr.NotFound(apierr.CodeNoteNotFound, "Note not found")
	}
	if err != nil {
		s.logError(operation, "note_select_failed", err, zap.String("note_id", noteID.String()))
		return properties.PropertyNote{}, apierr.Internal(newServiceError(operation, "note_select_failed", err))
	}
	if note.AuthorID != user.ID {
		return properties.PropertyNote{}, apierr.Forbidden(apierr.CodeNoteAccessDenied, "Only the author can modify this note")
	}
	return note, nil
}

func contentValidationError() error {
	return apierr.Validation("Invalid note payload", apierr.FieldError{
		Field:   "content",
		Message: fmt.Sprintf("must be between 1 and %d characters", maxContentLength),
	})
}

func (s *Service) loggerOrDefault() *zap.Logger {
	if s == nil {
		return noOpLogger
	}
	if s.logger == nil {
		return noOpLogger
	}
	return s.logger
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
	s.loggerOrDefault().Error("notes service error", attrs...)
}
