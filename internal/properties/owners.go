package properties

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/propertyhub/backend/internal/apierr"
	"github.com/MarcoPoloResearchLab/propertyhub/backend/internal/users"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	opListOwners  = "properties.owners.list"
	opAddOwner    = "properties.owners.add"
	opRemoveOwner = "properties.owners.remove"

	maxOwnershipPercentage = 100.0
)

// ListOwners returns every ownership record of a readable property.
func (s *Service) ListOwners(ctx context.Context, user users.User, propertyID string) ([]PropertyOwner, error) {
	property, err := s.Authorize(ctx, user, propertyID, AccessOptions{})
	if err != nil {
		return nil, err
	}
	owners := []PropertyOwner{}
	if err := s.db.WithContext(ctx).Where("property_id = ?", property.ID).Order("start_date ASC, owner_id ASC").Find(&owners).Error; err != nil {
		return nil, s.fail(opListOwners, "query_failed", err, zap.String("property_id", property.ID))
	}
	return owners, nil
}

// AddOwnerInput assigns an OWNER user to a property.
type AddOwnerInput struct {
	OwnerID             string
	OwnershipPercentage float64
	StartDate           *time.Time
	EndDate             *time.Time
}

// AddOwner creates or replaces an ownership. Active ownerships of a property
// never sum to more than 100 percent.
func (s *Service) AddOwner(ctx context.Context, user users.User, propertyID string, input AddOwnerInput) (PropertyOwner, error) {
	property, err := s.Authorize(ctx, user, propertyID, AccessOptions{RequireWrite: true})
	if err != nil {
		return PropertyOwner{}, err
	}

	ownerID := strings.TrimSpace(input.OwnerID)
	var fieldErrors []apierr.FieldError
	fieldErrors = appendRequired(fieldErrors, "ownerId", ownerID)
	if input.OwnershipPercentage <= 0 || input.OwnershipPercentage > maxOwnershipPercentage {
		fieldErrors = append(fieldErrors, apierr.FieldError{Field: "ownershipPercentage", Message: "must be greater than 0 and at most 100"})
	}
	now := s.clock().UTC()
	startDate := now
	if input.StartDate != nil {
		startDate = input.StartDate.UTC()
	}
	if input.EndDate != nil && !input.EndDate.After(startDate) {
		fieldErrors = append(fieldErrors, apierr.FieldError{Field: "endDate", Message: "must be after startDate"})
	}
	if len(fieldErrors) > 0 {
		return PropertyOwner{}, apierr.Validation("Invalid owner payload", fieldErrors...)
	}

	if s.users == nil {
		return PropertyOwner{}, s.fail(opAddOwner, "missing_user_directory", errors.New("user directory is not configured"))
	}
	target, err := s.users.Get(ctx, ownerID)
	if errors.Is(err, users.ErrUserNotFound) {
		return PropertyOwner{}, apierr.NotFound(apierr.CodeOwnerNotFound, "Owner not found")
	}
	if err != nil {
		return PropertyOwner{}, s.fail(opAddOwner, "user_lookup_failed", err, zap.String("owner_id", ownerID))
	}
	if !target.Is(users.RoleOwner) {
		return PropertyOwner{}, apierr.Validation("Invalid owner payload", apierr.FieldError{Field: "ownerId", Message: "user must have the OWNER role"})
	}

	record := PropertyOwner{
		PropertyID:          property.ID,
		OwnerID:             target.ID,
		OwnershipPercentage: input.OwnershipPercentage,
		StartDate:           startDate,
		EndDate:             input.EndDate,
		CreatedAt:           now,
	}
	err = s.tx.run(ctx, txStandard, func(tx *gorm.DB) error {
		var current []PropertyOwner
		if err := tx.Where("property_id = ? AND owner_id <> ?", property.ID, target.ID).Find(&current).Error; err != nil {
			return err
		}
		total := record.OwnershipPercentage
		for _, owner := range current {
			if owner.ActiveAt(now) {
				total += owner.OwnershipPercentage
			}
		}
		if total > maxOwnershipPercentage {
			return apierr.Validation("Invalid owner payload", apierr.FieldError{
				Field:   "ownershipPercentage",
				Message: fmt.Sprintf("total active ownership would be %.2f%%", total),
			})
		}
		if err := tx.Where("property_id = ? AND owner_id = ?", property.ID, target.ID).Delete(&PropertyOwner{}).Error; err != nil {
			return err
		}
		return tx.Create(&record).Error
	})
	if err != nil {
		return PropertyOwner{}, s.fail(opAddOwner, "transaction_failed", err,
			zap.String("property_id", property.ID), zap.String("owner_id", target.ID))
	}
	return record, nil
}

// RemoveOwner deletes an ownership record.
func (s *Service) RemoveOwner(ctx context.Context, user users.User, propertyID, ownerID string) error {
	property, err := s.Authorize(ctx, user, propertyID, AccessOptions{RequireWrite: true})
	if err != nil {
		return err
	}
	result := s.db.WithContext(ctx).
		Where("property_id = ? AND owner_id = ?", property.ID, strings.TrimSpace(ownerID)).
		Delete(&PropertyOwner{})
	if result.Error != nil {
		return s.fail(opRemoveOwner, "delete_failed", result.Error,
			zap.String("property_id", property.ID), zap.String("owner_id", ownerID))
	}
	if result.RowsAffected == 0 {
		return apierr.NotFound(apierr.CodeOwnerNotFound, "Owner not found")
	}
	return nil
}
