package properties

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/propertyhub/backend/internal/apierr"
	"github.com/MarcoPoloResearchLab/propertyhub/backend/internal/storage"
	"github.com/MarcoPoloResearchLab/propertyhub/backend/internal/users"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	opListImages   = "properties.images.list"
	opAddImage     = "properties.images.add"
	opUploadImage  = "properties.images.upload"
	opUpdateImage  = "properties.images.update"
	opDeleteImage  = "properties.images.delete"
	opReorderImage = "properties.images.reorder"

	// LegacyImageID identifies the image synthesized from the cover column
	// while the image store is unavailable.
	LegacyImageID = "legacy"
)

// ImageMutation is the result of an image write.
type ImageMutation struct {
	Image         PropertyImage `json:"image"`
	CoverImageURL *string       `json:"coverImageUrl"`
}

// ReorderResult is the result of ReorderImages.
type ReorderResult struct {
	Images        []PropertyImage `json:"images"`
	CoverImageURL *string         `json:"coverImageUrl"`
}

// ListImages returns the ordered images of a readable property.
func (s *Service) ListImages(ctx context.Context, user users.User, propertyID string) ([]PropertyImage, error) {
	property, err := s.Authorize(ctx, user, propertyID, AccessOptions{})
	if err != nil {
		return nil, err
	}
	images, err := withImageSupport(ctx, s.probe, func(available bool) ([]PropertyImage, error) {
		if !available {
			return s.legacyImages(*property), nil
		}
		stored, err := s.loadImages(s.db.WithContext(ctx), property.ID)
		if err != nil {
			return nil, err
		}
		return s.presentImages(stored), nil
	})
	if err != nil {
		return nil, s.fail(opListImages, "query_failed", err, zap.String("property_id", property.ID))
	}
	return images, nil
}

// AddImageInput describes a single image to attach.
type AddImageInput struct {
	ImageURL  string
	Caption   *string
	IsPrimary *bool
}

// AddImage attaches an image at the end of the order. It becomes primary when
// requested or when the property has no primary image yet.
func (s *Service) AddImage(ctx context.Context, user users.User, propertyID string, input AddImageInput) (ImageMutation, error) {
	property, err := s.Authorize(ctx, user, propertyID, AccessOptions{RequireWrite: true})
	if err != nil {
		return ImageMutation{}, err
	}
	return s.addImage(ctx, user, property, input)
}

func (s *Service) addImage(ctx context.Context, user users.User, property *Property, input AddImageInput) (ImageMutation, error) {
	location := strings.TrimSpace(input.ImageURL)
	if location == "" {
		return ImageMutation{}, apierr.Validation("Invalid image payload", apierr.FieldError{Field: "imageUrl", Message: "is required"})
	}
	if !s.locations.IsValid(location) {
		return ImageMutation{}, apierr.Validation("Invalid image payload", apierr.FieldError{Field: "imageUrl", Message: "must be an http(s) URL, an image data URL or an uploaded file path"})
	}
	if s.locations.BelongsToOtherProperty(location, property.ID) {
		return ImageMutation{}, apierr.Validation("Invalid image payload", apierr.FieldError{Field: "imageUrl", Message: foreignUploadMessage})
	}
	imageID, err := s.idProvider.NewID()
	if err != nil {
		return ImageMutation{}, s.fail(opAddImage, "id_generation_failed", err)
	}
	caption := trimCaption(input.Caption)

	result, err := withImageSupport(ctx, s.probe, func(available bool) (ImageMutation, error) {
		var mutation ImageMutation
		now := s.clock().UTC()
		if !available {
			// the legacy column holds a single image; only an explicit or first
			// image may take it over
			if property.ImageURL != nil && (input.IsPrimary == nil || !*input.IsPrimary) {
				return mutation, imageStoreUnavailable()
			}
			err := s.tx.run(ctx, txStandard, func(tx *gorm.DB) error {
				return tx.Model(&Property{}).Where("id = ?", property.ID).
					Updates(map[string]any{"image_url": location, "updated_at": now}).Error
			})
			if err != nil {
				return mutation, err
			}
			cover := location
			mutation.CoverImageURL = &cover
			mutation.Image = PropertyImage{
				ID:           LegacyImageID,
				PropertyID:   property.ID,
				ImageURL:     location,
				Caption:      caption,
				IsPrimary:    true,
				UploadedByID: user.ID,
				CreatedAt:    now,
				UpdatedAt:    now,
			}
			return mutation, nil
		}

		err := s.tx.run(ctx, txStandard, func(tx *gorm.DB) error {
			existing, err := s.loadImages(tx, property.ID)
			if err != nil {
				return err
			}
			primary := determineNewImagePrimaryFlag(input.IsPrimary, existing)
			if primary {
				if err := demoteAll(tx, property.ID); err != nil {
					return err
				}
			}
			image := PropertyImage{
				ID:           imageID,
				PropertyID:   property.ID,
				ImageURL:     location,
				Caption:      caption,
				IsPrimary:    primary,
				DisplayOrder: len(existing),
				UploadedByID: user.ID,
				CreatedAt:    now,
				UpdatedAt:    now,
			}
			if err := tx.Create(&image).Error; err != nil {
				return err
			}
			cover, err := syncCoverImage(tx, property.ID)
			if err != nil {
				return err
			}
			if err := tx.Where("id = ?", image.ID).Take(&image).Error; err != nil {
				return err
			}
			mutation = ImageMutation{Image: image, CoverImageURL: cover}
			return nil
		})
		return mutation, err
	})
	if err != nil {
		return ImageMutation{}, s.fail(opAddImage, "transaction_failed", err, zap.String("property_id", property.ID))
	}
	return result, nil
}

// Upload is a validated file to store.
type Upload struct {
	FileName    string
	ContentType string
	Body        io.Reader
}

// UploadImage stores the file and attaches it as an image. The stored file
// is removed again when attaching fails.
func (s *Service) UploadImage(ctx context.Context, user users.User, propertyID string, upload Upload, caption *string, isPrimary *bool) (ImageMutation, error) {
	property, err := s.Authorize(ctx, user, propertyID, AccessOptions{RequireWrite: true})
	if err != nil {
		return ImageMutation{}, err
	}
	if s.storage == nil {
		return ImageMutation{}, s.fail(opUploadImage, "missing_storage", errors.New("storage backend is not configured"))
	}
	key := storage.NewObjectKey(FileFolder(property.ID, "images"), upload.FileName)
	fileURL, err := s.storage.Save(ctx, key, upload.Body, upload.ContentType)
	if err != nil {
		return ImageMutation{}, s.fail(opUploadImage, "store_failed", err, zap.String("property_id", property.ID))
	}
	result, err := s.addImage(ctx, user, property, AddImageInput{ImageURL: fileURL, Caption: caption, IsPrimary: isPrimary})
	if err != nil {
		s.cleaner.Schedule(fileURL)
		return ImageMutation{}, err
	}
	return result, nil
}

// UpdateImageInput is a partial image update.
type UpdateImageInput struct {
	CaptionSet bool
	Caption    *string
	IsPrimary  *bool
}

// UpdateImage changes the caption or primary flag of an image. Clearing the
// primary flag promotes the next image in order; a sole image stays primary.
func (s *Service) UpdateImage(ctx context.Context, user users.User, propertyID, imageID string, input UpdateImageInput) (ImageMutation, error) {
	property, err := s.Authorize(ctx, user, propertyID, AccessOptions{RequireWrite: true})
	if err != nil {
		return ImageMutation{}, err
	}

	result, err := withImageSupport(ctx, s.probe, func(available bool) (ImageMutation, error) {
		var mutation ImageMutation
		if !available {
			return mutation, imageStoreUnavailable()
		}
		err := s.tx.run(ctx, txStandard, func(tx *gorm.DB) error {
			images, err := s.loadImages(tx, property.ID)
			if err != nil {
				return err
			}
			target := findImage(images, imageID)
			if target == nil {
				return apierr.NotFound(apierr.CodeImageNotFound, "Image not found")
			}
			updates := map[string]any{"updated_at": s.clock().UTC()}
			if input.CaptionSet {
				updates["caption"] = trimCaption(input.Caption)
			}
			if input.IsPrimary != nil {
				switch {
				case *input.IsPrimary && !target.IsPrimary:
					if err := demoteAll(tx, property.ID); err != nil {
						return err
					}
					updates["is_primary"] = true
				case !*input.IsPrimary && target.IsPrimary:
					if successor := nextPrimaryCandidate(images, target.ID); successor != nil {
						updates["is_primary"] = false
						if err := tx.Model(&PropertyImage{}).Where("id = ?", successor.ID).Update("is_primary", true).Error; err != nil {
							return err
						}
					}
				}
			}
			if err := tx.Model(&PropertyImage{}).Where("id = ?", target.ID).Updates(updates).Error; err != nil {
				return err
			}
			cover, err := syncCoverImage(tx, property.ID)
			if err != nil {
				return err
			}
			var updated PropertyImage
			if err := tx.Where("id = ?", target.ID).Take(&updated).Error; err != nil {
				return err
			}
			mutation = ImageMutation{Image: updated, CoverImageURL: cover}
			return nil
		})
		return mutation, err
	})
	if err != nil {
		return ImageMutation{}, s.fail(opUpdateImage, "transaction_failed", err,
			zap.String("property_id", property.ID), zap.String("image_id", imageID))
	}
	return result, nil
}

// DeleteImage removes an image, closes the gap in the display order and
// resynchronizes the cover. Managed files are deleted in the background.
func (s *Service) DeleteImage(ctx context.Context, user users.User, propertyID, imageID string) (*string, error) {
	property, err := s.Authorize(ctx, user, propertyID, AccessOptions{RequireWrite: true})
	if err != nil {
		return nil, err
	}

	var removedURLs []string
	cover, err := withImageSupport(ctx, s.probe, func(available bool) (*string, error) {
		removedURLs = nil
		if !available {
			if imageID != LegacyImageID || property.ImageURL == nil {
				return nil, apierr.NotFound(apierr.CodeImageNotFound, "Image not found")
			}
			err := s.tx.run(ctx, txStandard, func(tx *gorm.DB) error {
				err := tx.Model(&Property{}).Where("id = ?", property.ID).
					Updates(map[string]any{"image_url": nil, "updated_at": s.clock().UTC()}).Error
				if err != nil {
					return err
				}
				removedURLs, err = ReleasableFiles(tx, property.ID, false, *property.ImageURL)
				return err
			})
			return nil, err
		}

		var cover *string
		err := s.tx.run(ctx, txStandard, func(tx *gorm.DB) error {
			images, err := s.loadImages(tx, property.ID)
			if err != nil {
				return err
			}
			target := findImage(images, imageID)
			if target == nil {
				return apierr.NotFound(apierr.CodeImageNotFound, "Image not found")
			}
			if err := tx.Delete(&PropertyImage{}, "id = ?", target.ID).Error; err != nil {
				return err
			}
			remaining := make([]PropertyImage, 0, len(images)-1)
			for _, image := range images {
				if image.ID != target.ID {
					remaining = append(remaining, image)
				}
			}
			if err := densifyOrder(tx, remaining); err != nil {
				return err
			}
			cover, err = syncCoverImage(tx, property.ID)
			if err != nil {
				return err
			}
			removedURLs, err = ReleasableFiles(tx, property.ID, true, target.ImageURL)
			return err
		})
		return cover, err
	})
	if err != nil {
		return nil, s.fail(opDeleteImage, "transaction_failed", err,
			zap.String("property_id", property.ID), zap.String("image_id", imageID))
	}
	s.cleaner.Schedule(removedURLs...)
	return cover, nil
}

// ReorderImages moves the listed images to the front in the given order;
// unlisted images keep their relative order after them.
func (s *Service) ReorderImages(ctx context.Context, user users.User, propertyID string, imageIDs []string) (ReorderResult, error) {
	property, err := s.Authorize(ctx, user, propertyID, AccessOptions{RequireWrite: true})
	if err != nil {
		return ReorderResult{}, err
	}
	requested := make([]string, 0, len(imageIDs))
	seen := make(map[string]struct{}, len(imageIDs))
	for _, raw := range imageIDs {
		id := strings.TrimSpace(raw)
		if id == "" {
			return ReorderResult{}, apierr.Validation("Invalid reorder payload", apierr.FieldError{Field: "imageIds", Message: "must not contain empty identifiers"})
		}
		if _, duplicate := seen[id]; duplicate {
			return ReorderResult{}, apierr.Validation("Invalid reorder payload", apierr.FieldError{Field: "imageIds", Message: fmt.Sprintf("contains duplicate identifier %s", id)})
		}
		seen[id] = struct{}{}
		requested = append(requested, id)
	}
	if len(requested) == 0 {
		return ReorderResult{}, apierr.Validation("Invalid reorder payload", apierr.FieldError{Field: "imageIds", Message: "must contain at least one identifier"})
	}

	result, err := withImageSupport(ctx, s.probe, func(available bool) (ReorderResult, error) {
		var reordered ReorderResult
		if !available {
			return reordered, imageStoreUnavailable()
		}
		err := s.tx.run(ctx, txBulk, func(tx *gorm.DB) error {
			images, err := s.loadImages(tx, property.ID)
			if err != nil {
				return err
			}
			ordered, unknown := reorderImages(images, requested)
			if len(unknown) > 0 {
				return apierr.Validation("Invalid reorder payload", apierr.FieldError{
					Field:   "imageIds",
					Message: "unknown image identifiers: " + strings.Join(unknown, ", "),
				})
			}
			if err := densifyOrder(tx, ordered); err != nil {
				return err
			}
			cover, err := syncCoverImage(tx, property.ID)
			if err != nil {
				return err
			}
			stored, err := s.loadImages(tx, property.ID)
			if err != nil {
				return err
			}
			reordered = ReorderResult{Images: stored, CoverImageURL: cover}
			return nil
		})
		return reordered, err
	})
	if err != nil {
		return ReorderResult{}, s.fail(opReorderImage, "transaction_failed", err, zap.String("property_id", property.ID))
	}
	return result, nil
}

// reorderImages returns the listed images first, in request order, followed
// by the rest in their current order, plus any requested ids not found.
func reorderImages(images []PropertyImage, requested []string) ([]PropertyImage, []string) {
	byID := make(map[string]PropertyImage, len(images))
	for _, image := range images {
		byID[image.ID] = image
	}
	ordered := make([]PropertyImage, 0, len(images))
	listed := make(map[string]struct{}, len(requested))
	var unknown []string
	for _, id := range requested {
		image, ok := byID[id]
		if !ok {
			unknown = append(unknown, id)
			continue
		}
		listed[id] = struct{}{}
		ordered = append(ordered, image)
	}
	for _, image := range images {
		if _, ok := listed[image.ID]; !ok {
			ordered = append(ordered, image)
		}
	}
	return ordered, unknown
}

func (s *Service) loadImages(db *gorm.DB, propertyID string) ([]PropertyImage, error) {
	var images []PropertyImage
	err := db.Where("property_id = ?", propertyID).
		Order("display_order ASC, created_at ASC, id ASC").
		Find(&images).Error
	return images, err
}

func (s *Service) insertImages(tx *gorm.DB, propertyID, uploaderID string, images []OrderedImage, startOrder int, now time.Time) error {
	for index, image := range images {
		imageID, err := s.idProvider.NewID()
		if err != nil {
			return err
		}
		record := PropertyImage{
			ID:           imageID,
			PropertyID:   propertyID,
			ImageURL:     image.ImageURL,
			Caption:      image.Caption,
			IsPrimary:    image.IsPrimary,
			DisplayOrder: startOrder + index,
			UploadedByID: uploaderID,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := tx.Create(&record).Error; err != nil {
			return err
		}
	}
	return nil
}

// replaceImages makes the stored set equal desired. Records are matched by
// URL; unmatched records are deleted and their files returned when they can
// be released.
func (s *Service) replaceImages(tx *gorm.DB, propertyID, uploaderID string, desired []OrderedImage, now time.Time) ([]string, error) {
	existing, err := s.loadImages(tx, propertyID)
	if err != nil {
		return nil, err
	}
	available := make(map[string][]int, len(existing))
	for index, image := range existing {
		available[image.ImageURL] = append(available[image.ImageURL], index)
	}
	kept := make([]bool, len(existing))
	desiredURLs := make(map[string]struct{}, len(desired))

	for order, image := range desired {
		desiredURLs[image.ImageURL] = struct{}{}
		if queue := available[image.ImageURL]; len(queue) > 0 {
			index := queue[0]
			available[image.ImageURL] = queue[1:]
			kept[index] = true
			updates := map[string]any{
				"display_order": order,
				"is_primary":    image.IsPrimary,
				"updated_at":    now,
			}
			if image.CaptionProvided {
				updates["caption"] = image.Caption
			}
			if err := tx.Model(&PropertyImage{}).Where("id = ?", existing[index].ID).Updates(updates).Error; err != nil {
				return nil, err
			}
			continue
		}
		if err := s.insertImages(tx, propertyID, uploaderID, []OrderedImage{image}, order, now); err != nil {
			return nil, err
		}
	}

	var removed []string
	for index, image := range existing {
		if kept[index] {
			continue
		}
		if err := tx.Delete(&PropertyImage{}, "id = ?", image.ID).Error; err != nil {
			return nil, err
		}
		if _, stillUsed := desiredURLs[image.ImageURL]; !stillUsed {
			removed = append(removed, image.ImageURL)
		}
	}
	return ReleasableFiles(tx, propertyID, true, removed...)
}

// promoteOrAppend makes the image with location primary, appending a new
// record when none exists.
func (s *Service) promoteOrAppend(tx *gorm.DB, propertyID, uploaderID, location string, now time.Time) error {
	existing, err := s.loadImages(tx, propertyID)
	if err != nil {
		return err
	}
	if err := demoteAll(tx, propertyID); err != nil {
		return err
	}
	for _, image := range existing {
		if image.ImageURL == location {
			return tx.Model(&PropertyImage{}).Where("id = ?", image.ID).Update("is_primary", true).Error
		}
	}
	return s.insertImages(tx, propertyID, uploaderID, []OrderedImage{{ImageURL: location, IsPrimary: true}}, len(existing), now)
}

// legacyImages synthesizes the image list from the cover column.
func (s *Service) legacyImages(property Property) []PropertyImage {
	if property.ImageURL == nil || !s.locations.IsValid(*property.ImageURL) {
		return []PropertyImage{}
	}
	return []PropertyImage{{
		ID:         LegacyImageID,
		PropertyID: property.ID,
		ImageURL:   strings.TrimSpace(*property.ImageURL),
		IsPrimary:  true,
		CreatedAt:  property.CreatedAt,
		UpdatedAt:  property.UpdatedAt,
	}}
}

// presentImages drops stored records with unsafe locations and guarantees
// a single primary in the returned list.
func (s *Service) presentImages(stored []PropertyImage) []PropertyImage {
	images := make([]PropertyImage, 0, len(stored))
	primarySeen := false
	for _, image := range stored {
		if !s.locations.IsValid(image.ImageURL) {
			continue
		}
		if image.IsPrimary {
			if primarySeen {
				image.IsPrimary = false
			}
			primarySeen = true
		}
		images = append(images, image)
	}
	if !primarySeen && len(images) > 0 {
		images[0].IsPrimary = true
	}
	return images
}

func demoteAll(tx *gorm.DB, propertyID string) error {
	return tx.Model(&PropertyImage{}).
		Where("property_id = ? AND is_primary = ?", propertyID, true).
		Update("is_primary", false).Error
}

// densifyOrder rewrites display_order to 0..n-1 following the slice order.
func densifyOrder(tx *gorm.DB, ordered []PropertyImage) error {
	for index, image := range ordered {
		if image.DisplayOrder == index {
			continue
		}
		if err := tx.Model(&PropertyImage{}).Where("id = ?", image.ID).Update("display_order", index).Error; err != nil {
			return err
		}
	}
	return nil
}

func findImage(images []PropertyImage, imageID string) *PropertyImage {
	id := strings.TrimSpace(imageID)
	for index := range images {
		if images[index].ID == id {
			return &images[index]
		}
	}
	return nil
}

func nextPrimaryCandidate(images []PropertyImage, excludedID string) *PropertyImage {
	others := make([]PropertyImage, 0, len(images))
	for _, image := range images {
		if image.ID != excludedID {
			others = append(others, image)
		}
	}
	return selectCoverImage(others)
}
