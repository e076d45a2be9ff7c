package properties

import (
	"sort"
	"strings"

	"gorm.io/gorm"
)

// selectCoverImage picks the image backing the cover: primary first, then
// lowest display order, oldest, smallest id. Blank URLs are ignored.
func selectCoverImage(images []PropertyImage) *PropertyImage {
	candidates := make([]PropertyImage, 0, len(images))
	for _, image := range images {
		if strings.TrimSpace(image.ImageURL) == "" {
			continue
		}
		candidates = append(candidates, image)
	}
	if len(candidates) == 0 {
		return nil
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		left, right := candidates[i], candidates[j]
		if left.IsPrimary != right.IsPrimary {
			return left.IsPrimary
		}
		if left.DisplayOrder != right.DisplayOrder {
			return left.DisplayOrder < right.DisplayOrder
		}
		if !left.CreatedAt.Equal(right.CreatedAt) {
			return left.CreatedAt.Before(right.CreatedAt)
		}
		return left.ID < right.ID
	})
	best := candidates[0]
	return &best
}

// syncCoverImage makes the selected cover image the only primary record and
// writes its URL (or NULL) to the property. It must run inside the
// transaction that mutated the images.
func syncCoverImage(tx *gorm.DB, propertyID string) (*string, error) {
	var images []PropertyImage
	if err := tx.Where("property_id = ?", propertyID).Find(&images).Error; err != nil {
		return nil, err
	}

	best := selectCoverImage(images)
	demote := tx.Model(&PropertyImage{}).Where("property_id = ? AND is_primary = ?", propertyID, true)
	if best != nil {
		demote = demote.Where("id <> ?", best.ID)
	}
	if err := demote.Update("is_primary", false).Error; err != nil {
		return nil, err
	}

	if best == nil {
		if err := tx.Model(&Property{}).Where("id = ?", propertyID).Update("image_url", nil).Error; err != nil {
			return nil, err
		}
		return nil, nil
	}

	if !best.IsPrimary {
		if err := tx.Model(&PropertyImage{}).Where("id = ?", best.ID).Update("is_primary", true).Error; err != nil {
			return nil, err
		}
	}
	coverURL := strings.TrimSpace(best.ImageURL)
	if err := tx.Model(&Property{}).Where("id = ?", propertyID).Update("image_url", coverURL).Error; err != nil {
		return nil, err
	}
	return &coverURL, nil
}

// determineNewImagePrimaryFlag decides whether a new image becomes primary:
// an explicit request wins, otherwise only when no primary exists yet.
func determineNewImagePrimaryFlag(requested *bool, existing []PropertyImage) bool {
	if requested != nil && *requested {
		return true
	}
	for _, image := range existing {
		if image.IsPrimary && strings.TrimSpace(image.ImageURL) != "" {
			return false
		}
	}
	return true
}
