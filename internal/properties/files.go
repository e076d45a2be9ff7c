package properties

import (
	"fmt"
	"strings"

	"gorm.io/gorm"
)

// FileFolder is the object-key folder holding one property's stored files of
// the given kind, e.g. "properties/<id>/images".
func FileFolder(propertyID, kind string) string {
	return fmt.Sprintf("properties/%s/%s", propertyID, kind)
}

func storedUnder(fileURL, propertyID string) bool {
	return propertyID != "" && strings.Contains(fileURL, "/properties/"+propertyID+"/")
}

// ReleasableFiles narrows fileURLs to the files stored for propertyID that no
// property, image or document row still references. It must run after the
// rows being removed are gone. withImages is false while the image table is
// unavailable.
func ReleasableFiles(db *gorm.DB, propertyID string, withImages bool, fileURLs ...string) ([]string, error) {
	var releasable []string
	for _, fileURL := range uniqueStrings(fileURLs) {
		if !storedUnder(fileURL, propertyID) {
			continue
		}
		referenced, err := fileReferenced(db, fileURL, withImages)
		if err != nil {
			return nil, err
		}
		if !referenced {
			releasable = append(releasable, fileURL)
		}
	}
	return releasable, nil
}

func fileReferenced(db *gorm.DB, fileURL string, withImages bool) (bool, error) {
	checks := []struct {
		model  any
		column string
	}{
		{&Property{}, "image_url"},
		{&PropertyDocument{}, "file_url"},
	}
	if withImages {
		checks = append(checks, struct {
			model  any
			column string
		}{&PropertyImage{}, "image_url"})
	}
	for _, check := range checks {
		var count int64
		if err := db.Model(check.model).Where(check.column+" = ?", fileURL).Count(&count).Error; err != nil {
			return false, err
		}
		if count > 0 {
			return true, nil
		}
	}
	return false, nil
}
