package properties

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/propertyhub/backend/internal/apierr"
	"github.com/MarcoPoloResearchLab/propertyhub/backend/internal/storage"
	"github.com/MarcoPoloResearchLab/propertyhub/backend/internal/users"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	opServiceNew = "properties.service.new"
	opAuthorize  = "properties.authorize"
	opList       = "properties.list"
	opGet        = "properties.get"
	opCreate     = "properties.create"
	opUpdate     = "properties.update"
	opDelete     = "properties.delete"

	defaultListLimit = 50
	maxListLimit     = 100
	maxNameLength    = 255
)

var noOpLogger = zap.NewNop()

// UserDirectory resolves user records by identifier.
type UserDirectory interface {
	Get(ctx context.Context, userID string) (users.User, error)
}

// ServiceConfig describes the dependencies of the property service.
type ServiceConfig struct {
	Database     *gorm.DB
	Clock        func() time.Time
	IDProvider   IDProvider
	Logger       *zap.Logger
	Probe        *ImageStoreProbe
	Locations    LocationPolicy
	Transactions TxSettings
	Storage      storage.Storage
	Cleaner      *storage.Cleaner
	Users        UserDirectory
}

// Service implements property, image, owner and occupancy operations.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
	probe      *ImageStoreProbe
	locations  LocationPolicy
	normalizer ImageNormalizer
	tx         txRunner
	storage    storage.Storage
	cleaner    *storage.Cleaner
	users      UserDirectory
}

// NewService validates the configuration and constructs a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}
	if cfg.Probe == nil {
		return nil, newServiceError(opServiceNew, "missing_probe", errMissingProbe)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
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
		probe:      cfg.Probe,
		locations:  cfg.Locations,
		normalizer: ImageNormalizer{Policy: cfg.Locations, Logger: logger},
		tx:         txRunner{db: cfg.Database, settings: cfg.Transactions.withDefaults(), logger: logger},
		storage:    cfg.Storage,
		cleaner:    cleaner,
		users:      cfg.Users,
	}, nil
}

// WaitForCleanup blocks until background file deletions finished.
func (s *Service) WaitForCleanup() {
	s.cleaner.Wait()
}

// PropertyView is a property with its presented images and owners.
type PropertyView struct {
	Property
	Images []PropertyImage `json:"images"`
	Owners []PropertyOwner `json:"owners,omitempty"`
}

// Authorize loads the property and runs the access guard for user.
func (s *Service) Authorize(ctx context.Context, user users.User, propertyID string, opts AccessOptions) (*Property, error) {
	property, owners, err := s.loadForAccess(ctx, strings.TrimSpace(propertyID))
	if err != nil {
		return nil, s.fail(opAuthorize, "load_failed", err, zap.String("property_id", propertyID))
	}
	if opts.Now.IsZero() {
		opts.Now = s.clock()
	}
	if err := CheckAccess(property, owners, user, opts).Err(); err != nil {
		return nil, err
	}
	return property, nil
}

func (s *Service) loadForAccess(ctx context.Context, propertyID string) (*Property, []PropertyOwner, error) {
	if propertyID == "" {
		return nil, nil, nil
	}
	var property Property
	err := s.db.WithContext(ctx).Where("id = ?", propertyID).Take(&property).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	var owners []PropertyOwner
	if err := s.db.WithContext(ctx).Where("property_id = ?", propertyID).Find(&owners).Error; err != nil {
		return nil, nil, err
	}
	return &property, owners, nil
}

// ListQuery filters and paginates List.
type ListQuery struct {
	Limit           int
	Offset          int
	Search          string
	Status          string
	IncludeTotal    bool
	IncludeArchived bool
}

// ListResult is one page of properties.
type ListResult struct {
	Items   []PropertyView `json:"items"`
	Total   *int64         `json:"total,omitempty"`
	Page    int            `json:"page"`
	HasMore bool           `json:"hasMore"`
}

// List returns the properties visible to user: managed ones for managers,
// actively owned ones for owners, leased ones for tenants and ones with
// assigned jobs for technicians.
func (s *Service) List(ctx context.Context, user users.User, query ListQuery) (ListResult, error) {
	limit := query.Limit
	if limit == 0 {
		limit = defaultListLimit
	}
	var fieldErrors []apierr.FieldError
	if limit < 1 || limit > maxListLimit {
		fieldErrors = append(fieldErrors, apierr.FieldError{Field: "limit", Message: fmt.Sprintf("must be between 1 and %d", maxListLimit)})
	}
	if query.Offset < 0 {
		fieldErrors = append(fieldErrors, apierr.FieldError{Field: "offset", Message: "must not be negative"})
	}
	var status PropertyStatus
	if strings.TrimSpace(query.Status) != "" {
		parsed, ok := ParsePropertyStatus(query.Status)
		if !ok {
			fieldErrors = append(fieldErrors, apierr.FieldError{Field: "status", Message: "must be one of ACTIVE, INACTIVE, UNDER_MAINTENANCE"})
		}
		status = parsed
	}
	if len(fieldErrors) > 0 {
		return ListResult{}, apierr.Validation("Invalid query parameters", fieldErrors...)
	}

	result := ListResult{Items: []PropertyView{}, Page: query.Offset/limit + 1}
	scoped := func() *gorm.DB {
		db := s.scopedQuery(ctx, user)
		if db == nil {
			return nil
		}
		if !query.IncludeArchived {
			db = db.Where("archived_at IS NULL")
		}
		if status != "" {
			db = db.Where("status = ?", status)
		}
		if term := strings.ToLower(strings.TrimSpace(query.Search)); term != "" {
			pattern := "%" + term + "%"
			db = db.Where("(LOWER(name) LIKE ? OR LOWER(address) LIKE ? OR LOWER(city) LIKE ?)", pattern, pattern, pattern)
		}
		return db
	}

	base := scoped()
	if base == nil {
		if query.IncludeTotal {
			var zero int64
			result.Total = &zero
		}
		return result, nil
	}

	var rows []Property
	if err := base.Order("created_at DESC, id DESC").Limit(limit + 1).Offset(query.Offset).Find(&rows).Error; err != nil {
		return ListResult{}, s.fail(opList, "query_failed", err, zap.String("user_id", user.ID))
	}
	if len(rows) > limit {
		result.HasMore = true
		rows = rows[:limit]
	}
	if query.IncludeTotal {
		var total int64
		if err := scoped().Count(&total).Error; err != nil {
			return ListResult{}, s.fail(opList, "count_failed", err, zap.String("user_id", user.ID))
		}
		result.Total = &total
	}

	propertyIDs := make([]string, 0, len(rows))
	for _, row := range rows {
		propertyIDs = append(propertyIDs, row.ID)
	}
	imagesByProperty, err := withImageSupport(ctx, s.probe, func(available bool) (map[string][]PropertyImage, error) {
		if !available || len(propertyIDs) == 0 {
			return nil, nil
		}
		var images []PropertyImage
		if err := s.db.WithContext(ctx).Where("property_id IN ?", propertyIDs).
			Order("display_order ASC, created_at ASC, id ASC").Find(&images).Error; err != nil {
			return nil, err
		}
		grouped := make(map[string][]PropertyImage, len(propertyIDs))
		for _, image := range images {
			grouped[image.PropertyID] = append(grouped[image.PropertyID], image)
		}
		return grouped, nil
	})
	if err != nil {
		return ListResult{}, s.fail(opList, "images_failed", err, zap.String("user_id", user.ID))
	}

	for _, row := range rows {
		images := s.legacyImages(row)
		if imagesByProperty != nil {
			images = s.presentImages(imagesByProperty[row.ID])
		}
		result.Items = append(result.Items, PropertyView{Property: row, Images: images})
	}
	return result, nil
}

// scopedQuery limits the listing to the properties a user is involved with.
// Tenants and technicians see summaries of their properties here, while
// CheckAccess keeps detail reads to managers and owners.
func (s *Service) scopedQuery(ctx context.Context, user users.User) *gorm.DB {
	db := s.db.WithContext(ctx).Model(&Property{})
	switch user.Role {
	case users.RolePropertyManager:
		return db.Where("manager_id = ?", user.ID)
	case users.RoleOwner:
		owned := s.db.Model(&PropertyOwner{}).Select("property_id").
			Where("owner_id = ? AND (end_date IS NULL OR end_date > ?)", user.ID, s.clock())
		return db.Where("id IN (?)", owned)
	case users.RoleTenant:
		leased := s.db.Model(&Unit{}).Select("units.property_id").
			Joins("JOIN unit_tenants ON unit_tenants.unit_id = units.id").
			Where("unit_tenants.tenant_id = ? AND unit_tenants.is_active = ?", user.ID, true)
		return db.Where("id IN (?)", leased)
	case users.RoleTechnician:
		assigned := s.db.Model(&Job{}).Select("property_id").Where("assigned_to_id = ?", user.ID)
		return db.Where("id IN (?)", assigned)
	default:
		return nil
	}
}

// Get returns a property the user may read, with images and owners.
func (s *Service) Get(ctx context.Context, user users.User, propertyID string) (PropertyView, error) {
	property, err := s.Authorize(ctx, user, propertyID, AccessOptions{})
	if err != nil {
		return PropertyView{}, err
	}
	view, err := s.view(ctx, property.ID)
	if err != nil {
		return PropertyView{}, s.fail(opGet, "view_failed", err, zap.String("property_id", property.ID))
	}
	return view, nil
}

// view re-reads the property with its presented images and owners.
func (s *Service) view(ctx context.Context, propertyID string) (PropertyView, error) {
	var property Property
	if err := s.db.WithContext(ctx).Where("id = ?", propertyID).Take(&property).Error; err != nil {
		return PropertyView{}, err
	}
	images, err := withImageSupport(ctx, s.probe, func(available bool) ([]PropertyImage, error) {
		if !available {
			return s.legacyImages(property), nil
		}
		stored, err := s.loadImages(s.db.WithContext(ctx), propertyID)
		if err != nil {
			return nil, err
		}
		return s.presentImages(stored), nil
	})
	if err != nil {
		return PropertyView{}, err
	}
	var owners []PropertyOwner
	if err := s.db.WithContext(ctx).Where("property_id = ?", propertyID).Order("start_date ASC").Find(&owners).Error; err != nil {
		return PropertyView{}, err
	}
	return PropertyView{Property: property, Images: images, Owners: owners}, nil
}

// CreateInput is the payload of Create. Images holds raw client entries.
type CreateInput struct {
	Name          string
	Address       string
	City          string
	State         string
	ZipCode       string
	Country       string
	PropertyType  string
	Status        string
	ImageURL      *string
	CoverImage    *string
	Images        []json.RawMessage
	Description   *string
	YearBuilt     *int
	TotalUnits    *int
	TotalArea     *float64
	PurchasePrice *float64
	CurrentValue  *float64
	Amenities     map[string]any
}

// Create stores a new property managed by user together with its images.
func (s *Service) Create(ctx context.Context, user users.User, input CreateInput) (PropertyView, error) {
	if !user.Is(users.RolePropertyManager) {
		return PropertyView{}, apierr.Forbidden(apierr.CodeRoleForbidden, "Only property managers can create properties")
	}

	var fieldErrors []apierr.FieldError
	name := strings.TrimSpace(input.Name)
	fieldErrors = appendRequired(fieldErrors, "name", name)
	fieldErrors = appendRequired(fieldErrors, "address", strings.TrimSpace(input.Address))
	fieldErrors = appendRequired(fieldErrors, "city", strings.TrimSpace(input.City))
	if len([]rune(name)) > maxNameLength {
		fieldErrors = append(fieldErrors, apierr.FieldError{Field: "name", Message: fmt.Sprintf("must be at most %d characters", maxNameLength)})
	}
	propertyType, ok := ParsePropertyType(input.PropertyType)
	if !ok {
		fieldErrors = append(fieldErrors, apierr.FieldError{Field: "propertyType", Message: "must be one of RESIDENTIAL, COMMERCIAL, INDUSTRIAL, MIXED_USE, LAND, OTHER"})
	}
	status := StatusActive
	if strings.TrimSpace(input.Status) != "" {
		parsed, ok := ParsePropertyStatus(input.Status)
		if !ok {
			fieldErrors = append(fieldErrors, apierr.FieldError{Field: "status", Message: "must be one of ACTIVE, INACTIVE, UNDER_MAINTENANCE"})
		}
		status = parsed
	}
	fieldErrors = append(fieldErrors, s.validateMetadata(input.YearBuilt, input.TotalUnits, input.TotalArea, input.PurchasePrice, input.CurrentValue)...)
	preferred, locationErrors := s.preferredLocation("",
		namedLocation{field: "imageUrl", value: input.ImageURL},
		namedLocation{field: "coverImage", value: input.CoverImage},
	)
	fieldErrors = append(fieldErrors, locationErrors...)
	if len(fieldErrors) > 0 {
		return PropertyView{}, apierr.Validation("Invalid property payload", fieldErrors...)
	}

	images := withPreferredImage(s.normalizer.NormalizeRaw(input.Images), preferred)
	propertyID, err := s.idProvider.NewID()
	if err != nil {
		return PropertyView{}, s.fail(opCreate, "id_generation_failed", err)
	}
	now := s.clock().UTC()
	totalUnits := 0
	if input.TotalUnits != nil {
		totalUnits = *input.TotalUnits
	}
	template := Property{
		ID:            propertyID,
		Name:          name,
		Address:       strings.TrimSpace(input.Address),
		City:          strings.TrimSpace(input.City),
		State:         strings.TrimSpace(input.State),
		ZipCode:       strings.TrimSpace(input.ZipCode),
		Country:       strings.TrimSpace(input.Country),
		PropertyType:  propertyType,
		Status:        status,
		Description:   trimmedOrNil(input.Description),
		YearBuilt:     input.YearBuilt,
		TotalUnits:    totalUnits,
		TotalArea:     input.TotalArea,
		PurchasePrice: input.PurchasePrice,
		CurrentValue:  input.CurrentValue,
		Amenities:     Amenities(input.Amenities),
		ManagerID:     user.ID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	kind := txStandard
	if len(images) > 1 {
		kind = txBulk
	}
	_, err = withImageSupport(ctx, s.probe, func(available bool) (struct{}, error) {
		return struct{}{}, s.tx.run(ctx, kind, func(tx *gorm.DB) error {
			record := template
			if !available {
				record.ImageURL = stringOrNil(PrimaryURL(images))
				return tx.Create(&record).Error
			}
			if err := tx.Create(&record).Error; err != nil {
				return err
			}
			if err := s.insertImages(tx, record.ID, user.ID, images, 0, now); err != nil {
				return err
			}
			_, err := syncCoverImage(tx, record.ID)
			return err
		})
	})
	if err != nil {
		return PropertyView{}, s.fail(opCreate, "transaction_failed", err, zap.String("property_id", propertyID))
	}

	view, err := s.view(ctx, propertyID)
	if err != nil {
		return PropertyView{}, s.fail(opCreate, "view_failed", err, zap.String("property_id", propertyID))
	}
	return view, nil
}

// UpdateInput is the partial payload of Update. Nil pointers leave fields
// untouched; ImageURLSet distinguishes an explicit null from absence.
type UpdateInput struct {
	Name          *string
	Address       *string
	City          *string
	State         *string
	ZipCode       *string
	Country       *string
	PropertyType  *string
	Status        *string
	Description   *string
	YearBuilt     *int
	TotalUnits    *int
	TotalArea     *float64
	PurchasePrice *float64
	CurrentValue  *float64
	Amenities     map[string]any
	Archived      *bool
	ImageURLSet   bool
	ImageURL      *string
	ImagesSet     bool
	Images        []json.RawMessage
}

// Update applies a partial update. A supplied image list replaces the image
// set (records matched by URL are kept); a supplied imageUrl selects or adds
// the primary image.
func (s *Service) Update(ctx context.Context, user users.User, propertyID string, input UpdateInput) (PropertyView, error) {
	property, err := s.Authorize(ctx, user, propertyID, AccessOptions{RequireWrite: true})
	if err != nil {
		return PropertyView{}, err
	}

	updates, fieldErrors := s.propertyUpdates(input)
	preferred := ""
	if input.ImageURLSet && input.ImageURL != nil {
		var locationErrors []apierr.FieldError
		preferred, locationErrors = s.preferredLocation(property.ID, namedLocation{field: "imageUrl", value: input.ImageURL})
		fieldErrors = append(fieldErrors, locationErrors...)
	}
	if len(fieldErrors) > 0 {
		return PropertyView{}, apierr.Validation("Invalid property payload", fieldErrors...)
	}

	var desired []OrderedImage
	if input.ImagesSet {
		desired = withPreferredImage(s.normalizer.NormalizeRaw(input.Images), preferred)
	}
	kind := txStandard
	if len(desired) > 1 {
		kind = txBulk
	}

	var removedURLs []string
	_, err = withImageSupport(ctx, s.probe, func(available bool) (struct{}, error) {
		return struct{}{}, s.tx.run(ctx, kind, func(tx *gorm.DB) error {
			removedURLs = nil
			if !available {
				switch {
				case input.ImagesSet:
					updates["image_url"] = stringOrNil(PrimaryURL(desired))
				case input.ImageURLSet:
					updates["image_url"] = stringOrNil(preferred)
				}
			}
			if len(updates) > 0 {
				updates["updated_at"] = s.clock().UTC()
				result := tx.Model(&Property{}).Where("id = ?", property.ID).Updates(updates)
				if result.Error != nil {
					return result.Error
				}
			}
			if !available {
				return nil
			}

			touched := false
			now := s.clock().UTC()
			switch {
			case input.ImagesSet:
				removed, err := s.replaceImages(tx, property.ID, user.ID, desired, now)
				if err != nil {
					return err
				}
				removedURLs = removed
				touched = true
			case input.ImageURLSet && preferred != "":
				if err := s.promoteOrAppend(tx, property.ID, user.ID, preferred, now); err != nil {
					return err
				}
				touched = true
			case input.ImageURLSet:
				// an explicit null only clears the cover when no images exist
				touched = true
			}
			if !touched {
				return nil
			}
			_, err := syncCoverImage(tx, property.ID)
			return err
		})
	})
	if err != nil {
		return PropertyView{}, s.fail(opUpdate, "transaction_failed", err, zap.String("property_id", property.ID))
	}
	s.cleaner.Schedule(removedURLs...)

	view, err := s.view(ctx, property.ID)
	if err != nil {
		return PropertyView{}, s.fail(opUpdate, "view_failed", err, zap.String("property_id", property.ID))
	}
	return view, nil
}

func (s *Service) propertyUpdates(input UpdateInput) (map[string]any, []apierr.FieldError) {
	updates := map[string]any{}
	var fieldErrors []apierr.FieldError

	requiredText := func(field, column string, value *string, limit int) {
		if value == nil {
			return
		}
		trimmed := strings.TrimSpace(*value)
		if trimmed == "" {
			fieldErrors = append(fieldErrors, apierr.FieldError{Field: field, Message: "must not be empty"})
			return
		}
		if limit > 0 && len([]rune(trimmed)) > limit {
			fieldErrors = append(fieldErrors, apierr.FieldError{Field: field, Message: fmt.Sprintf("must be at most %d characters", limit)})
			return
		}
		updates[column] = trimmed
	}
	optionalText := func(column string, value *string) {
		if value != nil {
			updates[column] = strings.TrimSpace(*value)
		}
	}

	requiredText("name", "name", input.Name, maxNameLength)
	requiredText("address", "address", input.Address, 0)
	requiredText("city", "city", input.City, 0)
	optionalText("state", input.State)
	optionalText("zip_code", input.ZipCode)
	optionalText("country", input.Country)
	if input.PropertyType != nil {
		propertyType, ok := ParsePropertyType(*input.PropertyType)
		if !ok {
			fieldErrors = append(fieldErrors, apierr.FieldError{Field: "propertyType", Message: "must be one of RESIDENTIAL, COMMERCIAL, INDUSTRIAL, MIXED_USE, LAND, OTHER"})
		} else {
			updates["property_type"] = propertyType
		}
	}
	if input.Status != nil {
		status, ok := ParsePropertyStatus(*input.Status)
		if !ok {
			fieldErrors = append(fieldErrors, apierr.FieldError{Field: "status", Message: "must be one of ACTIVE, INACTIVE, UNDER_MAINTENANCE"})
		} else {
			updates["status"] = status
		}
	}
	if input.Description != nil {
		updates["description"] = trimmedOrNil(input.Description)
	}
	metadataErrors := s.validateMetadata(input.YearBuilt, input.TotalUnits, input.TotalArea, input.PurchasePrice, input.CurrentValue)
	fieldErrors = append(fieldErrors, metadataErrors...)
	if len(metadataErrors) == 0 {
		if input.YearBuilt != nil {
			updates["year_built"] = *input.YearBuilt
		}
		if input.TotalUnits != nil {
			updates["total_units"] = *input.TotalUnits
		}
		if input.TotalArea != nil {
			updates["total_area"] = *input.TotalArea
		}
		if input.PurchasePrice != nil {
			updates["purchase_price"] = *input.PurchasePrice
		}
		if input.CurrentValue != nil {
			updates["current_value"] = *input.CurrentValue
		}
	}
	if input.Amenities != nil {
		updates["amenities"] = Amenities(input.Amenities)
	}
	if input.Archived != nil {
		if *input.Archived {
			updates["archived_at"] = s.clock().UTC()
		} else {
			updates["archived_at"] = nil
		}
	}
	return updates, fieldErrors
}

// DependencyCounts lists the records that block deleting a property.
type DependencyCounts struct {
	Units         int64 `json:"units"`
	Jobs          int64 `json:"jobs"`
	Inspections   int64 `json:"inspections"`
	ActiveTenants int64 `json:"activeTenants"`
}

func (d DependencyCounts) any() bool {
	return d.Units > 0 || d.Jobs > 0 || d.Inspections > 0 || d.ActiveTenants > 0
}

// Delete removes a property without dependent units, jobs, inspections or
// tenancies, along with its images, owners, documents and notes. Managed
// files are deleted in the background.
func (s *Service) Delete(ctx context.Context, user users.User, propertyID string) error {
	property, err := s.Authorize(ctx, user, propertyID, AccessOptions{RequireWrite: true})
	if err != nil {
		return err
	}

	var fileURLs []string
	_, err = withImageSupport(ctx, s.probe, func(available bool) (struct{}, error) {
		return struct{}{}, s.tx.run(ctx, txStandard, func(tx *gorm.DB) error {
			fileURLs = nil
			counts, err := countDependencies(tx, property.ID)
			if err != nil {
				return err
			}
			if counts.any() {
				return apierr.Conflict(apierr.CodePropertyHasDependents,
					"Property has dependent records and cannot be deleted").WithDetails(counts)
			}

			var urls []string
			if available {
				var imageURLs []string
				if err := tx.Model(&PropertyImage{}).Where("property_id = ?", property.ID).Pluck("image_url", &imageURLs).Error; err != nil {
					return err
				}
				urls = append(urls, imageURLs...)
				if err := tx.Where("property_id = ?", property.ID).Delete(&PropertyImage{}).Error; err != nil {
					return err
				}
			}
			var documentURLs []string
			if err := tx.Model(&PropertyDocument{}).Where("property_id = ?", property.ID).Pluck("file_url", &documentURLs).Error; err != nil {
				return err
			}
			urls = append(urls, documentURLs...)
			for _, model := range []any{&PropertyDocument{}, &PropertyNote{}, &PropertyOwner{}} {
				if err := tx.Where("property_id = ?", property.ID).Delete(model).Error; err != nil {
					return err
				}
			}
			var current Property
			if err := tx.Where("id = ?", property.ID).Take(&current).Error; err != nil {
				return err
			}
			if current.ImageURL != nil {
				urls = append(urls, *current.ImageURL)
			}
			if err := tx.Delete(&Property{}, "id = ?", property.ID).Error; err != nil {
				return err
			}
			fileURLs, err = ReleasableFiles(tx, property.ID, available, urls...)
			return err
		})
	})
	if err != nil {
		return s.fail(opDelete, "transaction_failed", err, zap.String("property_id", property.ID))
	}
	s.cleaner.Schedule(fileURLs...)
	s.logger.Info("property deleted", zap.String("property_id", property.ID), zap.String("user_id", user.ID))
	return nil
}

func countDependencies(tx *gorm.DB, propertyID string) (DependencyCounts, error) {
	var counts DependencyCounts
	if err := tx.Model(&Unit{}).Where("property_id = ?", propertyID).Count(&counts.Units).Error; err != nil {
		return counts, err
	}
	if err := tx.Model(&Job{}).Where("property_id = ?", propertyID).Count(&counts.Jobs).Error; err != nil {
		return counts, err
	}
	if err := tx.Model(&Inspection{}).Where("property_id = ?", propertyID).Count(&counts.Inspections).Error; err != nil {
		return counts, err
	}
	err := tx.Model(&UnitTenant{}).
		Joins("JOIN units ON units.id = unit_tenants.unit_id").
		Where("units.property_id = ? AND unit_tenants.is_active = ?", propertyID, true).
		Count(&counts.ActiveTenants).Error
	return counts, err
}

func (s *Service) validateMetadata(yearBuilt, totalUnits *int, totalArea, purchasePrice, currentValue *float64) []apierr.FieldError {
	var fieldErrors []apierr.FieldError
	if yearBuilt != nil {
		maxYear := s.clock().Year() + 5
		if *yearBuilt < 1800 || *yearBuilt > maxYear {
			fieldErrors = append(fieldErrors, apierr.FieldError{Field: "yearBuilt", Message: fmt.Sprintf("must be between 1800 and %d", maxYear)})
		}
	}
	if totalUnits != nil && *totalUnits < 0 {
		fieldErrors = append(fieldErrors, apierr.FieldError{Field: "totalUnits", Message: "must not be negative"})
	}
	for _, field := range []struct {
		name  string
		value *float64
	}{
		{name: "totalArea", value: totalArea},
		{name: "purchasePrice", value: purchasePrice},
		{name: "currentValue", value: currentValue},
	} {
		if field.value != nil && *field.value < 0 {
			fieldErrors = append(fieldErrors, apierr.FieldError{Field: field.name, Message: "must not be negative"})
		}
	}
	return fieldErrors
}

type namedLocation struct {
	field string
	value *string
}

const foreignUploadMessage = "must not reference a file uploaded for another property"

// preferredLocation validates scalar image fields for propertyID and returns
// the first non-empty one.
func (s *Service) preferredLocation(propertyID string, candidates ...namedLocation) (string, []apierr.FieldError) {
	var fieldErrors []apierr.FieldError
	preferred := ""
	for _, candidate := range candidates {
		if candidate.value == nil {
			continue
		}
		trimmed := strings.TrimSpace(*candidate.value)
		if trimmed == "" {
			continue
		}
		if !s.locations.IsValid(trimmed) {
			fieldErrors = append(fieldErrors, apierr.FieldError{Field: candidate.field, Message: "must be an http(s) URL, an image data URL or an uploaded file path"})
			continue
		}
		if s.locations.BelongsToOtherProperty(trimmed, propertyID) {
			fieldErrors = append(fieldErrors, apierr.FieldError{Field: candidate.field, Message: foreignUploadMessage})
			continue
		}
		if preferred == "" {
			preferred = trimmed
		}
	}
	return preferred, fieldErrors
}

// withPreferredImage makes preferred the primary image, prepending it when
// it is not part of the list.
func withPreferredImage(images []OrderedImage, preferred string) []OrderedImage {
	if preferred == "" {
		return images
	}
	for _, image := range images {
		if image.ImageURL == preferred {
			return ApplyPreferredPrimary(images, preferred)
		}
	}
	combined := append([]OrderedImage{{ImageURL: preferred, IsPrimary: true}}, images...)
	return ApplyPreferredPrimary(combined, preferred)
}

// fail passes client-facing errors through and logs everything else as an
// internal failure.
func (s *Service) fail(operation, reason string, err error, fields ...zap.Field) error {
	var apiErr *apierr.Error
	if errors.As(err, &apiErr) {
		return apiErr
	}
	s.logError(operation, reason, err, fields...)
	return apierr.Internal(newServiceError(operation, reason, err))
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
	s.logger.Error("properties service error", attrs...)
}

func imageStoreUnavailable() error {
	return apierr.New(http.StatusServiceUnavailable, apierr.CodeImageStoreUnavailable,
		"Image management is temporarily unavailable")
}

func appendRequired(fieldErrors []apierr.FieldError, field, value string) []apierr.FieldError {
	if value == "" {
		return append(fieldErrors, apierr.FieldError{Field: field, Message: "is required"})
	}
	return fieldErrors
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

func stringOrNil(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

func uniqueStrings(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))
	for _, value := range values {
		if _, ok := seen[value]; ok || value == "" {
			continue
		}
		seen[value] = struct{}{}
		result = append(result, value)
	}
	return result
}
