package properties

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// PropertyStatus enumerates the lifecycle state of a property.
type PropertyStatus string

const (
	StatusActive           PropertyStatus = "ACTIVE"
	StatusInactive         PropertyStatus = "INACTIVE"
	StatusUnderMaintenance PropertyStatus = "UNDER_MAINTENANCE"
)

// ParsePropertyStatus upper-cases the input and reports whether it is known.
func ParsePropertyStatus(raw string) (PropertyStatus, bool) {
	status := PropertyStatus(strings.ToUpper(strings.TrimSpace(raw)))
	switch status {
	case StatusActive, StatusInactive, StatusUnderMaintenance:
		return status, true
	default:
		return "", false
	}
}

// PropertyType classifies a property.
type PropertyType string

const (
	TypeResidential PropertyType = "RESIDENTIAL"
	TypeCommercial  PropertyType = "COMMERCIAL"
	TypeIndustrial  PropertyType = "INDUSTRIAL"
	TypeMixedUse    PropertyType = "MIXED_USE"
	TypeLand        PropertyType = "LAND"
	TypeOther       PropertyType = "OTHER"
)

// ParsePropertyType accepts the canonical names case-insensitively, with
// spaces and dashes treated as underscores.
func ParsePropertyType(raw string) (PropertyType, bool) {
	normalized := strings.ToUpper(strings.TrimSpace(raw))
	normalized = strings.NewReplacer(" ", "_", "-", "_").Replace(normalized)
	propertyType := PropertyType(normalized)
	switch propertyType {
	case TypeResidential, TypeCommercial, TypeIndustrial, TypeMixedUse, TypeLand, TypeOther:
		return propertyType, true
	default:
		return "", false
	}
}

// Amenities is a free-form JSON object stored in a text column.
type Amenities map[string]any

// Value implements driver.Valuer.
func (a Amenities) Value() (driver.Value, error) {
	if a == nil {
		return nil, nil
	}
	encoded, err := json.Marshal(map[string]any(a))
	if err != nil {
		return nil, err
	}
	return string(encoded), nil
}

// Scan implements sql.Scanner.
func (a *Amenities) Scan(value any) error {
	var raw []byte
	switch typed := value.(type) {
	case nil:
		*a = nil
		return nil
	case string:
		raw = []byte(typed)
	case []byte:
		raw = typed
	default:
		return fmt.Errorf("properties: unsupported amenities value %T", value)
	}
	if len(raw) == 0 {
		*a = nil
		return nil
	}
	decoded := map[string]any{}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return fmt.Errorf("properties: decode amenities: %w", err)
	}
	*a = decoded
	return nil
}

// Property is the root aggregate of the property domain. ImageURL is the
// legacy cover image and mirrors the primary PropertyImage.
type Property struct {
	ID            string         `gorm:"column:id;primaryKey;size:64" json:"id"`
	Name          string         `gorm:"column:name;size:255;not null" json:"name"`
	Address       string         `gorm:"column:address;size:512;not null" json:"address"`
	City          string         `gorm:"column:city;size:128;not null" json:"city"`
	State         string         `gorm:"column:state;size:128" json:"state"`
	ZipCode       string         `gorm:"column:zip_code;size:32" json:"zipCode"`
	Country       string         `gorm:"column:country;size:64" json:"country"`
	PropertyType  PropertyType   `gorm:"column:property_type;size:32;not null" json:"propertyType"`
	Status        PropertyStatus `gorm:"column:status;size:32;not null;index" json:"status"`
	ImageURL      *string        `gorm:"column:image_url;size:2048" json:"imageUrl"`
	Description   *string        `gorm:"column:description;type:text" json:"description,omitempty"`
	YearBuilt     *int           `gorm:"column:year_built" json:"yearBuilt,omitempty"`
	TotalUnits    int            `gorm:"column:total_units;not null;default:0" json:"totalUnits"`
	TotalArea     *float64       `gorm:"column:total_area" json:"totalArea,omitempty"`
	PurchasePrice *float64       `gorm:"column:purchase_price" json:"purchasePrice,omitempty"`
	CurrentValue  *float64       `gorm:"column:current_value" json:"currentValue,omitempty"`
	Amenities     Amenities      `gorm:"column:amenities;type:text" json:"amenities,omitempty"`
	ManagerID     string         `gorm:"column:manager_id;size:190;not null;index" json:"managerId"`
	ArchivedAt    *time.Time     `gorm:"column:archived_at" json:"archivedAt,omitempty"`
	CreatedAt     time.Time      `gorm:"column:created_at" json:"createdAt"`
	UpdatedAt     time.Time      `gorm:"column:updated_at" json:"updatedAt"`
}

// TableName provides the explicit table binding for GORM.
func (Property) TableName() string {
	return "properties"
}

// PropertyImage is one ordered image of a property.
type PropertyImage struct {
	ID           string    `gorm:"column:id;primaryKey;size:64" json:"id"`
	PropertyID   string    `gorm:"column:property_id;size:64;not null;index:idx_property_images_order,priority:1" json:"propertyId"`
	ImageURL     string    `gorm:"column:image_url;size:2048;not null" json:"imageUrl"`
	Caption      *string   `gorm:"column:caption;size:512" json:"caption"`
	IsPrimary    bool      `gorm:"column:is_primary;not null;default:false" json:"isPrimary"`
	DisplayOrder int       `gorm:"column:display_order;not null;default:0;index:idx_property_images_order,priority:2" json:"displayOrder"`
	UploadedByID string    `gorm:"column:uploaded_by_id;size:190" json:"uploadedById,omitempty"`
	CreatedAt    time.Time `gorm:"column:created_at" json:"createdAt"`
	UpdatedAt    time.Time `gorm:"column:updated_at" json:"updatedAt"`
}

// TableName provides the explicit table binding for GORM.
func (PropertyImage) TableName() string {
	return "property_images"
}

// PropertyOwner links an OWNER user to a property with an ownership share.
type PropertyOwner struct {
	PropertyID          string     `gorm:"column:property_id;primaryKey;size:64" json:"propertyId"`
	OwnerID             string     `gorm:"column:owner_id;primaryKey;size:190;index" json:"ownerId"`
	OwnershipPercentage float64    `gorm:"column:ownership_percentage;not null" json:"ownershipPercentage"`
	StartDate           time.Time  `gorm:"column:start_date;not null" json:"startDate"`
	EndDate             *time.Time `gorm:"column:end_date" json:"endDate,omitempty"`
	CreatedAt           time.Time  `gorm:"column:created_at" json:"createdAt"`
}

// TableName provides the explicit table binding for GORM.
func (PropertyOwner) TableName() string {
	return "property_owners"
}

// ActiveAt reports whether the ownership is in effect at the instant.
func (o PropertyOwner) ActiveAt(instant time.Time) bool {
	return o.EndDate == nil || o.EndDate.After(instant)
}

// DocumentCategory classifies a stored document.
type DocumentCategory string

const (
	CategoryLease       DocumentCategory = "LEASE"
	CategoryInsurance   DocumentCategory = "INSURANCE"
	CategoryInspection  DocumentCategory = "INSPECTION"
	CategoryMaintenance DocumentCategory = "MAINTENANCE"
	CategoryFinancial   DocumentCategory = "FINANCIAL"
	CategoryLegal       DocumentCategory = "LEGAL"
	CategoryPhoto       DocumentCategory = "PHOTO"
	CategoryOther       DocumentCategory = "OTHER"
)

// ParseDocumentCategory upper-cases the input and reports whether it is known.
func ParseDocumentCategory(raw string) (DocumentCategory, bool) {
	category := DocumentCategory(strings.ToUpper(strings.TrimSpace(raw)))
	switch category {
	case CategoryLease, CategoryInsurance, CategoryInspection, CategoryMaintenance,
		CategoryFinancial, CategoryLegal, CategoryPhoto, CategoryOther:
		return category, true
	default:
		return "", false
	}
}

// AccessLevel controls which roles may see a document.
type AccessLevel string

const (
	AccessPublic          AccessLevel = "PUBLIC"
	AccessTenant          AccessLevel = "TENANT"
	AccessOwner           AccessLevel = "OWNER"
	AccessPropertyManager AccessLevel = "PROPERTY_MANAGER"
)

// ParseAccessLevel upper-cases the input and reports whether it is known.
func ParseAccessLevel(raw string) (AccessLevel, bool) {
	level := AccessLevel(strings.ToUpper(strings.TrimSpace(raw)))
	switch level {
	case AccessPublic, AccessTenant, AccessOwner, AccessPropertyManager:
		return level, true
	default:
		return "", false
	}
}

// PropertyDocument is the metadata of a stored file attached to a property.
type PropertyDocument struct {
	ID          string           `gorm:"column:id;primaryKey;size:64" json:"id"`
	PropertyID  string           `gorm:"column:property_id;size:64;not null;index" json:"propertyId"`
	UnitID      *string          `gorm:"column:unit_id;size:64;index" json:"unitId,omitempty"`
	FileName    string           `gorm:"column:file_name;size:255;not null" json:"fileName"`
	FileURL     string           `gorm:"column:file_url;size:2048;not null" json:"fileUrl"`
	MimeType    string           `gorm:"column:mime_type;size:128" json:"mimeType"`
	FileSize    int64            `gorm:"column:file_size;not null;default:0" json:"fileSize"`
	Category    DocumentCategory `gorm:"column:category;size:32;not null" json:"category"`
	AccessLevel AccessLevel      `gorm:"column:access_level;size:32;not null" json:"accessLevel"`
	Description *string          `gorm:"column:description;type:text" json:"description,omitempty"`
	UploaderID  string           `gorm:"column:uploader_id;size:190;not null" json:"uploaderId"`
	CreatedAt   time.Time        `gorm:"column:created_at" json:"createdAt"`
	UpdatedAt   time.Time        `gorm:"column:updated_at" json:"updatedAt"`
}

// TableName provides the explicit table binding for GORM.
func (PropertyDocument) TableName() string {
	return "property_documents"
}

// PropertyNote is a free-text note with a single author.
type PropertyNote struct {
	ID         string    `gorm:"column:id;primaryKey;size:64" json:"id"`
	PropertyID string    `gorm:"column:property_id;size:64;not null;index" json:"propertyId"`
	AuthorID   string    `gorm:"column:author_id;size:190;not null;index" json:"authorId"`
	Content    string    `gorm:"column:content;type:text;not null" json:"content"`
	CreatedAt  time.Time `gorm:"column:created_at" json:"createdAt"`
	UpdatedAt  time.Time `gorm:"column:updated_at" json:"updatedAt"`
}

// TableName provides the explicit table binding for GORM.
func (PropertyNote) TableName() string {
	return "property_notes"
}

// UnitStatus enumerates the occupancy state of a unit.
type UnitStatus string

const (
	UnitAvailable   UnitStatus = "AVAILABLE"
	UnitOccupied    UnitStatus = "OCCUPIED"
	UnitMaintenance UnitStatus = "MAINTENANCE"
)

// Unit is a rentable part of a property.
type Unit struct {
	ID         string     `gorm:"column:id;primaryKey;size:64" json:"id"`
	PropertyID string     `gorm:"column:property_id;size:64;not null;index" json:"propertyId"`
	UnitNumber string     `gorm:"column:unit_number;size:64;not null" json:"unitNumber"`
	Status     UnitStatus `gorm:"column:status;size:32;not null" json:"status"`
	CreatedAt  time.Time  `gorm:"column:created_at" json:"createdAt"`
}

// TableName provides the explicit table binding for GORM.
func (Unit) TableName() string {
	return "units"
}

// UnitTenant records a tenant's lease of a unit.
type UnitTenant struct {
	ID        string    `gorm:"column:id;primaryKey;size:64"`
	UnitID    string    `gorm:"column:unit_id;size:64;not null;index"`
	TenantID  string    `gorm:"column:tenant_id;size:190;not null;index"`
	IsActive  bool      `gorm:"column:is_active;not null;default:true"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

// TableName provides the explicit table binding for GORM.
func (UnitTenant) TableName() string {
	return "unit_tenants"
}

// Job is a maintenance work order on a property.
type Job struct {
	ID           string    `gorm:"column:id;primaryKey;size:64"`
	PropertyID   string    `gorm:"column:property_id;size:64;not null;index"`
	AssignedToID *string   `gorm:"column:assigned_to_id;size:190;index"`
	Title        string    `gorm:"column:title;size:255;not null"`
	Status       string    `gorm:"column:status;size:32;not null"`
	CreatedAt    time.Time `gorm:"column:created_at"`
}

// TableName provides the explicit table binding for GORM.
func (Job) TableName() string {
	return "jobs"
}

// Inspection is a scheduled property inspection.
type Inspection struct {
	ID          string    `gorm:"column:id;primaryKey;size:64"`
	PropertyID  string    `gorm:"column:property_id;size:64;not null;index"`
	Status      string    `gorm:"column:status;size:32;not null"`
	ScheduledAt time.Time `gorm:"column:scheduled_at"`
	CreatedAt   time.Time `gorm:"column:created_at"`
}

// TableName provides the explicit table binding for GORM.
func (Inspection) TableName() string {
	return "inspections"
}

// Models lists every persisted model of the property domain in migration order.
func Models() []any {
	return []any{
		&Property{},
		&PropertyImage{},
		&PropertyOwner{},
		&PropertyDocument{},
		&PropertyNote{},
		&Unit{},
		&UnitTenant{},
		&Job{},
		&Inspection{},
	}
}
