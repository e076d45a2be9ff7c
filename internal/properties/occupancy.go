package properties

import (
	"context"
	"math"

	"github.com/MarcoPoloResearchLab/propertyhub/backend/internal/users"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const opOccupancy = "properties.occupancy"

// OccupancyStats summarizes the units of a property.
type OccupancyStats struct {
	PropertyID    string  `json:"propertyId"`
	TotalUnits    int64   `json:"totalUnits"`
	Occupied      int64   `json:"occupied"`
	Available     int64   `json:"available"`
	Maintenance   int64   `json:"maintenance"`
	ActiveTenants int64   `json:"activeTenants"`
	OccupancyRate float64 `json:"occupancyRate"`
}

// Occupancy computes unit statistics from one read-committed snapshot.
func (s *Service) Occupancy(ctx context.Context, user users.User, propertyID string) (OccupancyStats, error) {
	property, err := s.Authorize(ctx, user, propertyID, AccessOptions{})
	if err != nil {
		return OccupancyStats{}, err
	}

	stats := OccupancyStats{PropertyID: property.ID}
	err = s.tx.run(ctx, txReadCommitted, func(tx *gorm.DB) error {
		var rows []struct {
			Status UnitStatus
			Count  int64
		}
		if err := tx.Model(&Unit{}).Select("status, COUNT(*) AS count").
			Where("property_id = ?", property.ID).Group("status").Scan(&rows).Error; err != nil {
			return err
		}
		stats = OccupancyStats{PropertyID: property.ID}
		for _, row := range rows {
			stats.TotalUnits += row.Count
			switch row.Status {
			case UnitOccupied:
				stats.Occupied = row.Count
			case UnitAvailable:
				stats.Available = row.Count
			case UnitMaintenance:
				stats.Maintenance = row.Count
			}
		}
		return tx.Model(&UnitTenant{}).
			Joins("JOIN units ON units.id = unit_tenants.unit_id").
			Where("units.property_id = ? AND unit_tenants.is_active = ?", property.ID, true).
			Count(&stats.ActiveTenants).Error
	})
	if err != nil {
		return OccupancyStats{}, s.fail(opOccupancy, "query_failed", err, zap.String("property_id", property.ID))
	}
	if stats.TotalUnits > 0 {
		rate := float64(stats.Occupied) / float64(stats.TotalUnits) * 100
		stats.OccupancyRate = math.Round(rate*100) / 100
	}
	return stats, nil
}
