package properties

import (
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/propertyhub/backend/internal/apierr"
	"github.com/MarcoPoloResearchLab/propertyhub/backend/internal/users"
)

// AccessOptions qualifies an access check.
type AccessOptions struct {
	RequireWrite bool
	// Now decides whether an ownership has ended; zero means time.Now.
	Now time.Time
}

// AccessDecision is the outcome of CheckAccess. Status and Code are set when
// access is denied.
type AccessDecision struct {
	Allowed bool
	Status  int
	Code    apierr.Code
	Reason  string
}

// Err converts a denial into the client-facing error.
func (d AccessDecision) Err() error {
	if d.Allowed {
		return nil
	}
	return apierr.New(d.Status, d.Code, d.Reason)
}

// CheckAccess authorizes user against property: the managing manager has
// read and write access, active owners read-only access, everyone else none.
func CheckAccess(property *Property, owners []PropertyOwner, user users.User, opts AccessOptions) AccessDecision {
	if property == nil {
		return AccessDecision{
			Status: http.StatusNotFound,
			Code:   apierr.CodePropertyNotFound,
			Reason: "Property not found",
		}
	}

	switch user.Role {
	case users.RolePropertyManager:
		if property.ManagerID == user.ID {
			return AccessDecision{Allowed: true}
		}
	case users.RoleOwner:
		now := opts.Now
		if now.IsZero() {
			now = time.Now()
		}
		for _, owner := range owners {
			if owner.PropertyID != property.ID || owner.OwnerID != user.ID || !owner.ActiveAt(now) {
				continue
			}
			if opts.RequireWrite {
				return AccessDecision{
					Status: http.StatusForbidden,
					Code:   apierr.CodePropertyAccessDenied,
					Reason: "Owners have read-only access to this property",
				}
			}
			return AccessDecision{Allowed: true}
		}
	}

	return AccessDecision{
		Status: http.StatusForbidden,
		Code:   apierr.CodePropertyAccessDenied,
		Reason: "You do not have access to this property",
	}
}
