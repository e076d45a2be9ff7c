package properties

import (
	"net/http"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/propertyhub/backend/internal/apierr"
	"github.com/MarcoPoloResearchLab/propertyhub/backend/internal/users"
)

func TestCheckAccessMatrix(t *testing.T) {
	property := &Property{ID: "prop-1", ManagerID: "manager-1"}
	ended := testNow.Add(-24 * time.Hour)
	owners := []PropertyOwner{
		{PropertyID: "prop-1", OwnerID: "owner-1", OwnershipPercentage: 60},
		{PropertyID: "prop-1", OwnerID: "owner-past", OwnershipPercentage: 40, EndDate: &ended},
	}

	subjects := map[string]users.User{
		"manager-owns":  {ID: "manager-1", Role: users.RolePropertyManager},
		"manager-other": {ID: "manager-2", Role: users.RolePropertyManager},
		"owner-listed":  {ID: "owner-1", Role: users.RoleOwner},
		"owner-ended":   {ID: "owner-past", Role: users.RoleOwner},
		"owner-other":   {ID: "owner-2", Role: users.RoleOwner},
		"tenant":        {ID: "tenant-1", Role: users.RoleTenant},
		"technician":    {ID: "tech-1", Role: users.RoleTechnician},
		"owner-as-role": {ID: "manager-1", Role: users.RoleOwner},
	}

	testCases := []struct {
		subject string
		write   bool
		allowed bool
	}{
		{subject: "manager-owns", write: false, allowed: true},
		{subject: "manager-owns", write: true, allowed: true},
		{subject: "manager-other", write: false},
		{subject: "manager-other", write: true},
		{subject: "owner-listed", write: false, allowed: true},
		{subject: "owner-listed", write: true},
		{subject: "owner-ended", write: false},
		{subject: "owner-other", write: false},
		{subject: "owner-other", write: true},
		{subject: "tenant", write: false},
		{subject: "tenant", write: true},
		{subject: "technician", write: false},
		{subject: "owner-as-role", write: false},
	}

	for _, testCase := range testCases {
		name := testCase.subject + "/read"
		if testCase.write {
			name = testCase.subject + "/write"
		}
		t.Run(name, func(t *testing.T) {
			decision := CheckAccess(property, owners, subjects[testCase.subject], AccessOptions{RequireWrite: testCase.write, Now: testNow})
			if decision.Allowed != testCase.allowed {
				t.Fatalf("expected allowed=%v, got %+v", testCase.allowed, decision)
			}
			if testCase.allowed {
				if decision.Err() != nil {
					t.Fatalf("allowed decision must not produce an error")
				}
				return
			}
			if decision.Status != http.StatusForbidden || decision.Code != apierr.CodePropertyAccessDenied {
				t.Fatalf("expected 403 %s, got %d %s", apierr.CodePropertyAccessDenied, decision.Status, decision.Code)
			}
		})
	}
}

func TestCheckAccessMissingProperty(t *testing.T) {
	decision := CheckAccess(nil, nil, users.User{ID: "manager-1", Role: users.RolePropertyManager}, AccessOptions{})
	if decision.Allowed || decision.Status != http.StatusNotFound || decision.Code != apierr.CodePropertyNotFound {
		t.Fatalf("expected 404 decision, got %+v", decision)
	}
	apiErr := apierr.As(decision.Err())
	if apiErr.Status != http.StatusNotFound {
		t.Fatalf("expected 404 error, got %+v", apiErr)
	}
}
