package auth

import (
	"fmt"

	"streakline/internal/domain"
)

// PermissionAdmin guards setup, payments and manual triggers.
const PermissionAdmin = "admin"

// ForbiddenError indicates missing permission.
type ForbiddenError struct {
	Permission string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("permission %s required", e.Permission)
}

// RequireAdmin fails unless actorID is in the aggregate's admin set.
func RequireAdmin(agg *domain.Aggregate, actorID string) error {
	if actorID == "" || !agg.IsAdmin(actorID) {
		return ForbiddenError{Permission: PermissionAdmin}
	}
	return nil
}
