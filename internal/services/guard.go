package services

import (
	"memoria/internal/errs"
	"memoria/internal/models"
)

// FreeMemorialLimit is how many memorial pages a non-premium user may own.
const FreeMemorialLimit = 2

// RequireActor rejects anonymous callers.
func RequireActor(actorID uint) error {
	if actorID == 0 {
		return errs.Errorf(errs.Unauthenticated, "sign in required")
	}
	return nil
}

// RequireOwner allows the call only when the actor owns the record.
func RequireOwner(actorID, ownerID uint) error {
	if err := RequireActor(actorID); err != nil {
		return err
	}
	if actorID != ownerID {
		return errs.Errorf(errs.Forbidden, "not allowed")
	}
	return nil
}

// RequireAnyOwner allows the call when the actor owns the record under any
// of the given owner ids (e.g. comment author or page creator).
func RequireAnyOwner(actorID uint, ownerIDs ...uint) error {
	if err := RequireActor(actorID); err != nil {
		return err
	}
	for _, id := range ownerIDs {
		if id == actorID {
			return nil
		}
	}
	return errs.Errorf(errs.Forbidden, "not allowed")
}

// CheckMemorialQuota enforces the free-tier page limit. owned is the number
// of pages the actor already created.
func CheckMemorialQuota(actor *models.User, owned int64) error {
	if actor == nil {
		return errs.Errorf(errs.Unauthenticated, "sign in required")
	}
	if !actor.Premium && owned >= FreeMemorialLimit {
		return errs.Errorf(errs.QuotaExceeded, "upgrade required")
	}
	return nil
}
