package authz

import "github.com/gestion-judicial/casefile-api/internal/models"

// Evaluator is the single source of truth for case permissions. It is
// stateless and pure: decisions depend only on the actor, the resource
// descriptor and the action, never on ambient state. Every role/action pair
// not explicitly allowed below is denied, including roles this build does
// not know about.
type Evaluator struct{}

// NewEvaluator constructs the evaluator.
func NewEvaluator() *Evaluator {
	return &Evaluator{}
}

// Check evaluates an action against an existing case.
func (e *Evaluator) Check(actor Actor, res CaseRef, action Action) Decision {
	switch actor.Role {
	case models.RoleAdmin, models.RoleClerk:
		switch action {
		case ActionRead, ActionList, ActionCreate, ActionUpdate, ActionAssignJudge, ActionDelete:
			return allow
		}
		return deny

	case models.RoleJudge:
		switch action {
		case ActionRead:
			if res.assignedTo(actor.ID) {
				return allow
			}
		case ActionUpdate:
			// The assigned judge may move the case through its lifecycle
			// but never reassign it.
			if res.assignedTo(actor.ID) {
				return allowRestricted(FieldAssignedJudge)
			}
		}
		return deny

	case models.RoleLawyer, models.RoleCitizen:
		switch action {
		case ActionRead:
			if res.OwnerID == actor.ID {
				return allow
			}
		case ActionCreate:
			return allowRestricted(FieldStatus, FieldAssignedJudge)
		case ActionUpdate:
			if res.OwnerID == actor.ID {
				return allowRestricted(FieldStatus, FieldAssignedJudge)
			}
		}
		return deny
	}

	// Unknown role: fail closed.
	return deny
}

// CheckCreate evaluates case creation, which has no existing resource.
func (e *Evaluator) CheckCreate(actor Actor) Decision {
	switch actor.Role {
	case models.RoleAdmin, models.RoleClerk:
		return allow
	case models.RoleLawyer, models.RoleCitizen:
		return allowRestricted(FieldStatus, FieldAssignedJudge)
	}
	return deny
}

// ListScope returns the row constraint the repository must compile into the
// query before execution. Listings are never fetched broad and filtered in
// memory; that would leak existence and counts.
func (e *Evaluator) ListScope(actor Actor) (models.CaseScope, Decision) {
	switch actor.Role {
	case models.RoleAdmin, models.RoleClerk:
		return models.CaseScope{All: true}, allow
	case models.RoleJudge:
		return models.CaseScope{JudgeID: actor.ID}, allow
	case models.RoleLawyer, models.RoleCitizen:
		return models.CaseScope{OwnerID: actor.ID}, allow
	}
	return models.CaseScope{}, deny
}

// CheckDocument evaluates access to a document. An attached document
// inherits the owning case's scope; an unattached one belongs to its
// uploader.
func (e *Evaluator) CheckDocument(actor Actor, res DocumentRef, action Action) Decision {
	switch actor.Role {
	case models.RoleAdmin, models.RoleClerk:
		switch action {
		case ActionRead, ActionList, ActionCreate, ActionDelete:
			return allow
		}
		return deny
	}

	if res.Case != nil {
		// Attaching requires read visibility on the owning case.
		if action == ActionCreate {
			return e.Check(actor, *res.Case, ActionRead)
		}
		return e.Check(actor, *res.Case, action)
	}

	switch action {
	case ActionCreate:
		if ValidActorRole(actor) {
			return allow
		}
	case ActionRead:
		if ValidActorRole(actor) && res.UploadedBy == actor.ID {
			return allow
		}
	}
	return deny
}

// CanManageUsers gates the user-management API.
func (e *Evaluator) CanManageUsers(actor Actor) bool {
	return actor.Role == models.RoleAdmin || actor.Role == models.RoleClerk
}

// CanDeleteUsers is stricter than CanManageUsers: only Admin removes accounts.
func (e *Evaluator) CanDeleteUsers(actor Actor) bool {
	return actor.Role == models.RoleAdmin
}

// CanViewAudit gates read access to the audit trail.
func (e *Evaluator) CanViewAudit(actor Actor) bool {
	return actor.Role == models.RoleAdmin || actor.Role == models.RoleClerk
}

// CanPurgeAudit gates the retention purge. Deleting audit entries is an
// Admin-only operation and is itself audited.
func (e *Evaluator) CanPurgeAudit(actor Actor) bool {
	return actor.Role == models.RoleAdmin
}

// ValidActorRole reports whether the actor carries a recognized role.
func ValidActorRole(actor Actor) bool {
	return models.ValidRole(actor.Role)
}
