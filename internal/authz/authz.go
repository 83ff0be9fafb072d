package authz

import "github.com/gestion-judicial/casefile-api/internal/models"

// Action identifies an operation subject to authorization.
type Action string

const (
	ActionRead        Action = "read"
	ActionList        Action = "list"
	ActionCreate      Action = "create"
	ActionUpdate      Action = "update"
	ActionAssignJudge Action = "assign_judge"
	ActionDelete      Action = "delete"
)

// Privileged case fields that only Admin/Clerk (and, for status, the
// assigned Judge) may set.
const (
	FieldStatus        = "status"
	FieldAssignedJudge = "assigned_judge_id"
)

// Actor is the authenticated user initiating an operation.
type Actor struct {
	ID   string
	Role models.UserRole
}

// CaseRef carries the ownership-relevant fields of a case. Callers can
// build it from listings or denormalized claims without a full fetch.
type CaseRef struct {
	OwnerID         string
	AssignedJudgeID *string
}

// DocumentRef describes a document for authorization purposes. Case is nil
// for unattached documents.
type DocumentRef struct {
	UploadedBy string
	Case       *CaseRef
}

// Decision is the outcome of a permission check. RestrictedFields lists
// submitted fields the caller must reject when set to non-default values;
// it is only meaningful when Allow is true.
type Decision struct {
	Allow            bool
	RestrictedFields []string
}

// FieldRestricted reports whether the named field is restricted for the actor.
func (d Decision) FieldRestricted(name string) bool {
	for _, f := range d.RestrictedFields {
		if f == name {
			return true
		}
	}
	return false
}

var (
	allow = Decision{Allow: true}
	deny  = Decision{}
)

func allowRestricted(fields ...string) Decision {
	return Decision{Allow: true, RestrictedFields: fields}
}

func (r CaseRef) assignedTo(actorID string) bool {
	return r.AssignedJudgeID != nil && *r.AssignedJudgeID == actorID
}
