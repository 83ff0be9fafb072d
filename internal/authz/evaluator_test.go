package authz

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gestion-judicial/casefile-api/internal/models"
)

func strPtr(s string) *string { return &s }

func TestCheckMatrix(t *testing.T) {
	e := NewEvaluator()

	ownCase := CaseRef{OwnerID: "actor"}
	otherCase := CaseRef{OwnerID: "someone-else"}
	assignedCase := CaseRef{OwnerID: "someone-else", AssignedJudgeID: strPtr("actor")}
	unassignedCase := CaseRef{OwnerID: "someone-else", AssignedJudgeID: strPtr("other-judge")}

	tests := []struct {
		name   string
		role   models.UserRole
		res    CaseRef
		action Action
		allow  bool
	}{
		{"admin read any", models.RoleAdmin, otherCase, ActionRead, true},
		{"admin update any", models.RoleAdmin, otherCase, ActionUpdate, true},
		{"admin assign", models.RoleAdmin, otherCase, ActionAssignJudge, true},
		{"admin delete", models.RoleAdmin, otherCase, ActionDelete, true},
		{"clerk read any", models.RoleClerk, otherCase, ActionRead, true},
		{"clerk assign", models.RoleClerk, otherCase, ActionAssignJudge, true},
		{"clerk delete", models.RoleClerk, otherCase, ActionDelete, true},

		{"judge read assigned", models.RoleJudge, assignedCase, ActionRead, true},
		{"judge read unassigned", models.RoleJudge, unassignedCase, ActionRead, false},
		{"judge read no judge", models.RoleJudge, otherCase, ActionRead, false},
		{"judge update assigned", models.RoleJudge, assignedCase, ActionUpdate, true},
		{"judge update unassigned", models.RoleJudge, unassignedCase, ActionUpdate, false},
		{"judge assign", models.RoleJudge, assignedCase, ActionAssignJudge, false},
		{"judge delete", models.RoleJudge, assignedCase, ActionDelete, false},

		{"lawyer read own", models.RoleLawyer, ownCase, ActionRead, true},
		{"lawyer read other", models.RoleLawyer, otherCase, ActionRead, false},
		{"lawyer update own", models.RoleLawyer, ownCase, ActionUpdate, true},
		{"lawyer update other", models.RoleLawyer, otherCase, ActionUpdate, false},
		{"lawyer assign", models.RoleLawyer, ownCase, ActionAssignJudge, false},
		{"lawyer delete own", models.RoleLawyer, ownCase, ActionDelete, false},

		{"citizen read own", models.RoleCitizen, ownCase, ActionRead, true},
		{"citizen read other", models.RoleCitizen, otherCase, ActionRead, false},
		{"citizen update own", models.RoleCitizen, ownCase, ActionUpdate, true},
		{"citizen delete own", models.RoleCitizen, ownCase, ActionDelete, false},

		{"unknown role denied", models.UserRole("SUPERVISOR"), ownCase, ActionRead, false},
		{"empty role denied", models.UserRole(""), ownCase, ActionRead, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := e.Check(Actor{ID: "actor", Role: tt.role}, tt.res, tt.action)
			assert.Equal(t, tt.allow, d.Allow)
		})
	}
}

func TestCheckIsDeterministic(t *testing.T) {
	e := NewEvaluator()
	actor := Actor{ID: "j1", Role: models.RoleJudge}
	res := CaseRef{OwnerID: "o1", AssignedJudgeID: strPtr("j1")}
	first := e.Check(actor, res, ActionUpdate)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, e.Check(actor, res, ActionUpdate))
	}
}

func TestCheckCreateRestrictions(t *testing.T) {
	e := NewEvaluator()

	d := e.CheckCreate(Actor{ID: "a1", Role: models.RoleAdmin})
	require.True(t, d.Allow)
	assert.Empty(t, d.RestrictedFields)

	d = e.CheckCreate(Actor{ID: "c1", Role: models.RoleClerk})
	require.True(t, d.Allow)
	assert.Empty(t, d.RestrictedFields)

	for _, role := range []models.UserRole{models.RoleLawyer, models.RoleCitizen} {
		d = e.CheckCreate(Actor{ID: "u1", Role: role})
		require.True(t, d.Allow, string(role))
		assert.True(t, d.FieldRestricted(FieldStatus))
		assert.True(t, d.FieldRestricted(FieldAssignedJudge))
	}

	d = e.CheckCreate(Actor{ID: "j1", Role: models.RoleJudge})
	assert.False(t, d.Allow)
}

func TestJudgeUpdateAllowsStatusOnly(t *testing.T) {
	e := NewEvaluator()
	d := e.Check(Actor{ID: "j1", Role: models.RoleJudge}, CaseRef{OwnerID: "o1", AssignedJudgeID: strPtr("j1")}, ActionUpdate)
	require.True(t, d.Allow)
	assert.False(t, d.FieldRestricted(FieldStatus))
	assert.True(t, d.FieldRestricted(FieldAssignedJudge))
}

func TestListScope(t *testing.T) {
	e := NewEvaluator()

	scope, d := e.ListScope(Actor{ID: "a1", Role: models.RoleAdmin})
	require.True(t, d.Allow)
	assert.True(t, scope.All)

	scope, d = e.ListScope(Actor{ID: "j1", Role: models.RoleJudge})
	require.True(t, d.Allow)
	assert.False(t, scope.All)
	assert.Equal(t, "j1", scope.JudgeID)
	assert.Empty(t, scope.OwnerID)

	scope, d = e.ListScope(Actor{ID: "c1", Role: models.RoleCitizen})
	require.True(t, d.Allow)
	assert.False(t, scope.All)
	assert.Equal(t, "c1", scope.OwnerID)

	_, d = e.ListScope(Actor{ID: "x", Role: models.UserRole("AUDITOR")})
	assert.False(t, d.Allow)
}

func TestCheckDocumentInheritsCaseScope(t *testing.T) {
	e := NewEvaluator()

	attached := DocumentRef{UploadedBy: "u1", Case: &CaseRef{OwnerID: "owner-1"}}
	d := e.CheckDocument(Actor{ID: "owner-1", Role: models.RoleCitizen}, attached, ActionRead)
	assert.True(t, d.Allow)

	d = e.CheckDocument(Actor{ID: "stranger", Role: models.RoleCitizen}, attached, ActionRead)
	assert.False(t, d.Allow)

	unattached := DocumentRef{UploadedBy: "u1"}
	d = e.CheckDocument(Actor{ID: "u1", Role: models.RoleLawyer}, unattached, ActionRead)
	assert.True(t, d.Allow)

	d = e.CheckDocument(Actor{ID: "u2", Role: models.RoleLawyer}, unattached, ActionRead)
	assert.False(t, d.Allow)

	d = e.CheckDocument(Actor{ID: "clerk-1", Role: models.RoleClerk}, unattached, ActionRead)
	assert.True(t, d.Allow)
}

func TestCheckDocumentAttachRequiresCaseVisibility(t *testing.T) {
	e := NewEvaluator()

	judgeID := "judge-1"
	attached := DocumentRef{Case: &CaseRef{OwnerID: "owner-1", AssignedJudgeID: &judgeID}}

	d := e.CheckDocument(Actor{ID: "owner-1", Role: models.RoleLawyer}, attached, ActionCreate)
	assert.True(t, d.Allow)

	d = e.CheckDocument(Actor{ID: "judge-1", Role: models.RoleJudge}, attached, ActionCreate)
	assert.True(t, d.Allow)

	d = e.CheckDocument(Actor{ID: "stranger", Role: models.RoleCitizen}, attached, ActionCreate)
	assert.False(t, d.Allow)

	d = e.CheckDocument(Actor{ID: "anyone", Role: models.RoleCitizen}, DocumentRef{}, ActionCreate)
	assert.True(t, d.Allow)
}

func TestAdministrativeGates(t *testing.T) {
	e := NewEvaluator()

	assert.True(t, e.CanManageUsers(Actor{Role: models.RoleAdmin}))
	assert.True(t, e.CanManageUsers(Actor{Role: models.RoleClerk}))
	assert.False(t, e.CanManageUsers(Actor{Role: models.RoleJudge}))
	assert.False(t, e.CanManageUsers(Actor{Role: models.UserRole("ROOT")}))

	assert.True(t, e.CanDeleteUsers(Actor{Role: models.RoleAdmin}))
	assert.False(t, e.CanDeleteUsers(Actor{Role: models.RoleClerk}))

	assert.True(t, e.CanViewAudit(Actor{Role: models.RoleClerk}))
	assert.False(t, e.CanViewAudit(Actor{Role: models.RoleLawyer}))

	assert.True(t, e.CanPurgeAudit(Actor{Role: models.RoleAdmin}))
	assert.False(t, e.CanPurgeAudit(Actor{Role: models.RoleClerk}))
}
