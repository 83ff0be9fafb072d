package service

import (
	"context"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/gestion-judicial/casefile-api/internal/models"
	appErrors "github.com/gestion-judicial/casefile-api/pkg/errors"
)

type mockLoadRepo struct {
	loads []models.AssigneeLoad
	err   error
}

func (m *mockLoadRepo) AssignmentLoads(ctx context.Context, q sqlx.ExtContext, roles []models.UserRole) ([]models.AssigneeLoad, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.loads, nil
}

func TestSelectAssigneePicksLowestLoad(t *testing.T) {
	repo := &mockLoadRepo{loads: []models.AssigneeLoad{
		{UserID: "j1", Load: 4},
		{UserID: "j2", Load: 1},
		{UserID: "j3", Load: 3},
	}}
	svc := NewAssignmentService(repo, zap.NewNop())

	assignee, err := svc.SelectAssignee(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "j2", assignee)
}

func TestSelectAssigneeTieBreaksOnLowestID(t *testing.T) {
	// Rows arrive ordered by id; equal loads keep the earliest.
	repo := &mockLoadRepo{loads: []models.AssigneeLoad{
		{UserID: "j1", Load: 2},
		{UserID: "j2", Load: 2},
		{UserID: "j3", Load: 2},
	}}
	svc := NewAssignmentService(repo, zap.NewNop())

	assignee, err := svc.SelectAssignee(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "j1", assignee)
}

func TestSelectAssigneeDeterministic(t *testing.T) {
	repo := &mockLoadRepo{loads: []models.AssigneeLoad{
		{UserID: "j1", Load: 5},
		{UserID: "j2", Load: 0},
	}}
	svc := NewAssignmentService(repo, zap.NewNop())

	first, err := svc.SelectAssignee(context.Background(), nil)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		next, err := svc.SelectAssignee(context.Background(), nil)
		require.NoError(t, err)
		assert.Equal(t, first, next)
	}
}

func TestSelectAssigneeNoCandidates(t *testing.T) {
	svc := NewAssignmentService(&mockLoadRepo{}, zap.NewNop())

	_, err := svc.SelectAssignee(context.Background(), nil)
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrNoEligibleAssignee))
}
