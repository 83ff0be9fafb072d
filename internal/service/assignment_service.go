package service

import (
	"context"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/gestion-judicial/casefile-api/internal/models"
	appErrors "github.com/gestion-judicial/casefile-api/pkg/errors"
)

type assignmentLoadRepository interface {
	AssignmentLoads(ctx context.Context, q sqlx.ExtContext, roles []models.UserRole) ([]models.AssigneeLoad, error)
}

// AssignmentService picks the judge to assign a new case to. Load is the
// count of pending cases (OPEN, IN_PROGRESS, UNDER_REVIEW) already assigned
// to each candidate; the candidate with the lowest load wins, and ties break
// on the lowest user id so repeated runs over the same data pick the same
// judge.
type AssignmentService struct {
	repo   assignmentLoadRepository
	logger *zap.Logger
}

// NewAssignmentService creates an instance of AssignmentService.
func NewAssignmentService(repo assignmentLoadRepository, logger *zap.Logger) *AssignmentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AssignmentService{repo: repo, logger: logger}
}

// SelectAssignee returns the id of the least-loaded active judge. Callers
// assigning inside a transaction pass it as q so the load snapshot and the
// assignment write share one view of the data.
func (s *AssignmentService) SelectAssignee(ctx context.Context, q sqlx.ExtContext) (string, error) {
	loads, err := s.repo.AssignmentLoads(ctx, q, []models.UserRole{models.RoleJudge})
	if err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load assignment candidates")
	}
	if len(loads) == 0 {
		return "", appErrors.ErrNoEligibleAssignee
	}

	// Rows arrive ordered by user id, so the first minimum is the tie winner.
	best := loads[0]
	for _, candidate := range loads[1:] {
		if candidate.Load < best.Load {
			best = candidate
		}
	}

	s.logger.Debug("selected assignee",
		zap.String("user_id", best.UserID),
		zap.Int("load", best.Load),
		zap.Int("candidates", len(loads)))
	return best.UserID, nil
}
