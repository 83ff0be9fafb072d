package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/gestion-judicial/casefile-api/internal/authz"
	"github.com/gestion-judicial/casefile-api/internal/models"
	"github.com/gestion-judicial/casefile-api/internal/repository"
	"github.com/gestion-judicial/casefile-api/pkg/config"
	appErrors "github.com/gestion-judicial/casefile-api/pkg/errors"
)

type caseRepository interface {
	Create(ctx context.Context, q sqlx.ExtContext, c *models.Case) error
	GetByID(ctx context.Context, id string) (*models.Case, error)
	NextSequence(ctx context.Context, q sqlx.ExtContext, prefix string) (int, error)
	List(ctx context.Context, filter models.CaseFilter) ([]models.Case, int, error)
	UpdateStatus(ctx context.Context, q sqlx.ExtContext, id string, from, to models.CaseStatus, closedAt *time.Time) (int64, error)
	UpdateAssignee(ctx context.Context, q sqlx.ExtContext, id string, assigneeID *string) error
	Update(ctx context.Context, q sqlx.ExtContext, c *models.Case) error
	Delete(ctx context.Context, q sqlx.ExtContext, id string) error
	Statistics(ctx context.Context, scope models.CaseScope) (*models.CaseStatistics, error)
}

type caseUserLookup interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

type auditRecorder interface {
	Record(ctx context.Context, q sqlx.ExtContext, log *models.AuditLog) error
	RecordDenied(ctx context.Context, actorID, action, resource string, resourceID *string, meta models.RequestMeta)
}

type assigneeSelector interface {
	SelectAssignee(ctx context.Context, q sqlx.ExtContext) (string, error)
}

type caseNotifier interface {
	CaseCreated(c *models.Case)
	CaseStatusChanged(c *models.Case, previous models.CaseStatus)
	CaseAssigned(c *models.Case)
}

// CreateCaseRequest is the payload for opening a new case file. Status and
// AssignedJudgeID are privileged: actors whose role restricts them get a
// rejection, never a silent downgrade.
type CreateCaseRequest struct {
	Title           string            `json:"title" validate:"required,min=5,max=200"`
	Description     string            `json:"description" validate:"max=5000"`
	CaseType        string            `json:"case_type" validate:"required,oneof=CIVIL CRIMINAL LABOR FAMILY ADMINISTRATIVE"`
	Status          models.CaseStatus `json:"status" validate:"omitempty,oneof=DRAFT OPEN"`
	AssignedJudgeID *string           `json:"assigned_judge_id"`
}

// UpdateCaseRequest carries the mutable body fields of a case.
type UpdateCaseRequest struct {
	Title       string `json:"title" validate:"required,min=5,max=200"`
	Description string `json:"description" validate:"max=5000"`
	CaseType    string `json:"case_type" validate:"required,oneof=CIVIL CRIMINAL LABOR FAMILY ADMINISTRATIVE"`
}

// UpdateCaseStatusRequest moves a case along the lifecycle graph.
type UpdateCaseStatusRequest struct {
	Status models.CaseStatus `json:"status" validate:"required"`
}

// AssignCaseRequest sets or replaces the assigned judge. A nil AssigneeID
// asks the balancer to pick the least-loaded judge.
type AssignCaseRequest struct {
	AssigneeID *string `json:"assignee_id"`
}

const statsCacheKey = "cases:stats"

// CaseService owns the case lifecycle: numbering, the status graph,
// assignment and the audit coupling. Every mutation runs as one transaction
// holding the case write and its audit entry; notifications and cache
// invalidation happen only after commit.
type CaseService struct {
	db        *sqlx.DB
	repo      caseRepository
	users     caseUserLookup
	evaluator *authz.Evaluator
	audit     auditRecorder
	balancer  assigneeSelector
	notifier  caseNotifier
	cache     *redis.Client
	metrics   *MetricsService
	cfg       config.CasesConfig
	validator *validator.Validate
	logger    *zap.Logger
}

// NewCaseService creates an instance of CaseService. notifier, cache and
// metrics may be nil when the deployment disables them.
func NewCaseService(
	db *sqlx.DB,
	repo caseRepository,
	users caseUserLookup,
	evaluator *authz.Evaluator,
	audit auditRecorder,
	balancer assigneeSelector,
	notifier caseNotifier,
	cache *redis.Client,
	metrics *MetricsService,
	cfg config.CasesConfig,
	validate *validator.Validate,
	logger *zap.Logger,
) *CaseService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if cfg.NumberMaxRetries <= 0 {
		cfg.NumberMaxRetries = 3
	}
	return &CaseService{
		db:        db,
		repo:      repo,
		users:     users,
		evaluator: evaluator,
		audit:     audit,
		balancer:  balancer,
		notifier:  notifier,
		cache:     cache,
		metrics:   metrics,
		cfg:       cfg,
		validator: validate,
		logger:    logger,
	}
}

// Create opens a new case file. The case number is allocated inside the
// transaction from the day's maximum; when a concurrent writer takes the
// same number, the unique constraint fires and the whole transaction is
// retried with a fresh read.
func (s *CaseService) Create(ctx context.Context, actor authz.Actor, req CreateCaseRequest, meta models.RequestMeta) (*models.Case, error) {
	decision := s.evaluator.CheckCreate(actor)
	if !decision.Allow {
		s.denied(ctx, actor.ID, models.AuditActionCaseCreate, nil, meta)
		return nil, appErrors.Clone(appErrors.ErrForbidden, "role may not create cases")
	}

	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid create case payload")
	}

	if decision.FieldRestricted(authz.FieldStatus) && req.Status != "" {
		s.denied(ctx, actor.ID, models.AuditActionCaseCreate, nil, meta)
		return nil, appErrors.Clone(appErrors.ErrForbidden, "role may not set case status")
	}
	if decision.FieldRestricted(authz.FieldAssignedJudge) && req.AssignedJudgeID != nil {
		s.denied(ctx, actor.ID, models.AuditActionCaseCreate, nil, meta)
		return nil, appErrors.Clone(appErrors.ErrForbidden, "role may not assign a judge")
	}

	status := req.Status
	if status == "" {
		status = models.CaseStatusDraft
	}

	if req.AssignedJudgeID != nil {
		if err := s.validateAssignee(ctx, *req.AssignedJudgeID); err != nil {
			return nil, err
		}
	}

	var created *models.Case
	for attempt := 0; attempt <= s.cfg.NumberMaxRetries; attempt++ {
		c, err := s.createOnce(ctx, actor, req, status, meta)
		if err != nil {
			if repository.IsUniqueViolation(err) {
				s.metrics.RecordNumberRetry()
				s.logger.Debug("case number collision, retrying", zap.Int("attempt", attempt+1))
				continue
			}
			return nil, err
		}
		created = c
		break
	}
	if created == nil {
		return nil, appErrors.Clone(appErrors.ErrConflict, "could not allocate a case number, try again")
	}

	s.metrics.RecordCaseCreated(created.CaseType)
	if created.AssignedJudgeID != nil {
		s.metrics.RecordAssignment()
	}
	s.invalidateStats(ctx)
	if s.notifier != nil {
		s.notifier.CaseCreated(created)
		if created.AssignedJudgeID != nil {
			s.notifier.CaseAssigned(created)
		}
	}
	return created, nil
}

// createOnce runs one numbering attempt as a full transaction. A unique
// violation on case_number is returned raw so the caller can retry.
func (s *CaseService) createOnce(ctx context.Context, actor authz.Actor, req CreateCaseRequest, status models.CaseStatus, meta models.RequestMeta) (*models.Case, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to begin transaction")
	}
	defer tx.Rollback()

	prefix := "CAS-" + time.Now().UTC().Format("20060102")
	seq, err := s.repo.NextSequence(ctx, tx, prefix)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to allocate case number")
	}

	c := &models.Case{
		CaseNumber:      fmt.Sprintf("%s-%04d", prefix, seq),
		Title:           req.Title,
		Description:     req.Description,
		CaseType:        req.CaseType,
		Status:          status,
		OwnerID:         actor.ID,
		AssignedJudgeID: req.AssignedJudgeID,
	}

	if c.AssignedJudgeID == nil && s.cfg.AutoAssign {
		assignee, err := s.balancer.SelectAssignee(ctx, tx)
		switch {
		case err == nil:
			c.AssignedJudgeID = &assignee
		case appErrors.Is(err, appErrors.ErrNoEligibleAssignee):
			// No judge available: the case stays unassigned rather than
			// failing the filing.
			s.logger.Info("no eligible judge for auto-assignment", zap.String("case_number", c.CaseNumber))
		default:
			return nil, err
		}
	}

	if err := s.repo.Create(ctx, tx, c); err != nil {
		return nil, err
	}

	newPayload, _ := json.Marshal(map[string]interface{}{
		"case_number": c.CaseNumber,
		"title":       c.Title,
		"case_type":   c.CaseType,
		"status":      c.Status,
	})
	if err := s.audit.Record(ctx, tx, &models.AuditLog{
		UserID:     &actor.ID,
		Action:     models.AuditActionCaseCreate,
		Resource:   "cases",
		ResourceID: &c.ID,
		NewValues:  newPayload,
		IPAddress:  meta.IP,
		UserAgent:  meta.UserAgent,
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit case")
	}
	return c, nil
}

// Get returns a case the actor is allowed to read.
func (s *CaseService) Get(ctx context.Context, actor authz.Actor, id string) (*models.Case, error) {
	c, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	decision := s.evaluator.Check(actor, caseRefOf(c), authz.ActionRead)
	if !decision.Allow {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "access to this case is denied")
	}
	return c, nil
}

// List returns cases within the actor's scope. The scope is part of the
// query; rows outside it are never read.
func (s *CaseService) List(ctx context.Context, actor authz.Actor, filter models.CaseFilter) ([]models.Case, *models.Pagination, error) {
	scope, decision := s.evaluator.ListScope(actor)
	if !decision.Allow {
		return nil, nil, appErrors.Clone(appErrors.ErrForbidden, "role may not list cases")
	}
	filter.Scope = scope

	if filter.PageSize <= 0 {
		filter.PageSize = s.cfg.DefaultListPageSz
	}

	cases, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list cases")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	return cases, &models.Pagination{Page: page, PageSize: pageSize, TotalCount: total}, nil
}

// Update modifies the body fields of a case.
func (s *CaseService) Update(ctx context.Context, actor authz.Actor, id string, req UpdateCaseRequest, meta models.RequestMeta) (*models.Case, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid update payload")
	}

	c, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	decision := s.evaluator.Check(actor, caseRefOf(c), authz.ActionUpdate)
	if !decision.Allow {
		s.denied(ctx, actor.ID, models.AuditActionCaseUpdate, &c.ID, meta)
		return nil, appErrors.Clone(appErrors.ErrForbidden, "access to this case is denied")
	}

	oldPayload, _ := json.Marshal(map[string]interface{}{"title": c.Title, "description": c.Description, "case_type": c.CaseType})
	c.Title = req.Title
	c.Description = req.Description
	c.CaseType = req.CaseType
	newPayload, _ := json.Marshal(map[string]interface{}{"title": c.Title, "description": c.Description, "case_type": c.CaseType})

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to begin transaction")
	}
	defer tx.Rollback()

	if err := s.repo.Update(ctx, tx, c); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update case")
	}
	if err := s.audit.Record(ctx, tx, &models.AuditLog{
		UserID:     &actor.ID,
		Action:     models.AuditActionCaseUpdate,
		Resource:   "cases",
		ResourceID: &c.ID,
		OldValues:  oldPayload,
		NewValues:  newPayload,
		IPAddress:  meta.IP,
		UserAgent:  meta.UserAgent,
	}); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit case update")
	}

	return c, nil
}

// UpdateStatus moves a case to a new lifecycle state. The write is a
// compare-and-swap against the status the actor just saw; losing the race
// surfaces as a conflict, never a silently overwritten transition.
func (s *CaseService) UpdateStatus(ctx context.Context, actor authz.Actor, id string, req UpdateCaseStatusRequest, meta models.RequestMeta) (*models.Case, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid status payload")
	}
	if !models.ValidCaseStatus(req.Status) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown case status")
	}

	c, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	decision := s.evaluator.Check(actor, caseRefOf(c), authz.ActionUpdate)
	if !decision.Allow || decision.FieldRestricted(authz.FieldStatus) {
		s.denied(ctx, actor.ID, models.AuditActionCaseStatusUpdate, &c.ID, meta)
		return nil, appErrors.Clone(appErrors.ErrForbidden, "role may not change case status")
	}

	from := c.Status
	to := req.Status
	if !models.CanTransition(from, to) {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, fmt.Sprintf("cannot transition from %s to %s", from, to))
	}

	closedAt := c.ClosedAt
	switch {
	case to == models.CaseStatusClosed:
		now := time.Now().UTC()
		closedAt = &now
	case from == models.CaseStatusArchived && to == models.CaseStatusOpen:
		// Reopening clears the closure stamp.
		closedAt = nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to begin transaction")
	}
	defer tx.Rollback()

	rows, err := s.repo.UpdateStatus(ctx, tx, c.ID, from, to, closedAt)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update case status")
	}
	if rows == 0 {
		return nil, appErrors.Clone(appErrors.ErrConflict, "case was modified concurrently, reload and retry")
	}

	oldPayload, _ := json.Marshal(map[string]interface{}{"status": from})
	newPayload, _ := json.Marshal(map[string]interface{}{"status": to})
	if err := s.audit.Record(ctx, tx, &models.AuditLog{
		UserID:     &actor.ID,
		Action:     models.AuditActionCaseStatusUpdate,
		Resource:   "cases",
		ResourceID: &c.ID,
		OldValues:  oldPayload,
		NewValues:  newPayload,
		IPAddress:  meta.IP,
		UserAgent:  meta.UserAgent,
	}); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit status update")
	}

	c.Status = to
	c.ClosedAt = closedAt

	s.metrics.RecordTransition(from, to)
	s.invalidateStats(ctx)
	if s.notifier != nil {
		s.notifier.CaseStatusChanged(c, from)
	}
	return c, nil
}

// Assign sets the assigned judge, either explicitly or via the balancer
// when no assignee is named.
func (s *CaseService) Assign(ctx context.Context, actor authz.Actor, id string, req AssignCaseRequest, meta models.RequestMeta) (*models.Case, error) {
	c, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	decision := s.evaluator.Check(actor, caseRefOf(c), authz.ActionAssignJudge)
	if !decision.Allow {
		s.denied(ctx, actor.ID, models.AuditActionCaseAssign, &c.ID, meta)
		return nil, appErrors.Clone(appErrors.ErrForbidden, "role may not assign judges")
	}

	if req.AssigneeID != nil {
		if err := s.validateAssignee(ctx, *req.AssigneeID); err != nil {
			return nil, err
		}
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to begin transaction")
	}
	defer tx.Rollback()

	assigneeID := req.AssigneeID
	if assigneeID == nil {
		selected, err := s.balancer.SelectAssignee(ctx, tx)
		if err != nil {
			return nil, err
		}
		assigneeID = &selected
	}

	if err := s.repo.UpdateAssignee(ctx, tx, c.ID, assigneeID); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to assign case")
	}

	oldPayload, _ := json.Marshal(map[string]interface{}{"assigned_judge_id": c.AssignedJudgeID})
	newPayload, _ := json.Marshal(map[string]interface{}{"assigned_judge_id": assigneeID})
	if err := s.audit.Record(ctx, tx, &models.AuditLog{
		UserID:     &actor.ID,
		Action:     models.AuditActionCaseAssign,
		Resource:   "cases",
		ResourceID: &c.ID,
		OldValues:  oldPayload,
		NewValues:  newPayload,
		IPAddress:  meta.IP,
		UserAgent:  meta.UserAgent,
	}); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit assignment")
	}

	c.AssignedJudgeID = assigneeID
	s.metrics.RecordAssignment()
	if s.notifier != nil {
		s.notifier.CaseAssigned(c)
	}
	return c, nil
}

// Delete removes a case and records the removal.
func (s *CaseService) Delete(ctx context.Context, actor authz.Actor, id string, meta models.RequestMeta) error {
	c, err := s.load(ctx, id)
	if err != nil {
		return err
	}

	decision := s.evaluator.Check(actor, caseRefOf(c), authz.ActionDelete)
	if !decision.Allow {
		s.denied(ctx, actor.ID, models.AuditActionCaseDelete, &c.ID, meta)
		return appErrors.Clone(appErrors.ErrForbidden, "role may not delete cases")
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to begin transaction")
	}
	defer tx.Rollback()

	if err := s.repo.Delete(ctx, tx, c.ID); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete case")
	}

	oldPayload, _ := json.Marshal(map[string]interface{}{"case_number": c.CaseNumber, "status": c.Status})
	if err := s.audit.Record(ctx, tx, &models.AuditLog{
		UserID:     &actor.ID,
		Action:     models.AuditActionCaseDelete,
		Resource:   "cases",
		ResourceID: &c.ID,
		OldValues:  oldPayload,
		IPAddress:  meta.IP,
		UserAgent:  meta.UserAgent,
	}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit case delete")
	}

	s.invalidateStats(ctx)
	return nil
}

// Statistics aggregates case counts within the actor's scope. The unscoped
// aggregate is cached in Redis; scoped views are cheap enough to compute on
// demand.
func (s *CaseService) Statistics(ctx context.Context, actor authz.Actor) (*models.CaseStatistics, error) {
	scope, decision := s.evaluator.ListScope(actor)
	if !decision.Allow {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "role may not view statistics")
	}

	cacheable := scope.All && s.cfg.StatsCacheEnabled && s.cache != nil
	if cacheable {
		if raw, err := s.cache.Get(ctx, statsCacheKey).Bytes(); err == nil {
			var stats models.CaseStatistics
			if err := json.Unmarshal(raw, &stats); err == nil {
				return &stats, nil
			}
		}
	}

	stats, err := s.repo.Statistics(ctx, scope)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to aggregate case statistics")
	}

	if cacheable {
		if raw, err := json.Marshal(stats); err == nil {
			if err := s.cache.Set(ctx, statsCacheKey, raw, s.cfg.StatsCacheTTL).Err(); err != nil {
				s.logger.Warn("failed to cache case statistics", zap.Error(err))
			}
		}
	}
	return stats, nil
}

func (s *CaseService) denied(ctx context.Context, actorID, action string, resourceID *string, meta models.RequestMeta) {
	s.metrics.RecordDenied(action)
	s.audit.RecordDenied(ctx, actorID, action, "cases", resourceID, meta)
}

func (s *CaseService) load(ctx context.Context, id string) (*models.Case, error) {
	c, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "case not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load case")
	}
	return c, nil
}

func (s *CaseService) validateAssignee(ctx context.Context, assigneeID string) error {
	user, err := s.users.FindByID(ctx, assigneeID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrValidation, "assignee not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load assignee")
	}
	if user.Role != models.RoleJudge || !user.Active {
		return appErrors.Clone(appErrors.ErrValidation, "assignee must be an active judge")
	}
	return nil
}

func (s *CaseService) invalidateStats(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Del(ctx, statsCacheKey).Err(); err != nil {
		s.logger.Warn("failed to invalidate statistics cache", zap.Error(err))
	}
}

func caseRefOf(c *models.Case) authz.CaseRef {
	return authz.CaseRef{OwnerID: c.OwnerID, AssignedJudgeID: c.AssignedJudgeID}
}
