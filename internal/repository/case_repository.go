package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/gestion-judicial/casefile-api/internal/models"
)

const caseColumns = `id, case_number, title, description, case_type, status, owner_id, assigned_judge_id, closed_at, created_at, updated_at`

// IsUniqueViolation reports whether err is a PostgreSQL unique-constraint
// violation (error code 23505).
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}

// CaseRepository persists judicial case files. Mutating methods accept a
// sqlx.ExtContext so they run against either the pool or an open
// transaction; the lifecycle service always passes its transaction so the
// case write and its audit entry commit or roll back together.
type CaseRepository struct {
	db *sqlx.DB
}

// NewCaseRepository constructs the repository.
func NewCaseRepository(db *sqlx.DB) *CaseRepository {
	return &CaseRepository{db: db}
}

// Create inserts a new case row.
func (r *CaseRepository) Create(ctx context.Context, q sqlx.ExtContext, c *models.Case) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now

	const query = `INSERT INTO cases (id, case_number, title, description, case_type, status, owner_id, assigned_judge_id, closed_at, created_at, updated_at)
	VALUES (:id, :case_number, :title, :description, :case_type, :status, :owner_id, :assigned_judge_id, :closed_at, :created_at, :updated_at)`
	if _, err := sqlx.NamedExecContext(ctx, q, query, c); err != nil {
		if IsUniqueViolation(err) {
			return err
		}
		return fmt.Errorf("create case: %w", err)
	}
	return nil
}

// GetByID fetches a case by identifier.
func (r *CaseRepository) GetByID(ctx context.Context, id string) (*models.Case, error) {
	query := fmt.Sprintf(`SELECT %s FROM cases WHERE id = $1 LIMIT 1`, caseColumns)
	var c models.Case
	if err := r.db.GetContext(ctx, &c, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find case by id: %w", err)
	}
	return &c, nil
}

// NextSequence computes the next daily sequence number for the given
// case-number prefix (e.g. "CAS-20250101"). It reads the current day's
// maximum inside the caller's transaction; the unique constraint on
// case_number is the final arbiter under concurrency.
func (r *CaseRepository) NextSequence(ctx context.Context, q sqlx.ExtContext, prefix string) (int, error) {
	const query = `SELECT case_number FROM cases WHERE case_number LIKE $1 ORDER BY case_number DESC LIMIT 1`
	var last string
	if err := sqlx.GetContext(ctx, q, &last, query, prefix+"-%"); err != nil {
		if err == sql.ErrNoRows {
			return 1, nil
		}
		return 0, fmt.Errorf("read last case number: %w", err)
	}

	parts := strings.Split(last, "-")
	seq, err := strconv.Atoi(parts[len(parts)-1])
	if err != nil {
		return 0, fmt.Errorf("parse case number %q: %w", last, err)
	}
	return seq + 1, nil
}

// List returns cases matching the filter with total count. The scope is
// always compiled into the WHERE clause; unscoped rows never leave the
// database.
func (r *CaseRepository) List(ctx context.Context, filter models.CaseFilter) ([]models.Case, int, error) {
	baseQuery := `FROM cases WHERE 1=1`
	var conditions []string
	var args []interface{}

	if !filter.Scope.All {
		var scopeParts []string
		if filter.Scope.OwnerID != "" {
			scopeParts = append(scopeParts, fmt.Sprintf("owner_id = $%d", len(args)+1))
			args = append(args, filter.Scope.OwnerID)
		}
		if filter.Scope.JudgeID != "" {
			scopeParts = append(scopeParts, fmt.Sprintf("assigned_judge_id = $%d", len(args)+1))
			args = append(args, filter.Scope.JudgeID)
		}
		if len(scopeParts) == 0 {
			// An empty non-All scope matches nothing; fail closed.
			return []models.Case{}, 0, nil
		}
		conditions = append(conditions, "("+strings.Join(scopeParts, " OR ")+")")
	}

	if filter.Status != nil {
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)+1))
		args = append(args, *filter.Status)
	}
	if filter.CaseType != "" {
		conditions = append(conditions, fmt.Sprintf("case_type = $%d", len(args)+1))
		args = append(args, filter.CaseType)
	}
	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("(LOWER(title) LIKE $%d OR LOWER(case_number) LIKE $%d)", len(args)+1, len(args)+1))
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
	}

	if len(conditions) > 0 {
		baseQuery += " AND " + strings.Join(conditions, " AND ")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	listQuery := fmt.Sprintf("SELECT %s %s ORDER BY created_at DESC LIMIT %d OFFSET %d", caseColumns, baseQuery, pageSize, offset)

	var cases []models.Case
	if err := r.db.SelectContext(ctx, &cases, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("list cases: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", baseQuery)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count cases: %w", err)
	}

	return cases, total, nil
}

// UpdateStatus performs the compare-and-swap status write: the row is
// updated only when its status still equals the value the caller just read.
// Returns the number of rows affected; zero means another writer got there
// first (or the row vanished).
func (r *CaseRepository) UpdateStatus(ctx context.Context, q sqlx.ExtContext, id string, from, to models.CaseStatus, closedAt *time.Time) (int64, error) {
	const query = `UPDATE cases SET status = $3, closed_at = $4, updated_at = $5 WHERE id = $1 AND status = $2`
	res, err := q.ExecContext(ctx, query, id, from, to, closedAt, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("update case status: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("update case status rows: %w", err)
	}
	return rows, nil
}

// UpdateAssignee sets the assigned judge for a case.
func (r *CaseRepository) UpdateAssignee(ctx context.Context, q sqlx.ExtContext, id string, assigneeID *string) error {
	const query = `UPDATE cases SET assigned_judge_id = $2, updated_at = $3 WHERE id = $1`
	if _, err := q.ExecContext(ctx, query, id, assigneeID, time.Now().UTC()); err != nil {
		return fmt.Errorf("update case assignee: %w", err)
	}
	return nil
}

// Update persists mutable body fields (title, description, case_type).
// Status and assignment have dedicated, guarded paths.
func (r *CaseRepository) Update(ctx context.Context, q sqlx.ExtContext, c *models.Case) error {
	c.UpdatedAt = time.Now().UTC()
	const query = `UPDATE cases SET title = :title, description = :description, case_type = :case_type, updated_at = :updated_at WHERE id = :id`
	if _, err := sqlx.NamedExecContext(ctx, q, query, c); err != nil {
		return fmt.Errorf("update case: %w", err)
	}
	return nil
}

// Delete removes a case row.
func (r *CaseRepository) Delete(ctx context.Context, q sqlx.ExtContext, id string) error {
	const query = `DELETE FROM cases WHERE id = $1`
	if _, err := q.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("delete case: %w", err)
	}
	return nil
}

// AssignmentLoads returns every active user holding one of the given roles
// together with their count of pending cases, ordered by user id.
func (r *CaseRepository) AssignmentLoads(ctx context.Context, q sqlx.ExtContext, roles []models.UserRole) ([]models.AssigneeLoad, error) {
	if len(roles) == 0 {
		return nil, nil
	}

	placeholders := make([]string, len(roles))
	args := make([]interface{}, 0, len(roles))
	for i, role := range roles {
		args = append(args, role)
		placeholders[i] = fmt.Sprintf("$%d", len(args))
	}

	query := fmt.Sprintf(`SELECT u.id AS user_id, COUNT(c.id) AS load
	FROM users u
	LEFT JOIN cases c ON c.assigned_judge_id = u.id AND c.status IN ('OPEN', 'IN_PROGRESS', 'UNDER_REVIEW')
	WHERE u.role IN (%s) AND u.active = TRUE
	GROUP BY u.id
	ORDER BY u.id ASC`, strings.Join(placeholders, ","))

	var loads []models.AssigneeLoad
	if err := sqlx.SelectContext(ctx, q, &loads, query, args...); err != nil {
		return nil, fmt.Errorf("assignment loads: %w", err)
	}
	return loads, nil
}

// Statistics aggregates case counts by status and the average processing
// time for closed cases, constrained by the caller's scope.
func (r *CaseRepository) Statistics(ctx context.Context, scope models.CaseScope) (*models.CaseStatistics, error) {
	baseQuery := `FROM cases WHERE 1=1`
	var args []interface{}

	if !scope.All {
		var scopeParts []string
		if scope.OwnerID != "" {
			scopeParts = append(scopeParts, fmt.Sprintf("owner_id = $%d", len(args)+1))
			args = append(args, scope.OwnerID)
		}
		if scope.JudgeID != "" {
			scopeParts = append(scopeParts, fmt.Sprintf("assigned_judge_id = $%d", len(args)+1))
			args = append(args, scope.JudgeID)
		}
		if len(scopeParts) == 0 {
			return &models.CaseStatistics{CasesByStatus: map[models.CaseStatus]int{}, GeneratedAt: time.Now().UTC()}, nil
		}
		baseQuery += " AND (" + strings.Join(scopeParts, " OR ") + ")"
	}

	type statusCount struct {
		Status models.CaseStatus `db:"status"`
		Count  int               `db:"count"`
	}
	var counts []statusCount
	statusQuery := fmt.Sprintf("SELECT status, COUNT(*) AS count %s GROUP BY status", baseQuery)
	if err := r.db.SelectContext(ctx, &counts, statusQuery, args...); err != nil {
		return nil, fmt.Errorf("case status counts: %w", err)
	}

	stats := &models.CaseStatistics{
		CasesByStatus: make(map[models.CaseStatus]int, len(counts)),
		GeneratedAt:   time.Now().UTC(),
	}
	for _, sc := range counts {
		stats.CasesByStatus[sc.Status] = sc.Count
		stats.TotalCases += sc.Count
	}

	avgQuery := fmt.Sprintf("SELECT COALESCE(AVG(EXTRACT(EPOCH FROM (closed_at - created_at)) / 86400), 0) %s AND closed_at IS NOT NULL", baseQuery)
	if err := r.db.GetContext(ctx, &stats.AvgProcessingDays, avgQuery, args...); err != nil {
		return nil, fmt.Errorf("case processing average: %w", err)
	}

	return stats, nil
}
