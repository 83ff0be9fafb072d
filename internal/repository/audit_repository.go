package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/gestion-judicial/casefile-api/internal/models"
)

const auditColumns = `id, user_id, action, resource, resource_id, old_values, new_values, ip_address, user_agent, status, created_at`

// AuditRepository persists the append-only audit trail. There is no update
// statement in this file on purpose: entries are immutable once written,
// and retention purges are the only delete path.
type AuditRepository struct {
	db *sqlx.DB
}

// NewAuditRepository constructs the repository.
func NewAuditRepository(db *sqlx.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Create appends an audit entry. Callers recording a mutation pass the
// mutation's own transaction so the entry commits (or rolls back) with it.
func (r *AuditRepository) Create(ctx context.Context, q sqlx.ExtContext, log *models.AuditLog) error {
	if log.ID == "" {
		log.ID = uuid.NewString()
	}
	if log.Status == "" {
		log.Status = models.AuditStatusSuccess
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO audit_logs (id, user_id, action, resource, resource_id, old_values, new_values, ip_address, user_agent, status, created_at)
	VALUES (:id, :user_id, :action, :resource, :resource_id, :old_values, :new_values, :ip_address, :user_agent, :status, :created_at)`
	if _, err := sqlx.NamedExecContext(ctx, q, query, log); err != nil {
		return fmt.Errorf("create audit log: %w", err)
	}
	return nil
}

// GetByID fetches a single entry.
func (r *AuditRepository) GetByID(ctx context.Context, id string) (*models.AuditLog, error) {
	query := fmt.Sprintf(`SELECT %s FROM audit_logs WHERE id = $1 LIMIT 1`, auditColumns)
	var log models.AuditLog
	if err := r.db.GetContext(ctx, &log, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find audit log by id: %w", err)
	}
	return &log, nil
}

// List returns entries matching the filter, newest first, with total count.
func (r *AuditRepository) List(ctx context.Context, filter models.AuditFilter) ([]models.AuditLog, int, error) {
	baseQuery := `FROM audit_logs WHERE 1=1`
	var conditions []string
	var args []interface{}

	if filter.Action != "" {
		conditions = append(conditions, fmt.Sprintf("action = $%d", len(args)+1))
		args = append(args, filter.Action)
	}
	if filter.Resource != "" {
		conditions = append(conditions, fmt.Sprintf("resource = $%d", len(args)+1))
		args = append(args, filter.Resource)
	}
	if filter.UserID != "" {
		conditions = append(conditions, fmt.Sprintf("user_id = $%d", len(args)+1))
		args = append(args, filter.UserID)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}
	if filter.From != nil {
		conditions = append(conditions, fmt.Sprintf("created_at >= $%d", len(args)+1))
		args = append(args, *filter.From)
	}
	if filter.To != nil {
		conditions = append(conditions, fmt.Sprintf("created_at <= $%d", len(args)+1))
		args = append(args, *filter.To)
	}
	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("(LOWER(action) LIKE $%d OR LOWER(ip_address) LIKE $%d)", len(args)+1, len(args)+1))
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
	if pageSize <= 0 || pageSize > 200 {
		pageSize = 50
	}
	offset := (page - 1) * pageSize

	listQuery := fmt.Sprintf("SELECT %s %s ORDER BY created_at DESC LIMIT %d OFFSET %d", auditColumns, baseQuery, pageSize, offset)

	var logs []models.AuditLog
	if err := r.db.SelectContext(ctx, &logs, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("list audit logs: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", baseQuery)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count audit logs: %w", err)
	}

	return logs, total, nil
}

// Stats aggregates trail activity since the cutoff.
func (r *AuditRepository) Stats(ctx context.Context, since time.Time) (*models.AuditStats, error) {
	type bucket struct {
		Key   string `db:"key"`
		Count int    `db:"count"`
	}

	stats := &models.AuditStats{
		ByAction:    map[string]int{},
		ByStatus:    map[string]int{},
		GeneratedAt: time.Now().UTC(),
	}

	var byAction []bucket
	const actionQuery = `SELECT action AS key, COUNT(*) AS count FROM audit_logs WHERE created_at >= $1 GROUP BY action`
	if err := r.db.SelectContext(ctx, &byAction, actionQuery, since); err != nil {
		return nil, fmt.Errorf("audit stats by action: %w", err)
	}
	for _, b := range byAction {
		stats.ByAction[b.Key] = b.Count
		stats.TotalEntries += b.Count
	}

	var byStatus []bucket
	const statusQuery = `SELECT status AS key, COUNT(*) AS count FROM audit_logs WHERE created_at >= $1 GROUP BY status`
	if err := r.db.SelectContext(ctx, &byStatus, statusQuery, since); err != nil {
		return nil, fmt.Errorf("audit stats by status: %w", err)
	}
	for _, b := range byStatus {
		stats.ByStatus[b.Key] = b.Count
	}

	return stats, nil
}

// DeleteOlderThan removes entries created before the cutoff and returns the
// number of rows purged. The retention service wraps this in a transaction
// together with the audit entry describing the purge itself.
func (r *AuditRepository) DeleteOlderThan(ctx context.Context, q sqlx.ExtContext, before time.Time) (int64, error) {
	const query = `DELETE FROM audit_logs WHERE created_at < $1`
	res, err := q.ExecContext(ctx, query, before)
	if err != nil {
		return 0, fmt.Errorf("purge audit logs: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge audit logs rows: %w", err)
	}
	return rows, nil
}
