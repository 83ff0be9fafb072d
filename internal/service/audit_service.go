package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/gestion-judicial/casefile-api/internal/models"
	"github.com/gestion-judicial/casefile-api/pkg/config"
	appErrors "github.com/gestion-judicial/casefile-api/pkg/errors"
	"github.com/gestion-judicial/casefile-api/pkg/export"
)

type auditRepository interface {
	Create(ctx context.Context, q sqlx.ExtContext, log *models.AuditLog) error
	GetByID(ctx context.Context, id string) (*models.AuditLog, error)
	List(ctx context.Context, filter models.AuditFilter) ([]models.AuditLog, int, error)
	Stats(ctx context.Context, since time.Time) (*models.AuditStats, error)
	DeleteOlderThan(ctx context.Context, q sqlx.ExtContext, before time.Time) (int64, error)
}

// Export formats supported for audit trail downloads.
const (
	ExportFormatCSV = "csv"
	ExportFormatPDF = "pdf"
)

// AuditService records and serves the audit trail. Recording a successful
// mutation happens inside the mutation's transaction: if the entry cannot be
// written, the mutation rolls back with it. Denied attempts are recorded
// best-effort because there is no surrounding transaction to join.
type AuditService struct {
	db     *sqlx.DB
	repo   auditRepository
	csv    *export.CSVExporter
	pdf    *export.PDFExporter
	cfg    config.AuditConfig
	logger *zap.Logger
}

// NewAuditService creates an instance of AuditService.
func NewAuditService(db *sqlx.DB, repo auditRepository, cfg config.AuditConfig, logger *zap.Logger) *AuditService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuditService{
		db:     db,
		repo:   repo,
		csv:    export.NewCSVExporter(),
		pdf:    export.NewPDFExporter(),
		cfg:    cfg,
		logger: logger,
	}
}

// Record appends an entry inside the caller's transaction. The error must
// propagate: a mutation whose audit entry cannot be written does not commit.
func (s *AuditService) Record(ctx context.Context, q sqlx.ExtContext, log *models.AuditLog) error {
	if err := s.repo.Create(ctx, q, log); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record audit entry")
	}
	return nil
}

// RecordDenied logs a rejected attempt. There is no mutation transaction to
// join, so a write failure here is logged and swallowed; the denial itself
// is still returned to the caller by the service that invoked us.
func (s *AuditService) RecordDenied(ctx context.Context, actorID, action, resource string, resourceID *string, meta models.RequestMeta) {
	entry := &models.AuditLog{
		Action:     action,
		Resource:   resource,
		ResourceID: resourceID,
		IPAddress:  meta.IP,
		UserAgent:  meta.UserAgent,
		Status:     models.AuditStatusDenied,
	}
	if actorID != "" {
		entry.UserID = &actorID
	}
	if err := s.repo.Create(ctx, s.db, entry); err != nil {
		s.logger.Warn("failed to record denied attempt",
			zap.String("action", action),
			zap.String("resource", resource),
			zap.Error(err))
	}
}

// RecordBestEffort writes an entry outside any transaction, logging instead
// of failing the caller. Used for events that are not mutations of guarded
// resources (logins, token refreshes).
func (s *AuditService) RecordBestEffort(ctx context.Context, log *models.AuditLog) {
	if err := s.repo.Create(ctx, s.db, log); err != nil {
		s.logger.Warn("failed to record audit entry",
			zap.String("action", log.Action),
			zap.String("resource", log.Resource),
			zap.Error(err))
	}
}

// Get returns a single audit entry.
func (s *AuditService) Get(ctx context.Context, id string) (*models.AuditLog, error) {
	log, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "audit entry not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load audit entry")
	}
	return log, nil
}

// List returns entries matching the filter with pagination metadata.
func (s *AuditService) List(ctx context.Context, filter models.AuditFilter) ([]models.AuditLog, *models.Pagination, error) {
	logs, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list audit entries")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}

	return logs, &models.Pagination{Page: page, PageSize: pageSize, TotalCount: total}, nil
}

// Stats aggregates trail activity over the trailing period.
func (s *AuditService) Stats(ctx context.Context, periodDays int) (*models.AuditStats, error) {
	if periodDays <= 0 {
		periodDays = 7
	}
	since := time.Now().UTC().AddDate(0, 0, -periodDays)
	stats, err := s.repo.Stats(ctx, since)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to aggregate audit stats")
	}
	stats.PeriodDays = periodDays
	return stats, nil
}

// Purge removes entries older than the configured retention window. The
// delete and the entry describing it commit in one transaction, so the trail
// always explains its own gaps.
func (s *AuditService) Purge(ctx context.Context, actorID string, meta models.RequestMeta) (int64, error) {
	if s.cfg.RetentionDays <= 0 {
		return 0, appErrors.Clone(appErrors.ErrValidation, "audit retention is not configured")
	}
	before := time.Now().UTC().AddDate(0, 0, -s.cfg.RetentionDays)

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to begin purge transaction")
	}
	defer tx.Rollback()

	deleted, err := s.repo.DeleteOlderThan(ctx, tx, before)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to purge audit entries")
	}

	payload, _ := json.Marshal(map[string]interface{}{"deleted": deleted, "before": before})
	if err := s.repo.Create(ctx, tx, &models.AuditLog{
		UserID:    &actorID,
		Action:    models.AuditActionAuditPurge,
		Resource:  "audit_logs",
		NewValues: payload,
		IPAddress: meta.IP,
		UserAgent: meta.UserAgent,
	}); err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record purge")
	}

	if err := tx.Commit(); err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit purge")
	}

	s.logger.Info("purged audit entries", zap.Int64("deleted", deleted), zap.Time("before", before))
	return deleted, nil
}

// Export renders matching entries as CSV or PDF. The export itself is
// recorded on the trail.
func (s *AuditService) Export(ctx context.Context, filter models.AuditFilter, format, actorID string, meta models.RequestMeta) ([]byte, string, error) {
	maxRows := s.cfg.ExportMaxRows
	if maxRows <= 0 {
		maxRows = 10000
	}
	filter.Page = 1
	filter.PageSize = maxRows

	logs, _, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load audit entries for export")
	}

	data := export.Dataset{
		Headers: []string{"ID", "User", "Action", "Resource", "Resource ID", "Status", "IP", "Created At"},
		Rows:    make([]map[string]string, 0, len(logs)),
	}
	for _, l := range logs {
		userID := ""
		if l.UserID != nil {
			userID = *l.UserID
		}
		resourceID := ""
		if l.ResourceID != nil {
			resourceID = *l.ResourceID
		}
		data.Rows = append(data.Rows, map[string]string{
			"ID":          l.ID,
			"User":        userID,
			"Action":      l.Action,
			"Resource":    l.Resource,
			"Resource ID": resourceID,
			"Status":      l.Status,
			"IP":          l.IPAddress,
			"Created At":  l.CreatedAt.UTC().Format(time.RFC3339),
		})
	}

	var payload []byte
	switch strings.ToLower(format) {
	case ExportFormatCSV, "":
		format = ExportFormatCSV
		payload, err = s.csv.Render(data)
	case ExportFormatPDF:
		payload, err = s.pdf.Render(data, "Audit Trail")
	default:
		return nil, "", appErrors.Clone(appErrors.ErrValidation, "unsupported export format")
	}
	if err != nil {
		return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render audit export")
	}

	exportMeta, _ := json.Marshal(map[string]interface{}{"format": format, "rows": len(data.Rows)})
	if err := s.repo.Create(ctx, s.db, &models.AuditLog{
		UserID:    &actorID,
		Action:    models.AuditActionAuditExport,
		Resource:  "audit_logs",
		NewValues: exportMeta,
		IPAddress: meta.IP,
		UserAgent: meta.UserAgent,
	}); err != nil {
		s.logger.Warn("failed to record audit export", zap.Error(err))
	}

	filename := fmt.Sprintf("audit-trail-%s.%s", time.Now().UTC().Format("20060102-150405"), format)
	return payload, filename, nil
}
