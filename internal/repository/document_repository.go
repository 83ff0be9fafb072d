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

const documentColumns = `id, case_id, filename, file_path, file_size, mime_type, uploaded_by, ocr_processed, created_at`

// DocumentRepository handles persistence of case document records.
type DocumentRepository struct {
	db *sqlx.DB
}

// NewDocumentRepository constructs the repository.
func NewDocumentRepository(db *sqlx.DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

// Create inserts a document record, joining the caller's transaction when the
// registration must commit together with its audit entry.
func (r *DocumentRepository) Create(ctx context.Context, q sqlx.ExtContext, doc *models.Document) error {
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO documents (id, case_id, filename, file_path, file_size, mime_type, uploaded_by, ocr_processed, created_at)
	VALUES (:id, :case_id, :filename, :file_path, :file_size, :mime_type, :uploaded_by, :ocr_processed, :created_at)`
	if _, err := sqlx.NamedExecContext(ctx, q, query, doc); err != nil {
		return fmt.Errorf("create document: %w", err)
	}
	return nil
}

// GetByID fetches a single document record.
func (r *DocumentRepository) GetByID(ctx context.Context, id string) (*models.Document, error) {
	query := fmt.Sprintf(`SELECT %s FROM documents WHERE id = $1 LIMIT 1`, documentColumns)
	var doc models.Document
	if err := r.db.GetContext(ctx, &doc, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find document by id: %w", err)
	}
	return &doc, nil
}

// List returns documents matching the filter, newest first, with total count.
// The caller's scope is compiled into the query: documents attached to cases
// are visible when the case is, unattached documents only to their uploader.
func (r *DocumentRepository) List(ctx context.Context, filter models.DocumentFilter) ([]models.Document, int, error) {
	baseQuery := `FROM documents d WHERE 1=1`
	var conditions []string
	var args []interface{}

	if !filter.Scope.All {
		actorID := filter.Scope.OwnerID
		if actorID == "" {
			actorID = filter.Scope.JudgeID
		}
		if actorID == "" {
			// An empty non-All scope matches nothing; fail closed.
			return []models.Document{}, 0, nil
		}

		var caseParts []string
		if filter.Scope.OwnerID != "" {
			caseParts = append(caseParts, fmt.Sprintf("c.owner_id = $%d", len(args)+1))
			args = append(args, filter.Scope.OwnerID)
		}
		if filter.Scope.JudgeID != "" {
			caseParts = append(caseParts, fmt.Sprintf("c.assigned_judge_id = $%d", len(args)+1))
			args = append(args, filter.Scope.JudgeID)
		}
		caseVisible := fmt.Sprintf(
			"EXISTS (SELECT 1 FROM cases c WHERE c.id = d.case_id AND (%s))",
			strings.Join(caseParts, " OR "),
		)
		unattachedOwn := fmt.Sprintf("(d.case_id IS NULL AND d.uploaded_by = $%d)", len(args)+1)
		args = append(args, actorID)
		conditions = append(conditions, "("+caseVisible+" OR "+unattachedOwn+")")
	}

	if filter.CaseID != "" {
		conditions = append(conditions, fmt.Sprintf("d.case_id = $%d", len(args)+1))
		args = append(args, filter.CaseID)
	}
	if filter.UploadedBy != "" {
		conditions = append(conditions, fmt.Sprintf("d.uploaded_by = $%d", len(args)+1))
		args = append(args, filter.UploadedBy)
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

	listQuery := fmt.Sprintf("SELECT %s %s ORDER BY d.created_at DESC LIMIT %d OFFSET %d",
		prefixColumns(documentColumns, "d"), baseQuery, pageSize, offset)

	var docs []models.Document
	if err := r.db.SelectContext(ctx, &docs, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("list documents: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", baseQuery)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count documents: %w", err)
	}

	return docs, total, nil
}

// MarkOCRProcessed flags a document once background text extraction finished.
func (r *DocumentRepository) MarkOCRProcessed(ctx context.Context, id string) error {
	const query = `UPDATE documents SET ocr_processed = true WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("mark document ocr processed: %w", err)
	}
	return nil
}

// Delete removes a document record.
func (r *DocumentRepository) Delete(ctx context.Context, id string) error {
	const query = `DELETE FROM documents WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete document rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// prefixColumns qualifies each column in a comma-separated list with a table
// alias for queries that join or reference other tables.
func prefixColumns(columns, alias string) string {
	parts := strings.Split(columns, ", ")
	for i, p := range parts {
		parts[i] = alias + "." + p
	}
	return strings.Join(parts, ", ")
}
