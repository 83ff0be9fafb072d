package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gestion-judicial/casefile-api/internal/models"
)

func TestCreateDocumentDefaults(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewDocumentRepository(db)

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO documents`)).
		WillReturnResult(sqlmock.NewResult(1, 1))

	doc := &models.Document{
		Filename:   "brief.pdf",
		FilePath:   "abc.pdf",
		FileSize:   1024,
		MimeType:   "application/pdf",
		UploadedBy: "user-1",
	}
	err := repo.Create(context.Background(), db, doc)
	require.NoError(t, err)
	assert.NotEmpty(t, doc.ID)
	assert.False(t, doc.CreatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListDocumentsScoped(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewDocumentRepository(db)

	rows := sqlmock.NewRows([]string{"id", "case_id", "filename", "file_path", "file_size", "mime_type", "uploaded_by", "ocr_processed", "created_at"}).
		AddRow("d1", "c1", "brief.pdf", "d1.pdf", 1024, "application/pdf", "lawyer-1", false, time.Now())

	mock.ExpectQuery(regexp.QuoteMeta(`EXISTS (SELECT 1 FROM cases c WHERE c.id = d.case_id AND (c.owner_id = $1)) OR (d.case_id IS NULL AND d.uploaded_by = $2)`)).
		WithArgs("lawyer-1", "lawyer-1").
		WillReturnRows(rows)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM documents d`)).
		WithArgs("lawyer-1", "lawyer-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	docs, total, err := repo.List(context.Background(), models.DocumentFilter{
		Scope: models.CaseScope{OwnerID: "lawyer-1"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, docs, 1)
	assert.Equal(t, "d1", docs[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListDocumentsEmptyScopeFailsClosed(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewDocumentRepository(db)

	docs, total, err := repo.List(context.Background(), models.DocumentFilter{
		Scope: models.CaseScope{},
	})
	require.NoError(t, err)
	assert.Empty(t, docs)
	assert.Zero(t, total)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkOCRProcessed(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewDocumentRepository(db)

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE documents SET ocr_processed = true WHERE id = $1`)).
		WithArgs("d1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.MarkOCRProcessed(context.Background(), "d1")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteDocumentMissing(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewDocumentRepository(db)

	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM documents WHERE id = $1`)).
		WithArgs("missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Delete(context.Background(), "missing")
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}
