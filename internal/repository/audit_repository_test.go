package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gestion-judicial/casefile-api/internal/models"
)

func TestCreateAuditLogDefaults(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAuditRepository(db)

	mock.ExpectExec("INSERT INTO audit_logs").WillReturnResult(sqlmock.NewResult(1, 1))

	userID := "u1"
	log := &models.AuditLog{
		UserID:   &userID,
		Action:   models.AuditActionCaseCreate,
		Resource: "cases",
	}
	err := repo.Create(context.Background(), db, log)
	require.NoError(t, err)
	assert.NotEmpty(t, log.ID)
	assert.Equal(t, models.AuditStatusSuccess, log.Status)
	assert.False(t, log.CreatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListAuditLogsFiltered(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAuditRepository(db)

	now := time.Now()
	userID := "u1"
	rows := sqlmock.NewRows([]string{"id", "user_id", "action", "resource", "resource_id", "old_values", "new_values", "ip_address", "user_agent", "status", "created_at"}).
		AddRow("a1", userID, models.AuditActionCaseStatusUpdate, "cases", "c1", nil, nil, "10.0.0.1", "curl", models.AuditStatusSuccess, now)
	mock.ExpectQuery(regexp.QuoteMeta("action = $1 AND status = $2 ORDER BY created_at DESC LIMIT 50 OFFSET 0")).
		WithArgs(models.AuditActionCaseStatusUpdate, models.AuditStatusSuccess).
		WillReturnRows(rows)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM audit_logs WHERE 1=1 AND action = $1 AND status = $2")).
		WithArgs(models.AuditActionCaseStatusUpdate, models.AuditStatusSuccess).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	logs, total, err := repo.List(context.Background(), models.AuditFilter{
		Action: models.AuditActionCaseStatusUpdate,
		Status: models.AuditStatusSuccess,
	})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "a1", logs[0].ID)
	assert.Equal(t, 1, total)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditStats(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAuditRepository(db)

	since := time.Now().Add(-7 * 24 * time.Hour)
	actionRows := sqlmock.NewRows([]string{"key", "count"}).
		AddRow(models.AuditActionCaseCreate, 5).
		AddRow(models.AuditActionLogin, 10)
	mock.ExpectQuery(regexp.QuoteMeta("GROUP BY action")).
		WithArgs(since).
		WillReturnRows(actionRows)
	statusRows := sqlmock.NewRows([]string{"key", "count"}).
		AddRow(models.AuditStatusSuccess, 13).
		AddRow(models.AuditStatusDenied, 2)
	mock.ExpectQuery(regexp.QuoteMeta("GROUP BY status")).
		WithArgs(since).
		WillReturnRows(statusRows)

	stats, err := repo.Stats(context.Background(), since)
	require.NoError(t, err)
	assert.Equal(t, 15, stats.TotalEntries)
	assert.Equal(t, 5, stats.ByAction[models.AuditActionCaseCreate])
	assert.Equal(t, 2, stats.ByStatus[models.AuditStatusDenied])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteOlderThan(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAuditRepository(db)

	before := time.Now().Add(-90 * 24 * time.Hour)
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM audit_logs WHERE created_at < $1")).
		WithArgs(before).
		WillReturnResult(sqlmock.NewResult(0, 42))

	rows, err := repo.DeleteOlderThan(context.Background(), db, before)
	require.NoError(t, err)
	assert.Equal(t, int64(42), rows)
	assert.NoError(t, mock.ExpectationsWereMet())
}
