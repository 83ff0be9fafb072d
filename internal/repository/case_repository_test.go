package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gestion-judicial/casefile-api/internal/models"
)

func TestCreateCase(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewCaseRepository(db)

	mock.ExpectExec("INSERT INTO cases").WillReturnResult(sqlmock.NewResult(1, 1))

	c := &models.Case{
		CaseNumber: "CAS-20260830-0001",
		Title:      "Estate dispute",
		CaseType:   "CIVIL",
		Status:     models.CaseStatusDraft,
		OwnerID:    "u1",
	}
	err := repo.Create(context.Background(), db, c)
	require.NoError(t, err)
	assert.NotEmpty(t, c.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateCaseUniqueViolation(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewCaseRepository(db)

	mock.ExpectExec("INSERT INTO cases").WillReturnError(&pq.Error{Code: "23505"})

	err := repo.Create(context.Background(), db, &models.Case{
		CaseNumber: "CAS-20260830-0001",
		Title:      "Duplicate",
		Status:     models.CaseStatusDraft,
		OwnerID:    "u1",
	})
	require.Error(t, err)
	assert.True(t, IsUniqueViolation(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNextSequence(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewCaseRepository(db)

	rows := sqlmock.NewRows([]string{"case_number"}).AddRow("CAS-20260830-0007")
	mock.ExpectQuery(regexp.QuoteMeta("SELECT case_number FROM cases WHERE case_number LIKE $1 ORDER BY case_number DESC LIMIT 1")).
		WithArgs("CAS-20260830-%").
		WillReturnRows(rows)

	seq, err := repo.NextSequence(context.Background(), db, "CAS-20260830")
	require.NoError(t, err)
	assert.Equal(t, 8, seq)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNextSequenceFirstOfDay(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewCaseRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT case_number FROM cases WHERE case_number LIKE $1 ORDER BY case_number DESC LIMIT 1")).
		WithArgs("CAS-20260830-%").
		WillReturnRows(sqlmock.NewRows([]string{"case_number"}))

	seq, err := repo.NextSequence(context.Background(), db, "CAS-20260830")
	require.NoError(t, err)
	assert.Equal(t, 1, seq)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListCasesScoped(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewCaseRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "case_number", "title", "description", "case_type", "status", "owner_id", "assigned_judge_id", "closed_at", "created_at", "updated_at"}).
		AddRow("c1", "CAS-20260830-0001", "Estate dispute", "", "CIVIL", string(models.CaseStatusOpen), "u1", nil, nil, now, now)
	mock.ExpectQuery(regexp.QuoteMeta("(owner_id = $1) ORDER BY created_at DESC LIMIT 20 OFFSET 0")).
		WithArgs("u1").
		WillReturnRows(rows)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM cases WHERE 1=1 AND (owner_id = $1)")).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	cases, total, err := repo.List(context.Background(), models.CaseFilter{Scope: models.CaseScope{OwnerID: "u1"}})
	require.NoError(t, err)
	require.Len(t, cases, 1)
	assert.Equal(t, "c1", cases[0].ID)
	assert.Equal(t, 1, total)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListCasesEmptyScopeFailsClosed(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewCaseRepository(db)

	cases, total, err := repo.List(context.Background(), models.CaseFilter{Scope: models.CaseScope{}})
	require.NoError(t, err)
	assert.Empty(t, cases)
	assert.Zero(t, total)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateStatusCAS(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewCaseRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE cases SET status = $3, closed_at = $4, updated_at = $5 WHERE id = $1 AND status = $2")).
		WithArgs("c1", string(models.CaseStatusOpen), string(models.CaseStatusInProgress), nil, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	rows, err := repo.UpdateStatus(context.Background(), db, "c1", models.CaseStatusOpen, models.CaseStatusInProgress, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateStatusLostRace(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewCaseRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE cases SET status = $3, closed_at = $4, updated_at = $5 WHERE id = $1 AND status = $2")).
		WithArgs("c1", string(models.CaseStatusOpen), string(models.CaseStatusClosed), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	closedAt := time.Now().UTC()
	rows, err := repo.UpdateStatus(context.Background(), db, "c1", models.CaseStatusOpen, models.CaseStatusClosed, &closedAt)
	require.NoError(t, err)
	assert.Zero(t, rows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAssignmentLoads(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewCaseRepository(db)

	rows := sqlmock.NewRows([]string{"user_id", "load"}).
		AddRow("j1", 3).
		AddRow("j2", 1)
	mock.ExpectQuery("LEFT JOIN cases").
		WithArgs(string(models.RoleJudge)).
		WillReturnRows(rows)

	loads, err := repo.AssignmentLoads(context.Background(), db, []models.UserRole{models.RoleJudge})
	require.NoError(t, err)
	require.Len(t, loads, 2)
	assert.Equal(t, "j1", loads[0].UserID)
	assert.Equal(t, 3, loads[0].Load)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCaseStatistics(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewCaseRepository(db)

	statusRows := sqlmock.NewRows([]string{"status", "count"}).
		AddRow(string(models.CaseStatusOpen), 4).
		AddRow(string(models.CaseStatusClosed), 2)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT status, COUNT(*) AS count FROM cases WHERE 1=1 GROUP BY status")).
		WillReturnRows(statusRows)
	mock.ExpectQuery("AVG").
		WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(12.5))

	stats, err := repo.Statistics(context.Background(), models.CaseScope{All: true})
	require.NoError(t, err)
	assert.Equal(t, 6, stats.TotalCases)
	assert.Equal(t, 4, stats.CasesByStatus[models.CaseStatusOpen])
	assert.InDelta(t, 12.5, stats.AvgProcessingDays, 0.001)
	assert.NoError(t, mock.ExpectationsWereMet())
}
