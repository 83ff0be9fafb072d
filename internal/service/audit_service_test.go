package service

import (
	"context"
	"database/sql"
	"strings"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/gestion-judicial/casefile-api/internal/models"
	"github.com/gestion-judicial/casefile-api/pkg/config"
	appErrors "github.com/gestion-judicial/casefile-api/pkg/errors"
)

type mockAuditRepo struct {
	entries   []*models.AuditLog
	listLogs  []models.AuditLog
	listTotal int
	stats     *models.AuditStats
	purged    int64
	createErr error
}

func (m *mockAuditRepo) Create(ctx context.Context, q sqlx.ExtContext, log *models.AuditLog) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.entries = append(m.entries, log)
	return nil
}

func (m *mockAuditRepo) GetByID(ctx context.Context, id string) (*models.AuditLog, error) {
	for i := range m.entries {
		if m.entries[i].ID == id {
			return m.entries[i], nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *mockAuditRepo) List(ctx context.Context, filter models.AuditFilter) ([]models.AuditLog, int, error) {
	return m.listLogs, m.listTotal, nil
}

func (m *mockAuditRepo) Stats(ctx context.Context, since time.Time) (*models.AuditStats, error) {
	if m.stats != nil {
		return m.stats, nil
	}
	return &models.AuditStats{ByAction: map[string]int{}, ByStatus: map[string]int{}}, nil
}

func (m *mockAuditRepo) DeleteOlderThan(ctx context.Context, q sqlx.ExtContext, before time.Time) (int64, error) {
	return m.purged, nil
}

func TestAuditServicePurgeWritesTrailEntry(t *testing.T) {
	db, mock := newTestDB(t)
	repo := &mockAuditRepo{purged: 42}
	svc := NewAuditService(db, repo, config.AuditConfig{RetentionDays: 90}, zap.NewNop())
	mock.ExpectBegin()
	mock.ExpectCommit()

	deleted, err := svc.Purge(context.Background(), "admin-1", models.RequestMeta{IP: "10.0.0.1"})
	require.NoError(t, err)
	assert.Equal(t, int64(42), deleted)
	require.Len(t, repo.entries, 1)
	assert.Equal(t, models.AuditActionAuditPurge, repo.entries[0].Action)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditServicePurgeRequiresRetention(t *testing.T) {
	db, _ := newTestDB(t)
	svc := NewAuditService(db, &mockAuditRepo{}, config.AuditConfig{}, zap.NewNop())

	_, err := svc.Purge(context.Background(), "admin-1", models.RequestMeta{})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
}

func TestAuditServiceExportCSV(t *testing.T) {
	db, _ := newTestDB(t)
	userID := "u1"
	repo := &mockAuditRepo{listLogs: []models.AuditLog{
		{ID: "a1", UserID: &userID, Action: models.AuditActionCaseCreate, Resource: "cases", Status: models.AuditStatusSuccess, IPAddress: "10.0.0.1", CreatedAt: time.Now()},
	}, listTotal: 1}
	svc := NewAuditService(db, repo, config.AuditConfig{ExportMaxRows: 100}, zap.NewNop())

	payload, filename, err := svc.Export(context.Background(), models.AuditFilter{}, ExportFormatCSV, "admin-1", models.RequestMeta{})
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(filename, ".csv"))
	body := string(payload)
	assert.Contains(t, body, "CASE_CREATE")
	assert.Contains(t, body, "10.0.0.1")
	// The export itself lands on the trail.
	require.Len(t, repo.entries, 1)
	assert.Equal(t, models.AuditActionAuditExport, repo.entries[0].Action)
}

func TestAuditServiceExportUnknownFormat(t *testing.T) {
	db, _ := newTestDB(t)
	svc := NewAuditService(db, &mockAuditRepo{}, config.AuditConfig{}, zap.NewNop())

	_, _, err := svc.Export(context.Background(), models.AuditFilter{}, "xml", "admin-1", models.RequestMeta{})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
}

func TestAuditServiceStatsDefaultsPeriod(t *testing.T) {
	db, _ := newTestDB(t)
	repo := &mockAuditRepo{stats: &models.AuditStats{TotalEntries: 3, ByAction: map[string]int{}, ByStatus: map[string]int{}}}
	svc := NewAuditService(db, repo, config.AuditConfig{}, zap.NewNop())

	stats, err := svc.Stats(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 7, stats.PeriodDays)
	assert.Equal(t, 3, stats.TotalEntries)
}
