package service

import (
	"context"
	"database/sql"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gestion-judicial/casefile-api/internal/authz"
	"github.com/gestion-judicial/casefile-api/internal/models"
	"github.com/gestion-judicial/casefile-api/pkg/config"
	appErrors "github.com/gestion-judicial/casefile-api/pkg/errors"
	"github.com/gestion-judicial/casefile-api/pkg/jobs"
	"github.com/gestion-judicial/casefile-api/pkg/storage"
)

type mockDocumentRepo struct {
	docs       map[string]*models.Document
	created    []*models.Document
	listFilter models.DocumentFilter
	processed  []string
}

func (m *mockDocumentRepo) Create(ctx context.Context, q sqlx.ExtContext, doc *models.Document) error {
	if m.docs == nil {
		m.docs = make(map[string]*models.Document)
	}
	copyDoc := *doc
	m.docs[doc.ID] = &copyDoc
	m.created = append(m.created, &copyDoc)
	return nil
}

func (m *mockDocumentRepo) GetByID(ctx context.Context, id string) (*models.Document, error) {
	if doc, ok := m.docs[id]; ok {
		copyDoc := *doc
		return &copyDoc, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockDocumentRepo) List(ctx context.Context, filter models.DocumentFilter) ([]models.Document, int, error) {
	m.listFilter = filter
	var docs []models.Document
	for _, d := range m.docs {
		docs = append(docs, *d)
	}
	return docs, len(docs), nil
}

func (m *mockDocumentRepo) MarkOCRProcessed(ctx context.Context, id string) error {
	m.processed = append(m.processed, id)
	return nil
}

func (m *mockDocumentRepo) Delete(ctx context.Context, id string) error {
	if _, ok := m.docs[id]; !ok {
		return sql.ErrNoRows
	}
	delete(m.docs, id)
	return nil
}

type mockDocCaseLookup struct {
	cases map[string]*models.Case
}

func (m *mockDocCaseLookup) GetByID(ctx context.Context, id string) (*models.Case, error) {
	if c, ok := m.cases[id]; ok {
		copyCase := *c
		return &copyCase, nil
	}
	return nil, sql.ErrNoRows
}

type documentFixture struct {
	svc    *DocumentService
	repo   *mockDocumentRepo
	cases  *mockDocCaseLookup
	audit  *mockRecorder
	signer *storage.SignedURLSigner
	mock   sqlmock.Sqlmock
}

func newDocumentFixture(t *testing.T) *documentFixture {
	t.Helper()

	db, mock := newTestDB(t)
	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	signer := storage.NewSignedURLSigner("test-secret", 15*time.Minute)

	judgeID := "judge-1"
	repo := &mockDocumentRepo{docs: make(map[string]*models.Document)}
	cases := &mockDocCaseLookup{cases: map[string]*models.Case{
		"case-1": {ID: "case-1", OwnerID: "lawyer-1", AssignedJudgeID: &judgeID, Status: models.CaseStatusOpen},
	}}
	audit := &mockRecorder{}

	cfg := config.DocumentsConfig{
		MaxFileSizeBytes: 1024,
		AllowedMIMEs:     []string{"application/pdf", "text/plain"},
	}

	svc := NewDocumentService(db, repo, cases, authz.NewEvaluator(), audit, store, signer, nil, cfg, nil, nil)
	return &documentFixture{svc: svc, repo: repo, cases: cases, audit: audit, signer: signer, mock: mock}
}

func TestDocumentUploadAttached(t *testing.T) {
	f := newDocumentFixture(t)
	f.mock.ExpectBegin()
	f.mock.ExpectCommit()

	caseID := "case-1"
	owner := authz.Actor{ID: "lawyer-1", Role: models.RoleLawyer}
	doc, err := f.svc.Upload(context.Background(), owner, UploadDocumentRequest{
		CaseID:   &caseID,
		Filename: "brief.pdf",
		MimeType: "application/pdf",
		Size:     12,
	}, strings.NewReader("file content"), models.RequestMeta{})
	require.NoError(t, err)

	assert.Equal(t, "brief.pdf", doc.Filename)
	require.NotNil(t, doc.CaseID)
	assert.Equal(t, "case-1", *doc.CaseID)
	assert.Len(t, f.repo.created, 1)
	require.Len(t, f.audit.entries, 1)
	assert.Equal(t, models.AuditActionDocumentCreate, f.audit.entries[0].Action)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestDocumentUploadRejectsOversize(t *testing.T) {
	f := newDocumentFixture(t)

	_, err := f.svc.Upload(context.Background(), clerk(), UploadDocumentRequest{
		Filename: "huge.pdf",
		MimeType: "application/pdf",
		Size:     4096,
	}, strings.NewReader("x"), models.RequestMeta{})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
	assert.Empty(t, f.repo.created)
}

func TestDocumentUploadRejectsMime(t *testing.T) {
	f := newDocumentFixture(t)

	_, err := f.svc.Upload(context.Background(), clerk(), UploadDocumentRequest{
		Filename: "evil.exe",
		MimeType: "application/x-msdownload",
		Size:     10,
	}, strings.NewReader("x"), models.RequestMeta{})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
}

func TestDocumentUploadDeniedOutsideScope(t *testing.T) {
	f := newDocumentFixture(t)

	caseID := "case-1"
	stranger := authz.Actor{ID: "citizen-9", Role: models.RoleCitizen}
	_, err := f.svc.Upload(context.Background(), stranger, UploadDocumentRequest{
		CaseID:   &caseID,
		Filename: "note.txt",
		MimeType: "text/plain",
		Size:     5,
	}, strings.NewReader("hello"), models.RequestMeta{})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))
	assert.Contains(t, f.audit.denied, models.AuditActionDocumentCreate)
}

func TestDocumentGetScoping(t *testing.T) {
	f := newDocumentFixture(t)
	caseID := "case-1"
	f.repo.docs["doc-1"] = &models.Document{
		ID: "doc-1", CaseID: &caseID, Filename: "brief.pdf",
		FilePath: "doc-1.pdf", MimeType: "application/pdf", UploadedBy: "lawyer-1",
	}
	f.repo.docs["doc-2"] = &models.Document{
		ID: "doc-2", Filename: "draft.txt",
		FilePath: "doc-2.txt", MimeType: "text/plain", UploadedBy: "lawyer-1",
	}

	// attached documents inherit the case scope
	judge := authz.Actor{ID: "judge-1", Role: models.RoleJudge}
	_, err := f.svc.Get(context.Background(), judge, "doc-1")
	require.NoError(t, err)

	// unattached documents stay private to the uploader
	_, err = f.svc.Get(context.Background(), judge, "doc-2")
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))

	uploader := authz.Actor{ID: "lawyer-1", Role: models.RoleLawyer}
	_, err = f.svc.Get(context.Background(), uploader, "doc-2")
	require.NoError(t, err)
}

func TestDocumentListAppliesScope(t *testing.T) {
	f := newDocumentFixture(t)

	judge := authz.Actor{ID: "judge-1", Role: models.RoleJudge}
	_, _, err := f.svc.List(context.Background(), judge, models.DocumentFilter{})
	require.NoError(t, err)
	assert.False(t, f.repo.listFilter.Scope.All)
	assert.Equal(t, "judge-1", f.repo.listFilter.Scope.JudgeID)

	_, _, err = f.svc.List(context.Background(), clerk(), models.DocumentFilter{})
	require.NoError(t, err)
	assert.True(t, f.repo.listFilter.Scope.All)
}

func TestDocumentDownloadTokenRoundTrip(t *testing.T) {
	f := newDocumentFixture(t)

	relPath, err := f.svc.store.SaveStream("doc-1.txt", strings.NewReader("signed body"))
	require.NoError(t, err)

	f.repo.docs["doc-1"] = &models.Document{
		ID: "doc-1", Filename: "note.txt", FilePath: relPath,
		MimeType: "text/plain", UploadedBy: "lawyer-1",
	}

	uploader := authz.Actor{ID: "lawyer-1", Role: models.RoleLawyer}
	download, err := f.svc.DownloadURL(context.Background(), uploader, "doc-1")
	require.NoError(t, err)
	assert.Contains(t, download.URL, "/api/v1/documents/doc-1/content?token=")
	assert.True(t, download.ExpiresAt.After(time.Now()))

	token := download.URL[strings.Index(download.URL, "token=")+len("token="):]
	doc, reader, err := f.svc.OpenByToken(context.Background(), "doc-1", token)
	require.NoError(t, err)
	defer reader.Close()

	body, err := io.ReadAll(reader)
	require.NoError(t, err)
	assert.Equal(t, "signed body", string(body))
	assert.Equal(t, "doc-1", doc.ID)

	// a token minted for one document must not open another
	_, _, err = f.svc.OpenByToken(context.Background(), "doc-2", token)
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))
}

func TestDocumentOCRJobMarksProcessed(t *testing.T) {
	f := newDocumentFixture(t)
	f.repo.docs["doc-1"] = &models.Document{ID: "doc-1", MimeType: "application/pdf"}

	handler := f.svc.HandleOCRJob()
	err := handler(context.Background(), jobs.Job{ID: "job-1", Type: JobDocumentOCR, Payload: "doc-1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"doc-1"}, f.repo.processed)
}
