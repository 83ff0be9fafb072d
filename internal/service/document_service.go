package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/gestion-judicial/casefile-api/internal/authz"
	"github.com/gestion-judicial/casefile-api/internal/models"
	"github.com/gestion-judicial/casefile-api/pkg/config"
	appErrors "github.com/gestion-judicial/casefile-api/pkg/errors"
	"github.com/gestion-judicial/casefile-api/pkg/jobs"
	"github.com/gestion-judicial/casefile-api/pkg/storage"
)

type documentRepository interface {
	Create(ctx context.Context, q sqlx.ExtContext, doc *models.Document) error
	GetByID(ctx context.Context, id string) (*models.Document, error)
	List(ctx context.Context, filter models.DocumentFilter) ([]models.Document, int, error)
	MarkOCRProcessed(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
}

type documentCaseLookup interface {
	GetByID(ctx context.Context, id string) (*models.Case, error)
}

// UploadDocumentRequest describes an incoming file. CaseID is optional;
// unattached documents stay private to their uploader.
type UploadDocumentRequest struct {
	CaseID   *string `json:"case_id"`
	Filename string  `json:"filename" validate:"required,max=255"`
	MimeType string  `json:"mime_type" validate:"required"`
	Size     int64   `json:"size" validate:"required,gt=0"`
}

// DocumentDownload bundles the token-based URL handed to the client.
type DocumentDownload struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// DocumentService handles document intake and scoped retrieval. Uploaded
// files land on local storage; their metadata rows commit together with the
// audit entry, and OCR is queued after commit.
type DocumentService struct {
	db        *sqlx.DB
	repo      documentRepository
	cases     documentCaseLookup
	evaluator *authz.Evaluator
	audit     auditRecorder
	store     *storage.LocalStorage
	signer    *storage.SignedURLSigner
	ocrQueue  *jobs.Queue
	cfg       config.DocumentsConfig
	validator *validator.Validate
	logger    *zap.Logger
}

// NewDocumentService creates an instance of DocumentService. ocrQueue may be
// nil when background extraction is disabled.
func NewDocumentService(
	db *sqlx.DB,
	repo documentRepository,
	cases documentCaseLookup,
	evaluator *authz.Evaluator,
	audit auditRecorder,
	store *storage.LocalStorage,
	signer *storage.SignedURLSigner,
	ocrQueue *jobs.Queue,
	cfg config.DocumentsConfig,
	validate *validator.Validate,
	logger *zap.Logger,
) *DocumentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &DocumentService{
		db:        db,
		repo:      repo,
		cases:     cases,
		evaluator: evaluator,
		audit:     audit,
		store:     store,
		signer:    signer,
		ocrQueue:  ocrQueue,
		cfg:       cfg,
		validator: validate,
		logger:    logger,
	}
}

// Upload stores the file and registers its metadata. When the document is
// attached to a case, the actor must be allowed to read that case.
func (s *DocumentService) Upload(ctx context.Context, actor authz.Actor, req UploadDocumentRequest, content io.Reader, meta models.RequestMeta) (*models.Document, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid upload payload")
	}
	if s.cfg.MaxFileSizeBytes > 0 && req.Size > s.cfg.MaxFileSizeBytes {
		return nil, appErrors.Clone(appErrors.ErrValidation, "file exceeds the maximum allowed size")
	}
	if !s.mimeAllowed(req.MimeType) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "file type is not accepted")
	}

	ref := authz.DocumentRef{UploadedBy: actor.ID}
	if req.CaseID != nil {
		c, err := s.cases.GetByID(ctx, *req.CaseID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, appErrors.Clone(appErrors.ErrNotFound, "case not found")
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load case")
		}
		caseRef := caseRefOf(c)
		ref.Case = &caseRef
	}

	decision := s.evaluator.CheckDocument(actor, ref, authz.ActionCreate)
	if !decision.Allow {
		s.audit.RecordDenied(ctx, actor.ID, models.AuditActionDocumentCreate, "documents", nil, meta)
		return nil, appErrors.Clone(appErrors.ErrForbidden, "role may not upload documents here")
	}

	docID := uuid.NewString()
	stored := docID + filepath.Ext(req.Filename)
	relPath, err := s.store.SaveStream(stored, io.LimitReader(content, req.Size))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store file")
	}

	doc := &models.Document{
		ID:         docID,
		CaseID:     req.CaseID,
		Filename:   req.Filename,
		FilePath:   relPath,
		FileSize:   req.Size,
		MimeType:   req.MimeType,
		UploadedBy: actor.ID,
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		s.discard(relPath)
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to begin transaction")
	}
	defer tx.Rollback()

	if err := s.repo.Create(ctx, tx, doc); err != nil {
		s.discard(relPath)
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to register document")
	}

	newPayload, _ := json.Marshal(map[string]interface{}{"filename": doc.Filename, "case_id": doc.CaseID, "size": doc.FileSize})
	if err := s.audit.Record(ctx, tx, &models.AuditLog{
		UserID:     &actor.ID,
		Action:     models.AuditActionDocumentCreate,
		Resource:   "documents",
		ResourceID: &doc.ID,
		NewValues:  newPayload,
		IPAddress:  meta.IP,
		UserAgent:  meta.UserAgent,
	}); err != nil {
		s.discard(relPath)
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		s.discard(relPath)
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit document")
	}

	if s.ocrQueue != nil && isOCRCandidate(doc.MimeType) {
		if err := s.ocrQueue.Enqueue(jobs.Job{ID: uuid.NewString(), Type: JobDocumentOCR, Payload: doc.ID}); err != nil {
			s.logger.Warn("dropped ocr job", zap.String("document_id", doc.ID), zap.Error(err))
		}
	}
	return doc, nil
}

// Get returns a document the actor may see.
func (s *DocumentService) Get(ctx context.Context, actor authz.Actor, id string) (*models.Document, error) {
	doc, ref, err := s.loadWithRef(ctx, id)
	if err != nil {
		return nil, err
	}
	decision := s.evaluator.CheckDocument(actor, ref, authz.ActionRead)
	if !decision.Allow {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "access to this document is denied")
	}
	return doc, nil
}

// List returns documents within the actor's scope.
func (s *DocumentService) List(ctx context.Context, actor authz.Actor, filter models.DocumentFilter) ([]models.Document, *models.Pagination, error) {
	scope, decision := s.evaluator.ListScope(actor)
	if !decision.Allow {
		return nil, nil, appErrors.Clone(appErrors.ErrForbidden, "role may not list documents")
	}
	filter.Scope = scope

	docs, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list documents")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	return docs, &models.Pagination{Page: page, PageSize: pageSize, TotalCount: total}, nil
}

// DownloadURL issues a short-lived signed link for a document the actor may
// read. The file itself is served by the download endpoint after verifying
// the token, so the authorization decision is baked into the link.
func (s *DocumentService) DownloadURL(ctx context.Context, actor authz.Actor, id string) (*DocumentDownload, error) {
	doc, err := s.Get(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	token, expiresAt, err := s.signer.Generate(doc.ID, doc.FilePath)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign download link")
	}
	return &DocumentDownload{
		URL:       fmt.Sprintf("/api/v1/documents/%s/content?token=%s", doc.ID, token),
		ExpiresAt: expiresAt,
	}, nil
}

// OpenByToken resolves a signed download token to the stored file. No actor
// check happens here; the token is the proof of authorization.
func (s *DocumentService) OpenByToken(ctx context.Context, id, token string) (*models.Document, io.ReadCloser, error) {
	docID, relPath, _, err := s.signer.Parse(token)
	if err != nil || docID != id {
		return nil, nil, appErrors.Clone(appErrors.ErrForbidden, "download link is invalid or expired")
	}
	doc, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, appErrors.Clone(appErrors.ErrNotFound, "document not found")
		}
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load document")
	}
	if doc.FilePath != relPath {
		return nil, nil, appErrors.Clone(appErrors.ErrForbidden, "download link is invalid or expired")
	}
	f, err := s.store.Open(doc.FilePath)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open stored file")
	}
	return doc, f, nil
}

// HandleOCRJob returns the queue handler that marks documents as processed.
// Real text extraction would slot in before the flag is set.
func (s *DocumentService) HandleOCRJob() jobs.Handler {
	return func(ctx context.Context, job jobs.Job) error {
		docID, ok := job.Payload.(string)
		if !ok {
			s.logger.Warn("ocr job with unexpected payload", zap.String("job_id", job.ID))
			return nil
		}
		if err := s.repo.MarkOCRProcessed(ctx, docID); err != nil {
			return err
		}
		s.logger.Info("document ocr processed", zap.String("document_id", docID))
		return nil
	}
}

func (s *DocumentService) loadWithRef(ctx context.Context, id string) (*models.Document, authz.DocumentRef, error) {
	doc, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, authz.DocumentRef{}, appErrors.Clone(appErrors.ErrNotFound, "document not found")
		}
		return nil, authz.DocumentRef{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load document")
	}

	ref := authz.DocumentRef{UploadedBy: doc.UploadedBy}
	if doc.CaseID != nil {
		c, err := s.cases.GetByID(ctx, *doc.CaseID)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return nil, authz.DocumentRef{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load owning case")
		}
		if err == nil {
			caseRef := caseRefOf(c)
			ref.Case = &caseRef
		}
	}
	return doc, ref, nil
}

func (s *DocumentService) mimeAllowed(mime string) bool {
	if len(s.cfg.AllowedMIMEs) == 0 {
		return true
	}
	for _, allowed := range s.cfg.AllowedMIMEs {
		if allowed == mime {
			return true
		}
	}
	return false
}

func (s *DocumentService) discard(relPath string) {
	if err := s.store.Delete(relPath); err != nil {
		s.logger.Warn("failed to remove orphaned file", zap.String("path", relPath), zap.Error(err))
	}
}

func isOCRCandidate(mime string) bool {
	switch mime {
	case "application/pdf", "image/png", "image/jpeg", "image/tiff":
		return true
	}
	return false
}
