package models

import "time"

// Document represents uploaded file metadata stored in the documents table.
// A document attached to a case inherits the case's access scope; an
// unattached document is visible to its uploader and Admin/Clerk only.
type Document struct {
	ID           string    `db:"id" json:"id"`
	CaseID       *string   `db:"case_id" json:"case_id,omitempty"`
	Filename     string    `db:"filename" json:"filename"`
	FilePath     string    `db:"file_path" json:"-"`
	FileSize     int64     `db:"file_size" json:"file_size"`
	MimeType     string    `db:"mime_type" json:"mime_type"`
	UploadedBy   string    `db:"uploaded_by" json:"uploaded_by"`
	OCRProcessed bool      `db:"ocr_processed" json:"ocr_processed"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// DocumentFilter captures filtering criteria for listing documents.
type DocumentFilter struct {
	CaseID     string
	UploadedBy string
	Scope      CaseScope
	Page       int
	PageSize   int
}
