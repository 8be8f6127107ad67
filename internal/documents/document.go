// Package documents implements the curriculum document domain: upload,
// registration, metadata management, and blob storage integration.
// Documents are the inputs analyses run against.
package documents

import (
	"time"

	"github.com/google/uuid"
)

// Document represents a registered curriculum document with its metadata
// and blob storage reference.
type Document struct {
	ID          uuid.UUID `json:"id"`
	Institution string    `json:"institution"`
	Program     string    `json:"program"`
	Filename    string    `json:"filename"`
	ContentType string    `json:"content_type"`
	SizeBytes   int64     `json:"size_bytes"`
	PageCount   *int      `json:"page_count"`
	StorageKey  string    `json:"storage_key"`
	Status      string    `json:"status"`
	UploadedAt  time.Time `json:"uploaded_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// CreateCommand carries the data needed to upload and register a new
// document. Data holds the raw file bytes. PageCount is optional and may
// be extracted by the caller via pdfcpu; nil values are stored as NULL.
type CreateCommand struct {
	Data        []byte
	Filename    string
	ContentType string
	Institution string
	Program     string
	PageCount   *int
}
