package ingestion

import "time"

// UploadCompleted is emitted when an upload has been assembled and handed to
// the pipeline.
type UploadCompleted struct {
	UploadID   string    `json:"upload_id"`
	RunID      string    `json:"run_id"`
	Filename   string    `json:"file_name"`
	Checksum   string    `json:"checksum"`
	SizeBytes  int64     `json:"size_bytes"`
	ArchiveKey string    `json:"archive_key,omitempty"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// Attributes flattens the event for the events envelope.
func (u UploadCompleted) Attributes() map[string]any {
	attrs := map[string]any{
		"upload_id":   u.UploadID,
		"run_id":      u.RunID,
		"file_name":   u.Filename,
		"checksum":    u.Checksum,
		"size_bytes":  u.SizeBytes,
		"uploaded_at": u.UploadedAt,
	}
	if u.ArchiveKey != "" {
		attrs["archive_key"] = u.ArchiveKey
	}
	return attrs
}
