package message

import (
	"fmt"
	"maps"

	"exchanged/internal/model"
)

// UploadedFiles returns one descriptor per received file, grouped by field.
// Files of a multi-file field with an empty name (no file chosen) are skipped.
func (r *Request) UploadedFiles() map[string][]model.UploadedFile {
	files := make(map[string][]model.UploadedFile, len(r.files))
	for field, entry := range r.files {
		if !entry.Multiple {
			if entry.Len() > 0 {
				files[field] = []model.UploadedFile{entry.File(0)}
			}
			continue
		}
		for i := range entry.Len() {
			f := entry.File(i)
			if f.Name == "" {
				continue
			}
			files[field] = append(files[field], f)
		}
	}
	return files
}

// FileEntries returns the raw upload snapshot.
func (r *Request) FileEntries() map[string]model.FileEntry { return maps.Clone(r.files) }

// WithUploadedFiles is not supported.
func (r *Request) WithUploadedFiles(_ map[string][]model.UploadedFile) (*Request, error) {
	return nil, fmt.Errorf("request: WithUploadedFiles: %w", ErrNotImplemented)
}
