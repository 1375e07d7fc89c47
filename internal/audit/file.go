package audit

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"fleetbridge/internal/common/errors"
)

// FileRecorder appends entries to a JSONL file, one event per line. Suitable
// for single-instance deployments; the postgres recorder covers the rest.
type FileRecorder struct {
	mu   sync.Mutex
	file *os.File
	enc  *json.Encoder
}

func NewFileRecorder(path string) (*FileRecorder, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.NewAuditWriteFailedError(err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, errors.NewAuditWriteFailedError(err)
	}
	return &FileRecorder{file: f, enc: json.NewEncoder(f)}, nil
}

func (r *FileRecorder) Record(_ context.Context, entry Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.enc.Encode(entry); err != nil {
		return errors.NewAuditWriteFailedError(err)
	}
	return nil
}

func (r *FileRecorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.file.Close()
}
