package transcript

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/xeipuuv/gojsonschema"
)

// FileBackend stores the whole snapshot as one indented JSON file.
type FileBackend struct {
	path   string
	schema *gojsonschema.Schema
}

// NewFileBackend creates a JSON file backend at path.
func NewFileBackend(path string) *FileBackend {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(snapshotSchema))
	if err != nil {
		panic(fmt.Sprintf("transcript: invalid snapshot schema: %v", err))
	}
	return &FileBackend{path: path, schema: schema}
}

// Path returns the snapshot file location.
func (f *FileBackend) Path() string { return f.path }

// Load reads and validates the snapshot file.
func (f *FileBackend) Load(_ context.Context) (Snapshot, error) {
	data, err := os.ReadFile(f.path) // #nosec G304 - path comes from configuration
	if errors.Is(err, os.ErrNotExist) {
		return make(Snapshot), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot file: %w", err)
	}

	result, err := f.schema.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return nil, &PersistenceError{Source: f.path, Err: err}
	}
	if !result.Valid() {
		var problems []string
		for _, desc := range result.Errors() {
			problems = append(problems, desc.String())
		}
		return nil, &PersistenceError{
			Source: f.path,
			Err:    fmt.Errorf("schema validation errors: %s", strings.Join(problems, "; ")),
		}
	}

	var snapshot Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, &PersistenceError{Source: f.path, Err: err}
	}
	return snapshot, nil
}

// Save writes the snapshot to a temporary file and renames it over the old
// one, so a crash mid-write never leaves a truncated snapshot behind.
func (f *FileBackend) Save(_ context.Context, s Snapshot) error {
	if s == nil {
		s = make(Snapshot)
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	tempFile := filepath.Join(dir, fmt.Sprintf(".%s.%s.tmp", filepath.Base(f.path), uuid.NewString()))
	if err := writeSynced(tempFile, data); err != nil {
		_ = os.Remove(tempFile)
		return fmt.Errorf("failed to write snapshot file: %w", err)
	}

	if err := os.Rename(tempFile, f.path); err != nil {
		_ = os.Remove(tempFile)
		return fmt.Errorf("failed to replace snapshot file: %w", err)
	}
	return nil
}

// Close is a no-op for file snapshots.
func (f *FileBackend) Close() error { return nil }

func writeSynced(path string, data []byte) error {
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	if _, err := file.Write(data); err != nil {
		file.Close()
		return err
	}
	if err := file.Sync(); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

var _ Backend = (*FileBackend)(nil)
