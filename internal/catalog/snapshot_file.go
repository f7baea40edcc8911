package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/golang/snappy"
	"gopkg.in/yaml.v3"

	tserrors "github.com/h0rn3t/timescaledb/internal/errors"
	"github.com/h0rn3t/timescaledb/internal/storage"
)

// SnapshotFormatVersion is the current snapshot file format version.
const SnapshotFormatVersion = 1

// SnapshotFile is the serialized form of a catalog snapshot. Files named
// *.json are plain JSON, *.json.sz are snappy-compressed JSON and *.yaml
// or *.yml are YAML.
type SnapshotFile struct {
	Version   int       `json:"version" yaml:"version"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
	Tables    []*Table  `json:"tables" yaml:"tables"`
	Chunks    []*Chunk  `json:"chunks" yaml:"chunks"`
}

// File converts the snapshot into its serializable form.
func (s *Snapshot) File() *SnapshotFile {
	f := &SnapshotFile{Version: SnapshotFormatVersion, CreatedAt: s.takenAt.UTC()}
	for _, name := range s.TableNames() {
		f.Tables = append(f.Tables, s.tables[name])
		f.Chunks = append(f.Chunks, s.chunks[name]...)
	}
	return f
}

// Snapshot validates the file and builds a snapshot from it.
func (f *SnapshotFile) Snapshot() (*Snapshot, error) {
	if f.Version != SnapshotFormatVersion {
		return nil, inconsistent("unsupported snapshot version %d", f.Version)
	}
	return NewSnapshot(f.Tables, f.Chunks)
}

// Load registers every table and chunk of the file with w, tables first.
func (f *SnapshotFile) Load(ctx context.Context, w Writer) error {
	if f.Version != SnapshotFormatVersion {
		return inconsistent("unsupported snapshot version %d", f.Version)
	}
	for _, t := range f.Tables {
		if err := w.RegisterTable(ctx, t); err != nil {
			return err
		}
	}
	for _, c := range f.Chunks {
		if err := w.RegisterChunk(ctx, c); err != nil {
			return err
		}
	}
	return nil
}

type snapshotFormat int

const (
	formatJSON snapshotFormat = iota
	formatSnappyJSON
	formatYAML
)

func formatFor(objectPath string) (snapshotFormat, error) {
	switch {
	case strings.HasSuffix(objectPath, ".json.sz"):
		return formatSnappyJSON, nil
	case strings.HasSuffix(objectPath, ".json"):
		return formatJSON, nil
	case strings.HasSuffix(objectPath, ".yaml"), strings.HasSuffix(objectPath, ".yml"):
		return formatYAML, nil
	}
	return 0, tserrors.NewValidationError(tserrors.CodeInvalidConfig,
		fmt.Sprintf("unsupported snapshot file extension: %s", path.Base(objectPath)))
}

// EncodeSnapshotFile serializes f in the format implied by objectPath.
func EncodeSnapshotFile(objectPath string, f *SnapshotFile) ([]byte, error) {
	format, err := formatFor(objectPath)
	if err != nil {
		return nil, err
	}

	if format == formatYAML {
		data, err := yaml.Marshal(f)
		if err != nil {
			return nil, fmt.Errorf("catalog: failed to encode snapshot: %w", err)
		}
		return data, nil
	}

	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("catalog: failed to encode snapshot: %w", err)
	}
	if format == formatSnappyJSON {
		return snappy.Encode(nil, data), nil
	}
	return data, nil
}

// DecodeSnapshotFile parses data in the format implied by objectPath.
func DecodeSnapshotFile(objectPath string, data []byte) (*SnapshotFile, error) {
	format, err := formatFor(objectPath)
	if err != nil {
		return nil, err
	}

	var f SnapshotFile
	switch format {
	case formatYAML:
		if err := yaml.Unmarshal(data, &f); err != nil {
			return nil, inconsistent("failed to parse snapshot %s: %v", objectPath, err)
		}
		return &f, nil
	case formatSnappyJSON:
		raw, err := snappy.Decode(nil, data)
		if err != nil {
			return nil, inconsistent("failed to decompress snapshot %s: %v", objectPath, err)
		}
		data = raw
	}
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, inconsistent("failed to parse snapshot %s: %v", objectPath, err)
	}
	return &f, nil
}

// WriteSnapshotFile encodes f and stores it at objectPath.
func WriteSnapshotFile(ctx context.Context, store storage.ObjectStorage, objectPath string, f *SnapshotFile) error {
	data, err := EncodeSnapshotFile(objectPath, f)
	if err != nil {
		return err
	}
	if err := store.Put(ctx, objectPath, data); err != nil {
		return tserrors.NewStorageError(tserrors.CodeUploadFailed, "failed to write snapshot "+objectPath, err)
	}
	return nil
}

// ReadSnapshotFile loads and decodes the snapshot stored at objectPath.
func ReadSnapshotFile(ctx context.Context, store storage.ObjectStorage, objectPath string) (*SnapshotFile, error) {
	data, err := store.Get(ctx, objectPath)
	if errors.Is(err, storage.ErrObjectNotFound) {
		return nil, tserrors.NewStorageError(tserrors.CodeObjectNotFound, "snapshot "+objectPath+" not found", err)
	}
	if err != nil {
		return nil, tserrors.NewStorageError(tserrors.CodeDownloadFailed, "failed to read snapshot "+objectPath, err)
	}
	return DecodeSnapshotFile(objectPath, data)
}
